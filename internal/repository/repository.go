package repository

import (
	"context"
	"time"

	"github.com/Zmiievskyi/Mine-sub000/internal/domain"
)

// UserRepository is the user directory: lookup, creation, and provider
// linkage for portal accounts.
type UserRepository interface {
	// Create inserts a new user.
	Create(ctx context.Context, user *domain.User) error

	// GetByID retrieves a user by their unique identifier.
	GetByID(ctx context.Context, id string) (*domain.User, error)

	// GetByEmail retrieves a user by email address.
	GetByEmail(ctx context.Context, email string) (*domain.User, error)

	// GetByProviderID retrieves the user linked to the given external
	// identity, e.g. ("google", "108234…").
	GetByProviderID(ctx context.Context, provider domain.Provider, externalID string) (*domain.User, error)

	// LinkProviderID binds an external identity to an existing account and
	// sets the avatar if one is supplied and none is set yet.
	LinkProviderID(ctx context.Context, userID string, provider domain.Provider, externalID string, avatarURL *string) error

	// Update modifies an existing user.
	Update(ctx context.Context, user *domain.User) error
}

// RefreshTokenRepository is the token store for hashed refresh-token rows.
// All invariants are scoped to a single user; no cross-user coordination is
// needed.
type RefreshTokenRepository interface {
	// Create inserts a new active token row.
	Create(ctx context.Context, token *domain.RefreshToken) error

	// GetActiveByHash returns the non-revoked, non-expired row matching the
	// hash, or ErrNotFound.
	GetActiveByHash(ctx context.Context, tokenHash string) (*domain.RefreshToken, error)

	// MarkConsumed atomically revokes the row and stamps last_used_at,
	// conditioned on the row still being unrevoked. Returns false when the
	// row was already consumed or does not exist — the caller must treat
	// that identically to "not found".
	MarkConsumed(ctx context.Context, id string) (bool, error)

	// ListActiveByUserID returns all active rows for the user, oldest
	// created first.
	ListActiveByUserID(ctx context.Context, userID string) ([]domain.RefreshToken, error)

	// RevokeByHash revokes the matching non-revoked row if any. Idempotent:
	// revoking an already-revoked or nonexistent token is a no-op.
	RevokeByHash(ctx context.Context, tokenHash string) error

	// RevokeByUserID revokes every non-revoked row for the user and returns
	// the number of rows affected.
	RevokeByUserID(ctx context.Context, userID string) (int64, error)

	// CountActiveByUserID counts active sessions for the user.
	CountActiveByUserID(ctx context.Context, userID string) (int64, error)

	// DeleteExpiredBefore permanently deletes rows that expired or were
	// revoked before the cutoff. Storage hygiene only; an un-swept row is
	// already unusable.
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
