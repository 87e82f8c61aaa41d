package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Zmiievskyi/Mine-sub000/internal/domain"
	apperrors "github.com/Zmiievskyi/Mine-sub000/pkg/errors"
)

const userColumns = `id, email, password_hash, name, avatar_url, role, is_active, email_verified,
		provider, google_id, github_id, telegram_id,
		verification_code_hash, verification_code_expires_at, verification_attempts, verification_locked_until,
		created_at, updated_at`

// UserRepository implements repository.UserRepository using PostgreSQL.
type UserRepository struct {
	db DB
}

// NewUserRepository creates a PostgreSQL-backed user repository.
func NewUserRepository(db DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a new user.
func (r *UserRepository) Create(ctx context.Context, u *domain.User) error {
	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

	_, err := r.db.Exec(ctx, query,
		u.ID,
		u.Email,
		u.PasswordHash,
		u.Name,
		u.AvatarURL,
		u.Role,
		u.IsActive,
		u.EmailVerified,
		u.Provider,
		u.GoogleID,
		u.GithubID,
		u.TelegramID,
		u.VerificationCodeHash,
		u.VerificationCodeExpiresAt,
		u.VerificationAttempts,
		u.VerificationLockedUntil,
		u.CreatedAt,
		u.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("user", "email", u.EmailOrEmpty())
		}
		return fmt.Errorf("insert user: %w", err)
	}

	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.scanUser(ctx, query, id)
}

// GetByEmail retrieves a user by email address.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return r.scanUser(ctx, query, email)
}

// GetByProviderID retrieves the user holding the given external identity.
func (r *UserRepository) GetByProviderID(ctx context.Context, provider domain.Provider, externalID string) (*domain.User, error) {
	column, err := providerColumn(provider)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + column + ` = $1`
	return r.scanUser(ctx, query, externalID)
}

// LinkProviderID binds an external identity to an existing account. The
// avatar is only set when supplied and not already present.
func (r *UserRepository) LinkProviderID(ctx context.Context, userID string, provider domain.Provider, externalID string, avatarURL *string) error {
	column, err := providerColumn(provider)
	if err != nil {
		return err
	}

	query := `
		UPDATE users
		SET ` + column + ` = $1,
		    avatar_url = COALESCE(avatar_url, $2),
		    updated_at = $3
		WHERE id = $4`

	ct, err := r.db.Exec(ctx, query, externalID, avatarURL, time.Now().UTC(), userID)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("user", string(provider)+" id", externalID)
		}
		return fmt.Errorf("link %s identity: %w", provider, err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("user", userID)
	}

	return nil
}

// Update modifies an existing user.
func (r *UserRepository) Update(ctx context.Context, u *domain.User) error {
	u.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE users
		SET email = $1, password_hash = $2, name = $3, avatar_url = $4, role = $5,
		    is_active = $6, email_verified = $7, provider = $8,
		    google_id = $9, github_id = $10, telegram_id = $11,
		    verification_code_hash = $12, verification_code_expires_at = $13,
		    verification_attempts = $14, verification_locked_until = $15,
		    updated_at = $16
		WHERE id = $17`

	ct, err := r.db.Exec(ctx, query,
		u.Email,
		u.PasswordHash,
		u.Name,
		u.AvatarURL,
		u.Role,
		u.IsActive,
		u.EmailVerified,
		u.Provider,
		u.GoogleID,
		u.GithubID,
		u.TelegramID,
		u.VerificationCodeHash,
		u.VerificationCodeExpiresAt,
		u.VerificationAttempts,
		u.VerificationLockedUntil,
		u.UpdatedAt,
		u.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("user", "email", u.EmailOrEmpty())
		}
		return fmt.Errorf("update user: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("user", u.ID)
	}

	return nil
}

// scanUser executes a query expected to return a single user row.
func (r *UserRepository) scanUser(ctx context.Context, query string, args ...any) (*domain.User, error) {
	var u domain.User

	err := r.db.QueryRow(ctx, query, args...).Scan(
		&u.ID,
		&u.Email,
		&u.PasswordHash,
		&u.Name,
		&u.AvatarURL,
		&u.Role,
		&u.IsActive,
		&u.EmailVerified,
		&u.Provider,
		&u.GoogleID,
		&u.GithubID,
		&u.TelegramID,
		&u.VerificationCodeHash,
		&u.VerificationCodeExpiresAt,
		&u.VerificationAttempts,
		&u.VerificationLockedUntil,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}

	return &u, nil
}

// providerColumn maps an external provider to its identity column. Local is
// rejected: it has no external identity.
func providerColumn(p domain.Provider) (string, error) {
	switch p {
	case domain.ProviderGoogle:
		return "google_id", nil
	case domain.ProviderGithub:
		return "github_id", nil
	case domain.ProviderTelegram:
		return "telegram_id", nil
	default:
		return "", fmt.Errorf("provider %q has no identity column", p)
	}
}

// isUniqueViolation checks for a PostgreSQL unique constraint violation
// (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "23505")
}
