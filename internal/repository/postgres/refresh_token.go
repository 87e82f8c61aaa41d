package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Zmiievskyi/Mine-sub000/internal/domain"
	apperrors "github.com/Zmiievskyi/Mine-sub000/pkg/errors"
)

const tokenColumns = `id, user_id, token_hash, device_info, ip_address, expires_at, created_at, last_used_at, revoked_at`

// RefreshTokenRepository implements repository.RefreshTokenRepository using
// PostgreSQL.
type RefreshTokenRepository struct {
	db DB
}

// NewRefreshTokenRepository creates a PostgreSQL-backed token store.
func NewRefreshTokenRepository(db DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

// Create inserts a new active token row.
func (r *RefreshTokenRepository) Create(ctx context.Context, t *domain.RefreshToken) error {
	query := `
		INSERT INTO refresh_tokens (id, user_id, token_hash, device_info, ip_address, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.Exec(ctx, query,
		t.ID,
		t.UserID,
		t.TokenHash,
		t.DeviceInfo,
		t.IPAddress,
		t.ExpiresAt,
		t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}

	return nil
}

// GetActiveByHash returns the active row matching the hash. Expired and
// revoked rows are filtered in SQL so "not found", "expired", and "revoked"
// are indistinguishable to the caller.
func (r *RefreshTokenRepository) GetActiveByHash(ctx context.Context, tokenHash string) (*domain.RefreshToken, error) {
	query := `
		SELECT ` + tokenColumns + `
		FROM refresh_tokens
		WHERE token_hash = $1 AND revoked_at IS NULL AND expires_at > $2`

	return r.scanToken(ctx, query, tokenHash, time.Now().UTC())
}

// MarkConsumed is the single point of truth for "has this secret been
// consumed". The UPDATE is conditioned on revoked_at still being NULL, so
// two concurrent refreshes racing on one secret cannot both win.
func (r *RefreshTokenRepository) MarkConsumed(ctx context.Context, id string) (bool, error) {
	now := time.Now().UTC()
	query := `
		UPDATE refresh_tokens
		SET revoked_at = $1, last_used_at = $1
		WHERE id = $2 AND revoked_at IS NULL`

	ct, err := r.db.Exec(ctx, query, now, id)
	if err != nil {
		return false, fmt.Errorf("mark refresh token consumed: %w", err)
	}

	return ct.RowsAffected() > 0, nil
}

// ListActiveByUserID returns all active rows for the user, oldest first.
func (r *RefreshTokenRepository) ListActiveByUserID(ctx context.Context, userID string) ([]domain.RefreshToken, error) {
	query := `
		SELECT ` + tokenColumns + `
		FROM refresh_tokens
		WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2
		ORDER BY created_at ASC`

	rows, err := r.db.Query(ctx, query, userID, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("list refresh tokens: %w", err)
	}
	defer rows.Close()

	var tokens []domain.RefreshToken
	for rows.Next() {
		var t domain.RefreshToken
		if err := rows.Scan(
			&t.ID,
			&t.UserID,
			&t.TokenHash,
			&t.DeviceInfo,
			&t.IPAddress,
			&t.ExpiresAt,
			&t.CreatedAt,
			&t.LastUsedAt,
			&t.RevokedAt,
		); err != nil {
			return nil, fmt.Errorf("scan refresh token row: %w", err)
		}
		tokens = append(tokens, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate refresh token rows: %w", err)
	}

	return tokens, nil
}

// RevokeByHash revokes the matching non-revoked row. Idempotent.
func (r *RefreshTokenRepository) RevokeByHash(ctx context.Context, tokenHash string) error {
	query := `UPDATE refresh_tokens SET revoked_at = $1 WHERE token_hash = $2 AND revoked_at IS NULL`

	_, err := r.db.Exec(ctx, query, time.Now().UTC(), tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}

	return nil
}

// RevokeByUserID revokes every non-revoked row for the user.
func (r *RefreshTokenRepository) RevokeByUserID(ctx context.Context, userID string) (int64, error) {
	query := `UPDATE refresh_tokens SET revoked_at = $1 WHERE user_id = $2 AND revoked_at IS NULL`

	ct, err := r.db.Exec(ctx, query, time.Now().UTC(), userID)
	if err != nil {
		return 0, fmt.Errorf("revoke refresh tokens by user: %w", err)
	}

	return ct.RowsAffected(), nil
}

// CountActiveByUserID counts active sessions for the user.
func (r *RefreshTokenRepository) CountActiveByUserID(ctx context.Context, userID string) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM refresh_tokens
		WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2`

	var count int64
	if err := r.db.QueryRow(ctx, query, userID, time.Now().UTC()).Scan(&count); err != nil {
		return 0, fmt.Errorf("count refresh tokens: %w", err)
	}

	return count, nil
}

// DeleteExpiredBefore deletes rows that expired or were revoked before the
// cutoff.
func (r *RefreshTokenRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM refresh_tokens WHERE expires_at < $1 OR revoked_at < $1`

	ct, err := r.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete stale refresh tokens: %w", err)
	}

	return ct.RowsAffected(), nil
}

// scanToken executes a query expected to return a single token row.
func (r *RefreshTokenRepository) scanToken(ctx context.Context, query string, args ...any) (*domain.RefreshToken, error) {
	var t domain.RefreshToken

	err := r.db.QueryRow(ctx, query, args...).Scan(
		&t.ID,
		&t.UserID,
		&t.TokenHash,
		&t.DeviceInfo,
		&t.IPAddress,
		&t.ExpiresAt,
		&t.CreatedAt,
		&t.LastUsedAt,
		&t.RevokedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan refresh token: %w", err)
	}

	return &t, nil
}
