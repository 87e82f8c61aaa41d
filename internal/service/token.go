package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Zmiievskyi/Mine-sub000/internal/auth"
	"github.com/Zmiievskyi/Mine-sub000/internal/domain"
	"github.com/Zmiievskyi/Mine-sub000/internal/repository"
	apperrors "github.com/Zmiievskyi/Mine-sub000/pkg/errors"
)

// refreshTokenBytes is the entropy of the opaque refresh secret.
const refreshTokenBytes = 32

// TokenConfig bounds the session lifecycle.
type TokenConfig struct {
	// ShortTTL is the refresh lifetime for plain logins.
	ShortTTL time.Duration
	// LongTTL is the refresh lifetime for remember-me logins.
	LongTTL time.Duration
	// MaxSessions caps concurrent sessions per user; the oldest is evicted
	// to make room.
	MaxSessions int
	// CleanupRetention is how long dead rows are kept for audit before the
	// sweeper deletes them.
	CleanupRetention time.Duration
}

// DefaultTokenConfig returns the standard session policy.
func DefaultTokenConfig() TokenConfig {
	return TokenConfig{
		ShortTTL:         24 * time.Hour,
		LongTTL:          7 * 24 * time.Hour,
		MaxSessions:      5,
		CleanupRetention: 30 * 24 * time.Hour,
	}
}

// TokenService owns the refresh-token lifecycle: issuance, rotation,
// revocation, and sweeping. Access tokens are delegated to the JWT manager;
// this service never validates them.
type TokenService struct {
	users  repository.UserRepository
	tokens repository.RefreshTokenRepository
	jwt    *auth.JWTManager
	cfg    TokenConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewTokenService creates the session-lifecycle service.
func NewTokenService(
	users repository.UserRepository,
	tokens repository.RefreshTokenRepository,
	jwtManager *auth.JWTManager,
	cfg TokenConfig,
	logger *slog.Logger,
) *TokenService {
	return &TokenService{
		users:  users,
		tokens: tokens,
		jwt:    jwtManager,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Issue creates a new session for the user: a signed access token plus a
// fresh opaque refresh secret whose hash is persisted. rememberMe selects
// the long refresh lifetime. The session cap is enforced before the insert
// so the user never transiently exceeds it.
func (s *TokenService) Issue(ctx context.Context, user *domain.User, rememberMe bool, deviceInfo, ipAddress string) (*domain.TokenPair, error) {
	accessToken, err := s.jwt.GenerateAccessToken(user)
	if err != nil {
		return nil, err
	}

	secret, err := generateRefreshSecret()
	if err != nil {
		return nil, err
	}

	if err := s.enforceSessionLimit(ctx, user.ID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	ttl := s.cfg.ShortTTL
	if rememberMe {
		ttl = s.cfg.LongTTL
	}

	row := &domain.RefreshToken{
		ID:         uuid.New().String(),
		UserID:     user.ID,
		TokenHash:  hashSecret(secret),
		DeviceInfo: truncated(deviceInfo, domain.MaxDeviceInfoLen),
		IPAddress:  truncated(ipAddress, domain.MaxIPAddressLen),
		ExpiresAt:  now.Add(ttl),
		CreatedAt:  now,
	}

	if err := s.tokens.Create(ctx, row); err != nil {
		return nil, err
	}

	return &domain.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: secret,
		ExpiresAt:    row.ExpiresAt,
	}, nil
}

// Refresh rotates a session: the presented secret is consumed exactly once
// and a replacement pair is issued. When two requests race on the same
// secret, the conditional consume in the store guarantees a single winner;
// the loser sees the same error as a garbage token.
func (s *TokenService) Refresh(ctx context.Context, refreshToken, deviceInfo, ipAddress string) (*domain.TokenPair, error) {
	row, err := s.tokens.GetActiveByHash(ctx, hashSecret(refreshToken))
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.Unauthorized("invalid or expired refresh token")
		}
		return nil, err
	}

	user, err := s.users.GetByID(ctx, row.UserID)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		// Storage trouble is not an auth verdict; leave the row usable.
		return nil, err
	}
	if user == nil || !user.IsActive {
		// Burn the token so a disabled or deleted account cannot keep
		// probing with a live secret. Best effort: the row is unusable
		// either way.
		if _, cerr := s.tokens.MarkConsumed(ctx, row.ID); cerr != nil {
			s.logger.WarnContext(ctx, "failed to consume token for inactive account",
				"token_id", row.ID, "error", cerr.Error())
		}
		return nil, apperrors.Unauthorized("account is disabled")
	}

	consumed, err := s.tokens.MarkConsumed(ctx, row.ID)
	if err != nil {
		return nil, err
	}
	if !consumed {
		// Lost the rotation race, or the row was revoked between lookup and
		// consume. Either way the secret no longer exists.
		return nil, apperrors.Unauthorized("invalid or expired refresh token")
	}

	// Sticky session length: a row with more than a short lifetime left was
	// issued with remember-me, and rotation must not shorten it.
	rememberMe := row.ExpiresAt.Sub(s.now().UTC()) > s.cfg.ShortTTL

	return s.Issue(ctx, user, rememberMe, deviceInfo, ipAddress)
}

// Revoke terminates the session holding the given secret. Idempotent:
// revoking an unknown or already-dead token succeeds silently, so logout
// never fails and callers learn nothing about token existence.
func (s *TokenService) Revoke(ctx context.Context, refreshToken string) error {
	return s.tokens.RevokeByHash(ctx, hashSecret(refreshToken))
}

// RevokeAll terminates every active session of the user and returns how many
// were revoked.
func (s *TokenService) RevokeAll(ctx context.Context, userID string) (int64, error) {
	return s.tokens.RevokeByUserID(ctx, userID)
}

// Sessions lists the user's active sessions, oldest first.
func (s *TokenService) Sessions(ctx context.Context, userID string) ([]domain.RefreshToken, error) {
	return s.tokens.ListActiveByUserID(ctx, userID)
}

// CountActive returns the number of live sessions for the user.
func (s *TokenService) CountActive(ctx context.Context, userID string) (int64, error) {
	return s.tokens.CountActiveByUserID(ctx, userID)
}

// Cleanup deletes rows that expired or were revoked longer ago than the
// retention window. Pure storage hygiene; validity never depends on it.
func (s *TokenService) Cleanup(ctx context.Context) (int64, error) {
	cutoff := s.now().UTC().Add(-s.cfg.CleanupRetention)

	deleted, err := s.tokens.DeleteExpiredBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	if deleted > 0 {
		s.logger.InfoContext(ctx, "swept stale refresh tokens",
			"deleted", deleted, "cutoff", cutoff)
	}

	return deleted, nil
}

// enforceSessionLimit revokes the oldest active sessions until one slot is
// free. An eviction failure aborts issuance rather than overshooting the
// cap.
func (s *TokenService) enforceSessionLimit(ctx context.Context, userID string) error {
	count, err := s.tokens.CountActiveByUserID(ctx, userID)
	if err != nil {
		return err
	}
	if count < int64(s.cfg.MaxSessions) {
		return nil
	}

	active, err := s.tokens.ListActiveByUserID(ctx, userID)
	if err != nil {
		return err
	}

	// Evict enough of the oldest sessions that the insert below lands at
	// exactly the cap.
	excess := len(active) - s.cfg.MaxSessions + 1
	for i := 0; i < excess && i < len(active); i++ {
		if err := s.tokens.RevokeByHash(ctx, active[i].TokenHash); err != nil {
			return fmt.Errorf("evict oldest session: %w", err)
		}
		s.logger.InfoContext(ctx, "evicted oldest session",
			"user_id", userID, "token_id", active[i].ID)
	}

	return nil
}

// generateRefreshSecret returns a 256-bit URL-safe opaque secret.
func generateRefreshSecret() (string, error) {
	b := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate refresh secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// hashSecret maps a plaintext refresh secret to its stored form.
func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func truncated(s string, max int) *string {
	if s == "" {
		return nil
	}
	if len(s) > max {
		s = s[:max]
	}
	return &s
}
