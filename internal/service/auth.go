package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"github.com/Zmiievskyi/Mine-sub000/internal/domain"
	"github.com/Zmiievskyi/Mine-sub000/internal/event"
	"github.com/Zmiievskyi/Mine-sub000/internal/repository"
	apperrors "github.com/Zmiievskyi/Mine-sub000/pkg/errors"
)

const (
	bcryptCost = 12

	minPasswordLength = 8

	// dummyPasswordHash is a bcrypt hash of a throwaway string, compared
	// against when no real hash exists so login latency does not reveal
	// whether the account exists. Its compare result is always discarded.
	dummyPasswordHash = "$2a$12$R9h/cIPz0gi.URNNX3kh2OPST9/PgBkqquzi.Ss7KIUgO2t0jWMUW"

	verificationCodeTTL     = 10 * time.Minute
	verificationMaxAttempts = 5
	verificationLockout     = 30 * time.Minute

	// msgInvalidCredentials is returned for every password-login failure
	// class: unknown email, passwordless account, wrong password, and
	// disabled account are indistinguishable to the caller.
	msgInvalidCredentials = "invalid credentials"
)

// RegisterInput is the payload for local account creation.
type RegisterInput struct {
	Email    string
	Password string
	Name     *string
}

// LoginInput is the payload for password authentication.
type LoginInput struct {
	Email      string
	Password   string
	RememberMe bool
	DeviceInfo string
	IPAddress  string
}

// AuthService implements credential verification, registration, and the
// email-verification flow. Session issuance is delegated to TokenService.
type AuthService struct {
	users  repository.UserRepository
	tokens *TokenService
	events *event.Publisher
	logger *slog.Logger
	now    func() time.Time
}

// NewAuthService creates the credential service.
func NewAuthService(
	users repository.UserRepository,
	tokens *TokenService,
	events *event.Publisher,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:  users,
		tokens: tokens,
		events: events,
		logger: logger,
		now:    time.Now,
	}
}

// Register creates a local account, issues a verification code, and opens
// a long session immediately. The account works before verification; only
// the EmailVerified flag is pending.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*domain.User, *domain.TokenPair, error) {
	email := normalizeEmail(in.Email)
	if email == "" {
		return nil, nil, apperrors.InvalidInput("email is required")
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcryptCost)
	if err != nil {
		return nil, nil, fmt.Errorf("hash password: %w", err)
	}

	user := domain.NewLocalUser(email, string(hash), in.Name)

	code, err := s.armVerificationCode(user)
	if err != nil {
		return nil, nil, err
	}

	if err := s.users.Create(ctx, user); err != nil {
		return nil, nil, err
	}

	s.events.UserRegistered(ctx, event.UserRegistered{
		UserID:        user.ID,
		Email:         email,
		Provider:      string(user.Provider),
		EmailVerified: false,
		RegisteredAt:  user.CreatedAt,
	})
	s.events.VerificationRequested(ctx, event.VerificationRequested{
		UserID:    user.ID,
		Email:     email,
		Code:      code,
		ExpiresAt: *user.VerificationCodeExpiresAt,
	})

	pair, err := s.tokens.Issue(ctx, user, true, "", "")
	if err != nil {
		return nil, nil, err
	}

	s.logger.InfoContext(ctx, "user registered", "user_id", user.ID)

	return user, pair, nil
}

// Login verifies a password and opens a session. Exactly one bcrypt
// comparison runs on every call regardless of whether the account exists,
// has a password, or is disabled.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*domain.User, *domain.TokenPair, error) {
	user, err := s.users.GetByEmail(ctx, normalizeEmail(in.Email))
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return nil, nil, err
	}

	if !s.verifyPassword(user, in.Password) {
		return nil, nil, apperrors.Unauthorized(msgInvalidCredentials)
	}

	pair, err := s.tokens.Issue(ctx, user, in.RememberMe, in.DeviceInfo, in.IPAddress)
	if err != nil {
		return nil, nil, err
	}

	s.logger.InfoContext(ctx, "user logged in", "user_id", user.ID)

	return user, pair, nil
}

// VerifyEmail checks a verification code against the stored hash. Failed
// attempts count toward a lockout; a correct code clears all verification
// state.
func (s *AuthService) VerifyEmail(ctx context.Context, userID, code string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	if user.EmailVerified {
		return nil
	}
	if user.VerificationCodeHash == nil {
		return apperrors.InvalidInput("no verification is pending")
	}

	now := s.now().UTC()

	if user.VerificationLockedUntil != nil && user.VerificationLockedUntil.After(now) {
		return apperrors.Forbidden("too many attempts, try again later")
	}
	if user.VerificationCodeExpiresAt == nil || user.VerificationCodeExpiresAt.Before(now) {
		return apperrors.Gone("verification code expired")
	}

	supplied := hashSecret(code)
	if subtle.ConstantTimeCompare([]byte(supplied), []byte(*user.VerificationCodeHash)) != 1 {
		user.VerificationAttempts++
		if user.VerificationAttempts >= verificationMaxAttempts {
			lockedUntil := now.Add(verificationLockout)
			user.VerificationLockedUntil = &lockedUntil
			user.VerificationAttempts = 0
		}
		if uerr := s.users.Update(ctx, user); uerr != nil {
			return uerr
		}
		return apperrors.InvalidInput("invalid verification code")
	}

	user.EmailVerified = true
	user.VerificationCodeHash = nil
	user.VerificationCodeExpiresAt = nil
	user.VerificationAttempts = 0
	user.VerificationLockedUntil = nil

	if err := s.users.Update(ctx, user); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "email verified", "user_id", user.ID)

	return nil
}

// ResendVerification regenerates the code for an unverified account and
// publishes a fresh delivery event. The attempt counter resets with the
// code; the lockout window does not.
func (s *AuthService) ResendVerification(ctx context.Context, userID string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	if user.EmailVerified {
		return apperrors.InvalidInput("email is already verified")
	}
	if user.Email == nil {
		return apperrors.InvalidInput("account has no email to verify")
	}

	now := s.now().UTC()
	if user.VerificationLockedUntil != nil && user.VerificationLockedUntil.After(now) {
		return apperrors.Forbidden("too many attempts, try again later")
	}

	code, err := s.armVerificationCode(user)
	if err != nil {
		return err
	}

	if err := s.users.Update(ctx, user); err != nil {
		return err
	}

	s.events.VerificationRequested(ctx, event.VerificationRequested{
		UserID:    user.ID,
		Email:     *user.Email,
		Code:      code,
		ExpiresAt: *user.VerificationCodeExpiresAt,
	})

	return nil
}

// ChangePassword rotates the password after verifying the current one, then
// revokes every session so stolen refresh tokens die with the old password.
func (s *AuthService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	if !s.verifyPassword(user, currentPassword) {
		return apperrors.Unauthorized(msgInvalidCredentials)
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	newHash := string(hash)
	user.PasswordHash = &newHash

	if err := s.users.Update(ctx, user); err != nil {
		return err
	}

	revoked, err := s.tokens.RevokeAll(ctx, userID)
	if err != nil {
		return err
	}

	s.events.SessionsRevoked(ctx, event.SessionsRevoked{
		UserID:    userID,
		Count:     revoked,
		Reason:    "password_changed",
		RevokedAt: s.now().UTC(),
	})

	s.logger.InfoContext(ctx, "password changed", "user_id", userID, "sessions_revoked", revoked)

	return nil
}

// LogoutAll revokes every active session of the user.
func (s *AuthService) LogoutAll(ctx context.Context, userID string) (int64, error) {
	revoked, err := s.tokens.RevokeAll(ctx, userID)
	if err != nil {
		return 0, err
	}

	s.events.SessionsRevoked(ctx, event.SessionsRevoked{
		UserID:    userID,
		Count:     revoked,
		Reason:    "logout_all",
		RevokedAt: s.now().UTC(),
	})

	return revoked, nil
}

// verifyPassword runs exactly one bcrypt comparison. When the account is
// missing, passwordless, or disabled, the comparison still runs against the
// dummy hash and the result is ignored, so all failure classes cost the
// same wall time.
func (s *AuthService) verifyPassword(user *domain.User, password string) bool {
	hash := dummyPasswordHash
	usable := user != nil && user.CanPasswordLogin()
	if usable {
		hash = *user.PasswordHash
	}

	match := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil

	return usable && match && user.IsActive
}

// armVerificationCode generates a fresh 6-digit code, stores its hash and
// expiry on the user, and returns the plaintext for delivery.
func (s *AuthService) armVerificationCode(user *domain.User) (string, error) {
	code, err := generateVerificationCode()
	if err != nil {
		return "", err
	}

	codeHash := hashSecret(code)
	expiresAt := s.now().UTC().Add(verificationCodeTTL)

	user.VerificationCodeHash = &codeHash
	user.VerificationCodeExpiresAt = &expiresAt
	user.VerificationAttempts = 0

	return code, nil
}

// generateVerificationCode returns a uniformly random 6-digit code,
// zero-padded.
func generateVerificationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("generate verification code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// validatePassword enforces the portal password policy.
func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return apperrors.InvalidInput(fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}

	var hasUpper, hasLower, hasDigit bool
	for _, ch := range password {
		switch {
		case unicode.IsUpper(ch):
			hasUpper = true
		case unicode.IsLower(ch):
			hasLower = true
		case unicode.IsDigit(ch):
			hasDigit = true
		}
	}

	if !hasUpper || !hasLower || !hasDigit {
		return apperrors.InvalidInput("password must contain at least one uppercase letter, one lowercase letter, and one digit")
	}

	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
