package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/Zmiievskyi/Mine-sub000/internal/auth"
	"github.com/Zmiievskyi/Mine-sub000/internal/domain"
	"github.com/Zmiievskyi/Mine-sub000/internal/event"
	"github.com/Zmiievskyi/Mine-sub000/internal/oauth"
	"github.com/Zmiievskyi/Mine-sub000/internal/repository"
	apperrors "github.com/Zmiievskyi/Mine-sub000/pkg/errors"
)

const msgAccountDisabled = "account is disabled"

// OAuthService resolves external identities (Google, GitHub, Telegram) to
// portal accounts and opens sessions for them. Resolution is idempotent:
// the same external profile always lands on the same account.
type OAuthService struct {
	users    repository.UserRepository
	tokens   *TokenService
	manager  *oauth.Manager
	telegram *auth.TelegramVerifier
	events   *event.Publisher
	logger   *slog.Logger
	now      func() time.Time
}

// NewOAuthService creates the identity-resolution service.
func NewOAuthService(
	users repository.UserRepository,
	tokens *TokenService,
	manager *oauth.Manager,
	telegram *auth.TelegramVerifier,
	events *event.Publisher,
	logger *slog.Logger,
) *OAuthService {
	return &OAuthService{
		users:    users,
		tokens:   tokens,
		manager:  manager,
		telegram: telegram,
		events:   events,
		logger:   logger,
		now:      time.Now,
	}
}

// AuthURL returns the provider consent URL and the CSRF state the transport
// must round-trip.
func (s *OAuthService) AuthURL(provider domain.Provider) (string, string, error) {
	state, err := oauth.StateToken()
	if err != nil {
		return "", "", err
	}

	url, err := s.manager.AuthURL(provider, state)
	if err != nil {
		return "", "", err
	}

	return url, state, nil
}

// CompleteLogin exchanges the authorization code, resolves the profile to an
// account, and opens a session. OAuth logins always get the long session
// length: there is no remember-me checkbox in a redirect flow.
func (s *OAuthService) CompleteLogin(ctx context.Context, provider domain.Provider, code, deviceInfo, ipAddress string) (*domain.User, *domain.TokenPair, error) {
	profile, err := s.manager.Exchange(ctx, provider, code)
	if err != nil {
		return nil, nil, apperrors.Unauthorized(fmt.Sprintf("%s authentication failed", provider))
	}

	user, err := s.resolveOAuth(ctx, provider, profile)
	if err != nil {
		return nil, nil, err
	}

	pair, err := s.tokens.Issue(ctx, user, true, deviceInfo, ipAddress)
	if err != nil {
		return nil, nil, err
	}

	s.logger.InfoContext(ctx, "oauth login",
		"user_id", user.ID, "provider", string(provider))

	return user, pair, nil
}

// TelegramLogin validates a login-widget payload and resolves it to an
// account. Telegram identities are keyed on the numeric Telegram ID only;
// there is no email to link through.
func (s *OAuthService) TelegramLogin(ctx context.Context, data *auth.TelegramAuthData, deviceInfo, ipAddress string) (*domain.User, *domain.TokenPair, error) {
	if err := s.telegram.Verify(data); err != nil {
		switch {
		case errors.Is(err, auth.ErrExpiredTelegramPayload):
			return nil, nil, apperrors.Unauthorized("telegram login expired, try again")
		default:
			return nil, nil, apperrors.Unauthorized("invalid telegram login")
		}
	}

	telegramID := strconv.FormatInt(data.ID, 10)

	user, err := s.users.GetByProviderID(ctx, domain.ProviderTelegram, telegramID)
	switch {
	case err == nil:
		if !user.IsActive {
			return nil, nil, apperrors.Forbidden(msgAccountDisabled)
		}
	case errors.Is(err, apperrors.ErrNotFound):
		var photoURL *string
		if data.PhotoURL != "" {
			photoURL = &data.PhotoURL
		}
		user = domain.NewTelegramUser(telegramID, data.DisplayName(), photoURL)
		if err := s.users.Create(ctx, user); err != nil {
			return nil, nil, err
		}
		s.events.UserRegistered(ctx, event.UserRegistered{
			UserID:        user.ID,
			Provider:      string(domain.ProviderTelegram),
			EmailVerified: false,
			RegisteredAt:  user.CreatedAt,
		})
		s.logger.InfoContext(ctx, "telegram account created", "user_id", user.ID)
	default:
		return nil, nil, err
	}

	pair, err := s.tokens.Issue(ctx, user, true, deviceInfo, ipAddress)
	if err != nil {
		return nil, nil, err
	}

	return user, pair, nil
}

// resolveOAuth maps a provider profile to an account: by external identity
// first, then by email with auto-linking, then by creating a fresh account.
func (s *OAuthService) resolveOAuth(ctx context.Context, provider domain.Provider, profile *oauth.Profile) (*domain.User, error) {
	if profile.Email == "" {
		return nil, apperrors.InvalidInput(fmt.Sprintf("%s did not supply an email address", provider))
	}
	email := normalizeEmail(profile.Email)

	// Already linked: the fast path for every return visit.
	user, err := s.users.GetByProviderID(ctx, provider, profile.ExternalID)
	if err == nil {
		if !user.IsActive {
			return nil, apperrors.Forbidden(msgAccountDisabled)
		}
		return user, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}

	// Same email, different door: link the external identity to the
	// existing account instead of splitting the user in two.
	user, err = s.users.GetByEmail(ctx, email)
	if err == nil {
		if !user.IsActive {
			return nil, apperrors.Forbidden(msgAccountDisabled)
		}
		if err := s.users.LinkProviderID(ctx, user.ID, provider, profile.ExternalID, profile.AvatarURL); err != nil {
			return nil, err
		}
		s.logger.InfoContext(ctx, "linked provider to existing account",
			"user_id", user.ID, "provider", string(provider))
		return s.users.GetByID(ctx, user.ID)
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}

	// First contact: provision an account from the profile. The provider
	// already verified the email.
	user = domain.NewOAuthUser(provider, profile.ExternalID, email, profile.Name, profile.AvatarURL)
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	s.events.UserRegistered(ctx, event.UserRegistered{
		UserID:        user.ID,
		Email:         email,
		Provider:      string(provider),
		EmailVerified: true,
		RegisteredAt:  user.CreatedAt,
	})
	s.logger.InfoContext(ctx, "oauth account created",
		"user_id", user.ID, "provider", string(provider))

	return user, nil
}
