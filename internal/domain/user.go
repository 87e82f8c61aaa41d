package domain

import (
	"time"

	"github.com/google/uuid"
)

// User roles.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Provider identifies how an account was created and which external
// identity, if any, it is bound to.
type Provider string

const (
	ProviderLocal    Provider = "local"
	ProviderGoogle   Provider = "google"
	ProviderGithub   Provider = "github"
	ProviderTelegram Provider = "telegram"
)

// User represents a portal account. Email and PasswordHash are optional:
// Telegram accounts carry no email, and OAuth/Telegram accounts carry no
// password. Use the NewLocalUser/NewOAuthUser/NewTelegramUser constructors
// so the per-provider field invariants hold.
type User struct {
	ID            string    `json:"id"`
	Email         *string   `json:"email,omitempty"`
	PasswordHash  *string   `json:"-"`
	Name          *string   `json:"name,omitempty"`
	AvatarURL     *string   `json:"avatar_url,omitempty"`
	Role          string    `json:"role"`
	IsActive      bool      `json:"is_active"`
	EmailVerified bool      `json:"email_verified"`
	Provider      Provider  `json:"provider"`
	GoogleID      *string   `json:"-"`
	GithubID      *string   `json:"-"`
	TelegramID    *string   `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`

	// Email verification state. The code is stored as a one-way hash; the
	// plaintext is only ever sent to the user.
	VerificationCodeHash      *string    `json:"-"`
	VerificationCodeExpiresAt *time.Time `json:"-"`
	VerificationAttempts      int        `json:"-"`
	VerificationLockedUntil   *time.Time `json:"-"`
}

// NewLocalUser creates a password-credentialed account. The email starts
// unverified; the verification flow flips the flag.
func NewLocalUser(email, passwordHash string, name *string) *User {
	now := time.Now().UTC()
	return &User{
		ID:            uuid.New().String(),
		Email:         &email,
		PasswordHash:  &passwordHash,
		Name:          name,
		Role:          RoleUser,
		IsActive:      true,
		EmailVerified: false,
		Provider:      ProviderLocal,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// NewOAuthUser creates an account from a verified Google or GitHub profile.
// OAuth providers are trusted to have verified the email already.
func NewOAuthUser(provider Provider, externalID, email string, name, avatarURL *string) *User {
	now := time.Now().UTC()
	u := &User{
		ID:            uuid.New().String(),
		Email:         &email,
		Name:          name,
		AvatarURL:     avatarURL,
		Role:          RoleUser,
		IsActive:      true,
		EmailVerified: true,
		Provider:      provider,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	switch provider {
	case ProviderGoogle:
		u.GoogleID = &externalID
	case ProviderGithub:
		u.GithubID = &externalID
	}
	return u
}

// NewTelegramUser creates an account from a verified Telegram login payload.
// Telegram provides no verifiable email, so the account has none and
// EmailVerified stays false by convention.
func NewTelegramUser(telegramID string, name, avatarURL *string) *User {
	now := time.Now().UTC()
	return &User{
		ID:            uuid.New().String(),
		Name:          name,
		AvatarURL:     avatarURL,
		Role:          RoleUser,
		IsActive:      true,
		EmailVerified: false,
		Provider:      ProviderTelegram,
		TelegramID:    &telegramID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// CanPasswordLogin reports whether this account may authenticate with a
// password. Telegram-only and OAuth-only accounts cannot.
func (u *User) CanPasswordLogin() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// EmailOrEmpty returns the email for token claims; empty for accounts
// without one.
func (u *User) EmailOrEmpty() string {
	if u.Email == nil {
		return ""
	}
	return *u.Email
}

// ExternalID returns the linked identity for the given provider, if any.
func (u *User) ExternalID(p Provider) *string {
	switch p {
	case ProviderGoogle:
		return u.GoogleID
	case ProviderGithub:
		return u.GithubID
	case ProviderTelegram:
		return u.TelegramID
	default:
		return nil
	}
}
