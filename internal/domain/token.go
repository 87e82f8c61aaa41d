package domain

import "time"

// Metadata column bounds for refresh token rows. Longer values are
// truncated before storage.
const (
	MaxDeviceInfoLen = 255
	MaxIPAddressLen  = 45
)

// RefreshToken is one logged-in session. Only the SHA-256 hash of the
// opaque secret is stored; the plaintext exists transiently in the issuance
// response. Rows are never re-armed: after RevokedAt is set the secret is
// dead forever, and expiry is never extended.
type RefreshToken struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	TokenHash  string     `json:"-"`
	DeviceInfo *string    `json:"device_info,omitempty"`
	IPAddress  *string    `json:"ip_address,omitempty"`
	ExpiresAt  time.Time  `json:"expires_at"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

// IsValid reports whether the session is still usable at the given instant.
func (t *RefreshToken) IsValid(now time.Time) bool {
	return t.RevokedAt == nil && t.ExpiresAt.After(now)
}

// TokenPair is the result of a successful login or refresh. RefreshToken is
// the plaintext secret and must never be logged or persisted.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}
