package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// Telegram login payloads older than this are rejected regardless of
// signature validity.
const telegramMaxAge = 300 * time.Second

var (
	// ErrInvalidTelegramSignature covers HMAC mismatches and malformed hex.
	ErrInvalidTelegramSignature = errors.New("invalid telegram signature")
	// ErrExpiredTelegramPayload means auth_date fell outside the replay window.
	ErrExpiredTelegramPayload = errors.New("telegram payload expired")
)

// TelegramAuthData is the payload delivered by the Telegram login widget.
// Optional fields are empty when Telegram omits them; omitted fields do not
// participate in the signature.
type TelegramAuthData struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
	PhotoURL  string `json:"photo_url,omitempty"`
	AuthDate  int64  `json:"auth_date"`
	Hash      string `json:"hash"`
}

// DisplayName synthesizes a name from first+last, falling back to the
// username. Returns nil when nothing usable was supplied.
func (d *TelegramAuthData) DisplayName() *string {
	parts := make([]string, 0, 2)
	if d.FirstName != "" {
		parts = append(parts, d.FirstName)
	}
	if d.LastName != "" {
		parts = append(parts, d.LastName)
	}
	name := strings.Join(parts, " ")
	if name == "" {
		name = d.Username
	}
	if name == "" {
		return nil
	}
	return &name
}

// TelegramVerifier checks the authenticity and freshness of Telegram login
// payloads. Telegram has no back-channel verification API; the keyed HMAC
// is the only proof of origin.
type TelegramVerifier struct {
	secretKey []byte
	now       func() time.Time
}

// NewTelegramVerifier derives the HMAC key (SHA-256 of the bot token) once
// at construction.
func NewTelegramVerifier(botToken string) *TelegramVerifier {
	key := sha256.Sum256([]byte(botToken))
	return &TelegramVerifier{
		secretKey: key[:],
		now:       time.Now,
	}
}

// Verify checks the payload signature, then its age. The signature check
// runs first so a tampered payload is never reported as merely stale.
func (v *TelegramVerifier) Verify(data *TelegramAuthData) error {
	supplied, err := hex.DecodeString(data.Hash)
	if err != nil || len(supplied) != sha256.Size {
		return ErrInvalidTelegramSignature
	}

	mac := hmac.New(sha256.New, v.secretKey)
	mac.Write([]byte(checkString(data)))
	expected := mac.Sum(nil)

	if !hmac.Equal(expected, supplied) {
		return ErrInvalidTelegramSignature
	}

	if v.now().UTC().Unix()-data.AuthDate > int64(telegramMaxAge.Seconds()) {
		return ErrExpiredTelegramPayload
	}

	return nil
}

// checkString builds the data-check-string: every supplied field except
// hash, sorted lexicographically by field name, joined as key=value pairs
// with newline separators. The appends below are already in sorted order.
func checkString(data *TelegramAuthData) string {
	pairs := make([]string, 0, 6)
	pairs = append(pairs, "auth_date="+strconv.FormatInt(data.AuthDate, 10))
	if data.FirstName != "" {
		pairs = append(pairs, "first_name="+data.FirstName)
	}
	pairs = append(pairs, "id="+strconv.FormatInt(data.ID, 10))
	if data.LastName != "" {
		pairs = append(pairs, "last_name="+data.LastName)
	}
	if data.PhotoURL != "" {
		pairs = append(pairs, "photo_url="+data.PhotoURL)
	}
	if data.Username != "" {
		pairs = append(pairs, "username="+data.Username)
	}
	return strings.Join(pairs, "\n")
}
