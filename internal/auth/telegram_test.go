package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBotToken = "123456:ABC-DEF1234ghIkl-zyx57W2v1u123ew11"

// signPayload computes the widget signature the way Telegram's servers do.
func signPayload(botToken string, data *TelegramAuthData) string {
	key := sha256.Sum256([]byte(botToken))
	mac := hmac.New(sha256.New, key[:])
	mac.Write([]byte(checkString(data)))
	return hex.EncodeToString(mac.Sum(nil))
}

func signedPayload(authDate int64) *TelegramAuthData {
	data := &TelegramAuthData{
		ID:        987654321,
		FirstName: "Sat",
		LastName:  "Oshi",
		Username:  "satoshi",
		PhotoURL:  "https://t.me/i/userpic/320/satoshi.jpg",
		AuthDate:  authDate,
	}
	data.Hash = signPayload(testBotToken, data)
	return data
}

func verifierAt(now time.Time) *TelegramVerifier {
	v := NewTelegramVerifier(testBotToken)
	v.now = func() time.Time { return now }
	return v
}

func TestTelegramVerify_Valid(t *testing.T) {
	now := time.Unix(1700000000, 0)
	v := verifierAt(now)

	data := signedPayload(now.Unix() - 10)
	assert.NoError(t, v.Verify(data))
}

func TestTelegramVerify_OptionalFieldsOmitted(t *testing.T) {
	now := time.Unix(1700000000, 0)
	v := verifierAt(now)

	data := &TelegramAuthData{
		ID:       987654321,
		AuthDate: now.Unix(),
	}
	data.Hash = signPayload(testBotToken, data)

	assert.NoError(t, v.Verify(data))
}

func TestTelegramVerify_TamperedField(t *testing.T) {
	now := time.Unix(1700000000, 0)
	v := verifierAt(now)

	data := signedPayload(now.Unix())
	data.Username = "mallory"

	assert.ErrorIs(t, v.Verify(data), ErrInvalidTelegramSignature)
}

func TestTelegramVerify_TamperedHash(t *testing.T) {
	now := time.Unix(1700000000, 0)
	v := verifierAt(now)

	data := signedPayload(now.Unix())
	// Flip one hex digit.
	last := data.Hash[len(data.Hash)-1]
	replacement := "0"
	if last == '0' {
		replacement = "1"
	}
	data.Hash = data.Hash[:len(data.Hash)-1] + replacement

	assert.ErrorIs(t, v.Verify(data), ErrInvalidTelegramSignature)
}

func TestTelegramVerify_MalformedHash(t *testing.T) {
	now := time.Unix(1700000000, 0)
	v := verifierAt(now)

	for _, hash := range []string{"", "zz", "deadbeef", strings.Repeat("0", 63) + "g"} {
		data := signedPayload(now.Unix())
		data.Hash = hash
		assert.ErrorIs(t, v.Verify(data), ErrInvalidTelegramSignature, "hash %q", hash)
	}
}

func TestTelegramVerify_WrongBotToken(t *testing.T) {
	now := time.Unix(1700000000, 0)
	v := verifierAt(now)

	data := signedPayload(now.Unix())
	data.Hash = signPayload("another-bot-token", &TelegramAuthData{
		ID:        data.ID,
		FirstName: data.FirstName,
		LastName:  data.LastName,
		Username:  data.Username,
		PhotoURL:  data.PhotoURL,
		AuthDate:  data.AuthDate,
	})

	assert.ErrorIs(t, v.Verify(data), ErrInvalidTelegramSignature)
}

func TestTelegramVerify_Freshness(t *testing.T) {
	now := time.Unix(1700000000, 0)
	v := verifierAt(now)

	// Just inside the window.
	fresh := signedPayload(now.Unix() - 299)
	assert.NoError(t, v.Verify(fresh))

	// At the boundary.
	boundary := signedPayload(now.Unix() - 300)
	assert.NoError(t, v.Verify(boundary))

	// Just outside.
	stale := signedPayload(now.Unix() - 301)
	assert.ErrorIs(t, v.Verify(stale), ErrExpiredTelegramPayload)
}

func TestTelegramVerify_SignatureCheckedBeforeFreshness(t *testing.T) {
	now := time.Unix(1700000000, 0)
	v := verifierAt(now)

	// Stale AND tampered: the signature error must win so a forger learns
	// nothing about the freshness window.
	data := signedPayload(now.Unix() - 10000)
	data.Username = "mallory"

	assert.ErrorIs(t, v.Verify(data), ErrInvalidTelegramSignature)
}

func TestTelegramDisplayName(t *testing.T) {
	full := &TelegramAuthData{FirstName: "Sat", LastName: "Oshi", Username: "satoshi"}
	require.NotNil(t, full.DisplayName())
	assert.Equal(t, "Sat Oshi", *full.DisplayName())

	firstOnly := &TelegramAuthData{FirstName: "Sat"}
	require.NotNil(t, firstOnly.DisplayName())
	assert.Equal(t, "Sat", *firstOnly.DisplayName())

	usernameOnly := &TelegramAuthData{Username: "satoshi"}
	require.NotNil(t, usernameOnly.DisplayName())
	assert.Equal(t, "satoshi", *usernameOnly.DisplayName())

	empty := &TelegramAuthData{}
	assert.Nil(t, empty.DisplayName())
}
