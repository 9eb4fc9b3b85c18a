// Package crypto derives and compares the shared secrets the bot uses on its
// HTTP boundary: the Bot API webhook secret token and admin signing keys.
package crypto

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	webhookSecretInfo = "autofilter/webhook-secret/v1"
	webhookSecretSalt = "autofilter"
)

// DeriveKey expands secret into n bytes bound to the given info label using HKDF-SHA256.
func DeriveKey(secret []byte, salt, info string, n int) ([]byte, error) {
	if len(secret) == 0 {
		return nil, errors.New("secret must not be empty")
	}
	if n <= 0 {
		return nil, fmt.Errorf("invalid key length %d", n)
	}
	reader := hkdf.New(sha256.New, secret, []byte(salt), []byte(info))
	out := make([]byte, n)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, fmt.Errorf("hkdf expand: %w", err)
	}
	return out, nil
}

// DeriveWebhookSecret returns a stable secret token for setWebhook derived from the bot token.
// The hex alphabet satisfies the Bot API's [A-Za-z0-9_-] constraint.
func DeriveWebhookSecret(botToken string) (string, error) {
	key, err := DeriveKey([]byte(botToken), webhookSecretSalt, webhookSecretInfo, 32)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(key), nil
}

// Equal compares two secrets in constant time.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
