package session

import (
	"crypto/rand"
	"encoding/base64"
)

// tokenBytes is the entropy carried by every session token. 32 bytes encode
// to a fixed 43-character base64url string.
const tokenBytes = 32

// TokenLength is the length of every generated session token.
const TokenLength = 43

// NewToken returns a fresh unguessable session token. Tokens are never
// reused or derived from user input.
func NewToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// ValidTokenShape reports whether raw looks like a token this package could
// have issued. It rejects obviously malformed input before any store lookup.
func ValidTokenShape(raw string) bool {
	if len(raw) != TokenLength {
		return false
	}
	_, err := base64.RawURLEncoding.DecodeString(raw)
	return err == nil
}
