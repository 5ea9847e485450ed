// Package auth turns bearer tokens into opaque caller identities.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

var (
	// ErrMissingToken is returned when no Authorization header was sent.
	ErrMissingToken = errors.New("missing bearer token")

	// ErrMalformedToken is returned when the header is not "Bearer <token>".
	ErrMalformedToken = errors.New("malformed authorization header")
)

// callerIDLength is the number of hex characters kept from the token hash.
const callerIDLength = 24

// HashKey returns a SHA-256 hash of the key.
func HashKey(key string) string {
	key = strings.TrimSpace(key)

	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// CallerID derives the stable caller identity for a token. The token itself
// is never stored.
func CallerID(token string) string {
	return "caller_" + HashKey(token)[:callerIDLength]
}

// ParseBearer extracts the token from an Authorization header value.
func ParseBearer(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ErrMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrMalformedToken
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMalformedToken
	}
	return token, nil
}
