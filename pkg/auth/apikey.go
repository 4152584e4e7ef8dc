// Package auth provides API key generation and parsing
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

const (
	// KeyPrefix marks a string as a publisher API key
	KeyPrefix = "wgl"

	lookupBytes = 6  // 12 hex characters, stored in clear to locate the row
	secretBytes = 24 // 48 hex characters, stored only as a bcrypt hash
)

var keyPattern = regexp.MustCompile(`^wgl_([a-f0-9]{12})_([a-f0-9]{48})$`)

// GenerateAPIKey returns a new key of the form wgl_<lookup>_<secret> along
// with its lookup ID and secret parts
func GenerateAPIKey() (key, lookupID, secret string, err error) {
	lookup := make([]byte, lookupBytes)
	if _, err := rand.Read(lookup); err != nil {
		return "", "", "", fmt.Errorf("failed to generate lookup id: %w", err)
	}
	sec := make([]byte, secretBytes)
	if _, err := rand.Read(sec); err != nil {
		return "", "", "", fmt.Errorf("failed to generate secret: %w", err)
	}

	lookupID = hex.EncodeToString(lookup)
	secret = hex.EncodeToString(sec)
	return fmt.Sprintf("%s_%s_%s", KeyPrefix, lookupID, secret), lookupID, secret, nil
}

// ParseAPIKey splits a key into its lookup ID and secret
func ParseAPIKey(key string) (lookupID, secret string, ok bool) {
	m := keyPattern.FindStringSubmatch(strings.TrimSpace(key))
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}
