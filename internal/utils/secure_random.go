package utils

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// TokenPrefix marks values produced by GenerateSecureToken so they are easy
// to spot in leaked-secret scans.
const TokenPrefix = "bgt_"

// GenerateSecureToken returns TokenPrefix followed by lengthInBytes random
// bytes in unpadded URL-safe base64.
func GenerateSecureToken(lengthInBytes int) (string, error) {
	b, err := randomBytes(lengthInBytes)
	if err != nil {
		return "", err
	}
	return TokenPrefix + base64.RawURLEncoding.EncodeToString(b), nil
}

func randomBytes(lengthInBytes int) ([]byte, error) {
	if lengthInBytes <= 0 {
		return nil, fmt.Errorf("lengthInBytes must be positive")
	}
	b := make([]byte, lengthInBytes)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return b, nil
}
