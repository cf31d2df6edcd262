package utils

import (
	"crypto/rand"
	"encoding/base64"
)

// GenerateSecureToken creates a cryptographically secure random token.
func GenerateSecureToken(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// RequestID returns a short random id for correlating log lines.
func RequestID() string {
	id, err := GenerateSecureToken(9)
	if err != nil {
		return "unknown"
	}
	return id
}
