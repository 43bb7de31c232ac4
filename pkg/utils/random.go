package utils

import (
	"crypto/rand"
	"encoding/base64"
)

// GenerateURLSafeToken returns a URL-safe token built from n random bytes,
// truncated to maxLen characters when maxLen > 0.
func GenerateURLSafeToken(n, maxLen int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	token := base64.RawURLEncoding.EncodeToString(b)
	if maxLen > 0 && len(token) > maxLen {
		token = token[:maxLen]
	}
	return token, nil
}
