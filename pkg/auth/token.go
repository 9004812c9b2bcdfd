package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
)

// ErrInvalidTokenFormat is returned for a token outside the URL-safe
// base64 alphabet.
var ErrInvalidTokenFormat = errors.New("invalid token format")

// DefaultTokenLength is the size in bytes of generated tokens.
const DefaultTokenLength = 32

// MinTokenLength is the shortest configured token accepted.
const MinTokenLength = 16

// GenerateToken returns length random bytes, base64 URL-encoded without
// padding so the token can travel in a query string.
func GenerateToken(length int) (string, error) {
	if length <= 0 {
		length = DefaultTokenLength
	}
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// ValidateToken compares got against want in constant time. An empty want
// never validates.
func ValidateToken(got, want string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// ParseToken checks that a configured token is long enough and uses only
// URL-safe characters.
func ParseToken(token string) error {
	if len(token) < MinTokenLength {
		return errors.Join(ErrInvalidTokenFormat, errors.New("token too short"))
	}
	for _, c := range token {
		if !((c >= 'a' && c <= 'z') ||
			(c >= 'A' && c <= 'Z') ||
			(c >= '0' && c <= '9') ||
			c == '-' || c == '_') {
			return ErrInvalidTokenFormat
		}
	}
	return nil
}

// MaskToken hides all but the ends of a token for logging.
func MaskToken(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "..." + token[len(token)-4:]
}
