package auth

import (
	"crypto/rand"
	"fmt"
	"strings"
)

// urlAlphabet is the 64-symbol URL-safe alphabet used for opaque identifiers.
const urlAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789_-"

const (
	QRCodeLength = 10
	TokenLength  = 32
)

// RandomString returns n symbols from urlAlphabet drawn from crypto/rand.
// The alphabet has 64 symbols, so masking each byte to 6 bits is unbiased.
func RandomString(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	for i := range buf {
		buf[i] = urlAlphabet[buf[i]&63]
	}
	return string(buf), nil
}

// NewQRCode returns a fresh public box identifier.
func NewQRCode() (string, error) {
	return RandomString(QRCodeLength)
}

// NewToken returns a verification or password-reset token.
func NewToken() (string, error) {
	return RandomString(TokenLength)
}

// ValidQRCode reports whether code could have been issued as a box identifier:
// non-empty, bounded and drawn from urlAlphabet.
func ValidQRCode(code string) bool {
	if code == "" || len(code) > 64 {
		return false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(urlAlphabet, code[i]) < 0 {
			return false
		}
	}
	return true
}
