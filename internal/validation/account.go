package validation

import (
	"fmt"
	"net/mail"
	"strings"
)

const (
	// MinPasswordLength matches the signup form requirement
	MinPasswordLength = 8
	// MaxPasswordLength is bcrypt's input limit
	MaxPasswordLength = 72
	MaxNameLength     = 200
)

// NormalizeEmail lowercases and trims an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail checks that email is a bare address without a display name.
func ValidateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fmt.Errorf("invalid email address")
	}
	return nil
}

// ValidatePassword enforces the length bounds.
func ValidatePassword(password string) error {
	if password == "" {
		return fmt.Errorf("password is required")
	}
	if len(password) < MinPasswordLength {
		return fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	}
	if len(password) > MaxPasswordLength {
		return fmt.Errorf("password must be at most %d bytes", MaxPasswordLength)
	}
	return nil
}

// ValidateName trims name and requires it to be non-empty and bounded. field is used
// in the error message.
func ValidateName(field, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%s is required", field)
	}
	if len([]rune(name)) > MaxNameLength {
		return "", fmt.Errorf("%s must be at most %d characters", field, MaxNameLength)
	}
	return name, nil
}
