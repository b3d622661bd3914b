package auth

import (
	"crypto/subtle"
	"errors"
	"strings"
)

var (
	// ErrNotConfigured is returned when no API token has been configured
	ErrNotConfigured = errors.New("API token not configured")
	// ErrInvalidToken is returned for a token that does not match
	ErrInvalidToken = errors.New("invalid API token")
)

// Validator checks bearer tokens against the configured API token
type Validator struct {
	expected string
}

// NewValidator creates a validator for token
func NewValidator(token string) *Validator {
	return &Validator{expected: token}
}

// ValidateToken validates an API token
func (v *Validator) ValidateToken(token string) error {
	if v == nil || v.expected == "" {
		return ErrNotConfigured
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(v.expected)) != 1 {
		return ErrInvalidToken
	}
	return nil
}

// ValidateHeader extracts and validates the token in an Authorization header
func (v *Validator) ValidateHeader(authHeader string) error {
	token, err := ExtractToken(authHeader)
	if err != nil {
		return err
	}
	return v.ValidateToken(token)
}

// ExtractToken extracts the token from an Authorization header
func ExtractToken(authHeader string) (string, error) {
	if authHeader == "" {
		return "", errors.New("missing Authorization header")
	}

	// Support "Bearer {token}" format
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 {
		return "", errors.New("invalid Authorization header format")
	}

	if strings.ToLower(parts[0]) != "bearer" {
		return "", errors.New("Authorization header must use Bearer scheme")
	}

	return parts[1], nil
}
