package auth

import (
	"context"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"retrocms/pkg/errors"
)

// IdentityProvider checks admin credentials and returns the authenticated subject
type IdentityProvider interface {
	Authenticate(ctx context.Context, user, password string) (subject string, err error)
}

// PasswordProvider authenticates a single admin account against a bcrypt hash
type PasswordProvider struct {
	user string
	hash []byte
}

// NewPasswordProvider creates a provider for user. hash must be a bcrypt hash.
func NewPasswordProvider(user, hash string) (*PasswordProvider, error) {
	if user == "" {
		return nil, fmt.Errorf("admin user is required")
	}
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, fmt.Errorf("invalid admin password hash: %w", err)
	}
	return &PasswordProvider{user: user, hash: []byte(hash)}, nil
}

// Authenticate implements IdentityProvider
func (p *PasswordProvider) Authenticate(ctx context.Context, user, password string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	// Compare the password even for an unknown user so both fail alike
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(p.user)) == 1
	passErr := bcrypt.CompareHashAndPassword(p.hash, []byte(password))
	if !userOK || passErr != nil {
		return "", errors.ErrInvalidCredentials
	}
	return p.user, nil
}

// HashPassword returns the bcrypt hash of password
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
