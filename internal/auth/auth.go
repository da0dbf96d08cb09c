// Package auth verifies team credentials and admin access.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/finsim/game-engine/internal/model"
)

// MinPasswordLength is the shortest accepted team password.
const MinPasswordLength = 4

// MaxPasswordLength is the bcrypt input limit in bytes.
const MaxPasswordLength = 72

// Hasher creates and checks bcrypt credential hashes.
type Hasher struct {
	cost int
}

// NewHasher returns a hasher with the given bcrypt cost. Zero selects
// bcrypt.DefaultCost.
func NewHasher(cost int) *Hasher {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Hasher{cost: cost}
}

// Hash returns the credential hash of password.
func (h *Hasher) Hash(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", fmt.Errorf("password must be at least %d characters: %w", MinPasswordLength, model.ErrInvalidInput)
	}
	if len(password) > MaxPasswordLength {
		return "", fmt.Errorf("password must be at most %d bytes: %w", MaxPasswordLength, model.ErrInvalidInput)
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return "", fmt.Errorf("hash password: %v: %w", err, model.ErrInvalidInput)
	}
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}

// Verify checks password against hash. Any mismatch, including a malformed
// hash, is model.ErrUnauthorized.
func (h *Hasher) Verify(hash, password string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err == nil {
		return nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) || errors.Is(err, bcrypt.ErrHashTooShort) {
		return fmt.Errorf("invalid credentials: %w", model.ErrUnauthorized)
	}
	return fmt.Errorf("invalid credentials: %v: %w", err, model.ErrUnauthorized)
}

// Admin guards the admin operation surface with a shared bearer token.
type Admin struct {
	token        []byte
	passwordHash string
	hasher       *Hasher
}

// NewAdmin creates an admin guard. passwordHash may be empty, which
// disables password login and leaves token-only access.
func NewAdmin(token, passwordHash string, hasher *Hasher) *Admin {
	return &Admin{token: []byte(token), passwordHash: passwordHash, hasher: hasher}
}

// CheckToken reports whether tok is the admin token.
func (a *Admin) CheckToken(tok string) error {
	tok = strings.TrimSpace(strings.TrimPrefix(tok, "Bearer "))
	if tok == "" || len(a.token) == 0 || subtle.ConstantTimeCompare([]byte(tok), a.token) != 1 {
		return fmt.Errorf("invalid admin token: %w", model.ErrUnauthorized)
	}
	return nil
}

// Login exchanges the admin password for the admin token.
func (a *Admin) Login(password string) (string, error) {
	if a.passwordHash == "" {
		return "", fmt.Errorf("admin password login disabled: %w", model.ErrUnauthorized)
	}
	if err := a.hasher.Verify(a.passwordHash, password); err != nil {
		return "", err
	}
	return string(a.token), nil
}
