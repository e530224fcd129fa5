package security

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/jwalitptl/admin-rbac/pkg/errors"
)

const (
	DefaultCost    = bcrypt.DefaultCost
	MinPasswordLen = 8
	// bcrypt ignores everything past 72 bytes, so longer input is refused
	// rather than silently truncated.
	MaxPasswordLen = 72
)

var ErrMismatch = errors.New("password does not match")

// PasswordHasher provides interface for password operations
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hashedPassword, password string) error
}

type bcryptHasher struct {
	cost int
}

// NewBcryptHasher creates a new password hasher using bcrypt. An out of
// range cost falls back to bcrypt.DefaultCost.
func NewBcryptHasher(cost int) PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &bcryptHasher{cost: cost}
}

func (b *bcryptHasher) Hash(password string) (string, error) {
	if len(password) < MinPasswordLen {
		return "", apperrors.BadRequest(fmt.Sprintf("password must be at least %d characters", MinPasswordLen), nil)
	}
	if len(password) > MaxPasswordLen {
		return "", apperrors.BadRequest(fmt.Sprintf("password must be at most %d bytes", MaxPasswordLen), nil)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), b.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

func (b *bcryptHasher) Compare(hashedPassword, password string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrMismatch
	}
	return err
}
