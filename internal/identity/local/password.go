package local

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// defaultCost is the bcrypt work factor used in production (~250ms).
const defaultCost = 12

// MinPasswordLength is the provider-side policy; shorter passwords are
// rejected with auth/weak-password.
const MinPasswordLength = 6

// errPasswordMismatch is returned by Verify on a wrong password.
var errPasswordMismatch = errors.New("local: invalid password")

// PasswordService hashes and verifies passwords with bcrypt. The cost is a
// field so tests can use the bcrypt minimum.
type PasswordService struct {
	cost int
}

func NewPasswordService() *PasswordService {
	return &PasswordService{cost: defaultCost}
}

// NewPasswordServiceWithCost is for tests; production uses NewPasswordService.
func NewPasswordServiceWithCost(cost int) *PasswordService {
	return &PasswordService{cost: cost}
}

// Hash returns a self-describing bcrypt hash ($2a$<cost>$<salt><hash>).
// bcrypt silently truncates input past 72 bytes, so longer passwords are
// rejected outright.
func (p *PasswordService) Hash(plaintext string) (string, error) {
	if len(plaintext) > 72 {
		return "", fmt.Errorf("local: password must be 72 bytes or fewer")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("local: hashing password: %w", err)
	}
	return string(hashed), nil
}

// Verify compares in constant time; nil means the password matches.
func (p *PasswordService) Verify(hash, plaintext string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return errPasswordMismatch
		}
		return fmt.Errorf("local: comparing password hash: %w", err)
	}
	return nil
}
