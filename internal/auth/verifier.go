package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"chatvault/internal/models"
)

// ErrInvalidCredentials is returned for an unknown user or a wrong password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Verifier checks a username and password pair.
type Verifier interface {
	Verify(ctx context.Context, username, password string) error
}

// UserLookup resolves stored accounts by normalized username. A nil user
// with a nil error means the account does not exist.
type UserLookup interface {
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
}

// StoreVerifier verifies credentials against bcrypt hashes in a UserLookup.
type StoreVerifier struct {
	users UserLookup

	dummyOnce sync.Once
	dummyHash []byte
}

// NewStoreVerifier creates a verifier backed by users.
func NewStoreVerifier(users UserLookup) *StoreVerifier {
	return &StoreVerifier{users: users}
}

// Verify returns nil when the credentials match, ErrInvalidCredentials when
// they do not, and a wrapped models.ErrInvalidArgument for malformed input.
func (v *StoreVerifier) Verify(ctx context.Context, username, password string) error {
	if v == nil || v.users == nil {
		return fmt.Errorf("verify credentials: %w", models.ErrUnavailable)
	}
	normalized, err := NormalizeUsername(username)
	if err != nil {
		return err
	}
	if strings.TrimSpace(password) == "" {
		return fmt.Errorf("%w: password is required", models.ErrInvalidArgument)
	}

	user, err := v.users.GetUserByUsername(ctx, normalized)
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}
	if user == nil {
		// Spend the same bcrypt work as a real comparison.
		_ = bcrypt.CompareHashAndPassword(v.dummy(), []byte(password))
		return ErrInvalidCredentials
	}
	if !VerifyPassword(user.PasswordHash, password) {
		return ErrInvalidCredentials
	}
	return nil
}

func (v *StoreVerifier) dummy() []byte {
	v.dummyOnce.Do(func() {
		v.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("chatvault-dummy-password"), bcrypt.DefaultCost)
	})
	return v.dummyHash
}
