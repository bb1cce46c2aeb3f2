package auth

import (
	"context"
	"errors"
	"testing"

	"chatvault/internal/models"
)

type memoryUsers map[string]*models.User

func (m memoryUsers) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	if user, ok := m[username]; ok {
		return user, nil
	}
	return nil, nil
}

type failingUsers struct{}

func (failingUsers) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return nil, models.ErrStorageFailure
}

func TestStoreVerifier(t *testing.T) {
	hash, err := HashPassword("correct-horse")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	verifier := NewStoreVerifier(memoryUsers{"ana": {ID: "us-1", Username: "ana", PasswordHash: hash}})
	ctx := context.Background()

	tests := []struct {
		name     string
		username string
		password string
		want     error
	}{
		{name: "match", username: "ana", password: "correct-horse"},
		{name: "case insensitive username", username: " ANA ", password: "correct-horse"},
		{name: "wrong password", username: "ana", password: "battery-staple", want: ErrInvalidCredentials},
		{name: "unknown user", username: "bo", password: "correct-horse", want: ErrInvalidCredentials},
		{name: "empty password", username: "ana", password: " ", want: models.ErrInvalidArgument},
		{name: "bad username", username: "a b", password: "correct-horse", want: models.ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := verifier.Verify(ctx, tt.username, tt.password)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestStoreVerifierPropagatesLookupFailure(t *testing.T) {
	err := NewStoreVerifier(failingUsers{}).Verify(context.Background(), "ana", "correct-horse")
	if !errors.Is(err, models.ErrStorageFailure) {
		t.Fatalf("expected storage failure, got %v", err)
	}
	if errors.Is(err, ErrInvalidCredentials) {
		t.Fatal("lookup failure must not look like bad credentials")
	}
}

func TestNilVerifierIsUnavailable(t *testing.T) {
	var verifier *StoreVerifier
	if err := verifier.Verify(context.Background(), "ana", "x"); !errors.Is(err, models.ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}
