package store

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

const (
	base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	userIDLength   = 8
	blobIDBytes    = 16
	idMaxAttempts  = 20
)

// GenerateID returns a new id of the form <prefix>-<hash> with a base36 hash.
// It retries on collisions using the provided exists function.
func GenerateID(prefix string, length int, exists func(string) (bool, error)) (string, error) {
	if prefix == "" {
		return "", fmt.Errorf("id prefix is required")
	}
	if length <= 0 {
		return "", fmt.Errorf("id length must be > 0")
	}

	for i := 0; i < idMaxAttempts; i++ {
		hash, err := randomBase36(length)
		if err != nil {
			return "", err
		}
		id := fmt.Sprintf("%s-%s", prefix, hash)
		if exists == nil {
			return id, nil
		}
		ok, err := exists(id)
		if err != nil {
			return "", err
		}
		if !ok {
			return id, nil
		}
	}

	return "", fmt.Errorf("unable to generate unique id")
}

// GenerateUserID returns a new user id using the us- prefix.
func GenerateUserID(exists func(string) (bool, error)) (string, error) {
	return GenerateID("us", userIDLength, exists)
}

// GenerateBlobID returns bl- followed by 128 random bits in hex. The id is
// fixed before any chunk is written, so collisions are not probed.
func GenerateBlobID() (string, error) {
	buf := make([]byte, blobIDBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "bl-" + hex.EncodeToString(buf), nil
}

// GenerateMessageID returns a time-ordered UUIDv7.
func GenerateMessageID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func randomBase36(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	out := make([]byte, length)
	for i := 0; i < length; i++ {
		out[i] = base36Alphabet[int(b[i])%len(base36Alphabet)]
	}
	return string(out), nil
}
