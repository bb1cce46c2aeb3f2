package store

import (
	"context"

	"chatvault/internal/chunkstore"
	"chatvault/internal/models"
)

// BlobIndex is the metadata half of the object store. A blob becomes
// visible to readers only once its metadata row exists.
type BlobIndex interface {
	CreateMetadata(ctx context.Context, blob *models.Blob) error
	GetMetadata(ctx context.Context, id string) (*models.Blob, error)
	DeleteMetadata(ctx context.Context, id string) error
	BlobExists(ctx context.Context, id string) (bool, error)
}

// MessageLog is the canonical, timestamp-ordered chat history.
type MessageLog interface {
	AppendMessage(ctx context.Context, msg *models.Message) (*models.Message, error)
	ListMessagesOrdered(ctx context.Context) ([]models.Message, error)
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	// DeleteMessagesExcept removes every message whose id is not retained and
	// returns the removed rows.
	DeleteMessagesExcept(ctx context.Context, retainedIDs []string) ([]models.Message, error)
}

// SavedMessageStore persists saved copies of messages.
type SavedMessageStore interface {
	SaveMessage(ctx context.Context, saved *models.SavedMessage) (*models.SavedMessage, error)
	ListSavedMessages(ctx context.Context) ([]models.SavedMessage, error)
	DeleteSavedByOriginal(ctx context.Context, originalID string) (int, error)
	ListSavedBlobIDs(ctx context.Context) ([]string, error)
}

// UserStore backs the credential check.
type UserStore interface {
	CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	DeleteUser(ctx context.Context, username string) (bool, error)
}

var (
	_ chunkstore.ChunkStore = (*Store)(nil)
	_ BlobIndex             = (*Store)(nil)
	_ MessageLog            = (*Store)(nil)
	_ SavedMessageStore     = (*Store)(nil)
	_ UserStore             = (*Store)(nil)
)
