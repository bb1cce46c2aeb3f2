package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"chatvault/internal/models"
)

const savedMessageColumns = "id, original_message_id, author, message_type, text, blob_id, content_type, filename, size, created_at_ns, saved_at_ns"

// SaveMessage stores a saved copy, assigning id and saved_at when absent.
func (s *Store) SaveMessage(ctx context.Context, saved *models.SavedMessage) (*models.SavedMessage, error) {
	if saved == nil {
		return nil, fmt.Errorf("%w: saved message is required", models.ErrInvalidArgument)
	}
	if strings.TrimSpace(saved.OriginalMessageID) == "" {
		return nil, fmt.Errorf("%w: original message id is required", models.ErrInvalidArgument)
	}

	stored := *saved
	if stored.File != nil {
		file := *stored.File
		stored.File = &file
	}
	if strings.TrimSpace(stored.ID) == "" {
		id, err := GenerateMessageID()
		if err != nil {
			return nil, err
		}
		stored.ID = id
	}
	if stored.SavedAt.IsZero() {
		stored.SavedAt = time.Now().UTC()
	}
	stored.SavedAt = stored.SavedAt.UTC()
	stored.Timestamp = stored.Timestamp.UTC()

	text, blobID, contentType, filename, size := messageContentArgs(stored.Type, stored.Text, stored.File)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO saved_messages (`+savedMessageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, stored.ID, stored.OriginalMessageID, stored.Author, string(stored.Type), text, blobID, contentType, filename, size,
		stored.Timestamp.UnixNano(), stored.SavedAt.UnixNano())
	if err != nil {
		if isUniqueConstraintErr(err) {
			return nil, fmt.Errorf("saved message %s: %w", stored.ID, models.ErrConflict)
		}
		return nil, queryErr(ctx, "save message", err)
	}
	return &stored, nil
}

// ListSavedMessages returns saved copies, most recently saved first.
func (s *Store) ListSavedMessages(ctx context.Context) ([]models.SavedMessage, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+savedMessageColumns+` FROM saved_messages ORDER BY saved_at_ns DESC, rowid DESC`)
	if err != nil {
		return nil, queryErr(ctx, "list saved messages", err)
	}
	defer rows.Close()

	saved := []models.SavedMessage{}
	for rows.Next() {
		item, err := scanSavedMessage(rows)
		if err != nil {
			return nil, storageErr("scan saved message", err)
		}
		saved = append(saved, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, queryErr(ctx, "list saved messages", err)
	}
	return saved, nil
}

// DeleteSavedByOriginal removes saved copies of one original message and
// reports how many rows went away.
func (s *Store) DeleteSavedByOriginal(ctx context.Context, originalID string) (int, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM saved_messages WHERE original_message_id = ?", originalID)
	if err != nil {
		return 0, queryErr(ctx, "delete saved message", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, storageErr("delete saved message", err)
	}
	return int(affected), nil
}

// ListSavedBlobIDs returns blob ids referenced by saved file messages.
func (s *Store) ListSavedBlobIDs(ctx context.Context) ([]string, error) {
	return s.listBlobRefs(ctx, "SELECT DISTINCT blob_id FROM saved_messages WHERE blob_id IS NOT NULL ORDER BY blob_id")
}

func scanSavedMessage(scanner interface {
	Scan(dest ...any) error
}) (*models.SavedMessage, error) {
	var saved models.SavedMessage
	var kind string
	var createdAtNS, savedAtNS int64
	var text, blobID, contentType, filename sql.NullString
	var size sql.NullInt64

	err := scanner.Scan(&saved.ID, &saved.OriginalMessageID, &saved.Author, &kind, &text, &blobID, &contentType, &filename, &size, &createdAtNS, &savedAtNS)
	if err != nil {
		return nil, err
	}
	saved.Type = models.MessageType(kind)
	saved.Timestamp = time.Unix(0, createdAtNS).UTC()
	saved.SavedAt = time.Unix(0, savedAtNS).UTC()
	saved.Text, saved.File = contentFromColumns(saved.Type, text, blobID, contentType, filename, size)
	return &saved, nil
}
