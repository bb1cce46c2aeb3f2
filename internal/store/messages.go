package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"chatvault/internal/models"
)

// Timestamps are stored as unix nanoseconds so that ORDER BY is numeric;
// ties fall back to the autoincrement seq, which is insertion order.
const messageColumns = "id, author, message_type, text, blob_id, content_type, filename, size, created_at_ns"

// AppendMessage persists one message, assigning id and timestamp when absent.
func (s *Store) AppendMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: message is required", models.ErrInvalidArgument)
	}
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidArgument, err)
	}

	stored := *msg
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
	if stored.Timestamp.IsZero() {
		stored.Timestamp = time.Now().UTC()
	}
	stored.Timestamp = stored.Timestamp.UTC()

	text, blobID, contentType, filename, size := messageContentArgs(stored.Type, stored.Text, stored.File)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, stored.ID, stored.Author, string(stored.Type), text, blobID, contentType, filename, size, stored.Timestamp.UnixNano())
	if err != nil {
		if isUniqueConstraintErr(err) {
			return nil, fmt.Errorf("message %s: %w", stored.ID, models.ErrConflict)
		}
		return nil, queryErr(ctx, "append message", err)
	}
	return &stored, nil
}

// ListMessagesOrdered returns the whole log in canonical order.
func (s *Store) ListMessagesOrdered(ctx context.Context) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+messageColumns+` FROM messages ORDER BY created_at_ns ASC, seq ASC`)
	if err != nil {
		return nil, queryErr(ctx, "list messages", err)
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, queryErr(ctx, "list messages", err)
	}
	return messages, nil
}

// GetMessage returns one message by id.
func (s *Store) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	msg, err := scanMessage(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("message %s: %w", id, models.ErrNotFound)
		}
		return nil, queryErr(ctx, "get message", err)
	}
	return msg, nil
}

// DeleteMessagesExcept deletes every message not listed in retainedIDs and
// returns the deleted rows in canonical order.
func (s *Store) DeleteMessagesExcept(ctx context.Context, retainedIDs []string) (_ []models.Message, err error) {
	retained := make([]any, 0, len(retainedIDs))
	seen := make(map[string]struct{}, len(retainedIDs))
	for _, id := range retainedIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		retained = append(retained, id)
	}

	where := ""
	if len(retained) > 0 {
		where = " WHERE id NOT IN (" + placeholders(len(retained)) + ")"
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, queryErr(ctx, "begin retention", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	rows, err := tx.QueryContext(ctx, `SELECT `+messageColumns+` FROM messages`+where+` ORDER BY created_at_ns ASC, seq ASC`, retained...)
	if err != nil {
		return nil, queryErr(ctx, "select messages to delete", err)
	}
	deleted, err := scanMessages(rows)
	_ = rows.Close()
	if err != nil {
		return nil, queryErr(ctx, "select messages to delete", err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM messages`+where, retained...); err != nil {
		return nil, queryErr(ctx, "delete messages", err)
	}
	if err = tx.Commit(); err != nil {
		return nil, queryErr(ctx, "commit retention", err)
	}
	return deleted, nil
}

// ListMessageBlobIDs returns blob ids referenced by file messages.
func (s *Store) ListMessageBlobIDs(ctx context.Context) ([]string, error) {
	return s.listBlobRefs(ctx, "SELECT DISTINCT blob_id FROM messages WHERE blob_id IS NOT NULL ORDER BY blob_id")
}

func (s *Store) listBlobRefs(ctx context.Context, query string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, queryErr(ctx, "list blob references", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storageErr("scan blob reference", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, queryErr(ctx, "list blob references", err)
	}
	return ids, nil
}

func messageContentArgs(kind models.MessageType, text string, file *models.FileContent) (any, any, any, any, any) {
	if kind == models.MessageTypeFile && file != nil {
		return nil, file.BlobID, nullIfEmpty(file.ContentType), nullIfEmpty(file.Filename), file.Size
	}
	return text, nil, nil, nil, nil
}

func scanMessages(rows *sql.Rows) ([]models.Message, error) {
	messages := []models.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return messages, nil
}

func scanMessage(scanner interface {
	Scan(dest ...any) error
}) (*models.Message, error) {
	var msg models.Message
	var kind string
	var createdAtNS int64
	var text, blobID, contentType, filename sql.NullString
	var size sql.NullInt64

	if err := scanner.Scan(&msg.ID, &msg.Author, &kind, &text, &blobID, &contentType, &filename, &size, &createdAtNS); err != nil {
		return nil, err
	}
	msg.Type = models.MessageType(kind)
	msg.Timestamp = time.Unix(0, createdAtNS).UTC()
	msg.Text, msg.File = contentFromColumns(msg.Type, text, blobID, contentType, filename, size)
	return &msg, nil
}

func contentFromColumns(kind models.MessageType, text, blobID, contentType, filename sql.NullString, size sql.NullInt64) (string, *models.FileContent) {
	if kind == models.MessageTypeFile {
		return "", &models.FileContent{
			BlobID:      blobID.String,
			ContentType: contentType.String,
			Filename:    filename.String,
			Size:        size.Int64,
		}
	}
	return text.String, nil
}
