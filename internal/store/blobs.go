package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"chatvault/internal/models"
)

const blobColumns = "id, filename, content_type, kind, total_size, chunk_count, created_at"

// CreateMetadata finalizes a blob by inserting its metadata row.
func (s *Store) CreateMetadata(ctx context.Context, blob *models.Blob) error {
	if blob == nil {
		return fmt.Errorf("%w: blob is required", models.ErrInvalidArgument)
	}
	blob.ID = strings.TrimSpace(blob.ID)
	if blob.ID == "" {
		return fmt.Errorf("%w: blob id is required", models.ErrInvalidArgument)
	}
	if blob.TotalSize < 0 || blob.ChunkCount < 0 {
		return fmt.Errorf("%w: blob size and chunk count must be >= 0", models.ErrInvalidArgument)
	}
	if blob.Kind == "" {
		blob.Kind = models.BlobKindGeneral
	}
	if blob.CreatedAt.IsZero() {
		blob.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blobs (`+blobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, blob.ID, blob.Filename, blob.ContentType, string(blob.Kind), blob.TotalSize, blob.ChunkCount, formatTime(blob.CreatedAt))
	if err != nil {
		if isUniqueConstraintErr(err) {
			return fmt.Errorf("blob %s: %w", blob.ID, models.ErrConflict)
		}
		return queryErr(ctx, "create blob metadata", err)
	}
	return nil
}

// GetMetadata returns one blob by id.
func (s *Store) GetMetadata(ctx context.Context, id string) (*models.Blob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+blobColumns+` FROM blobs WHERE id = ?`, id)
	blob, err := scanBlob(row)
	if err != nil {
		return nil, queryErr(ctx, "get blob metadata", err)
	}
	if blob == nil {
		return nil, fmt.Errorf("blob %s: %w", id, models.ErrNotFound)
	}
	return blob, nil
}

// DeleteMetadata deletes one blob row by id.
func (s *Store) DeleteMetadata(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM blobs WHERE id = ?", id); err != nil {
		return queryErr(ctx, "delete blob metadata", err)
	}
	return nil
}

// BlobExists checks whether a finalized blob exists.
func (s *Store) BlobExists(ctx context.Context, id string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM blobs WHERE id = ? LIMIT 1", id).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, queryErr(ctx, "check blob", err)
	}
	return true, nil
}

func scanBlob(scanner interface {
	Scan(dest ...any) error
}) (*models.Blob, error) {
	blob := models.Blob{}
	var kind, createdAt string

	err := scanner.Scan(&blob.ID, &blob.Filename, &blob.ContentType, &kind, &blob.TotalSize, &blob.ChunkCount, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	blob.Kind = models.BlobKind(kind)

	parsedCreated, err := parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	blob.CreatedAt = parsedCreated

	return &blob, nil
}
