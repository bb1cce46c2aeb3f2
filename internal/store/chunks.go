package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"chatvault/internal/chunkstore"
	"chatvault/internal/models"
)

// WriteChunk inserts one chunk row. Rows are write-once.
func (s *Store) WriteChunk(ctx context.Context, blobID string, seq int, payload []byte) error {
	blobID = strings.TrimSpace(blobID)
	if blobID == "" {
		return fmt.Errorf("%w: blob id is required", models.ErrInvalidArgument)
	}
	if seq < 0 {
		return fmt.Errorf("%w: sequence must be >= 0", models.ErrInvalidArgument)
	}
	if payload == nil {
		payload = []byte{}
	}

	_, err := s.db.ExecContext(ctx, "INSERT INTO chunks (blob_id, seq, payload) VALUES (?, ?, ?)", blobID, seq, payload)
	if err != nil {
		if isUniqueConstraintErr(err) {
			return fmt.Errorf("chunk %s/%d: %w", blobID, seq, models.ErrConflict)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return storageErr("write chunk", err)
	}
	return nil
}

// ReadChunksOrdered lists the blob's sequences and loads each payload on
// demand, so no connection is held between Next calls.
func (s *Store) ReadChunksOrdered(ctx context.Context, blobID string) (chunkstore.ChunkIterator, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT seq FROM chunks WHERE blob_id = ? ORDER BY seq ASC", blobID)
	if err != nil {
		return nil, queryErr(ctx, "list chunks", err)
	}
	defer rows.Close()

	var seqs []int
	for rows.Next() {
		var seq int
		if err := rows.Scan(&seq); err != nil {
			return nil, storageErr("scan chunk", err)
		}
		seqs = append(seqs, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, queryErr(ctx, "list chunks", err)
	}
	if len(seqs) == 0 {
		return nil, fmt.Errorf("chunks for %s: %w", blobID, models.ErrNotFound)
	}
	return &sqlChunkIterator{ctx: ctx, db: s.db, blobID: blobID, seqs: seqs, pos: -1}, nil
}

// DeleteChunks removes every chunk of a blob.
func (s *Store) DeleteChunks(ctx context.Context, blobID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM chunks WHERE blob_id = ?", blobID); err != nil {
		return queryErr(ctx, "delete chunks", err)
	}
	return nil
}

// ListChunkBlobIDs returns the distinct blob ids that own at least one chunk.
func (s *Store) ListChunkBlobIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT blob_id FROM chunks ORDER BY blob_id ASC")
	if err != nil {
		return nil, queryErr(ctx, "list chunk blobs", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storageErr("scan chunk blob", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, queryErr(ctx, "list chunk blobs", err)
	}
	return ids, nil
}

type sqlChunkIterator struct {
	ctx    context.Context
	db     *sql.DB
	blobID string
	seqs   []int
	pos    int
	cur    models.Chunk
	err    error
	closed bool
}

func (it *sqlChunkIterator) Next() bool {
	if it.closed || it.err != nil || it.pos+1 >= len(it.seqs) {
		return false
	}
	if err := it.ctx.Err(); err != nil {
		it.err = err
		return false
	}
	it.pos++
	seq := it.seqs[it.pos]

	var payload []byte
	err := it.db.QueryRowContext(it.ctx, "SELECT payload FROM chunks WHERE blob_id = ? AND seq = ?", it.blobID, seq).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Deleted between listing and reading.
			it.err = fmt.Errorf("chunk %s/%d: %w", it.blobID, seq, models.ErrNotFound)
		} else {
			it.err = queryErr(it.ctx, "read chunk", err)
		}
		return false
	}
	it.cur = models.Chunk{BlobID: it.blobID, Sequence: seq, Payload: payload}
	return true
}

func (it *sqlChunkIterator) Chunk() models.Chunk { return it.cur }

func (it *sqlChunkIterator) Err() error { return it.err }

func (it *sqlChunkIterator) Close() error {
	it.closed = true
	it.cur = models.Chunk{}
	return nil
}

// queryErr prefers the context error when the query was cancelled.
func queryErr(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return storageErr(op, err)
}
