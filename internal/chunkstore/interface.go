package chunkstore

import (
	"context"

	"chatvault/internal/models"
)

// ChunkStore persists ordered byte chunks for a blob id. It has no knowledge
// of what the bytes mean and never reorders or deduplicates writes; the
// caller owns sequence numbering. WriteChunk must not retain payload after
// it returns.
type ChunkStore interface {
	WriteChunk(ctx context.Context, blobID string, seq int, payload []byte) error
	// ReadChunksOrdered fails with models.ErrNotFound when no chunk exists.
	ReadChunksOrdered(ctx context.Context, blobID string) (ChunkIterator, error)
	// DeleteChunks is a no-op when the blob has no chunks.
	DeleteChunks(ctx context.Context, blobID string) error
	ListChunkBlobIDs(ctx context.Context) ([]string, error)
}

// ChunkIterator is a lazy, finite, non-restartable sequence of chunks in
// ascending sequence order. Callers must Close it.
type ChunkIterator interface {
	Next() bool
	Chunk() models.Chunk
	Err() error
	Close() error
}

// sliceIterator serves chunks that were already loaded in order.
type sliceIterator struct {
	chunks []models.Chunk
	pos    int
	closed bool
}

// NewSliceIterator returns an iterator over pre-sorted chunks.
func NewSliceIterator(chunks []models.Chunk) ChunkIterator {
	return &sliceIterator{chunks: chunks, pos: -1}
}

func (it *sliceIterator) Next() bool {
	if it.closed || it.pos+1 >= len(it.chunks) {
		return false
	}
	it.pos++
	return true
}

func (it *sliceIterator) Chunk() models.Chunk {
	if it.pos < 0 || it.pos >= len(it.chunks) {
		return models.Chunk{}
	}
	return it.chunks[it.pos]
}

func (it *sliceIterator) Err() error { return nil }

func (it *sliceIterator) Close() error {
	it.closed = true
	it.chunks = nil
	return nil
}
