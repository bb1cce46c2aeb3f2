package models

import (
	"fmt"
	"strings"
	"time"
)

// BlobKind is the upload discriminator chosen by the client.
type BlobKind string

const (
	BlobKindGeneral BlobKind = "general"
	BlobKindAudio   BlobKind = "audio"
)

var validBlobKinds = map[BlobKind]struct{}{
	BlobKindGeneral: {},
	BlobKindAudio:   {},
}

// Blob is the finalized, immutable metadata record of a chunked object.
// A blob is visible to readers only once this record exists.
type Blob struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Kind        BlobKind  `json:"kind"`
	TotalSize   int64     `json:"total_size"`
	ChunkCount  int       `json:"chunk_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// Chunk is one ordered, write-once fragment of a blob's payload.
type Chunk struct {
	BlobID   string
	Sequence int
	Payload  []byte
}

// ParseBlobKind normalizes a file_type value. Empty input means general.
func ParseBlobKind(raw string) (BlobKind, error) {
	value := BlobKind(strings.ToLower(strings.TrimSpace(raw)))
	if value == "" {
		return BlobKindGeneral, nil
	}
	if _, ok := validBlobKinds[value]; !ok {
		return "", fmt.Errorf("invalid file_type: %s", value)
	}
	return value, nil
}
