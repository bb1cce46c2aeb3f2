package chunkstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"

	"chatvault/internal/models"
)

const (
	chunkFileSuffix = ".zst"
	chunkNameDigits = 10
)

var blobDirPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// LocalFS stores each chunk as a zstd-compressed file under
// <root>/<blob id>/<sequence>.zst.
type LocalFS struct {
	root string

	encoderPool sync.Pool
	decoderPool sync.Pool
}

// NewLocalFS creates a filesystem chunk store rooted at root.
func NewLocalFS(root string) (*LocalFS, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("local chunk store root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}

	fs := &LocalFS{root: abs}
	fs.encoderPool = sync.Pool{
		New: func() any {
			enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
			return enc
		},
	}
	fs.decoderPool = sync.Pool{
		New: func() any {
			dec, _ := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
			return dec
		},
	}
	return fs, nil
}

// WriteChunk compresses and writes one chunk. A second write of the same
// sequence fails with models.ErrConflict.
func (c *LocalFS) WriteChunk(ctx context.Context, blobID string, seq int, payload []byte) error {
	if c == nil {
		return fmt.Errorf("chunk store is not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if seq < 0 {
		return fmt.Errorf("%w: sequence must be >= 0", models.ErrInvalidArgument)
	}
	dir, err := c.blobDir(blobID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return storageErr("create chunk dir", err)
	}

	compressed := c.compress(payload)

	tmp, err := os.CreateTemp(dir, ".chunk-*.tmp")
	if err != nil {
		return storageErr("create temp chunk", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(compressed); err != nil {
		_ = tmp.Close()
		return storageErr("write chunk", err)
	}
	if err := tmp.Close(); err != nil {
		return storageErr("close chunk", err)
	}

	// Link fails if the destination exists, which keeps chunks write-once.
	if err := os.Link(tmpPath, filepath.Join(dir, chunkFileName(seq))); err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("chunk %s/%d: %w", blobID, seq, models.ErrConflict)
		}
		return storageErr("commit chunk", err)
	}
	return nil
}

// ReadChunksOrdered lists the blob's chunk files and decodes them lazily.
func (c *LocalFS) ReadChunksOrdered(ctx context.Context, blobID string) (ChunkIterator, error) {
	if c == nil {
		return nil, fmt.Errorf("chunk store is not configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := c.blobDir(blobID)
	if err != nil {
		return nil, err
	}
	seqs, err := listSequences(dir)
	if err != nil {
		return nil, err
	}
	if len(seqs) == 0 {
		return nil, fmt.Errorf("chunks for %s: %w", blobID, models.ErrNotFound)
	}
	return &fileIterator{ctx: ctx, store: c, dir: dir, blobID: blobID, seqs: seqs, pos: -1}, nil
}

// DeleteChunks removes the blob's chunk directory. Missing directories are ignored.
func (c *LocalFS) DeleteChunks(ctx context.Context, blobID string) error {
	if c == nil {
		return fmt.Errorf("chunk store is not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, err := c.blobDir(blobID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return storageErr("delete chunks", err)
	}
	return nil
}

// ListChunkBlobIDs returns blob ids that have a chunk directory.
func (c *LocalFS) ListChunkBlobIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return nil, storageErr("list chunk dirs", err)
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() && blobDirPattern.MatchString(entry.Name()) {
			ids = append(ids, entry.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (c *LocalFS) blobDir(blobID string) (string, error) {
	blobID = strings.TrimSpace(blobID)
	if blobID == "" {
		return "", fmt.Errorf("%w: blob id is required", models.ErrInvalidArgument)
	}
	if !blobDirPattern.MatchString(blobID) {
		return "", fmt.Errorf("%w: invalid blob id", models.ErrInvalidArgument)
	}
	return filepath.Join(c.root, blobID), nil
}

func (c *LocalFS) compress(data []byte) []byte {
	enc := c.encoderPool.Get().(*zstd.Encoder)
	defer c.encoderPool.Put(enc)
	return enc.EncodeAll(data, make([]byte, 0, len(data)/2+64))
}

func (c *LocalFS) decompress(data []byte) ([]byte, error) {
	dec := c.decoderPool.Get().(*zstd.Decoder)
	defer c.decoderPool.Put(dec)
	return dec.DecodeAll(data, nil)
}

func listSequences(dir string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, storageErr("list chunks", err)
	}
	seqs := make([]int, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, chunkFileSuffix) {
			continue
		}
		seq, err := strconv.Atoi(strings.TrimSuffix(name, chunkFileSuffix))
		if err != nil {
			continue
		}
		seqs = append(seqs, seq)
	}
	sort.Ints(seqs)
	return seqs, nil
}

func chunkFileName(seq int) string {
	return fmt.Sprintf("%0*d%s", chunkNameDigits, seq, chunkFileSuffix)
}

type fileIterator struct {
	ctx    context.Context
	store  *LocalFS
	dir    string
	blobID string
	seqs   []int
	pos    int
	cur    models.Chunk
	err    error
	closed bool
}

func (it *fileIterator) Next() bool {
	if it.closed || it.err != nil || it.pos+1 >= len(it.seqs) {
		return false
	}
	if err := it.ctx.Err(); err != nil {
		it.err = err
		return false
	}
	it.pos++
	seq := it.seqs[it.pos]
	raw, err := os.ReadFile(filepath.Join(it.dir, chunkFileName(seq)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			it.err = fmt.Errorf("chunk %s/%d: %w", it.blobID, seq, models.ErrNotFound)
		} else {
			it.err = storageErr("read chunk", err)
		}
		return false
	}
	payload, err := it.store.decompress(raw)
	if err != nil {
		it.err = storageErr("decompress chunk", err)
		return false
	}
	it.cur = models.Chunk{BlobID: it.blobID, Sequence: seq, Payload: payload}
	return true
}

func (it *fileIterator) Chunk() models.Chunk { return it.cur }

func (it *fileIterator) Err() error { return it.err }

func (it *fileIterator) Close() error {
	it.closed = true
	it.cur = models.Chunk{}
	return nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, models.ErrStorageFailure, err)
}

var _ ChunkStore = (*LocalFS)(nil)
