package chunkstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"chatvault/internal/models"
)

const (
	badgerChunkPrefix = "chunk/"
	seqKeyLen         = 4
)

// Badger keeps chunks in an embedded BadgerDB under keys of the form
// chunk/<blob id>/<big-endian uint32 sequence>, so a prefix scan yields
// chunks in ascending sequence order.
type Badger struct {
	db *badger.DB
}

// NewBadger opens (or creates) a Badger chunk store in dir.
func NewBadger(dir string) (*Badger, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("badger chunk store dir is required")
	}
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	opts.SyncWrites = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Badger{db: db}, nil
}

// Close releases the database.
func (b *Badger) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *Badger) WriteChunk(ctx context.Context, blobID string, seq int, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if seq < 0 || uint64(seq) > uint64(^uint32(0)) {
		return fmt.Errorf("%w: sequence out of range", models.ErrInvalidArgument)
	}
	prefix, err := blobPrefix(blobID)
	if err != nil {
		return err
	}
	key := chunkKey(prefix, seq)
	value := append([]byte(nil), payload...)

	err = b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return models.ErrConflict
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, value)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, models.ErrConflict), errors.Is(err, badger.ErrConflict):
		return fmt.Errorf("chunk %s/%d: %w", blobID, seq, models.ErrConflict)
	default:
		return storageErr("write chunk", err)
	}
}

// ReadChunksOrdered scans keys up front and fetches each payload on demand.
func (b *Badger) ReadChunksOrdered(ctx context.Context, blobID string) (ChunkIterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix, err := blobPrefix(blobID)
	if err != nil {
		return nil, err
	}

	var keys [][]byte
	err = b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return nil, storageErr("scan chunks", err)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("chunks for %s: %w", blobID, models.ErrNotFound)
	}
	return &badgerIterator{ctx: ctx, db: b.db, blobID: blobID, keys: keys, pos: -1}, nil
}

func (b *Badger) DeleteChunks(ctx context.Context, blobID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	prefix, err := blobPrefix(blobID)
	if err != nil {
		return err
	}

	var keys [][]byte
	err = b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return storageErr("scan chunks", err)
	}
	if len(keys) == 0 {
		return nil
	}

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return storageErr("delete chunk", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return storageErr("delete chunks", err)
	}
	return nil
}

func (b *Badger) ListChunkBlobIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := []byte(badgerChunkPrefix)
	var ids []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().Key()
			rest := key[len(prefix):]
			if len(rest) <= seqKeyLen+1 {
				continue
			}
			id := string(rest[:len(rest)-seqKeyLen-1])
			if len(ids) == 0 || ids[len(ids)-1] != id {
				ids = append(ids, id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, storageErr("list chunk blobs", err)
	}
	return ids, nil
}

func blobPrefix(blobID string) ([]byte, error) {
	blobID = strings.TrimSpace(blobID)
	if blobID == "" {
		return nil, fmt.Errorf("%w: blob id is required", models.ErrInvalidArgument)
	}
	if !blobDirPattern.MatchString(blobID) {
		return nil, fmt.Errorf("%w: invalid blob id", models.ErrInvalidArgument)
	}
	return []byte(badgerChunkPrefix + blobID + "/"), nil
}

func chunkKey(prefix []byte, seq int) []byte {
	key := make([]byte, len(prefix)+seqKeyLen)
	copy(key, prefix)
	binary.BigEndian.PutUint32(key[len(prefix):], uint32(seq))
	return key
}

type badgerIterator struct {
	ctx    context.Context
	db     *badger.DB
	blobID string
	keys   [][]byte
	pos    int
	cur    models.Chunk
	err    error
	closed bool
}

func (it *badgerIterator) Next() bool {
	if it.closed || it.err != nil || it.pos+1 >= len(it.keys) {
		return false
	}
	if err := it.ctx.Err(); err != nil {
		it.err = err
		return false
	}
	it.pos++
	key := it.keys[it.pos]

	var payload []byte
	err := it.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		payload, err = item.ValueCopy(nil)
		return err
	})
	seq := int(binary.BigEndian.Uint32(key[len(key)-seqKeyLen:]))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			it.err = fmt.Errorf("chunk %s/%d: %w", it.blobID, seq, models.ErrNotFound)
		} else {
			it.err = storageErr("read chunk", err)
		}
		return false
	}
	it.cur = models.Chunk{BlobID: it.blobID, Sequence: seq, Payload: payload}
	return true
}

func (it *badgerIterator) Chunk() models.Chunk { return it.cur }

func (it *badgerIterator) Err() error { return it.err }

func (it *badgerIterator) Close() error {
	it.closed = true
	it.cur = models.Chunk{}
	it.keys = nil
	return nil
}

var _ ChunkStore = (*Badger)(nil)
