package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"chatvault/internal/blobcache"
	"chatvault/internal/chunkstore"
	"chatvault/internal/metrics"
	"chatvault/internal/models"
	"chatvault/internal/store"
)

const (
	DefaultChunkSize      = 1 << 20
	defaultCleanupTimeout = 30 * time.Second

	fallbackContentType = "application/octet-stream"
	audioContentType    = "audio/mpeg"
)

// ObjectOptions configures an ObjectService.
type ObjectOptions struct {
	ChunkSize      int
	MaxUploadBytes int64
	CleanupTimeout time.Duration
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
}

// ObjectService turns upload streams into chunked blobs and reassembles them
// for download through a read-through cache.
type ObjectService struct {
	chunks chunkstore.ChunkStore
	index  store.BlobIndex
	cache  *blobcache.Cache
	group  singleflight.Group

	chunkSize      int
	maxUploadBytes int64
	cleanupTimeout time.Duration
	logger         *slog.Logger
	metrics        *metrics.Metrics
	newID          func() (string, error)

	// inflight holds ids of uploads that have chunks but no metadata yet, so
	// the orphan sweep leaves them alone.
	inflight sync.Map
}

// UploadInput describes one incoming file.
type UploadInput struct {
	Filename    string
	ContentType string
	Kind        models.BlobKind
	Body        io.Reader
}

// OrphanSweepResult reports blobs whose chunks have no metadata.
type OrphanSweepResult struct {
	BlobIDs []string
	Failed  []string
	DryRun  bool
}

// NewObjectService wires an object service. cache may be nil.
func NewObjectService(chunks chunkstore.ChunkStore, index store.BlobIndex, cache *blobcache.Cache, opts ObjectOptions) *ObjectService {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.CleanupTimeout <= 0 {
		opts.CleanupTimeout = defaultCleanupTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ObjectService{
		chunks:         chunks,
		index:          index,
		cache:          cache,
		chunkSize:      opts.ChunkSize,
		maxUploadBytes: opts.MaxUploadBytes,
		cleanupTimeout: opts.CleanupTimeout,
		logger:         logger.With("component", "objects"),
		metrics:        opts.Metrics,
		newID:          store.GenerateBlobID,
	}
}

// Upload splits in.Body into fixed-size chunks, writes them in order and then
// records the blob metadata. Until metadata exists the blob is invisible; on
// any failure before that the partial chunks are removed best-effort.
func (s *ObjectService) Upload(ctx context.Context, in UploadInput) (*models.Blob, error) {
	if in.Body == nil {
		return nil, badRequestCode(fmt.Errorf("file is required"), ErrCodeMissingRequired)
	}
	kind := in.Kind
	if kind == "" {
		kind = models.BlobKindGeneral
	}

	id, err := s.newID()
	if err != nil {
		return nil, internalError(fmt.Errorf("generate blob id: %w", err))
	}
	s.inflight.Store(id, struct{}{})
	defer s.inflight.Delete(id)

	blob, err := s.receive(ctx, id, in, kind)
	if err != nil {
		s.discardPartial(ctx, id, err)
		s.metrics.RecordUpload(false, 0)
		return nil, err
	}
	s.metrics.RecordUpload(true, blob.TotalSize)
	s.logger.Debug("blob committed", "blob_id", id, "size", blob.TotalSize, "chunks", blob.ChunkCount)
	return blob, nil
}

func (s *ObjectService) receive(ctx context.Context, id string, in UploadInput, kind models.BlobKind) (*models.Blob, error) {
	buf := make([]byte, s.chunkSize)
	var (
		total   int64
		seq     int
		sniffed string
	)
	for {
		n, readErr := io.ReadFull(in.Body, buf)
		if n > 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			total += int64(n)
			if s.maxUploadBytes > 0 && total > s.maxUploadBytes {
				return nil, tooLarge(fmt.Errorf("upload exceeds %d bytes", s.maxUploadBytes))
			}
			if seq == 0 {
				sniffed = http.DetectContentType(buf[:n])
			}
			if err := s.chunks.WriteChunk(ctx, id, seq, buf[:n]); err != nil {
				return nil, fmt.Errorf("write chunk %d: %w", seq, err)
			}
			seq++
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			if errors.Is(readErr, context.Canceled) || errors.Is(readErr, context.DeadlineExceeded) {
				return nil, readErr
			}
			var maxBytesErr *http.MaxBytesError
			if errors.As(readErr, &maxBytesErr) {
				return nil, tooLarge(fmt.Errorf("upload exceeds %d bytes", maxBytesErr.Limit))
			}
			return nil, badRequest(fmt.Errorf("read upload: %w", readErr))
		}
	}
	if total == 0 {
		return nil, badRequestCode(fmt.Errorf("file is empty"), ErrCodeEmptyUpload)
	}

	blob := &models.Blob{
		ID:          id,
		Filename:    strings.TrimSpace(in.Filename),
		ContentType: resolveContentType(in.ContentType, sniffed, kind),
		Kind:        kind,
		TotalSize:   total,
		ChunkCount:  seq,
		CreatedAt:   time.Now().UTC(),
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.index.CreateMetadata(ctx, blob); err != nil {
		return nil, fmt.Errorf("finalize blob: %w", err)
	}
	return blob, nil
}

// discardPartial runs even when ctx is already cancelled.
func (s *ObjectService) discardPartial(ctx context.Context, id string, cause error) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cleanupTimeout)
	defer cancel()
	if err := s.chunks.DeleteChunks(cleanupCtx, id); err != nil {
		s.metrics.RecordCleanupFailure()
		s.logger.Error("discard partial upload", "blob_id", id, "cause", cause, "error", err)
		return
	}
	s.logger.Debug("upload failed", "blob_id", id, "error", cause)
}

// Stat returns blob metadata.
func (s *ObjectService) Stat(ctx context.Context, id string) (*models.Blob, error) {
	return s.index.GetMetadata(ctx, id)
}

// Download returns the assembled blob. The returned Data is shared with the
// cache and must not be modified.
func (s *ObjectService) Download(ctx context.Context, id string) (blobcache.Entry, error) {
	if entry, ok := s.cache.Get(id); ok {
		s.metrics.RecordDownload(true, int64(len(entry.Data)))
		return entry, nil
	}

	for {
		ch := s.group.DoChan(id, func() (any, error) {
			return s.load(ctx, id)
		})
		select {
		case <-ctx.Done():
			return blobcache.Entry{}, ctx.Err()
		case res := <-ch:
			if res.Err != nil {
				// The flight belonged to a caller that gave up; ours is still live.
				if isContextErr(res.Err) && ctx.Err() == nil {
					continue
				}
				return blobcache.Entry{}, res.Err
			}
			entry := res.Val.(blobcache.Entry)
			s.metrics.RecordDownload(false, int64(len(entry.Data)))
			return entry, nil
		}
	}
}

func (s *ObjectService) load(ctx context.Context, id string) (blobcache.Entry, error) {
	epoch := s.cache.Epoch(id)

	blob, err := s.index.GetMetadata(ctx, id)
	if err != nil {
		return blobcache.Entry{}, err
	}

	data, err := s.assemble(ctx, blob)
	if err != nil {
		if errors.Is(err, models.ErrCorruptedBlob) {
			if gone, checkErr := s.deletedSince(ctx, id, epoch); checkErr == nil && gone {
				return blobcache.Entry{}, fmt.Errorf("blob %s: %w", id, models.ErrNotFound)
			}
			s.metrics.RecordCorruptedBlob()
			s.logger.Error("corrupted blob", "blob_id", id, "error", err)
		}
		return blobcache.Entry{}, err
	}

	entry := blobcache.Entry{Blob: *blob, Data: data}
	if s.cache.PutIfEpoch(id, entry, epoch) {
		s.metrics.SetCacheEntries(s.cache.Len())
	}
	return entry, nil
}

// assemble concatenates the chunks of blob and checks them against its
// metadata.
func (s *ObjectService) assemble(ctx context.Context, blob *models.Blob) ([]byte, error) {
	it, err := s.chunks.ReadChunksOrdered(ctx, blob.ID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("blob %s has metadata but no chunks: %w", blob.ID, models.ErrCorruptedBlob)
		}
		return nil, err
	}
	defer it.Close()

	capacity := blob.TotalSize
	if capacity < 0 || (s.maxUploadBytes > 0 && capacity > s.maxUploadBytes) {
		capacity = 0
	}
	data := make([]byte, 0, capacity)
	expected := 0
	for it.Next() {
		chunk := it.Chunk()
		if chunk.Sequence != expected {
			return nil, fmt.Errorf("blob %s: expected chunk %d, got %d: %w", blob.ID, expected, chunk.Sequence, models.ErrCorruptedBlob)
		}
		if int64(len(data))+int64(len(chunk.Payload)) > blob.TotalSize {
			return nil, fmt.Errorf("blob %s: chunks exceed %d bytes: %w", blob.ID, blob.TotalSize, models.ErrCorruptedBlob)
		}
		data = append(data, chunk.Payload...)
		expected++
	}
	if err := it.Err(); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("blob %s: chunk vanished mid-read: %w", blob.ID, models.ErrCorruptedBlob)
		}
		return nil, err
	}
	if expected != blob.ChunkCount || int64(len(data)) != blob.TotalSize {
		return nil, fmt.Errorf("blob %s: got %d chunks/%d bytes, metadata says %d/%d: %w",
			blob.ID, expected, len(data), blob.ChunkCount, blob.TotalSize, models.ErrCorruptedBlob)
	}
	return data, nil
}

// deletedSince tells a concurrent delete apart from real corruption.
func (s *ObjectService) deletedSince(ctx context.Context, id string, epoch uint64) (bool, error) {
	if s.cache != nil && s.cache.Epoch(id) != epoch {
		return true, nil
	}
	exists, err := s.index.BlobExists(ctx, id)
	if err != nil {
		return false, err
	}
	return !exists, nil
}

// Delete removes a blob. The cache entry is invalidated under the key's
// exclusive lock before storage is touched, and the lock is held until the
// chunks are gone so no reader can repopulate it in between.
func (s *ObjectService) Delete(ctx context.Context, id string) error {
	unlock := s.cache.LockForDelete(id)
	defer unlock()

	if err := s.index.DeleteMetadata(ctx, id); err != nil {
		return fmt.Errorf("delete blob metadata %s: %w", id, err)
	}
	if err := s.chunks.DeleteChunks(ctx, id); err != nil {
		return fmt.Errorf("delete blob chunks %s: %w", id, err)
	}
	s.metrics.RecordBlobsDeleted(1)
	s.metrics.SetCacheEntries(s.cache.Len())
	return nil
}

// SweepOrphans finds blob ids that have chunks but no metadata, left behind
// by uploads whose cleanup failed. With apply it deletes their chunks.
func (s *ObjectService) SweepOrphans(ctx context.Context, apply bool) (OrphanSweepResult, error) {
	result := OrphanSweepResult{DryRun: !apply, BlobIDs: []string{}}

	ids, err := s.chunks.ListChunkBlobIDs(ctx)
	if err != nil {
		return result, err
	}
	for _, id := range ids {
		if _, busy := s.inflight.Load(id); busy {
			continue
		}
		exists, err := s.index.BlobExists(ctx, id)
		if err != nil {
			return result, err
		}
		if exists {
			continue
		}
		result.BlobIDs = append(result.BlobIDs, id)
		if !apply {
			continue
		}
		if err := s.deleteOrphan(ctx, id); err != nil {
			s.logger.Warn("delete orphan chunks", "blob_id", id, "error", err)
			result.Failed = append(result.Failed, id)
		}
	}
	s.metrics.RecordOrphans(len(result.BlobIDs))
	return result, nil
}

func (s *ObjectService) deleteOrphan(ctx context.Context, id string) error {
	unlock := s.cache.LockForDelete(id)
	defer unlock()
	return s.chunks.DeleteChunks(ctx, id)
}

func resolveContentType(declared, sniffed string, kind models.BlobKind) string {
	// Multipart writers default parts to application/octet-stream, which
	// says nothing about the payload.
	if mediaType, ok := normalizeMediaType(declared); ok && mediaType != fallbackContentType {
		return mediaType
	}
	mediaType, ok := normalizeMediaType(sniffed)
	if !ok {
		mediaType = fallbackContentType
	}
	if kind == models.BlobKindAudio && isGenericContentType(mediaType) {
		return audioContentType
	}
	return mediaType
}

func normalizeMediaType(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	parsed, params, err := mime.ParseMediaType(raw)
	if err != nil || !strings.Contains(parsed, "/") {
		return "", false
	}
	formatted := mime.FormatMediaType(strings.ToLower(parsed), params)
	if formatted == "" {
		return "", false
	}
	return formatted, true
}

func isGenericContentType(mediaType string) bool {
	base, _, _ := strings.Cut(mediaType, ";")
	switch strings.TrimSpace(base) {
	case fallbackContentType, "text/plain":
		return true
	default:
		return false
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
