package server

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"chatvault/internal/metrics"
	"chatvault/internal/store"
)

const (
	retentionDeleteConcurrency = 4

	// Retained ids become one bound parameter each, and SQLite caps a
	// statement at 32766.
	maxRetainedIDs = 10000
)

// blobReferences lists blob ids still in use.
type blobReferences interface {
	ListMessageBlobIDs(ctx context.Context) ([]string, error)
	ListSavedBlobIDs(ctx context.Context) ([]string, error)
}

// RetentionResult reports what a retention pass removed.
type RetentionResult struct {
	DeletedMessageIDs []string
	DeletedBlobIDs    []string
	FailedBlobIDs     []string
}

// RetentionService deletes unretained messages and then the blobs only they
// referenced. The two steps are not transactional: a blob whose delete fails
// is reported and left for the orphan sweep or a later pass.
type RetentionService struct {
	log     store.MessageLog
	refs    blobReferences
	objects *ObjectService
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewRetentionService wires a retention service.
func NewRetentionService(log store.MessageLog, refs blobReferences, objects *ObjectService, logger *slog.Logger, m *metrics.Metrics) *RetentionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetentionService{
		log:     log,
		refs:    refs,
		objects: objects,
		logger:  logger.With("component", "retention"),
		metrics: m,
	}
}

// Retain keeps the messages in retainedIDs and deletes the rest.
func (s *RetentionService) Retain(ctx context.Context, retainedIDs []string) (RetentionResult, error) {
	result := RetentionResult{DeletedMessageIDs: []string{}, DeletedBlobIDs: []string{}, FailedBlobIDs: []string{}}
	if len(retainedIDs) > maxRetainedIDs {
		return result, badRequestCode(fmt.Errorf("at most %d retained ids per request", maxRetainedIDs), ErrCodeInvalidArgument)
	}
	for _, id := range retainedIDs {
		if !validateMessageID(id) {
			return result, badRequestCode(fmt.Errorf("invalid message id %q", id), ErrCodeInvalidID)
		}
	}

	deleted, err := s.log.DeleteMessagesExcept(ctx, retainedIDs)
	if err != nil {
		return result, classifyServiceError(err, ErrCodeMessageNotFound)
	}
	candidates := map[string]struct{}{}
	for _, msg := range deleted {
		result.DeletedMessageIDs = append(result.DeletedMessageIDs, msg.ID)
		if id := msg.BlobID(); id != "" {
			candidates[id] = struct{}{}
		}
	}
	s.metrics.RecordMessagesDeleted(len(deleted))
	if len(candidates) == 0 {
		return result, nil
	}

	referenced, err := s.referencedBlobs(ctx)
	if err != nil {
		return result, classifyServiceError(err, ErrCodeBlobNotFound)
	}
	orphaned := make([]string, 0, len(candidates))
	for id := range candidates {
		if _, ok := referenced[id]; !ok {
			orphaned = append(orphaned, id)
		}
	}
	sort.Strings(orphaned)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(retentionDeleteConcurrency)
	for _, id := range orphaned {
		g.Go(func() error {
			err := s.objects.Delete(gctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.logger.Warn("delete unreferenced blob", "blob_id", id, "error", err)
				result.FailedBlobIDs = append(result.FailedBlobIDs, id)
				return nil
			}
			result.DeletedBlobIDs = append(result.DeletedBlobIDs, id)
			return nil
		})
	}
	_ = g.Wait()
	sort.Strings(result.DeletedBlobIDs)
	sort.Strings(result.FailedBlobIDs)

	s.logger.Info("retention complete",
		"messages_deleted", len(result.DeletedMessageIDs),
		"blobs_deleted", len(result.DeletedBlobIDs),
		"blobs_failed", len(result.FailedBlobIDs))
	return result, nil
}

func (s *RetentionService) referencedBlobs(ctx context.Context) (map[string]struct{}, error) {
	referenced := map[string]struct{}{}
	fromMessages, err := s.refs.ListMessageBlobIDs(ctx)
	if err != nil {
		return nil, err
	}
	fromSaved, err := s.refs.ListSavedBlobIDs(ctx)
	if err != nil {
		return nil, err
	}
	for _, id := range fromMessages {
		referenced[id] = struct{}{}
	}
	for _, id := range fromSaved {
		referenced[id] = struct{}{}
	}
	return referenced, nil
}
