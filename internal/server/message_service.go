package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"chatvault/internal/broker"
	"chatvault/internal/metrics"
	"chatvault/internal/models"
	"chatvault/internal/store"
)

// MessageService appends to the log and announces what it appended.
type MessageService struct {
	log       store.MessageLog
	blobs     store.BlobIndex
	publisher broker.Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewMessageService wires a message service. publisher may be nil.
func NewMessageService(log store.MessageLog, blobs store.BlobIndex, publisher broker.Publisher, logger *slog.Logger, m *metrics.Metrics) *MessageService {
	if logger == nil {
		logger = slog.Default()
	}
	return &MessageService{
		log:       log,
		blobs:     blobs,
		publisher: publisher,
		logger:    logger.With("component", "messages"),
		metrics:   m,
	}
}

// Append persists msg and then publishes it. A publish failure is logged and
// does not fail the append; subscribers recover by backfilling.
func (s *MessageService) Append(ctx context.Context, msg models.Message) (*models.Message, error) {
	msg.Author = strings.TrimSpace(msg.Author)
	msg.ID = ""
	if msg.Type == models.MessageTypeFile {
		if err := s.fillFile(ctx, &msg); err != nil {
			return nil, err
		}
	}
	if err := msg.Validate(); err != nil {
		return nil, badRequest(err)
	}

	stored, err := s.log.AppendMessage(ctx, &msg)
	if err != nil {
		return nil, classifyServiceError(err, ErrCodeMessageNotFound)
	}
	s.metrics.RecordMessageAppended(string(stored.Type))

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, broker.MessageAppended(*stored)); err != nil {
			s.metrics.RecordPublishFailure()
			s.logger.Warn("publish appended message", "message_id", stored.ID, "error", err)
		}
	}
	return stored, nil
}

// fillFile replaces client-supplied file details with the blob's metadata.
func (s *MessageService) fillFile(ctx context.Context, msg *models.Message) error {
	if msg.File == nil || strings.TrimSpace(msg.File.BlobID) == "" {
		return badRequestCode(fmt.Errorf("file message requires a blob_id"), ErrCodeMissingRequired)
	}
	blobID := strings.TrimSpace(msg.File.BlobID)
	if !validateBlobID(blobID) {
		return badRequestCode(fmt.Errorf("invalid blob id"), ErrCodeInvalidID)
	}
	blob, err := s.blobs.GetMetadata(ctx, blobID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return notFoundCode(fmt.Errorf("blob %s not found", blobID), ErrCodeBlobNotFound)
		}
		return classifyServiceError(err, ErrCodeBlobNotFound)
	}
	msg.File = &models.FileContent{
		BlobID:      blob.ID,
		ContentType: blob.ContentType,
		Filename:    blob.Filename,
		Size:        blob.TotalSize,
	}
	return nil
}

// List returns the whole log in canonical order.
func (s *MessageService) List(ctx context.Context) ([]models.Message, error) {
	messages, err := s.log.ListMessagesOrdered(ctx)
	if err != nil {
		return nil, classifyServiceError(err, ErrCodeMessageNotFound)
	}
	return messages, nil
}

// Get returns one message.
func (s *MessageService) Get(ctx context.Context, id string) (*models.Message, error) {
	msg, err := s.log.GetMessage(ctx, id)
	if err != nil {
		return nil, classifyServiceError(err, ErrCodeMessageNotFound)
	}
	return msg, nil
}
