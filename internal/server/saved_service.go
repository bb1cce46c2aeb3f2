package server

import (
	"context"
	"fmt"
	"strings"
	"time"

	"chatvault/internal/models"
	"chatvault/internal/store"
)

// SavedService copies messages into the saved collection.
type SavedService struct {
	log   store.MessageLog
	saved store.SavedMessageStore
}

func NewSavedService(log store.MessageLog, saved store.SavedMessageStore) *SavedService {
	return &SavedService{log: log, saved: saved}
}

// Save copies the message with originalID. Saving twice keeps two copies.
func (s *SavedService) Save(ctx context.Context, originalID string) (*models.SavedMessage, error) {
	originalID = strings.TrimSpace(originalID)
	if originalID == "" {
		return nil, badRequestCode(fmt.Errorf("message_id is required"), ErrCodeMissingRequired)
	}
	if !validateMessageID(originalID) {
		return nil, badRequestCode(fmt.Errorf("invalid message id"), ErrCodeInvalidID)
	}
	msg, err := s.log.GetMessage(ctx, originalID)
	if err != nil {
		return nil, classifyServiceError(err, ErrCodeMessageNotFound)
	}
	copied := msg.Saved("", time.Now().UTC())
	stored, err := s.saved.SaveMessage(ctx, &copied)
	if err != nil {
		return nil, classifyServiceError(err, ErrCodeSavedNotFound)
	}
	return stored, nil
}

// List returns saved copies, newest first.
func (s *SavedService) List(ctx context.Context) ([]models.SavedMessage, error) {
	saved, err := s.saved.ListSavedMessages(ctx)
	if err != nil {
		return nil, classifyServiceError(err, ErrCodeSavedNotFound)
	}
	return saved, nil
}

// Delete removes every saved copy of originalID.
func (s *SavedService) Delete(ctx context.Context, originalID string) (int, error) {
	if !validateMessageID(originalID) {
		return 0, badRequestCode(fmt.Errorf("invalid message id"), ErrCodeInvalidID)
	}
	count, err := s.saved.DeleteSavedByOriginal(ctx, originalID)
	if err != nil {
		return 0, classifyServiceError(err, ErrCodeSavedNotFound)
	}
	if count == 0 {
		return 0, notFoundCode(fmt.Errorf("no saved copy of message %s", originalID), ErrCodeSavedNotFound)
	}
	return count, nil
}
