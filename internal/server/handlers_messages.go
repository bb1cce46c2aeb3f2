package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"chatvault/internal/api"
	"chatvault/internal/models"
)

func (s *Server) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	var req api.MessageCreateRequest
	if !s.decodeJSONReq(w, r, &req) {
		return
	}

	msg, err := messageFromRequest(req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	stored, err := s.messages.Append(r.Context(), msg)
	if err != nil {
		s.writeServiceError(w, r, classifyServiceError(err, ErrCodeMessageNotFound))
		return
	}

	s.writeJSON(w, http.StatusCreated, stored)
}

// messageFromRequest decodes the content variant selected by message_type.
func messageFromRequest(req api.MessageCreateRequest) (models.Message, error) {
	kind, err := models.ParseMessageType(req.MessageType)
	if err != nil {
		return models.Message{}, badRequestCode(err, ErrCodeInvalidType)
	}
	if len(req.Content) == 0 || string(req.Content) == "null" {
		return models.Message{}, badRequestCode(fmt.Errorf("content is required"), ErrCodeMissingRequired)
	}

	switch kind {
	case models.MessageTypeFile:
		var ref api.FileRef
		if err := json.Unmarshal(req.Content, &ref); err != nil {
			return models.Message{}, badRequestCode(fmt.Errorf("file content must be an object with blob_id"), ErrCodeInvalidJSON)
		}
		return models.NewFileMessage(req.Author, models.FileContent{BlobID: ref.BlobID}), nil
	default:
		var text string
		if err := json.Unmarshal(req.Content, &text); err != nil {
			return models.Message{}, badRequestCode(fmt.Errorf("text content must be a string"), ErrCodeInvalidJSON)
		}
		return models.NewTextMessage(req.Author, text), nil
	}
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := s.messages.List(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}
	s.writeJSON(w, http.StatusOK, messages)
}

func (s *Server) handleRetainMessages(w http.ResponseWriter, r *http.Request) {
	var req api.RetainRequest
	if !s.decodeJSONReq(w, r, &req) {
		return
	}
	if req.RetainedIDs == nil {
		s.writeServiceError(w, r, badRequestCode(fmt.Errorf("retained_ids is required"), ErrCodeMissingRequired))
		return
	}

	result, err := s.retention.Retain(r.Context(), req.RetainedIDs)
	if err != nil {
		s.writeServiceError(w, r, classifyServiceError(err, ErrCodeMessageNotFound))
		return
	}

	s.writeJSON(w, http.StatusOK, api.RetainResponse{
		DeletedMessageIDs: result.DeletedMessageIDs,
		DeletedBlobIDs:    result.DeletedBlobIDs,
		FailedBlobIDs:     result.FailedBlobIDs,
	})
}
