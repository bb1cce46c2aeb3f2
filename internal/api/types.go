package api

import (
	"encoding/json"

	"chatvault/internal/models"
)

// ErrorResponse is the structured JSON error body.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	ErrorCode int    `json:"error_code,omitempty"`
}

// InfoResponse is the response from GET /v1/info.
type InfoResponse struct {
	SchemaVersion int            `json:"schema_version"`
	TotalMessages int            `json:"total_messages"`
	MessageCounts map[string]int `json:"message_counts"`
	SavedMessages int            `json:"saved_messages"`
	Blobs         int            `json:"blobs"`
	BlobBytes     int64          `json:"blob_bytes"`
	Chunks        int            `json:"chunks"`
	Users         int            `json:"users"`
	Subscribers   int            `json:"subscribers"`
	ChunkBackend  string         `json:"chunk_backend"`
}

// FileUploadResponse is returned by POST /v1/files.
type FileUploadResponse struct {
	BlobID      string `json:"blob_id"`
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
	ChunkCount  int    `json:"chunk_count"`
}

// FileResponse is the inline download shape of GET /v1/files/{id}.
// Data is base64 on the wire.
type FileResponse struct {
	BlobID      string `json:"blob_id"`
	ContentType string `json:"content_type"`
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	Data        []byte `json:"data"`
}

// MessageCreateRequest is the payload of POST /v1/messages. Content is a JSON
// string for text messages and a FileRef object for file messages.
type MessageCreateRequest struct {
	Author      string          `json:"author"`
	MessageType string          `json:"message_type,omitempty"`
	Content     json.RawMessage `json:"content"`
}

// FileRef points a file message at an uploaded blob.
type FileRef struct {
	BlobID string `json:"blob_id"`
}

// NewTextMessageRequest builds a text message payload.
func NewTextMessageRequest(author, text string) (MessageCreateRequest, error) {
	content, err := json.Marshal(text)
	if err != nil {
		return MessageCreateRequest{}, err
	}
	return MessageCreateRequest{Author: author, MessageType: string(models.MessageTypeText), Content: content}, nil
}

// NewFileMessageRequest builds a file message payload.
func NewFileMessageRequest(author, blobID string) (MessageCreateRequest, error) {
	content, err := json.Marshal(FileRef{BlobID: blobID})
	if err != nil {
		return MessageCreateRequest{}, err
	}
	return MessageCreateRequest{Author: author, MessageType: string(models.MessageTypeFile), Content: content}, nil
}

// RetainRequest keeps the listed messages and deletes every other one.
type RetainRequest struct {
	RetainedIDs []string `json:"retained_ids"`
}

// RetainResponse reports what a retention pass removed.
type RetainResponse struct {
	DeletedMessageIDs []string `json:"deleted_message_ids"`
	DeletedBlobIDs    []string `json:"deleted_blob_ids"`
	FailedBlobIDs     []string `json:"failed_blob_ids,omitempty"`
}

// SaveMessageRequest copies a log message into the saved set.
type SaveMessageRequest struct {
	MessageID string `json:"message_id"`
}

// SavedDeleteResponse is returned by DELETE /v1/saved/{original_id}.
type SavedDeleteResponse struct {
	Deleted int `json:"deleted"`
}

// LoginRequest is the credential check payload.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse reports a successful credential check.
type LoginResponse struct {
	Success bool `json:"success"`
}

// NotifyRequest asks the server to dispatch a notification.
type NotifyRequest struct {
	FromUser string `json:"from_user"`
	Text     string `json:"text,omitempty"`
}

// NotifyResponse reports whether the notification was dispatched.
type NotifyResponse struct {
	Sent       bool     `json:"sent"`
	Recipients []string `json:"recipients"`
}

// OrphanSweepResponse is returned by POST /v1/admin/gc-orphans.
type OrphanSweepResponse struct {
	BlobIDs []string `json:"blob_ids"`
	Count   int      `json:"count"`
	DryRun  bool     `json:"dry_run"`
	Failed  []string `json:"failed,omitempty"`
}
