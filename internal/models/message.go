package models

import (
	"fmt"
	"strings"
	"time"
)

// MessageType discriminates the content variant of a message.
type MessageType string

const (
	MessageTypeText MessageType = "text"
	MessageTypeFile MessageType = "file"
)

// FileContent references a finalized blob from a file message.
type FileContent struct {
	BlobID      string `json:"blob_id"`
	ContentType string `json:"content_type"`
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
}

// Message is one entry of the chat log. Exactly one of Text (type text)
// or File (type file) is set; the variant is fixed at append time.
type Message struct {
	ID        string       `json:"id"`
	Author    string       `json:"author"`
	Type      MessageType  `json:"message_type"`
	Text      string       `json:"text,omitempty"`
	File      *FileContent `json:"file,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// SavedMessage is a persisted copy of a message. OriginalMessageID is a weak
// back-reference: neither side cascades deletes to the other.
type SavedMessage struct {
	ID                string       `json:"id"`
	OriginalMessageID string       `json:"original_message_id"`
	Author            string       `json:"author"`
	Type              MessageType  `json:"message_type"`
	Text              string       `json:"text,omitempty"`
	File              *FileContent `json:"file,omitempty"`
	Timestamp         time.Time    `json:"timestamp"`
	SavedAt           time.Time    `json:"saved_at"`
}

// NewTextMessage builds a text variant.
func NewTextMessage(author, text string) Message {
	return Message{Author: author, Type: MessageTypeText, Text: text}
}

// NewFileMessage builds a file variant.
func NewFileMessage(author string, file FileContent) Message {
	return Message{Author: author, Type: MessageTypeFile, File: &file}
}

// ParseMessageType normalizes a message_type value. Empty input means text.
func ParseMessageType(raw string) (MessageType, error) {
	value := MessageType(strings.ToLower(strings.TrimSpace(raw)))
	switch value {
	case "":
		return MessageTypeText, nil
	case MessageTypeText, MessageTypeFile:
		return value, nil
	default:
		return "", fmt.Errorf("invalid message_type: %s", value)
	}
}

// Validate checks the variant invariant.
func (m Message) Validate() error {
	if strings.TrimSpace(m.Author) == "" {
		return fmt.Errorf("author is required")
	}
	switch m.Type {
	case MessageTypeText:
		if m.File != nil {
			return fmt.Errorf("text message must not carry a file")
		}
		if strings.TrimSpace(m.Text) == "" {
			return fmt.Errorf("content is required")
		}
	case MessageTypeFile:
		if m.File == nil || strings.TrimSpace(m.File.BlobID) == "" {
			return fmt.Errorf("file message requires a blob_id")
		}
		if m.Text != "" {
			return fmt.Errorf("file message must not carry text")
		}
	default:
		return fmt.Errorf("invalid message_type: %s", m.Type)
	}
	return nil
}

// BlobID returns the referenced blob id for file messages, or "".
func (m Message) BlobID() string {
	if m.Type != MessageTypeFile || m.File == nil {
		return ""
	}
	return m.File.BlobID
}

// ContentKey renders the content half of the reconciliation identity.
// File messages are keyed by their blob id.
func (m Message) ContentKey() string {
	if m.Type == MessageTypeFile && m.File != nil {
		return "file:" + m.File.BlobID
	}
	return m.Text
}

// Saved returns a saved copy of m.
func (m Message) Saved(id string, savedAt time.Time) SavedMessage {
	var file *FileContent
	if m.File != nil {
		copied := *m.File
		file = &copied
	}
	return SavedMessage{
		ID:                id,
		OriginalMessageID: m.ID,
		Author:            m.Author,
		Type:              m.Type,
		Text:              m.Text,
		File:              file,
		Timestamp:         m.Timestamp,
		SavedAt:           savedAt,
	}
}
