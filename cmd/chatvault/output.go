package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"chatvault/internal/format"
	"chatvault/internal/models"
)

var (
	outputFormatter format.Formatter = format.JSONFormatter{}
	stdout          io.Writer        = os.Stdout
)

func writeStructured(payload any) error {
	return outputFormatter.Write(stdout, payload)
}

func writePlain(format string, args ...any) error {
	_, err := fmt.Fprintf(stdout, format, args...)
	return err
}

func writeMessageList(messages []models.Message) error {
	for _, msg := range messages {
		if err := writePlain("%s\n", formatMessageLine(msg)); err != nil {
			return err
		}
	}
	return nil
}

func writeSavedList(saved []models.SavedMessage) error {
	for _, msg := range saved {
		line := formatMessageLine(models.Message{
			ID:        msg.OriginalMessageID,
			Author:    msg.Author,
			Type:      msg.Type,
			Text:      msg.Text,
			File:      msg.File,
			Timestamp: msg.Timestamp,
		})
		if err := writePlain("%s (saved %s)\n", line, humanize.Time(msg.SavedAt)); err != nil {
			return err
		}
	}
	return nil
}

func formatMessageLine(msg models.Message) string {
	body := msg.Text
	if msg.Type == models.MessageTypeFile && msg.File != nil {
		body = fmt.Sprintf("[file] %s (%s, %s) %s", msg.File.Filename, msg.File.ContentType, formatBytes(msg.File.Size), msg.File.BlobID)
	}
	return fmt.Sprintf("%s %s <%s> %s", formatTime(msg.Timestamp), msg.ID, msg.Author, body)
}

func formatBytes(size int64) string {
	if size < 0 {
		size = 0
	}
	return humanize.IBytes(uint64(size))
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
