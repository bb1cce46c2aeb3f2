package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"chatvault/internal/models"
)

func TestSavedMessagesLifecycle(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

	text := mustAppend(t, st, models.NewTextMessage("ana", "keep me"))
	file := mustAppend(t, st, models.NewFileMessage("ben", models.FileContent{BlobID: "bl-saved", Filename: "a.pdf", Size: 9}))

	first := text.Saved("", base)
	if _, err := st.SaveMessage(ctx, &first); err != nil {
		t.Fatalf("save text: %v", err)
	}
	second := file.Saved("", base.Add(time.Minute))
	savedFile, err := st.SaveMessage(ctx, &second)
	if err != nil {
		t.Fatalf("save file: %v", err)
	}
	if savedFile.ID == "" || savedFile.File == nil || savedFile.File.BlobID != "bl-saved" {
		t.Fatalf("unexpected saved file: %#v", savedFile)
	}

	list, err := st.ListSavedMessages(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 saved, got %d", len(list))
	}
	if list[0].OriginalMessageID != file.ID || list[1].OriginalMessageID != text.ID {
		t.Fatalf("expected newest first, got %#v", list)
	}
	if list[1].Text != "keep me" || !list[1].SavedAt.Equal(base) {
		t.Fatalf("unexpected saved text: %#v", list[1])
	}

	blobIDs, err := st.ListSavedBlobIDs(ctx)
	if err != nil {
		t.Fatalf("list saved blob ids: %v", err)
	}
	if len(blobIDs) != 1 || blobIDs[0] != "bl-saved" {
		t.Fatalf("unexpected saved blob ids: %v", blobIDs)
	}

	// Saved copies outlive the original message.
	if _, err := st.DeleteMessagesExcept(ctx, nil); err != nil {
		t.Fatalf("clear log: %v", err)
	}
	list, err = st.ListSavedMessages(ctx)
	if err != nil {
		t.Fatalf("list after clear: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected saved copies to survive, got %d", len(list))
	}

	removed, err := st.DeleteSavedByOriginal(ctx, text.ID)
	if err != nil {
		t.Fatalf("delete saved: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	removed, err = st.DeleteSavedByOriginal(ctx, text.ID)
	if err != nil {
		t.Fatalf("delete saved again: %v", err)
	}
	if removed != 0 {
		t.Fatalf("expected 0 removed, got %d", removed)
	}
}

func TestSaveMessageRequiresOriginal(t *testing.T) {
	st := testStore(t)
	if _, err := st.SaveMessage(context.Background(), &models.SavedMessage{Author: "ana"}); !errors.Is(err, models.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if _, err := st.SaveMessage(context.Background(), nil); !errors.Is(err, models.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}
