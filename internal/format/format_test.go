package format

import (
	"bytes"
	"strings"
	"testing"
)

type sample struct {
	BlobID string   `json:"blob_id"`
	Size   int64    `json:"size"`
	Tags   []string `json:"tags,omitempty"`
}

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	if err := (JSONFormatter{}).Write(&buf, sample{BlobID: "bl-1", Size: 3}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := buf.String(); got != "{\"blob_id\":\"bl-1\",\"size\":3}\n" {
		t.Fatalf("unexpected json %q", got)
	}
}

func TestYAMLFormatterUsesJSONFieldNames(t *testing.T) {
	var buf bytes.Buffer
	if err := (YAMLFormatter{}).Write(&buf, sample{BlobID: "bl-1", Size: 3, Tags: []string{"a"}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"blob_id: bl-1\n", "size: 3\n", "tags:\n  - a\n"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in %q", want, out)
		}
	}
}
