package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"chatvault/internal/api"
	"chatvault/internal/broker"
	"chatvault/internal/config"
	"chatvault/internal/models"
	"chatvault/internal/server"
	"chatvault/internal/store"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newCLITestEnv(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("CHATVAULT_API_TOKEN", "")
	t.Setenv("CHATVAULT_ADMIN_TOKEN", "")
	t.Setenv(logLevelEnvKey, "")
	t.Setenv(autoStartEnvKey, "1")

	dbPath := filepath.Join(t.TempDir(), "chatvault.db")
	st, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := broker.New(broker.Options{Logger: logger})
	srv := server.New(server.Options{
		Store:    st,
		Broker:   b,
		Registry: prometheus.NewRegistry(),
		Logger:   logger,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(b.Close)

	prevOut := stdout
	t.Cleanup(func() { stdout = prevOut })

	cfg := config.Default()
	cfg.APIURL = ts.URL
	cfg.DBPath = dbPath
	return &cfg
}

func runCLI(t *testing.T, cfg *config.Config, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	prevOut, prevFormatter := stdout, outputFormatter
	stdout = &out
	defer func() {
		stdout = prevOut
		outputFormatter = prevFormatter
	}()

	root := newRootCmd(cfg)
	root.SetArgs(args)
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func mustRunCLI(t *testing.T, cfg *config.Config, stdin string, args ...string) string {
	t.Helper()
	out, err := runCLI(t, cfg, stdin, args...)
	if err != nil {
		t.Fatalf("chatvault %s: %v", strings.Join(args, " "), err)
	}
	return out
}

func listMessages(t *testing.T, cfg *config.Config) []models.Message {
	t.Helper()
	var messages []models.Message
	out := mustRunCLI(t, cfg, "", "log", "--json")
	if err := json.Unmarshal([]byte(out), &messages); err != nil {
		t.Fatalf("decode log output %q: %v", out, err)
	}
	return messages
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSendAndLog(t *testing.T) {
	cfg := newCLITestEnv(t)

	out := mustRunCLI(t, cfg, "", "send", "ana", "hello", "there")
	if !strings.Contains(out, "<ana> hello there") {
		t.Fatalf("unexpected send output %q", out)
	}
	mustRunCLI(t, cfg, "", "send", "bob", "second")

	messages := listMessages(t, cfg)
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].Text != "hello there" || messages[1].Author != "bob" {
		t.Fatalf("unexpected order: %+v", messages)
	}

	out = mustRunCLI(t, cfg, "", "log", "--tail", "1")
	if strings.Contains(out, "hello there") || !strings.Contains(out, "<bob> second") {
		t.Fatalf("expected only the last message, got %q", out)
	}
}

func TestSendRequiresContent(t *testing.T) {
	cfg := newCLITestEnv(t)
	if _, err := runCLI(t, cfg, "", "send", "ana"); err == nil {
		t.Fatal("expected error without text or --file")
	}
	if _, err := runCLI(t, cfg, "", "send", "ana", "text", "--file", "x.txt"); err == nil {
		t.Fatal("expected error with both text and --file")
	}
}

func TestSendFileAndDownload(t *testing.T) {
	cfg := newCLITestEnv(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "notes.txt")
	payload := []byte(strings.Repeat("chunked payload ", 100))
	if err := os.WriteFile(src, payload, 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	mustRunCLI(t, cfg, "", "send", "ana", "--file", src)
	messages := listMessages(t, cfg)
	if len(messages) != 1 || messages[0].File == nil {
		t.Fatalf("expected one file message, got %+v", messages)
	}
	file := messages[0].File
	if file.Filename != "notes.txt" || file.Size != int64(len(payload)) {
		t.Fatalf("unexpected file content %+v", file)
	}

	dst := filepath.Join(dir, "copy.txt")
	out := mustRunCLI(t, cfg, "", "download", file.BlobID, "-o", dst)
	if !strings.HasPrefix(out, "saved "+dst) {
		t.Fatalf("unexpected download output %q", out)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read download: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("downloaded bytes differ from upload")
	}

	raw := mustRunCLI(t, cfg, "", "download", file.BlobID)
	if raw != string(payload) {
		t.Fatal("stdout download differs from upload")
	}
}

func TestDownloadUnknownBlob(t *testing.T) {
	cfg := newCLITestEnv(t)
	_, err := runCLI(t, cfg, "", "download", "bl-00000000000000000000000000000000", "-o", filepath.Join(t.TempDir(), "x"))
	if !api.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUploadYAMLOutput(t *testing.T) {
	cfg := newCLITestEnv(t)
	src := filepath.Join(t.TempDir(), "voice.bin")
	if err := os.WriteFile(src, []byte{0x01, 0x02, 0x03}, 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	out := mustRunCLI(t, cfg, "", "upload", src, "--kind", "audio", "--yaml")
	for _, want := range []string{"blob_id: bl-", "content_type: audio/mpeg", "chunk_count: 1", "filename: voice.bin"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in %q", want, out)
		}
	}

	if _, err := runCLI(t, cfg, "", "upload", src, "--kind", "video"); err == nil {
		t.Fatal("expected invalid kind error")
	}
	if _, err := runCLI(t, cfg, "", "info", "--json", "--yaml"); err == nil {
		t.Fatal("expected --json and --yaml to conflict")
	}
}

func TestSavedLifecycle(t *testing.T) {
	cfg := newCLITestEnv(t)
	mustRunCLI(t, cfg, "", "send", "ana", "keep me")
	id := listMessages(t, cfg)[0].ID

	out := mustRunCLI(t, cfg, "", "saved", "add", id)
	if !strings.HasPrefix(out, "saved "+id+" as ") {
		t.Fatalf("unexpected saved add output %q", out)
	}

	var saved []models.SavedMessage
	out = mustRunCLI(t, cfg, "", "saved", "list", "--json")
	if err := json.Unmarshal([]byte(out), &saved); err != nil {
		t.Fatalf("decode saved list: %v", err)
	}
	if len(saved) != 1 || saved[0].OriginalMessageID != id || saved[0].Text != "keep me" {
		t.Fatalf("unexpected saved list %+v", saved)
	}

	out = mustRunCLI(t, cfg, "", "saved", "rm", id)
	if out != "removed 1 saved copies\n" {
		t.Fatalf("unexpected saved rm output %q", out)
	}
	if _, err := runCLI(t, cfg, "", "saved", "rm", id); !api.IsNotFound(err) {
		t.Fatalf("expected not found on second rm, got %v", err)
	}
}

func TestRetainDefaultsToDryRun(t *testing.T) {
	cfg := newCLITestEnv(t)
	mustRunCLI(t, cfg, "", "send", "ana", "first")
	mustRunCLI(t, cfg, "", "send", "ana", "second")
	keep := listMessages(t, cfg)[1].ID

	out := mustRunCLI(t, cfg, "", "retain", keep)
	if !strings.HasPrefix(out, "dry run: 1 messages would be deleted") {
		t.Fatalf("unexpected dry-run output %q", out)
	}
	if got := len(listMessages(t, cfg)); got != 2 {
		t.Fatalf("dry run deleted messages: %d left", got)
	}

	out = mustRunCLI(t, cfg, "", "retain", keep, "--force")
	if out != "deleted 1 messages and 0 files\n" {
		t.Fatalf("unexpected retain output %q", out)
	}
	left := listMessages(t, cfg)
	if len(left) != 1 || left[0].ID != keep {
		t.Fatalf("unexpected remaining log %+v", left)
	}

	if _, err := runCLI(t, cfg, "", "retain"); err == nil {
		t.Fatal("expected error without ids")
	}
}

func TestUserAddLoginAndNotify(t *testing.T) {
	cfg := newCLITestEnv(t)

	if _, err := runCLI(t, cfg, "password-123\n", "user", "add", "ana"); err == nil {
		t.Fatal("expected --password-stdin to be required")
	}
	out := mustRunCLI(t, cfg, "password-123\n", "user", "add", "Ana", "--password-stdin")
	if out != "created user ana\n" {
		t.Fatalf("unexpected user add output %q", out)
	}
	mustRunCLI(t, cfg, "password-456\n", "user", "add", "bob", "--password-stdin")
	if _, err := runCLI(t, cfg, "short\n", "user", "add", "cy", "--password-stdin"); err == nil {
		t.Fatal("expected short password to be rejected")
	}

	out = mustRunCLI(t, cfg, "", "user", "list")
	if !strings.Contains(out, "ana (created ") || !strings.Contains(out, "bob (created ") {
		t.Fatalf("unexpected user list %q", out)
	}

	out = mustRunCLI(t, cfg, "password-123\n", "login", "ana", "--password-stdin")
	if out != "login ok for ana\n" {
		t.Fatalf("unexpected login output %q", out)
	}
	if _, err := runCLI(t, cfg, "wrong-password\n", "login", "ana", "--password-stdin"); !api.IsUnauthorized(err) {
		t.Fatalf("expected unauthorized, got %v", err)
	}

	out = mustRunCLI(t, cfg, "", "notify", "ana", "look", "at", "this")
	if out != "notified bob\n" {
		t.Fatalf("unexpected notify output %q", out)
	}

	mustRunCLI(t, cfg, "", "user", "rm", "bob")
	if _, err := runCLI(t, cfg, "", "user", "rm", "bob"); err == nil {
		t.Fatal("expected error removing missing user")
	}
	if _, err := runCLI(t, cfg, "", "notify", "ana"); !api.IsNotFound(err) {
		t.Fatalf("expected not found without recipients, got %v", err)
	}
}

func TestAdminGCOrphansDefaultsToDryRun(t *testing.T) {
	cfg := newCLITestEnv(t)
	out := mustRunCLI(t, cfg, "", "admin", "gc-orphans")
	if out != "dry run: orphans=0 failed=0\n" {
		t.Fatalf("unexpected output %q", out)
	}

	var resp api.OrphanSweepResponse
	out = mustRunCLI(t, cfg, "", "admin", "gc-orphans", "--apply", "--json")
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode sweep: %v", err)
	}
	if resp.DryRun || resp.Count != 0 {
		t.Fatalf("unexpected sweep response %+v", resp)
	}
}

func TestInfo(t *testing.T) {
	cfg := newCLITestEnv(t)
	mustRunCLI(t, cfg, "", "send", "ana", "hi")

	var info infoOutput
	out := mustRunCLI(t, cfg, "", "info", "--json")
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("decode info: %v", err)
	}
	if info.DBPath != cfg.DBPath || info.TotalMessages != 1 || info.ChunkBackend != config.BackendSQLite {
		t.Fatalf("unexpected info %+v", info)
	}

	out = mustRunCLI(t, cfg, "", "info")
	if !strings.Contains(out, "total_messages: 1\n") || !strings.Contains(out, "  text: 1\n") {
		t.Fatalf("unexpected plain info %q", out)
	}
}

func TestWatchStreamsBackfillAndLiveMessages(t *testing.T) {
	cfg := newCLITestEnv(t)
	mustRunCLI(t, cfg, "", "send", "ana", "before watch")

	out := &syncBuffer{}
	stdout = out
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	root := newRootCmd(cfg)
	root.SetArgs([]string{"watch", "--log-level", "error"})
	done := make(chan error, 1)
	go func() { done <- root.ExecuteContext(ctx) }()

	waitFor(t, "backfilled message", func() bool { return strings.Contains(out.String(), "<ana> before watch") })

	req, err := api.NewTextMessageRequest("bob", "live one")
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if _, err := api.NewClient(cfg.APIURL).CreateMessage(context.Background(), req); err != nil {
		t.Fatalf("create message: %v", err)
	}
	waitFor(t, "live message", func() bool { return strings.Contains(out.String(), "<bob> live one") })

	cancel()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("watch returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop after cancel")
	}
	if n := strings.Count(out.String(), "before watch"); n != 1 {
		t.Fatalf("expected backfilled message once, saw %d", n)
	}
}

func TestConfigGet(t *testing.T) {
	cfg := config.Default()
	out, err := runCLI(t, &cfg, "", "config", "get", "storage.backend")
	if err != nil {
		t.Fatalf("config get: %v", err)
	}
	if out != "sqlite\n" {
		t.Fatalf("unexpected value %q", out)
	}
	if _, err := runCLI(t, &cfg, "", "config", "get", "nope"); err == nil {
		t.Fatal("expected unknown key error")
	}
}

func TestConfigSetWritesConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CHATVAULT_CONFIG_DIR", dir)
	cfg := config.Default()

	if _, err := runCLI(t, &cfg, "", "config", "set", "storage.backend", "badger"); err != nil {
		t.Fatalf("config set: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, config.ConfigFileName))
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if !strings.Contains(string(data), `backend = "badger"`) {
		t.Fatalf("unexpected config file %q", data)
	}
	if _, err := runCLI(t, &cfg, "", "config", "set", "storage.backend", "s3"); err == nil {
		t.Fatal("expected invalid backend error")
	}
}

func TestMigrateInspectThenApply(t *testing.T) {
	cfg := config.Default()
	cfg.DBPath = filepath.Join(t.TempDir(), "fresh.db")

	var plan store.MigrationStatus
	out, err := runCLI(t, &cfg, "", "migrate", "--inspect", "--json")
	if err != nil {
		t.Fatalf("migrate inspect: %v", err)
	}
	if err := json.Unmarshal([]byte(out), &plan); err != nil {
		t.Fatalf("decode plan: %v", err)
	}
	if plan.CurrentVersion != 0 || len(plan.Pending) == 0 {
		t.Fatalf("expected pending migrations on a fresh db, got %+v", plan)
	}

	out, err = runCLI(t, &cfg, "", "migrate")
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !strings.HasSuffix(out, "No pending migrations.\n") {
		t.Fatalf("unexpected migrate output %q", out)
	}
}
