package reconcile

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatvault/internal/broker"
	"chatvault/internal/models"
)

// fakeLog is an in-memory message log whose list call can run a hook first.
type fakeLog struct {
	mu       sync.Mutex
	messages []models.Message
	calls    atomic.Int32
	before   func(call int32)
}

func (f *fakeLog) append(msg models.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
}

func (f *fakeLog) ListMessages(ctx context.Context) ([]models.Message, error) {
	call := f.calls.Add(1)
	if f.before != nil {
		f.before(call)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Message, len(f.messages))
	copy(out, f.messages)
	return out, nil
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func startClient(t *testing.T, opts Options) (*Client, func()) {
	t.Helper()
	client, err := NewClient(opts)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()
	return client, func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("client did not stop")
		}
	}
}

func TestEventBeforeBackfillIsMergedOnce(t *testing.T) {
	b := broker.New(broker.Options{})
	defer b.Close()
	srv := httptest.NewServer(broker.NewWebsocketHandler(b, broker.WebsocketOptions{}))
	defer srv.Close()

	msg := textMsg("m1", "ana", "hello")
	log := &fakeLog{}
	log.before = func(call int32) {
		if call != 1 {
			return
		}
		// The append lands and its event is published while the backfill
		// request is in flight.
		log.append(msg)
		assert.NoError(t, b.Publish(context.Background(), broker.MessageAppended(msg)))
		time.Sleep(50 * time.Millisecond)
	}

	var mu sync.Mutex
	var emitted []models.Message
	synced := make(chan int, 4)
	client, stop := startClient(t, Options{
		EventsURL: wsURL(srv),
		Lister:    log,
		OnMessage: func(m models.Message) {
			mu.Lock()
			emitted = append(emitted, m)
			mu.Unlock()
		},
		OnSync: func(added int) { synced <- added },
	})
	defer stop()

	select {
	case added := <-synced:
		assert.Equal(t, 1, added)
	case <-time.After(2 * time.Second):
		t.Fatal("backfill did not complete")
	}

	// The queued duplicate is drained after the seed and discarded.
	require.Never(t, func() bool { return client.State().Len() != 1 }, 200*time.Millisecond, 10*time.Millisecond)

	second := textMsg("m2", "bo", "live")
	require.NoError(t, b.Publish(context.Background(), broker.MessageAppended(second)))
	require.Eventually(t, func() bool { return client.State().Len() == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, b.Publish(context.Background(), broker.MessageAppended(second)))
	require.NoError(t, b.Publish(context.Background(), broker.MessageAppended(msg)))
	require.Never(t, func() bool { return client.State().Len() != 2 }, 200*time.Millisecond, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, emitted, 2)
	assert.Equal(t, "hello", emitted[0].Text)
	assert.Equal(t, "live", emitted[1].Text)
}

func TestReconnectBackfillsAgain(t *testing.T) {
	b := broker.New(broker.Options{})
	defer b.Close()
	events := broker.NewWebsocketHandler(b, broker.WebsocketOptions{})

	var connects atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if connects.Add(1) == 1 {
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "restart"))
			_ = conn.Close()
			return
		}
		events.ServeHTTP(w, r)
	}))
	defer srv.Close()

	log := &fakeLog{}
	log.append(textMsg("m1", "ana", "before"))
	log.before = func(call int32) {
		if call == 2 {
			log.append(textMsg("m2", "ana", "missed while away"))
		}
	}

	client, stop := startClient(t, Options{
		EventsURL:  wsURL(srv),
		Lister:     log,
		MinBackoff: 10 * time.Millisecond,
		MaxBackoff: 20 * time.Millisecond,
	})
	defer stop()

	require.Eventually(t, func() bool { return client.State().Len() == 2 }, 3*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, connects.Load(), int32(2))
	assert.GreaterOrEqual(t, log.calls.Load(), int32(2))
}

func TestRunRetriesUnreachableServer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	log := &fakeLog{}
	_, stop := startClient(t, Options{
		EventsURL:  url,
		Lister:     log,
		MinBackoff: 5 * time.Millisecond,
		MaxBackoff: 10 * time.Millisecond,
	})
	time.Sleep(50 * time.Millisecond)
	stop()
	assert.Equal(t, int32(0), log.calls.Load(), "no backfill without a subscription")
}

func TestNewClientValidatesOptions(t *testing.T) {
	_, err := NewClient(Options{Lister: &fakeLog{}})
	assert.ErrorIs(t, err, models.ErrInvalidArgument)
	_, err = NewClient(Options{EventsURL: "ws://localhost/v1/events"})
	assert.ErrorIs(t, err, models.ErrInvalidArgument)

	c, err := NewClient(Options{EventsURL: "ws://localhost/v1/events", Lister: &fakeLog{}, MinBackoff: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, time.Minute, c.opts.MinBackoff)
	assert.GreaterOrEqual(t, c.opts.MaxBackoff, c.opts.MinBackoff)
	assert.NotNil(t, c.State())
}
