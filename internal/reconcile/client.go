package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"chatvault/internal/broker"
	"chatvault/internal/models"
)

const (
	DefaultMinBackoff = time.Second
	DefaultMaxBackoff = 30 * time.Second

	handshakeTimeout = 30 * time.Second
	readWait         = 2 * broker.DefaultPongWait
	// Events received while the backfill request is in flight wait here.
	eventQueueSize = 1024
)

// MessageLister fetches the canonical ordered log.
type MessageLister interface {
	ListMessages(ctx context.Context) ([]models.Message, error)
}

// Options configures a Client.
type Options struct {
	EventsURL string
	// Header is sent with every websocket handshake.
	Header    http.Header
	Lister    MessageLister
	State     *State
	Dialer    *websocket.Dialer
	Logger    *slog.Logger

	MinBackoff time.Duration
	MaxBackoff time.Duration

	// OnMessage is called for every message that enters the view.
	OnMessage func(models.Message)
	// OnSync is called after each backfill with the number of new messages.
	OnSync func(added int)
}

// Client subscribes to the event stream, backfills from the log and keeps
// State merged, reconnecting after transport errors.
type Client struct {
	opts   Options
	state  *State
	dialer *websocket.Dialer
	logger *slog.Logger
}

// NewClient validates opts and returns a client.
func NewClient(opts Options) (*Client, error) {
	if opts.EventsURL == "" {
		return nil, fmt.Errorf("%w: events url is required", models.ErrInvalidArgument)
	}
	if opts.Lister == nil {
		return nil, fmt.Errorf("%w: message lister is required", models.ErrInvalidArgument)
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = DefaultMinBackoff
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = DefaultMaxBackoff
		if opts.MaxBackoff < opts.MinBackoff {
			opts.MaxBackoff = opts.MinBackoff
		}
	}
	state := opts.State
	if state == nil {
		state = NewState()
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		opts:   opts,
		state:  state,
		dialer: dialer,
		logger: logger.With("component", "reconcile"),
	}, nil
}

// State returns the merged view.
func (c *Client) State() *State {
	return c.state
}

// Run keeps a session alive until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	backoff := c.opts.MinBackoff
	attempt := 0
	for {
		synced, err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if synced {
			backoff = c.opts.MinBackoff
			attempt = 0
		}
		attempt++
		level := slog.LevelWarn
		if isServerGone(err) {
			level = slog.LevelInfo
		}
		c.logger.Log(ctx, level, "event stream disconnected", "attempt", attempt, "backoff", backoff, "error", err)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > c.opts.MaxBackoff {
			backoff = c.opts.MaxBackoff
		}
	}
}

// session runs one connection. The subscription is opened before the
// backfill so that nothing published in between is missed; events that
// arrive early are queued and merged after the snapshot.
func (c *Client) session(ctx context.Context) (bool, error) {
	conn, resp, err := c.dialer.DialContext(ctx, c.opts.EventsURL, c.opts.Header)
	if err != nil {
		if resp != nil {
			return false, fmt.Errorf("subscribe: %s: %w", resp.Status, err)
		}
		return false, fmt.Errorf("subscribe: %w", err)
	}
	defer conn.Close()

	events := make(chan broker.Event, eventQueueSize)
	readErr := make(chan error, 1)
	go c.readLoop(conn, events, readErr)

	snapshot, err := c.opts.Lister.ListMessages(ctx)
	if err != nil {
		return false, fmt.Errorf("backfill: %w", err)
	}
	added := c.state.Seed(snapshot)
	for _, msg := range added {
		c.emit(msg)
	}
	c.logger.Debug("backfilled", "snapshot", len(snapshot), "added", len(added))
	if c.opts.OnSync != nil {
		c.opts.OnSync(len(added))
	}

	for {
		select {
		case <-ctx.Done():
			deadline := time.Now().Add(time.Second)
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return true, ctx.Err()
		case ev := <-events:
			c.handle(ev)
		case err := <-readErr:
			// Drain what was read before the stream ended.
			for {
				select {
				case ev := <-events:
					c.handle(ev)
				default:
					return true, err
				}
			}
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn, events chan<- broker.Event, readErr chan<- error) {
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(broker.DefaultWriteWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	for {
		var ev broker.Event
		if err := conn.ReadJSON(&ev); err != nil {
			readErr <- err
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		select {
		case events <- ev:
		default:
			readErr <- fmt.Errorf("event queue full after %d events", eventQueueSize)
			return
		}
	}
}

func (c *Client) handle(ev broker.Event) {
	if ev.Type != broker.EventMessageAppended || ev.Message == nil {
		c.logger.Debug("ignoring event", "type", ev.Type)
		return
	}
	if c.state.Apply(*ev.Message) {
		c.emit(*ev.Message)
	}
}

func (c *Client) emit(msg models.Message) {
	if c.opts.OnMessage != nil {
		c.opts.OnMessage(msg)
	}
}

// isServerGone reports whether err is the close frame sent on server
// shutdown or when this subscriber fell behind.
func isServerGone(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseTryAgainLater)
}
