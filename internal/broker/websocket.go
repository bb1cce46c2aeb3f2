package broker

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	DefaultWriteWait    = 10 * time.Second
	DefaultPongWait     = 60 * time.Second
	DefaultPingInterval = 54 * time.Second

	// Subscribers only send control frames.
	maxInboundMessageSize = 4096
)

// WebsocketOptions tunes keepalive timings.
type WebsocketOptions struct {
	WriteWait    time.Duration
	PongWait     time.Duration
	PingInterval time.Duration
	Logger       *slog.Logger
}

// WebsocketHandler streams broker events to websocket clients, one JSON event
// per text frame.
type WebsocketHandler struct {
	broker   *Broker
	upgrader websocket.Upgrader
	opts     WebsocketOptions
	logger   *slog.Logger
}

// NewWebsocketHandler creates the /v1/events handler.
func NewWebsocketHandler(b *Broker, opts WebsocketOptions) *WebsocketHandler {
	if opts.WriteWait <= 0 {
		opts.WriteWait = DefaultWriteWait
	}
	if opts.PongWait <= 0 {
		opts.PongWait = DefaultPongWait
	}
	if opts.PingInterval <= 0 || opts.PingInterval >= opts.PongWait {
		opts.PingInterval = opts.PongWait * 9 / 10
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &WebsocketHandler{
		broker: b,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		opts:   opts,
		logger: logger.With("component", "broker_ws"),
	}
}

func (h *WebsocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sub, err := h.broker.Subscribe()
	if err != nil {
		http.Error(w, "event stream unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		sub.Close()
		h.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(maxInboundMessageSize)

	readDone := make(chan struct{})
	go h.readPump(conn, readDone)
	h.writePump(conn, sub, readDone)
	sub.Close()
	_ = conn.Close()
	<-readDone
}

// readPump discards inbound frames and detects disconnects.
func (h *WebsocketHandler) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	_ = conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !isExpectedCloseError(err) {
				h.logger.Debug("websocket read error", "error", err)
			}
			return
		}
	}
}

func (h *WebsocketHandler) writePump(conn *websocket.Conn, sub *Subscription, readDone <-chan struct{}) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-sub.Events():
			_ = conn.SetWriteDeadline(time.Now().Add(h.opts.WriteWait))
			if !ok {
				code, reason := websocket.CloseGoingAway, "broker closed"
				if sub.Dropped() {
					code, reason = websocket.CloseTryAgainLater, "subscriber too slow"
				}
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				if !isExpectedCloseError(err) {
					h.logger.Debug("websocket write error", "error", err)
				}
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(h.opts.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-readDone:
			return
		}
	}
}

func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}
