package broker

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialEvents(t *testing.T, b *Broker, opts WebsocketOptions) (*websocket.Conn, func()) {
	t.Helper()
	srv := httptest.NewServer(NewWebsocketHandler(b, opts))
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn, func() {
		_ = conn.Close()
		srv.Close()
	}
}

func waitForSubscribers(t *testing.T, b *Broker, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return b.SubscriberCount() == n }, time.Second, 5*time.Millisecond)
}

func TestWebsocketDeliversEvents(t *testing.T) {
	b := New(Options{})
	conn, cleanup := dialEvents(t, b, WebsocketOptions{})
	defer cleanup()
	waitForSubscribers(t, b, 1)

	require.NoError(t, b.Publish(context.Background(), textEvent("ana", "over the wire")))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, EventMessageAppended, ev.Type)
	assert.Equal(t, ChannelChat, ev.Channel)
	require.NotNil(t, ev.Message)
	assert.Equal(t, "over the wire", ev.Message.Text)
}

func TestWebsocketClientDisconnectUnsubscribes(t *testing.T) {
	b := New(Options{})
	conn, cleanup := dialEvents(t, b, WebsocketOptions{})
	defer cleanup()
	waitForSubscribers(t, b, 1)

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	_ = conn.Close()
	waitForSubscribers(t, b, 0)
}

func TestWebsocketBrokerCloseSendsGoingAway(t *testing.T) {
	b := New(Options{})
	conn, cleanup := dialEvents(t, b, WebsocketOptions{})
	defer cleanup()
	waitForSubscribers(t, b, 1)

	b.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestWebsocketUnavailableAfterClose(t *testing.T) {
	b := New(Options{})
	b.Close()
	srv := httptest.NewServer(NewWebsocketHandler(b, WebsocketOptions{}))
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 503, resp.StatusCode)
}

func TestWebsocketSendsPings(t *testing.T) {
	b := New(Options{})
	conn, cleanup := dialEvents(t, b, WebsocketOptions{PingInterval: 20 * time.Millisecond, PongWait: time.Second})
	defer cleanup()

	pinged := make(chan struct{}, 1)
	conn.SetPingHandler(func(string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return nil
	})
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-pinged:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a ping")
	}
}
