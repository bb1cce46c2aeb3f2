package broker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatvault/internal/models"
)

func textEvent(author, text string) Event {
	return MessageAppended(models.Message{ID: text, Author: author, Type: models.MessageTypeText, Text: text})
}

func receive(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "subscription closed unexpectedly")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	b := New(Options{})
	first, err := b.Subscribe()
	require.NoError(t, err)
	second, err := b.Subscribe()
	require.NoError(t, err)
	assert.Equal(t, 2, b.SubscriberCount())

	require.NoError(t, b.Publish(context.Background(), textEvent("ana", "hi")))

	for _, sub := range []*Subscription{first, second} {
		ev := receive(t, sub)
		assert.Equal(t, EventMessageAppended, ev.Type)
		assert.Equal(t, ChannelChat, ev.Channel)
		require.NotNil(t, ev.Message)
		assert.Equal(t, "hi", ev.Message.Text)
	}
}

func TestPublishWithoutSubscribersSucceeds(t *testing.T) {
	b := New(Options{})
	require.NoError(t, b.Publish(context.Background(), textEvent("ana", "nobody listening")))
}

func TestFullBufferDisconnectsSubscriber(t *testing.T) {
	b := New(Options{SubscriberBuffer: 1})
	slow, err := b.Subscribe()
	require.NoError(t, err)
	fast, err := b.Subscribe()
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), textEvent("ana", "one")))
	receive(t, fast)
	require.NoError(t, b.Publish(context.Background(), textEvent("ana", "two")))

	// slow still holds "one"; "two" overflowed, so it is cut off.
	ev, ok := <-slow.Events()
	require.True(t, ok)
	assert.Equal(t, "one", ev.Message.Text)
	_, ok = <-slow.Events()
	assert.False(t, ok, "slow subscriber should be disconnected")
	assert.True(t, slow.Dropped())

	assert.Equal(t, "two", receive(t, fast).Message.Text)
	assert.False(t, fast.Dropped())
	assert.Equal(t, 1, b.SubscriberCount())
}

func TestClosedBrokerIsUnavailable(t *testing.T) {
	b := New(Options{})
	sub, err := b.Subscribe()
	require.NoError(t, err)

	b.Close()
	b.Close()

	_, ok := <-sub.Events()
	assert.False(t, ok)
	assert.False(t, sub.Dropped())

	err = b.Publish(context.Background(), textEvent("ana", "late"))
	assert.ErrorIs(t, err, models.ErrUnavailable)
	_, err = b.Subscribe()
	assert.ErrorIs(t, err, models.ErrUnavailable)
}

func TestPublishRejectsUnknownChannel(t *testing.T) {
	b := New(Options{})
	ev := textEvent("ana", "x")
	ev.Channel = "other"
	assert.ErrorIs(t, b.Publish(context.Background(), ev), models.ErrInvalidArgument)

	ev.Channel = ""
	assert.NoError(t, b.Publish(context.Background(), ev))
}

func TestPublishHonoursCancelledContext(t *testing.T) {
	b := New(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, b.Publish(ctx, textEvent("ana", "x")), context.Canceled)
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	b := New(Options{})
	sub, err := b.Subscribe()
	require.NoError(t, err)
	sub.Close()
	sub.Close()
	assert.Equal(t, 0, b.SubscriberCount())
	require.NoError(t, b.Publish(context.Background(), textEvent("ana", "x")))
}

func TestConcurrentPublishAndUnsubscribe(t *testing.T) {
	b := New(Options{SubscriberBuffer: 4})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = b.Publish(context.Background(), textEvent("ana", "x"))
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				sub, err := b.Subscribe()
				if err != nil {
					return
				}
				sub.Close()
			}
		}()
	}
	wg.Wait()
	b.Close()
	assert.Equal(t, 0, b.SubscriberCount())
}
