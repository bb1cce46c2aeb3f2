// Package broker fans newly appended messages out to live subscribers.
//
// Delivery is at-least-once from the subscriber's point of view: a
// subscriber that cannot keep up is disconnected rather than skipped, and is
// expected to reconnect and backfill from the message log.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"chatvault/internal/metrics"
	"chatvault/internal/models"
)

const (
	// ChannelChat is the single logical channel of the room.
	ChannelChat = "chat"
	// EventMessageAppended announces a message persisted to the log.
	EventMessageAppended = "message.appended"

	DefaultSubscriberBuffer = 256
)

// Event is the wire payload pushed to subscribers.
type Event struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel"`
	Message *models.Message `json:"message,omitempty"`
}

// MessageAppended builds the event for a persisted message.
func MessageAppended(msg models.Message) Event {
	return Event{Type: EventMessageAppended, Channel: ChannelChat, Message: &msg}
}

// Publisher is the side of the broker used after a successful append.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Options configures a Broker.
type Options struct {
	SubscriberBuffer int
	Logger           *slog.Logger
	Metrics          *metrics.Metrics
}

// Broker is an in-process hub. Publish never blocks on subscribers.
type Broker struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool

	buffer  int
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Subscription receives events until it is closed by the subscriber, by the
// broker on shutdown, or by the broker because its buffer filled up.
type Subscription struct {
	events  chan Event
	broker  *Broker
	dropped bool
}

// New creates a broker.
func New(opts Options) *Broker {
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = DefaultSubscriberBuffer
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		subs:    make(map[*Subscription]struct{}),
		buffer:  opts.SubscriberBuffer,
		logger:  logger.With("component", "broker"),
		metrics: opts.Metrics,
	}
}

// Subscribe registers a new subscriber on the chat channel.
func (b *Broker) Subscribe() (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("subscribe: %w", models.ErrUnavailable)
	}
	sub := &Subscription{events: make(chan Event, b.buffer), broker: b}
	b.subs[sub] = struct{}{}
	b.metrics.SetSubscribers(len(b.subs))
	b.logger.Debug("subscriber connected", "subscribers", len(b.subs))
	return sub, nil
}

// Publish hands event to every subscriber without waiting. Subscribers whose
// buffer is full are disconnected.
func (b *Broker) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if event.Channel == "" {
		event.Channel = ChannelChat
	}
	if event.Channel != ChannelChat {
		return fmt.Errorf("%w: unknown channel %q", models.ErrInvalidArgument, event.Channel)
	}

	var slow []*Subscription
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("publish: %w", models.ErrUnavailable)
	}
	for sub := range b.subs {
		select {
		case sub.events <- event:
		default:
			slow = append(slow, sub)
		}
	}
	b.mu.RUnlock()
	b.metrics.RecordPublish()

	if len(slow) > 0 {
		b.mu.Lock()
		for _, sub := range slow {
			if b.removeLocked(sub) {
				sub.dropped = true
				b.metrics.RecordSubscriberDropped()
				b.logger.Warn("subscriber disconnected: buffer full", "buffer", b.buffer)
			}
		}
		b.mu.Unlock()
	}
	return nil
}

// Close disconnects every subscriber. Later Publish and Subscribe calls fail
// with models.ErrUnavailable.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		b.removeLocked(sub)
	}
}

// SubscriberCount reports the number of live subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// removeLocked must be called with b.mu held for writing. Channels are only
// closed here, so no Publish can be sending on them concurrently.
func (b *Broker) removeLocked(sub *Subscription) bool {
	if _, ok := b.subs[sub]; !ok {
		return false
	}
	delete(b.subs, sub)
	close(sub.events)
	b.metrics.SetSubscribers(len(b.subs))
	return true
}

// Events returns the delivery channel. It is closed when the subscription ends.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	s.broker.removeLocked(s)
}

// Dropped reports whether the broker cut this subscription off because it
// fell behind. Valid once Events is closed.
func (s *Subscription) Dropped() bool {
	s.broker.mu.RLock()
	defer s.broker.mu.RUnlock()
	return s.dropped
}

var _ Publisher = (*Broker)(nil)
