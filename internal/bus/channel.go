// Package bus carries simulation records and catalog reload notices between
// components, in process or across instances over NATS.
package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sinergia-energia/sinergia/internal/domain"
)

// ErrBusClosed is returned by Publish and Subscribe after Close.
var ErrBusClosed = errors.New("bus is closed")

// ChannelBus is the single-process EventBus. Each subscriber owns a bounded
// inbox drained by one goroutine, so a slow audit handler never blocks the
// request that published the record.
type ChannelBus struct {
	inboxSize int
	nextID    atomic.Uint64
	dropped   atomic.Int64

	mu     sync.RWMutex
	closed bool
	topics map[string]map[uint64]*channelSubscription
}

type channelSubscription struct {
	bus     *ChannelBus
	id      uint64
	topic   string
	handler domain.MessageHandler
	inbox   chan *domain.Message
	ctx     context.Context
	stop    context.CancelFunc
}

// NewChannelBus creates a bus whose subscribers buffer up to inboxSize
// messages each. A non-positive size means 1000.
func NewChannelBus(inboxSize int) *ChannelBus {
	if inboxSize <= 0 {
		inboxSize = 1000
	}
	return &ChannelBus{
		inboxSize: inboxSize,
		topics:    make(map[string]map[uint64]*channelSubscription),
	}
}

// Publish fans payload out to the subscribers of topic without waiting. A
// subscriber with a full inbox misses the message and Dropped goes up.
func (b *ChannelBus) Publish(ctx context.Context, topic string, payload []byte) error {
	msg := &domain.Message{
		ID:        uuid.NewString(),
		Topic:     topic,
		Payload:   payload,
		Metadata:  map[string]string{},
		Timestamp: time.Now().UnixNano(),
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}

	for _, sub := range b.topics[topic] {
		select {
		case sub.inbox <- msg:
		default:
			b.dropped.Add(1)
			slog.Warn("subscriber inbox full, message dropped", "topic", topic, "message_id", msg.ID)
		}
	}
	return nil
}

// Subscribe starts delivering topic to handler, one message at a time,
// until the subscription, ctx or the bus ends.
func (b *ChannelBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}

	subCtx, stop := context.WithCancel(ctx)
	sub := &channelSubscription{
		bus:     b,
		id:      b.nextID.Add(1),
		topic:   topic,
		handler: handler,
		inbox:   make(chan *domain.Message, b.inboxSize),
		ctx:     subCtx,
		stop:    stop,
	}
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[uint64]*channelSubscription)
	}
	b.topics[topic][sub.id] = sub

	go sub.deliver()
	return sub, nil
}

func (s *channelSubscription) deliver() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.inbox:
			if err := s.handler(s.ctx, msg); err != nil {
				slog.Debug("message handler failed", "topic", s.topic, "message_id", msg.ID, "error", err)
			}
		}
	}
}

// Dropped counts deliveries lost to full inboxes.
func (b *ChannelBus) Dropped() int64 {
	return b.dropped.Load()
}

// Ping fails once the bus is closed.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	return nil
}

// Close ends every subscription. Undelivered messages are discarded.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, subs := range b.topics {
		for _, sub := range subs {
			sub.stop()
		}
	}
	b.topics = nil
	return nil
}

// Unsubscribe stops delivery. Messages already in the inbox are discarded.
func (s *channelSubscription) Unsubscribe() error {
	s.stop()

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if subs := s.bus.topics[s.topic]; subs != nil {
		delete(subs, s.id)
		if len(subs) == 0 {
			delete(s.bus.topics, s.topic)
		}
	}
	return nil
}

// Topic returns the subscribed topic.
func (s *channelSubscription) Topic() string {
	return s.topic
}
