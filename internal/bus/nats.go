package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/sinergia-energia/sinergia/internal/domain"
)

// Header keys carried on every NATS message. Trace context travels in the
// standard traceparent headers next to these.
const (
	HeaderMessageID   = "Nats-Msg-Id"
	HeaderPublishedAt = "Sinergia-Published-At"
)

// NATSBus implements EventBus using NATS so several instances can share
// audit writes and catalog reload notices. Payloads go on the wire as is;
// message metadata rides in NATS headers.
type NATSBus struct {
	mu   sync.Mutex
	conn *nats.Conn
	subs map[*natsSubscription]struct{}
}

type natsSubscription struct {
	bus   *NATSBus
	topic string
	queue string
	sub   *nats.Subscription
}

// NewNATSBus connects to NATS. The first connection is retried with
// exponential backoff up to NATSMaxReconnects times; after that the client
// reconnects on its own.
func NewNATSBus(cfg domain.EventBusConfig) (*NATSBus, error) {
	if cfg.NATSUrl == "" {
		cfg.NATSUrl = nats.DefaultURL
	}
	if cfg.NATSMaxReconnects <= 0 {
		cfg.NATSMaxReconnects = 10
	}
	if cfg.NATSReconnectWait <= 0 {
		cfg.NATSReconnectWait = 5
	}
	wait := time.Duration(cfg.NATSReconnectWait) * time.Second

	opts := []nats.Option{
		nats.Name("sinergia"),
		nats.MaxReconnects(cfg.NATSMaxReconnects),
		nats.ReconnectWait(wait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("nats disconnected", "error", err, "will_reconnect", !nc.IsClosed())
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			attrs := []any{"error", err}
			if sub != nil {
				attrs = append(attrs, "subject", sub.Subject)
			}
			slog.Error("nats async error", attrs...)
		}),
	}
	if cfg.NATSToken != "" {
		opts = append(opts, nats.Token(cfg.NATSToken))
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = wait / 4
	policy.MaxInterval = wait

	attempt := 0
	conn, err := backoff.RetryWithData(func() (*nats.Conn, error) {
		attempt++
		nc, err := nats.Connect(cfg.NATSUrl, opts...)
		if err != nil {
			slog.Warn("nats connection attempt failed", "attempt", attempt, "error", err)
		}
		return nc, err
	}, backoff.WithMaxRetries(policy, uint64(cfg.NATSMaxReconnects-1)))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s after %d attempts: %w", cfg.NATSUrl, attempt, err)
	}

	slog.Info("nats connected", "url", conn.ConnectedUrl(), "server_id", conn.ConnectedServerId())
	return &NATSBus{
		conn: conn,
		subs: make(map[*natsSubscription]struct{}),
	}, nil
}

// Publish sends payload on the topic subject, stamping an id, the publish
// time and the caller's trace context into the headers.
func (b *NATSBus) Publish(ctx context.Context, topic string, payload []byte) error {
	msg := nats.NewMsg(topic)
	msg.Data = payload
	msg.Header.Set(HeaderMessageID, uuid.New().String())
	msg.Header.Set(HeaderPublishedAt, strconv.FormatInt(time.Now().UnixNano(), 10))
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(http.Header(msg.Header)))

	if err := b.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish on %s: %w", topic, err)
	}
	return nil
}

// Subscribe delivers every message on topic to handler.
func (b *NATSBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	return b.subscribe(ctx, topic, "", handler)
}

// QueueSubscribe delivers each message on topic to one member of queue.
func (b *NATSBus) QueueSubscribe(ctx context.Context, topic, queue string, handler domain.MessageHandler) (domain.Subscription, error) {
	return b.subscribe(ctx, topic, queue, handler)
}

func (b *NATSBus) subscribe(ctx context.Context, topic, queue string, handler domain.MessageHandler) (domain.Subscription, error) {
	cb := func(m *nats.Msg) {
		msg := fromNATS(m)
		hctx := otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(http.Header(m.Header)))
		if err := handler(hctx, msg); err != nil {
			slog.Error("message handler failed",
				"subject", m.Subject,
				"message_id", msg.ID,
				"error", err,
			)
		}
	}

	var (
		natsSub *nats.Subscription
		err     error
	)
	if queue == "" {
		natsSub, err = b.conn.Subscribe(topic, cb)
	} else {
		natsSub, err = b.conn.QueueSubscribe(topic, queue, cb)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	sub := &natsSubscription{bus: b, topic: topic, queue: queue, sub: natsSub}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub, nil
}

// fromNATS converts a wire message. Messages from other publishers may lack
// the Sinergia headers; they get a fresh id and the receive time.
func fromNATS(m *nats.Msg) *domain.Message {
	msg := &domain.Message{
		ID:       m.Header.Get(HeaderMessageID),
		Topic:    m.Subject,
		Payload:  m.Data,
		Metadata: make(map[string]string, len(m.Header)),
	}
	for key := range m.Header {
		msg.Metadata[key] = m.Header.Get(key)
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if ts, err := strconv.ParseInt(m.Header.Get(HeaderPublishedAt), 10, 64); err == nil {
		msg.Timestamp = ts
	} else {
		msg.Timestamp = time.Now().UnixNano()
	}
	return msg
}

// Ping checks NATS connectivity with a server round trip.
func (b *NATSBus) Ping(ctx context.Context) error {
	if !b.conn.IsConnected() {
		return errors.New("nats not connected: " + b.conn.Status().String())
	}
	return b.conn.FlushWithContext(ctx)
}

// Close drains the connection so handlers finish the messages they already
// received, then closes it.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	b.subs = make(map[*natsSubscription]struct{})
	b.mu.Unlock()

	if b.conn.IsClosed() {
		return nil
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return fmt.Errorf("failed to drain nats connection: %w", err)
	}
	return nil
}

// Stats returns NATS connection statistics.
func (b *NATSBus) Stats() nats.Statistics {
	return b.conn.Stats()
}

// Unsubscribe stops delivery to this subscription.
func (s *natsSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()
	return s.sub.Unsubscribe()
}

// Topic returns the subscribed subject.
func (s *natsSubscription) Topic() string {
	return s.topic
}
