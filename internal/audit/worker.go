package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/sinergia-energia/sinergia/internal/bus"
	"github.com/sinergia-energia/sinergia/internal/domain"
)

// ErrWorkerStopped is returned for records delivered after Stop.
var ErrWorkerStopped = errors.New("audit worker stopped")

// QueueGroup is the NATS queue shared by every audit worker, so each record
// is persisted by one instance.
const QueueGroup = "sinergia-audit"

// Worker consumes simulation records from the EventBus and appends them to
// the store.
type Worker struct {
	bus         domain.EventBus
	store       Store
	maxAttempts uint64
	retryWait   time.Duration

	mu            sync.Mutex
	subscriptions []domain.Subscription
	stopped       bool
	// In-flight records. Add happens under mu while !stopped, so it never
	// races with Wait in Stop.
	wg sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc

	persisted atomic.Int64
	failed    atomic.Int64
}

// Config holds worker configuration.
type Config struct {
	// MaxAttempts bounds the store writes per record, first try included.
	MaxAttempts uint64

	// RetryInterval is the first wait between attempts. It grows
	// exponentially after that.
	RetryInterval time.Duration
}

// NewWorker creates a new audit worker.
func NewWorker(eventBus domain.EventBus, store Store, cfg Config) *Worker {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 200 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:         eventBus,
		store:       store,
		maxAttempts: cfg.MaxAttempts,
		retryWait:   cfg.RetryInterval,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start subscribes to the simulation topic. Buses that support queue groups
// share the topic between instances.
func (w *Worker) Start() error {
	var (
		sub domain.Subscription
		err error
	)
	if qs, ok := w.bus.(bus.QueueSubscriber); ok {
		sub, err = qs.QueueSubscribe(w.ctx, domain.TopicSimulationRecorded, QueueGroup, w.handleMessage)
	} else {
		sub, err = w.bus.Subscribe(w.ctx, domain.TopicSimulationRecorded, w.handleMessage)
	}
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", domain.TopicSimulationRecorded, err)
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Info("audit worker started", "topic", domain.TopicSimulationRecorded)
	return nil
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return ErrWorkerStopped
	}
	w.wg.Add(1)
	w.mu.Unlock()
	defer w.wg.Done()

	var rec domain.SimulationRecord
	if err := json.Unmarshal(msg.Payload, &rec); err != nil {
		w.failed.Add(1)
		slog.Error("failed to parse simulation record",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	start := time.Now()
	err := w.persist(ctx, &rec)
	if err != nil {
		w.failed.Add(1)
		slog.Error("failed to persist simulation record",
			"simulation_id", rec.ID,
			"error", err,
		)
		return err
	}

	w.persisted.Add(1)
	slog.Debug("simulation record persisted",
		"simulation_id", rec.ID,
		"distributor_id", rec.DistributorID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (w *Worker) persist(ctx context.Context, rec *domain.SimulationRecord) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = w.retryWait
	policy := backoff.WithContext(
		backoff.WithMaxRetries(exp, w.maxAttempts-1),
		ctx,
	)
	return backoff.Retry(func() error {
		return w.store.SaveSimulation(ctx, rec)
	}, policy)
}

// Stop unsubscribes and waits for in-flight records.
func (w *Worker) Stop() error {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()

	w.cancel()

	w.mu.Lock()
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil
	w.mu.Unlock()

	w.wg.Wait()

	slog.Info("audit worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Persisted         int64    `json:"persisted"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Persisted:         w.persisted.Load(),
		Failed:            w.failed.Load(),
	}
}
