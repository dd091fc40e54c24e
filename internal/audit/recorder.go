// Package audit persists a record of every simulation, either through the
// event bus or straight to the repository.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/sinergia-energia/sinergia/internal/domain"
)

// Store is the part of the repository the audit log writes to.
type Store interface {
	SaveSimulation(ctx context.Context, rec *domain.SimulationRecord) error
}

// BusRecorder publishes records for a Worker to persist.
type BusRecorder struct {
	bus domain.EventBus
}

// NewBusRecorder creates a recorder that publishes on the simulation topic.
func NewBusRecorder(bus domain.EventBus) *BusRecorder {
	return &BusRecorder{bus: bus}
}

// Record publishes rec. Failures are logged and dropped.
func (r *BusRecorder) Record(ctx context.Context, rec *domain.SimulationRecord) {
	payload, err := json.Marshal(rec)
	if err != nil {
		slog.Error("failed to encode simulation record", "simulation_id", rec.ID, "error", err)
		return
	}

	if err := r.bus.Publish(context.WithoutCancel(ctx), domain.TopicSimulationRecorded, payload); err != nil {
		slog.Error("failed to publish simulation record",
			"simulation_id", rec.ID,
			"topic", domain.TopicSimulationRecorded,
			"error", err,
		)
	}
}

// DirectRecorder writes records to the store on a background goroutine.
type DirectRecorder struct {
	store   Store
	timeout time.Duration
	pending chan struct{}
}

// NewDirectRecorder creates a recorder bounded to maxInFlight concurrent
// writes. Records beyond that are dropped with a warning.
func NewDirectRecorder(store Store, timeout time.Duration, maxInFlight int) *DirectRecorder {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if maxInFlight <= 0 {
		maxInFlight = 64
	}
	return &DirectRecorder{
		store:   store,
		timeout: timeout,
		pending: make(chan struct{}, maxInFlight),
	}
}

// Record starts the write and returns immediately.
func (r *DirectRecorder) Record(ctx context.Context, rec *domain.SimulationRecord) {
	select {
	case r.pending <- struct{}{}:
	default:
		slog.Warn("audit backlog full, simulation record dropped", "simulation_id", rec.ID)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	go func() {
		defer func() { <-r.pending }()
		defer cancel()

		if err := r.store.SaveSimulation(ctx, rec); err != nil {
			slog.Error("failed to save simulation record", "simulation_id", rec.ID, "error", err)
		}
	}()
}

// Flush waits until every started write has finished or ctx ends.
func (r *DirectRecorder) Flush(ctx context.Context) error {
	for i := 0; i < cap(r.pending); i++ {
		select {
		case r.pending <- struct{}{}:
		case <-ctx.Done():
			for ; i > 0; i-- {
				<-r.pending
			}
			return ctx.Err()
		}
	}
	for i := 0; i < cap(r.pending); i++ {
		<-r.pending
	}
	return nil
}
