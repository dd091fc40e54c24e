package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/sinergia-energia/sinergia/internal/domain"
)

// reloadNotice is broadcast after a reload so peer instances can follow.
type reloadNotice struct {
	Origin  string `json:"origin"`
	Version uint64 `json:"version"`
}

// Notifier propagates reloads between instances sharing an event bus.
type Notifier struct {
	catalog *Catalog
	bus     domain.EventBus
	origin  string
	sub     domain.Subscription
}

// NewNotifier creates a notifier with a random instance identity.
func NewNotifier(c *Catalog, bus domain.EventBus) *Notifier {
	return &Notifier{
		catalog: c,
		bus:     bus,
		origin:  uuid.New().String(),
	}
}

// Start listens for reloads announced by other instances.
func (n *Notifier) Start(ctx context.Context) error {
	sub, err := n.bus.Subscribe(ctx, domain.TopicCatalogReloaded, n.handle)
	if err != nil {
		return fmt.Errorf("failed to subscribe to catalog reloads: %w", err)
	}
	n.sub = sub
	return nil
}

// Stop unsubscribes.
func (n *Notifier) Stop() error {
	if n.sub == nil {
		return nil
	}
	return n.sub.Unsubscribe()
}

// ReloadAndAnnounce reloads locally then tells the other instances.
func (n *Notifier) ReloadAndAnnounce(ctx context.Context) (*Snapshot, error) {
	snap, err := n.catalog.Reload(ctx)
	if err != nil {
		return nil, err
	}

	payload, _ := json.Marshal(reloadNotice{Origin: n.origin, Version: snap.Version})
	if err := n.bus.Publish(ctx, domain.TopicCatalogReloaded, payload); err != nil {
		slog.Warn("failed to announce catalog reload", "error", err)
	}
	return snap, nil
}

func (n *Notifier) handle(ctx context.Context, msg *domain.Message) error {
	var notice reloadNotice
	if err := json.Unmarshal(msg.Payload, &notice); err != nil {
		slog.Error("failed to decode reload notice", "error", err)
		return err
	}
	if notice.Origin == n.origin {
		return nil
	}

	slog.Info("peer reloaded catalog", "origin", notice.Origin, "peer_version", notice.Version)
	if _, err := n.catalog.Reload(ctx); err != nil {
		slog.Error("failed to follow peer catalog reload", "error", err)
		return err
	}
	return nil
}
