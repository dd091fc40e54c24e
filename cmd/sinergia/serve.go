package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/sinergia-energia/sinergia/internal/api"
	"github.com/sinergia-energia/sinergia/internal/audit"
	"github.com/sinergia-energia/sinergia/internal/bus"
	"github.com/sinergia-energia/sinergia/internal/cache"
	"github.com/sinergia-energia/sinergia/internal/catalog"
	"github.com/sinergia-energia/sinergia/internal/domain"
	"github.com/sinergia-energia/sinergia/internal/repository"
	"github.com/sinergia-energia/sinergia/internal/rules"
	"github.com/sinergia-energia/sinergia/internal/simulation"
	"github.com/sinergia-energia/sinergia/internal/telemetry"
	"github.com/sinergia-energia/sinergia/internal/throttle"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func serve(parent context.Context, cfg *domain.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("starting sinergia",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Tracing, Version)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("failed to flush traces", "error", err)
		}
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type, "two_phase", cfg.Cache.EnableTwoPhase)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Load the catalog
	cat, err := openCatalog(ctx, repo, cfg.Catalog)
	if err != nil {
		return err
	}
	go cat.Watch(ctx, cfg.Catalog.ReloadInterval)

	notifier := catalog.NewNotifier(cat, busImpl)
	if err := notifier.Start(ctx); err != nil {
		return err
	}
	defer notifier.Stop()

	// Audit trail
	var (
		recorder simulation.Recorder
		worker   *audit.Worker
		direct   *audit.DirectRecorder
	)
	if cfg.EventBus.Type == "nats" {
		worker = audit.NewWorker(busImpl, repo, audit.Config{})
		if err := worker.Start(); err != nil {
			return fmt.Errorf("failed to start audit worker: %w", err)
		}
		recorder = audit.NewBusRecorder(busImpl)
	} else {
		direct = audit.NewDirectRecorder(repo, 5*time.Second, 0)
		recorder = direct
	}

	calc := simulation.NewCalculator(decimal.NewFromFloat(cfg.Simulation.ReferenceTariff))
	simulator := simulation.NewService(cat, calc, recorder)

	var limiter *throttle.Limiter
	if cfg.Simulation.ThrottleLimit > 0 {
		limiter = throttle.New(cacheImpl, cfg.Simulation.ThrottleLimit, cfg.Simulation.ThrottleWindow)
	}

	srv := api.NewServer(cfg.Server, cfg.Simulation, api.Dependencies{
		Catalog:    cat,
		Notifier:   notifier,
		Simulator:  simulator,
		Repository: repo,
		Cache:      cacheImpl,
		Bus:        busImpl,
		Limiter:    limiter,
		Version:    Version,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("sinergia is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"catalog_version", cat.Snapshot().Version,
	)
	printBanner(cfg, Version)

	select {
	case <-ctx.Done():
		slog.Info("received shutdown signal")
	case err := <-errCh:
		slog.Error("server failed", "error", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	if worker != nil {
		if err := worker.Stop(); err != nil {
			slog.Error("failed to stop audit worker", "error", err)
		}
	}
	if direct != nil {
		if err := direct.Flush(shutdownCtx); err != nil {
			slog.Warn("pending audit records lost", "error", err)
		}
	}

	slog.Info("sinergia shutdown complete")
	return nil
}

// openCatalog compiles the rule conditions and loads the first snapshot.
func openCatalog(ctx context.Context, repo domain.Repository, cfg domain.CatalogConfig) (*catalog.Catalog, error) {
	engine, err := rules.NewEngine()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize rule engine: %w", err)
	}

	cat := catalog.New(repo, engine, catalog.WithMaxAttempts(cfg.MaxLoadAttempts))
	snap, err := cat.Reload(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	slog.Info("catalog loaded",
		"version", snap.Version,
		"distributors", len(snap.Distributors()),
		"bonus_types", len(snap.BonusTypes()),
	)
	if len(snap.Distributors()) == 0 {
		slog.Warn("catalog is empty - load reference data with `sinergia seed`")
	}
	return cat, nil
}

func printBanner(cfg *domain.Config, version string) {
	w := os.Stdout
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  +-------------------------------------------+")
	fmt.Fprintln(w, "  |                 SINERGIA                  |")
	fmt.Fprintln(w, "  |     Solar Energy Discount Simulation      |")
	fmt.Fprintln(w, "  +-------------------------------------------+")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Version:  %s\n", version)
	fmt.Fprintf(w, "  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Fprintf(w, "  Tariff:   %.2f per kWh\n", cfg.Simulation.ReferenceTariff)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  Endpoints:")
	fmt.Fprintln(w, "    POST /simulations                - Simulate a discount")
	fmt.Fprintln(w, "    GET  /simulations                - Simulation history")
	fmt.Fprintln(w, "    GET  /simulations/stats          - Simulation statistics")
	fmt.Fprintln(w, "    GET  /states                     - List states")
	fmt.Fprintln(w, "    GET  /states/{id}/distributors   - Distributors in a state")
	fmt.Fprintln(w, "    GET  /distributors/{id}/rules    - Discount rules")
	fmt.Fprintln(w, "    GET  /bonus-types                - List bonus types")
	fmt.Fprintln(w, "    POST /catalog/reload             - Reload reference data")
	fmt.Fprintln(w, "    GET  /health                     - Health check")
	fmt.Fprintln(w)
}
