package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/sinergia-energia/sinergia/internal/cache"
	"github.com/sinergia-energia/sinergia/internal/catalog"
	"github.com/sinergia-energia/sinergia/internal/domain"
	"github.com/sinergia-energia/sinergia/internal/simulation"
	"github.com/sinergia-energia/sinergia/internal/throttle"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	catalog   *catalog.Catalog
	notifier  *catalog.Notifier
	simulator *simulation.Service
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	metrics   *Metrics
	validate  *validator.Validate
	cfg       domain.SimulationConfig
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(deps Dependencies, cfg domain.SimulationConfig, metrics *Metrics) *Handler {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 100
	}
	if cfg.RulesCacheTTL <= 0 {
		cfg.RulesCacheTTL = 5 * time.Minute
	}
	return &Handler{
		catalog:   deps.Catalog,
		notifier:  deps.Notifier,
		simulator: deps.Simulator,
		repo:      deps.Repository,
		cache:     deps.Cache,
		bus:       deps.Bus,
		metrics:   metrics,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		cfg:       cfg,
		version:   deps.Version,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// SimulationRequest is the request body for POST /simulations.
type SimulationRequest struct {
	DistributorID  int64    `json:"distributorId" validate:"required,gt=0"`
	Profile        string   `json:"profile" validate:"omitempty,max=32"`
	ConsumptionKWh *float64 `json:"consumptionKwh" validate:"required,gte=0"`
	BonusCode      string   `json:"bonusCode,omitempty" validate:"omitempty,len=1,alpha"`
	Variant        string   `json:"variant,omitempty" validate:"omitempty,max=16"`
}

// Simulate handles POST /simulations.
func (h *Handler) Simulate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SimulationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON request body"})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: describeValidation(err)})
		return
	}

	result, err := h.simulator.Simulate(ctx, domain.SimulationRequest{
		DistributorID:  req.DistributorID,
		Profile:        req.Profile,
		ConsumptionKWh: *req.ConsumptionKWh,
		BonusCode:      req.BonusCode,
		Variant:        req.Variant,
		Requester: map[string]string{
			"ip":         throttle.ClientIP(r),
			"user_agent": r.UserAgent(),
			"request_id": GetRequestID(ctx),
		},
	})
	if err != nil {
		writeError(w, err)
		return
	}

	h.metrics.observeSimulation(result)
	writeJSON(w, http.StatusOK, result)
}

// ListSimulations handles GET /simulations?distributorId=&limit=.
func (h *Handler) ListSimulations(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "repository not available"})
		return
	}

	filter := domain.SimulationFilter{Limit: h.cfg.HistoryLimit}

	if raw := r.URL.Query().Get("distributorId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "distributorId must be a positive integer"})
			return
		}
		filter.DistributorID = &id
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		filter.Limit = min(limit, h.cfg.HistoryLimit)
	}

	records, err := h.repo.ListSimulations(r.Context(), filter)
	if err != nil {
		slog.Error("failed to list simulations", "error", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"simulations": records,
		"count":       len(records),
	})
}

// SimulationStats handles GET /simulations/stats.
func (h *Handler) SimulationStats(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "repository not available"})
		return
	}

	stats, err := h.repo.SimulationStats(r.Context())
	if err != nil {
		slog.Error("failed to compute simulation stats", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ListStates handles GET /states.
func (h *Handler) ListStates(w http.ResponseWriter, r *http.Request) {
	states := h.catalog.Snapshot().States()
	writeJSON(w, http.StatusOK, map[string]any{
		"states": nonNil(states),
		"count":  len(states),
	})
}

// ListDistributorsByState handles GET /states/{id}/distributors.
func (h *Handler) ListDistributorsByState(w http.ResponseWriter, r *http.Request) {
	stateID, ok := pathID(w, r)
	if !ok {
		return
	}

	distributors, err := h.catalog.Snapshot().DistributorsByState(stateID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"distributors": nonNil(distributors),
		"count":        len(distributors),
	})
}

// ListDistributors handles GET /distributors.
func (h *Handler) ListDistributors(w http.ResponseWriter, r *http.Request) {
	distributors := h.catalog.Snapshot().Distributors()
	writeJSON(w, http.StatusOK, map[string]any{
		"distributors": nonNil(distributors),
		"count":        len(distributors),
	})
}

// GetDistributor handles GET /distributors/{id}.
func (h *Handler) GetDistributor(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	d, found := h.catalog.Snapshot().Distributor(id)
	if !found {
		writeError(w, domain.NotFoundf("distributor %d", id))
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// distributorRules is the cached body of GET /distributors/{id}/rules.
type distributorRules struct {
	DistributorID  int64              `json:"distributorId"`
	CatalogVersion uint64             `json:"catalogVersion"`
	Rules          []catalog.RuleView `json:"rules"`
	Count          int                `json:"count"`
}

// ListDistributorRules handles GET /distributors/{id}/rules. Responses are
// cached per dataset digest, so a reload never serves stale rules and
// instances sharing a Redis cache never read each other's older data.
func (h *Handler) ListDistributorRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	snap := h.catalog.Snapshot()
	key := fmt.Sprintf("rules:%d:%s", id, snap.Digest)

	var body distributorRules
	if h.cache != nil {
		hit, err := cache.GetJSON(ctx, h.cache, key, &body)
		if err != nil {
			slog.Warn("rules cache read failed", "key", key, "error", err)
		}
		if hit {
			// Another instance may have written the entry.
			body.CatalogVersion = snap.Version
			writeJSON(w, http.StatusOK, body)
			return
		}
	}

	views, err := snap.RulesByDistributor(id)
	if err != nil {
		writeError(w, err)
		return
	}
	body = distributorRules{
		DistributorID:  id,
		CatalogVersion: snap.Version,
		Rules:          views,
		Count:          len(views),
	}

	if h.cache != nil {
		if err := cache.SetJSON(ctx, h.cache, key, body, h.cfg.RulesCacheTTL); err != nil {
			slog.Warn("rules cache write failed", "key", key, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, body)
}

// ListBonusTypes handles GET /bonus-types.
func (h *Handler) ListBonusTypes(w http.ResponseWriter, r *http.Request) {
	bonusTypes := h.catalog.Snapshot().BonusTypes()
	writeJSON(w, http.StatusOK, map[string]any{
		"bonusTypes": nonNil(bonusTypes),
		"count":      len(bonusTypes),
	})
}

// ReloadCatalog handles POST /catalog/reload. A failed reload keeps the
// current snapshot.
func (h *Handler) ReloadCatalog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	reload := h.catalog.Reload
	if h.notifier != nil {
		reload = h.notifier.ReloadAndAnnounce
	}

	snap, err := reload(ctx)
	if err != nil {
		h.metrics.reloadFailures.Inc()
		slog.Error("catalog reload failed", "error", err)
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrValidation) {
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, status, map[string]any{
			"error":          "failed to reload catalog: " + err.Error(),
			"catalogVersion": h.catalog.Snapshot().Version,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":        "catalog reloaded successfully",
		"catalogVersion": snap.Version,
		"loadedAt":       snap.LoadedAt,
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "healthy"
	checks := map[string]string{}

	check := func(name string, ping func(context.Context) error) {
		if err := ping(ctx); err != nil {
			checks[name] = err.Error()
			status = "degraded"
			return
		}
		checks[name] = "ok"
	}
	if h.repo != nil {
		check("repository", h.repo.Ping)
	}
	if h.cache != nil {
		check("cache", h.cache.Ping)
	}
	if h.bus != nil {
		check("eventBus", h.bus.Ping)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":         status,
		"version":        h.version,
		"catalogVersion": h.catalog.Snapshot().Version,
		"checks":         checks,
	})
}

// Ready reports whether a catalog has been loaded.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.catalog.Snapshot().Version == 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready": "false",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "id must be a positive integer"})
		return 0, false
	}
	return id, true
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field()[:1]) + fe.Field()[1:]
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "gt":
			msgs = append(msgs, fmt.Sprintf("%s must be greater than %s", field, fe.Param()))
		case "gte":
			msgs = append(msgs, field+" must not be negative")
		case "len", "alpha":
			msgs = append(msgs, field+" must be a single letter")
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s validation", field, fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

// writeError maps domain errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	default:
		slog.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
