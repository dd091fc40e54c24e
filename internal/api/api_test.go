package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sinergia-energia/sinergia/internal/audit"
	"github.com/sinergia-energia/sinergia/internal/cache"
	"github.com/sinergia-energia/sinergia/internal/catalog"
	"github.com/sinergia-energia/sinergia/internal/catalog/catalogtest"
	"github.com/sinergia-energia/sinergia/internal/domain"
	"github.com/sinergia-energia/sinergia/internal/repository"
	"github.com/sinergia-energia/sinergia/internal/rules"
	"github.com/sinergia-energia/sinergia/internal/seed"
	"github.com/sinergia-energia/sinergia/internal/simulation"
	"github.com/sinergia-energia/sinergia/internal/throttle"
)

type testEnv struct {
	server   *Server
	repo     domain.Repository
	cache    *cache.LRUCache
	catalog  *catalog.Catalog
	recorder *audit.DirectRecorder
}

// newTestEnv builds a server over a seeded SQLite database.
func newTestEnv(t *testing.T, throttleLimit int64) *testEnv {
	t.Helper()
	ctx := context.Background()

	repo := newSeededRepository(t)

	engine, err := rules.NewEngine()
	if err != nil {
		t.Fatalf("failed to create rule engine: %v", err)
	}
	cat := catalog.New(repo, engine)
	if _, err := cat.Reload(ctx); err != nil {
		t.Fatalf("failed to load catalog: %v", err)
	}

	lru := cache.NewLRUCache(100)
	recorder := audit.NewDirectRecorder(repo, time.Second, 16)
	simCfg := domain.DefaultConfig().Simulation
	simCfg.ThrottleLimit = throttleLimit

	server := NewServer(domain.DefaultConfig().Server, simCfg, Dependencies{
		Catalog:    cat,
		Simulator:  simulation.NewService(cat, simulation.NewCalculator(simulation.DefaultTariff), recorder),
		Repository: repo,
		Cache:      lru,
		Limiter:    throttle.New(lru, simCfg.ThrottleLimit, simCfg.ThrottleWindow),
		Version:    "test-v1",
	})

	return &testEnv{server: server, repo: repo, cache: lru, catalog: cat, recorder: recorder}
}

func newSeededRepository(t *testing.T) domain.Repository {
	t.Helper()
	repo, err := newSQLite(t)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	if _, err := seed.Apply(context.Background(), repo, catalogtest.Dataset()); err != nil {
		t.Fatalf("failed to seed repository: %v", err)
	}
	return repo
}

func newSQLite(t *testing.T) (domain.Repository, error) {
	t.Helper()
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "api.db"),
	})
	if err == nil {
		t.Cleanup(func() { repo.Close() })
	}
	return repo, err
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "198.51.100.4:40000"

	rr := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to parse response %q: %v", rr.Body.String(), err)
	}
	return v
}

func TestSimulateEndpoint(t *testing.T) {
	env := newTestEnv(t, 0)

	t.Run("RuleApplied", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/simulations", `{"distributorId": 1, "profile": "residential", "consumptionKwh": 450}`)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		result := decode[domain.SimulationResult](t, rr)
		if !result.Eligible || result.Source != domain.SourceRule {
			t.Fatalf("expected eligible rule result, got %+v", result)
		}
		if result.RuleID == nil || *result.RuleID != 103 {
			t.Errorf("expected rule 103, got %v", result.RuleID)
		}
		if !result.DiscountAmount.Equal(decimal.RequireFromString("50.62")) {
			t.Errorf("expected discount 50.62, got %s", result.DiscountAmount)
		}
		if rr.Header().Get(RequestIDHeader) == "" {
			t.Error("expected request id header")
		}
	})

	t.Run("BonusCodeAndVariant", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/simulations", `{"distributorId": 1, "profile": "residential", "consumptionKwh": 450, "bonusCode": "a", "variant": "opt1"}`)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		result := decode[domain.SimulationResult](t, rr)
		if *result.RuleID != 100 || !result.DiscountPercent.Equal(decimal.NewFromInt(18)) {
			t.Errorf("expected rule 100 at 18%%, got rule %d at %s", *result.RuleID, result.DiscountPercent)
		}
	})

	t.Run("Fallback", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/simulations", `{"distributorId": 2, "profile": "commercial", "consumptionKwh": 600}`)
		result := decode[domain.SimulationResult](t, rr)
		if result.Source != domain.SourceFallback || !result.DiscountPercent.Equal(decimal.NewFromInt(15)) {
			t.Errorf("expected fallback 15%%, got %s %s", result.Source, result.DiscountPercent)
		}
	})

	t.Run("IneligibleIsNotAnError", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/simulations", `{"distributorId": 1, "profile": "residential", "consumptionKwh": 50}`)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		result := decode[domain.SimulationResult](t, rr)
		if result.Eligible || result.IneligibilityReason == "" {
			t.Errorf("expected ineligible result with reason, got %+v", result)
		}
	})

	errorCases := []struct {
		name   string
		body   string
		status int
	}{
		{"InvalidJSON", `not-json`, http.StatusBadRequest},
		{"MissingConsumption", `{"distributorId": 1, "profile": "residential"}`, http.StatusBadRequest},
		{"NegativeConsumption", `{"distributorId": 1, "consumptionKwh": -1}`, http.StatusBadRequest},
		{"MissingDistributor", `{"consumptionKwh": 300}`, http.StatusBadRequest},
		{"BadBonusCode", `{"distributorId": 1, "consumptionKwh": 300, "bonusCode": "AB"}`, http.StatusBadRequest},
		{"BadVariant", `{"distributorId": 1, "consumptionKwh": 300, "variant": "opt9"}`, http.StatusBadRequest},
		{"UnknownDistributor", `{"distributorId": 999, "consumptionKwh": 300}`, http.StatusNotFound},
	}
	for _, tc := range errorCases {
		t.Run(tc.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, "/simulations", tc.body)
			if rr.Code != tc.status {
				t.Errorf("expected status %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
			if body := decode[errorResponse](t, rr); body.Error == "" {
				t.Error("expected error message")
			}
		})
	}
}

func TestSimulationHistory(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	for _, body := range []string{
		`{"distributorId": 1, "profile": "residential", "consumptionKwh": 450}`,
		`{"distributorId": 1, "profile": "residential", "consumptionKwh": 700}`,
		`{"distributorId": 2, "profile": "commercial", "consumptionKwh": 600}`,
	} {
		if rr := env.do(t, http.MethodPost, "/simulations", body); rr.Code != http.StatusOK {
			t.Fatalf("simulation failed: %d %s", rr.Code, rr.Body.String())
		}
	}
	if err := env.recorder.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	t.Run("All", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/simulations", "")
		body := decode[struct {
			Simulations []domain.SimulationRecord `json:"simulations"`
			Count       int                       `json:"count"`
		}](t, rr)
		if body.Count != 3 {
			t.Errorf("expected 3 simulations, got %d", body.Count)
		}
		for _, rec := range body.Simulations {
			if rec.RequesterMetadata["ip"] != "198.51.100.4" {
				t.Errorf("expected requester ip in metadata, got %v", rec.RequesterMetadata)
			}
		}
	})

	t.Run("ByDistributorWithLimit", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/simulations?distributorId=1&limit=1", "")
		body := decode[struct {
			Simulations []domain.SimulationRecord `json:"simulations"`
		}](t, rr)
		if len(body.Simulations) != 1 || body.Simulations[0].DistributorID != 1 {
			t.Errorf("expected one record for distributor 1, got %+v", body.Simulations)
		}
	})

	t.Run("BadQuery", func(t *testing.T) {
		for _, q := range []string{"distributorId=x", "limit=0", "limit=-3"} {
			if rr := env.do(t, http.MethodGet, "/simulations?"+q, ""); rr.Code != http.StatusBadRequest {
				t.Errorf("%s: expected 400, got %d", q, rr.Code)
			}
		}
	})

	t.Run("Stats", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/simulations/stats", "")
		stats := decode[domain.SimulationStats](t, rr)
		if stats.TotalSimulations != 3 {
			t.Errorf("expected 3 simulations, got %d", stats.TotalSimulations)
		}
		if stats.MostSimulated == nil || stats.MostSimulated.DistributorID != 1 || stats.MostSimulated.Name != "CEMIG" {
			t.Errorf("expected CEMIG as most simulated, got %+v", stats.MostSimulated)
		}
	})
}

func TestReferenceEndpoints(t *testing.T) {
	env := newTestEnv(t, 0)

	t.Run("States", func(t *testing.T) {
		body := decode[struct {
			States []domain.State `json:"states"`
		}](t, env.do(t, http.MethodGet, "/states", ""))
		if len(body.States) != 3 || body.States[0].Name != "Bahia" {
			t.Errorf("expected 3 states ordered by name, got %+v", body.States)
		}
	})

	t.Run("DistributorsByState", func(t *testing.T) {
		body := decode[struct {
			Distributors []domain.Distributor `json:"distributors"`
		}](t, env.do(t, http.MethodGet, "/states/1/distributors", ""))
		if len(body.Distributors) != 1 || body.Distributors[0].Name != "CEMIG" {
			t.Errorf("expected only active CEMIG, got %+v", body.Distributors)
		}

		empty := decode[struct {
			Distributors []domain.Distributor `json:"distributors"`
		}](t, env.do(t, http.MethodGet, "/states/3/distributors", ""))
		if empty.Distributors == nil || len(empty.Distributors) != 0 {
			t.Errorf("expected empty list, got %v", empty.Distributors)
		}

		if rr := env.do(t, http.MethodGet, "/states/99/distributors", ""); rr.Code != http.StatusNotFound {
			t.Errorf("expected 404 for unknown state, got %d", rr.Code)
		}
		if rr := env.do(t, http.MethodGet, "/states/abc/distributors", ""); rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for bad id, got %d", rr.Code)
		}
	})

	t.Run("Distributors", func(t *testing.T) {
		body := decode[struct {
			Count int `json:"count"`
		}](t, env.do(t, http.MethodGet, "/distributors", ""))
		if body.Count != 2 {
			t.Errorf("expected 2 active distributors, got %d", body.Count)
		}

		d := decode[domain.Distributor](t, env.do(t, http.MethodGet, "/distributors/1", ""))
		if d.MinimumConsumptionKWh != 100 {
			t.Errorf("expected minimum 100, got %d", d.MinimumConsumptionKWh)
		}
		if rr := env.do(t, http.MethodGet, "/distributors/999", ""); rr.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rr.Code)
		}
	})

	t.Run("BonusTypes", func(t *testing.T) {
		body := decode[struct {
			BonusTypes []domain.BonusType `json:"bonusTypes"`
		}](t, env.do(t, http.MethodGet, "/bonus-types", ""))
		if len(body.BonusTypes) != 5 {
			t.Errorf("expected 5 active bonus types, got %d", len(body.BonusTypes))
		}
	})
}

func TestDistributorRulesCache(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	rr := env.do(t, http.MethodGet, "/distributors/1/rules", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	first := decode[distributorRules](t, rr)
	// Inactive rule, tier and bonus type are hidden: 12 rules minus 3.
	if first.Count != 9 {
		t.Errorf("expected 9 active rules, got %d", first.Count)
	}

	key := "rules:1:" + env.catalog.Snapshot().Digest
	if cached, _ := env.cache.Get(ctx, key); cached == nil {
		t.Fatal("expected rules to be cached")
	}

	// Serve from cache: poison the entry and check it is returned as is.
	_ = cache.SetJSON(ctx, env.cache, key, distributorRules{DistributorID: 1, CatalogVersion: 99, Count: -1}, time.Minute)
	cached := decode[distributorRules](t, env.do(t, http.MethodGet, "/distributors/1/rules", ""))
	if cached.Count != -1 {
		t.Errorf("expected cached body, got count %d", cached.Count)
	}
	if cached.CatalogVersion != first.CatalogVersion {
		t.Errorf("expected local version %d on a cache hit, got %d", first.CatalogVersion, cached.CatalogVersion)
	}

	// A reload of different data changes the digest and bypasses the old entry.
	ds := catalogtest.Dataset()
	for _, r := range ds.Rules {
		if r.ID == 103 {
			r.Active = false
			if err := env.repo.SaveRule(ctx, r); err != nil {
				t.Fatalf("SaveRule failed: %v", err)
			}
		}
	}
	if rr := env.do(t, http.MethodPost, "/catalog/reload", ""); rr.Code != http.StatusOK {
		t.Fatalf("reload failed: %d %s", rr.Code, rr.Body.String())
	}
	fresh := decode[distributorRules](t, env.do(t, http.MethodGet, "/distributors/1/rules", ""))
	if fresh.Count != 8 || fresh.CatalogVersion != first.CatalogVersion+1 {
		t.Errorf("expected 8 fresh rules at version %d, got %+v", first.CatalogVersion+1, fresh)
	}

	if rr := env.do(t, http.MethodGet, "/distributors/404/rules", ""); rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestDistributorRulesSharedCache(t *testing.T) {
	env := newTestEnv(t, 0)
	if first := decode[distributorRules](t, env.do(t, http.MethodGet, "/distributors/1/rules", "")); first.Count != 9 {
		t.Fatalf("expected 9 active rules, got %d", first.Count)
	}

	// A second instance shares the cache and sits at the same local version,
	// but loaded a dataset without rule 103.
	ds := catalogtest.Dataset()
	for _, r := range ds.Rules {
		if r.ID == 103 {
			r.Active = false
		}
	}
	engine, err := rules.NewEngine()
	if err != nil {
		t.Fatalf("failed to create rule engine: %v", err)
	}
	peerCatalog := catalog.New(nil, engine)
	if _, err := peerCatalog.Load(ds); err != nil {
		t.Fatalf("failed to load dataset: %v", err)
	}
	if peerCatalog.Snapshot().Version != env.catalog.Snapshot().Version {
		t.Fatalf("expected equal local versions, got %d and %d", peerCatalog.Snapshot().Version, env.catalog.Snapshot().Version)
	}
	peer := NewServer(domain.DefaultConfig().Server, domain.DefaultConfig().Simulation, Dependencies{
		Catalog: peerCatalog,
		Cache:   env.cache,
	})

	rr := httptest.NewRecorder()
	peer.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/distributors/1/rules", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := decode[distributorRules](t, rr); got.Count != 8 {
		t.Errorf("expected the peer's own 8 rules, got %d", got.Count)
	}
}

func TestCatalogReload(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	// Deactivate CEMIG's best tier-13 rule in the store, then reload.
	ds := catalogtest.Dataset()
	for _, r := range ds.Rules {
		if r.ID == 103 {
			r.Active = false
			if err := env.repo.SaveRule(ctx, r); err != nil {
				t.Fatalf("SaveRule failed: %v", err)
			}
		}
	}

	before := decode[domain.SimulationResult](t, env.do(t, http.MethodPost, "/simulations", `{"distributorId": 1, "consumptionKwh": 450}`))
	if *before.RuleID != 103 {
		t.Fatalf("expected old snapshot to still apply rule 103, got %d", *before.RuleID)
	}

	rr := env.do(t, http.MethodPost, "/catalog/reload", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("reload failed: %d %s", rr.Code, rr.Body.String())
	}
	body := decode[map[string]any](t, rr)
	if body["catalogVersion"].(float64) != 2 {
		t.Errorf("expected catalog version 2, got %v", body["catalogVersion"])
	}

	after := decode[domain.SimulationResult](t, env.do(t, http.MethodPost, "/simulations", `{"distributorId": 1, "consumptionKwh": 450}`))
	if *after.RuleID != 100 {
		t.Errorf("expected rule 100 after reload, got %d", *after.RuleID)
	}
}

func TestThrottle(t *testing.T) {
	env := newTestEnv(t, 2)
	body := `{"distributorId": 1, "consumptionKwh": 450}`

	for i := 0; i < 2; i++ {
		if rr := env.do(t, http.MethodPost, "/simulations", body); rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rr.Code)
		}
	}

	rr := env.do(t, http.MethodPost, "/simulations", body)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}

	// Reads are never throttled.
	if rr := env.do(t, http.MethodGet, "/distributors", ""); rr.Code != http.StatusOK {
		t.Errorf("expected reads to pass, got %d", rr.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, 0)

	t.Run("Health", func(t *testing.T) {
		body := decode[map[string]any](t, env.do(t, http.MethodGet, "/health", ""))
		if body["status"] != "healthy" {
			t.Errorf("expected healthy, got %v", body["status"])
		}
		if body["version"] != "test-v1" {
			t.Errorf("expected version test-v1, got %v", body["version"])
		}
	})

	t.Run("Ready", func(t *testing.T) {
		if rr := env.do(t, http.MethodGet, "/ready", ""); rr.Code != http.StatusOK {
			t.Errorf("expected ready, got %d", rr.Code)
		}

		engine, _ := rules.NewEngine()
		cold := NewServer(domain.DefaultConfig().Server, domain.DefaultConfig().Simulation, Dependencies{
			Catalog: catalog.New(nil, engine),
		})
		rr := httptest.NewRecorder()
		cold.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))
		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("expected 503 before the first load, got %d", rr.Code)
		}
	})

	t.Run("Metrics", func(t *testing.T) {
		env.do(t, http.MethodPost, "/simulations", `{"distributorId": 1, "consumptionKwh": 450}`)

		rr := env.do(t, http.MethodGet, "/metrics", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		text := rr.Body.String()
		for _, want := range []string{
			`sinergia_simulations_total{eligible="true",source="rule"} 1`,
			`sinergia_catalog_version 1`,
			`sinergia_http_requests_total`,
		} {
			if !strings.Contains(text, want) {
				t.Errorf("expected metrics to contain %q", want)
			}
		}
	})

	t.Run("CORSPreflight", func(t *testing.T) {
		rr := env.do(t, http.MethodOptions, "/simulations", "")
		if rr.Code != http.StatusNoContent {
			t.Errorf("expected 204, got %d", rr.Code)
		}
		if rr.Header().Get("Access-Control-Allow-Origin") == "" {
			t.Error("expected CORS headers")
		}
	})
}
