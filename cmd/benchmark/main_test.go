package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const casesCSV = `distributor_id,profile,consumption_kwh,bonus_code,variant,expected_percent,expected_eligible
1,residential,450,,,15,true
1,residential,50,,,,false
1,commercial,450,A,opt1,18,
2,,300,,,10,true
3,,300,,,,
`

func TestReadCases(t *testing.T) {
	cases, err := readCases(strings.NewReader(casesCSV), 0)
	if err != nil {
		t.Fatalf("readCases failed: %v", err)
	}
	if len(cases) != 5 {
		t.Fatalf("expected 5 cases, got %d", len(cases))
	}

	first := cases[0]
	if first.DistributorID != 1 || first.ConsumptionKWh != 450 || first.Line != 2 {
		t.Errorf("unexpected first case %+v", first)
	}
	if first.ExpectedPercent == nil || first.ExpectedPercent.String() != "15" {
		t.Errorf("expected percent 15, got %v", first.ExpectedPercent)
	}
	if first.ExpectedEligible == nil || !*first.ExpectedEligible {
		t.Error("expected eligible label")
	}
	if cases[2].BonusCode != "A" || cases[2].Variant != "opt1" || cases[2].ExpectedEligible != nil {
		t.Errorf("unexpected third case %+v", cases[2])
	}
	if cases[4].ExpectedPercent != nil || cases[4].ExpectedEligible != nil {
		t.Error("expected last case to be unlabelled")
	}

	limited, err := readCases(strings.NewReader(casesCSV), 2)
	if err != nil || len(limited) != 2 {
		t.Errorf("expected 2 limited cases, got %d (%v)", len(limited), err)
	}
}

func TestReadCasesErrors(t *testing.T) {
	inputs := map[string]string{
		"Empty":         "",
		"MissingColumn": "profile,consumption_kwh\nresidential,100\n",
		"BadID":         "distributor_id,consumption_kwh\nabc,100\n",
		"BadKWh":        "distributor_id,consumption_kwh\n1,lots\n",
		"BadPercent":    "distributor_id,consumption_kwh,expected_percent\n1,100,ten\n",
		"BadEligible":   "distributor_id,consumption_kwh,expected_eligible\n1,100,maybe\n",
	}
	for name, input := range inputs {
		t.Run(name, func(t *testing.T) {
			if _, err := readCases(strings.NewReader(input), 0); err == nil {
				t.Error("expected error")
			}
		})
	}
}

// fakeServer answers like the simulation endpoint: distributor 3 is unknown,
// distributor 1 below 100 kWh is ineligible, and 2 falls back to 10%.
func fakeServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/simulations" {
			http.NotFound(w, r)
			return
		}
		var req SimulationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		resp := map[string]any{"id": "sim", "eligible": true, "source": "rule", "annualSavings": "607.44"}
		switch {
		case req.DistributorID == 3:
			w.WriteHeader(http.StatusNotFound)
			return
		case req.DistributorID == 1 && req.ConsumptionKWh < 100:
			resp["eligible"] = false
			resp["source"] = "none"
			resp["discountPercent"] = "0"
		case req.DistributorID == 1 && req.Variant == "opt1":
			resp["discountPercent"] = "18"
		case req.DistributorID == 1:
			resp["discountPercent"] = "15"
		default:
			resp["source"] = "fallback"
			resp["discountPercent"] = "12"
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestRunBenchmark(t *testing.T) {
	srv := fakeServer(t)
	defer srv.Close()

	cases, err := readCases(strings.NewReader(casesCSV), 0)
	if err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	m := runBenchmark(cases, srv.URL, 3, true, &out)

	if m.TotalProcessed != 5 {
		t.Errorf("expected 5 processed, got %d", m.TotalProcessed)
	}
	if m.TotalErrors != 1 {
		t.Errorf("expected 1 error for the unknown distributor, got %d", m.TotalErrors)
	}
	// Distributor 2 expects 10 but gets the 12% fallback.
	if m.Matched != 3 || m.Mismatched != 1 {
		t.Errorf("expected 3 matched and 1 mismatched, got %d and %d", m.Matched, m.Mismatched)
	}
	if m.Ineligible != 1 || m.Eligible != 3 {
		t.Errorf("expected 3 eligible and 1 ineligible, got %d and %d", m.Eligible, m.Ineligible)
	}
	if m.FromFallback != 1 {
		t.Errorf("expected 1 fallback, got %d", m.FromFallback)
	}
	if !strings.Contains(out.String(), "ERROR line 6") {
		t.Errorf("expected verbose error line, got:\n%s", out.String())
	}

	out.Reset()
	printResults(&out, m, time.Second)
	if !strings.Contains(out.String(), "Agreement:   75.00%") {
		t.Errorf("unexpected report:\n%s", out.String())
	}
}

func TestRunBenchmarkThrottled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	m := runBenchmark([]Case{{DistributorID: 1, ConsumptionKWh: 100}}, srv.URL, 1, false, &bytes.Buffer{})
	if m.TotalThrottle != 1 || m.TotalErrors != 0 {
		t.Errorf("expected 1 throttled and no errors, got %d and %d", m.TotalThrottle, m.TotalErrors)
	}
}

func TestCheckHealth(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer healthy.Close()
	if err := checkHealth(healthy.URL); err != nil {
		t.Errorf("expected healthy, got %v", err)
	}

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()
	if err := checkHealth(down.URL); err == nil {
		t.Error("expected unhealthy error")
	}
}
