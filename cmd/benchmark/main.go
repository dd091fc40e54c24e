// Benchmark tool for replaying simulation cases against a running Sinergia.
//
// Usage:
//
//	go run ./cmd/benchmark -csv /path/to/cases.csv -url http://localhost:8080
//
// This tool:
//  1. Reads simulation cases, optionally labelled with the expected outcome
//  2. Sends each case to POST /simulations
//  3. Compares the applied discount and eligibility with the labels
//  4. Reports agreement, throttling, errors and latency
//
// The CSV header names the columns; only distributor_id and consumption_kwh
// are required:
//
//	distributor_id,profile,consumption_kwh,bonus_code,variant,expected_percent,expected_eligible
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// Case is one row of the replay file.
type Case struct {
	Line             int
	DistributorID    int64
	Profile          string
	ConsumptionKWh   float64
	BonusCode        string
	Variant          string
	ExpectedPercent  *decimal.Decimal
	ExpectedEligible *bool
}

// SimulationRequest is the API request body.
type SimulationRequest struct {
	DistributorID  int64   `json:"distributorId"`
	Profile        string  `json:"profile,omitempty"`
	ConsumptionKWh float64 `json:"consumptionKwh"`
	BonusCode      string  `json:"bonusCode,omitempty"`
	Variant        string  `json:"variant,omitempty"`
}

// SimulationResponse holds the response fields the replay checks.
type SimulationResponse struct {
	ID              string          `json:"id"`
	Eligible        bool            `json:"eligible"`
	Source          string          `json:"source"`
	DiscountPercent decimal.Decimal `json:"discountPercent"`
	AnnualSavings   decimal.Decimal `json:"annualSavings"`
}

var errThrottled = errors.New("throttled")

// Metrics tracks replay results
type Metrics struct {
	Matched    int64 // Every provided label agreed
	Mismatched int64 // At least one label disagreed
	Unlabelled int64 // No expectation to compare against

	Eligible      int64
	Ineligible    int64
	FromRule      int64
	FromFallback  int64
	TotalThrottle int64
	TotalErrors   int64

	TotalProcessed   int64
	ProcessingTimeMs int64
}

func main() {
	csvPath := flag.String("csv", "", "Path to the cases CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Sinergia base URL")
	limit := flag.Int("limit", 10000, "Maximum cases to replay (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each case result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/cases.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("+---------------------------------------------------------------+")
	fmt.Println("|           SINERGIA BENCHMARK - Simulation Replay              |")
	fmt.Println("+---------------------------------------------------------------+")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("URL:         %s\n", *baseURL)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Sinergia not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure the server is running:")
		fmt.Println("  go run ./cmd/sinergia serve")
		os.Exit(1)
	}
	fmt.Println("OK  server is healthy")

	file, err := os.Open(*csvPath)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	cases, err := readCases(file, *limit)
	file.Close()
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("OK  loaded %d cases\n", len(cases))

	fmt.Printf("\nReplaying with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(cases, *baseURL, *workers, *verbose, os.Stdout)
	duration := time.Since(startTime)

	printResults(os.Stdout, metrics, duration)
	if metrics.Mismatched > 0 {
		os.Exit(2)
	}
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func readCases(r io.Reader, limit int) ([]Case, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, required := range []string{"distributor_id", "consumption_kwh"} {
		if _, ok := colIndex[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}

	field := func(record []string, name string) string {
		i, ok := colIndex[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var cases []Case
	line := 1
	for {
		record, err := reader.Read()
		line++
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		c := Case{
			Line:      line,
			Profile:   field(record, "profile"),
			BonusCode: field(record, "bonus_code"),
			Variant:   field(record, "variant"),
		}
		if c.DistributorID, err = strconv.ParseInt(field(record, "distributor_id"), 10, 64); err != nil {
			return nil, fmt.Errorf("line %d: bad distributor_id: %w", line, err)
		}
		if c.ConsumptionKWh, err = strconv.ParseFloat(field(record, "consumption_kwh"), 64); err != nil {
			return nil, fmt.Errorf("line %d: bad consumption_kwh: %w", line, err)
		}
		if v := field(record, "expected_percent"); v != "" {
			d, err := decimal.NewFromString(v)
			if err != nil {
				return nil, fmt.Errorf("line %d: bad expected_percent: %w", line, err)
			}
			c.ExpectedPercent = &d
		}
		if v := field(record, "expected_eligible"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("line %d: bad expected_eligible: %w", line, err)
			}
			c.ExpectedEligible = &b
		}

		cases = append(cases, c)
		if limit > 0 && len(cases) >= limit {
			break
		}
	}

	return cases, nil
}

// compare reports whether res agrees with every label on c. ok is false when
// c carries no labels.
func compare(c Case, res *SimulationResponse) (match, ok bool) {
	if c.ExpectedPercent == nil && c.ExpectedEligible == nil {
		return false, false
	}
	match = true
	if c.ExpectedPercent != nil && !c.ExpectedPercent.Equal(res.DiscountPercent) {
		match = false
	}
	if c.ExpectedEligible != nil && *c.ExpectedEligible != res.Eligible {
		match = false
	}
	return match, true
}

func runBenchmark(cases []Case, baseURL string, numWorkers int, verbose bool, out io.Writer) *Metrics {
	metrics := &Metrics{}
	if numWorkers <= 0 {
		numWorkers = 1
	}

	work := make(chan Case, 100)
	var (
		wg    sync.WaitGroup
		outMu sync.Mutex
	)

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for c := range work {
				start := time.Now()
				result, err := simulateCase(client, baseURL, c)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if errors.Is(err, errThrottled) {
					atomic.AddInt64(&metrics.TotalThrottle, 1)
					continue
				}
				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						outMu.Lock()
						fmt.Fprintf(out, "ERROR line %d -> %v\n", c.Line, err)
						outMu.Unlock()
					}
					continue
				}

				if result.Eligible {
					atomic.AddInt64(&metrics.Eligible, 1)
				} else {
					atomic.AddInt64(&metrics.Ineligible, 1)
				}
				switch result.Source {
				case "rule":
					atomic.AddInt64(&metrics.FromRule, 1)
				case "fallback":
					atomic.AddInt64(&metrics.FromFallback, 1)
				}

				match, labelled := compare(c, result)
				switch {
				case !labelled:
					atomic.AddInt64(&metrics.Unlabelled, 1)
				case match:
					atomic.AddInt64(&metrics.Matched, 1)
				default:
					atomic.AddInt64(&metrics.Mismatched, 1)
				}

				if verbose {
					status := " "
					if labelled {
						status = "+"
						if !match {
							status = "x"
						}
					}
					outMu.Lock()
					fmt.Fprintf(out, "%s line %-5d | Dist: %-4d | kWh: %9.2f | Eligible: %-5v | %-8s %6s%% | Annual: %10s\n",
						status,
						c.Line,
						c.DistributorID,
						c.ConsumptionKWh,
						result.Eligible,
						result.Source,
						result.DiscountPercent.String(),
						result.AnnualSavings.StringFixed(2),
					)
					outMu.Unlock()
				}
			}
		}()
	}

	for _, c := range cases {
		work <- c
	}
	close(work)

	wg.Wait()

	return metrics
}

func simulateCase(client *http.Client, baseURL string, c Case) (*SimulationResponse, error) {
	body, err := json.Marshal(SimulationRequest{
		DistributorID:  c.DistributorID,
		Profile:        c.Profile,
		ConsumptionKWh: c.ConsumptionKWh,
		BonusCode:      c.BonusCode,
		Variant:        c.Variant,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/simulations", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, errThrottled
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result SimulationResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func printResults(w io.Writer, m *Metrics, duration time.Duration) {
	fmt.Fprintln(w, "\n+---------------------------------------------------------------+")
	fmt.Fprintln(w, "|                       REPLAY RESULTS                          |")
	fmt.Fprintln(w, "+---------------------------------------------------------------+")

	fmt.Fprintf(w, "\nCASES\n")
	fmt.Fprintf(w, "   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Fprintf(w, "   Eligible:         %d\n", m.Eligible)
	fmt.Fprintf(w, "   Ineligible:       %d\n", m.Ineligible)
	fmt.Fprintf(w, "   Rule / Fallback:  %d / %d\n", m.FromRule, m.FromFallback)
	fmt.Fprintf(w, "   Throttled:        %d\n", m.TotalThrottle)
	fmt.Fprintf(w, "   Errors:           %d\n", m.TotalErrors)

	labelled := m.Matched + m.Mismatched
	fmt.Fprintf(w, "\nAGREEMENT\n")
	fmt.Fprintf(w, "   Matched:     %d\n", m.Matched)
	fmt.Fprintf(w, "   Mismatched:  %d\n", m.Mismatched)
	fmt.Fprintf(w, "   Unlabelled:  %d\n", m.Unlabelled)
	if labelled > 0 {
		fmt.Fprintf(w, "   Agreement:   %.2f%%\n", 100*float64(m.Matched)/float64(labelled))
	}

	fmt.Fprintf(w, "\nPERFORMANCE\n")
	fmt.Fprintf(w, "   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		rps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Fprintf(w, "   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Fprintf(w, "   Throughput:       %.2f req/sec\n", rps)
	}
	if m.TotalThrottle > 0 {
		fmt.Fprintln(w, "\n   Some cases were throttled: raise SINERGIA_SIMULATION_THROTTLELIMIT or use fewer workers.")
	}

	fmt.Fprintln(w)
}
