// Benchmark tool for Kestrel.
// Posts synthetic AP batches with planted late payments and duplicate
// invoices to a running server and compares the reported counts.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// BatchRequest matches the POST /batches body.
type BatchRequest struct {
	AuditID string           `json:"auditId"`
	Module  string           `json:"module"`
	Rows    []map[string]any `json:"rows"`
}

// BatchResponse is the subset of the response the benchmark reads.
type BatchResponse struct {
	BatchID string `json:"batchId"`
	Status  string `json:"status"`
	Summary *struct {
		Rows            int   `json:"rows"`
		FlaggedRows     int   `json:"flaggedRows"`
		DuplicateGroups int   `json:"duplicateGroups"`
		DurationMs      int64 `json:"durationMs"`
	} `json:"summary"`
}

// Batch is one generated extract with its planted anomalies.
type Batch struct {
	Rows       []map[string]any
	Late       int
	Duplicates int
}

// Metrics collects the benchmark outcome.
type Metrics struct {
	Batches   int64
	Rows      int64
	Errors    int64
	Failed    int64
	Planted   int64
	Flagged   int64
	DupsAdded int64
	DupGroups int64

	mu        sync.Mutex
	latencies []time.Duration
}

func (m *Metrics) observe(d time.Duration) {
	m.mu.Lock()
	m.latencies = append(m.latencies, d)
	m.mu.Unlock()
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	batches := flag.Int("batches", 50, "Number of batches to post")
	rows := flag.Int("rows", 500, "Invoices per batch")
	concurrency := flag.Int("concurrency", 4, "Number of concurrent clients")
	lateRate := flag.Float64("late", 0.1, "Share of invoices paid after their due date (0.0-1.0)")
	dupRate := flag.Float64("dups", 0.02, "Share of invoices duplicated under a new transaction (0.0-1.0)")
	seed := flag.Int64("seed", 1, "Random seed")
	verbose := flag.Bool("verbose", false, "Print each batch result")
	flag.Parse()

	if *batches <= 0 || *rows <= 0 || *concurrency <= 0 {
		fmt.Println("Usage: benchmark [-url http://localhost:8080] [-batches 50] [-rows 500]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║          KESTREL BENCHMARK - Synthetic AP Extracts            ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nKestrel URL:  %s\n", *baseURL)
	fmt.Printf("Batches:      %d\n", *batches)
	fmt.Printf("Rows/batch:   %d\n", *rows)
	fmt.Printf("Concurrency:  %d\n", *concurrency)
	fmt.Printf("Late rate:    %.2f\n", *lateRate)
	fmt.Printf("Dup rate:     %.2f\n", *dupRate)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run ./cmd/kestrel serve")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	rng := rand.New(rand.NewSource(*seed))
	work := make([]Batch, *batches)
	for i := range work {
		work[i] = generateBatch(rng, i, *rows, *lateRate, *dupRate)
	}
	fmt.Printf("✓ Generated %d batches\n", len(work))

	fmt.Printf("\nRunning benchmark with %d clients...\n", *concurrency)
	start := time.Now()
	metrics := runBenchmark(work, *baseURL, *concurrency, *verbose)
	printResults(metrics, time.Since(start))
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

// generateBatch builds an AP extract. Every invoice has 30 day terms; late
// invoices are paid 5 to 60 days after the due date, the rest before it.
// Duplicates reuse vendor, invoice number, date and amount of an earlier row.
func generateBatch(rng *rand.Rand, n, rows int, lateRate, dupRate float64) Batch {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := Batch{Rows: make([]map[string]any, 0, rows)}

	for i := 0; i < rows; i++ {
		invoiceDate := base.AddDate(0, 0, rng.Intn(300))
		due := invoiceDate.AddDate(0, 0, 30)
		paid := invoiceDate.AddDate(0, 0, 1+rng.Intn(29))
		if rng.Float64() < lateRate {
			paid = due.AddDate(0, 0, 5+rng.Intn(56))
			b.Late++
		}
		amount := float64(100+rng.Intn(99900)) + float64(rng.Intn(100))/100
		b.Rows = append(b.Rows, map[string]any{
			"TRANSACTION_ID": fmt.Sprintf("B%d-T%d", n, i),
			"ACCOUNT_DOC_ID": fmt.Sprintf("B%d-D%d", n, i),
			"VENDORID":       fmt.Sprintf("V%03d", rng.Intn(200)),
			"COMPANY_CODE":   "1000",
			"INVOICE_NUMBER": fmt.Sprintf("INV-%d-%06d", n, rng.Intn(1000000)),
			"INVOICE_DATE":   invoiceDate.Format("2006-01-02"),
			"POSTING_DATE":   invoiceDate.AddDate(0, 0, rng.Intn(5)).Format("2006-01-02"),
			"DUE_DATE":       due.Format("2006-01-02"),
			"PAYMENT_DATE":   paid.Format("2006-01-02"),
			"DEBIT_AMOUNT":   amount,
			"CREDIT_AMOUNT":  0,
			"INVOICE_AMOUNT": amount,
			"ENTERED_BY":     fmt.Sprintf("USER%02d", rng.Intn(20)),
			"POSTED_BY":      fmt.Sprintf("USER%02d", rng.Intn(20)),
		})
	}

	dups := int(float64(rows) * dupRate)
	for i := 0; i < dups; i++ {
		src := b.Rows[rng.Intn(rows)]
		dup := make(map[string]any, len(src))
		for k, v := range src {
			dup[k] = v
		}
		dup["TRANSACTION_ID"] = fmt.Sprintf("B%d-T%d", n, rows+i)
		dup["ACCOUNT_DOC_ID"] = fmt.Sprintf("B%d-D%d", n, rows+i)
		b.Rows = append(b.Rows, dup)
		b.Duplicates++
	}
	return b
}

func runBenchmark(work []Batch, baseURL string, clients int, verbose bool) *Metrics {
	metrics := &Metrics{}

	ch := make(chan Batch)
	var wg sync.WaitGroup
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 5 * time.Minute}

			for b := range ch {
				start := time.Now()
				result, err := postBatch(client, baseURL, b)
				elapsed := time.Since(start)

				atomic.AddInt64(&metrics.Batches, 1)
				atomic.AddInt64(&metrics.Rows, int64(len(b.Rows)))
				if err != nil {
					atomic.AddInt64(&metrics.Errors, 1)
					if verbose {
						fmt.Printf("ERROR: %v\n", err)
					}
					continue
				}
				metrics.observe(elapsed)
				if result.Status != "completed" || result.Summary == nil {
					atomic.AddInt64(&metrics.Failed, 1)
					continue
				}

				atomic.AddInt64(&metrics.Planted, int64(b.Late))
				atomic.AddInt64(&metrics.Flagged, int64(result.Summary.FlaggedRows))
				atomic.AddInt64(&metrics.DupsAdded, int64(b.Duplicates))
				atomic.AddInt64(&metrics.DupGroups, int64(result.Summary.DuplicateGroups))

				if verbose {
					fmt.Printf("%s | rows: %5d | late: %4d | flagged: %4d | dups: %3d | groups: %3d | %v\n",
						result.BatchID,
						result.Summary.Rows,
						b.Late,
						result.Summary.FlaggedRows,
						b.Duplicates,
						result.Summary.DuplicateGroups,
						elapsed.Round(time.Millisecond),
					)
				}
			}
		}()
	}

	for _, b := range work {
		ch <- b
	}
	close(ch)
	wg.Wait()

	return metrics
}

func postBatch(client *http.Client, baseURL string, b Batch) (*BatchResponse, error) {
	body, err := json.Marshal(BatchRequest{AuditID: "benchmark", Module: "AP", Rows: b.Rows})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+"/batches", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result BatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	i := int(p * float64(len(sorted)-1))
	return sorted[i]
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 VOLUME\n")
	fmt.Printf("   Batches:          %d\n", m.Batches)
	fmt.Printf("   Rows:             %d\n", m.Rows)
	fmt.Printf("   HTTP Errors:      %d\n", m.Errors)
	fmt.Printf("   Failed Batches:   %d\n", m.Failed)

	fmt.Printf("\n🔍 DETECTION\n")
	fmt.Printf("   Late Planted:     %d\n", m.Planted)
	fmt.Printf("   Rows Flagged:     %d\n", m.Flagged)
	if m.Planted > 0 {
		fmt.Printf("   Flag Ratio:       %.2f  (flagged rows per planted late payment)\n", float64(m.Flagged)/float64(m.Planted))
	}
	fmt.Printf("   Dups Planted:     %d\n", m.DupsAdded)
	fmt.Printf("   Dup Groups:       %d\n", m.DupGroups)
	if m.DupsAdded > 0 && m.DupGroups < m.DupsAdded {
		fmt.Println("   ⚠️  Fewer groups than planted duplicates (copies of one row share a group)")
	}

	sort.Slice(m.latencies, func(i, j int) bool { return m.latencies[i] < m.latencies[j] })

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if n := len(m.latencies); n > 0 {
		var total time.Duration
		for _, l := range m.latencies {
			total += l
		}
		fmt.Printf("   Avg Latency:      %v\n", (total / time.Duration(n)).Round(time.Millisecond))
		fmt.Printf("   p50 Latency:      %v\n", percentile(m.latencies, 0.50).Round(time.Millisecond))
		fmt.Printf("   p95 Latency:      %v\n", percentile(m.latencies, 0.95).Round(time.Millisecond))
		fmt.Printf("   p99 Latency:      %v\n", percentile(m.latencies, 0.99).Round(time.Millisecond))
		fmt.Printf("   Throughput:       %.2f rows/sec\n", float64(m.Rows)/duration.Seconds())
	}
	fmt.Println()
}
