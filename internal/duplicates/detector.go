// Package duplicates finds near-duplicate AP invoices scenario by scenario
// and groups them transitively.
package duplicates

import (
	"context"
	"log/slog"
	"math"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/dates"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/frame"
	"github.com/opensource-finance/kestrel/internal/textnorm"
)

// Options tunes a Detector.
type Options struct {
	// Workers is the size of the group worker pool. Zero means cores - 1.
	Workers int

	// DateThresholdDays bounds the posting-date gap of the exact-key scenario.
	DateThresholdDays int

	// SimilarityThreshold is the InvoiceSimilarity cut-off (0-100).
	SimilarityThreshold float64

	// KeyColumn identifies rows. Defaults to TRANSACTION_ID.
	KeyColumn string
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		Workers:             max(runtime.NumCPU()-1, 1),
		DateThresholdDays:   7,
		SimilarityThreshold: DefaultSimilarityThreshold,
		KeyColumn:           domain.ColTransactionID,
	}
}

// Pair is one detected duplicate pair. A and B are sorted.
type Pair struct {
	A, B       string
	ScenarioID int
	Score      float64
}

// Result is the outcome of a detection run.
type Result struct {
	// Frame is a copy of the input with the duplicate output columns.
	Frame *frame.Frame

	Members []domain.DuplicateMember
	Pairs   []Pair
	Groups  int
}

// Detector runs the scenario table over a batch.
type Detector struct {
	opts      Options
	scenarios []domain.Scenario
}

// NewDetector creates a detector over the active scenarios, ordered by ID.
func NewDetector(scenarios []domain.Scenario, opts Options) *Detector {
	def := DefaultOptions()
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}
	if opts.DateThresholdDays <= 0 {
		opts.DateThresholdDays = def.DateThresholdDays
	}
	if opts.SimilarityThreshold <= 0 {
		opts.SimilarityThreshold = def.SimilarityThreshold
	}
	if opts.KeyColumn == "" {
		opts.KeyColumn = def.KeyColumn
	}

	var active []domain.Scenario
	for _, s := range scenarios {
		if s.Active {
			active = append(active, s)
		}
	}
	sort.SliceStable(active, func(i, j int) bool { return active[i].ID < active[j].ID })

	return &Detector{opts: opts, scenarios: active}
}

// Scenarios returns the active scenarios in evaluation order.
func (d *Detector) Scenarios() []domain.Scenario {
	out := make([]domain.Scenario, len(d.scenarios))
	copy(out, d.scenarios)
	return out
}

// edge is a duplicate pair by row index, i < j.
type edge struct {
	i, j  int
	score float64
}

// groupResult is what one worker returns for one group.
type groupResult struct {
	edges    []edge
	compared int
}

// Detect runs every scenario in order. A row joins the group of the first
// scenario that finds it; later scenarios only group the rows still free.
func (d *Detector) Detect(ctx context.Context, f *frame.Frame) *Result {
	start := time.Now()
	out := f.Clone()
	n := out.Len()

	pks := make([]string, n)
	for i := range pks {
		pks[i] = out.Str(d.opts.KeyColumn, i)
	}

	res := &Result{Frame: out}
	assigned := make([]bool, n)
	dupID := make([]any, n)
	scenarioID := make([]any, n)
	count := make([]any, n)
	risk := make([]any, n)
	nextID := 1

	for _, sc := range d.scenarios {
		cols := append([]string{}, sc.GroupBy...)
		if out.Has(domain.ColRegion) {
			cols = append(cols, domain.ColRegion)
		}
		if missing := out.Missing(append(append([]string{}, cols...), sc.SimilarityColumns...)); len(missing) > 0 {
			slog.Warn("scenario columns missing, skipping",
				"scenario_id", sc.ID,
				"missing", strings.Join(missing, ","),
			)
			continue
		}

		// Rows claimed by an earlier scenario are dropped before pairing so
		// they cannot link free rows into one component.
		var groups [][]int
		for _, g := range out.GroupBy(cols...) {
			var free []int
			for _, r := range g.Rows {
				if !assigned[r] {
					free = append(free, r)
				}
			}
			if len(free) > 1 {
				groups = append(groups, free)
			}
		}
		edges, compared := d.runGroups(ctx, out, sc, groups)

		for _, e := range edges {
			a, b := pks[e.i], pks[e.j]
			if b < a {
				a, b = b, a
			}
			res.Pairs = append(res.Pairs, Pair{A: a, B: b, ScenarioID: sc.ID, Score: e.score})
		}

		for _, comp := range components(edges) {
			members := comp.rows
			if len(members) < 2 {
				continue
			}
			key := groupKey(sc.ID, members, pks)
			for _, r := range members {
				assigned[r] = true
				dupID[r] = nextID
				scenarioID[r] = sc.ID
				count[r] = len(members)
				risk[r] = comp.score
				res.Members = append(res.Members, domain.DuplicateMember{
					TransactionID:  pks[r],
					DuplicateID:    nextID,
					GroupKey:       key,
					ScenarioID:     sc.ID,
					NoOfDuplicates: len(members),
					RiskScore:      comp.score,
				})
			}
			nextID++
			res.Groups++
		}

		slog.Debug("scenario evaluated",
			"scenario_id", sc.ID,
			"groups", len(groups),
			"pairs_compared", compared,
			"duplicate_pairs", len(edges),
		)
	}

	_ = out.Set(domain.ColDuplicateID, dupID)
	_ = out.Set(domain.ColScenarioID, scenarioID)
	_ = out.Set(domain.ColNoOfDuplicates, count)
	_ = out.Set(domain.ColDuplicateRisk, risk)

	slog.Info("duplicate detection complete",
		"rows", n,
		"scenarios", len(d.scenarios),
		"duplicate_groups", res.Groups,
		"duplicate_rows", len(res.Members),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res
}

// runGroups compares the pairs of every group on the worker pool. Workers
// only read the frame; results are merged here in group order.
func (d *Detector) runGroups(ctx context.Context, f *frame.Frame, sc domain.Scenario, groups [][]int) ([]edge, int) {
	results := make([]groupResult, len(groups))
	var wg sync.WaitGroup
	sem := make(chan struct{}, d.opts.Workers)

	for gi, rows := range groups {
		wg.Add(1)
		go func(idx int, rows []int) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			if ctx.Err() != nil {
				return
			}
			results[idx] = d.compareGroup(f, sc, rows)
		}(gi, rows)
	}
	wg.Wait()

	var edges []edge
	compared := 0
	for _, r := range results {
		edges = append(edges, r.edges...)
		compared += r.compared
	}
	return edges, compared
}

func (d *Detector) compareGroup(f *frame.Frame, sc domain.Scenario, rows []int) groupResult {
	var res groupResult
	for a := 0; a < len(rows); a++ {
		for b := a + 1; b < len(rows); b++ {
			i, j := rows[a], rows[b]
			if !current(f, i) && !current(f, j) {
				continue
			}
			res.compared++
			if ok, score := d.comparePair(f, sc, i, j); ok {
				res.edges = append(res.edges, edge{i: i, j: j, score: score})
			}
		}
	}
	return res
}

// current reports whether a row belongs to the batch being processed rather
// than to history. Rows without the flag are current.
func current(f *frame.Frame, i int) bool {
	if !f.Has(domain.ColIsCurrentData) || f.IsNull(domain.ColIsCurrentData, i) {
		return true
	}
	return f.Flag(domain.ColIsCurrentData, i) == 1
}

func (d *Detector) comparePair(f *frame.Frame, sc domain.Scenario, i, j int) (bool, float64) {
	if len(sc.SimilarityColumns) == 0 {
		return d.exactKeyPair(f, i, j)
	}
	return InvoiceSimilarity(
		similarityString(f, sc.SimilarityColumns, i),
		similarityString(f, sc.SimilarityColumns, j),
		d.opts.SimilarityThreshold,
	)
}

// exactKeyPair handles scenarios without similarity columns: purely numeric
// invoice numbers on both sides are never duplicates; otherwise the posting
// dates (invoice dates when no posting date exists) must be close.
func (d *Detector) exactKeyPair(f *frame.Frame, i, j int) (bool, float64) {
	if textnorm.IsDigits(f.Str(domain.ColInvoiceNumber, i)) && textnorm.IsDigits(f.Str(domain.ColInvoiceNumber, j)) {
		return false, 0
	}
	ti, ok1 := postingDay(f, i)
	tj, ok2 := postingDay(f, j)
	if !ok1 || !ok2 {
		return false, 0
	}
	gap := dates.DaysBetween(ti, tj)
	if gap < 0 {
		gap = -gap
	}
	if gap > d.opts.DateThresholdDays {
		return false, 0
	}
	return true, 100
}

func postingDay(f *frame.Frame, i int) (time.Time, bool) {
	if t, ok := f.Time(domain.ColPostingDate, i); ok {
		return t, true
	}
	return f.Time(domain.ColInvoiceDate, i)
}

func similarityString(f *frame.Frame, cols []string, i int) string {
	parts := make([]string, len(cols))
	for k, c := range cols {
		parts[k] = f.Str(c, i)
	}
	return strings.Join(parts, "-")
}

// component is a connected set of rows with the best pair score inside it.
type component struct {
	rows  []int
	score float64
}

// components groups edges into connected components with union-find.
// Components come out ordered by their smallest row, rows ascending.
func components(edges []edge) []component {
	parent := make(map[int]int)
	var find func(x int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra == rb {
			return
		}
		if rb < ra {
			ra, rb = rb, ra
		}
		parent[rb] = ra
	}

	for _, e := range edges {
		for _, x := range []int{e.i, e.j} {
			if _, ok := parent[x]; !ok {
				parent[x] = x
			}
		}
		union(e.i, e.j)
	}

	byRoot := make(map[int]*component)
	for x := range parent {
		r := find(x)
		c, ok := byRoot[r]
		if !ok {
			c = &component{}
			byRoot[r] = c
		}
		c.rows = append(c.rows, x)
	}
	for _, e := range edges {
		c := byRoot[find(e.i)]
		c.score = math.Max(c.score, e.score)
	}

	out := make([]component, 0, len(byRoot))
	for _, c := range byRoot {
		sort.Ints(c.rows)
		out = append(out, *c)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].rows[0] < out[b].rows[0] })
	return out
}
