// Package scoring aggregates rule columns into risk scores and rolls line
// scores up to accounting documents.
package scoring

import (
	"math"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/frame"
)

// DeviationSep joins rule names in CONTROL_DEVIATION.
const DeviationSep = ","

// Processor computes weighted scores from rule results.
type Processor struct {
	// Decimals is the rounding precision of the normalized score.
	Decimals int

	// UseWeightedScoring sums rule weights; when false every fired rule counts 1.
	UseWeightedScoring bool
}

// NewProcessor creates a processor with default settings.
func NewProcessor() *Processor {
	return &Processor{
		Decimals:           2,
		UseWeightedScoring: true,
	}
}

// Input is what a rules run hands to the aggregator.
type Input struct {
	Frame *frame.Frame

	// Rules are the rule columns in deviation order.
	Rules []string

	Weights map[string]float64
}

// Result is the scored frame and its persisted form.
type Result struct {
	Frame        *frame.Frame
	MaxRaw       float64
	FlaggedRows  int
	Transactions []domain.TransactionScore
}

// Score writes RULES_RISK_SCORE_RAW, RULES_RISK_SCORE and CONTROL_DEVIATION
// onto a copy of the input frame. The normalized score is raw / max(raw) over
// the batch, or 0 everywhere when nothing fired.
func (p *Processor) Score(in Input) *Result {
	out := in.Frame.Clone()
	n := out.Len()

	raw := make([]float64, n)
	devs := make([]any, n)
	res := &Result{Frame: out, Transactions: make([]domain.TransactionScore, 0, n)}

	for i := 0; i < n; i++ {
		fired := Deviations(out, in.Rules, i)
		for _, r := range fired {
			w := 1.0
			if p.UseWeightedScoring {
				w = in.Weights[r]
			}
			raw[i] += w
		}
		devs[i] = strings.Join(fired, DeviationSep)
		if len(fired) > 0 {
			res.FlaggedRows++
		}
	}

	scores := p.Normalize(raw)
	for _, r := range raw {
		res.MaxRaw = math.Max(res.MaxRaw, r)
	}

	_ = out.SetFloats(domain.ColRiskScoreRaw, raw)
	_ = out.SetFloats(domain.ColRiskScore, scores)
	_ = out.Set(domain.ColControlDeviation, devs)

	for i := 0; i < n; i++ {
		res.Transactions = append(res.Transactions, domain.TransactionScore{
			TransactionID: out.Str(domain.ColTransactionID, i),
			AccountDocID:  out.Str(domain.ColAccountDocID, i),
			Raw:           raw[i],
			Score:         scores[i],
			Deviations:    splitDeviations(devs[i].(string)),
			Rules:         ruleValues(out, in.Rules, i),
		})
	}
	return res
}

// Normalize divides every raw score by the batch maximum and rounds.
func (p *Processor) Normalize(raw []float64) []float64 {
	var top float64
	for _, r := range raw {
		top = math.Max(top, r)
	}
	out := make([]float64, len(raw))
	if top == 0 {
		return out
	}
	for i, r := range raw {
		out[i] = round(r/top, p.Decimals)
	}
	return out
}

func round(x float64, decimals int) float64 {
	pow := math.Pow(10, float64(decimals))
	return math.Round(x*pow) / pow
}

// Deviations lists the rules that fired on row i, in the given order.
func Deviations(f *frame.Frame, rules []string, i int) []string {
	var out []string
	for _, r := range rules {
		if f.Flag(r, i) == 1 {
			out = append(out, r)
		}
	}
	return out
}

func splitDeviations(s string) []string {
	if s == "" {
		return []string{}
	}
	return strings.Split(s, DeviationSep)
}

func ruleValues(f *frame.Frame, rules []string, i int) map[string]int {
	m := make(map[string]int, len(rules))
	for _, r := range rules {
		m[r] = f.Flag(r, i)
	}
	return m
}

// Rollup groups a scored frame by ACCOUNT_DOC_ID and takes the max of every
// rule column and both scores, then re-derives CONTROL_DEVIATION from the
// maxed columns. Rows without a document id are left out. The output has one
// row per document in first-seen order, so rolling it up again is a no-op.
func (p *Processor) Rollup(f *frame.Frame, rules []string) (*frame.Frame, []domain.DocumentScore) {
	groups := f.GroupBy(domain.ColAccountDocID)
	n := len(groups)

	docIDs := make([]any, n)
	raw := make([]float64, n)
	scores := make([]float64, n)
	devs := make([]any, n)
	ruleCols := make(map[string][]int, len(rules))
	for _, r := range rules {
		ruleCols[r] = make([]int, n)
	}

	docs := make([]domain.DocumentScore, 0, n)
	for g, grp := range groups {
		docIDs[g] = f.Value(domain.ColAccountDocID, grp.Rows[0])
		values := make(map[string]int, len(rules))
		var fired []string
		for _, r := range rules {
			for _, i := range grp.Rows {
				if f.Flag(r, i) == 1 {
					ruleCols[r][g] = 1
					break
				}
			}
			values[r] = ruleCols[r][g]
			if values[r] == 1 {
				fired = append(fired, r)
			}
		}
		for _, i := range grp.Rows {
			raw[g] = math.Max(raw[g], f.FloatOr(domain.ColRiskScoreRaw, i, 0))
			scores[g] = math.Max(scores[g], f.FloatOr(domain.ColRiskScore, i, 0))
		}
		devs[g] = strings.Join(fired, DeviationSep)

		if fired == nil {
			fired = []string{}
		}
		docs = append(docs, domain.DocumentScore{
			AccountDocID: frame.ToString(docIDs[g]),
			Raw:          raw[g],
			Score:        scores[g],
			Deviations:   fired,
			Rules:        values,
		})
	}

	out := frame.New(n)
	_ = out.Set(domain.ColAccountDocID, docIDs)
	for _, r := range rules {
		_ = out.SetInts(r, ruleCols[r])
	}
	_ = out.SetFloats(domain.ColRiskScoreRaw, raw)
	_ = out.SetFloats(domain.ColRiskScore, scores)
	_ = out.Set(domain.ColControlDeviation, devs)
	return out, docs
}

// FlaggedDocuments counts documents with at least one deviation.
func FlaggedDocuments(docs []domain.DocumentScore) int {
	n := 0
	for _, d := range docs {
		if len(d.Deviations) > 0 {
			n++
		}
	}
	return n
}
