// Package rules selects, runs and weights the AP and GL controls of a batch.
package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/frame"
)

// Env carries the collaborators predicates may consult.
type Env struct {
	Settings *Settings
	Master   *domain.MasterData
	Approval ApprovalSource
	Custom   *CustomEngine
	AuditID  string
	Now      time.Time
}

// Result is the output of a rules run.
type Result struct {
	// Frame is a copy of the input with one 0/1 column per rule that ran.
	Frame *frame.Frame

	// Ran lists the rules whose column was written, registry rules first,
	// custom rules after.
	Ran []string

	// Weights holds the weight of every rule in Ran.
	Weights map[string]float64

	// Skipped lists rules that were active but failed at run time.
	Skipped []domain.SkippedRule
}

// Run evaluates the catalog's rules in order on a copy of f. Predicates run
// sequentially; a failing predicate is logged and skipped. For every row
// where a column the matrix requires is null, the rule's output is 0 unless
// that column is one of the rule's null signals.
func Run(ctx context.Context, f *frame.Frame, cat *Catalog, env Env) *Result {
	now := env.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	settings := env.Settings
	if settings == nil {
		settings = NewSettings(nil)
	}

	out := f.Clone()
	res := &Result{Frame: out, Weights: make(map[string]float64)}
	pc := &Context{
		Ctx:      ctx,
		Frame:    out,
		Settings: settings,
		Master:   env.Master,
		Approval: env.Approval,
		AuditID:  env.AuditID,
		Now:      now,
	}

	for _, r := range cat.Rules {
		start := time.Now()
		col, err := runPredicate(r, pc)
		if err != nil {
			reason := domain.SkipFailed
			if errors.Is(err, ErrUnavailable) {
				reason = domain.SkipUnavailable
			}
			slog.Warn("rule failed, skipping",
				"module", cat.Module,
				"rule", r.Name,
				"error", err,
			)
			res.Skipped = append(res.Skipped, domain.SkippedRule{Rule: r.Name, Reason: reason})
			continue
		}

		maskNulls(out, r, cat.Required[r.Name], col)
		if err := out.SetInts(r.Name, col); err != nil {
			slog.Warn("rule output rejected", "rule", r.Name, "error", err)
			res.Skipped = append(res.Skipped, domain.SkippedRule{Rule: r.Name, Reason: domain.SkipFailed})
			continue
		}
		res.Ran = append(res.Ran, r.Name)
		res.Weights[r.Name] = cat.Weights[r.Name]

		slog.Debug("rule evaluated",
			"rule", r.Name,
			"fired", countFired(col),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}

	if env.Custom != nil && env.Custom.RulesCount() > 0 {
		for _, cr := range env.Custom.Evaluate(ctx, out, cat.Module) {
			if _, dup := res.Weights[cr.Rule.Name]; dup || cat.Active(cr.Rule.Name) {
				slog.Warn("custom rule shadows a registered rule, skipping", "rule", cr.Rule.Name)
				continue
			}
			if err := out.SetInts(cr.Rule.Name, cr.Column); err != nil {
				slog.Warn("custom rule output rejected", "rule", cr.Rule.Name, "error", err)
				continue
			}
			res.Ran = append(res.Ran, cr.Rule.Name)
			res.Weights[cr.Rule.Name] = cr.Rule.Weight
		}
	}

	return res
}

func runPredicate(r Rule, c *Context) (col []int, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic in %s: %v", r.Name, p)
		}
	}()
	col, err = r.Predicate(c)
	if err == nil && len(col) != c.Len() {
		err = fmt.Errorf("%s returned %d values for %d rows", r.Name, len(col), c.Len())
	}
	return col, err
}

func maskNulls(f *frame.Frame, r Rule, required []string, col []int) {
	var check []string
	for _, c := range required {
		if !r.exempt(c) {
			check = append(check, c)
		}
	}
	for i := range col {
		if col[i] != 0 {
			col[i] = 1
		}
		for _, c := range check {
			if f.IsNull(c, i) {
				col[i] = 0
				break
			}
		}
	}
}

func countFired(col []int) int {
	n := 0
	for _, v := range col {
		n += v
	}
	return n
}

