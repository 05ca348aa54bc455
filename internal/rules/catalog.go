package rules

import (
	"log/slog"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Catalog is the immutable active rule set of one batch.
type Catalog struct {
	Module   domain.Module
	Rules    []Rule
	Weights  map[string]float64
	Required map[string][]string
	Skipped  []domain.SkippedRule
}

// BuildCatalog decides which registered rules run on a batch with the given
// columns. A rule runs when it is listed in the matrix, every column the
// matrix marks for it is available, and a weight is configured. Anything
// else is logged and skipped.
func BuildCatalog(module domain.Module, available []string, m *Matrix, s *Settings) *Catalog {
	have := make(map[string]bool, len(available))
	for _, c := range available {
		have[c] = true
	}

	cat := &Catalog{
		Module:   module,
		Weights:  make(map[string]float64),
		Required: make(map[string][]string),
	}
	for _, r := range Registry(module) {
		required, ok := m.Required(r.Name)
		if !ok {
			slog.Warn("rule not in matrix, skipping", "module", module, "rule", r.Name)
			cat.skip(r.Name, domain.SkipNotInMatrix)
			continue
		}

		var needed []string
		for _, c := range required {
			if !have[c] {
				needed = append(needed, c)
			}
		}
		if len(needed) > 0 {
			slog.Warn("rule columns missing, skipping",
				"module", module,
				"rule", r.Name,
				"missing", strings.Join(needed, ","),
			)
			cat.skip(r.Name, domain.SkipMissingColumns+": "+strings.Join(needed, ","))
			continue
		}

		w, ok := s.Weight(r.Name)
		if !ok {
			slog.Warn("rule has no weight, skipping", "module", module, "rule", r.Name)
			cat.skip(r.Name, domain.SkipNoWeight)
			continue
		}

		cat.Rules = append(cat.Rules, r)
		cat.Weights[r.Name] = w
		cat.Required[r.Name] = required
	}
	return cat
}

func (c *Catalog) skip(rule, reason string) {
	c.Skipped = append(c.Skipped, domain.SkippedRule{Rule: rule, Reason: reason})
}

// Names returns the active rule names in registry order.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.Rules))
	for i, r := range c.Rules {
		out[i] = r.Name
	}
	return out
}

// Active reports whether a rule is in the catalog.
func (c *Catalog) Active(name string) bool {
	_, ok := c.Weights[name]
	return ok
}
