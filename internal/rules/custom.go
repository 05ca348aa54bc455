package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/frame"
)

// ErrInvalidRule is returned for custom rules that cannot be loaded.
var ErrInvalidRule = errors.New("invalid custom rule")

// CustomEngine evaluates operator-defined CEL rules row by row.
type CustomEngine struct {
	mu         sync.RWMutex
	env        *cel.Env
	compiled   map[string]*CompiledRule
	maxWorkers int
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.CustomRule
	Program cel.Program
}

// CustomResult is the 0/1 column produced by one custom rule.
type CustomResult struct {
	Rule   *domain.CustomRule
	Column []int
}

// NewCustomEngine creates an engine whose expressions see each row as `row`.
func NewCustomEngine(maxWorkers int) (*CustomEngine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 4
	}

	env, err := cel.NewEnv(
		cel.Variable("row", cel.MapType(cel.StringType, cel.DynType)),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &CustomEngine{
		env:        env,
		compiled:   make(map[string]*CompiledRule),
		maxWorkers: maxWorkers,
	}, nil
}

// ValidateRule compiles a rule without loading it.
func (e *CustomEngine) ValidateRule(cfg *domain.CustomRule) error {
	if cfg == nil {
		return fmt.Errorf("%w: rule config is required", ErrInvalidRule)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles and loads a rule, replacing any rule with the same ID.
func (e *CustomEngine) LoadRule(cfg *domain.CustomRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}
	e.compiled[cfg.ID] = compiled
	return nil
}

// ReloadRules replaces the loaded set with the enabled rules in configs.
// On a compile error the previous set stays in place.
func (e *CustomEngine) ReloadRules(configs []*domain.CustomRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := make(map[string]*CompiledRule)
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		next[cfg.ID] = compiled
	}
	e.compiled = next
	return nil
}

// RulesCount returns the number of loaded rules.
func (e *CustomEngine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiled)
}

// Rules returns the loaded rule configurations ordered by name.
func (e *CustomEngine) Rules() []*domain.CustomRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*domain.CustomRule, 0, len(e.compiled))
	for _, c := range e.compiled {
		out = append(out, c.Config)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Close unloads every rule.
func (e *CustomEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiled = make(map[string]*CompiledRule)
	return nil
}

// Evaluate runs every loaded rule of the module over all rows of f.
// Rules run in parallel; rows within a rule run in order. A row whose
// evaluation errors scores 0.
func (e *CustomEngine) Evaluate(ctx context.Context, f *frame.Frame, module domain.Module) []CustomResult {
	e.mu.RLock()
	var rules []*CompiledRule
	for _, c := range e.compiled {
		if c.Config.Module == "" || c.Config.Module == module {
			rules = append(rules, c)
		}
	}
	e.mu.RUnlock()

	if len(rules) == 0 {
		return nil
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].Config.Name < rules[j].Config.Name })

	rows := f.Records()
	results := make([]CustomResult, len(rules))
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			results[idx] = CustomResult{Rule: r.Config, Column: evaluateRows(ctx, r, rows)}
		}(i, rule)
	}
	wg.Wait()

	return results
}

func evaluateRows(ctx context.Context, rule *CompiledRule, rows []map[string]any) []int {
	out := make([]int, len(rows))
	failures := 0
	for i, row := range rows {
		if ctx.Err() != nil {
			break
		}
		val, _, err := rule.Program.ContextEval(ctx, map[string]any{"row": row})
		if err != nil {
			failures++
			continue
		}
		if toScore(val) > 0 {
			out[i] = 1
		}
	}
	if failures > 0 {
		slog.Debug("custom rule row errors", "rule", rule.Config.Name, "rows", failures)
	}
	return out
}

// toScore converts a CEL value to a numeric score.
func toScore(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
		}
		return 0.0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}

func (e *CustomEngine) compileRule(cfg *domain.CustomRule) (*CompiledRule, error) {
	if cfg.ID == "" || cfg.Name == "" {
		return nil, fmt.Errorf("%w: id and name are required", ErrInvalidRule)
	}

	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: failed to compile rule %s: %v", ErrInvalidRule, cfg.ID, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType && outputType != cel.DynType {
		return nil, fmt.Errorf("%w: rule %s: expression must return bool, int, or double, got %s", ErrInvalidRule, cfg.ID, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{
		Config:  cfg,
		Program: program,
	}, nil
}
