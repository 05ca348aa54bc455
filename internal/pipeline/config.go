package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// loadConfig reads the rule settings, scenarios and master data a batch is
// evaluated against. Anything the repository does not hold falls back to
// the built-in defaults.
func (p *Pipeline) loadConfig(ctx context.Context, r *run) error {
	module := r.batch.Module

	settingRows, scenarios, err := p.ruleConfig(ctx, module)
	r.settings = rules.NewSettings(settingRows)
	r.scenes = scenarios
	if err != nil {
		return err
	}

	master, err := p.Master(ctx)
	r.master = master
	return err
}

func (p *Pipeline) ruleConfig(ctx context.Context, module domain.Module) ([]domain.RuleSetting, []domain.Scenario, error) {
	repo := p.deps.Repo
	if repo == nil {
		return rules.DefaultSettings(module), domain.DefaultScenarios(), nil
	}

	settings, err := repo.ListRuleSettings(ctx, module)
	if err != nil {
		return rules.DefaultSettings(module), domain.DefaultScenarios(), fmt.Errorf("failed to load rule settings: %w", err)
	}
	if len(settings) == 0 {
		slog.Warn("no rule settings stored, using defaults", "module", module)
		settings = rules.DefaultSettings(module)
	}

	scenarios, err := repo.ListScenarios(ctx)
	if err != nil {
		return settings, domain.DefaultScenarios(), fmt.Errorf("failed to load scenarios: %w", err)
	}
	if len(scenarios) == 0 {
		scenarios = domain.DefaultScenarios()
	}
	return settings, scenarios, nil
}

// Master returns the master data used for rules and verification.
func (p *Pipeline) Master(ctx context.Context) (*domain.MasterData, error) {
	if p.deps.Master != nil {
		m := *p.deps.Master
		if len(m.UnusualPairs) == 0 {
			m.UnusualPairs = p.deps.UnusualPairs
		}
		return &m, nil
	}

	m := &domain.MasterData{
		Vendors:      make(map[string]*domain.Vendor),
		Accounts:     make(map[string]string),
		Companies:    make(map[string]*domain.Company),
		UnusualPairs: p.deps.UnusualPairs,
	}
	repo := p.deps.Repo
	if repo == nil {
		return m, nil
	}

	vendors, err := repo.ListVendors(ctx)
	if err != nil {
		return m, fmt.Errorf("failed to load vendors: %w", err)
	}
	for _, v := range vendors {
		m.Vendors[v.Code] = v
	}

	accounts, err := repo.ListAccounts(ctx)
	if err != nil {
		return m, fmt.Errorf("failed to load chart of accounts: %w", err)
	}
	for _, a := range accounts {
		m.Accounts[a.Code] = a.Subcategory
	}

	companies, err := repo.ListCompanies(ctx)
	if err != nil {
		return m, fmt.Errorf("failed to load companies: %w", err)
	}
	for _, c := range companies {
		m.Companies[c.Code] = c
	}
	return m, nil
}
