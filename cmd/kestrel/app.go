package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/opensource-finance/kestrel/internal/approval"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/documents"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/duplicates"
	"github.com/opensource-finance/kestrel/internal/history"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/verification"
)

// app holds the wired infrastructure shared by every command.
type app struct {
	cfg      *domain.Config
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	custom   *rules.CustomEngine
	pipeline *pipeline.Pipeline
}

// newApp connects the repository, cache and bus, seeds configuration files
// into the repository and builds the pipeline.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	if a.repo, err = repository.New(cfg.Repository); err != nil {
		return nil, fmt.Errorf("failed to initialize repository: %w", err)
	}
	if a.cache, err = cache.New(cfg.Cache); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}
	if a.bus, err = bus.New(cfg.EventBus); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize event bus: %w", err)
	}

	if err := a.seed(ctx); err != nil {
		a.Close()
		return nil, err
	}

	if a.custom, err = rules.NewCustomEngine(0); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.loadCustomRules(ctx); err != nil {
		a.Close()
		return nil, err
	}

	pcfg, deps, err := a.pipelineConfig()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.pipeline = pipeline.New(pcfg, deps)
	return a, nil
}

func (a *app) pipelineConfig() (pipeline.Config, pipeline.Deps, error) {
	pc := a.cfg.Pipeline
	cfg := pipeline.Config{
		ArtifactRoot:     pc.ArtifactRoot,
		DuplicateWorkers: pc.DuplicateWorkers,
		VerifyAll:        pc.VerifyAll,
		Matrices:         make(map[domain.Module]*rules.Matrix),
	}
	for module, path := range map[domain.Module]string{domain.ModuleAP: pc.APMatrixPath, domain.ModuleGL: pc.GLMatrixPath} {
		if path == "" {
			continue
		}
		var m *rules.Matrix
		if err := readFile(path, func(r io.Reader) (err error) {
			m, err = rules.ReadMatrix(r)
			return err
		}); err != nil {
			return cfg, pipeline.Deps{}, err
		}
		cfg.Matrices[module] = m
		slog.Info("rule matrix loaded", "module", module, "path", path)
	}

	router := documents.NewRouter(func(model string) (documents.Engine, error) {
		return documents.TextLayerEngine{}, nil
	}, 0)
	deps := pipeline.Deps{
		Repo:    a.repo,
		Bus:     a.bus,
		Custom:  a.custom,
		History: history.NewService(a.repo, pc.HistoryLookback),
		Reader:  documents.NewReader(documents.NewCachedEngine(router, a.cache, pc.OCRCacheTTL)),
		Extract: verification.LineExtractor{},
	}
	if pc.ApprovalEnabled {
		deps.Approval = approval.NewBusClient(a.bus, pc.ApprovalTimeout)
	}
	if pc.UnusualPairsPath != "" {
		if err := readFile(pc.UnusualPairsPath, func(r io.Reader) (err error) {
			deps.UnusualPairs, err = rules.ReadUnusualPairs(r)
			return err
		}); err != nil {
			return cfg, deps, err
		}
		slog.Info("unusual account pairs loaded", "count", len(deps.UnusualPairs))
	}
	return cfg, deps, nil
}

// seed stores the configured settings, scenario and master data files.
// Rows are upserted so reseeding on every start is safe.
func (a *app) seed(ctx context.Context) error {
	pc := a.cfg.Pipeline

	if pc.SettingsPath != "" {
		var rows []domain.RuleSetting
		if err := readFile(pc.SettingsPath, func(r io.Reader) (err error) {
			rows, err = rules.ReadSettingsCSV(r, domain.ModuleAP)
			return err
		}); err != nil {
			return err
		}
		for _, s := range rows {
			if err := a.repo.SaveRuleSetting(ctx, s); err != nil {
				return fmt.Errorf("failed to seed setting %s: %w", s.KeyName, err)
			}
		}
		slog.Info("rule settings seeded", "path", pc.SettingsPath, "count", len(rows))
	}

	if pc.ScenariosPath != "" {
		var scenarios []domain.Scenario
		if err := readFile(pc.ScenariosPath, func(r io.Reader) (err error) {
			scenarios, err = duplicates.ReadScenariosCSV(r)
			return err
		}); err != nil {
			return err
		}
		for i := range scenarios {
			if err := a.repo.SaveScenario(ctx, &scenarios[i]); err != nil {
				return fmt.Errorf("failed to seed scenario %d: %w", scenarios[i].ID, err)
			}
		}
		slog.Info("duplicate scenarios seeded", "path", pc.ScenariosPath, "count", len(scenarios))
	}

	if pc.MasterDataPath != "" {
		if err := a.seedMaster(ctx, pc.MasterDataPath); err != nil {
			return err
		}
	}
	return nil
}

type masterFile struct {
	Vendors   []*domain.Vendor  `json:"vendors"`
	Accounts  []domain.Account  `json:"accounts"`
	Companies []*domain.Company `json:"companies"`
}

func (a *app) seedMaster(ctx context.Context, path string) error {
	var m masterFile
	if err := readFile(path, func(r io.Reader) error {
		return json.NewDecoder(r).Decode(&m)
	}); err != nil {
		return err
	}
	for _, v := range m.Vendors {
		if err := a.repo.SaveVendor(ctx, v); err != nil {
			return fmt.Errorf("failed to seed vendor %s: %w", v.Code, err)
		}
	}
	for _, acc := range m.Accounts {
		if err := a.repo.SaveAccount(ctx, acc); err != nil {
			return fmt.Errorf("failed to seed account %s: %w", acc.Code, err)
		}
	}
	for _, c := range m.Companies {
		if err := a.repo.SaveCompany(ctx, c); err != nil {
			return fmt.Errorf("failed to seed company %s: %w", c.Code, err)
		}
	}
	slog.Info("master data seeded",
		"path", path,
		"vendors", len(m.Vendors),
		"accounts", len(m.Accounts),
		"companies", len(m.Companies),
	)
	return nil
}

// loadCustomRules loads the enabled CEL rules from the database.
func (a *app) loadCustomRules(ctx context.Context) error {
	configs, err := a.repo.ListRuleConfigs(ctx)
	if err != nil {
		slog.Warn("failed to list custom rules from database", "error", err)
		return nil
	}
	if len(configs) == 0 {
		slog.Info("no custom rules in database - configure via POST /rules API")
		return nil
	}
	if err := a.custom.ReloadRules(configs); err != nil {
		return fmt.Errorf("failed to load custom rules: %w", err)
	}
	slog.Info("custom rules loaded", "count", a.custom.RulesCount())
	return nil
}

// Close releases every connection that was opened.
func (a *app) Close() {
	if a.custom != nil {
		a.custom.Close()
	}
	if a.bus != nil {
		a.bus.Close()
	}
	if a.cache != nil {
		a.cache.Close()
	}
	if a.repo != nil {
		a.repo.Close()
	}
}

func readFile(path string, read func(io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := read(f); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}
