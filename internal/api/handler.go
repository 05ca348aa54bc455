package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/frame"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/prep"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/verification"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// batchCacheTTL bounds how long a finished batch stays cached.
const batchCacheTTL = 10 * time.Minute

// Handler holds dependencies for API handlers.
type Handler struct {
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	pipeline *pipeline.Pipeline
	custom   *rules.CustomEngine
	version  string
}

// NewHandler creates a new API handler. Any dependency but the pipeline may be nil.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, p *pipeline.Pipeline, custom *rules.CustomEngine, version string) *Handler {
	return &Handler{
		repo:     repo,
		cache:    cache,
		bus:      bus,
		pipeline: p,
		custom:   custom,
		version:  version,
	}
}

// BatchResponse is the response for POST /batches.
type BatchResponse struct {
	BatchID  string          `json:"batchId"`
	Status   string          `json:"status"`
	Summary  *domain.Summary `json:"summary,omitempty"`
	Metadata struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// SubmitBatch handles POST /batches. Synchronous batches return their
// summary; async batches are queued on the bus and return 202.
func (h *Handler) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	var req domain.BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	req.Module = domain.Module(strings.ToUpper(string(req.Module)))
	if !req.Module.Valid() {
		writeError(w, http.StatusBadRequest, "module must be AP or GL")
		return
	}
	if len(req.Rows) == 0 {
		writeError(w, http.StatusBadRequest, "rows are required")
		return
	}

	batch := &domain.Batch{
		ID:      uuid.New().String(),
		AuditID: req.AuditID,
		Module:  req.Module,
		Status:  domain.BatchPending,
		Rows:    len(req.Rows),
	}

	resp := BatchResponse{BatchID: batch.ID}
	resp.Metadata.TraceID = GetTraceID(ctx)
	resp.Metadata.Version = h.version

	if req.Async {
		if h.bus == nil {
			writeError(w, http.StatusServiceUnavailable, "event bus not available")
			return
		}
		if h.repo != nil {
			if err := h.repo.CreateBatch(ctx, batch); err != nil {
				slog.Error("failed to create batch", "batch_id", batch.ID, "error", err)
				writeError(w, http.StatusInternalServerError, "failed to create batch")
				return
			}
		}
		if _, err := worker.Submit(ctx, h.bus, worker.BatchMessage{
			BatchID: batch.ID,
			AuditID: batch.AuditID,
			Module:  batch.Module,
			Rows:    req.Rows,
		}); err != nil {
			slog.Error("failed to submit batch", "batch_id", batch.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to submit batch")
			return
		}
		resp.Status = string(domain.BatchPending)
		resp.Metadata.TotalMs = time.Since(start).Milliseconds()
		writeJSON(w, http.StatusAccepted, resp)
		return
	}

	out, err := h.pipeline.Run(ctx, batch, req.Rows)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp.Status = string(out.Batch.Status)
	resp.Summary = out.Summary
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	writeJSON(w, http.StatusOK, resp)
}

// GetBatch retrieves a batch and its summary. Finished batches are cached.
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	batchID := chi.URLParam(r, "id")
	if !h.requireRepo(w) {
		return
	}

	key := "batch:" + batchID
	if h.cache != nil {
		if data, err := h.cache.Get(ctx, key); err == nil && data != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write(data)
			return
		}
	}

	batch, err := h.repo.GetBatch(ctx, batchID)
	if err != nil {
		h.writeRepoError(w, err, "batch")
		return
	}

	if h.cache != nil && (batch.Status == domain.BatchCompleted || batch.Status == domain.BatchFailed) {
		if data, err := json.Marshal(batch); err == nil {
			if err := h.cache.Set(ctx, key, data, batchCacheTTL); err != nil {
				slog.Debug("failed to cache batch", "batch_id", batchID, "error", err)
			}
		}
	}
	writeJSON(w, http.StatusOK, batch)
}

// ListBatches returns the most recent batches.
func (h *Handler) ListBatches(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	batches, err := h.repo.ListBatches(r.Context(), limit)
	if err != nil {
		slog.Error("failed to list batches", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list batches")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"batches": batches,
		"count":   len(batches),
	})
}

// ListTransactionScores returns the row scores of a batch.
func (h *Handler) ListTransactionScores(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	scores, err := h.repo.ListTransactionScores(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeRepoError(w, err, "scores")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"scores": scores, "count": len(scores)})
}

// ListDocumentScores returns the document rollup of a batch.
func (h *Handler) ListDocumentScores(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	docs, err := h.repo.ListDocumentScores(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeRepoError(w, err, "documents")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs, "count": len(docs)})
}

// ListDuplicates returns the duplicate group members of a batch.
func (h *Handler) ListDuplicates(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	members, err := h.repo.ListDuplicates(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeRepoError(w, err, "duplicates")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"duplicates": members, "count": len(members)})
}

// VerifyInvoice handles POST /invoices/verify. The body is one AP row using
// the batch column names.
func (h *Handler) VerifyInvoice(w http.ResponseWriter, r *http.Request) {
	var row map[string]any
	if err := json.NewDecoder(r.Body).Decode(&row); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	f := prep.Prepare(frame.FromRecords([]map[string]any{row}), prep.Options{})
	inv := verification.InvoiceFromFrame(f, 0)
	if inv.AccountDocID == "" {
		writeError(w, http.StatusBadRequest, "ACCOUNT_DOC_ID is required")
		return
	}

	v, err := h.pipeline.VerifyInvoice(r.Context(), inv)
	if err != nil {
		slog.Error("invoice verification failed", "account_doc_id", inv.AccountDocID, "error", err)
		if v == nil {
			writeError(w, http.StatusInternalServerError, "invoice verification failed")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"verification": v,
		"anomalies":    v.Anomalies(),
	})
}

// GetVerification returns the stored verification of an accounting document.
func (h *Handler) GetVerification(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	v, err := h.repo.GetVerification(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeRepoError(w, err, "verification")
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// RuleInfo describes one rule available to a module.
type RuleInfo struct {
	Name          string  `json:"name"`
	Module        string  `json:"module"`
	DefaultWeight float64 `json:"defaultWeight"`
	Custom        bool    `json:"custom"`
	Expression    string  `json:"expression,omitempty"`
}

// ListRules returns the built-in rules and the loaded custom rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	modules := []domain.Module{domain.ModuleAP, domain.ModuleGL}
	if m := domain.Module(strings.ToUpper(r.URL.Query().Get("module"))); m != "" {
		if !m.Valid() {
			writeError(w, http.StatusBadRequest, "module must be AP or GL")
			return
		}
		modules = []domain.Module{m}
	}

	var out []RuleInfo
	for _, m := range modules {
		for _, rule := range rules.Registry(m) {
			out = append(out, RuleInfo{Name: rule.Name, Module: string(m), DefaultWeight: rule.DefaultWeight})
		}
	}
	if h.custom != nil {
		for _, c := range h.custom.Rules() {
			if len(modules) == 1 && c.Module != "" && c.Module != modules[0] {
				continue
			}
			out = append(out, RuleInfo{Name: c.Name, Module: string(c.Module), DefaultWeight: c.Weight, Custom: true, Expression: c.Expression})
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rules": out,
		"count": len(out),
	})
}

// CreateRule validates a custom CEL rule and saves it. Call POST
// /rules/reload to apply it.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var rule domain.CustomRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if rule.ID == "" || rule.Name == "" || rule.Expression == "" {
		writeError(w, http.StatusBadRequest, "id, name, and expression are required")
		return
	}
	rule.Name = strings.ToUpper(rule.Name)
	rule.Module = domain.Module(strings.ToUpper(string(rule.Module)))
	if rule.Version == "" {
		rule.Version = "1.0.0"
	}

	if h.custom == nil {
		writeError(w, http.StatusServiceUnavailable, "custom rule engine not available")
		return
	}
	if err := h.custom.ValidateRule(&rule); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !h.requireRepo(w) {
		return
	}
	if err := h.repo.SaveRuleConfig(r.Context(), &rule); err != nil {
		slog.Error("failed to save rule config", "id", rule.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save rule")
		return
	}

	slog.Info("custom rule created", "id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":    rule,
		"message": "Rule created. Call POST /rules/reload to apply changes.",
	})
}

// DeleteRule disables a custom rule and reloads the engine.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")
	if !h.requireRepo(w) {
		return
	}
	if err := h.repo.DeleteRuleConfig(r.Context(), ruleID); err != nil {
		h.writeRepoError(w, err, "rule")
		return
	}
	if _, err := h.reload(r); err != nil {
		slog.Error("failed to reload custom rules after delete", "error", err)
	}

	slog.Info("custom rule deleted", "id", ruleID)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Rule deleted and engine reloaded.",
	})
}

// ReloadRules reloads every enabled custom rule from the database.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	if h.custom == nil {
		writeError(w, http.StatusServiceUnavailable, "custom rule engine not available")
		return
	}
	n, err := h.reload(r)
	if err != nil {
		slog.Error("failed to reload custom rules", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to reload rules: "+err.Error())
		return
	}

	slog.Info("custom rules reloaded from database", "count", n)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   n,
	})
}

func (h *Handler) reload(r *http.Request) (int, error) {
	if h.custom == nil {
		return 0, nil
	}
	configs, err := h.repo.ListRuleConfigs(r.Context())
	if err != nil {
		return 0, err
	}
	if err := h.custom.ReloadRules(configs); err != nil {
		return 0, err
	}
	return h.custom.RulesCount(), nil
}

// GetSettings returns the stored settings of a module, or its defaults.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	module, ok := moduleParam(w, r)
	if !ok {
		return
	}
	source := "database"
	var settings []domain.RuleSetting
	if h.repo != nil {
		var err error
		if settings, err = h.repo.ListRuleSettings(r.Context(), module); err != nil {
			slog.Error("failed to list rule settings", "module", module, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to list settings")
			return
		}
	}
	if len(settings) == 0 {
		settings = rules.DefaultSettings(module)
		source = "defaults"
	}

	out := make(map[string]string, len(settings))
	for _, s := range settings {
		out[s.KeyName] = s.KeyValue
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"module":   module,
		"settings": out,
		"source":   source,
	})
}

// PutSettings upserts KEYNAME to KEYVALUE settings of a module. They apply
// to the next batch.
func (h *Handler) PutSettings(w http.ResponseWriter, r *http.Request) {
	module, ok := moduleParam(w, r)
	if !ok {
		return
	}
	var kv map[string]string
	if err := json.NewDecoder(r.Body).Decode(&kv); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if !h.requireRepo(w) {
		return
	}
	for k, v := range kv {
		s := domain.RuleSetting{Module: module, KeyName: strings.ToUpper(strings.TrimSpace(k)), KeyValue: v}
		if err := h.repo.SaveRuleSetting(r.Context(), s); err != nil {
			if errors.Is(err, repository.ErrInvalidInput) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			slog.Error("failed to save rule setting", "module", module, "key", k, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to save settings")
			return
		}
	}
	slog.Info("rule settings updated", "module", module, "count", len(kv))
	writeJSON(w, http.StatusOK, map[string]any{"module": module, "count": len(kv)})
}

// GetScenarios returns the duplicate scenario table.
func (h *Handler) GetScenarios(w http.ResponseWriter, r *http.Request) {
	source := "database"
	var scenarios []domain.Scenario
	if h.repo != nil {
		var err error
		if scenarios, err = h.repo.ListScenarios(r.Context()); err != nil {
			slog.Error("failed to list scenarios", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to list scenarios")
			return
		}
	}
	if len(scenarios) == 0 {
		scenarios = domain.DefaultScenarios()
		source = "defaults"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"scenarios": scenarios,
		"count":     len(scenarios),
		"source":    source,
	})
}

// PutScenarios upserts duplicate scenarios.
func (h *Handler) PutScenarios(w http.ResponseWriter, r *http.Request) {
	var scenarios []domain.Scenario
	if err := json.NewDecoder(r.Body).Decode(&scenarios); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if !h.requireRepo(w) {
		return
	}
	for i := range scenarios {
		sc := &scenarios[i]
		for j, c := range sc.GroupBy {
			sc.GroupBy[j] = strings.ToUpper(c)
		}
		for j, c := range sc.SimilarityColumns {
			sc.SimilarityColumns[j] = strings.ToUpper(c)
		}
		if err := h.repo.SaveScenario(r.Context(), sc); err != nil {
			if errors.Is(err, repository.ErrInvalidInput) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			slog.Error("failed to save scenario", "scenario_id", sc.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to save scenarios")
			return
		}
	}
	slog.Info("duplicate scenarios updated", "count", len(scenarios))
	writeJSON(w, http.StatusOK, map[string]any{"count": len(scenarios)})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func moduleParam(w http.ResponseWriter, r *http.Request) (domain.Module, bool) {
	m := domain.Module(strings.ToUpper(chi.URLParam(r, "module")))
	if !m.Valid() {
		writeError(w, http.StatusBadRequest, "module must be AP or GL")
		return "", false
	}
	return m, true
}

func (h *Handler) requireRepo(w http.ResponseWriter) bool {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return false
	}
	return true
}

func (h *Handler) writeRepoError(w http.ResponseWriter, err error, what string) {
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, what+" not found")
		return
	}
	slog.Error("repository error", "resource", what, "error", err)
	writeError(w, http.StatusInternalServerError, "failed to load "+what)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
