// Package pipeline runs a batch through preparation, rules, scoring,
// duplicate detection and invoice verification.
//
// Stages run in order on one batch. A stage that fails is recorded in the
// summary and the run continues; the summary is always returned.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/documents"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/duplicates"
	"github.com/opensource-finance/kestrel/internal/frame"
	"github.com/opensource-finance/kestrel/internal/history"
	"github.com/opensource-finance/kestrel/internal/prep"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/verification"
)

// Stage names used in logs, spans and stage errors.
const (
	StagePrepare      = "prepare"
	StageConfig       = "config"
	StageRules        = "rules"
	StageScoring      = "scoring"
	StageDuplicates   = "duplicates"
	StageHistory      = "history"
	StageVerification = "verification"
	StagePersist      = "persist"
)

var (
	ErrEmptyBatch    = errors.New("batch has no rows")
	ErrUnknownModule = errors.New("unknown module")
)

var tracer = otel.Tracer("kestrel-pipeline")

// Config tunes a Pipeline.
type Config struct {
	// ArtifactRoot holds the invoice attachments.
	ArtifactRoot string

	// DuplicateWorkers is the duplicate group pool size. Zero means cores-1.
	DuplicateWorkers int

	// VerifyAll verifies every AP invoice, not only those of flagged documents.
	VerifyAll bool

	// Matrices overrides the embedded rule matrices per module.
	Matrices map[domain.Module]*rules.Matrix
}

// Deps are the collaborators of a Pipeline. Every field is optional.
type Deps struct {
	Repo     domain.Repository
	Bus      domain.EventBus
	Custom   *rules.CustomEngine
	Approval rules.ApprovalSource
	History  *history.Service
	Reader   *documents.Reader
	Extract  verification.Extractor

	// Master is used instead of the repository's master tables when set.
	Master *domain.MasterData

	// UnusualPairs are the predefined unusual (credit, debit) pairs.
	UnusualPairs []domain.AccountPair
}

// Pipeline runs batches.
type Pipeline struct {
	cfg    Config
	deps   Deps
	scorer *scoring.Processor
	now    func() time.Time
}

// New creates a pipeline.
func New(cfg Config, deps Deps) *Pipeline {
	if deps.Reader == nil {
		deps.Reader = documents.NewReader(nil)
	}
	return &Pipeline{
		cfg:    cfg,
		deps:   deps,
		scorer: scoring.NewProcessor(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Output is everything a run produced.
type Output struct {
	Batch          *domain.Batch
	Summary        *domain.Summary
	Frame          *frame.Frame
	Documents      *frame.Frame
	Transactions   []domain.TransactionScore
	DocumentScores []domain.DocumentScore
	Duplicates     []domain.DuplicateMember
	Pairs          []duplicates.Pair
	Verifications  []*domain.InvoiceVerification
}

// run carries the state of one batch between stages.
type run struct {
	batch    *domain.Batch
	summary  *domain.Summary
	out      *Output
	settings *rules.Settings
	master   *domain.MasterData
	scenes   []domain.Scenario
	prepared *frame.Frame
	ruleRes  *rules.Result
}

// Run processes one batch. Only an invalid batch returns an error; stage
// failures are reported in the summary.
func (p *Pipeline) Run(ctx context.Context, batch *domain.Batch, records []map[string]any) (*Output, error) {
	if batch == nil {
		batch = &domain.Batch{}
	}
	if !batch.Module.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModule, batch.Module)
	}
	if len(records) == 0 {
		return nil, ErrEmptyBatch
	}
	if batch.ID == "" {
		batch.ID = uuid.New().String()
	}

	start := p.now()
	ctx, span := tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("batch.id", batch.ID),
		attribute.String("batch.module", string(batch.Module)),
		attribute.Int("batch.rows", len(records)),
	))
	defer span.End()

	batch.Rows = len(records)
	batch.Status = domain.BatchRunning
	r := &run{
		batch: batch,
		summary: &domain.Summary{
			BatchID:   batch.ID,
			Module:    batch.Module,
			Rows:      len(records),
			StartedAt: start,
		},
	}
	r.out = &Output{Batch: batch, Summary: r.summary}
	p.track(ctx, r)

	slog.Info("batch started",
		"batch_id", batch.ID,
		"audit_id", batch.AuditID,
		"module", batch.Module,
		"rows", len(records),
	)

	p.stage(ctx, r, StagePrepare, func(ctx context.Context) error {
		r.prepared = prep.Prepare(frame.FromRecords(records), prep.Options{Now: p.now()})
		r.out.Frame = r.prepared
		return nil
	})
	p.stage(ctx, r, StageConfig, func(ctx context.Context) error {
		return p.loadConfig(ctx, r)
	})
	p.stage(ctx, r, StageRules, func(ctx context.Context) error {
		return p.runRules(ctx, r)
	})
	p.stage(ctx, r, StageScoring, func(ctx context.Context) error {
		return p.runScoring(ctx, r)
	})
	if batch.Module == domain.ModuleAP {
		p.stage(ctx, r, StageDuplicates, func(ctx context.Context) error {
			return p.runDuplicates(ctx, r)
		})
		p.stage(ctx, r, StageHistory, func(ctx context.Context) error {
			return p.saveHistory(ctx, r)
		})
		p.stage(ctx, r, StageVerification, func(ctx context.Context) error {
			return p.runVerification(ctx, r)
		})
	}

	r.summary.FinishedAt = p.now()
	r.summary.DurationMs = r.summary.FinishedAt.Sub(start).Milliseconds()
	batch.Status = domain.BatchCompleted
	batch.Summary = r.summary
	p.stage(ctx, r, StagePersist, func(ctx context.Context) error {
		return p.finish(ctx, r)
	})

	span.SetAttributes(
		attribute.Int("batch.flagged_rows", r.summary.FlaggedRows),
		attribute.Int("batch.duplicate_groups", r.summary.DuplicateGroups),
		attribute.Int("batch.stage_errors", len(r.summary.StageErrors)),
	)
	slog.Info("batch completed",
		"batch_id", batch.ID,
		"module", batch.Module,
		"active_rules", len(r.summary.ActiveRules),
		"skipped_rules", len(r.summary.SkippedRules),
		"flagged_rows", r.summary.FlaggedRows,
		"flagged_documents", r.summary.FlaggedDocuments,
		"duplicate_groups", r.summary.DuplicateGroups,
		"verified_invoices", r.summary.VerifiedInvoices,
		"stage_errors", len(r.summary.StageErrors),
		"duration_ms", r.summary.DurationMs,
	)
	return r.out, nil
}

// stage runs fn in its own span. Errors and panics are recorded against the
// stage and never stop the run.
func (p *Pipeline) stage(ctx context.Context, r *run, name string, fn func(ctx context.Context) error) {
	ctx, span := tracer.Start(ctx, "pipeline."+name)
	defer span.End()

	start := time.Now()
	err := func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("panic: %v", rec)
			}
		}()
		return fn(ctx)
	}()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("stage failed",
			"batch_id", r.batch.ID,
			"stage", name,
			"error", err,
		)
		r.summary.StageErrors = append(r.summary.StageErrors, domain.StageError{Stage: name, Error: err.Error()})
		return
	}
	slog.Debug("stage complete",
		"batch_id", r.batch.ID,
		"stage", name,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
