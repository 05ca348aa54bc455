package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/duplicates"
	"github.com/opensource-finance/kestrel/internal/frame"
	"github.com/opensource-finance/kestrel/internal/prep"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/verification"
)

var errNoFrame = errors.New("no frame from an earlier stage")

func (p *Pipeline) matrix(module domain.Module) *rules.Matrix {
	if m, ok := p.cfg.Matrices[module]; ok && m != nil {
		return m
	}
	return rules.DefaultMatrix(module)
}

func (p *Pipeline) runRules(ctx context.Context, r *run) error {
	if r.prepared == nil {
		return errNoFrame
	}
	module := r.batch.Module
	cat := rules.BuildCatalog(module, r.prepared.Columns(), p.matrix(module), r.settings)
	res := rules.Run(ctx, r.prepared, cat, rules.Env{
		Settings: r.settings,
		Master:   r.master,
		Approval: p.deps.Approval,
		Custom:   p.deps.Custom,
		AuditID:  r.batch.AuditID,
		Now:      p.now(),
	})

	r.ruleRes = res
	r.out.Frame = res.Frame
	r.summary.ActiveRules = append([]string{}, res.Ran...)
	r.summary.SkippedRules = append(append([]domain.SkippedRule{}, cat.Skipped...), res.Skipped...)
	return nil
}

func (p *Pipeline) runScoring(ctx context.Context, r *run) error {
	if r.ruleRes == nil {
		return errNoFrame
	}
	scored := p.scorer.Score(scoring.Input{
		Frame:   r.ruleRes.Frame,
		Rules:   r.ruleRes.Ran,
		Weights: r.ruleRes.Weights,
	})
	docFrame, docs := p.scorer.Rollup(scored.Frame, r.ruleRes.Ran)

	r.out.Frame = scored.Frame
	r.out.Documents = docFrame
	r.out.Transactions = scored.Transactions
	r.out.DocumentScores = docs
	r.summary.FlaggedRows = scored.FlaggedRows
	r.summary.Documents = len(docs)
	r.summary.FlaggedDocuments = scoring.FlaggedDocuments(docs)

	if repo := p.deps.Repo; repo != nil {
		if err := repo.SaveTransactionScores(ctx, r.batch.ID, scored.Transactions); err != nil {
			return fmt.Errorf("failed to save transaction scores: %w", err)
		}
		if err := repo.SaveDocumentScores(ctx, r.batch.ID, docs); err != nil {
			return fmt.Errorf("failed to save document scores: %w", err)
		}
	}
	p.publish(ctx, domain.TopicBatchScored, r.summary)
	return nil
}

// runDuplicates detects duplicates in the batch together with the invoice
// history of its suppliers. History rows only ever pair with batch rows.
func (p *Pipeline) runDuplicates(ctx context.Context, r *run) error {
	current := r.out.Frame
	if current == nil {
		return errNoFrame
	}
	n := current.Len()

	combined := current
	if p.deps.History != nil {
		hist, err := p.deps.History.Load(ctx, current)
		if err != nil {
			slog.Warn("invoice history unavailable, detecting within batch only",
				"batch_id", r.batch.ID,
				"error", err,
			)
		} else if hist != nil {
			combined = current.Append(hist)
		}
	}

	det := duplicates.NewDetector(r.scenes, duplicates.Options{
		Workers:             p.cfg.DuplicateWorkers,
		DateThresholdDays:   r.settings.Int(rules.KeyDuplicateDateDays, 7),
		SimilarityThreshold: r.settings.Float(rules.KeyDuplicateSimilarity, duplicates.DefaultSimilarityThreshold),
	})
	res := det.Detect(ctx, combined)

	rows := make([]int, n)
	for i := range rows {
		rows[i] = i
	}
	r.out.Frame = res.Frame.Select(rows)
	r.out.Duplicates = res.Members
	r.out.Pairs = res.Pairs
	r.summary.DuplicateGroups = res.Groups
	r.summary.DuplicateRows = len(res.Members)

	if repo := p.deps.Repo; repo != nil {
		if err := repo.SaveDuplicates(ctx, r.batch.ID, res.Members); err != nil {
			return fmt.Errorf("failed to save duplicates: %w", err)
		}
	}
	p.publish(ctx, domain.TopicBatchDuplicates, r.summary)
	return nil
}

func (p *Pipeline) saveHistory(ctx context.Context, r *run) error {
	if p.deps.History == nil || r.prepared == nil {
		return nil
	}
	n, err := p.deps.History.Save(ctx, r.batch.ID, r.prepared)
	if err != nil {
		return err
	}
	slog.Debug("invoice history saved", "batch_id", r.batch.ID, "rows", n)
	return nil
}

// runVerification verifies one invoice row per accounting document. Unless
// VerifyAll is set only documents with a deviation are verified.
func (p *Pipeline) runVerification(ctx context.Context, r *run) error {
	f := r.out.Frame
	if f == nil {
		return errNoFrame
	}

	flagged := make(map[string]bool, len(r.out.DocumentScores))
	for _, d := range r.out.DocumentScores {
		if len(d.Deviations) > 0 {
			flagged[d.AccountDocID] = true
		}
	}

	disp := verification.NewDispatcher(r.master, p.deps.Extract)
	var failed int
	for _, i := range InvoiceRows(f) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		doc := f.Str(domain.ColAccountDocID, i)
		if !p.cfg.VerifyAll && !flagged[doc] {
			continue
		}

		inv := verification.InvoiceFromFrame(f, i)
		v, err := p.verify(ctx, disp, inv)
		if err != nil {
			failed++
			slog.Warn("invoice verification failed",
				"batch_id", r.batch.ID,
				"account_doc_id", doc,
				"error", err,
			)
			continue
		}
		v.BatchID = r.batch.ID
		r.out.Verifications = append(r.out.Verifications, v)
		r.summary.VerifiedInvoices++
		r.summary.VerificationAnomalies += v.Anomalies()

		if repo := p.deps.Repo; repo != nil {
			if err := repo.SaveVerification(ctx, v); err != nil {
				failed++
				slog.Warn("failed to save verification", "account_doc_id", doc, "error", err)
			}
		}
	}

	p.publish(ctx, domain.TopicBatchVerified, r.summary)
	if failed > 0 {
		return fmt.Errorf("%d invoices could not be verified", failed)
	}
	return nil
}

// VerifyInvoice reads the attachments of one invoice and verifies it
// against the current master data. The result is stored when a repository
// is configured.
func (p *Pipeline) VerifyInvoice(ctx context.Context, inv *verification.Invoice) (*domain.InvoiceVerification, error) {
	ctx, span := tracer.Start(ctx, "pipeline.verify_invoice")
	defer span.End()

	master, err := p.Master(ctx)
	if err != nil {
		return nil, err
	}
	v, err := p.verify(ctx, verification.NewDispatcher(master, p.deps.Extract), inv)
	if err != nil {
		return nil, err
	}
	if repo := p.deps.Repo; repo != nil {
		if err := repo.SaveVerification(ctx, v); err != nil {
			return v, fmt.Errorf("failed to save verification: %w", err)
		}
	}
	return v, nil
}

func (p *Pipeline) verify(ctx context.Context, disp *verification.Dispatcher, inv *verification.Invoice) (*domain.InvoiceVerification, error) {
	dir := artifactDir(p.cfg.ArtifactRoot, inv.DocumentNumber())
	att, err := p.deps.Reader.Read(ctx, dir, inv.DocumentNumber(), inv.CompanyCode)
	if err != nil {
		return nil, fmt.Errorf("failed to read attachments: %w", err)
	}
	return disp.Verify(ctx, inv, att), nil
}

// artifactDir prefers a folder named after the document under root and
// falls back to root itself.
func artifactDir(root, docNumber string) string {
	if root == "" {
		root = "."
	}
	dir := filepath.Join(root, docNumber)
	if st, err := os.Stat(dir); err == nil && st.IsDir() {
		return dir
	}
	return root
}

// InvoiceRows returns the first invoice row of every accounting document
// in f, in row order.
func InvoiceRows(f *frame.Frame) []int {
	var rows []int
	seen := make(map[string]bool)
	for i := 0; i < f.Len(); i++ {
		doc := f.Str(domain.ColAccountDocID, i)
		if doc == "" || seen[doc] || !isInvoice(f, i) {
			continue
		}
		seen[doc] = true
		rows = append(rows, i)
	}
	return rows
}

func isInvoice(f *frame.Frame, i int) bool {
	entry := f.Str(domain.ColEntryType, i)
	if entry == "" {
		entry = prep.EntryType(f.Str(domain.ColDocType, i))
	}
	return entry == domain.EntryInvoice
}
