package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/approval"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/frame"
	"github.com/opensource-finance/kestrel/internal/history"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/verification"
)

func newRepo(t *testing.T) domain.Repository {
	t.Helper()
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "pipeline-test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func seedSettings(t *testing.T, repo domain.Repository, module domain.Module, kv map[string]string) {
	t.Helper()
	for k, v := range kv {
		if err := repo.SaveRuleSetting(context.Background(), domain.RuleSetting{Module: module, KeyName: k, KeyValue: v}); err != nil {
			t.Fatalf("SaveRuleSetting(%s): %v", k, err)
		}
	}
}

func runPipeline(t *testing.T, p *Pipeline, module domain.Module, records []map[string]any) *Output {
	t.Helper()
	out, err := p.Run(context.Background(), &domain.Batch{AuditID: "audit-1", Module: module}, records)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	return out
}

func TestLatePaymentEndToEnd(t *testing.T) {
	repo := newRepo(t)
	seedSettings(t, repo, domain.ModuleAP, map[string]string{"WEIGHT_LATE_PAYMENT": "6"})
	p := New(Config{ArtifactRoot: t.TempDir()}, Deps{Repo: repo})

	out := runPipeline(t, p, domain.ModuleAP, []map[string]any{
		{"TRANSACTION_ID": "T1", "ACCOUNT_DOC_ID": "D1", "INVOICE_DATE": "2024-01-01", "DUE_DATE": "2024-02-01", "PAYMENT_DATE": "2024-02-10"},
		{"TRANSACTION_ID": "T2", "ACCOUNT_DOC_ID": "D2", "INVOICE_DATE": "2024-01-01", "DUE_DATE": "2024-02-01", "PAYMENT_DATE": "2024-01-15"},
	})

	sum := out.Summary
	if !reflect.DeepEqual(sum.ActiveRules, []string{"LATE_PAYMENT"}) {
		t.Errorf("active rules = %v", sum.ActiveRules)
	}
	if sum.FlaggedRows != 1 || sum.FlaggedDocuments != 1 || sum.Documents != 2 {
		t.Errorf("summary = %+v", sum)
	}
	if len(sum.StageErrors) != 0 {
		t.Errorf("unexpected stage errors: %v", sum.StageErrors)
	}

	tx := out.Transactions[0]
	if tx.Raw < 6 || tx.Score != 1 || !reflect.DeepEqual(tx.Deviations, []string{"LATE_PAYMENT"}) {
		t.Errorf("T1 score = %+v", tx)
	}
	if out.Frame.Str(domain.ColControlDeviation, 0) != "LATE_PAYMENT" {
		t.Errorf("CONTROL_DEVIATION = %q", out.Frame.Str(domain.ColControlDeviation, 0))
	}

	t.Run("persisted", func(t *testing.T) {
		ctx := context.Background()
		b, err := repo.GetBatch(ctx, out.Batch.ID)
		if err != nil {
			t.Fatalf("GetBatch: %v", err)
		}
		if b.Status != domain.BatchCompleted || b.Summary == nil || b.Summary.FlaggedRows != 1 {
			t.Errorf("stored batch = %+v", b)
		}
		scores, _ := repo.ListTransactionScores(ctx, out.Batch.ID)
		if len(scores) != 2 {
			t.Errorf("stored %d transaction scores", len(scores))
		}
		docs, _ := repo.ListDocumentScores(ctx, out.Batch.ID)
		if len(docs) != 2 {
			t.Errorf("stored %d document scores", len(docs))
		}
	})
}

func TestDuplicateEndToEnd(t *testing.T) {
	p := New(Config{DuplicateWorkers: 2, ArtifactRoot: t.TempDir()}, Deps{})
	out := runPipeline(t, p, domain.ModuleAP, []map[string]any{
		{"TRANSACTION_ID": "T1", "ACCOUNT_DOC_ID": "D1", "INVOICE_NUMBER": "INV-42", "SUPPLIER_ID": "V1",
			"INVOICE_DATE": "2024-03-01", "INVOICE_AMOUNT": 100.00, "REGION": "NAA"},
		{"TRANSACTION_ID": "T2", "ACCOUNT_DOC_ID": "D2", "INVOICE_NUMBER": "INV-42", "SUPPLIER_ID": "V1",
			"INVOICE_DATE": "2024-03-01", "INVOICE_AMOUNT": 100.00, "REGION": "NAA"},
	})

	if out.Summary.DuplicateGroups != 1 || out.Summary.DuplicateRows != 2 {
		t.Fatalf("summary = %+v", out.Summary)
	}
	f := out.Frame
	id0, _ := f.Int(domain.ColDuplicateID, 0)
	id1, _ := f.Int(domain.ColDuplicateID, 1)
	if id0 != id1 || id0 == 0 {
		t.Errorf("DUPLICATE_ID = %d, %d", id0, id1)
	}
	if n, _ := f.Int(domain.ColNoOfDuplicates, 0); n != 2 {
		t.Errorf("NO_OF_DUPLICATES = %d", n)
	}
	if s, _ := f.Int(domain.ColScenarioID, 1); s != 1 {
		t.Errorf("SCENARIO_ID = %d", s)
	}
}

func TestDuplicatesAgainstHistory(t *testing.T) {
	repo := newRepo(t)
	hist := history.NewService(repo, 100*365*24*time.Hour)
	p := New(Config{ArtifactRoot: t.TempDir()}, Deps{Repo: repo, History: hist})

	row := func(id string) map[string]any {
		return map[string]any{
			"TRANSACTION_ID": id, "ACCOUNT_DOC_ID": "D-" + id, "DOC_TYPE": "KR",
			"INVOICE_NUMBER": "INV-42", "SUPPLIER_ID": "V1", "INVOICE_DATE": "2024-03-01",
			"INVOICE_AMOUNT": 100.00, "REGION": "NAA",
		}
	}

	first := runPipeline(t, p, domain.ModuleAP, []map[string]any{row("T1")})
	if first.Summary.DuplicateGroups != 0 {
		t.Fatalf("single invoice grouped: %+v", first.Duplicates)
	}

	second := runPipeline(t, p, domain.ModuleAP, []map[string]any{row("T9")})
	if second.Frame.Len() != 1 {
		t.Fatalf("history rows leaked into the batch frame: %d rows", second.Frame.Len())
	}
	if second.Summary.DuplicateGroups != 1 {
		t.Fatalf("expected a group with the earlier invoice, got %+v", second.Duplicates)
	}
	ids := map[string]bool{}
	for _, m := range second.Duplicates {
		ids[m.TransactionID] = true
	}
	if !ids["T1"] || !ids["T9"] {
		t.Errorf("members = %v", second.Duplicates)
	}
	if second.Frame.IsNull(domain.ColDuplicateID, 0) {
		t.Error("batch row has no DUPLICATE_ID")
	}
}

func TestUnusualAccountPairEndToEnd(t *testing.T) {
	repo := newRepo(t)
	seedSettings(t, repo, domain.ModuleGL, map[string]string{
		"WEIGHT_UNUSUAL_ACCOUNT_PAIRING": "6",
		rules.KeyFreqThreshold:           "1",
	})
	p := New(Config{}, Deps{Repo: repo})

	out := runPipeline(t, p, domain.ModuleGL, []map[string]any{
		{"TRANSACTION_ID": "1", "ACCOUNT_DOC_ID": "D1", "ACCOUNT_CODE": "A", "DEBIT_AMOUNT": 100, "CREDIT_AMOUNT": 0},
		{"TRANSACTION_ID": "2", "ACCOUNT_DOC_ID": "D1", "ACCOUNT_CODE": "B", "DEBIT_AMOUNT": 0, "CREDIT_AMOUNT": -100},
		{"TRANSACTION_ID": "3", "ACCOUNT_DOC_ID": "D2", "ACCOUNT_CODE": "C", "DEBIT_AMOUNT": 40, "CREDIT_AMOUNT": 0},
		{"TRANSACTION_ID": "4", "ACCOUNT_DOC_ID": "D2", "ACCOUNT_CODE": "D", "DEBIT_AMOUNT": 0, "CREDIT_AMOUNT": -40},
		{"TRANSACTION_ID": "5", "ACCOUNT_DOC_ID": "D3", "ACCOUNT_CODE": "C", "DEBIT_AMOUNT": 60, "CREDIT_AMOUNT": 0},
		{"TRANSACTION_ID": "6", "ACCOUNT_DOC_ID": "D3", "ACCOUNT_CODE": "D", "DEBIT_AMOUNT": 0, "CREDIT_AMOUNT": -60},
	})

	for i, want := range []int{1, 1, 0, 0, 0, 0} {
		if got := out.Frame.Flag("UNUSUAL_ACCOUNT_PAIRING", i); got != want {
			t.Errorf("row %d: UNUSUAL_ACCOUNT_PAIRING = %d, want %d", i, got, want)
		}
	}
	if out.Duplicates != nil || out.Verifications != nil {
		t.Error("GL batches are not deduplicated or verified")
	}
	if len(out.DocumentScores) != 3 || out.Summary.FlaggedDocuments != 1 {
		t.Errorf("documents = %+v", out.DocumentScores)
	}
}

func TestVerificationEndToEnd(t *testing.T) {
	master := &domain.MasterData{
		Companies: map[string]*domain.Company{"2000": {Code: "2000", Name: "Kestrel Canada Ltd", Country: "CA", Region: "NAA"}},
	}
	repo := newRepo(t)
	p := New(Config{ArtifactRoot: t.TempDir(), VerifyAll: true}, Deps{Repo: repo, Master: master})

	out := runPipeline(t, p, domain.ModuleAP, []map[string]any{
		{"TRANSACTION_ID": "T6", "ACCOUNT_DOC_ID": "5100000077", "COMPANY_CODE": "2000", "REGION": "NAA",
			"DOC_TYPE": "KS", "DP_DOC_TYPE": "NPO_RP_GLB", "INVOICE_RECEIPT_DATE": "2024-05-12",
			"VIM_COMMENTS": "Scanned by AP\nInvoice received 12.05.2024 via mailroom"},
		{"TRANSACTION_ID": "T7", "ACCOUNT_DOC_ID": "5100000077", "COMPANY_CODE": "2000", "REGION": "NAA",
			"DOC_TYPE": "KS", "DP_DOC_TYPE": "NPO_RP_GLB"},
	})

	if out.Summary.VerifiedInvoices != 1 || len(out.Verifications) != 1 {
		t.Fatalf("verified %d invoices", out.Summary.VerifiedInvoices)
	}
	v := out.Verifications[0]
	r, ok := v.Result(verification.ParamReceiptDate)
	if !ok {
		t.Fatal("no receipt date result")
	}
	if r.Method != domain.MethodAutomated || r.IsAnomaly == nil || *r.IsAnomaly {
		t.Errorf("receipt date = %+v", r)
	}
	if r.ExtractedValue != "2024-05-12" {
		t.Errorf("extracted = %v", r.ExtractedValue)
	}

	stored, err := repo.GetVerification(context.Background(), "5100000077")
	if err != nil {
		t.Fatalf("GetVerification: %v", err)
	}
	if stored.BatchID != out.Batch.ID || len(stored.Results) != len(verification.Parameters) {
		t.Errorf("stored = %+v", stored)
	}
}

func TestVerifyOnlyFlaggedDocuments(t *testing.T) {
	p := New(Config{ArtifactRoot: t.TempDir()}, Deps{})
	out := runPipeline(t, p, domain.ModuleAP, []map[string]any{
		{"TRANSACTION_ID": "T1", "ACCOUNT_DOC_ID": "D1", "DOC_TYPE": "KR", "REGION": "NAA"},
	})
	if out.Summary.VerifiedInvoices != 0 {
		t.Errorf("unflagged document verified: %+v", out.Verifications)
	}
}

func TestVerifyInvoice(t *testing.T) {
	p := New(Config{ArtifactRoot: t.TempDir()}, Deps{})
	v, err := p.VerifyInvoice(context.Background(), &verification.Invoice{
		AccountDocID: "5100000099",
		Region:       "NAA",
		DocType:      "KC",
	})
	if err != nil {
		t.Fatalf("VerifyInvoice: %v", err)
	}
	if len(v.Results) != len(verification.Parameters) {
		t.Errorf("got %d results", len(v.Results))
	}
}

func TestStageEvents(t *testing.T) {
	b := bus.NewChannelBus(16)
	defer b.Close()
	ctx := context.Background()

	events := make(chan Event, 8)
	for _, topic := range []string{domain.TopicBatchScored, domain.TopicBatchDuplicates, domain.TopicBatchVerified} {
		sub, err := b.Subscribe(ctx, topic, func(ctx context.Context, msg *domain.Message) error {
			var e Event
			if err := json.Unmarshal(msg.Payload, &e); err != nil {
				return err
			}
			events <- e
			return nil
		})
		if err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
		defer sub.Unsubscribe()
	}

	p := New(Config{ArtifactRoot: t.TempDir()}, Deps{Bus: b})
	out := runPipeline(t, p, domain.ModuleAP, []map[string]any{
		{"TRANSACTION_ID": "T1", "ACCOUNT_DOC_ID": "D1", "INVOICE_DATE": "2024-01-01", "DUE_DATE": "2024-02-01", "PAYMENT_DATE": "2024-02-10"},
	})

	seen := map[string]bool{}
	timeout := time.After(2 * time.Second)
	for len(seen) < 3 {
		select {
		case e := <-events:
			if e.BatchID != out.Batch.ID || e.Summary == nil {
				t.Errorf("event = %+v", e)
			}
			seen[e.Topic] = true
		case <-timeout:
			t.Fatalf("received events for %v only", seen)
		}
	}
}

func TestApprovalUnavailableSkipsRule(t *testing.T) {
	b := bus.NewChannelBus(16)
	defer b.Close()

	repo := newRepo(t)
	seedSettings(t, repo, domain.ModuleAP, map[string]string{"WEIGHT_APPROVAL_MATRIX": "7"})
	p := New(Config{ArtifactRoot: t.TempDir()}, Deps{
		Repo:     repo,
		Approval: approval.NewBusClient(b, 50*time.Millisecond),
	})

	out := runPipeline(t, p, domain.ModuleAP, []map[string]any{
		{"TRANSACTION_ID": "T1", "ACCOUNT_DOC_ID": "D1"},
	})
	var reason string
	for _, s := range out.Summary.SkippedRules {
		if s.Rule == "APPROVAL_MATRIX" {
			reason = s.Reason
		}
	}
	if reason != domain.SkipUnavailable {
		t.Errorf("APPROVAL_MATRIX skip reason = %q, summary %+v", reason, out.Summary.SkippedRules)
	}
	if out.Frame.Has("APPROVAL_MATRIX") {
		t.Error("skipped rule wrote a column")
	}
}

func TestApprovalServedOverBus(t *testing.T) {
	b := bus.NewChannelBus(16)
	defer b.Close()
	sub, err := approval.Serve(context.Background(), b, func(ctx context.Context, auditID string) ([]approval.Row, error) {
		return []approval.Row{{AccountDocID: "D2", ApprovalMatrix: 1}}, nil
	})
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	defer sub.Unsubscribe()

	repo := newRepo(t)
	seedSettings(t, repo, domain.ModuleAP, map[string]string{"WEIGHT_APPROVAL_MATRIX": "7"})
	p := New(Config{ArtifactRoot: t.TempDir()}, Deps{Repo: repo, Approval: approval.NewBusClient(b, time.Second)})

	out := runPipeline(t, p, domain.ModuleAP, []map[string]any{
		{"TRANSACTION_ID": "T1", "ACCOUNT_DOC_ID": "D1"},
		{"TRANSACTION_ID": "T2", "ACCOUNT_DOC_ID": "D2"},
	})
	if out.Frame.Flag("APPROVAL_MATRIX", 0) != 0 || out.Frame.Flag("APPROVAL_MATRIX", 1) != 1 {
		t.Errorf("APPROVAL_MATRIX = %v", out.Frame.Column("APPROVAL_MATRIX"))
	}
}

// brokenRepo fails the rule settings lookup and score persistence.
type brokenRepo struct {
	domain.Repository
}

var errBroken = errors.New("disk on fire")

func (brokenRepo) ListRuleSettings(context.Context, domain.Module) ([]domain.RuleSetting, error) {
	return nil, errBroken
}

func (brokenRepo) SaveTransactionScores(context.Context, string, []domain.TransactionScore) error {
	return errBroken
}

func TestStageFailuresDoNotStopTheBatch(t *testing.T) {
	repo := brokenRepo{Repository: newRepo(t)}
	p := New(Config{ArtifactRoot: t.TempDir()}, Deps{Repo: repo})

	out := runPipeline(t, p, domain.ModuleAP, []map[string]any{
		{"TRANSACTION_ID": "T1", "ACCOUNT_DOC_ID": "D1", "INVOICE_DATE": "2024-01-01", "DUE_DATE": "2024-02-01", "PAYMENT_DATE": "2024-02-10"},
	})

	stages := map[string]bool{}
	for _, e := range out.Summary.StageErrors {
		stages[e.Stage] = true
	}
	if !stages[StageConfig] || !stages[StageScoring] {
		t.Errorf("stage errors = %+v", out.Summary.StageErrors)
	}
	// Defaults stand in for the missing settings.
	if out.Summary.FlaggedRows != 1 {
		t.Errorf("summary = %+v", out.Summary)
	}
	b, err := repo.GetBatch(context.Background(), out.Batch.ID)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if len(b.Summary.StageErrors) < 2 {
		t.Errorf("stored summary lacks stage errors: %+v", b.Summary)
	}
}

func TestRunRejectsInvalidBatches(t *testing.T) {
	p := New(Config{}, Deps{})
	ctx := context.Background()
	if _, err := p.Run(ctx, &domain.Batch{Module: "AR"}, []map[string]any{{"A": 1}}); !errors.Is(err, ErrUnknownModule) {
		t.Errorf("expected ErrUnknownModule, got %v", err)
	}
	if _, err := p.Run(ctx, &domain.Batch{Module: domain.ModuleAP}, nil); !errors.Is(err, ErrEmptyBatch) {
		t.Errorf("expected ErrEmptyBatch, got %v", err)
	}
}

func TestInvoiceRows(t *testing.T) {
	f := frame.FromRecords([]map[string]any{
		{"ACCOUNT_DOC_ID": "D1", "DOC_TYPE": "KR"},
		{"ACCOUNT_DOC_ID": "D1", "DOC_TYPE": "KR"},
		{"ACCOUNT_DOC_ID": "D2", "DOC_TYPE": "KG"},
		{"ACCOUNT_DOC_ID": "", "DOC_TYPE": "RE"},
		{"ACCOUNT_DOC_ID": "D3", "DOC_TYPE": "WA", "ENTRY_TYPE": "INV"},
	})
	if got := InvoiceRows(f); !reflect.DeepEqual(got, []int{0, 4}) {
		t.Errorf("InvoiceRows = %v, want [0 4]", got)
	}
}
