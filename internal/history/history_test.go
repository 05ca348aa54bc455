package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/frame"
	"github.com/opensource-finance/kestrel/internal/prep"
	"github.com/opensource-finance/kestrel/internal/repository"
)

func TestHistoryService(t *testing.T) {
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "history-test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	now := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)
	svc := NewService(repo, 180*24*time.Hour)
	svc.now = func() time.Time { return now }
	ctx := context.Background()

	previous := prep.Prepare(frame.FromRecords([]map[string]any{
		{"TRANSACTION_ID": "P1", "SUPPLIER_ID": "V1", "DOC_TYPE": "KR", "INVOICE_NUMBER": "INV-100",
			"INVOICE_DATE": "2024-05-02", "POSTING_DATE": "2024-05-03", "INVOICE_AMOUNT": "1500.00", "REGION": "NAA"},
		{"TRANSACTION_ID": "P2", "SUPPLIER_ID": "V1", "DOC_TYPE": "KG", "INVOICE_NUMBER": "CM-1",
			"INVOICE_DATE": "2024-05-02", "INVOICE_AMOUNT": "20.00"},
		{"TRANSACTION_ID": "P3", "SUPPLIER_ID": "V2", "DOC_TYPE": "RE", "INVOICE_NUMBER": "INV-9",
			"INVOICE_DATE": "2023-01-10", "INVOICE_AMOUNT": "75.00"},
		{"TRANSACTION_ID": "", "SUPPLIER_ID": "V1", "DOC_TYPE": "KR"},
	}), prep.Options{Now: now})

	t.Run("Save", func(t *testing.T) {
		n, err := svc.Save(ctx, "batch-1", previous)
		if err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		if n != 2 {
			t.Errorf("saved %d rows, want 2 (invoices with IDs only)", n)
		}
	})

	t.Run("Load", func(t *testing.T) {
		batch := frame.FromRecords([]map[string]any{
			{"TRANSACTION_ID": "C1", "SUPPLIER_ID": "V1", "INVOICE_NUMBER": "INV-100"},
			{"TRANSACTION_ID": "C2", "SUPPLIER_ID": "V2", "INVOICE_NUMBER": "INV-9"},
		})
		hist, err := svc.Load(ctx, batch)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		// P3 is older than the lookback.
		if hist == nil || hist.Len() != 1 {
			t.Fatalf("expected 1 history row, got %v", hist)
		}
		if got := hist.Str(domain.ColTransactionID, 0); got != "P1" {
			t.Errorf("TRANSACTION_ID = %q", got)
		}
		if hist.Flag(domain.ColIsCurrentData, 0) != 0 || hist.IsNull(domain.ColIsCurrentData, 0) {
			t.Error("history rows must carry IS_CURRENT_DATA = 0")
		}
		if d, ok := hist.Time(domain.ColInvoiceDate, 0); !ok || !d.Equal(time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)) {
			t.Errorf("INVOICE_DATE = %v, %v", d, ok)
		}
		if v, _ := hist.Float(domain.ColInvoiceAmount, 0); v != 1500 {
			t.Errorf("INVOICE_AMOUNT = %v", v)
		}
	})

	t.Run("SkipsRowsAlreadyInBatch", func(t *testing.T) {
		batch := frame.FromRecords([]map[string]any{
			{"TRANSACTION_ID": "P1", "SUPPLIER_ID": "V1"},
		})
		hist, err := svc.Load(ctx, batch)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if hist != nil {
			t.Errorf("expected no history, got %d rows", hist.Len())
		}
	})

	t.Run("VendorIDFallback", func(t *testing.T) {
		batch := frame.FromRecords([]map[string]any{
			{"TRANSACTION_ID": "C9", "VENDORID": "V1"},
		})
		hist, err := svc.Load(ctx, batch)
		if err != nil || hist == nil || hist.Len() != 1 {
			t.Errorf("expected history for VENDORID, got %v, %v", hist, err)
		}
	})

	t.Run("HistoryRowsAreNotResaved", func(t *testing.T) {
		f := frame.FromRecords([]map[string]any{
			{"TRANSACTION_ID": "H1", "SUPPLIER_ID": "V1", "DOC_TYPE": "KR", "IS_CURRENT_DATA": 0},
		})
		n, err := svc.Save(ctx, "batch-2", f)
		if err != nil || n != 0 {
			t.Errorf("Save = %d, %v; want 0 rows", n, err)
		}
	})
}

func TestHistoryWithoutRepository(t *testing.T) {
	svc := NewService(nil, 0)
	if svc.lookback != DefaultLookback {
		t.Errorf("lookback = %v", svc.lookback)
	}
	if _, err := svc.Load(context.Background(), frame.New(0)); !errors.Is(err, ErrNoRepository) {
		t.Errorf("expected ErrNoRepository, got %v", err)
	}
}
