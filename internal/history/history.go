// Package history keeps AP invoice rows across batches so that duplicate
// detection can compare a batch against earlier periods.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/frame"
	"github.com/opensource-finance/kestrel/internal/prep"
)

// DefaultLookback bounds how far back history is loaded.
const DefaultLookback = 365 * 24 * time.Hour

var ErrNoRepository = errors.New("no history repository configured")

// Columns are the source columns kept for a history row.
var Columns = []string{
	domain.ColTransactionID,
	domain.ColAccountDocID,
	domain.ColSupplierID,
	domain.ColVendorID,
	domain.ColInvoiceNumber,
	domain.ColInvoiceDate,
	domain.ColPostingDate,
	domain.ColInvoiceAmount,
	domain.ColAmount,
	domain.ColDebitAmount,
	domain.ColCreditAmount,
	domain.ColCurrency,
	domain.ColDocType,
	domain.ColCompanyCode,
	domain.ColRegion,
}

// Service loads and stores invoice history.
type Service struct {
	repo     domain.Repository
	lookback time.Duration
	now      func() time.Time
}

// NewService creates a history service.
func NewService(repo domain.Repository, lookback time.Duration) *Service {
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	return &Service{
		repo:     repo,
		lookback: lookback,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Load returns the history rows of the batch's suppliers as a prepared
// frame with IS_CURRENT_DATA = 0. Rows whose TRANSACTION_ID is already in
// the batch are left out. It returns nil when there is nothing to add.
func (s *Service) Load(ctx context.Context, batch *frame.Frame) (*frame.Frame, error) {
	if s.repo == nil {
		return nil, ErrNoRepository
	}

	suppliers := supplierIDs(batch)
	if len(suppliers) == 0 {
		return nil, nil
	}

	since := s.now().Add(-s.lookback)
	rows, err := s.repo.ListInvoiceHistory(ctx, suppliers, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load invoice history: %w", err)
	}

	inBatch := make(map[string]bool, batch.Len())
	for i := 0; i < batch.Len(); i++ {
		inBatch[batch.Str(domain.ColTransactionID, i)] = true
	}

	var records []map[string]any
	for _, h := range rows {
		if inBatch[h.TransactionID] {
			continue
		}
		rec := make(map[string]any, len(h.Row)+1)
		for k, v := range h.Row {
			rec[k] = v
		}
		rec[domain.ColTransactionID] = h.TransactionID
		rec[domain.ColIsCurrentData] = 0
		records = append(records, rec)
	}
	if len(records) == 0 {
		return nil, nil
	}

	slog.Debug("invoice history loaded",
		"suppliers", len(suppliers),
		"rows", len(records),
		"since", since.Format(time.DateOnly),
	)
	return prep.Prepare(frame.FromRecords(records), prep.Options{Now: s.now()}), nil
}

// Save stores the invoice rows of a batch for later batches. Rows without a
// transaction or supplier ID, and non-invoice entries, are not kept.
func (s *Service) Save(ctx context.Context, batchID string, f *frame.Frame) (int, error) {
	if s.repo == nil {
		return 0, ErrNoRepository
	}

	var out []domain.HistoryInvoice
	for i := 0; i < f.Len(); i++ {
		if f.Has(domain.ColIsCurrentData) && !f.IsNull(domain.ColIsCurrentData, i) && f.Flag(domain.ColIsCurrentData, i) == 0 {
			continue
		}
		if !isInvoice(f, i) {
			continue
		}
		txID := f.Str(domain.ColTransactionID, i)
		supplier := supplierID(f, i)
		if txID == "" || supplier == "" {
			continue
		}

		row := make(map[string]any, len(Columns))
		for _, c := range Columns {
			if f.Has(c) && !f.IsNull(c, i) {
				row[c] = f.Value(c, i)
			}
		}
		out = append(out, domain.HistoryInvoice{
			BatchID:       batchID,
			TransactionID: txID,
			SupplierID:    supplier,
			Region:        f.Str(domain.ColRegion, i),
			PostedAt:      postedAt(f, i, s.now()),
			Row:           row,
		})
	}

	if err := s.repo.SaveInvoiceHistory(ctx, out); err != nil {
		return 0, fmt.Errorf("failed to save invoice history: %w", err)
	}
	return len(out), nil
}

func isInvoice(f *frame.Frame, i int) bool {
	entry := f.Str(domain.ColEntryType, i)
	if entry == "" {
		entry = prep.EntryType(f.Str(domain.ColDocType, i))
	}
	return entry == domain.EntryInvoice
}

func supplierID(f *frame.Frame, i int) string {
	if s := f.Str(domain.ColSupplierID, i); s != "" {
		return s
	}
	return f.Str(domain.ColVendorID, i)
}

func supplierIDs(f *frame.Frame) []string {
	seen := make(map[string]bool)
	var out []string
	for i := 0; i < f.Len(); i++ {
		if id := supplierID(f, i); id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// postedAt is POSTING_DATE, falling back to INVOICE_DATE, then now.
func postedAt(f *frame.Frame, i int, now time.Time) time.Time {
	if t, ok := f.Time(domain.ColPostingDate, i); ok {
		return t
	}
	if t, ok := f.Time(domain.ColInvoiceDate, i); ok {
		return t
	}
	return now
}
