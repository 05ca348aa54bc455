package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// SaveInvoiceHistory upserts AP invoice rows kept for later batches.
func (r *SQLRepository) SaveInvoiceHistory(ctx context.Context, rows []domain.HistoryInvoice) error {
	if len(rows) == 0 {
		return nil
	}
	return r.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, r.rebind(`
			INSERT INTO invoice_history (transaction_id, batch_id, supplier_id, region, posted_at, row_data)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(transaction_id) DO UPDATE SET
				batch_id = excluded.batch_id,
				supplier_id = excluded.supplier_id,
				region = excluded.region,
				posted_at = excluded.posted_at,
				row_data = excluded.row_data
		`))
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, h := range rows {
			if h.TransactionID == "" || h.SupplierID == "" {
				return fmt.Errorf("%w: history rows need transaction and supplier IDs", ErrInvalidInput)
			}
			data, err := json.Marshal(h.Row)
			if err != nil {
				return fmt.Errorf("failed to marshal history row %s: %w", h.TransactionID, err)
			}
			if _, err := stmt.ExecContext(ctx,
				h.TransactionID, h.BatchID, h.SupplierID, h.Region, h.PostedAt.UTC(), string(data),
			); err != nil {
				return fmt.Errorf("failed to save history row %s: %w", h.TransactionID, err)
			}
		}
		return nil
	})
}

// ListInvoiceHistory returns history rows of the given suppliers posted at
// or after since.
func (r *SQLRepository) ListInvoiceHistory(ctx context.Context, supplierIDs []string, since time.Time) ([]domain.HistoryInvoice, error) {
	if len(supplierIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(supplierIDs)), ",")
	query := `
		SELECT transaction_id, batch_id, supplier_id, region, posted_at, row_data
		FROM invoice_history
		WHERE posted_at >= ? AND supplier_id IN (` + placeholders + `)
		ORDER BY posted_at, transaction_id
	`
	args := make([]any, 0, len(supplierIDs)+1)
	args = append(args, since.UTC())
	for _, id := range supplierIDs {
		args = append(args, id)
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.HistoryInvoice
	for rows.Next() {
		var h domain.HistoryInvoice
		var region sql.NullString
		var data string
		if err := rows.Scan(&h.TransactionID, &h.BatchID, &h.SupplierID, &region, &h.PostedAt, &data); err != nil {
			return nil, err
		}
		h.Region = region.String
		if err := json.Unmarshal([]byte(data), &h.Row); err != nil {
			return nil, fmt.Errorf("failed to parse history row %s: %w", h.TransactionID, err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
