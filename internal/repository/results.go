package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// SaveTransactionScores replaces the line-level scores of a batch.
func (r *SQLRepository) SaveTransactionScores(ctx context.Context, batchID string, scores []domain.TransactionScore) error {
	if batchID == "" {
		return fmt.Errorf("%w: batchID is required", ErrInvalidInput)
	}
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, r.rebind(`DELETE FROM transaction_scores WHERE batch_id = ?`), batchID); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, r.rebind(`
			INSERT INTO transaction_scores (batch_id, transaction_id, account_doc_id, raw_score, score, deviations, rules)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`))
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, s := range scores {
			if _, err := stmt.ExecContext(ctx,
				batchID, s.TransactionID, s.AccountDocID, s.Raw, s.Score,
				mustJSON(s.Deviations), mustJSON(s.Rules),
			); err != nil {
				return fmt.Errorf("failed to save score for %s: %w", s.TransactionID, err)
			}
		}
		return nil
	})
}

// ListTransactionScores returns the line-level scores of a batch.
func (r *SQLRepository) ListTransactionScores(ctx context.Context, batchID string) ([]domain.TransactionScore, error) {
	query := `
		SELECT transaction_id, account_doc_id, raw_score, score, deviations, rules
		FROM transaction_scores
		WHERE batch_id = ?
		ORDER BY transaction_id
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.TransactionScore
	for rows.Next() {
		var s domain.TransactionScore
		var devs, rules string
		if err := rows.Scan(&s.TransactionID, &s.AccountDocID, &s.Raw, &s.Score, &devs, &rules); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(devs), &s.Deviations)
		_ = json.Unmarshal([]byte(rules), &s.Rules)
		out = append(out, s)
	}
	return out, rows.Err()
}

// SaveDocumentScores replaces the document rollup of a batch.
func (r *SQLRepository) SaveDocumentScores(ctx context.Context, batchID string, scores []domain.DocumentScore) error {
	if batchID == "" {
		return fmt.Errorf("%w: batchID is required", ErrInvalidInput)
	}
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, r.rebind(`DELETE FROM document_scores WHERE batch_id = ?`), batchID); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, r.rebind(`
			INSERT INTO document_scores (batch_id, account_doc_id, raw_score, score, deviations, rules)
			VALUES (?, ?, ?, ?, ?, ?)
		`))
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, s := range scores {
			if _, err := stmt.ExecContext(ctx,
				batchID, s.AccountDocID, s.Raw, s.Score, mustJSON(s.Deviations), mustJSON(s.Rules),
			); err != nil {
				return fmt.Errorf("failed to save document score for %s: %w", s.AccountDocID, err)
			}
		}
		return nil
	})
}

// ListDocumentScores returns the document rollup of a batch.
func (r *SQLRepository) ListDocumentScores(ctx context.Context, batchID string) ([]domain.DocumentScore, error) {
	query := `
		SELECT account_doc_id, raw_score, score, deviations, rules
		FROM document_scores
		WHERE batch_id = ?
		ORDER BY account_doc_id
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DocumentScore
	for rows.Next() {
		var s domain.DocumentScore
		var devs, rules string
		if err := rows.Scan(&s.AccountDocID, &s.Raw, &s.Score, &devs, &rules); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(devs), &s.Deviations)
		_ = json.Unmarshal([]byte(rules), &s.Rules)
		out = append(out, s)
	}
	return out, rows.Err()
}

// SaveDuplicates replaces the duplicate groups of a batch.
func (r *SQLRepository) SaveDuplicates(ctx context.Context, batchID string, members []domain.DuplicateMember) error {
	if batchID == "" {
		return fmt.Errorf("%w: batchID is required", ErrInvalidInput)
	}
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, r.rebind(`DELETE FROM duplicate_members WHERE batch_id = ?`), batchID); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, r.rebind(`
			INSERT INTO duplicate_members (batch_id, transaction_id, duplicate_id, group_key, scenario_id, no_of_duplicates, risk_score)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`))
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, m := range members {
			if _, err := stmt.ExecContext(ctx,
				batchID, m.TransactionID, m.DuplicateID, m.GroupKey, m.ScenarioID, m.NoOfDuplicates, m.RiskScore,
			); err != nil {
				return fmt.Errorf("failed to save duplicate member %s: %w", m.TransactionID, err)
			}
		}
		return nil
	})
}

// ListDuplicates returns the duplicate groups of a batch ordered by group.
func (r *SQLRepository) ListDuplicates(ctx context.Context, batchID string) ([]domain.DuplicateMember, error) {
	query := `
		SELECT transaction_id, duplicate_id, group_key, scenario_id, no_of_duplicates, risk_score
		FROM duplicate_members
		WHERE batch_id = ?
		ORDER BY duplicate_id, transaction_id
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DuplicateMember
	for rows.Next() {
		var m domain.DuplicateMember
		if err := rows.Scan(&m.TransactionID, &m.DuplicateID, &m.GroupKey, &m.ScenarioID, &m.NoOfDuplicates, &m.RiskScore); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SaveVerification stores the latest verification of an invoice.
func (r *SQLRepository) SaveVerification(ctx context.Context, v *domain.InvoiceVerification) error {
	if v == nil || v.AccountDocID == "" {
		return fmt.Errorf("%w: account doc ID is required", ErrInvalidInput)
	}
	results, err := json.Marshal(v.Results)
	if err != nil {
		return fmt.Errorf("failed to marshal verification results: %w", err)
	}

	query := `
		INSERT INTO invoice_verifications (
			account_doc_id, batch_id, transaction_id, region, doc_type, dp_doc_type, anomalies, results, verified_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_doc_id) DO UPDATE SET
			batch_id = excluded.batch_id,
			transaction_id = excluded.transaction_id,
			region = excluded.region,
			doc_type = excluded.doc_type,
			dp_doc_type = excluded.dp_doc_type,
			anomalies = excluded.anomalies,
			results = excluded.results,
			verified_at = excluded.verified_at
	`
	_, err = r.db.ExecContext(ctx, r.rebind(query),
		v.AccountDocID, v.BatchID, v.TransactionID, v.Region, v.DocType, v.DPDocType,
		v.Anomalies(), string(results), v.VerifiedAt,
	)
	return err
}

// GetVerification returns the latest verification of an invoice.
func (r *SQLRepository) GetVerification(ctx context.Context, accountDocID string) (*domain.InvoiceVerification, error) {
	query := `
		SELECT account_doc_id, batch_id, transaction_id, region, doc_type, dp_doc_type, results, verified_at
		FROM invoice_verifications
		WHERE account_doc_id = ?
	`
	var v domain.InvoiceVerification
	var batchID, txID, region, docType, dpDocType sql.NullString
	var results string
	err := r.db.QueryRowContext(ctx, r.rebind(query), accountDocID).Scan(
		&v.AccountDocID, &batchID, &txID, &region, &docType, &dpDocType, &results, &v.VerifiedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	v.BatchID, v.TransactionID = batchID.String, txID.String
	v.Region, v.DocType, v.DPDocType = region.String, docType.String, dpDocType.String
	if err := json.Unmarshal([]byte(results), &v.Results); err != nil {
		return nil, fmt.Errorf("failed to parse verification results: %w", err)
	}
	return &v, nil
}
