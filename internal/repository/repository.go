// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// CreateBatch stores a new batch.
func (r *SQLRepository) CreateBatch(ctx context.Context, batch *domain.Batch) error {
	if batch == nil || batch.ID == "" {
		return fmt.Errorf("%w: batch ID is required", ErrInvalidInput)
	}
	if !batch.Module.Valid() {
		return fmt.Errorf("%w: unknown module %q", ErrInvalidInput, batch.Module)
	}

	now := time.Now().UTC()
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = now
	}
	batch.UpdatedAt = now

	summary, err := marshalSummary(batch.Summary)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO batches (id, audit_id, module, status, rows_count, summary, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, r.rebind(query),
		batch.ID, batch.AuditID, string(batch.Module), string(batch.Status),
		batch.Rows, summary, batch.CreatedAt, batch.UpdatedAt,
	)
	return err
}

// UpdateBatch stores a batch's status and summary.
func (r *SQLRepository) UpdateBatch(ctx context.Context, batch *domain.Batch) error {
	if batch == nil || batch.ID == "" {
		return fmt.Errorf("%w: batch ID is required", ErrInvalidInput)
	}
	batch.UpdatedAt = time.Now().UTC()

	summary, err := marshalSummary(batch.Summary)
	if err != nil {
		return err
	}

	query := `
		UPDATE batches
		SET status = ?, rows_count = ?, summary = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, r.rebind(query),
		string(batch.Status), batch.Rows, summary, batch.UpdatedAt, batch.ID,
	)
	if err != nil {
		return err
	}
	return expectRows(result)
}

// GetBatch retrieves a batch by ID.
func (r *SQLRepository) GetBatch(ctx context.Context, batchID string) (*domain.Batch, error) {
	query := `
		SELECT id, audit_id, module, status, rows_count, summary, created_at, updated_at
		FROM batches
		WHERE id = ?
	`
	b, err := scanBatch(r.db.QueryRowContext(ctx, r.rebind(query), batchID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return b, err
}

// ListBatches returns the most recent batches first.
func (r *SQLRepository) ListBatches(ctx context.Context, limit int) ([]*domain.Batch, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, audit_id, module, status, rows_count, summary, created_at, updated_at
		FROM batches
		ORDER BY created_at DESC
		LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batches []*domain.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(s rowScanner) (*domain.Batch, error) {
	var b domain.Batch
	var module, status string
	var summary sql.NullString
	if err := s.Scan(&b.ID, &b.AuditID, &module, &status, &b.Rows, &summary, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	b.Module = domain.Module(module)
	b.Status = domain.BatchStatus(status)
	if summary.Valid && summary.String != "" {
		var s domain.Summary
		if err := json.Unmarshal([]byte(summary.String), &s); err != nil {
			return nil, fmt.Errorf("failed to parse batch summary: %w", err)
		}
		b.Summary = &s
	}
	return &b, nil
}

func marshalSummary(s *domain.Summary) (any, error) {
	if s == nil {
		return nil, nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal summary: %w", err)
	}
	return string(data), nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// inTx runs fn inside a transaction.
func (r *SQLRepository) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func expectRows(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(data)
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			fmt.Fprintf(&b, "$%d", n)
			n++
		} else {
			b.WriteByte(query[i])
		}
	}
	return b.String()
}
