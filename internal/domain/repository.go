// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Batch operations
	CreateBatch(ctx context.Context, batch *Batch) error
	UpdateBatch(ctx context.Context, batch *Batch) error
	GetBatch(ctx context.Context, batchID string) (*Batch, error)
	ListBatches(ctx context.Context, limit int) ([]*Batch, error)

	// Scores and duplicates
	SaveTransactionScores(ctx context.Context, batchID string, scores []TransactionScore) error
	ListTransactionScores(ctx context.Context, batchID string) ([]TransactionScore, error)
	SaveDocumentScores(ctx context.Context, batchID string, scores []DocumentScore) error
	ListDocumentScores(ctx context.Context, batchID string) ([]DocumentScore, error)
	SaveDuplicates(ctx context.Context, batchID string, members []DuplicateMember) error
	ListDuplicates(ctx context.Context, batchID string) ([]DuplicateMember, error)

	// Invoice verification results
	SaveVerification(ctx context.Context, v *InvoiceVerification) error
	GetVerification(ctx context.Context, accountDocID string) (*InvoiceVerification, error)

	// Rule configuration
	SaveRuleSetting(ctx context.Context, setting RuleSetting) error
	ListRuleSettings(ctx context.Context, module Module) ([]RuleSetting, error)
	SaveRuleConfig(ctx context.Context, rule *CustomRule) error
	GetRuleConfig(ctx context.Context, ruleID string) (*CustomRule, error)
	ListRuleConfigs(ctx context.Context) ([]*CustomRule, error)
	DeleteRuleConfig(ctx context.Context, ruleID string) error
	SaveScenario(ctx context.Context, scenario *Scenario) error
	ListScenarios(ctx context.Context) ([]Scenario, error)

	// Master data
	SaveVendor(ctx context.Context, vendor *Vendor) error
	GetVendor(ctx context.Context, code string) (*Vendor, error)
	ListVendors(ctx context.Context) ([]*Vendor, error)
	SaveAccount(ctx context.Context, account Account) error
	ListAccounts(ctx context.Context) ([]Account, error)
	SaveCompany(ctx context.Context, company *Company) error
	ListCompanies(ctx context.Context) ([]*Company, error)

	// Invoice history for cross-batch duplicate detection
	SaveInvoiceHistory(ctx context.Context, rows []HistoryInvoice) error
	ListInvoiceHistory(ctx context.Context, supplierIDs []string, since time.Time) ([]HistoryInvoice, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `json:"driver"`

	// SQLite specific
	SQLitePath string `json:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `json:"postgresHost"`
	PostgresPort     int    `json:"postgresPort"`
	PostgresUser     string `json:"postgresUser"`
	PostgresPassword string `json:"postgresPassword"`
	PostgresDB       string `json:"postgresDb"`
	PostgresSSLMode  string `json:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `json:"maxOpenConns"`
	MaxIdleConns    int           `json:"maxIdleConns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime"`
}
