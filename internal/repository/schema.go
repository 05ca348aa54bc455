package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaBatches = `
CREATE TABLE IF NOT EXISTS batches (
    id TEXT PRIMARY KEY,
    audit_id TEXT NOT NULL,
    module TEXT NOT NULL,
    status TEXT NOT NULL,
    rows_count INTEGER NOT NULL DEFAULT 0,
    summary TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_batches_created ON batches(created_at);
CREATE INDEX IF NOT EXISTS idx_batches_audit ON batches(audit_id);
`

const schemaScores = `
CREATE TABLE IF NOT EXISTS transaction_scores (
    batch_id TEXT NOT NULL,
    transaction_id TEXT NOT NULL,
    account_doc_id TEXT NOT NULL,
    raw_score REAL NOT NULL,
    score REAL NOT NULL,
    deviations TEXT NOT NULL,
    rules TEXT NOT NULL,
    PRIMARY KEY (batch_id, transaction_id)
);

CREATE TABLE IF NOT EXISTS document_scores (
    batch_id TEXT NOT NULL,
    account_doc_id TEXT NOT NULL,
    raw_score REAL NOT NULL,
    score REAL NOT NULL,
    deviations TEXT NOT NULL,
    rules TEXT NOT NULL,
    PRIMARY KEY (batch_id, account_doc_id)
);

CREATE TABLE IF NOT EXISTS duplicate_members (
    batch_id TEXT NOT NULL,
    transaction_id TEXT NOT NULL,
    duplicate_id INTEGER NOT NULL,
    group_key TEXT NOT NULL,
    scenario_id INTEGER NOT NULL,
    no_of_duplicates INTEGER NOT NULL,
    risk_score REAL NOT NULL,
    PRIMARY KEY (batch_id, transaction_id)
);

CREATE INDEX IF NOT EXISTS idx_duplicate_members_group ON duplicate_members(batch_id, duplicate_id);
`

const schemaVerifications = `
CREATE TABLE IF NOT EXISTS invoice_verifications (
    account_doc_id TEXT PRIMARY KEY,
    batch_id TEXT,
    transaction_id TEXT,
    region TEXT,
    doc_type TEXT,
    dp_doc_type TEXT,
    anomalies INTEGER NOT NULL DEFAULT 0,
    results TEXT NOT NULL,
    verified_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_invoice_verifications_batch ON invoice_verifications(batch_id);
`

const schemaRuleConfig = `
CREATE TABLE IF NOT EXISTS rule_settings (
    module TEXT NOT NULL,
    key_name TEXT NOT NULL,
    key_value TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (module, key_name)
);

CREATE TABLE IF NOT EXISTS rule_configs (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    module TEXT,
    expression TEXT NOT NULL,
    weight REAL NOT NULL DEFAULT 1.0,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rule_configs_enabled ON rule_configs(enabled);

CREATE TABLE IF NOT EXISTS duplicate_scenarios (
    scenario_id INTEGER PRIMARY KEY,
    scenario_name TEXT NOT NULL,
    group_by_fields TEXT NOT NULL,
    similarity_check_columns TEXT,
    status INTEGER NOT NULL DEFAULT 1
);
`

const schemaMaster = `
CREATE TABLE IF NOT EXISTS vendors (
    vendor_code TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    address TEXT,
    country TEXT,
    vat_id TEXT,
    payment_terms TEXT,
    is_sensitive_change INTEGER NOT NULL DEFAULT 0,
    banking TEXT
);

CREATE TABLE IF NOT EXISTS chart_of_accounts (
    account_code TEXT PRIMARY KEY,
    account_subcategory TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS companies (
    company_code TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    address TEXT,
    country TEXT,
    region TEXT,
    variations TEXT
);
`

// schemaHistory keeps AP invoice rows of earlier batches for cross-batch
// duplicate detection.
const schemaHistory = `
CREATE TABLE IF NOT EXISTS invoice_history (
    transaction_id TEXT PRIMARY KEY,
    batch_id TEXT NOT NULL,
    supplier_id TEXT NOT NULL,
    region TEXT,
    posted_at TIMESTAMP NOT NULL,
    row_data TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_invoice_history_supplier ON invoice_history(supplier_id, posted_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaBatches,
		schemaScores,
		schemaVerifications,
		schemaRuleConfig,
		schemaMaster,
		schemaHistory,
	}
}
