package domain

import (
	"time"
)

// BatchStatus tracks a batch through the pipeline.
type BatchStatus string

const (
	BatchPending   BatchStatus = "pending"
	BatchRunning   BatchStatus = "running"
	BatchCompleted BatchStatus = "completed"
	BatchFailed    BatchStatus = "failed"
)

// Batch is one submitted set of ERP transactions.
type Batch struct {
	ID        string      `json:"id"`
	AuditID   string      `json:"auditId"`
	Module    Module      `json:"module"`
	Status    BatchStatus `json:"status"`
	Rows      int         `json:"rows"`
	Summary   *Summary    `json:"summary,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// BatchRequest is the API payload for submitting a batch.
type BatchRequest struct {
	AuditID string           `json:"auditId"`
	Module  Module           `json:"module"`
	Rows    []map[string]any `json:"rows"`
	Async   bool             `json:"async"`
}

// Summary is emitted at the end of every pipeline run, even when stages failed.
type Summary struct {
	BatchID               string        `json:"batchId"`
	Module                Module        `json:"module"`
	Rows                  int           `json:"rows"`
	Documents             int           `json:"documents"`
	ActiveRules           []string      `json:"activeRules"`
	SkippedRules          []SkippedRule `json:"skippedRules,omitempty"`
	FlaggedRows           int           `json:"flaggedRows"`
	FlaggedDocuments      int           `json:"flaggedDocuments"`
	DuplicateGroups       int           `json:"duplicateGroups"`
	DuplicateRows         int           `json:"duplicateRows"`
	VerifiedInvoices      int           `json:"verifiedInvoices"`
	VerificationAnomalies int           `json:"verificationAnomalies"`
	StageErrors           []StageError  `json:"stageErrors,omitempty"`
	StartedAt             time.Time     `json:"startedAt"`
	FinishedAt            time.Time     `json:"finishedAt"`
	DurationMs            int64         `json:"durationMs"`
}

// StageError is a non-fatal failure recorded against a stage.
type StageError struct {
	Stage string `json:"stage"`
	Error string `json:"error"`
}

// TransactionScore is the persisted line-level score.
type TransactionScore struct {
	TransactionID string         `json:"transactionId"`
	AccountDocID  string         `json:"accountDocId"`
	Raw           float64        `json:"raw"`
	Score         float64        `json:"score"`
	Deviations    []string       `json:"deviations"`
	Rules         map[string]int `json:"rules"`
}

// DocumentScore is the persisted accounting-document rollup.
type DocumentScore struct {
	AccountDocID string         `json:"accountDocId"`
	Raw          float64        `json:"raw"`
	Score        float64        `json:"score"`
	Deviations   []string       `json:"deviations"`
	Rules        map[string]int `json:"rules"`
}

// DuplicateMember is one row's membership in a duplicate group.
type DuplicateMember struct {
	TransactionID  string  `json:"transactionId"`
	DuplicateID    int     `json:"duplicateId"`
	GroupKey       string  `json:"groupKey"`
	ScenarioID     int     `json:"scenarioId"`
	NoOfDuplicates int     `json:"noOfDuplicates"`
	RiskScore      float64 `json:"riskScore"`
}

// HistoryInvoice is an AP invoice row kept from an earlier batch.
type HistoryInvoice struct {
	BatchID       string         `json:"batchId"`
	TransactionID string         `json:"transactionId"`
	SupplierID    string         `json:"supplierId"`
	Region        string         `json:"region"`
	PostedAt      time.Time      `json:"postedAt"`
	Row           map[string]any `json:"row"`
}
