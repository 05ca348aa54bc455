package domain

// CustomRule is an operator-defined control written as a CEL boolean
// expression over a single row. The expression sees the row as `row`,
// e.g. `row.AMOUNT > 10000.0 && row.DOC_TYPE == "KR"`.
type CustomRule struct {
	ID          string `json:"id"`
	Name        string `json:"name"` // column written to the frame, upper snake case
	Description string `json:"description"`
	Version     string `json:"version"`
	Module      Module `json:"module"`

	// CEL expression to evaluate
	Expression string `json:"expression"`

	// Weight in the risk score
	Weight float64 `json:"weight"`

	// Whether rule is active
	Enabled bool `json:"enabled"`
}

// RuleSetting is one KEYNAME/KEYVALUE row of the rule weights config.
// Values are stored as text; JSON-encoded lists stay encoded.
type RuleSetting struct {
	Module   Module `json:"module"`
	KeyName  string `json:"keyName"`
	KeyValue string `json:"keyValue"`
}

// SkippedRule records why a known rule did not run on a batch.
type SkippedRule struct {
	Rule   string `json:"rule"`
	Reason string `json:"reason"`
}

// Skip reasons.
const (
	SkipNotInMatrix    = "not in rule matrix"
	SkipMissingColumns = "missing columns"
	SkipNoWeight       = "no weight configured"
	SkipFailed         = "predicate failed"
	SkipUnavailable    = "external source unavailable"
)
