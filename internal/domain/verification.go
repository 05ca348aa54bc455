package domain

import (
	"encoding/json"
	"time"
)

// Method is how a parameter was validated. The zero value means null.
type Method string

const (
	MethodAutomated Method = "Automated"
	MethodManual    Method = "Manual"
	MethodCombined  Method = "Combined"
)

// MarshalJSON encodes the zero Method as null.
func (m Method) MarshalJSON() ([]byte, error) {
	if m == "" {
		return []byte("null"), nil
	}
	return json.Marshal(string(m))
}

// UnmarshalJSON decodes null into the zero Method.
func (m *Method) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*m = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*m = Method(s)
	return nil
}

// ParameterResult is the verification outcome for one invoice parameter.
type ParameterResult struct {
	Parameter         string         `json:"parameter"`
	ExtractedValue    any            `json:"extracted_value"`
	IsAnomaly         *bool          `json:"is_anomaly"`
	EditOperation     *bool          `json:"edit_operation"`
	Highlight         *bool          `json:"highlight"`
	Method            Method         `json:"method"`
	SupportingDetails map[string]any `json:"supporting_details"`
}

// Summary returns the human-readable reason, if any.
func (r ParameterResult) Summary() string {
	if r.SupportingDetails == nil {
		return ""
	}
	s, _ := r.SupportingDetails["Summary"].(string)
	return s
}

// Anomalous reports whether the parameter was decided as an anomaly.
func (r ParameterResult) Anomalous() bool {
	return r.IsAnomaly != nil && *r.IsAnomaly
}

// InvoiceVerification is the full result set for one invoice.
type InvoiceVerification struct {
	BatchID       string            `json:"batchId"`
	TransactionID string            `json:"transactionId"`
	AccountDocID  string            `json:"accountDocId"`
	Region        string            `json:"region"`
	DocType       string            `json:"docType"`
	DPDocType     string            `json:"dpDocType"`
	Results       []ParameterResult `json:"results"`
	VerifiedAt    time.Time         `json:"verifiedAt"`
}

// Anomalies counts parameters decided as anomalies.
func (v *InvoiceVerification) Anomalies() int {
	n := 0
	for _, r := range v.Results {
		if r.Anomalous() {
			n++
		}
	}
	return n
}

// Result returns the result for a parameter.
func (v *InvoiceVerification) Result(parameter string) (ParameterResult, bool) {
	for _, r := range v.Results {
		if r.Parameter == parameter {
			return r, true
		}
	}
	return ParameterResult{}, false
}
