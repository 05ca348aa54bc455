package verification

import (
	"github.com/opensource-finance/kestrel/internal/domain"
)

func boolPtr(b bool) *bool { return &b }

func details(summary string, extra map[string]any) map[string]any {
	d := make(map[string]any, len(extra)+1)
	for k, v := range extra {
		d[k] = v
	}
	d["Summary"] = summary
	return d
}

// Automated is a decided result. An anomaly is highlighted and editable.
func Automated(parameter string, value any, anomaly bool, summary string, extra map[string]any) domain.ParameterResult {
	return domain.ParameterResult{
		Parameter:         parameter,
		ExtractedValue:    value,
		IsAnomaly:         boolPtr(anomaly),
		EditOperation:     boolPtr(anomaly),
		Highlight:         boolPtr(anomaly),
		Method:            domain.MethodAutomated,
		SupportingDetails: details(summary, extra),
	}
}

// Combined needs a reviewer to confirm. anomaly may be nil.
func Combined(parameter string, value any, anomaly *bool, summary string, extra map[string]any) domain.ParameterResult {
	return domain.ParameterResult{
		Parameter:         parameter,
		ExtractedValue:    value,
		IsAnomaly:         anomaly,
		EditOperation:     boolPtr(true),
		Highlight:         boolPtr(true),
		Method:            domain.MethodCombined,
		SupportingDetails: details(summary, extra),
	}
}

// Manual leaves the decision to a reviewer.
func Manual(parameter string, value any, summary string) domain.ParameterResult {
	return domain.ParameterResult{
		Parameter:         parameter,
		ExtractedValue:    value,
		EditOperation:     boolPtr(true),
		Highlight:         boolPtr(true),
		Method:            domain.MethodManual,
		SupportingDetails: details(summary, nil),
	}
}

// Null is the result of a validator that failed internally.
func Null(parameter string) domain.ParameterResult {
	return domain.ParameterResult{Parameter: parameter}
}

// Skipped is the shared KC/KA outcome for documents without an invoice copy.
func Skipped(parameter string, docType string) domain.ParameterResult {
	return Automated(parameter, nil, false, "Validation skipped for "+docType+" document without invoice copy", map[string]any{"skipped": true})
}

// NotExtracted is the fallback when no value could be read from the documents.
func NotExtracted(parameter string, sapValue any) domain.ParameterResult {
	return Combined(parameter, nil, nil, "Value not found in supporting documents", map[string]any{"sap_value": sapValue})
}

// Valid reports whether r honors the result contract: a known method, a
// decided anomaly when Automated, and a highlight when a reviewer is needed.
// The all-null result of a failed validator is valid.
func Valid(r domain.ParameterResult) bool {
	switch r.Method {
	case "":
		return r.IsAnomaly == nil && r.EditOperation == nil && r.Highlight == nil && r.SupportingDetails == nil
	case domain.MethodAutomated:
		return r.IsAnomaly != nil
	case domain.MethodManual, domain.MethodCombined:
		return r.Highlight != nil && *r.Highlight
	default:
		return false
	}
}
