package rules

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// WeightPrefix prefixes rule weight keys: WEIGHT_LATE_PAYMENT.
const WeightPrefix = "WEIGHT_"

// Settings holds decoded rule configuration values for one module.
// Values arrive either as JSON-encoded text or as already-decoded values;
// getters never fail and fall back to the supplied default.
type Settings struct {
	values map[string]any
}

// NewSettings decodes stored KEYNAME/KEYVALUE rows.
func NewSettings(rows []domain.RuleSetting) *Settings {
	s := &Settings{values: make(map[string]any, len(rows))}
	for _, r := range rows {
		s.values[strings.TrimSpace(r.KeyName)] = decodeValue(r.KeyValue)
	}
	return s
}

// SettingsFromMap wraps already-decoded values. String values are still
// tried as JSON.
func SettingsFromMap(m map[string]any) *Settings {
	s := &Settings{values: make(map[string]any, len(m))}
	for k, v := range m {
		if str, ok := v.(string); ok {
			v = decodeValue(str)
		}
		s.values[k] = v
	}
	return s
}

func decodeValue(raw string) any {
	raw = strings.TrimSpace(raw)
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		// A JSON string may itself hold an encoded list: "\"[1,2]\"".
		if inner, ok := v.(string); ok && inner != raw {
			return decodeValue(inner)
		}
		return v
	}
	return raw
}

// Set overrides a value.
func (s *Settings) Set(key string, value any) {
	if s.values == nil {
		s.values = make(map[string]any)
	}
	if str, ok := value.(string); ok {
		value = decodeValue(str)
	}
	s.values[key] = value
}

// Raw returns the decoded value.
func (s *Settings) Raw(key string) (any, bool) {
	if s == nil {
		return nil, false
	}
	v, ok := s.values[key]
	return v, ok
}

// Keys returns the configured keys in sorted order.
func (s *Settings) Keys() []string {
	if s == nil {
		return nil
	}
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Weight returns WEIGHT_<rule>.
func (s *Settings) Weight(rule string) (float64, bool) {
	v, ok := s.Raw(WeightPrefix + rule)
	if !ok {
		return 0, false
	}
	f, ok := asFloat(v)
	if !ok {
		slog.Warn("rule weight is not numeric", "rule", rule, "value", v)
	}
	return f, ok
}

// Float returns a numeric setting or def.
func (s *Settings) Float(key string, def float64) float64 {
	v, ok := s.Raw(key)
	if !ok {
		return def
	}
	f, ok := asFloat(v)
	if !ok {
		slog.Warn("setting is not numeric, using default", "key", key, "value", v, "default", def)
		return def
	}
	return f
}

// Int returns an integer setting or def.
func (s *Settings) Int(key string, def int) int {
	return int(s.Float(key, float64(def)))
}

// Strings returns a list setting or def. Lists may be JSON arrays or
// comma-separated text; scalars become a one-element list.
func (s *Settings) Strings(key string, def []string) []string {
	v, ok := s.Raw(key)
	if !ok || v == nil {
		return def
	}
	switch x := v.(type) {
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			if str := strings.TrimSpace(fmt.Sprint(item)); str != "" {
				out = append(out, str)
			}
		}
		return out
	case []string:
		return x
	case string:
		if x == "" {
			return []string{}
		}
		var out []string
		for _, part := range strings.Split(x, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		return out
	case float64:
		return []string{strconv.FormatFloat(x, 'f', -1, 64)}
	}
	slog.Warn("setting is not a list, using default", "key", key, "value", v)
	return def
}

// StringSet is Strings as a lookup set.
func (s *Settings) StringSet(key string, def []string) map[string]bool {
	out := make(map[string]bool)
	for _, v := range s.Strings(key, def) {
		out[v] = true
	}
	return out
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}
	return 0, false
}

// ReadSettingsCSV reads KEYNAME,KEYVALUE[,MODULE] rows. Rows without a
// module column are assigned def.
func ReadSettingsCSV(r io.Reader, def domain.Module) ([]domain.RuleSetting, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	keyIdx, valIdx, modIdx := -1, -1, -1
	for i, h := range rows[0] {
		switch strings.ToUpper(strings.TrimSpace(h)) {
		case "KEYNAME":
			keyIdx = i
		case "KEYVALUE":
			valIdx = i
		case "MODULE":
			modIdx = i
		}
	}
	if keyIdx < 0 || valIdx < 0 {
		return nil, fmt.Errorf("read settings: header must contain KEYNAME and KEYVALUE")
	}
	var out []domain.RuleSetting
	for _, row := range rows[1:] {
		if keyIdx >= len(row) || valIdx >= len(row) {
			continue
		}
		mod := def
		if modIdx >= 0 && modIdx < len(row) && strings.TrimSpace(row[modIdx]) != "" {
			mod = domain.Module(strings.ToUpper(strings.TrimSpace(row[modIdx])))
		}
		out = append(out, domain.RuleSetting{
			Module:   mod,
			KeyName:  strings.TrimSpace(row[keyIdx]),
			KeyValue: row[valIdx],
		})
	}
	return out, nil
}

// DefaultSettings returns the seed configuration for a module: a weight for
// every registered rule plus the documented thresholds.
func DefaultSettings(module domain.Module) []domain.RuleSetting {
	var out []domain.RuleSetting
	add := func(k string, v any) {
		b, _ := json.Marshal(v)
		out = append(out, domain.RuleSetting{Module: module, KeyName: k, KeyValue: string(b)})
	}
	for _, r := range Registry(module) {
		add(WeightPrefix+r.Name, r.DefaultWeight)
	}
	for _, k := range sortedKeys(defaultThresholds) {
		add(k, defaultThresholds[k])
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Threshold keys.
const (
	KeyShorterCredit       = "shorter_credit"
	KeyImmediatePayments   = "immediate_payments"
	KeyOldUnpaidInvoice    = "old_unpaid_invoice"
	KeySuspiciousWords     = "suspicious_words"
	KeyEarlyPostedDocTypes = "early_posted_invoices_doctype"
	KeyRoundOff            = "round_off"
	KeyHolidays            = "holidays"
	KeyBusinessStartHour   = "business_start_hour"
	KeyBusinessEndHour     = "business_end_hour"
	KeyWeekendDays         = "weekend_days"
	KeyDateSequence        = "date_sequence"
	KeyNextQtrBufferDays   = "next_qtr_buffer_days"
	KeyPODocTypes          = "po_doctypes"
	KeyNonPODocTypes       = "non_po_doctypes"
	KeyGRNRequiredDocTypes = "grn_required_doctypes"
	KeyReversalDocTypes    = "reversal_doctypes"
	KeyFreqThreshold       = "freq_threshold"
	KeyMADThreshold        = "mad_threshold"
	KeyMADAmountFloor      = "mad_amount_floor"
	KeyMADMinDocuments     = "mad_min_documents"
	KeyDuplicateDateDays   = "duplicate_date_threshold_days"
	KeyDuplicateSimilarity = "duplicate_similarity_threshold"
	KeyInvoicePaymentTerms = "iv_payment_terms"
)

var defaultThresholds = map[string]any{
	KeyShorterCredit:       30,
	KeyImmediatePayments:   0.2,
	KeyOldUnpaidInvoice:    90,
	KeySuspiciousWords:     []string{},
	KeyEarlyPostedDocTypes: []string{"KR", "RE"},
	KeyRoundOff:            []string{".00", ".99"},
	KeyHolidays:            []string{},
	KeyBusinessStartHour:   7,
	KeyBusinessEndHour:     20,
	KeyWeekendDays:         []string{"Saturday", "Sunday"},
	KeyDateSequence:        []string{domain.ColRequisitionDate, domain.ColTransportDate, domain.ColDueDate},
	KeyNextQtrBufferDays:   15,
	KeyPODocTypes:          []string{"RE", "KR"},
	KeyNonPODocTypes:       []string{"KR"},
	KeyGRNRequiredDocTypes: []string{"RE"},
	KeyReversalDocTypes:    []string{"KG", "AB"},
	KeyFreqThreshold:       1,
	KeyMADThreshold:        4.5,
	KeyMADAmountFloor:      1000,
	KeyMADMinDocuments:     3,
	KeyDuplicateDateDays:   7,
	KeyDuplicateSimilarity: 90,
	KeyInvoicePaymentTerms: []string{},
}
