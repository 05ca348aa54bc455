package rules

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/frame"
	"github.com/opensource-finance/kestrel/internal/prep"
)

var testNow = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func runModule(t *testing.T, module domain.Module, m *Matrix, records []map[string]any, settings map[string]any) (*Catalog, *Result) {
	t.Helper()
	f := prep.Prepare(frame.FromRecords(records), prep.Options{Now: testNow})
	s := SettingsFromMap(settings)
	if m == nil {
		m = DefaultMatrix(module)
	}
	cat := BuildCatalog(module, f.Columns(), m, s)
	return cat, Run(context.Background(), f, cat, Env{Settings: s, Now: testNow})
}

func flags(t *testing.T, res *Result, rule string) []int {
	t.Helper()
	if !res.Frame.Has(rule) {
		t.Fatalf("column %s not written; ran %v", rule, res.Ran)
	}
	out := make([]int, res.Frame.Len())
	for i := range out {
		v, ok := res.Frame.Int(rule, i)
		if !ok {
			t.Fatalf("%s[%d] is null", rule, i)
		}
		out[i] = v
	}
	return out
}

func mustMatrix(t *testing.T, csv string) *Matrix {
	t.Helper()
	m, err := ReadMatrix(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("ReadMatrix: %v", err)
	}
	return m
}

func TestLatePayment(t *testing.T) {
	_, res := runModule(t, domain.ModuleAP, nil, []map[string]any{
		{"TRANSACTION_ID": "T1", "INVOICE_DATE": "2024-01-01", "DUE_DATE": "2024-02-01", "PAYMENT_DATE": "2024-02-10"},
		{"TRANSACTION_ID": "T2", "INVOICE_DATE": "2024-01-01", "DUE_DATE": "2024-02-01", "PAYMENT_DATE": "2024-01-20"},
	}, map[string]any{"WEIGHT_LATE_PAYMENT": 6})

	if got := flags(t, res, "LATE_PAYMENT"); !reflect.DeepEqual(got, []int{1, 0}) {
		t.Errorf("LATE_PAYMENT = %v, want [1 0]", got)
	}
	if res.Weights["LATE_PAYMENT"] != 6 {
		t.Errorf("weight = %v, want 6", res.Weights["LATE_PAYMENT"])
	}
}

func TestLostDiscount(t *testing.T) {
	_, res := runModule(t, domain.ModuleAP, nil, []map[string]any{
		{"INVOICE_DATE": "2024-01-01", "PAYMENT_DATE": "2024-01-08", "DISCOUNT_PERIOD_1": 10, "DISCOUNT_TAKEN": 0},
		{"INVOICE_DATE": "2024-01-01", "PAYMENT_DATE": "2024-01-08", "DISCOUNT_PERIOD_1": 10, "DISCOUNT_TAKEN": 12.5},
		{"INVOICE_DATE": "2024-01-01", "PAYMENT_DATE": "2024-01-20", "DISCOUNT_PERIOD_1": 10, "DISCOUNT_TAKEN": 0},
	}, map[string]any{"WEIGHT_LOST_DISCOUNT": 4})

	if got := flags(t, res, "LOST_DISCOUNT"); !reflect.DeepEqual(got, []int{1, 0, 0}) {
		t.Errorf("LOST_DISCOUNT = %v, want [1 0 0]", got)
	}
}

func TestImmediatePayments(t *testing.T) {
	_, res := runModule(t, domain.ModuleAP, nil, []map[string]any{
		// DUE_DAYS 30, paid after 3 days, no discount window
		{"INVOICE_DATE": "2024-01-01", "DUE_DATE": "2024-01-31", "PAYMENT_DATE": "2024-01-04"},
		// paid after 20 days
		{"INVOICE_DATE": "2024-01-01", "DUE_DATE": "2024-01-31", "PAYMENT_DATE": "2024-01-21"},
	}, map[string]any{"WEIGHT_IMMEDIATE_PAYMENTS": 5, KeyImmediatePayments: 0.2})

	if got := flags(t, res, "IMMEDIATE_PAYMENTS"); !reflect.DeepEqual(got, []int{1, 0}) {
		t.Errorf("IMMEDIATE_PAYMENTS = %v, want [1 0]", got)
	}
}

func TestEarlyPaymentInsideDiscountWindow(t *testing.T) {
	_, res := runModule(t, domain.ModuleAP, nil, []map[string]any{
		{"INVOICE_DATE": "2024-01-01", "DUE_DATE": "2024-01-31", "PAYMENT_DATE": "2024-01-05", "DISCOUNT_PERIOD_1": 10},
		{"INVOICE_DATE": "2024-01-01", "DUE_DATE": "2024-01-31", "PAYMENT_DATE": "2024-01-20", "DISCOUNT_PERIOD_1": 10},
	}, map[string]any{"WEIGHT_EARLY_PAYMENT": 4})

	if got := flags(t, res, "EARLY_PAYMENT"); !reflect.DeepEqual(got, []int{0, 1}) {
		t.Errorf("EARLY_PAYMENT = %v, want [0 1]", got)
	}
}

func TestRoundingOff(t *testing.T) {
	rows := []map[string]any{
		{"AMOUNT": "1234.00"},
		{"AMOUNT": 57.99},
		{"AMOUNT": 1234.56},
		{"AMOUNT": "2,009.99"},
		{"AMOUNT": 1000},
		{"AMOUNT": nil},
	}
	tests := []struct {
		name     string
		settings map[string]any
		want     []int
	}{
		{"DefaultWhitelist", map[string]any{"WEIGHT_ROUNDING_OFF": 2}, []int{0, 0, 1, 0, 0, 0}},
		{"ConfiguredWhitelist", map[string]any{"WEIGHT_ROUNDING_OFF": 2, KeyRoundOff: `[".00",".99"]`}, []int{0, 0, 1, 0, 0, 0}},
		{"WhitelistWithoutPoint", map[string]any{"WEIGHT_ROUNDING_OFF": 2, KeyRoundOff: `["56"]`}, []int{1, 1, 0, 1, 1, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, res := runModule(t, domain.ModuleAP, nil, rows, tt.settings)
			if got := flags(t, res, "ROUNDING_OFF"); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ROUNDING_OFF = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDuplicateInvoicePosting(t *testing.T) {
	_, res := runModule(t, domain.ModuleAP, nil, []map[string]any{
		{"INVOICE_NUMBER": "INV-1", "SUPPLIER_ID": "V1", "INVOICE_DATE": "2024-03-01", "DEBIT_AMOUNT": 100, "CREDIT_AMOUNT": 0, "DOC_TYPE": "RE"},
		{"INVOICE_NUMBER": "INV-1", "SUPPLIER_ID": "V1", "INVOICE_DATE": "2024-03-01", "DEBIT_AMOUNT": 100, "CREDIT_AMOUNT": 0, "DOC_TYPE": "RE"},
		// posted and reversed: nets to zero
		{"INVOICE_NUMBER": "INV-2", "SUPPLIER_ID": "V2", "INVOICE_DATE": "2024-03-02", "DEBIT_AMOUNT": 50, "CREDIT_AMOUNT": 0, "DOC_TYPE": "RE"},
		{"INVOICE_NUMBER": "INV-2", "SUPPLIER_ID": "V2", "INVOICE_DATE": "2024-03-02", "DEBIT_AMOUNT": 0, "CREDIT_AMOUNT": -50, "DOC_TYPE": "RE"},
		// reversal doc type never counts
		{"INVOICE_NUMBER": "INV-3", "SUPPLIER_ID": "V3", "INVOICE_DATE": "2024-03-03", "DEBIT_AMOUNT": 70, "CREDIT_AMOUNT": 0, "DOC_TYPE": "RE"},
		{"INVOICE_NUMBER": "INV-3", "SUPPLIER_ID": "V3", "INVOICE_DATE": "2024-03-03", "DEBIT_AMOUNT": 70, "CREDIT_AMOUNT": 0, "DOC_TYPE": "KG"},
	}, map[string]any{"WEIGHT_DUPLICATE_INVOICE_POSTING": 8})

	want := []int{1, 1, 0, 0, 0, 0}
	if got := flags(t, res, "DUPLICATE_INVOICE_POSTING"); !reflect.DeepEqual(got, want) {
		t.Errorf("DUPLICATE_INVOICE_POSTING = %v, want %v", got, want)
	}
}

func TestThreeWayMatching(t *testing.T) {
	_, res := runModule(t, domain.ModuleAP, nil, []map[string]any{
		{"DOC_TYPE": "RE", "INVOICE_NUMBER": "I1", "PURCHASE_ORDER_NUMBER": "P1", "GRN_NUMBER": "G1",
			"PURCHASE_ORDER_DATE": "2024-01-01", "GRN_DATE": "2024-01-05", "INVOICE_DATE": "2024-01-10"},
		{"DOC_TYPE": "RE", "INVOICE_NUMBER": "I2", "PURCHASE_ORDER_NUMBER": "P2", "GRN_NUMBER": "G2",
			"PURCHASE_ORDER_DATE": "2024-01-06", "GRN_DATE": "2024-01-05", "INVOICE_DATE": "2024-01-10"},
		{"DOC_TYPE": "RE", "INVOICE_NUMBER": "I3", "PURCHASE_ORDER_NUMBER": "P3", "GRN_NUMBER": nil,
			"PURCHASE_ORDER_DATE": "2024-01-01", "GRN_DATE": nil, "INVOICE_DATE": "2024-01-10"},
		{"DOC_TYPE": "ZZ", "INVOICE_NUMBER": "I4", "PURCHASE_ORDER_NUMBER": nil, "GRN_NUMBER": nil,
			"PURCHASE_ORDER_DATE": nil, "GRN_DATE": nil, "INVOICE_DATE": "2024-01-10"},
	}, map[string]any{"WEIGHT_THREE_WAY_MATCHING": 6})

	want := []int{0, 1, 1, 0}
	if got := flags(t, res, "THREE_WAY_MATCHING"); !reflect.DeepEqual(got, want) {
		t.Errorf("THREE_WAY_MATCHING = %v, want %v", got, want)
	}
}

func TestUnusualAccountPairingByFrequency(t *testing.T) {
	rows := []map[string]any{
		{"ACCOUNT_DOC_ID": "D1", "ACCOUNT_CODE": "A", "DEBIT_AMOUNT": 100, "CREDIT_AMOUNT": 0},
		{"ACCOUNT_DOC_ID": "D1", "ACCOUNT_CODE": "B", "DEBIT_AMOUNT": 0, "CREDIT_AMOUNT": -100},
		{"ACCOUNT_DOC_ID": "D2", "ACCOUNT_CODE": "C", "DEBIT_AMOUNT": 40, "CREDIT_AMOUNT": 0},
		{"ACCOUNT_DOC_ID": "D2", "ACCOUNT_CODE": "D", "DEBIT_AMOUNT": 0, "CREDIT_AMOUNT": -40},
		{"ACCOUNT_DOC_ID": "D3", "ACCOUNT_CODE": "C", "DEBIT_AMOUNT": 60, "CREDIT_AMOUNT": 0},
		{"ACCOUNT_DOC_ID": "D3", "ACCOUNT_CODE": "D", "DEBIT_AMOUNT": 0, "CREDIT_AMOUNT": -60},
	}
	settings := map[string]any{"WEIGHT_UNUSUAL_ACCOUNT_PAIRING": 6, KeyFreqThreshold: 1}

	_, res := runModule(t, domain.ModuleGL, nil, rows, settings)
	want := []int{1, 1, 0, 0, 0, 0}
	if got := flags(t, res, "UNUSUAL_ACCOUNT_PAIRING"); !reflect.DeepEqual(got, want) {
		t.Errorf("UNUSUAL_ACCOUNT_PAIRING = %v, want %v", got, want)
	}

	t.Run("reversed rows never flag", func(t *testing.T) {
		for _, r := range rows {
			r["IS_REVERSED"] = 0
		}
		rows[0]["IS_REVERSED"] = 1
		rows[1]["IS_REVERSED"] = 1
		_, res := runModule(t, domain.ModuleGL, nil, rows, settings)
		got := flags(t, res, "UNUSUAL_ACCOUNT_PAIRING")
		if got[0] != 0 || got[1] != 0 {
			t.Errorf("reversed lines flagged: %v", got)
		}
	})
}

func TestUnusualAccountPairingPredefined(t *testing.T) {
	f := prep.Prepare(frame.FromRecords([]map[string]any{
		{"ACCOUNT_DOC_ID": "D1", "ACCOUNT_CODE": "100", "DEBIT_AMOUNT": 10, "CREDIT_AMOUNT": 0},
		{"ACCOUNT_DOC_ID": "D1", "ACCOUNT_CODE": "200", "DEBIT_AMOUNT": 0, "CREDIT_AMOUNT": 10},
		{"ACCOUNT_DOC_ID": "D2", "ACCOUNT_CODE": "100", "DEBIT_AMOUNT": 10, "CREDIT_AMOUNT": 0},
		{"ACCOUNT_DOC_ID": "D2", "ACCOUNT_CODE": "200", "DEBIT_AMOUNT": 0, "CREDIT_AMOUNT": 10},
	}), prep.Options{Now: testNow})
	s := SettingsFromMap(map[string]any{"WEIGHT_UNUSUAL_ACCOUNT_PAIRING": 6, KeyFreqThreshold: 1})
	master := &domain.MasterData{
		Accounts:     map[string]string{"100": "Expense", "200": "Cash"},
		UnusualPairs: []domain.AccountPair{{Credit: "Cash", Debit: "Expense"}},
	}
	cat := BuildCatalog(domain.ModuleGL, f.Columns(), DefaultMatrix(domain.ModuleGL), s)
	res := Run(context.Background(), f, cat, Env{Settings: s, Master: master, Now: testNow})

	want := []int{1, 1, 1, 1}
	if got := flags(t, res, "UNUSUAL_ACCOUNT_PAIRING"); !reflect.DeepEqual(got, want) {
		t.Errorf("UNUSUAL_ACCOUNT_PAIRING = %v, want %v", got, want)
	}
}

func TestNonBalanced(t *testing.T) {
	_, res := runModule(t, domain.ModuleGL, nil, []map[string]any{
		{"ACCOUNT_DOC_ID": "D1", "ACCOUNT_CODE": "A", "DEBIT_AMOUNT": 100.10, "CREDIT_AMOUNT": 0},
		{"ACCOUNT_DOC_ID": "D1", "ACCOUNT_CODE": "B", "DEBIT_AMOUNT": 0, "CREDIT_AMOUNT": -100.10},
		{"ACCOUNT_DOC_ID": "D2", "ACCOUNT_CODE": "A", "DEBIT_AMOUNT": 50, "CREDIT_AMOUNT": 0},
		{"ACCOUNT_DOC_ID": "D2", "ACCOUNT_CODE": "B", "DEBIT_AMOUNT": 0, "CREDIT_AMOUNT": -49.99},
	}, map[string]any{"WEIGHT_NON_BALANCED": 8})

	want := []int{0, 0, 1, 1}
	if got := flags(t, res, "NON_BALANCED"); !reflect.DeepEqual(got, want) {
		t.Errorf("NON_BALANCED = %v, want %v", got, want)
	}
}

func TestCashRule(t *testing.T) {
	_, res := runModule(t, domain.ModuleGL, nil, []map[string]any{
		{"ACCOUNT_DOC_ID": "D1", "ACCOUNT_CODE": "1000", "DEBIT_AMOUNT": 0, "CREDIT_AMOUNT": -500},
		{"ACCOUNT_DOC_ID": "D1", "ACCOUNT_CODE": "6100", "DEBIT_AMOUNT": 500, "CREDIT_AMOUNT": 0},
		{"ACCOUNT_DOC_ID": "D2", "ACCOUNT_CODE": "1000", "DEBIT_AMOUNT": 0, "CREDIT_AMOUNT": -500},
		{"ACCOUNT_DOC_ID": "D2", "ACCOUNT_CODE": "2100", "DEBIT_AMOUNT": 500, "CREDIT_AMOUNT": 0},
	}, map[string]any{
		"WEIGHT_CASH_DISBURSEMENT":    5,
		"cash_disbursement_accounts":  `["1000"]`,
		"cash_disbursement_whitelist": "2100, 2200",
	})

	want := []int{1, 1, 0, 0}
	if got := flags(t, res, "CASH_DISBURSEMENT"); !reflect.DeepEqual(got, want) {
		t.Errorf("CASH_DISBURSEMENT = %v, want %v", got, want)
	}
}

func TestUnusualAccountingPattern(t *testing.T) {
	var rows []map[string]any
	for i, amt := range []float64{100, 102, 98, 101, 99, 5000} {
		doc := string(rune('A' + i))
		rows = append(rows,
			map[string]any{"ACCOUNT_DOC_ID": doc, "ACCOUNT_CODE": "6000", "DEBIT_AMOUNT": amt, "CREDIT_AMOUNT": 0},
			map[string]any{"ACCOUNT_DOC_ID": doc, "ACCOUNT_CODE": "2000", "DEBIT_AMOUNT": 0, "CREDIT_AMOUNT": -amt},
		)
	}
	_, res := runModule(t, domain.ModuleGL, nil, rows, map[string]any{"WEIGHT_UNUSUAL_ACCOUNTING_PATTERN": 6})

	got := flags(t, res, "UNUSUAL_ACCOUNTING_PATTERN")
	for i, v := range got {
		want := 0
		if i >= 10 {
			want = 1
		}
		if v != want {
			t.Errorf("row %d = %d, want %d (all %v)", i, v, want, got)
		}
	}
}

func TestNullMasking(t *testing.T) {
	m := mustMatrix(t, "SNo,RULE,PAYMENT_BLOCK_STATUS,VENDORID,DOC_TYPE,PURCHASE_ORDER_NUMBER\n"+
		"1,PAYMENT_BLOCK_R,1,1,0,0\n"+
		"2,NON_PO_INVOICE,0,0,1,1\n")
	_, res := runModule(t, domain.ModuleAP, m, []map[string]any{
		{"DOC_TYPE": "KR", "PAYMENT_BLOCK_STATUS": "R", "VENDORID": "V1", "PURCHASE_ORDER_NUMBER": nil},
		{"DOC_TYPE": "KR", "PAYMENT_BLOCK_STATUS": "R", "VENDORID": " ", "PURCHASE_ORDER_NUMBER": "4500001"},
	}, map[string]any{"WEIGHT_PAYMENT_BLOCK_R": 4, "WEIGHT_NON_PO_INVOICE": 4})

	if got := flags(t, res, "PAYMENT_BLOCK_R"); !reflect.DeepEqual(got, []int{1, 0}) {
		t.Errorf("PAYMENT_BLOCK_R = %v, want [1 0]", got)
	}
	// a null PO number is what NON_PO_INVOICE detects; it is not masked
	if got := flags(t, res, "NON_PO_INVOICE"); !reflect.DeepEqual(got, []int{1, 0}) {
		t.Errorf("NON_PO_INVOICE = %v, want [1 0]", got)
	}
}

func TestCatalogSkips(t *testing.T) {
	m := mustMatrix(t, "SNo,RULE,DUE_DATE,PAYMENT_DATE,AMOUNT\n"+
		"1,LATE_PAYMENT,1,1,0\n"+
		"2,ROUNDING_OFF,0,0,1\n"+
		"3,BLANK_JE,0,0,0\n")
	s := SettingsFromMap(map[string]any{
		"WEIGHT_LATE_PAYMENT":  6,
		"WEIGHT_ROUNDING_OFF":  2,
		"WEIGHT_EARLY_PAYMENT": 4,
	})
	cat := BuildCatalog(domain.ModuleAP, []string{"DUE_DATE", "AMOUNT"}, m, s)

	if got := cat.Names(); !reflect.DeepEqual(got, []string{"ROUNDING_OFF"}) {
		t.Fatalf("active = %v, want [ROUNDING_OFF]", got)
	}
	reasons := make(map[string]string)
	for _, sk := range cat.Skipped {
		reasons[sk.Rule] = sk.Reason
	}
	if r := reasons["LATE_PAYMENT"]; !strings.HasPrefix(r, domain.SkipMissingColumns) || !strings.Contains(r, "PAYMENT_DATE") {
		t.Errorf("LATE_PAYMENT reason = %q", r)
	}
	if r := reasons["BLANK_JE"]; r != domain.SkipNoWeight {
		t.Errorf("BLANK_JE reason = %q, want %q", r, domain.SkipNoWeight)
	}
	if r := reasons["EARLY_PAYMENT"]; r != domain.SkipNotInMatrix {
		t.Errorf("EARLY_PAYMENT reason = %q, want %q", r, domain.SkipNotInMatrix)
	}
	if cat.Active("LATE_PAYMENT") {
		t.Error("LATE_PAYMENT should not be active")
	}
}

func TestRunSkipsFailingRules(t *testing.T) {
	_, res := runModule(t, domain.ModuleAP, nil, []map[string]any{
		{"ACCOUNT_DOC_ID": "D1", "ENTERED_DATE": "2024-01-01"},
	}, map[string]any{
		"WEIGHT_POSTS_HOLIDAYS":  3,
		"WEIGHT_APPROVAL_MATRIX": 7,
		KeyHolidays:              `["not a date"]`,
	})

	reasons := make(map[string]string)
	for _, sk := range res.Skipped {
		reasons[sk.Rule] = sk.Reason
	}
	if reasons["POSTS_HOLIDAYS"] != domain.SkipFailed {
		t.Errorf("POSTS_HOLIDAYS reason = %q, want %q", reasons["POSTS_HOLIDAYS"], domain.SkipFailed)
	}
	if reasons["APPROVAL_MATRIX"] != domain.SkipUnavailable {
		t.Errorf("APPROVAL_MATRIX reason = %q, want %q", reasons["APPROVAL_MATRIX"], domain.SkipUnavailable)
	}
	if res.Frame.Has("POSTS_HOLIDAYS") || res.Frame.Has("APPROVAL_MATRIX") {
		t.Error("failed rules must not write a column")
	}
}

type staticApproval map[string]int

func (s staticApproval) Process(ctx context.Context, auditID string) (map[string]int, error) {
	return s, nil
}

func TestApprovalMatrix(t *testing.T) {
	f := frame.FromRecords([]map[string]any{
		{"ACCOUNT_DOC_ID": "D1"},
		{"ACCOUNT_DOC_ID": "D2"},
	})
	s := SettingsFromMap(map[string]any{"WEIGHT_APPROVAL_MATRIX": 7})
	cat := BuildCatalog(domain.ModuleAP, f.Columns(), DefaultMatrix(domain.ModuleAP), s)
	res := Run(context.Background(), f, cat, Env{Settings: s, Approval: staticApproval{"D2": 1}})

	if got := flags(t, res, "APPROVAL_MATRIX"); !reflect.DeepEqual(got, []int{0, 1}) {
		t.Errorf("APPROVAL_MATRIX = %v, want [0 1]", got)
	}
}

func TestRunIsRepeatable(t *testing.T) {
	records := []map[string]any{
		{"INVOICE_DATE": "2024-01-01", "DUE_DATE": "2024-02-01", "PAYMENT_DATE": "2024-02-10", "AMOUNT": 1234.5},
		{"INVOICE_DATE": "2024-01-01", "DUE_DATE": "2024-02-01", "PAYMENT_DATE": "2024-01-03", "AMOUNT": 1000},
	}
	settings := map[string]any{"WEIGHT_LATE_PAYMENT": 6, "WEIGHT_ROUNDING_OFF": 2, "WEIGHT_IMMEDIATE_PAYMENTS": 5}

	_, first := runModule(t, domain.ModuleAP, nil, records, settings)
	_, second := runModule(t, domain.ModuleAP, nil, records, settings)

	if !reflect.DeepEqual(first.Ran, second.Ran) {
		t.Fatalf("ran %v then %v", first.Ran, second.Ran)
	}
	for _, rule := range first.Ran {
		if a, b := flags(t, first, rule), flags(t, second, rule); !reflect.DeepEqual(a, b) {
			t.Errorf("%s: %v then %v", rule, a, b)
		}
	}
}

func TestSettingsDecoding(t *testing.T) {
	s := NewSettings([]domain.RuleSetting{
		{KeyName: "WEIGHT_LATE_PAYMENT", KeyValue: "6"},
		{KeyName: KeySuspiciousWords, KeyValue: `["cash", "urgent"]`},
		{KeyName: KeyRoundOff, KeyValue: `"[\".00\",\".50\"]"`},
		{KeyName: KeyHolidays, KeyValue: "2024-12-25, 2024-12-26"},
		{KeyName: KeyMADThreshold, KeyValue: "not-a-number"},
	})

	if w, ok := s.Weight("LATE_PAYMENT"); !ok || w != 6 {
		t.Errorf("Weight = %v, %v", w, ok)
	}
	if _, ok := s.Weight("BLANK_JE"); ok {
		t.Error("unset weight should report false")
	}
	if got := s.Strings(KeySuspiciousWords, nil); !reflect.DeepEqual(got, []string{"cash", "urgent"}) {
		t.Errorf("suspicious words = %v", got)
	}
	if got := s.Strings(KeyRoundOff, nil); !reflect.DeepEqual(got, []string{".00", ".50"}) {
		t.Errorf("round off = %v", got)
	}
	if got := s.Strings(KeyHolidays, nil); !reflect.DeepEqual(got, []string{"2024-12-25", "2024-12-26"}) {
		t.Errorf("holidays = %v", got)
	}
	if got := s.Float(KeyMADThreshold, 4.5); got != 4.5 {
		t.Errorf("bad number should fall back, got %v", got)
	}
	if got := s.Int(KeyFreqThreshold, 1); got != 1 {
		t.Errorf("missing key should fall back, got %v", got)
	}
}

func TestNilSettings(t *testing.T) {
	var s *Settings
	if keys := s.Keys(); keys != nil {
		t.Errorf("Keys = %v, want nil", keys)
	}
	if _, ok := s.Weight("LATE_PAYMENT"); ok {
		t.Error("nil settings reported a weight")
	}

	var zero Settings
	zero.Set(KeyFreqThreshold, 3)
	if got := zero.Keys(); !reflect.DeepEqual(got, []string{KeyFreqThreshold}) {
		t.Errorf("Keys = %v", got)
	}
}

func TestReadSettingsCSV(t *testing.T) {
	in := "KEYNAME,KEYVALUE,MODULE\nWEIGHT_LATE_PAYMENT,6,\nWEIGHT_NON_BALANCED,8,gl\n"
	rows, err := ReadSettingsCSV(strings.NewReader(in), domain.ModuleAP)
	if err != nil {
		t.Fatalf("ReadSettingsCSV: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows", len(rows))
	}
	if rows[0].Module != domain.ModuleAP || rows[1].Module != domain.ModuleGL {
		t.Errorf("modules = %s, %s", rows[0].Module, rows[1].Module)
	}

	if _, err := ReadSettingsCSV(strings.NewReader("A,B\n1,2\n"), domain.ModuleAP); err == nil {
		t.Error("expected header error")
	}
}

func TestDefaultMatrixCoversRegistry(t *testing.T) {
	for _, module := range []domain.Module{domain.ModuleAP, domain.ModuleGL} {
		m := DefaultMatrix(module)
		for _, r := range Registry(module) {
			if _, ok := m.Required(r.Name); !ok {
				t.Errorf("%s: %s missing from the default matrix", module, r.Name)
			}
		}
		settings := NewSettings(DefaultSettings(module))
		for _, r := range Registry(module) {
			if _, ok := settings.Weight(r.Name); !ok {
				t.Errorf("%s: %s has no default weight", module, r.Name)
			}
		}
	}
}

func TestReadUnusualPairs(t *testing.T) {
	in := "Credit,Debit\nRevenue,Cash\n,Payables\nAccrued Liabilities, Inventory \n"
	pairs, err := ReadUnusualPairs(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadUnusualPairs: %v", err)
	}
	want := []domain.AccountPair{
		{Credit: "Revenue", Debit: "Cash"},
		{Credit: "Accrued Liabilities", Debit: "Inventory"},
	}
	if !reflect.DeepEqual(pairs, want) {
		t.Errorf("pairs = %+v, want %+v", pairs, want)
	}

	if _, err := ReadUnusualPairs(strings.NewReader("A,B\n")); err == nil {
		t.Error("expected header error")
	}
}
