package frame

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"
	"time"
)

func testFrame() *Frame {
	return FromRecords([]map[string]any{
		{"TRANSACTION_ID": "T1", "ACCOUNT_DOC_ID": "D1", "AMOUNT": 100.0, "INVOICE_DATE": "2024-03-01", "NOTE": "a"},
		{"TRANSACTION_ID": "T2", "ACCOUNT_DOC_ID": "D1", "AMOUNT": "250.50", "INVOICE_DATE": "01.03.2024", "NOTE": ""},
		{"TRANSACTION_ID": "T3", "ACCOUNT_DOC_ID": "D2", "AMOUNT": math.NaN(), "INVOICE_DATE": nil},
	})
}

func TestFromRecords(t *testing.T) {
	f := testFrame()

	if f.Len() != 3 {
		t.Fatalf("expected 3 rows, got %d", f.Len())
	}
	if !f.Has("TRANSACTION_ID", "AMOUNT", "NOTE") {
		t.Error("expected all record keys as columns")
	}
	if f.Has("MISSING") {
		t.Error("unexpected column MISSING")
	}
	if missing := f.Missing([]string{"AMOUNT", "X", "Y"}); len(missing) != 2 {
		t.Errorf("expected 2 missing columns, got %v", missing)
	}
	if !f.IsNull("NOTE", 2) {
		t.Error("absent cell should be null")
	}
}

func TestNullRules(t *testing.T) {
	f := testFrame()

	tests := []struct {
		col  string
		row  int
		null bool
	}{
		{"AMOUNT", 0, false},
		{"AMOUNT", 2, true},
		{"NOTE", 1, true},
		{"INVOICE_DATE", 2, true},
		{"NOPE", 0, true},
	}
	for _, tt := range tests {
		if got := f.IsNull(tt.col, tt.row); got != tt.null {
			t.Errorf("IsNull(%s,%d) = %v, want %v", tt.col, tt.row, got, tt.null)
		}
	}
	for _, s := range []string{"nan", "None", " ", "NaT", "null"} {
		if !IsNullValue(s) {
			t.Errorf("expected %q to be null", s)
		}
	}
}

func TestTypedAccessors(t *testing.T) {
	f := testFrame()

	if v, ok := f.Float("AMOUNT", 1); !ok || v != 250.5 {
		t.Errorf("expected 250.5 from string cell, got %v (%v)", v, ok)
	}
	if _, ok := f.Float("AMOUNT", 2); ok {
		t.Error("NaN should not convert")
	}
	d, ok := f.Decimal("AMOUNT", 1)
	if !ok || d.String() != "250.5" {
		t.Errorf("expected decimal 250.5, got %s", d)
	}
	for _, row := range []int{0, 1} {
		got, ok := f.Time("INVOICE_DATE", row)
		if !ok {
			t.Fatalf("row %d: expected parsed date", row)
		}
		if got.Format("2006-01-02") != "2024-03-01" {
			t.Errorf("row %d: expected 2024-03-01, got %s", row, got.Format("2006-01-02"))
		}
	}
	if got := ToString(1234.0); got != "1234" {
		t.Errorf("expected whole float to format as 1234, got %s", got)
	}
	if got := ToString(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)); got != "2024-05-01" {
		t.Errorf("expected ISO date, got %s", got)
	}
}

func TestSet(t *testing.T) {
	f := testFrame()

	if err := f.SetInts("RULE", []int{1, 0, 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Flag("RULE", 0) != 1 || f.Flag("RULE", 1) != 0 {
		t.Error("unexpected flag values")
	}
	err := f.SetInts("BAD", []int{1})
	if !errors.Is(err, ErrLengthMismatch) {
		t.Errorf("expected ErrLengthMismatch, got %v", err)
	}
	cols := f.Columns()
	if cols[len(cols)-1] != "RULE" {
		t.Errorf("new column should be last, got %v", cols)
	}

	f.Drop("RULE")
	if f.Has("RULE") {
		t.Error("expected RULE to be dropped")
	}
}

func TestCloneSelectAppend(t *testing.T) {
	f := testFrame()

	c := f.Clone()
	c.SetValue("NOTE", 0, "changed")
	if f.Str("NOTE", 0) != "a" {
		t.Error("clone must not share column storage")
	}

	s := f.Select([]int{2, 0})
	if s.Len() != 2 || s.Str("TRANSACTION_ID", 0) != "T3" || s.Str("TRANSACTION_ID", 1) != "T1" {
		t.Errorf("unexpected selection: %v", s.Records())
	}

	other := FromRecords([]map[string]any{{"TRANSACTION_ID": "H1", "EXTRA": 1}})
	a := f.Append(other)
	if a.Len() != 4 {
		t.Fatalf("expected 4 rows, got %d", a.Len())
	}
	if a.Str("TRANSACTION_ID", 3) != "H1" {
		t.Errorf("expected appended row last, got %s", a.Str("TRANSACTION_ID", 3))
	}
	if !a.IsNull("EXTRA", 0) || a.Flag("EXTRA", 3) != 1 {
		t.Error("expected unioned column with nil padding")
	}
}

func TestGroupBy(t *testing.T) {
	f := FromRecords([]map[string]any{
		{"SUP": "V1", "AMT": 100.0},
		{"SUP": "V2", "AMT": 100.0},
		{"SUP": "V1", "AMT": 100.0},
		{"SUP": nil, "AMT": 100.0},
		{"SUP": "V1", "AMT": 200.0},
	})

	groups := f.GroupBy("SUP", "AMT")
	if len(groups) != 3 {
		t.Fatalf("expected 3 groups, got %d", len(groups))
	}
	first := groups[0]
	if len(first.Rows) != 2 || first.Rows[0] != 0 || first.Rows[1] != 2 {
		t.Errorf("expected first group rows [0 2], got %v", first.Rows)
	}
	if parts := SplitKey(first.Key); len(parts) != 2 || parts[0] != "V1" || parts[1] != "100" {
		t.Errorf("unexpected key parts %v", parts)
	}
	for _, g := range groups {
		for _, r := range g.Rows {
			if r == 3 {
				t.Error("row with null key must not be grouped")
			}
		}
	}
}

func TestReadCSV(t *testing.T) {
	t.Run("UTF8WithBOM", func(t *testing.T) {
		in := "\xef\xbb\xbfTRANSACTION_ID, VENDOR_NAME,AMOUNT\nT1,Société,10.5\nT2,,\n"
		f, err := ReadCSV(strings.NewReader(in))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if f.Len() != 2 {
			t.Fatalf("expected 2 rows, got %d", f.Len())
		}
		if f.Str("VENDOR_NAME", 0) != "Société" {
			t.Errorf("unexpected vendor %q", f.Str("VENDOR_NAME", 0))
		}
		if !f.IsNull("AMOUNT", 1) {
			t.Error("empty cell should be null")
		}
	})

	t.Run("Windows1252", func(t *testing.T) {
		in := "VENDOR_NAME\nM\xfcller\n"
		f, err := ReadCSV(strings.NewReader(in))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if f.Str("VENDOR_NAME", 0) != "Müller" {
			t.Errorf("expected decoded Müller, got %q", f.Str("VENDOR_NAME", 0))
		}
	})
}

func TestWriteCSV(t *testing.T) {
	f := FromRecords([]map[string]any{
		{"TRANSACTION_ID": "T1", "AMOUNT": 10.5},
		{"TRANSACTION_ID": "T2", "AMOUNT": nil},
	})
	var buf bytes.Buffer
	if err := WriteCSV(&buf, f); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	back, err := ReadCSV(&buf)
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if back.Len() != 2 || back.Str("TRANSACTION_ID", 1) != "T2" || back.Str("AMOUNT", 0) != "10.5" {
		t.Errorf("round trip lost data: %v", back.Records())
	}
	if !back.IsNull("AMOUNT", 1) {
		t.Error("null should be written as an empty cell")
	}
}
