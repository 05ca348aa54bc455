// Package frame provides the column-oriented batch frame the pipeline stages
// read from and write onto.
package frame

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/dates"
)

// Common errors
var (
	ErrLengthMismatch = errors.New("column length does not match frame length")
	ErrUnknownColumn  = errors.New("unknown column")
)

// Frame is a fixed-length table of named columns. Rows are addressed by index.
// A Frame is safe for concurrent reads; writers must not share it.
type Frame struct {
	n     int
	names []string
	cols  map[string][]any
}

// New creates an empty frame with n rows.
func New(n int) *Frame {
	return &Frame{n: n, cols: make(map[string][]any)}
}

// FromRecords builds a frame from row maps. Column order follows first
// appearance; keys within a record are taken in sorted order.
func FromRecords(records []map[string]any) *Frame {
	f := New(len(records))
	for i, rec := range records {
		keys := make([]string, 0, len(rec))
		for k := range rec {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			col, ok := f.cols[k]
			if !ok {
				col = make([]any, f.n)
				f.cols[k] = col
				f.names = append(f.names, k)
			}
			col[i] = rec[k]
		}
	}
	return f
}

// Len returns the number of rows.
func (f *Frame) Len() int { return f.n }

// Columns returns the column names in insertion order.
func (f *Frame) Columns() []string {
	out := make([]string, len(f.names))
	copy(out, f.names)
	return out
}

// Has reports whether every named column exists.
func (f *Frame) Has(cols ...string) bool {
	for _, c := range cols {
		if _, ok := f.cols[c]; !ok {
			return false
		}
	}
	return true
}

// Missing returns the subset of cols not present in the frame.
func (f *Frame) Missing(cols []string) []string {
	var out []string
	for _, c := range cols {
		if _, ok := f.cols[c]; !ok {
			out = append(out, c)
		}
	}
	return out
}

// Set adds or replaces a column.
func (f *Frame) Set(name string, values []any) error {
	if len(values) != f.n {
		return fmt.Errorf("set %s: %w (%d != %d)", name, ErrLengthMismatch, len(values), f.n)
	}
	if _, ok := f.cols[name]; !ok {
		f.names = append(f.names, name)
	}
	f.cols[name] = values
	return nil
}

// SetInts adds or replaces an integer column.
func (f *Frame) SetInts(name string, values []int) error {
	col := make([]any, len(values))
	for i, v := range values {
		col[i] = v
	}
	return f.Set(name, col)
}

// SetFloats adds or replaces a float column.
func (f *Frame) SetFloats(name string, values []float64) error {
	col := make([]any, len(values))
	for i, v := range values {
		col[i] = v
	}
	return f.Set(name, col)
}

// SetValue writes a single cell, creating the column when needed.
func (f *Frame) SetValue(name string, i int, v any) {
	col, ok := f.cols[name]
	if !ok {
		col = make([]any, f.n)
		f.cols[name] = col
		f.names = append(f.names, name)
	}
	col[i] = v
}

// Drop removes columns if present.
func (f *Frame) Drop(names ...string) {
	for _, name := range names {
		if _, ok := f.cols[name]; !ok {
			continue
		}
		delete(f.cols, name)
		for i, n := range f.names {
			if n == name {
				f.names = append(f.names[:i], f.names[i+1:]...)
				break
			}
		}
	}
}

// Column returns the raw column, or nil when absent. Callers must not modify it.
func (f *Frame) Column(name string) []any {
	return f.cols[name]
}

// Value returns the raw cell value, nil when the column is absent.
func (f *Frame) Value(name string, i int) any {
	col, ok := f.cols[name]
	if !ok {
		return nil
	}
	return col[i]
}

// IsNull reports whether the cell is missing. Absent columns, nil, NaN,
// blank strings and the textual null markers left by spreadsheet exports
// all count as null.
func (f *Frame) IsNull(name string, i int) bool {
	return IsNullValue(f.Value(name, i))
}

// IsNullValue applies the frame's null rules to a bare value.
func IsNullValue(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case float64:
		return math.IsNaN(x)
	case float32:
		return math.IsNaN(float64(x))
	case string:
		s := strings.TrimSpace(x)
		switch strings.ToLower(s) {
		case "", "nan", "none", "null", "nat", "<na>":
			return true
		}
		return false
	case time.Time:
		return x.IsZero()
	case *time.Time:
		return x == nil || x.IsZero()
	}
	return false
}

// Float returns the cell as a float64.
func (f *Frame) Float(name string, i int) (float64, bool) {
	return ToFloat(f.Value(name, i))
}

// FloatOr returns the cell as a float64 or def when null or non-numeric.
func (f *Frame) FloatOr(name string, i int, def float64) float64 {
	if v, ok := f.Float(name, i); ok {
		return v
	}
	return def
}

// ToFloat converts a bare value to float64.
func ToFloat(v any) (float64, bool) {
	if IsNullValue(v) {
		return 0, false
	}
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case decimal.Decimal:
		return x.InexactFloat64(), true
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(x), ",", "")
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// Decimal returns the cell as an exact decimal.
func (f *Frame) Decimal(name string, i int) (decimal.Decimal, bool) {
	return ToDecimal(f.Value(name, i))
}

// ToDecimal converts a bare value to a decimal. Strings keep their exact digits.
func ToDecimal(v any) (decimal.Decimal, bool) {
	if IsNullValue(v) {
		return decimal.Zero, false
	}
	switch x := v.(type) {
	case decimal.Decimal:
		return x, true
	case string:
		d, err := decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(x), ",", ""))
		return d, err == nil
	case json.Number:
		d, err := decimal.NewFromString(x.String())
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(x), true
	case float32:
		return decimal.NewFromFloat32(x), true
	case int:
		return decimal.NewFromInt(int64(x)), true
	case int64:
		return decimal.NewFromInt(x), true
	case int32:
		return decimal.NewFromInt32(x), true
	}
	return decimal.Zero, false
}

// Int returns the cell as an int, truncating floats.
func (f *Frame) Int(name string, i int) (int, bool) {
	v, ok := f.Float(name, i)
	if !ok {
		return 0, false
	}
	return int(v), true
}

// Flag returns 1 when the cell is a truthy number or boolean, else 0.
func (f *Frame) Flag(name string, i int) int {
	v, ok := f.Float(name, i)
	if ok && v != 0 {
		return 1
	}
	return 0
}

// Str returns the cell as trimmed text, or "" when null.
func (f *Frame) Str(name string, i int) string {
	return ToString(f.Value(name, i))
}

// ToString formats a bare value as trimmed text. Whole floats drop the
// fractional part so numeric identifiers read back as typed.
func ToString(v any) string {
	if IsNullValue(v) {
		return ""
	}
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.Format(dates.ISODate)
	case decimal.Decimal:
		return x.String()
	case fmt.Stringer:
		return strings.TrimSpace(x.String())
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

// Time returns the cell as a date.
func (f *Frame) Time(name string, i int) (time.Time, bool) {
	return ToTime(f.Value(name, i))
}

// ToTime converts a bare value to a time using the multi-format date parser.
func ToTime(v any) (time.Time, bool) {
	if IsNullValue(v) {
		return time.Time{}, false
	}
	switch x := v.(type) {
	case time.Time:
		return x, true
	case *time.Time:
		return *x, true
	case string:
		t, err := dates.Parse(x)
		return t, err == nil
	}
	return time.Time{}, false
}

// Clone returns a deep copy of the column slices. Cell values are shared.
func (f *Frame) Clone() *Frame {
	c := &Frame{n: f.n, names: f.Columns(), cols: make(map[string][]any, len(f.cols))}
	for k, col := range f.cols {
		cp := make([]any, len(col))
		copy(cp, col)
		c.cols[k] = cp
	}
	return c
}

// Select returns a new frame holding the given rows in order.
func (f *Frame) Select(rows []int) *Frame {
	s := &Frame{n: len(rows), names: f.Columns(), cols: make(map[string][]any, len(f.cols))}
	for k, col := range f.cols {
		out := make([]any, len(rows))
		for j, i := range rows {
			out[j] = col[i]
		}
		s.cols[k] = out
	}
	return s
}

// Append returns a new frame with other's rows after f's rows. Columns are
// unioned; cells of a column missing on one side are nil.
func (f *Frame) Append(other *Frame) *Frame {
	out := New(f.n + other.n)
	for _, name := range f.names {
		col := make([]any, out.n)
		copy(col, f.cols[name])
		if oc, ok := other.cols[name]; ok {
			copy(col[f.n:], oc)
		}
		out.cols[name] = col
		out.names = append(out.names, name)
	}
	for _, name := range other.names {
		if _, ok := out.cols[name]; ok {
			continue
		}
		col := make([]any, out.n)
		copy(col[f.n:], other.cols[name])
		out.cols[name] = col
		out.names = append(out.names, name)
	}
	return out
}

// Row returns row i as a map.
func (f *Frame) Row(i int) map[string]any {
	row := make(map[string]any, len(f.names))
	for _, name := range f.names {
		row[name] = f.cols[name][i]
	}
	return row
}

// Records returns every row as a map.
func (f *Frame) Records() []map[string]any {
	out := make([]map[string]any, f.n)
	for i := range out {
		out[i] = f.Row(i)
	}
	return out
}
