package frame

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// ReadCSV loads a header-first CSV extract. ERP exports that are not valid
// UTF-8 are decoded as Windows-1252. Cells are kept as strings; typed
// accessors convert on read.
func ReadCSV(r io.Reader) (*Frame, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))

	var src io.Reader = bytes.NewReader(raw)
	if !utf8.Valid(raw) {
		src = transform.NewReader(bytes.NewReader(raw), charmap.Windows1252.NewDecoder())
	}

	cr := csv.NewReader(src)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(rows) == 0 {
		return New(0), nil
	}

	header := rows[0]
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	f := New(len(rows) - 1)
	for j, name := range header {
		if name == "" {
			continue
		}
		col := make([]any, f.n)
		for i, row := range rows[1:] {
			if j < len(row) {
				col[i] = row[j]
			}
		}
		if err := f.Set(name, col); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// WriteCSV writes f with a header row in column order. Nulls are empty
// cells and dates are ISO formatted.
func WriteCSV(w io.Writer, f *Frame) error {
	cw := csv.NewWriter(w)
	cols := f.Columns()
	if err := cw.Write(cols); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	row := make([]string, len(cols))
	for i := 0; i < f.Len(); i++ {
		for j, c := range cols {
			row[j] = f.Str(c, i)
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
