package rules

import (
	"bytes"
	_ "embed"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

//go:embed data/ap_rule_matrix.csv
var apMatrixCSV []byte

//go:embed data/gl_rule_matrix.csv
var glMatrixCSV []byte

// Matrix records which data columns each rule requires.
type Matrix struct {
	required map[string][]string
	order    []string
}

// ReadMatrix parses a rule matrix: one row per rule, one column per data
// column, "1" marking a required column. The SNo column is ignored. The rule
// name column is the one headed RULE, RULE_NAME or RULES, else the first
// column that is not SNo.
func ReadMatrix(r io.Reader) (*Matrix, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read rule matrix: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("read rule matrix: empty file")
	}

	header := rows[0]
	nameIdx := -1
	skip := make(map[int]bool)
	for i, h := range header {
		h = strings.ToUpper(strings.TrimSpace(h))
		header[i] = strings.TrimSpace(header[i])
		switch h {
		case "SNO", "S.NO", "S_NO":
			skip[i] = true
		case "RULE", "RULE_NAME", "RULES":
			nameIdx = i
		}
	}
	if nameIdx < 0 {
		for i := range header {
			if !skip[i] {
				nameIdx = i
				break
			}
		}
	}
	if nameIdx < 0 {
		return nil, fmt.Errorf("read rule matrix: no rule name column")
	}
	skip[nameIdx] = true

	m := &Matrix{required: make(map[string][]string)}
	for _, row := range rows[1:] {
		if nameIdx >= len(row) {
			continue
		}
		name := strings.ToUpper(strings.TrimSpace(row[nameIdx]))
		if name == "" {
			continue
		}
		cols := []string{}
		for i, cell := range row {
			if skip[i] || i >= len(header) {
				continue
			}
			if v := strings.TrimSpace(cell); v == "1" || v == "1.0" {
				cols = append(cols, header[i])
			}
		}
		if _, seen := m.required[name]; !seen {
			m.order = append(m.order, name)
		}
		m.required[name] = cols
	}
	return m, nil
}

// DefaultMatrix returns the built-in matrix for a module.
func DefaultMatrix(module domain.Module) *Matrix {
	src := apMatrixCSV
	if module == domain.ModuleGL {
		src = glMatrixCSV
	}
	m, err := ReadMatrix(bytes.NewReader(src))
	if err != nil {
		panic(fmt.Sprintf("embedded %s rule matrix: %v", module, err))
	}
	return m
}

// Required returns the columns a rule needs and whether the rule is listed.
func (m *Matrix) Required(rule string) ([]string, bool) {
	cols, ok := m.required[rule]
	return cols, ok
}

// Rules lists the rule names in file order.
func (m *Matrix) Rules() []string {
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}
