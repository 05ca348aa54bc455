package rules

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ReadUnusualPairs parses the predefined (Credit, Debit) subcategory pairs
// used by UNUSUAL_ACCOUNT_PAIRING.
func ReadUnusualPairs(r io.Reader) ([]domain.AccountPair, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read unusual pairs: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	credit, debit := -1, -1
	for i, h := range rows[0] {
		switch strings.ToUpper(strings.TrimSpace(h)) {
		case "CREDIT":
			credit = i
		case "DEBIT":
			debit = i
		}
	}
	if credit < 0 || debit < 0 {
		return nil, fmt.Errorf("read unusual pairs: header must contain Credit and Debit")
	}

	var out []domain.AccountPair
	for _, row := range rows[1:] {
		if credit >= len(row) || debit >= len(row) {
			continue
		}
		p := domain.AccountPair{Credit: strings.TrimSpace(row[credit]), Debit: strings.TrimSpace(row[debit])}
		if p.Credit == "" || p.Debit == "" {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}
