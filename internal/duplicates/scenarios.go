package duplicates

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ReadScenariosCSV parses a scenario table with the columns SCENARIO_ID,
// SCENARIO_NAME, GROUP_BY_FIELDS, SIMILARITY_CHECK_COLUMNS and STATUS. List
// cells are comma separated. Rows with a bad ID or no group-by fields are
// logged and skipped.
func ReadScenariosCSV(r io.Reader) ([]domain.Scenario, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read scenarios: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	idx := map[string]int{}
	for i, h := range rows[0] {
		idx[strings.ToUpper(strings.TrimSpace(h))] = i
	}
	for _, c := range []string{"SCENARIO_ID", "GROUP_BY_FIELDS"} {
		if _, ok := idx[c]; !ok {
			return nil, fmt.Errorf("read scenarios: header must contain %s", c)
		}
	}
	cell := func(row []string, col string) string {
		i, ok := idx[col]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var out []domain.Scenario
	for n, row := range rows[1:] {
		id, err := strconv.Atoi(cell(row, "SCENARIO_ID"))
		groupBy := splitFields(cell(row, "GROUP_BY_FIELDS"))
		if err != nil || len(groupBy) == 0 {
			slog.Warn("scenario row skipped", "line", n+2, "scenario_id", cell(row, "SCENARIO_ID"))
			continue
		}
		status := cell(row, "STATUS")
		out = append(out, domain.Scenario{
			ID:                id,
			Name:              cell(row, "SCENARIO_NAME"),
			GroupBy:           groupBy,
			SimilarityColumns: splitFields(cell(row, "SIMILARITY_CHECK_COLUMNS")),
			Active:            status == "" || status == "1" || strings.EqualFold(status, "true"),
		})
	}
	return out, nil
}

func splitFields(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.ToUpper(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
