package frame

import (
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/dates"
)

const keySep = "\x1f"

// Group is a set of row indices sharing a key.
type Group struct {
	Key  string
	Rows []int
}

// Key builds the grouping key of row i over cols. It returns false when any
// key cell is null.
func (f *Frame) Key(i int, cols []string) (string, bool) {
	parts := make([]string, len(cols))
	for j, c := range cols {
		v := f.Value(c, i)
		if IsNullValue(v) {
			return "", false
		}
		parts[j] = keyPart(v)
	}
	return strings.Join(parts, keySep), true
}

func keyPart(v any) string {
	switch x := v.(type) {
	case time.Time:
		return x.Format(dates.ISODate)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	return ToString(v)
}

// GroupBy partitions rows by the given columns. Groups are returned in order
// of first occurrence and rows keep their frame order. Rows with a null key
// cell belong to no group.
func (f *Frame) GroupBy(cols ...string) []Group {
	index := make(map[string]int)
	var groups []Group
	for i := 0; i < f.n; i++ {
		k, ok := f.Key(i, cols)
		if !ok {
			continue
		}
		g, seen := index[k]
		if !seen {
			g = len(groups)
			index[k] = g
			groups = append(groups, Group{Key: k})
		}
		groups[g].Rows = append(groups[g].Rows, i)
	}
	return groups
}

// SplitKey returns the parts of a group key.
func SplitKey(key string) []string {
	return strings.Split(key, keySep)
}
