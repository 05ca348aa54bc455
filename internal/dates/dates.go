// Package dates parses the date formats found in ERP extracts, invoice
// documents and email headers, and compares dates at day granularity.
package dates

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// ISODate is the canonical day layout.
const ISODate = "2006-01-02"

// ErrUnparseable is returned when no known layout matches.
var ErrUnparseable = errors.New("unparseable date")

// Day-first layouts win over month-first ones for slashed dates.
var layouts = []string{
	ISODate,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000000",
	"2006-01-02T15:04:05",
	time.RFC3339,
	time.RFC3339Nano,
	"02-01-2006",
	"02-01-2006 15:04:05",
	"02.01.2006",
	"02.01.2006 15:04:05",
	"02.01.2006 15:04",
	"20060102",
	"20060102150405",
	"02/01/2006",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"2006/01/02",
	"2006.01.02",
	"02-Jan-2006",
	"02 Jan 2006",
	"2 Jan 2006",
	"2 January 2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"Monday, January 2, 2006 3:04 PM",
	"Monday, January 2, 2006 3:04:05 PM",
	"Monday, 2 January 2006 15:04",
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 -0700 (MST)",
	"Mon, 02 Jan 2006 15:04:05 MST",
	time.RFC1123Z,
	time.RFC1123,
}

// Parse reads s using the first matching layout.
func Parse(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrUnparseable
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrUnparseable, s)
}

// MustParse is Parse for literals; it panics on error.
func MustParse(s string) time.Time {
	t, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return t
}

// Day truncates t to midnight UTC on the same calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DayEqual compares two times on calendar day only.
func DayEqual(a, b time.Time) bool {
	return Day(a).Equal(Day(b))
}

// DaysBetween returns the whole days from a to b (b - a).
func DaysBetween(a, b time.Time) int {
	return int(Day(b).Sub(Day(a)).Hours() / 24)
}

// Quarter returns the calendar quarter as "2024Q1".
func Quarter(t time.Time) string {
	return fmt.Sprintf("%dQ%d", t.Year(), (int(t.Month())-1)/3+1)
}

// Older returns the earlier of two days.
func Older(a, b time.Time) time.Time {
	if Day(b).Before(Day(a)) {
		return b
	}
	return a
}

// Renderings returns the numeric spellings of t that documents and comments
// commonly carry.
func Renderings(t time.Time) []string {
	return []string{
		t.Format("02.01.2006"),
		t.Format("02-01-2006"),
		t.Format("02/01/2006"),
		t.Format(ISODate),
		t.Format("2006/01/02"),
		t.Format("20060102"),
		t.Format("01/02/2006"),
		t.Format("2.1.2006"),
		t.Format("02 Jan 2006"),
		t.Format("January 2, 2006"),
	}
}

var (
	numericDate = regexp.MustCompile(`\b(\d{4}[-./]\d{2}[-./]\d{2}|\d{1,2}[-./]\d{1,2}[-./]\d{4})\b`)
	compactDate = regexp.MustCompile(`\b(20\d{2}[01]\d[0-3]\d)\b`)
	wordDate    = regexp.MustCompile(`(?i)\b(\d{1,2}\s+(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+\d{4}|(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+\d{1,2},\s*\d{4})\b`)
)

// Find returns every parseable date in free text, in order of appearance.
func Find(text string) []time.Time {
	type hit struct {
		pos int
		t   time.Time
	}
	var hits []hit
	for _, re := range []*regexp.Regexp{numericDate, compactDate, wordDate} {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			if t, err := parseLoose(text[loc[0]:loc[1]]); err == nil {
				hits = append(hits, hit{loc[0], t})
			}
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })
	out := make([]time.Time, len(hits))
	for i, h := range hits {
		out[i] = h.t
	}
	return out
}

// parseLoose accepts single-digit day and month parts and abbreviated month
// names with trailing dots.
func parseLoose(s string) (time.Time, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ".,", ","))
	if t, err := Parse(s); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2.1.2006", "2-1-2006", "2/1/2006", "2 Jan 2006", "Jan 2, 2006", "Jan 2,2006", "2 January 2006", "January 2,2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrUnparseable, s)
}
