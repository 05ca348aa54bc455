package dates

import (
	"errors"
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	want := time.Date(2024, 5, 12, 0, 0, 0, 0, time.UTC)

	inputs := []string{
		"2024-05-12",
		"12-05-2024",
		"12.05.2024",
		"20240512",
		"12/05/2024",
		"2024-05-12 08:30:00",
		"12.05.2024 17:45",
		"  2024-05-12  ",
		"Sunday, May 12, 2024 9:14 AM",
		"12 May 2024",
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			got, err := Parse(in)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !DayEqual(got, want) {
				t.Errorf("expected %s, got %s", want.Format(ISODate), got.Format(ISODate))
			}
		})
	}

	t.Run("Unparseable", func(t *testing.T) {
		for _, in := range []string{"", "not a date", "2024-13-45"} {
			if _, err := Parse(in); !errors.Is(err, ErrUnparseable) {
				t.Errorf("%q: expected ErrUnparseable, got %v", in, err)
			}
		}
	})
}

func TestDayArithmetic(t *testing.T) {
	a := time.Date(2024, 1, 1, 23, 59, 0, 0, time.UTC)
	b := time.Date(2024, 2, 10, 0, 1, 0, 0, time.UTC)

	if got := DaysBetween(a, b); got != 40 {
		t.Errorf("expected 40 days, got %d", got)
	}
	if got := DaysBetween(b, a); got != -40 {
		t.Errorf("expected -40 days, got %d", got)
	}
	if !DayEqual(a, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Error("expected same calendar day to compare equal")
	}
	if got := Older(a, b); !got.Equal(a) {
		t.Errorf("expected older date %v, got %v", a, got)
	}
}

func TestQuarter(t *testing.T) {
	tests := map[string]string{
		"2024-01-01": "2024Q1",
		"2024-03-31": "2024Q1",
		"2024-04-01": "2024Q2",
		"2024-09-30": "2024Q3",
		"2024-12-31": "2024Q4",
	}
	for in, want := range tests {
		if got := Quarter(MustParse(in)); got != want {
			t.Errorf("%s: expected %s, got %s", in, want, got)
		}
	}
}

func TestFind(t *testing.T) {
	text := "Received 12.05.2024 by AP team, re-scanned on 2024-05-20; original dated 3 Apr 2024"
	got := Find(text)
	if len(got) != 3 {
		t.Fatalf("expected 3 dates, got %d: %v", len(got), got)
	}
	want := []string{"2024-05-12", "2024-05-20", "2024-04-03"}
	for i, w := range want {
		if got[i].Format(ISODate) != w {
			t.Errorf("date %d: expected %s, got %s", i, w, got[i].Format(ISODate))
		}
	}
}
