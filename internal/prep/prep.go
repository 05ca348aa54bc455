// Package prep derives the per-row features the rule predicates read.
package prep

import (
	"math"
	"time"

	"github.com/opensource-finance/kestrel/internal/dates"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/frame"
	"github.com/opensource-finance/kestrel/internal/textnorm"
)

// MissingPaymentGap is the PAYMENT_INVOICE_DIFFERENCE of an unpaid row.
const MissingPaymentGap = 10000

// DateColumns are parsed to time.Time during preparation.
var DateColumns = []string{
	domain.ColInvoiceDate,
	domain.ColPostingDate,
	domain.ColEnteredDate,
	domain.ColDueDate,
	domain.ColPaymentDate,
	domain.ColGRNDate,
	domain.ColPODate,
	domain.ColRequisitionDate,
	domain.ColTransportDate,
}

// AmountColumns are parsed to float64 during preparation so that grouping
// keys do not depend on how the extract spelled a number.
var AmountColumns = []string{
	domain.ColDebitAmount,
	domain.ColCreditAmount,
	domain.ColAmount,
	domain.ColInvoiceAmount,
}

// entryTypes maps DOC_TYPE to ENTRY_TYPE. Unlisted doc types have no entry type.
var entryTypes = map[string]string{
	"RE": domain.EntryInvoice,
	"KR": domain.EntryInvoice,
	"KE": domain.EntryInvoice,
	"KS": domain.EntryInvoice,
	"KA": domain.EntryInvoice,
	"KC": domain.EntryInvoice,
	"RN": domain.EntryInvoice,
	"KG": domain.EntryDebitMemo,
	"RK": domain.EntryDebitMemo,
	"DM": domain.EntryDebitMemo,
}

// EntryType returns the entry type for a doc type, or "" when unmapped.
func EntryType(docType string) string {
	return entryTypes[docType]
}

// Options controls preparation.
type Options struct {
	// Now is "today" for UNPAID_DAYS. Zero means time.Now().
	Now time.Time
}

// Prepare returns a copy of f with source dates and amounts normalized and
// every derived feature whose inputs are present.
func Prepare(f *frame.Frame, opts Options) *frame.Frame {
	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	out := f.Clone()
	n := out.Len()

	for _, col := range DateColumns {
		if !out.Has(col) {
			continue
		}
		vals := make([]any, n)
		for i := 0; i < n; i++ {
			if t, ok := out.Time(col, i); ok {
				vals[i] = t
			}
		}
		_ = out.Set(col, vals)
	}
	for _, col := range AmountColumns {
		if !out.Has(col) {
			continue
		}
		vals := make([]any, n)
		for i := 0; i < n; i++ {
			if v, ok := out.Float(col, i); ok {
				vals[i] = v
			}
		}
		_ = out.Set(col, vals)
	}

	deriveAmount(out)
	deriveEntryType(out)
	derivePaymentGaps(out, now)
	deriveDiscounts(out)
	deriveStripInvoice(out)
	deriveQuarters(out)
	return out
}

func deriveAmount(f *frame.Frame) {
	n := f.Len()
	switch {
	case f.Has(domain.ColDebitAmount, domain.ColCreditAmount):
		vals := make([]any, n)
		for i := 0; i < n; i++ {
			d := f.FloatOr(domain.ColDebitAmount, i, 0)
			c := f.FloatOr(domain.ColCreditAmount, i, 0)
			vals[i] = math.Abs(d + c)
		}
		_ = f.Set(domain.ColAmount, vals)
	case f.Has(domain.ColAmount):
		vals := make([]any, n)
		for i := 0; i < n; i++ {
			if v, ok := f.Float(domain.ColAmount, i); ok {
				vals[i] = math.Abs(v)
			}
		}
		_ = f.Set(domain.ColAmount, vals)
	}
}

func deriveEntryType(f *frame.Frame) {
	if !f.Has(domain.ColDocType) {
		return
	}
	vals := make([]any, f.Len())
	for i := range vals {
		if et := EntryType(f.Str(domain.ColDocType, i)); et != "" {
			vals[i] = et
		}
	}
	_ = f.Set(domain.ColEntryType, vals)
}

func derivePaymentGaps(f *frame.Frame, now time.Time) {
	n := f.Len()

	if f.Has(domain.ColPaymentDate, domain.ColInvoiceDate) {
		vals := make([]int, n)
		for i := 0; i < n; i++ {
			vals[i] = MissingPaymentGap
			pay, ok1 := f.Time(domain.ColPaymentDate, i)
			inv, ok2 := f.Time(domain.ColInvoiceDate, i)
			if ok1 && ok2 {
				vals[i] = dates.DaysBetween(inv, pay)
			}
		}
		_ = f.SetInts(domain.ColPaymentInvoiceDiff, vals)
	}

	if f.Has(domain.ColDueDate, domain.ColPaymentDate) {
		vals := make([]int, n)
		for i := 0; i < n; i++ {
			due, ok1 := f.Time(domain.ColDueDate, i)
			pay, ok2 := f.Time(domain.ColPaymentDate, i)
			if ok1 && ok2 {
				vals[i] = dates.DaysBetween(pay, due)
			}
		}
		_ = f.SetInts(domain.ColDuePaymentDiff, vals)
	}

	if f.Has(domain.ColDueDate) {
		vals := make([]int, n)
		for i := 0; i < n; i++ {
			if due, ok := f.Time(domain.ColDueDate, i); ok {
				vals[i] = dates.DaysBetween(due, now)
			}
		}
		_ = f.SetInts(domain.ColUnpaidDays, vals)
	}

	if !f.Has(domain.ColDueDays) && f.Has(domain.ColDueDate, domain.ColInvoiceDate) {
		vals := make([]any, n)
		for i := 0; i < n; i++ {
			due, ok1 := f.Time(domain.ColDueDate, i)
			inv, ok2 := f.Time(domain.ColInvoiceDate, i)
			if ok1 && ok2 {
				vals[i] = dates.DaysBetween(inv, due)
			}
		}
		_ = f.Set(domain.ColDueDays, vals)
	}
}

func deriveDiscounts(f *frame.Frame) {
	pairs := []struct {
		out    string
		first  string
		second string
	}{
		{domain.ColMaxDiscountPercent, domain.ColDiscountPercent1, domain.ColDiscountPercent2},
		{domain.ColMaxDiscountPeriod, domain.ColDiscountPeriod1, domain.ColDiscountPeriod2},
	}
	for _, p := range pairs {
		if !f.Has(p.first) && !f.Has(p.second) {
			continue
		}
		vals := make([]any, f.Len())
		for i := range vals {
			a, okA := f.Float(p.first, i)
			b, okB := f.Float(p.second, i)
			switch {
			case okA && okB:
				vals[i] = math.Max(a, b)
			case okA:
				vals[i] = a
			case okB:
				vals[i] = b
			}
		}
		_ = f.Set(p.out, vals)
	}
}

func deriveStripInvoice(f *frame.Frame) {
	if !f.Has(domain.ColInvoiceNumber) {
		return
	}
	vals := make([]any, f.Len())
	for i := range vals {
		if d := textnorm.Digits(f.Str(domain.ColInvoiceNumber, i)); d != "" {
			vals[i] = d
		}
	}
	_ = f.Set(domain.ColStripInvoice, vals)
}

func deriveQuarters(f *frame.Frame) {
	n := f.Len()
	quarter := func(col, out string) {
		if !f.Has(col) {
			return
		}
		vals := make([]any, n)
		for i := 0; i < n; i++ {
			if t, ok := f.Time(col, i); ok {
				vals[i] = dates.Quarter(t)
			}
		}
		_ = f.Set(out, vals)
	}
	quarter(domain.ColInvoiceDate, domain.ColInvoiceQuarter)
	quarter(domain.ColPostingDate, domain.ColPostingQuarter)

	if f.Has(domain.ColPostingDate, domain.ColEnteredDate) {
		same := make([]any, n)
		diff := make([]any, n)
		for i := 0; i < n; i++ {
			post, ok1 := f.Time(domain.ColPostingDate, i)
			entered, ok2 := f.Time(domain.ColEnteredDate, i)
			if !ok1 || !ok2 {
				continue
			}
			if dates.Quarter(post) == dates.Quarter(entered) {
				same[i] = 1
			} else {
				same[i] = 0
			}
			diff[i] = dates.DaysBetween(entered, post)
		}
		_ = f.Set(domain.ColSameQuarter, same)
		_ = f.Set(domain.ColPostingEnteredDiff, diff)
	}
}
