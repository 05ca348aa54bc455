package rules

import (
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/dates"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/frame"
	"github.com/opensource-finance/kestrel/internal/prep"
	"github.com/opensource-finance/kestrel/internal/textnorm"
)

// each builds a 0/1 column from a row test.
func each(c *Context, fire func(i int) bool) []int {
	out := make([]int, c.Len())
	for i := range out {
		if fire(i) {
			out[i] = 1
		}
	}
	return out
}

func latePayment(c *Context) ([]int, error) {
	f := c.Frame
	return each(c, func(i int) bool {
		dpd, ok := f.Float(domain.ColDuePaymentDiff, i)
		return ok && dpd < 0
	}), nil
}

// maxDiscountPeriod is the row's discount window; a missing window is zero days.
func maxDiscountPeriod(f *frame.Frame, i int) float64 {
	return f.FloatOr(domain.ColMaxDiscountPeriod, i, 0)
}

func earlyPayment(c *Context) ([]int, error) {
	f := c.Frame
	return each(c, func(i int) bool {
		dpd, ok1 := f.Float(domain.ColDuePaymentDiff, i)
		pid, ok2 := f.Float(domain.ColPaymentInvoiceDiff, i)
		if !ok1 || !ok2 || pid == prep.MissingPaymentGap {
			return false
		}
		return dpd > 0 && pid > maxDiscountPeriod(f, i)
	}), nil
}

func earlyPostedInvoices(c *Context) ([]int, error) {
	f := c.Frame
	docTypes := c.Settings.StringSet(KeyEarlyPostedDocTypes, []string{"KR", "RE"})
	return each(c, func(i int) bool {
		post, ok1 := f.Time(domain.ColPostingDate, i)
		inv, ok2 := f.Time(domain.ColInvoiceDate, i)
		return ok1 && ok2 && dates.Day(post).Before(dates.Day(inv)) && docTypes[f.Str(domain.ColDocType, i)]
	}), nil
}

func immediatePayments(c *Context) ([]int, error) {
	f := c.Frame
	pct := c.Settings.Float(KeyImmediatePayments, 0.2)
	return each(c, func(i int) bool {
		pid, ok1 := f.Float(domain.ColPaymentInvoiceDiff, i)
		due, ok2 := f.Float(domain.ColDueDays, i)
		if !ok1 || !ok2 || pid == prep.MissingPaymentGap || pid < 0 {
			return false
		}
		if pid > pct*due {
			return false
		}
		mdp := maxDiscountPeriod(f, i)
		return !(mdp > 0 && pid <= mdp)
	}), nil
}

func lostDiscount(c *Context) ([]int, error) {
	f := c.Frame
	return each(c, func(i int) bool {
		pid, ok := f.Float(domain.ColPaymentInvoiceDiff, i)
		mdp := maxDiscountPeriod(f, i)
		if !ok || pid < 0 || mdp <= 0 {
			return false
		}
		taken, _ := f.Float(domain.ColDiscountTaken, i)
		return pid <= mdp && taken == 0
	}), nil
}

func unfavorablePaymentTerms(c *Context) ([]int, error) {
	f := c.Frame
	shorter := c.Settings.Float(KeyShorterCredit, 30)
	ivTerms := c.Settings.StringSet(KeyInvoicePaymentTerms, nil)
	return each(c, func(i int) bool {
		due, ok := f.Float(domain.ColDueDays, i)
		if !ok || due >= shorter {
			return false
		}
		terms := f.Str(domain.ColPaymentTerms, i)
		if terms == "" {
			return true
		}
		if ivTerms[terms] {
			return false
		}
		if v := c.Master.Vendor(f.Str(domain.ColVendorID, i)); v != nil {
			for _, t := range v.PaymentTerms {
				if strings.EqualFold(t, terms) {
					return false
				}
			}
		}
		return true
	}), nil
}

func oldUnpaidInvoice(c *Context) ([]int, error) {
	f := c.Frame
	threshold := c.Settings.Float(KeyOldUnpaidInvoice, 90)
	return each(c, func(i int) bool {
		days, ok := f.Float(domain.ColUnpaidDays, i)
		return ok && days > threshold && f.IsNull(domain.ColPaymentDate, i)
	}), nil
}

func postsWeekend(c *Context) ([]int, error) {
	f := c.Frame
	weekend := make(map[time.Weekday]bool)
	for _, d := range c.Settings.Strings(KeyWeekendDays, []string{"Saturday", "Sunday"}) {
		for wd := time.Sunday; wd <= time.Saturday; wd++ {
			if strings.EqualFold(wd.String(), d) || strings.EqualFold(wd.String()[:3], d) {
				weekend[wd] = true
			}
		}
	}
	return each(c, func(i int) bool {
		t, ok := f.Time(domain.ColEnteredDate, i)
		return ok && weekend[t.Weekday()]
	}), nil
}

// clockHour reads the hour of an entry time such as "23:10:05", "2310" or a
// full timestamp.
func clockHour(v any) (int, bool) {
	if t, ok := v.(time.Time); ok {
		return t.Hour(), true
	}
	s := frame.ToString(v)
	if s == "" {
		return 0, false
	}
	for _, layout := range []string{"15:04:05", "15:04", "150405", "1504", "3:04:05 PM", "3:04 PM"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Hour(), true
		}
	}
	if t, err := dates.Parse(s); err == nil {
		return t.Hour(), true
	}
	return 0, false
}

func postsNight(c *Context) ([]int, error) {
	f := c.Frame
	start := c.Settings.Int(KeyBusinessStartHour, 7)
	end := c.Settings.Int(KeyBusinessEndHour, 20)
	return each(c, func(i int) bool {
		h, ok := clockHour(f.Value(domain.ColEnteredTime, i))
		return ok && (h < start || h >= end)
	}), nil
}

func postsHolidays(c *Context) ([]int, error) {
	f := c.Frame
	holidays := make(map[string]bool)
	for _, h := range c.Settings.Strings(KeyHolidays, nil) {
		t, err := dates.Parse(h)
		if err != nil {
			return nil, fmt.Errorf("holiday %q: %w", h, err)
		}
		holidays[t.Format(dates.ISODate)] = true
	}
	return each(c, func(i int) bool {
		t, ok := f.Time(domain.ColEnteredDate, i)
		return ok && holidays[t.Format(dates.ISODate)]
	}), nil
}

// amountTail renders an amount with two decimals and returns its last three
// characters, decimal point included: 1234.56 -> ".56", 57.99 -> ".99".
func amountTail(f *frame.Frame, col string, i int) (string, bool) {
	d, ok := f.Decimal(col, i)
	if !ok {
		return "", false
	}
	s := d.Abs().StringFixed(2)
	return s[len(s)-3:], true
}

// roundOffSet reads the whitelist; entries written without the point
// ("00") mean the same tail as ".00".
func roundOffSet(s *Settings) map[string]bool {
	set := make(map[string]bool)
	for _, v := range s.Strings(KeyRoundOff, []string{".00", ".99"}) {
		v = strings.TrimSpace(v)
		if len(v) == 2 && !strings.HasPrefix(v, ".") {
			v = "." + v
		}
		set[v] = true
	}
	return set
}

func roundingOff(c *Context) ([]int, error) {
	f := c.Frame
	allowed := roundOffSet(c.Settings)
	return each(c, func(i int) bool {
		tail, ok := amountTail(f, domain.ColAmount, i)
		return ok && !allowed[tail]
	}), nil
}

func blankJE(c *Context) ([]int, error) {
	f := c.Frame
	return each(c, func(i int) bool {
		return f.Str(domain.ColDescription, i) == ""
	}), nil
}

func suspiciousKeywords(c *Context) ([]int, error) {
	f := c.Frame
	words := c.Settings.Strings(KeySuspiciousWords, nil)
	if len(words) == 0 {
		return make([]int, c.Len()), nil
	}
	return each(c, func(i int) bool {
		desc := f.Str(domain.ColDescription, i)
		for _, w := range words {
			if textnorm.ContainsFold(desc, w) {
				return true
			}
		}
		return false
	}), nil
}

func dateSequentialMismatch(c *Context) ([]int, error) {
	f := c.Frame
	seq := c.Settings.Strings(KeyDateSequence,
		[]string{domain.ColRequisitionDate, domain.ColTransportDate, domain.ColDueDate})
	var cols []string
	for _, col := range seq {
		if f.Has(col) {
			cols = append(cols, col)
		}
	}
	return each(c, func(i int) bool {
		for a := 0; a < len(cols); a++ {
			ta, ok := f.Time(cols[a], i)
			if !ok {
				continue
			}
			for b := a + 1; b < len(cols); b++ {
				if tb, ok := f.Time(cols[b], i); ok && dates.Day(ta).After(dates.Day(tb)) {
					return true
				}
			}
		}
		return false
	}), nil
}

// reversed reports whether a row is a reversal or belongs to a reversal doc type.
func reversed(c *Context, reversalTypes map[string]bool, i int) bool {
	return c.Frame.Flag(domain.ColIsReversed, i) == 1 || reversalTypes[c.Frame.Str(domain.ColDocType, i)]
}

func signedAmount(f *frame.Frame, i int) float64 {
	if f.Has(domain.ColDebitAmount) || f.Has(domain.ColCreditAmount) {
		return f.FloatOr(domain.ColDebitAmount, i, 0) + f.FloatOr(domain.ColCreditAmount, i, 0)
	}
	return f.FloatOr(domain.ColAmount, i, 0)
}

// duplicateKeys are the five exact-match groupings of the duplicate posting control.
var duplicateKeys = [][]string{
	{domain.ColInvoiceNumber, domain.ColSupplierID, domain.ColInvoiceDate, domain.ColAmount},
	{domain.ColInvoiceNumber, domain.ColSupplierID, domain.ColAmount},
	{domain.ColInvoiceNumber, domain.ColSupplierID, domain.ColInvoiceDate},
	{domain.ColSupplierID, domain.ColInvoiceDate, domain.ColAmount},
	{domain.ColStripInvoice, domain.ColSupplierID, domain.ColAmount},
}

func duplicateInvoicePosting(c *Context) ([]int, error) {
	f := c.Frame
	out := make([]int, c.Len())
	reversalTypes := c.Settings.StringSet(KeyReversalDocTypes, []string{"KG", "AB"})

	var eligible []int
	for i := 0; i < c.Len(); i++ {
		if !reversed(c, reversalTypes, i) {
			eligible = append(eligible, i)
		}
	}
	sub := f.Select(eligible)

	for _, keys := range duplicateKeys {
		if !sub.Has(keys...) {
			continue
		}
		for _, g := range sub.GroupBy(keys...) {
			if len(g.Rows) < 2 {
				continue
			}
			if len(g.Rows) == 2 {
				a, b := eligible[g.Rows[0]], eligible[g.Rows[1]]
				if signedAmount(f, a)+signedAmount(f, b) == 0 && signedAmount(f, a) != 0 {
					continue
				}
			}
			for _, r := range g.Rows {
				out[eligible[r]] = 1
			}
		}
	}
	return out, nil
}

func threeWayMatching(c *Context) ([]int, error) {
	f := c.Frame
	poTypes := c.Settings.StringSet(KeyPODocTypes, []string{"RE", "KR"})
	return each(c, func(i int) bool {
		if !poTypes[f.Str(domain.ColDocType, i)] {
			return false
		}
		if f.IsNull(domain.ColInvoiceNumber, i) || f.IsNull(domain.ColPONumber, i) || f.IsNull(domain.ColGRNNumber, i) {
			return true
		}
		po, ok1 := f.Time(domain.ColPODate, i)
		grn, ok2 := f.Time(domain.ColGRNDate, i)
		inv, ok3 := f.Time(domain.ColInvoiceDate, i)
		if !ok1 || !ok2 || !ok3 {
			return false
		}
		po, grn, inv = dates.Day(po), dates.Day(grn), dates.Day(inv)
		return !po.Before(grn) || !grn.Before(inv)
	}), nil
}

func nonPOInvoice(c *Context) ([]int, error) {
	f := c.Frame
	docTypes := c.Settings.StringSet(KeyNonPODocTypes, []string{"KR"})
	return each(c, func(i int) bool {
		return docTypes[f.Str(domain.ColDocType, i)] && f.IsNull(domain.ColPONumber, i)
	}), nil
}

func invoicesWithoutGRN(c *Context) ([]int, error) {
	f := c.Frame
	docTypes := c.Settings.StringSet(KeyGRNRequiredDocTypes, []string{"RE"})
	return each(c, func(i int) bool {
		return docTypes[f.Str(domain.ColDocType, i)] && f.IsNull(domain.ColGRNNumber, i)
	}), nil
}

func mismatch(c *Context, left, right string) []int {
	f := c.Frame
	return each(c, func(i int) bool {
		a, ok1 := f.Decimal(left, i)
		b, ok2 := f.Decimal(right, i)
		return ok1 && ok2 && !a.Equal(b)
	})
}

func quantityMismatch(c *Context) ([]int, error) {
	return mismatch(c, domain.ColInvoiceQuantity, domain.ColPOQuantity), nil
}

func priceMismatch(c *Context) ([]int, error) {
	return mismatch(c, domain.ColInvoicePrice, domain.ColPOPrice), nil
}

func vendorMasterChanges(c *Context) ([]int, error) {
	f := c.Frame
	sensitive := c.Master.SensitiveVendors()
	return each(c, func(i int) bool {
		return sensitive[f.Str(domain.ColVendorID, i)]
	}), nil
}

func paymentBlockR(c *Context) ([]int, error) {
	f := c.Frame
	return each(c, func(i int) bool {
		entry := f.Str(domain.ColEntryType, i)
		if entry == "" {
			entry = prep.EntryType(f.Str(domain.ColDocType, i))
		}
		return entry == domain.EntryInvoice && strings.EqualFold(f.Str(domain.ColPaymentBlock, i), "R")
	}), nil
}

func approvalMatrix(c *Context) ([]int, error) {
	if c.Approval == nil {
		return nil, ErrUnavailable
	}
	flags, err := c.Approval.Process(c.Ctx, c.AuditID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	f := c.Frame
	return each(c, func(i int) bool {
		return flags[f.Str(domain.ColAccountDocID, i)] == 1
	}), nil
}
