package verification

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/texttheater/golang-levenshtein/levenshtein"

	"github.com/opensource-finance/kestrel/internal/dates"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/textnorm"
)

// Comparator thresholds.
const (
	NameMatchThreshold    = 85.0
	AddressMatchThreshold = 0.75
)

// amountTolerance absorbs rounding in OCR totals.
var amountTolerance = decimal.New(1, -2)

// NameScore compares two party names on a 0-100 scale after dropping legal
// forms. Containment of one name in the other scores 100.
func NameScore(a, b string) float64 {
	na, nb := textnorm.StripLegalForms(a), textnorm.StripLegalForms(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb || strings.Contains(na, nb) || strings.Contains(nb, na) {
		return 100
	}
	return 100 * levenshtein.RatioForStrings([]rune(na), []rune(nb), levenshtein.DefaultOptions)
}

// BestNameLine finds the line that best matches name.
func BestNameLine(name string, lines []string) (string, float64) {
	var best string
	var score float64
	for _, l := range lines {
		if s := NameScore(name, l); s > score {
			best, score = l, s
		}
	}
	return best, score
}

// AddressMatch reports the share of the SAP address tokens found in text.
func AddressMatch(sapAddress, text string) float64 {
	want := textnorm.Tokens(sapAddress)
	if len(want) == 0 {
		return 0
	}
	have := make(map[string]bool)
	for _, t := range textnorm.Tokens(text) {
		have[t] = true
	}
	found := 0
	for _, t := range want {
		if have[t] {
			found++
		}
	}
	return float64(found) / float64(len(want))
}

// InvoiceNumberEqual compares invoice numbers without punctuation, case or
// leading zeros.
func InvoiceNumberEqual(a, b string) bool {
	ca, cb := textnorm.Compact(a), textnorm.Compact(b)
	if ca == "" || cb == "" {
		return false
	}
	return ca == cb || strings.TrimLeft(ca, "0") == strings.TrimLeft(cb, "0")
}

// AmountEqual compares amounts within a cent.
func AmountEqual(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(amountTolerance)
}

// GLSetEqual compares two GL account lists as sets, ignoring leading zeros.
func GLSetEqual(a, b []string) bool {
	sa, sb := glSet(a), glSet(b)
	if len(sa) != len(sb) {
		return false
	}
	for k := range sa {
		if !sb[k] {
			return false
		}
	}
	return true
}

func glSet(list []string) map[string]bool {
	out := make(map[string]bool, len(list))
	for _, gl := range list {
		if k := strings.TrimLeft(textnorm.Digits(gl), "0"); k != "" {
			out[k] = true
		}
	}
	return out
}

// VIMLines splits a VIM comment body into lines.
func VIMLines(comments string) []string {
	return strings.FieldsFunc(comments, func(r rune) bool { return r == '\n' || r == '\r' || r == '|' })
}

// VIMScan reports whether any needle occurs in any comment line. Matching
// is a substring search that ignores case, punctuation and runs of
// whitespace.
func VIMScan(comments string, needles ...string) (string, bool) {
	return vimScan(comments, needles, false)
}

// VIMScanWords is VIMScan restricted to whole words, for short codes such as
// a payment method "T" that would otherwise match inside "Transfer".
func VIMScanWords(comments string, needles ...string) (string, bool) {
	return vimScan(comments, needles, true)
}

func vimScan(comments string, needles []string, words bool) (string, bool) {
	for _, line := range VIMLines(comments) {
		hay := textnorm.Normalize(line)
		if words {
			hay = " " + hay + " "
		}
		for _, n := range needles {
			nn := textnorm.Normalize(n)
			if nn == "" {
				continue
			}
			if words {
				nn = " " + nn + " "
			}
			if strings.Contains(hay, nn) {
				return strings.TrimSpace(line), true
			}
		}
	}
	return "", false
}

// amountRenderings returns the common spellings of an amount.
func amountRenderings(d decimal.Decimal) []string {
	plain := d.StringFixed(2)
	intPart, frac, _ := strings.Cut(plain, ".")
	neg := strings.HasPrefix(intPart, "-")
	intPart = strings.TrimPrefix(intPart, "-")
	var groups []string
	for len(intPart) > 3 {
		groups = append([]string{intPart[len(intPart)-3:]}, groups...)
		intPart = intPart[:len(intPart)-3]
	}
	groups = append([]string{intPart}, groups...)
	sign := ""
	if neg {
		sign = "-"
	}
	return []string{
		plain,
		sign + strings.Join(groups, ",") + "." + frac,
		sign + strings.Join(groups, ".") + "," + frac,
		sign + strings.Join(groups, "") + "," + frac,
	}
}

// sapNeedles returns what the VIM scan looks for for a parameter.
func sapNeedles(param string, inv *Invoice, c *Case) []string {
	switch param {
	case ParamInvoiceNumber:
		return nonEmpty(inv.InvoiceNumber)
	case ParamInvoiceDate:
		if !inv.InvoiceDate.IsZero() {
			return dates.Renderings(inv.InvoiceDate)
		}
	case ParamReceiptDate:
		if !inv.ReceiptDate.IsZero() {
			return dates.Renderings(inv.ReceiptDate)
		}
	case ParamInvoiceAmount:
		if inv.HasAmount {
			return amountRenderings(inv.Amount)
		}
	case ParamCurrency:
		return nonEmpty(inv.Currency)
	case ParamVendorNameAddress:
		if v := c.Vendor(); v != nil {
			return nonEmpty(v.Name)
		}
	case ParamBillTo:
		if co := c.Company(); co != nil {
			return nonEmpty(append([]string{co.Name}, co.Variations...)...)
		}
	case ParamPaymentMethod:
		return nonEmpty(inv.PaymentMethod)
	case ParamGLAccount:
		return nonEmpty(inv.GLAccounts...)
	case ParamBanking:
		if v := c.Vendor(); v != nil {
			var out []string
			for _, b := range v.Banking {
				out = append(out, nonEmpty(b.AccountNumber, b.IBAN)...)
			}
			return out
		}
	}
	return nil
}

// sapValue is the SAP value reported when a VIM scan matches.
func sapValue(param string, inv *Invoice, c *Case) any {
	switch param {
	case ParamInvoiceNumber:
		return inv.InvoiceNumber
	case ParamInvoiceDate:
		return isoDay(inv.InvoiceDate)
	case ParamReceiptDate:
		return isoDay(inv.ReceiptDate)
	case ParamInvoiceAmount:
		if inv.HasAmount {
			return inv.Amount.StringFixed(2)
		}
	case ParamCurrency:
		return inv.Currency
	case ParamVendorNameAddress:
		if v := c.Vendor(); v != nil {
			return v.Name
		}
	case ParamBillTo:
		if co := c.Company(); co != nil {
			return co.Name
		}
	case ParamPaymentMethod:
		return inv.PaymentMethod
	case ParamGLAccount:
		return inv.GLAccounts
	case ParamBanking:
		if v := c.Vendor(); v != nil {
			return v.Banking
		}
	}
	return nil
}

func nonEmpty(values ...string) []string {
	var out []string
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}

func accountKey(b domain.BankAccount) string {
	return strings.TrimLeft(textnorm.Digits(b.AccountNumber), "0")
}

func ibanKey(b domain.BankAccount) string {
	return strings.ToUpper(textnorm.Compact(b.IBAN))
}

// SameAccount compares two bank records by account number, falling back to
// IBAN when either side has no account number.
func SameAccount(a, b domain.BankAccount) bool {
	if ka, kb := accountKey(a), accountKey(b); ka != "" && kb != "" {
		return ka == kb
	}
	if ia, ib := ibanKey(a), ibanKey(b); ia != "" && ib != "" {
		return ia == ib
	}
	return false
}

// BankingCase names the shape of a banking comparison.
type BankingCase string

const (
	BankingNoneExtracted  BankingCase = "none_extracted"
	BankingSingleToSingle BankingCase = "single_single"
	BankingSingleToMulti  BankingCase = "single_multi"
	BankingMultiToSingle  BankingCase = "multi_single"
	BankingMultiToMulti   BankingCase = "multi_multi"
)

// BankingOutcome is the result of MatchBanking.
type BankingOutcome struct {
	Case      BankingCase
	Matched   []domain.BankAccount
	Unmatched []domain.BankAccount
	Decided   bool
	Anomaly   bool
}

// MatchBanking applies the banking matrix to the extracted records and the
// vendor's master records:
//
//	none extracted   undecided
//	single x single  anomaly unless the two match
//	single x multi   anomaly unless the extracted record is one of the vendor's
//	multi x single   anomaly unless the vendor's record was extracted
//	multi x multi    undecided; anomaly when any extracted record is unknown
func MatchBanking(extracted, master []domain.BankAccount) BankingOutcome {
	var out BankingOutcome
	for _, e := range extracted {
		found := false
		for _, m := range master {
			if SameAccount(e, m) {
				found = true
				break
			}
		}
		if found {
			out.Matched = append(out.Matched, e)
		} else {
			out.Unmatched = append(out.Unmatched, e)
		}
	}

	switch {
	case len(extracted) == 0:
		out.Case = BankingNoneExtracted
	case len(extracted) == 1 && len(master) <= 1:
		out.Case = BankingSingleToSingle
		out.Decided, out.Anomaly = true, len(out.Matched) == 0
	case len(extracted) == 1:
		out.Case = BankingSingleToMulti
		out.Decided, out.Anomaly = true, len(out.Matched) == 0
	case len(master) <= 1:
		out.Case = BankingMultiToSingle
		out.Decided, out.Anomaly = true, len(out.Matched) == 0
	default:
		out.Case = BankingMultiToMulti
		out.Anomaly = len(out.Unmatched) > 0
	}
	return out
}

func isoDay(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(dates.ISODate)
}
