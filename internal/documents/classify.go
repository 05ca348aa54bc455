package documents

import (
	"regexp"
	"strings"
)

// Kind is the classification of a supporting document.
type Kind string

const (
	KindVoucher            Kind = "voucher"
	KindRental             Kind = "rental"
	KindBankStatement      Kind = "bank_statement"
	KindPaymentCertificate Kind = "payment_certificate"
	KindTicket             Kind = "ticket"
	KindInvoice            Kind = "invoice"
	KindOther              Kind = "other"
)

// classifiers are tried in order; the first match wins.
var classifiers = []struct {
	kind Kind
	re   *regexp.Regexp
}{
	{KindVoucher, regexp.MustCompile(`(?i)\b(payment|journal|cash|expense|accounting)\s+voucher\b|\bvoucher\s+(no|number|date)\b|\bbeleg(nummer)?\b`)},
	{KindRental, regexp.MustCompile(`(?i)\b(rent(al)?|lease|tenancy)\s+(agreement|invoice|contract|receipt)\b|\blandlord\b|\blessor\b`)},
	{KindBankStatement, regexp.MustCompile(`(?i)\b(bank|account)\s+statement\b|\bstatement\s+of\s+account\b|\bopening\s+balance\b|\bkontoauszug\b`)},
	{KindPaymentCertificate, regexp.MustCompile(`(?i)\bpayment\s+certificate\b|\bcertificate\s+of\s+payment\b|\binterim\s+certificate\b|\bcertified\s+for\s+payment\b`)},
	{KindTicket, regexp.MustCompile(`(?i)\b(e-?ticket|boarding\s+pass|itinerary|flight\s+(no|number)|train\s+ticket|pnr)\b`)},
	{KindInvoice, regexp.MustCompile(`(?i)\b(tax\s+)?invoice\b|\bbill\s+to\b|\brechnung\b|\bfactura\b|\bfacture\b|\bfattura\b|\bnota\s+fiscal\b|发票|請求書|청구서`)},
}

// Classify assigns a kind from the lines of a document's first page.
func Classify(firstPage []string) Kind {
	text := strings.Join(firstPage, "\n")
	for _, c := range classifiers {
		if c.re.MatchString(text) {
			return c.kind
		}
	}
	return KindOther
}

var dummyWords = regexp.MustCompile(`(?i)\b(dummy|generic|test)\b`)

// minInvoiceLines is the non-blank line count below which an invoice is
// treated as a placeholder.
const minInvoiceLines = 10

// IsDummy reports whether an invoice is a placeholder: a dummy, generic or
// test marker in the first five lines, or too little text to be real.
func IsDummy(lines []string) bool {
	nonBlank := 0
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		nonBlank++
		if nonBlank <= 5 && dummyWords.MatchString(line) {
			return true
		}
	}
	return nonBlank < minInvoiceLines
}
