package verification

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/dates"
	"github.com/opensource-finance/kestrel/internal/documents"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/textnorm"
)

// Extractor fills an Extraction from an invoice's attachments.
type Extractor interface {
	Extract(inv *Invoice, att *documents.Attachments) *Extraction
}

// LineExtractor reads fields from document lines with patterns.
type LineExtractor struct{}

var (
	reInvoiceNumber = regexp.MustCompile(`(?i)\b(?:invoice|inv|rechnung|facture|factura)\s*(?:no|nr|number|num|#)?\.?\s*[:#]?\s*([A-Z0-9][A-Z0-9\-/.]*[0-9][A-Z0-9\-/]*)`)
	reInvoiceDate   = regexp.MustCompile(`(?i)\b(?:invoice\s+date|date\s+of\s+invoice|rechnungsdatum|date\s+de\s+facture|fecha\s+de\s+factura|inv\.?\s+date)\b`)
	reReceipt       = regexp.MustCompile(`(?i)\b(?:receiv(?:ed|ing)|receipt|eingang(?:sdatum)?|eingegangen|re[çc]u|recibido)\b`)
	reTotal         = regexp.MustCompile(`(?i)\b(?:grand\s+total|total\s+amount|amount\s+due|total\s+due|invoice\s+total|total|gesamtbetrag|montant\s+total)\b[^0-9\-]*(-?[0-9][0-9.,' ]*[0-9])`)
	reCurrency      = regexp.MustCompile(`\b(USD|EUR|GBP|CHF|CAD|AUD|JPY|CNY|INR|KRW|TWD|SGD|HKD|MXN|BRL|ARS|CLP|COP|SEK|NOK|DKK|PLN|CZK|ZAR|AED|SAR|THB|MYR|IDR|PHP|NZD)\b`)
	reIBAN          = regexp.MustCompile(`\b([A-Z]{2}[0-9]{2}(?:\s?[A-Z0-9]{4}){2,7}(?:\s?[A-Z0-9]{1,3})?)\b`)
	reAccount       = regexp.MustCompile(`(?i)\b(?:account\s*(?:no|nr|number|#)|acct\.?\s*(?:no|#)?|a/c(?:\s*no)?|konto(?:nummer)?)\.?\s*[:#]?\s*([0-9][0-9\- ]{4,24}[0-9])`)
	reSWIFT         = regexp.MustCompile(`(?i)\b(?:swift|bic)(?:\s*code)?\s*[:.]?\s*([A-Z]{6}[A-Z0-9]{2}(?:[A-Z0-9]{3})?)\b`)
	reHolder        = regexp.MustCompile(`(?i)\b(?:account\s+(?:holder|name)|beneficiary(?:\s+name)?|kontoinhaber)\s*[:.]?\s*(.+)$`)
	reVAT           = regexp.MustCompile(`(?i)\b(?:vat|gst|ust|uid|tin|tax)\s*(?:id|no|nr|number|reg(?:istration)?(?:\s*no)?)?\.?\s*[:#]?\s*([A-Z]{0,2}[0-9][0-9A-Z\-]{5,18})`)
	reGL            = regexp.MustCompile(`(?i)\b(?:g/?l|gl\s+account|cost\s+account)\s*(?:account|acct|code|no)?\.?\s*[:#]?\s*([0-9]{4,10})\b`)
	reBillTo        = regexp.MustCompile(`(?i)^\s*(?:bill(?:ed)?\s+to|invoice\s+to|sold\s+to|customer|rechnungsempf[äa]nger)\s*[:.]?\s*(.*)$`)
)

// paymentMethods maps document wording to SAP payment method codes.
var paymentMethods = []struct {
	re   *regexp.Regexp
	code string
}{
	{regexp.MustCompile(`(?i)\b(?:wire|bank|telegraphic)\s+transfer\b|\bswift\s+transfer\b|\bsepa\b|\büberweisung\b|\bvirement\b`), "T"},
	{regexp.MustCompile(`(?i)\bach\b|\beft\b|\belectronic\s+funds?\s+transfer\b`), "A"},
	{regexp.MustCompile(`(?i)\bcheque\b|\bcheck\b|\bscheck\b`), "C"},
	{regexp.MustCompile(`(?i)\bdirect\s+debit\b|\blastschrift\b`), "D"},
	{regexp.MustCompile(`(?i)\bcredit\s+card\b|\bcard\s+payment\b`), "K"},
}

// Extract implements Extractor.
func (LineExtractor) Extract(inv *Invoice, att *documents.Attachments) *Extraction {
	ex := &Extraction{}
	if att == nil {
		return ex
	}

	lines := att.AllInvoiceLines()
	ex.Lines = lines
	ex.CertificateReceiptDate = receiptDate(att.PaymentCertificateLines, true)
	ex.VoucherReceiptDate = receiptDate(att.VoucherLines, true)
	ex.EmailSentDate, _ = att.EarliestEmailSent()
	ex.InvoiceReceiptDate = receiptDate(lines, false)

	if len(lines) == 0 {
		return ex
	}

	for i, line := range lines {
		if ex.InvoiceNumber == "" && !reInvoiceDate.MatchString(line) {
			if m := reInvoiceNumber.FindStringSubmatch(line); m != nil {
				ex.InvoiceNumber = strings.TrimRight(m[1], ".-/")
			}
		}
		if ex.InvoiceDate.IsZero() && reInvoiceDate.MatchString(line) {
			ex.InvoiceDate = firstDate(line, lines, i)
		}
		if !ex.HasAmount {
			if m := reTotal.FindStringSubmatch(line); m != nil {
				if d, ok := ParseAmount(m[1]); ok {
					ex.Amount, ex.HasAmount = d, true
					if c := reCurrency.FindString(line); c != "" {
						ex.Currency = c
					}
				}
			}
		}
		if ex.BillToName == "" {
			if m := reBillTo.FindStringSubmatch(line); m != nil {
				ex.BillToName = strings.TrimSpace(m[1])
				if ex.BillToName == "" && i+1 < len(lines) {
					ex.BillToName = strings.TrimSpace(lines[i+1])
				}
			}
		}
		if ex.PaymentMethod == "" {
			for _, pm := range paymentMethods {
				if pm.re.MatchString(line) {
					ex.PaymentMethod = pm.code
					break
				}
			}
		}
		for _, m := range reVAT.FindAllStringSubmatch(line, -1) {
			ex.VATIDs = appendUnique(ex.VATIDs, textnorm.Compact(m[1]))
		}
		for _, m := range reGL.FindAllStringSubmatch(line, -1) {
			ex.GLAccounts = appendUnique(ex.GLAccounts, m[1])
		}
	}
	if ex.Currency == "" {
		for _, line := range lines {
			if c := reCurrency.FindString(line); c != "" {
				ex.Currency = c
				break
			}
		}
	}

	ex.VendorName, ex.VendorAddress = header(lines)
	ex.Banking = ExtractBanking(lines)
	return ex
}

// header takes the first non-blank line as the issuer name and the next few
// lines, up to the first labelled field, as its address.
func header(lines []string) (string, string) {
	var name string
	var addr []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if name == "" {
			name = line
			continue
		}
		if strings.Contains(line, ":") || reInvoiceNumber.MatchString(line) || len(addr) == 3 {
			break
		}
		addr = append(addr, line)
	}
	return name, strings.Join(addr, ", ")
}

// ExtractBanking reads bank records from lines. Each IBAN or account number
// starts a record; SWIFT and holder lines attach to the current one.
func ExtractBanking(lines []string) []domain.BankAccount {
	var out []domain.BankAccount
	var cur *domain.BankAccount
	flush := func() {
		if cur != nil && (cur.AccountNumber != "" || cur.IBAN != "") {
			out = append(out, *cur)
		}
		cur = nil
	}
	for _, line := range lines {
		iban := ""
		if m := reIBAN.FindStringSubmatch(strings.ToUpper(line)); m != nil {
			iban = textnorm.Compact(m[1])
		}
		acct := ""
		if m := reAccount.FindStringSubmatch(line); m != nil {
			acct = textnorm.Digits(m[1])
		}
		if iban != "" || acct != "" {
			if cur != nil && ((iban != "" && cur.IBAN != "") || (acct != "" && cur.AccountNumber != "")) {
				flush()
			}
			if cur == nil {
				cur = &domain.BankAccount{}
			}
			if iban != "" {
				cur.IBAN = strings.ToUpper(iban)
			}
			if acct != "" {
				cur.AccountNumber = acct
			}
		}
		if m := reSWIFT.FindStringSubmatch(line); m != nil {
			if cur == nil {
				cur = &domain.BankAccount{}
			}
			cur.SWIFT = strings.ToUpper(m[1])
		}
		if m := reHolder.FindStringSubmatch(line); m != nil && cur != nil {
			cur.Holder = strings.TrimSpace(m[1])
		}
	}
	flush()
	return out
}

// receiptDate finds a date on a receipt stamp line. With anyDate, the first
// date of the document is used when no stamp is found.
func receiptDate(lines []string, anyDate bool) time.Time {
	for i, line := range lines {
		if reReceipt.MatchString(line) {
			if t := firstDate(line, lines, i); !t.IsZero() {
				return t
			}
		}
	}
	if anyDate {
		for _, line := range lines {
			if found := dates.Find(line); len(found) > 0 {
				return found[0]
			}
		}
	}
	return time.Time{}
}

// firstDate returns the first date on line i, or on the following line when
// the label stands alone.
func firstDate(line string, lines []string, i int) time.Time {
	if found := dates.Find(line); len(found) > 0 {
		return found[0]
	}
	if i+1 < len(lines) {
		if found := dates.Find(lines[i+1]); len(found) > 0 {
			return found[0]
		}
	}
	return time.Time{}
}

// ParseAmount reads a money amount in either "1,234.56" or "1.234,56"
// notation.
func ParseAmount(s string) (decimal.Decimal, bool) {
	s = strings.NewReplacer(" ", "", "'", "").Replace(strings.TrimSpace(s))
	if s == "" {
		return decimal.Zero, false
	}
	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")
	switch {
	case lastComma > lastDot:
		// Comma is the decimal mark when two digits or fewer follow it.
		if len(s)-lastComma-1 <= 2 {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	default:
		s = strings.ReplaceAll(s, ",", "")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func appendUnique(list []string, v string) []string {
	if v == "" {
		return list
	}
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}
