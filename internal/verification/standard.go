package verification

import (
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/dates"
	"github.com/opensource-finance/kestrel/internal/domain"
)

func standardValidators() map[string]Validator {
	return map[string]Validator{
		ParamInvoiceNumber:     invoiceNumber,
		ParamInvoiceDate:       invoiceDate,
		ParamReceiptDate:       receiptDateResult,
		ParamInvoiceAmount:     invoiceAmount,
		ParamCurrency:          currency,
		ParamVendorNameAddress: func(c *Case) domain.ParameterResult { return vendorNameAddress(c, true) },
		ParamBillTo:            func(c *Case) domain.ParameterResult { return billTo(c, false) },
		ParamPaymentMethod:     paymentMethod,
		ParamGLAccount:         glAccount,
		ParamBanking:           banking,
	}
}

func invoiceNumber(c *Case) domain.ParameterResult {
	ex := c.Extraction.InvoiceNumber
	if ex == "" {
		return NotExtracted(ParamInvoiceNumber, c.Invoice.InvoiceNumber)
	}
	if InvoiceNumberEqual(ex, c.Invoice.InvoiceNumber) {
		return Automated(ParamInvoiceNumber, ex, false, "Invoice number matches", nil)
	}
	return Automated(ParamInvoiceNumber, ex, true, "Invoice number differs from SAP", map[string]any{"sap_value": c.Invoice.InvoiceNumber})
}

func invoiceDate(c *Case) domain.ParameterResult {
	if c.Extraction.InvoiceDate.IsZero() {
		return NotExtracted(ParamInvoiceDate, isoDay(c.Invoice.InvoiceDate))
	}
	return compareDay(ParamInvoiceDate, c.Extraction.InvoiceDate, c.Invoice.InvoiceDate, "invoice")
}

// compareDay decides a date parameter at day granularity.
func compareDay(param string, extracted, sap time.Time, source string) domain.ParameterResult {
	extra := map[string]any{"source": source, "sap_value": isoDay(sap)}
	if sap.IsZero() {
		return Combined(param, isoDay(extracted), nil, "SAP date missing", extra)
	}
	if dates.DayEqual(extracted, sap) {
		return Automated(param, isoDay(extracted), false, "Date matches SAP", extra)
	}
	return Automated(param, isoDay(extracted), true, "Date differs from SAP", extra)
}

// SelectReceiptDate picks the receipt date by source precedence: payment
// certificate, voucher, earliest email, invoice stamp, then the invoice
// date. The older of the selection and the invoice date wins.
func SelectReceiptDate(inv *Invoice, ex *Extraction) (time.Time, string) {
	invDate := ex.InvoiceDate
	if invDate.IsZero() {
		invDate = inv.InvoiceDate
	}
	candidates := []struct {
		t      time.Time
		source string
	}{
		{ex.CertificateReceiptDate, "payment_certificate"},
		{ex.VoucherReceiptDate, "voucher"},
		{ex.EmailSentDate, "email"},
		{ex.InvoiceReceiptDate, "invoice"},
	}
	for _, cand := range candidates {
		if cand.t.IsZero() {
			continue
		}
		if !invDate.IsZero() && dates.Day(invDate).Before(dates.Day(cand.t)) {
			return invDate, "invoice_date"
		}
		return cand.t, cand.source
	}
	if !invDate.IsZero() {
		return invDate, "invoice_date"
	}
	return time.Time{}, ""
}

func receiptDateResult(c *Case) domain.ParameterResult {
	t, source := SelectReceiptDate(c.Invoice, c.Extraction)
	if t.IsZero() {
		return NotExtracted(ParamReceiptDate, isoDay(c.Invoice.ReceiptDate))
	}
	return compareDay(ParamReceiptDate, t, c.Invoice.ReceiptDate, source)
}

func invoiceAmount(c *Case) domain.ParameterResult {
	ex := c.Extraction
	if !ex.HasAmount {
		return NotExtracted(ParamInvoiceAmount, sapValue(ParamInvoiceAmount, c.Invoice, c))
	}
	value := ex.Amount.StringFixed(2)
	if !c.Invoice.HasAmount {
		return Combined(ParamInvoiceAmount, value, nil, "SAP amount missing", nil)
	}
	extra := map[string]any{"sap_value": c.Invoice.Amount.StringFixed(2)}
	if AmountEqual(ex.Amount.Abs(), c.Invoice.Amount.Abs()) {
		return Automated(ParamInvoiceAmount, value, false, "Amount matches", extra)
	}
	return Automated(ParamInvoiceAmount, value, true, "Amount differs from SAP", extra)
}

func currency(c *Case) domain.ParameterResult {
	ex := c.Extraction.Currency
	if ex == "" {
		return NotExtracted(ParamCurrency, c.Invoice.Currency)
	}
	if c.Invoice.Currency == "" {
		return Combined(ParamCurrency, ex, nil, "SAP currency missing", nil)
	}
	if strings.EqualFold(ex, c.Invoice.Currency) {
		return Automated(ParamCurrency, ex, false, "Currency matches", nil)
	}
	return Automated(ParamCurrency, ex, true, "Currency differs from SAP", map[string]any{"sap_value": c.Invoice.Currency})
}

// vendorNameAddress compares the vendor name and, when withAddress is set,
// the remit-to address.
func vendorNameAddress(c *Case, withAddress bool) domain.ParameterResult {
	v := c.Vendor()
	if v == nil {
		return Manual(ParamVendorNameAddress, nil, "Vendor not found in master data")
	}
	ex := c.Extraction
	if ex.VendorName == "" && len(ex.Lines) == 0 {
		return NotExtracted(ParamVendorNameAddress, v.Name)
	}

	name, score := ex.VendorName, NameScore(v.Name, ex.VendorName)
	if score < NameMatchThreshold {
		if line, s := BestNameLine(v.Name, ex.Lines); s > score {
			name, score = line, s
		}
	}
	nameOK := score >= NameMatchThreshold
	value := map[string]any{"name": name}
	extra := map[string]any{"name_score": score, "sap_name": v.Name}

	addrOK := true
	if withAddress && v.Address != "" {
		text := ex.VendorAddress + " " + strings.Join(ex.Lines, " ")
		share := AddressMatch(v.Address, text)
		addrOK = share >= AddressMatchThreshold
		value["address"] = ex.VendorAddress
		extra["address_match"] = share
		extra["sap_address"] = v.Address
	}

	switch {
	case nameOK && addrOK:
		return Automated(ParamVendorNameAddress, value, false, "Vendor name and address match", extra)
	case !nameOK:
		return Automated(ParamVendorNameAddress, value, true, "Vendor name differs from master", extra)
	default:
		return Automated(ParamVendorNameAddress, value, true, "Vendor address differs from master", extra)
	}
}

// billTo compares the bill-to party with the company's legal entity name and,
// when allowed, its approved variations.
func billTo(c *Case, variations bool) domain.ParameterResult {
	co := c.Company()
	if co == nil {
		return Manual(ParamBillTo, nil, "Company not found in master data")
	}
	names := []string{co.Name}
	if variations {
		names = append(names, co.Variations...)
	}
	ex := c.Extraction
	if ex.BillToName == "" && len(ex.Lines) == 0 {
		return NotExtracted(ParamBillTo, co.Name)
	}

	var best string
	var score float64
	for _, n := range names {
		if s := NameScore(n, ex.BillToName); ex.BillToName != "" && s > score {
			best, score = ex.BillToName, s
		}
		if score < NameMatchThreshold {
			if line, s := BestNameLine(n, ex.Lines); s > score {
				best, score = line, s
			}
		}
	}
	extra := map[string]any{"name_score": score, "sap_value": co.Name}
	if score >= NameMatchThreshold {
		return Automated(ParamBillTo, best, false, "Legal entity matches", extra)
	}
	if best == "" {
		best = ex.BillToName
	}
	return Automated(ParamBillTo, best, true, "Legal entity differs from company master", extra)
}

func paymentMethod(c *Case) domain.ParameterResult {
	ex := c.Extraction.PaymentMethod
	if ex == "" {
		return NotExtracted(ParamPaymentMethod, c.Invoice.PaymentMethod)
	}
	if c.Invoice.PaymentMethod == "" {
		return Combined(ParamPaymentMethod, ex, nil, "SAP payment method missing", nil)
	}
	if strings.EqualFold(ex, c.Invoice.PaymentMethod) {
		return Automated(ParamPaymentMethod, ex, false, "Payment method matches", nil)
	}
	return Automated(ParamPaymentMethod, ex, true, "Payment method differs from SAP", map[string]any{"sap_value": c.Invoice.PaymentMethod})
}

func glAccount(c *Case) domain.ParameterResult {
	ex := c.Extraction.GLAccounts
	if len(ex) == 0 {
		return NotExtracted(ParamGLAccount, c.Invoice.GLAccounts)
	}
	extra := map[string]any{"sap_value": c.Invoice.GLAccounts}
	if GLSetEqual(ex, c.Invoice.GLAccounts) {
		return Automated(ParamGLAccount, ex, false, "GL accounts match", extra)
	}
	return Automated(ParamGLAccount, ex, true, "GL accounts differ from SAP", extra)
}

func banking(c *Case) domain.ParameterResult {
	v := c.Vendor()
	if v == nil {
		return Manual(ParamBanking, nil, "Vendor not found in master data")
	}
	out := MatchBanking(c.Extraction.Banking, v.Banking)
	extra := map[string]any{"case": string(out.Case), "matched": len(out.Matched)}
	switch {
	case out.Case == BankingNoneExtracted:
		return Combined(ParamBanking, nil, nil, "No bank details found on invoice", extra)
	case !out.Decided:
		return Combined(ParamBanking, c.Extraction.Banking, boolPtr(out.Anomaly), "Several bank accounts need review", extra)
	case out.Anomaly:
		return Automated(ParamBanking, c.Extraction.Banking, true, "Bank details differ from vendor master", extra)
	default:
		return Automated(ParamBanking, c.Extraction.Banking, false, "Bank details match vendor master", extra)
	}
}
