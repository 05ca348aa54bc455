package verification

import (
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/textnorm"
)

// Document types with special handling.
const (
	DocTypeKA = "KA"
	DocTypeKC = "KC"
	DocTypeKE = "KE"
	DocTypeKS = "KS"
)

// Document processing types.
const (
	DPNonPOReceipt = "NPO_RP_GLB"
	DPPOReceipt    = "PO_RP_GLB"
	DPNonPOEmail   = "NPO_EC_GLB"
	DPPOEmail      = "PO_EC_GLB"
	DPAriba        = "PO_AN_GLB"
)

var none = domain.ParameterResult{}

// globalLayer handles doc-type exceptions that apply in every region.
func globalLayer(param string, c *Case) (domain.ParameterResult, bool) {
	inv := c.Invoice
	if !c.HasInvoice() {
		switch {
		case inv.DPDocType == DPNonPOEmail || inv.DPDocType == DPPOEmail:
			return vimResult(param, c, false), true
		case inv.DocType == DocTypeKS && (inv.DPDocType == DPNonPOReceipt || inv.DPDocType == DPPOReceipt):
			return vimResult(param, c, false), true
		case inv.DocType == DocTypeKE && !c.Attachments.VoucherFlag:
			return Combined(param, nil, nil, "KE document without invoice or voucher", nil), true
		}
	}
	if param == ParamBanking && inv.DocType == DocTypeKS && inv.DPDocType == DPAriba &&
		c.HasInvoice() && len(c.Extraction.Banking) == 0 {
		return Combined(param, nil, boolPtr(true), "Ariba IDOC error: invoice copy carries no bank details", nil), true
	}
	return none, false
}

// vimResult looks for the SAP value in the VIM comments. When strict, a
// missing value is an anomaly; otherwise it needs review.
func vimResult(param string, c *Case, strict bool) domain.ParameterResult {
	needles := sapNeedles(param, c.Invoice, c)
	if len(needles) == 0 {
		return Combined(param, nil, nil, "No SAP value to look for in VIM comments", nil)
	}
	scan := VIMScan
	if param == ParamPaymentMethod || param == ParamCurrency {
		scan = VIMScanWords
	}
	if line, ok := scan(c.Invoice.VIMComments, needles...); ok {
		return Automated(param, sapValue(param, c.Invoice, c), false, "Value found in VIM comments", map[string]any{"vim_line": line})
	}
	if strict {
		return Automated(param, nil, true, "Value not found in VIM comments", nil)
	}
	return Combined(param, nil, nil, "Value not found in VIM comments", nil)
}

// naaLayer handles North America exceptions.
func naaLayer(param string, c *Case) (domain.ParameterResult, bool) {
	inv := c.Invoice
	if (inv.DocType == DocTypeKC || inv.DocType == DocTypeKA) && !c.HasInvoice() {
		return kcKaDoctypeCommonHandling(param, c), true
	}
	if inv.DocType == DocTypeKS && c.Attachments.DummyInvoice {
		return vimResult(param, c, true), true
	}
	if param == ParamReceiptDate && inv.ShadowPO() {
		if sent, ok := c.Attachments.EarliestEmailSent(); ok {
			return compareDay(param, sent, inv.ReceiptDate, "email"), true
		}
	}
	if param == ParamBillTo && c.HasInvoice() {
		if v := c.Vendor(); v != nil && strings.EqualFold(v.Country, "CA") {
			return billTo(c, true), true
		}
	}
	return none, false
}

// kcKaDoctypeCommonHandling skips credit-memo and clearing documents that
// came without an invoice copy.
func kcKaDoctypeCommonHandling(param string, c *Case) domain.ParameterResult {
	return Skipped(param, c.Invoice.DocType)
}

// emeaiLayer handles Europe, Middle East, Africa and India exceptions.
func emeaiLayer(param string, c *Case) (domain.ParameterResult, bool) {
	if !c.HasInvoice() {
		return none, false
	}
	switch param {
	case ParamVendorNameAddress:
		country := strings.ToUpper(c.Country())
		return vendorNameAddress(c, country == "FR" || country == "IN"), true
	case ParamBanking:
		if strings.TrimLeft(c.Invoice.CompanyCode, "0") == "1097" {
			return swissBanking(c), true
		}
	}
	return none, false
}

// swissBanking requires the IBAN to match before the other bank fields are
// compared.
func swissBanking(c *Case) domain.ParameterResult {
	v := c.Vendor()
	if v == nil {
		return Manual(ParamBanking, nil, "Vendor not found in master data")
	}
	var extracted []domain.BankAccount
	for _, b := range c.Extraction.Banking {
		if b.IBAN != "" {
			extracted = append(extracted, b)
		}
	}
	if len(extracted) == 0 {
		return Combined(ParamBanking, c.Extraction.Banking, nil, "IBAN not found on invoice", nil)
	}
	for _, e := range extracted {
		for _, m := range v.Banking {
			if ibanKey(m) == "" || ibanKey(e) != ibanKey(m) {
				continue
			}
			var mismatched []string
			if accountKey(e) != "" && accountKey(m) != "" && accountKey(e) != accountKey(m) {
				mismatched = append(mismatched, "account_number")
			}
			if e.SWIFT != "" && m.SWIFT != "" && !strings.EqualFold(e.SWIFT, m.SWIFT) {
				mismatched = append(mismatched, "swift")
			}
			if len(mismatched) > 0 {
				return Automated(ParamBanking, e, true, "IBAN matches but bank details differ", map[string]any{"mismatched": mismatched})
			}
			return Automated(ParamBanking, e, false, "IBAN and bank details match", nil)
		}
	}
	return Automated(ParamBanking, extracted, true, "IBAN does not match vendor master", nil)
}

// apacLayer handles Asia Pacific exceptions.
func apacLayer(param string, c *Case) (domain.ParameterResult, bool) {
	if param != ParamVendorNameAddress || !c.HasInvoice() {
		return none, false
	}
	country := c.Country()
	if v := c.Vendor(); v != nil && v.Country != "" {
		country = v.Country
	}
	country = strings.ToUpper(country)
	if country != "TW" && country != "KR" {
		return none, false
	}
	res := vendorNameAddress(c, true)
	if vat, ok := vatPresent(c); ok && res.Anomalous() {
		return Automated(ParamVendorNameAddress, res.ExtractedValue, false,
			"Vendor name difference accepted: VAT ID present on invoice", map[string]any{"vat_id": vat}), true
	}
	return res, true
}

// vatPresent reports whether the invoice shows the vendor's VAT ID, or any
// VAT ID when the master has none.
func vatPresent(c *Case) (string, bool) {
	if len(c.Extraction.VATIDs) == 0 {
		return "", false
	}
	v := c.Vendor()
	if v == nil || v.VATID == "" {
		return c.Extraction.VATIDs[0], true
	}
	want := textnorm.Compact(v.VATID)
	for _, id := range c.Extraction.VATIDs {
		if textnorm.Compact(id) == want || strings.HasSuffix(textnorm.Compact(id), want) {
			return id, true
		}
	}
	return "", false
}

// latamLayer has no regional exceptions.
func latamLayer(string, *Case) (domain.ParameterResult, bool) {
	return none, false
}
