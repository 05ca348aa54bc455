// Package verification checks the parameters of posted AP invoices against
// their supporting documents. Every parameter walks a region layer, a global
// doc-type layer and finally a standard comparator.
package verification

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/frame"
)

// Parameters verified for every invoice, in output order.
const (
	ParamInvoiceNumber     = "Invoice-Number"
	ParamInvoiceDate       = "Invoice-Date"
	ParamReceiptDate       = "Invoice-Receipt-Date"
	ParamInvoiceAmount     = "Invoice-Amount"
	ParamCurrency          = "Currency"
	ParamVendorNameAddress = "Vendor-Name-and-Remit-To-Address"
	ParamBillTo            = "Bill-To-Legal-Entity"
	ParamPaymentMethod     = "Payment-Method"
	ParamGLAccount         = "GL-Account-Number"
	ParamBanking           = "Vendor-Banking-Details"
)

// Parameters lists every verified parameter.
var Parameters = []string{
	ParamInvoiceNumber,
	ParamInvoiceDate,
	ParamReceiptDate,
	ParamInvoiceAmount,
	ParamCurrency,
	ParamVendorNameAddress,
	ParamBillTo,
	ParamPaymentMethod,
	ParamGLAccount,
	ParamBanking,
}

// Regions.
const (
	RegionNAA   = "NAA"
	RegionEMEAI = "EMEAI"
	RegionAPAC  = "APAC"
	RegionLATAM = "LATAM"
)

// Invoice is the SAP side of one posted invoice.
type Invoice struct {
	TransactionID string
	AccountDocID  string
	CompanyCode   string
	Region        string
	Country       string
	DocType       string
	DPDocType     string
	Tcode         string
	PONumber      string
	VendorCode    string
	InvoiceNumber string
	InvoiceDate   time.Time
	ReceiptDate   time.Time
	Amount        decimal.Decimal
	HasAmount     bool
	Currency      string
	PaymentMethod string
	GLAccounts    []string
	VIMComments   string
}

// InvoiceFromFrame reads row i of an AP batch.
func InvoiceFromFrame(f *frame.Frame, i int) *Invoice {
	inv := &Invoice{
		TransactionID: f.Str(domain.ColTransactionID, i),
		AccountDocID:  f.Str(domain.ColAccountDocID, i),
		CompanyCode:   f.Str(domain.ColCompanyCode, i),
		Region:        strings.ToUpper(f.Str(domain.ColRegion, i)),
		Country:       strings.ToUpper(f.Str(domain.ColCountry, i)),
		DocType:       strings.ToUpper(f.Str(domain.ColDocType, i)),
		DPDocType:     strings.ToUpper(f.Str(domain.ColDPDocType, i)),
		Tcode:         strings.ToUpper(f.Str(domain.ColTcode, i)),
		PONumber:      f.Str(domain.ColPONumber, i),
		VendorCode:    f.Str(domain.ColSupplierID, i),
		InvoiceNumber: f.Str(domain.ColInvoiceNumber, i),
		Currency:      strings.ToUpper(f.Str(domain.ColCurrency, i)),
		PaymentMethod: strings.ToUpper(f.Str(domain.ColPaymentMethod, i)),
		VIMComments:   f.Str(domain.ColVIMComments, i),
	}
	if inv.VendorCode == "" {
		inv.VendorCode = f.Str(domain.ColVendorID, i)
	}
	inv.InvoiceDate, _ = f.Time(domain.ColInvoiceDate, i)
	inv.ReceiptDate, _ = f.Time(domain.ColReceiptDate, i)
	inv.Amount, inv.HasAmount = f.Decimal(domain.ColInvoiceAmount, i)
	if !inv.HasAmount {
		inv.Amount, inv.HasAmount = f.Decimal(domain.ColAmount, i)
	}
	inv.GLAccounts = strings.FieldsFunc(f.Str(domain.ColGLAccounts, i), func(r rune) bool {
		return r == ',' || r == ';' || r == ' '
	})
	if len(inv.GLAccounts) == 0 {
		if acct := f.Str(domain.ColAccountCode, i); acct != "" {
			inv.GLAccounts = []string{acct}
		}
	}
	return inv
}

// DocumentNumber is the number used in artifact file names.
func (inv *Invoice) DocumentNumber() string {
	return inv.AccountDocID
}

// ShadowPO reports whether the invoice was posted against a shadow purchase
// order.
func (inv *Invoice) ShadowPO() bool {
	po := strings.TrimSpace(inv.PONumber)
	return inv.Tcode == "ME23N" || strings.HasPrefix(po, "414") || strings.HasPrefix(po, "5")
}

// Extraction is what was read from the supporting documents. Zero values
// mean "not found".
type Extraction struct {
	InvoiceNumber string
	InvoiceDate   time.Time

	// Receipt dates by source.
	CertificateReceiptDate time.Time
	VoucherReceiptDate     time.Time
	EmailSentDate          time.Time
	InvoiceReceiptDate     time.Time

	Amount        decimal.Decimal
	HasAmount     bool
	Currency      string
	VendorName    string
	VendorAddress string
	BillToName    string
	PaymentMethod string
	GLAccounts    []string
	Banking       []domain.BankAccount
	VATIDs        []string

	// Lines is the invoice text the comparators search when a field was not
	// isolated.
	Lines []string
}
