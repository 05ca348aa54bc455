package domain

// Source columns of an ERP batch frame.
const (
	ColTransactionID    = "TRANSACTION_ID"
	ColAccountDocID     = "ACCOUNT_DOC_ID"
	ColDebitAmount      = "DEBIT_AMOUNT"
	ColCreditAmount     = "CREDIT_AMOUNT"
	ColAmount           = "AMOUNT"
	ColInvoiceAmount    = "INVOICE_AMOUNT"
	ColInvoiceDate      = "INVOICE_DATE"
	ColPostingDate      = "POSTING_DATE"
	ColEnteredDate      = "ENTERED_DATE"
	ColEnteredTime      = "ENTERED_TIME"
	ColDueDate          = "DUE_DATE"
	ColPaymentDate      = "PAYMENT_DATE"
	ColGRNDate          = "GRN_DATE"
	ColPODate           = "PURCHASE_ORDER_DATE"
	ColRequisitionDate  = "REQUISITION_DATE"
	ColTransportDate    = "TRANSPORTATION_DATE"
	ColDocType          = "DOC_TYPE"
	ColDPDocType        = "DP_DOC_TYPE"
	ColInvoiceNumber    = "INVOICE_NUMBER"
	ColPONumber         = "PURCHASE_ORDER_NUMBER"
	ColGRNNumber        = "GRN_NUMBER"
	ColVendorID         = "VENDORID"
	ColSupplierID       = "SUPPLIER_ID"
	ColCompanyCode      = "COMPANY_CODE"
	ColEnteredBy        = "ENTERED_BY"
	ColPostedBy         = "POSTED_BY"
	ColDescription      = "TRANSACTION_DESCRIPTION"
	ColAccountCode      = "ACCOUNT_CODE"
	ColRegion           = "REGION"
	ColIsReversed       = "IS_REVERSED"
	ColIsCurrentData    = "IS_CURRENT_DATA"
	ColDiscountPercent1 = "DISCOUNT_PERCENTAGE_1"
	ColDiscountPercent2 = "DISCOUNT_PERCENTAGE_2"
	ColDiscountPeriod1  = "DISCOUNT_PERIOD_1"
	ColDiscountPeriod2  = "DISCOUNT_PERIOD_2"
	ColDiscountTaken    = "DISCOUNT_TAKEN"
	ColDueDays          = "DUE_DAYS"
	ColPaymentTerms     = "PAYMENT_TERMS"
	ColPaymentBlock     = "PAYMENT_BLOCK_STATUS"
	ColInvoiceQuantity  = "INVOICE_QUANTITY"
	ColPOQuantity       = "PO_QUANTITY"
	ColInvoicePrice     = "INVOICE_PRICE"
	ColPOPrice          = "PO_PRICE"
	ColCurrency         = "CURRENCY"
)

// Derived columns written by the preparation layer.
const (
	ColEntryType          = "ENTRY_TYPE"
	ColPaymentInvoiceDiff = "PAYMENT_INVOICE_DIFFERENCE"
	ColDuePaymentDiff     = "DUE_PAYMENT_DIFFERENCE"
	ColUnpaidDays         = "UNPAID_DAYS"
	ColMaxDiscountPercent = "MAX_DISCOUNT_PERCENT"
	ColMaxDiscountPeriod  = "MAX_DISCOUNT_PERIOD"
	ColStripInvoice       = "STRIP_INVOICE"
	ColInvoiceQuarter     = "INVOICE_QUARTER"
	ColPostingQuarter     = "SYSTEM_POSTING_QUARTER"
	ColSameQuarter        = "SAME_QUARTER"
	ColPostingEnteredDiff = "POSTING_ENTERED_DIFFERENCE"
)

// Score and duplicate output columns.
const (
	ColRiskScoreRaw     = "RULES_RISK_SCORE_RAW"
	ColRiskScore        = "RULES_RISK_SCORE"
	ColControlDeviation = "CONTROL_DEVIATION"
	ColDuplicateID      = "DUPLICATE_ID"
	ColScenarioID       = "SCENARIO_ID"
	ColNoOfDuplicates   = "NO_OF_DUPLICATES"
	ColDuplicateRisk    = "DUPLICATE_RISK_SCORE"
)

// Entry types derived from DOC_TYPE.
const (
	EntryInvoice   = "INV"
	EntryDebitMemo = "DM"
)

// Module identifies the ledger a batch belongs to.
type Module string

const (
	ModuleAP Module = "AP"
	ModuleGL Module = "GL"
)

// Valid reports whether m is a known module.
func (m Module) Valid() bool {
	return m == ModuleAP || m == ModuleGL
}

// Invoice verification columns of an AP batch.
const (
	ColReceiptDate   = "INVOICE_RECEIPT_DATE"
	ColVIMComments   = "VIM_COMMENTS"
	ColTcode         = "TCODE"
	ColPaymentMethod = "PAYMENT_METHOD"
	ColGLAccounts    = "GL_ACCOUNTS"
	ColCountry       = "COUNTRY"
)
