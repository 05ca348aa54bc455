package rules

import (
	"context"
	"errors"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/frame"
)

// Common errors
var (
	ErrUnknownRule = errors.New("unknown rule")
	ErrUnavailable = errors.New("external source unavailable")
)

// Predicate computes a rule's 0/1 column over the whole frame.
type Predicate func(c *Context) ([]int, error)

// Rule is one registered control.
type Rule struct {
	Name   string
	Module domain.Module

	// NullSignal lists required columns whose nullness is what the rule
	// detects. They are exempt from null masking.
	NullSignal []string

	DefaultWeight float64
	Predicate     Predicate
}

// ApprovalSource returns per-ACCOUNT_DOC_ID approval-matrix flags for an audit.
type ApprovalSource interface {
	Process(ctx context.Context, auditID string) (map[string]int, error)
}

// Context is what a predicate sees.
type Context struct {
	Ctx      context.Context
	Frame    *frame.Frame
	Settings *Settings
	Master   *domain.MasterData
	Approval ApprovalSource
	AuditID  string
	Now      time.Time
}

// Len is the number of rows.
func (c *Context) Len() int { return c.Frame.Len() }

var apRules = []Rule{
	{Name: "LATE_PAYMENT", DefaultWeight: 6, Predicate: latePayment},
	{Name: "EARLY_PAYMENT", DefaultWeight: 4, Predicate: earlyPayment},
	{Name: "EARLY_POSTED_INVOICES", DefaultWeight: 5, Predicate: earlyPostedInvoices},
	{Name: "IMMEDIATE_PAYMENTS", DefaultWeight: 5, Predicate: immediatePayments},
	{Name: "LOST_DISCOUNT", DefaultWeight: 4, Predicate: lostDiscount},
	{Name: "UNFAVORABLE_PAYMENT_TERMS", DefaultWeight: 3, Predicate: unfavorablePaymentTerms},
	{Name: "OLD_UNPAID_INVOICE", DefaultWeight: 4, Predicate: oldUnpaidInvoice,
		NullSignal: []string{domain.ColPaymentDate}},
	{Name: "POSTS_WEEKEND", DefaultWeight: 3, Predicate: postsWeekend},
	{Name: "POSTS_NIGHT", DefaultWeight: 3, Predicate: postsNight},
	{Name: "POSTS_HOLIDAYS", DefaultWeight: 3, Predicate: postsHolidays},
	{Name: "ROUNDING_OFF", DefaultWeight: 2, Predicate: roundingOff},
	{Name: "BLANK_JE", DefaultWeight: 2, Predicate: blankJE,
		NullSignal: []string{domain.ColDescription}},
	{Name: "SUSPICIOUS_KEYWORDS", DefaultWeight: 5, Predicate: suspiciousKeywords},
	{Name: "DATE_SEQUENTIAL_MISMATCH", DefaultWeight: 3, Predicate: dateSequentialMismatch},
	{Name: "DUPLICATE_INVOICE_POSTING", DefaultWeight: 8, Predicate: duplicateInvoicePosting},
	{Name: "THREE_WAY_MATCHING", DefaultWeight: 6, Predicate: threeWayMatching,
		NullSignal: []string{
			domain.ColInvoiceNumber, domain.ColPONumber, domain.ColGRNNumber,
			domain.ColPODate, domain.ColGRNDate, domain.ColInvoiceDate,
		}},
	{Name: "NON_PO_INVOICE", DefaultWeight: 4, Predicate: nonPOInvoice,
		NullSignal: []string{domain.ColPONumber}},
	{Name: "INVOICES_WITHOUT_GRN", DefaultWeight: 4, Predicate: invoicesWithoutGRN,
		NullSignal: []string{domain.ColGRNNumber}},
	{Name: "INVOICE_PO_QUANTITY_MISMATCH", DefaultWeight: 5, Predicate: quantityMismatch},
	{Name: "INVOICE_PO_PRICE_MISMATCH", DefaultWeight: 5, Predicate: priceMismatch},
	{Name: "VENDOR_MASTER_CHANGES", DefaultWeight: 6, Predicate: vendorMasterChanges},
	{Name: "PAYMENT_BLOCK_R", DefaultWeight: 4, Predicate: paymentBlockR},
	{Name: "APPROVAL_MATRIX", DefaultWeight: 7, Predicate: approvalMatrix},
}

var glRules = []Rule{
	{Name: "POSTING_PERIOD", DefaultWeight: 4, Predicate: postingPeriod},
	{Name: "NEXT_QTR_POSTING", DefaultWeight: 5, Predicate: nextQuarterPosting},
	{Name: "POSTS_WEEKEND", DefaultWeight: 3, Predicate: postsWeekend},
	{Name: "POSTS_NIGHT", DefaultWeight: 3, Predicate: postsNight},
	{Name: "POSTS_HOLIDAYS", DefaultWeight: 3, Predicate: postsHolidays},
	{Name: "NON_BALANCED", DefaultWeight: 8, Predicate: nonBalanced,
		NullSignal: []string{domain.ColDebitAmount, domain.ColCreditAmount}},
	{Name: "ROUNDING_OFF", DefaultWeight: 2, Predicate: roundingOff},
	{Name: "BLANK_JE", DefaultWeight: 2, Predicate: blankJE,
		NullSignal: []string{domain.ColDescription}},
	{Name: "SUSPICIOUS_KEYWORDS", DefaultWeight: 5, Predicate: suspiciousKeywords},
	{Name: "SAME_USER_POSTING", DefaultWeight: 4, Predicate: sameUserPosting},
	{Name: "CASH_CONCENTRATION", DefaultWeight: 5, Predicate: cashRule("CASH_CONCENTRATION"),
		NullSignal: amountColumns},
	{Name: "CASH_DISBURSEMENT", DefaultWeight: 5, Predicate: cashRule("CASH_DISBURSEMENT"),
		NullSignal: amountColumns},
	{Name: "CASH_PAYROLL", DefaultWeight: 5, Predicate: cashRule("CASH_PAYROLL"),
		NullSignal: amountColumns},
	{Name: "CASH_LOCKBOX", DefaultWeight: 5, Predicate: cashRule("CASH_LOCKBOX"),
		NullSignal: amountColumns},
	{Name: "UNUSUAL_ACCOUNT_PAIRING", DefaultWeight: 6, Predicate: unusualAccountPairing,
		NullSignal: amountColumns},
	{Name: "UNUSUAL_ACCOUNTING_PATTERN", DefaultWeight: 6, Predicate: unusualAccountingPattern,
		NullSignal: amountColumns},
}

var amountColumns = []string{domain.ColDebitAmount, domain.ColCreditAmount}

func init() {
	for i := range apRules {
		apRules[i].Module = domain.ModuleAP
	}
	for i := range glRules {
		glRules[i].Module = domain.ModuleGL
	}
}

// Registry returns the rules of a module in evaluation order.
func Registry(module domain.Module) []Rule {
	src := apRules
	if module == domain.ModuleGL {
		src = glRules
	}
	out := make([]Rule, len(src))
	copy(out, src)
	return out
}

// Lookup finds a rule by name within a module.
func Lookup(module domain.Module, name string) (Rule, error) {
	for _, r := range Registry(module) {
		if r.Name == name {
			return r, nil
		}
	}
	return Rule{}, ErrUnknownRule
}

func (r Rule) exempt(col string) bool {
	for _, c := range r.NullSignal {
		if c == col {
			return true
		}
	}
	return false
}
