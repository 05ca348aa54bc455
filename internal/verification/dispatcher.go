package verification

import (
	"context"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/documents"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Case is everything a validator sees for one invoice.
type Case struct {
	Invoice     *Invoice
	Attachments *documents.Attachments
	Extraction  *Extraction
	Master      *domain.MasterData
}

// Vendor returns the invoice's vendor master record, or nil.
func (c *Case) Vendor() *domain.Vendor {
	return c.Master.Vendor(c.Invoice.VendorCode)
}

// Company returns the invoice's company, or nil.
func (c *Case) Company() *domain.Company {
	return c.Master.Company(c.Invoice.CompanyCode)
}

// Country is the company's country, falling back to the row's COUNTRY.
func (c *Case) Country() string {
	if co := c.Company(); co != nil && co.Country != "" {
		return co.Country
	}
	return c.Invoice.Country
}

// HasInvoice reports whether a real invoice copy is attached.
func (c *Case) HasInvoice() bool {
	return c.Attachments != nil && c.Attachments.HasInvoice()
}

// Layer decides a parameter or defers to the next layer by returning false.
type Layer func(param string, c *Case) (domain.ParameterResult, bool)

// Validator is the standard comparator of one parameter.
type Validator func(c *Case) domain.ParameterResult

// Dispatcher walks region, global and standard layers for every parameter.
type Dispatcher struct {
	regions    map[string]Layer
	global     Layer
	standard   map[string]Validator
	parameters []string
	extractor  Extractor
	master     *domain.MasterData
	now        func() time.Time
}

// NewDispatcher creates a dispatcher with the built-in layers.
func NewDispatcher(master *domain.MasterData, extractor Extractor) *Dispatcher {
	if extractor == nil {
		extractor = LineExtractor{}
	}
	if master == nil {
		master = &domain.MasterData{}
	}
	return &Dispatcher{
		regions: map[string]Layer{
			RegionNAA:   naaLayer,
			RegionEMEAI: emeaiLayer,
			RegionAPAC:  apacLayer,
			RegionLATAM: latamLayer,
		},
		global:     globalLayer,
		standard:   standardValidators(),
		parameters: Parameters,
		extractor:  extractor,
		master:     master,
		now:        time.Now,
	}
}

// Verify checks every parameter of one invoice. It never fails: a validator
// that panics yields a null result for its parameter.
func (d *Dispatcher) Verify(ctx context.Context, inv *Invoice, att *documents.Attachments) *domain.InvoiceVerification {
	if att == nil {
		att = &documents.Attachments{}
	}
	c := &Case{
		Invoice:     inv,
		Attachments: att,
		Extraction:  d.extract(inv, att),
		Master:      d.master,
	}

	out := &domain.InvoiceVerification{
		TransactionID: inv.TransactionID,
		AccountDocID:  inv.AccountDocID,
		Region:        inv.Region,
		DocType:       inv.DocType,
		DPDocType:     inv.DPDocType,
		Results:       make([]domain.ParameterResult, 0, len(d.parameters)),
		VerifiedAt:    d.now().UTC(),
	}
	for _, p := range d.parameters {
		if ctx.Err() != nil {
			out.Results = append(out.Results, Null(p))
			continue
		}
		out.Results = append(out.Results, d.verifyParameter(p, c))
	}

	slog.Debug("invoice verified",
		"transaction_id", inv.TransactionID,
		"account_doc_id", inv.AccountDocID,
		"region", inv.Region,
		"anomalies", out.Anomalies(),
	)
	return out
}

func (d *Dispatcher) extract(inv *Invoice, att *documents.Attachments) (ex *Extraction) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("extraction failed", "account_doc_id", inv.AccountDocID, "error", r)
			ex = &Extraction{}
		}
	}()
	ex = d.extractor.Extract(inv, att)
	if ex == nil {
		ex = &Extraction{}
	}
	return ex
}

// verifyParameter runs the layers for one parameter.
func (d *Dispatcher) verifyParameter(param string, c *Case) (res domain.ParameterResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("validator failed",
				"parameter", param,
				"account_doc_id", c.Invoice.AccountDocID,
				"error", r,
			)
			res = Null(param)
		}
	}()

	if layer, ok := d.regions[c.Invoice.Region]; ok {
		if r, done := layer(param, c); done {
			return withParameter(r, param)
		}
	}
	if r, done := d.global(param, c); done {
		return withParameter(r, param)
	}
	if v, ok := d.standard[param]; ok {
		return withParameter(v(c), param)
	}
	return Manual(param, nil, "No validator for parameter")
}

func withParameter(r domain.ParameterResult, param string) domain.ParameterResult {
	r.Parameter = param
	return r
}
