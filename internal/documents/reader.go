package documents

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// MaxInvoiceCopies is how many invoice PDFs an attachment set keeps.
const MaxInvoiceCopies = 5

// Attachments is everything read from one invoice's artifacts.
type Attachments struct {
	// InvoiceLines holds the lines of up to five invoice copies.
	InvoiceLines            [][]string `json:"invoice_lines"`
	VoucherLines            []string   `json:"voucher_lines"`
	PaymentCertificateLines []string   `json:"payment_certificate_lines"`
	TicketLines             []string   `json:"ticket_lines"`
	RentalLines             []string   `json:"rental_lines"`
	BankStatementLines      []string   `json:"bank_statement_lines"`

	InvoiceFlag            bool `json:"invoice_flag"`
	VoucherFlag            bool `json:"voucher_flag"`
	PaymentCertificateFlag bool `json:"payment_certificate_flag"`
	TicketFlag             bool `json:"ticket_flag"`
	RentalFlag             bool `json:"rental_flag"`
	BankStatementFlag      bool `json:"bank_statement_flag"`

	// DummyInvoice is set when the only invoice copies are placeholders.
	DummyInvoice bool `json:"dummy_invoice"`

	InvoicePDFPath string `json:"invoice_pdf_path"`
	VoucherPDFPath string `json:"voucher_pdf_path"`

	ConfidentialDocuments bool            `json:"confidential_documents"`
	CheckboxRadioMappings map[string]bool `json:"checkbox_radio_mappings"`

	Emails           []*Email `json:"-"`
	SpreadsheetLines []string `json:"spreadsheet_lines,omitempty"`
	XMLLines         []string `json:"xml_lines,omitempty"`
}

// InvoiceCopy returns the lines of invoice copy n (1-based).
func (a *Attachments) InvoiceCopy(n int) []string {
	if n < 1 || n > len(a.InvoiceLines) {
		return nil
	}
	return a.InvoiceLines[n-1]
}

// AllInvoiceLines concatenates every invoice copy.
func (a *Attachments) AllInvoiceLines() []string {
	var out []string
	for _, l := range a.InvoiceLines {
		out = append(out, l...)
	}
	return out
}

// EarliestEmailSent returns the oldest "Sent" date across all emails.
func (a *Attachments) EarliestEmailSent() (time.Time, bool) {
	var best time.Time
	for _, e := range a.Emails {
		if t, ok := e.EarliestSent(); ok && (best.IsZero() || t.Before(best)) {
			best = t
		}
	}
	return best, !best.IsZero()
}

// HasInvoice reports whether a real invoice copy is attached.
func (a *Attachments) HasInvoice() bool {
	return a.InvoiceFlag && !a.DummyInvoice
}

// Reader turns an artifact directory into Attachments.
type Reader struct {
	engine Engine
}

// NewReader creates a reader using engine for PDFs.
func NewReader(engine Engine) *Reader {
	if engine == nil {
		engine = TextLayerEngine{}
	}
	return &Reader{engine: engine}
}

// Read finds and reads the artifacts of one invoice. A missing directory
// yields an empty set.
func (r *Reader) Read(ctx context.Context, dir, docNumber, companyCode string) (*Attachments, error) {
	paths, err := FindArtifacts(dir, docNumber, companyCode)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Attachments{}, nil
		}
		return nil, err
	}
	return r.ReadFiles(ctx, paths), nil
}

// ReadFiles reads the given artifacts. Unreadable files are logged and
// skipped; password-protected PDFs mark the set confidential.
func (r *Reader) ReadFiles(ctx context.Context, paths []string) *Attachments {
	a := &Attachments{}
	dummies := 0
	for _, path := range paths {
		if ctx.Err() != nil {
			break
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".pdf":
			if r.readPDF(ctx, a, path) {
				dummies++
			}
		case ".eml":
			e, err := ReadEmailFile(path)
			if err != nil {
				slog.Warn("email artifact skipped", "path", path, "error", err)
				continue
			}
			a.Emails = append(a.Emails, e)
		case ".xlsx", ".xlsm":
			lines, err := readFile(path, ReadSpreadsheet)
			if err != nil {
				slog.Warn("spreadsheet artifact skipped", "path", path, "error", err)
				continue
			}
			a.SpreadsheetLines = append(a.SpreadsheetLines, lines...)
		case ".xml":
			lines, err := readFile(path, ReadXML)
			if err != nil {
				slog.Warn("xml artifact skipped", "path", path, "error", err)
				continue
			}
			a.XMLLines = append(a.XMLLines, lines...)
		default:
			slog.Debug("artifact type not read", "path", path)
		}
	}
	a.DummyInvoice = a.InvoiceFlag && dummies > 0 && len(a.InvoiceLines) == 0
	return a
}

// readPDF classifies one PDF into a. It reports whether the PDF was a
// placeholder invoice.
func (r *Reader) readPDF(ctx context.Context, a *Attachments, path string) bool {
	pages, err := r.engine.Recognize(ctx, path, 0)
	if err != nil {
		if errors.Is(err, ErrPasswordRequired) {
			a.ConfidentialDocuments = true
			slog.Info("password protected document", "path", path)
			return false
		}
		slog.Warn("document recognition failed", "path", path, "error", err)
		return false
	}
	if len(pages) == 0 {
		return false
	}

	var lines []string
	for _, p := range pages {
		lines = append(lines, p.Lines...)
		marks := p.Marks
		if marks == nil {
			marks = ParseMarks(p.Lines)
		}
		for k, v := range marks {
			if a.CheckboxRadioMappings == nil {
				a.CheckboxRadioMappings = make(map[string]bool)
			}
			a.CheckboxRadioMappings[k] = v
		}
	}

	kind := Classify(pages[0].Lines)
	slog.Debug("document classified", "path", path, "kind", string(kind))
	switch kind {
	case KindVoucher:
		a.VoucherFlag = true
		a.VoucherLines = append(a.VoucherLines, lines...)
		if a.VoucherPDFPath == "" {
			a.VoucherPDFPath = path
		}
	case KindRental:
		a.RentalFlag = true
		a.RentalLines = append(a.RentalLines, lines...)
	case KindBankStatement:
		a.BankStatementFlag = true
		a.BankStatementLines = append(a.BankStatementLines, lines...)
	case KindPaymentCertificate:
		a.PaymentCertificateFlag = true
		a.PaymentCertificateLines = append(a.PaymentCertificateLines, lines...)
	case KindTicket:
		a.TicketFlag = true
		a.TicketLines = append(a.TicketLines, lines...)
	default:
		// Unclassified PDFs are read as invoices.
		a.InvoiceFlag = true
		if IsDummy(lines) {
			return true
		}
		if len(a.InvoiceLines) < MaxInvoiceCopies {
			a.InvoiceLines = append(a.InvoiceLines, lines)
			if a.InvoicePDFPath == "" {
				a.InvoicePDFPath = path
			}
		}
	}
	return false
}

func readFile(path string, read func(io.Reader) ([]string, error)) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return read(f)
}
