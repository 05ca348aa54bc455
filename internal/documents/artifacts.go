package documents

import (
	"bufio"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/opensource-finance/kestrel/internal/dates"
)

// ArtifactPrefix returns the file name prefix of an invoice's artifacts:
// SAPS4_<document number>_<company code padded to 4>_.
func ArtifactPrefix(docNumber, companyCode string) string {
	cc := strings.TrimSpace(companyCode)
	if len(cc) < 4 {
		cc = strings.Repeat("0", 4-len(cc)) + cc
	}
	return fmt.Sprintf("SAPS4_%s_%s_", strings.TrimSpace(docNumber), cc)
}

// FindArtifacts lists the files in dir that belong to an invoice, sorted by
// name.
func FindArtifacts(dir, docNumber, companyCode string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read artifact dir: %w", err)
	}
	prefix := strings.ToUpper(ArtifactPrefix(docNumber, companyCode))
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasPrefix(strings.ToUpper(e.Name()), prefix) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// Email is a parsed .eml artifact.
type Email struct {
	Subject string
	Date    time.Time

	// Sent holds every "Sent:" date of the thread, including quoted replies.
	Sent  []time.Time
	Lines []string
}

// EarliestSent returns the oldest send date in the thread.
func (e *Email) EarliestSent() (time.Time, bool) {
	var best time.Time
	for _, t := range append([]time.Time{e.Date}, e.Sent...) {
		if t.IsZero() {
			continue
		}
		if best.IsZero() || t.Before(best) {
			best = t
		}
	}
	return best, !best.IsZero()
}

var sentLine = regexp.MustCompile(`(?i)^\s*(sent|date|gesendet|envoy[ée]|enviado)\s*:\s*(.+)$`)

// ParseEmail reads an RFC 5322 message and its plain-text body.
func ParseEmail(r io.Reader) (*Email, error) {
	msg, err := mail.ReadMessage(r)
	if err != nil {
		return nil, fmt.Errorf("parse email: %w", err)
	}
	e := &Email{Subject: msg.Header.Get("Subject")}
	if d, err := msg.Header.Date(); err == nil {
		e.Date = d
	}

	body, err := plainBody(msg.Header, msg.Body)
	if err != nil {
		return nil, err
	}
	sc := bufio.NewScanner(strings.NewReader(body))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		e.Lines = append(e.Lines, line)
		if m := sentLine.FindStringSubmatch(line); m != nil {
			if t, err := dates.Parse(m[2]); err == nil {
				e.Sent = append(e.Sent, t)
			} else if found := dates.Find(m[2]); len(found) > 0 {
				e.Sent = append(e.Sent, found[0])
			}
		}
	}
	return e, sc.Err()
}

// plainBody returns the first text/plain part of a message.
func plainBody(h mail.Header, body io.Reader) (string, error) {
	mediaType, params, err := mime.ParseMediaType(h.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		b, err := io.ReadAll(body)
		if err != nil {
			return "", fmt.Errorf("read email body: %w", err)
		}
		return string(b), nil
	}

	mr := multipart.NewReader(body, params["boundary"])
	var fallback string
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read email part: %w", err)
		}
		b, err := io.ReadAll(part)
		if err != nil {
			return "", fmt.Errorf("read email part: %w", err)
		}
		ct := part.Header.Get("Content-Type")
		if strings.HasPrefix(ct, "text/plain") || ct == "" {
			return string(b), nil
		}
		if fallback == "" && strings.HasPrefix(ct, "text/") {
			fallback = stripTags(string(b))
		}
	}
	return fallback, nil
}

var tags = regexp.MustCompile(`<[^>]*>`)

func stripTags(s string) string {
	return tags.ReplaceAllString(s, "\n")
}

// ReadEmailFile parses an .eml file.
func ReadEmailFile(path string) (*Email, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open email: %w", err)
	}
	defer f.Close()
	return ParseEmail(f)
}

// ReadSpreadsheet flattens every sheet of a workbook into lines, one per
// non-empty row with cells separated by spaces.
func ReadSpreadsheet(r io.Reader) ([]string, error) {
	wb, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer wb.Close()

	var lines []string
	for _, sheet := range wb.GetSheetList() {
		rows, err := wb.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
		}
		for _, row := range rows {
			var cells []string
			for _, c := range row {
				if c = strings.TrimSpace(c); c != "" {
					cells = append(cells, c)
				}
			}
			if len(cells) > 0 {
				lines = append(lines, strings.Join(cells, " "))
			}
		}
	}
	return lines, nil
}

// ReadXML returns the character data of an XML document, one line per
// element with text.
func ReadXML(r io.Reader) ([]string, error) {
	dec := xml.NewDecoder(r)
	var lines []string
	var current string
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return lines, fmt.Errorf("parse xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			current = t.Name.Local
		case xml.CharData:
			if s := strings.TrimSpace(string(t)); s != "" {
				lines = append(lines, current+": "+s)
			}
		}
	}
	return lines, nil
}
