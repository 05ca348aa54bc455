package documents

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// TextLayerEngine reads the embedded text layer of a PDF. It is the default
// engine when no OCR service is configured and is safe for concurrent use.
type TextLayerEngine struct{}

// Recognize implements Engine.
func (TextLayerEngine) Recognize(ctx context.Context, path string, maxPages int) (pages []Page, err error) {
	if !strings.EqualFold(filepath.Ext(path), ".pdf") {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, filepath.Base(path))
	}

	f, r, err := pdf.Open(path)
	if err != nil {
		if encrypted(err) {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), ErrPasswordRequired)
		}
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	// The parser panics on some malformed content streams.
	defer func() {
		if rec := recover(); rec != nil {
			pages = nil
			err = fmt.Errorf("read pdf %s: %v", filepath.Base(path), rec)
		}
	}()

	n := r.NumPage()
	if maxPages > 0 && maxPages < n {
		n = maxPages
	}
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		rows, err := page.GetTextByRow()
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		var lines []string
		for _, row := range rows {
			words := make([]string, 0, len(row.Content))
			for _, word := range row.Content {
				words = append(words, word.S)
			}
			if line := strings.TrimSpace(strings.Join(words, " ")); line != "" {
				lines = append(lines, line)
			}
		}
		pages = append(pages, Page{Number: i, Lines: lines, Marks: ParseMarks(lines)})
	}
	return pages, nil
}

func encrypted(err error) bool {
	return errors.Is(err, pdf.ErrInvalidPassword) || strings.Contains(strings.ToLower(err.Error()), "encrypt")
}

// IsPDF reports whether a file starts with the PDF magic bytes.
func IsPDF(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	head := make([]byte, 5)
	n, _ := f.Read(head)
	return string(head[:n]) == "%PDF-"
}

var (
	checkedPrefixes   = []string{"☑", "☒", "■", "●", "◉", "[x]", "[X]", "(x)", "(X)", "(•)", "(*)"}
	uncheckedPrefixes = []string{"☐", "□", "○", "◯", "[ ]", "( )", "[]", "()"}
)

// ParseMarks finds checkbox and radio lines ("☑ Paid", "[ ] Credit") and
// maps each label to whether it is ticked.
func ParseMarks(lines []string) map[string]bool {
	var marks map[string]bool
	set := func(label string, v bool) {
		label = strings.TrimSpace(label)
		if label == "" {
			return
		}
		if marks == nil {
			marks = make(map[string]bool)
		}
		marks[label] = v
	}
	for _, line := range lines {
		line = strings.TrimSpace(line)
		matched := false
		for _, p := range checkedPrefixes {
			if strings.HasPrefix(line, p) {
				set(line[len(p):], true)
				matched = true
				break
			}
		}
		if matched {
			continue
		}
		for _, p := range uncheckedPrefixes {
			if strings.HasPrefix(line, p) {
				set(line[len(p):], false)
				break
			}
		}
	}
	return marks
}
