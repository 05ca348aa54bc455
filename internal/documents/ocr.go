// Package documents reads the supporting documents attached to an invoice:
// text extraction with a language-routed OCR model, classification of each
// PDF, and the email and spreadsheet artifacts stored next to them.
package documents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"unicode"

	"golang.org/x/text/language"
)

var (
	// ErrPasswordRequired is returned for encrypted PDFs.
	ErrPasswordRequired = errors.New("document is password protected")

	// ErrUnsupported is returned for files an engine cannot read.
	ErrUnsupported = errors.New("unsupported document")
)

// Page is the text of one document page, top to bottom.
type Page struct {
	Number int      `json:"number"`
	Lines  []string `json:"lines"`

	// Marks maps checkbox and radio labels to their state.
	Marks map[string]bool `json:"marks,omitempty"`
}

// Engine turns a document into page text.
type Engine interface {
	// Recognize returns up to maxPages pages; zero means all.
	Recognize(ctx context.Context, path string, maxPages int) ([]Page, error)
}

// Model names of the routing table.
const (
	ModelLatin      = "latin"
	ModelChinese    = "ch"
	ModelArabic     = "arabic"
	ModelKorean     = "korean"
	ModelCyrillic   = "cyrillic"
	ModelEastSlavic = "eslav"
	ModelDevanagari = "devanagari"
	ModelThai       = "th"
	ModelTamil      = "ta"
	ModelTelugu     = "te"
	ModelGreek      = "el"
)

// modelByBase is the fixed ISO 639 routing table.
var modelByBase = map[string]string{
	"zh": ModelChinese,
	"ja": ModelChinese,
	"ar": ModelArabic,
	"fa": ModelArabic,
	"ur": ModelArabic,
	"ug": ModelArabic,
	"ko": ModelKorean,
	"sr": ModelCyrillic,
	"bg": ModelCyrillic,
	"mk": ModelCyrillic,
	"mn": ModelCyrillic,
	"kk": ModelCyrillic,
	"ru": ModelEastSlavic,
	"uk": ModelEastSlavic,
	"be": ModelEastSlavic,
	"hi": ModelDevanagari,
	"mr": ModelDevanagari,
	"ne": ModelDevanagari,
	"sa": ModelDevanagari,
	"th": ModelThai,
	"ta": ModelTamil,
	"te": ModelTelugu,
	"el": ModelGreek,
}

// ModelFor maps a language tag to its OCR model. Unknown languages use the
// Latin model.
func ModelFor(tag language.Tag) string {
	base, _ := tag.Base()
	if m, ok := modelByBase[base.String()]; ok {
		return m
	}
	return ModelLatin
}

// scriptLanguages maps a dominant script to the language used for routing.
var scriptLanguages = []struct {
	table *unicode.RangeTable
	tag   language.Tag
}{
	{unicode.Hangul, language.Korean},
	{unicode.Han, language.Chinese},
	{unicode.Arabic, language.Arabic},
	{unicode.Cyrillic, language.Russian},
	{unicode.Devanagari, language.Hindi},
	{unicode.Thai, language.Thai},
	{unicode.Tamil, language.Tamil},
	{unicode.Telugu, language.Telugu},
	{unicode.Greek, language.Greek},
}

// South Slavic letters that never occur in Russian, Ukrainian or Belarusian.
const southSlavic = "ђјљњћџѓќѕЂЈЉЊЋЏЃЌЅ"

// DetectLanguage picks a language from the dominant non-Latin script of the
// lines. Text with no such script is English.
func DetectLanguage(lines []string) language.Tag {
	counts := make([]int, len(scriptLanguages))
	latin, south := 0, 0
	for _, line := range lines {
		for _, r := range line {
			if !unicode.IsLetter(r) {
				continue
			}
			if unicode.Is(unicode.Latin, r) {
				latin++
				continue
			}
			for i, s := range scriptLanguages {
				if unicode.Is(s.table, r) {
					counts[i]++
					break
				}
			}
			for _, c := range southSlavic {
				if r == c {
					south++
				}
			}
		}
	}

	best := -1
	for i, c := range counts {
		if c > 0 && (best < 0 || c > counts[best]) {
			best = i
		}
	}
	// Korean text mixes Hanja; any Hangul wins over Han.
	if counts[0] > 0 {
		best = 0
	}
	if best < 0 || counts[best]*4 < latin {
		return language.English
	}
	tag := scriptLanguages[best].tag
	if tag == language.Russian && south > 0 {
		return language.Serbian
	}
	return tag
}

// ModelFactory builds the engine for a model name.
type ModelFactory func(model string) (Engine, error)

// holder constructs its engine on first use and serializes calls to it.
type holder struct {
	once   sync.Once
	engine Engine
	err    error
	mu     sync.Mutex
}

func (h *holder) get(factory ModelFactory, model string) (Engine, error) {
	h.once.Do(func() {
		h.engine, h.err = factory(model)
		if h.err == nil {
			slog.Debug("ocr model loaded", "model", model)
		}
	})
	return h.engine, h.err
}

// Router runs a short detection pass with the Latin model, then re-reads the
// document with the model of the detected script.
type Router struct {
	factory     ModelFactory
	detectPages int

	mu      sync.Mutex
	holders map[string]*holder
}

// NewRouter creates a router. detectPages bounds the detection pass and
// defaults to 2.
func NewRouter(factory ModelFactory, detectPages int) *Router {
	if detectPages <= 0 {
		detectPages = 2
	}
	return &Router{
		factory:     factory,
		detectPages: detectPages,
		holders:     make(map[string]*holder),
	}
}

// Model returns the engine for a model, constructing it once.
func (r *Router) Model(model string) (Engine, error) {
	h := r.holder(model)
	return h.get(r.factory, model)
}

func (r *Router) holder(model string) *holder {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.holders[model]
	if !ok {
		h = &holder{}
		r.holders[model] = h
	}
	return h
}

func (r *Router) run(ctx context.Context, model, path string, maxPages int) ([]Page, error) {
	h := r.holder(model)
	engine, err := h.get(r.factory, model)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", model, err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return engine.Recognize(ctx, path, maxPages)
}

// Recognize implements Engine.
func (r *Router) Recognize(ctx context.Context, path string, maxPages int) ([]Page, error) {
	pages, _, err := r.RecognizeLanguage(ctx, path, maxPages)
	return pages, err
}

// RecognizeLanguage is Recognize that also reports the detected language.
func (r *Router) RecognizeLanguage(ctx context.Context, path string, maxPages int) ([]Page, language.Tag, error) {
	probe, err := r.run(ctx, ModelLatin, path, r.detectPages)
	if err != nil {
		return nil, language.Und, err
	}
	var lines []string
	for _, p := range probe {
		lines = append(lines, p.Lines...)
	}
	tag := DetectLanguage(lines)
	model := ModelFor(tag)

	if model == ModelLatin && maxPages > 0 && maxPages <= r.detectPages {
		return probe, tag, nil
	}
	pages, err := r.run(ctx, model, path, maxPages)
	if err != nil {
		return nil, tag, err
	}
	return pages, tag, nil
}
