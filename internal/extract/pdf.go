// Package extract turns PDF documents into cleaned page text.
package extract

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strings"

	"paperdigest/internal/models"
	"paperdigest/internal/util"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"
)

// glyphArtifacts matches font-encoding leftovers that some PDFs leak into
// their text layer: (cid:123), /uniE0A1, a free-standing /g42 glyph name and
// raw private-use runes. The /gNN form only counts at the start of text or
// after whitespace, kept in group 1, so "w/g10" survives.
var glyphArtifacts = regexp.MustCompile(`\(cid:\d+\)|/uni[0-9A-Fa-f]{4,6}|(^|\s)/g\d{2,}\b|[\x{E000}-\x{F8FF}]`)

// CleanGlyphArtifacts strips private-use-area glyph references from s.
func CleanGlyphArtifacts(s string) string {
	return glyphArtifacts.ReplaceAllString(s, "${1}")
}

type Extractor struct {
	log *zap.Logger
}

func New(log *zap.Logger) *Extractor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Extractor{log: log}
}

// Pages returns the cleaned text of each non-blank page in document order.
// An empty or unreadable document yields an empty slice rather than an error.
func (e *Extractor) Pages(content []byte) []models.Page {
	pages, err := readPages(content)
	if err != nil {
		e.log.Warn("pdf unreadable", zap.Int("bytes", len(content)), zap.Error(err))
		return []models.Page{}
	}
	return pages
}

// PagesFromFile is Pages for a PDF on disk.
func (e *Extractor) PagesFromFile(path string) []models.Page {
	content, err := os.ReadFile(path)
	if err != nil {
		e.log.Warn("pdf unreadable", zap.String("path", path), zap.Error(err))
		return []models.Page{}
	}
	return e.Pages(content)
}

func readPages(content []byte) (pages []models.Page, err error) {
	if len(content) == 0 {
		return []models.Page{}, nil
	}
	// The parser panics on some malformed xref tables.
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("parse pdf: %v", r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	out := make([]models.Page, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract page %d: %w", i, err)
		}
		text = CleanPageText(text)
		if text == "" {
			continue
		}
		out = append(out, models.Page{Number: i, Text: text})
	}
	return out, nil
}

// CleanPageText applies glyph cleanup and control-character sanitation.
func CleanPageText(s string) string {
	s = CleanGlyphArtifacts(s)
	s = util.SanitizeText(s)
	return strings.TrimSpace(s)
}
