// Package textextract turns uploaded PDF and spreadsheet buffers into the
// plain text handed to the extraction strategies.
package textextract

import (
	"context"
	"mime"
	"strings"

	"github.com/sells-group/esg-extract/internal/model"
)

// Extractor converts one binary format to text. Failures are input-quality
// problems and are never retried.
type Extractor interface {
	Extract(ctx context.Context, data []byte) (model.ExtractedText, error)
}

// Registry dispatches declared MIME types to extractors.
type Registry struct {
	byMIME map[string]Extractor
	order  []string
}

// NewRegistry returns a registry with the PDF extractor (reading the first
// pdfMaxPages pages) and the spreadsheet extractor for .xlsx and .xls types.
func NewRegistry(pdfMaxPages int) *Registry {
	r := &Registry{byMIME: make(map[string]Extractor)}
	r.Register(model.MIMEPDF, NewPDFExtractor(pdfMaxPages))
	sheet := NewSpreadsheetExtractor()
	r.Register(model.MIMEXLSX, sheet)
	r.Register(model.MIMEXLS, sheet)
	return r
}

// Register adds or replaces the extractor for mimeType.
func (r *Registry) Register(mimeType string, e Extractor) {
	key := normalizeMIME(mimeType)
	if _, ok := r.byMIME[key]; !ok {
		r.order = append(r.order, key)
	}
	r.byMIME[key] = e
}

// For returns the extractor for a declared MIME type. Parameters such as
// "; charset=binary" and letter case are ignored.
func (r *Registry) For(mimeType string) (Extractor, bool) {
	e, ok := r.byMIME[normalizeMIME(mimeType)]
	return e, ok
}

// Accepted lists the registered MIME types in registration order.
func (r *Registry) Accepted() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func normalizeMIME(s string) string {
	if mt, _, err := mime.ParseMediaType(s); err == nil {
		return mt
	}
	return strings.ToLower(strings.TrimSpace(s))
}
