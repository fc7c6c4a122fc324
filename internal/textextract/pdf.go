package textextract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"

	"github.com/sells-group/esg-extract/internal/model"
)

var pdfMagic = []byte("%PDF-")

// PDFExtractor reads the text layer of the first MaxPages pages.
type PDFExtractor struct {
	MaxPages int
}

// NewPDFExtractor creates a PDFExtractor. maxPages below 1 reads one page.
func NewPDFExtractor(maxPages int) *PDFExtractor {
	if maxPages < 1 {
		maxPages = 1
	}
	return &PDFExtractor{MaxPages: maxPages}
}

// Extract validates the header, decodes the document and returns the
// normalized text of the leading pages. Scanned PDFs without a text layer
// fail with NoTextContent.
func (e *PDFExtractor) Extract(ctx context.Context, data []byte) (out model.ExtractedText, err error) {
	if !bytes.HasPrefix(data, pdfMagic) {
		return model.ExtractedText{}, model.NewCodedError(model.CodeInvalidFormat, "missing %PDF header")
	}

	// The decoder panics on some malformed object streams.
	defer func() {
		if r := recover(); r != nil {
			out = model.ExtractedText{}
			err = model.WrapCoded(fmt.Errorf("%v", r), model.CodeCorruptInput, "decode pdf")
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return model.ExtractedText{}, model.WrapCoded(err, model.CodeCorruptInput, "open pdf")
	}

	total := reader.NumPage()
	limit := min(total, e.MaxPages)

	var (
		b       strings.Builder
		read    int
		lastErr error
	)
	for i := 1; i <= limit; i++ {
		if err := ctx.Err(); err != nil {
			return model.ExtractedText{}, err
		}

		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, perr := page.GetPlainText(nil)
		if perr != nil {
			lastErr = perr
			zap.L().Debug("pdf: skipping unreadable page", zap.Int("page", i), zap.Error(perr))
			continue
		}
		read++
		b.WriteString(text)
		b.WriteString("\n")
	}

	if read == 0 && lastErr != nil {
		return model.ExtractedText{}, model.WrapCoded(lastErr, model.CodeCorruptInput, "read pdf pages")
	}

	text := Normalize(b.String())
	if text == "" {
		return model.ExtractedText{}, model.NewCodedError(model.CodeNoTextContent, "pdf has no extractable text layer")
	}

	zap.L().Debug("pdf: text extracted",
		zap.Int("pages_total", total),
		zap.Int("pages_read", read),
		zap.Int("chars", len(text)),
	)

	return model.ExtractedText{Text: text, Format: model.SourcePDF, Pages: read}, nil
}
