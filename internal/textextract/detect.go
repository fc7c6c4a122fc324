package textextract

import (
	"bytes"
	"path/filepath"
	"strings"

	"github.com/sells-group/esg-extract/internal/model"
)

var extMIME = map[string]string{
	".pdf":  model.MIMEPDF,
	".xlsx": model.MIMEXLSX,
	".xls":  model.MIMEXLS,
}

// DetectMIME resolves the MIME type of an upload. A specific declared type
// wins. Generic or missing types fall back to the file extension and then
// to the PDF signature. Anything else is returned as declared so the
// registry can reject it.
func DetectMIME(filename, declared string, data []byte) string {
	declared = normalizeMIME(declared)
	switch declared {
	case "", "application/octet-stream", "application/zip", "binary/octet-stream":
	default:
		return declared
	}
	if m, ok := extMIME[strings.ToLower(filepath.Ext(filename))]; ok {
		return m
	}
	if bytes.HasPrefix(data, pdfMagic) {
		return model.MIMEPDF
	}
	return declared
}
