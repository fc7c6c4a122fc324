package aiextract

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/sells-group/esg-extract/internal/model"
)

const systemPrompt = "You extract ESG (environmental, social, governance) metrics from company documents. " +
	"You respond with a single JSON object and nothing else."

// schemaTemplate is the empty result rendered as indented JSON: every key
// with a null value and its canonical unit.
var schemaTemplate = func() string {
	b, err := json.MarshalIndent(model.NewESGExtractionResult(), "", "  ")
	if err != nil {
		panic(err)
	}
	return string(b)
}()

// BuildPrompt returns the user prompt for text. The text should already be
// truncated.
func BuildPrompt(text string) string {
	var b strings.Builder
	b.WriteString("Extract the following ESG metrics from the document text below.\n")
	b.WriteString("Return ONLY a JSON object with exactly this structure. Do not add prose or markdown.\n\n")
	b.WriteString(schemaTemplate)
	b.WriteString("\n\nRules:\n")
	b.WriteString("- Every \"value\" must be a JSON number or null. Never use strings, units or thousands separators in values.\n")
	b.WriteString("- Keep every key and every \"unit\" string exactly as shown and convert figures into those units.\n")
	b.WriteString("- Use null when the document does not state a metric.\n")
	b.WriteString("\nDocument text:\n")
	b.WriteString(text)
	return b.String()
}

// Truncate cuts text to at most maxChars characters. It reports whether
// anything was dropped.
func Truncate(text string, maxChars int) (string, bool) {
	if maxChars <= 0 || utf8.RuneCountInString(text) <= maxChars {
		return text, false
	}
	n := 0
	for i := range text {
		if n == maxChars {
			return text[:i], true
		}
		n++
	}
	return text, false
}
