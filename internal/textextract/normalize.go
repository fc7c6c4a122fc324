package textextract

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var blankRuns = regexp.MustCompile(`\n{3,}`)

// Normalize applies NFKC so ligatures, full-width digits and non-breaking
// spaces from PDF text layers match plain ASCII patterns, drops NUL bytes,
// trims trailing whitespace on each line and collapses runs of blank lines.
func Normalize(s string) string {
	s = norm.NFKC.String(s)
	s = strings.ReplaceAll(s, "\x00", "")
	s = strings.ReplaceAll(s, "\r\n", "\n")

	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t\r")
	}
	s = strings.Join(lines, "\n")

	return strings.TrimSpace(blankRuns.ReplaceAllString(s, "\n\n"))
}
