package extract

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
)

// trailingSpaceRe collapses space runs before newlines left over from PDF
// text positioning.
var trailingSpaceRe = regexp.MustCompile(`[ \t]+\n`)

// extractPDF extracts the plain text of every page, joined by newlines.
// Pages that fail to decode are skipped rather than failing the document.
func extractPDF(content []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open PDF: %w", err)
	}
	var buf strings.Builder
	numPages := r.NumPage()
	for i := 1; i <= numPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if buf.Len() > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(text)
	}
	return strings.TrimSpace(trailingSpaceRe.ReplaceAllString(buf.String(), "\n")), nil
}
