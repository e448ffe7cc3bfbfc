package extract

import (
	"strings"

	"github.com/ledongthuc/pdf"
)

// pdfText extracts per-page text. Pages that fail to decode are skipped so a
// partially corrupt document still yields usable text.
func pdfText(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = f.Close()
	}()

	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		b.WriteString(text)
		b.WriteString("\n\n")
	}
	return b.String(), nil
}
