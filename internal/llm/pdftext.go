package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFText extracts the embedded text layer of a PDF. Scanned PDFs without a
// text layer yield ErrUnavailable.
type PDFText struct{}

// ExtractText returns the plain text of every page of doc.
func (PDFText) ExtractText(ctx context.Context, doc Document) (string, error) {
	if !doc.IsPDF() {
		return "", fmt.Errorf("%w: %s is not a PDF", ErrUnavailable, doc.Name)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r, err := pdf.NewReader(bytes.NewReader(doc.Data), int64(len(doc.Data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	var buf strings.Builder
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	text := strings.TrimSpace(buf.String())
	if text == "" {
		return "", fmt.Errorf("%w: pdf has no text layer", ErrUnavailable)
	}
	return text, nil
}
