//go:build tesseract

// Package tesseract transcribes exam images with the Tesseract OCR engine.
package tesseract

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/pavelanni/markbook/internal/llm"
)

// Engine runs Tesseract on image documents. Each call uses its own client, so
// an Engine is safe for concurrent use.
type Engine struct {
	Languages []string
}

var _ llm.TextExtractor = Engine{}

// Available reports whether this build links Tesseract.
func Available() bool { return true }

// New returns an engine for the given Tesseract language codes
// (for example "chi_sim", "eng").
func New(langs ...string) Engine {
	return Engine{Languages: langs}
}

func (e Engine) ExtractText(ctx context.Context, doc llm.Document) (string, error) {
	if doc.IsPDF() {
		return "", fmt.Errorf("%w: tesseract reads images only", llm.ErrUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	client := gosseract.NewClient()
	defer client.Close()

	if len(e.Languages) > 0 {
		if err := client.SetLanguage(e.Languages...); err != nil {
			return "", fmt.Errorf("set ocr languages: %w", err)
		}
	}
	if err := client.SetImageFromBytes(doc.Data); err != nil {
		return "", fmt.Errorf("load image: %w", err)
	}
	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("ocr: %w", err)
	}
	return strings.TrimSpace(text), nil
}
