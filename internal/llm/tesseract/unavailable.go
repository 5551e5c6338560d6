//go:build !tesseract

package tesseract

import (
	"context"
	"fmt"

	"github.com/pavelanni/markbook/internal/llm"
)

// Engine stands in for the Tesseract engine in builds without the
// tesseract tag.
type Engine struct {
	Languages []string
}

var _ llm.TextExtractor = Engine{}

// Available reports whether this build links Tesseract.
func Available() bool { return false }

func New(langs ...string) Engine {
	return Engine{Languages: langs}
}

func (Engine) ExtractText(context.Context, llm.Document) (string, error) {
	return "", fmt.Errorf("%w: built without tesseract (rebuild with -tags tesseract)", llm.ErrUnavailable)
}
