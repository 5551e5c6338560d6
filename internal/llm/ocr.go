package llm

import (
	"context"
	"fmt"

	"github.com/pavelanni/markbook/internal/model"
)

// OCRPipeline grades papers in two steps: transcribe, then grade the text.
// Images go to Images (typically Tesseract) and PDFs to their text layer.
type OCRPipeline struct {
	Images TextExtractor
	PDFs   TextExtractor
	Grader Analyzer
}

var _ Provider = (*OCRPipeline)(nil)

// NewOCRPipeline combines an image OCR engine with a text grader.
func NewOCRPipeline(images TextExtractor, grader Analyzer) *OCRPipeline {
	return &OCRPipeline{Images: images, PDFs: PDFText{}, Grader: grader}
}

func (p *OCRPipeline) Name() string { return "ocr" }

func (p *OCRPipeline) ExtractText(ctx context.Context, doc Document) (string, error) {
	if doc.IsPDF() {
		return p.PDFs.ExtractText(ctx, doc)
	}
	return p.Images.ExtractText(ctx, doc)
}

func (p *OCRPipeline) Analyze(ctx context.Context, doc Document) (*model.AnalysisResult, error) {
	text, err := p.ExtractText(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("ocr: %w", err)
	}
	return p.AnalyzeText(ctx, text)
}

func (p *OCRPipeline) AnalyzeText(ctx context.Context, text string) (*model.AnalysisResult, error) {
	return p.Grader.AnalyzeText(ctx, text)
}

// CountQuestions reports ErrUnavailable: the pipeline has no model of its own
// to ask, so callers fall back to counting the transcription's numbering.
func (p *OCRPipeline) CountQuestions(context.Context, Document) (int, error) {
	return 0, fmt.Errorf("%w: ocr pipeline has no question counter", ErrUnavailable)
}
