// Package llm grades exam papers through external vision, OCR and language
// model services.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/pavelanni/markbook/internal/llm/prompts"
	"github.com/pavelanni/markbook/internal/model"
	"github.com/pavelanni/markbook/internal/validate"
)

var (
	ErrUnauthorized      = errors.New("provider rejected credentials")
	ErrRateLimited       = errors.New("provider rate limit exceeded")
	ErrOverloaded        = errors.New("provider overloaded")
	ErrMalformedResponse = errors.New("malformed provider response")
	ErrUnavailable       = errors.New("capability not available")
)

// Document is an uploaded exam paper handed to a provider.
type Document struct {
	Data     []byte
	MIMEType string
	Name     string
}

// IsPDF reports whether the document is a PDF.
func (d Document) IsPDF() bool {
	return model.IsPDF(d.Name, d.MIMEType)
}

// TextExtractor transcribes a document.
type TextExtractor interface {
	ExtractText(ctx context.Context, doc Document) (string, error)
}

// Analyzer grades a document or its transcription.
type Analyzer interface {
	Analyze(ctx context.Context, doc Document) (*model.AnalysisResult, error)
	AnalyzeText(ctx context.Context, text string) (*model.AnalysisResult, error)
}

// QuestionCounter estimates how many top-level questions a document holds.
type QuestionCounter interface {
	CountQuestions(ctx context.Context, doc Document) (int, error)
}

// Provider is a complete grading backend.
type Provider interface {
	TextExtractor
	Analyzer
	QuestionCounter
	Name() string
}

// Options tune prompts shared by every provider.
type Options struct {
	Variant prompts.PromptVariant
	Lang    string
}

func (o Options) variant() prompts.PromptVariant {
	if o.Variant == "" {
		return prompts.PromptStandard
	}
	return o.Variant
}

// Classify maps an upstream HTTP status to a provider sentinel, keeping err
// in the chain. Statuses without a sentinel return err unchanged.
func Classify(status int, err error) error {
	var sentinel error
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		sentinel = ErrUnauthorized
	case status == http.StatusTooManyRequests:
		sentinel = ErrRateLimited
	case status == http.StatusServiceUnavailable || status == 529 || status == http.StatusBadGateway:
		sentinel = ErrOverloaded
	case status >= 500 && err != nil && strings.Contains(strings.ToLower(err.Error()), "overloaded"):
		sentinel = ErrOverloaded
	default:
		return err
	}
	if err == nil {
		return sentinel
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

var (
	resultValidator = validate.New()
	fenceRegex      = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")
)

// stripFences removes a surrounding markdown code fence and any prose around
// the outermost JSON object.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if m := fenceRegex.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	if i, j := strings.IndexByte(s, '{'), strings.LastIndexByte(s, '}'); i >= 0 && j > i {
		s = s[i : j+1]
	}
	return s
}

type rawFeedback struct {
	Strengths        []string `json:"strengths"`
	Improvements     []string `json:"improvements"`
	DetailedFeedback string   `json:"detailedFeedback"`
}

type rawQuestion struct {
	QuestionNumber float64 `json:"questionNumber" validate:"gte=0"`
	Score          float64 `json:"score" validate:"gte=0"`
	MaxScore       float64 `json:"maxScore" validate:"gte=0"`
	Feedback       string  `json:"feedback"`
	QuestionText   string  `json:"questionText"`
	UserAnswer     string  `json:"userAnswer"`
	CorrectAnswer  string  `json:"correctAnswer"`
	Explanation    string  `json:"explanation"`
	IsCorrect      bool    `json:"isCorrect"`
}

type rawResult struct {
	OverallScore     float64       `json:"overallScore"`
	Grade            string        `json:"grade"`
	Feedback         *rawFeedback  `json:"feedback" validate:"required"`
	QuestionAnalysis []rawQuestion `json:"questionAnalysis" validate:"dive"`
}

// ParseAnalysis decodes a provider grading reply and normalizes it. Replies
// that cannot be decoded or fail validation wrap ErrMalformedResponse.
func ParseAnalysis(raw string) (*model.AnalysisResult, error) {
	var r rawResult
	if err := json.Unmarshal([]byte(stripFences(raw)), &r); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	if err := resultValidator.Struct(r, "en"); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	res := &model.AnalysisResult{
		OverallScore: model.ClampScore(r.OverallScore),
		Grade:        model.Grade(r.Grade),
		Feedback: model.Feedback{
			Strengths:        r.Feedback.Strengths,
			Improvements:     r.Feedback.Improvements,
			DetailedFeedback: r.Feedback.DetailedFeedback,
		},
		QuestionAnalysis: make([]model.QuestionResult, 0, len(r.QuestionAnalysis)),
	}
	for _, q := range r.QuestionAnalysis {
		res.QuestionAnalysis = append(res.QuestionAnalysis, model.QuestionResult{
			QuestionNumber: int(math.Round(q.QuestionNumber)),
			Score:          q.Score,
			MaxScore:       q.MaxScore,
			Feedback:       q.Feedback,
			QuestionText:   q.QuestionText,
			UserAnswer:     q.UserAnswer,
			CorrectAnswer:  q.CorrectAnswer,
			Explanation:    q.Explanation,
			IsCorrect:      q.IsCorrect,
		})
	}
	res.Normalize()
	return res, nil
}

// ParseCount decodes a question-count reply: either {"questionCount": n} or
// a bare number.
func ParseCount(raw string) (int, error) {
	s := stripFences(raw)
	var body struct {
		QuestionCount *float64 `json:"questionCount"`
	}
	if err := json.Unmarshal([]byte(s), &body); err == nil && body.QuestionCount != nil {
		return int(math.Round(*body.QuestionCount)), nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		slog.Debug("unparseable question count", "raw", raw)
		return 0, fmt.Errorf("%w: question count %q", ErrMalformedResponse, raw)
	}
	return n, nil
}
