package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/pavelanni/markbook/internal/llm/prompts"
	"github.com/pavelanni/markbook/internal/model"
)

// GeminiClient grades papers with a Gemini model. Images and PDFs are both
// sent inline.
type GeminiClient struct {
	client *genai.Client
	model  string
	opts   Options
}

var _ Provider = (*GeminiClient)(nil)

// NewGemini creates a client for the Gemini developer API.
func NewGemini(ctx context.Context, apiKey, modelName string, opts Options) (*GeminiClient, error) {
	return newGemini(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}, modelName, opts)
}

func newGemini(ctx context.Context, cfg *genai.ClientConfig, modelName string, opts Options) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiClient{client: client, model: modelName, opts: opts}, nil
}

func (g *GeminiClient) Name() string { return "gemini" }

func (g *GeminiClient) ExtractText(ctx context.Context, doc Document) (string, error) {
	prompt, err := prompts.BuildOCRPrompt(g.opts.Lang)
	if err != nil {
		return "", err
	}
	raw, err := g.generate(ctx, []*genai.Part{documentPart(doc), genai.NewPartFromText(prompt)}, nil, 0)
	if err != nil {
		return "", fmt.Errorf("gemini transcription: %w", err)
	}
	return strings.TrimSpace(raw), nil
}

func (g *GeminiClient) Analyze(ctx context.Context, doc Document) (*model.AnalysisResult, error) {
	prompt, err := prompts.BuildAnalyzePrompt(g.opts.variant(), prompts.AnalyzeData{Language: g.opts.Lang})
	if err != nil {
		return nil, err
	}
	raw, err := g.generate(ctx, []*genai.Part{documentPart(doc), genai.NewPartFromText(prompt)}, analysisSchema, 0.2)
	if err != nil {
		return nil, fmt.Errorf("gemini analysis: %w", err)
	}
	return ParseAnalysis(raw)
}

func (g *GeminiClient) AnalyzeText(ctx context.Context, text string) (*model.AnalysisResult, error) {
	prompt, err := prompts.BuildAnalyzePrompt(g.opts.variant(), prompts.AnalyzeData{Text: text, Language: g.opts.Lang})
	if err != nil {
		return nil, err
	}
	raw, err := g.generate(ctx, []*genai.Part{genai.NewPartFromText(prompt)}, analysisSchema, 0.2)
	if err != nil {
		return nil, fmt.Errorf("gemini analysis: %w", err)
	}
	return ParseAnalysis(raw)
}

func (g *GeminiClient) CountQuestions(ctx context.Context, doc Document) (int, error) {
	prompt, err := prompts.BuildCountPrompt("")
	if err != nil {
		return 0, err
	}
	raw, err := g.generate(ctx, []*genai.Part{documentPart(doc), genai.NewPartFromText(prompt)}, countSchema, 0)
	if err != nil {
		return 0, fmt.Errorf("gemini question count: %w", err)
	}
	return ParseCount(raw)
}

func (g *GeminiClient) generate(ctx context.Context, parts []*genai.Part, schema *genai.Schema, temperature float32) (string, error) {
	cfg := &genai.GenerateContentConfig{Temperature: &temperature}
	if schema != nil {
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseSchema = schema
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return "", classifyGemini(err)
	}
	raw := resp.Text()
	if raw == "" {
		return "", fmt.Errorf("%w: gemini returned no text", ErrMalformedResponse)
	}
	slog.Debug("gemini response", "model", g.model, "raw", raw)
	return raw, nil
}

func classifyGemini(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return Classify(apiErr.Code, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return Classify(apiErrPtr.Code, err)
	}
	return err
}

func documentPart(doc Document) *genai.Part {
	mimeType := doc.MIMEType
	if doc.IsPDF() {
		mimeType = "application/pdf"
	}
	return genai.NewPartFromBytes(doc.Data, mimeType)
}

var countSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"questionCount": {Type: genai.TypeInteger},
	},
	Required: []string{"questionCount"},
}

var analysisSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"overallScore": {Type: genai.TypeNumber},
		"maxScore":     {Type: genai.TypeNumber},
		"grade":        {Type: genai.TypeString},
		"feedback": {
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"strengths":        {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
				"improvements":     {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
				"detailedFeedback": {Type: genai.TypeString},
			},
			Required: []string{"strengths", "improvements", "detailedFeedback"},
		},
		"questionAnalysis": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"questionNumber": {Type: genai.TypeInteger},
					"score":          {Type: genai.TypeNumber},
					"maxScore":       {Type: genai.TypeNumber},
					"feedback":       {Type: genai.TypeString},
					"questionText":   {Type: genai.TypeString},
					"userAnswer":     {Type: genai.TypeString},
					"correctAnswer":  {Type: genai.TypeString},
					"explanation":    {Type: genai.TypeString},
					"isCorrect":      {Type: genai.TypeBoolean},
				},
				Required: []string{"questionNumber", "isCorrect"},
			},
		},
	},
	Required: []string{"overallScore", "grade", "feedback", "questionAnalysis"},
}
