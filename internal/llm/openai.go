package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/markbook/internal/llm/prompts"
	"github.com/pavelanni/markbook/internal/model"
)

// OpenAIClient grades papers through an OpenAI-compatible chat completions
// API. Images go to the vision model; PDFs are graded from their text layer.
type OpenAIClient struct {
	api         *openai.Client
	model       string
	visionModel string
	opts        Options
	pdf         TextExtractor
}

var _ Provider = (*OpenAIClient)(nil)

// NewOpenAI creates a client. visionModel defaults to modelName when empty.
func NewOpenAI(baseURL, apiKey, modelName, visionModel string, opts Options) *OpenAIClient {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if visionModel == "" {
		visionModel = modelName
	}
	return &OpenAIClient{
		api:         openai.NewClientWithConfig(config),
		model:       modelName,
		visionModel: visionModel,
		opts:        opts,
		pdf:         PDFText{},
	}
}

func (c *OpenAIClient) Name() string { return "openai" }

// ExtractText transcribes an image with the vision model, or reads a PDF's
// text layer.
func (c *OpenAIClient) ExtractText(ctx context.Context, doc Document) (string, error) {
	if doc.IsPDF() {
		return c.pdf.ExtractText(ctx, doc)
	}
	prompt, err := prompts.BuildOCRPrompt(c.opts.Lang)
	if err != nil {
		return "", err
	}
	raw, err := c.complete(ctx, c.visionModel, []openai.ChatCompletionMessage{imageMessage(prompt, doc)}, false, 0)
	if err != nil {
		return "", fmt.Errorf("LLM transcription: %w", err)
	}
	return strings.TrimSpace(raw), nil
}

// Analyze grades doc. PDFs are transcribed first and graded as text.
func (c *OpenAIClient) Analyze(ctx context.Context, doc Document) (*model.AnalysisResult, error) {
	if doc.IsPDF() {
		text, err := c.pdf.ExtractText(ctx, doc)
		if err != nil {
			return nil, err
		}
		return c.AnalyzeText(ctx, text)
	}
	prompt, err := prompts.BuildAnalyzePrompt(c.opts.variant(), prompts.AnalyzeData{Language: c.opts.Lang})
	if err != nil {
		return nil, err
	}
	raw, err := c.complete(ctx, c.visionModel, []openai.ChatCompletionMessage{imageMessage(prompt, doc)}, true, 0.2)
	if err != nil {
		return nil, fmt.Errorf("LLM analysis: %w", err)
	}
	return ParseAnalysis(raw)
}

// AnalyzeText grades an OCR transcription with the text model.
func (c *OpenAIClient) AnalyzeText(ctx context.Context, text string) (*model.AnalysisResult, error) {
	prompt, err := prompts.BuildAnalyzePrompt(c.opts.variant(), prompts.AnalyzeData{Text: text, Language: c.opts.Lang})
	if err != nil {
		return nil, err
	}
	msgs := []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: prompt}}
	raw, err := c.complete(ctx, c.model, msgs, true, 0.2)
	if err != nil {
		return nil, fmt.Errorf("LLM analysis: %w", err)
	}
	return ParseAnalysis(raw)
}

// CountQuestions asks the model for the number of top-level questions.
func (c *OpenAIClient) CountQuestions(ctx context.Context, doc Document) (int, error) {
	var (
		msg       openai.ChatCompletionMessage
		modelName = c.visionModel
	)
	if doc.IsPDF() {
		text, err := c.pdf.ExtractText(ctx, doc)
		if err != nil {
			return 0, err
		}
		prompt, err := prompts.BuildCountPrompt(text)
		if err != nil {
			return 0, err
		}
		msg = openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt}
		modelName = c.model
	} else {
		prompt, err := prompts.BuildCountPrompt("")
		if err != nil {
			return 0, err
		}
		msg = imageMessage(prompt, doc)
	}
	raw, err := c.complete(ctx, modelName, []openai.ChatCompletionMessage{msg}, true, 0)
	if err != nil {
		return 0, fmt.Errorf("LLM question count: %w", err)
	}
	return ParseCount(raw)
}

func (c *OpenAIClient) complete(ctx context.Context, modelName string, msgs []openai.ChatCompletionMessage, jsonMode bool, temperature float32) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       modelName,
		Messages:    msgs,
		Temperature: temperature,
	}
	if jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classifyOpenAI(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: LLM returned no choices", ErrMalformedResponse)
	}
	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "model", modelName, "raw", raw)
	return raw, nil
}

func classifyOpenAI(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return Classify(apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return Classify(reqErr.HTTPStatusCode, err)
	}
	return err
}

func imageMessage(prompt string, doc Document) openai.ChatCompletionMessage {
	dataURL := "data:" + doc.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(doc.Data)
	return openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser,
		MultiContent: []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: prompt},
			{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    dataURL,
					Detail: openai.ImageURLDetailHigh,
				},
			},
		},
	}
}
