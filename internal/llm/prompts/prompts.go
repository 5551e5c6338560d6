package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"
)

// Templates holds the built-in prompt templates.
//
//go:embed templates/*.txt
var Templates embed.FS

// MaxTextRunes bounds the OCR text placed into a prompt.
const MaxTextRunes = 10000

var (
	examTextRegex           = regexp.MustCompile(`(?i)</?\s*exam-text\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

// PromptVariant represents a grading prompt variant.
type PromptVariant string

const (
	// PromptStrict grades without partial credit.
	PromptStrict PromptVariant = "strict"
	// PromptStandard is the default grading variant.
	PromptStandard PromptVariant = "standard"
	// PromptLenient rewards method over final results.
	PromptLenient PromptVariant = "lenient"
)

var validVariants = map[PromptVariant]bool{
	PromptStrict:   true,
	PromptStandard: true,
	PromptLenient:  true,
}

var (
	loadOnce         sync.Once
	loadErr          error
	analyzeTemplates map[PromptVariant]*template.Template
	countTemplate    *template.Template
	ocrTemplate      *template.Template
)

// IsValidVariant checks if a prompt variant name is valid.
func IsValidVariant(v string) bool {
	return validVariants[PromptVariant(v)]
}

// AnalyzeData holds template data for grading prompts.
type AnalyzeData struct {
	// Text is the OCR transcription; empty when the paper is attached directly.
	Text              string
	ExpectedQuestions int
	Language          string
}

type countData struct {
	Text string
}

type ocrData struct {
	Language string
}

// Load parses the prompt templates from fsys. Only the first call has any
// effect.
func Load(fsys fs.FS) error {
	loadOnce.Do(func() {
		analyzeTemplates = make(map[PromptVariant]*template.Template)
		for _, v := range []PromptVariant{PromptStrict, PromptStandard, PromptLenient} {
			tmpl, err := parseFile(fsys, "templates/analyze_"+string(v)+".txt")
			if err != nil {
				loadErr = err
				return
			}
			analyzeTemplates[v] = tmpl
		}
		if countTemplate, loadErr = parseFile(fsys, "templates/count.txt"); loadErr != nil {
			return
		}
		ocrTemplate, loadErr = parseFile(fsys, "templates/ocr.txt")
	})
	return loadErr
}

func parseFile(fsys fs.FS, name string) (*template.Template, error) {
	content, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("read prompt file %s: %w", name, err)
	}
	tmpl, err := template.New(name).Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("parse prompt template %s: %w", name, err)
	}
	return tmpl, nil
}

func ensureLoaded() error {
	if err := Load(Templates); err != nil {
		return fmt.Errorf("templates load failed: %w", err)
	}
	return nil
}

// BuildAnalyzePrompt renders the grading prompt for variant.
func BuildAnalyzePrompt(variant PromptVariant, data AnalyzeData) (string, error) {
	if err := ensureLoaded(); err != nil {
		return "", err
	}
	tmpl, ok := analyzeTemplates[variant]
	if !ok {
		return "", errors.New("invalid prompt variant: " + string(variant))
	}
	if data.Text != "" {
		data.Text = SanitizeText(data.Text)
	}
	data.Language = LanguageName(data.Language)
	return render(tmpl, data)
}

// BuildCountPrompt renders the question-count prompt. text may be empty when
// the paper is attached directly.
func BuildCountPrompt(text string) (string, error) {
	if err := ensureLoaded(); err != nil {
		return "", err
	}
	if text != "" {
		text = SanitizeText(text)
	}
	return render(countTemplate, countData{Text: text})
}

// BuildOCRPrompt renders the transcription prompt.
func BuildOCRPrompt(lang string) (string, error) {
	if err := ensureLoaded(); err != nil {
		return "", err
	}
	return render(ocrTemplate, ocrData{Language: LanguageName(lang)})
}

func render(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// LanguageName maps a language tag to the name used inside prompts.
func LanguageName(lang string) string {
	switch strings.ToLower(lang) {
	case "en", "en-us", "en-gb":
		return "English"
	default:
		return "Simplified Chinese"
	}
}

// SanitizeText removes prompt delimiters from OCR output and truncates it.
func SanitizeText(text string) string {
	text = examTextRegex.ReplaceAllString(text, "")
	text = systemInstructionsRegex.ReplaceAllString(text, "")
	text = strings.TrimSpace(text)

	if text == "" {
		return "[No text recognized]"
	}

	if utf8.RuneCountInString(text) > MaxTextRunes {
		runes := []rune(text)
		text = string(runes[:MaxTextRunes]) + "\n\n[Text truncated due to length]"
	}

	return text
}
