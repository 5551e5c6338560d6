package llm

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/pavelanni/markbook/internal/i18n"
	"github.com/pavelanni/markbook/internal/model"
)

// MaxQuestionCount bounds a plausible provider count.
const MaxQuestionCount = 100

// Numbering families, tried in order. The first family with any hit decides
// the count, so sub-question markers like (1) only count when nothing else
// numbers the paper.
var numberingFamilies = []*regexp.Regexp{
	regexp.MustCompile(`第\s*(\d{1,3}|[一二三四五六七八九十]+)\s*[题題]`),
	regexp.MustCompile(`(?m)^\s*([一二三四五六七八九十]+)\s*[、．.]`),
	regexp.MustCompile(`(?m)^\s*(\d{1,3})\s*(?:[、．]|\.(?:[^\d]|$))`),
	regexp.MustCompile(`(?m)^\s*[(（]\s*(\d{1,3})\s*[)）]`),
}

// CountPattern counts distinct top-level question numbers in text.
func CountPattern(text string) int {
	for _, re := range numberingFamilies {
		seen := make(map[int]bool)
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if n := parseNumeral(m[1]); n > 0 && n <= MaxQuestionCount {
				seen[n] = true
			}
		}
		if len(seen) > 0 {
			return len(seen)
		}
	}
	return 0
}

var chineseDigits = map[rune]int{'一': 1, '二': 2, '三': 3, '四': 4, '五': 5, '六': 6, '七': 7, '八': 8, '九': 9}

// parseNumeral reads an Arabic or a Chinese numeral up to 99.
func parseNumeral(s string) int {
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	runes := []rune(s)
	switch {
	case len(runes) == 1 && runes[0] == '十':
		return 10
	case len(runes) == 1:
		return chineseDigits[runes[0]]
	case len(runes) == 2 && runes[0] == '十':
		return 10 + chineseDigits[runes[1]]
	case len(runes) == 2 && runes[1] == '十':
		return chineseDigits[runes[0]] * 10
	case len(runes) == 3 && runes[1] == '十':
		return chineseDigits[runes[0]]*10 + chineseDigits[runes[2]]
	}
	return 0
}

// CountQuestions determines how many questions doc holds. The provider's own
// count is trusted when plausible; otherwise the numbering in knownText (or a
// fresh transcription) is counted. When neither works the count is unknown;
// there is no default guess.
//
// Rejected credentials, rate limits and overload are returned as errors
// instead, since the grading call would fail the same way.
func CountQuestions(ctx context.Context, p Provider, doc Document, knownText string) (model.QuestionCount, error) {
	n, err := p.CountQuestions(ctx, doc)
	switch {
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrRateLimited), errors.Is(err, ErrOverloaded):
		return model.QuestionCount{}, err
	case errors.Is(err, ErrUnavailable):
		slog.Debug("provider cannot count questions", "provider", p.Name())
	case err != nil:
		slog.Warn("provider question count failed", "provider", p.Name(), "error", err)
	case n >= 1 && n <= MaxQuestionCount:
		return model.QuestionCount{Count: &n, Method: model.CountMethodLLM, Confidence: model.ConfidenceHigh}, nil
	default:
		slog.Warn("implausible provider question count", "provider", p.Name(), "count", n)
	}

	text := knownText
	if strings.TrimSpace(text) == "" && ctx.Err() == nil {
		if text, err = p.ExtractText(ctx, doc); err != nil {
			slog.Warn("transcription for question count failed", "provider", p.Name(), "error", err)
		}
	}
	if c := CountPattern(text); c > 0 {
		qc := model.QuestionCount{
			Count:      &c,
			Method:     model.CountMethodPattern,
			Confidence: model.ConfidenceMedium,
			Warning:    i18n.T(ctx, "WarnCountPattern"),
		}
		if c == 1 {
			qc.Confidence = model.ConfidenceLow
			qc.Warning = i18n.T(ctx, "WarnCountSingle")
		}
		return qc, nil
	}

	return model.QuestionCount{
		Method:     model.CountMethodUnknown,
		Confidence: model.ConfidenceLow,
		Warning:    i18n.T(ctx, "ErrCountUnavailable"),
	}, nil
}
