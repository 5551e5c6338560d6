package model

import (
	"math"
	"strings"
)

// MaxScore is the fixed upper bound of an overall score.
const MaxScore = 100

// Grade is a letter grade.
type Grade string

// ValidGrades lists every grade a stored result may carry, best first.
var ValidGrades = []Grade{"A+", "A", "A-", "B+", "B", "B-", "C+", "C", "C-", "D+", "D", "D-", "F"}

var validGradeSet = func() map[Grade]bool {
	m := make(map[Grade]bool, len(ValidGrades))
	for _, g := range ValidGrades {
		m[g] = true
	}
	return m
}()

// IsValid reports whether g is one of ValidGrades.
func (g Grade) IsValid() bool {
	return validGradeSet[g]
}

var signFolder = strings.NewReplacer(
	"＋", "+", // fullwidth plus
	"⁺", "+", // superscript plus
	"﹢", "+", // small plus
	"➕", "+", // heavy plus
	"−", "-", // minus sign
	"－", "-", // fullwidth hyphen-minus
	"⁻", "-", // superscript minus
)

// NormalizeGrade folds provider output into one of ValidGrades.
// Unrecognized input falls back to the letter it contains, and to F otherwise.
func NormalizeGrade(s string) Grade {
	if s == "" {
		return "F"
	}
	n := signFolder.Replace(strings.ToUpper(strings.TrimSpace(s)))
	if g := Grade(n); g.IsValid() {
		return g
	}
	for _, letter := range []string{"A", "B", "C", "D"} {
		if !strings.Contains(n, letter) {
			continue
		}
		switch {
		case strings.Contains(n, "+"):
			return Grade(letter + "+")
		case strings.Contains(n, "-"):
			return Grade(letter + "-")
		default:
			return Grade(letter)
		}
	}
	return "F"
}

// ClampScore rounds a provider score and bounds it to [0, MaxScore].
func ClampScore(x float64) int {
	if math.IsNaN(x) {
		return 0
	}
	return int(math.Max(0, math.Min(MaxScore, math.Round(x))))
}

// Feedback is the overall commentary on a paper.
type Feedback struct {
	Strengths        []string `json:"strengths"`
	Improvements     []string `json:"improvements"`
	DetailedFeedback string   `json:"detailedFeedback"`
}

// QuestionResult is the grading of one question. IsCorrect is the provider's
// verdict and is not derived from Score.
type QuestionResult struct {
	QuestionNumber int     `json:"questionNumber" validate:"gte=0"`
	Score          float64 `json:"score"`
	MaxScore       float64 `json:"maxScore"`
	Feedback       string  `json:"feedback"`
	QuestionText   string  `json:"questionText"`
	UserAnswer     string  `json:"userAnswer"`
	CorrectAnswer  string  `json:"correctAnswer"`
	Explanation    string  `json:"explanation"`
	IsCorrect      bool    `json:"isCorrect"`
}

// AnalysisResult is the structured grading of a whole paper.
type AnalysisResult struct {
	OverallScore     int              `json:"overallScore"`
	MaxScore         int              `json:"maxScore"`
	Grade            Grade            `json:"grade"`
	Feedback         Feedback         `json:"feedback"`
	QuestionAnalysis []QuestionResult `json:"questionAnalysis"`
}

// Normalize enforces the stored invariants: canonical grade, bounded score,
// fixed maximum and 1-based question numbers.
func (r *AnalysisResult) Normalize() {
	r.OverallScore = ClampScore(float64(r.OverallScore))
	r.MaxScore = MaxScore
	r.Grade = NormalizeGrade(string(r.Grade))
	if r.Feedback.Strengths == nil {
		r.Feedback.Strengths = []string{}
	}
	if r.Feedback.Improvements == nil {
		r.Feedback.Improvements = []string{}
	}
	if r.QuestionAnalysis == nil {
		r.QuestionAnalysis = []QuestionResult{}
	}
	for i := range r.QuestionAnalysis {
		if r.QuestionAnalysis[i].QuestionNumber <= 0 {
			r.QuestionAnalysis[i].QuestionNumber = i + 1
		}
	}
}

// WrongCount returns the number of questions marked incorrect.
func (r *AnalysisResult) WrongCount() int {
	n := 0
	for _, q := range r.QuestionAnalysis {
		if !q.IsCorrect {
			n++
		}
	}
	return n
}
