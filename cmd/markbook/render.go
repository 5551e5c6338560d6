package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	appI18n "github.com/pavelanni/markbook/internal/i18n"
	"github.com/pavelanni/markbook/internal/model"
	"github.com/pavelanni/markbook/internal/workflow"
)

// progressPrinter writes each new progress line and notice once.
func progressPrinter(w io.Writer) func(workflow.State) {
	var mu sync.Mutex
	var lastLine, lastNotice string
	return func(s workflow.State) {
		mu.Lock()
		defer mu.Unlock()
		line := fmt.Sprintf("[%3d%%] %s", s.Progress.Percent, s.Progress.Message)
		if s.Progress.QuestionProgress != "" && s.AppState == workflow.StateProcessing {
			line += " (" + s.Progress.QuestionProgress + ")"
		}
		if s.Progress.Message != "" && line != lastLine {
			fmt.Fprintln(w, line)
			lastLine = line
		}
		if s.Notice != "" && s.Notice != lastNotice {
			fmt.Fprintln(w, "! "+s.Notice)
		}
		lastNotice = s.Notice
	}
}

func printResult(w io.Writer, ctx context.Context, res *model.AnalysisResult) {
	if res == nil {
		return
	}
	fmt.Fprintln(w, appI18n.Td(ctx, "ResultHeading", map[string]any{
		"Score": res.OverallScore,
		"Max":   res.MaxScore,
		"Grade": res.Grade,
	}))
	printList(w, appI18n.T(ctx, "ResultStrengths"), res.Feedback.Strengths)
	printList(w, appI18n.T(ctx, "ResultImprovements"), res.Feedback.Improvements)
	if res.Feedback.DetailedFeedback != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, res.Feedback.DetailedFeedback)
	}

	fmt.Fprintln(w)
	for _, q := range res.QuestionAnalysis {
		mark := "✓"
		if !q.IsCorrect {
			mark = "✗"
		}
		fmt.Fprintf(w, "%s %s\n", mark, appI18n.Td(ctx, "ResultQuestion", map[string]any{
			"Number": q.QuestionNumber,
			"Score":  q.Score,
			"Max":    q.MaxScore,
		}))
		if q.Feedback != "" {
			fmt.Fprintf(w, "    %s\n", q.Feedback)
		}
		if !q.IsCorrect && q.CorrectAnswer != "" {
			fmt.Fprintf(w, "    → %s\n", q.CorrectAnswer)
		}
	}
}

func printList(w io.Writer, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s:\n", title)
	for _, it := range items {
		fmt.Fprintf(w, "  - %s\n", it)
	}
}

func printWrongQuestions(w io.Writer, ctx context.Context, wqs []model.WrongQuestion) {
	fmt.Fprintln(w, appI18n.Tp(ctx, "WrongQuestionsCount", len(wqs)))
	for _, q := range wqs {
		text := q.QuestionText
		if text == "" {
			text = q.Feedback
		}
		fmt.Fprintf(w, "  %s #%d  %s\n", q.ExamDate, q.QuestionNumber, oneLine(text))
	}
}

func printClassification(w io.Writer, ctx context.Context, c model.WrongQuestionClassification) {
	fmt.Fprintln(w, appI18n.Tp(ctx, "WrongQuestionsCount", c.Summary.TotalQuestions))
	printGroups(w, ctx, appI18n.T(ctx, "ByKnowledgePoint"), "KP_", c.Summary.KnowledgePoints, c.ByKnowledgePoint)
	printGroups(w, ctx, appI18n.T(ctx, "ByErrorType"), "ET_", c.Summary.ErrorTypes, c.ByErrorType)
	printGroups(w, ctx, appI18n.T(ctx, "ByDifficulty"), "DL_", c.Summary.DifficultyLevels, c.ByDifficulty)
}

func printGroups(w io.Writer, ctx context.Context, title, prefix string, labels []string, groups map[string][]model.WrongQuestion) {
	fmt.Fprintf(w, "\n%s:\n", title)
	for _, label := range labels {
		fmt.Fprintf(w, "  %s: %d\n", appI18n.T(ctx, prefix+label), len(groups[label]))
	}
}

func printState(w io.Writer, s workflow.State) {
	fmt.Fprintf(w, "state: %s\n", s.AppState)
	if s.FileName != "" {
		fmt.Fprintf(w, "file: %s\n", s.FileName)
	}
	if s.ExamPaperID != "" {
		fmt.Fprintf(w, "record: %s\n", s.ExamPaperID)
	}
	if s.Error != "" {
		fmt.Fprintf(w, "error: %s\n", s.Error)
	}
	if s.ResumeAvailable {
		fmt.Fprintln(w, "retry available")
	}
}

// oneLine flattens text and keeps it short enough for a list.
func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > 60 {
		return string(r[:57]) + "..."
	}
	return s
}
