// Package wrongbook derives the wrong-question notebook from completed
// records and buckets its entries by keyword tables.
package wrongbook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/markbook/internal/model"
	"github.com/pavelanni/markbook/internal/store"
)

const examDateLayout = "2006-01-02"

// Derive returns every question marked incorrect across the completed records,
// in record order and then question order. Records whose stored result cannot
// be decoded are skipped.
func Derive(records []model.ExamRecord) []model.WrongQuestion {
	out := []model.WrongQuestion{}
	for i := range records {
		rec := &records[i]
		if rec.Status != model.StatusCompleted {
			continue
		}
		res, err := rec.Result()
		if err != nil {
			slog.Warn("skipping record with unreadable result", "record_id", rec.ID, "error", err)
			continue
		}
		if res == nil {
			continue
		}
		for _, q := range res.QuestionAnalysis {
			if q.IsCorrect {
				continue
			}
			out = append(out, model.WrongQuestion{
				QuestionNumber: q.QuestionNumber,
				QuestionText:   q.QuestionText,
				UserAnswer:     q.UserAnswer,
				CorrectAnswer:  q.CorrectAnswer,
				Explanation:    q.Explanation,
				Feedback:       q.Feedback,
				Score:          q.Score,
				MaxScore:       q.MaxScore,
				ExamID:         rec.ID,
				ExamDate:       rec.UploadedAt.Format(examDateLayout),
				UserID:         rec.UserID,
			})
		}
	}
	return out
}

// Collect derives the wrong questions visible to userID (everyone's when nil).
func Collect(ctx context.Context, repo store.RecordRepository, userID *int64) ([]model.WrongQuestion, error) {
	records, err := store.CompletedRecords(ctx, repo, userID)
	if err != nil {
		return nil, err
	}
	return Derive(records), nil
}

// Export assembles the notebook document written by the export command.
func Export(ctx context.Context, repo store.RecordRepository, userID *int64, username string) (model.NotebookExport, error) {
	records, err := store.CompletedRecords(ctx, repo, userID)
	if err != nil {
		return model.NotebookExport{}, fmt.Errorf("export notebook: %w", err)
	}
	papers, avg := store.Summaries(records)
	wqs := Derive(records)
	return model.NotebookExport{
		ExportedAt:     time.Now().UTC().Format(time.RFC3339),
		User:           username,
		TotalPapers:    len(papers),
		AverageScore:   avg,
		Papers:         papers,
		WrongQuestions: wqs,
		Classification: Classify(wqs),
	}, nil
}
