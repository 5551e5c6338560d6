package store

import (
	"context"
	"fmt"

	"github.com/pavelanni/markbook/internal/model"
)

// CompletedRecords returns every completed record visible to userID (all
// records when userID is nil), newest first.
func CompletedRecords(ctx context.Context, repo RecordRepository, userID *int64) ([]model.ExamRecord, error) {
	records, err := repo.ListRecords(ctx, RecordFilter{UserID: userID, Status: model.StatusCompleted})
	if err != nil {
		return nil, fmt.Errorf("list completed records: %w", err)
	}
	return records, nil
}

// Summaries converts records to their list form and returns the mean score
// of those that have one.
func Summaries(records []model.ExamRecord) ([]model.RecordSummary, float64) {
	out := make([]model.RecordSummary, 0, len(records))
	var total, scored int
	for i := range records {
		out = append(out, records[i].Summary())
		if records[i].Score != nil {
			total += *records[i].Score
			scored++
		}
	}
	if scored == 0 {
		return out, 0
	}
	return out, float64(total) / float64(scored)
}
