package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// RecordStatus is the server-side processing status of an uploaded paper.
type RecordStatus string

const (
	StatusUploaded     RecordStatus = "uploaded"
	StatusProcessing   RecordStatus = "processing"
	StatusOCRCompleted RecordStatus = "ocr_completed"
	StatusAnalyzing    RecordStatus = "analyzing"
	StatusCompleted    RecordStatus = "completed"
	StatusError        RecordStatus = "error"
)

var statusRank = map[RecordStatus]int{
	StatusUploaded:     0,
	StatusProcessing:   1,
	StatusOCRCompleted: 2,
	StatusAnalyzing:    3,
	StatusCompleted:    4,
}

// Valid reports whether s is a known status.
func (s RecordStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok || s == StatusError
}

// CanTransition reports whether a record may move from one status to another.
// Statuses only advance, except that any status may drop to error and a
// record in error may be retried from processing or analyzing.
func CanTransition(from, to RecordStatus) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if to == StatusError {
		return true
	}
	if from == StatusError {
		return to == StatusProcessing || to == StatusAnalyzing || to == StatusOCRCompleted
	}
	return statusRank[to] >= statusRank[from]
}

// ExamRecord is one uploaded exam paper and its processing state.
type ExamRecord struct {
	ID             string       `json:"id"`
	UserID         *int64       `json:"userId,omitempty"`
	Filename       string       `json:"filename"`
	FilePath       string       `json:"filePath"`
	ImageURL       string       `json:"imageUrl,omitempty"`
	MIMEType       string       `json:"mimeType,omitempty"`
	OriginalText   string       `json:"originalText,omitempty"`
	AnalysisResult string       `json:"-"`
	Score          *int         `json:"score,omitempty"`
	Status         RecordStatus `json:"status"`
	UploadedAt     time.Time    `json:"uploadedAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

// Result decodes the stored analysis result, or returns nil when none is stored.
func (r *ExamRecord) Result() (*AnalysisResult, error) {
	if r.AnalysisResult == "" {
		return nil, nil
	}
	var res AnalysisResult
	if err := json.Unmarshal([]byte(r.AnalysisResult), &res); err != nil {
		return nil, fmt.Errorf("decode analysis result for %s: %w", r.ID, err)
	}
	return &res, nil
}

// Complete stores a normalized result and moves the record to completed.
func (r *ExamRecord) Complete(res *AnalysisResult) error {
	res.Normalize()
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode analysis result: %w", err)
	}
	score := res.OverallScore
	r.AnalysisResult = string(data)
	r.Score = &score
	r.Status = StatusCompleted
	return nil
}

// RecordView is the client-facing form of a record with its result decoded.
type RecordView struct {
	ExamRecord
	AnalysisResult *AnalysisResult `json:"analysisResult,omitempty"`
}

// NewRecordView decodes the stored result into a view. A corrupt result is
// dropped rather than failing the whole read.
func NewRecordView(r ExamRecord) RecordView {
	res, err := r.Result()
	if err != nil {
		res = nil
	}
	return RecordView{ExamRecord: r, AnalysisResult: res}
}

// RecordSummary is the list-endpoint form of a record.
type RecordSummary struct {
	ID         string       `json:"id"`
	Filename   string       `json:"filename"`
	ImageURL   string       `json:"imageUrl,omitempty"`
	Status     RecordStatus `json:"status"`
	Score      *int         `json:"score,omitempty"`
	Grade      Grade        `json:"grade,omitempty"`
	UploadedAt time.Time    `json:"uploadedAt"`
}

// Summary builds the list-endpoint form of a record.
func (r *ExamRecord) Summary() RecordSummary {
	s := RecordSummary{
		ID:         r.ID,
		Filename:   r.Filename,
		ImageURL:   r.ImageURL,
		Status:     r.Status,
		Score:      r.Score,
		UploadedAt: r.UploadedAt,
	}
	if res, err := r.Result(); err == nil && res != nil {
		s.Grade = res.Grade
	}
	return s
}
