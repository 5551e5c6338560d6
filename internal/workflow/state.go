// Package workflow drives one client session through upload, question
// count, analysis and display of an exam paper.
package workflow

import (
	"errors"

	"github.com/pavelanni/markbook/internal/model"
)

var (
	// ErrBusy is returned when an operation starts while another is in flight.
	ErrBusy = errors.New("an operation is already in progress")
	// ErrNothingToRetry is returned by RetryAnalysis when there is no failed
	// record to analyze again.
	ErrNothingToRetry = errors.New("nothing to retry")
	// ErrStaleSession is returned when persisted state has an unknown or
	// outdated shape.
	ErrStaleSession = errors.New("stale session state")
)

// AppState is the top-level state of the workflow.
type AppState string

const (
	StateIdle       AppState = "idle"
	StateUploading  AppState = "uploading"
	StateProcessing AppState = "processing"
	StateCompleted  AppState = "completed"
	StateError      AppState = "error"
)

// Step is the pipeline stage shown to the user.
type Step string

const (
	StepUpload     Step = "upload"
	StepOCR        Step = "ocr"
	StepAnalysis   Step = "analysis"
	StepGenerating Step = "generating"
	StepResults    Step = "results"
)

// Progress is what the user sees while a paper is processed.
type Progress struct {
	Step             Step   `json:"step" validate:"required,oneof=upload ocr analysis generating results"`
	Percent          int    `json:"progress" validate:"gte=0,lte=100"`
	Message          string `json:"message"`
	CurrentQuestion  int    `json:"currentQuestion,omitempty" validate:"gte=0"`
	TotalQuestions   int    `json:"totalQuestions,omitempty" validate:"gte=0"`
	QuestionProgress string `json:"questionProgress,omitempty"`
}

// State is a snapshot of the workflow.
type State struct {
	AppState       AppState
	CurrentStep    Step
	Progress       Progress
	ExamPaperID    string
	Results        *model.AnalysisResult
	ServerImageURL string
	FileName       string
	MIMEType       string
	QuestionCount  *model.QuestionCount
	// Error is the user-facing message of the last failure.
	Error string
	// Notice is a transient hint that does not change the state.
	Notice          string
	ResumeAvailable bool
	IsProcessing    bool
	// PreviewPath points at the local preview of the selected file. It is
	// never persisted.
	PreviewPath string
}

func initialState() State {
	return State{
		AppState:    StateIdle,
		CurrentStep: StepUpload,
		Progress:    Progress{Step: StepUpload},
	}
}

// persistent reports whether a state is worth saving for a later restore.
func (s State) persistent() bool {
	switch s.AppState {
	case StateUploading, StateProcessing, StateError:
		return true
	}
	return false
}

// CanRetry reports whether RetryAnalysis would start a new attempt.
func (s State) CanRetry() bool {
	return s.AppState == StateError && s.ExamPaperID != "" && !s.IsProcessing
}

// File is a file the user selected.
type File struct {
	Name     string
	MIMEType string
	Data     []byte
}
