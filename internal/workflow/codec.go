package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/pavelanni/markbook/internal/model"
	"github.com/pavelanni/markbook/internal/validate"
)

// CurrentVersion is the version written by Encode. Decode rejects others.
const CurrentVersion = 2

// Key is the session-store key of the current state shape.
const Key = "markbook.workflow.v2"

// LegacyKeys are keys of older state shapes. They are deleted on restore.
var LegacyKeys = []string{"markbook.workflow", "markbook.workflow.v1", "examState"}

type persistedState struct {
	AppState       AppState              `json:"appState" validate:"required,oneof=idle uploading processing completed error"`
	CurrentStep    Step                  `json:"currentStep" validate:"required,oneof=upload ocr analysis generating results"`
	Progress       Progress              `json:"progress"`
	ExamPaperID    string                `json:"examPaperId,omitempty"`
	Results        *model.AnalysisResult `json:"results,omitempty"`
	ServerImageURL string                `json:"serverImageUrl,omitempty"`
	FileName       string                `json:"fileName,omitempty"`
	MIMEType       string                `json:"mimeType,omitempty"`
	Error          string                `json:"error,omitempty"`
}

type envelope struct {
	Version int             `json:"version"`
	State   *persistedState `json:"state" validate:"required"`
}

// Codec converts the persistable part of State to and from bytes.
type Codec struct {
	validate *validate.Validator
}

func NewCodec() *Codec {
	return &Codec{validate: validate.New()}
}

// Encode serializes the persistable subset of s.
func (c *Codec) Encode(s State) ([]byte, error) {
	env := envelope{
		Version: CurrentVersion,
		State: &persistedState{
			AppState:       s.AppState,
			CurrentStep:    s.CurrentStep,
			Progress:       s.Progress,
			ExamPaperID:    s.ExamPaperID,
			Results:        s.Results,
			ServerImageURL: s.ServerImageURL,
			FileName:       s.FileName,
			MIMEType:       s.MIMEType,
			Error:          s.Error,
		},
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode session state: %w", err)
	}
	return data, nil
}

// Decode parses persisted state. Unknown fields, another version or invalid
// values yield an error wrapping ErrStaleSession.
func (c *Codec) Decode(data []byte) (State, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var env envelope
	if err := dec.Decode(&env); err != nil {
		return State{}, fmt.Errorf("%w: %w", ErrStaleSession, err)
	}
	if env.Version != CurrentVersion {
		return State{}, fmt.Errorf("%w: version %d, want %d", ErrStaleSession, env.Version, CurrentVersion)
	}
	if err := c.validate.Struct(env, "en"); err != nil {
		return State{}, fmt.Errorf("%w: %w", ErrStaleSession, err)
	}

	p := env.State
	return State{
		AppState:       p.AppState,
		CurrentStep:    p.CurrentStep,
		Progress:       p.Progress,
		ExamPaperID:    p.ExamPaperID,
		Results:        p.Results,
		ServerImageURL: p.ServerImageURL,
		FileName:       p.FileName,
		MIMEType:       p.MIMEType,
		Error:          p.Error,
	}, nil
}
