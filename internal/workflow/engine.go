package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pavelanni/markbook/internal/apiclient"
	appI18n "github.com/pavelanni/markbook/internal/i18n"
	"github.com/pavelanni/markbook/internal/imageprep"
	"github.com/pavelanni/markbook/internal/model"
)

// API is the part of the markbook server the engine drives.
type API interface {
	Upload(ctx context.Context, filename, mimeType string, data []byte) (apiclient.UploadResult, error)
	CountQuestions(ctx context.Context, id string) (model.QuestionCount, error)
	ExtractText(ctx context.Context, id string) (string, error)
	Analyze(ctx context.Context, id string) (*model.AnalysisResult, error)
}

var _ API = (*apiclient.Client)(nil)

var errCountUnavailable = errors.New("question count unavailable")

// storeTimeout bounds each session-store call.
const storeTimeout = 5 * time.Second

// Config tunes an Engine.
type Config struct {
	Retry     RetryPolicy
	Estimator EstimatorConfig
	// MaxUploadBytes rejects larger files before anything is sent.
	MaxUploadBytes int64
	// MaxDimension bounds the longer side of uploaded images. Zero uploads
	// images unchanged.
	MaxDimension int
	JPEGQuality  int
	// CorrectionPause keeps the "count corrected" message visible before
	// results are shown.
	CorrectionPause time.Duration
	// Lang selects the message catalog.
	Lang     string
	Previews PreviewFactory
}

func DefaultConfig() Config {
	return Config{
		Retry:           DefaultRetryPolicy(),
		Estimator:       DefaultEstimatorConfig(),
		MaxUploadBytes:  model.DefaultMaxUploadBytes,
		MaxDimension:    imageprep.DefaultMaxDimension,
		JPEGQuality:     imageprep.DefaultQuality,
		CorrectionPause: time.Second,
	}
}

// Engine is the state machine of one client session. Its methods are safe
// for concurrent use, but only one upload or analysis runs at a time.
type Engine struct {
	api   API
	store SessionStore
	codec *Codec
	cfg   Config
	msgs  context.Context

	mu      sync.Mutex
	state   State
	preview Preview
	online  bool
	subs    map[int]func(State)
	nextSub int

	// notifyMu keeps subscriber deliveries in state order.
	notifyMu sync.Mutex
}

// New creates an idle engine. Call Restore to pick up a saved session.
func New(api API, store SessionStore, cfg Config) *Engine {
	msgs := context.Background()
	if cfg.Lang != "" {
		msgs = appI18n.WithLang(msgs, cfg.Lang)
	}
	return &Engine{
		api:    api,
		store:  store,
		codec:  NewCodec(),
		cfg:    cfg,
		msgs:   msgs,
		state:  initialState(),
		online: true,
		subs:   make(map[int]func(State)),
	}
}

// State returns a snapshot of the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Subscribe registers fn to receive every new state and returns a function
// that removes it. fn runs synchronously. It may read State and Online but
// must not start operations on the engine.
func (e *Engine) Subscribe(fn func(State)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.subs, id)
	}
}

// update applies fn to the state, saves or clears the persisted copy and
// notifies subscribers. The state change stands even when fn returns an
// error; the error is passed through.
//
// notifyMu is always taken before mu, and mu is released before the store
// write and the deliveries, so subscribers may call State and Online.
func (e *Engine) update(fn func(*State) error) error {
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()

	e.mu.Lock()
	err := fn(&e.state)
	snap := e.state
	subs := make([]func(State), 0, len(e.subs))
	for _, s := range e.subs {
		subs = append(subs, s)
	}
	e.mu.Unlock()

	e.persist(snap)
	for _, s := range subs {
		s(snap)
	}
	return err
}

// persist must be called with e.notifyMu held so saves stay in state order.
func (e *Engine) persist(s State) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if !s.persistent() {
		if err := e.store.Delete(ctx, Key); err != nil {
			slog.Warn("failed to clear saved session", "error", err)
		}
		return
	}
	data, err := e.codec.Encode(s)
	if err != nil {
		slog.Error("failed to encode session", "error", err)
		return
	}
	if err := e.store.Save(ctx, Key, data); err != nil {
		slog.Warn("failed to save session", "error", err)
	}
}

func (e *Engine) t(msgID string) string { return appI18n.T(e.msgs, msgID) }

func (e *Engine) td(msgID string, data map[string]any) string { return appI18n.Td(e.msgs, msgID, data) }

// begin takes the processing guard. A busy engine only gets a notice.
func (e *Engine) begin(check func(*State) error) error {
	return e.update(func(s *State) error {
		if s.IsProcessing {
			s.Notice = e.t("NoticeBusy")
			return ErrBusy
		}
		if check != nil {
			if err := check(s); err != nil {
				return err
			}
		}
		s.IsProcessing = true
		s.Notice = ""
		return nil
	})
}

func (e *Engine) end() {
	_ = e.update(func(s *State) error {
		s.IsProcessing = false
		return nil
	})
}

func (e *Engine) progress(step Step, percent int, msg string) {
	_ = e.update(func(s *State) error {
		s.CurrentStep = step
		s.Progress.Step = step
		s.Progress.Percent = percent
		s.Progress.Message = msg
		return nil
	})
}

func (e *Engine) fail(msg string, cause error) error {
	_ = e.update(func(s *State) error {
		slog.Warn("workflow failed", "state", s.AppState, "step", s.CurrentStep, "record_id", s.ExamPaperID, "error", cause)
		s.AppState = StateError
		s.Error = msg
		s.Progress.Message = msg
		s.ResumeAvailable = s.ExamPaperID != ""
		return nil
	})
	return cause
}

// failureMessage picks the user message for an error that ended a step.
func (e *Engine) failureMessage(err error) string {
	code := apiclient.StatusCode(err)
	switch {
	case code >= 500 && code != 503:
		return e.t("ErrMsgTransient")
	case errors.Is(err, context.DeadlineExceeded):
		return e.t("ErrMsgNetwork")
	}
	return apiclient.UserMessage(e.msgs, err)
}

func (e *Engine) withRetry(ctx context.Context, op func(context.Context) error) error {
	return e.cfg.Retry.Do(ctx, op, func(n, max int) {
		_ = e.update(func(s *State) error {
			s.Progress.Message = e.td("ProgressReconnecting", map[string]any{"Attempt": n, "Max": max})
			return nil
		})
	})
}

// SelectFile uploads f and analyzes it. It returns when the workflow reaches
// completed or error, or ErrBusy without any effect but a notice.
func (e *Engine) SelectFile(ctx context.Context, f File) error {
	if err := e.begin(nil); err != nil {
		return err
	}
	defer e.end()

	_ = e.update(func(s *State) error {
		*s = State{
			AppState:     StateUploading,
			CurrentStep:  StepUpload,
			Progress:     Progress{Step: StepUpload, Percent: 5, Message: e.t("ProgressPreparing")},
			FileName:     f.Name,
			MIMEType:     f.MIMEType,
			IsProcessing: true,
			PreviewPath:  e.replacePreview(f),
		}
		return nil
	})

	if err := model.CheckUpload(f.Name, f.MIMEType, int64(len(f.Data)), e.cfg.MaxUploadBytes); err != nil {
		return e.fail(apiclient.UserMessage(e.msgs, err), err)
	}

	name, mimeType, data := e.prepare(f)
	_ = e.update(func(s *State) error {
		s.FileName = name
		s.MIMEType = mimeType
		s.Progress.Percent = 10
		s.Progress.Message = e.t("ProgressUploading")
		return nil
	})

	var up apiclient.UploadResult
	err := e.withRetry(ctx, func(ctx context.Context) error {
		var err error
		up, err = e.api.Upload(ctx, name, mimeType, data)
		return err
	})
	if err != nil {
		return e.fail(e.failureMessage(err), fmt.Errorf("upload: %w", err))
	}

	slog.Info("paper uploaded", "record_id", up.RecordID, "filename", name, "bytes", len(data))
	_ = e.update(func(s *State) error {
		s.ExamPaperID = up.RecordID
		s.ServerImageURL = up.ImageURL
		s.AppState = StateProcessing
		s.Progress = Progress{Step: StepUpload, Percent: 20, Message: e.t("ProgressUploaded")}
		return nil
	})
	return e.analyze(ctx)
}

// RetryAnalysis analyzes the failed record again without uploading it.
func (e *Engine) RetryAnalysis(ctx context.Context) error {
	err := e.begin(func(s *State) error {
		if s.AppState != StateError || s.ExamPaperID == "" {
			s.Notice = e.t("NoticeNothingToRetry")
			return ErrNothingToRetry
		}
		return nil
	})
	if err != nil {
		return err
	}
	defer e.end()

	_ = e.update(func(s *State) error {
		s.AppState = StateProcessing
		s.Error = ""
		s.ResumeAvailable = false
		s.Results = nil
		s.QuestionCount = nil
		s.Progress = Progress{Step: StepUpload, Percent: 20, Message: e.t("ProgressUploaded")}
		return nil
	})
	return e.analyze(ctx)
}

// analyze runs OCR for PDFs, the question count and the grading call. The
// caller holds the processing guard.
func (e *Engine) analyze(ctx context.Context) error {
	st := e.State()
	id := st.ExamPaperID

	if model.IsPDF(st.FileName, st.MIMEType) {
		e.progress(StepOCR, 30, e.t("ProgressOCR"))
		err := e.withRetry(ctx, func(ctx context.Context) error {
			_, err := e.api.ExtractText(ctx, id)
			return err
		})
		if err != nil {
			return e.fail(e.failureMessage(err), fmt.Errorf("extract text: %w", err))
		}
	}

	e.progress(StepAnalysis, 35, e.t("ProgressCounting"))
	var qc model.QuestionCount
	err := e.withRetry(ctx, func(ctx context.Context) error {
		var err error
		qc, err = e.api.CountQuestions(ctx, id)
		return err
	})
	switch {
	case err == nil && !qc.Known():
		return e.fail(e.t("ErrMsgCountUnavailable"), errCountUnavailable)
	case err != nil:
		return e.fail(e.failureMessage(err), fmt.Errorf("count questions: %w", err))
	}
	total := *qc.Count

	_ = e.update(func(s *State) error {
		s.QuestionCount = &qc
		if qc.Confidence != model.ConfidenceHigh || qc.Warning != "" {
			warning := qc.Warning
			if warning == "" {
				warning = string(qc.Confidence)
			}
			s.Notice = e.td("NoticeLowConfidence", map[string]any{"Warning": warning})
		}
		s.Progress = Progress{
			Step:           StepAnalysis,
			Percent:        40,
			Message:        appI18n.Tp(e.msgs, "ProgressCounted", total),
			TotalQuestions: total,
		}
		return nil
	})

	e.showQuestion(1, total, e.t("ProgressAnalyzing"))
	est := StartEstimator(e.cfg.Estimator, total, func(current int) {
		e.showQuestion(current, total, "")
	})
	defer est.Stop()

	var res *model.AnalysisResult
	err = e.withRetry(ctx, func(ctx context.Context) error {
		var err error
		res, err = e.api.Analyze(ctx, id)
		return err
	})
	est.Stop()
	if err != nil {
		return e.fail(e.failureMessage(err), fmt.Errorf("analyze: %w", err))
	}

	actual := len(res.QuestionAnalysis)
	if actual > 0 && actual != total {
		_ = e.update(func(s *State) error {
			s.Progress.Message = e.td("ProgressCountCorrected", map[string]any{"Counted": total, "Actual": actual})
			s.Progress.TotalQuestions = actual
			s.Progress.CurrentQuestion = actual
			s.Progress.QuestionProgress = e.td("ProgressQuestion", map[string]any{"Current": actual, "Total": actual})
			return nil
		})
		if e.cfg.CorrectionPause > 0 {
			_ = sleepCtx(ctx, e.cfg.CorrectionPause)
		}
	}

	e.progress(StepGenerating, 95, e.t("ProgressGenerating"))
	_ = e.update(func(s *State) error {
		s.AppState = StateCompleted
		s.CurrentStep = StepResults
		s.Results = res
		s.Error = ""
		s.ResumeAvailable = false
		s.Progress = Progress{
			Step:            StepResults,
			Percent:         100,
			Message:         e.t("ProgressDone"),
			CurrentQuestion: actual,
			TotalQuestions:  actual,
		}
		return nil
	})
	slog.Info("paper analyzed", "record_id", id, "score", res.OverallScore, "questions", actual)
	return nil
}

// showQuestion reports the simulated question in progress. An empty msg
// keeps the current message.
func (e *Engine) showQuestion(current, total int, msg string) {
	_ = e.update(func(s *State) error {
		if s.AppState != StateProcessing {
			return nil
		}
		s.Progress.CurrentQuestion = current
		s.Progress.TotalQuestions = total
		s.Progress.QuestionProgress = e.td("ProgressQuestion", map[string]any{"Current": current, "Total": total})
		s.Progress.Percent = 40 + 50*(current-1)/total
		if msg != "" {
			s.Progress.Message = msg
		}
		return nil
	})
}

// prepare downsizes images. Any failure keeps the original file.
func (e *Engine) prepare(f File) (name, mimeType string, data []byte) {
	if e.cfg.MaxDimension <= 0 || model.IsPDF(f.Name, f.MIMEType) {
		return f.Name, f.MIMEType, f.Data
	}
	res, err := imageprep.Downsize(f.Data, f.MIMEType, e.cfg.MaxDimension, e.cfg.JPEGQuality)
	if err != nil {
		slog.Debug("uploading original file", "filename", f.Name, "reason", err)
		return f.Name, f.MIMEType, f.Data
	}
	name = f.Name
	if res.MIMEType != f.MIMEType {
		name = strings.TrimSuffix(name, filepath.Ext(name)) + ".jpg"
		slog.Debug("image downsized", "from_bytes", len(f.Data), "to_bytes", len(res.Data), "width", res.Width, "height", res.Height)
	}
	return name, res.MIMEType, res.Data
}

// replacePreview releases the previous preview and creates one for f. It
// must be called with e.mu held.
func (e *Engine) replacePreview(f File) string {
	e.releasePreview()
	if e.cfg.Previews == nil {
		return ""
	}
	p, err := e.cfg.Previews.Create(f.Name, f.Data)
	if err != nil {
		slog.Warn("failed to create preview", "error", err)
		return ""
	}
	e.preview = p
	return p.Path()
}

func (e *Engine) releasePreview() {
	if e.preview == nil {
		return
	}
	if err := e.preview.Release(); err != nil {
		slog.Warn("failed to release preview", "path", e.preview.Path(), "error", err)
	}
	e.preview = nil
}

// StartOver returns to idle, dropping the preview and the saved session.
func (e *Engine) StartOver(context.Context) error {
	return e.update(func(s *State) error {
		if s.IsProcessing {
			s.Notice = e.t("NoticeBusy")
			return ErrBusy
		}
		e.releasePreview()
		*s = initialState()
		return nil
	})
}

// Restore loads the saved session. Interrupted uploads and analyses are
// never resumed: they come back as errors, with RetryAnalysis available when
// the record was uploaded. Legacy and unreadable saved states are deleted.
func (e *Engine) Restore(ctx context.Context) error {
	for _, k := range LegacyKeys {
		if err := e.store.Delete(ctx, k); err != nil {
			slog.Warn("failed to delete legacy session", "key", k, "error", err)
		}
	}

	data, err := e.store.Load(ctx, Key)
	if errors.Is(err, ErrNoSession) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	saved, err := e.codec.Decode(data)
	if err != nil {
		slog.Warn("discarding saved session", "error", err)
		if err := e.store.Delete(ctx, Key); err != nil {
			slog.Warn("failed to delete saved session", "error", err)
		}
		return nil
	}

	return e.update(func(s *State) error {
		if s.IsProcessing {
			return ErrBusy
		}
		*s = saved
		switch saved.AppState {
		case StateUploading, StateProcessing:
			s.AppState = StateError
			if saved.ExamPaperID != "" {
				s.Error = e.t("NoticeResumeAvailable")
			} else {
				s.Error = e.t("NoticeUploadInterrupted")
			}
			s.Notice = s.Error
			s.Progress.Message = s.Error
		}
		s.ResumeAvailable = s.AppState == StateError && s.ExamPaperID != ""
		slog.Info("session restored", "state", s.AppState, "record_id", s.ExamPaperID)
		return nil
	})
}

// SetOnline records a connectivity change. Going offline during an operation
// updates the progress message; coming back only suggests a retry.
func (e *Engine) SetOnline(online bool) {
	e.mu.Lock()
	changed := e.online != online
	e.online = online
	e.mu.Unlock()
	if !changed {
		return
	}
	_ = e.update(func(s *State) error {
		switch {
		case !online && s.IsProcessing:
			s.Progress.Message = e.t("ProgressOffline")
		case online && (s.IsProcessing || s.AppState == StateError):
			s.Notice = e.t("NoticeReconnected")
		}
		return nil
	})
}

// Online reports the last known connectivity.
func (e *Engine) Online() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.online
}

// Close releases the preview. The saved session is kept.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.releasePreview()
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
