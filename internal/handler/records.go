package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	appI18n "github.com/pavelanni/markbook/internal/i18n"
	"github.com/pavelanni/markbook/internal/llm"
	"github.com/pavelanni/markbook/internal/model"
	"github.com/pavelanni/markbook/internal/store"
)

// multipartOverhead leaves room for boundaries and headers around the file part.
const multipartOverhead = 1 << 20

type uploadResponse struct {
	response
	RecordID string `json:"recordId"`
	ImageURL string `json:"imageUrl,omitempty"`
}

type countResponse struct {
	response
	model.QuestionCount
}

type ocrResponse struct {
	response
	Text string `json:"text"`
}

type analyzeResponse struct {
	response
	Result *model.AnalysisResult `json:"result"`
}

type recordResponse struct {
	response
	Record model.RecordView `json:"record"`
}

type recordsResponse struct {
	response
	Records []model.RecordSummary `json:"records"`
}

func (h *Handler) failUpload(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, model.ErrFileTooLarge):
		failData(w, r, http.StatusRequestEntityTooLarge, "ErrFileTooLarge",
			map[string]any{"Limit": h.config.MaxUploadBytes >> 20})
	case errors.Is(err, model.ErrUnsupportedType):
		fail(w, r, http.StatusBadRequest, "ErrUnsupportedType")
	case errors.Is(err, model.ErrEmptyFile):
		fail(w, r, http.StatusBadRequest, "ErrEmptyFile")
	default:
		fail(w, r, http.StatusBadRequest, "ErrNoFile")
	}
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.failUpload(w, r, model.ErrFileTooLarge)
			return
		}
		fail(w, r, http.StatusBadRequest, "ErrNoFile")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		fail(w, r, http.StatusBadRequest, "ErrNoFile")
		return
	}
	defer file.Close()

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = sniffMIME(file)
	}
	if err := model.CheckUpload(header.Filename, mimeType, header.Size, h.config.MaxUploadBytes); err != nil {
		h.failUpload(w, r, err)
		return
	}
	if model.IsPDF(header.Filename, mimeType) {
		mimeType = "application/pdf"
	}

	name := uuid.NewString() + strings.ToLower(filepath.Ext(header.Filename))
	path := filepath.Join(h.config.UploadDir, name)
	if err := saveFile(path, file); err != nil {
		slog.Error("failed to save upload", "path", path, "error", err)
		fail(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}

	rec, err := h.store.CreateRecord(r.Context(), model.ExamRecord{
		UserID:   model.UserIDFromContext(r.Context()),
		Filename: header.Filename,
		FilePath: path,
		ImageURL: "/api/uploads/" + name,
		MIMEType: mimeType,
	})
	if err != nil {
		slog.Error("failed to create record", "error", err)
		_ = os.Remove(path)
		fail(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}

	slog.Info("paper uploaded", "record_id", rec.ID, "filename", rec.Filename, "size", header.Size)
	writeJSON(w, http.StatusCreated, uploadResponse{
		response: response{Success: true, Message: appI18n.T(r.Context(), "UploadSuccess")},
		RecordID: rec.ID,
		ImageURL: rec.ImageURL,
	})
}

func sniffMIME(f io.ReadSeeker) string {
	buf := make([]byte, 512)
	n, _ := io.ReadFull(f, buf)
	_, _ = f.Seek(0, io.SeekStart)
	return http.DetectContentType(buf[:n])
}

func saveFile(path string, src io.Reader) error {
	dst, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		_ = os.Remove(path)
		return err
	}
	return dst.Close()
}

// scope returns the user whose records a request may see: the caller, or
// everyone for admins and anonymous requests.
func scope(r *http.Request) *int64 {
	u := model.UserFromContext(r.Context())
	if u == nil || u.Role == model.UserRoleAdmin {
		return nil
	}
	id := u.ID
	return &id
}

// loadRecord fetches the {id} record, hiding records owned by other users.
func (h *Handler) loadRecord(w http.ResponseWriter, r *http.Request) (*model.ExamRecord, bool) {
	rec, err := h.store.GetRecord(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		fail(w, r, http.StatusNotFound, "ErrRecordNotFound")
		return nil, false
	}
	if err != nil {
		slog.Error("failed to get record", "error", err)
		fail(w, r, http.StatusInternalServerError, "ErrInternal")
		return nil, false
	}
	if owner := scope(r); owner != nil && (rec.UserID == nil || *rec.UserID != *owner) {
		fail(w, r, http.StatusNotFound, "ErrRecordNotFound")
		return nil, false
	}
	return rec, true
}

// readDocument loads the stored file of rec.
func (h *Handler) readDocument(w http.ResponseWriter, r *http.Request, rec *model.ExamRecord) (llm.Document, bool) {
	data, err := os.ReadFile(rec.FilePath)
	if err != nil {
		slog.Warn("record file unavailable", "record_id", rec.ID, "path", rec.FilePath, "error", err)
		fail(w, r, http.StatusNotFound, "ErrFileMissing")
		return llm.Document{}, false
	}
	return llm.Document{Data: data, MIMEType: rec.MIMEType, Name: rec.Filename}, true
}

// setStatus moves a record to status, reporting an illegal move as a conflict.
func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request, id string, status model.RecordStatus) bool {
	_, err := h.store.UpdateRecord(r.Context(), id, func(rec *model.ExamRecord) error {
		rec.Status = status
		return nil
	})
	switch {
	case err == nil:
		return true
	case errors.Is(err, store.ErrInvalidTransition):
		fail(w, r, http.StatusConflict, "ErrRecordState")
	default:
		slog.Error("failed to update record", "record_id", id, "error", err)
		fail(w, r, http.StatusInternalServerError, "ErrInternal")
	}
	return false
}

// markError records a failed step. It runs on a fresh context so that a
// cancelled request still leaves the record in error.
func (h *Handler) markError(id string, cause error) {
	_, err := h.store.UpdateRecord(context.Background(), id, func(rec *model.ExamRecord) error {
		rec.Status = model.StatusError
		return nil
	})
	if err != nil {
		slog.Error("failed to mark record as error", "record_id", id, "error", err)
	}
	slog.Warn("record processing failed", "record_id", id, "error", cause)
}

func (h *Handler) handleCountQuestions(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.loadRecord(w, r)
	if !ok {
		return
	}
	doc, ok := h.readDocument(w, r, rec)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.config.AnalyzeTimeout)
	defer cancel()
	qc, err := llm.CountQuestions(ctx, h.provider, doc, rec.OriginalText)
	if err != nil {
		h.failProvider(w, r, err, "ErrCountUnavailable")
		return
	}
	if !qc.Known() {
		writeJSON(w, http.StatusUnprocessableEntity, countResponse{
			response:      response{Success: false, Error: qc.Warning},
			QuestionCount: qc,
		})
		return
	}
	slog.Info("questions counted", "record_id", rec.ID, "count", *qc.Count, "method", qc.Method)
	writeJSON(w, http.StatusOK, countResponse{response: response{Success: true}, QuestionCount: qc})
}

func (h *Handler) handleOCR(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.loadRecord(w, r)
	if !ok {
		return
	}
	if rec.OriginalText != "" && (rec.Status == model.StatusOCRCompleted || rec.Status == model.StatusCompleted) {
		writeJSON(w, http.StatusOK, ocrResponse{response: response{Success: true}, Text: rec.OriginalText})
		return
	}
	doc, ok := h.readDocument(w, r, rec)
	if !ok {
		return
	}
	if !h.setStatus(w, r, rec.ID, model.StatusProcessing) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.config.AnalyzeTimeout)
	defer cancel()
	text, err := h.provider.ExtractText(ctx, doc)
	if err != nil {
		h.markError(rec.ID, err)
		h.failProvider(w, r, err, "ErrOCRFailed")
		return
	}

	_, err = h.store.UpdateRecord(r.Context(), rec.ID, func(rec *model.ExamRecord) error {
		rec.OriginalText = text
		rec.Status = model.StatusOCRCompleted
		return nil
	})
	if err != nil {
		slog.Error("failed to store ocr text", "record_id", rec.ID, "error", err)
		fail(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}
	writeJSON(w, http.StatusOK, ocrResponse{
		response: response{Success: true, Message: appI18n.T(r.Context(), "OCRSuccess")},
		Text:     text,
	})
}

func (h *Handler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.loadRecord(w, r)
	if !ok {
		return
	}
	if rec.Status == model.StatusCompleted {
		res, err := rec.Result()
		if err != nil || res == nil {
			slog.Error("stored result unreadable", "record_id", rec.ID, "error", err)
			fail(w, r, http.StatusInternalServerError, "ErrInternal")
			return
		}
		writeJSON(w, http.StatusOK, analyzeResponse{response: response{Success: true}, Result: res})
		return
	}

	doc, ok := h.readDocument(w, r, rec)
	if !ok {
		return
	}
	if !h.setStatus(w, r, rec.ID, model.StatusAnalyzing) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.config.AnalyzeTimeout)
	defer cancel()
	var (
		res *model.AnalysisResult
		err error
	)
	if rec.OriginalText != "" {
		res, err = h.provider.AnalyzeText(ctx, rec.OriginalText)
	} else {
		res, err = h.provider.Analyze(ctx, doc)
	}
	if err != nil {
		h.markError(rec.ID, err)
		h.failProvider(w, r, err, "ErrAnalysisFailed")
		return
	}

	updated, err := h.store.UpdateRecord(r.Context(), rec.ID, func(rec *model.ExamRecord) error {
		return rec.Complete(res)
	})
	if err != nil {
		slog.Error("failed to store analysis", "record_id", rec.ID, "error", err)
		h.markError(rec.ID, err)
		fail(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}
	slog.Info("paper analyzed", "record_id", rec.ID, "score", *updated.Score, "questions", len(res.QuestionAnalysis))

	if h.config.CleanupUploads {
		if err := os.Remove(rec.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("failed to clean up upload", "path", rec.FilePath, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, analyzeResponse{
		response: response{Success: true, Message: appI18n.T(r.Context(), "AnalysisSuccess")},
		Result:   res,
	})
}

func (h *Handler) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.loadRecord(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, recordResponse{response: response{Success: true}, Record: model.NewRecordView(*rec)})
}

func (h *Handler) handleListRecords(w http.ResponseWriter, r *http.Request) {
	h.listRecords(w, r, store.RecordFilter{UserID: scope(r)})
}

func (h *Handler) listRecords(w http.ResponseWriter, r *http.Request, filter store.RecordFilter) {
	records, err := h.store.ListRecords(r.Context(), filter)
	if err != nil {
		slog.Error("failed to list records", "error", err)
		fail(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}
	summaries, _ := store.Summaries(records)
	writeJSON(w, http.StatusOK, recordsResponse{response: response{Success: true}, Records: summaries})
}
