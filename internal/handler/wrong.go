package handler

import (
	"log/slog"
	"net/http"

	"github.com/pavelanni/markbook/internal/model"
	"github.com/pavelanni/markbook/internal/wrongbook"
)

func (h *Handler) wrongQuestions(w http.ResponseWriter, r *http.Request) ([]model.WrongQuestion, bool) {
	wqs, err := wrongbook.Collect(r.Context(), h.store, scope(r))
	if err != nil {
		slog.Error("failed to collect wrong questions", "error", err)
		fail(w, r, http.StatusInternalServerError, "ErrInternal")
		return nil, false
	}
	return wqs, true
}

// handleWrongQuestions returns the flat wrong-question list as a bare array.
func (h *Handler) handleWrongQuestions(w http.ResponseWriter, r *http.Request) {
	wqs, ok := h.wrongQuestions(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, wqs)
}

func (h *Handler) handleClassifiedWrongQuestions(w http.ResponseWriter, r *http.Request) {
	wqs, ok := h.wrongQuestions(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, wrongbook.Classify(wqs))
}
