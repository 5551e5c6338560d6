package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"

	appI18n "github.com/pavelanni/markbook/internal/i18n"
	"github.com/pavelanni/markbook/internal/llm"
	"github.com/pavelanni/markbook/internal/model"
	"github.com/pavelanni/markbook/internal/store"
	"github.com/pavelanni/markbook/internal/validate"
)

const defaultAnalyzeTimeout = 5 * time.Minute

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store    store.Backend
	provider llm.Provider
	config   model.ServerConfig
	validate *validate.Validator
	limiter  *RateLimiter
}

// New creates a new Handler and makes sure the upload directory exists.
func New(s store.Backend, p llm.Provider, cfg model.ServerConfig) (*Handler, error) {
	if cfg.UploadDir == "" {
		cfg.UploadDir = "uploads"
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = model.DefaultMaxUploadBytes
	}
	if cfg.AnalyzeTimeout <= 0 {
		cfg.AnalyzeTimeout = defaultAnalyzeTimeout
	}
	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Handler{
		store:    s,
		provider: p,
		config:   cfg,
		validate: validate.New(),
		limiter:  NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
	}, nil
}

// Routes registers all HTTP routes under /api.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Use(h.loadUser)

		r.Get("/healthz", h.handleHealth)
		r.Handle("/uploads/*", http.StripPrefix("/api/uploads/", http.FileServer(http.Dir(h.config.UploadDir))))

		r.Post("/auth/register", h.handleRegister)
		r.Post("/auth/login", h.handleLogin)
		r.Post("/auth/logout", h.handleLogout)
		r.With(h.requireAuth).Get("/auth/me", h.handleMe)

		r.Group(func(r chi.Router) {
			if h.config.RequireAuth {
				r.Use(h.requireAuth)
			}
			r.Post("/upload", h.handleUpload)
			r.Get("/records", h.handleListRecords)
			r.Get("/records/{id}", h.handleGetRecord)
			r.Get("/wrong-questions", h.handleWrongQuestions)
			r.Get("/wrong-questions/classified", h.handleClassifiedWrongQuestions)

			r.Group(func(r chi.Router) {
				r.Use(h.rateLimit)
				r.Post("/records/{id}/count-questions", h.handleCountQuestions)
				r.Post("/records/{id}/ocr", h.handleOCR)
				r.Post("/records/{id}/analyze", h.handleAnalyze)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth, requireRole(model.UserRoleAdmin))
			r.Post("/admin/users", h.handleCreateUser)
			r.Get("/admin/records", h.handleAdminRecords)
		})
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, response{Success: true, Message: "ok"})
}

// response is the envelope shared by every JSON reply.
type response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   any    `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// fail writes a localized error envelope.
func fail(w http.ResponseWriter, r *http.Request, status int, msgID string) {
	failData(w, r, status, msgID, nil)
}

func failData(w http.ResponseWriter, r *http.Request, status int, msgID string, data map[string]any) {
	msg := appI18n.Td(r.Context(), msgID, data)
	writeJSON(w, status, response{Success: false, Error: msg, Message: msg})
}

// failRequest reports a bad request body, listing field errors when there are any.
func failRequest(w http.ResponseWriter, r *http.Request, err error) {
	var fe *validate.FieldsError
	if errors.As(err, &fe) {
		writeJSON(w, http.StatusBadRequest, response{
			Success: false,
			Message: appI18n.T(r.Context(), "ErrInvalidRequest"),
			Error:   fe.Fields,
		})
		return
	}
	fail(w, r, http.StatusBadRequest, "ErrInvalidRequest")
}

// failProvider maps a provider failure to a stable status and message.
func (h *Handler) failProvider(w http.ResponseWriter, r *http.Request, err error, fallbackMsgID string) {
	status, msgID := http.StatusInternalServerError, fallbackMsgID
	switch {
	case errors.Is(err, llm.ErrUnauthorized):
		status, msgID = http.StatusUnauthorized, "ErrProviderUnauthorized"
	case errors.Is(err, llm.ErrRateLimited):
		status, msgID = http.StatusTooManyRequests, "ErrProviderRateLimited"
	case errors.Is(err, llm.ErrOverloaded):
		status, msgID = http.StatusServiceUnavailable, "ErrProviderOverloaded"
	case errors.Is(err, llm.ErrMalformedResponse):
		status, msgID = http.StatusBadGateway, "ErrProviderMalformed"
	case errors.Is(err, context.DeadlineExceeded):
		status, msgID = http.StatusGatewayTimeout, "ErrProviderTimeout"
	}
	slog.Error("provider call failed", "provider", h.provider.Name(), "status", status, "error", err)
	fail(w, r, status, msgID)
}
