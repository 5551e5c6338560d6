package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	appI18n "github.com/pavelanni/markbook/internal/i18n"
	"github.com/pavelanni/markbook/internal/model"
	"github.com/pavelanni/markbook/internal/store"
)

const sessionCookieName = "session"

type registerRequest struct {
	Username    string `json:"username" validate:"required,min=3,max=32,alphanum"`
	Password    string `json:"password" validate:"required,min=6,max=72"`
	DisplayName string `json:"displayName" validate:"max=64"`
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type userResponse struct {
	response
	User *model.User `json:"user"`
}

// loadUser attaches the session's user to the request context when the
// session cookie is valid. Anonymous requests pass through unchanged.
func (h *Handler) loadUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookieName)
		if err != nil || cookie.Value == "" {
			next.ServeHTTP(w, r)
			return
		}
		authSess, err := h.store.GetAuthSession(r.Context(), cookie.Value)
		if err != nil {
			slog.Error("failed to get auth session", "error", err)
			next.ServeHTTP(w, r)
			return
		}
		if authSess == nil {
			next.ServeHTTP(w, r)
			return
		}
		user, err := h.store.GetUserByID(r.Context(), authSess.UserID)
		if err != nil || user == nil || !user.Active {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(model.ContextWithUser(r.Context(), user)))
	})
}

// requireAuth rejects requests without a logged-in user.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if model.UserFromContext(r.Context()) == nil {
			fail(w, r, http.StatusUnauthorized, "ErrUnauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireRole returns middleware that checks the user has one of the allowed roles.
func requireRole(allowed ...model.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := model.UserFromContext(r.Context())
			if user == nil {
				fail(w, r, http.StatusUnauthorized, "ErrUnauthorized")
				return
			}
			for _, role := range allowed {
				if user.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			fail(w, r, http.StatusForbidden, "ErrForbidden")
		})
	}
}

// createUser hashes the password and stores a new active account.
func (h *Handler) createUser(w http.ResponseWriter, r *http.Request, username, password, displayName string, role model.UserRole) (*model.User, bool) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("failed to hash password", "error", err)
		fail(w, r, http.StatusInternalServerError, "ErrInternal")
		return nil, false
	}
	if displayName == "" {
		displayName = username
	}
	u := model.User{
		Username:     username,
		DisplayName:  displayName,
		PasswordHash: string(hash),
		Role:         role,
		Active:       true,
	}
	id, err := h.store.CreateUser(r.Context(), u)
	if errors.Is(err, store.ErrDuplicate) {
		fail(w, r, http.StatusConflict, "ErrUsernameTaken")
		return nil, false
	}
	if err != nil {
		fail(w, r, http.StatusInternalServerError, "ErrInternal")
		return nil, false
	}
	u.ID = id
	return &u, true
}

func (h *Handler) startSession(w http.ResponseWriter, r *http.Request, userID int64) bool {
	token, err := h.store.CreateAuthSession(r.Context(), userID)
	if err != nil {
		slog.Error("failed to create auth session", "error", err)
		fail(w, r, http.StatusInternalServerError, "ErrInternal")
		return false
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   h.config.SecureCookies,
	})
	return true
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := h.validate.DecodeJSON(r.Body, &req, appI18n.LangFromContext(r.Context())); err != nil {
		failRequest(w, r, err)
		return
	}
	user, ok := h.createUser(w, r, req.Username, req.Password, req.DisplayName, model.UserRoleStudent)
	if !ok {
		return
	}
	if !h.startSession(w, r, user.ID) {
		return
	}
	writeJSON(w, http.StatusCreated, userResponse{response: response{Success: true}, User: user})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := h.validate.DecodeJSON(r.Body, &req, appI18n.LangFromContext(r.Context())); err != nil {
		failRequest(w, r, err)
		return
	}

	user, err := h.store.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		slog.Error("failed to get user", "error", err)
		fail(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}
	if user == nil || !user.Active {
		fail(w, r, http.StatusUnauthorized, "ErrLoginFailed")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		fail(w, r, http.StatusUnauthorized, "ErrLoginFailed")
		return
	}
	if !h.startSession(w, r, user.ID) {
		return
	}
	slog.Info("user logged in", "user_id", user.ID, "username", user.Username)
	writeJSON(w, http.StatusOK, userResponse{response: response{Success: true}, User: user})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(sessionCookieName)
	if err == nil && cookie.Value != "" {
		_ = h.store.DeleteAuthSession(r.Context(), cookie.Value)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.SecureCookies,
	})
	writeJSON(w, http.StatusOK, response{Success: true, Message: appI18n.T(r.Context(), "LogoutSuccess")})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, userResponse{response: response{Success: true}, User: model.UserFromContext(r.Context())})
}
