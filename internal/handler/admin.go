package handler

import (
	"net/http"
	"strconv"

	appI18n "github.com/pavelanni/markbook/internal/i18n"
	"github.com/pavelanni/markbook/internal/model"
	"github.com/pavelanni/markbook/internal/store"
)

type createUserRequest struct {
	Username    string `json:"username" validate:"required,min=3,max=32,alphanum"`
	Password    string `json:"password" validate:"required,min=6,max=72"`
	DisplayName string `json:"displayName" validate:"max=64"`
	Role        string `json:"role" validate:"omitempty,oneof=student admin"`
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := h.validate.DecodeJSON(r.Body, &req, appI18n.LangFromContext(r.Context())); err != nil {
		failRequest(w, r, err)
		return
	}
	role := model.UserRole(req.Role)
	if role == "" {
		role = model.UserRoleStudent
	}
	user, ok := h.createUser(w, r, req.Username, req.Password, req.DisplayName, role)
	if !ok {
		return
	}
	writeJSON(w, http.StatusCreated, userResponse{response: response{Success: true}, User: user})
}

// handleAdminRecords lists every record, optionally narrowed by ?status= and ?user=.
func (h *Handler) handleAdminRecords(w http.ResponseWriter, r *http.Request) {
	var filter store.RecordFilter
	if s := r.URL.Query().Get("status"); s != "" {
		status := model.RecordStatus(s)
		if !status.Valid() {
			fail(w, r, http.StatusBadRequest, "ErrInvalidRequest")
			return
		}
		filter.Status = status
	}
	if s := r.URL.Query().Get("user"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			fail(w, r, http.StatusBadRequest, "ErrInvalidRequest")
			return
		}
		filter.UserID = &id
	}
	h.listRecords(w, r, filter)
}
