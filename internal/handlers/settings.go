package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/iorran/superfriday/internal/httpx"
	"github.com/iorran/superfriday/internal/settings"
)

type SettingsHandler struct {
	Svc *settings.Service
}

func NewSettingsHandler(svc *settings.Service) *SettingsHandler {
	return &SettingsHandler{Svc: svc}
}

// Get: GET /settings – the full issuer profile and engine defaults.
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	all, err := h.Svc.All(uid)
	if err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "failed_to_load_settings", nil)
		return
	}
	httpx.JSON(w, http.StatusOK, all)
}

// Put: PUT /settings – partial update, only the submitted keys change.
func (h *SettingsHandler) Put(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req map[string]string
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	for key, value := range req {
		if err := h.Svc.Set(uid, key, value); err != nil {
			httpx.JSONError(w, http.StatusInternalServerError, "failed_to_save_settings", nil)
			return
		}
	}
	all, err := h.Svc.All(uid)
	if err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "failed_to_load_settings", nil)
		return
	}
	httpx.JSON(w, http.StatusOK, all)
}
