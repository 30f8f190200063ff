package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/iorran/superfriday/internal/httpx"
	"github.com/iorran/superfriday/internal/models"
	"github.com/iorran/superfriday/internal/services"
)

type AccountHandler struct {
	Svc      *services.AccountService
	Resolver services.TransportResolver
}

func NewAccountHandler(svc *services.AccountService, resolver services.TransportResolver) *AccountHandler {
	return &AccountHandler{Svc: svc, Resolver: resolver}
}

// accountView strips credential fields from API responses. Secrets go in,
// never out.
type accountView struct {
	ID        uint   `json:"id"`
	SMTPHost  string `json:"smtp_host"`
	SMTPPort  int    `json:"smtp_port"`
	SMTPUser  string `json:"smtp_user"`
	HasOAuth  bool   `json:"has_oauth"`
	IsDefault bool   `json:"is_default"`
}

func viewOf(acc models.EmailAccount) accountView {
	return accountView{
		ID:        acc.ID,
		SMTPHost:  acc.SMTPHost,
		SMTPPort:  acc.SMTPPort,
		SMTPUser:  acc.SMTPUser,
		HasOAuth:  acc.HasOAuth(),
		IsDefault: acc.IsDefault,
	}
}

// List: GET /accounts
func (h *AccountHandler) List(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	accounts, err := h.Svc.List(uid)
	if err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "failed_to_list_accounts", nil)
		return
	}
	views := make([]accountView, len(accounts))
	for i, acc := range accounts {
		views[i] = viewOf(acc)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": views, "total": len(views)})
}

type accountReq struct {
	SMTPHost string `json:"smtp_host"`
	SMTPPort int    `json:"smtp_port"`
	SMTPUser string `json:"smtp_user"`
	SMTPPass string `json:"smtp_pass"`

	OAuthClientID     string `json:"oauth_client_id"`
	OAuthClientSecret string `json:"oauth_client_secret"`
	OAuthRefreshToken string `json:"oauth_refresh_token"`
}

func (req accountReq) input() services.AccountInput {
	return services.AccountInput{
		SMTPHost:          req.SMTPHost,
		SMTPPort:          req.SMTPPort,
		SMTPUser:          req.SMTPUser,
		SMTPPass:          req.SMTPPass,
		OAuthClientID:     req.OAuthClientID,
		OAuthClientSecret: req.OAuthClientSecret,
		OAuthRefreshToken: req.OAuthRefreshToken,
	}
}

// Create: POST /accounts
func (h *AccountHandler) Create(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req accountReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	acc, err := h.Svc.Create(uid, req.input())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, viewOf(*acc))
}

// Update: PUT /accounts?id=
func (h *AccountHandler) Update(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	id, ok := idFromQuery(r)
	if !ok {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_id", nil)
		return
	}
	var req accountReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	acc, err := h.Svc.Update(uid, id, req.input())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, viewOf(*acc))
}

// SetDefault: POST /accounts/default {account_id}
func (h *AccountHandler) SetDefault(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req struct {
		AccountID uint `json:"account_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	if err := h.Svc.SetDefault(uid, req.AccountID); err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "default_set"})
}

// Verify: POST /accounts/verify {account_id?} – resolves the transport and
// probes the connection and credentials without sending.
func (h *AccountHandler) Verify(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req struct {
		AccountID *uint `json:"account_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	transport, err := h.Resolver.Resolve(r.Context(), req.AccountID, uid)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if err := transport.Verify(r.Context()); err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "verified"})
}

// Delete: DELETE /accounts?id=
func (h *AccountHandler) Delete(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	id, ok := idFromQuery(r)
	if !ok {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_id", nil)
		return
	}
	if err := h.Svc.Delete(uid, id); err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
