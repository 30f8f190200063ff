package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"gorm.io/gorm"

	"github.com/iorran/superfriday/internal/httpx"
	"github.com/iorran/superfriday/internal/models"
	"github.com/iorran/superfriday/internal/validation"
)

type ClientHandler struct {
	DB *gorm.DB
}

func NewClientHandler(db *gorm.DB) *ClientHandler {
	return &ClientHandler{DB: db}
}

// List: GET /clients
func (h *ClientHandler) List(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	var clients []models.Client
	if err := h.DB.Where("user_id = ?", uid).Order("name").Find(&clients).Error; err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "failed_to_list_clients", nil)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": clients, "total": len(clients)})
}

// Create: POST /clients. An empty email is allowed; it only blocks dispatch,
// not record keeping.
func (h *ClientHandler) Create(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req struct {
		Name              string   `json:"name"`
		Email             string   `json:"email"`
		Currency          string   `json:"currency"`
		RequiresTimesheet bool     `json:"requires_timesheet"`
		CCEmails          []string `json:"cc_emails"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	if req.Currency == "" {
		req.Currency = "EUR"
	}
	violations := validation.Violations{}
	validation.Required("name", req.Name, violations)
	validation.OneOf("currency", req.Currency, []string{"EUR", "GBP"}, violations)
	if !violations.Empty() {
		httpx.JSONError(w, http.StatusUnprocessableEntity, "validation_failed", violations)
		return
	}
	client := models.Client{
		UserID:            uid,
		Name:              req.Name,
		Email:             req.Email,
		Currency:          req.Currency,
		RequiresTimesheet: req.RequiresTimesheet,
		CCEmails:          req.CCEmails,
	}
	if err := h.DB.Create(&client).Error; err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "failed_to_create_client", nil)
		return
	}
	httpx.JSON(w, http.StatusCreated, client)
}

// Update: PUT /clients?id=
func (h *ClientHandler) Update(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	id, ok := idFromQuery(r)
	if !ok {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_id", nil)
		return
	}
	var client models.Client
	err := h.DB.Where("user_id = ?", uid).First(&client, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		httpx.JSONError(w, http.StatusNotFound, "not_found", nil)
		return
	}
	if err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "failed_to_load_client", nil)
		return
	}
	var req struct {
		Name              *string   `json:"name"`
		Email             *string   `json:"email"`
		Currency          *string   `json:"currency"`
		RequiresTimesheet *bool     `json:"requires_timesheet"`
		CCEmails          *[]string `json:"cc_emails"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	if req.Name != nil {
		client.Name = *req.Name
	}
	if req.Email != nil {
		client.Email = *req.Email
	}
	if req.Currency != nil {
		client.Currency = *req.Currency
	}
	if req.RequiresTimesheet != nil {
		client.RequiresTimesheet = *req.RequiresTimesheet
	}
	if req.CCEmails != nil {
		client.CCEmails = *req.CCEmails
	}
	if err := h.DB.Save(&client).Error; err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "failed_to_update_client", nil)
		return
	}
	httpx.JSON(w, http.StatusOK, client)
}
