package handlers

import (
	"encoding/json"
	"net/http"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/iorran/superfriday/internal/httpx"
	"github.com/iorran/superfriday/internal/models"
	"github.com/iorran/superfriday/internal/template"
	"github.com/iorran/superfriday/internal/validation"
)

type TemplateHandler struct {
	DB *gorm.DB
}

func NewTemplateHandler(db *gorm.DB) *TemplateHandler {
	return &TemplateHandler{DB: db}
}

// List: GET /templates – the tenant's templates plus the variable vocabulary
// so a UI can offer placeholder completion.
func (h *TemplateHandler) List(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	var templates []models.EmailTemplate
	if err := h.DB.Where("user_id = ?", uid).Order("role").Find(&templates).Error; err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "failed_to_list_templates", nil)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": templates, "variables": template.Vocabulary})
}

// Upsert: POST /templates – one template per (user, role).
func (h *TemplateHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req struct {
		Role    string `json:"role"`
		Subject string `json:"subject"`
		Body    string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	violations := validation.Violations{}
	validation.OneOf("role", req.Role, []string{models.RoleClient, models.RoleAccountant}, violations)
	validation.Required("subject", req.Subject, violations)
	validation.Required("body", req.Body, violations)
	if !violations.Empty() {
		httpx.JSONError(w, http.StatusUnprocessableEntity, "validation_failed", violations)
		return
	}
	tpl := models.EmailTemplate{UserID: uid, Role: req.Role, Subject: req.Subject, Body: req.Body}
	err := h.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "role"}},
		DoUpdates: clause.AssignmentColumns([]string{"subject", "body", "updated_at"}),
	}).Create(&tpl).Error
	if err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "failed_to_save_template", nil)
		return
	}
	httpx.JSON(w, http.StatusOK, tpl)
}
