package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/iorran/superfriday/internal/document"
	"github.com/iorran/superfriday/internal/httpx"
	"github.com/iorran/superfriday/internal/models"
	"github.com/iorran/superfriday/internal/services"
)

// maxUploadBytes caps a single attachment upload.
const maxUploadBytes = 20 << 20

type InvoiceHandler struct {
	DB       *gorm.DB
	Svc      *services.InvoiceService
	Dispatch *services.DispatchService
}

func NewInvoiceHandler(db *gorm.DB, svc *services.InvoiceService, dispatch *services.DispatchService) *InvoiceHandler {
	return &InvoiceHandler{DB: db, Svc: svc, Dispatch: dispatch}
}

// List: GET /invoices – all invoices of the tenant, newest first.
func (h *InvoiceHandler) List(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	if _, hasID := idFromQuery(r); hasID {
		h.Get(w, r)
		return
	}
	var invs []models.Invoice
	if err := h.DB.Preload("Client").Where("user_id = ?", uid).Order("year desc, month desc, id desc").Find(&invs).Error; err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "failed_to_list_invoices", nil)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": invs, "total": len(invs)})
}

// Get: GET /invoices?id= – one invoice with client, expenses, and files.
func (h *InvoiceHandler) Get(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	id, ok := idFromQuery(r)
	if !ok {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_id", nil)
		return
	}
	inv, err := h.Svc.Get(uid, id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

// Create: POST /invoices
func (h *InvoiceHandler) Create(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	type expenseReq struct {
		Description string  `json:"description"`
		Amount      float64 `json:"amount"`
	}
	var req struct {
		ClientID     uint         `json:"client_id"`
		ClientName   string       `json:"client_name"`
		Amount       float64      `json:"amount"`
		Currency     string       `json:"currency"`
		Month        int          `json:"month"`
		Year         int          `json:"year"`
		PeriodStart  *time.Time   `json:"period_start"`
		PeriodEnd    *time.Time   `json:"period_end"`
		DailyRate    float64      `json:"daily_rate"`
		NumberOfDays float64      `json:"number_of_days"`
		Expenses     []expenseReq `json:"expenses"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	in := services.CreateInput{
		UserID:       uid,
		ClientID:     req.ClientID,
		ClientName:   req.ClientName,
		Amount:       req.Amount,
		Currency:     req.Currency,
		Month:        req.Month,
		Year:         req.Year,
		PeriodStart:  req.PeriodStart,
		PeriodEnd:    req.PeriodEnd,
		DailyRate:    req.DailyRate,
		NumberOfDays: req.NumberOfDays,
	}
	for _, e := range req.Expenses {
		in.Expenses = append(in.Expenses, models.Expense{Description: e.Description, Amount: e.Amount})
	}
	inv, err := h.Svc.Create(in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}

// Delete: DELETE /invoices?id= – cascades to files, expenses, and history.
func (h *InvoiceHandler) Delete(w http.ResponseWriter, r *http.Request) {
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

// AttachFile: POST /invoices/files – multipart upload of one attachment.
// Fields: invoice_id, role, file.
func (h *InvoiceHandler) AttachFile(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_multipart", nil)
		return
	}
	invoiceID := formUint(r, "invoice_id")
	if invoiceID == 0 {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_invoice_id", nil)
		return
	}
	role := r.FormValue("role")
	f, header, err := r.FormFile("file")
	if err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "missing_file", nil)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes+1))
	if err != nil || len(data) > maxUploadBytes {
		httpx.JSONError(w, http.StatusBadRequest, "file_too_large", nil)
		return
	}
	file, err := h.Svc.AttachFile(uid, invoiceID, role, header.Filename, data)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, file)
}

// DetachFile: DELETE /invoices/files?id=
func (h *InvoiceHandler) DetachFile(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	id, ok := idFromQuery(r)
	if !ok {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_id", nil)
		return
	}
	if err := h.Svc.DetachFile(uid, id); err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// PDF: GET /invoices/pdf?id= – composes the invoice document, stores it as an
// attachment, and streams the bytes.
func (h *InvoiceHandler) PDF(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	id, ok := idFromQuery(r)
	if !ok {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_id", nil)
		return
	}
	pdf, file, err := h.Svc.ComposeDocument(uid, id)
	if err != nil {
		var incomplete *document.IncompleteIssuerProfileError
		if errors.As(err, &incomplete) {
			httpx.JSONError(w, http.StatusConflict, "issuer_profile_incomplete",
				map[string]string{"field": incomplete.Field})
			return
		}
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+file.OriginalName+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

// Send: POST /invoices/send – runs one dispatch.
func (h *InvoiceHandler) Send(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req struct {
		InvoiceID       uint     `json:"invoice_id"`
		Role            string   `json:"role"`
		ReportingAmount *float64 `json:"reporting_amount"`
		AccountID       *uint    `json:"account_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	if req.InvoiceID == 0 {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_invoice_id", nil)
		return
	}
	out, err := h.Dispatch.RequestDispatch(r.Context(), uid, req.InvoiceID, req.Role, services.Overrides{
		ReportingAmount: req.ReportingAmount,
		AccountID:       req.AccountID,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

// History: GET /invoices/history?id= – the append-only dispatch audit trail.
func (h *InvoiceHandler) History(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	id, ok := idFromQuery(r)
	if !ok {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_id", nil)
		return
	}
	if _, err := h.Svc.Get(uid, id); err != nil {
		writeServiceError(w, err)
		return
	}
	var entries []models.EmailHistory
	if err := h.DB.Where("invoice_id = ?", id).Order("sent_at desc, id desc").Find(&entries).Error; err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "failed_to_list_history", nil)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": entries, "total": len(entries)})
}

// Payment: POST /invoices/payment – marks the invoice as paid.
func (h *InvoiceHandler) Payment(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req struct {
		InvoiceID uint `json:"invoice_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	if err := h.Svc.MarkPaymentReceived(uid, req.InvoiceID); err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "payment_received"})
}

func formUint(r *http.Request, key string) uint {
	id, err := strconv.ParseUint(r.FormValue(key), 10, 64)
	if err != nil {
		return 0
	}
	return uint(id)
}
