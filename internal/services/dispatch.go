package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/iorran/superfriday/internal/config"
	"github.com/iorran/superfriday/internal/mail"
	"github.com/iorran/superfriday/internal/models"
	"github.com/iorran/superfriday/internal/money"
	"github.com/iorran/superfriday/internal/settings"
	"github.com/iorran/superfriday/internal/storage"
	"github.com/iorran/superfriday/internal/template"
)

// Overrides carries caller-confirmed values for one dispatch request.
type Overrides struct {
	// ReportingAmount is the explicitly confirmed EUR amount for accountant
	// dispatches of GBP invoices.
	ReportingAmount *float64
	// AccountID selects a specific transport account instead of the default.
	AccountID *uint
}

// DispatchOutcome describes one completed dispatch.
type DispatchOutcome struct {
	InvoiceID uint   `json:"invoice_id"`
	Role      string `json:"role"`
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	HistoryID uint   `json:"history_id"`
	// Resent is true when the role flag was already set and this send only
	// appended a new history row.
	Resent bool `json:"resent"`
}

// TransportResolver selects a ready transport for one user. Satisfied by
// *mail.Resolver.
type TransportResolver interface {
	Resolve(ctx context.Context, accountID *uint, userID uint) (mail.Transport, error)
}

// DispatchService is the orchestrating state machine: guard checks, template
// rendering, attachment resolution, transport selection, send, and durable
// outcome recording.
type DispatchService struct {
	DB       *gorm.DB
	Blobs    storage.Store
	Resolver TransportResolver
	Settings *settings.Service

	Prereq                 config.AccountantPrerequisite
	ClientTemplateFallback bool
	Timeout                time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewDispatchService(db *gorm.DB, blobs storage.Store, resolver TransportResolver, st *settings.Service, cfg config.Config) *DispatchService {
	return &DispatchService{
		DB:                     db,
		Blobs:                  blobs,
		Resolver:               resolver,
		Settings:               st,
		Prereq:                 cfg.AccountantPrereq,
		ClientTemplateFallback: cfg.ClientTemplateFallback,
		Timeout:                cfg.DispatchTimeout,
		locks:                  make(map[string]*sync.Mutex),
	}
}

// lockFor serializes state updates per invoice+role. Concurrent sends are
// permitted, but the flag transition and history append must not race.
func (s *DispatchService) lockFor(invoiceID uint, role string) *sync.Mutex {
	key := fmt.Sprintf("%d/%s", invoiceID, role)
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// RequestDispatch runs the full compose → validate → render → attach → send →
// record pipeline for one invoice and recipient role.
func (s *DispatchService) RequestDispatch(ctx context.Context, userID, invoiceID uint, role string, ov Overrides) (*DispatchOutcome, error) {
	if role != models.RoleClient && role != models.RoleAccountant {
		return nil, &ValidationError{Field: "role", Reason: "must be client or accountant"}
	}
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	var inv models.Invoice
	err := s.DB.WithContext(ctx).
		Preload("Client").Preload("Files", func(db *gorm.DB) *gorm.DB { return db.Order("position, id") }).
		Where("user_id = ?", userID).First(&inv, invoiceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	tpl, err := s.lookupTemplate(ctx, userID, role)
	if err != nil {
		return nil, err
	}

	recipient, cc, err := s.resolveRecipient(userID, role, inv.Client)
	if err != nil {
		return nil, err
	}

	if role == models.RoleClient && len(inv.Files) == 0 {
		return nil, &GuardError{Reason: GuardSignedDocumentRequired, Role: role}
	}

	if role == models.RoleAccountant {
		if err := s.checkReportingAmount(&inv, ov); err != nil {
			return nil, err
		}
		if err := s.checkPrerequisite(&inv); err != nil {
			return nil, err
		}
	}

	vars := template.ResolveVariables(role, inv, inv.Client)
	rendered := template.Render(*tpl, vars)

	attachments, err := s.fetchAttachments(ctx, &inv, role)
	if err != nil {
		return nil, err
	}

	transport, err := s.Resolver.Resolve(ctx, ov.AccountID, userID)
	if err != nil {
		return nil, err
	}

	msg := mail.Message{
		To:          recipient,
		CC:          cc,
		Subject:     rendered.Subject,
		Body:        rendered.Body,
		Attachments: attachments,
	}

	lock := s.lockFor(inv.ID, role)
	sendErr := transport.Send(ctx, msg)

	lock.Lock()
	defer lock.Unlock()

	now := time.Now()
	var templateID *uint
	if tpl.ID != 0 {
		templateID = &tpl.ID
	}
	history := models.EmailHistory{
		InvoiceID:      inv.ID,
		TemplateID:     templateID,
		RecipientEmail: recipient,
		RecipientRole:  role,
		Subject:        rendered.Subject,
		Body:           rendered.Body,
		SentAt:         now,
	}

	if sendErr != nil {
		history.Status = models.HistoryStatusFailed
		history.ErrorMessage = sendErr.Error()
		if err := s.DB.Create(&history).Error; err != nil {
			log.Error().Err(err).Uint("invoice", inv.ID).Msg("failed to record dispatch failure")
		}
		log.Warn().Err(sendErr).Uint("invoice", inv.ID).Str("role", role).Msg("dispatch failed")
		return nil, sendErr
	}

	history.Status = models.HistoryStatusSent
	resent := false
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		// re-read flags under the lock so a concurrent first send wins cleanly
		var current models.Invoice
		if err := tx.Select("id", "sent_to_client", "sent_to_client_at", "sent_to_accountant", "sent_to_accountant_at").
			First(&current, inv.ID).Error; err != nil {
			return err
		}
		updates := map[string]any{}
		switch role {
		case models.RoleClient:
			resent = current.SentToClient
			if !current.SentToClient {
				updates["sent_to_client"] = true
				updates["sent_to_client_at"] = now
			}
		case models.RoleAccountant:
			resent = current.SentToAccountant
			if !current.SentToAccountant {
				updates["sent_to_accountant"] = true
				updates["sent_to_accountant_at"] = now
			}
			if ov.ReportingAmount != nil {
				updates["amount_in_reporting_currency"] = *ov.ReportingAmount
			}
		}
		if len(updates) > 0 {
			if err := tx.Model(&models.Invoice{}).Where("id = ?", inv.ID).Updates(updates).Error; err != nil {
				return err
			}
		}
		return tx.Create(&history).Error
	})
	if err != nil {
		// the message left the transport; the record must not silently vanish
		log.Error().Err(err).Uint("invoice", inv.ID).Str("role", role).Msg("failed to record dispatch outcome")
		return nil, err
	}

	log.Info().Uint("invoice", inv.ID).Str("role", role).Str("recipient", recipient).Bool("resent", resent).Msg("invoice dispatched")
	return &DispatchOutcome{
		InvoiceID: inv.ID,
		Role:      role,
		Recipient: recipient,
		Subject:   rendered.Subject,
		HistoryID: history.ID,
		Resent:    resent,
	}, nil
}

// lookupTemplate finds the role's template. Accountant dispatch fails closed;
// client dispatch may fall back to a built-in message when configured.
func (s *DispatchService) lookupTemplate(ctx context.Context, userID uint, role string) (*models.EmailTemplate, error) {
	var tpl models.EmailTemplate
	err := s.DB.WithContext(ctx).Where("user_id = ? AND role = ?", userID, role).First(&tpl).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if role == models.RoleClient && s.ClientTemplateFallback {
			return &models.EmailTemplate{
				Role:    models.RoleClient,
				Subject: "Invoice {{invoiceName}} – {{monthYear}}",
				Body:    "Dear {{clientName}},\n\nplease find attached invoice {{invoiceName}} for {{monthYear}} over {{invoiceAmount}}.\n\nKind regards",
			}, nil
		}
		return nil, &GuardError{Reason: GuardTemplateMissing, Role: role}
	}
	if err != nil {
		return nil, err
	}
	return &tpl, nil
}

// resolveRecipient determines the destination address at send time, never
// from a value cached on the invoice.
func (s *DispatchService) resolveRecipient(userID uint, role string, client models.Client) (string, []string, error) {
	switch role {
	case models.RoleClient:
		if strings.TrimSpace(client.Email) == "" {
			return "", nil, &ValidationError{Field: "client.email", Reason: "missing"}
		}
		return client.Email, client.CCEmails, nil
	default:
		addr := s.Settings.GetString(userID, settings.KeyAccountantEmail, "")
		if addr == "" {
			return "", nil, &ValidationError{Field: settings.KeyAccountantEmail, Reason: "missing"}
		}
		return addr, nil, nil
	}
}

// checkReportingAmount enforces the GBP override guard. A provisional FX rate
// from settings only seeds the suggested amount on the refusal.
func (s *DispatchService) checkReportingAmount(inv *models.Invoice, ov Overrides) error {
	if !strings.EqualFold(inv.Currency, money.GBP) {
		return nil
	}
	if ov.ReportingAmount != nil {
		inv.AmountInReportingCurrency = ov.ReportingAmount
		return nil
	}
	if inv.AmountInReportingCurrency != nil {
		return nil
	}
	g := &GuardError{Reason: GuardReportingAmountRequired, Role: models.RoleAccountant}
	if rate := s.Settings.GetFloat(inv.UserID, settings.KeyGBPToEURRate, 0); rate > 0 {
		suggested := inv.Amount * rate
		g.SuggestedAmount = &suggested
	}
	return g
}

func (s *DispatchService) checkPrerequisite(inv *models.Invoice) error {
	ok := false
	switch s.Prereq {
	case config.PrereqSentToClient:
		ok = inv.SentToClient
	default:
		ok = inv.PaymentReceived
	}
	if !ok {
		return &GuardError{Reason: GuardPrerequisiteNotMet, Role: models.RoleAccountant}
	}
	return nil
}

// fetchAttachments retrieves attachment bytes concurrently. All fetches must
// complete before the send begins; a partial-attachment send never happens.
func (s *DispatchService) fetchAttachments(ctx context.Context, inv *models.Invoice, role string) ([]mail.Attachment, error) {
	var files []models.InvoiceFile
	for _, f := range inv.Files {
		// the accountant only receives the invoice documents; the client
		// receives everything, timesheets included
		if role == models.RoleAccountant && f.Role != models.FileRoleInvoiceDocument {
			continue
		}
		files = append(files, f)
	}

	attachments := make([]mail.Attachment, len(files))
	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := s.Blobs.Get(f.StorageKey)
			if err != nil {
				return fmt.Errorf("attachment %s: %w", f.OriginalName, err)
			}
			attachments[i] = mail.Attachment{
				Filename:    f.OriginalName,
				ContentType: contentTypeFor(f.OriginalName),
				Data:        data,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return attachments, nil
}

func contentTypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return "application/pdf"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}
