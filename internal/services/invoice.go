package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/iorran/superfriday/internal/document"
	"github.com/iorran/superfriday/internal/models"
	"github.com/iorran/superfriday/internal/settings"
	"github.com/iorran/superfriday/internal/storage"
	"github.com/iorran/superfriday/internal/template"
)

// InvoiceService encapsulates invoice lifecycle logic: creation with implicit
// client creation, document composition, payment marking, and cascade delete.
type InvoiceService struct {
	DB       *gorm.DB
	Blobs    storage.Store
	Settings *settings.Service
}

func NewInvoiceService(db *gorm.DB, blobs storage.Store, st *settings.Service) *InvoiceService {
	return &InvoiceService{DB: db, Blobs: blobs, Settings: st}
}

// CreateInput describes a new invoice. Either ClientID or ClientName must be
// given; an unknown name creates the client implicitly.
type CreateInput struct {
	UserID       uint
	ClientID     uint
	ClientName   string
	Amount       float64
	Currency     string
	Month        int
	Year         int
	PeriodStart  *time.Time
	PeriodEnd    *time.Time
	DailyRate    float64
	NumberOfDays float64
	Expenses     []models.Expense
}

func (s *InvoiceService) Create(in CreateInput) (*models.Invoice, error) {
	if in.ClientID == 0 && strings.TrimSpace(in.ClientName) == "" {
		return nil, &ValidationError{Field: "client", Reason: "client_id or client_name required"}
	}
	if in.Month < 1 || in.Month > 12 {
		return nil, &ValidationError{Field: "month", Reason: "out_of_range"}
	}
	currency := in.Currency
	if currency == "" {
		currency = "EUR"
	}

	var inv models.Invoice
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		clientID := in.ClientID
		if clientID == 0 {
			var client models.Client
			err := tx.Where("user_id = ? AND name = ?", in.UserID, in.ClientName).First(&client).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				client = models.Client{UserID: in.UserID, Name: in.ClientName, Currency: currency}
				if err := tx.Create(&client).Error; err != nil {
					return err
				}
			} else if err != nil {
				return err
			}
			clientID = client.ID
		} else {
			var count int64
			if err := tx.Model(&models.Client{}).Where("id = ? AND user_id = ?", clientID, in.UserID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return ErrNotFound
			}
		}
		inv = models.Invoice{
			UserID:       in.UserID,
			ClientID:     clientID,
			Amount:       in.Amount,
			Currency:     currency,
			Month:        in.Month,
			Year:         in.Year,
			PeriodStart:  in.PeriodStart,
			PeriodEnd:    in.PeriodEnd,
			DailyRate:    in.DailyRate,
			NumberOfDays: in.NumberOfDays,
			Expenses:     in.Expenses,
		}
		return tx.Create(&inv).Error
	})
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// Get loads one invoice with its associations, scoped to the user.
func (s *InvoiceService) Get(userID, invoiceID uint) (*models.Invoice, error) {
	var inv models.Invoice
	err := s.DB.Preload("Client").Preload("Expenses").
		Preload("Files", func(db *gorm.DB) *gorm.DB { return db.Order("position, id") }).
		Where("user_id = ?", userID).First(&inv, invoiceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// MarkPaymentReceived flips the payment flag. The timestamp is written only
// on the first transition.
func (s *InvoiceService) MarkPaymentReceived(userID, invoiceID uint) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		var inv models.Invoice
		err := tx.Where("user_id = ?", userID).First(&inv, invoiceID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if inv.PaymentReceived {
			return nil
		}
		return tx.Model(&inv).Updates(map[string]any{
			"payment_received":    true,
			"payment_received_at": time.Now(),
		}).Error
	})
}

// Delete removes the invoice and cascades to files and history. Blob removal
// is best effort; a leftover blob is cheaper than a failed delete.
func (s *InvoiceService) Delete(userID, invoiceID uint) error {
	var files []models.InvoiceFile
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var inv models.Invoice
		err := tx.Where("user_id = ?", userID).First(&inv, invoiceID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if err := tx.Where("invoice_id = ?", invoiceID).Find(&files).Error; err != nil {
			return err
		}
		for _, m := range []any{&models.InvoiceFile{}, &models.Expense{}, &models.EmailHistory{}} {
			if err := tx.Where("invoice_id = ?", invoiceID).Delete(m).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&inv).Error
	})
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := s.Blobs.Delete(f.StorageKey); err != nil {
			log.Warn().Err(err).Str("key", f.StorageKey).Msg("failed to delete blob")
		}
	}
	return nil
}

// AttachFile stores the bytes and records the attachment.
func (s *InvoiceService) AttachFile(userID, invoiceID uint, role, name string, data []byte) (*models.InvoiceFile, error) {
	if role != models.FileRoleInvoiceDocument && role != models.FileRoleTimesheet {
		return nil, &ValidationError{Field: "role", Reason: "invalid_value"}
	}
	inv, err := s.Get(userID, invoiceID)
	if err != nil {
		return nil, err
	}
	key, err := s.Blobs.Put("", data)
	if err != nil {
		return nil, err
	}
	file := models.InvoiceFile{
		InvoiceID:    inv.ID,
		StorageKey:   key,
		Role:         role,
		OriginalName: name,
		SizeBytes:    int64(len(data)),
		Position:     len(inv.Files),
	}
	if err := s.DB.Create(&file).Error; err != nil {
		return nil, err
	}
	return &file, nil
}

// DetachFile removes one attachment and its blob.
func (s *InvoiceService) DetachFile(userID, fileID uint) error {
	var file models.InvoiceFile
	err := s.DB.Joins("JOIN invoices ON invoices.id = invoice_files.invoice_id").
		Where("invoices.user_id = ?", userID).First(&file, fileID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := s.DB.Delete(&file).Error; err != nil {
		return err
	}
	if err := s.Blobs.Delete(file.StorageKey); err != nil {
		log.Warn().Err(err).Str("key", file.StorageKey).Msg("failed to delete blob")
	}
	return nil
}

// ComposeDocument renders the invoice PDF, persists it to the blob store, and
// records it as an invoiceDocument attachment. Returns the PDF bytes.
func (s *InvoiceService) ComposeDocument(userID, invoiceID uint) ([]byte, *models.InvoiceFile, error) {
	inv, err := s.Get(userID, invoiceID)
	if err != nil {
		return nil, nil, err
	}
	issuer := s.Settings.IssuerProfile(userID)

	data := document.InvoiceData{
		Number:       template.InvoiceName(*inv),
		Date:         inv.CreatedAt,
		ClientName:   inv.Client.Name,
		Currency:     inv.Currency,
		DailyRate:    inv.DailyRate,
		NumberOfDays: inv.NumberOfDays,
		PeriodLabel:  periodLabel(inv),
	}
	for _, e := range inv.Expenses {
		data.Expenses = append(data.Expenses, document.ExpenseLine{Description: e.Description, Amount: e.Amount})
	}

	pdf, err := document.Compose(data, issuer)
	if err != nil {
		return nil, nil, err
	}
	name := fmt.Sprintf("%s.pdf", data.Number)
	file, err := s.AttachFile(userID, invoiceID, models.FileRoleInvoiceDocument, name, pdf)
	if err != nil {
		return nil, nil, err
	}
	return pdf, file, nil
}

func periodLabel(inv *models.Invoice) string {
	if name := template.MonthName(inv.Month); name != "" {
		return fmt.Sprintf("%s %d", name, inv.Year)
	}
	return fmt.Sprintf("%d/%d", inv.Month, inv.Year)
}
