package models

import "time"

// Invoicing models
type Invoice struct {
	ID     uint `gorm:"primaryKey"`
	UserID uint `gorm:"not null;index"` // tenant partition key

	Amount float64 `gorm:"not null"`
	// Currency of the invoice itself. Amounts shown to the client are always
	// formatted in this currency.
	Currency string `gorm:"not null;default:'EUR'"`
	// AmountInReportingCurrency is a manually confirmed EUR amount used only
	// for accountant dispatches of non-EUR invoices. Never computed silently.
	AmountInReportingCurrency *float64

	Month       int `gorm:"not null"`
	Year        int `gorm:"not null"`
	PeriodStart *time.Time
	PeriodEnd   *time.Time

	DailyRate    float64
	NumberOfDays float64
	Expenses     []Expense `gorm:"foreignKey:InvoiceID;constraint:OnDelete:CASCADE"`

	// Workflow flags. The paired timestamp is set only on the first transition to true.
	SentToClient       bool `gorm:"not null;default:false"`
	SentToClientAt     *time.Time
	PaymentReceived    bool `gorm:"not null;default:false"`
	PaymentReceivedAt  *time.Time
	SentToAccountant   bool `gorm:"not null;default:false"`
	SentToAccountantAt *time.Time

	ClientID uint   `gorm:"not null;index"`
	Client   Client `gorm:"foreignKey:ClientID"`

	Files []InvoiceFile `gorm:"foreignKey:InvoiceID;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Expense is a billable extra on top of the service charge.
type Expense struct {
	ID          uint    `gorm:"primaryKey"`
	InvoiceID   uint    `gorm:"not null;index"`
	Description string  `gorm:"not null"`
	Amount      float64 `gorm:"not null"`
}

// Attachment roles
const (
	FileRoleInvoiceDocument = "invoiceDocument"
	FileRoleTimesheet       = "timesheet"
)

type InvoiceFile struct {
	ID           uint   `gorm:"primaryKey"`
	InvoiceID    uint   `gorm:"not null;index"`
	StorageKey   string `gorm:"not null"`
	Role         string `gorm:"not null;default:'invoiceDocument'"` // invoiceDocument, timesheet
	OriginalName string
	SizeBytes    int64
	Position     int `gorm:"not null;default:0"` // attachment ordering
	CreatedAt    time.Time
}
