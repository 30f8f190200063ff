package models

import "time"

// Recipient roles
const (
	RoleClient     = "client"
	RoleAccountant = "accountant"
)

// EmailTemplate is a reusable message pattern for one recipient role.
// Subject and body may contain {{placeholder}} tokens.
// One template per (user, role); upserts replace in place.
type EmailTemplate struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    uint   `gorm:"not null;uniqueIndex:idx_templates_user_role"`
	Role      string `gorm:"not null;uniqueIndex:idx_templates_user_role"` // client, accountant
	Subject   string `gorm:"not null"`
	Body      string `gorm:"not null;type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// EmailAccount is an outbound transport identity. Static password and OAuth2
// secrets are encrypted at rest (see internal/secret).
type EmailAccount struct {
	ID       uint   `gorm:"primaryKey"`
	UserID   uint   `gorm:"not null;index"`
	SMTPHost string `gorm:"not null"`
	SMTPPort int    `gorm:"not null;default:587"`
	SMTPUser string `gorm:"not null"`
	SMTPPass string // encrypted; empty when the account uses OAuth2

	OAuthClientID     string
	OAuthClientSecret string // encrypted
	OAuthRefreshToken string // encrypted
	OAuthAccessToken  string // transient; refreshed as needed

	// At most one default account per user. Setting a new default clears the
	// previous one in the same transaction.
	IsDefault bool `gorm:"not null;default:false;index"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasOAuth reports whether all fields required for OAuth2 authentication are present.
func (a *EmailAccount) HasOAuth() bool {
	return a.OAuthClientID != "" && a.OAuthClientSecret != "" && a.OAuthRefreshToken != ""
}

// Dispatch outcomes recorded in history
const (
	HistoryStatusSent   = "sent"
	HistoryStatusFailed = "failed"
)

// EmailHistory is an immutable audit record of one dispatch attempt.
// Rows are append-only; no dispatch attempt goes unaccounted for.
type EmailHistory struct {
	ID             uint   `gorm:"primaryKey"`
	InvoiceID      uint   `gorm:"not null;index"`
	TemplateID     *uint
	RecipientEmail string `gorm:"not null"`
	RecipientRole  string `gorm:"not null"` // client, accountant
	Subject        string
	Body           string `gorm:"type:text"`
	Status         string `gorm:"not null"` // sent, failed
	ErrorMessage   string
	SentAt         time.Time `gorm:"not null"`
}
