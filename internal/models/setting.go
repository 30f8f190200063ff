package models

import "time"

// Setting is a per-user key/value pair backing the issuer profile and
// engine defaults (VAT percentage, provisional FX rate, accountant address).
type Setting struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    uint   `gorm:"not null;uniqueIndex:idx_settings_user_key"`
	Key       string `gorm:"not null;uniqueIndex:idx_settings_user_key"`
	Value     string
	CreatedAt time.Time
	UpdatedAt time.Time
}
