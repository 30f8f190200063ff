// Package settings exposes the issuer profile and engine defaults as simple
// per-user key/value lookups.
package settings

import (
	"errors"
	"strconv"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/iorran/superfriday/internal/document"
	"github.com/iorran/superfriday/internal/models"
)

// Known keys
const (
	KeyCompanyName     = "companyName"
	KeyAddress         = "address"
	KeyVAT             = "vat"
	KeyBankAccount     = "bankAccount"
	KeyIBAN            = "iban"
	KeyBankAccountName = "bankAccountName"
	KeyVATPercentage   = "vatPercentage"
	KeyGBPToEURRate    = "gbpToEurRate"
	KeyAccountantEmail = "accountantEmail"
)

type Service struct {
	DB *gorm.DB
}

func NewService(db *gorm.DB) *Service { return &Service{DB: db} }

// GetString returns the stored value or the fallback when absent.
func (s *Service) GetString(userID uint, key, fallback string) string {
	var row models.Setting
	err := s.DB.Where("user_id = ? AND key = ?", userID, key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || row.Value == "" {
		return fallback
	}
	if err != nil {
		return fallback
	}
	return row.Value
}

// GetFloat parses the stored value as a float, falling back on absence or
// parse failure.
func (s *Service) GetFloat(userID uint, key string, fallback float64) float64 {
	v := s.GetString(userID, key, "")
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

// Set upserts one key.
func (s *Service) Set(userID uint, key, value string) error {
	row := models.Setting{UserID: userID, Key: key, Value: value}
	return s.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
}

// All returns every setting for a user as a plain map.
func (s *Service) All(userID uint) (map[string]string, error) {
	var rows []models.Setting
	if err := s.DB.Where("user_id = ?", userID).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Key] = r.Value
	}
	return out, nil
}

// IssuerProfile assembles the document composer's issuer block. Missing
// fields are left empty; the composer decides whether that is fatal.
func (s *Service) IssuerProfile(userID uint) document.IssuerProfile {
	return document.IssuerProfile{
		CompanyName:   s.GetString(userID, KeyCompanyName, ""),
		Address:       s.GetString(userID, KeyAddress, ""),
		VATID:         s.GetString(userID, KeyVAT, ""),
		BankAccount:   s.GetString(userID, KeyBankAccount, ""),
		IBAN:          s.GetString(userID, KeyIBAN, ""),
		AccountHolder: s.GetString(userID, KeyBankAccountName, ""),
		VATPercentage: s.GetFloat(userID, KeyVATPercentage, 0),
	}
}
