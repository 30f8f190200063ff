package services

import (
	"errors"

	"gorm.io/gorm"

	"github.com/iorran/superfriday/internal/mail"
	"github.com/iorran/superfriday/internal/models"
	"github.com/iorran/superfriday/internal/secret"
)

// AccountService manages outbound transport identities. Credentials are
// encrypted before they reach the database, and every credential change
// invalidates the cached transport.
type AccountService struct {
	DB       *gorm.DB
	Secrets  *secret.Box
	Resolver *mail.Resolver
}

func NewAccountService(db *gorm.DB, secrets *secret.Box, resolver *mail.Resolver) *AccountService {
	return &AccountService{DB: db, Secrets: secrets, Resolver: resolver}
}

// AccountInput carries plaintext credentials from the caller.
type AccountInput struct {
	SMTPHost string
	SMTPPort int
	SMTPUser string
	SMTPPass string

	OAuthClientID     string
	OAuthClientSecret string
	OAuthRefreshToken string
}

func (s *AccountService) encrypt(in AccountInput, acc *models.EmailAccount) error {
	pass, err := s.Secrets.Encrypt(in.SMTPPass)
	if err != nil {
		return err
	}
	clientSecret, err := s.Secrets.Encrypt(in.OAuthClientSecret)
	if err != nil {
		return err
	}
	refreshToken, err := s.Secrets.Encrypt(in.OAuthRefreshToken)
	if err != nil {
		return err
	}
	acc.SMTPHost = in.SMTPHost
	acc.SMTPPort = in.SMTPPort
	acc.SMTPUser = in.SMTPUser
	acc.SMTPPass = pass
	acc.OAuthClientID = in.OAuthClientID
	acc.OAuthClientSecret = clientSecret
	acc.OAuthRefreshToken = refreshToken
	return nil
}

func (s *AccountService) validate(in AccountInput) error {
	if in.SMTPHost == "" {
		return &ValidationError{Field: "smtp_host", Reason: "required"}
	}
	if in.SMTPUser == "" {
		return &ValidationError{Field: "smtp_user", Reason: "required"}
	}
	if in.SMTPPort <= 0 || in.SMTPPort > 65535 {
		return &ValidationError{Field: "smtp_port", Reason: "out_of_range"}
	}
	return nil
}

func (s *AccountService) Create(userID uint, in AccountInput) (*models.EmailAccount, error) {
	if err := s.validate(in); err != nil {
		return nil, err
	}
	acc := models.EmailAccount{UserID: userID}
	if err := s.encrypt(in, &acc); err != nil {
		return nil, err
	}
	if err := s.DB.Create(&acc).Error; err != nil {
		return nil, err
	}
	return &acc, nil
}

// Update replaces the account's connection data and immediately drops the
// cached transport so the new credentials take effect on the next send.
func (s *AccountService) Update(userID, accountID uint, in AccountInput) (*models.EmailAccount, error) {
	if err := s.validate(in); err != nil {
		return nil, err
	}
	var acc models.EmailAccount
	err := s.DB.Where("user_id = ?", userID).First(&acc, accountID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.encrypt(in, &acc); err != nil {
		return nil, err
	}
	acc.OAuthAccessToken = "" // stale after any credential change
	if err := s.DB.Save(&acc).Error; err != nil {
		return nil, err
	}
	s.Resolver.Invalidate(acc.ID)
	return &acc, nil
}

// SetDefault marks one account as the user's default, atomically clearing
// the previous default in the same transaction.
func (s *AccountService) SetDefault(userID, accountID uint) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		var acc models.EmailAccount
		err := tx.Where("user_id = ?", userID).First(&acc, accountID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if err := tx.Model(&models.EmailAccount{}).
			Where("user_id = ? AND is_default = ?", userID, true).
			Update("is_default", false).Error; err != nil {
			return err
		}
		return tx.Model(&acc).Update("is_default", true).Error
	})
}

func (s *AccountService) List(userID uint) ([]models.EmailAccount, error) {
	var accounts []models.EmailAccount
	if err := s.DB.Where("user_id = ?", userID).Order("id").Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

func (s *AccountService) Delete(userID, accountID uint) error {
	res := s.DB.Where("user_id = ?", userID).Delete(&models.EmailAccount{}, accountID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	s.Resolver.Invalidate(accountID)
	return nil
}
