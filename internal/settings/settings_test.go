package settings

import (
	"fmt"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/iorran/superfriday/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.Setting{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestSetAndGet(t *testing.T) {
	svc := NewService(setupTestDB(t))
	if err := svc.Set(1, KeyCompanyName, "Jane Doe Consulting"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got := svc.GetString(1, KeyCompanyName, "def"); got != "Jane Doe Consulting" {
		t.Fatalf("got %q", got)
	}
	// upsert overwrites
	if err := svc.Set(1, KeyCompanyName, "Jane Doe Ltd"); err != nil {
		t.Fatalf("set again: %v", err)
	}
	if got := svc.GetString(1, KeyCompanyName, "def"); got != "Jane Doe Ltd" {
		t.Fatalf("got %q after upsert", got)
	}
}

func TestGetFallbacks(t *testing.T) {
	svc := NewService(setupTestDB(t))
	if got := svc.GetString(1, KeyIBAN, "fallback"); got != "fallback" {
		t.Fatalf("got %q", got)
	}
	if got := svc.GetFloat(1, KeyVATPercentage, 23); got != 23 {
		t.Fatalf("got %v", got)
	}
	_ = svc.Set(1, KeyVATPercentage, "not-a-number")
	if got := svc.GetFloat(1, KeyVATPercentage, 23); got != 23 {
		t.Fatalf("parse failure should fall back, got %v", got)
	}
	_ = svc.Set(1, KeyVATPercentage, "13.5")
	if got := svc.GetFloat(1, KeyVATPercentage, 23); got != 13.5 {
		t.Fatalf("got %v", got)
	}
}

func TestTenantIsolation(t *testing.T) {
	svc := NewService(setupTestDB(t))
	_ = svc.Set(1, KeyAccountantEmail, "acct@example.com")
	if got := svc.GetString(2, KeyAccountantEmail, ""); got != "" {
		t.Fatalf("settings leaked across users: %q", got)
	}
}

func TestIssuerProfile(t *testing.T) {
	svc := NewService(setupTestDB(t))
	for key, val := range map[string]string{
		KeyCompanyName:     "Jane Doe Consulting",
		KeyAddress:         "1 Main Street",
		KeyVAT:             "IE1234567X",
		KeyBankAccount:     "12345678",
		KeyIBAN:            "IE29AIBK93115212345678",
		KeyBankAccountName: "Jane Doe",
		KeyVATPercentage:   "23",
	} {
		if err := svc.Set(1, key, val); err != nil {
			t.Fatalf("set %s: %v", key, err)
		}
	}
	p := svc.IssuerProfile(1)
	if p.CompanyName != "Jane Doe Consulting" || p.VATPercentage != 23 || p.AccountHolder != "Jane Doe" {
		t.Fatalf("unexpected profile: %+v", p)
	}
}
