package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Client entity
type Client struct {
	ID     uint `gorm:"primaryKey"`
	UserID uint `gorm:"not null;index"`
	Name   string `gorm:"not null;index"`
	// Email may be empty. A client without an email is a surfaced state the
	// operator resolves before dispatch, not a storage error.
	Email             string
	Currency          string `gorm:"not null;default:'EUR'"`
	RequiresTimesheet bool   `gorm:"not null;default:false"`
	CCEmails          StringList `gorm:"type:text"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// StringList stores a list of strings as a JSON text column.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if len(l) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *StringList) Scan(value any) error {
	if value == nil {
		*l = nil
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported type for StringList: %T", value)
	}
	if len(raw) == 0 {
		*l = nil
		return nil
	}
	return json.Unmarshal(raw, l)
}
