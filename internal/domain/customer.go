package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// CustomerEntry is one recipient email registered under a customer name by
// its owning contact. Email is globally unique.
type CustomerEntry struct {
	Email        string    `gorm:"primaryKey;size:320" json:"email"`
	CustomerName string    `gorm:"not null;index:idx_owner_customer,priority:2" json:"customer_name"`
	OwnerContact string    `gorm:"not null;size:320;index:idx_owner_customer,priority:1" json:"owner_contact"`
	Answers      Answers   `gorm:"type:text" json:"answers,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName specifies the table name for CustomerEntry
func (CustomerEntry) TableName() string {
	return "customer_entries"
}

// BeforeCreate hook
func (e *CustomerEntry) BeforeCreate(tx *gorm.DB) error {
	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now
	return nil
}

// Answers is the ordered list of answers a recipient sent for the current
// question. It is stored as a JSON array; an empty list is stored as NULL.
type Answers []string

// Value implements driver.Valuer
func (a Answers) Value() (driver.Value, error) {
	if len(a) == 0 {
		return nil, nil
	}
	data, err := json.Marshal([]string(a))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner
func (a *Answers) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*a = nil
		return nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("cannot scan %T into Answers", src)
	}
	var out []string
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("failed to decode answers: %w", err)
	}
	*a = out
	return nil
}
