package domain

import (
	"time"

	"gorm.io/gorm"
)

// Contact is a user allowed to manage customers and ask questions. Admins
// may additionally manage other contacts.
type Contact struct {
	Identity        string    `gorm:"primaryKey;size:320" json:"identity"`
	IsAdmin         bool      `gorm:"default:false;not null" json:"is_admin"`
	CurrentQuestion *string   `gorm:"type:text" json:"current_question"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TableName specifies the table name for Contact
func (Contact) TableName() string {
	return "contacts"
}

// HasQuestion reports whether the contact has an active question
func (c *Contact) HasQuestion() bool {
	return c.CurrentQuestion != nil && *c.CurrentQuestion != ""
}

// BeforeCreate hook
func (c *Contact) BeforeCreate(tx *gorm.DB) error {
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	return nil
}

// BeforeUpdate hook
func (c *Contact) BeforeUpdate(tx *gorm.DB) error {
	c.UpdatedAt = time.Now().UTC()
	return nil
}
