// Package testutil holds database fixtures shared by package tests.
package testutil

import (
	"testing"

	"feedbot/internal/config"
	"feedbot/internal/database"
	"feedbot/internal/domain"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SetupTestDB opens a migrated in-memory SQLite database closed at cleanup
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := database.Open(&config.DatabaseConfig{URL: ":memory:"}, zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		if err := database.Close(db); err != nil {
			t.Errorf("Failed to close test database: %v", err)
		}
	})
	return db
}

// CreateTestContact inserts a contact
func CreateTestContact(t *testing.T, db *gorm.DB, identity string, isAdmin bool) {
	t.Helper()
	if err := db.Create(&domain.Contact{Identity: identity, IsAdmin: isAdmin}).Error; err != nil {
		t.Fatalf("Failed to create contact %s: %v", identity, err)
	}
}

// SetTestQuestion sets the contact's current question directly
func SetTestQuestion(t *testing.T, db *gorm.DB, identity, question string) {
	t.Helper()
	err := db.Model(&domain.Contact{}).Where("identity = ?", identity).Update("current_question", question).Error
	if err != nil {
		t.Fatalf("Failed to set question for %s: %v", identity, err)
	}
}

// CreateTestEntry inserts a customer entry with optional answers
func CreateTestEntry(t *testing.T, db *gorm.DB, owner, customer, email string, answers ...string) {
	t.Helper()
	entry := domain.CustomerEntry{Email: email, CustomerName: customer, OwnerContact: owner}
	if len(answers) > 0 {
		entry.Answers = domain.Answers(answers)
	}
	if err := db.Create(&entry).Error; err != nil {
		t.Fatalf("Failed to create entry %s: %v", email, err)
	}
}

// GetTestEntry loads an entry, failing the test when it is missing
func GetTestEntry(t *testing.T, db *gorm.DB, email string) domain.CustomerEntry {
	t.Helper()
	var entry domain.CustomerEntry
	if err := db.Where("email = ?", email).First(&entry).Error; err != nil {
		t.Fatalf("Failed to get entry %s: %v", email, err)
	}
	return entry
}

// CountEntries returns the number of customer entries
func CountEntries(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&domain.CustomerEntry{}).Count(&n).Error; err != nil {
		t.Fatalf("Failed to count entries: %v", err)
	}
	return n
}
