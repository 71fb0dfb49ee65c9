package util

import (
	"feedbot/internal/domain"
	apperrors "feedbot/pkg/errors"
)

// RequireContact checks that the sender is a registered contact
func RequireContact(contact *domain.Contact) error {
	if contact == nil {
		return apperrors.New(apperrors.ErrCodeUnauthorized, "contact access required")
	}
	return nil
}

// RequireAdmin checks that the sender is an admin contact
func RequireAdmin(contact *domain.Contact) error {
	if contact == nil || !contact.IsAdmin {
		return apperrors.New(apperrors.ErrCodeUnauthorized, "admin access required")
	}
	return nil
}
