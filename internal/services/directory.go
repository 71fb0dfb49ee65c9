package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"feedbot/internal/domain"
	"feedbot/internal/util"
	apperrors "feedbot/pkg/errors"
)

// AdminChange describes what AddAdmin did
type AdminChange int

const (
	AdminCreated AdminChange = iota
	AdminPromoted
	AdminUnchanged
)

// DirectoryService manages contacts and their roles
type DirectoryService struct {
	db     *gorm.DB
	locks  *util.KeyLock
	logger *zap.Logger
}

// NewDirectoryService creates a new directory service
func NewDirectoryService(db *gorm.DB, locks *util.KeyLock, logger *zap.Logger) *DirectoryService {
	return &DirectoryService{
		db:     db,
		locks:  locks,
		logger: logger.Named("directory"),
	}
}

// Lookup returns the contact for identity, or nil when it is not a contact
func (s *DirectoryService) Lookup(ctx context.Context, identity string) (*domain.Contact, error) {
	return findContact(s.db.WithContext(ctx), util.NormalizeIdentifier(identity))
}

// UpsertContact creates the contact or overwrites its admin flag
func (s *DirectoryService) UpsertContact(ctx context.Context, identity string, isAdmin bool) error {
	identity = util.NormalizeIdentifier(identity)
	if identity == "" {
		return apperrors.New(apperrors.ErrCodeValidation, "Contact email must not be empty")
	}

	unlock := s.locks.Lock(identity)
	defer unlock()

	db := s.db.WithContext(ctx)
	contact, err := findContact(db, identity)
	if err != nil {
		return err
	}
	if contact == nil {
		return createContact(db, identity, isAdmin)
	}
	return setAdmin(db, identity, isAdmin)
}

// SetAdmin changes the admin flag of an existing contact
func (s *DirectoryService) SetAdmin(ctx context.Context, identity string, isAdmin bool) error {
	identity = util.NormalizeIdentifier(identity)

	unlock := s.locks.Lock(identity)
	defer unlock()

	db := s.db.WithContext(ctx)
	contact, err := findContact(db, identity)
	if err != nil {
		return err
	}
	if contact == nil {
		return apperrors.Newf(apperrors.ErrCodeNotFound, "Contact %s does not exist", identity)
	}
	return setAdmin(db, identity, isAdmin)
}

// SetQuestion sets or clears (nil) the contact's current question
func (s *DirectoryService) SetQuestion(ctx context.Context, identity string, question *string) error {
	identity = util.NormalizeIdentifier(identity)

	unlock := s.locks.Lock(identity)
	defer unlock()

	res := s.db.WithContext(ctx).Model(&domain.Contact{}).
		Where("identity = ?", identity).
		Update("current_question", question)
	if res.Error != nil {
		return fmt.Errorf("failed to set question: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.Newf(apperrors.ErrCodeNotFound, "Contact %s does not exist", identity)
	}
	return nil
}

// AddAdmin creates identity as an admin, or promotes an existing contact
func (s *DirectoryService) AddAdmin(ctx context.Context, identity string) (AdminChange, error) {
	identity = util.NormalizeIdentifier(identity)
	if identity == "" {
		return AdminUnchanged, apperrors.New(apperrors.ErrCodeValidation, "Wrong format. Expected add admin <email>")
	}
	s.logger.Debug("AddAdmin request", zap.String("identity", identity))

	unlock := s.locks.Lock(identity)
	defer unlock()

	db := s.db.WithContext(ctx)
	contact, err := findContact(db, identity)
	if err != nil {
		return AdminUnchanged, err
	}

	switch {
	case contact == nil:
		if err := createContact(db, identity, true); err != nil {
			return AdminUnchanged, err
		}
		s.logger.Info("Admin created", zap.String("identity", identity))
		return AdminCreated, nil
	case !contact.IsAdmin:
		if err := setAdmin(db, identity, true); err != nil {
			return AdminUnchanged, err
		}
		s.logger.Info("Contact promoted to admin", zap.String("identity", identity))
		return AdminPromoted, nil
	default:
		return AdminUnchanged, nil
	}
}

// AddContact creates identity as a plain contact. It reports false when the
// contact already existed.
func (s *DirectoryService) AddContact(ctx context.Context, identity string) (bool, error) {
	identity = util.NormalizeIdentifier(identity)
	if identity == "" {
		return false, apperrors.New(apperrors.ErrCodeValidation, "Wrong format. Expected add contact <email>")
	}

	unlock := s.locks.Lock(identity)
	defer unlock()

	db := s.db.WithContext(ctx)
	contact, err := findContact(db, identity)
	if err != nil {
		return false, err
	}
	if contact != nil {
		return false, nil
	}
	if err := createContact(db, identity, false); err != nil {
		return false, err
	}
	s.logger.Info("Contact created", zap.String("identity", identity))
	return true, nil
}

// RemoveAdmin revokes admin privileges; the contact itself stays
func (s *DirectoryService) RemoveAdmin(ctx context.Context, identity string) error {
	identity = util.NormalizeIdentifier(identity)
	if identity == "" {
		return apperrors.New(apperrors.ErrCodeValidation, "Wrong format. Expected remove admin <email>")
	}

	unlock := s.locks.Lock(identity)
	defer unlock()

	db := s.db.WithContext(ctx)
	contact, err := findContact(db, identity)
	if err != nil {
		return err
	}
	if contact == nil || !contact.IsAdmin {
		return apperrors.Newf(apperrors.ErrCodeNotFound, "Could not find admin %s", identity)
	}
	if err := setAdmin(db, identity, false); err != nil {
		return err
	}
	s.logger.Info("Admin privileges removed", zap.String("identity", identity))
	return nil
}

// RemoveContact deletes the contact together with every customer entry it
// owns. It returns the number of removed entries.
func (s *DirectoryService) RemoveContact(ctx context.Context, identity string) (int64, error) {
	identity = util.NormalizeIdentifier(identity)
	if identity == "" {
		return 0, apperrors.New(apperrors.ErrCodeValidation, "Wrong format. Expected remove contact <email>")
	}

	unlock := s.locks.Lock(identity)
	defer unlock()

	var removed int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		contact, err := findContact(tx, identity)
		if err != nil {
			return err
		}
		if contact == nil {
			return apperrors.Newf(apperrors.ErrCodeNotFound, "Contact %s does not exist", identity)
		}

		res := tx.Where("owner_contact = ?", identity).Delete(&domain.CustomerEntry{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete customer entries: %w", res.Error)
		}
		removed = res.RowsAffected

		if err := tx.Delete(&domain.Contact{}, "identity = ?", identity).Error; err != nil {
			return fmt.Errorf("failed to delete contact: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("Contact removed", zap.String("identity", identity), zap.Int64("entries", removed))
	return removed, nil
}

func findContact(db *gorm.DB, identity string) (*domain.Contact, error) {
	var contact domain.Contact
	if err := db.Where("identity = ?", identity).First(&contact).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}
	return &contact, nil
}

func createContact(db *gorm.DB, identity string, isAdmin bool) error {
	contact := domain.Contact{Identity: identity, IsAdmin: isAdmin}
	if err := db.Create(&contact).Error; err != nil {
		return fmt.Errorf("failed to create contact: %w", err)
	}
	return nil
}

func setAdmin(db *gorm.DB, identity string, isAdmin bool) error {
	err := db.Model(&domain.Contact{}).Where("identity = ?", identity).Update("is_admin", isAdmin).Error
	if err != nil {
		return fmt.Errorf("failed to update contact: %w", err)
	}
	return nil
}
