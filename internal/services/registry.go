package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"feedbot/internal/domain"
	"feedbot/internal/gateway"
	"feedbot/internal/metrics"
	"feedbot/internal/report"
	"feedbot/internal/util"
	apperrors "feedbot/pkg/errors"
)

// Rejection reasons reported per email by AddEmails
const (
	ReasonInvalidEmail      = "not a valid email address"
	ReasonAlreadyRegistered = "already registered"
	ReasonUndeliverable     = "question could not be delivered"
)

// Sentinel causes carried by NotFound errors of TransferCustomer
var (
	ErrContactNotFound  = errors.New("contact not found")
	ErrCustomerNotFound = errors.New("customer not found")
)

// EmailResult is the outcome of registering one email
type EmailResult struct {
	Email  string
	Added  bool
	Reason string
}

// RegistryService manages customer email lists and their ownership
type RegistryService struct {
	db      *gorm.DB
	gw      gateway.Gateway
	locks   *util.KeyLock
	tempDir string
	logger  *zap.Logger
}

// NewRegistryService creates a new registry service. tempDir holds the
// answer documents sent when a customer changes owner.
func NewRegistryService(db *gorm.DB, gw gateway.Gateway, locks *util.KeyLock, tempDir string, logger *zap.Logger) *RegistryService {
	return &RegistryService{
		db:      db,
		gw:      gw,
		locks:   locks,
		tempDir: tempDir,
		logger:  logger.Named("registry"),
	}
}

// AddEmails registers emails under (owner, customer). Every email is
// handled on its own: invalid and already registered addresses are
// rejected, and when the owner has an active question it is delivered
// before the entry is inserted, so an undeliverable address is rejected
// too. Only database failures abort the batch.
func (s *RegistryService) AddEmails(ctx context.Context, owner, customer string, emails []string) ([]EmailResult, error) {
	owner = util.NormalizeIdentifier(owner)
	customer = strings.TrimSpace(customer)
	if customer == "" {
		return nil, apperrors.New(apperrors.ErrCodeValidation, "Customer name must not be empty")
	}
	s.logger.Debug("AddEmails request", zap.String("owner", owner), zap.String("customer", customer), zap.Int("emails", len(emails)))

	unlock := s.locks.Lock(owner)
	defer unlock()

	db := s.db.WithContext(ctx)
	contact, err := findContact(db, owner)
	if err != nil {
		return nil, err
	}
	if contact == nil {
		return nil, apperrors.Newf(apperrors.ErrCodeNotFound, "Contact %s does not exist", owner)
	}

	results := make([]EmailResult, 0, len(emails))
	for _, raw := range emails {
		result, err := s.addEmail(ctx, db, contact, customer, util.NormalizeIdentifier(raw))
		if err != nil {
			return results, err
		}
		metrics.RecordRegistryEmail(result.Added)
		results = append(results, result)
	}

	s.logger.Info("Emails registered",
		zap.String("owner", owner),
		zap.String("customer", customer),
		zap.Int("added", countAdded(results)),
		zap.Int("rejected", len(results)-countAdded(results)))
	return results, nil
}

func (s *RegistryService) addEmail(ctx context.Context, db *gorm.DB, contact *domain.Contact, customer, email string) (EmailResult, error) {
	result := EmailResult{Email: email}

	if !util.IsValidEmail(email) {
		result.Reason = ReasonInvalidEmail
		return result, nil
	}

	existing, err := findEntry(db, email)
	if err != nil {
		return result, err
	}
	if existing != nil {
		result.Reason = ReasonAlreadyRegistered
		return result, nil
	}

	if contact.HasQuestion() {
		msg := gateway.Message{ToPersonEmail: email, Text: questionText(contact.Identity, *contact.CurrentQuestion)}
		if err := s.gw.Send(ctx, msg); err != nil {
			s.logger.Warn("Question delivery failed", zap.String("email", email), zap.Error(err))
			result.Reason = fmt.Sprintf("%s: %s", ReasonUndeliverable, gateway.Reason(err))
			return result, nil
		}
	}

	if err := createEntry(db, &domain.CustomerEntry{Email: email, CustomerName: customer, OwnerContact: contact.Identity}); err != nil {
		if apperrors.IsDuplicate(err) {
			result.Reason = ReasonAlreadyRegistered
			return result, nil
		}
		return result, err
	}

	result.Added = true
	return result, nil
}

// createEntry inserts entry. Losing a race against another owner
// registering the same email yields a Duplicate error.
func createEntry(db *gorm.DB, entry *domain.CustomerEntry) error {
	err := db.Create(entry).Error
	if err == nil {
		return nil
	}
	if again, findErr := findEntry(db, entry.Email); findErr == nil && again != nil {
		return apperrors.Wrap(apperrors.ErrCodeDuplicate, fmt.Sprintf("%s is already registered", entry.Email), err)
	}
	return fmt.Errorf("failed to create customer entry: %w", err)
}

// RemoveEmails removes the given emails (or every email when all is set)
// from (owner, customer) and returns the removed addresses. Emails that
// are not part of the customer are ignored.
func (s *RegistryService) RemoveEmails(ctx context.Context, owner, customer string, all bool, emails []string) ([]string, error) {
	owner = util.NormalizeIdentifier(owner)
	customer = strings.TrimSpace(customer)

	unlock := s.locks.Lock(owner)
	defer unlock()

	var removed []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entries []domain.CustomerEntry
		if err := tx.Where("owner_contact = ? AND customer_name = ?", owner, customer).Find(&entries).Error; err != nil {
			return fmt.Errorf("failed to list customer entries: %w", err)
		}
		if len(entries) == 0 {
			return apperrors.Newf(apperrors.ErrCodeNotFound, "You have no customers named %s", customer)
		}

		wanted := make(map[string]struct{}, len(emails))
		for _, e := range emails {
			wanted[util.NormalizeIdentifier(e)] = struct{}{}
		}
		for _, e := range entries {
			if _, ok := wanted[e.Email]; all || ok {
				removed = append(removed, e.Email)
			}
		}
		if len(removed) == 0 {
			return nil
		}

		err := tx.Where("owner_contact = ? AND customer_name = ? AND email IN ?", owner, customer, removed).
			Delete(&domain.CustomerEntry{}).Error
		if err != nil {
			return fmt.Errorf("failed to delete customer entries: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(removed)
	s.logger.Info("Emails removed", zap.String("owner", owner), zap.String("customer", customer), zap.Int("removed", len(removed)))
	return removed, nil
}

// TransferCustomer moves every entry of (from, customer) to to. Both
// identities are locked, in lexical order, for the duration of the move.
// Answers collected for from's question stay with from: they are delivered
// to from as a document and cleared from the moved entries. Nothing moves
// when that delivery fails.
func (s *RegistryService) TransferCustomer(ctx context.Context, from, to, customer string) (int64, error) {
	from = util.NormalizeIdentifier(from)
	to = util.NormalizeIdentifier(to)
	customer = strings.TrimSpace(customer)

	unlock := s.locks.Lock(from, to)
	defer unlock()

	db := s.db.WithContext(ctx)
	source, err := findContact(db, from)
	if err != nil {
		return 0, err
	}
	if source == nil {
		return 0, apperrors.Wrap(apperrors.ErrCodeNotFound, fmt.Sprintf("%s does not exist", from), ErrContactNotFound)
	}

	var entries []domain.CustomerEntry
	if err := db.Where("owner_contact = ? AND customer_name = ?", from, customer).Order("email").Find(&entries).Error; err != nil {
		return 0, fmt.Errorf("failed to list customer entries: %w", err)
	}
	if len(entries) == 0 {
		return 0, apperrors.Wrap(apperrors.ErrCodeNotFound, fmt.Sprintf("No customer named %s exists for %s", customer, from), ErrCustomerNotFound)
	}

	target, err := findContact(db, to)
	if err != nil {
		return 0, err
	}
	if target == nil {
		return 0, apperrors.Wrap(apperrors.ErrCodeNotFound, fmt.Sprintf("Contact person %s does not exist", to), ErrContactNotFound)
	}

	if source.HasQuestion() && report.CountRespondents(entries) > 0 {
		if err := deliverAnswers(ctx, s.gw, s.tempDir, from, *source.CurrentQuestion, entries); err != nil {
			s.logger.Warn("Answers delivery failed, customer not transferred",
				zap.String("from", from), zap.String("customer", customer), zap.Error(err))
			return 0, err
		}
	}

	var moved int64
	err = db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.CustomerEntry{}).
			Where("owner_contact = ? AND customer_name = ?", from, customer).
			Updates(map[string]any{"owner_contact": to, "answers": domain.Answers(nil)})
		if res.Error != nil {
			return fmt.Errorf("failed to transfer customer: %w", res.Error)
		}
		moved = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("Customer transferred",
		zap.String("from", from), zap.String("to", to), zap.String("customer", customer), zap.Int64("entries", moved))
	return moved, nil
}

// ListCustomerNames returns the owner's customer names, sorted
func (s *RegistryService) ListCustomerNames(ctx context.Context, owner string) ([]string, error) {
	var names []string
	err := s.db.WithContext(ctx).Model(&domain.CustomerEntry{}).
		Where("owner_contact = ?", util.NormalizeIdentifier(owner)).
		Distinct().
		Order("customer_name").
		Pluck("customer_name", &names).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}
	return names, nil
}

// ListEmails returns the emails of (owner, customer), sorted. An unknown
// customer yields an empty list.
func (s *RegistryService) ListEmails(ctx context.Context, owner, customer string) ([]string, error) {
	var emails []string
	err := s.db.WithContext(ctx).Model(&domain.CustomerEntry{}).
		Where("owner_contact = ? AND customer_name = ?", util.NormalizeIdentifier(owner), strings.TrimSpace(customer)).
		Order("email").
		Pluck("email", &emails).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list emails: %w", err)
	}
	return emails, nil
}

func findEntry(db *gorm.DB, email string) (*domain.CustomerEntry, error) {
	var entry domain.CustomerEntry
	if err := db.Where("email = ?", email).First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get customer entry: %w", err)
	}
	return &entry, nil
}

func countAdded(results []EmailResult) int {
	n := 0
	for _, r := range results {
		if r.Added {
			n++
		}
	}
	return n
}
