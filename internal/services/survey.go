package services

import (
	"context"
	"fmt"
	"os"
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

// maxOwnerRetries bounds how often RecordAnswer chases an entry whose
// owner changed while it waited for the lock.
const maxOwnerRetries = 3

// DeliveryFailure is a recipient a message could not be delivered to
type DeliveryFailure struct {
	Email  string
	Reason string
}

// AskResult reports the outcome of Ask
type AskResult struct {
	Delivered []string
	Failed    []DeliveryFailure
	// PreviousRespondents is the number of respondents compiled and
	// delivered for the replaced question; zero when nothing was pending.
	PreviousRespondents int
}

// SurveyService runs the ask / answer workflow of contacts
type SurveyService struct {
	db      *gorm.DB
	gw      gateway.Gateway
	locks   *util.KeyLock
	tempDir string
	logger  *zap.Logger
}

// NewSurveyService creates a new survey service. Answer documents are
// written to tempDir (the system temp dir when empty) and removed once
// sent.
func NewSurveyService(db *gorm.DB, gw gateway.Gateway, locks *util.KeyLock, tempDir string, logger *zap.Logger) *SurveyService {
	return &SurveyService{
		db:      db,
		gw:      gw,
		locks:   locks,
		tempDir: tempDir,
		logger:  logger.Named("survey"),
	}
}

// Ask replaces the owner's question. Pending answers to the previous
// question are delivered to the owner first; if that delivery fails the
// question is left untouched so no answers are lost. The new question is
// then sent to every registered email; individual failures are collected
// and do not stop the broadcast.
func (s *SurveyService) Ask(ctx context.Context, owner, question string) (*AskResult, error) {
	owner = util.NormalizeIdentifier(owner)
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, apperrors.New(apperrors.ErrCodeValidation, "Wrong format. Expected ask <question>")
	}
	s.logger.Debug("Ask request", zap.String("owner", owner))

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

	entries, err := ownerEntries(db, owner)
	if err != nil {
		return nil, err
	}

	result := &AskResult{}
	if contact.HasQuestion() && report.CountRespondents(entries) > 0 {
		if err := s.deliverAnswers(ctx, owner, *contact.CurrentQuestion, entries); err != nil {
			return nil, err
		}
		result.PreviousRespondents = report.CountRespondents(entries)
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&domain.CustomerEntry{}).
			Where("owner_contact = ?", owner).
			Update("answers", domain.Answers(nil)).Error; err != nil {
			return fmt.Errorf("failed to clear answers: %w", err)
		}
		if err := tx.Model(&domain.Contact{}).
			Where("identity = ?", owner).
			Update("current_question", question).Error; err != nil {
			return fmt.Errorf("failed to set question: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordQuestion()

	text := questionText(owner, question)
	for _, e := range entries {
		if err := s.gw.Send(ctx, gateway.Message{ToPersonEmail: e.Email, Text: text}); err != nil {
			s.logger.Warn("Question delivery failed", zap.String("email", e.Email), zap.Error(err))
			result.Failed = append(result.Failed, DeliveryFailure{Email: e.Email, Reason: gateway.Reason(err)})
			continue
		}
		result.Delivered = append(result.Delivered, e.Email)
	}

	s.logger.Info("Question asked",
		zap.String("owner", owner),
		zap.Int("delivered", len(result.Delivered)),
		zap.Int("failed", len(result.Failed)))
	return result, nil
}

// RecordAnswer appends text to the answers of email. It reports false,
// storing nothing, when email is not a registered customer or its owner
// has no active question.
func (s *SurveyService) RecordAnswer(ctx context.Context, email, text string) (bool, error) {
	email = util.NormalizeIdentifier(email)
	db := s.db.WithContext(ctx)

	for attempt := 0; attempt < maxOwnerRetries; attempt++ {
		entry, err := findEntry(db, email)
		if err != nil {
			return false, err
		}
		if entry == nil {
			metrics.RecordAnswer(false)
			return false, nil
		}

		recorded, moved, err := s.appendAnswer(db, entry.OwnerContact, email, text)
		if err != nil {
			return false, err
		}
		if moved {
			continue
		}
		metrics.RecordAnswer(recorded)
		return recorded, nil
	}
	return false, fmt.Errorf("customer entry %s kept changing owner", email)
}

// appendAnswer records the answer under the owner's lock. moved reports
// that the entry no longer belongs to owner once the lock was taken.
func (s *SurveyService) appendAnswer(db *gorm.DB, owner, email, text string) (recorded, moved bool, err error) {
	unlock := s.locks.Lock(owner)
	defer unlock()

	entry, err := findEntry(db, email)
	if err != nil {
		return false, false, err
	}
	if entry == nil {
		return false, false, nil
	}
	if entry.OwnerContact != owner {
		return false, true, nil
	}

	contact, err := findContact(db, owner)
	if err != nil {
		return false, false, err
	}
	if contact == nil || !contact.HasQuestion() {
		s.logger.Debug("Answer discarded, no active question", zap.String("email", email))
		return false, false, nil
	}

	answers := append(entry.Answers, text)
	if err := db.Model(&domain.CustomerEntry{}).Where("email = ?", email).Update("answers", answers).Error; err != nil {
		return false, false, fmt.Errorf("failed to record answer: %w", err)
	}
	s.logger.Info("Answer recorded", zap.String("email", email), zap.String("owner", owner))
	return true, false, nil
}

// FetchAnswers delivers the answers collected for the owner's current
// question and returns the number of respondents.
func (s *SurveyService) FetchAnswers(ctx context.Context, owner string) (int, error) {
	owner = util.NormalizeIdentifier(owner)

	unlock := s.locks.Lock(owner)
	defer unlock()

	db := s.db.WithContext(ctx)
	contact, err := findContact(db, owner)
	if err != nil {
		return 0, err
	}
	if contact == nil || !contact.HasQuestion() {
		return 0, apperrors.New(apperrors.ErrCodeNotFound, "You have no active question")
	}

	entries, err := ownerEntries(db, owner)
	if err != nil {
		return 0, err
	}
	if err := s.deliverAnswers(ctx, owner, *contact.CurrentQuestion, entries); err != nil {
		return 0, err
	}
	return report.CountRespondents(entries), nil
}

// CurrentQuestion returns the owner's active question, or "" when none
func (s *SurveyService) CurrentQuestion(ctx context.Context, owner string) (string, error) {
	contact, err := findContact(s.db.WithContext(ctx), util.NormalizeIdentifier(owner))
	if err != nil || contact == nil || !contact.HasQuestion() {
		return "", err
	}
	return *contact.CurrentQuestion, nil
}

func (s *SurveyService) deliverAnswers(ctx context.Context, owner, question string, entries []domain.CustomerEntry) error {
	if err := deliverAnswers(ctx, s.gw, s.tempDir, owner, question, entries); err != nil {
		s.logger.Warn("Answers delivery failed", zap.String("owner", owner), zap.Error(err))
		return err
	}
	return nil
}

// deliverAnswers compiles the answers of entries to question and sends the
// document to owner
func deliverAnswers(ctx context.Context, gw gateway.Gateway, tempDir, owner, question string, entries []domain.CustomerEntry) error {
	path, err := report.WriteTemp(tempDir, report.Compile(question, entries))
	if err != nil {
		return err
	}
	defer os.Remove(path)

	msg := gateway.Message{
		ToPersonEmail: owner,
		Text:          fmt.Sprintf("Answers to: %s (%d respondents)", question, report.CountRespondents(entries)),
		FilePath:      path,
	}
	if err := gw.Send(ctx, msg); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeGatewayFailure,
			fmt.Sprintf("Could not deliver the answers document: %s", gateway.Reason(err)), err)
	}
	return nil
}

func ownerEntries(db *gorm.DB, owner string) ([]domain.CustomerEntry, error) {
	var entries []domain.CustomerEntry
	if err := db.Where("owner_contact = ?", owner).Order("customer_name, email").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to list customer entries: %w", err)
	}
	return entries, nil
}

// questionText is the message customers receive for a question
func questionText(owner, question string) string {
	return fmt.Sprintf("Question from %s:\n\n%s\n\nReply to this message to answer.", owner, question)
}
