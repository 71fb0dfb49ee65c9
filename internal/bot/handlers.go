package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"feedbot/internal/domain"
	"feedbot/internal/gateway"
	"feedbot/internal/services"
	"feedbot/internal/util"
	apperrors "feedbot/pkg/errors"
)

// Command prefixes
const (
	cmdHelp           = "help"
	cmdAsk            = "ask"
	cmdGetAnswers     = "get answers"
	cmdListCustomers  = "list customers"
	cmdListEmails     = "list emails"
	cmdGiveCustomer   = "give customer"
	cmdStealCustomer  = "steal customer"
	cmdAddAdmin       = "add admin"
	cmdAddContact     = "add contact"
	cmdAddCustomer    = "add customer"
	cmdRemoveAdmin    = "remove admin"
	cmdRemoveContact  = "remove contact"
	cmdRemoveCustomer = "remove customer"
)

// commandFunc runs a command for an authorized contact
type commandFunc func(ctx context.Context, sender *domain.Contact, in gateway.Inbound) error

// Bot implements the chat commands
type Bot struct {
	directory *services.DirectoryService
	registry  *services.RegistryService
	survey    *services.SurveyService
	gw        gateway.Gateway
	router    *Router
	logger    *zap.Logger
}

// New creates a bot replying through gw
func New(directory *services.DirectoryService, registry *services.RegistryService, survey *services.SurveyService,
	gw gateway.Gateway, logger *zap.Logger) *Bot {
	b := &Bot{
		directory: directory,
		registry:  registry,
		survey:    survey,
		gw:        gw,
		logger:    logger.Named("bot"),
	}
	b.router = b.routes()
	return b
}

func (b *Bot) routes() *Router {
	r := NewRouter(b.answer)
	r.Handle(cmdHelp, `^help$`, b.contactOnly(b.help))
	r.Handle(cmdAsk, `^ask(\s|$)`, b.contactOnly(b.ask))
	r.Handle(cmdGetAnswers, `^get answers$`, b.contactOnly(b.getAnswers))
	r.Handle(cmdListCustomers, `^list customers$`, b.contactOnly(b.listCustomers))
	r.Handle(cmdListEmails, `^list emails`, b.contactOnly(b.listEmails))
	r.Handle(cmdGiveCustomer, `^give customer`, b.contactOnly(b.giveCustomer))
	r.Handle(cmdStealCustomer, `^steal customer`, b.contactOnly(b.stealCustomer))
	r.Handle(cmdAddAdmin, `^add admin`, b.adminOnly(b.addAdmin))
	r.Handle(cmdAddContact, `^add contact`, b.adminOnly(b.addContact))
	r.Handle(cmdAddCustomer, `^add customer`, b.contactOnly(b.addCustomer))
	r.Handle(cmdRemoveAdmin, `^remove admin`, b.adminOnly(b.removeAdmin))
	r.Handle(cmdRemoveContact, `^remove contact`, b.adminOnly(b.removeContact))
	r.Handle(cmdRemoveCustomer, `^remove customer`, b.contactOnly(b.removeCustomer))
	return r
}

// Router exposes the command table
func (b *Bot) Router() *Router {
	return b.router
}

// Handle routes one inbound message and returns the command it ran
func (b *Bot) Handle(ctx context.Context, in gateway.Inbound) (string, error) {
	command, h := b.router.Match(in.Text)
	return command, h(ctx, in)
}

func (b *Bot) contactOnly(fn commandFunc) HandlerFunc {
	return b.guard(util.RequireContact, fn)
}

func (b *Bot) adminOnly(fn commandFunc) HandlerFunc {
	return b.guard(util.RequireAdmin, fn)
}

// guard runs fn for authorized senders. Anyone else is treated as a
// survey respondent and the full text goes to the answer handler.
func (b *Bot) guard(require func(*domain.Contact) error, fn commandFunc) HandlerFunc {
	return func(ctx context.Context, in gateway.Inbound) error {
		sender, err := b.directory.Lookup(ctx, in.PersonEmail)
		if err != nil {
			return b.fail(ctx, in, err)
		}
		if err := require(sender); err != nil {
			b.logger.Debug("Sender not authorized, handling as answer",
				zap.String("sender", in.PersonEmail), zap.Error(err))
			return b.answer(ctx, in)
		}
		if err := fn(ctx, sender, in); err != nil {
			return b.fail(ctx, in, err)
		}
		return nil
	}
}

// fail reports err to the sender. Internal errors are logged and replaced
// by a generic message.
func (b *Bot) fail(ctx context.Context, in gateway.Inbound, err error) error {
	if apperrors.CodeOf(err) == apperrors.ErrCodeInternalError {
		b.logger.Error("Command failed", zap.String("sender", in.PersonEmail), zap.Error(err))
	}
	if replyErr := b.reply(ctx, in, apperrors.MessageOf(err)); replyErr != nil {
		return errors.Join(err, replyErr)
	}
	return err
}

func (b *Bot) reply(ctx context.Context, in gateway.Inbound, text string) error {
	err := b.gw.Send(ctx, gateway.Message{ToPersonEmail: in.PersonEmail, Text: text})
	if err != nil {
		b.logger.Warn("Reply failed", zap.String("to", in.PersonEmail), zap.Error(err))
		return fmt.Errorf("reply to %s: %w", in.PersonEmail, err)
	}
	return nil
}

// notify tells a third party about a change. The returned warning is
// empty on success.
func (b *Bot) notify(ctx context.Context, to, text string) string {
	if err := b.gw.Send(ctx, gateway.Message{ToPersonEmail: to, Text: text}); err != nil {
		b.logger.Warn("Notification failed", zap.String("to", to), zap.Error(err))
		return fmt.Sprintf("\nWarning: could not notify %s: %s", to, gateway.Reason(err))
	}
	return ""
}

// answer is the fallback for text that is not a command
func (b *Bot) answer(ctx context.Context, in gateway.Inbound) error {
	recorded, err := b.survey.RecordAnswer(ctx, in.PersonEmail, in.Text)
	if err != nil {
		b.logger.Error("Failed to record answer", zap.String("sender", in.PersonEmail), zap.Error(err))
		return err
	}
	if !recorded {
		return nil
	}
	return b.reply(ctx, in, "Thank you, your answer has been recorded.")
}

func (b *Bot) help(ctx context.Context, sender *domain.Contact, in gateway.Inbound) error {
	text := contactHelp
	if sender.IsAdmin {
		text += adminHelp
	}
	return b.reply(ctx, in, text)
}

func (b *Bot) ask(ctx context.Context, sender *domain.Contact, in gateway.Inbound) error {
	result, err := b.survey.Ask(ctx, sender.Identity, Argument(in.Text, cmdAsk))
	if err != nil {
		return err
	}

	var sb strings.Builder
	if result.PreviousRespondents > 0 {
		fmt.Fprintf(&sb, "Sent you the answers to your previous question (%d respondents).\n", result.PreviousRespondents)
	}
	total := len(result.Delivered) + len(result.Failed)
	if total == 0 {
		sb.WriteString("Question saved. You have no registered customer emails yet.")
	} else {
		fmt.Fprintf(&sb, "Question sent to %d of %d recipients.", len(result.Delivered), total)
	}
	for _, f := range result.Failed {
		fmt.Fprintf(&sb, "\nCould not deliver to %s: %s", f.Email, f.Reason)
	}
	return b.reply(ctx, in, sb.String())
}

func (b *Bot) getAnswers(ctx context.Context, sender *domain.Contact, in gateway.Inbound) error {
	_, err := b.survey.FetchAnswers(ctx, sender.Identity)
	return err
}

func (b *Bot) listCustomers(ctx context.Context, sender *domain.Contact, in gateway.Inbound) error {
	names, err := b.registry.ListCustomerNames(ctx, sender.Identity)
	if err != nil {
		return err
	}
	return b.reply(ctx, in, "Your customers:"+bullets(names))
}

func (b *Bot) listEmails(ctx context.Context, sender *domain.Contact, in gateway.Inbound) error {
	customer := Argument(in.Text, cmdListEmails)
	emails, err := b.registry.ListEmails(ctx, sender.Identity, customer)
	if err != nil {
		return err
	}
	if len(emails) == 0 {
		return b.reply(ctx, in, fmt.Sprintf("You have no customers named %s", customer))
	}
	return b.reply(ctx, in, fmt.Sprintf("Emails registered for customer %s:%s", customer, bullets(emails)))
}

func (b *Bot) giveCustomer(ctx context.Context, sender *domain.Contact, in gateway.Inbound) error {
	receiver, customer, err := transferArgs(Argument(in.Text, cmdGiveCustomer), "Wrong format. Expected give customer <receiver> <customer>")
	if err != nil {
		return err
	}
	if receiver == sender.Identity {
		return apperrors.Newf(apperrors.ErrCodeValidation, "You already own %s", customer)
	}

	if _, err := b.registry.TransferCustomer(ctx, sender.Identity, receiver, customer); err != nil {
		if errors.Is(err, services.ErrCustomerNotFound) {
			return apperrors.Wrap(apperrors.ErrCodeNotFound, fmt.Sprintf("No customer named %s exists for you", customer), err)
		}
		return err
	}

	text := fmt.Sprintf("Moved customer %s to %s", customer, receiver)
	text += b.notify(ctx, receiver, fmt.Sprintf("%s gave you customer %s", sender.Identity, customer))
	return b.reply(ctx, in, text)
}

func (b *Bot) stealCustomer(ctx context.Context, sender *domain.Contact, in gateway.Inbound) error {
	victim, customer, err := transferArgs(Argument(in.Text, cmdStealCustomer), "Wrong format. Expected steal customer <from> <customer>")
	if err != nil {
		return err
	}
	if victim == sender.Identity {
		return apperrors.Newf(apperrors.ErrCodeValidation, "You already own %s", customer)
	}

	if _, err := b.registry.TransferCustomer(ctx, victim, sender.Identity, customer); err != nil {
		return err
	}

	text := fmt.Sprintf("Stole customer %s from %s", customer, victim)
	text += b.notify(ctx, victim, fmt.Sprintf("%s took over your customer %s", sender.Identity, customer))
	return b.reply(ctx, in, text)
}

func (b *Bot) addAdmin(ctx context.Context, _ *domain.Contact, in gateway.Inbound) error {
	identity := util.NormalizeIdentifier(Argument(in.Text, cmdAddAdmin))
	change, err := b.directory.AddAdmin(ctx, identity)
	if err != nil {
		return err
	}

	switch change {
	case services.AdminCreated:
		return b.reply(ctx, in, fmt.Sprintf("created %s as admin", identity))
	case services.AdminPromoted:
		return b.reply(ctx, in, fmt.Sprintf("Gave admin privileges to %s", identity))
	default:
		return b.reply(ctx, in, fmt.Sprintf("%s is already an admin", identity))
	}
}

func (b *Bot) addContact(ctx context.Context, _ *domain.Contact, in gateway.Inbound) error {
	identity := util.NormalizeIdentifier(Argument(in.Text, cmdAddContact))
	created, err := b.directory.AddContact(ctx, identity)
	if err != nil {
		return err
	}
	if !created {
		return b.reply(ctx, in, fmt.Sprintf("Contact %s already exists", identity))
	}
	return b.reply(ctx, in, fmt.Sprintf("Added %s as contact", identity))
}

func (b *Bot) removeAdmin(ctx context.Context, _ *domain.Contact, in gateway.Inbound) error {
	identity := util.NormalizeIdentifier(Argument(in.Text, cmdRemoveAdmin))
	if err := b.directory.RemoveAdmin(ctx, identity); err != nil {
		return err
	}
	return b.reply(ctx, in, fmt.Sprintf("Removed admin privileges from %s", identity))
}

func (b *Bot) removeContact(ctx context.Context, _ *domain.Contact, in gateway.Inbound) error {
	identity := util.NormalizeIdentifier(Argument(in.Text, cmdRemoveContact))
	if _, err := b.directory.RemoveContact(ctx, identity); err != nil {
		return err
	}
	return b.reply(ctx, in, fmt.Sprintf("Removed %s from contacts", identity))
}

func (b *Bot) addCustomer(ctx context.Context, sender *domain.Contact, in gateway.Inbound) error {
	customer, list, ok := strings.Cut(Argument(in.Text, cmdAddCustomer), ":")
	customer = strings.TrimSpace(customer)
	if !ok || customer == "" {
		return apperrors.New(apperrors.ErrCodeValidation, "Wrong format. Expected add customer <customer name>: mail1 mail2 mail3")
	}

	results, err := b.registry.AddEmails(ctx, sender.Identity, customer, util.SplitEmails(list))
	if err != nil {
		return err
	}

	var sb strings.Builder
	for _, r := range results {
		switch {
		case r.Added:
		case r.Reason == services.ReasonAlreadyRegistered:
			fmt.Fprintf(&sb, "Not adding %s as email is already in use\n", r.Email)
		default:
			fmt.Fprintf(&sb, "Not adding %s: %s\n", r.Email, r.Reason)
		}
	}

	summary, err := b.registeredSummary(ctx, sender.Identity, customer, "%s has no registered emails")
	if err != nil {
		return err
	}
	sb.WriteString(summary)
	return b.reply(ctx, in, sb.String())
}

func (b *Bot) removeCustomer(ctx context.Context, sender *domain.Contact, in gateway.Inbound) error {
	customer, list, ok := strings.Cut(Argument(in.Text, cmdRemoveCustomer), ":")
	customer = strings.TrimSpace(customer)
	if !ok || customer == "" {
		return apperrors.New(apperrors.ErrCodeValidation, "Wrong format. Expected remove customer <customer name>: mail1 mail2 | all")
	}

	list = strings.TrimSpace(list)
	all := list == "all"
	var emails []string
	if !all {
		emails = util.SplitEmails(list)
	}
	if _, err := b.registry.RemoveEmails(ctx, sender.Identity, customer, all, emails); err != nil {
		return err
	}

	summary, err := b.registeredSummary(ctx, sender.Identity, customer, "%s is completely removed")
	if err != nil {
		return err
	}
	return b.reply(ctx, in, summary)
}

// registeredSummary lists the customer's emails, or formats empty with the
// customer name when none are left.
func (b *Bot) registeredSummary(ctx context.Context, owner, customer, empty string) (string, error) {
	emails, err := b.registry.ListEmails(ctx, owner, customer)
	if err != nil {
		return "", err
	}
	if len(emails) == 0 {
		return fmt.Sprintf(empty, customer), nil
	}
	return fmt.Sprintf("%s are now registered with %s", customer, strings.Join(emails, ", ")), nil
}

// transferArgs splits "<identity> <customer name>"; the customer name may
// contain spaces.
func transferArgs(arg, usage string) (identity, customer string, err error) {
	identity, customer, _ = strings.Cut(arg, " ")
	identity = util.NormalizeIdentifier(identity)
	customer = strings.TrimSpace(customer)
	if identity == "" || customer == "" {
		return "", "", apperrors.New(apperrors.ErrCodeValidation, usage)
	}
	return identity, customer, nil
}

func bullets(items []string) string {
	var sb strings.Builder
	for _, item := range items {
		sb.WriteString("\n * ")
		sb.WriteString(item)
	}
	return sb.String()
}
