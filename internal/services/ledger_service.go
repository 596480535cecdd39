// Package services orchestrates ledger writes, snapshot loading and the
// derived balance views.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cardledger/internal/amqp"
	"cardledger/internal/balance"
	"cardledger/internal/cache"
	"cardledger/internal/core"
	"cardledger/internal/ledger"
	"cardledger/internal/log"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// EventPublisher announces ledger changes. *amqp.Client implements it.
type EventPublisher interface {
	PublishLedgerChanged(ctx context.Context, msg *amqp.LedgerChangedMessage) error
}

type Options struct {
	DefaultCurrency string
	Policy          balance.PendingPolicy
	CacheSize       int
	CacheTTL        time.Duration
	Logger          *log.Logger
}

// LedgerService validates and stores cards, statements and payments, and
// computes dashboards from fresh snapshots.
type LedgerService struct {
	repo      ledger.Repository
	publisher EventPublisher
	agg       balance.Aggregator
	cache     *cache.LRUCache[balance.Dashboard]
	currency  string
	logger    *log.Logger
}

// NewLedgerService wires the service. publisher may be nil, in which case
// no events are sent.
func NewLedgerService(repo ledger.Repository, publisher EventPublisher, opts Options) *LedgerService {
	if opts.Logger == nil {
		opts.Logger = log.Discard()
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 128
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	currency := strings.ToUpper(strings.TrimSpace(opts.DefaultCurrency))
	if currency == "" {
		currency = core.DefaultCurrency
	}
	return &LedgerService{
		repo:      repo,
		publisher: publisher,
		agg:       balance.New(opts.Policy),
		cache:     cache.NewLRUCache[balance.Dashboard](opts.CacheSize, opts.CacheTTL),
		currency:  currency,
		logger:    opts.Logger.WithComponent(log.ComponentLedger),
	}
}

// Cache exposes the dashboard cache so it can be registered for cleanup.
func (s *LedgerService) Cache() *cache.LRUCache[balance.Dashboard] {
	return s.cache
}

func (s *LedgerService) CacheStats() cache.Stats {
	return s.cache.Stats()
}

// Policy returns the pending policy applied to every figure.
func (s *LedgerService) Policy() balance.PendingPolicy {
	return s.agg.Policy()
}

// Inputs arrive as text so amounts are parsed strictly once, at the edge.
type (
	CardInput struct {
		ID          string `json:"id,omitempty"`
		Name        string `json:"name"`
		Bank        string `json:"bank,omitempty"`
		CreditLimit string `json:"credit_limit"`
		Currency    string `json:"currency,omitempty"`
		Notes       string `json:"notes,omitempty"`
	}

	StatementInput struct {
		CardID        string `json:"card_id"`
		Month         string `json:"statement_month"`
		StatementDate string `json:"statement_date,omitempty"`
		DueDate       string `json:"due_date,omitempty"`
		Billed        string `json:"billed_amount,omitempty"`
		Currency      string `json:"currency,omitempty"`
	}

	PaymentInput struct {
		Kind        string `json:"kind"`
		CardID      string `json:"card_id,omitempty"`
		StatementID string `json:"statement_id,omitempty"`
		DebtRef     string `json:"debt_ref,omitempty"`
		PaidOn      string `json:"payment_date"`
		Amount      string `json:"amount"`
		Currency    string `json:"currency,omitempty"`
		Note        string `json:"note,omitempty"`
	}
)

func (s *LedgerService) currencyOr(code string) string {
	if strings.TrimSpace(code) == "" {
		return s.currency
	}
	return core.NormalizeCurrency(code)
}

func parseAmountField(field, raw string, optional bool) (core.Amount, error) {
	if optional && strings.TrimSpace(raw) == "" {
		return core.NewAmount(decimal.Zero), nil
	}
	d, err := core.ParseAmount(raw)
	if err != nil {
		return core.Amount{}, fmt.Errorf("%s: %w", field, err)
	}
	return core.NewAmount(d), nil
}

// Cards

func (s *LedgerService) ListCards(ctx context.Context, userID string) ([]core.Card, error) {
	return s.repo.ListCards(ctx, userID)
}

func (s *LedgerService) SaveCard(ctx context.Context, userID string, in CardInput) (core.Card, error) {
	limit, err := parseAmountField("credit limit", in.CreditLimit, false)
	if err != nil {
		return core.Card{}, err
	}
	c := core.Card{
		ID:          strings.TrimSpace(in.ID),
		UserID:      userID,
		Name:        strings.TrimSpace(in.Name),
		Bank:        strings.TrimSpace(in.Bank),
		CreditLimit: limit,
		Currency:    s.currencyOr(in.Currency),
		Notes:       strings.TrimSpace(in.Notes),
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	} else if _, err := s.repo.GetCard(ctx, userID, c.ID); err != nil {
		return core.Card{}, err
	}
	if err := c.Validate(); err != nil {
		return core.Card{}, err
	}
	saved, err := s.repo.SaveCard(ctx, c)
	if err != nil {
		return core.Card{}, fmt.Errorf("save card: %w", err)
	}
	s.announce(ctx, userID, amqp.EntityCard, saved.ID, amqp.OpSaved)
	return saved, nil
}

func (s *LedgerService) DeleteCard(ctx context.Context, userID, id string) error {
	if err := s.repo.DeleteCard(ctx, userID, id); err != nil {
		return fmt.Errorf("delete card: %w", err)
	}
	s.announce(ctx, userID, amqp.EntityCard, id, amqp.OpDeleted)
	return nil
}

// Statements

// RecordStatement creates or replaces the statement for the card's billing
// month. The month may be any date in that month, or YYYY-MM.
func (s *LedgerService) RecordStatement(ctx context.Context, userID string, in StatementInput) (core.Statement, error) {
	month, err := core.NormalizeMonth(in.Month)
	if err != nil {
		return core.Statement{}, fmt.Errorf("statement month: %w", err)
	}
	billed, err := parseAmountField("billed amount", in.Billed, true)
	if err != nil {
		return core.Statement{}, err
	}
	st := core.Statement{
		UserID:        userID,
		CardID:        strings.TrimSpace(in.CardID),
		Month:         month,
		StatementDate: normalizeDate(in.StatementDate),
		DueDate:       normalizeDate(in.DueDate),
		Billed:        billed,
		Currency:      s.currencyOr(in.Currency),
	}
	if err := st.Validate(); err != nil {
		return core.Statement{}, err
	}
	if _, err := s.repo.GetCard(ctx, userID, st.CardID); err != nil {
		return core.Statement{}, unknownRef(err, core.ErrMissingCard, "card", st.CardID)
	}
	saved, err := s.repo.UpsertStatement(ctx, st)
	if err != nil {
		return core.Statement{}, fmt.Errorf("upsert statement: %w", err)
	}
	s.announce(ctx, userID, amqp.EntityStatement, saved.ID, amqp.OpSaved)
	return saved, nil
}

func (s *LedgerService) DeleteStatement(ctx context.Context, userID, id string) error {
	if err := s.repo.DeleteStatement(ctx, userID, id); err != nil {
		return fmt.Errorf("delete statement: %w", err)
	}
	s.announce(ctx, userID, amqp.EntityStatement, id, amqp.OpDeleted)
	return nil
}

// normalizeDate rewrites parseable dates to YYYY-MM-DD and leaves anything
// else for Validate to reject.
func normalizeDate(raw string) string {
	raw = strings.TrimSpace(raw)
	if d, ok := core.ParseDate(raw); ok {
		return d.String()
	}
	return raw
}

// Payments

func (s *LedgerService) RecordPayment(ctx context.Context, userID string, in PaymentInput) (core.Payment, error) {
	kind, err := core.ParsePaymentKind(in.Kind)
	if err != nil {
		return core.Payment{}, err
	}
	paidOn, ok := core.ParseDate(in.PaidOn)
	if !ok {
		return core.Payment{}, fmt.Errorf("payment date: %w", core.ErrInvalidDate)
	}
	amount, err := parseAmountField("amount", in.Amount, false)
	if err != nil {
		return core.Payment{}, err
	}
	p := core.Payment{
		ID:          uuid.NewString(),
		UserID:      userID,
		Kind:        kind,
		CardID:      strings.TrimSpace(in.CardID),
		StatementID: strings.TrimSpace(in.StatementID),
		DebtRef:     strings.TrimSpace(in.DebtRef),
		PaidOn:      paidOn,
		Amount:      amount,
		Currency:    s.currencyOr(in.Currency),
		Note:        strings.TrimSpace(in.Note),
	}
	if err := p.Validate(); err != nil {
		return core.Payment{}, err
	}
	if p.Kind == core.KindCard {
		if _, err := s.repo.GetCard(ctx, userID, p.CardID); err != nil {
			return core.Payment{}, unknownRef(err, core.ErrMissingCard, "card", p.CardID)
		}
		if p.StatementID != "" {
			if err := s.checkStatementOnCard(ctx, userID, p.StatementID, p.CardID); err != nil {
				return core.Payment{}, err
			}
		}
	}
	saved, err := s.repo.SavePayment(ctx, p)
	if err != nil {
		return core.Payment{}, fmt.Errorf("save payment: %w", err)
	}
	s.logger.InfoContext(ctx, "Payment recorded",
		log.NewFields().WithPayment(saved.ID, saved.Kind.String(), saved.CardID, saved.StatementID, saved.Amount.OrZero()).ToSlice()...)
	s.announce(ctx, userID, amqp.EntityPayment, saved.ID, amqp.OpSaved)
	return saved, nil
}

// RelinkPayment moves a card payment to another statement of the same card,
// or unlinks it when statementID is empty. Paid and pending figures of both
// the old and the new statement change with it.
func (s *LedgerService) RelinkPayment(ctx context.Context, userID, paymentID, statementID string) (core.Payment, error) {
	statementID = strings.TrimSpace(statementID)
	p, err := s.repo.GetPayment(ctx, userID, paymentID)
	if err != nil {
		return core.Payment{}, fmt.Errorf("get payment: %w", err)
	}
	if statementID != "" {
		if p.Kind != core.KindCard {
			return core.Payment{}, core.ErrUnexpectedLink
		}
		if err := s.checkStatementOnCard(ctx, userID, statementID, p.CardID); err != nil {
			return core.Payment{}, err
		}
	}
	moved, err := s.repo.RelinkPayment(ctx, userID, paymentID, statementID)
	if err != nil {
		return core.Payment{}, fmt.Errorf("relink payment: %w", err)
	}
	s.logger.InfoContext(ctx, "Payment relinked",
		log.FieldPaymentID, paymentID,
		"from_statement", p.StatementID,
		"to_statement", statementID)
	s.announce(ctx, userID, amqp.EntityPayment, paymentID, amqp.OpRelinked)
	return moved, nil
}

func (s *LedgerService) DeletePayment(ctx context.Context, userID, id string) error {
	if err := s.repo.DeletePayment(ctx, userID, id); err != nil {
		return fmt.Errorf("delete payment: %w", err)
	}
	s.announce(ctx, userID, amqp.EntityPayment, id, amqp.OpDeleted)
	return nil
}

func (s *LedgerService) checkStatementOnCard(ctx context.Context, userID, statementID, cardID string) error {
	st, err := s.repo.GetStatement(ctx, userID, statementID)
	if err != nil {
		return unknownRef(err, core.ErrNotFound, "statement", statementID)
	}
	if st.CardID != cardID {
		return fmt.Errorf("statement %s: %w", statementID, core.ErrStatementOnCard)
	}
	return nil
}

// unknownRef turns a lookup miss into sentinel, keeping other errors as is.
func unknownRef(err, sentinel error, what, id string) error {
	if errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("%s %q: %w", what, id, sentinel)
	}
	return fmt.Errorf("get %s: %w", what, err)
}

// announce publishes a change event. Failures are logged and never undo the
// write.
func (s *LedgerService) announce(ctx context.Context, userID, entity, id, op string) {
	if s.publisher == nil {
		return
	}
	version, err := s.repo.Version(ctx, userID)
	if err != nil {
		s.logger.WarnContext(ctx, "Cannot read ledger version for event", log.FieldError, err)
	}
	msg := amqp.NewLedgerChangedMessage(userID, entity, id, op, version)
	if err := s.publisher.PublishLedgerChanged(ctx, msg); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish ledger changed message",
			log.FieldError, err, log.FieldUserID, userID, "entity", entity, "entity_id", id)
	}
}

// Reads

// Snapshot loads cards, statements and payments concurrently and returns
// them with the ledger version read before the load.
func (s *LedgerService) Snapshot(ctx context.Context, userID string) (balance.Snapshot, int64, error) {
	version, err := s.repo.Version(ctx, userID)
	if err != nil {
		return balance.Snapshot{}, 0, fmt.Errorf("read version: %w", err)
	}

	var snap balance.Snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cards, err := s.repo.ListCards(gctx, userID)
		if err != nil {
			return fmt.Errorf("list cards: %w", err)
		}
		snap.Cards = cards
		return nil
	})
	g.Go(func() error {
		statements, err := s.repo.ListStatements(gctx, userID)
		if err != nil {
			return fmt.Errorf("list statements: %w", err)
		}
		snap.Statements = statements
		return nil
	})
	g.Go(func() error {
		payments, err := s.repo.ListPayments(gctx, userID)
		if err != nil {
			return fmt.Errorf("list payments: %w", err)
		}
		snap.Payments = payments
		return nil
	})
	if err := g.Wait(); err != nil {
		return balance.Snapshot{}, 0, err
	}
	return snap, version, nil
}

func dashboardKey(userID string, version int64, asOf core.Date) string {
	return fmt.Sprintf("%s|%d|%s", userID, version, asOf.String())
}

// Dashboard returns every derived view as of asOf. Results are cached per
// ledger version, so any write makes earlier entries unreachable.
func (s *LedgerService) Dashboard(ctx context.Context, userID string, asOf core.Date) (balance.Dashboard, error) {
	asOf = core.DateOf(asOf.Time)
	version, err := s.repo.Version(ctx, userID)
	if err != nil {
		return balance.Dashboard{}, fmt.Errorf("read version: %w", err)
	}
	key := dashboardKey(userID, version, asOf)
	if d, ok := s.cache.Get(key); ok {
		return d, nil
	}

	snap, loadedAt, err := s.Snapshot(ctx, userID)
	if err != nil {
		return balance.Dashboard{}, err
	}
	d := s.agg.Dashboard(snap, asOf)

	// only cache when no write landed while the snapshot was loading
	if after, err := s.repo.Version(ctx, userID); err == nil && after == loadedAt && loadedAt == version {
		s.cache.Set(key, d)
	}
	s.logger.DebugContext(ctx, "Dashboard computed",
		log.FieldUserID, userID,
		log.FieldAsOf, asOf.String(),
		log.FieldVersion, loadedAt,
		log.FieldPolicy, d.Policy)
	return d, nil
}

// UpcomingDue returns statements due within the next 30 days of asOf.
func (s *LedgerService) UpcomingDue(ctx context.Context, userID string, asOf core.Date) ([]balance.DueItem, error) {
	d, err := s.Dashboard(ctx, userID, asOf)
	if err != nil {
		return nil, err
	}
	return d.Upcoming, nil
}

// Overdue returns statements past their due date that still carry a balance.
func (s *LedgerService) Overdue(ctx context.Context, userID string, asOf core.Date) ([]balance.DueItem, error) {
	d, err := s.Dashboard(ctx, userID, asOf)
	if err != nil {
		return nil, err
	}
	return d.Overdue, nil
}

// Ready checks that the backend answers.
func (s *LedgerService) Ready(ctx context.Context, userID string) error {
	_, err := s.repo.Version(ctx, userID)
	return err
}
