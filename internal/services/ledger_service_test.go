package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"cardledger/internal/amqp"
	"cardledger/internal/core"
	"cardledger/internal/ledger"
	"cardledger/internal/ledger/memory"

	"github.com/shopspring/decimal"
)

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []*amqp.LedgerChangedMessage
	err  error
}

func (p *recordingPublisher) PublishLedgerChanged(_ context.Context, msg *amqp.LedgerChangedMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return p.err
}

// countingRepo counts full snapshot loads.
type countingRepo struct {
	ledger.Repository
	mu    sync.Mutex
	loads int
}

func (r *countingRepo) ListCards(ctx context.Context, userID string) ([]core.Card, error) {
	r.mu.Lock()
	r.loads++
	r.mu.Unlock()
	return r.Repository.ListCards(ctx, userID)
}

func (r *countingRepo) Loads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loads
}

const user = "u1"

func newTestService(t *testing.T) (*LedgerService, *recordingPublisher, *countingRepo) {
	t.Helper()
	repo := &countingRepo{Repository: memory.New()}
	pub := &recordingPublisher{}
	return NewLedgerService(repo, pub, Options{DefaultCurrency: "aed"}), pub, repo
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func mustCard(t *testing.T, s *LedgerService, name, limit string) core.Card {
	t.Helper()
	c, err := s.SaveCard(context.Background(), user, CardInput{Name: name, CreditLimit: limit})
	if err != nil {
		t.Fatalf("SaveCard(%s): %v", name, err)
	}
	return c
}

func mustStatement(t *testing.T, s *LedgerService, in StatementInput) core.Statement {
	t.Helper()
	st, err := s.RecordStatement(context.Background(), user, in)
	if err != nil {
		t.Fatalf("RecordStatement: %v", err)
	}
	return st
}

func TestSaveCard(t *testing.T) {
	s, pub, _ := newTestService(t)
	ctx := context.Background()

	c := mustCard(t, s, "  Visa Gold ", "10000")
	if c.ID == "" || c.Name != "Visa Gold" || c.Currency != "AED" {
		t.Errorf("card = %+v", c)
	}
	if len(pub.msgs) != 1 || pub.msgs[0].Entity != amqp.EntityCard || pub.msgs[0].Version != 1 {
		t.Errorf("published = %+v", pub.msgs)
	}

	updated, err := s.SaveCard(ctx, user, CardInput{ID: c.ID, Name: "Visa", CreditLimit: "12000", Currency: "usd"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !updated.CreditLimit.Value.Equal(dec("12000")) || updated.Currency != "USD" {
		t.Errorf("updated = %+v", updated)
	}

	if _, err := s.SaveCard(ctx, user, CardInput{ID: "nope", Name: "X", CreditLimit: "1"}); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("update of unknown card: err = %v", err)
	}
}

func TestSaveCardValidation(t *testing.T) {
	s, pub, _ := newTestService(t)
	tests := []struct {
		name string
		in   CardInput
		want error
	}{
		{"empty name", CardInput{Name: " ", CreditLimit: "1"}, core.ErrEmptyName},
		{"malformed limit", CardInput{Name: "A", CreditLimit: "lots"}, core.ErrInvalidAmount},
		{"negative limit", CardInput{Name: "A", CreditLimit: "-5"}, core.ErrInvalidAmount},
		{"missing limit", CardInput{Name: "A"}, core.ErrInvalidAmount},
		{"bad currency", CardInput{Name: "A", CreditLimit: "1", Currency: "dirham"}, core.ErrInvalidCurrency},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.SaveCard(context.Background(), user, tt.in); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
	if len(pub.msgs) != 0 {
		t.Errorf("rejected writes published %d events", len(pub.msgs))
	}
}

func TestRecordStatement(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()
	card := mustCard(t, s, "Visa", "5000")

	first := mustStatement(t, s, StatementInput{CardID: card.ID, Month: "2025-01-17", DueDate: "2025-02-10", Billed: "1200"})
	if first.Month.String() != "2025-01-01" || first.DueDate != "2025-02-10" {
		t.Errorf("statement = %+v", first)
	}

	again := mustStatement(t, s, StatementInput{CardID: card.ID, Month: "2025-01", DueDate: "2025-02-12T00:00:00Z", Billed: "1300"})
	if again.ID != first.ID {
		t.Errorf("same month should keep id %s, got %s", first.ID, again.ID)
	}
	if again.DueDate != "2025-02-12" {
		t.Errorf("due date = %q", again.DueDate)
	}

	noBill := mustStatement(t, s, StatementInput{CardID: card.ID, Month: "2025-02"})
	if !noBill.Billed.Valid || !noBill.Billed.Value.IsZero() {
		t.Errorf("billed = %+v, want 0", noBill.Billed)
	}

	tests := []struct {
		name string
		in   StatementInput
		want error
	}{
		{"unknown card", StatementInput{CardID: "ghost", Month: "2025-01"}, core.ErrMissingCard},
		{"no card", StatementInput{Month: "2025-01"}, core.ErrMissingCard},
		{"bad month", StatementInput{CardID: card.ID, Month: "January"}, core.ErrInvalidDate},
		{"bad due date", StatementInput{CardID: card.ID, Month: "2025-03", DueDate: "2025-02-30"}, core.ErrInvalidDate},
		{"bad billed", StatementInput{CardID: card.ID, Month: "2025-03", Billed: "1.2.3"}, core.ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.RecordStatement(ctx, user, tt.in); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRecordPayment(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()
	visa := mustCard(t, s, "Visa", "5000")
	amex := mustCard(t, s, "Amex", "5000")
	st := mustStatement(t, s, StatementInput{CardID: visa.ID, Month: "2025-01", DueDate: "2025-02-10", Billed: "1000"})

	p, err := s.RecordPayment(ctx, user, PaymentInput{Kind: "card", CardID: visa.ID, StatementID: st.ID, PaidOn: "2025-01-20", Amount: "250,50"})
	if err != nil {
		t.Fatalf("RecordPayment: %v", err)
	}
	if p.Kind != core.KindCard || !p.Amount.Value.Equal(dec("250.50")) || p.PaidOn.String() != "2025-01-20" {
		t.Errorf("payment = %+v", p)
	}

	if _, err := s.RecordPayment(ctx, user, PaymentInput{Kind: "LOAN", DebtRef: "car", PaidOn: "2025-01-05", Amount: "900"}); err != nil {
		t.Errorf("loan payment: %v", err)
	}

	tests := []struct {
		name string
		in   PaymentInput
		want error
	}{
		{"bad kind", PaymentInput{Kind: "cash", CardID: visa.ID, PaidOn: "2025-01-01", Amount: "1"}, core.ErrInvalidKind},
		{"bad date", PaymentInput{Kind: "CARD", CardID: visa.ID, PaidOn: "soon", Amount: "1"}, core.ErrInvalidDate},
		{"zero amount", PaymentInput{Kind: "CARD", CardID: visa.ID, PaidOn: "2025-01-01", Amount: "0"}, core.ErrNonPositiveValue},
		{"malformed amount", PaymentInput{Kind: "CARD", CardID: visa.ID, PaidOn: "2025-01-01", Amount: "abc"}, core.ErrInvalidAmount},
		{"unknown card", PaymentInput{Kind: "CARD", CardID: "ghost", PaidOn: "2025-01-01", Amount: "1"}, core.ErrMissingCard},
		{"statement of other card", PaymentInput{Kind: "CARD", CardID: amex.ID, StatementID: st.ID, PaidOn: "2025-01-01", Amount: "1"}, core.ErrStatementOnCard},
		{"unknown statement", PaymentInput{Kind: "CARD", CardID: visa.ID, StatementID: "ghost", PaidOn: "2025-01-01", Amount: "1"}, core.ErrNotFound},
		{"loan without ref", PaymentInput{Kind: "LOAN", PaidOn: "2025-01-01", Amount: "1"}, core.ErrMissingDebtRef},
		{"loan linked", PaymentInput{Kind: "PERSONAL", DebtRef: "mum", StatementID: st.ID, PaidOn: "2025-01-01", Amount: "1"}, core.ErrUnexpectedLink},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.RecordPayment(ctx, user, tt.in); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRelinkPayment(t *testing.T) {
	s, pub, _ := newTestService(t)
	ctx := context.Background()
	asOf := core.NewDate(2025, 2, 1)
	visa := mustCard(t, s, "Visa", "5000")
	amex := mustCard(t, s, "Amex", "5000")
	jan := mustStatement(t, s, StatementInput{CardID: visa.ID, Month: "2025-01", DueDate: "2025-02-10", Billed: "1000"})
	feb := mustStatement(t, s, StatementInput{CardID: visa.ID, Month: "2025-02", DueDate: "2025-02-25", Billed: "800"})
	other := mustStatement(t, s, StatementInput{CardID: amex.ID, Month: "2025-01", DueDate: "2025-02-10", Billed: "10"})
	p, err := s.RecordPayment(ctx, user, PaymentInput{Kind: "CARD", CardID: visa.ID, StatementID: jan.ID, PaidOn: "2025-01-20", Amount: "300"})
	if err != nil {
		t.Fatalf("RecordPayment: %v", err)
	}

	pendingOf := func(id string) decimal.Decimal {
		t.Helper()
		items, err := s.UpcomingDue(ctx, user, asOf)
		if err != nil {
			t.Fatalf("UpcomingDue: %v", err)
		}
		for _, it := range items {
			if it.StatementID == id {
				return it.Pending
			}
		}
		t.Fatalf("statement %s not upcoming", id)
		return decimal.Zero
	}

	if got := pendingOf(jan.ID); !got.Equal(dec("700")) {
		t.Errorf("jan pending = %s, want 700", got)
	}

	if _, err := s.RelinkPayment(ctx, user, p.ID, feb.ID); err != nil {
		t.Fatalf("RelinkPayment: %v", err)
	}
	if got := pendingOf(jan.ID); !got.Equal(dec("1000")) {
		t.Errorf("jan pending after relink = %s, want 1000", got)
	}
	if got := pendingOf(feb.ID); !got.Equal(dec("500")) {
		t.Errorf("feb pending after relink = %s, want 500", got)
	}
	if last := pub.msgs[len(pub.msgs)-1]; last.Operation != amqp.OpRelinked || last.EntityID != p.ID {
		t.Errorf("last event = %+v", last)
	}

	if _, err := s.RelinkPayment(ctx, user, p.ID, other.ID); !errors.Is(err, core.ErrStatementOnCard) {
		t.Errorf("cross-card relink: err = %v", err)
	}

	unlinked, err := s.RelinkPayment(ctx, user, p.ID, "")
	if err != nil {
		t.Fatalf("unlink: %v", err)
	}
	if unlinked.StatementID != "" {
		t.Errorf("statement id = %q after unlink", unlinked.StatementID)
	}
	d, err := s.Dashboard(ctx, user, asOf)
	if err != nil {
		t.Fatalf("Dashboard: %v", err)
	}
	if got := d.Unlinked.For(visa.ID); !got.Equal(dec("300")) {
		t.Errorf("unlinked = %s, want 300", got)
	}

	loan, err := s.RecordPayment(ctx, user, PaymentInput{Kind: "LOAN", DebtRef: "car", PaidOn: "2025-01-05", Amount: "900"})
	if err != nil {
		t.Fatalf("loan payment: %v", err)
	}
	if _, err := s.RelinkPayment(ctx, user, loan.ID, jan.ID); !errors.Is(err, core.ErrUnexpectedLink) {
		t.Errorf("loan relink: err = %v", err)
	}
	if _, err := s.RelinkPayment(ctx, user, "ghost", jan.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("unknown payment: err = %v", err)
	}
}

func TestDashboardCachedPerVersion(t *testing.T) {
	s, _, repo := newTestService(t)
	ctx := context.Background()
	asOf := core.NewDate(2025, 2, 1)
	card := mustCard(t, s, "Visa", "5000")
	mustStatement(t, s, StatementInput{CardID: card.ID, Month: "2025-01", DueDate: "2025-02-10", Billed: "1000"})

	first, err := s.Dashboard(ctx, user, asOf)
	if err != nil {
		t.Fatalf("Dashboard: %v", err)
	}
	if _, err := s.Dashboard(ctx, user, asOf); err != nil {
		t.Fatalf("Dashboard: %v", err)
	}
	if repo.Loads() != 1 {
		t.Errorf("loads = %d, want 1 (second call cached)", repo.Loads())
	}
	if !first.Totals.TotalPending.Equal(dec("1000")) {
		t.Errorf("pending = %s", first.Totals.TotalPending)
	}

	if _, err := s.RecordPayment(ctx, user, PaymentInput{Kind: "CARD", CardID: card.ID, PaidOn: "2025-01-20", Amount: "10"}); err != nil {
		t.Fatalf("RecordPayment: %v", err)
	}
	after, err := s.Dashboard(ctx, user, asOf)
	if err != nil {
		t.Fatalf("Dashboard: %v", err)
	}
	if repo.Loads() != 2 {
		t.Errorf("loads = %d, want 2 (write invalidates)", repo.Loads())
	}
	if !after.Unlinked.For(card.ID).Equal(dec("10")) {
		t.Errorf("unlinked = %s", after.Unlinked.For(card.ID))
	}

	if _, err := s.Dashboard(ctx, user, asOf.AddDays(1)); err != nil {
		t.Fatalf("Dashboard: %v", err)
	}
	if repo.Loads() != 3 {
		t.Errorf("loads = %d, want 3 (as-of is part of the key)", repo.Loads())
	}
}

func TestDeleteCardPublishesAndCascades(t *testing.T) {
	s, pub, _ := newTestService(t)
	ctx := context.Background()
	card := mustCard(t, s, "Visa", "5000")
	st := mustStatement(t, s, StatementInput{CardID: card.ID, Month: "2025-01", DueDate: "2025-02-10", Billed: "1000"})

	if err := s.DeleteCard(ctx, user, card.ID); err != nil {
		t.Fatalf("DeleteCard: %v", err)
	}
	if err := s.DeleteStatement(ctx, user, st.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("statement should be gone with its card: err = %v", err)
	}
	if err := s.DeleteCard(ctx, user, card.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("second delete: err = %v", err)
	}
	if last := pub.msgs[len(pub.msgs)-1]; last.Operation != amqp.OpDeleted || last.Entity != amqp.EntityCard {
		t.Errorf("last event = %+v", last)
	}
}

func TestPublishFailureDoesNotFailWrite(t *testing.T) {
	repo := memory.New()
	pub := &recordingPublisher{err: amqp.ErrCircuitOpen}
	s := NewLedgerService(repo, pub, Options{})
	if _, err := s.SaveCard(context.Background(), user, CardInput{Name: "Visa", CreditLimit: "1"}); err != nil {
		t.Fatalf("SaveCard: %v", err)
	}
	cards, _ := s.ListCards(context.Background(), user)
	if len(cards) != 1 {
		t.Errorf("cards = %d, want 1", len(cards))
	}
}

func TestNilPublisher(t *testing.T) {
	s := NewLedgerService(memory.New(), nil, Options{})
	if _, err := s.SaveCard(context.Background(), user, CardInput{Name: "Visa", CreditLimit: "1"}); err != nil {
		t.Fatalf("SaveCard: %v", err)
	}
	if got := s.Policy().Name(); got != "clamp_at_zero" {
		t.Errorf("policy = %s", got)
	}
}
