// Package ledgertest holds behaviour checks shared by every ledger.Repository
// implementation.
package ledgertest

import (
	"context"
	"errors"
	"testing"

	"cardledger/internal/core"
	"cardledger/internal/ledger"
)

// Run exercises repo through the full write and read cycle. newRepo must
// return an empty repository.
func Run(t *testing.T, newRepo func(t *testing.T) ledger.Repository) {
	t.Helper()

	t.Run("cards", func(t *testing.T) { testCards(t, newRepo(t)) })
	t.Run("statement upsert", func(t *testing.T) { testStatementUpsert(t, newRepo(t)) })
	t.Run("payments and relink", func(t *testing.T) { testPayments(t, newRepo(t)) })
	t.Run("delete cascades", func(t *testing.T) { testDeletes(t, newRepo(t)) })
	t.Run("users are isolated", func(t *testing.T) { testIsolation(t, newRepo(t)) })
}

func Card(id, user string) core.Card {
	return core.Card{ID: id, UserID: user, Name: "Card " + id, Bank: "ENBD", CreditLimit: core.MustAmount("5000"), Currency: "AED"}
}

func Statement(id, user, card string, month core.Date, due string, billed string) core.Statement {
	return core.Statement{
		ID:       id,
		UserID:   user,
		CardID:   card,
		Month:    month,
		DueDate:  due,
		Billed:   core.MustAmount(billed),
		Currency: "AED",
	}
}

func CardPayment(id, user, card, statement, amount string) core.Payment {
	return core.Payment{
		ID:          id,
		UserID:      user,
		Kind:        core.KindCard,
		CardID:      card,
		StatementID: statement,
		PaidOn:      core.NewDate(2025, 1, 12),
		Amount:      core.MustAmount(amount),
		Currency:    "AED",
	}
}

func version(t *testing.T, repo ledger.Repository, user string) int64 {
	t.Helper()
	v, err := repo.Version(context.Background(), user)
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	return v
}

func testCards(t *testing.T, repo ledger.Repository) {
	ctx := context.Background()
	v0 := version(t, repo, "u1")

	saved, err := repo.SaveCard(ctx, Card("c1", "u1"))
	if err != nil {
		t.Fatalf("SaveCard: %v", err)
	}
	if saved.ID != "c1" {
		t.Errorf("ID = %q", saved.ID)
	}
	if v1 := version(t, repo, "u1"); v1 <= v0 {
		t.Errorf("version did not advance: %d -> %d", v0, v1)
	}

	updated := Card("c1", "u1")
	updated.Name = "Renamed"
	updated.CreditLimit = core.MustAmount("7500.25")
	if _, err := repo.SaveCard(ctx, updated); err != nil {
		t.Fatalf("SaveCard update: %v", err)
	}

	got, err := repo.GetCard(ctx, "u1", "c1")
	if err != nil {
		t.Fatalf("GetCard: %v", err)
	}
	if got.Name != "Renamed" || got.CreditLimit.String() != "7500.25" || got.Bank != "ENBD" {
		t.Errorf("GetCard = %+v", got)
	}

	cards, err := repo.ListCards(ctx, "u1")
	if err != nil || len(cards) != 1 {
		t.Fatalf("ListCards = %v, %v", cards, err)
	}

	if _, err := repo.GetCard(ctx, "u1", "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("GetCard(missing) = %v, want ErrNotFound", err)
	}

	bad := Card("c2", "u1")
	bad.Name = ""
	if _, err := repo.SaveCard(ctx, bad); !errors.Is(err, core.ErrEmptyName) {
		t.Errorf("SaveCard(invalid) = %v, want ErrEmptyName", err)
	}
}

func testStatementUpsert(t *testing.T, repo ledger.Repository) {
	ctx := context.Background()
	if _, err := repo.SaveCard(ctx, Card("c1", "u1")); err != nil {
		t.Fatalf("SaveCard: %v", err)
	}
	jan := core.NewDate(2025, 1, 1)

	first, err := repo.UpsertStatement(ctx, Statement("s1", "u1", "c1", jan, "2025-01-20", "1200"))
	if err != nil {
		t.Fatalf("UpsertStatement: %v", err)
	}
	second, err := repo.UpsertStatement(ctx, Statement("s-other", "u1", "c1", jan, "2025-01-22", "1300.50"))
	if err != nil {
		t.Fatalf("UpsertStatement again: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("upsert should keep ID %q, got %q", first.ID, second.ID)
	}

	list, err := repo.ListStatements(ctx, "u1")
	if err != nil {
		t.Fatalf("ListStatements: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected one statement per card and month, got %d", len(list))
	}
	if list[0].Billed.String() != "1300.50" || list[0].DueDate != "2025-01-22" || !list[0].Month.Equal(jan) {
		t.Errorf("stored statement = %+v", list[0])
	}

	if _, err := repo.UpsertStatement(ctx, Statement("s2", "u1", "c1", core.NewDate(2025, 2, 1), "", "300")); err != nil {
		t.Fatalf("UpsertStatement feb: %v", err)
	}
	list, _ = repo.ListStatements(ctx, "u1")
	if len(list) != 2 {
		t.Fatalf("expected 2 statements, got %d", len(list))
	}
	got, err := repo.GetStatement(ctx, "u1", "s2")
	if err != nil || got.DueDate != "" {
		t.Errorf("GetStatement(s2) = %+v, %v", got, err)
	}
}

func testPayments(t *testing.T, repo ledger.Repository) {
	ctx := context.Background()
	jan := core.NewDate(2025, 1, 1)
	feb := core.NewDate(2025, 2, 1)
	mustNoErr(t, first(repo.SaveCard(ctx, Card("c1", "u1"))))
	mustNoErr(t, first(repo.UpsertStatement(ctx, Statement("s1", "u1", "c1", jan, "2025-01-20", "1200"))))
	mustNoErr(t, first(repo.UpsertStatement(ctx, Statement("s2", "u1", "c1", feb, "2025-02-20", "300"))))

	p, err := repo.SavePayment(ctx, CardPayment("p1", "u1", "c1", "s1", "700"))
	if err != nil {
		t.Fatalf("SavePayment: %v", err)
	}
	loan := core.Payment{ID: "p2", UserID: "u1", Kind: core.KindLoan, DebtRef: "car", PaidOn: core.NewDate(2025, 1, 3), Amount: core.MustAmount("1500"), Currency: "AED", Note: "Jan"}
	if _, err := repo.SavePayment(ctx, loan); err != nil {
		t.Fatalf("SavePayment loan: %v", err)
	}

	before := version(t, repo, "u1")
	moved, err := repo.RelinkPayment(ctx, "u1", p.ID, "s2")
	if err != nil {
		t.Fatalf("RelinkPayment: %v", err)
	}
	if moved.StatementID != "s2" {
		t.Errorf("StatementID = %q, want s2", moved.StatementID)
	}
	if after := version(t, repo, "u1"); after <= before {
		t.Errorf("relink did not advance version")
	}

	unlinked, err := repo.RelinkPayment(ctx, "u1", p.ID, "")
	if err != nil || unlinked.StatementID != "" {
		t.Errorf("unlink = %+v, %v", unlinked, err)
	}
	if _, err := repo.RelinkPayment(ctx, "u1", p.ID, "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("relink to missing statement = %v, want ErrNotFound", err)
	}

	got, err := repo.GetPayment(ctx, "u1", "p2")
	if err != nil {
		t.Fatalf("GetPayment: %v", err)
	}
	if got.Kind != core.KindLoan || got.DebtRef != "car" || got.Note != "Jan" || got.Amount.String() != "1500.00" || !got.PaidOn.Equal(core.NewDate(2025, 1, 3)) {
		t.Errorf("GetPayment = %+v", got)
	}

	if err := repo.DeletePayment(ctx, "u1", "p2"); err != nil {
		t.Fatalf("DeletePayment: %v", err)
	}
	if err := repo.DeletePayment(ctx, "u1", "p2"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("second delete = %v, want ErrNotFound", err)
	}
	payments, _ := repo.ListPayments(ctx, "u1")
	if len(payments) != 1 {
		t.Errorf("payments = %+v", payments)
	}
}

func testDeletes(t *testing.T, repo ledger.Repository) {
	ctx := context.Background()
	jan := core.NewDate(2025, 1, 1)
	mustNoErr(t, first(repo.SaveCard(ctx, Card("c1", "u1"))))
	mustNoErr(t, first(repo.UpsertStatement(ctx, Statement("s1", "u1", "c1", jan, "2025-01-20", "1200"))))
	mustNoErr(t, first(repo.SavePayment(ctx, CardPayment("p1", "u1", "c1", "s1", "700"))))

	if err := repo.DeleteStatement(ctx, "u1", "s1"); err != nil {
		t.Fatalf("DeleteStatement: %v", err)
	}
	p, err := repo.GetPayment(ctx, "u1", "p1")
	if err != nil || p.StatementID != "" {
		t.Errorf("payment after statement delete = %+v, %v", p, err)
	}

	mustNoErr(t, first(repo.UpsertStatement(ctx, Statement("s2", "u1", "c1", jan, "2025-01-20", "50"))))
	if err := repo.DeleteCard(ctx, "u1", "c1"); err != nil {
		t.Fatalf("DeleteCard: %v", err)
	}
	statements, _ := repo.ListStatements(ctx, "u1")
	if len(statements) != 0 {
		t.Errorf("statements after card delete = %+v", statements)
	}
	cards, _ := repo.ListCards(ctx, "u1")
	if len(cards) != 0 {
		t.Errorf("cards after delete = %+v", cards)
	}
	if err := repo.DeleteCard(ctx, "u1", "c1"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("second delete = %v, want ErrNotFound", err)
	}
	payments, _ := repo.ListPayments(ctx, "u1")
	if len(payments) != 1 {
		t.Errorf("payments should survive card delete: %+v", payments)
	}

	// A statement for the same card and month can be recorded again.
	mustNoErr(t, first(repo.SaveCard(ctx, Card("c1", "u1"))))
	if _, err := repo.UpsertStatement(ctx, Statement("s3", "u1", "c1", jan, "", "10")); err != nil {
		t.Errorf("re-adding statement after delete: %v", err)
	}
}

func testIsolation(t *testing.T, repo ledger.Repository) {
	ctx := context.Background()
	mustNoErr(t, first(repo.SaveCard(ctx, Card("c1", "u1"))))
	mustNoErr(t, first(repo.SaveCard(ctx, Card("c2", "u2"))))

	if _, err := repo.GetCard(ctx, "u2", "c1"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("cross-user GetCard = %v", err)
	}
	if err := repo.DeleteCard(ctx, "u2", "c1"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("cross-user DeleteCard = %v", err)
	}
	cards, _ := repo.ListCards(ctx, "u2")
	if len(cards) != 1 || cards[0].ID != "c2" {
		t.Errorf("ListCards(u2) = %+v", cards)
	}
	v1 := version(t, repo, "u1")
	mustNoErr(t, first(repo.SaveCard(ctx, Card("c3", "u2"))))
	if v := version(t, repo, "u1"); v != v1 {
		t.Errorf("u1 version moved on a u2 write: %d -> %d", v1, v)
	}
}

func first[T any](_ T, err error) error { return err }

func mustNoErr(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
