package core

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDateValidate(t *testing.T) {
	cases := []struct {
		d  Date
		ok bool
	}{
		{NewDate(2025, 1, 1), true},
		{NewDate(2025, 12, 31), true},
		{Date{Time: time.Time{}}, false}, // zero time
	}
	for i, tc := range cases {
		err := tc.d.Validate()
		if tc.ok && err != nil {
			t.Fatalf("case %d expected ok, got %v", i, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want Date
		ok   bool
	}{
		{"2025-01-20", NewDate(2025, 1, 20), true},
		{" 2025-01-20 ", NewDate(2025, 1, 20), true},
		{"2025-01-20T18:30:00Z", NewDate(2025, 1, 20), true},
		{"2025-01-20T23:30:00+04:00", NewDate(2025, 1, 20), true},
		{"2025-01-20 08:00:00", NewDate(2025, 1, 20), true},
		{"2024-02-29", NewDate(2024, 2, 29), true},
		{"2025-02-29", Date{}, false},
		{"2025-02-30", Date{}, false},
		{"20/01/2025", Date{}, false},
		{"not a date", Date{}, false},
		{"", Date{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseDate(tt.in)
			if ok != tt.ok {
				t.Fatalf("ParseDate(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			}
			if ok && !got.Equal(tt.want) {
				t.Errorf("ParseDate(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeMonth(t *testing.T) {
	tests := []struct {
		in      string
		want    Date
		wantErr bool
	}{
		{"2025-01-17", NewDate(2025, 1, 1), false},
		{"2025-01-01", NewDate(2025, 1, 1), false},
		{"2025-12-31T22:00:00Z", NewDate(2025, 12, 1), false},
		{"2025-03", NewDate(2025, 3, 1), false},
		{"2025-13", Date{}, true},
		{"", Date{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeMonth(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NormalizeMonth(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(tt.want) {
				t.Errorf("NormalizeMonth(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestDaysUntil(t *testing.T) {
	asOf := NewDate(2025, 1, 10)
	cases := []struct {
		other Date
		want  int
	}{
		{NewDate(2025, 1, 10), 0},
		{NewDate(2025, 1, 20), 10},
		{NewDate(2025, 2, 9), 30},
		{NewDate(2025, 1, 1), -9},
		{NewDate(2024, 12, 31), -10},
	}
	for _, tc := range cases {
		if got := asOf.DaysUntil(tc.other); got != tc.want {
			t.Errorf("DaysUntil(%s) = %d, want %d", tc.other, got, tc.want)
		}
	}
	// Across a leap day.
	if got := NewDate(2024, 2, 28).DaysUntil(NewDate(2024, 3, 1)); got != 2 {
		t.Errorf("leap year DaysUntil = %d, want 2", got)
	}
}

func TestCardValidate(t *testing.T) {
	good := Card{UserID: "u1", Name: "Visa", CreditLimit: MustAmount("5000"), Currency: "AED"}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	bads := []Card{
		{Name: "Visa", CreditLimit: MustAmount("1"), Currency: "AED"},
		{UserID: "u1", Name: " ", CreditLimit: MustAmount("1"), Currency: "AED"},
		{UserID: "u1", Name: strings.Repeat("x", 101), CreditLimit: MustAmount("1"), Currency: "AED"},
		{UserID: "u1", Name: "Visa", CreditLimit: Amount{}, Currency: "AED"},
		{UserID: "u1", Name: "Visa", CreditLimit: MustAmount("-1"), Currency: "AED"},
		{UserID: "u1", Name: "Visa", CreditLimit: MustAmount("1"), Currency: "dirham"},
	}
	for i, c := range bads {
		if err := c.Validate(); err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestStatementValidate(t *testing.T) {
	good := Statement{
		UserID:   "u1",
		CardID:   "c1",
		Month:    NewDate(2025, 1, 1),
		DueDate:  "2025-01-20",
		Billed:   MustAmount("1200"),
		Currency: "AED",
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	badDue := good
	badDue.DueDate = "2025-01-40"
	if err := badDue.Validate(); !errors.Is(err, ErrInvalidDate) {
		t.Errorf("expected ErrInvalidDate, got %v", err)
	}

	midMonth := good
	midMonth.Month = NewDate(2025, 1, 15)
	if err := midMonth.Validate(); err == nil {
		t.Error("expected error for non-normalized month")
	}

	noCard := good
	noCard.CardID = ""
	if err := noCard.Validate(); !errors.Is(err, ErrMissingCard) {
		t.Errorf("expected ErrMissingCard, got %v", err)
	}
}

func TestPaymentValidate(t *testing.T) {
	good := Payment{
		UserID:   "u1",
		Kind:     KindCard,
		CardID:   "c1",
		PaidOn:   NewDate(2025, 1, 12),
		Amount:   MustAmount("700"),
		Currency: "AED",
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(p *Payment)
		want   error
	}{
		{"unknown kind", func(p *Payment) { p.Kind = "CASH" }, ErrInvalidKind},
		{"card payment without card", func(p *Payment) { p.CardID = "" }, ErrMissingCard},
		{"loan without reference", func(p *Payment) { p.Kind = KindLoan }, ErrMissingDebtRef},
		{"loan linked to statement", func(p *Payment) { p.Kind = KindLoan; p.DebtRef = "l1"; p.StatementID = "s1" }, ErrUnexpectedLink},
		{"zero amount", func(p *Payment) { p.Amount = MustAmount("0") }, ErrNonPositiveValue},
		{"missing amount", func(p *Payment) { p.Amount = Amount{} }, ErrInvalidAmount},
		{"missing date", func(p *Payment) { p.PaidOn = Date{} }, ErrInvalidDate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := good
			tt.mutate(&p)
			if err := p.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParsePaymentKind(t *testing.T) {
	for in, want := range map[string]PaymentKind{"card": KindCard, " LOAN ": KindLoan, "Personal": KindPersonal} {
		got, err := ParsePaymentKind(in)
		if err != nil || got != want {
			t.Errorf("ParsePaymentKind(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParsePaymentKind("cash"); !errors.Is(err, ErrInvalidKind) {
		t.Errorf("expected ErrInvalidKind, got %v", err)
	}
}
