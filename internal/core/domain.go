package core

import (
	"errors"
	"fmt"
	"strings"
)

const (
	KindCard     PaymentKind = "CARD"
	KindLoan     PaymentKind = "LOAN"
	KindPersonal PaymentKind = "PERSONAL"
)

// DefaultCurrency is applied to cards, statements and payments that do not
// name a currency.
const DefaultCurrency = "AED"

type (
	PaymentKind string

	Card struct {
		ID          string `json:"id"`
		UserID      string `json:"user_id"`
		Name        string `json:"name"`
		Bank        string `json:"bank,omitempty"`
		CreditLimit Amount `json:"credit_limit"`
		Currency    string `json:"currency"`
		Notes       string `json:"notes,omitempty"`
	}

	// Statement is one billing period of a card. StatementDate and DueDate
	// are kept as stored; they are parsed on demand and may be malformed.
	Statement struct {
		ID            string `json:"id"`
		UserID        string `json:"user_id"`
		CardID        string `json:"card_id"`
		Month         Date   `json:"statement_month"`
		StatementDate string `json:"statement_date,omitempty"`
		DueDate       string `json:"due_date,omitempty"`
		Billed        Amount `json:"billed_amount"`
		Currency      string `json:"currency"`
	}

	Payment struct {
		ID          string      `json:"id"`
		UserID      string      `json:"user_id"`
		Kind        PaymentKind `json:"kind"`
		CardID      string      `json:"card_id,omitempty"`
		StatementID string      `json:"statement_id,omitempty"`
		DebtRef     string      `json:"debt_ref,omitempty"` // loan or personal-debt reference
		PaidOn      Date        `json:"payment_date"`
		Amount      Amount      `json:"amount"`
		Currency    string      `json:"currency"`
		Note        string      `json:"note,omitempty"`
	}
)

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidDate      = errors.New("invalid date")
	ErrInvalidKind      = errors.New("invalid payment kind")
	ErrInvalidCurrency  = errors.New("invalid currency code")
	ErrEmptyName        = errors.New("empty card name")
	ErrMissingCard      = errors.New("missing card reference")
	ErrMissingDebtRef   = errors.New("missing loan or personal debt reference")
	ErrUnexpectedLink   = errors.New("only card payments can link to a statement")
	ErrMissingUser      = errors.New("missing user id")
	ErrStatementOnCard  = errors.New("statement belongs to a different card")
	ErrNameTooLong      = errors.New("card name too long (max 100 characters)")
	ErrNoteTooLong      = errors.New("note too long (max 500 characters)")
	ErrNegativeAmount   = errors.New("amount must not be negative")
	ErrNonPositiveValue = errors.New("amount must be greater than zero")
)

// ParsePaymentKind reads a kind case-insensitively.
func ParsePaymentKind(s string) (PaymentKind, error) {
	k := PaymentKind(strings.ToUpper(strings.TrimSpace(s)))
	if !k.IsValid() {
		return "", ErrInvalidKind
	}
	return k, nil
}

// IsValid reports whether k is one of the known kinds.
func (k PaymentKind) IsValid() bool {
	switch k {
	case KindCard, KindLoan, KindPersonal:
		return true
	default:
		return false
	}
}

func (k PaymentKind) String() string {
	return string(k)
}

// NormalizeCurrency upper-cases a currency code, defaulting to DefaultCurrency.
func NormalizeCurrency(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return DefaultCurrency
	}
	return code
}

func validateCurrency(code string) error {
	if len(code) != 3 {
		return ErrInvalidCurrency
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return ErrInvalidCurrency
		}
	}
	return nil
}

func validateAmount(a Amount, positive bool) error {
	if !a.Valid {
		return ErrInvalidAmount
	}
	if a.Value.IsNegative() {
		return ErrNegativeAmount
	}
	if positive && !a.Value.IsPositive() {
		return ErrNonPositiveValue
	}
	return nil
}

func (c Card) Validate() error {
	if strings.TrimSpace(c.UserID) == "" {
		return ErrMissingUser
	}
	if strings.TrimSpace(c.Name) == "" {
		return ErrEmptyName
	}
	if len(c.Name) > 100 {
		return ErrNameTooLong
	}
	if err := validateAmount(c.CreditLimit, false); err != nil {
		return fmt.Errorf("credit limit: %w", err)
	}
	if len(c.Notes) > 500 {
		return ErrNoteTooLong
	}
	return validateCurrency(c.Currency)
}

func (s Statement) Validate() error {
	if strings.TrimSpace(s.UserID) == "" {
		return ErrMissingUser
	}
	if strings.TrimSpace(s.CardID) == "" {
		return ErrMissingCard
	}
	if err := s.Month.Validate(); err != nil {
		return fmt.Errorf("statement month: %w", err)
	}
	if s.Month.Day() != 1 {
		return fmt.Errorf("statement month must be the first day of a month: %w", ErrInvalidDate)
	}
	if s.StatementDate != "" {
		if _, ok := ParseDate(s.StatementDate); !ok {
			return fmt.Errorf("statement date: %w", ErrInvalidDate)
		}
	}
	if s.DueDate != "" {
		if _, ok := ParseDate(s.DueDate); !ok {
			return fmt.Errorf("due date: %w", ErrInvalidDate)
		}
	}
	if err := validateAmount(s.Billed, false); err != nil {
		return fmt.Errorf("billed amount: %w", err)
	}
	return validateCurrency(s.Currency)
}

func (p Payment) Validate() error {
	if strings.TrimSpace(p.UserID) == "" {
		return ErrMissingUser
	}
	if !p.Kind.IsValid() {
		return ErrInvalidKind
	}
	switch p.Kind {
	case KindCard:
		if strings.TrimSpace(p.CardID) == "" {
			return ErrMissingCard
		}
	case KindLoan, KindPersonal:
		if strings.TrimSpace(p.DebtRef) == "" {
			return ErrMissingDebtRef
		}
		if p.StatementID != "" {
			return ErrUnexpectedLink
		}
	}
	if err := p.PaidOn.Validate(); err != nil {
		return fmt.Errorf("payment date: %w", err)
	}
	if err := validateAmount(p.Amount, true); err != nil {
		return err
	}
	if len(p.Note) > 500 {
		return ErrNoteTooLong
	}
	return validateCurrency(p.Currency)
}
