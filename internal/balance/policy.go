// Package balance derives owed amounts from a snapshot of cards, statements
// and payments.
//
// Every function here is a pure computation over the values it is given:
// nothing is read from storage or from the clock, and nothing is cached.
// Callers re-run the computation after any change to the underlying rows.
package balance

import "github.com/shopspring/decimal"

// PendingPolicy decides how billed-minus-paid is reported.
//
// An Aggregator holds exactly one policy and routes every statement, card
// and portfolio figure through it, so the levels always agree.
type PendingPolicy interface {
	// Apply turns the raw difference billed - paid into a pending amount.
	Apply(diff decimal.Decimal) decimal.Decimal
	// Name identifies the policy in logs.
	Name() string
}

// ClampAtZero never reports a negative pending amount: an overpaid statement
// shows 0 rather than a credit.
type ClampAtZero struct{}

// Apply returns max(0, diff).
func (ClampAtZero) Apply(diff decimal.Decimal) decimal.Decimal {
	if diff.IsNegative() {
		return decimal.Zero
	}
	return diff
}

func (ClampAtZero) Name() string { return "clamp_at_zero" }

// Unclamped reports the signed difference, letting overpayments reduce the
// card and portfolio totals.
type Unclamped struct{}

// Apply returns diff unchanged.
func (Unclamped) Apply(diff decimal.Decimal) decimal.Decimal {
	return diff
}

func (Unclamped) Name() string { return "unclamped" }
