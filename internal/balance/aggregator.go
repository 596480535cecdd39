package balance

import (
	"sort"

	"cardledger/internal/core"

	"github.com/shopspring/decimal"
)

// Snapshot is the read-only view of a user's ledger at one point in time.
type Snapshot struct {
	Cards      []core.Card      `json:"cards"`
	Statements []core.Statement `json:"statements"`
	Payments   []core.Payment   `json:"payments"`
}

// Rollup maps an identifier to a summed amount. Missing keys read as zero.
type Rollup map[string]decimal.Decimal

// For returns the amount stored under id, or zero.
func (r Rollup) For(id string) decimal.Decimal {
	if v, ok := r[id]; ok {
		return v
	}
	return decimal.Zero
}

// Sum adds every value in the rollup.
func (r Rollup) Sum() decimal.Decimal {
	total := decimal.Zero
	for _, v := range r {
		total = total.Add(v)
	}
	return total
}

// Keys returns the identifiers in ascending order.
func (r Rollup) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Totals are the portfolio-wide reductions.
type Totals struct {
	TotalLimit   decimal.Decimal `json:"total_limit"`
	TotalPending decimal.Decimal `json:"total_pending"`
}

// Aggregator computes pending balances under a single PendingPolicy.
type Aggregator struct {
	policy PendingPolicy
}

// New returns an Aggregator using policy. A nil policy means ClampAtZero.
func New(policy PendingPolicy) Aggregator {
	if policy == nil {
		policy = ClampAtZero{}
	}
	return Aggregator{policy: policy}
}

// Policy returns the policy the aggregator applies.
func (a Aggregator) Policy() PendingPolicy {
	if a.policy == nil {
		return ClampAtZero{}
	}
	return a.policy
}

// PaidByStatement sums payment amounts per linked statement.
//
// Payments without a statement link are skipped. Malformed amounts count as
// zero. Decimal addition is exact, so the result does not depend on the
// order of payments.
func PaidByStatement(payments []core.Payment) Rollup {
	paid := make(Rollup)
	for _, p := range payments {
		if p.StatementID == "" {
			continue
		}
		paid[p.StatementID] = paid.For(p.StatementID).Add(p.Amount.OrZero())
	}
	return paid
}

// Paid returns the amount paid towards statement s.
func Paid(s core.Statement, paid Rollup) decimal.Decimal {
	return paid.For(s.ID)
}

// Pending returns the billed amount of s minus what has been paid towards
// it, passed through the aggregator's policy.
func (a Aggregator) Pending(s core.Statement, paid Rollup) decimal.Decimal {
	return a.Policy().Apply(s.Billed.OrZero().Sub(paid.For(s.ID)))
}

// PendingByStatement returns the pending amount of every statement keyed by
// statement ID. Statements sharing an ID accumulate into one entry.
func (a Aggregator) PendingByStatement(statements []core.Statement, paid Rollup) Rollup {
	out := make(Rollup, len(statements))
	for _, s := range statements {
		out[s.ID] = out.For(s.ID).Add(a.Pending(s, paid))
	}
	return out
}

// PendingByCard sums statement pending amounts per owning card. Cards with
// no statements are absent; Rollup.For reports them as zero.
func (a Aggregator) PendingByCard(statements []core.Statement, paid Rollup) Rollup {
	out := make(Rollup)
	for _, s := range statements {
		out[s.CardID] = out.For(s.CardID).Add(a.Pending(s, paid))
	}
	return out
}

// Totals reduces the snapshot to the portfolio credit limit and pending sum.
// TotalPending covers every statement, including ones whose card is not in
// the snapshot.
func (a Aggregator) Totals(cards []core.Card, statements []core.Statement, paid Rollup) Totals {
	limit := decimal.Zero
	for _, c := range cards {
		limit = limit.Add(c.CreditLimit.OrZero())
	}
	return Totals{
		TotalLimit:   limit,
		TotalPending: a.PendingByCard(statements, paid).Sum(),
	}
}
