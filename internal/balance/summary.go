package balance

import (
	"sort"
	"strings"

	"cardledger/internal/core"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// CardSummary is the per-card line shown on the dashboard.
type CardSummary struct {
	CardID         string          `json:"card_id"`
	Name           string          `json:"name"`
	Bank           string          `json:"bank,omitempty"`
	Currency       string          `json:"currency"`
	CreditLimit    decimal.Decimal `json:"credit_limit"`
	Pending        decimal.Decimal `json:"pending"`
	Available      decimal.Decimal `json:"available"`
	UtilizationPct decimal.Decimal `json:"utilization_pct"`
	Statements     int             `json:"statements"`
}

// Dashboard gathers every derived view for one snapshot and as-of date.
type Dashboard struct {
	AsOf     core.Date     `json:"as_of"`
	Policy   string        `json:"pending_policy"`
	Totals   Totals        `json:"totals"`
	Cards    []CardSummary `json:"cards"`
	Upcoming []DueItem     `json:"upcoming"`
	Overdue  []DueItem     `json:"overdue"`
	Unlinked Rollup        `json:"unlinked_by_card"`
	Loans    Rollup        `json:"paid_by_loan"`
	Personal Rollup        `json:"paid_by_personal_debt"`
}

// CardSummaries reports limit, pending and headroom for every card, ordered
// by name and then ID. Utilization is pending as a percentage of the limit,
// rounded to one decimal place; it is zero when the limit is zero.
func (a Aggregator) CardSummaries(cards []core.Card, statements []core.Statement, paid Rollup) []CardSummary {
	byCard := a.PendingByCard(statements, paid)
	counts := make(map[string]int)
	for _, s := range statements {
		counts[s.CardID]++
	}

	out := make([]CardSummary, 0, len(cards))
	for _, c := range cards {
		limit := c.CreditLimit.OrZero()
		pending := byCard.For(c.ID)
		util := decimal.Zero
		if limit.IsPositive() {
			util = pending.Div(limit).Mul(hundred).Round(1)
		}
		out = append(out, CardSummary{
			CardID:         c.ID,
			Name:           c.Name,
			Bank:           c.Bank,
			Currency:       core.NormalizeCurrency(c.Currency),
			CreditLimit:    limit,
			Pending:        pending,
			Available:      limit.Sub(pending),
			UtilizationPct: util,
			Statements:     counts[c.ID],
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		ni, nj := strings.ToLower(out[i].Name), strings.ToLower(out[j].Name)
		if ni != nj {
			return ni < nj
		}
		return out[i].CardID < out[j].CardID
	})
	return out
}

// UnlinkedByCard sums card payments that are not linked to any statement,
// keyed by card. These amounts reduce no statement's pending figure.
func UnlinkedByCard(payments []core.Payment) Rollup {
	out := make(Rollup)
	for _, p := range payments {
		if p.StatementID != "" || p.CardID == "" {
			continue
		}
		if p.Kind != "" && p.Kind != core.KindCard {
			continue
		}
		out[p.CardID] = out.For(p.CardID).Add(p.Amount.OrZero())
	}
	return out
}

// PaidByDebt sums payments of the given kind per debt reference.
func PaidByDebt(payments []core.Payment, kind core.PaymentKind) Rollup {
	out := make(Rollup)
	for _, p := range payments {
		if p.Kind != kind || p.DebtRef == "" {
			continue
		}
		out[p.DebtRef] = out.For(p.DebtRef).Add(p.Amount.OrZero())
	}
	return out
}

// Dashboard computes every view for snap as of asOf.
func (a Aggregator) Dashboard(snap Snapshot, asOf core.Date) Dashboard {
	asOf = core.DateOf(asOf.Time)
	paid := PaidByStatement(snap.Payments)
	return Dashboard{
		AsOf:     asOf,
		Policy:   a.Policy().Name(),
		Totals:   a.Totals(snap.Cards, snap.Statements, paid),
		Cards:    a.CardSummaries(snap.Cards, snap.Statements, paid),
		Upcoming: a.UpcomingDue(snap.Statements, paid, asOf),
		Overdue:  a.Overdue(snap.Statements, paid, asOf),
		Unlinked: UnlinkedByCard(snap.Payments),
		Loans:    PaidByDebt(snap.Payments, core.KindLoan),
		Personal: PaidByDebt(snap.Payments, core.KindPersonal),
	}
}
