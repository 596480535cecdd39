package balance

import (
	"sort"

	"cardledger/internal/core"

	"github.com/shopspring/decimal"
)

// UpcomingWindowDays is the length of the forward due window, counted in
// whole calendar days from the as-of date. Both ends are inclusive.
const UpcomingWindowDays = 30

// DueItem is one statement in a due-date projection.
type DueItem struct {
	StatementID  string          `json:"statement_id"`
	CardID       string          `json:"card_id"`
	Month        core.Date       `json:"statement_month"`
	DueDate      core.Date       `json:"due_date"`
	Pending      decimal.Decimal `json:"pending"`
	Currency     string          `json:"currency"`
	DaysUntilDue int             `json:"days_until_due"`
}

// UpcomingDue lists statements with a parseable due date inside
// [asOf, asOf+UpcomingWindowDays] and a pending amount above zero.
// Statements whose due date has already passed are not included; see Overdue.
// The result is ordered by due date, then statement ID.
func (a Aggregator) UpcomingDue(statements []core.Statement, paid Rollup, asOf core.Date) []DueItem {
	asOf = core.DateOf(asOf.Time)
	return a.project(statements, paid, asOf, func(days int) bool {
		return days >= 0 && days <= UpcomingWindowDays
	})
}

// Overdue lists statements whose due date is before asOf and which still
// have a pending amount above zero. DaysUntilDue is negative. The result is
// ordered by due date, so the most overdue statement comes first.
func (a Aggregator) Overdue(statements []core.Statement, paid Rollup, asOf core.Date) []DueItem {
	asOf = core.DateOf(asOf.Time)
	return a.project(statements, paid, asOf, func(days int) bool {
		return days < 0
	})
}

func (a Aggregator) project(statements []core.Statement, paid Rollup, asOf core.Date, keep func(days int) bool) []DueItem {
	items := make([]DueItem, 0)
	for _, s := range statements {
		due, ok := core.ParseDate(s.DueDate)
		if !ok {
			continue
		}
		pending := a.Pending(s, paid)
		if !pending.IsPositive() {
			continue
		}
		days := asOf.DaysUntil(due)
		if !keep(days) {
			continue
		}
		items = append(items, DueItem{
			StatementID:  s.ID,
			CardID:       s.CardID,
			Month:        s.Month,
			DueDate:      due,
			Pending:      pending,
			Currency:     core.NormalizeCurrency(s.Currency),
			DaysUntilDue: days,
		})
	}
	sortDueItems(items)
	return items
}

func sortDueItems(items []DueItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].DueDate.Equal(items[j].DueDate) {
			return items[i].DueDate.Before(items[j].DueDate)
		}
		return items[i].StatementID < items[j].StatementID
	})
}
