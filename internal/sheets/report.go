// Package sheets turns a dashboard into a spreadsheet report. Adapters live
// in sheets/google, sheets/xlsx and sheets/memory.
package sheets

import (
	"strconv"
	"time"

	"cardledger/internal/balance"

	"github.com/shopspring/decimal"
)

// Column headers of the report sections.
var (
	CardHeader = []any{"Card", "Bank", "Currency", "Limit", "Pending", "Available", "Utilization %", "Statements"}
	DueHeader  = []any{"Card", "Statement month", "Due date", "Pending", "Currency", "Days"}
	DebtHeader = []any{"Reference", "Paid"}
)

// ReportRows lays d out as a values matrix. Amounts are written as plain
// decimal strings so USER_ENTERED input reads them as numbers.
func ReportRows(userID string, d balance.Dashboard, generatedAt time.Time) [][]any {
	names := make(map[string]string, len(d.Cards))
	for _, c := range d.Cards {
		names[c.CardID] = c.Name
	}

	rows := [][]any{
		{"Card ledger report", userID},
		{"Generated", generatedAt.UTC().Format(time.RFC3339)},
		{"As of", d.AsOf.String()},
		{"Pending policy", d.Policy},
		{},
		{"Total limit", money(d.Totals.TotalLimit)},
		{"Total pending", money(d.Totals.TotalPending)},
		{},
		{"Cards"},
		CardHeader,
	}
	for _, c := range d.Cards {
		rows = append(rows, []any{
			c.Name, c.Bank, c.Currency,
			money(c.CreditLimit), money(c.Pending), money(c.Available),
			c.UtilizationPct.StringFixed(1), strconv.Itoa(c.Statements),
		})
	}

	rows = appendDue(rows, "Upcoming due", d.Upcoming, names)
	rows = appendDue(rows, "Overdue", d.Overdue, names)

	unlinked := balance.Rollup{}
	for id, v := range d.Unlinked {
		label := names[id]
		if label == "" {
			label = id
		}
		unlinked[label] = unlinked.For(label).Add(v)
	}
	rows = appendDebts(rows, "Unallocated card payments", unlinked)
	rows = appendDebts(rows, "Loans", d.Loans)
	rows = appendDebts(rows, "Personal debts", d.Personal)
	return rows
}

func appendDue(rows [][]any, title string, items []balance.DueItem, names map[string]string) [][]any {
	rows = append(rows, []any{}, []any{title}, DueHeader)
	for _, it := range items {
		name := names[it.CardID]
		if name == "" {
			name = it.CardID
		}
		rows = append(rows, []any{
			name, it.Month.Format("2006-01"), it.DueDate.String(),
			money(it.Pending), it.Currency, strconv.Itoa(it.DaysUntilDue),
		})
	}
	return rows
}

func appendDebts(rows [][]any, title string, r balance.Rollup) [][]any {
	if len(r) == 0 {
		return rows
	}
	rows = append(rows, []any{}, []any{title}, DebtHeader)
	for _, k := range r.Keys() {
		rows = append(rows, []any{k, money(r[k])})
	}
	return rows
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}
