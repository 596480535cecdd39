package sheets

import (
	"context"

	"cardledger/internal/balance"
)

// Ports for outbound adapters.
type (
	// ReportWriter replaces the report for userID with d. It returns a
	// reference to the written range.
	ReportWriter interface {
		WriteDashboard(ctx context.Context, userID string, d balance.Dashboard) (rangeRef string, err error)
	}
)
