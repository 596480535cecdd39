// Package backend builds the ledger storage, event publisher and report
// writer selected by configuration.
package backend

import (
	"context"

	"cardledger/internal/amqp"
	"cardledger/internal/ledger"
	"cardledger/internal/services"
	"cardledger/internal/sheets"
)

// CleanupFunc releases resources held by a backend.
type CleanupFunc func() error

// Result holds the ledger repository and the optional event publisher.
type Result struct {
	Repository ledger.Repository
	// Publisher is nil when AMQP is not configured or could not be reached.
	Publisher *amqp.Client
	Cleanup   CleanupFunc
}

// EventPublisher returns the publisher as a services.EventPublisher, or a
// nil interface when there is none.
func (r *Result) EventPublisher() services.EventPublisher {
	if r.Publisher == nil {
		return nil
	}
	return r.Publisher
}

// Close runs Cleanup if set.
func (r *Result) Close() error {
	if r.Cleanup == nil {
		return nil
	}
	return r.Cleanup()
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*Result, error)
	CreateReportWriter(ctx context.Context, config Config) (sheets.ReportWriter, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// SQLite specific
	SQLiteDBPath string

	// AMQP, optional for every backend
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google Sheets report, optional
	GoogleSpreadsheetID      string
	GoogleReportSheetName    string
	GoogleServiceAccountFile string
	GoogleServiceAccountJSON string

	// Local workbook report, used when no spreadsheet is configured
	ReportXLSXDir string
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
