package backend

import (
	"context"
	"fmt"

	"cardledger/internal/amqp"
	"cardledger/internal/ledger/memory"
	"cardledger/internal/log"
	"cardledger/internal/sheets"
	gsheet "cardledger/internal/sheets/google"
	memsheet "cardledger/internal/sheets/memory"
	"cardledger/internal/sheets/xlsx"
	"cardledger/internal/storage"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) *DefaultFactory {
	if logger == nil {
		logger = log.Discard()
	}
	return &DefaultFactory{logger: logger.WithComponent(log.ComponentBackend)}
}

// CreateBackend opens the configured repository and, when AMQP_URL is set,
// the event publisher. An unreachable broker is logged and skipped; writes
// never depend on it.
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*Result, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var (
		res *Result
		err error
	)
	switch config.Type {
	case SQLiteBackend:
		res, err = f.createSQLiteBackend(config)
	case MemoryBackend:
		res = f.createMemoryBackend()
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
	if err != nil {
		return nil, err
	}

	if config.AMQPURL != "" {
		client, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue, f.logger)
		if err != nil {
			f.logger.WarnContext(ctx, "Failed to initialize AMQP client, continuing without events", log.FieldError, err)
		} else {
			f.logger.InfoContext(ctx, "Initialized AMQP client",
				"exchange", config.AMQPExchange,
				"queue", config.AMQPQueue)
			res.Publisher = client
			res.Cleanup = chain(client.Close, res.Cleanup)
		}
	}
	return res, nil
}

func (f *DefaultFactory) createSQLiteBackend(config Config) (*Result, error) {
	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}
	f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath)
	return &Result{Repository: repo, Cleanup: repo.Close}, nil
}

func (f *DefaultFactory) createMemoryBackend() *Result {
	f.logger.Info("Initialized memory backend")
	return &Result{Repository: memory.New()}
}

// CreateReportWriter returns the Google Sheets writer when a spreadsheet is
// configured, else a local workbook writer when REPORT_XLSX_DIR is set, else
// an in-memory writer.
func (f *DefaultFactory) CreateReportWriter(ctx context.Context, config Config) (sheets.ReportWriter, error) {
	if !config.ReportEnabled() {
		if config.ReportXLSXDir != "" {
			w, err := xlsx.New(config.ReportXLSXDir, config.GoogleReportSheetName, f.logger)
			if err != nil {
				return nil, fmt.Errorf("failed to initialize workbook report: %w", err)
			}
			f.logger.InfoContext(ctx, "Writing reports to local workbooks", "dir", config.ReportXLSXDir)
			return w, nil
		}
		f.logger.InfoContext(ctx, "Google Sheets report disabled, keeping reports in memory")
		return memsheet.New(), nil
	}
	client, err := gsheet.New(ctx, gsheet.Options{
		SpreadsheetID:   config.GoogleSpreadsheetID,
		SheetName:       config.GoogleReportSheetName,
		CredentialsJSON: config.GoogleServiceAccountJSON,
		CredentialsFile: config.GoogleServiceAccountFile,
		Logger:          f.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Google Sheets client: %w", err)
	}
	f.logger.InfoContext(ctx, "Initialized Google Sheets report",
		"spreadsheet_id", config.GoogleSpreadsheetID,
		"sheet", config.GoogleReportSheetName)
	return client, nil
}

// chain runs first, then next, returning the first error.
func chain(first, next CleanupFunc) CleanupFunc {
	if next == nil {
		return first
	}
	return func() error {
		err := first()
		if nerr := next(); err == nil {
			err = nerr
		}
		return err
	}
}
