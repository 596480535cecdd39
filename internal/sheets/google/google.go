package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"cardledger/internal/balance"
	"cardledger/internal/log"
	ports "cardledger/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// clearRange is wide enough to wipe any earlier, longer report.
const clearRange = "A:Z"

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string
	logger        *log.Logger
	now           func() time.Time
}

// Ensure interface conformance
var _ ports.ReportWriter = (*Client)(nil)

type Options struct {
	SpreadsheetID   string
	SheetName       string
	CredentialsJSON string
	CredentialsFile string
	Logger          *log.Logger

	// ClientOptions are appended after the credentials. Tests use them to
	// point the client at a local endpoint.
	ClientOptions []goption.ClientOption
}

// New creates a Sheets client authenticated with a service account.
// CredentialsJSON wins over CredentialsFile; when both are empty
// GOOGLE_APPLICATION_CREDENTIALS is tried.
func New(ctx context.Context, opts Options) (*Client, error) {
	spreadsheetID := strings.TrimSpace(opts.SpreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	sheetName := strings.TrimSpace(opts.SheetName)
	if sheetName == "" {
		sheetName = "Dashboard"
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentSheets)

	clientOpts := opts.ClientOptions
	if len(clientOpts) == 0 {
		creds, err := credentials(opts)
		if err != nil {
			return nil, err
		}
		clientOpts = []goption.ClientOption{
			goption.WithCredentialsJSON(creds),
			goption.WithScopes(gsheet.SpreadsheetsScope),
		}
	}

	svc, err := gsheet.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	logger.InfoContext(ctx, "Google Sheets service created", "sheet", sheetName)
	return &Client{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
		logger:        logger,
		now:           time.Now,
	}, nil
}

func credentials(opts Options) ([]byte, error) {
	inline := strings.TrimSpace(opts.CredentialsJSON)
	file := strings.TrimSpace(opts.CredentialsFile)
	if inline == "" && file == "" {
		file = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	switch {
	case inline != "":
		return []byte(inline), nil
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return b, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
}

// WriteDashboard clears the report tab and writes the report from A1.
func (c *Client) WriteDashboard(ctx context.Context, userID string, d balance.Dashboard) (string, error) {
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}
	rows := ports.ReportRows(userID, d, c.now())

	cleared := fmt.Sprintf("%s!%s", c.sheetName, clearRange)
	if _, err := c.svc.Spreadsheets.Values.Clear(c.spreadsheetID, cleared, &gsheet.ClearValuesRequest{}).
		Context(ctx).Do(); err != nil {
		return "", fmt.Errorf("clear %s: %w", cleared, err)
	}

	rng := fmt.Sprintf("%s!A1", c.sheetName)
	vr := &gsheet.ValueRange{Values: rows}
	resp, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("update %s: %w", rng, err)
	}

	ref := rng
	if resp != nil && resp.UpdatedRange != "" {
		ref = resp.UpdatedRange
	}
	c.logger.InfoContext(ctx, "Report written",
		log.FieldUserID, userID,
		log.FieldAsOf, d.AsOf.String(),
		"rows", len(rows),
		"range", ref)
	return ref, nil
}
