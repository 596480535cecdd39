// Package xlsx writes the dashboard report to a local Excel workbook, one
// file per user.
package xlsx

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"cardledger/internal/balance"
	"cardledger/internal/log"
	ports "cardledger/internal/sheets"

	"github.com/xuri/excelize/v2"
)

const defaultSheet = "Sheet1"

type Writer struct {
	dir    string
	sheet  string
	logger *log.Logger
	now    func() time.Time
	mu     sync.Mutex
}

var _ ports.ReportWriter = (*Writer)(nil)

// New returns a writer storing workbooks under dir, which is created if
// needed. sheetName defaults to "Dashboard".
func New(dir, sheetName string, logger *log.Logger) (*Writer, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("missing report directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create report directory: %w", err)
	}
	if sheetName == "" {
		sheetName = "Dashboard"
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &Writer{dir: dir, sheet: sheetName, logger: logger.WithComponent(log.ComponentSheets), now: time.Now}, nil
}

// Path returns the workbook path for userID.
func (w *Writer) Path(userID string) string {
	return filepath.Join(w.dir, fileSafe(userID)+"-dashboard.xlsx")
}

// WriteDashboard replaces the user's workbook. The file is written next to
// the target and renamed, so readers never see a partial workbook.
func (w *Writer) WriteDashboard(ctx context.Context, userID string, d balance.Dashboard) (string, error) {
	rows := ports.ReportRows(userID, d, w.now())

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName(defaultSheet, w.sheet); err != nil {
		return "", fmt.Errorf("name sheet: %w", err)
	}
	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return "", err
		}
		if err := f.SetSheetRow(w.sheet, cell, &rows[i]); err != nil {
			return "", fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	if err := f.SetColWidth(w.sheet, "A", "A", 28); err != nil {
		return "", err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	target := w.Path(userID)
	tmp, err := os.CreateTemp(w.dir, ".report-*.xlsx")
	if err != nil {
		return "", fmt.Errorf("create temp workbook: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := f.WriteTo(tmp); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write workbook: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close workbook: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", fmt.Errorf("replace workbook: %w", err)
	}

	ref := fmt.Sprintf("%s!A1:H%d", w.sheet, len(rows))
	w.logger.DebugContext(ctx, "Workbook written", log.FieldUserID, userID, "path", target, "range", ref)
	return target + "#" + ref, nil
}

func fileSafe(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
	if s == "" {
		return "default"
	}
	return s
}
