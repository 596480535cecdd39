// Package memory keeps written reports in process. It stands in for Google
// Sheets when no spreadsheet is configured and in tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cardledger/internal/balance"
	ports "cardledger/internal/sheets"
)

type Store struct {
	mu     sync.Mutex
	now    func() time.Time
	writes int
	rows   map[string][][]any
}

var _ ports.ReportWriter = (*Store)(nil)

func New() *Store {
	return &Store{now: time.Now, rows: make(map[string][][]any)}
}

// WriteDashboard replaces the stored report for userID and returns a
// synthetic range reference.
func (s *Store) WriteDashboard(_ context.Context, userID string, d balance.Dashboard) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := ports.ReportRows(userID, d, s.now())
	s.rows[userID] = rows
	s.writes++
	return fmt.Sprintf("mem:%s!A1:H%d", userID, len(rows)), nil
}

// Rows returns the last report written for userID.
func (s *Store) Rows(userID string) [][]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[userID]
}

// Writes counts reports written since creation.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}
