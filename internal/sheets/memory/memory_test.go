package memory

import (
	"context"
	"strings"
	"testing"

	"cardledger/internal/balance"
	"cardledger/internal/core"
)

func TestMemoryStoreWriteDashboard(t *testing.T) {
	s := New()
	d := balance.Dashboard{AsOf: core.NewDate(2025, 2, 1), Policy: "clamp_at_zero"}

	ref, err := s.WriteDashboard(context.Background(), "u1", d)
	if err != nil || !strings.HasPrefix(ref, "mem:u1!A1:H") {
		t.Fatalf("unexpected write: ref=%q err=%v", ref, err)
	}
	if _, err := s.WriteDashboard(context.Background(), "u1", d); err != nil {
		t.Fatal(err)
	}
	if s.Writes() != 2 {
		t.Errorf("Writes() = %d, want 2", s.Writes())
	}
	rows := s.Rows("u1")
	if len(rows) == 0 || rows[2][1] != "2025-02-01" {
		t.Errorf("rows = %v", rows)
	}
	if s.Rows("u2") != nil {
		t.Error("no report expected for u2")
	}
}
