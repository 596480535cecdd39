package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"cardledger/internal/amqp"
	"cardledger/internal/balance"
	"cardledger/internal/core"
	"cardledger/internal/ledger/memory"
	"cardledger/internal/log"
	"cardledger/internal/services"
	sheetsmem "cardledger/internal/sheets/memory"
)

type failingSource struct{}

func (failingSource) Dashboard(context.Context, string, core.Date) (balance.Dashboard, error) {
	return balance.Dashboard{}, errors.New("backend down")
}

// scriptedEvents delivers msgs then blocks until ctx is done.
type scriptedEvents struct {
	msgs []*amqp.LedgerChangedMessage
	done chan struct{}
}

func (e *scriptedEvents) ConsumeLedgerChanged(ctx context.Context, handler amqp.Handler) error {
	for _, m := range e.msgs {
		if err := handler(ctx, m); err != nil {
			return err
		}
	}
	close(e.done)
	<-ctx.Done()
	return ctx.Err()
}

func newTestWorker(t *testing.T, events EventSource, cfg Config) (*ReportWorker, *sheetsmem.Store, *services.LedgerService) {
	t.Helper()
	svc := services.NewLedgerService(memory.New(), nil, services.Options{})
	if _, err := svc.SaveCard(context.Background(), "u1", services.CardInput{Name: "Visa", CreditLimit: "1000"}); err != nil {
		t.Fatal(err)
	}
	writer := sheetsmem.New()
	if cfg.UserID == "" {
		cfg.UserID = "u1"
	}
	w := NewReportWorker(svc, writer, events, cfg, log.Discard())
	w.now = func() time.Time { return time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC) }
	return w, writer, svc
}

func TestHandleLedgerChanged(t *testing.T) {
	w, writer, _ := newTestWorker(t, nil, Config{})
	ctx := context.Background()

	tests := []struct {
		name        string
		msg         *amqp.LedgerChangedMessage
		wantWrites  int
		wantVersion int64
	}{
		{"other user ignored", amqp.NewLedgerChangedMessage("u2", amqp.EntityCard, "c", amqp.OpSaved, 9), 0, 0},
		{"exports", amqp.NewLedgerChangedMessage("u1", amqp.EntityCard, "c", amqp.OpSaved, 1), 1, 1},
		{"stale version skipped", amqp.NewLedgerChangedMessage("u1", amqp.EntityCard, "c", amqp.OpSaved, 1), 1, 1},
		{"newer version exports", amqp.NewLedgerChangedMessage("u1", amqp.EntityPayment, "p", amqp.OpRelinked, 4), 2, 4},
		{"unknown version always exports", amqp.NewLedgerChangedMessage("u1", amqp.EntityPayment, "p", amqp.OpDeleted, 0), 3, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := w.HandleLedgerChanged(ctx, tt.msg); err != nil {
				t.Fatalf("HandleLedgerChanged: %v", err)
			}
			if writer.Writes() != tt.wantWrites {
				t.Errorf("writes = %d, want %d", writer.Writes(), tt.wantWrites)
			}
			if w.LastVersion() != tt.wantVersion {
				t.Errorf("last version = %d, want %d", w.LastVersion(), tt.wantVersion)
			}
		})
	}

	rows := writer.Rows("u1")
	if len(rows) < 3 || rows[2][1] != "2025-02-01" {
		t.Errorf("report as-of row = %v", rows)
	}
}

func TestExportAsOf(t *testing.T) {
	w, writer, _ := newTestWorker(t, nil, Config{})
	asOf, _ := core.ParseDate("2024-12-31")
	if err := w.ExportAsOf(context.Background(), asOf); err != nil {
		t.Fatal(err)
	}
	rows := writer.Rows("u1")
	if len(rows) < 3 || rows[2][1] != "2024-12-31" {
		t.Errorf("report as-of row = %v", rows)
	}
	if w.Exports() != 1 {
		t.Errorf("exports = %d", w.Exports())
	}
}

func TestHandleLedgerChangedPropagatesErrors(t *testing.T) {
	w := NewReportWorker(failingSource{}, sheetsmem.New(), nil, Config{UserID: "u1"}, nil)
	err := w.HandleLedgerChanged(context.Background(), amqp.NewLedgerChangedMessage("u1", amqp.EntityCard, "c", amqp.OpSaved, 2))
	if err == nil {
		t.Fatal("expected error so the message is requeued")
	}
	if w.LastVersion() != 0 {
		t.Errorf("failed export must not advance the version, got %d", w.LastVersion())
	}
}

func TestRun(t *testing.T) {
	events := &scriptedEvents{
		msgs: []*amqp.LedgerChangedMessage{amqp.NewLedgerChangedMessage("u1", amqp.EntityCard, "c", amqp.OpSaved, 5)},
		done: make(chan struct{}),
	}
	w, writer, _ := newTestWorker(t, events, Config{Interval: time.Hour, OnStart: true})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx) }()

	select {
	case <-events.done:
	case <-time.After(5 * time.Second):
		t.Fatal("events were not consumed")
	}
	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}

	if writer.Writes() != 2 || w.Exports() != 2 {
		t.Errorf("writes = %d exports = %d, want 2 (startup + event)", writer.Writes(), w.Exports())
	}
}

func TestRunTicks(t *testing.T) {
	w, writer, _ := newTestWorker(t, nil, Config{Interval: 10 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := w.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if writer.Writes() == 0 {
		t.Error("expected periodic exports")
	}
}

func TestRunOnSchedule(t *testing.T) {
	w, writer, _ := newTestWorker(t, nil, Config{Schedule: "@every 1s"})
	ctx, cancel := context.WithTimeout(context.Background(), 2500*time.Millisecond)
	defer cancel()
	if err := w.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if writer.Writes() == 0 {
		t.Error("expected scheduled exports")
	}
}

func TestRunRejectsBadSchedule(t *testing.T) {
	w, writer, _ := newTestWorker(t, nil, Config{Schedule: "every tuesday", OnStart: true})
	if err := w.Run(context.Background()); err == nil {
		t.Fatal("expected schedule error")
	}
	if writer.Writes() != 0 {
		t.Error("nothing should be exported with an invalid schedule")
	}
}
