package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cardledger/internal/amqp"
	"cardledger/internal/balance"
	"cardledger/internal/core"
	"cardledger/internal/log"
	"cardledger/internal/sheets"

	"github.com/robfig/cron/v3"
)

// DashboardSource computes the dashboard for a user. *services.LedgerService
// implements it.
type DashboardSource interface {
	Dashboard(ctx context.Context, userID string, asOf core.Date) (balance.Dashboard, error)
}

// EventSource delivers ledger changed messages. *amqp.Client implements it.
type EventSource interface {
	ConsumeLedgerChanged(ctx context.Context, handler amqp.Handler) error
}

type Config struct {
	UserID   string
	Interval time.Duration
	// Schedule is an optional cron expression (standard five fields or a
	// descriptor such as @hourly) evaluated in UTC. It replaces Interval.
	Schedule string
	OnStart  bool
}

// ReportWorker keeps the spreadsheet report of one user current. It exports
// on every ledger change event and on a fixed interval as a backstop for
// lost messages.
type ReportWorker struct {
	source DashboardSource
	writer sheets.ReportWriter
	events EventSource
	cfg    Config
	logger *log.Logger
	now    func() time.Time

	mu          sync.Mutex
	lastVersion int64
	exports     int
}

// NewReportWorker wires the worker. events may be nil, in which case only
// the interval drives exports.
func NewReportWorker(source DashboardSource, writer sheets.ReportWriter, events EventSource, cfg Config, logger *log.Logger) *ReportWorker {
	if logger == nil {
		logger = log.Discard()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	return &ReportWorker{
		source: source,
		writer: writer,
		events: events,
		cfg:    cfg,
		logger: logger.WithComponent(log.ComponentWorker),
		now:    time.Now,
	}
}

// Export writes the dashboard as of today.
func (w *ReportWorker) Export(ctx context.Context) error {
	return w.ExportAsOf(ctx, core.DateOf(w.now()))
}

// ExportAsOf writes the dashboard for a given date.
func (w *ReportWorker) ExportAsOf(ctx context.Context, asOf core.Date) error {
	d, err := w.source.Dashboard(ctx, w.cfg.UserID, asOf)
	if err != nil {
		return fmt.Errorf("compute dashboard: %w", err)
	}
	ref, err := w.writer.WriteDashboard(ctx, w.cfg.UserID, d)
	if err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	w.mu.Lock()
	w.exports++
	w.mu.Unlock()
	w.logger.InfoContext(ctx, "Report exported",
		log.FieldUserID, w.cfg.UserID,
		log.FieldAsOf, asOf.String(),
		"range", ref,
		"upcoming", len(d.Upcoming),
		"overdue", len(d.Overdue))
	return nil
}

// HandleLedgerChanged exports after a change to the worker's user. Messages
// for other users and versions already covered by an export are acked
// without work.
func (w *ReportWorker) HandleLedgerChanged(ctx context.Context, msg *amqp.LedgerChangedMessage) error {
	if msg.UserID != w.cfg.UserID {
		w.logger.DebugContext(ctx, "Ignoring message for other user", log.FieldUserID, msg.UserID)
		return nil
	}
	w.mu.Lock()
	stale := msg.Version != 0 && msg.Version <= w.lastVersion
	w.mu.Unlock()
	if stale {
		w.logger.DebugContext(ctx, "Skipping stale ledger event",
			log.FieldVersion, msg.Version, "exported_version", w.LastVersion())
		return nil
	}

	w.logger.InfoContext(ctx, "Processing ledger changed message",
		"entity", msg.Entity,
		"entity_id", msg.EntityID,
		log.FieldOperation, msg.Operation,
		log.FieldVersion, msg.Version)
	if err := w.Export(ctx); err != nil {
		return err
	}
	w.mu.Lock()
	if msg.Version > w.lastVersion {
		w.lastVersion = msg.Version
	}
	w.mu.Unlock()
	return nil
}

// Run exports on start when configured, then on every event and on the
// schedule until ctx is cancelled. The schedule is Config.Schedule when set
// and a fixed Interval ticker otherwise.
func (w *ReportWorker) Run(ctx context.Context) error {
	var sched *cron.Cron
	if w.cfg.Schedule != "" {
		sched = cron.New(cron.WithLocation(time.UTC))
		if _, err := sched.AddFunc(w.cfg.Schedule, func() { w.periodicExport(ctx) }); err != nil {
			return fmt.Errorf("invalid report schedule %q: %w", w.cfg.Schedule, err)
		}
	}

	if w.cfg.OnStart {
		if err := w.Export(ctx); err != nil {
			w.logger.ErrorContext(ctx, "Startup export failed", log.FieldError, err)
		}
	}

	var wg sync.WaitGroup
	if w.events != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.events.ConsumeLedgerChanged(ctx, w.HandleLedgerChanged); err != nil && ctx.Err() == nil {
				w.logger.ErrorContext(ctx, "Event consumer stopped", log.FieldError, err)
			}
		}()
	}

	var tick <-chan time.Time
	if sched != nil {
		sched.Start()
	} else {
		ticker := time.NewTicker(w.cfg.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}
	w.logger.InfoContext(ctx, "Report worker started",
		log.FieldUserID, w.cfg.UserID,
		"interval", w.cfg.Interval.String(),
		"schedule", w.cfg.Schedule,
		"events", w.events != nil)

	for {
		select {
		case <-ctx.Done():
			if sched != nil {
				<-sched.Stop().Done()
			}
			wg.Wait()
			w.logger.Info("Report worker stopped", "exports", w.Exports())
			return nil
		case <-tick:
			w.periodicExport(ctx)
		}
	}
}

func (w *ReportWorker) periodicExport(ctx context.Context) {
	if err := w.Export(ctx); err != nil && ctx.Err() == nil {
		w.logger.ErrorContext(ctx, "Periodic export failed", log.FieldError, err)
	}
}

func (w *ReportWorker) LastVersion() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastVersion
}

func (w *ReportWorker) Exports() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.exports
}
