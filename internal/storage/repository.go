package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cardledger/internal/core"
	"cardledger/internal/log"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteRepository implements ledger.Repository on a single SQLite file.
// Rows are soft deleted; every write bumps the owner's row in ledger_meta
// inside the same transaction.
type SQLiteRepository struct {
	db     *sql.DB
	logger *log.Logger
}

func NewSQLiteRepository(dbPath string, logger *log.Logger) (*SQLiteRepository, error) {
	if logger == nil {
		logger = log.Discard()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	version, err := RunMigrations(dsn)
	if err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger = logger.WithComponent(log.ComponentStorage)
	logger.Info("SQLite repository ready", "path", dbPath, "schema_version", version)
	return &SQLiteRepository{db: db, logger: logger}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping checks the connection; used by the readiness probe.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) withTx(ctx context.Context, userID string, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, bumpVersionSQL, userID); err != nil {
		tx.Rollback()
		return fmt.Errorf("bump version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

const bumpVersionSQL = `
INSERT INTO ledger_meta (user_id, version) VALUES (?, 1)
ON CONFLICT (user_id) DO UPDATE SET version = version + 1, updated_at = CURRENT_TIMESTAMP`

func (r *SQLiteRepository) Version(ctx context.Context, userID string) (int64, error) {
	var v int64
	err := r.db.QueryRowContext(ctx, `SELECT version FROM ledger_meta WHERE user_id = ?`, userID).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read version: %w", err)
	}
	return v, nil
}

// Cards

const cardColumns = `id, user_id, name, bank, credit_limit, currency, notes`

type scanner interface {
	Scan(dest ...any) error
}

func scanCard(row scanner) (core.Card, error) {
	var (
		c     core.Card
		limit sql.NullString
	)
	if err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.Bank, &limit, &c.Currency, &c.Notes); err != nil {
		return core.Card{}, err
	}
	c.CreditLimit = core.AmountFrom(limit)
	return c, nil
}

func (r *SQLiteRepository) ListCards(ctx context.Context, userID string) ([]core.Card, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+cardColumns+` FROM cards WHERE user_id = ? AND deleted_at IS NULL ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	defer rows.Close()

	out := make([]core.Card, 0)
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) GetCard(ctx context.Context, userID, id string) (core.Card, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+cardColumns+` FROM cards WHERE id = ? AND user_id = ? AND deleted_at IS NULL`, id, userID)
	c, err := scanCard(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Card{}, core.ErrNotFound
	}
	if err != nil {
		return core.Card{}, fmt.Errorf("get card: %w", err)
	}
	return c, nil
}

func (r *SQLiteRepository) SaveCard(ctx context.Context, c core.Card) (core.Card, error) {
	if err := c.Validate(); err != nil {
		return core.Card{}, err
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	err := r.withTx(ctx, c.UserID, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
INSERT INTO cards (id, user_id, name, bank, credit_limit, currency, notes)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    name = excluded.name,
    bank = excluded.bank,
    credit_limit = excluded.credit_limit,
    currency = excluded.currency,
    notes = excluded.notes,
    updated_at = CURRENT_TIMESTAMP,
    deleted_at = NULL
WHERE cards.user_id = excluded.user_id`,
			c.ID, c.UserID, c.Name, c.Bank, c.CreditLimit.Value.String(), c.Currency, c.Notes)
		if err != nil {
			return fmt.Errorf("save card: %w", err)
		}
		return requireRow(res)
	})
	if err != nil {
		return core.Card{}, err
	}
	r.logger.InfoContext(ctx, "Card saved", log.FieldCardID, c.ID, log.FieldUserID, c.UserID)
	return c, nil
}

func (r *SQLiteRepository) DeleteCard(ctx context.Context, userID, id string) error {
	err := r.withTx(ctx, userID, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE cards SET deleted_at = CURRENT_TIMESTAMP WHERE id = ? AND user_id = ? AND deleted_at IS NULL`, id, userID)
		if err != nil {
			return fmt.Errorf("delete card: %w", err)
		}
		if err := requireRow(res); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
UPDATE payments SET statement_id = NULL, updated_at = CURRENT_TIMESTAMP
WHERE user_id = ? AND statement_id IN (
    SELECT id FROM statements WHERE card_id = ? AND user_id = ? AND deleted_at IS NULL)`, userID, id, userID); err != nil {
			return fmt.Errorf("unlink card payments: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE statements SET deleted_at = CURRENT_TIMESTAMP WHERE card_id = ? AND user_id = ? AND deleted_at IS NULL`, id, userID); err != nil {
			return fmt.Errorf("delete card statements: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.logger.InfoContext(ctx, "Card deleted", log.FieldCardID, id, log.FieldUserID, userID)
	return nil
}

// Statements

const statementColumns = `id, user_id, card_id, statement_month, statement_date, due_date, billed_amount, currency`

func scanStatement(row scanner) (core.Statement, error) {
	var (
		s      core.Statement
		month  string
		billed sql.NullString
	)
	if err := row.Scan(&s.ID, &s.UserID, &s.CardID, &month, &s.StatementDate, &s.DueDate, &billed, &s.Currency); err != nil {
		return core.Statement{}, err
	}
	// a corrupt month leaves the zero date; the row still counts towards totals
	if m, ok := core.ParseDate(month); ok {
		s.Month = m
	}
	s.Billed = core.AmountFrom(billed)
	return s, nil
}

func (r *SQLiteRepository) ListStatements(ctx context.Context, userID string) ([]core.Statement, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+statementColumns+` FROM statements
WHERE user_id = ? AND deleted_at IS NULL ORDER BY statement_month DESC, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list statements: %w", err)
	}
	defer rows.Close()

	out := make([]core.Statement, 0)
	for rows.Next() {
		s, err := scanStatement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan statement: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) GetStatement(ctx context.Context, userID, id string) (core.Statement, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+statementColumns+` FROM statements
WHERE id = ? AND user_id = ? AND deleted_at IS NULL`, id, userID)
	s, err := scanStatement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Statement{}, core.ErrNotFound
	}
	if err != nil {
		return core.Statement{}, fmt.Errorf("get statement: %w", err)
	}
	return s, nil
}

// UpsertStatement inserts or updates the statement for (user, card, month).
// The stored ID is returned, which differs from s.ID when a row for that
// billing period already existed.
func (r *SQLiteRepository) UpsertStatement(ctx context.Context, s core.Statement) (core.Statement, error) {
	s.Month = s.Month.MonthStart()
	if err := s.Validate(); err != nil {
		return core.Statement{}, err
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	err := r.withTx(ctx, s.UserID, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
INSERT INTO statements (id, user_id, card_id, statement_month, statement_date, due_date, billed_amount, currency)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (user_id, card_id, statement_month) DO UPDATE SET
    statement_date = excluded.statement_date,
    due_date = excluded.due_date,
    billed_amount = excluded.billed_amount,
    currency = excluded.currency,
    updated_at = CURRENT_TIMESTAMP,
    deleted_at = NULL
RETURNING id`,
			s.ID, s.UserID, s.CardID, s.Month.String(), s.StatementDate, s.DueDate, s.Billed.Value.String(), s.Currency)
		if err := row.Scan(&s.ID); err != nil {
			return fmt.Errorf("upsert statement: %w", err)
		}
		return nil
	})
	if err != nil {
		return core.Statement{}, err
	}
	r.logger.InfoContext(ctx, "Statement upserted",
		log.FieldStatementID, s.ID, log.FieldCardID, s.CardID, "statement_month", s.Month.String())
	return s, nil
}

func (r *SQLiteRepository) DeleteStatement(ctx context.Context, userID, id string) error {
	return r.withTx(ctx, userID, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE statements SET deleted_at = CURRENT_TIMESTAMP WHERE id = ? AND user_id = ? AND deleted_at IS NULL`, id, userID)
		if err != nil {
			return fmt.Errorf("delete statement: %w", err)
		}
		if err := requireRow(res); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE payments SET statement_id = NULL, updated_at = CURRENT_TIMESTAMP WHERE statement_id = ? AND user_id = ?`, id, userID); err != nil {
			return fmt.Errorf("unlink statement payments: %w", err)
		}
		return nil
	})
}

// Payments

const paymentColumns = `id, user_id, kind, card_id, statement_id, debt_ref, payment_date, amount, currency, note`

func scanPayment(row scanner) (core.Payment, error) {
	var (
		p                           core.Payment
		kind, paidOn                string
		cardID, statementID, debtID sql.NullString
		amount                      sql.NullString
	)
	if err := row.Scan(&p.ID, &p.UserID, &kind, &cardID, &statementID, &debtID, &paidOn, &amount, &p.Currency, &p.Note); err != nil {
		return core.Payment{}, err
	}
	p.Kind = core.PaymentKind(kind)
	p.CardID = cardID.String
	p.StatementID = statementID.String
	p.DebtRef = debtID.String
	if d, ok := core.ParseDate(paidOn); ok {
		p.PaidOn = d
	}
	p.Amount = core.AmountFrom(amount)
	return p, nil
}

func nullable(s string) sql.NullString {
	s = strings.TrimSpace(s)
	return sql.NullString{String: s, Valid: s != ""}
}

func (r *SQLiteRepository) ListPayments(ctx context.Context, userID string) ([]core.Payment, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+paymentColumns+` FROM payments
WHERE user_id = ? AND deleted_at IS NULL ORDER BY payment_date DESC, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	out := make([]core.Payment, 0)
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) GetPayment(ctx context.Context, userID, id string) (core.Payment, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments
WHERE id = ? AND user_id = ? AND deleted_at IS NULL`, id, userID)
	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Payment{}, core.ErrNotFound
	}
	if err != nil {
		return core.Payment{}, fmt.Errorf("get payment: %w", err)
	}
	return p, nil
}

func (r *SQLiteRepository) SavePayment(ctx context.Context, p core.Payment) (core.Payment, error) {
	if err := p.Validate(); err != nil {
		return core.Payment{}, err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	err := r.withTx(ctx, p.UserID, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
INSERT INTO payments (id, user_id, kind, card_id, statement_id, debt_ref, payment_date, amount, currency, note)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    kind = excluded.kind,
    card_id = excluded.card_id,
    statement_id = excluded.statement_id,
    debt_ref = excluded.debt_ref,
    payment_date = excluded.payment_date,
    amount = excluded.amount,
    currency = excluded.currency,
    note = excluded.note,
    updated_at = CURRENT_TIMESTAMP,
    deleted_at = NULL
WHERE payments.user_id = excluded.user_id`,
			p.ID, p.UserID, string(p.Kind), nullable(p.CardID), nullable(p.StatementID), nullable(p.DebtRef),
			p.PaidOn.String(), p.Amount.Value.String(), p.Currency, p.Note)
		if err != nil {
			return fmt.Errorf("save payment: %w", err)
		}
		return requireRow(res)
	})
	if err != nil {
		return core.Payment{}, err
	}
	r.logger.InfoContext(ctx, "Payment saved",
		log.NewFields().WithPayment(p.ID, p.Kind.String(), p.CardID, p.StatementID, p.Amount.OrZero()).ToSlice()...)
	return p, nil
}

func (r *SQLiteRepository) RelinkPayment(ctx context.Context, userID, paymentID, statementID string) (core.Payment, error) {
	err := r.withTx(ctx, userID, func(tx *sql.Tx) error {
		if statementID != "" {
			var one int
			err := tx.QueryRowContext(ctx,
				`SELECT 1 FROM statements WHERE id = ? AND user_id = ? AND deleted_at IS NULL`, statementID, userID).Scan(&one)
			if errors.Is(err, sql.ErrNoRows) {
				return core.ErrNotFound
			}
			if err != nil {
				return fmt.Errorf("check statement: %w", err)
			}
		}
		res, err := tx.ExecContext(ctx, `UPDATE payments SET statement_id = ?, updated_at = CURRENT_TIMESTAMP
WHERE id = ? AND user_id = ? AND deleted_at IS NULL`, nullable(statementID), paymentID, userID)
		if err != nil {
			return fmt.Errorf("relink payment: %w", err)
		}
		return requireRow(res)
	})
	if err != nil {
		return core.Payment{}, err
	}
	r.logger.InfoContext(ctx, "Payment relinked",
		log.FieldPaymentID, paymentID, log.FieldStatementID, statementID, log.FieldOperation, log.OpRelink)
	return r.GetPayment(ctx, userID, paymentID)
}

func (r *SQLiteRepository) DeletePayment(ctx context.Context, userID, id string) error {
	return r.withTx(ctx, userID, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE payments SET deleted_at = CURRENT_TIMESTAMP WHERE id = ? AND user_id = ? AND deleted_at IS NULL`, id, userID)
		if err != nil {
			return fmt.Errorf("delete payment: %w", err)
		}
		return requireRow(res)
	})
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}
