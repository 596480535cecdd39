// Package ledger defines the storage ports the ledger service writes through
// and reads snapshots from. Implementations live in ledger/memory and
// storage.
package ledger

import (
	"context"

	"cardledger/internal/core"
)

// Ports for outbound adapters.
type (
	// SnapshotReader returns the live (not deleted) rows of one user. Version
	// changes after every successful write for that user, so callers can key
	// derived data on it.
	SnapshotReader interface {
		ListCards(ctx context.Context, userID string) ([]core.Card, error)
		ListStatements(ctx context.Context, userID string) ([]core.Statement, error)
		ListPayments(ctx context.Context, userID string) ([]core.Payment, error)
		Version(ctx context.Context, userID string) (int64, error)
	}

	// EntityReader looks up single rows. Missing or deleted rows return
	// core.ErrNotFound.
	EntityReader interface {
		GetCard(ctx context.Context, userID, id string) (core.Card, error)
		GetStatement(ctx context.Context, userID, id string) (core.Statement, error)
		GetPayment(ctx context.Context, userID, id string) (core.Payment, error)
	}

	CardWriter interface {
		// SaveCard inserts or replaces the card with c.ID.
		SaveCard(ctx context.Context, c core.Card) (core.Card, error)
		// DeleteCard removes the card and its statements. Payments stay.
		DeleteCard(ctx context.Context, userID, id string) error
	}

	StatementWriter interface {
		// UpsertStatement stores s keyed by (user, card, month). When a
		// statement already exists for that key it is updated in place and
		// keeps its ID.
		UpsertStatement(ctx context.Context, s core.Statement) (core.Statement, error)
		// DeleteStatement removes the statement and unlinks its payments.
		DeleteStatement(ctx context.Context, userID, id string) error
	}

	PaymentWriter interface {
		SavePayment(ctx context.Context, p core.Payment) (core.Payment, error)
		// RelinkPayment points the payment at statementID. An empty
		// statementID unlinks it.
		RelinkPayment(ctx context.Context, userID, paymentID, statementID string) (core.Payment, error)
		DeletePayment(ctx context.Context, userID, id string) error
	}

	// Repository is everything the ledger service needs from a backend.
	Repository interface {
		SnapshotReader
		EntityReader
		CardWriter
		StatementWriter
		PaymentWriter
	}
)
