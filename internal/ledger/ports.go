// Package ledger keeps account balances consistent with the transactions
// recorded against them.
//
// Every mutation of a ledger row runs inside one Store unit of work together
// with the balance deltas it implies, so for every account the cached balance
// equals the signed sum of its transactions after each commit.
package ledger

import (
	"context"

	"github.com/shopspring/decimal"

	"budget/internal/core"
)

// Ports implemented by storage backends and collaborators.
type (
	// Store runs fn inside a single atomic unit of work. If fn returns an
	// error, nothing it did is visible afterwards.
	Store interface {
		WithinTx(ctx context.Context, fn func(tx Tx) error) error
	}

	// Tx is the view of the store available inside a unit of work. Every
	// method is scoped by owner and returns core.ErrNotFound for rows that
	// are absent or belong to another user.
	Tx interface {
		GetTransaction(ctx context.Context, id, userID int64) (core.Transaction, error)
		InsertTransaction(ctx context.Context, t core.Transaction) (int64, error)
		UpdateTransaction(ctx context.Context, t core.Transaction) error
		DeleteTransaction(ctx context.Context, id, userID int64) error

		// AddToBalance performs balance += delta under the unit of work's
		// isolation, so concurrent deltas on one account serialize.
		AddToBalance(ctx context.Context, accountID, userID int64, delta decimal.Decimal) error
	}

	AccountDirectory interface {
		ListAccounts(ctx context.Context, userID int64) ([]core.Account, error)
		FindAccount(ctx context.Context, accountID, userID int64) (core.Account, error)
	}

	CategoryDirectory interface {
		ListCategories(ctx context.Context, userID int64, t core.MovementType) ([]core.Category, error)
		FindCategory(ctx context.Context, categoryID, userID int64) (core.Category, error)
	}

	TransactionLister interface {
		// ListByAccount returns the account's transactions in r, newest first.
		ListByAccount(ctx context.Context, userID, accountID int64, r core.DateRange) ([]core.Transaction, error)
		// ListByUser returns all of the user's transactions in r, newest first.
		ListByUser(ctx context.Context, userID int64, r core.DateRange) ([]core.Transaction, error)
	}

	// Backend bundles everything a Service needs from storage.
	Backend interface {
		Store
		AccountDirectory
		CategoryDirectory
		TransactionLister
	}

	// EventPublisher announces committed mutations to downstream consumers.
	EventPublisher interface {
		PublishLedgerEvent(ctx context.Context, e core.LedgerEvent) error
	}
)
