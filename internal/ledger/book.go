package ledger

import (
	"context"
	"errors"
	"fmt"

	"budget/internal/core"
)

// Book is the ledger store: it persists transaction rows and, in the same
// unit of work, reconciles the balances they affect. Balances are adjusted
// before the row is written, so account locks are always taken first and in
// account ID order.
type Book struct {
	store        Store
	reconciler   Reconciler
	legacyDelete bool
}

// NewBook wraps store. With legacyDelete set, Delete removes the row without
// reversing its amount on the account, reproducing the historical behaviour
// where balances drift after deletions.
func NewBook(store Store, legacyDelete bool) *Book {
	return &Book{store: store, legacyDelete: legacyDelete}
}

// Create records t, whose amount must already be signed, and applies it to
// the account balance. It returns the new transaction ID.
func (b *Book) Create(ctx context.Context, t core.Transaction) (int64, error) {
	var id int64
	err := b.store.WithinTx(ctx, func(tx Tx) error {
		if err := b.reconciler.Apply(ctx, tx, t.UserID, b.reconciler.Created(t)); err != nil {
			return err
		}
		var err error
		id, err = tx.InsertTransaction(ctx, t)
		if err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, storeError("create transaction", err)
	}
	return id, nil
}

// Fetch returns the transaction id owned by userID. A transaction owned by
// someone else is reported as core.ErrNotFound.
func (b *Book) Fetch(ctx context.Context, id, userID int64) (core.Transaction, error) {
	var t core.Transaction
	err := b.store.WithinTx(ctx, func(tx Tx) error {
		var err error
		t, err = tx.GetTransaction(ctx, id, userID)
		return err
	})
	if err != nil {
		return core.Transaction{}, storeError("fetch transaction", err)
	}
	return t, nil
}

// Update overwrites the row identified by t.ID and moves its contribution
// from prev to t. If the stored row no longer matches prev, another edit won
// the race and core.ErrConflict is returned with nothing applied.
func (b *Book) Update(ctx context.Context, t core.Transaction, prev Previous) error {
	err := b.store.WithinTx(ctx, func(tx Tx) error {
		current, err := tx.GetTransaction(ctx, t.ID, t.UserID)
		if err != nil {
			return fmt.Errorf("reload transaction: %w", err)
		}
		if current.AccountID != prev.AccountID || !current.Amount.Equal(prev.Amount) {
			return core.ErrConflict
		}
		if err := b.reconciler.Apply(ctx, tx, t.UserID, b.reconciler.Edited(prev, t)); err != nil {
			return err
		}
		if err := tx.UpdateTransaction(ctx, t); err != nil {
			return fmt.Errorf("update transaction: %w", err)
		}
		return nil
	})
	return storeError("update transaction", err)
}

// Delete removes the row of t and reverses its amount on its account unless
// the book runs with legacy deletes.
func (b *Book) Delete(ctx context.Context, t core.Transaction) error {
	err := b.store.WithinTx(ctx, func(tx Tx) error {
		current, err := tx.GetTransaction(ctx, t.ID, t.UserID)
		if err != nil {
			return fmt.Errorf("reload transaction: %w", err)
		}
		if err := tx.DeleteTransaction(ctx, current.ID, current.UserID); err != nil {
			return fmt.Errorf("delete transaction: %w", err)
		}
		if b.legacyDelete {
			return nil
		}
		return b.reconciler.Apply(ctx, tx, current.UserID, b.reconciler.Deleted(current))
	})
	return storeError("delete transaction", err)
}

// storeError keeps not-found and conflict outcomes as they are and marks
// every other store failure as core.ErrPersistence.
func storeError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, core.ErrNotFound), errors.Is(err, core.ErrPersistence):
		return fmt.Errorf("%s: %w", op, err)
	default:
		return fmt.Errorf("%s: %w: %w", op, core.ErrPersistence, err)
	}
}
