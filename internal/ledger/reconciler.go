package ledger

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"budget/internal/core"
)

// Delta is an amount to add to one account's balance.
type Delta struct {
	AccountID int64
	Amount    decimal.Decimal
}

// Previous is the state of a transaction captured before an edit is applied.
// It cannot be recovered once the row has been overwritten.
type Previous struct {
	Amount    decimal.Decimal
	AccountID int64
}

// PreviousOf captures the reconciliation-relevant state of t.
func PreviousOf(t core.Transaction) Previous {
	return Previous{Amount: t.Amount, AccountID: t.AccountID}
}

// Reconciler computes and applies the balance deltas implied by ledger
// mutations. It holds no state; the unit of work passed to Apply provides
// atomicity.
type Reconciler struct{}

// Created returns the delta for a newly recorded transaction.
func (Reconciler) Created(t core.Transaction) []Delta {
	return nonZero(Delta{AccountID: t.AccountID, Amount: t.Amount})
}

// Edited returns the deltas moving a transaction from prev to next. On the
// same account only the difference is applied; across accounts the old
// amount is reversed on the old account and the new one applied on the new.
func (Reconciler) Edited(prev Previous, next core.Transaction) []Delta {
	if prev.AccountID == next.AccountID {
		return nonZero(Delta{AccountID: next.AccountID, Amount: next.Amount.Sub(prev.Amount)})
	}
	return nonZero(
		Delta{AccountID: prev.AccountID, Amount: prev.Amount.Neg()},
		Delta{AccountID: next.AccountID, Amount: next.Amount},
	)
}

// Deleted returns the delta reversing t's contribution to its account.
func (Reconciler) Deleted(t core.Transaction) []Delta {
	return nonZero(Delta{AccountID: t.AccountID, Amount: t.Amount.Neg()})
}

// Apply adds each delta to its account inside tx, in ascending account ID
// order.
func (Reconciler) Apply(ctx context.Context, tx Tx, userID int64, deltas []Delta) error {
	ordered := slices.Clone(deltas)
	slices.SortStableFunc(ordered, func(a, b Delta) int {
		return cmp.Compare(a.AccountID, b.AccountID)
	})
	for _, d := range ordered {
		if err := tx.AddToBalance(ctx, d.AccountID, userID, d.Amount); err != nil {
			return fmt.Errorf("adjust balance of account %d: %w", d.AccountID, err)
		}
	}
	return nil
}

func nonZero(deltas ...Delta) []Delta {
	out := deltas[:0]
	for _, d := range deltas {
		if !d.Amount.IsZero() {
			out = append(out, d)
		}
	}
	return out
}

// AccountIDs lists the distinct accounts touched by deltas, in order.
func AccountIDs(deltas []Delta) []int64 {
	seen := make(map[int64]struct{}, len(deltas))
	ids := make([]int64, 0, len(deltas))
	for _, d := range deltas {
		if _, ok := seen[d.AccountID]; ok {
			continue
		}
		seen[d.AccountID] = struct{}{}
		ids = append(ids, d.AccountID)
	}
	return ids
}
