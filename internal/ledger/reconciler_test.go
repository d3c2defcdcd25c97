package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"budget/internal/core"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestReconcilerDeltas(t *testing.T) {
	var r Reconciler
	tests := []struct {
		name string
		got  []Delta
		want []Delta
	}{
		{
			name: "create applies signed amount",
			got:  r.Created(core.Transaction{AccountID: 1, Amount: dec("-30")}),
			want: []Delta{{AccountID: 1, Amount: dec("-30")}},
		},
		{
			name: "edit on same account applies difference",
			got:  r.Edited(Previous{AccountID: 1, Amount: dec("-30")}, core.Transaction{AccountID: 1, Amount: dec("-10")}),
			want: []Delta{{AccountID: 1, Amount: dec("20")}},
		},
		{
			name: "edit across accounts reverses old and applies new",
			got:  r.Edited(Previous{AccountID: 1, Amount: dec("-10")}, core.Transaction{AccountID: 2, Amount: dec("-10")}),
			want: []Delta{{AccountID: 1, Amount: dec("10")}, {AccountID: 2, Amount: dec("-10")}},
		},
		{
			name: "no-op edit yields nothing",
			got:  r.Edited(Previous{AccountID: 1, Amount: dec("-10")}, core.Transaction{AccountID: 1, Amount: dec("-10")}),
			want: nil,
		},
		{
			name: "income flipped to expense",
			got:  r.Edited(Previous{AccountID: 3, Amount: dec("50")}, core.Transaction{AccountID: 3, Amount: dec("-50")}),
			want: []Delta{{AccountID: 3, Amount: dec("-100")}},
		},
		{
			name: "delete reverses amount",
			got:  r.Deleted(core.Transaction{AccountID: 4, Amount: dec("12.50")}),
			want: []Delta{{AccountID: 4, Amount: dec("-12.50")}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if len(tt.got) != len(tt.want) {
				t.Fatalf("got %d deltas %v, want %d", len(tt.got), tt.got, len(tt.want))
			}
			for i := range tt.want {
				if tt.got[i].AccountID != tt.want[i].AccountID || !tt.got[i].Amount.Equal(tt.want[i].Amount) {
					t.Errorf("delta %d = %+v, want %+v", i, tt.got[i], tt.want[i])
				}
			}
		})
	}
}

// Applying the deltas of any edit to balances that match the old row must
// leave balances matching the new row.
func TestReconcilerEditPreservesSums(t *testing.T) {
	var r Reconciler
	cases := []struct {
		prev Previous
		next core.Transaction
	}{
		{Previous{AccountID: 1, Amount: dec("-30")}, core.Transaction{AccountID: 1, Amount: dec("-10")}},
		{Previous{AccountID: 1, Amount: dec("-30")}, core.Transaction{AccountID: 2, Amount: dec("45.55")}},
		{Previous{AccountID: 2, Amount: dec("0.01")}, core.Transaction{AccountID: 1, Amount: dec("0.01")}},
	}
	for _, c := range cases {
		balances := map[int64]decimal.Decimal{1: decimal.Zero, 2: decimal.Zero}
		balances[c.prev.AccountID] = c.prev.Amount
		for _, d := range r.Edited(c.prev, c.next) {
			balances[d.AccountID] = balances[d.AccountID].Add(d.Amount)
		}
		for id, got := range balances {
			want := decimal.Zero
			if id == c.next.AccountID {
				want = c.next.Amount
			}
			if !got.Equal(want) {
				t.Errorf("%+v -> %+v: account %d = %s, want %s", c.prev, c.next, id, got, want)
			}
		}
	}
}

type recordingTx struct {
	Tx
	applied []Delta
	failOn  int64
}

func (r *recordingTx) AddToBalance(_ context.Context, accountID, _ int64, delta decimal.Decimal) error {
	if accountID == r.failOn {
		return errors.New("locked")
	}
	r.applied = append(r.applied, Delta{AccountID: accountID, Amount: delta})
	return nil
}

func TestReconcilerApply(t *testing.T) {
	var r Reconciler
	deltas := []Delta{{AccountID: 2, Amount: dec("-10")}, {AccountID: 1, Amount: dec("10")}}

	tx := &recordingTx{}
	if err := r.Apply(context.Background(), tx, 7, deltas); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(tx.applied) != 2 || tx.applied[0].AccountID != 1 || tx.applied[1].AccountID != 2 {
		t.Fatalf("applied %v, want account 1 then 2", tx.applied)
	}
	if deltas[0].AccountID != 2 {
		t.Fatalf("Apply reordered the caller's deltas: %v", deltas)
	}

	tx = &recordingTx{failOn: 2}
	if err := r.Apply(context.Background(), tx, 7, deltas); err == nil {
		t.Fatal("expected error from failing account")
	}
}

func TestAccountIDs(t *testing.T) {
	got := AccountIDs([]Delta{{AccountID: 3}, {AccountID: 1}, {AccountID: 3}})
	if len(got) != 2 || got[0] != 3 || got[1] != 1 {
		t.Errorf("AccountIDs = %v", got)
	}
}

func TestStoreError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
	}{
		{"not found kept", core.ErrNotFound, core.ErrNotFound},
		{"conflict kept", core.ErrConflict, core.ErrConflict},
		{"driver error becomes persistence", errors.New("database is locked"), core.ErrPersistence},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := storeError("op", tt.err); !errors.Is(err, tt.target) {
				t.Errorf("storeError(%v) = %v, want %v", tt.err, err, tt.target)
			}
		})
	}
	if storeError("op", nil) != nil {
		t.Error("storeError(nil) should be nil")
	}
	if errors.Is(storeError("op", core.ErrNotFound), core.ErrPersistence) {
		t.Error("not found must not be reported as persistence failure")
	}
}
