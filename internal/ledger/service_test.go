package ledger_test

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"budget/internal/core"
	"budget/internal/ledger"
	"budget/internal/storage/memory"
)

const (
	alice int64 = 1
	bob   int64 = 2
)

type fixture struct {
	store  *memory.Store
	svc    *ledger.Service
	a, b   core.Account
	food   core.Category
	salary core.Category
	bobAcc core.Account
	bobCat core.Category
	events *recordingPublisher
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []core.LedgerEvent
	err    error
}

func (p *recordingPublisher) PublishLedgerEvent(_ context.Context, e core.LedgerEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func newFixture(t *testing.T, opts ...ledger.Option) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{store: memory.New(), events: &recordingPublisher{}}
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	var err error
	f.a, err = f.store.CreateAccount(ctx, core.Account{UserID: alice, Name: "A", Balance: decimal.NewFromInt(100)})
	must(err)
	f.b, err = f.store.CreateAccount(ctx, core.Account{UserID: alice, Name: "B"})
	must(err)
	f.food, err = f.store.CreateCategory(ctx, core.Category{UserID: alice, Name: "Food", Type: core.Expense})
	must(err)
	f.salary, err = f.store.CreateCategory(ctx, core.Category{UserID: alice, Name: "Salary", Type: core.Income})
	must(err)
	f.bobAcc, err = f.store.CreateAccount(ctx, core.Account{UserID: bob, Name: "Bob", Balance: decimal.NewFromInt(5)})
	must(err)
	f.bobCat, err = f.store.CreateCategory(ctx, core.Category{UserID: bob, Name: "Bob food", Type: core.Expense})
	must(err)

	opts = append([]ledger.Option{ledger.WithPublisher(f.events)}, opts...)
	f.svc = ledger.NewService(f.store, opts...)
	return f
}

func (f *fixture) balance(t *testing.T, acc core.Account) decimal.Decimal {
	t.Helper()
	got, err := f.store.FindAccount(context.Background(), acc.ID, acc.UserID)
	if err != nil {
		t.Fatalf("find account %d: %v", acc.ID, err)
	}
	return got.Balance
}

func (f *fixture) assertBalance(t *testing.T, acc core.Account, want string) {
	t.Helper()
	if got := f.balance(t, acc); !got.Equal(decimal.RequireFromString(want)) {
		t.Errorf("account %s balance = %s, want %s", acc.Name, got, want)
	}
}

func (f *fixture) assertInvariant(t *testing.T) {
	t.Helper()
	accounts, _ := f.store.AllAccounts(context.Background())
	for _, acc := range accounts {
		a, err := f.store.AuditAccount(context.Background(), acc.ID)
		if err != nil {
			t.Fatalf("audit %d: %v", acc.ID, err)
		}
		opening := map[int64]decimal.Decimal{f.a.ID: decimal.NewFromInt(100), f.bobAcc.ID: decimal.NewFromInt(5)}[acc.ID]
		if !a.Balance.Equal(a.Expected.Add(opening)) {
			t.Errorf("account %d: balance %s != opening %s + ledger %s", acc.ID, a.Balance, opening, a.Expected)
		}
	}
}

func input(acc core.Account, cat core.Category, amount string) core.TransactionInput {
	return core.TransactionInput{
		AccountID:  acc.ID,
		CategoryID: cat.ID,
		Amount:     decimal.RequireFromString(amount),
		Date:       core.NewDate(2024, 5, 1),
		Note:       "test",
	}
}

func TestCreateEditMoveScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.CreateTransaction(ctx, alice, input(f.a, f.food, "30"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !created.Amount.Equal(decimal.NewFromInt(-30)) || created.Type != core.Expense {
		t.Fatalf("created = %+v, want -30 expense", created)
	}
	f.assertBalance(t, f.a, "70")

	if _, err := f.svc.EditTransaction(ctx, alice, created.ID, input(f.a, f.food, "10")); err != nil {
		t.Fatalf("edit amount: %v", err)
	}
	f.assertBalance(t, f.a, "90")

	if _, err := f.svc.EditTransaction(ctx, alice, created.ID, input(f.b, f.food, "10")); err != nil {
		t.Fatalf("move account: %v", err)
	}
	f.assertBalance(t, f.a, "100")
	f.assertBalance(t, f.b, "-10")
	f.assertInvariant(t)
}

func TestCreateRejectsNonPositiveAmount(t *testing.T) {
	for _, amount := range []string{"0", "-5"} {
		t.Run(amount, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.CreateTransaction(context.Background(), alice, input(f.a, f.food, amount))
			if !errors.Is(err, core.ErrInvalidAmount) {
				t.Fatalf("err = %v, want ErrInvalidAmount", err)
			}
			if txs, _ := f.svc.ListByUser(context.Background(), alice, core.DateRange{}); len(txs) != 0 {
				t.Errorf("expected no rows, got %d", len(txs))
			}
			f.assertBalance(t, f.a, "100")
			if len(f.events.events) != 0 {
				t.Errorf("expected no events, got %d", len(f.events.events))
			}
		})
	}
}

func TestSignLaw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	income, err := f.svc.CreateTransaction(ctx, alice, input(f.a, f.salary, "250.5"))
	if err != nil {
		t.Fatalf("income: %v", err)
	}
	expense, err := f.svc.CreateTransaction(ctx, alice, input(f.a, f.food, "0.5"))
	if err != nil {
		t.Fatalf("expense: %v", err)
	}
	if !income.Amount.IsPositive() || !expense.Amount.IsNegative() {
		t.Fatalf("income %s expense %s", income.Amount, expense.Amount)
	}
	f.assertBalance(t, f.a, "350")
}

func TestEditSwitchingCategoryTypeFlipsSign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tx, err := f.svc.CreateTransaction(ctx, alice, input(f.a, f.food, "40"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	edited, err := f.svc.EditTransaction(ctx, alice, tx.ID, input(f.a, f.salary, "40"))
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if edited.Type != core.Income || !edited.Amount.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("edited = %+v", edited)
	}
	f.assertBalance(t, f.a, "140")
}

func TestNoOpEditLeavesBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tx, err := f.svc.CreateTransaction(ctx, alice, input(f.a, f.food, "30"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := f.svc.EditTransaction(ctx, alice, tx.ID, input(f.a, f.food, "30")); err != nil {
			t.Fatalf("edit %d: %v", i, err)
		}
	}
	f.assertBalance(t, f.a, "70")
}

func TestOwnershipIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tx, err := f.svc.CreateTransaction(ctx, alice, input(f.a, f.food, "30"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	tests := []struct {
		name string
		call func() error
	}{
		{"get foreign transaction", func() error {
			_, err := f.svc.GetTransaction(ctx, bob, tx.ID)
			return err
		}},
		{"edit foreign transaction", func() error {
			_, err := f.svc.EditTransaction(ctx, bob, tx.ID, input(f.bobAcc, f.bobCat, "1"))
			return err
		}},
		{"delete foreign transaction", func() error {
			return f.svc.DeleteTransaction(ctx, bob, tx.ID)
		}},
		{"create on foreign account", func() error {
			_, err := f.svc.CreateTransaction(ctx, bob, input(f.a, f.bobCat, "1"))
			return err
		}},
		{"create with foreign category", func() error {
			_, err := f.svc.CreateTransaction(ctx, bob, input(f.bobAcc, f.food, "1"))
			return err
		}},
		{"move own transaction to foreign account", func() error {
			_, err := f.svc.EditTransaction(ctx, alice, tx.ID, input(f.bobAcc, f.food, "30"))
			return err
		}},
		{"edit missing transaction", func() error {
			_, err := f.svc.EditTransaction(ctx, alice, 9999, input(f.a, f.food, "1"))
			return err
		}},
		{"list foreign account", func() error {
			_, err := f.svc.ListByAccount(ctx, bob, f.a.ID, core.DateRange{})
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, core.ErrNotFound) {
				t.Errorf("err = %v, want ErrNotFound", err)
			}
		})
	}

	f.assertBalance(t, f.a, "70")
	f.assertBalance(t, f.bobAcc, "5")
	f.assertInvariant(t)
}

func TestValidationRunsBeforeOwnership(t *testing.T) {
	f := newFixture(t)
	// Foreign account and zero amount: the amount error wins because input
	// validation happens before any lookup.
	_, err := f.svc.CreateTransaction(context.Background(), bob, input(f.a, f.food, "0"))
	if !errors.Is(err, core.ErrInvalidAmount) {
		t.Fatalf("err = %v, want ErrInvalidAmount", err)
	}
}

func TestTypeMismatch(t *testing.T) {
	f := newFixture(t)
	in := input(f.a, f.food, "10")
	in.Type = core.Income
	_, err := f.svc.CreateTransaction(context.Background(), alice, in)
	if !errors.Is(err, core.ErrTypeMismatch) {
		t.Fatalf("err = %v, want ErrTypeMismatch", err)
	}
	f.assertBalance(t, f.a, "100")
}

func TestDeleteReversesBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tx, err := f.svc.CreateTransaction(ctx, alice, input(f.a, f.food, "30"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.svc.DeleteTransaction(ctx, alice, tx.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	f.assertBalance(t, f.a, "100")
	f.assertInvariant(t)

	if _, err := f.svc.GetTransaction(ctx, alice, tx.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("get after delete: err = %v", err)
	}
	if err := f.svc.DeleteTransaction(ctx, alice, tx.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("second delete: err = %v", err)
	}
}

// The historical delete left balances untouched; the drift it leaves behind
// is exactly the deleted amount.
func TestLegacyDeleteLeavesDrift(t *testing.T) {
	f := newFixture(t, ledger.WithLegacyDelete())
	ctx := context.Background()

	tx, err := f.svc.CreateTransaction(ctx, alice, input(f.b, f.food, "30"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.svc.DeleteTransaction(ctx, alice, tx.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	f.assertBalance(t, f.b, "-30")

	audit, err := f.store.AuditAccount(ctx, f.b.ID)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if !audit.Drift().Equal(decimal.NewFromInt(-30)) {
		t.Errorf("drift = %s, want -30", audit.Drift())
	}
}

type failingBackend struct {
	*memory.Store
}

func (f failingBackend) WithinTx(ctx context.Context, fn func(ledger.Tx) error) error {
	return f.Store.WithinTx(ctx, func(tx ledger.Tx) error {
		return fn(failingTx{Tx: tx})
	})
}

type failingTx struct {
	ledger.Tx
}

func (failingTx) AddToBalance(context.Context, int64, int64, decimal.Decimal) error {
	return errors.New("disk I/O error")
}

func TestPersistenceFailureLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tx, err := f.svc.CreateTransaction(ctx, alice, input(f.a, f.food, "30"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	broken := ledger.NewService(failingBackend{Store: f.store}, ledger.WithPublisher(f.events))
	published := len(f.events.events)

	if _, err := broken.CreateTransaction(ctx, alice, input(f.a, f.food, "5")); !errors.Is(err, core.ErrPersistence) {
		t.Errorf("create: err = %v, want ErrPersistence", err)
	}
	if _, err := broken.EditTransaction(ctx, alice, tx.ID, input(f.b, f.food, "10")); !errors.Is(err, core.ErrPersistence) {
		t.Errorf("edit: err = %v, want ErrPersistence", err)
	}
	if err := broken.DeleteTransaction(ctx, alice, tx.ID); !errors.Is(err, core.ErrPersistence) {
		t.Errorf("delete: err = %v, want ErrPersistence", err)
	}

	f.assertBalance(t, f.a, "70")
	f.assertBalance(t, f.b, "0")
	got, err := f.svc.GetTransaction(ctx, alice, tx.ID)
	if err != nil || got.AccountID != f.a.ID || !got.Amount.Equal(decimal.NewFromInt(-30)) {
		t.Errorf("transaction after failures = %+v, %v", got, err)
	}
	if txs, _ := f.svc.ListByUser(ctx, alice, core.DateRange{}); len(txs) != 1 {
		t.Errorf("rows = %d, want 1", len(txs))
	}
	if len(f.events.events) != published {
		t.Errorf("failed mutations published %d events", len(f.events.events)-published)
	}
}

func TestStaleEditConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tx, err := f.svc.CreateTransaction(ctx, alice, input(f.a, f.food, "30"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	stale := ledger.PreviousOf(tx)

	if _, err := f.svc.EditTransaction(ctx, alice, tx.ID, input(f.a, f.food, "20")); err != nil {
		t.Fatalf("edit: %v", err)
	}

	book := ledger.NewBook(f.store, false)
	next := tx
	next.Amount = decimal.NewFromInt(-5)
	err = book.Update(ctx, next, stale)
	if !errors.Is(err, core.ErrConflict) || !errors.Is(err, core.ErrPersistence) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	f.assertBalance(t, f.a, "80")
}

func TestEventsPublishedAfterCommit(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, ledger.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	tx, err := f.svc.CreateTransaction(ctx, alice, input(f.a, f.food, "30"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.EditTransaction(ctx, alice, tx.ID, input(f.b, f.food, "30")); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if err := f.svc.DeleteTransaction(ctx, alice, tx.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	want := []struct {
		kind     core.EventKind
		accounts []int64
	}{
		{core.EventCreated, []int64{f.a.ID}},
		{core.EventUpdated, []int64{f.a.ID, f.b.ID}},
		{core.EventDeleted, []int64{f.b.ID}},
	}
	if len(f.events.events) != len(want) {
		t.Fatalf("got %d events, want %d", len(f.events.events), len(want))
	}
	for i, w := range want {
		e := f.events.events[i]
		if e.Kind != w.kind || e.TransactionID != tx.ID || e.UserID != alice || e.ID == "" || !e.OccurredAt.Equal(now) {
			t.Errorf("event %d = %+v", i, e)
		}
		if len(e.AccountIDs) != len(w.accounts) {
			t.Errorf("event %d accounts = %v, want %v", i, e.AccountIDs, w.accounts)
			continue
		}
		for j := range w.accounts {
			if e.AccountIDs[j] != w.accounts[j] {
				t.Errorf("event %d accounts = %v, want %v", i, e.AccountIDs, w.accounts)
			}
		}
	}
}

func TestPublishFailureDoesNotFailRequest(t *testing.T) {
	f := newFixture(t)
	f.events.err = errors.New("broker down")

	if _, err := f.svc.CreateTransaction(context.Background(), alice, input(f.a, f.food, "30")); err != nil {
		t.Fatalf("create: %v", err)
	}
	f.assertBalance(t, f.a, "70")
}

func TestListings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, day := range []int{3, 1, 2} {
		in := input(f.a, f.food, "1")
		in.Date = core.NewDate(2024, 6, day)
		if _, err := f.svc.CreateTransaction(ctx, alice, in); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if _, err := f.svc.CreateTransaction(ctx, alice, input(f.b, f.salary, "7")); err != nil {
		t.Fatalf("create: %v", err)
	}

	byAccount, err := f.svc.ListByAccount(ctx, alice, f.a.ID, core.DateRange{From: core.NewDate(2024, 6, 2)})
	if err != nil {
		t.Fatalf("ListByAccount: %v", err)
	}
	if len(byAccount) != 2 || byAccount[0].Date.Day() != 3 || byAccount[1].Date.Day() != 2 {
		t.Errorf("ListByAccount = %v", byAccount)
	}

	all, err := f.svc.ListByUser(ctx, alice, core.DateRange{})
	if err != nil || len(all) != 4 {
		t.Errorf("ListByUser = %d rows, %v", len(all), err)
	}

	if _, err := f.svc.ListByUser(ctx, alice, core.DateRange{From: core.NewDate(2024, 7, 1), To: core.NewDate(2024, 6, 1)}); !errors.Is(err, core.ErrInvalidDateRange) {
		t.Errorf("inverted range: err = %v", err)
	}

	accounts, err := f.svc.ListAccounts(ctx, alice)
	if err != nil || len(accounts) != 2 {
		t.Errorf("ListAccounts = %v, %v", accounts, err)
	}
	cats, err := f.svc.ListCategories(ctx, alice, core.Income)
	if err != nil || len(cats) != 1 || cats[0].ID != f.salary.ID {
		t.Errorf("ListCategories = %v, %v", cats, err)
	}
	if _, err := f.svc.ListCategories(ctx, alice, "transfer"); !errors.Is(err, core.ErrInvalidMovementType) {
		t.Errorf("ListCategories bad type: err = %v", err)
	}
}

func TestRandomOperationsKeepInvariant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))
	accounts := []core.Account{f.a, f.b}
	cats := []core.Category{f.food, f.salary}
	var live []int64

	for i := 0; i < 300; i++ {
		// Up to three fractional digits; sub-cent amounts must be rejected.
		amount := decimal.New(int64(rng.Intn(100000)+1), -int32(rng.Intn(4)))
		in := core.TransactionInput{
			AccountID:  accounts[rng.Intn(len(accounts))].ID,
			CategoryID: cats[rng.Intn(len(cats))].ID,
			Amount:     amount,
			Date:       core.NewDate(2024, rng.Intn(12)+1, rng.Intn(28)+1),
		}
		wantErr := !core.HasAmountScale(amount)

		var err error
		switch op := rng.Intn(3); {
		case op == 0 || len(live) == 0:
			var tx core.Transaction
			if tx, err = f.svc.CreateTransaction(ctx, alice, in); err == nil {
				live = append(live, tx.ID)
			}
		case op == 1:
			_, err = f.svc.EditTransaction(ctx, alice, live[rng.Intn(len(live))], in)
		default:
			k := rng.Intn(len(live))
			wantErr = false
			if err = f.svc.DeleteTransaction(ctx, alice, live[k]); err == nil {
				live = append(live[:k], live[k+1:]...)
			}
		}
		if wantErr {
			if !errors.Is(err, core.ErrInvalidAmount) {
				t.Fatalf("step %d amount %s: err = %v, want ErrInvalidAmount", i, amount, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	f.assertInvariant(t)
}

func TestConcurrentCreatesSerialize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.CreateTransaction(ctx, alice, input(f.a, f.food, "1")); err != nil {
				t.Errorf("create: %v", err)
			}
		}()
	}
	wg.Wait()
	f.assertBalance(t, f.a, "50")
}
