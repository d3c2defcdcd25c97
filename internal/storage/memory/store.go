package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"budget/internal/core"
	"budget/internal/ledger"
)

// Store keeps the whole ledger in process memory. A unit of work runs on a
// copy of the state under the store mutex; the copy replaces the state only
// when the unit of work returns nil.
type Store struct {
	mu sync.Mutex
	st *state
}

type state struct {
	accounts   map[int64]core.Account
	categories map[int64]core.Category
	txs        map[int64]core.Transaction
	lastID     struct{ account, category, tx int64 }
}

var _ ledger.Backend = (*Store)(nil)

func New() *Store {
	return &Store{st: &state{
		accounts:   map[int64]core.Account{},
		categories: map[int64]core.Category{},
		txs:        map[int64]core.Transaction{},
	}}
}

func (s *state) clone() *state {
	c := &state{
		accounts:   make(map[int64]core.Account, len(s.accounts)),
		categories: make(map[int64]core.Category, len(s.categories)),
		txs:        make(map[int64]core.Transaction, len(s.txs)),
		lastID:     s.lastID,
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.categories {
		c.categories[k] = v
	}
	for k, v := range s.txs {
		c.txs[k] = v
	}
	return c
}

// CreateAccount adds an account with an opening balance.
func (s *Store) CreateAccount(_ context.Context, a core.Account) (core.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.lastID.account++
	a.ID = s.st.lastID.account
	a.Balance = a.Balance.Round(core.AmountPlaces)
	s.st.accounts[a.ID] = a
	return a, nil
}

func (s *Store) CreateCategory(_ context.Context, c core.Category) (core.Category, error) {
	if !c.Type.IsValid() {
		return core.Category{}, core.ErrInvalidMovementType
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.lastID.category++
	c.ID = s.st.lastID.category
	s.st.categories[c.ID] = c
	return c, nil
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.st.clone()
	if err := fn(&tx{st: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) ListAccounts(_ context.Context, userID int64) ([]core.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Account, 0)
	for _, a := range s.st.accounts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) FindAccount(_ context.Context, accountID, userID int64) (core.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.st.accounts[accountID]
	if !ok || a.UserID != userID {
		return core.Account{}, core.ErrNotFound
	}
	return a, nil
}

func (s *Store) ListCategories(_ context.Context, userID int64, t core.MovementType) ([]core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Category, 0)
	for _, c := range s.st.categories {
		if c.UserID == userID && c.Type == t {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) FindCategory(_ context.Context, categoryID, userID int64) (core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.st.categories[categoryID]
	if !ok || c.UserID != userID {
		return core.Category{}, core.ErrNotFound
	}
	return c, nil
}

func (s *Store) ListByAccount(_ context.Context, userID, accountID int64, r core.DateRange) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.list(func(t core.Transaction) bool {
		return t.UserID == userID && t.AccountID == accountID && r.Contains(t.Date)
	}), nil
}

func (s *Store) ListByUser(_ context.Context, userID int64, r core.DateRange) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.list(func(t core.Transaction) bool {
		return t.UserID == userID && r.Contains(t.Date)
	}), nil
}

// list returns matching transactions newest first, ties broken by ID.
func (s *state) list(keep func(core.Transaction) bool) []core.Transaction {
	out := make([]core.Transaction, 0)
	for _, t := range s.txs {
		if keep(t) {
			out = append(out, s.withType(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date.Time) {
			return out[i].Date.After(out[j].Date.Time)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (s *state) withType(t core.Transaction) core.Transaction {
	t.Type = s.categories[t.CategoryID].Type
	return t
}

// AllAccounts returns every account of every user, by ID.
func (s *Store) AllAccounts(_ context.Context) ([]core.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Account, 0, len(s.st.accounts))
	for _, a := range s.st.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) AuditAccount(_ context.Context, accountID int64) (core.BalanceAudit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.audit(accountID)
}

// RepairAccount overwrites the cached balance with the ledger sum and
// returns the audit taken before the repair.
func (s *Store) RepairAccount(_ context.Context, accountID int64) (core.BalanceAudit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, err := s.st.audit(accountID)
	if err != nil {
		return core.BalanceAudit{}, err
	}
	acc := s.st.accounts[accountID]
	acc.Balance = a.Expected
	s.st.accounts[accountID] = acc
	return a, nil
}

func (s *state) audit(accountID int64) (core.BalanceAudit, error) {
	a, ok := s.accounts[accountID]
	if !ok {
		return core.BalanceAudit{}, core.ErrNotFound
	}
	sum := decimal.Zero
	for _, t := range s.txs {
		if t.AccountID == accountID {
			sum = sum.Add(t.Amount)
		}
	}
	return core.BalanceAudit{AccountID: a.ID, UserID: a.UserID, Balance: a.Balance, Expected: sum}, nil
}

// tx is the unit-of-work view over a private copy of the state.
type tx struct {
	st *state
}

func (t *tx) GetTransaction(_ context.Context, id, userID int64) (core.Transaction, error) {
	row, ok := t.st.txs[id]
	if !ok || row.UserID != userID {
		return core.Transaction{}, core.ErrNotFound
	}
	return t.st.withType(row), nil
}

func (t *tx) InsertTransaction(_ context.Context, row core.Transaction) (int64, error) {
	if err := t.checkRefs(row); err != nil {
		return 0, err
	}
	t.st.lastID.tx++
	row.ID = t.st.lastID.tx
	row.Type = ""
	t.st.txs[row.ID] = row
	return row.ID, nil
}

func (t *tx) UpdateTransaction(_ context.Context, row core.Transaction) error {
	cur, ok := t.st.txs[row.ID]
	if !ok || cur.UserID != row.UserID {
		return core.ErrNotFound
	}
	if err := t.checkRefs(row); err != nil {
		return err
	}
	row.Type = ""
	t.st.txs[row.ID] = row
	return nil
}

func (t *tx) DeleteTransaction(_ context.Context, id, userID int64) error {
	cur, ok := t.st.txs[id]
	if !ok || cur.UserID != userID {
		return core.ErrNotFound
	}
	delete(t.st.txs, id)
	return nil
}

func (t *tx) AddToBalance(_ context.Context, accountID, userID int64, delta decimal.Decimal) error {
	a, ok := t.st.accounts[accountID]
	if !ok || a.UserID != userID {
		return core.ErrNotFound
	}
	a.Balance = a.Balance.Add(delta)
	t.st.accounts[accountID] = a
	return nil
}

var errForeignReference = errors.New("transaction references a row of another user")

// checkRefs mirrors the foreign keys of the SQL schema.
func (t *tx) checkRefs(row core.Transaction) error {
	a, ok := t.st.accounts[row.AccountID]
	if !ok {
		return core.ErrNotFound
	}
	c, ok := t.st.categories[row.CategoryID]
	if !ok {
		return core.ErrNotFound
	}
	if a.UserID != row.UserID || c.UserID != row.UserID {
		return errForeignReference
	}
	return nil
}
