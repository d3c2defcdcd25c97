package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"

	"budget/internal/core"
	"budget/internal/ledger"
	applog "budget/internal/log"
)

// Repository is the SQL ledger backend. It serves SQLite and Postgres from
// the same statements.
type Repository struct {
	db      *sql.DB
	dialect Dialect
	queries queries
}

var _ ledger.Backend = (*Repository)(nil)

func NewSQLiteRepository(dbPath string) (*Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	return open(context.Background(), SQLite, SQLiteDSN(dbPath))
}

func NewPostgresRepository(ctx context.Context, dsn string) (*Repository, error) {
	return open(ctx, Postgres, dsn)
}

func open(ctx context.Context, d Dialect, dsn string) (*Repository, error) {
	db, err := sql.Open(d.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", d, err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// Run migrations
	if err := RunMigrations(d, dsn); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	slog.Info("Ledger database ready",
		applog.FieldComponent, applog.ComponentStorage,
		"dialect", string(d))

	return &Repository{db: db, dialect: d, queries: queries{q: db, d: d}}, nil
}

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// WithinTx runs fn in one database transaction, committing only when fn
// returns nil.
func (r *Repository) WithinTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&tx{queries: queries{q: sqlTx, d: r.dialect}}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			slog.ErrorContext(ctx, "Rollback failed",
				applog.FieldComponent, applog.ComponentStorage,
				applog.FieldError, rbErr)
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (r *Repository) ListAccounts(ctx context.Context, userID int64) ([]core.Account, error) {
	return r.queries.listAccounts(ctx, "user_id = ?", userID)
}

func (r *Repository) FindAccount(ctx context.Context, accountID, userID int64) (core.Account, error) {
	return r.queries.findAccount(ctx, accountID, userID)
}

func (r *Repository) ListCategories(ctx context.Context, userID int64, t core.MovementType) ([]core.Category, error) {
	return r.queries.listCategories(ctx, userID, t)
}

func (r *Repository) FindCategory(ctx context.Context, categoryID, userID int64) (core.Category, error) {
	return r.queries.findCategory(ctx, categoryID, userID)
}

func (r *Repository) ListByAccount(ctx context.Context, userID, accountID int64, rng core.DateRange) ([]core.Transaction, error) {
	return r.queries.listTransactions(ctx,
		[]string{"t.user_id = ?", "t.account_id = ?"}, []any{userID, accountID}, rng)
}

func (r *Repository) ListByUser(ctx context.Context, userID int64, rng core.DateRange) ([]core.Transaction, error) {
	return r.queries.listTransactions(ctx, []string{"t.user_id = ?"}, []any{userID}, rng)
}

// CreateAccount inserts an account with its opening balance.
func (r *Repository) CreateAccount(ctx context.Context, a core.Account) (core.Account, error) {
	a.Balance = a.Balance.Round(core.AmountPlaces)
	err := r.queries.queryRow(ctx,
		`INSERT INTO accounts (user_id, name, balance) VALUES (?, ?, ?) RETURNING id`,
		a.UserID, a.Name, core.FormatAmount(a.Balance),
	).Scan(&a.ID)
	if err != nil {
		return core.Account{}, fmt.Errorf("insert account: %w", err)
	}
	return a, nil
}

func (r *Repository) CreateCategory(ctx context.Context, c core.Category) (core.Category, error) {
	if !c.Type.IsValid() {
		return core.Category{}, core.ErrInvalidMovementType
	}
	err := r.queries.queryRow(ctx,
		`INSERT INTO categories (user_id, name, type) VALUES (?, ?, ?) RETURNING id`,
		c.UserID, c.Name, string(c.Type),
	).Scan(&c.ID)
	if err != nil {
		return core.Category{}, fmt.Errorf("insert category: %w", err)
	}
	return c, nil
}

// AllAccounts lists every account of every user, by ID.
func (r *Repository) AllAccounts(ctx context.Context) ([]core.Account, error) {
	return r.queries.listAccounts(ctx, "")
}

// AuditAccount compares the cached balance with the ledger sum inside one
// transaction, so no write can land between the two reads.
func (r *Repository) AuditAccount(ctx context.Context, accountID int64) (core.BalanceAudit, error) {
	var a core.BalanceAudit
	err := r.inTx(ctx, func(q queries) error {
		var err error
		a, err = q.audit(ctx, accountID)
		return err
	})
	return a, err
}

// RepairAccount sets the cached balance to the ledger sum and returns the
// audit taken before the write.
func (r *Repository) RepairAccount(ctx context.Context, accountID int64) (core.BalanceAudit, error) {
	var a core.BalanceAudit
	err := r.inTx(ctx, func(q queries) error {
		var err error
		if a, err = q.audit(ctx, accountID); err != nil {
			return err
		}
		if a.Consistent() {
			return nil
		}
		return q.setBalance(ctx, accountID, a.Expected)
	})
	return a, err
}

func (r *Repository) inTx(ctx context.Context, fn func(q queries) error) error {
	return r.WithinTx(ctx, func(t ledger.Tx) error {
		return fn(t.(*tx).queries)
	})
}

// tx implements ledger.Tx over a database transaction.
type tx struct {
	queries queries
}

func (t *tx) GetTransaction(ctx context.Context, id, userID int64) (core.Transaction, error) {
	return t.queries.getTransaction(ctx, id, userID, true)
}

func (t *tx) InsertTransaction(ctx context.Context, row core.Transaction) (int64, error) {
	return t.queries.insertTransaction(ctx, row)
}

func (t *tx) UpdateTransaction(ctx context.Context, row core.Transaction) error {
	return t.queries.updateTransaction(ctx, row)
}

func (t *tx) DeleteTransaction(ctx context.Context, id, userID int64) error {
	return t.queries.deleteTransaction(ctx, id, userID)
}

func (t *tx) AddToBalance(ctx context.Context, accountID, userID int64, delta decimal.Decimal) error {
	return t.queries.addToBalance(ctx, accountID, userID, delta)
}
