package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"budget/internal/core"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries holds every statement of the package, written with ? placeholders
// and rebound per dialect.
type queries struct {
	q querier
	d Dialect
}

const transactionColumns = `t.id, t.user_id, t.account_id, t.category_id, c.type, t.amount, t.date, t.note`

const transactionFrom = ` FROM transactions t JOIN categories c ON c.id = t.category_id`

func (q queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return q.q.ExecContext(ctx, q.d.rebind(query), args...)
}

func (q queries) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return q.q.QueryContext(ctx, q.d.rebind(query), args...)
}

func (q queries) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return q.q.QueryRowContext(ctx, q.d.rebind(query), args...)
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return core.ErrNotFound
	}
	return err
}

// dateValue scans DATE columns (time.Time from Postgres) and TEXT columns
// (YYYY-MM-DD from SQLite) alike.
type dateValue struct {
	core.Date
}

func (v *dateValue) Scan(src any) error {
	switch s := src.(type) {
	case time.Time:
		v.Date = core.NewDate(s.Year(), int(s.Month()), s.Day())
		return nil
	case string:
		return v.parse(s)
	case []byte:
		return v.parse(string(s))
	default:
		return fmt.Errorf("scan date: unsupported type %T", src)
	}
}

func (v *dateValue) parse(s string) error {
	if len(s) > len(core.DateLayout) {
		s = s[:len(core.DateLayout)]
	}
	d, err := core.ParseDate(s)
	if err != nil {
		return err
	}
	v.Date = d
	return nil
}

func scanTransaction(row interface{ Scan(...any) error }) (core.Transaction, error) {
	var (
		t    core.Transaction
		kind string
		date dateValue
	)
	if err := row.Scan(&t.ID, &t.UserID, &t.AccountID, &t.CategoryID, &kind, &t.Amount, &date, &t.Note); err != nil {
		return core.Transaction{}, err
	}
	t.Type = core.MovementType(kind)
	t.Date = date.Date
	return t, nil
}

func (q queries) getTransaction(ctx context.Context, id, userID int64, lock bool) (core.Transaction, error) {
	query := `SELECT ` + transactionColumns + transactionFrom + ` WHERE t.id = ? AND t.user_id = ?`
	if lock {
		// FOR UPDATE OF t: the category row is only read.
		if suffix := q.d.lockRow(); suffix != "" {
			query += suffix + " OF t"
		}
	}
	t, err := scanTransaction(q.queryRow(ctx, query, id, userID))
	if err != nil {
		return core.Transaction{}, notFound(err)
	}
	return t, nil
}

func (q queries) listTransactions(ctx context.Context, where []string, args []any, r core.DateRange) ([]core.Transaction, error) {
	if !r.From.IsZero() {
		where = append(where, "t.date >= ?")
		args = append(args, r.From.String())
	}
	if !r.To.IsZero() {
		where = append(where, "t.date <= ?")
		args = append(args, r.To.String())
	}
	query := `SELECT ` + transactionColumns + transactionFrom +
		` WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY t.date DESC, t.id DESC`

	rows, err := q.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]core.Transaction, 0)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// owned reports whether table holds row id belonging to userID.
func (q queries) owned(ctx context.Context, table string, id, userID int64) error {
	var one int
	err := q.queryRow(ctx, `SELECT 1 FROM `+table+` WHERE id = ? AND user_id = ?`, id, userID).Scan(&one)
	return notFound(err)
}

func (q queries) checkReferences(ctx context.Context, t core.Transaction) error {
	if err := q.owned(ctx, "accounts", t.AccountID, t.UserID); err != nil {
		return fmt.Errorf("account %d: %w", t.AccountID, err)
	}
	if err := q.owned(ctx, "categories", t.CategoryID, t.UserID); err != nil {
		return fmt.Errorf("category %d: %w", t.CategoryID, err)
	}
	return nil
}

func (q queries) insertTransaction(ctx context.Context, t core.Transaction) (int64, error) {
	if err := q.checkReferences(ctx, t); err != nil {
		return 0, err
	}
	var id int64
	err := q.queryRow(ctx,
		`INSERT INTO transactions (user_id, account_id, category_id, amount, date, note)
		 VALUES (?, ?, ?, ?, ?, ?) RETURNING id`,
		t.UserID, t.AccountID, t.CategoryID, core.FormatAmount(t.Amount), t.Date.String(), t.Note,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (q queries) updateTransaction(ctx context.Context, t core.Transaction) error {
	if err := q.checkReferences(ctx, t); err != nil {
		return err
	}
	res, err := q.exec(ctx,
		`UPDATE transactions
		 SET account_id = ?, category_id = ?, amount = ?, date = ?, note = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND user_id = ?`,
		t.AccountID, t.CategoryID, core.FormatAmount(t.Amount), t.Date.String(), t.Note, t.ID, t.UserID,
	)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (q queries) deleteTransaction(ctx context.Context, id, userID int64) error {
	res, err := q.exec(ctx, `DELETE FROM transactions WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

// addToBalance reads, adds and writes back in decimal arithmetic, since
// SQLite keeps balances as text.
func (q queries) addToBalance(ctx context.Context, accountID, userID int64, delta decimal.Decimal) error {
	var balance decimal.Decimal
	err := q.queryRow(ctx,
		`SELECT balance FROM accounts WHERE id = ? AND user_id = ?`+q.d.lockRow(),
		accountID, userID,
	).Scan(&balance)
	if err != nil {
		return notFound(err)
	}
	return q.setBalance(ctx, accountID, balance.Add(delta))
}

func (q queries) setBalance(ctx context.Context, accountID int64, balance decimal.Decimal) error {
	res, err := q.exec(ctx, `UPDATE accounts SET balance = ? WHERE id = ?`, core.FormatAmount(balance), accountID)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func scanAccount(row interface{ Scan(...any) error }) (core.Account, error) {
	var a core.Account
	err := row.Scan(&a.ID, &a.UserID, &a.Name, &a.Balance)
	return a, err
}

func (q queries) listAccounts(ctx context.Context, where string, args ...any) ([]core.Account, error) {
	query := `SELECT id, user_id, name, balance FROM accounts`
	order := ` ORDER BY name, id`
	if where == "" {
		order = ` ORDER BY id`
	} else {
		query += ` WHERE ` + where
	}
	rows, err := q.query(ctx, query+order, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]core.Account, 0)
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (q queries) findAccount(ctx context.Context, accountID, userID int64) (core.Account, error) {
	a, err := scanAccount(q.queryRow(ctx,
		`SELECT id, user_id, name, balance FROM accounts WHERE id = ? AND user_id = ?`, accountID, userID))
	if err != nil {
		return core.Account{}, notFound(err)
	}
	return a, nil
}

func scanCategory(row interface{ Scan(...any) error }) (core.Category, error) {
	var (
		c    core.Category
		kind string
	)
	if err := row.Scan(&c.ID, &c.UserID, &c.Name, &kind); err != nil {
		return core.Category{}, err
	}
	c.Type = core.MovementType(kind)
	return c, nil
}

func (q queries) listCategories(ctx context.Context, userID int64, t core.MovementType) ([]core.Category, error) {
	rows, err := q.query(ctx,
		`SELECT id, user_id, name, type FROM categories WHERE user_id = ? AND type = ? ORDER BY name, id`,
		userID, string(t))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]core.Category, 0)
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (q queries) findCategory(ctx context.Context, categoryID, userID int64) (core.Category, error) {
	c, err := scanCategory(q.queryRow(ctx,
		`SELECT id, user_id, name, type FROM categories WHERE id = ? AND user_id = ?`, categoryID, userID))
	if err != nil {
		return core.Category{}, notFound(err)
	}
	return c, nil
}

// audit reads an account's cached balance and sums its ledger in Go, so
// text amounts in SQLite are added exactly.
func (q queries) audit(ctx context.Context, accountID int64) (core.BalanceAudit, error) {
	var a core.BalanceAudit
	err := q.queryRow(ctx,
		`SELECT id, user_id, balance FROM accounts WHERE id = ?`+q.d.lockRow(), accountID,
	).Scan(&a.AccountID, &a.UserID, &a.Balance)
	if err != nil {
		return core.BalanceAudit{}, notFound(err)
	}

	rows, err := q.query(ctx, `SELECT amount FROM transactions WHERE account_id = ?`, accountID)
	if err != nil {
		return core.BalanceAudit{}, err
	}
	defer rows.Close()

	a.Expected = decimal.Zero
	for rows.Next() {
		var amount decimal.Decimal
		if err := rows.Scan(&amount); err != nil {
			return core.BalanceAudit{}, fmt.Errorf("scan amount: %w", err)
		}
		a.Expected = a.Expected.Add(amount)
	}
	return a, rows.Err()
}
