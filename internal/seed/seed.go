// Package seed loads accounts and categories from a YAML fixture file.
package seed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"budget/internal/core"
	"budget/internal/ledger"
	applog "budget/internal/log"
)

// OpeningBalanceCategory names the categories that carry opening balances
// into the ledger.
const OpeningBalanceCategory = "Opening balance"

type Fixtures struct {
	Users []User `yaml:"users"`
}

type User struct {
	ID         int64      `yaml:"id"`
	Accounts   []Account  `yaml:"accounts"`
	Categories []Category `yaml:"categories"`
}

type Account struct {
	Name           string `yaml:"name"`
	OpeningBalance string `yaml:"opening_balance"`
	OpenedOn       string `yaml:"opened_on"`
}

type Category struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// Target receives seeded rows; both storage backends implement it.
type Target interface {
	CreateAccount(ctx context.Context, a core.Account) (core.Account, error)
	CreateCategory(ctx context.Context, c core.Category) (core.Category, error)
	ListAccounts(ctx context.Context, userID int64) ([]core.Account, error)
	ListCategories(ctx context.Context, userID int64, t core.MovementType) ([]core.Category, error)
}

type Summary struct {
	Accounts     int
	Categories   int
	Transactions int
}

func Load(path string) (Fixtures, error) {
	f, err := os.Open(path)
	if err != nil {
		return Fixtures{}, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

func Parse(r io.Reader) (Fixtures, error) {
	var fx Fixtures
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&fx); err != nil && err != io.EOF {
		return Fixtures{}, fmt.Errorf("decode seed file: %w", err)
	}
	if err := fx.Validate(); err != nil {
		return Fixtures{}, err
	}
	return fx, nil
}

func (fx Fixtures) Validate() error {
	for i, u := range fx.Users {
		if u.ID <= 0 {
			return fmt.Errorf("user %d: id must be positive", i)
		}
		for _, a := range u.Accounts {
			if a.Name == "" {
				return fmt.Errorf("user %d: account name is required", u.ID)
			}
			if a.OpeningBalance != "" {
				if _, err := parseSigned(a.OpeningBalance); err != nil {
					return fmt.Errorf("user %d: account %q: %w", u.ID, a.Name, err)
				}
			}
			if a.OpenedOn != "" {
				if _, err := core.ParseDate(a.OpenedOn); err != nil {
					return fmt.Errorf("user %d: account %q: %w", u.ID, a.Name, err)
				}
			}
		}
		for _, c := range u.Categories {
			if c.Name == "" {
				return fmt.Errorf("user %d: category name is required", u.ID)
			}
			if _, err := core.ParseMovementType(c.Type); err != nil {
				return fmt.Errorf("user %d: category %q: %w", u.ID, c.Name, err)
			}
		}
	}
	return nil
}

// Apply creates the fixtures in target. Accounts start at zero and any
// opening balance is recorded through svc as a ledger transaction, so the
// balance always matches the ledger.
//
// Rows are matched by user and name, and existing ones are left alone. An
// account that exists without its opening transaction gets one. Re-running
// Apply after a partial failure therefore completes the seed without
// duplicating anything.
func Apply(ctx context.Context, target Target, svc *ledger.Service, fx Fixtures, today core.Date) (Summary, error) {
	var s Summary
	for _, u := range fx.Users {
		existing, err := existingRows(ctx, target, u.ID)
		if err != nil {
			return s, err
		}

		category := func(name string, t core.MovementType) (core.Category, error) {
			if c, ok := existing.categories[categoryKey{name, t}]; ok {
				return c, nil
			}
			c, err := target.CreateCategory(ctx, core.Category{UserID: u.ID, Name: name, Type: t})
			if err != nil {
				return core.Category{}, fmt.Errorf("create category %q: %w", name, err)
			}
			existing.categories[categoryKey{name, t}] = c
			s.Categories++
			return c, nil
		}

		for _, c := range u.Categories {
			t, _ := core.ParseMovementType(c.Type)
			if _, err := category(c.Name, t); err != nil {
				return s, err
			}
		}

		for _, a := range u.Accounts {
			acc, found := existing.accounts[a.Name]
			if !found {
				acc, err = target.CreateAccount(ctx, core.Account{UserID: u.ID, Name: a.Name})
				if err != nil {
					return s, fmt.Errorf("create account %q: %w", a.Name, err)
				}
				s.Accounts++
			}

			if a.OpeningBalance == "" {
				continue
			}
			amount, _ := parseSigned(a.OpeningBalance)
			if amount.IsZero() {
				continue
			}
			if found {
				recorded, err := hasOpeningTransaction(ctx, svc, u.ID, acc.ID)
				if err != nil {
					return s, err
				}
				if recorded {
					continue
				}
			}

			kind := core.Income
			if amount.IsNegative() {
				kind = core.Expense
			}
			cat, err := category(OpeningBalanceCategory, kind)
			if err != nil {
				return s, err
			}

			date := today
			if a.OpenedOn != "" {
				date, _ = core.ParseDate(a.OpenedOn)
			}
			if _, err := svc.CreateTransaction(ctx, u.ID, core.TransactionInput{
				AccountID:  acc.ID,
				CategoryID: cat.ID,
				Amount:     amount.Abs(),
				Date:       date,
				Note:       OpeningBalanceCategory,
			}); err != nil {
				return s, fmt.Errorf("record opening balance of %q: %w", a.Name, err)
			}
			s.Transactions++
		}
	}

	slog.InfoContext(ctx, "Seed fixtures applied",
		applog.FieldComponent, applog.ComponentStorage,
		"accounts", s.Accounts,
		"categories", s.Categories,
		"transactions", s.Transactions)
	return s, nil
}

type categoryKey struct {
	name string
	kind core.MovementType
}

type userRows struct {
	accounts   map[string]core.Account
	categories map[categoryKey]core.Category
}

func existingRows(ctx context.Context, target Target, userID int64) (userRows, error) {
	rows := userRows{
		accounts:   make(map[string]core.Account),
		categories: make(map[categoryKey]core.Category),
	}
	accounts, err := target.ListAccounts(ctx, userID)
	if err != nil {
		return rows, fmt.Errorf("list accounts of user %d: %w", userID, err)
	}
	for _, a := range accounts {
		rows.accounts[a.Name] = a
	}
	for _, t := range []core.MovementType{core.Income, core.Expense} {
		cats, err := target.ListCategories(ctx, userID, t)
		if err != nil {
			return rows, fmt.Errorf("list categories of user %d: %w", userID, err)
		}
		for _, c := range cats {
			rows.categories[categoryKey{c.Name, c.Type}] = c
		}
	}
	return rows, nil
}

func hasOpeningTransaction(ctx context.Context, svc *ledger.Service, userID, accountID int64) (bool, error) {
	txs, err := svc.ListByAccount(ctx, userID, accountID, core.DateRange{})
	if err != nil {
		return false, fmt.Errorf("list transactions of account %d: %w", accountID, err)
	}
	for _, t := range txs {
		if t.Note == OpeningBalanceCategory {
			return true, nil
		}
	}
	return false, nil
}
