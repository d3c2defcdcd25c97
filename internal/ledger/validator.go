package ledger

import (
	"context"
	"fmt"

	"budget/internal/core"
)

// Validator confirms that referenced accounts and categories belong to the
// requesting user. Absent and foreign resources both yield core.ErrNotFound.
type Validator struct {
	accounts   AccountDirectory
	categories CategoryDirectory
}

func NewValidator(accounts AccountDirectory, categories CategoryDirectory) *Validator {
	return &Validator{accounts: accounts, categories: categories}
}

func (v *Validator) ValidateAccount(ctx context.Context, accountID, userID int64) (core.Account, error) {
	a, err := v.accounts.FindAccount(ctx, accountID, userID)
	if err != nil {
		return core.Account{}, storeError(fmt.Sprintf("account %d", accountID), err)
	}
	return a, nil
}

func (v *Validator) ValidateCategory(ctx context.Context, categoryID, userID int64) (core.Category, error) {
	c, err := v.categories.FindCategory(ctx, categoryID, userID)
	if err != nil {
		return core.Category{}, storeError(fmt.Sprintf("category %d", categoryID), err)
	}
	return c, nil
}

// ValidateReferences checks both references of in, account first.
func (v *Validator) ValidateReferences(ctx context.Context, in core.TransactionInput, userID int64) (core.Account, core.Category, error) {
	account, err := v.ValidateAccount(ctx, in.AccountID, userID)
	if err != nil {
		return core.Account{}, core.Category{}, err
	}
	category, err := v.ValidateCategory(ctx, in.CategoryID, userID)
	if err != nil {
		return core.Account{}, core.Category{}, err
	}
	if in.Type != "" && in.Type != category.Type {
		return core.Account{}, core.Category{}, fmt.Errorf("category %d is %s: %w", category.ID, category.Type, core.ErrTypeMismatch)
	}
	return account, category, nil
}
