package core

import "github.com/shopspring/decimal"

// BalanceAudit compares an account's cached balance with the signed sum of
// its transactions, both read in one unit of work.
type BalanceAudit struct {
	AccountID int64
	UserID    int64
	Balance   decimal.Decimal
	Expected  decimal.Decimal
}

// Drift is how far the cached balance is off; positive means it is too high.
func (a BalanceAudit) Drift() decimal.Decimal {
	return a.Balance.Sub(a.Expected)
}

func (a BalanceAudit) Consistent() bool {
	return a.Balance.Equal(a.Expected)
}
