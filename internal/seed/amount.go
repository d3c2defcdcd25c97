package seed

import (
	"strings"

	"github.com/shopspring/decimal"

	"budget/internal/core"
)

// parseSigned accepts an opening balance that may be negative (overdrawn).
func parseSigned(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	if strings.Trim(s, "0.,") == "" && s != "" {
		return decimal.Zero, nil
	}
	d, err := core.ParseAmount(s)
	if err != nil {
		return decimal.Zero, err
	}
	if neg {
		d = d.Neg()
	}
	return d, nil
}
