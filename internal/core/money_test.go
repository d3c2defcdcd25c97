package core

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in  string
		out string
		ok  bool
	}{
		{"1", "1.00", true},
		{"1.0", "1.00", true},
		{"1.23", "1.23", true},
		{"1,23", "1.23", true},
		{"0.01", "0.01", true},
		{".5", "0.50", true},
		{"1.005", "1.01", true}, // half-up rounding
		{" 2.50 ", "2.50", true},
		{"-1", "", false},
		{"+1", "", false},
		{"0", "", false},
		{"0.001", "", false}, // rounds to zero
		{"1e3", "", false},
		{"abc", "", false},
		{"1.2.3", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if tc.ok {
			if err != nil || FormatAmount(got) != tc.out {
				t.Fatalf("%q expected %s, got %s (err=%v)", tc.in, tc.out, FormatAmount(got), err)
			}
		} else if !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("%q expected ErrInvalidAmount, got %v", tc.in, err)
		}
	}
}

func TestNormalize(t *testing.T) {
	thirty := decimal.NewFromInt(30)

	got, err := Normalize(thirty, Expense)
	if err != nil || !got.Equal(decimal.NewFromInt(-30)) {
		t.Fatalf("expense: got %s, %v", got, err)
	}
	got, err = Normalize(thirty, Income)
	if err != nil || !got.Equal(thirty) {
		t.Fatalf("income: got %s, %v", got, err)
	}

	got, err = Normalize(decimal.RequireFromString("12.500"), Expense)
	if err != nil || got.String() != "-12.5" {
		t.Fatalf("trailing zeros: got %s, %v", got, err)
	}

	for _, bad := range []decimal.Decimal{decimal.Zero, decimal.NewFromInt(-1), decimal.RequireFromString("0.015")} {
		if _, err := Normalize(bad, Expense); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("%s: expected ErrInvalidAmount, got %v", bad, err)
		}
	}
	if _, err := Normalize(thirty, MovementType("transfer")); !errors.Is(err, ErrInvalidMovementType) {
		t.Fatalf("expected ErrInvalidMovementType, got %v", err)
	}
}

func TestNormalizeSignLaw(t *testing.T) {
	for _, s := range []string{"0.01", "1", "99.99", "123456.78"} {
		m := decimal.RequireFromString(s)
		exp, _ := Normalize(m, Expense)
		inc, _ := Normalize(m, Income)
		if !exp.IsNegative() || !inc.IsPositive() {
			t.Fatalf("%s: expense=%s income=%s", s, exp, inc)
		}
		if !exp.Abs().Equal(m) || !inc.Equal(m) {
			t.Fatalf("%s: magnitude not preserved", s)
		}
	}
}

func TestHasAmountScale(t *testing.T) {
	cases := map[string]bool{
		"1":      true,
		"0.01":   true,
		"1.500":  true,
		"0.015":  false,
		"9.9999": false,
	}
	for in, want := range cases {
		if got := HasAmountScale(decimal.RequireFromString(in)); got != want {
			t.Errorf("HasAmountScale(%s) = %v, want %v", in, got, want)
		}
	}
}
