package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Income  MovementType = "income"
	Expense MovementType = "expense"
)

const maxNoteLength = 500

type (
	MovementType string

	Date struct {
		time.Time
	}

	Account struct {
		ID      int64
		UserID  int64
		Name    string
		Balance decimal.Decimal // maintained only by the ledger reconciler
	}

	Category struct {
		ID     int64
		UserID int64
		Name   string
		Type   MovementType
	}

	// Transaction is a ledger row. Type is derived from the category on read
	// and is never stored on the row itself.
	Transaction struct {
		ID         int64
		UserID     int64
		AccountID  int64
		CategoryID int64
		Type       MovementType
		Amount     decimal.Decimal // signed: expenses negative, incomes positive
		Date       Date
		Note       string
	}

	// TransactionInput is what a user submits to create or edit a transaction.
	// Amount is the positive magnitude; the sign comes from the category.
	TransactionInput struct {
		AccountID  int64
		CategoryID int64
		Type       MovementType // optional; must match the category when set
		Amount     decimal.Decimal
		Date       Date
		Note       string
	}

	// DateRange bounds listings. A zero From or To leaves that side open.
	DateRange struct {
		From Date
		To   Date
	}
)

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidAmount = errors.New("invalid amount")
	ErrPersistence   = errors.New("persistence failure")

	// ErrConflict means the row changed between the read that captured the
	// previous state of an edit and the write that reconciles it.
	ErrConflict = fmt.Errorf("%w: transaction changed concurrently", ErrPersistence)

	ErrEmptyDate           = errors.New("date cannot be zero")
	ErrInvalidDate         = errors.New("invalid date, expected YYYY-MM-DD")
	ErrMissingAccount      = errors.New("account is required")
	ErrMissingCategory     = errors.New("category is required")
	ErrNoteTooLong         = fmt.Errorf("note too long (max %d characters)", maxNoteLength)
	ErrInvalidMovementType = errors.New("invalid movement type")
	ErrTypeMismatch        = errors.New("movement type does not match category")
	ErrInvalidDateRange    = errors.New("date range start is after its end")
)

// IsValidation reports whether err is a user-correctable input error.
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrInvalidAmount, ErrEmptyDate, ErrInvalidDate,
		ErrMissingAccount, ErrMissingCategory, ErrNoteTooLong,
		ErrInvalidMovementType, ErrTypeMismatch, ErrInvalidDateRange,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// ParseMovementType accepts "income" or "expense" in any case.
func ParseMovementType(s string) (MovementType, error) {
	t := MovementType(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", ErrInvalidMovementType
	}
	return t, nil
}

func (t MovementType) IsValid() bool {
	return t == Income || t == Expense
}

func (t MovementType) String() string {
	return string(t)
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrEmptyDate
	}
	return nil
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, ErrInvalidDate)
	}
	return Date{Time: t}, nil
}

// DateLayout is the wire and storage format of a Date.
const DateLayout = "2006-01-02"

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

func (r DateRange) Validate() error {
	if !r.From.IsZero() && !r.To.IsZero() && r.From.After(r.To.Time) {
		return ErrInvalidDateRange
	}
	return nil
}

// Contains reports whether d falls inside the range, bounds inclusive.
func (r DateRange) Contains(d Date) bool {
	if !r.From.IsZero() && d.Before(r.From.Time) {
		return false
	}
	if !r.To.IsZero() && d.After(r.To.Time) {
		return false
	}
	return true
}

func (in TransactionInput) Validate() error {
	if in.AccountID <= 0 {
		return ErrMissingAccount
	}
	if in.CategoryID <= 0 {
		return ErrMissingCategory
	}
	if in.Type != "" && !in.Type.IsValid() {
		return ErrInvalidMovementType
	}
	if !in.Amount.IsPositive() || !HasAmountScale(in.Amount) {
		return ErrInvalidAmount
	}
	if err := in.Date.Validate(); err != nil {
		return err
	}
	if len(in.Note) > maxNoteLength {
		return ErrNoteTooLong
	}
	return nil
}
