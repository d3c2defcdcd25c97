package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"budget/internal/core"
)

const maxBodyBytes = 1 << 20

// errMalformedRequest marks bodies and parameters that cannot be decoded at
// all, as opposed to decoded values that fail domain validation.
var errMalformedRequest = errors.New("malformed request")

// transactionRequest is the JSON body of create and edit requests. Amount
// accepts both "12.34" and 12.34.
type transactionRequest struct {
	AccountID  int64           `json:"account_id"`
	CategoryID int64           `json:"category_id"`
	Type       string          `json:"type,omitempty"`
	Amount     json.RawMessage `json:"amount"`
	Date       string          `json:"date"`
	Note       string          `json:"note,omitempty"`
}

type categoriesByTypeRequest struct {
	Type string `json:"type"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errMalformedRequest, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: trailing data after JSON body", errMalformedRequest)
	}
	return nil
}

// parseTransactionInput decodes and validates a create or edit body. Every
// check here runs before the ledger is consulted.
func parseTransactionInput(w http.ResponseWriter, r *http.Request) (core.TransactionInput, error) {
	var req transactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return core.TransactionInput{}, err
	}

	amount, err := parseAmountField(req.Amount)
	if err != nil {
		return core.TransactionInput{}, err
	}
	date, err := core.ParseDate(strings.TrimSpace(req.Date))
	if err != nil {
		return core.TransactionInput{}, err
	}
	in := core.TransactionInput{
		AccountID:  req.AccountID,
		CategoryID: req.CategoryID,
		Amount:     amount,
		Date:       date,
		Note:       sanitizeInput(req.Note),
	}
	if strings.TrimSpace(req.Type) != "" {
		if in.Type, err = core.ParseMovementType(req.Type); err != nil {
			return core.TransactionInput{}, err
		}
	}
	return in, in.Validate()
}

func parseAmountField(raw json.RawMessage) (decimal.Decimal, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return decimal.Zero, core.ErrInvalidAmount
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return decimal.Zero, core.ErrInvalidAmount
		}
		return core.ParseAmount(s)
	}
	return core.ParseAmount(string(raw))
}

// parseDateRange reads the optional from and to query parameters.
func parseDateRange(r *http.Request) (core.DateRange, error) {
	var dr core.DateRange
	q := r.URL.Query()
	for _, p := range []struct {
		name string
		dst  *core.Date
	}{{"from", &dr.From}, {"to", &dr.To}} {
		v := strings.TrimSpace(q.Get(p.name))
		if v == "" {
			continue
		}
		d, err := core.ParseDate(v)
		if err != nil {
			return core.DateRange{}, fmt.Errorf("%s: %w", p.name, err)
		}
		*p.dst = d
	}
	return dr, dr.Validate()
}

// pathID parses a numeric route parameter. Non-numeric IDs cannot name any
// row, so they are reported as not found.
func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%s %q: %w", name, chi.URLParam(r, name), core.ErrNotFound)
	}
	return id, nil
}

// sanitizeInput removes control characters other than tab and newlines and
// trims whitespace.
func sanitizeInput(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}
