package core

import "time"

const (
	EventCreated EventKind = "transaction.created"
	EventUpdated EventKind = "transaction.updated"
	EventDeleted EventKind = "transaction.deleted"
)

type EventKind string

// LedgerEvent announces a committed ledger mutation. AccountIDs lists every
// account whose balance the mutation touched.
type LedgerEvent struct {
	ID            string
	Kind          EventKind
	UserID        int64
	TransactionID int64
	AccountIDs    []int64
	OccurredAt    time.Time
}
