package amqp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"budget/internal/core"
)

// LedgerEventMessage is the wire form of core.LedgerEvent. It carries IDs
// only; consumers read current state from the ledger.
type LedgerEventMessage struct {
	ID            string         `json:"id"`
	Kind          core.EventKind `json:"kind"`
	UserID        int64          `json:"user_id"`
	TransactionID int64          `json:"transaction_id"`
	AccountIDs    []int64        `json:"account_ids"`
	OccurredAt    time.Time      `json:"occurred_at"`
}

var errInvalidMessage = errors.New("invalid ledger event message")

func NewLedgerEventMessage(e core.LedgerEvent) *LedgerEventMessage {
	return &LedgerEventMessage{
		ID:            e.ID,
		Kind:          e.Kind,
		UserID:        e.UserID,
		TransactionID: e.TransactionID,
		AccountIDs:    append([]int64(nil), e.AccountIDs...),
		OccurredAt:    e.OccurredAt,
	}
}

// Event converts the message back to the domain event.
func (m *LedgerEventMessage) Event() core.LedgerEvent {
	return core.LedgerEvent{
		ID:            m.ID,
		Kind:          m.Kind,
		UserID:        m.UserID,
		TransactionID: m.TransactionID,
		AccountIDs:    append([]int64(nil), m.AccountIDs...),
		OccurredAt:    m.OccurredAt,
	}
}

func (m *LedgerEventMessage) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("%w: missing id", errInvalidMessage)
	}
	switch m.Kind {
	case core.EventCreated, core.EventUpdated, core.EventDeleted:
	default:
		return fmt.Errorf("%w: unknown kind %q", errInvalidMessage, m.Kind)
	}
	if len(m.AccountIDs) == 0 {
		return fmt.Errorf("%w: no accounts", errInvalidMessage)
	}
	return nil
}

// ToJSON converts the message to JSON bytes
func (m *LedgerEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// LedgerEventMessageFromJSON decodes and validates a message.
func LedgerEventMessageFromJSON(data []byte) (*LedgerEventMessage, error) {
	var msg LedgerEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}
