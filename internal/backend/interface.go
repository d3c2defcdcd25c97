package backend

import (
	"context"

	"budget/internal/amqp"
	"budget/internal/ledger"
	"budget/internal/seed"
	"budget/internal/worker"
)

// Store is everything the binaries need from a storage backend: the ledger
// ports, seeding and balance verification.
type Store interface {
	ledger.Backend
	seed.Target
	worker.Ledger
}

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult bundles a ready ledger service with the store behind it.
// AMQP is nil when no broker is configured or it could not be reached.
type BackendResult struct {
	Store   Store
	Service *ledger.Service
	AMQP    *amqp.Client
	Cleanup CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	SQLiteDBPath string
	PostgresDSN  string

	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// LegacyDelete keeps balances untouched on delete.
	LegacyDelete bool
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend   BackendType = "sqlite"
	PostgresBackend BackendType = "postgres"
	MemoryBackend   BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, PostgresBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
