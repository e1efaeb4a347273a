/*
txlog.go - Persistence interfaces for balances and the transaction log

PURPOSE:
  Defines the interface between the engine and the database. The
  transaction log is APPEND-ONLY: no Update, no Delete, ever.
  Corrections are new ADJUST transactions.

KEY INTERFACES:
  TransactionStore: Append-only transaction persistence with dedup
  BalanceStore:     Upsertable balance rows
  Store:            Both of the above
  TxStore:          Store plus an atomic multi-write scope

IDEMPOTENCY:
  Every transaction carries a dedup key. Inserting a transaction whose
  dedup key already exists fails with ErrDuplicateTransaction; callers
  treat that as "already applied", not as a failure.

ATOMIC SCOPES:
  WithTx ensures a multi-leg unit (e.g. the two legs of a user-to-office
  return) is persisted all-or-nothing. Partial application must never be
  observable.

IMPLEMENTATIONS:
  - store/sqlite:      Production SQLite store
  - ledger/store:      In-memory store for tests and dev
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// FILTERS
// =============================================================================

// TransactionFilter narrows ListTransactions. Zero-value fields match
// everything.
type TransactionFilter struct {
	HolderType HolderType
	HolderID   string
	ItemID     string
	LotID      string
	EventTypes []EventType
	From       *time.Time
	To         *time.Time
	Limit      int
}

// BalanceFilter narrows ListBalances.
type BalanceFilter struct {
	HolderType HolderType
	HolderID   string
	ItemID     string
}

// =============================================================================
// STORE INTERFACES
// =============================================================================

// TransactionStore persists the append-only transaction log.
type TransactionStore interface {
	// InsertTransaction appends one transaction. Fails with
	// ErrDuplicateTransaction if the dedup key already exists.
	InsertTransaction(ctx context.Context, tx Transaction) error

	// TransactionExists checks whether a dedup key is already recorded.
	TransactionExists(ctx context.Context, dedupKey string) (bool, error)

	// ListTransactions returns matching transactions ordered by
	// performed_at ascending.
	ListTransactions(ctx context.Context, f TransactionFilter) ([]Transaction, error)
}

// BalanceStore persists balance rows keyed by (holder_type, holder_id,
// item_id). Upserts are safe to repeat.
type BalanceStore interface {
	UpsertBalance(ctx context.Context, b Balance) error

	// GetBalance returns nil when no balance exists for the key.
	GetBalance(ctx context.Context, key BalanceKey) (*Balance, error)

	ListBalances(ctx context.Context, f BalanceFilter) ([]Balance, error)
}

// Store combines transaction and balance persistence.
type Store interface {
	TransactionStore
	BalanceStore
}

// TxStore wraps Store with an atomic scope for multi-leg units.
type TxStore interface {
	Store

	// WithTx executes fn atomically. If fn returns an error nothing is
	// persisted.
	WithTx(ctx context.Context, fn func(Store) error) error
}
