/*
writer.go - Idempotent persistence of a replay result

PURPOSE:
  Writes final balances and accepted transactions to the store so that
  re-running the whole replay is safe: balances are upserted by key, and
  a transaction is inserted only when its dedup key is not already
  recorded. Already-applied transactions count as "skipped", never as
  errors, and never double-count balances.

ACTOR FALLBACK:
  The performer field on a transaction is mandatory. A transaction
  missing one falls back to the configured default actor; with no
  default configured the transaction is skipped and counted rather than
  written with an empty actor.
*/
package replay

import (
	"context"
	"errors"

	"github.com/keel/stock-ledger/ledger"
)

// Writer persists a replay result.
type Writer struct {
	Store        ledger.TxStore
	DefaultActor string
}

func NewWriter(store ledger.TxStore, defaultActor string) *Writer {
	return &Writer{Store: store, DefaultActor: defaultActor}
}

// PersistResult reports what one Persist call actually wrote.
type PersistResult struct {
	BalancesWritten      int `json:"balances_written"`
	TransactionsInserted int `json:"transactions_inserted"`
	TransactionsSkipped  int `json:"transactions_skipped"`

	// SkippedMissingActor is the subset of skipped transactions that
	// had no performer and no default actor was configured.
	SkippedMissingActor int `json:"skipped_missing_actor"`
}

// Persist upserts balances and inserts the transactions not already
// recorded, all inside one atomic scope.
func (w *Writer) Persist(ctx context.Context, balances []ledger.Balance, events []ledger.Transaction) (PersistResult, error) {
	var res PersistResult

	err := w.Store.WithTx(ctx, func(st ledger.Store) error {
		for _, bal := range balances {
			if err := st.UpsertBalance(ctx, bal); err != nil {
				return err
			}
			res.BalancesWritten++
		}

		for _, ev := range events {
			if ev.PerformedBy == "" {
				if w.DefaultActor == "" {
					res.TransactionsSkipped++
					res.SkippedMissingActor++
					continue
				}
				ev.PerformedBy = w.DefaultActor
			}

			exists, err := st.TransactionExists(ctx, ev.DedupKey())
			if err != nil {
				return err
			}
			if exists {
				res.TransactionsSkipped++
				continue
			}

			if err := st.InsertTransaction(ctx, ev); err != nil {
				if errors.Is(err, ledger.ErrDuplicateTransaction) {
					res.TransactionsSkipped++
					continue
				}
				return err
			}
			res.TransactionsInserted++
		}
		return nil
	})
	if err != nil {
		return PersistResult{}, err
	}
	return res, nil
}

// Existing counts how many of the given events are already recorded.
// Used by replay verification: after a persisted run, every accepted
// event should already exist.
func (w *Writer) Existing(ctx context.Context, events []ledger.Transaction) (int, error) {
	existing := 0
	for _, ev := range events {
		ok, err := w.Store.TransactionExists(ctx, ev.DedupKey())
		if err != nil {
			return 0, err
		}
		if ok {
			existing++
		}
	}
	return existing, nil
}
