// Package store provides an in-memory ledger.TxStore implementation
// for tests and development.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/keel/stock-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	balances     map[ledger.BalanceKey]ledger.Balance
	transactions []ledger.Transaction
	dedup        map[string]bool
}

func NewMemory() *Memory {
	return &Memory{
		balances: make(map[ledger.BalanceKey]ledger.Balance),
		dedup:    make(map[string]bool),
	}
}

// InsertTransaction appends a transaction. Append-only.
func (m *Memory) InsertTransaction(_ context.Context, tx ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(tx)
}

func (m *Memory) insertLocked(tx ledger.Transaction) error {
	key := tx.DedupKey()
	if key != "" && m.dedup[key] {
		return ledger.ErrDuplicateTransaction
	}
	m.transactions = append(m.transactions, tx)
	if key != "" {
		m.dedup[key] = true
	}
	return nil
}

func (m *Memory) TransactionExists(_ context.Context, dedupKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return dedupKey != "" && m.dedup[dedupKey], nil
}

func (m *Memory) ListTransactions(_ context.Context, f ledger.TransactionFilter) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.Transaction
	for _, tx := range m.transactions {
		if matches(tx, f) {
			result = append(result, tx)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].PerformedAt.Before(result[j].PerformedAt)
	})
	if f.Limit > 0 && len(result) > f.Limit {
		result = result[:f.Limit]
	}
	return result, nil
}

func matches(tx ledger.Transaction, f ledger.TransactionFilter) bool {
	if f.HolderType != "" && tx.Key.HolderType != f.HolderType {
		return false
	}
	if f.HolderID != "" && tx.Key.HolderID != f.HolderID {
		return false
	}
	if f.ItemID != "" && tx.Key.ItemID != f.ItemID {
		return false
	}
	if f.LotID != "" && tx.Source.LotID != f.LotID {
		return false
	}
	if len(f.EventTypes) > 0 {
		found := false
		for _, et := range f.EventTypes {
			if tx.EventType == et {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.From != nil && tx.PerformedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && tx.PerformedAt.After(*f.To) {
		return false
	}
	return true
}

func (m *Memory) UpsertBalance(_ context.Context, b ledger.Balance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[b.Key] = b
	return nil
}

func (m *Memory) GetBalance(_ context.Context, key ledger.BalanceKey) (*ledger.Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if b, ok := m.balances[key]; ok {
		copied := b
		return &copied, nil
	}
	return nil, nil
}

func (m *Memory) ListBalances(_ context.Context, f ledger.BalanceFilter) ([]ledger.Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.Balance
	for _, b := range m.balances {
		if f.HolderType != "" && b.Key.HolderType != f.HolderType {
			continue
		}
		if f.HolderID != "" && b.Key.HolderID != f.HolderID {
			continue
		}
		if f.ItemID != "" && b.Key.ItemID != f.ItemID {
			continue
		}
		result = append(result, b)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Key.String() < result[j].Key.String()
	})
	return result, nil
}

// =============================================================================
// ATOMIC SCOPE - Snapshot the whole store, restore on error
// =============================================================================

// WithTx runs fn against the store and restores the prior state if fn
// fails. Good enough for tests; the SQLite store uses real transactions.
func (m *Memory) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	balances := make(map[ledger.BalanceKey]ledger.Balance, len(m.balances))
	for k, v := range m.balances {
		balances[k] = v
	}
	transactions := append([]ledger.Transaction(nil), m.transactions...)
	dedup := make(map[string]bool, len(m.dedup))
	for k, v := range m.dedup {
		dedup[k] = v
	}
	m.mu.Unlock()

	if err := fn(&unlockedMemory{m}); err != nil {
		m.mu.Lock()
		m.balances = balances
		m.transactions = transactions
		m.dedup = dedup
		m.mu.Unlock()
		return err
	}
	return nil
}

// unlockedMemory delegates to the parent store. The parent's own mutex
// still guards each individual call.
type unlockedMemory struct{ *Memory }
