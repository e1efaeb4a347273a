/*
balance.go - Balance accumulator with snapshot/restore

PURPOSE:
  The BalanceBook is the keyed accumulator at the center of the engine:
  per (holder_type, holder_id, item_id) it keeps running totals in, out,
  and on hand. Both paths mutate balances exclusively through Apply, so
  the non-negative invariant lives in exactly one place.

APPLY SEMANTICS:
  IN events  (ISSUE_IN, RETURN_IN, ADJUST_IN):
    qty_in  += quantity; on_hand += quantity
  OUT events (CONSUME_OUT, RETURN_OUT, ADJUST_OUT):
    fail with InsufficientBalanceError if on_hand < quantity,
    else qty_out += quantity; on_hand -= quantity
  All totals are re-rounded to two decimals after each update.

SNAPSHOT / RESTORE:
  A multi-leg unit must never be observable half-applied. Callers
  snapshot the entries for every key the unit touches before applying,
  then either discard the snapshot on commit or restore it on failure.
  The snapshot is copy-on-write over only the touched keys; keys that
  did not exist before the unit are removed again on restore.
*/
package ledger

import (
	"sort"

	"github.com/shopspring/decimal"
)

// BalanceBook is an in-memory accumulator of balances by key.
// It is not safe for concurrent use; the replay engine is a single
// writer, and the live service serializes access per key.
type BalanceBook struct {
	entries map[BalanceKey]Balance
}

func NewBalanceBook() *BalanceBook {
	return &BalanceBook{entries: make(map[BalanceKey]Balance)}
}

// Seed installs an existing balance, e.g. one loaded from the store
// before a live apply. It overwrites any entry for the same key.
func (b *BalanceBook) Seed(bal Balance) {
	b.entries[bal.Key] = bal
}

// Get returns the balance for key and whether it exists.
func (b *BalanceBook) Get(key BalanceKey) (Balance, bool) {
	bal, ok := b.entries[key]
	return bal, ok
}

// Len returns the number of keys touched so far.
func (b *BalanceBook) Len() int { return len(b.entries) }

// Apply mutates the balance for key by one normalized quantity and
// returns the new state. The balance is created on first touch.
func (b *BalanceBook) Apply(key BalanceKey, eventType EventType, qty decimal.Decimal) (Balance, error) {
	if err := key.Validate(); err != nil {
		return Balance{}, err
	}
	if !eventType.Valid() {
		return Balance{}, &ValidationError{Field: "event_type", Reason: "unknown event type " + string(eventType)}
	}
	if !qty.IsPositive() {
		return Balance{}, &ValidationError{Field: "quantity", Reason: "must be greater than zero"}
	}

	bal, ok := b.entries[key]
	if !ok {
		bal = NewBalance(key)
	}

	switch eventType.Direction() {
	case DirectionIn:
		bal.QtyIn = round2(bal.QtyIn.Add(qty))
		bal.QtyOnHand = round2(bal.QtyOnHand.Add(qty))
	case DirectionOut:
		if bal.QtyOnHand.LessThan(qty) {
			return Balance{}, &InsufficientBalanceError{
				Key:       key,
				Available: bal.QtyOnHand,
				Requested: qty,
			}
		}
		bal.QtyOut = round2(bal.QtyOut.Add(qty))
		bal.QtyOnHand = round2(bal.QtyOnHand.Sub(qty))
	}

	b.entries[key] = bal
	return bal, nil
}

// Balances returns all entries in deterministic key order.
func (b *BalanceBook) Balances() []Balance {
	out := make([]Balance, 0, len(b.entries))
	for _, bal := range b.entries {
		out = append(out, bal)
	}
	sortBalances(out)
	return out
}

// =============================================================================
// SNAPSHOT - Copy-on-write over the touched keys only
// =============================================================================

// Snapshot captures the current state of the given keys. Keys without
// an entry are recorded as absent and removed again on Restore.
type Snapshot struct {
	book  *BalanceBook
	prior map[BalanceKey]*Balance // nil value = key was absent
}

// Snapshot records the pre-unit state for every key a unit's legs touch.
func (b *BalanceBook) Snapshot(keys []BalanceKey) *Snapshot {
	s := &Snapshot{book: b, prior: make(map[BalanceKey]*Balance, len(keys))}
	for _, key := range keys {
		if _, seen := s.prior[key]; seen {
			continue
		}
		if bal, ok := b.entries[key]; ok {
			copied := bal
			s.prior[key] = &copied
		} else {
			s.prior[key] = nil
		}
	}
	return s
}

// Restore puts every snapshotted key back to its pre-unit state.
func (s *Snapshot) Restore() {
	for key, bal := range s.prior {
		if bal == nil {
			delete(s.book.entries, key)
		} else {
			s.book.entries[key] = *bal
		}
	}
}

func sortBalances(balances []Balance) {
	sort.Slice(balances, func(i, j int) bool {
		a, b := balances[i].Key, balances[j].Key
		if a.HolderType != b.HolderType {
			return a.HolderType < b.HolderType
		}
		if a.HolderID != b.HolderID {
			return a.HolderID < b.HolderID
		}
		return a.ItemID < b.ItemID
	})
}
