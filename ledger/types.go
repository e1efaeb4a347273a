/*
Package ledger provides the core consumable inventory ledger engine.

PURPOSE:
  This package contains the types and algorithms for balance accounting
  over a stream of discrete movement events. For every (holder, item)
  pair it tracks how much stock has moved in, moved out, and currently
  remains on hand.

KEY CONCEPTS IN THIS FILE (types.go):
  - BalanceKey: Identity of one balance (holder type, holder id, item id)
  - Balance: Running totals in / out / on-hand for one key
  - EventType: The closed set of ledger event kinds (IN and OUT legs)
  - Transaction: An immutable ledger entry recording one applied leg
  - Leg: One directional movement before it becomes a Transaction

DESIGN PRINCIPLES:
  1. Immutability: Transactions are never modified; corrections are new
     ADJUST events
  2. Precision: Uses decimal.Decimal for all quantities, fixed at two
     decimal places
  3. Closed event set: Everything past the classification boundary
     operates on EventType, never on raw source-record shapes
  4. Dedup identity: Every transaction carries a key that makes replay
     safely re-runnable

SEE ALSO:
  - quantity.go: Quantity normalization rules
  - balance.go: Balance accumulator with snapshot/restore
  - txlog.go: Store interfaces and transaction filters
*/
package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// HOLDER - An entity that can possess on-hand quantity of an item
// =============================================================================

type HolderType string

const (
	HolderOffice HolderType = "OFFICE"
	HolderUser   HolderType = "USER"
)

// ParseHolderType validates a raw holder type string.
func ParseHolderType(raw string) (HolderType, error) {
	switch HolderType(raw) {
	case HolderOffice, HolderUser:
		return HolderType(raw), nil
	}
	return "", &ValidationError{Field: "holder_type", Reason: fmt.Sprintf("unknown holder type %q", raw)}
}

// =============================================================================
// BALANCE KEY - Identity of one balance accumulator
// =============================================================================

// BalanceKey identifies one balance: who holds how much of what.
type BalanceKey struct {
	HolderType HolderType
	HolderID   string
	ItemID     string
}

func (k BalanceKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.HolderType, k.HolderID, k.ItemID)
}

// Validate checks that every component of the key is present.
func (k BalanceKey) Validate() error {
	if k.HolderType != HolderOffice && k.HolderType != HolderUser {
		return &ValidationError{Field: "holder_type", Reason: fmt.Sprintf("unknown holder type %q", string(k.HolderType))}
	}
	if k.HolderID == "" {
		return &ValidationError{Field: "holder_id", Reason: "missing holder id"}
	}
	if k.ItemID == "" {
		return &ValidationError{Field: "item_id", Reason: "missing item id"}
	}
	return nil
}

// =============================================================================
// BALANCE - Running totals for one key
// =============================================================================

// Balance holds the running totals for one (holder, item) pair.
//
// INVARIANT: QtyOnHand == QtyIn - QtyOut and QtyOnHand >= 0, at all times.
// Zero is a valid resting state; balances are never deleted.
type Balance struct {
	Key       BalanceKey
	QtyIn     decimal.Decimal
	QtyOut    decimal.Decimal
	QtyOnHand decimal.Decimal
}

// NewBalance returns a zero balance for the key.
func NewBalance(key BalanceKey) Balance {
	return Balance{Key: key, QtyIn: decimal.Zero, QtyOut: decimal.Zero, QtyOnHand: decimal.Zero}
}

// CheckInvariant verifies on_hand == in - out and on_hand >= 0.
func (b Balance) CheckInvariant() error {
	if !b.QtyOnHand.Equal(b.QtyIn.Sub(b.QtyOut)) {
		return fmt.Errorf("balance %s: on-hand %s != in %s - out %s",
			b.Key, b.QtyOnHand, b.QtyIn, b.QtyOut)
	}
	if b.QtyOnHand.IsNegative() {
		return fmt.Errorf("balance %s: negative on-hand %s", b.Key, b.QtyOnHand)
	}
	return nil
}

// =============================================================================
// EVENT TYPES - The closed set of ledger movements
// =============================================================================

type EventType string

const (
	EventIssueIn    EventType = "ISSUE_IN"    // Stock issued from a lot to a holder
	EventConsumeOut EventType = "CONSUME_OUT" // Stock consumed by a holder
	EventReturnOut  EventType = "RETURN_OUT"  // Return leg debiting the returning holder
	EventReturnIn   EventType = "RETURN_IN"   // Return leg crediting the receiving holder
	EventAdjustIn   EventType = "ADJUST_IN"   // Manual upward correction
	EventAdjustOut  EventType = "ADJUST_OUT"  // Manual downward correction
)

type Direction int

const (
	DirectionIn Direction = iota
	DirectionOut
)

// Direction reports whether the event adds to or removes from on-hand.
func (e EventType) Direction() Direction {
	switch e {
	case EventIssueIn, EventReturnIn, EventAdjustIn:
		return DirectionIn
	default:
		return DirectionOut
	}
}

// Valid reports whether e is a member of the closed event set.
func (e EventType) Valid() bool {
	switch e {
	case EventIssueIn, EventConsumeOut, EventReturnOut, EventReturnIn, EventAdjustIn, EventAdjustOut:
		return true
	}
	return false
}

// ParseEventType validates a raw event type string.
func ParseEventType(raw string) (EventType, error) {
	e := EventType(raw)
	if !e.Valid() {
		return "", &ValidationError{Field: "event_type", Reason: fmt.Sprintf("unknown event type %q", raw)}
	}
	return e, nil
}

// =============================================================================
// SOURCE REFERENCES - Back-references to originating business records
// =============================================================================

// SourceRef carries optional back-references from a transaction to the
// issue, consumption, or lot record that produced it.
type SourceRef struct {
	IssueID       string
	ConsumptionID string
	LotID         string
}

// OriginID returns the originating record id, if any. The lot reference
// alone does not identify an originating record.
func (r SourceRef) OriginID() string {
	if r.IssueID != "" {
		return r.IssueID
	}
	return r.ConsumptionID
}

// =============================================================================
// TRANSACTION - Immutable ledger entry
// =============================================================================

// Transaction records one applied leg. Once written it is never mutated
// or deleted; corrections are new ADJUST events.
type Transaction struct {
	ID          string
	Key         BalanceKey
	EventType   EventType
	Quantity    decimal.Decimal
	PerformedAt time.Time
	PerformedBy string
	Source      SourceRef

	// DedupMarker is the synthetic fallback identity used when the leg
	// has no originating record id (e.g. return legs during replay).
	DedupMarker string
}

// DedupKey returns the identity used to detect an already-applied
// transaction. It prefers the originating record id; legs without one
// fall back to the synthetic marker.
func (t Transaction) DedupKey() string {
	if id := t.Source.OriginID(); id != "" {
		return fmt.Sprintf("%s|%s|%s|%s|%s",
			t.Key.HolderType, t.Key.HolderID, t.Key.ItemID, t.EventType, id)
	}
	return t.DedupMarker
}

// =============================================================================
// LEG - One directional movement before acceptance
// =============================================================================

// Leg is one directional movement derived from a source record. The
// quantity is raw: it passes through Normalize when the leg is applied,
// so live mutation and replay can never diverge on precision rules.
type Leg struct {
	Key         BalanceKey
	EventType   EventType
	Quantity    float64
	Source      SourceRef
	DedupMarker string
}
