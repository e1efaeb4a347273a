/*
service.go - Live mutation path

PURPOSE:
  Applies one business event at a time as actions occur: issue, consume,
  return, adjust. Each call normalizes the quantity, checks the
  non-negative invariant, and persists the balance update together with
  the transaction in one atomic scope.

CONCURRENCY:
  Two concurrent consumptions against the same (holder, item) key must
  not interleave their read-check-write of on-hand. The service holds an
  exclusive lock scoped to the balance key for the duration of one
  event's apply-and-persist; different keys proceed in parallel. Locks
  are striped and always acquired in ascending stripe order, so a
  two-key return cannot deadlock against another unit.

DEDUP:
  Every transaction carries a dedup key derived from its originating
  record id (or a synthetic marker). A retry that races a previous write
  loses the insert, and the loser is reported as an already-recorded
  duplicate rather than an error.
*/
package ledger

import (
	"context"
	"errors"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const lockStripes = 64

// Service is the live mutation entry point used by the issuance,
// consumption, and return services.
type Service struct {
	store TxStore
	locks [lockStripes]sync.Mutex
}

func NewService(store TxStore) *Service {
	return &Service{store: store}
}

// =============================================================================
// INPUTS
// =============================================================================

type IssueInput struct {
	IssueID    string
	LotID      string
	ItemID     string
	HolderType HolderType
	HolderID   string
	Quantity   float64
	Actor      string
	At         time.Time
}

type ConsumeInput struct {
	ConsumptionID string
	HolderType    HolderType
	HolderID      string
	ItemID        string
	Quantity      float64
	Actor         string
	At            time.Time
}

type ReturnInput struct {
	ReturnID string
	Mode     ReturnMode
	UserID   string
	OfficeID string
	ItemID   string
	LotID    string
	Quantity float64
	Actor    string
	At       time.Time
}

type AdjustInput struct {
	Reference  string
	HolderType HolderType
	HolderID   string
	ItemID     string
	EventType  EventType
	Quantity   float64
	Actor      string
	At         time.Time
}

// ApplyResult reports the outcome of one live event.
type ApplyResult struct {
	Balances     []Balance
	Transactions []Transaction

	// Duplicate is set when the event's dedup key was already recorded.
	// Nothing was written; the prior application stands.
	Duplicate bool
}

// =============================================================================
// OPERATIONS
// =============================================================================

// Issue applies one ISSUE_IN event: stock moves from a lot to a holder.
func (s *Service) Issue(ctx context.Context, in IssueInput) (*ApplyResult, error) {
	key := BalanceKey{HolderType: in.HolderType, HolderID: in.HolderID, ItemID: in.ItemID}
	leg, err := IssueLeg(key, in.Quantity, in.IssueID, in.LotID)
	if err != nil {
		return nil, err
	}
	return s.applyUnit(ctx, []Leg{leg}, in.At, in.Actor)
}

// Consume applies one CONSUME_OUT event.
func (s *Service) Consume(ctx context.Context, in ConsumeInput) (*ApplyResult, error) {
	key := BalanceKey{HolderType: in.HolderType, HolderID: in.HolderID, ItemID: in.ItemID}
	leg, err := ConsumeLeg(key, in.Quantity, in.ConsumptionID)
	if err != nil {
		return nil, err
	}
	return s.applyUnit(ctx, []Leg{leg}, in.At, in.Actor)
}

// Return applies a return record. A USER_TO_OFFICE return yields two
// legs applied as one atomic unit.
func (s *Service) Return(ctx context.Context, in ReturnInput) (*ApplyResult, error) {
	legs, err := ReturnLegs(in.Mode, in.UserID, in.OfficeID, in.ItemID, in.LotID, in.Quantity, in.ReturnID)
	if err != nil {
		return nil, err
	}
	return s.applyUnit(ctx, legs, in.At, in.Actor)
}

// Adjust applies a manual correction.
func (s *Service) Adjust(ctx context.Context, in AdjustInput) (*ApplyResult, error) {
	key := BalanceKey{HolderType: in.HolderType, HolderID: in.HolderID, ItemID: in.ItemID}
	leg, err := AdjustLeg(key, in.EventType, in.Quantity, in.Reference)
	if err != nil {
		return nil, err
	}
	return s.applyUnit(ctx, []Leg{leg}, in.At, in.Actor)
}

// Balance looks up one balance; nil when the key has never been touched.
func (s *Service) Balance(ctx context.Context, key BalanceKey) (*Balance, error) {
	return s.store.GetBalance(ctx, key)
}

// Transactions lists ledger entries matching the filter.
func (s *Service) Transactions(ctx context.Context, f TransactionFilter) ([]Transaction, error) {
	return s.store.ListTransactions(ctx, f)
}

// Balances lists balances matching the filter.
func (s *Service) Balances(ctx context.Context, f BalanceFilter) ([]Balance, error) {
	return s.store.ListBalances(ctx, f)
}

// =============================================================================
// UNIT APPLICATION
// =============================================================================

// applyUnit applies one unit's legs under per-key locks and persists the
// balance updates plus transactions in a single atomic scope.
func (s *Service) applyUnit(ctx context.Context, legs []Leg, at time.Time, actor string) (*ApplyResult, error) {
	if actor == "" {
		return nil, ErrMissingActor
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	keys := UnitKeys(legs)
	unlock := s.lockKeys(keys)
	defer unlock()

	res := &ApplyResult{}
	err := s.store.WithTx(ctx, func(st Store) error {
		book := NewBalanceBook()
		for _, key := range keys {
			bal, err := st.GetBalance(ctx, key)
			if err != nil {
				return err
			}
			if bal != nil {
				book.Seed(*bal)
			}
		}

		txs := make([]Transaction, 0, len(legs))
		for _, leg := range legs {
			qty, err := Normalize("quantity", leg.Quantity)
			if err != nil {
				return err
			}

			tx := Transaction{
				ID:          uuid.NewString(),
				Key:         leg.Key,
				EventType:   leg.EventType,
				Quantity:    qty,
				PerformedAt: at,
				PerformedBy: actor,
				Source:      leg.Source,
				DedupMarker: leg.DedupMarker,
			}
			if tx.DedupKey() == "" {
				// Caller supplied no reference at all; give the leg a
				// unique marker so the row is still identifiable.
				tx.DedupMarker = "live:" + tx.ID
			}

			exists, err := st.TransactionExists(ctx, tx.DedupKey())
			if err != nil {
				return err
			}
			if exists {
				res.Duplicate = true
				return nil
			}

			if _, err := book.Apply(leg.Key, leg.EventType, qty); err != nil {
				return err
			}
			txs = append(txs, tx)
		}

		for _, key := range keys {
			bal, ok := book.Get(key)
			if !ok {
				continue
			}
			if err := st.UpsertBalance(ctx, bal); err != nil {
				return err
			}
			res.Balances = append(res.Balances, bal)
		}
		for _, tx := range txs {
			if err := st.InsertTransaction(ctx, tx); err != nil {
				return err
			}
		}
		res.Transactions = txs
		return nil
	})

	if err != nil {
		if errors.Is(err, ErrDuplicateTransaction) {
			// Lost a dedup race: the event is already recorded.
			return &ApplyResult{Duplicate: true}, nil
		}
		return nil, err
	}
	return res, nil
}

// UnitKeys returns the distinct keys a unit's legs touch, in
// deterministic order.
func UnitKeys(legs []Leg) []BalanceKey {
	seen := make(map[BalanceKey]bool, len(legs))
	keys := make([]BalanceKey, 0, len(legs))
	for _, leg := range legs {
		if !seen[leg.Key] {
			seen[leg.Key] = true
			keys = append(keys, leg.Key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// lockKeys takes the stripe locks covering keys in ascending stripe
// order and returns the matching unlock function.
func (s *Service) lockKeys(keys []BalanceKey) func() {
	stripes := make([]int, 0, len(keys))
	seen := make(map[int]bool, len(keys))
	for _, key := range keys {
		idx := stripeFor(key)
		if !seen[idx] {
			seen[idx] = true
			stripes = append(stripes, idx)
		}
	}
	sort.Ints(stripes)
	for _, idx := range stripes {
		s.locks[idx].Lock()
	}
	return func() {
		for i := len(stripes) - 1; i >= 0; i-- {
			s.locks[stripes[i]].Unlock()
		}
	}
}

func stripeFor(key BalanceKey) int {
	h := fnv.New32a()
	h.Write([]byte(key.String()))
	return int(h.Sum32() % lockStripes)
}
