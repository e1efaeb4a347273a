/*
engine.go - Deterministic, atomic replay

PURPOSE:
  Orders replay units into a total order, applies each unit's legs
  against an in-memory balance book, and rolls the whole unit back if
  any leg fails. Failures become anomalies; they never block later
  units, which is what makes the tool usable on real, occasionally
  inconsistent historical data.

ORDERING:
  (performed_at ascending, source_kind lexicographic, source_id
  lexicographic). Fully deterministic: repeated runs over the same
  corpus produce the same sequence, the same accepted/anomaly split, and
  the same final balances. The global order is also what makes the
  non-negative invariant meaningful - a consumption can never legally
  precede the receipt that supplied it.

ATOMICITY:
  Before a unit is applied, the engine snapshots the book entries for
  every key the unit's legs touch. If a leg fails normalization or the
  balance check, the snapshot is restored, so a return's two legs are
  never observable half-applied.
*/
package replay

import (
	"sort"

	"github.com/google/uuid"

	"github.com/keel/stock-ledger/ledger"
)

// Result is the outcome of one replay run, before persistence.
type Result struct {
	// Balances is the final state of every touched key, in key order.
	Balances []ledger.Balance

	// Accepted carries the transactions for every committed unit, in
	// application order.
	Accepted []ledger.Transaction

	// EventCounts tallies accepted transactions per event type.
	EventCounts map[ledger.EventType]int

	UnitsApplied   int
	UnitsFailed    int
	RecordsSkipped int
}

// Engine runs the replay pipeline over a record corpus.
type Engine struct {
	Classifier *Classifier
	Collector  *Collector
}

func NewEngine(classifier *Classifier, collector *Collector) *Engine {
	return &Engine{Classifier: classifier, Collector: collector}
}

// Run classifies, orders, and applies all records. It never fails
// part-way: every record either commits, or is recorded as an anomaly.
func (e *Engine) Run(records []Record) *Result {
	res := &Result{EventCounts: make(map[ledger.EventType]int)}

	// 1. Classify. Unclassifiable records become anomalies immediately.
	units := make([]*Unit, 0, len(records))
	for _, rec := range records {
		unit, anom := e.Classifier.Classify(rec)
		if anom != nil {
			e.Collector.Record(anom.SourceKind, anom.SourceID, anom.Class, anom.Detail)
			res.RecordsSkipped++
			continue
		}
		units = append(units, unit)
	}

	// 2. Order into the deterministic total order.
	sortUnits(units)

	// 3. Apply each unit atomically against the book.
	book := ledger.NewBalanceBook()
	for _, unit := range units {
		txs, err := applyUnit(book, unit)
		if err != nil {
			e.Collector.RecordError(unit.SourceKind, unit.SourceID, err)
			res.UnitsFailed++
			continue
		}
		res.Accepted = append(res.Accepted, txs...)
		for _, tx := range txs {
			res.EventCounts[tx.EventType]++
		}
		res.UnitsApplied++
	}

	res.Balances = book.Balances()
	return res
}

// applyUnit applies one unit's legs in listed order, restoring the
// pre-unit state of every touched key on any failure.
func applyUnit(book *ledger.BalanceBook, unit *Unit) ([]ledger.Transaction, error) {
	snapshot := book.Snapshot(ledger.UnitKeys(unit.Legs))

	txs := make([]ledger.Transaction, 0, len(unit.Legs))
	for _, leg := range unit.Legs {
		qty, err := ledger.Normalize("quantity", leg.Quantity)
		if err != nil {
			snapshot.Restore()
			return nil, err
		}
		if _, err := book.Apply(leg.Key, leg.EventType, qty); err != nil {
			snapshot.Restore()
			return nil, err
		}
		txs = append(txs, ledger.Transaction{
			ID:          uuid.NewString(),
			Key:         leg.Key,
			EventType:   leg.EventType,
			Quantity:    qty,
			PerformedAt: unit.PerformedAt,
			PerformedBy: unit.PerformedBy,
			Source:      leg.Source,
			DedupMarker: leg.DedupMarker,
		})
	}
	return txs, nil
}

func sortUnits(units []*Unit) {
	sort.SliceStable(units, func(i, j int) bool {
		a, b := units[i], units[j]
		if !a.PerformedAt.Equal(b.PerformedAt) {
			return a.PerformedAt.Before(b.PerformedAt)
		}
		if a.SourceKind != b.SourceKind {
			return a.SourceKind < b.SourceKind
		}
		return a.SourceID < b.SourceID
	})
}
