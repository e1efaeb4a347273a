/*
anomaly.go - Per-record failure accumulation

PURPOSE:
  A replay run over real historical data will hit records that cannot be
  applied: unknown shapes, unresolved lots, quantities that fail
  normalization, consumptions that would drive a balance negative. None
  of these abort the run. The collector accumulates them so the operator
  gets a full report at the end and can re-run after fixing the flagged
  records.
*/
package replay

import (
	"errors"
	"sort"

	"github.com/keel/stock-ledger/ledger"
)

// Anomaly classes, used for operator-facing aggregation.
const (
	ClassUnknownKind         = "unknown_kind"
	ClassUnknownMode         = "unknown_mode"
	ClassMissingField        = "missing_field"
	ClassInvalidValue        = "invalid_value"
	ClassUnresolvedLot       = "unresolved_lot"
	ClassValidation          = "validation"
	ClassInsufficientBalance = "insufficient_balance"
)

// Anomaly is one skipped or rolled-back source record.
type Anomaly struct {
	SourceKind string `json:"source_kind"`
	SourceID   string `json:"source_id"`
	Class      string `json:"class"`
	Detail     string `json:"detail"`
}

// Collector accumulates anomalies. Purely additive; never fails.
type Collector struct {
	anomalies []Anomaly
}

func NewCollector() *Collector {
	return &Collector{}
}

// Record adds one anomaly.
func (c *Collector) Record(sourceKind, sourceID, class, detail string) {
	c.anomalies = append(c.anomalies, Anomaly{
		SourceKind: sourceKind,
		SourceID:   sourceID,
		Class:      class,
		Detail:     detail,
	})
}

// RecordError adds an anomaly classified from an engine failure.
func (c *Collector) RecordError(sourceKind, sourceID string, err error) {
	class := ClassValidation
	if errors.Is(err, ledger.ErrInsufficientBalance) {
		class = ClassInsufficientBalance
	}
	c.Record(sourceKind, sourceID, class, err.Error())
}

// Len returns the number of anomalies recorded so far.
func (c *Collector) Len() int { return len(c.anomalies) }

// Anomalies returns all recorded anomalies in recording order.
func (c *Collector) Anomalies() []Anomaly {
	return append([]Anomaly(nil), c.anomalies...)
}

// =============================================================================
// SUMMARY - Operator-facing report
// =============================================================================

// ClassCount is one aggregated line of the anomaly report.
type ClassCount struct {
	Class string `json:"class"`
	Count int    `json:"count"`
}

// Summary aggregates anomalies by class with the first N examples.
type Summary struct {
	Total    int          `json:"total"`
	ByClass  []ClassCount `json:"by_class"`
	Examples []Anomaly    `json:"examples"`
}

// Summarize builds the report, truncating examples at limit. A limit of
// zero or less means no examples.
func (c *Collector) Summarize(limit int) Summary {
	counts := make(map[string]int)
	for _, a := range c.anomalies {
		counts[a.Class]++
	}

	byClass := make([]ClassCount, 0, len(counts))
	for class, n := range counts {
		byClass = append(byClass, ClassCount{Class: class, Count: n})
	}
	sort.Slice(byClass, func(i, j int) bool {
		if byClass[i].Count != byClass[j].Count {
			return byClass[i].Count > byClass[j].Count
		}
		return byClass[i].Class < byClass[j].Class
	})

	examples := c.anomalies
	if limit <= 0 {
		examples = nil
	} else if len(examples) > limit {
		examples = examples[:limit]
	}

	return Summary{
		Total:    len(c.anomalies),
		ByClass:  byClass,
		Examples: append([]Anomaly(nil), examples...),
	}
}
