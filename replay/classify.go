/*
classify.go - Source record classification

PURPOSE:
  Maps heterogeneous source records (issues, consumptions, returns) into
  canonical replay units of ledger legs. This is the strict boundary:
  every field is explicitly parsed and validated here, and nothing past
  this point ever sees a raw record.

ANOMALIES, NOT ERRORS:
  A record that cannot be classified (unknown kind, missing fields,
  unresolvable lot) yields an anomaly with a descriptive reason. The
  record is skipped, never retried, and never aborts the run.
*/
package replay

import (
	"fmt"
	"time"

	"github.com/keel/stock-ledger/ledger"
)

// Source record kinds accepted by the classifier.
const (
	KindIssue       = "issue"
	KindConsumption = "consumption"
	KindReturn      = "return"
)

// Unit is the full set of legs derived from one source record. Legs
// within a unit are applied all-or-nothing.
type Unit struct {
	SourceKind  string
	SourceID    string
	PerformedAt time.Time
	PerformedBy string
	Legs        []ledger.Leg
}

// Classifier turns raw records into units. Lots resolves the lot→item
// mapping issue records depend on.
type Classifier struct {
	Lots LotResolver
}

func NewClassifier(lots LotResolver) *Classifier {
	return &Classifier{Lots: lots}
}

// Classify maps one record to a unit, or to an anomaly describing why
// it cannot be applied.
func (c *Classifier) Classify(rec Record) (*Unit, *Anomaly) {
	kind, ok := stringField(rec, "kind")
	if !ok {
		return nil, &Anomaly{SourceKind: "unknown", SourceID: bestEffortID(rec), Class: ClassUnknownKind, Detail: "record has no kind"}
	}

	id, ok := stringField(rec, "id")
	if !ok {
		return nil, anomaly(kind, "", ClassMissingField, "record has no id")
	}

	performedAt, ok := timeField(rec, "performed_at")
	if !ok {
		return nil, anomaly(kind, id, ClassMissingField, "missing or malformed performed_at")
	}
	performedBy, _ := stringField(rec, "performed_by")

	quantity, ok := numberField(rec, "quantity")
	if !ok {
		return nil, anomaly(kind, id, ClassMissingField, "missing or malformed quantity")
	}

	unit := &Unit{SourceKind: kind, SourceID: id, PerformedAt: performedAt, PerformedBy: performedBy}

	switch kind {
	case KindIssue:
		return c.classifyIssue(rec, unit, quantity)
	case KindConsumption:
		return c.classifyConsumption(rec, unit, quantity)
	case KindReturn:
		return c.classifyReturn(rec, unit, quantity)
	}
	return nil, anomaly(kind, id, ClassUnknownKind, fmt.Sprintf("unrecognized record kind %q", kind))
}

// classifyIssue produces one ISSUE_IN leg at the destination holder.
func (c *Classifier) classifyIssue(rec Record, unit *Unit, quantity float64) (*Unit, *Anomaly) {
	lotID, ok := stringField(rec, "lot_id")
	if !ok {
		return nil, anomaly(unit.SourceKind, unit.SourceID, ClassMissingField, "issue has no lot_id")
	}
	itemID, ok := c.Lots.ItemForLot(lotID)
	if !ok || itemID == "" {
		return nil, anomaly(unit.SourceKind, unit.SourceID, ClassUnresolvedLot, fmt.Sprintf("no item mapping for lot %q", lotID))
	}

	key, anom := holderKey(rec, unit, itemID)
	if anom != nil {
		return nil, anom
	}

	leg, err := ledger.IssueLeg(key, quantity, unit.SourceID, lotID)
	if err != nil {
		return nil, anomaly(unit.SourceKind, unit.SourceID, ClassInvalidValue, err.Error())
	}
	unit.Legs = []ledger.Leg{leg}
	return unit, nil
}

// classifyConsumption produces one CONSUME_OUT leg at the source holder.
func (c *Classifier) classifyConsumption(rec Record, unit *Unit, quantity float64) (*Unit, *Anomaly) {
	itemID, ok := stringField(rec, "item_id")
	if !ok {
		return nil, anomaly(unit.SourceKind, unit.SourceID, ClassMissingField, "consumption has no item_id")
	}

	key, anom := holderKey(rec, unit, itemID)
	if anom != nil {
		return nil, anom
	}

	leg, err := ledger.ConsumeLeg(key, quantity, unit.SourceID)
	if err != nil {
		return nil, anomaly(unit.SourceKind, unit.SourceID, ClassInvalidValue, err.Error())
	}
	unit.Legs = []ledger.Leg{leg}
	return unit, nil
}

// classifyReturn produces one or two legs depending on the return mode.
func (c *Classifier) classifyReturn(rec Record, unit *Unit, quantity float64) (*Unit, *Anomaly) {
	rawMode, ok := stringField(rec, "mode")
	if !ok {
		return nil, anomaly(unit.SourceKind, unit.SourceID, ClassMissingField, "return has no mode")
	}
	mode, err := ledger.ParseReturnMode(rawMode)
	if err != nil {
		return nil, anomaly(unit.SourceKind, unit.SourceID, ClassUnknownMode, err.Error())
	}

	itemID, _ := stringField(rec, "item_id")
	userID, _ := stringField(rec, "user_id")
	officeID, _ := stringField(rec, "office_id")
	lotID, _ := stringField(rec, "lot_id")

	legs, err := ledger.ReturnLegs(mode, userID, officeID, itemID, lotID, quantity, unit.SourceID)
	if err != nil {
		return nil, anomaly(unit.SourceKind, unit.SourceID, ClassMissingField, err.Error())
	}
	unit.Legs = legs
	return unit, nil
}

// holderKey parses the holder_type/holder_id pair shared by issue and
// consumption records.
func holderKey(rec Record, unit *Unit, itemID string) (ledger.BalanceKey, *Anomaly) {
	rawType, ok := stringField(rec, "holder_type")
	if !ok {
		return ledger.BalanceKey{}, anomaly(unit.SourceKind, unit.SourceID, ClassMissingField, "missing holder_type")
	}
	holderType, err := ledger.ParseHolderType(rawType)
	if err != nil {
		return ledger.BalanceKey{}, anomaly(unit.SourceKind, unit.SourceID, ClassInvalidValue, err.Error())
	}
	holderID, ok := stringField(rec, "holder_id")
	if !ok {
		return ledger.BalanceKey{}, anomaly(unit.SourceKind, unit.SourceID, ClassMissingField, "missing holder_id")
	}
	return ledger.BalanceKey{HolderType: holderType, HolderID: holderID, ItemID: itemID}, nil
}

func anomaly(kind, id, class, detail string) *Anomaly {
	return &Anomaly{SourceKind: kind, SourceID: id, Class: class, Detail: detail}
}

func bestEffortID(rec Record) string {
	id, _ := stringField(rec, "id")
	return id
}
