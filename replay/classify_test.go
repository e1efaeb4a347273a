package replay_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keel/stock-ledger/ledger"
	"github.com/keel/stock-ledger/replay"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func testLots() replay.LotResolver {
	c := &replay.Corpus{Lots: []replay.LotRecord{
		{LotID: "lot-1", ItemID: "item-1"},
		{LotID: "lot-2", ItemID: "item-2"},
	}}
	return c.LotResolver()
}

func issueRecord(id string) replay.Record {
	return replay.Record{
		"kind":         "issue",
		"id":           id,
		"lot_id":       "lot-1",
		"holder_type":  "OFFICE",
		"holder_id":    "HQ",
		"quantity":     50.0,
		"performed_at": "2024-01-10T09:00:00Z",
		"performed_by": "alice",
	}
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

func TestClassify_Issue_ResolvesLotToItem(t *testing.T) {
	// GIVEN: an issue record referencing lot-1
	// WHEN: classifying
	// THEN: one ISSUE_IN leg at (OFFICE, HQ, item-1)

	c := replay.NewClassifier(testLots())

	unit, anom := c.Classify(issueRecord("iss-1"))
	require.Nil(t, anom)
	require.NotNil(t, unit)

	assert.Equal(t, "issue", unit.SourceKind)
	assert.Equal(t, "iss-1", unit.SourceID)
	assert.Equal(t, "alice", unit.PerformedBy)
	require.Len(t, unit.Legs, 1)

	leg := unit.Legs[0]
	assert.Equal(t, ledger.EventIssueIn, leg.EventType)
	assert.Equal(t, ledger.HolderOffice, leg.Key.HolderType)
	assert.Equal(t, "item-1", leg.Key.ItemID)
	assert.Equal(t, "iss-1", leg.Source.IssueID)
	assert.Equal(t, "lot-1", leg.Source.LotID)
}

func TestClassify_Issue_UnresolvedLot(t *testing.T) {
	c := replay.NewClassifier(testLots())

	rec := issueRecord("iss-1")
	rec["lot_id"] = "lot-unknown"

	unit, anom := c.Classify(rec)
	assert.Nil(t, unit)
	require.NotNil(t, anom)
	assert.Equal(t, replay.ClassUnresolvedLot, anom.Class)
	assert.Equal(t, "iss-1", anom.SourceID)
}

func TestClassify_Consumption(t *testing.T) {
	c := replay.NewClassifier(testLots())

	unit, anom := c.Classify(replay.Record{
		"kind":         "consumption",
		"id":           "con-1",
		"item_id":      "item-1",
		"holder_type":  "USER",
		"holder_id":    "u-1",
		"quantity":     2.5,
		"performed_at": "2024-01-11T10:00:00Z",
	})
	require.Nil(t, anom)
	require.Len(t, unit.Legs, 1)
	assert.Equal(t, ledger.EventConsumeOut, unit.Legs[0].EventType)
	assert.Equal(t, "con-1", unit.Legs[0].Source.ConsumptionID)
	assert.Empty(t, unit.PerformedBy)
}

func TestClassify_Return_UserToOffice_TwoLegs(t *testing.T) {
	c := replay.NewClassifier(testLots())

	unit, anom := c.Classify(replay.Record{
		"kind":         "return",
		"id":           "ret-1",
		"mode":         "USER_TO_OFFICE",
		"user_id":      "u-1",
		"office_id":    "HQ",
		"item_id":      "item-1",
		"quantity":     4.0,
		"performed_at": "2024-01-12T10:00:00Z",
		"performed_by": "bob",
	})
	require.Nil(t, anom)
	require.Len(t, unit.Legs, 2)

	assert.Equal(t, ledger.EventReturnOut, unit.Legs[0].EventType)
	assert.Equal(t, ledger.HolderUser, unit.Legs[0].Key.HolderType)
	assert.Equal(t, "return:ret-1:leg0", unit.Legs[0].DedupMarker)

	assert.Equal(t, ledger.EventReturnIn, unit.Legs[1].EventType)
	assert.Equal(t, ledger.HolderOffice, unit.Legs[1].Key.HolderType)
	assert.Equal(t, "return:ret-1:leg1", unit.Legs[1].DedupMarker)

	// Both legs carry the same quantity.
	assert.Equal(t, unit.Legs[0].Quantity, unit.Legs[1].Quantity)
}

func TestClassify_Return_UnknownMode(t *testing.T) {
	c := replay.NewClassifier(testLots())

	unit, anom := c.Classify(replay.Record{
		"kind":         "return",
		"id":           "ret-1",
		"mode":         "USER_TO_STORE",
		"item_id":      "item-1",
		"quantity":     1.0,
		"performed_at": "2024-01-12T10:00:00Z",
	})
	assert.Nil(t, unit)
	require.NotNil(t, anom)
	assert.Equal(t, replay.ClassUnknownMode, anom.Class)
}

func TestClassify_MissingKind(t *testing.T) {
	c := replay.NewClassifier(testLots())

	unit, anom := c.Classify(replay.Record{"id": "x-1"})
	assert.Nil(t, unit)
	require.NotNil(t, anom)
	assert.Equal(t, replay.ClassUnknownKind, anom.Class)
	assert.Equal(t, "x-1", anom.SourceID)
}

func TestClassify_NumericID_IsMalformed(t *testing.T) {
	// Ids that arrive as numbers are not silently stringified.
	c := replay.NewClassifier(testLots())

	rec := issueRecord("iss-1")
	rec["id"] = 42

	unit, anom := c.Classify(rec)
	assert.Nil(t, unit)
	require.NotNil(t, anom)
	assert.Equal(t, replay.ClassMissingField, anom.Class)
}

func TestClassify_MissingQuantity(t *testing.T) {
	c := replay.NewClassifier(testLots())

	rec := issueRecord("iss-1")
	delete(rec, "quantity")

	_, anom := c.Classify(rec)
	require.NotNil(t, anom)
	assert.Equal(t, replay.ClassMissingField, anom.Class)
}

func TestClassify_UnknownHolderType(t *testing.T) {
	c := replay.NewClassifier(testLots())

	rec := issueRecord("iss-1")
	rec["holder_type"] = "WAREHOUSE"

	_, anom := c.Classify(rec)
	require.NotNil(t, anom)
	assert.Equal(t, replay.ClassInvalidValue, anom.Class)
}

func TestClassify_DateOnlyTimestamp_Accepted(t *testing.T) {
	c := replay.NewClassifier(testLots())

	rec := issueRecord("iss-1")
	rec["performed_at"] = "2024-01-10"

	unit, anom := c.Classify(rec)
	require.Nil(t, anom)
	assert.Equal(t, time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), unit.PerformedAt)
}

func TestClassify_StringQuantity_Accepted(t *testing.T) {
	c := replay.NewClassifier(testLots())

	rec := issueRecord("iss-1")
	rec["quantity"] = "12.50"

	unit, anom := c.Classify(rec)
	require.Nil(t, anom)
	assert.Equal(t, 12.5, unit.Legs[0].Quantity)
}
