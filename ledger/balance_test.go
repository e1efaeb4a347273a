package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keel/stock-ledger/ledger"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func officeKey(holderID, itemID string) ledger.BalanceKey {
	return ledger.BalanceKey{HolderType: ledger.HolderOffice, HolderID: holderID, ItemID: itemID}
}

func userKey(holderID, itemID string) ledger.BalanceKey {
	return ledger.BalanceKey{HolderType: ledger.HolderUser, HolderID: holderID, ItemID: itemID}
}

// =============================================================================
// APPLY SEMANTICS
// =============================================================================

func TestBalanceBook_InEvent_IncreasesTotals(t *testing.T) {
	// GIVEN: an empty book
	// WHEN: applying an ISSUE_IN of 50.00
	// THEN: in and on-hand are 50.00, out is 0

	book := ledger.NewBalanceBook()
	key := officeKey("HQ", "item-1")

	q, err := ledger.Normalize("quantity", 50)
	require.NoError(t, err)

	bal, err := book.Apply(key, ledger.EventIssueIn, q)
	require.NoError(t, err)
	assert.Equal(t, "50.00", bal.QtyIn.StringFixed(2))
	assert.Equal(t, "0.00", bal.QtyOut.StringFixed(2))
	assert.Equal(t, "50.00", bal.QtyOnHand.StringFixed(2))
	assert.NoError(t, bal.CheckInvariant())
}

func TestBalanceBook_OutEvent_DecreasesOnHand(t *testing.T) {
	// Scenario A: issue 50.00, consume 20.00 -> {in:50, out:20, on_hand:30}

	book := ledger.NewBalanceBook()
	key := officeKey("HQ", "item-1")

	q50, _ := ledger.Normalize("quantity", 50)
	q20, _ := ledger.Normalize("quantity", 20)

	_, err := book.Apply(key, ledger.EventIssueIn, q50)
	require.NoError(t, err)

	bal, err := book.Apply(key, ledger.EventConsumeOut, q20)
	require.NoError(t, err)
	assert.Equal(t, "50.00", bal.QtyIn.StringFixed(2))
	assert.Equal(t, "20.00", bal.QtyOut.StringFixed(2))
	assert.Equal(t, "30.00", bal.QtyOnHand.StringFixed(2))
	assert.NoError(t, bal.CheckInvariant())
}

func TestBalanceBook_Overdraw_FailsAndLeavesBalanceUnchanged(t *testing.T) {
	// Scenario B: consume 10.00 with on-hand 5.00 -> InsufficientBalanceError,
	// balance unchanged.

	book := ledger.NewBalanceBook()
	key := userKey("u-1", "item-1")

	q5, _ := ledger.Normalize("quantity", 5)
	q10, _ := ledger.Normalize("quantity", 10)

	_, err := book.Apply(key, ledger.EventIssueIn, q5)
	require.NoError(t, err)

	_, err = book.Apply(key, ledger.EventConsumeOut, q10)
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	var ibe *ledger.InsufficientBalanceError
	require.ErrorAs(t, err, &ibe)
	assert.Equal(t, "5", ibe.Available.String())
	assert.Equal(t, "10", ibe.Requested.String())

	bal, ok := book.Get(key)
	require.True(t, ok)
	assert.Equal(t, "5.00", bal.QtyOnHand.StringFixed(2))
	assert.NoError(t, bal.CheckInvariant())
}

func TestBalanceBook_ExactDrawdown_ZeroIsValidRestingState(t *testing.T) {
	book := ledger.NewBalanceBook()
	key := officeKey("HQ", "item-1")

	q, _ := ledger.Normalize("quantity", 12.25)
	_, err := book.Apply(key, ledger.EventIssueIn, q)
	require.NoError(t, err)

	bal, err := book.Apply(key, ledger.EventReturnOut, q)
	require.NoError(t, err)
	assert.Equal(t, "0.00", bal.QtyOnHand.StringFixed(2))
	assert.NoError(t, bal.CheckInvariant())

	// The key still exists at zero.
	_, ok := book.Get(key)
	assert.True(t, ok)
}

func TestBalanceBook_RepeatedFractions_NoDrift(t *testing.T) {
	// GIVEN: many 0.01 movements
	// WHEN: applied in sequence
	// THEN: totals stay exact at two decimals

	book := ledger.NewBalanceBook()
	key := officeKey("HQ", "item-1")
	q, _ := ledger.Normalize("quantity", 0.01)

	for i := 0; i < 1000; i++ {
		_, err := book.Apply(key, ledger.EventIssueIn, q)
		require.NoError(t, err)
	}

	bal, _ := book.Get(key)
	assert.Equal(t, "10.00", bal.QtyOnHand.StringFixed(2))
	assert.NoError(t, bal.CheckInvariant())
}

func TestBalanceBook_UnknownEventType_Fails(t *testing.T) {
	book := ledger.NewBalanceBook()
	q, _ := ledger.Normalize("quantity", 1)

	_, err := book.Apply(officeKey("HQ", "item-1"), ledger.EventType("TRANSFER"), q)
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

// =============================================================================
// SNAPSHOT / RESTORE
// =============================================================================

func TestSnapshot_RestoresExistingKeyVerbatim(t *testing.T) {
	// GIVEN: a key with an established balance
	// WHEN: snapshotting, mutating, then restoring
	// THEN: the balance is back to its pre-snapshot state

	book := ledger.NewBalanceBook()
	key := officeKey("HQ", "item-1")
	q30, _ := ledger.Normalize("quantity", 30)
	q10, _ := ledger.Normalize("quantity", 10)

	_, err := book.Apply(key, ledger.EventIssueIn, q30)
	require.NoError(t, err)

	snap := book.Snapshot([]ledger.BalanceKey{key})
	_, err = book.Apply(key, ledger.EventConsumeOut, q10)
	require.NoError(t, err)

	snap.Restore()

	bal, ok := book.Get(key)
	require.True(t, ok)
	assert.Equal(t, "30.00", bal.QtyOnHand.StringFixed(2))
	assert.Equal(t, "0.00", bal.QtyOut.StringFixed(2))
}

func TestSnapshot_RemovesKeysCreatedDuringUnit(t *testing.T) {
	// GIVEN: a key absent from the book
	// WHEN: snapshotting, creating it, then restoring
	// THEN: the key is absent again

	book := ledger.NewBalanceBook()
	key := userKey("u-9", "item-2")
	q, _ := ledger.Normalize("quantity", 4)

	snap := book.Snapshot([]ledger.BalanceKey{key})
	_, err := book.Apply(key, ledger.EventIssueIn, q)
	require.NoError(t, err)

	snap.Restore()

	_, ok := book.Get(key)
	assert.False(t, ok)
	assert.Equal(t, 0, book.Len())
}

func TestSnapshot_UntouchedKeysUnaffectedByRestore(t *testing.T) {
	book := ledger.NewBalanceBook()
	touched := officeKey("HQ", "item-1")
	other := officeKey("HQ", "item-2")
	q, _ := ledger.Normalize("quantity", 7)

	_, err := book.Apply(other, ledger.EventIssueIn, q)
	require.NoError(t, err)

	snap := book.Snapshot([]ledger.BalanceKey{touched})
	snap.Restore()

	bal, ok := book.Get(other)
	require.True(t, ok)
	assert.Equal(t, "7.00", bal.QtyOnHand.StringFixed(2))
}
