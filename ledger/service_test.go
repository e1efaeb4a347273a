package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keel/stock-ledger/ledger"
	"github.com/keel/stock-ledger/ledger/store"
)

// =============================================================================
// LIVE MUTATION PATH
// =============================================================================

func TestService_IssueThenConsume(t *testing.T) {
	// GIVEN: an empty ledger
	// WHEN: issuing 50.00 to an office, then consuming 20.00
	// THEN: the balance reads {in:50, out:20, on_hand:30} and both
	//       transactions are recorded

	ctx := context.Background()
	svc := ledger.NewService(store.NewMemory())

	res, err := svc.Issue(ctx, ledger.IssueInput{
		IssueID:    "iss-1",
		LotID:      "lot-1",
		ItemID:     "item-1",
		HolderType: ledger.HolderOffice,
		HolderID:   "HQ",
		Quantity:   50,
		Actor:      "alice",
	})
	require.NoError(t, err)
	require.False(t, res.Duplicate)
	require.Len(t, res.Transactions, 1)
	assert.Equal(t, ledger.EventIssueIn, res.Transactions[0].EventType)
	assert.Equal(t, "iss-1", res.Transactions[0].Source.IssueID)
	assert.Equal(t, "lot-1", res.Transactions[0].Source.LotID)

	res, err = svc.Consume(ctx, ledger.ConsumeInput{
		ConsumptionID: "con-1",
		HolderType:    ledger.HolderOffice,
		HolderID:      "HQ",
		ItemID:        "item-1",
		Quantity:      20,
		Actor:         "alice",
	})
	require.NoError(t, err)
	require.Len(t, res.Balances, 1)
	assert.Equal(t, "50.00", res.Balances[0].QtyIn.StringFixed(2))
	assert.Equal(t, "20.00", res.Balances[0].QtyOut.StringFixed(2))
	assert.Equal(t, "30.00", res.Balances[0].QtyOnHand.StringFixed(2))

	bal, err := svc.Balance(ctx, officeKey("HQ", "item-1"))
	require.NoError(t, err)
	require.NotNil(t, bal)
	assert.Equal(t, "30.00", bal.QtyOnHand.StringFixed(2))

	txs, err := svc.Transactions(ctx, ledger.TransactionFilter{HolderID: "HQ"})
	require.NoError(t, err)
	assert.Len(t, txs, 2)
}

func TestService_Overdraw_RejectedAndNothingWritten(t *testing.T) {
	ctx := context.Background()
	svc := ledger.NewService(store.NewMemory())

	_, err := svc.Issue(ctx, ledger.IssueInput{
		IssueID: "iss-1", LotID: "lot-1", ItemID: "item-1",
		HolderType: ledger.HolderUser, HolderID: "u-1",
		Quantity: 5, Actor: "alice",
	})
	require.NoError(t, err)

	_, err = svc.Consume(ctx, ledger.ConsumeInput{
		ConsumptionID: "con-1",
		HolderType:    ledger.HolderUser, HolderID: "u-1", ItemID: "item-1",
		Quantity: 10, Actor: "alice",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	// The failed consumption left no trace.
	bal, err := svc.Balance(ctx, userKey("u-1", "item-1"))
	require.NoError(t, err)
	require.NotNil(t, bal)
	assert.Equal(t, "5.00", bal.QtyOnHand.StringFixed(2))

	txs, err := svc.Transactions(ctx, ledger.TransactionFilter{HolderID: "u-1"})
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestService_DuplicateIssue_IsNoOp(t *testing.T) {
	// GIVEN: an issue already applied
	// WHEN: the same issue id arrives again
	// THEN: the retry reports Duplicate and the balance is unchanged

	ctx := context.Background()
	svc := ledger.NewService(store.NewMemory())

	in := ledger.IssueInput{
		IssueID: "iss-1", LotID: "lot-1", ItemID: "item-1",
		HolderType: ledger.HolderOffice, HolderID: "HQ",
		Quantity: 50, Actor: "alice",
	}

	first, err := svc.Issue(ctx, in)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := svc.Issue(ctx, in)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Empty(t, second.Transactions)

	bal, err := svc.Balance(ctx, officeKey("HQ", "item-1"))
	require.NoError(t, err)
	assert.Equal(t, "50.00", bal.QtyOnHand.StringFixed(2))

	txs, err := svc.Transactions(ctx, ledger.TransactionFilter{})
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestService_Return_UserToOffice_TwoLegsOneUnit(t *testing.T) {
	ctx := context.Background()
	svc := ledger.NewService(store.NewMemory())

	_, err := svc.Issue(ctx, ledger.IssueInput{
		IssueID: "iss-1", LotID: "lot-1", ItemID: "item-1",
		HolderType: ledger.HolderUser, HolderID: "u-1",
		Quantity: 10, Actor: "alice",
	})
	require.NoError(t, err)

	res, err := svc.Return(ctx, ledger.ReturnInput{
		ReturnID: "ret-1",
		Mode:     ledger.ReturnUserToOffice,
		UserID:   "u-1",
		OfficeID: "HQ",
		ItemID:   "item-1",
		Quantity: 4,
		Actor:    "bob",
	})
	require.NoError(t, err)
	require.Len(t, res.Transactions, 2)
	require.Len(t, res.Balances, 2)

	user, err := svc.Balance(ctx, userKey("u-1", "item-1"))
	require.NoError(t, err)
	assert.Equal(t, "6.00", user.QtyOnHand.StringFixed(2))

	office, err := svc.Balance(ctx, officeKey("HQ", "item-1"))
	require.NoError(t, err)
	assert.Equal(t, "4.00", office.QtyOnHand.StringFixed(2))
}

func TestService_Return_AtomicWhenFirstLegOverdraws(t *testing.T) {
	// GIVEN: a user holding 2.00
	// WHEN: returning 4.00 user-to-office
	// THEN: the whole unit fails; the office never gains the in leg

	ctx := context.Background()
	svc := ledger.NewService(store.NewMemory())

	_, err := svc.Issue(ctx, ledger.IssueInput{
		IssueID: "iss-1", LotID: "lot-1", ItemID: "item-1",
		HolderType: ledger.HolderUser, HolderID: "u-1",
		Quantity: 2, Actor: "alice",
	})
	require.NoError(t, err)

	_, err = svc.Return(ctx, ledger.ReturnInput{
		ReturnID: "ret-1",
		Mode:     ledger.ReturnUserToOffice,
		UserID:   "u-1",
		OfficeID: "HQ",
		ItemID:   "item-1",
		Quantity: 4,
		Actor:    "bob",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	office, err := svc.Balance(ctx, officeKey("HQ", "item-1"))
	require.NoError(t, err)
	assert.Nil(t, office)

	user, err := svc.Balance(ctx, userKey("u-1", "item-1"))
	require.NoError(t, err)
	assert.Equal(t, "2.00", user.QtyOnHand.StringFixed(2))
}

func TestService_DuplicateReturn_IsNoOp(t *testing.T) {
	ctx := context.Background()
	svc := ledger.NewService(store.NewMemory())

	_, err := svc.Issue(ctx, ledger.IssueInput{
		IssueID: "iss-1", LotID: "lot-1", ItemID: "item-1",
		HolderType: ledger.HolderUser, HolderID: "u-1",
		Quantity: 10, Actor: "alice",
	})
	require.NoError(t, err)

	in := ledger.ReturnInput{
		ReturnID: "ret-1",
		Mode:     ledger.ReturnUserToOffice,
		UserID:   "u-1", OfficeID: "HQ", ItemID: "item-1",
		Quantity: 4, Actor: "bob",
	}
	_, err = svc.Return(ctx, in)
	require.NoError(t, err)

	second, err := svc.Return(ctx, in)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)

	office, err := svc.Balance(ctx, officeKey("HQ", "item-1"))
	require.NoError(t, err)
	assert.Equal(t, "4.00", office.QtyOnHand.StringFixed(2))
}

func TestService_Adjust_InAndOut(t *testing.T) {
	ctx := context.Background()
	svc := ledger.NewService(store.NewMemory())

	res, err := svc.Adjust(ctx, ledger.AdjustInput{
		Reference:  "stocktake-2024-01",
		HolderType: ledger.HolderOffice, HolderID: "HQ", ItemID: "item-1",
		EventType: ledger.EventAdjustIn,
		Quantity:  3.5,
		Actor:     "carol",
	})
	require.NoError(t, err)
	require.Len(t, res.Balances, 1)
	assert.Equal(t, "3.50", res.Balances[0].QtyOnHand.StringFixed(2))

	_, err = svc.Adjust(ctx, ledger.AdjustInput{
		Reference:  "stocktake-2024-02",
		HolderType: ledger.HolderOffice, HolderID: "HQ", ItemID: "item-1",
		EventType: ledger.EventAdjustOut,
		Quantity:  1.25,
		Actor:     "carol",
	})
	require.NoError(t, err)

	bal, err := svc.Balance(ctx, officeKey("HQ", "item-1"))
	require.NoError(t, err)
	assert.Equal(t, "2.25", bal.QtyOnHand.StringFixed(2))
}

func TestService_Adjust_RejectsNonAdjustEventType(t *testing.T) {
	ctx := context.Background()
	svc := ledger.NewService(store.NewMemory())

	_, err := svc.Adjust(ctx, ledger.AdjustInput{
		Reference:  "ref-1",
		HolderType: ledger.HolderOffice, HolderID: "HQ", ItemID: "item-1",
		EventType: ledger.EventIssueIn,
		Quantity:  1,
		Actor:     "carol",
	})
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestService_MissingActor_Rejected(t *testing.T) {
	ctx := context.Background()
	svc := ledger.NewService(store.NewMemory())

	_, err := svc.Issue(ctx, ledger.IssueInput{
		IssueID: "iss-1", LotID: "lot-1", ItemID: "item-1",
		HolderType: ledger.HolderOffice, HolderID: "HQ",
		Quantity: 50,
	})
	assert.ErrorIs(t, err, ledger.ErrMissingActor)
}

func TestService_ExplicitTimestamp_Preserved(t *testing.T) {
	ctx := context.Background()
	svc := ledger.NewService(store.NewMemory())

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	res, err := svc.Issue(ctx, ledger.IssueInput{
		IssueID: "iss-1", LotID: "lot-1", ItemID: "item-1",
		HolderType: ledger.HolderOffice, HolderID: "HQ",
		Quantity: 50, Actor: "alice", At: at,
	})
	require.NoError(t, err)
	require.Len(t, res.Transactions, 1)
	assert.True(t, res.Transactions[0].PerformedAt.Equal(at))
}

// =============================================================================
// UNIT KEYS
// =============================================================================

func TestUnitKeys_DistinctAndOrdered(t *testing.T) {
	legs, err := ledger.ReturnLegs(ledger.ReturnUserToOffice, "u-1", "HQ", "item-1", "", 4, "ret-1")
	require.NoError(t, err)

	keys := ledger.UnitKeys(legs)
	require.Len(t, keys, 2)
	assert.True(t, keys[0].String() < keys[1].String())
}
