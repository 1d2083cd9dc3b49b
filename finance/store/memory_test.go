package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/fee-engine/finance"
	"github.com/warp/fee-engine/finance/store"
)

func TestMemory_WithTxRollsBack(t *testing.T) {
	// GIVEN: A wallet
	// WHEN: A transaction appends a settlement, credits the wallet, then fails
	// THEN: Neither write survives

	ctx := context.Background()
	m := store.NewMemory()
	require.NoError(t, m.SaveWallet(ctx, finance.Wallet{ID: "w1", ParentID: "p1", IsActive: true}))

	boom := errors.New("boom")
	err := m.WithTx(ctx, func(tx finance.Store) error {
		require.NoError(t, tx.AppendSettlement(ctx, finance.Settlement{ID: "s1", Reference: "r1", Amount: finance.NewMoney(10)}))
		require.NoError(t, tx.CreditWallet(ctx, "w1", finance.NewMoney(10)))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = m.SettlementByReference(ctx, "r1")
	assert.ErrorIs(t, err, finance.ErrEntityNotFound)
	w, err := m.GetWallet(ctx, "w1")
	require.NoError(t, err)
	assert.True(t, w.Balance.IsZero())
}

func TestMemory_DuplicateReference(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	require.NoError(t, m.AppendSettlement(ctx, finance.Settlement{ID: "s1", Reference: "r1"}))

	err := m.AppendSettlement(ctx, finance.Settlement{ID: "s2", Reference: "r1"})
	assert.ErrorIs(t, err, finance.ErrDuplicateReference)
}

func TestMemory_ClassFeeItemTermFilter(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	t1, t2 := finance.TermID("t1"), finance.TermID("t2")
	require.NoError(t, m.SaveFeeItem(ctx, finance.FeeItem{ID: "f", Name: "Fee", Amount: finance.NewMoney(5)}))
	require.NoError(t, m.SaveFeeItem(ctx, finance.FeeItem{ID: "g", Name: "Retired", Amount: finance.NewMoney(7)}))
	for _, c := range []finance.ClassFeeItem{
		{ID: "a", ClassID: "c", SessionID: "s", TermID: &t1, FeeItem: finance.FeeItem{ID: "f"}, IsActive: true},
		{ID: "b", ClassID: "c", SessionID: "s", TermID: &t2, FeeItem: finance.FeeItem{ID: "f"}, IsActive: true},
		{ID: "c", ClassID: "c", SessionID: "s", FeeItem: finance.FeeItem{ID: "f"}, IsActive: true},
		{ID: "d", ClassID: "c", SessionID: "s", TermID: &t1, FeeItem: finance.FeeItem{ID: "g"}, IsActive: false},
	} {
		require.NoError(t, m.SaveClassFeeItem(ctx, c))
	}

	// (class, item, session, term) is unique, inactive rows included.
	err := m.SaveClassFeeItem(ctx, finance.ClassFeeItem{ID: "e", ClassID: "c", SessionID: "s", TermID: &t1, FeeItem: finance.FeeItem{ID: "g"}})
	assert.Error(t, err)

	items, err := m.ClassFeeItems(ctx, "c", "s", &t1)
	require.NoError(t, err)
	require.Len(t, items, 2, "inactive rows are filtered out")
	assert.Equal(t, finance.ClassFeeItemID("a"), items[0].ID)
	assert.Equal(t, "Fee", items[0].FeeItem.Name, "fee item is joined on read")

	all, err := m.ClassFeeItems(ctx, "c", "s", nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestMemory_PendingEventsRespectsAttempts(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	require.NoError(t, m.AppendEvent(ctx, finance.OutboxEvent{ID: "e1", Kind: finance.EventSettlementRecorded}))

	for i := 0; i < 3; i++ {
		require.NoError(t, m.MarkEventFailed(ctx, "e1", "smtp down"))
	}
	pending, err := m.PendingEvents(ctx, 10, 3)
	require.NoError(t, err)
	assert.Empty(t, pending)

	pending, err = m.PendingEvents(ctx, 10, 5)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "smtp down", pending[0].LastError)
}
