package finance_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/fee-engine/finance"
)

// twoChildFamily: a (owes 5000) and b (owes 3000) with one wallet.
func twoChildFamily(t *testing.T, method finance.DistributionType) (*world, finance.Parent, finance.Wallet, finance.Student, finance.Student) {
	w := newWorld(t)
	w.tuition("JSS1", 5000)
	w.tuition("JSS3", 3000)
	a := w.student("a", "JSS1")
	b := w.student("b", "JSS3")
	p := w.parent("parent-1", method, a, b)
	return w, p, w.wallet(p), a, b
}

// =============================================================================
// LIVE ALLOCATION
// =============================================================================

func TestLedger_SpreadSettlement(t *testing.T) {
	// GIVEN: Two children owing 5000 and 3000, SPREAD
	// WHEN: 4000 lands in the wallet
	// THEN: 2000 each, ALLOCATED, wallet credited, one event queued

	w, _, wallet, a, b := twoChildFamily(t, finance.DistributionSpread)

	receipt := w.pay(w.ledger(), wallet, "ref-1", "4000")

	assert.False(t, receipt.Duplicate)
	assert.Equal(t, finance.AllocationComplete, receipt.Settlement.AllocationStatus)
	assert.Equal(t, map[finance.StudentID]string{a.ID: "2000.00", b.ID: "2000.00"}, sharesByStudent(receipt.Allocations))
	assert.Equal(t, 1, receipt.Allocations[0].Order)
	assert.Equal(t, 2, receipt.Allocations[1].Order)
	assert.Equal(t, "Spread distribution - child 1 of 2", receipt.Allocations[0].Notes)
	require.NotNil(t, receipt.Settlement.SessionID)
	assert.Equal(t, testSession, *receipt.Settlement.SessionID)
	require.NotNil(t, receipt.Settlement.TermID)
	assert.Equal(t, firstTerm, *receipt.Settlement.TermID)

	stored, err := w.store.GetWallet(w.ctx, wallet.ID)
	require.NoError(t, err)
	assert.Equal(t, "4000.00", stored.Balance.String())

	events, err := w.store.PendingEvents(w.ctx, 10, 5)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, finance.EventSettlementRecorded, events[0].Kind)

	var payload finance.SettlementRecordedPayload
	require.NoError(t, events[0].Decode(&payload))
	assert.Equal(t, "ref-1", payload.Reference)
	assert.Equal(t, 2, payload.Allocations)
}

func TestLedger_SequentialAccountsForPriorAllocations(t *testing.T) {
	// GIVEN: Two children owing 5000 and 3000, SEQUENTIAL
	// WHEN: 4000 arrives twice
	// THEN: First payment all to a; second clears a (1000) and gives b 3000

	w, _, wallet, a, b := twoChildFamily(t, finance.DistributionSequential)
	ledger := w.ledger()

	first := w.pay(ledger, wallet, "ref-1", "4000")
	assert.Equal(t, map[finance.StudentID]string{a.ID: "4000.00"}, sharesByStudent(first.Allocations))

	second := w.pay(ledger, wallet, "ref-2", "4000")
	assert.Equal(t, map[finance.StudentID]string{a.ID: "1000.00", b.ID: "3000.00"}, sharesByStudent(second.Allocations))
	assert.Equal(t, "1000.00", second.Allocations[0].BalanceBefore.String())
	assert.Equal(t, "0.00", second.Allocations[0].BalanceAfter.String())
}

func TestLedger_PriorityOrderWins(t *testing.T) {
	w := newWorld(t)
	w.tuition("JSS1", 5000)
	a := w.student("a", "JSS1")
	b := w.student("b", "JSS1")
	p := w.parent("parent-1", finance.DistributionSequential, a, b)
	p.PriorityOrder = []finance.StudentID{b.ID}
	require.NoError(t, w.store.SaveParent(w.ctx, p))
	wallet := w.wallet(p)

	receipt := w.pay(w.ledger(), wallet, "ref-1", "1000")
	assert.Equal(t, map[finance.StudentID]string{b.ID: "1000.00"}, sharesByStudent(receipt.Allocations))
}

func TestLedger_LiveAllocationIgnoresInvoicePayments(t *testing.T) {
	// GIVEN: a owes 5000, all of it already paid by invoice; b owes 3000; SEQUENTIAL
	// WHEN: 4000 lands in the wallet
	// THEN: Live allocation nets only prior allocations, so a still takes 4000
	// AND: The breakdown re-derivation nets invoices and shows the money against b

	w, p, wallet, a, b := twoChildFamily(t, finance.DistributionSequential)
	w.invoicePaid("inv-1", a, 500000)

	receipt := w.pay(w.ledger(), wallet, "ref-1", "4000")
	assert.Equal(t, map[finance.StudentID]string{a.ID: "4000.00"}, sharesByStudent(receipt.Allocations))
	assert.Equal(t, finance.AllocationComplete, receipt.Settlement.AllocationStatus)

	report, err := finance.NewBalanceAggregator(w.store).FeeBreakdown(w.ctx, p.ID, nil, nil)
	require.NoError(t, err)
	require.Len(t, report.Children, 2)

	rowA, rowB := report.Children[0], report.Children[1]
	assert.Equal(t, a.ID, rowA.Student.ID)
	assert.Equal(t, "4000.00", rowA.PersistedAllocated.String())
	assert.True(t, rowA.WalletAllocated.IsZero())
	assert.Equal(t, b.ID, rowB.Student.ID)
	assert.True(t, rowB.PersistedAllocated.IsZero())
	assert.Equal(t, "3000.00", rowB.WalletAllocated.String())
	assert.Equal(t, "1000.00", report.WalletUndistributed.String())
}

func TestLedger_OverpaymentIsPartial(t *testing.T) {
	// GIVEN: Children owing 5000 and 3000
	// WHEN: 9000 arrives
	// THEN: PARTIAL with 1000 unallocated

	w, _, wallet, _, _ := twoChildFamily(t, finance.DistributionSpread)

	receipt := w.pay(w.ledger(), wallet, "ref-1", "9000")

	assert.Equal(t, finance.AllocationPartial, receipt.Settlement.AllocationStatus)
	assert.Equal(t, "1000.00", receipt.Settlement.UnallocatedAmount.String())
	assert.Equal(t, "8000.00", finance.SumMoney(receipt.Allocations[0].Amount, receipt.Allocations[1].Amount).String())
}

func TestLedger_NothingOwed_Unallocated(t *testing.T) {
	w, _, wallet, _, _ := twoChildFamily(t, finance.DistributionSpread)
	ledger := w.ledger()
	w.pay(ledger, wallet, "ref-1", "8000")

	receipt := w.pay(ledger, wallet, "ref-2", "500")

	assert.Equal(t, finance.AllocationUnassigned, receipt.Settlement.AllocationStatus)
	assert.Empty(t, receipt.Allocations)

	events, err := w.store.PendingEvents(w.ctx, 10, 5)
	require.NoError(t, err)
	kinds := make([]finance.EventKind, len(events))
	for i, e := range events {
		kinds[i] = e.Kind
	}
	assert.Contains(t, kinds, finance.EventSettlementUnallocated)
}

// =============================================================================
// IDEMPOTENCY & VALIDATION
// =============================================================================

func TestLedger_DuplicateReference_ReturnsOriginal(t *testing.T) {
	// GIVEN: A settlement recorded under ref-1
	// WHEN: The gateway retries ref-1
	// THEN: The original is returned, nothing new is written

	w, _, wallet, a, _ := twoChildFamily(t, finance.DistributionSpread)
	ledger := w.ledger()

	first := w.pay(ledger, wallet, "ref-1", "4000")
	again := w.pay(ledger, wallet, "ref-1", "4000")

	assert.True(t, again.Duplicate)
	assert.Equal(t, first.Settlement.ID, again.Settlement.ID)
	assert.Len(t, again.Allocations, 2)

	allocations, err := w.store.AllocationsByStudent(w.ctx, a.ID, testSession, nil)
	require.NoError(t, err)
	assert.Len(t, allocations, 1)

	stored, err := w.store.GetWallet(w.ctx, wallet.ID)
	require.NoError(t, err)
	assert.Equal(t, "4000.00", stored.Balance.String())
}

func TestLedger_RejectsBadInput(t *testing.T) {
	w, _, wallet, _, _ := twoChildFamily(t, finance.DistributionSpread)
	ledger := w.ledger()

	tests := []struct {
		name      string
		amount    string
		reference string
		want      error
	}{
		{"zero amount", "0", "ref-z", finance.ErrInvalidAmount},
		{"negative amount", "-10", "ref-n", finance.ErrInvalidAmount},
		{"three decimals", "10.001", "ref-d", finance.ErrInvalidAmount},
		{"blank reference", "10", "   ", finance.ErrInvalidReference},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ledger.RecordSettlement(w.ctx, finance.RecordSettlementRequest{
				WalletID: wallet.ID, Amount: money(tt.amount), Reference: tt.reference,
			})
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, finance.IsClientError(err))
		})
	}
}

// =============================================================================
// UNATTRIBUTABLE MONEY
// =============================================================================

func TestLedger_UnknownWallet_StoredUnallocated(t *testing.T) {
	// GIVEN: A webhook naming a wallet that does not exist
	// WHEN: Recording it
	// THEN: The settlement is kept, UNALLOCATED, and the caller is told

	w := newWorld(t)
	ledger := w.ledger()

	receipt, err := ledger.RecordSettlement(w.ctx, finance.RecordSettlementRequest{
		SchoolID: testSchool, WalletID: "ghost", Amount: money("2500"), Reference: "ref-ghost",
	})

	var unallocated *finance.UnallocatedSettlementError
	require.ErrorAs(t, err, &unallocated)
	assert.ErrorIs(t, err, finance.ErrWalletNotFound)
	assert.Equal(t, "ref-ghost", unallocated.Reference)
	assert.Equal(t, finance.AllocationUnassigned, receipt.Settlement.AllocationStatus)
	assert.Equal(t, "2500.00", receipt.Settlement.UnallocatedAmount.String())

	stored, err := ledger.Receipt(w.ctx, "ref-ghost")
	require.NoError(t, err)
	assert.Nil(t, stored.Settlement.WalletID)
}

func TestLedger_NoAcademicSession_Unallocated(t *testing.T) {
	// GIVEN: A school with no academic session at all
	// WHEN: Money arrives
	// THEN: Stored UNALLOCATED, no error

	w := newEmptyWorld(t)
	kid := w.student("kid", "")
	p := w.parent("p", finance.DistributionSpread, kid)
	wallet := w.wallet(p)

	receipt := w.pay(w.ledger(), wallet, "ref-1", "100")

	assert.Equal(t, finance.AllocationUnassigned, receipt.Settlement.AllocationStatus)
	assert.Nil(t, receipt.Settlement.SessionID)
}

// =============================================================================
// MANUAL SETTLEMENTS
// =============================================================================

func TestLedger_ManualSettlement(t *testing.T) {
	// GIVEN: A parent with a wallet
	// WHEN: An administrator records a cash payment
	// THEN: MANUAL-xxxxxxxx reference, reimbursed, allocated like any other

	w, p, _, a, b := twoChildFamily(t, finance.DistributionSpread)
	ledger := w.ledger()

	receipt, err := ledger.RecordManualSettlement(w.ctx, finance.ManualSettlementRequest{
		ParentID: p.ID, Amount: money("1000"), Notes: "cash at bursary", RecordedBy: "bursar",
	})
	require.NoError(t, err)

	s := receipt.Settlement
	assert.Regexp(t, `^MANUAL-[0-9A-F]{8}$`, s.Reference)
	assert.Equal(t, finance.ChannelManual, s.Channel)
	assert.Equal(t, finance.SettlementManual, s.Type())
	assert.True(t, s.Reimbursed)
	assert.Equal(t, p.Email, s.PayerEmail)
	assert.Equal(t, finance.ManualSource{Notes: "cash at bursary", RecordedBy: "bursar"}, s.Source)
	assert.Equal(t, map[finance.StudentID]string{a.ID: "500.00", b.ID: "500.00"}, sharesByStudent(receipt.Allocations))

	// Manual settlements never wait for reimbursement; gateway ones do.
	w.pay(ledger, w.mustWallet(p), "gw-1", "200")
	pending, err := ledger.PendingReimbursement(w.ctx, testSchool)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "gw-1", pending[0].Reference)
}

func TestLedger_ManualSettlement_NoWallet(t *testing.T) {
	w := newWorld(t)
	p := w.parent("walletless", finance.DistributionSpread)

	_, err := w.ledger().RecordManualSettlement(w.ctx, finance.ManualSettlementRequest{
		ParentID: p.ID, Amount: money("1000"),
	})
	assert.ErrorIs(t, err, finance.ErrNoWallet)
}

func (w *world) mustWallet(p finance.Parent) finance.Wallet {
	wallet, err := w.store.WalletByParent(w.ctx, p.ID)
	require.NoError(w.t, err)
	return wallet
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestLedger_ConcurrentSettlementsNeverOverAllocate(t *testing.T) {
	// GIVEN: Children owing 5000 and 3000
	// WHEN: Twelve payments of 1000 arrive at once
	// THEN: Exactly 8000 is allocated, no child past their fees

	w, _, wallet, a, b := twoChildFamily(t, finance.DistributionSpread)
	ledger := w.ledger()

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := ledger.RecordSettlement(w.ctx, finance.RecordSettlementRequest{
				WalletID: wallet.ID, Amount: money("1000"), Reference: fmt.Sprintf("ref-%d", i),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	totalA, err := w.store.AllocatedTotal(w.ctx, a.ID, testSession, nil)
	require.NoError(t, err)
	totalB, err := w.store.AllocatedTotal(w.ctx, b.ID, testSession, nil)
	require.NoError(t, err)
	assert.Equal(t, "5000.00", totalA.String())
	assert.Equal(t, "3000.00", totalB.String())

	stored, err := w.store.GetWallet(w.ctx, wallet.ID)
	require.NoError(t, err)
	assert.Equal(t, "12000.00", stored.Balance.String())
}

func TestLedger_ConcurrentDuplicateReference(t *testing.T) {
	w, _, wallet, _, _ := twoChildFamily(t, finance.DistributionSpread)
	ledger := w.ledger()

	var wg sync.WaitGroup
	ids := make([]finance.SettlementID, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			receipt, err := ledger.RecordSettlement(w.ctx, finance.RecordSettlementRequest{
				WalletID: wallet.ID, Amount: money("100"), Reference: "same-ref",
			})
			assert.NoError(t, err)
			ids[i] = receipt.Settlement.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	all, err := w.store.Settlements(w.ctx, finance.SettlementFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
