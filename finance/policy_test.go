package finance_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/fee-engine/finance"
)

func debtors(amounts ...string) []finance.Debtor {
	ids := []finance.StudentID{"a", "b", "c", "d"}
	out := make([]finance.Debtor, len(amounts))
	for i, amount := range amounts {
		out[i] = finance.Debtor{StudentID: ids[i], Outstanding: money(amount)}
	}
	return out
}

func shareMap(shares []finance.Share) map[finance.StudentID]string {
	out := make(map[finance.StudentID]string, len(shares))
	for _, s := range shares {
		out[s.StudentID] = s.Amount.String()
	}
	return out
}

// =============================================================================
// SPREAD
// =============================================================================

func TestSpread_EqualSplitBetweenDebtors(t *testing.T) {
	// GIVEN: Two children owing 5000 and 3000
	// WHEN: 4000 arrives under SPREAD
	// THEN: Each child gets 2000

	shares := finance.SpreadPolicy{}.Distribute(finance.NewMoney(4000), debtors("5000", "3000"))

	assert.Equal(t, map[finance.StudentID]string{"a": "2000.00", "b": "2000.00"}, shareMap(shares))
	assert.Equal(t, "3000.00", shares[0].After.String())
	assert.Equal(t, "1000.00", shares[1].After.String())
}

func TestSpread_MoreThanTotalDebt_LeavesRemainder(t *testing.T) {
	// GIVEN: Two children owing 5000 and 3000
	// WHEN: 9000 arrives
	// THEN: Both are cleared and 1000 is left undistributed

	shares := finance.SpreadPolicy{}.Distribute(finance.NewMoney(9000), debtors("5000", "3000"))

	assert.Equal(t, map[finance.StudentID]string{"a": "5000.00", "b": "3000.00"}, shareMap(shares))
	assert.Equal(t, "8000.00", finance.TotalShares(shares).String())
}

func TestSpread_CappedChildReleasesMoneyToOthers(t *testing.T) {
	// GIVEN: Children owing 5000 and 1000
	// WHEN: 6000 arrives
	// THEN: The second child is capped at 1000 and the rest goes to the first

	shares := finance.SpreadPolicy{}.Distribute(finance.NewMoney(6000), debtors("5000", "1000"))

	assert.Equal(t, map[finance.StudentID]string{"a": "5000.00", "b": "1000.00"}, shareMap(shares))
}

func TestSpread_LeftoverCentsGoToFirstDebtor(t *testing.T) {
	// GIVEN: Three children owing 1000 each
	// WHEN: 100.01 arrives
	// THEN: 33.33 each, the 2 leftover cents go to the first child

	shares := finance.SpreadPolicy{}.Distribute(money("100.01"), debtors("1000", "1000", "1000"))

	assert.Equal(t, map[finance.StudentID]string{"a": "33.35", "b": "33.33", "c": "33.33"}, shareMap(shares))
	assert.Equal(t, "100.01", finance.TotalShares(shares).String())
}

func TestSpread_LeftoverCentsNeverExceedDebt(t *testing.T) {
	// GIVEN: First child owes 0.01, second owes 10
	// WHEN: 0.03 arrives
	// THEN: First gets 0.01, second 0.02

	shares := finance.SpreadPolicy{}.Distribute(money("0.03"), debtors("0.01", "10"))

	assert.Equal(t, map[finance.StudentID]string{"a": "0.01", "b": "0.02"}, shareMap(shares))
}

func TestSpread_NoDebtors_NoShares(t *testing.T) {
	shares := finance.SpreadPolicy{}.Distribute(finance.NewMoney(500), debtors("0", "0"))
	assert.Empty(t, shares)
}

// =============================================================================
// SEQUENTIAL
// =============================================================================

func TestSequential_FirstChildFirst(t *testing.T) {
	// GIVEN: Two children owing 5000 and 3000
	// WHEN: 4000 arrives under SEQUENTIAL
	// THEN: Everything goes to the first child

	shares := finance.SequentialPolicy{}.Distribute(finance.NewMoney(4000), debtors("5000", "3000"))

	require.Len(t, shares, 1)
	assert.Equal(t, finance.StudentID("a"), shares[0].StudentID)
	assert.Equal(t, "4000.00", shares[0].Amount.String())
	assert.Equal(t, "1000.00", shares[0].After.String())
}

func TestSequential_SpillsToNextChild(t *testing.T) {
	shares := finance.SequentialPolicy{}.Distribute(finance.NewMoney(7000), debtors("5000", "3000"))

	assert.Equal(t, map[finance.StudentID]string{"a": "5000.00", "b": "2000.00"}, shareMap(shares))
}

func TestSequential_SkipsClearedChildren(t *testing.T) {
	shares := finance.SequentialPolicy{}.Distribute(finance.NewMoney(100), debtors("0", "300"))

	require.Len(t, shares, 1)
	assert.Equal(t, finance.StudentID("b"), shares[0].StudentID)
}

// =============================================================================
// REGISTRY, ORDERING, CONSERVATION
// =============================================================================

func TestPolicyFor_DefaultsToSpread(t *testing.T) {
	assert.Equal(t, finance.DistributionSpread, finance.PolicyFor("").Type())
	assert.Equal(t, finance.DistributionSpread, finance.PolicyFor("ROUND_ROBIN").Type())
	assert.Equal(t, finance.DistributionSequential, finance.PolicyFor(finance.DistributionSequential).Type())
	assert.Equal(t, finance.DistributionSpread, finance.ParseDistributionType("weird"))
}

func TestOrderChildren_PriorityThenCreation(t *testing.T) {
	// GIVEN: Children a, b, c in creation order; priority [c, a, ghost]
	// WHEN: Ordering
	// THEN: c, a, then b; unknown ids are ignored

	children := []finance.Student{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	ordered := finance.OrderChildren(children, []finance.StudentID{"c", "a", "ghost"})

	ids := make([]finance.StudentID, len(ordered))
	for i, s := range ordered {
		ids[i] = s.ID
	}
	assert.Equal(t, []finance.StudentID{"c", "a", "b"}, ids)
	assert.Equal(t, finance.StudentID("a"), children[0].ID, "input must not be reordered")
}

func TestCheckConservation(t *testing.T) {
	ok := []finance.Share{{StudentID: "a", Amount: finance.NewMoney(60), Before: finance.NewMoney(60)}}
	assert.NoError(t, finance.CheckConservation("s-1", finance.NewMoney(100), ok))

	over := []finance.Share{
		{StudentID: "a", Amount: finance.NewMoney(60)},
		{StudentID: "b", Amount: finance.NewMoney(60)},
	}
	err := finance.CheckConservation("s-1", finance.NewMoney(100), over)
	var overflow *finance.AllocationOverflowError
	require.ErrorAs(t, err, &overflow)
	assert.Equal(t, "120.00", overflow.Allocated.String())
	assert.True(t, errors.Is(err, finance.ErrAllocationOverflow))

	pastDebt := []finance.Share{{StudentID: "a", Amount: finance.NewMoney(60), After: finance.NewMoney(-10)}}
	assert.ErrorIs(t, finance.CheckConservation("s-1", finance.NewMoney(100), pastDebt), finance.ErrAllocationOverflow)
}

// =============================================================================
// MONEY HELPERS
// =============================================================================

func TestStaffDiscount_Apply(t *testing.T) {
	tests := []struct {
		name     string
		discount finance.StaffDiscount
		amount   string
		want     string
	}{
		{"ten percent", finance.StaffDiscount{Type: finance.DiscountPercentage, Value: decimal.NewFromInt(10)}, "1000", "900.00"},
		{"flat", finance.StaffDiscount{Type: finance.DiscountFlat, Value: decimal.NewFromInt(200)}, "1000", "800.00"},
		{"flat above base", finance.StaffDiscount{Type: finance.DiscountFlat, Value: decimal.NewFromInt(1500)}, "1000", "0.00"},
		{"rounds down", finance.StaffDiscount{Type: finance.DiscountPercentage, Value: decimal.RequireFromString("33.333")}, "100", "66.66"},
		{"none", finance.StaffDiscount{Type: finance.DiscountNone}, "1000", "1000.00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.discount.Apply(money(tt.amount)).String())
		})
	}
}

func TestClassifyDebt(t *testing.T) {
	assert.Equal(t, finance.DebtCleared, finance.ClassifyDebt(finance.Money{}))
	assert.Equal(t, finance.DebtLow, finance.ClassifyDebt(finance.NewMoney(49999)))
	assert.Equal(t, finance.DebtMedium, finance.ClassifyDebt(finance.NewMoney(50000)))
	assert.Equal(t, finance.DebtHigh, finance.ClassifyDebt(finance.NewMoney(200000)))
}

func TestMoney_ScaleAndMinorUnits(t *testing.T) {
	assert.True(t, money("10.50").HasValidScale())
	assert.False(t, money("10.505").HasValidScale())
	assert.Equal(t, int64(1050), money("10.50").MinorUnits())
	assert.Equal(t, "10.50", finance.MoneyFromMinor(1050).String())
	assert.Equal(t, "3.33", finance.NewMoney(10).SplitDown(3).String())
}
