/*
policy.go - Distribution policies and their registry

PURPOSE:
  A parent's wallet is shared by all of their children. When money lands
  in it, a DistributionPolicy decides how much each child receives. The
  same policies run in two places:
  - allocation.go: live allocation of one settlement (persisted)
  - balance.go:    display-time re-derivation of the wallet total

POLICIES:
  Sequential:
    Pay children off one at a time, in order. A later child receives
    nothing while an earlier child still owes and money remains.

  Spread (default):
    Split the remainder equally (rounded down to the cent) among children
    still in debt, capped at each child's debt, and repeat. Stops when no
    debtor remains or a round moves nothing. Leftover cents go to the first
    remaining debtor(s), never past what they owe.

EXAMPLE:
  debtors := []Debtor{{StudentID: "a", Outstanding: NewMoney(5000)},
                      {StudentID: "b", Outstanding: NewMoney(3000)}}
  PolicyFor(DistributionSpread).Distribute(NewMoney(4000), debtors)
  // a: 2000, b: 2000
  PolicyFor(DistributionSequential).Distribute(NewMoney(4000), debtors)
  // a: 4000

ORDERING:
  OrderChildren puts the parent's priority list first (in list order) and
  everyone else after, in their original (creation) order. Both policies
  and the breakdown use it, so live and display-time results agree.

SEE ALSO:
  - allocation.go: AllocationEngine
  - balance.go: FeeBreakdown re-derivation
*/
package finance

import (
	"fmt"
	"sort"
	"sync"

	"github.com/samber/lo"
)

// =============================================================================
// POLICY INTERFACE
// =============================================================================

// Debtor is one child's outstanding amount going into a distribution.
type Debtor struct {
	StudentID   StudentID
	Outstanding Money
}

// Share is what one child received. Before/After bracket the child's
// outstanding balance.
type Share struct {
	StudentID StudentID
	Amount    Money
	Before    Money
	After     Money
}

// DistributionPolicy splits an amount across debtors. Implementations
// return shares in debtor order, only for debtors that received money, and
// never give a debtor more than they owe.
type DistributionPolicy interface {
	Type() DistributionType
	Distribute(amount Money, debtors []Debtor) []Share
}

// =============================================================================
// SEQUENTIAL
// =============================================================================

type SequentialPolicy struct{}

func (SequentialPolicy) Type() DistributionType { return DistributionSequential }

func (SequentialPolicy) Distribute(amount Money, debtors []Debtor) []Share {
	var shares []Share
	remaining := amount
	for _, d := range debtors {
		if !remaining.IsPositive() {
			break
		}
		outstanding := d.Outstanding.ClampZero()
		if !outstanding.IsPositive() {
			continue
		}
		give := remaining.Min(outstanding)
		shares = append(shares, Share{
			StudentID: d.StudentID,
			Amount:    give,
			Before:    outstanding,
			After:     outstanding.Sub(give),
		})
		remaining = remaining.Sub(give)
	}
	return shares
}

// =============================================================================
// SPREAD
// =============================================================================

type SpreadPolicy struct{}

func (SpreadPolicy) Type() DistributionType { return DistributionSpread }

func (SpreadPolicy) Distribute(amount Money, debtors []Debtor) []Share {
	owed := make([]Money, len(debtors))
	given := make([]Money, len(debtors))
	for i, d := range debtors {
		owed[i] = d.Outstanding.ClampZero()
	}
	debt := func(i int) Money { return owed[i].Sub(given[i]) }

	remaining := amount
	for remaining.IsPositive() {
		inDebt := lo.Filter(lo.Range(len(debtors)), func(i int, _ int) bool {
			return debt(i).IsPositive()
		})
		if len(inDebt) == 0 {
			break
		}
		share := remaining.SplitDown(len(inDebt))
		if !share.IsPositive() {
			break
		}
		moved := Money{}
		for _, i := range inDebt {
			give := share.Min(debt(i))
			given[i] = given[i].Add(give)
			moved = moved.Add(give)
		}
		remaining = remaining.Sub(moved)
		if !moved.IsPositive() {
			break
		}
	}

	// Cents lost to rounding go to the first children still in debt.
	for i := range debtors {
		if !remaining.IsPositive() {
			break
		}
		if d := debt(i); d.IsPositive() {
			give := remaining.Min(d)
			given[i] = given[i].Add(give)
			remaining = remaining.Sub(give)
		}
	}

	var shares []Share
	for i, d := range debtors {
		if !given[i].IsPositive() {
			continue
		}
		shares = append(shares, Share{
			StudentID: d.StudentID,
			Amount:    given[i],
			Before:    owed[i],
			After:     owed[i].Sub(given[i]),
		})
	}
	return shares
}

// =============================================================================
// POLICY REGISTRY
// =============================================================================

var (
	policyRegistry = make(map[DistributionType]DistributionPolicy)
	policyMu       sync.RWMutex
)

func init() {
	RegisterPolicy(SequentialPolicy{})
	RegisterPolicy(SpreadPolicy{})
}

// RegisterPolicy adds a policy to the global registry.
func RegisterPolicy(p DistributionPolicy) {
	policyMu.Lock()
	defer policyMu.Unlock()
	policyRegistry[p.Type()] = p
}

// LookupPolicy finds a registered policy. Returns nil if not found.
func LookupPolicy(t DistributionType) DistributionPolicy {
	policyMu.RLock()
	defer policyMu.RUnlock()
	return policyRegistry[t]
}

// PolicyFor returns the policy for t, falling back to Spread.
func PolicyFor(t DistributionType) DistributionPolicy {
	if p := LookupPolicy(t); p != nil {
		return p
	}
	return SpreadPolicy{}
}

// =============================================================================
// ORDERING & INVARIANTS
// =============================================================================

// OrderChildren returns children with the priority list first, in list
// order, then the rest in their given order. Unknown ids in priority are
// ignored.
func OrderChildren(children []Student, priority []StudentID) []Student {
	ordered := append([]Student(nil), children...)
	rank := func(s Student) int {
		if i := lo.IndexOf(priority, s.ID); i >= 0 {
			return i
		}
		return len(priority)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return rank(ordered[i]) < rank(ordered[j])
	})
	return ordered
}

// TotalShares sums share amounts.
func TotalShares(shares []Share) Money {
	return lo.Reduce(shares, func(acc Money, s Share, _ int) Money {
		return acc.Add(s.Amount)
	}, Money{})
}

// CheckConservation fails when shares exceed the amount, or any share is
// negative or exceeds the child's balance.
func CheckConservation(settlementID SettlementID, amount Money, shares []Share) error {
	total := TotalShares(shares)
	if total.GreaterThan(amount) {
		return &AllocationOverflowError{SettlementID: settlementID, Amount: amount, Allocated: total}
	}
	for _, s := range shares {
		if s.Amount.IsNegative() || s.After.IsNegative() {
			return fmt.Errorf("%w: share for %s is %s against balance %s",
				ErrAllocationOverflow, s.StudentID, s.Amount, s.Before)
		}
	}
	return nil
}
