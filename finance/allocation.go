/*
allocation.go - Splitting one settlement across a parent's children

PURPOSE:
  AllocationEngine turns one settlement into PaymentAllocation records,
  one per child that receives money. It runs once per settlement, inside
  the transaction that writes the settlement row (see ledger.go).

STEPS:
  1. Validate the amount (positive, at most 2 decimals)
  2. Resolve wallet → parent; order children (priority list, then creation)
  3. outstanding(child) = totalFees(child) - previous allocations(child),
     both for the settlement's session/term, clamped at zero
  4. Run the parent's policy (policy.go)
  5. Check conservation: Σ shares ≤ amount, no share past a child's debt
  6. Build immutable records numbered 1..n

RESULT:
  The engine does not write. The ledger persists the settlement first and
  the allocations after it, in the same transaction. Undistributed money
  (every child already paid up) is reported, not an error.

INVARIANTS:
  - Σ allocations ≤ settlement amount, equal unless every child is clear
  - Allocation orders are 1..n with no gaps
  - Violations return AllocationOverflowError; the transaction rolls back

SEE ALSO:
  - policy.go: Sequential and Spread
  - ledger.go: Transaction boundary and persistence
*/
package finance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AllocationResult is the plan for one settlement.
type AllocationResult struct {
	Allocations   []PaymentAllocation
	Method        DistributionType
	Allocated     Money
	Undistributed Money
}

// Status classifies the result for the settlement row.
func (r AllocationResult) Status() AllocationStatus {
	switch {
	case len(r.Allocations) == 0:
		return AllocationUnassigned
	case r.Undistributed.IsPositive():
		return AllocationPartial
	default:
		return AllocationComplete
	}
}

// AllocationEngine computes allocations for settlements.
type AllocationEngine struct {
	Logger *zap.Logger
	NewID  func() string
}

func NewAllocationEngine(logger *zap.Logger) *AllocationEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AllocationEngine{Logger: logger.Named("allocation"), NewID: uuid.NewString}
}

// ValidateAmount checks a settlement amount.
func ValidateAmount(amount Money) error {
	if !amount.IsPositive() {
		return &InvalidAmountError{Amount: amount, Reason: "must be greater than zero"}
	}
	if !amount.HasValidScale() {
		return &InvalidAmountError{Amount: amount, Reason: "must have at most 2 decimal places"}
	}
	return nil
}

// Distribute plans the allocations for settlement, reading through s.
// Returns an error wrapping ErrWalletNotFound or ErrParentNotFound when the
// money cannot be attributed, and a zero result when the settlement has no
// session.
func (e *AllocationEngine) Distribute(ctx context.Context, s Store, settlement Settlement) (AllocationResult, error) {
	if err := ValidateAmount(settlement.Amount); err != nil {
		return AllocationResult{}, err
	}
	empty := AllocationResult{Undistributed: settlement.Amount}

	if settlement.WalletID == nil {
		return empty, ErrWalletNotFound
	}
	wallet, err := s.GetWallet(ctx, *settlement.WalletID)
	if err != nil {
		return empty, fmt.Errorf("%w: %v", ErrWalletNotFound, err)
	}
	parent, err := s.GetParent(ctx, wallet.ParentID)
	if err != nil {
		return empty, fmt.Errorf("%w: %v", ErrParentNotFound, err)
	}

	if settlement.SessionID == nil {
		e.Logger.Warn("settlement has no academic session, leaving unallocated",
			zap.String("reference", settlement.Reference))
		return empty, nil
	}
	sessionID, termID := *settlement.SessionID, settlement.TermID

	children, err := s.ChildrenOf(ctx, parent.ID)
	if err != nil {
		return empty, fmt.Errorf("load children of %s: %w", parent.ID, err)
	}
	ordered := OrderChildren(children, parent.PriorityOrder)

	calc := NewFeeCalculator(s)
	debtors := make([]Debtor, 0, len(ordered))
	for _, child := range ordered {
		fees, err := calc.TotalFees(ctx, child, sessionID, termID)
		if err != nil {
			return empty, err
		}
		prior, err := s.AllocatedTotal(ctx, child.ID, sessionID, termID)
		if err != nil {
			return empty, fmt.Errorf("load allocations for %s: %w", child.ID, err)
		}
		debtors = append(debtors, Debtor{StudentID: child.ID, Outstanding: fees.Sub(prior).ClampZero()})
	}

	policy := PolicyFor(parent.DistributionType)
	shares := policy.Distribute(settlement.Amount, debtors)
	if err := CheckConservation(settlement.ID, settlement.Amount, shares); err != nil {
		e.Logger.Error("allocation invariant violated",
			zap.String("reference", settlement.Reference),
			zap.Stringer("amount", settlement.Amount),
			zap.Error(err))
		return empty, err
	}

	position := make(map[StudentID]int, len(ordered))
	for i, child := range ordered {
		position[child.ID] = i + 1
	}

	method := policy.Type()
	allocations := make([]PaymentAllocation, 0, len(shares))
	for i, share := range shares {
		allocations = append(allocations, PaymentAllocation{
			ID:            AllocationID(e.NewID()),
			SchoolID:      settlement.SchoolID,
			SettlementID:  settlement.ID,
			StudentID:     share.StudentID,
			SessionID:     sessionID,
			TermID:        termID,
			Amount:        share.Amount,
			Order:         i + 1,
			Method:        method,
			BalanceBefore: share.Before,
			BalanceAfter:  share.After,
			AllocatedAt:   allocationTime(settlement),
			Notes:         allocationNote(method, position[share.StudentID], len(ordered)),
		})
	}

	allocated := TotalShares(shares)
	result := AllocationResult{
		Allocations:   allocations,
		Method:        method,
		Allocated:     allocated,
		Undistributed: settlement.Amount.Sub(allocated),
	}

	e.Logger.Debug("settlement distributed",
		zap.String("reference", settlement.Reference),
		zap.String("method", string(method)),
		zap.Int("children", len(ordered)),
		zap.Int("allocations", len(allocations)),
		zap.Stringer("allocated", allocated),
		zap.Stringer("undistributed", result.Undistributed))

	return result, nil
}

func allocationTime(s Settlement) time.Time {
	if s.TransactionDate.IsZero() {
		return s.CreatedAt
	}
	return s.TransactionDate
}

func allocationNote(method DistributionType, position, children int) string {
	name := strings.ToUpper(string(method[:1])) + strings.ToLower(string(method[1:]))
	return fmt.Sprintf("%s distribution - child %d of %d", name, position, children)
}
