/*
balance.go - Parent balances and per-child fee breakdowns

PURPOSE:
  BalanceAggregator sums FeeCalculator output across a parent's children
  and nets it against what has been paid: invoice payments (issued
  elsewhere, stored in minor units) plus wallet settlements.

CALCULATION:
  For the resolved period (see period.go):

    totalFees     = Σ children fee totals
    invoicePaid   = Σ invoice amountPaid / 100
    walletSettled = Σ settlements on the parent's wallet in the period
    balance       = max(totalFees - invoicePaid - walletSettled, 0)
    credit        = max(invoicePaid + walletSettled - totalFees, 0)

  No period → an all-zero report, not an error.

WALLET SHARE PER CHILD:
  The breakdown shows how the wallet total would land on each child by
  re-running the parent's policy over the aggregate wallet-settled amount,
  against debts net of invoice payments, in the same child order live
  allocation uses. It ties out: Σ shares + undistributed = walletSettled.
  The persisted allocation total per child is reported alongside it;
  persisted rows remain the record of what was actually allocated.

SEE ALSO:
  - calculator.go: Per-student fee lines
  - policy.go: Policies and ordering shared with allocation.go
  - stats.go: School-wide fee statistics
*/
package finance

import (
	"context"
	"errors"
	"fmt"

	"github.com/samber/lo"
)

// BalanceAggregator computes balances, breakdowns and school stats.
type BalanceAggregator struct {
	Store      Store
	Calculator *FeeCalculator
	Periods    *PeriodResolver
}

func NewBalanceAggregator(s Store) *BalanceAggregator {
	return &BalanceAggregator{
		Store:      s,
		Calculator: NewFeeCalculator(s),
		Periods:    NewPeriodResolver(s),
	}
}

// =============================================================================
// REPORT TYPES
// =============================================================================

// ChildBreakdown is one child's line in a breakdown.
type ChildBreakdown struct {
	Student            Student
	Items              []FeeItemView
	Total              Money
	InvoicePaid        Money
	WalletAllocated    Money
	PersistedAllocated Money
	Settled            Money
	Balance            Money
}

// BreakdownReport is a parent's position for one period.
type BreakdownReport struct {
	ParentID            ParentID
	Period              *Period
	Method              DistributionType
	Children            []ChildBreakdown
	TotalFees           Money
	InvoicePaid         Money
	WalletSettled       Money
	WalletUndistributed Money
	TotalSettled        Money
	Balance             Money
	Credit              Money
	DebtStatus          DebtStatus
}

// =============================================================================
// OPERATIONS
// =============================================================================

// ParentBalance is what the parent still owes for the current period.
func (a *BalanceAggregator) ParentBalance(ctx context.Context, parentID ParentID) (Money, error) {
	report, err := a.FeeBreakdown(ctx, parentID, nil, nil)
	if err != nil {
		return Money{}, err
	}
	return report.Balance, nil
}

// FeeBreakdown reports the parent's fees and payments per child. Nil
// session/term select the current period.
func (a *BalanceAggregator) FeeBreakdown(ctx context.Context, parentID ParentID, sessionID *SessionID, termID *TermID) (BreakdownReport, error) {
	parent, err := a.Store.GetParent(ctx, parentID)
	if err != nil {
		return BreakdownReport{}, err
	}

	report := BreakdownReport{
		ParentID:   parent.ID,
		Method:     PolicyFor(parent.DistributionType).Type(),
		Children:   []ChildBreakdown{},
		DebtStatus: DebtCleared,
	}

	period, ok, err := a.Periods.Resolve(ctx, parent.SchoolID, sessionID, termID)
	if err != nil {
		return BreakdownReport{}, err
	}
	if !ok {
		return report, nil
	}
	report.Period = &period

	walletSettled, err := a.walletSettled(ctx, parent.ID, period)
	if err != nil {
		return BreakdownReport{}, err
	}

	children, err := a.Store.ChildrenOf(ctx, parent.ID)
	if err != nil {
		return BreakdownReport{}, fmt.Errorf("load children of %s: %w", parent.ID, err)
	}
	ordered := OrderChildren(children, parent.PriorityOrder)

	rows := make([]ChildBreakdown, 0, len(ordered))
	for _, child := range ordered {
		row, err := a.childRow(ctx, child, period)
		if err != nil {
			return BreakdownReport{}, err
		}
		rows = append(rows, row)
	}

	debtors := lo.Map(rows, func(r ChildBreakdown, _ int) Debtor {
		return Debtor{StudentID: r.Student.ID, Outstanding: r.Total.Sub(r.InvoicePaid).ClampZero()}
	})
	shares := lo.KeyBy(PolicyFor(parent.DistributionType).Distribute(walletSettled, debtors),
		func(s Share) StudentID { return s.StudentID })

	report.Children = lo.Map(rows, func(r ChildBreakdown, _ int) ChildBreakdown {
		r.WalletAllocated = shares[r.Student.ID].Amount
		r.Settled = r.InvoicePaid.Add(r.WalletAllocated)
		r.Balance = r.Total.Sub(r.Settled).ClampZero()
		return r
	})

	report.TotalFees = lo.Reduce(report.Children, func(acc Money, r ChildBreakdown, _ int) Money {
		return acc.Add(r.Total)
	}, Money{})
	report.InvoicePaid = lo.Reduce(report.Children, func(acc Money, r ChildBreakdown, _ int) Money {
		return acc.Add(r.InvoicePaid)
	}, Money{})
	distributed := lo.Reduce(report.Children, func(acc Money, r ChildBreakdown, _ int) Money {
		return acc.Add(r.WalletAllocated)
	}, Money{})

	report.WalletSettled = walletSettled
	report.WalletUndistributed = walletSettled.Sub(distributed)
	report.TotalSettled = report.InvoicePaid.Add(walletSettled)
	report.Balance = report.TotalFees.Sub(report.TotalSettled).ClampZero()
	report.Credit = report.TotalSettled.Sub(report.TotalFees).ClampZero()
	report.DebtStatus = ClassifyDebt(report.Balance)
	return report, nil
}

// StudentFees returns the fee lines a student owes for a period.
func (a *BalanceAggregator) StudentFees(ctx context.Context, studentID StudentID, sessionID *SessionID, termID *TermID) ([]FeeLine, *Period, error) {
	student, err := a.Store.GetStudent(ctx, studentID)
	if err != nil {
		return nil, nil, err
	}
	period, ok, err := a.Periods.Resolve(ctx, student.SchoolID, sessionID, termID)
	if err != nil || !ok {
		return []FeeLine{}, nil, err
	}
	lines, err := a.Calculator.ComputeStudentFees(ctx, student, period.SessionID(), period.TermID())
	if err != nil {
		return nil, nil, err
	}
	if lines == nil {
		lines = []FeeLine{}
	}
	return lines, &period, nil
}

// =============================================================================
// INTERNALS
// =============================================================================

func (a *BalanceAggregator) childRow(ctx context.Context, child Student, period Period) (ChildBreakdown, error) {
	items, err := a.Calculator.StudentFeeItems(ctx, child, period.SessionID(), period.TermID())
	if err != nil {
		return ChildBreakdown{}, err
	}
	if items == nil {
		items = []FeeItemView{}
	}

	invoices, err := a.Store.Invoices(ctx, child.ID, period.SessionID(), period.TermID())
	if err != nil {
		return ChildBreakdown{}, fmt.Errorf("load invoices for %s: %w", child.ID, err)
	}
	invoicePaid := lo.Reduce(invoices, func(acc Money, inv Invoice, _ int) Money {
		return acc.Add(inv.Paid())
	}, Money{})

	persisted, err := a.Store.AllocatedTotal(ctx, child.ID, period.SessionID(), period.TermID())
	if err != nil {
		return ChildBreakdown{}, fmt.Errorf("load allocations for %s: %w", child.ID, err)
	}

	return ChildBreakdown{
		Student:            child,
		Items:              items,
		Total:              TotalOf(OwedLines(items)),
		InvoicePaid:        invoicePaid,
		PersistedAllocated: persisted,
	}, nil
}

func (a *BalanceAggregator) walletSettled(ctx context.Context, parentID ParentID, period Period) (Money, error) {
	wallet, err := a.Store.WalletByParent(ctx, parentID)
	if errors.Is(err, ErrEntityNotFound) {
		return Money{}, nil
	}
	if err != nil {
		return Money{}, err
	}

	sessionID := period.SessionID()
	settlements, err := a.Store.Settlements(ctx, SettlementFilter{
		WalletID:  &wallet.ID,
		SessionID: &sessionID,
		TermID:    period.TermID(),
	})
	if err != nil {
		return Money{}, fmt.Errorf("load settlements for wallet %s: %w", wallet.ID, err)
	}
	return lo.Reduce(settlements, func(acc Money, s Settlement, _ int) Money {
		return acc.Add(s.Amount)
	}, Money{}), nil
}
