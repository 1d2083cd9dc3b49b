/*
calculator.go - Per-student fee computation

PURPOSE:
  FeeCalculator answers "what does this student owe for this session/term".
  It is the primary computation unit: the aggregator, the allocation engine
  and the school stats all go through it.

ALGORITHM:
  For each active enrollment of the student in the session:
    fetch the class's fee items (term filter: the term's items plus
    session-wide items, or everything in the session when no term)
    for each item:
      1. skip if marked inapplicable or the student is ineligible
         (gender / new-vs-returning rules)
      2. mandatory → owed; optional → owed only with an active opt-in
      3. amount = opt-in custom amount ?? class custom amount ?? item amount
      4. staff child + item discount → apply, round down, clamp at zero
      5. emit a line

  A student with no active enrollment in the session owes nothing.

STAFF CHILDREN:
  A student is a staff child when any linked parent's user holds STAFF or
  SCHOOL_ADMIN at the student's school. Looked up at most once per student
  and only when an item actually carries a discount.

SEE ALSO:
  - types.go: StaffDiscount.Apply
  - optional.go: OptionalFeeRegistry (writes the opt-ins read here)
  - balance.go: Sums lines across a parent's children
*/
package finance

import (
	"context"
	"errors"
	"fmt"

	"github.com/samber/lo"
)

// FeeLine is one fee a student owes.
type FeeLine struct {
	ClassFeeItemID ClassFeeItemID
	FeeItemID      FeeItemID
	Name           string
	Category       FeeCategory
	ClassID        ClassID
	ClassName      string
	Amount         Money
	IsMandatory    bool
}

// FeeItemView is an applicable item for display: owed or not, with the
// opt-in and lock flags.
type FeeItemView struct {
	FeeLine
	IsOptedIn bool
	IsLocked  bool
}

// FeeCalculator computes fee lines. Catalog, OptionalFees and Directory are
// usually the same store.
type FeeCalculator struct {
	Catalog      Catalog
	OptionalFees OptionalFeeStore
	Directory    Directory
}

func NewFeeCalculator(s Store) *FeeCalculator {
	return &FeeCalculator{Catalog: s, OptionalFees: s, Directory: s}
}

// WithStore returns a calculator reading through s (a transaction view).
func (c *FeeCalculator) WithStore(s Store) *FeeCalculator {
	return NewFeeCalculator(s)
}

// ComputeStudentFees returns the lines the student owes.
func (c *FeeCalculator) ComputeStudentFees(ctx context.Context, student Student, sessionID SessionID, termID *TermID) ([]FeeLine, error) {
	views, err := c.StudentFeeItems(ctx, student, sessionID, termID)
	if err != nil {
		return nil, err
	}
	return OwedLines(views), nil
}

// TotalFees is the sum of ComputeStudentFees.
func (c *FeeCalculator) TotalFees(ctx context.Context, student Student, sessionID SessionID, termID *TermID) (Money, error) {
	lines, err := c.ComputeStudentFees(ctx, student, sessionID, termID)
	if err != nil {
		return Money{}, err
	}
	return TotalOf(lines), nil
}

// StudentFeeItems returns every applicable item, owed or not.
func (c *FeeCalculator) StudentFeeItems(ctx context.Context, student Student, sessionID SessionID, termID *TermID) ([]FeeItemView, error) {
	enrollments, err := c.Directory.ActiveEnrollments(ctx, student.ID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load enrollments for %s: %w", student.ID, err)
	}

	staff := staffCheck{calc: c, student: student}
	var views []FeeItemView

	for _, enrollment := range enrollments {
		items, err := c.Catalog.ClassFeeItems(ctx, enrollment.ClassID, sessionID, termID)
		if err != nil {
			return nil, fmt.Errorf("load fee items for class %s: %w", enrollment.ClassID, err)
		}

		for _, item := range items {
			if !item.IsApplicable || !item.FeeItem.EligibleFor(student) {
				continue
			}
			view, err := c.evaluate(ctx, student, enrollment, item, &staff)
			if err != nil {
				return nil, err
			}
			views = append(views, view)
		}
	}
	return views, nil
}

func (c *FeeCalculator) evaluate(ctx context.Context, student Student, enrollment Enrollment, item ClassFeeItem, staff *staffCheck) (FeeItemView, error) {
	mandatory := item.FeeItem.IsMandatory
	amount := item.EffectiveAmount()
	optedIn := mandatory
	locked := item.IsLocked

	if !mandatory {
		optIn, err := c.OptionalFees.GetOptionalFee(ctx, student.ID, item.ID)
		switch {
		case errors.Is(err, ErrEntityNotFound):
		case err != nil:
			return FeeItemView{}, fmt.Errorf("load opt-in for %s/%s: %w", student.ID, item.ID, err)
		default:
			locked = locked || optIn.IsLocked
			if optIn.IsActive {
				optedIn = true
				if optIn.CustomAmount != nil {
					amount = *optIn.CustomAmount
				}
			}
		}
	}

	if item.FeeItem.StaffDiscount.HasDiscount() {
		isStaff, err := staff.get(ctx)
		if err != nil {
			return FeeItemView{}, err
		}
		if isStaff {
			amount = item.FeeItem.StaffDiscount.Apply(amount)
		}
	}

	className := item.ClassName
	if className == "" {
		className = enrollment.ClassName
	}

	return FeeItemView{
		FeeLine: FeeLine{
			ClassFeeItemID: item.ID,
			FeeItemID:      item.FeeItem.ID,
			Name:           item.FeeItem.Name,
			Category:       item.FeeItem.Category,
			ClassID:        item.ClassID,
			ClassName:      className,
			Amount:         amount.ClampZero(),
			IsMandatory:    mandatory,
		},
		IsOptedIn: optedIn,
		IsLocked:  locked,
	}, nil
}

// staffCheck memoizes the staff-child lookup for one student.
type staffCheck struct {
	calc    *FeeCalculator
	student Student
	done    bool
	value   bool
}

func (s *staffCheck) get(ctx context.Context) (bool, error) {
	if s.done {
		return s.value, nil
	}
	v, err := s.calc.Directory.IsStaffChild(ctx, s.student.ID, s.student.SchoolID)
	if err != nil {
		return false, fmt.Errorf("check staff child %s: %w", s.student.ID, err)
	}
	s.done, s.value = true, v
	return v, nil
}

// =============================================================================
// PURE HELPERS
// =============================================================================

// OwedLines keeps the lines a student actually owes.
func OwedLines(views []FeeItemView) []FeeLine {
	return lo.FilterMap(views, func(v FeeItemView, _ int) (FeeLine, bool) {
		return v.FeeLine, v.IsOptedIn
	})
}

// TotalOf sums line amounts.
func TotalOf(lines []FeeLine) Money {
	return lo.Reduce(lines, func(acc Money, l FeeLine, _ int) Money {
		return acc.Add(l.Amount)
	}, Money{})
}

// SplitByMandatory returns (mandatory total, optional total).
func SplitByMandatory(lines []FeeLine) (Money, Money) {
	mandatory := lo.Filter(lines, func(l FeeLine, _ int) bool { return l.IsMandatory })
	optional := lo.Filter(lines, func(l FeeLine, _ int) bool { return !l.IsMandatory })
	return TotalOf(mandatory), TotalOf(optional)
}
