package finance_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/fee-engine/finance"
)

func lineNames(lines []finance.FeeLine) []string {
	names := make([]string, len(lines))
	for i, l := range lines {
		names[i] = l.Name
	}
	return names
}

func TestCalculator_MandatoryOnlyUntilOptedIn(t *testing.T) {
	// GIVEN: A class with mandatory tuition and optional transport
	// WHEN: The student has not opted in
	// THEN: Only tuition is owed

	w := newWorld(t)
	tuition := w.feeItem("tuition", "Tuition", 150000, true)
	bus := w.feeItem("bus", "Transport", 20000, false)
	w.classItem("cfi-tuition", "JSS1", tuition, nil)
	busItem := w.classItem("cfi-bus", "JSS1", bus, nil)
	amaka := w.student("amaka", "JSS1")

	calc := finance.NewFeeCalculator(w.store)
	lines, err := calc.ComputeStudentFees(w.ctx, amaka, testSession, termPtr(firstTerm))
	require.NoError(t, err)
	assert.Equal(t, []string{"Tuition"}, lineNames(lines))

	// Opt in with a custom amount
	custom := finance.NewMoney(15000)
	_, err = finance.NewOptionalFeeRegistry(w.store).OptIn(w.ctx, finance.OptInRequest{
		StudentID: amaka.ID, ClassFeeItemID: busItem.ID, OptedInBy: "parent", CustomAmount: &custom,
	})
	require.NoError(t, err)

	total, err := calc.TotalFees(w.ctx, amaka, testSession, termPtr(firstTerm))
	require.NoError(t, err)
	assert.Equal(t, "165000.00", total.String())
}

func TestCalculator_StaffDiscount(t *testing.T) {
	// GIVEN: Tuition of 1000 with 10% staff discount, Library 500 with flat 200
	// AND: The parent's user is STAFF at the school
	// WHEN: Computing fees
	// THEN: 900 + 300

	w := newWorld(t)
	w.classItem("cfi-t", "JSS1", w.feeItem("t", "Tuition", 1000, true, withDiscount(finance.DiscountPercentage, 10)), nil)
	w.classItem("cfi-l", "JSS1", w.feeItem("l", "Library", 500, true, withDiscount(finance.DiscountFlat, 200)), nil)
	child := w.student("kid", "JSS1")
	p := w.parent("staff-parent", finance.DistributionSpread, child)
	require.NoError(t, w.store.GrantRole(w.ctx, p.UserID, testSchool, finance.RoleStaff))

	lines, err := finance.NewFeeCalculator(w.store).ComputeStudentFees(w.ctx, child, testSession, nil)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "Library", lines[0].Name)
	assert.Equal(t, "300.00", lines[0].Amount.String())
	assert.Equal(t, "900.00", lines[1].Amount.String())
}

func TestCalculator_TeacherRoleGetsNoDiscount(t *testing.T) {
	w := newWorld(t)
	w.classItem("cfi-t", "JSS1", w.feeItem("t", "Tuition", 1000, true, withDiscount(finance.DiscountPercentage, 10)), nil)
	child := w.student("kid", "JSS1")
	p := w.parent("teacher-parent", finance.DistributionSpread, child)
	require.NoError(t, w.store.GrantRole(w.ctx, p.UserID, testSchool, finance.RoleTeacher))

	total, err := finance.NewFeeCalculator(w.store).TotalFees(w.ctx, child, testSession, nil)
	require.NoError(t, err)
	assert.Equal(t, "1000.00", total.String())
}

func TestCalculator_TermFilter(t *testing.T) {
	// GIVEN: Items for term 1, term 2 and one for the whole session
	// WHEN: Computing for term 1, then for the whole session
	// THEN: Term 1 sees its own item plus the session-wide one; no term sees all

	w := newWorld(t)
	w.classItem("cfi-1", "JSS1", w.feeItem("f1", "First Term Fee", 100, true), termPtr(firstTerm))
	w.classItem("cfi-2", "JSS1", w.feeItem("f2", "Second Term Fee", 200, true), termPtr(secondTerm))
	w.classItem("cfi-s", "JSS1", w.feeItem("fs", "Session Fee", 400, true), nil)
	kid := w.student("kid", "JSS1")
	calc := finance.NewFeeCalculator(w.store)

	termOne, err := calc.TotalFees(w.ctx, kid, testSession, termPtr(firstTerm))
	require.NoError(t, err)
	assert.Equal(t, "500.00", termOne.String())

	whole, err := calc.TotalFees(w.ctx, kid, testSession, nil)
	require.NoError(t, err)
	assert.Equal(t, "700.00", whole.String())
}

func TestCalculator_EligibilityAndApplicability(t *testing.T) {
	// GIVEN: A boys-only item, a new-students-only item, and an inapplicable item
	// WHEN: A returning girl is computed
	// THEN: None of them apply

	w := newWorld(t)
	w.classItem("cfi-boys", "JSS1", w.feeItem("b", "Boys Uniform", 100, true, func(f *finance.FeeItem) {
		f.GenderEligibility = finance.EligibleMale
	}), nil)
	w.classItem("cfi-new", "JSS1", w.feeItem("n", "Admission", 100, true, func(f *finance.FeeItem) {
		f.StatusEligibility = finance.EligibleNew
	}), nil)
	off := w.classItem("cfi-off", "JSS1", w.feeItem("o", "Sports", 100, true), nil)
	off.IsApplicable = false
	require.NoError(t, w.store.SaveClassFeeItem(w.ctx, off))
	w.classItem("cfi-all", "JSS1", w.feeItem("a", "Tuition", 1000, true), nil)

	girl := w.student("girl", "JSS1")
	lines, err := finance.NewFeeCalculator(w.store).ComputeStudentFees(w.ctx, girl, testSession, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Tuition"}, lineNames(lines))
}

func TestCalculator_ClassCustomAmount(t *testing.T) {
	w := newWorld(t)
	item := w.feeItem("t", "Tuition", 1000, true)
	cfi := w.classItem("cfi-t", "SS3", item, nil)
	custom := finance.NewMoney(1750)
	cfi.CustomAmount = &custom
	require.NoError(t, w.store.SaveClassFeeItem(w.ctx, cfi))
	kid := w.student("kid", "SS3")

	total, err := finance.NewFeeCalculator(w.store).TotalFees(w.ctx, kid, testSession, nil)
	require.NoError(t, err)
	assert.Equal(t, "1750.00", total.String())
}

func TestCalculator_NoEnrollment_OwesNothing(t *testing.T) {
	w := newWorld(t)
	w.tuition("JSS1", 1000)
	dropout := w.student("dropout", "")

	lines, err := finance.NewFeeCalculator(w.store).ComputeStudentFees(w.ctx, dropout, testSession, nil)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestCalculator_FeeItemViewsIncludeOptionalNotOwed(t *testing.T) {
	w := newWorld(t)
	w.classItem("cfi-t", "JSS1", w.feeItem("t", "Tuition", 1000, true), nil)
	w.classItem("cfi-x", "JSS1", w.feeItem("x", "Excursion", 300, false), nil)
	kid := w.student("kid", "JSS1")

	views, err := finance.NewFeeCalculator(w.store).StudentFeeItems(w.ctx, kid, testSession, nil)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, "Excursion", views[0].Name)
	assert.False(t, views[0].IsOptedIn)
	assert.True(t, views[1].IsOptedIn)

	mandatory, optional := finance.SplitByMandatory(finance.OwedLines(views))
	assert.Equal(t, "1000.00", mandatory.String())
	assert.True(t, optional.IsZero())
}
