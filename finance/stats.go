package finance

import (
	"context"
	"sort"

	"github.com/samber/lo"
)

// SchoolFeeStats is the administrative view of what a school expects to
// collect in a period.
type SchoolFeeStats struct {
	SchoolID      SchoolID
	Period        *Period
	ExpectedTotal Money // mandatory lines
	OptionalTotal Money // opted-in optional lines
	Classes       []ClassFeeStats
}

type ClassFeeStats struct {
	ClassName     string
	Total         Money
	OptionalTotal Money
	Items         []FeeItemStats
}

// FeeItemStats aggregates one fee name within a class.
type FeeItemStats struct {
	Name        string
	Amount      Money
	Count       int
	IsMandatory bool
}

// studentFees is one student's lines tagged with the class they count under.
type studentFees struct {
	className string
	lines     []FeeLine
}

const unknownClass = "Unknown"

// SchoolFeeStats totals every active student's fee lines by class.
func (a *BalanceAggregator) SchoolFeeStats(ctx context.Context, schoolID SchoolID, sessionID *SessionID, termID *TermID) (SchoolFeeStats, error) {
	stats := SchoolFeeStats{SchoolID: schoolID, Classes: []ClassFeeStats{}}

	period, ok, err := a.Periods.Resolve(ctx, schoolID, sessionID, termID)
	if err != nil || !ok {
		return stats, err
	}
	stats.Period = &period

	students, err := a.Store.ListStudents(ctx, schoolID)
	if err != nil {
		return SchoolFeeStats{}, err
	}

	perStudent := make([]studentFees, 0, len(students))
	for _, student := range students {
		enrollments, err := a.Store.ActiveEnrollments(ctx, student.ID, period.SessionID())
		if err != nil {
			return SchoolFeeStats{}, err
		}
		lines, err := a.Calculator.ComputeStudentFees(ctx, student, period.SessionID(), period.TermID())
		if err != nil {
			return SchoolFeeStats{}, err
		}
		className := unknownClass
		if len(enrollments) > 0 {
			className = enrollments[0].ClassName
		}
		perStudent = append(perStudent, studentFees{className: className, lines: lines})
	}

	return summarizeStats(stats, perStudent), nil
}

// summarizeStats folds per-student lines into class and school totals.
func summarizeStats(stats SchoolFeeStats, perStudent []studentFees) SchoolFeeStats {
	allLines := lo.FlatMap(perStudent, func(s studentFees, _ int) []FeeLine { return s.lines })
	stats.ExpectedTotal, stats.OptionalTotal = SplitByMandatory(allLines)

	byClass := lo.GroupBy(perStudent, func(s studentFees) string { return s.className })

	classes := lo.MapToSlice(byClass, func(name string, group []studentFees) ClassFeeStats {
		lines := lo.FlatMap(group, func(s studentFees, _ int) []FeeLine { return s.lines })
		mandatory, optional := SplitByMandatory(lines)
		return ClassFeeStats{
			ClassName:     name,
			Total:         mandatory,
			OptionalTotal: optional,
			Items:         itemStats(lines),
		}
	})
	classes = lo.Filter(classes, func(c ClassFeeStats, _ int) bool {
		return c.Total.IsPositive() || c.OptionalTotal.IsPositive()
	})
	sort.Slice(classes, func(i, j int) bool { return classes[i].ClassName < classes[j].ClassName })

	stats.Classes = classes
	return stats
}

func itemStats(lines []FeeLine) []FeeItemStats {
	byName := lo.GroupBy(lines, func(l FeeLine) string { return l.Name })
	items := lo.MapToSlice(byName, func(name string, group []FeeLine) FeeItemStats {
		return FeeItemStats{
			Name:        name,
			Amount:      TotalOf(group),
			Count:       len(group),
			IsMandatory: group[0].IsMandatory,
		}
	})
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items
}
