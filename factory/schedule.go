/*
Package factory provides JSON to Go fee schedule conversion.

PURPOSE:
  Converts a school's fee schedule written as JSON (sessions, terms, fee
  items and class assignments) into finance records, and applies them to a
  finance.Seeder. Bursars maintain the schedule as a document; the factory
  turns it into rows.

JSON SCHEMA:
  {
    "school_id": "school-1",
    "sessions": [
      {"id": "2025-2026", "name": "2025/2026", "year": 2025, "current": true,
       "terms": [{"id": "t1", "name": "First Term", "current": true}]}
    ],
    "fee_items": [
      {"id": "tuition", "name": "Tuition", "amount": "150000.00",
       "category": "tuition", "mandatory": true,
       "staff_discount": {"type": "percentage", "value": "10"}},
      {"id": "bus", "name": "School Bus", "amount": "30000", "category": "transport"}
    ],
    "classes": [
      {"id": "jss1", "name": "JSS 1", "session": "2025-2026",
       "items": [
         {"fee_item": "tuition"},
         {"fee_item": "bus", "term": "t1", "custom_amount": "25000"}
       ]}
    ]
  }

KEY FEATURES:
  - Validates structure with validator tags, then cross-references ids
  - Lower-case enum spellings are accepted ("tuition", "flat_amount")
  - Class fee item ids default to class/item/term
  - Apply writes in dependency order: sessions, terms, items, classes

USAGE:
  f := factory.NewScheduleFactory()
  schedule, err := f.ParseSchedule(jsonStr)
  err = schedule.Apply(ctx, store)

SEE ALSO:
  - finance/types.go: FeeItem, ClassFeeItem
  - api/scenarios.go: demo schools built from schedules
*/
package factory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/warp/fee-engine/finance"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ScheduleJSON is the JSON representation of a school's fee schedule.
type ScheduleJSON struct {
	SchoolID string        `json:"school_id" validate:"required"`
	Sessions []SessionJSON `json:"sessions" validate:"dive"`
	FeeItems []FeeItemJSON `json:"fee_items" validate:"dive"`
	Classes  []ClassJSON   `json:"classes" validate:"dive"`
}

type SessionJSON struct {
	ID      string     `json:"id" validate:"required"`
	Name    string     `json:"name"`
	Year    int        `json:"year" validate:"required,gte=1900"`
	Current bool       `json:"current,omitempty"`
	Terms   []TermJSON `json:"terms,omitempty" validate:"dive"`
}

type TermJSON struct {
	ID      string `json:"id" validate:"required"`
	Name    string `json:"name"`
	Current bool   `json:"current,omitempty"`
}

// FeeItemJSON represents a fee definition. Amount accepts a JSON number or
// a quoted decimal string.
type FeeItemJSON struct {
	ID            string        `json:"id" validate:"required"`
	Name          string        `json:"name" validate:"required"`
	Amount        finance.Money `json:"amount"`
	Category      string        `json:"category,omitempty"`
	Description   string        `json:"description,omitempty"`
	Mandatory     bool          `json:"mandatory,omitempty"`
	Recurrence    string        `json:"recurrence,omitempty"`
	Gender        string        `json:"gender,omitempty" validate:"omitempty,oneof=all male female ALL MALE FEMALE"`
	Status        string        `json:"student_status,omitempty" validate:"omitempty,oneof=all new returning ALL NEW RETURNING"`
	StaffDiscount *DiscountJSON `json:"staff_discount,omitempty"`
}

type DiscountJSON struct {
	Type  string          `json:"type" validate:"required,oneof=none flat_amount percentage NONE FLAT_AMOUNT PERCENTAGE"`
	Value decimal.Decimal `json:"value"`
}

// ClassJSON assigns fee items to a class for one session.
type ClassJSON struct {
	ID      string          `json:"id" validate:"required"`
	Name    string          `json:"name"`
	Session string          `json:"session" validate:"required"`
	Items   []ClassItemJSON `json:"items" validate:"dive"`
}

type ClassItemJSON struct {
	ID            string         `json:"id,omitempty"`
	FeeItem       string         `json:"fee_item" validate:"required"`
	Term          string         `json:"term,omitempty"`
	CustomAmount  *finance.Money `json:"custom_amount,omitempty"`
	Locked        bool           `json:"locked,omitempty"`
	NotApplicable bool           `json:"not_applicable,omitempty"`
	Notes         string         `json:"notes,omitempty"`
}

// =============================================================================
// SCHEDULE
// =============================================================================

// Schedule is a parsed fee schedule, ready to be written.
type Schedule struct {
	SchoolID      finance.SchoolID
	Sessions      []finance.AcademicSession
	Terms         []finance.Term
	FeeItems      []finance.FeeItem
	ClassFeeItems []finance.ClassFeeItem
}

// Apply writes the schedule through s. Records are upserts, so applying the
// same schedule twice is harmless.
func (sc *Schedule) Apply(ctx context.Context, s finance.Seeder) error {
	for _, session := range sc.Sessions {
		if err := s.SaveSession(ctx, session); err != nil {
			return err
		}
	}
	for _, term := range sc.Terms {
		if err := s.SaveTerm(ctx, term); err != nil {
			return err
		}
	}
	for _, item := range sc.FeeItems {
		if err := s.SaveFeeItem(ctx, item); err != nil {
			return err
		}
	}
	for _, item := range sc.ClassFeeItems {
		if err := s.SaveClassFeeItem(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// SCHEDULE FACTORY
// =============================================================================

// ScheduleFactory converts JSON schedules to finance records.
type ScheduleFactory struct {
	validate *validator.Validate
}

func NewScheduleFactory() *ScheduleFactory {
	return &ScheduleFactory{validate: validator.New()}
}

// ParseSchedule parses a JSON string into a Schedule.
func (f *ScheduleFactory) ParseSchedule(jsonStr string) (*Schedule, error) {
	var sj ScheduleJSON
	if err := json.Unmarshal([]byte(jsonStr), &sj); err != nil {
		return nil, fmt.Errorf("failed to parse schedule JSON: %w", err)
	}
	return f.FromJSON(sj)
}

// FromJSON validates sj and converts it.
func (f *ScheduleFactory) FromJSON(sj ScheduleJSON) (*Schedule, error) {
	if err := f.validate.Struct(sj); err != nil {
		return nil, fmt.Errorf("invalid schedule: %w", err)
	}

	school := finance.SchoolID(sj.SchoolID)
	sc := &Schedule{SchoolID: school}

	sessions := make(map[string]bool)
	terms := make(map[string]string) // term -> session
	for _, ss := range sj.Sessions {
		if sessions[ss.ID] {
			return nil, fmt.Errorf("duplicate session %q", ss.ID)
		}
		sessions[ss.ID] = true
		name := ss.Name
		if name == "" {
			name = fmt.Sprintf("%d/%d", ss.Year, ss.Year+1)
		}
		sc.Sessions = append(sc.Sessions, finance.AcademicSession{
			ID: finance.SessionID(ss.ID), SchoolID: school, Name: name, Year: ss.Year,
			IsCurrent: ss.Current, IsActive: true,
		})
		for _, tj := range ss.Terms {
			if _, dup := terms[tj.ID]; dup {
				return nil, fmt.Errorf("duplicate term %q", tj.ID)
			}
			terms[tj.ID] = ss.ID
			sc.Terms = append(sc.Terms, finance.Term{
				ID: finance.TermID(tj.ID), SchoolID: school, SessionID: finance.SessionID(ss.ID),
				Name: tj.Name, IsCurrent: tj.Current, IsActive: true,
			})
		}
	}

	items := make(map[string]bool)
	for _, ij := range sj.FeeItems {
		if items[ij.ID] {
			return nil, fmt.Errorf("duplicate fee item %q", ij.ID)
		}
		if ij.Amount.IsNegative() || !ij.Amount.HasValidScale() {
			return nil, fmt.Errorf("fee item %q: invalid amount %s", ij.ID, ij.Amount.Value)
		}
		items[ij.ID] = true
		sc.FeeItems = append(sc.FeeItems, parseFeeItem(school, ij))
	}

	for _, cj := range sj.Classes {
		if !sessions[cj.Session] {
			return nil, fmt.Errorf("class %q: unknown session %q", cj.ID, cj.Session)
		}
		name := cj.Name
		if name == "" {
			name = cj.ID
		}
		for _, ci := range cj.Items {
			if !items[ci.FeeItem] {
				return nil, fmt.Errorf("class %q: unknown fee item %q", cj.ID, ci.FeeItem)
			}
			item := finance.ClassFeeItem{
				ID:           finance.ClassFeeItemID(classItemID(cj.ID, ci)),
				SchoolID:     school,
				ClassID:      finance.ClassID(cj.ID),
				ClassName:    name,
				FeeItem:      finance.FeeItem{ID: finance.FeeItemID(ci.FeeItem)},
				SessionID:    finance.SessionID(cj.Session),
				CustomAmount: ci.CustomAmount,
				IsApplicable: !ci.NotApplicable,
				IsLocked:     ci.Locked,
				IsActive:     true,
				Notes:        ci.Notes,
			}
			if ci.Term != "" {
				if terms[ci.Term] != cj.Session {
					return nil, fmt.Errorf("class %q: term %q is not in session %q", cj.ID, ci.Term, cj.Session)
				}
				term := finance.TermID(ci.Term)
				item.TermID = &term
			}
			if ci.CustomAmount != nil && ci.CustomAmount.IsNegative() {
				return nil, fmt.Errorf("class %q: negative custom amount for %q", cj.ID, ci.FeeItem)
			}
			sc.ClassFeeItems = append(sc.ClassFeeItems, item)
		}
	}
	return sc, nil
}

func classItemID(classID string, ci ClassItemJSON) string {
	if ci.ID != "" {
		return ci.ID
	}
	if ci.Term == "" {
		return classID + "/" + ci.FeeItem
	}
	return classID + "/" + ci.FeeItem + "/" + ci.Term
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseFeeItem(school finance.SchoolID, ij FeeItemJSON) finance.FeeItem {
	item := finance.FeeItem{
		ID:                finance.FeeItemID(ij.ID),
		SchoolID:          school,
		Name:              ij.Name,
		Amount:            ij.Amount,
		Category:          parseCategory(ij.Category),
		Description:       ij.Description,
		IsMandatory:       ij.Mandatory,
		Recurrence:        parseRecurrence(ij.Recurrence, ij.Mandatory),
		GenderEligibility: finance.GenderEligibility(upperOr(ij.Gender, string(finance.EligibleAllGenders))),
		StatusEligibility: finance.StatusEligibility(upperOr(ij.Status, string(finance.EligibleAllStudents))),
		StaffDiscount:     finance.StaffDiscount{Type: finance.DiscountNone},
		IsActive:          true,
	}
	item.IsRecurring = item.Recurrence != finance.RecurrenceOneTime && item.Recurrence != finance.RecurrenceOptional
	if ij.StaffDiscount != nil {
		item.StaffDiscount = finance.StaffDiscount{
			Type:  finance.DiscountType(strings.ToUpper(ij.StaffDiscount.Type)),
			Value: ij.StaffDiscount.Value,
		}
	}
	return item
}

func upperOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return strings.ToUpper(s)
}

func parseCategory(s string) finance.FeeCategory {
	switch c := finance.FeeCategory(strings.ToUpper(s)); c {
	case finance.CategoryTuition, finance.CategoryExamination, finance.CategoryLibrary,
		finance.CategoryLaboratory, finance.CategorySports, finance.CategoryTransport,
		finance.CategoryUniform, finance.CategoryBooks, finance.CategoryFeeding,
		finance.CategoryDevelopment, finance.CategoryTechnology, finance.CategoryExcursion:
		return c
	default:
		return finance.CategoryMiscellaneous
	}
}

// parseRecurrence defaults to TERMLY for mandatory items and OPTIONAL otherwise.
func parseRecurrence(s string, mandatory bool) finance.RecurrenceType {
	switch r := finance.RecurrenceType(strings.ToUpper(s)); r {
	case finance.RecurrenceOneTime, finance.RecurrenceOptional, finance.RecurrenceMonthly,
		finance.RecurrenceQuarterly, finance.RecurrenceTermly, finance.RecurrenceAnnually:
		return r
	}
	if mandatory {
		return finance.RecurrenceTermly
	}
	return finance.RecurrenceOptional
}
