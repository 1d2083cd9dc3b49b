/*
Package finance provides the fee computation and payment allocation engine.

PURPOSE:
  Answers two questions for a school, a parent and an academic session/term:
  what each child owes (fee items net of opt-ins and staff discounts), and
  how one payment into the parent's shared wallet is split across the
  children. Everything here is storage-agnostic; persistence goes through
  the interfaces in store.go.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: fixed-point amount in major currency units, 2-digit scale
  - IDs: typed identifiers so a StudentID never gets passed as a ParentID
  - Catalog records: FeeItem, ClassFeeItem, StudentOptionalFee
  - People: Student, Enrollment, Parent, Wallet
  - Money movement: Settlement, PaymentAllocation, Invoice

DESIGN PRINCIPLES:
  1. Immutability: settlements and allocations are written once, never edited
  2. Precision: decimal.Decimal everywhere, no float64 on money paths
  3. Explicit units: invoices store minor units (kobo), everything else
     stores major units; conversion happens in exactly one place

USAGE:
  fee := finance.MustParseMoney("150000.00")
  discounted := finance.StaffDiscount{Type: finance.DiscountPercentage,
      Value: decimal.NewFromInt(10)}.Apply(fee)

SEE ALSO:
  - calculator.go: FeeCalculator
  - allocation.go: AllocationEngine
  - ledger.go: SettlementLedger
  - balance.go: BalanceAggregator
*/
package finance

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Fixed-point amount, 2-digit scale
// =============================================================================

// MoneyScale is the number of decimal places carried by stored amounts.
const MoneyScale = 2

var hundred = decimal.NewFromInt(100)

// Money is an amount in major currency units (naira, not kobo).
// The zero value is a valid zero amount.
type Money struct {
	Value decimal.Decimal
}

func NewMoney(value int64) Money {
	return Money{Value: decimal.NewFromInt(value)}
}

// MoneyFromMinor converts integer minor units (kobo, cents) to Money.
func MoneyFromMinor(minor int64) Money {
	return Money{Value: decimal.New(minor, -MoneyScale)}
}

func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return Money{Value: d}, nil
}

// MustParseMoney parses s or panics. Use in tests and fixtures.
func MustParseMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Money) Add(o Money) Money { return Money{Value: m.Value.Add(o.Value)} }
func (m Money) Sub(o Money) Money { return Money{Value: m.Value.Sub(o.Value)} }
func (m Money) Cmp(o Money) int   { return m.Value.Cmp(o.Value) }
func (m Money) Equal(o Money) bool {
	return m.Value.Equal(o.Value)
}
func (m Money) GreaterThan(o Money) bool { return m.Value.GreaterThan(o.Value) }
func (m Money) LessThan(o Money) bool    { return m.Value.LessThan(o.Value) }
func (m Money) IsPositive() bool         { return m.Value.IsPositive() }
func (m Money) IsNegative() bool         { return m.Value.IsNegative() }
func (m Money) IsZero() bool             { return m.Value.IsZero() }

func (m Money) Min(o Money) Money {
	if m.LessThan(o) {
		return m
	}
	return o
}

func (m Money) Max(o Money) Money {
	if m.GreaterThan(o) {
		return m
	}
	return o
}

// ClampZero returns m, or zero when m is negative.
func (m Money) ClampZero() Money {
	if m.IsNegative() {
		return Money{}
	}
	return m
}

// RoundDown truncates to MoneyScale places, toward zero.
func (m Money) RoundDown() Money {
	return Money{Value: m.Value.Truncate(MoneyScale)}
}

// Percent returns pct% of m at full precision. Callers round.
func (m Money) Percent(pct decimal.Decimal) Money {
	return Money{Value: m.Value.Mul(pct).Div(hundred)}
}

// SplitDown divides m into n equal shares rounded down to MoneyScale.
func (m Money) SplitDown(n int) Money {
	if n <= 0 {
		return Money{}
	}
	return Money{Value: m.Value.Div(decimal.NewFromInt(int64(n))).Truncate(MoneyScale)}
}

// HasValidScale reports whether m carries no more than MoneyScale decimals.
func (m Money) HasValidScale() bool {
	return m.Value.Equal(m.Value.Truncate(MoneyScale))
}

// MinorUnits converts back to integer minor units.
func (m Money) MinorUnits() int64 {
	return m.Value.Shift(MoneyScale).IntPart()
}

func (m Money) String() string {
	return m.Value.StringFixed(MoneyScale)
}

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalJSON accepts both JSON numbers and quoted strings.
func (m *Money) UnmarshalJSON(data []byte) error {
	return m.Value.UnmarshalJSON(data)
}

// SumMoney adds amounts.
func SumMoney(amounts ...Money) Money {
	total := Money{}
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type (
	SchoolID       string
	StudentID      string
	ParentID       string
	UserID         string
	WalletID       string
	ClassID        string
	SessionID      string
	TermID         string
	FeeItemID      string
	ClassFeeItemID string
	OptionalFeeID  string
	SettlementID   string
	AllocationID   string
	InvoiceID      string
	EventID        string
)

// =============================================================================
// ENUMERATIONS
// =============================================================================

// DistributionType selects how a wallet payment is split across children.
type DistributionType string

const (
	DistributionSpread     DistributionType = "SPREAD"
	DistributionSequential DistributionType = "SEQUENTIAL"
)

// ParseDistributionType maps stored values to a type. Unknown or empty
// values fall back to Spread, the default for new parents.
func ParseDistributionType(s string) DistributionType {
	if DistributionType(s) == DistributionSequential {
		return DistributionSequential
	}
	return DistributionSpread
}

type DiscountType string

const (
	DiscountNone       DiscountType = "NONE"
	DiscountFlat       DiscountType = "FLAT_AMOUNT"
	DiscountPercentage DiscountType = "PERCENTAGE"
)

type FeeCategory string

const (
	CategoryTuition       FeeCategory = "TUITION"
	CategoryExamination   FeeCategory = "EXAMINATION"
	CategoryLibrary       FeeCategory = "LIBRARY"
	CategoryLaboratory    FeeCategory = "LABORATORY"
	CategorySports        FeeCategory = "SPORTS"
	CategoryTransport     FeeCategory = "TRANSPORT"
	CategoryUniform       FeeCategory = "UNIFORM"
	CategoryBooks         FeeCategory = "BOOKS"
	CategoryFeeding       FeeCategory = "FEEDING"
	CategoryDevelopment   FeeCategory = "DEVELOPMENT"
	CategoryTechnology    FeeCategory = "TECHNOLOGY"
	CategoryExcursion     FeeCategory = "EXCURSION"
	CategoryMiscellaneous FeeCategory = "MISCELLANEOUS"
)

type RecurrenceType string

const (
	RecurrenceOneTime   RecurrenceType = "ONE_TIME"
	RecurrenceOptional  RecurrenceType = "OPTIONAL"
	RecurrenceMonthly   RecurrenceType = "MONTHLY"
	RecurrenceQuarterly RecurrenceType = "QUARTERLY"
	RecurrenceTermly    RecurrenceType = "TERMLY"
	RecurrenceAnnually  RecurrenceType = "ANNUALLY"
)

type Gender string

const (
	GenderMale   Gender = "MALE"
	GenderFemale Gender = "FEMALE"
)

// GenderEligibility restricts a fee item to one gender. Empty means ALL.
type GenderEligibility string

const (
	EligibleAllGenders GenderEligibility = "ALL"
	EligibleMale       GenderEligibility = "MALE"
	EligibleFemale     GenderEligibility = "FEMALE"
)

type StudentStatus string

const (
	StudentNew       StudentStatus = "NEW"
	StudentReturning StudentStatus = "RETURNING"
)

// StatusEligibility restricts a fee item to new or returning students.
// Empty means ALL.
type StatusEligibility string

const (
	EligibleAllStudents StatusEligibility = "ALL"
	EligibleNew         StatusEligibility = "NEW"
	EligibleReturning   StatusEligibility = "RETURNING"
)

type Role string

const (
	RoleStaff       Role = "STAFF"
	RoleSchoolAdmin Role = "SCHOOL_ADMIN"
	RoleTeacher     Role = "TEACHER"
	RoleParent      Role = "PARENT"
)

// StaffDiscountRoles are the roles that make a parent's children staff children.
var StaffDiscountRoles = []Role{RoleStaff, RoleSchoolAdmin}

// DebtStatus buckets an outstanding balance for dashboards.
type DebtStatus string

const (
	DebtCleared DebtStatus = "CLEARED"
	DebtLow     DebtStatus = "LOW"
	DebtMedium  DebtStatus = "MEDIUM"
	DebtHigh    DebtStatus = "HIGH"
)

var (
	debtLowCeiling    = NewMoney(50000)
	debtMediumCeiling = NewMoney(200000)
)

// ClassifyDebt returns the debt bucket for an outstanding balance.
func ClassifyDebt(balance Money) DebtStatus {
	switch {
	case !balance.IsPositive():
		return DebtCleared
	case balance.LessThan(debtLowCeiling):
		return DebtLow
	case balance.LessThan(debtMediumCeiling):
		return DebtMedium
	default:
		return DebtHigh
	}
}

// =============================================================================
// FEE CATALOG RECORDS
// =============================================================================

// StaffDiscount is the discount a fee item grants to staff children.
type StaffDiscount struct {
	Type  DiscountType
	Value decimal.Decimal // flat amount in major units, or a percentage
}

// Apply returns amount after the discount, rounded down to 2 places and
// never below zero.
func (d StaffDiscount) Apply(amount Money) Money {
	switch d.Type {
	case DiscountFlat:
		amount = amount.Sub(Money{Value: d.Value})
	case DiscountPercentage:
		amount = amount.Sub(amount.Percent(d.Value))
	default:
		return amount
	}
	return amount.RoundDown().ClampZero()
}

// HasDiscount reports whether the discount changes anything.
func (d StaffDiscount) HasDiscount() bool {
	return (d.Type == DiscountFlat || d.Type == DiscountPercentage) && d.Value.IsPositive()
}

// FeeItem is a school's fee definition.
type FeeItem struct {
	ID                FeeItemID
	SchoolID          SchoolID
	Name              string
	Amount            Money
	Category          FeeCategory
	Description       string
	IsMandatory       bool
	IsRecurring       bool
	Recurrence        RecurrenceType
	GenderEligibility GenderEligibility
	StatusEligibility StatusEligibility
	StaffDiscount     StaffDiscount
	IsActive          bool
}

// EligibleFor reports whether the item's gender and status rules admit s.
func (f FeeItem) EligibleFor(s Student) bool {
	switch f.GenderEligibility {
	case EligibleMale:
		if s.Gender != GenderMale {
			return false
		}
	case EligibleFemale:
		if s.Gender != GenderFemale {
			return false
		}
	}
	switch f.StatusEligibility {
	case EligibleNew:
		return s.Status == StudentNew
	case EligibleReturning:
		return s.Status == StudentReturning
	}
	return true
}

// ClassFeeItem binds a FeeItem to a class for a session and, optionally,
// a single term. A nil TermID means every term of the session.
type ClassFeeItem struct {
	ID           ClassFeeItemID
	SchoolID     SchoolID
	ClassID      ClassID
	ClassName    string
	FeeItem      FeeItem
	SessionID    SessionID
	TermID       *TermID
	CustomAmount *Money
	IsApplicable bool
	IsLocked     bool
	IsActive     bool
	Notes        string
}

// EffectiveAmount is the class override when set, else the item amount.
func (c ClassFeeItem) EffectiveAmount() Money {
	if c.CustomAmount != nil {
		return *c.CustomAmount
	}
	return c.FeeItem.Amount
}

// StudentOptionalFee records a student's opt-in to an optional ClassFeeItem.
type StudentOptionalFee struct {
	ID             OptionalFeeID
	StudentID      StudentID
	ClassFeeItemID ClassFeeItemID
	SessionID      SessionID
	TermID         *TermID
	OptedInAt      time.Time
	OptedInBy      string
	IsLocked       bool
	CustomAmount   *Money
	Notes          string
	IsActive       bool
}

// =============================================================================
// PEOPLE
// =============================================================================

type Student struct {
	ID            StudentID
	SchoolID      SchoolID
	Name          string
	StudentNumber string
	Gender        Gender
	Status        StudentStatus
	IsActive      bool
	CreatedAt     time.Time
}

// Enrollment places a student in a class for a session.
type Enrollment struct {
	StudentID StudentID
	ClassID   ClassID
	ClassName string
	SessionID SessionID
	IsActive  bool
}

type Parent struct {
	ID               ParentID
	SchoolID         SchoolID
	UserID           UserID
	Name             string
	Email            string
	DistributionType DistributionType
	PriorityOrder    []StudentID
	IsActive         bool
}

// Wallet is a parent's dedicated account. AccountNumber stays nil until the
// payment provider assigns one.
type Wallet struct {
	ID            WalletID
	SchoolID      SchoolID
	ParentID      ParentID
	CustomerCode  string
	AccountNumber *string
	AccountName   string
	BankName      string
	Balance       Money
	Currency      string
	IsActive      bool
	CreatedAt     time.Time
}

// IsProvisioned reports whether a dedicated account number is assigned.
func (w Wallet) IsProvisioned() bool {
	return w.AccountNumber != nil && *w.AccountNumber != ""
}

// =============================================================================
// ACADEMIC CALENDAR
// =============================================================================

type AcademicSession struct {
	ID        SessionID
	SchoolID  SchoolID
	Name      string
	Year      int
	IsCurrent bool
	IsActive  bool
}

type Term struct {
	ID        TermID
	SchoolID  SchoolID
	SessionID SessionID
	Name      string
	IsCurrent bool
	IsActive  bool
}

// =============================================================================
// SETTLEMENTS & ALLOCATIONS
// =============================================================================

type SettlementType string

const (
	SettlementAuto   SettlementType = "AUTO"
	SettlementManual SettlementType = "MANUAL"
)

// SettlementSource is where a settlement came from. The set is closed:
// AutoSource or ManualSource.
type SettlementSource interface {
	Type() SettlementType
	isSettlementSource()
}

// AutoSource is a gateway webhook settlement.
type AutoSource struct {
	RawPayload string
}

func (AutoSource) Type() SettlementType { return SettlementAuto }
func (AutoSource) isSettlementSource()  {}

// ManualSource is a settlement keyed in by an administrator.
type ManualSource struct {
	Notes      string
	RecordedBy string
}

func (ManualSource) Type() SettlementType { return SettlementManual }
func (ManualSource) isSettlementSource()  {}

// SourceFromRecord rebuilds the variant from stored columns.
func SourceFromRecord(t SettlementType, rawPayload, notes, recordedBy string) SettlementSource {
	if t == SettlementManual {
		return ManualSource{Notes: notes, RecordedBy: recordedBy}
	}
	return AutoSource{RawPayload: rawPayload}
}

// SourceColumns flattens the variant for storage.
func SourceColumns(src SettlementSource) (t SettlementType, rawPayload, notes, recordedBy string) {
	switch s := src.(type) {
	case ManualSource:
		return SettlementManual, "", s.Notes, s.RecordedBy
	case AutoSource:
		return SettlementAuto, s.RawPayload, "", ""
	default:
		return SettlementAuto, "", "", ""
	}
}

// AllocationStatus says how much of a settlement reached children.
type AllocationStatus string

const (
	AllocationComplete   AllocationStatus = "ALLOCATED"
	AllocationPartial    AllocationStatus = "PARTIAL"
	AllocationUnassigned AllocationStatus = "UNALLOCATED"
)

const (
	DefaultCurrency       = "NGN"
	StatusSuccess         = "success"
	ChannelManual         = "MANUAL"
	ManualReferencePrefix = "MANUAL-"
)

// Settlement is money received into a parent's wallet. Immutable.
type Settlement struct {
	ID                SettlementID
	SchoolID          SchoolID
	WalletID          *WalletID
	ParentID          *ParentID
	Amount            Money
	Currency          string
	Reference         string
	Status            string
	Channel           string
	PayerEmail        string
	TransactionDate   time.Time
	SessionID         *SessionID
	TermID            *TermID
	Reimbursed        bool
	Source            SettlementSource
	AllocationStatus  AllocationStatus
	UnallocatedAmount Money
	CreatedAt         time.Time
}

// Type returns the settlement type from its source.
func (s Settlement) Type() SettlementType {
	if s.Source == nil {
		return SettlementAuto
	}
	return s.Source.Type()
}

// PaymentAllocation is the share of one settlement attributed to one
// student. Immutable.
type PaymentAllocation struct {
	ID            AllocationID
	SchoolID      SchoolID
	SettlementID  SettlementID
	StudentID     StudentID
	SessionID     SessionID
	TermID        *TermID
	Amount        Money
	Order         int
	Method        DistributionType
	BalanceBefore Money
	BalanceAfter  Money
	AllocatedAt   time.Time
	Notes         string
}

// =============================================================================
// INVOICES (read-only here)
// =============================================================================

// Invoice is issued elsewhere. Amounts are integer minor units.
type Invoice struct {
	ID               InvoiceID
	SchoolID         SchoolID
	StudentID        StudentID
	SessionID        SessionID
	TermID           *TermID
	TotalAmountMinor int64
	AmountPaidMinor  int64
	BalanceDueMinor  int64
	Status           string
	IsActive         bool
}

// Paid is AmountPaidMinor converted to major units.
func (i Invoice) Paid() Money {
	return MoneyFromMinor(i.AmountPaidMinor)
}
