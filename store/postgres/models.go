package postgres

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/fee-engine/finance"
)

// Row types mirror the sqlite schema. Money is numeric(14,2); decimal.Decimal
// implements sql.Scanner and driver.Valuer.

type sessionRow struct {
	ID        string `gorm:"primaryKey"`
	SchoolID  string `gorm:"index;not null"`
	Name      string
	Year      int
	IsCurrent bool
	IsActive  bool
}

func (sessionRow) TableName() string { return "academic_sessions" }

type termRow struct {
	ID        string `gorm:"primaryKey"`
	SchoolID  string `gorm:"index;not null"`
	SessionID string `gorm:"not null"`
	Name      string
	IsCurrent bool
	IsActive  bool
}

func (termRow) TableName() string { return "terms" }

type feeItemRow struct {
	ID                string          `gorm:"primaryKey"`
	SchoolID          string          `gorm:"index;not null"`
	Name              string          `gorm:"not null"`
	Amount            decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	Category          string
	Description       string
	IsMandatory       bool
	IsRecurring       bool
	Recurrence        string
	GenderEligibility string
	StatusEligibility string
	DiscountType      string
	DiscountValue     decimal.Decimal `gorm:"type:numeric(14,4);not null"`
	IsActive          bool
}

func (feeItemRow) TableName() string { return "fee_items" }

type classFeeItemRow struct {
	ID           string `gorm:"primaryKey"`
	SchoolID     string `gorm:"not null"`
	ClassID      string `gorm:"not null;index:idx_class_fee_items_class_session;uniqueIndex:idx_class_fee_items_unique"`
	ClassName    string
	FeeItemID    string     `gorm:"not null;uniqueIndex:idx_class_fee_items_unique"`
	FeeItem      feeItemRow `gorm:"foreignKey:FeeItemID"`
	SessionID    string     `gorm:"not null;index:idx_class_fee_items_class_session;uniqueIndex:idx_class_fee_items_unique"`
	TermID       *string    `gorm:"uniqueIndex:idx_class_fee_items_unique"`
	CustomAmount *decimal.Decimal `gorm:"type:numeric(14,2)"`
	IsApplicable bool
	IsLocked     bool
	IsActive     bool
	Notes        string
}

func (classFeeItemRow) TableName() string { return "class_fee_items" }

type optionalFeeRow struct {
	ID             string `gorm:"primaryKey"`
	StudentID      string `gorm:"not null;uniqueIndex:idx_optional_fee_student_item"`
	ClassFeeItemID string `gorm:"not null;uniqueIndex:idx_optional_fee_student_item"`
	SessionID      string `gorm:"not null"`
	TermID         *string
	OptedInAt      time.Time
	OptedInBy      string
	IsLocked       bool
	CustomAmount   *decimal.Decimal `gorm:"type:numeric(14,2)"`
	Notes          string
	IsActive       bool
}

func (optionalFeeRow) TableName() string { return "student_optional_fees" }

type studentRow struct {
	ID            string `gorm:"primaryKey"`
	SchoolID      string `gorm:"index:idx_students_school;not null"`
	Name          string
	StudentNumber string
	Gender        string
	Status        string
	IsActive      bool
	CreatedAt     time.Time `gorm:"index:idx_students_school"`
}

func (studentRow) TableName() string { return "students" }

type enrollmentRow struct {
	StudentID string `gorm:"primaryKey"`
	ClassID   string `gorm:"primaryKey"`
	SessionID string `gorm:"primaryKey"`
	ClassName string
	IsActive  bool
	CreatedAt time.Time
}

func (enrollmentRow) TableName() string { return "enrollments" }

type parentRow struct {
	ID               string `gorm:"primaryKey"`
	SchoolID         string `gorm:"not null"`
	UserID           string `gorm:"index"`
	Name             string
	Email            string
	DistributionType string
	PriorityOrder    string
	IsActive         bool
}

func (parentRow) TableName() string { return "parents" }

type parentStudentRow struct {
	ParentID  string `gorm:"primaryKey"`
	StudentID string `gorm:"primaryKey;index"`
	LinkedAt  time.Time
}

func (parentStudentRow) TableName() string { return "parent_students" }

type userRoleRow struct {
	UserID   string `gorm:"primaryKey"`
	SchoolID string `gorm:"primaryKey"`
	Role     string `gorm:"primaryKey"`
}

func (userRoleRow) TableName() string { return "user_roles" }

type invoiceRow struct {
	ID          string `gorm:"primaryKey"`
	SchoolID    string `gorm:"not null"`
	StudentID   string `gorm:"not null;index:idx_invoices_student_session"`
	SessionID   string `gorm:"not null;index:idx_invoices_student_session"`
	TermID      *string
	TotalAmount int64
	AmountPaid  int64
	BalanceDue  int64
	Status      string
	IsActive    bool
}

func (invoiceRow) TableName() string { return "invoices" }

type walletRow struct {
	ID            string `gorm:"primaryKey"`
	SchoolID      string `gorm:"not null"`
	ParentID      string `gorm:"not null;uniqueIndex"`
	CustomerCode  string `gorm:"index"`
	AccountNumber *string `gorm:"index"`
	AccountName   string
	BankName      string
	Balance       decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	Currency      string
	IsActive      bool
	CreatedAt     time.Time
}

func (walletRow) TableName() string { return "wallets" }

type settlementRow struct {
	ID                string  `gorm:"primaryKey"`
	SchoolID          string  `gorm:"not null;index:idx_settlements_school"`
	WalletID          *string `gorm:"index:idx_settlements_wallet_session"`
	ParentID          *string
	Amount            decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	Currency          string
	Reference         string `gorm:"not null;uniqueIndex"`
	Status            string `gorm:"index:idx_settlements_school"`
	Channel           string
	PayerEmail        string
	TransactionDate   time.Time
	SessionID         *string `gorm:"index:idx_settlements_wallet_session"`
	TermID            *string `gorm:"index:idx_settlements_wallet_session"`
	Reimbursed        bool    `gorm:"index:idx_settlements_school"`
	SettlementType    string
	RawPayload        string
	Notes             string
	RecordedBy        string
	AllocationStatus  string
	UnallocatedAmount decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	CreatedAt         time.Time
}

func (settlementRow) TableName() string { return "settlements" }

type allocationRow struct {
	ID              string `gorm:"primaryKey"`
	SchoolID        string `gorm:"not null"`
	SettlementID    string `gorm:"not null;uniqueIndex:idx_allocations_settlement_order"`
	StudentID       string `gorm:"not null;index:idx_allocations_student_session"`
	SessionID       string `gorm:"not null;index:idx_allocations_student_session"`
	TermID          *string `gorm:"index:idx_allocations_student_session"`
	Amount          decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	AllocationOrder int             `gorm:"uniqueIndex:idx_allocations_settlement_order"`
	Method          string
	BalanceBefore   decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	BalanceAfter    decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	AllocatedAt     time.Time
	Notes           string
}

func (allocationRow) TableName() string { return "payment_allocations" }

type outboxRow struct {
	ID          string `gorm:"primaryKey"`
	Kind        string `gorm:"not null"`
	AggregateID string
	Payload     string `gorm:"type:jsonb;not null"`
	CreatedAt   time.Time `gorm:"index"`
	ProcessedAt *time.Time
	Attempts    int
	LastError   string
}

func (outboxRow) TableName() string { return "outbox_events" }

// allModels is the AutoMigrate order; fee_items precedes class_fee_items.
var allModels = []any{
	&sessionRow{}, &termRow{}, &feeItemRow{}, &classFeeItemRow{}, &optionalFeeRow{},
	&studentRow{}, &enrollmentRow{}, &parentRow{}, &parentStudentRow{}, &userRoleRow{},
	&invoiceRow{}, &walletRow{}, &settlementRow{}, &allocationRow{}, &outboxRow{},
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func strPtr[T ~string](id *T) *string {
	if id == nil {
		return nil
	}
	s := string(*id)
	return &s
}

func typedPtr[T ~string](s *string) *T {
	if s == nil || *s == "" {
		return nil
	}
	id := T(*s)
	return &id
}

func decPtr(m *finance.Money) *decimal.Decimal {
	if m == nil {
		return nil
	}
	d := m.Value
	return &d
}

func moneyPtr(d *decimal.Decimal) *finance.Money {
	if d == nil {
		return nil
	}
	return &finance.Money{Value: *d}
}

func toFeeItem(r feeItemRow) finance.FeeItem {
	return finance.FeeItem{
		ID:                finance.FeeItemID(r.ID),
		SchoolID:          finance.SchoolID(r.SchoolID),
		Name:              r.Name,
		Amount:            finance.Money{Value: r.Amount},
		Category:          finance.FeeCategory(r.Category),
		Description:       r.Description,
		IsMandatory:       r.IsMandatory,
		IsRecurring:       r.IsRecurring,
		Recurrence:        finance.RecurrenceType(r.Recurrence),
		GenderEligibility: finance.GenderEligibility(r.GenderEligibility),
		StatusEligibility: finance.StatusEligibility(r.StatusEligibility),
		StaffDiscount:     finance.StaffDiscount{Type: finance.DiscountType(r.DiscountType), Value: r.DiscountValue},
		IsActive:          r.IsActive,
	}
}

func fromFeeItem(f finance.FeeItem) feeItemRow {
	discount := string(f.StaffDiscount.Type)
	if discount == "" {
		discount = string(finance.DiscountNone)
	}
	return feeItemRow{
		ID:                string(f.ID),
		SchoolID:          string(f.SchoolID),
		Name:              f.Name,
		Amount:            f.Amount.Value,
		Category:          string(f.Category),
		Description:       f.Description,
		IsMandatory:       f.IsMandatory,
		IsRecurring:       f.IsRecurring,
		Recurrence:        string(f.Recurrence),
		GenderEligibility: string(f.GenderEligibility),
		StatusEligibility: string(f.StatusEligibility),
		DiscountType:      discount,
		DiscountValue:     f.StaffDiscount.Value,
		IsActive:          f.IsActive,
	}
}

func toClassFeeItem(r classFeeItemRow) finance.ClassFeeItem {
	return finance.ClassFeeItem{
		ID:           finance.ClassFeeItemID(r.ID),
		SchoolID:     finance.SchoolID(r.SchoolID),
		ClassID:      finance.ClassID(r.ClassID),
		ClassName:    r.ClassName,
		FeeItem:      toFeeItem(r.FeeItem),
		SessionID:    finance.SessionID(r.SessionID),
		TermID:       typedPtr[finance.TermID](r.TermID),
		CustomAmount: moneyPtr(r.CustomAmount),
		IsApplicable: r.IsApplicable,
		IsLocked:     r.IsLocked,
		IsActive:     r.IsActive,
		Notes:        r.Notes,
	}
}

func toOptionalFee(r optionalFeeRow) finance.StudentOptionalFee {
	return finance.StudentOptionalFee{
		ID:             finance.OptionalFeeID(r.ID),
		StudentID:      finance.StudentID(r.StudentID),
		ClassFeeItemID: finance.ClassFeeItemID(r.ClassFeeItemID),
		SessionID:      finance.SessionID(r.SessionID),
		TermID:         typedPtr[finance.TermID](r.TermID),
		OptedInAt:      r.OptedInAt.UTC(),
		OptedInBy:      r.OptedInBy,
		IsLocked:       r.IsLocked,
		CustomAmount:   moneyPtr(r.CustomAmount),
		Notes:          r.Notes,
		IsActive:       r.IsActive,
	}
}

func toStudent(r studentRow) finance.Student {
	return finance.Student{
		ID:            finance.StudentID(r.ID),
		SchoolID:      finance.SchoolID(r.SchoolID),
		Name:          r.Name,
		StudentNumber: r.StudentNumber,
		Gender:        finance.Gender(r.Gender),
		Status:        finance.StudentStatus(r.Status),
		IsActive:      r.IsActive,
		CreatedAt:     r.CreatedAt.UTC(),
	}
}

func toParent(r parentRow) finance.Parent {
	var priority []finance.StudentID
	for _, id := range strings.Split(r.PriorityOrder, ",") {
		if id = strings.TrimSpace(id); id != "" {
			priority = append(priority, finance.StudentID(id))
		}
	}
	return finance.Parent{
		ID:               finance.ParentID(r.ID),
		SchoolID:         finance.SchoolID(r.SchoolID),
		UserID:           finance.UserID(r.UserID),
		Name:             r.Name,
		Email:            r.Email,
		DistributionType: finance.ParseDistributionType(r.DistributionType),
		PriorityOrder:    priority,
		IsActive:         r.IsActive,
	}
}

func fromParent(p finance.Parent) parentRow {
	ids := make([]string, len(p.PriorityOrder))
	for i, id := range p.PriorityOrder {
		ids[i] = string(id)
	}
	method := p.DistributionType
	if method == "" {
		method = finance.DistributionSpread
	}
	return parentRow{
		ID:               string(p.ID),
		SchoolID:         string(p.SchoolID),
		UserID:           string(p.UserID),
		Name:             p.Name,
		Email:            p.Email,
		DistributionType: string(method),
		PriorityOrder:    strings.Join(ids, ","),
		IsActive:         p.IsActive,
	}
}

func toWallet(r walletRow) finance.Wallet {
	return finance.Wallet{
		ID:            finance.WalletID(r.ID),
		SchoolID:      finance.SchoolID(r.SchoolID),
		ParentID:      finance.ParentID(r.ParentID),
		CustomerCode:  r.CustomerCode,
		AccountNumber: r.AccountNumber,
		AccountName:   r.AccountName,
		BankName:      r.BankName,
		Balance:       finance.Money{Value: r.Balance},
		Currency:      r.Currency,
		IsActive:      r.IsActive,
		CreatedAt:     r.CreatedAt.UTC(),
	}
}

func fromWallet(w finance.Wallet) walletRow {
	currency := w.Currency
	if currency == "" {
		currency = finance.DefaultCurrency
	}
	createdAt := w.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return walletRow{
		ID:            string(w.ID),
		SchoolID:      string(w.SchoolID),
		ParentID:      string(w.ParentID),
		CustomerCode:  w.CustomerCode,
		AccountNumber: w.AccountNumber,
		AccountName:   w.AccountName,
		BankName:      w.BankName,
		Balance:       w.Balance.Value,
		Currency:      currency,
		IsActive:      w.IsActive,
		CreatedAt:     createdAt,
	}
}

func toSettlement(r settlementRow) finance.Settlement {
	return finance.Settlement{
		ID:                finance.SettlementID(r.ID),
		SchoolID:          finance.SchoolID(r.SchoolID),
		WalletID:          typedPtr[finance.WalletID](r.WalletID),
		ParentID:          typedPtr[finance.ParentID](r.ParentID),
		Amount:            finance.Money{Value: r.Amount},
		Currency:          r.Currency,
		Reference:         r.Reference,
		Status:            r.Status,
		Channel:           r.Channel,
		PayerEmail:        r.PayerEmail,
		TransactionDate:   r.TransactionDate.UTC(),
		SessionID:         typedPtr[finance.SessionID](r.SessionID),
		TermID:            typedPtr[finance.TermID](r.TermID),
		Reimbursed:        r.Reimbursed,
		Source:            finance.SourceFromRecord(finance.SettlementType(r.SettlementType), r.RawPayload, r.Notes, r.RecordedBy),
		AllocationStatus:  finance.AllocationStatus(r.AllocationStatus),
		UnallocatedAmount: finance.Money{Value: r.UnallocatedAmount},
		CreatedAt:         r.CreatedAt.UTC(),
	}
}

func fromSettlement(s finance.Settlement) settlementRow {
	kind, rawPayload, notes, recordedBy := finance.SourceColumns(s.Source)
	return settlementRow{
		ID:                string(s.ID),
		SchoolID:          string(s.SchoolID),
		WalletID:          strPtr(s.WalletID),
		ParentID:          strPtr(s.ParentID),
		Amount:            s.Amount.Value,
		Currency:          s.Currency,
		Reference:         s.Reference,
		Status:            s.Status,
		Channel:           s.Channel,
		PayerEmail:        s.PayerEmail,
		TransactionDate:   s.TransactionDate,
		SessionID:         strPtr(s.SessionID),
		TermID:            strPtr(s.TermID),
		Reimbursed:        s.Reimbursed,
		SettlementType:    string(kind),
		RawPayload:        rawPayload,
		Notes:             notes,
		RecordedBy:        recordedBy,
		AllocationStatus:  string(s.AllocationStatus),
		UnallocatedAmount: s.UnallocatedAmount.Value,
		CreatedAt:         s.CreatedAt,
	}
}

func toAllocation(r allocationRow) finance.PaymentAllocation {
	return finance.PaymentAllocation{
		ID:            finance.AllocationID(r.ID),
		SchoolID:      finance.SchoolID(r.SchoolID),
		SettlementID:  finance.SettlementID(r.SettlementID),
		StudentID:     finance.StudentID(r.StudentID),
		SessionID:     finance.SessionID(r.SessionID),
		TermID:        typedPtr[finance.TermID](r.TermID),
		Amount:        finance.Money{Value: r.Amount},
		Order:         r.AllocationOrder,
		Method:        finance.DistributionType(r.Method),
		BalanceBefore: finance.Money{Value: r.BalanceBefore},
		BalanceAfter:  finance.Money{Value: r.BalanceAfter},
		AllocatedAt:   r.AllocatedAt.UTC(),
		Notes:         r.Notes,
	}
}

func fromAllocation(a finance.PaymentAllocation) allocationRow {
	return allocationRow{
		ID:              string(a.ID),
		SchoolID:        string(a.SchoolID),
		SettlementID:    string(a.SettlementID),
		StudentID:       string(a.StudentID),
		SessionID:       string(a.SessionID),
		TermID:          strPtr(a.TermID),
		Amount:          a.Amount.Value,
		AllocationOrder: a.Order,
		Method:          string(a.Method),
		BalanceBefore:   a.BalanceBefore.Value,
		BalanceAfter:    a.BalanceAfter.Value,
		AllocatedAt:     a.AllocatedAt,
		Notes:           a.Notes,
	}
}

func toEvent(r outboxRow) finance.OutboxEvent {
	return finance.OutboxEvent{
		ID:          finance.EventID(r.ID),
		Kind:        finance.EventKind(r.Kind),
		AggregateID: r.AggregateID,
		Payload:     json.RawMessage(r.Payload),
		CreatedAt:   r.CreatedAt.UTC(),
		ProcessedAt: r.ProcessedAt,
		Attempts:    r.Attempts,
		LastError:   r.LastError,
	}
}
