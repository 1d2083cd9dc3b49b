/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the finance model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Amounts are finance.Money, which encodes as a JSON number with two
  decimals (2000.00) and decodes from a number or a quoted string.

VALIDATION:
  Request types carry go-playground/validator tags, checked by the handler's
  validator before any store access. Amount rules (positive, two decimals)
  stay in the finance package so every caller gets them.

SEE ALSO:
  - handlers.go: Uses these types
  - finance/types.go: Domain types
*/
package api

import (
	"encoding/json"
	"time"

	"github.com/samber/lo"
	"github.com/warp/fee-engine/finance"
)

// =============================================================================
// REQUESTS
// =============================================================================

// RecordSettlementRequest is a gateway-shaped payment notification. The
// wallet is named by id, customer code or receiving account number.
type RecordSettlementRequest struct {
	SchoolID        string          `json:"school_id"`
	WalletID        string          `json:"wallet_id" validate:"required_without_all=CustomerCode AccountNumber"`
	CustomerCode    string          `json:"customer_code"`
	AccountNumber   string          `json:"account_number" validate:"omitempty,numeric"`
	Amount          finance.Money   `json:"amount"`
	Currency        string          `json:"currency" validate:"omitempty,len=3"`
	Reference       string          `json:"reference" validate:"required,max=128"`
	Status          string          `json:"status"`
	Channel         string          `json:"channel"`
	PayerEmail      string          `json:"payer_email" validate:"omitempty,email"`
	TransactionDate *time.Time      `json:"transaction_date"`
	SessionID       string          `json:"session_id"`
	TermID          string          `json:"term_id"`
	RawPayload      json.RawMessage `json:"raw_payload"`
}

type ManualSettlementRequest struct {
	SchoolID   string        `json:"school_id"`
	ParentID   string        `json:"parent_id" validate:"required"`
	Amount     finance.Money `json:"amount"`
	SessionID  string        `json:"session_id"`
	TermID     string        `json:"term_id"`
	Notes      string        `json:"notes" validate:"max=500"`
	RecordedBy string        `json:"recorded_by" validate:"required"`
}

type OptInRequest struct {
	ClassFeeItemID string         `json:"class_fee_item_id" validate:"required"`
	OptedInBy      string         `json:"opted_in_by" validate:"required"`
	CustomAmount   *finance.Money `json:"custom_amount"`
	Notes          string         `json:"notes" validate:"max=500"`
}

type OpenWalletRequest struct {
	Currency string `json:"currency" validate:"omitempty,len=3"`
}

// AssignAccountRequest carries the provider's dedicated account details.
type AssignAccountRequest struct {
	CustomerCode  string `json:"customer_code"`
	AccountNumber string `json:"account_number" validate:"required,numeric,min=6,max=20"`
	AccountName   string `json:"account_name"`
	BankName      string `json:"bank_name"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// SETTLEMENTS
// =============================================================================

type SettlementDTO struct {
	ID                string        `json:"id"`
	SchoolID          string        `json:"school_id"`
	WalletID          *string       `json:"wallet_id,omitempty"`
	ParentID          *string       `json:"parent_id,omitempty"`
	Amount            finance.Money `json:"amount"`
	Currency          string        `json:"currency"`
	Reference         string        `json:"reference"`
	Status            string        `json:"status"`
	Channel           string        `json:"channel,omitempty"`
	PayerEmail        string        `json:"payer_email,omitempty"`
	TransactionDate   string        `json:"transaction_date"`
	SessionID         *string       `json:"session_id,omitempty"`
	TermID            *string       `json:"term_id,omitempty"`
	Reimbursed        bool          `json:"reimbursed"`
	Type              string        `json:"type"`
	Notes             string        `json:"notes,omitempty"`
	RecordedBy        string        `json:"recorded_by,omitempty"`
	AllocationStatus  string        `json:"allocation_status"`
	UnallocatedAmount finance.Money `json:"unallocated_amount"`
}

type AllocationDTO struct {
	ID            string        `json:"id"`
	SettlementID  string        `json:"settlement_id"`
	StudentID     string        `json:"student_id"`
	SessionID     string        `json:"session_id"`
	TermID        *string       `json:"term_id,omitempty"`
	Amount        finance.Money `json:"amount"`
	Order         int           `json:"order"`
	Method        string        `json:"method"`
	BalanceBefore finance.Money `json:"balance_before"`
	BalanceAfter  finance.Money `json:"balance_after"`
	AllocatedAt   string        `json:"allocated_at"`
	Notes         string        `json:"notes,omitempty"`
}

type ReceiptDTO struct {
	Settlement  SettlementDTO   `json:"settlement"`
	Allocations []AllocationDTO `json:"allocations"`
	Duplicate   bool            `json:"duplicate"`
	Warning     string          `json:"warning,omitempty"`
}

// =============================================================================
// BALANCES & FEES
// =============================================================================

type PeriodDTO struct {
	SessionID   string  `json:"session_id"`
	SessionName string  `json:"session_name"`
	TermID      *string `json:"term_id,omitempty"`
	TermName    string  `json:"term_name,omitempty"`
}

type FeeLineDTO struct {
	ClassFeeItemID string        `json:"class_fee_item_id"`
	FeeItemID      string        `json:"fee_item_id"`
	Name           string        `json:"name"`
	Category       string        `json:"category"`
	ClassName      string        `json:"class_name"`
	Amount         finance.Money `json:"amount"`
	IsMandatory    bool          `json:"is_mandatory"`
}

type FeeItemViewDTO struct {
	FeeLineDTO
	IsOptedIn bool `json:"is_opted_in"`
	IsLocked  bool `json:"is_locked"`
}

type StudentFeesDTO struct {
	StudentID string        `json:"student_id"`
	Period    *PeriodDTO    `json:"period"`
	Lines     []FeeLineDTO  `json:"lines"`
	Total     finance.Money `json:"total"`
	Mandatory finance.Money `json:"mandatory"`
	Optional  finance.Money `json:"optional"`
}

type ChildBreakdownDTO struct {
	StudentID          string           `json:"student_id"`
	Name               string           `json:"name"`
	Items              []FeeItemViewDTO `json:"items"`
	Total              finance.Money    `json:"total"`
	InvoicePaid        finance.Money    `json:"invoice_paid"`
	WalletAllocated    finance.Money    `json:"wallet_allocated"`
	PersistedAllocated finance.Money    `json:"persisted_allocated"`
	Settled            finance.Money    `json:"settled"`
	Balance            finance.Money    `json:"balance"`
}

type BreakdownDTO struct {
	ParentID            string              `json:"parent_id"`
	Period              *PeriodDTO          `json:"period"`
	Method              string              `json:"distribution_type"`
	Children            []ChildBreakdownDTO `json:"children"`
	TotalFees           finance.Money       `json:"total_fees"`
	InvoicePaid         finance.Money       `json:"invoice_paid"`
	WalletSettled       finance.Money       `json:"wallet_settled"`
	WalletUndistributed finance.Money       `json:"wallet_undistributed"`
	TotalSettled        finance.Money       `json:"total_settled"`
	Balance             finance.Money       `json:"balance"`
	Credit              finance.Money       `json:"credit"`
	DebtStatus          string              `json:"debt_status"`
}

type BalanceDTO struct {
	ParentID   string        `json:"parent_id"`
	Balance    finance.Money `json:"balance"`
	DebtStatus string        `json:"debt_status"`
}

type FeeItemStatsDTO struct {
	Name        string        `json:"name"`
	Amount      finance.Money `json:"amount"`
	Count       int           `json:"count"`
	IsMandatory bool          `json:"is_mandatory"`
}

type ClassFeeStatsDTO struct {
	ClassName     string            `json:"class_name"`
	Total         finance.Money     `json:"total"`
	OptionalTotal finance.Money     `json:"optional_total"`
	Items         []FeeItemStatsDTO `json:"items"`
}

type SchoolFeeStatsDTO struct {
	SchoolID      string             `json:"school_id"`
	Period        *PeriodDTO         `json:"period"`
	ExpectedTotal finance.Money      `json:"expected_total"`
	OptionalTotal finance.Money      `json:"optional_total"`
	Classes       []ClassFeeStatsDTO `json:"classes"`
}

type OptionalFeeDTO struct {
	ID             string         `json:"id"`
	StudentID      string         `json:"student_id"`
	ClassFeeItemID string         `json:"class_fee_item_id"`
	SessionID      string         `json:"session_id"`
	TermID         *string        `json:"term_id,omitempty"`
	OptedInAt      string         `json:"opted_in_at"`
	OptedInBy      string         `json:"opted_in_by"`
	IsLocked       bool           `json:"is_locked"`
	CustomAmount   *finance.Money `json:"custom_amount,omitempty"`
	Notes          string         `json:"notes,omitempty"`
}

type WalletDTO struct {
	ID            string        `json:"id"`
	SchoolID      string        `json:"school_id"`
	ParentID      string        `json:"parent_id"`
	CustomerCode  string        `json:"customer_code,omitempty"`
	AccountNumber *string       `json:"account_number,omitempty"`
	AccountName   string        `json:"account_name,omitempty"`
	BankName      string        `json:"bank_name,omitempty"`
	Balance       finance.Money `json:"balance"`
	Currency      string        `json:"currency"`
	Provisioned   bool          `json:"provisioned"`
}

// =============================================================================
// OPERATIONS
// =============================================================================

type RunSummaryDTO struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

type ScheduleSummaryDTO struct {
	SchoolID      string `json:"school_id"`
	Sessions      int    `json:"sessions"`
	Terms         int    `json:"terms"`
	FeeItems      int    `json:"fee_items"`
	ClassFeeItems int    `json:"class_fee_items"`
}

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func idPtr[T ~string](id *T) *string {
	if id == nil {
		return nil
	}
	s := string(*id)
	return &s
}

func optionalID[T ~string](s string) *T {
	if s == "" {
		return nil
	}
	id := T(s)
	return &id
}

func toSettlementDTO(s finance.Settlement) SettlementDTO {
	dto := SettlementDTO{
		ID:                string(s.ID),
		SchoolID:          string(s.SchoolID),
		WalletID:          idPtr(s.WalletID),
		ParentID:          idPtr(s.ParentID),
		Amount:            s.Amount,
		Currency:          s.Currency,
		Reference:         s.Reference,
		Status:            s.Status,
		Channel:           s.Channel,
		PayerEmail:        s.PayerEmail,
		TransactionDate:   s.TransactionDate.Format(time.RFC3339),
		SessionID:         idPtr(s.SessionID),
		TermID:            idPtr(s.TermID),
		Reimbursed:        s.Reimbursed,
		Type:              string(s.Type()),
		AllocationStatus:  string(s.AllocationStatus),
		UnallocatedAmount: s.UnallocatedAmount,
	}
	if manual, ok := s.Source.(finance.ManualSource); ok {
		dto.Notes = manual.Notes
		dto.RecordedBy = manual.RecordedBy
	}
	return dto
}

func toAllocationDTOs(allocations []finance.PaymentAllocation) []AllocationDTO {
	return lo.Map(allocations, func(a finance.PaymentAllocation, _ int) AllocationDTO {
		return AllocationDTO{
			ID:            string(a.ID),
			SettlementID:  string(a.SettlementID),
			StudentID:     string(a.StudentID),
			SessionID:     string(a.SessionID),
			TermID:        idPtr(a.TermID),
			Amount:        a.Amount,
			Order:         a.Order,
			Method:        string(a.Method),
			BalanceBefore: a.BalanceBefore,
			BalanceAfter:  a.BalanceAfter,
			AllocatedAt:   a.AllocatedAt.Format(time.RFC3339),
			Notes:         a.Notes,
		}
	})
}

func toReceiptDTO(r finance.SettlementReceipt) ReceiptDTO {
	return ReceiptDTO{
		Settlement:  toSettlementDTO(r.Settlement),
		Allocations: toAllocationDTOs(r.Allocations),
		Duplicate:   r.Duplicate,
	}
}

func toPeriodDTO(p *finance.Period) *PeriodDTO {
	if p == nil {
		return nil
	}
	dto := &PeriodDTO{SessionID: string(p.Session.ID), SessionName: p.Session.Name}
	if p.Term != nil {
		dto.TermID = idPtr(&p.Term.ID)
		dto.TermName = p.Term.Name
	}
	return dto
}

func toFeeLineDTO(l finance.FeeLine) FeeLineDTO {
	return FeeLineDTO{
		ClassFeeItemID: string(l.ClassFeeItemID),
		FeeItemID:      string(l.FeeItemID),
		Name:           l.Name,
		Category:       string(l.Category),
		ClassName:      l.ClassName,
		Amount:         l.Amount,
		IsMandatory:    l.IsMandatory,
	}
}

func toBreakdownDTO(r finance.BreakdownReport) BreakdownDTO {
	return BreakdownDTO{
		ParentID: string(r.ParentID),
		Period:   toPeriodDTO(r.Period),
		Method:   string(r.Method),
		Children: lo.Map(r.Children, func(c finance.ChildBreakdown, _ int) ChildBreakdownDTO {
			return ChildBreakdownDTO{
				StudentID: string(c.Student.ID),
				Name:      c.Student.Name,
				Items: lo.Map(c.Items, func(v finance.FeeItemView, _ int) FeeItemViewDTO {
					return FeeItemViewDTO{FeeLineDTO: toFeeLineDTO(v.FeeLine), IsOptedIn: v.IsOptedIn, IsLocked: v.IsLocked}
				}),
				Total:              c.Total,
				InvoicePaid:        c.InvoicePaid,
				WalletAllocated:    c.WalletAllocated,
				PersistedAllocated: c.PersistedAllocated,
				Settled:            c.Settled,
				Balance:            c.Balance,
			}
		}),
		TotalFees:           r.TotalFees,
		InvoicePaid:         r.InvoicePaid,
		WalletSettled:       r.WalletSettled,
		WalletUndistributed: r.WalletUndistributed,
		TotalSettled:        r.TotalSettled,
		Balance:             r.Balance,
		Credit:              r.Credit,
		DebtStatus:          string(r.DebtStatus),
	}
}

func toSchoolFeeStatsDTO(s finance.SchoolFeeStats) SchoolFeeStatsDTO {
	return SchoolFeeStatsDTO{
		SchoolID:      string(s.SchoolID),
		Period:        toPeriodDTO(s.Period),
		ExpectedTotal: s.ExpectedTotal,
		OptionalTotal: s.OptionalTotal,
		Classes: lo.Map(s.Classes, func(c finance.ClassFeeStats, _ int) ClassFeeStatsDTO {
			return ClassFeeStatsDTO{
				ClassName:     c.ClassName,
				Total:         c.Total,
				OptionalTotal: c.OptionalTotal,
				Items: lo.Map(c.Items, func(i finance.FeeItemStats, _ int) FeeItemStatsDTO {
					return FeeItemStatsDTO{Name: i.Name, Amount: i.Amount, Count: i.Count, IsMandatory: i.IsMandatory}
				}),
			}
		}),
	}
}

func toOptionalFeeDTO(f finance.StudentOptionalFee) OptionalFeeDTO {
	return OptionalFeeDTO{
		ID:             string(f.ID),
		StudentID:      string(f.StudentID),
		ClassFeeItemID: string(f.ClassFeeItemID),
		SessionID:      string(f.SessionID),
		TermID:         idPtr(f.TermID),
		OptedInAt:      f.OptedInAt.Format(time.RFC3339),
		OptedInBy:      f.OptedInBy,
		IsLocked:       f.IsLocked,
		CustomAmount:   f.CustomAmount,
		Notes:          f.Notes,
	}
}

func toWalletDTO(w finance.Wallet) WalletDTO {
	return WalletDTO{
		ID:            string(w.ID),
		SchoolID:      string(w.SchoolID),
		ParentID:      string(w.ParentID),
		CustomerCode:  w.CustomerCode,
		AccountNumber: w.AccountNumber,
		AccountName:   w.AccountName,
		BankName:      w.BankName,
		Balance:       w.Balance,
		Currency:      w.Currency,
		Provisioned:   w.IsProvisioned(),
	}
}
