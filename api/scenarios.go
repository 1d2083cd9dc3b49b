/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with a small
	school: a fee schedule, students, parents and wallets. Each scenario
	shows one allocation behaviour.

AVAILABLE SCENARIOS:

	spread-family:     Two children owing 5,000 and 3,000, SPREAD parent
	sequential-family: Same children, SEQUENTIAL parent paying B first
	staff-family:      Staff parent, discounted tuition, locked bus opt-in
	payment-history:   SPREAD family with prior payments, an invoice
	                   payment and an unallocated transfer

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Apply the demo fee schedule via the factory
 3. Create students, enrollments, parents and wallets
 4. Optionally record settlements through the ledger

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "spread-family"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler wiring
  - factory/schedule.go: Fee schedule JSON
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/fee-engine/finance"
	"go.uber.org/zap"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "spread-family",
		Name:        "Spread Family",
		Description: "Two children owing 5,000 and 3,000; each payment is split evenly between them",
		Category:    "allocation",
	},
	{
		ID:          "sequential-family",
		Name:        "Sequential Family",
		Description: "Same two children; payments clear the younger child first",
		Category:    "allocation",
	},
	{
		ID:          "staff-family",
		Name:        "Staff Family",
		Description: "Staff discount on tuition, a locked optional bus fee, wallet awaiting provisioning",
		Category:    "fees",
	},
	{
		ID:          "payment-history",
		Name:        "Payment History",
		Description: "Prior wallet payment, an invoice payment and an unallocated transfer",
		Category:    "ledger",
	},
}

const (
	demoSchool  = "greenfield"
	demoSession = "2025-2026"
)

var demoEpoch = time.Date(2025, time.September, 8, 8, 0, 0, 0, time.UTC)

// demoScheduleJSON: JSS 1 owes 5,000 and JSS 2 owes 3,000 in the first term.
const demoScheduleJSON = `{
  "school_id": "greenfield",
  "sessions": [
    {"id": "2025-2026", "name": "2025/2026", "year": 2025, "current": true,
     "terms": [
       {"id": "t1", "name": "First Term", "current": true},
       {"id": "t2", "name": "Second Term"},
       {"id": "t3", "name": "Third Term"}
     ]}
  ],
  "fee_items": [
    {"id": "tuition-jss1", "name": "Tuition (JSS 1)", "amount": "5000.00", "category": "tuition",
     "mandatory": true, "staff_discount": {"type": "percentage", "value": "10"}},
    {"id": "tuition-jss2", "name": "Tuition (JSS 2)", "amount": "3000.00", "category": "tuition",
     "mandatory": true, "staff_discount": {"type": "flat_amount", "value": "500"}},
    {"id": "bus", "name": "School Bus", "amount": "1500.00", "category": "transport"},
    {"id": "lab", "name": "Lab Levy", "amount": "800.00", "category": "laboratory",
     "mandatory": true, "recurrence": "one_time"},
    {"id": "uniform", "name": "Uniform", "amount": "2000.00", "category": "uniform",
     "mandatory": true, "recurrence": "one_time", "student_status": "new"}
  ],
  "classes": [
    {"id": "jss1", "name": "JSS 1", "session": "2025-2026",
     "items": [{"fee_item": "tuition-jss1"}, {"fee_item": "bus"}]},
    {"id": "jss2", "name": "JSS 2", "session": "2025-2026",
     "items": [
       {"fee_item": "tuition-jss2"},
       {"fee_item": "bus", "custom_amount": "1200.00", "notes": "shorter route"},
       {"fee_item": "lab", "term": "t2"},
       {"fee_item": "uniform", "term": "t1"}
     ]}
  ]
}`

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.scenarioMu.Lock()
	current := h.currentScenario
	h.scenarioMu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}

	var loader func(context.Context) error
	switch req.ScenarioID {
	case "spread-family":
		loader = h.loadSpreadFamilyScenario
	case "sequential-family":
		loader = h.loadSequentialFamilyScenario
	case "staff-family":
		loader = h.loadStaffFamilyScenario
	case "payment-history":
		loader = h.loadPaymentHistoryScenario
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	h.scenarioMu.Lock()
	defer h.scenarioMu.Unlock()

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		h.writeFinanceError(w, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	if err := loader(ctx); err != nil {
		h.writeFinanceError(w, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	h.currentScenario = req.ScenarioID
	h.Logger.Info("scenario loaded", zap.String("scenario", req.ScenarioID))

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.scenarioMu.Lock()
	defer h.scenarioMu.Unlock()

	if err := h.Store.Reset(r.Context()); err != nil {
		h.writeFinanceError(w, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadSpreadFamilyScenario(ctx context.Context) error {
	d, err := h.demoSchool(ctx)
	if err != nil {
		return err
	}
	return d.twoChildFamily("spread", finance.DistributionSpread)
}

func (h *Handler) loadSequentialFamilyScenario(ctx context.Context) error {
	d, err := h.demoSchool(ctx)
	if err != nil {
		return err
	}
	return d.twoChildFamily("sequential", finance.DistributionSequential)
}

func (h *Handler) loadStaffFamilyScenario(ctx context.Context) error {
	d, err := h.demoSchool(ctx)
	if err != nil {
		return err
	}

	// New JSS 2 student: tuition 2,500 after the flat discount, uniform
	// 2,000, bus 1,200 opted in and locked.
	child := d.student("stu-chidi", "Chidi Eze", "jss2", finance.GenderMale, finance.StudentNew)
	parent := finance.Parent{
		ID:               "par-staff",
		SchoolID:         demoSchool,
		UserID:           "usr-staff",
		Name:             "Ngozi Eze",
		Email:            "ngozi.eze@greenfield.example",
		DistributionType: finance.DistributionSpread,
		IsActive:         true,
	}
	d.parent(parent, child)
	if d.err != nil {
		return d.err
	}
	if err := h.Store.GrantRole(ctx, parent.UserID, demoSchool, finance.RoleStaff); err != nil {
		return err
	}

	bus := finance.ClassFeeItemID("jss2/bus")
	if _, err := h.OptionalFees.OptIn(ctx, finance.OptInRequest{
		StudentID:      child.ID,
		ClassFeeItemID: bus,
		OptedInBy:      string(parent.UserID),
		Notes:          "Lekki route",
	}); err != nil {
		return err
	}
	if err := h.OptionalFees.Lock(ctx, child.ID, bus); err != nil {
		return err
	}

	// Provisioned later by the outbox worker.
	_, err = h.Wallets.OpenWallet(ctx, parent.ID, finance.DefaultCurrency)
	return err
}

func (h *Handler) loadPaymentHistoryScenario(ctx context.Context) error {
	d, err := h.demoSchool(ctx)
	if err != nil {
		return err
	}
	if err := d.twoChildFamily("history", finance.DistributionSpread); err != nil {
		return err
	}

	// Ada's first 1,000 came in through an invoice.
	if err := h.Store.SaveInvoice(ctx, finance.Invoice{
		ID:               "inv-ada-t1",
		SchoolID:         demoSchool,
		StudentID:        "stu-history-ada",
		SessionID:        demoSession,
		TermID:           optionalID[finance.TermID]("t1"),
		TotalAmountMinor: 500000,
		AmountPaidMinor:  100000,
		BalanceDueMinor:  400000,
		Status:           "PARTIALLY_PAID",
		IsActive:         true,
	}); err != nil {
		return err
	}

	if _, err := h.Ledger.RecordSettlement(ctx, finance.RecordSettlementRequest{
		SchoolID:        demoSchool,
		WalletID:        "wal-history",
		Amount:          finance.NewMoney(4000),
		Reference:       "DEMO-HISTORY-0001",
		Channel:         "bank_transfer",
		PayerEmail:      "history@greenfield.example",
		TransactionDate: demoEpoch.Add(72 * time.Hour),
	}); err != nil {
		return err
	}

	// A transfer nobody can match stays UNALLOCATED.
	_, err = h.Ledger.RecordSettlement(ctx, finance.RecordSettlementRequest{
		SchoolID:        demoSchool,
		Amount:          finance.NewMoney(2500),
		Reference:       "DEMO-HISTORY-0002",
		Channel:         "bank_transfer",
		TransactionDate: demoEpoch.Add(96 * time.Hour),
	})
	if err != nil && !finance.IsUnallocated(err) {
		return err
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// demoBuilder seeds records, keeping the first error.
type demoBuilder struct {
	h   *Handler
	ctx context.Context
	seq int
	err error
}

func (h *Handler) demoSchool(ctx context.Context) (*demoBuilder, error) {
	schedule, err := h.Schedules.ParseSchedule(demoScheduleJSON)
	if err != nil {
		return nil, err
	}
	if err := schedule.Apply(ctx, h.Store); err != nil {
		return nil, err
	}
	return &demoBuilder{h: h, ctx: ctx}, nil
}

func (d *demoBuilder) next() time.Time {
	d.seq++
	return demoEpoch.Add(time.Duration(d.seq) * time.Minute)
}

func (d *demoBuilder) student(id, name, class string, gender finance.Gender, status finance.StudentStatus) finance.Student {
	s := finance.Student{
		ID:            finance.StudentID(id),
		SchoolID:      demoSchool,
		Name:          name,
		StudentNumber: fmt.Sprintf("GF/%03d", d.seq+1),
		Gender:        gender,
		Status:        status,
		IsActive:      true,
		CreatedAt:     d.next(),
	}
	if d.err != nil {
		return s
	}
	if d.err = d.h.Store.SaveStudent(d.ctx, s); d.err != nil {
		return s
	}
	d.err = d.h.Store.SaveEnrollment(d.ctx, finance.Enrollment{
		StudentID: s.ID,
		ClassID:   finance.ClassID(class),
		ClassName: classNames[class],
		SessionID: demoSession,
		IsActive:  true,
	})
	return s
}

var classNames = map[string]string{"jss1": "JSS 1", "jss2": "JSS 2"}

func (d *demoBuilder) parent(p finance.Parent, children ...finance.Student) {
	if d.err != nil {
		return
	}
	if d.err = d.h.Store.SaveParent(d.ctx, p); d.err != nil {
		return
	}
	for _, child := range children {
		if d.err = d.h.Store.LinkParent(d.ctx, p.ID, child.ID, d.next()); d.err != nil {
			return
		}
	}
}

// twoChildFamily creates Ada (JSS 1, owes 5,000) and Bayo (JSS 2, owes
// 3,000) with a provisioned wallet. Sequential parents pay Bayo first.
func (d *demoBuilder) twoChildFamily(key string, method finance.DistributionType) error {
	ada := d.student("stu-"+key+"-ada", "Ada Okafor", "jss1", finance.GenderFemale, finance.StudentReturning)
	bayo := d.student("stu-"+key+"-bayo", "Bayo Okafor", "jss2", finance.GenderMale, finance.StudentReturning)

	parent := finance.Parent{
		ID:               finance.ParentID("par-" + key),
		SchoolID:         demoSchool,
		UserID:           finance.UserID("usr-" + key),
		Name:             "Okafor Family",
		Email:            key + "@greenfield.example",
		DistributionType: method,
		IsActive:         true,
	}
	if method == finance.DistributionSequential {
		parent.PriorityOrder = []finance.StudentID{bayo.ID, ada.ID}
	}
	d.parent(parent, ada, bayo)
	if d.err != nil {
		return d.err
	}

	account := "9900000101"
	return d.h.Store.SaveWallet(d.ctx, finance.Wallet{
		ID:            finance.WalletID("wal-" + key),
		SchoolID:      demoSchool,
		ParentID:      parent.ID,
		CustomerCode:  "CUS_" + key,
		AccountNumber: &account,
		AccountName:   parent.Name,
		BankName:      "Test Bank",
		Currency:      finance.DefaultCurrency,
		IsActive:      true,
		CreatedAt:     d.next(),
	})
}
