/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Gateway and manual settlements (allocation, idempotency, validation)
- Balances, breakdowns and student fee lines
- Optional fee opt-in / opt-out / lock
- Wallets, fee schedules and school stats
*/
package api

import (
	"context"
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/fee-engine/finance"
	"github.com/warp/fee-engine/finance/store"
	"go.uber.org/zap"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testServer struct {
	t      *testing.T
	h      *Handler
	router http.Handler
}

func newTestServer(t *testing.T) *testServer {
	h := NewHandler(store.NewMemory(), zap.NewNop())
	return &testServer{t: t, h: h, router: NewRouter(h, []string{"http://localhost:5173"})}
}

// newScenarioServer returns a server with scenario id loaded.
func newScenarioServer(t *testing.T, id string) *testServer {
	s := newTestServer(t)
	rec := s.do(http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": id})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return s
}

func (s *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	var r io.Reader = http.NoBody
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(s.t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) pay(body map[string]any) (int, ReceiptDTO) {
	rec := s.do(http.MethodPost, "/api/settlements", body)
	var receipt ReceiptDTO
	if rec.Code < http.StatusBadRequest {
		receipt = decodeBody[ReceiptDTO](s.t, rec)
	}
	return rec.Code, receipt
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func shares(allocations []AllocationDTO) map[string]string {
	out := make(map[string]string, len(allocations))
	for _, a := range allocations {
		out[a.StudentID] = a.Amount.String()
	}
	return out
}

// =============================================================================
// SETTLEMENTS
// =============================================================================

func TestRecordSettlement_SpreadSplitsEvenly(t *testing.T) {
	// GIVEN: Ada owes 5000, Bayo owes 3000, SPREAD parent
	// WHEN: 4000 arrives for the family wallet
	// THEN: 2000 each, settlement ALLOCATED

	s := newScenarioServer(t, "spread-family")

	code, receipt := s.pay(map[string]any{
		"wallet_id": "wal-spread",
		"amount":    4000,
		"reference": "PSK-0001",
		"channel":   "bank_transfer",
	})

	require.Equal(t, http.StatusCreated, code)
	assert.False(t, receipt.Duplicate)
	assert.Equal(t, "ALLOCATED", receipt.Settlement.AllocationStatus)
	assert.Equal(t, "AUTO", receipt.Settlement.Type)
	assert.Equal(t, "0.00", receipt.Settlement.UnallocatedAmount.String())
	assert.Equal(t, map[string]string{
		"stu-spread-ada":  "2000.00",
		"stu-spread-bayo": "2000.00",
	}, shares(receipt.Allocations))
	require.NotNil(t, receipt.Settlement.SessionID)
	assert.Equal(t, "2025-2026", *receipt.Settlement.SessionID)
}

func TestRecordSettlement_SequentialFollowsPriority(t *testing.T) {
	// GIVEN: Same children, SEQUENTIAL with Bayo first
	// WHEN: 6000 arrives
	// THEN: Bayo is cleared (3000), Ada gets the remaining 3000

	s := newScenarioServer(t, "sequential-family")

	code, receipt := s.pay(map[string]any{
		"wallet_id": "wal-sequential",
		"amount":    "6000.00",
		"reference": "PSK-0002",
	})

	require.Equal(t, http.StatusCreated, code)
	require.Len(t, receipt.Allocations, 2)
	assert.Equal(t, "stu-sequential-bayo", receipt.Allocations[0].StudentID)
	assert.Equal(t, "3000.00", receipt.Allocations[0].Amount.String())
	assert.Equal(t, "0.00", receipt.Allocations[0].BalanceAfter.String())
	assert.Equal(t, "stu-sequential-ada", receipt.Allocations[1].StudentID)
	assert.Equal(t, "3000.00", receipt.Allocations[1].Amount.String())
	assert.Equal(t, "SEQUENTIAL", receipt.Allocations[1].Method)
}

func TestRecordSettlement_DuplicateReference(t *testing.T) {
	// GIVEN: A recorded settlement
	// WHEN: The gateway retries the same reference
	// THEN: 200 with the original record, nothing new allocated

	s := newScenarioServer(t, "spread-family")
	body := map[string]any{"wallet_id": "wal-spread", "amount": 4000, "reference": "PSK-RETRY"}

	code, first := s.pay(body)
	require.Equal(t, http.StatusCreated, code)

	code, second := s.pay(body)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Settlement.ID, second.Settlement.ID)
	assert.Len(t, second.Allocations, 2)

	rec := s.do(http.MethodGet, "/api/parents/par-spread/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "4000.00", decodeBody[BalanceDTO](t, rec).Balance.String())
}

func TestRecordSettlement_ResolvesWalletByCustomerCodeAndAccount(t *testing.T) {
	s := newScenarioServer(t, "spread-family")

	code, byCode := s.pay(map[string]any{"customer_code": "CUS_spread", "amount": 1000, "reference": "PSK-CC"})
	require.Equal(t, http.StatusCreated, code)
	require.NotNil(t, byCode.Settlement.WalletID)
	assert.Equal(t, "wal-spread", *byCode.Settlement.WalletID)

	code, byAccount := s.pay(map[string]any{"account_number": "9900000101", "amount": 1000, "reference": "PSK-ACCT"})
	require.Equal(t, http.StatusCreated, code)
	require.NotNil(t, byAccount.Settlement.ParentID)
	assert.Equal(t, "par-spread", *byAccount.Settlement.ParentID)
}

func TestRecordSettlement_UnknownWalletIsKeptUnallocated(t *testing.T) {
	// GIVEN: A payment naming no known wallet
	// WHEN: It is recorded
	// THEN: 202, stored as UNALLOCATED with the full amount outstanding

	s := newScenarioServer(t, "spread-family")

	code, receipt := s.pay(map[string]any{"wallet_id": "wal-nobody", "amount": 1000, "reference": "PSK-LOST"})

	require.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, "UNALLOCATED", receipt.Settlement.AllocationStatus)
	assert.Equal(t, "1000.00", receipt.Settlement.UnallocatedAmount.String())
	assert.Empty(t, receipt.Allocations)
	assert.NotEmpty(t, receipt.Warning)

	rec := s.do(http.MethodGet, "/api/settlements/PSK-LOST", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "UNALLOCATED", decodeBody[ReceiptDTO](t, rec).Settlement.AllocationStatus)
}

func TestRecordSettlement_Validation(t *testing.T) {
	s := newScenarioServer(t, "spread-family")

	tests := []struct {
		name string
		body any
	}{
		{"malformed json", `{"wallet_id":`},
		{"missing reference", map[string]any{"wallet_id": "wal-spread", "amount": 100}},
		{"no wallet identifier", map[string]any{"amount": 100, "reference": "PSK-V1"}},
		{"zero amount", map[string]any{"wallet_id": "wal-spread", "amount": 0, "reference": "PSK-V2"}},
		{"negative amount", map[string]any{"wallet_id": "wal-spread", "amount": -5, "reference": "PSK-V3"}},
		{"sub-kobo amount", map[string]any{"wallet_id": "wal-spread", "amount": "10.001", "reference": "PSK-V4"}},
		{"bad email", map[string]any{"wallet_id": "wal-spread", "amount": 100, "reference": "PSK-V5", "payer_email": "nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/api/settlements", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decodeBody[ErrorResponse](t, rec).Error)
		})
	}
}

func TestManualSettlement(t *testing.T) {
	// GIVEN: A family with a wallet
	// WHEN: The bursar records a cash payment, and a gateway payment arrives
	// THEN: Manual settlement is MANUAL-prefixed and reimbursed; only the
	//       gateway payment is pending reimbursement

	s := newScenarioServer(t, "spread-family")

	rec := s.do(http.MethodPost, "/api/settlements/manual", map[string]any{
		"parent_id":   "par-spread",
		"amount":      "1000.00",
		"notes":       "cash at bursary",
		"recorded_by": "bursar@greenfield.example",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	manual := decodeBody[ReceiptDTO](t, rec)
	assert.True(t, strings.HasPrefix(manual.Settlement.Reference, "MANUAL-"))
	assert.Equal(t, "MANUAL", manual.Settlement.Type)
	assert.Equal(t, "MANUAL", manual.Settlement.Channel)
	assert.True(t, manual.Settlement.Reimbursed)
	assert.Equal(t, "cash at bursary", manual.Settlement.Notes)
	assert.Equal(t, "bursar@greenfield.example", manual.Settlement.RecordedBy)
	assert.Equal(t, "spread@greenfield.example", manual.Settlement.PayerEmail)

	code, _ := s.pay(map[string]any{"wallet_id": "wal-spread", "amount": 500, "reference": "PSK-GW"})
	require.Equal(t, http.StatusCreated, code)

	rec = s.do(http.MethodGet, "/api/schools/greenfield/settlements/pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pending := decodeBody[[]SettlementDTO](t, rec)
	require.Len(t, pending, 1)
	assert.Equal(t, "PSK-GW", pending[0].Reference)
}

func TestManualSettlement_Errors(t *testing.T) {
	s := newScenarioServer(t, "spread-family")

	rec := s.do(http.MethodPost, "/api/settlements/manual", map[string]any{
		"parent_id": "par-ghost", "amount": 100, "recorded_by": "bursar",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/settlements/manual", map[string]any{
		"parent_id": "par-spread", "amount": 100,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetSettlement_NotFound(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/api/settlements/PSK-MISSING", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// BALANCES & FEES
// =============================================================================

func TestParentBalanceAndBreakdown(t *testing.T) {
	// GIVEN: SPREAD family owing 8000 in the first term
	// WHEN: 4000 is paid
	// THEN: Balance drops to 4000 and each child shows 2000 from the wallet

	s := newScenarioServer(t, "spread-family")

	rec := s.do(http.MethodGet, "/api/parents/par-spread/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	before := decodeBody[BalanceDTO](t, rec)
	assert.Equal(t, "8000.00", before.Balance.String())
	assert.Equal(t, "LOW", before.DebtStatus)

	code, _ := s.pay(map[string]any{"wallet_id": "wal-spread", "amount": 4000, "reference": "PSK-BAL"})
	require.Equal(t, http.StatusCreated, code)

	rec = s.do(http.MethodGet, "/api/parents/par-spread/breakdown", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decodeBody[BreakdownDTO](t, rec)

	assert.Equal(t, "SPREAD", report.Method)
	require.NotNil(t, report.Period)
	assert.Equal(t, "2025/2026", report.Period.SessionName)
	assert.Equal(t, "First Term", report.Period.TermName)
	assert.Equal(t, "8000.00", report.TotalFees.String())
	assert.Equal(t, "4000.00", report.WalletSettled.String())
	assert.Equal(t, "0.00", report.WalletUndistributed.String())
	assert.Equal(t, "4000.00", report.Balance.String())
	assert.Equal(t, "0.00", report.Credit.String())

	require.Len(t, report.Children, 2)
	byChild := make(map[string]ChildBreakdownDTO)
	for _, c := range report.Children {
		byChild[c.StudentID] = c
	}
	assert.Equal(t, "2000.00", byChild["stu-spread-ada"].WalletAllocated.String())
	assert.Equal(t, "2000.00", byChild["stu-spread-ada"].PersistedAllocated.String())
	assert.Equal(t, "3000.00", byChild["stu-spread-ada"].Balance.String())
	assert.Equal(t, "1000.00", byChild["stu-spread-bayo"].Balance.String())
}

func TestBreakdown_CountsInvoicePayments(t *testing.T) {
	// GIVEN: Ada paid 1000 by invoice, the wallet received 4000
	// THEN: Balance is 8000 - 1000 - 4000

	s := newScenarioServer(t, "payment-history")

	rec := s.do(http.MethodGet, "/api/parents/par-history/breakdown?session_id=2025-2026&term_id=t1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decodeBody[BreakdownDTO](t, rec)

	assert.Equal(t, "1000.00", report.InvoicePaid.String())
	assert.Equal(t, "4000.00", report.WalletSettled.String())
	assert.Equal(t, "5000.00", report.TotalSettled.String())
	assert.Equal(t, "3000.00", report.Balance.String())
}

func TestBreakdown_UnknownParent(t *testing.T) {
	s := newScenarioServer(t, "spread-family")
	rec := s.do(http.MethodGet, "/api/parents/par-ghost/breakdown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStudentFees_TermSelection(t *testing.T) {
	// GIVEN: Bayo in JSS 2; lab levy only in the second term
	// WHEN: Fees for each term are requested
	// THEN: First term is tuition only, second adds the lab levy

	s := newScenarioServer(t, "spread-family")

	rec := s.do(http.MethodGet, "/api/students/stu-spread-bayo/fees", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	first := decodeBody[StudentFeesDTO](t, rec)
	assert.Equal(t, "3000.00", first.Total.String())
	require.NotNil(t, first.Period)
	require.NotNil(t, first.Period.TermID)
	assert.Equal(t, "t1", *first.Period.TermID)

	rec = s.do(http.MethodGet, "/api/students/stu-spread-bayo/fees?session_id=2025-2026&term_id=t2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	second := decodeBody[StudentFeesDTO](t, rec)
	assert.Equal(t, "3800.00", second.Total.String())
	assert.Equal(t, "3800.00", second.Mandatory.String())
	assert.Equal(t, "0.00", second.Optional.String())
	assert.Len(t, second.Lines, 2)
}

func TestStudentFees_StaffDiscountAndNewStudent(t *testing.T) {
	// GIVEN: Staff child, new to JSS 2, opted into the bus
	// THEN: 2500 tuition (flat 500 off) + 2000 uniform + 1200 bus

	s := newScenarioServer(t, "staff-family")

	rec := s.do(http.MethodGet, "/api/students/stu-chidi/fees", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	fees := decodeBody[StudentFeesDTO](t, rec)

	assert.Equal(t, "5700.00", fees.Total.String())
	assert.Equal(t, "1200.00", fees.Optional.String())

	amounts := make(map[string]string)
	for _, l := range fees.Lines {
		amounts[l.Name] = l.Amount.String()
	}
	assert.Equal(t, map[string]string{
		"Tuition (JSS 2)": "2500.00",
		"Uniform":         "2000.00",
		"School Bus":      "1200.00",
	}, amounts)
}

func TestStudentAllocations(t *testing.T) {
	s := newScenarioServer(t, "spread-family")
	code, _ := s.pay(map[string]any{"wallet_id": "wal-spread", "amount": 4000, "reference": "PSK-ALLOC"})
	require.Equal(t, http.StatusCreated, code)

	rec := s.do(http.MethodGet, "/api/students/stu-spread-ada/allocations?session_id=2025-2026", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	allocations := decodeBody[[]AllocationDTO](t, rec)
	require.Len(t, allocations, 1)
	assert.Equal(t, "2000.00", allocations[0].Amount.String())

	rec = s.do(http.MethodGet, "/api/students/stu-spread-ada/allocations", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// OPTIONAL FEES
// =============================================================================

func TestOptionalFees_OptInOutAndLock(t *testing.T) {
	// GIVEN: Bayo owes 3000 tuition; bus is optional at 1200 for JSS 2
	// WHEN: The parent opts in, the school locks it, the parent tries to opt out
	// THEN: Fees rise to 4200 and the opt-out is refused

	s := newScenarioServer(t, "spread-family")

	rec := s.do(http.MethodPost, "/api/students/stu-spread-bayo/optional-fees", map[string]any{
		"class_fee_item_id": "jss2/bus",
		"opted_in_by":       "usr-spread",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	optIn := decodeBody[OptionalFeeDTO](t, rec)
	assert.Equal(t, "2025-2026", optIn.SessionID)
	assert.False(t, optIn.IsLocked)

	rec = s.do(http.MethodGet, "/api/students/stu-spread-bayo/fees", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "4200.00", decodeBody[StudentFeesDTO](t, rec).Total.String())

	rec = s.do(http.MethodPost, "/api/students/stu-spread-bayo/optional-fees/jss2%2Fbus/lock", nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = s.do(http.MethodDelete, "/api/students/stu-spread-bayo/optional-fees/jss2%2Fbus", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestOptionalFees_OptOut(t *testing.T) {
	s := newScenarioServer(t, "spread-family")

	rec := s.do(http.MethodPost, "/api/students/stu-spread-ada/optional-fees", map[string]any{
		"class_fee_item_id": "jss1/bus",
		"opted_in_by":       "usr-spread",
		"custom_amount":     "900.00",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, "/api/students/stu-spread-ada/fees", nil)
	assert.Equal(t, "5900.00", decodeBody[StudentFeesDTO](t, rec).Total.String())

	rec = s.do(http.MethodDelete, "/api/students/stu-spread-ada/optional-fees/jss1%2Fbus", nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, "/api/students/stu-spread-ada/fees", nil)
	assert.Equal(t, "5000.00", decodeBody[StudentFeesDTO](t, rec).Total.String())
}

func TestOptionalFees_Rejections(t *testing.T) {
	s := newScenarioServer(t, "spread-family")

	rec := s.do(http.MethodPost, "/api/students/stu-spread-bayo/optional-fees", map[string]any{
		"class_fee_item_id": "jss2/tuition-jss2",
		"opted_in_by":       "usr-spread",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "mandatory item")

	rec = s.do(http.MethodPost, "/api/students/stu-spread-bayo/optional-fees", map[string]any{
		"class_fee_item_id": "jss2/bus",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing opted_in_by")

	rec = s.do(http.MethodPost, "/api/students/stu-spread-bayo/optional-fees", map[string]any{
		"class_fee_item_id": "jss9/bus",
		"opted_in_by":       "usr-spread",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code, "unknown item")
}

// =============================================================================
// WALLETS
// =============================================================================

func TestOpenWallet(t *testing.T) {
	s := newScenarioServer(t, "spread-family")

	rec := s.do(http.MethodPost, "/api/parents/par-spread/wallet", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPost, "/api/parents/par-ghost/wallet", map[string]string{"currency": "NGN"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOpenWallet_BodyIsOptional(t *testing.T) {
	// GIVEN: Two parents without wallets
	// WHEN: One opens a wallet with no body and the other with an empty string body
	// THEN: Both get a wallet in the default currency; a second attempt conflicts

	s := newScenarioServer(t, "spread-family")
	for _, id := range []string{"par-nobody", "par-empty"} {
		require.NoError(t, s.h.Store.SaveParent(context.Background(), finance.Parent{
			ID:               finance.ParentID(id),
			SchoolID:         demoSchool,
			UserID:           finance.UserID("usr-" + id),
			Name:             id,
			DistributionType: finance.DistributionSpread,
			IsActive:         true,
		}))
	}

	rec := s.do(http.MethodPost, "/api/parents/par-nobody/wallet", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, finance.DefaultCurrency, decodeBody[WalletDTO](t, rec).Currency)

	rec = s.do(http.MethodPost, "/api/parents/par-empty/wallet", "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/api/parents/par-nobody/wallet", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Malformed and invalid bodies are still rejected.
	rec = s.do(http.MethodPost, "/api/parents/par-spread/wallet", "{")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do(http.MethodPost, "/api/parents/par-spread/wallet", map[string]string{"currency": "NAIRA"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAssignAccount(t *testing.T) {
	s := newScenarioServer(t, "staff-family")

	wallet, err := s.h.Store.WalletByParent(context.Background(), "par-staff")
	require.NoError(t, err)
	assert.False(t, wallet.IsProvisioned())

	rec := s.do(http.MethodPost, "/api/wallets/"+string(wallet.ID)+"/account", map[string]string{
		"customer_code":  "CUS_staff",
		"account_number": "9912345678",
		"bank_name":      "Wema Bank",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	dto := decodeBody[WalletDTO](t, rec)
	assert.True(t, dto.Provisioned)
	assert.Equal(t, "Ngozi Eze", dto.AccountName)

	rec = s.do(http.MethodPost, "/api/wallets/"+string(wallet.ID)+"/account", map[string]string{"account_number": "abc"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/wallets/wal-ghost/account", map[string]string{"account_number": "9912345678"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// SCHEDULES & STATS
// =============================================================================

func TestLoadSchedule(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/schedules", `{
	  "school_id": "hillside",
	  "sessions": [{"id": "s1", "year": 2025, "current": true, "terms": [{"id": "t1", "current": true}]}],
	  "fee_items": [{"id": "tuition", "name": "Tuition", "amount": 90000, "mandatory": true}],
	  "classes": [{"id": "pry1", "name": "Primary 1", "session": "s1", "items": [{"fee_item": "tuition"}]}]
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, ScheduleSummaryDTO{SchoolID: "hillside", Sessions: 1, Terms: 1, FeeItems: 1, ClassFeeItems: 1},
		decodeBody[ScheduleSummaryDTO](t, rec))

	rec = s.do(http.MethodPost, "/api/schedules", `{"school_id": "hillside",
	  "classes": [{"id": "pry1", "session": "missing", "items": [{"fee_item": "tuition"}]}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/schedules", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSchoolFeeStats(t *testing.T) {
	s := newScenarioServer(t, "spread-family")

	rec := s.do(http.MethodGet, "/api/schools/greenfield/fee-stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decodeBody[SchoolFeeStatsDTO](t, rec)

	assert.Equal(t, "8000.00", stats.ExpectedTotal.String())
	assert.Equal(t, "0.00", stats.OptionalTotal.String())
	require.Len(t, stats.Classes, 2)
	assert.Equal(t, "JSS 1", stats.Classes[0].ClassName)
	assert.Equal(t, "5000.00", stats.Classes[0].Total.String())
	assert.Equal(t, "JSS 2", stats.Classes[1].ClassName)
}

func TestSchoolFeeStats_NoCalendar(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/schools/nowhere/fee-stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decodeBody[SchoolFeeStatsDTO](t, rec)
	assert.Nil(t, stats.Period)
	assert.Equal(t, "0.00", stats.ExpectedTotal.String())
	assert.Empty(t, stats.Classes)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
