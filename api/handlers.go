/*
handlers.go - HTTP API handlers for the fee engine

PURPOSE:
  Exposes fee computation and payment allocation via REST API. Handles
  HTTP request/response, JSON serialization, and delegates to the finance
  package.

ENDPOINTS:
  Settlements:
    POST   /api/settlements                    Gateway payment notification
    POST   /api/settlements/manual             Record a manual payment
    GET    /api/settlements/{reference}        Settlement with allocations
    GET    /api/schools/{id}/settlements/pending  Awaiting reimbursement

  Parents:
    GET    /api/parents/{id}/balance           Outstanding balance, all children
    GET    /api/parents/{id}/breakdown         Per-child fee breakdown
    POST   /api/parents/{id}/wallet            Open the parent's wallet

  Students:
    GET    /api/students/{id}/fees             Fee lines for a period
    GET    /api/students/{id}/allocations      Allocations for a period
    POST   /api/students/{id}/optional-fees    Opt into an optional item
    DELETE /api/students/{id}/optional-fees/{itemID}       Opt out
    POST   /api/students/{id}/optional-fees/{itemID}/lock  Lock an opt-in

  Schools & schedules:
    GET    /api/schools/{id}/fee-stats         Expected revenue by class
    POST   /api/schedules                      Load a fee schedule (JSON)

  Wallets:
    POST   /api/wallets/{id}/account           Attach provider account details

  Admin:
    POST   /api/admin/outbox/run               Drain the outbox now

  Scenarios:
    GET    /api/scenarios                      List demo scenarios
    GET    /api/scenarios/current              Loaded scenario
    POST   /api/scenarios/load                 Load a demo scenario
    POST   /api/scenarios/reset                Clear all data

PERIOD SELECTION:
  Read endpoints take ?session_id= and ?term_id=. Without them the school's
  current session and term apply.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 202: Settlement stored but not allocated (body is the receipt)
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (wallet exists)
  - 422: Opt-in rules (mandatory, not applicable, locked)
  - 500: Internal errors

SECURITY NOTE:
  No authentication or webhook signature check. Put the gateway webhook
  behind a verifying proxy before exposing it.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/warp/fee-engine/factory"
	"github.com/warp/fee-engine/finance"
	"go.uber.org/zap"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Backend is the storage the API runs on: the engine's transactional store
// plus the administrative writes used by schedules and scenarios.
type Backend interface {
	finance.TxStore
	finance.Seeder
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store        Backend
	Ledger       *finance.SettlementLedger
	Wallets      *finance.WalletService
	Balances     *finance.BalanceAggregator
	OptionalFees *finance.OptionalFeeRegistry
	Schedules    *factory.ScheduleFactory
	Worker       *OutboxWorker
	Logger       *zap.Logger

	validate *validator.Validate

	// Track currently loaded scenario
	scenarioMu      sync.Mutex
	currentScenario string
}

// NewHandler wires the finance services over store.
func NewHandler(store Backend, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	wallets := finance.NewWalletService(store, logger)
	return &Handler{
		Store:        store,
		Ledger:       finance.NewSettlementLedger(store, finance.NewAllocationEngine(logger), logger),
		Wallets:      wallets,
		Balances:     finance.NewBalanceAggregator(store),
		OptionalFees: finance.NewOptionalFeeRegistry(store),
		Schedules:    factory.NewScheduleFactory(),
		Worker:       NewOutboxWorker(store, wallets, logger),
		Logger:       logger.Named("api"),
		validate:     validator.New(),
	}
}

// =============================================================================
// SETTLEMENT HANDLERS
// =============================================================================

// RecordSettlement stores a gateway payment and allocates it.
// POST /api/settlements
func (h *Handler) RecordSettlement(w http.ResponseWriter, r *http.Request) {
	var req RecordSettlementRequest
	if !h.decode(w, r, &req) {
		return
	}
	ctx := r.Context()

	// An unknown wallet still gets recorded so the money is not lost.
	walletID := finance.WalletID(req.WalletID)
	wallet, err := h.Wallets.Resolve(ctx, walletID, req.CustomerCode, req.AccountNumber)
	switch {
	case err == nil:
		walletID = wallet.ID
	case finance.IsNotFound(err):
		h.Logger.Warn("payment for unknown wallet",
			zap.String("reference", req.Reference),
			zap.String("wallet_id", req.WalletID),
			zap.String("customer_code", req.CustomerCode))
	default:
		h.writeFinanceError(w, "Failed to resolve wallet", err)
		return
	}

	fr := finance.RecordSettlementRequest{
		SchoolID:   finance.SchoolID(req.SchoolID),
		WalletID:   walletID,
		Amount:     req.Amount,
		Currency:   req.Currency,
		Reference:  req.Reference,
		Status:     req.Status,
		Channel:    req.Channel,
		PayerEmail: req.PayerEmail,
		SessionID:  optionalID[finance.SessionID](req.SessionID),
		TermID:     optionalID[finance.TermID](req.TermID),
		Source:     finance.AutoSource{RawPayload: string(req.RawPayload)},
	}
	if req.TransactionDate != nil {
		fr.TransactionDate = *req.TransactionDate
	}

	receipt, err := h.Ledger.RecordSettlement(ctx, fr)
	h.writeReceipt(w, receipt, err)
}

// RecordManualSettlement records a payment keyed in by an administrator.
// POST /api/settlements/manual
func (h *Handler) RecordManualSettlement(w http.ResponseWriter, r *http.Request) {
	var req ManualSettlementRequest
	if !h.decode(w, r, &req) {
		return
	}

	receipt, err := h.Ledger.RecordManualSettlement(r.Context(), finance.ManualSettlementRequest{
		SchoolID:   finance.SchoolID(req.SchoolID),
		ParentID:   finance.ParentID(req.ParentID),
		Amount:     req.Amount,
		SessionID:  optionalID[finance.SessionID](req.SessionID),
		TermID:     optionalID[finance.TermID](req.TermID),
		Notes:      req.Notes,
		RecordedBy: req.RecordedBy,
	})
	h.writeReceipt(w, receipt, err)
}

// GetSettlement returns a settlement and its allocations.
// GET /api/settlements/{reference}
func (h *Handler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	receipt, err := h.Ledger.Receipt(r.Context(), pathParam(r, "reference"))
	if err != nil {
		h.writeFinanceError(w, "Failed to get settlement", err)
		return
	}
	writeJSON(w, http.StatusOK, toReceiptDTO(receipt))
}

// ListPendingReimbursement lists a school's gateway settlements awaiting payout.
// GET /api/schools/{id}/settlements/pending
func (h *Handler) ListPendingReimbursement(w http.ResponseWriter, r *http.Request) {
	settlements, err := h.Ledger.PendingReimbursement(r.Context(), finance.SchoolID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeFinanceError(w, "Failed to list settlements", err)
		return
	}

	dtos := make([]SettlementDTO, len(settlements))
	for i, s := range settlements {
		dtos[i] = toSettlementDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// writeReceipt maps a ledger result to a response. Duplicates return the
// original record with 200, new settlements 201, unallocated ones 202.
func (h *Handler) writeReceipt(w http.ResponseWriter, receipt finance.SettlementReceipt, err error) {
	if finance.IsUnallocated(err) {
		dto := toReceiptDTO(receipt)
		dto.Warning = err.Error()
		writeJSON(w, http.StatusAccepted, dto)
		return
	}
	if err != nil {
		h.writeFinanceError(w, "Failed to record settlement", err)
		return
	}
	status := http.StatusCreated
	if receipt.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, toReceiptDTO(receipt))
}

// =============================================================================
// PARENT HANDLERS
// =============================================================================

// GetParentBalance returns the outstanding balance across all children.
// GET /api/parents/{id}/balance
func (h *Handler) GetParentBalance(w http.ResponseWriter, r *http.Request) {
	parentID := finance.ParentID(chi.URLParam(r, "id"))

	balance, err := h.Balances.ParentBalance(r.Context(), parentID)
	if err != nil {
		h.writeFinanceError(w, "Failed to compute balance", err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{
		ParentID:   string(parentID),
		Balance:    balance,
		DebtStatus: string(finance.ClassifyDebt(balance)),
	})
}

// GetFeeBreakdown returns the per-child breakdown for a period.
// GET /api/parents/{id}/breakdown?session_id=&term_id=
func (h *Handler) GetFeeBreakdown(w http.ResponseWriter, r *http.Request) {
	sessionID, termID := periodParams(r)

	report, err := h.Balances.FeeBreakdown(r.Context(), finance.ParentID(chi.URLParam(r, "id")), sessionID, termID)
	if err != nil {
		h.writeFinanceError(w, "Failed to compute breakdown", err)
		return
	}
	writeJSON(w, http.StatusOK, toBreakdownDTO(report))
}

// OpenWallet creates the parent's wallet and queues account provisioning.
// POST /api/parents/{id}/wallet
func (h *Handler) OpenWallet(w http.ResponseWriter, r *http.Request) {
	var req OpenWalletRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}

	wallet, err := h.Wallets.OpenWallet(r.Context(), finance.ParentID(chi.URLParam(r, "id")), req.Currency)
	if err != nil {
		h.writeFinanceError(w, "Failed to open wallet", err)
		return
	}
	writeJSON(w, http.StatusCreated, toWalletDTO(wallet))
}

// AssignAccount attaches provider account details to a wallet.
// POST /api/wallets/{id}/account
func (h *Handler) AssignAccount(w http.ResponseWriter, r *http.Request) {
	var req AssignAccountRequest
	if !h.decode(w, r, &req) {
		return
	}

	wallet, err := h.Wallets.AssignAccount(r.Context(), finance.WalletID(chi.URLParam(r, "id")), finance.AccountDetails{
		CustomerCode:  req.CustomerCode,
		AccountNumber: req.AccountNumber,
		AccountName:   req.AccountName,
		BankName:      req.BankName,
	})
	if err != nil {
		h.writeFinanceError(w, "Failed to assign account", err)
		return
	}
	writeJSON(w, http.StatusOK, toWalletDTO(wallet))
}

// =============================================================================
// STUDENT HANDLERS
// =============================================================================

// GetStudentFees returns what a student owes for a period.
// GET /api/students/{id}/fees?session_id=&term_id=
func (h *Handler) GetStudentFees(w http.ResponseWriter, r *http.Request) {
	studentID := chi.URLParam(r, "id")
	sessionID, termID := periodParams(r)

	lines, period, err := h.Balances.StudentFees(r.Context(), finance.StudentID(studentID), sessionID, termID)
	if err != nil {
		h.writeFinanceError(w, "Failed to compute fees", err)
		return
	}

	mandatory, optional := finance.SplitByMandatory(lines)
	dto := StudentFeesDTO{
		StudentID: studentID,
		Period:    toPeriodDTO(period),
		Lines:     make([]FeeLineDTO, len(lines)),
		Total:     finance.TotalOf(lines),
		Mandatory: mandatory,
		Optional:  optional,
	}
	for i, l := range lines {
		dto.Lines[i] = toFeeLineDTO(l)
	}
	writeJSON(w, http.StatusOK, dto)
}

// GetStudentAllocations lists the allocations a student received.
// GET /api/students/{id}/allocations?session_id=&term_id=
func (h *Handler) GetStudentAllocations(w http.ResponseWriter, r *http.Request) {
	sessionID, termID := periodParams(r)
	if sessionID == nil {
		writeError(w, http.StatusBadRequest, "session_id is required", nil)
		return
	}

	allocations, err := h.Ledger.StudentAllocations(r.Context(), finance.StudentID(chi.URLParam(r, "id")), *sessionID, termID)
	if err != nil {
		h.writeFinanceError(w, "Failed to list allocations", err)
		return
	}
	writeJSON(w, http.StatusOK, toAllocationDTOs(allocations))
}

// OptIn records a student's opt-in to an optional fee item.
// POST /api/students/{id}/optional-fees
func (h *Handler) OptIn(w http.ResponseWriter, r *http.Request) {
	var req OptInRequest
	if !h.decode(w, r, &req) {
		return
	}

	fee, err := h.OptionalFees.OptIn(r.Context(), finance.OptInRequest{
		StudentID:      finance.StudentID(chi.URLParam(r, "id")),
		ClassFeeItemID: finance.ClassFeeItemID(req.ClassFeeItemID),
		OptedInBy:      req.OptedInBy,
		CustomAmount:   req.CustomAmount,
		Notes:          req.Notes,
	})
	if err != nil {
		h.writeFinanceError(w, "Failed to opt in", err)
		return
	}
	writeJSON(w, http.StatusCreated, toOptionalFeeDTO(fee))
}

// OptOut removes an opt-in.
// DELETE /api/students/{id}/optional-fees/{itemID}
func (h *Handler) OptOut(w http.ResponseWriter, r *http.Request) {
	err := h.OptionalFees.OptOut(r.Context(),
		finance.StudentID(chi.URLParam(r, "id")),
		finance.ClassFeeItemID(pathParam(r, "itemID")))
	if err != nil {
		h.writeFinanceError(w, "Failed to opt out", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LockOptionalFee freezes an opt-in so the parent can no longer change it.
// POST /api/students/{id}/optional-fees/{itemID}/lock
func (h *Handler) LockOptionalFee(w http.ResponseWriter, r *http.Request) {
	err := h.OptionalFees.Lock(r.Context(),
		finance.StudentID(chi.URLParam(r, "id")),
		finance.ClassFeeItemID(pathParam(r, "itemID")))
	if err != nil {
		h.writeFinanceError(w, "Failed to lock optional fee", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// SCHOOL HANDLERS
// =============================================================================

// GetSchoolFeeStats returns expected fee totals per class.
// GET /api/schools/{id}/fee-stats?session_id=&term_id=
func (h *Handler) GetSchoolFeeStats(w http.ResponseWriter, r *http.Request) {
	sessionID, termID := periodParams(r)

	stats, err := h.Balances.SchoolFeeStats(r.Context(), finance.SchoolID(chi.URLParam(r, "id")), sessionID, termID)
	if err != nil {
		h.writeFinanceError(w, "Failed to compute fee stats", err)
		return
	}
	writeJSON(w, http.StatusOK, toSchoolFeeStatsDTO(stats))
}

// LoadSchedule applies a JSON fee schedule.
// POST /api/schedules
func (h *Handler) LoadSchedule(w http.ResponseWriter, r *http.Request) {
	var sj factory.ScheduleJSON
	if err := json.NewDecoder(r.Body).Decode(&sj); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	schedule, err := h.Schedules.FromJSON(sj)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid fee schedule", err)
		return
	}
	if err := schedule.Apply(r.Context(), h.Store); err != nil {
		h.writeFinanceError(w, "Failed to apply fee schedule", err)
		return
	}

	writeJSON(w, http.StatusCreated, ScheduleSummaryDTO{
		SchoolID:      string(schedule.SchoolID),
		Sessions:      len(schedule.Sessions),
		Terms:         len(schedule.Terms),
		FeeItems:      len(schedule.FeeItems),
		ClassFeeItems: len(schedule.ClassFeeItems),
	})
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// RunOutbox processes one batch of outbox events immediately.
// POST /api/admin/outbox/run
func (h *Handler) RunOutbox(w http.ResponseWriter, r *http.Request) {
	summary := h.Worker.RunNow(r.Context())
	writeJSON(w, http.StatusOK, RunSummaryDTO{
		Processed: summary.Processed,
		Failed:    summary.Failed,
		Skipped:   summary.Skipped,
	})
}

// Health reports liveness.
// GET /api/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads and validates a JSON body, writing a 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return h.validateBody(w, v)
}

// decodeOptional is decode for endpoints whose body may be absent. An empty
// body leaves v at its zero value.
func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return h.validateBody(w, v)
}

func (h *Handler) validateBody(w http.ResponseWriter, v any) bool {
	if err := h.validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

// pathParam returns a decoded URL parameter. Class fee item ids contain
// slashes and arrive escaped.
func pathParam(r *http.Request, key string) string {
	v := chi.URLParam(r, key)
	if decoded, err := url.PathUnescape(v); err == nil {
		return decoded
	}
	return v
}

func periodParams(r *http.Request) (*finance.SessionID, *finance.TermID) {
	q := r.URL.Query()
	return optionalID[finance.SessionID](q.Get("session_id")), optionalID[finance.TermID](q.Get("term_id"))
}

// statusFor maps finance errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, finance.ErrInvalidAmount),
		errors.Is(err, finance.ErrInvalidReference),
		errors.Is(err, finance.ErrNoWallet):
		return http.StatusBadRequest
	case finance.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, finance.ErrWalletExists),
		errors.Is(err, finance.ErrDuplicateReference):
		return http.StatusConflict
	case errors.Is(err, finance.ErrMandatoryFee),
		errors.Is(err, finance.ErrFeeNotApplicable),
		errors.Is(err, finance.ErrOptionalFeeLocked):
		return http.StatusUnprocessableEntity
	case finance.IsRetryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeFinanceError(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error(message, zap.Error(err))
	}
	writeError(w, status, message, err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
