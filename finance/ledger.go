/*
ledger.go - Append-only settlement ledger

PURPOSE:
  SettlementLedger is the only writer of settlements and allocations.
  A settlement is recorded exactly once per external reference; gateway
  retries and double submissions come back as the original record.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: settlements and allocations are never updated or deleted
  2. IDEMPOTENT: same reference = same settlement, no new rows
  3. ATOMIC: settlement, allocations, wallet credit and outbox events
     commit together or not at all
  4. SERIALIZED PER WALLET: an in-process lock per wallet plus the store's
     row lock, so two payments for one parent never read the same
     "previously allocated" totals

FLOW (RecordSettlement):
  1. Validate amount and reference
  2. Fast path: reference already stored → return it
  3. Lock the wallet, open a transaction
  4. Re-check the reference inside the transaction
  5. Resolve wallet, parent and academic period
  6. AllocationEngine.Distribute
  7. Append settlement, append allocations, credit wallet, write outbox
  8. Commit

MISSING WALLET:
  The settlement is still stored (UNALLOCATED) so the money is not lost,
  and the caller gets an UnallocatedSettlementError for reconciliation.

MANUAL SETTLEMENTS:
  Reference "MANUAL-" + 8 upper-case chars of a UUID, channel MANUAL,
  reimbursed = true so reconciliation reports can leave them out.

CORRECTIONS:
  There is no reversal primitive. A disputed settlement stays in the ledger.

SEE ALSO:
  - allocation.go: Computes the allocations written here
  - outbox.go: Events written in the same transaction
  - store.go: SettlementStore, AllocationStore
*/
package finance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// =============================================================================
// REQUESTS & RECEIPTS
// =============================================================================

// RecordSettlementRequest describes money received into a wallet.
type RecordSettlementRequest struct {
	SchoolID        SchoolID
	WalletID        WalletID
	Amount          Money
	Currency        string
	Reference       string
	Status          string
	Channel         string
	PayerEmail      string
	TransactionDate time.Time
	SessionID       *SessionID
	TermID          *TermID
	Source          SettlementSource
}

// ManualSettlementRequest is an administrator's record of a payment made
// outside the gateway.
type ManualSettlementRequest struct {
	SchoolID   SchoolID
	ParentID   ParentID
	Amount     Money
	SessionID  *SessionID
	TermID     *TermID
	Notes      string
	RecordedBy string
}

// SettlementReceipt is what recording returns. Duplicate is true when the
// reference was already stored and nothing new was written.
type SettlementReceipt struct {
	Settlement  Settlement
	Allocations []PaymentAllocation
	Duplicate   bool
}

// =============================================================================
// LEDGER
// =============================================================================

type SettlementLedger struct {
	Store  TxStore
	Engine *AllocationEngine
	Logger *zap.Logger
	Now    func() time.Time
	NewID  func() string

	locks walletLocks
}

func NewSettlementLedger(store TxStore, engine *AllocationEngine, logger *zap.Logger) *SettlementLedger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if engine == nil {
		engine = NewAllocationEngine(logger)
	}
	return &SettlementLedger{
		Store:  store,
		Engine: engine,
		Logger: logger.Named("ledger"),
		Now:    time.Now,
		NewID:  uuid.NewString,
	}
}

// errDuplicateInTx aborts a transaction that lost the race on a reference.
var errDuplicateInTx = errors.New("settlement reference recorded concurrently")

// RecordSettlement stores a settlement and its allocations. See the file
// header for the flow. A non-nil receipt is returned together with an
// UnallocatedSettlementError when the money could not be attributed.
func (l *SettlementLedger) RecordSettlement(ctx context.Context, req RecordSettlementRequest) (SettlementReceipt, error) {
	req.Reference = strings.TrimSpace(req.Reference)
	if req.Reference == "" {
		return SettlementReceipt{}, ErrInvalidReference
	}
	if err := ValidateAmount(req.Amount); err != nil {
		return SettlementReceipt{}, err
	}

	if receipt, found, err := l.existing(ctx, l.Store, req.Reference); err != nil || found {
		return receipt, err
	}

	if req.WalletID != "" {
		unlock := l.locks.lock(req.WalletID)
		defer unlock()
	}

	var (
		receipt   SettlementReceipt
		unassigned error
	)
	err := l.Store.WithTx(ctx, func(tx Store) error {
		var found bool
		var err error
		receipt, found, err = l.existing(ctx, tx, req.Reference)
		if err != nil || found {
			return err
		}

		settlement := l.newSettlement(req)

		if req.WalletID != "" {
			if err := tx.LockWallet(ctx, req.WalletID); err != nil && !errors.Is(err, ErrEntityNotFound) {
				return err
			}
		}

		wallet, walletErr := l.resolveWallet(ctx, tx, req.WalletID)
		if walletErr == nil {
			settlement.WalletID = &wallet.ID
			settlement.ParentID = &wallet.ParentID
			settlement.SchoolID = wallet.SchoolID
		}

		period, ok, err := NewPeriodResolver(tx).Resolve(ctx, settlement.SchoolID, req.SessionID, req.TermID)
		if err != nil {
			return err
		}
		if ok {
			sessionID := period.SessionID()
			settlement.SessionID = &sessionID
			settlement.TermID = period.TermID()
		}

		result := AllocationResult{Undistributed: settlement.Amount}
		if walletErr != nil {
			unassigned = walletErr
		} else {
			result, err = l.Engine.Distribute(ctx, tx, settlement)
			switch {
			case errors.Is(err, ErrWalletNotFound), errors.Is(err, ErrParentNotFound):
				unassigned = err
			case err != nil:
				return err
			}
		}

		settlement.AllocationStatus = result.Status()
		settlement.UnallocatedAmount = result.Undistributed

		if err := tx.AppendSettlement(ctx, settlement); err != nil {
			if errors.Is(err, ErrDuplicateReference) {
				return errDuplicateInTx
			}
			return err
		}
		if len(result.Allocations) > 0 {
			if err := tx.AppendAllocations(ctx, result.Allocations); err != nil {
				return err
			}
		}
		if walletErr == nil {
			if err := tx.CreditWallet(ctx, wallet.ID, settlement.Amount); err != nil {
				return err
			}
		}
		if err := l.writeEvents(ctx, tx, settlement, result, unassigned); err != nil {
			return err
		}

		receipt = SettlementReceipt{Settlement: settlement, Allocations: result.Allocations}
		return nil
	})

	if errors.Is(err, errDuplicateInTx) {
		return l.existingOrFail(ctx, req.Reference)
	}
	if err != nil {
		l.Logger.Error("failed to record settlement",
			zap.String("reference", req.Reference),
			zap.Stringer("amount", req.Amount),
			zap.Error(err))
		return SettlementReceipt{}, err
	}

	if receipt.Duplicate {
		return receipt, nil
	}

	s := receipt.Settlement
	l.Logger.Info("settlement recorded",
		zap.String("reference", s.Reference),
		zap.String("type", string(s.Type())),
		zap.Stringer("amount", s.Amount),
		zap.String("status", string(s.AllocationStatus)),
		zap.Int("allocations", len(receipt.Allocations)),
		zap.Stringer("unallocated", s.UnallocatedAmount))

	if unassigned != nil {
		l.Logger.Warn("settlement left unallocated",
			zap.String("reference", s.Reference),
			zap.Error(unassigned))
		return receipt, &UnallocatedSettlementError{
			SettlementID: s.ID,
			Reference:    s.Reference,
			Cause:        unassigned,
		}
	}
	return receipt, nil
}

// RecordManualSettlement records a payment keyed in by an administrator.
func (l *SettlementLedger) RecordManualSettlement(ctx context.Context, req ManualSettlementRequest) (SettlementReceipt, error) {
	if err := ValidateAmount(req.Amount); err != nil {
		return SettlementReceipt{}, err
	}

	wallet, err := l.Store.WalletByParent(ctx, req.ParentID)
	if errors.Is(err, ErrEntityNotFound) {
		return SettlementReceipt{}, ErrNoWallet
	}
	if err != nil {
		return SettlementReceipt{}, err
	}

	payerEmail := ""
	if parent, err := l.Store.GetParent(ctx, req.ParentID); err == nil {
		payerEmail = parent.Email
	}

	reference, err := l.manualReference(ctx)
	if err != nil {
		return SettlementReceipt{}, err
	}

	schoolID := req.SchoolID
	if schoolID == "" {
		schoolID = wallet.SchoolID
	}

	return l.RecordSettlement(ctx, RecordSettlementRequest{
		SchoolID:        schoolID,
		WalletID:        wallet.ID,
		Amount:          req.Amount,
		Currency:        wallet.Currency,
		Reference:       reference,
		Status:          StatusSuccess,
		Channel:         ChannelManual,
		PayerEmail:      payerEmail,
		TransactionDate: l.Now().UTC(),
		SessionID:       req.SessionID,
		TermID:          req.TermID,
		Source:          ManualSource{Notes: req.Notes, RecordedBy: req.RecordedBy},
	})
}

// Receipt loads a stored settlement with its allocations.
func (l *SettlementLedger) Receipt(ctx context.Context, reference string) (SettlementReceipt, error) {
	receipt, found, err := l.existing(ctx, l.Store, reference)
	if err != nil {
		return SettlementReceipt{}, err
	}
	if !found {
		return SettlementReceipt{}, NotFound("settlement", reference)
	}
	receipt.Duplicate = false
	return receipt, nil
}

// StudentAllocations lists a student's allocations in a session (and term).
func (l *SettlementLedger) StudentAllocations(ctx context.Context, studentID StudentID, sessionID SessionID, termID *TermID) ([]PaymentAllocation, error) {
	return l.Store.AllocationsByStudent(ctx, studentID, sessionID, termID)
}

// PendingReimbursement lists a school's successful settlements not yet
// reimbursed. Manual settlements never appear here.
func (l *SettlementLedger) PendingReimbursement(ctx context.Context, schoolID SchoolID) ([]Settlement, error) {
	reimbursed := false
	status := StatusSuccess
	return l.Store.Settlements(ctx, SettlementFilter{
		SchoolID:   &schoolID,
		Reimbursed: &reimbursed,
		Status:     &status,
	})
}

// =============================================================================
// INTERNALS
// =============================================================================

func (l *SettlementLedger) newSettlement(req RecordSettlementRequest) Settlement {
	now := l.Now().UTC()
	source := req.Source
	if source == nil {
		source = AutoSource{}
	}
	currency := req.Currency
	if currency == "" {
		currency = DefaultCurrency
	}
	status := req.Status
	if status == "" {
		status = StatusSuccess
	}
	txDate := req.TransactionDate
	if txDate.IsZero() {
		txDate = now
	}
	return Settlement{
		ID:              SettlementID(l.NewID()),
		SchoolID:        req.SchoolID,
		Amount:          req.Amount,
		Currency:        currency,
		Reference:       req.Reference,
		Status:          status,
		Channel:         req.Channel,
		PayerEmail:      req.PayerEmail,
		TransactionDate: txDate.UTC(),
		Reimbursed:      source.Type() == SettlementManual,
		Source:          source,
		CreatedAt:       now,
	}
}

func (l *SettlementLedger) resolveWallet(ctx context.Context, s Store, id WalletID) (Wallet, error) {
	if id == "" {
		return Wallet{}, ErrWalletNotFound
	}
	wallet, err := s.GetWallet(ctx, id)
	if errors.Is(err, ErrEntityNotFound) {
		return Wallet{}, fmt.Errorf("%w: %s", ErrWalletNotFound, id)
	}
	if err != nil {
		return Wallet{}, err
	}
	return wallet, nil
}

func (l *SettlementLedger) existing(ctx context.Context, s Store, reference string) (SettlementReceipt, bool, error) {
	settlement, err := s.SettlementByReference(ctx, reference)
	if errors.Is(err, ErrEntityNotFound) {
		return SettlementReceipt{}, false, nil
	}
	if err != nil {
		return SettlementReceipt{}, false, err
	}
	allocations, err := s.AllocationsBySettlement(ctx, settlement.ID)
	if err != nil {
		return SettlementReceipt{}, false, err
	}
	return SettlementReceipt{Settlement: settlement, Allocations: allocations, Duplicate: true}, true, nil
}

func (l *SettlementLedger) existingOrFail(ctx context.Context, reference string) (SettlementReceipt, error) {
	receipt, found, err := l.existing(ctx, l.Store, reference)
	if err != nil {
		return SettlementReceipt{}, err
	}
	if !found {
		return SettlementReceipt{}, fmt.Errorf("%w: %s", ErrDuplicateReference, reference)
	}
	return receipt, nil
}

func (l *SettlementLedger) manualReference(ctx context.Context) (string, error) {
	for attempt := 0; attempt < 3; attempt++ {
		ref := ManualReferencePrefix + strings.ToUpper(l.NewID()[:8])
		_, err := l.Store.SettlementByReference(ctx, ref)
		if errors.Is(err, ErrEntityNotFound) {
			return ref, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("%w: could not generate a free manual reference", ErrDuplicateReference)
}

func (l *SettlementLedger) writeEvents(ctx context.Context, tx Store, s Settlement, result AllocationResult, unassigned error) error {
	recorded, err := NewOutboxEvent(EventSettlementRecorded, string(s.ID), SettlementRecordedPayload{
		SettlementID: s.ID,
		Reference:    s.Reference,
		ParentID:     s.ParentID,
		Amount:       s.Amount,
		Currency:     s.Currency,
		Type:         s.Type(),
		Status:       s.AllocationStatus,
		Allocations:  len(result.Allocations),
	}, l.Now())
	if err != nil {
		return err
	}
	if err := tx.AppendEvent(ctx, recorded); err != nil {
		return err
	}

	if s.AllocationStatus != AllocationUnassigned {
		return nil
	}
	reason := "no child has outstanding fees"
	switch {
	case unassigned != nil:
		reason = unassigned.Error()
	case s.SessionID == nil:
		reason = "no academic session"
	}
	unallocated, err := NewOutboxEvent(EventSettlementUnallocated, string(s.ID), SettlementUnallocatedPayload{
		SettlementID: s.ID,
		Reference:    s.Reference,
		Amount:       s.Amount,
		Reason:       reason,
	}, l.Now())
	if err != nil {
		return err
	}
	return tx.AppendEvent(ctx, unallocated)
}

// =============================================================================
// PER-WALLET LOCKS
// =============================================================================

// walletLocks hands out one mutex per wallet, dropped when unused.
type walletLocks struct {
	mu    sync.Mutex
	locks map[WalletID]*walletLock
}

type walletLock struct {
	sync.Mutex
	refs int
}

func (w *walletLocks) lock(id WalletID) func() {
	w.mu.Lock()
	if w.locks == nil {
		w.locks = make(map[WalletID]*walletLock)
	}
	l, ok := w.locks[id]
	if !ok {
		l = &walletLock{}
		w.locks[id] = l
	}
	l.refs++
	w.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		w.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(w.locks, id)
		}
		w.mu.Unlock()
	}
}
