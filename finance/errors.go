/*
errors.go - Centralized error types for the finance engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Handlers map them to HTTP statuses through the helpers at the bottom.

ERROR CATEGORIES:
  1. Ledger errors - settlement recording and idempotency
  2. Validation errors - bad amounts, references, opt-in rules
  3. Lookup errors - missing wallets, parents, students, periods
  4. Invariant violations - allocation overflow (never a client error)

USAGE:
  receipt, err := ledger.RecordSettlement(ctx, req)
  var unallocated *finance.UnallocatedSettlementError
  if errors.As(err, &unallocated) {
      // settlement stored, needs manual reconciliation
  }

SEE ALSO:
  - ledger.go: Uses these errors
  - allocation.go: Raises AllocationOverflowError
  - api/handlers.go: Maps errors to HTTP statuses
*/
package finance

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrDuplicateReference is returned by stores when a settlement with the
	// same external reference already exists. The ledger turns it into an
	// idempotent no-op.
	ErrDuplicateReference = errors.New("duplicate settlement reference")

	// ErrInvalidAmount is returned for non-positive amounts or amounts with
	// more than two decimal places.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidReference is returned when a settlement has no reference.
	ErrInvalidReference = errors.New("invalid settlement reference")

	// ErrEntityNotFound is returned when a referenced record doesn't exist.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrWalletNotFound is returned when a settlement names no known wallet.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrParentNotFound is returned when a wallet has no resolvable parent.
	ErrParentNotFound = errors.New("parent not found")

	// ErrNoWallet is returned when a parent has no wallet yet.
	ErrNoWallet = errors.New("parent has no wallet")

	// ErrWalletExists is returned when opening a second wallet for a parent.
	ErrWalletExists = errors.New("parent already has a wallet")

	// ErrMandatoryFee is returned when opting in or out of a mandatory item.
	ErrMandatoryFee = errors.New("fee item is mandatory")

	// ErrFeeNotApplicable is returned when opting into an inapplicable item.
	ErrFeeNotApplicable = errors.New("fee item is not applicable")

	// ErrOptionalFeeLocked is returned when changing a locked opt-in.
	ErrOptionalFeeLocked = errors.New("optional fee selection is locked")

	// ErrAllocationOverflow is an invariant violation: allocations summed
	// to more than the settlement amount.
	ErrAllocationOverflow = errors.New("allocation exceeds settlement amount")

	// ErrConcurrentModification is returned when a lock or serialization
	// failure aborts a transaction.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError names the missing record.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrEntityNotFound
}

// NotFound builds a NotFoundError.
func NotFound(kind string, id any) error {
	return &NotFoundError{Kind: kind, ID: fmt.Sprint(id)}
}

// UnallocatedSettlementError means the settlement was stored but could not
// be attributed to any child. It needs manual reconciliation.
type UnallocatedSettlementError struct {
	SettlementID SettlementID
	Reference    string
	Cause        error
}

func (e *UnallocatedSettlementError) Error() string {
	return fmt.Sprintf("settlement %s recorded but not allocated: %v", e.Reference, e.Cause)
}

func (e *UnallocatedSettlementError) Unwrap() error {
	return e.Cause
}

// AllocationOverflowError reports allocations summing past the settlement.
type AllocationOverflowError struct {
	SettlementID SettlementID
	Amount       Money
	Allocated    Money
}

func (e *AllocationOverflowError) Error() string {
	return fmt.Sprintf("allocations for settlement %s total %s, settlement is %s",
		e.SettlementID, e.Allocated, e.Amount)
}

func (e *AllocationOverflowError) Unwrap() error {
	return ErrAllocationOverflow
}

// InvalidAmountError carries the rejected amount.
type InvalidAmountError struct {
	Amount Money
	Reason string
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("invalid amount %s: %s", e.Amount, e.Reason)
}

func (e *InvalidAmountError) Unwrap() error {
	return ErrInvalidAmount
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidReference) ||
		errors.Is(err, ErrMandatoryFee) ||
		errors.Is(err, ErrFeeNotApplicable) ||
		errors.Is(err, ErrNoWallet) ||
		errors.Is(err, ErrWalletExists) ||
		errors.Is(err, ErrOptionalFeeLocked)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEntityNotFound) ||
		errors.Is(err, ErrWalletNotFound) ||
		errors.Is(err, ErrParentNotFound)
}

// IsUnallocated returns true when a settlement was kept but not allocated.
func IsUnallocated(err error) bool {
	var target *UnallocatedSettlementError
	return errors.As(err, &target)
}
