/*
store.go - Persistence interfaces for the finance engine

PURPOSE:
  Defines the boundary between the engine and the database. Every query
  is flat and scoped by (student/parent, session, term); nothing here hands
  out object graphs to walk.

KEY INTERFACES:
  Catalog:          Read-only fee configuration (FeeCatalog)
  OptionalFeeStore: Student opt-ins to optional items
  Directory:        Students, enrollments, parents, staff roles
  Calendar:         Academic sessions and terms
  WalletStore:      Parent wallets, row lock, balance credit
  SettlementStore:  Append-only settlements, unique by reference
  AllocationStore:  Append-only allocations
  InvoiceReader:    Invoices issued elsewhere (read-only)
  Outbox:           Events written in the settlement transaction
  Store:            All of the above
  TxStore:          Store plus WithTx
  Seeder:           Administrative writes used by loaders and tests

APPEND-ONLY CONTRACT:
  Settlements and allocations have Append methods and nothing else.
  There is no Update or Delete for them; corrections are new settlements.

NOT FOUND:
  Single-record getters return an error wrapping ErrEntityNotFound when
  nothing matches (see NotFound in errors.go).

TERM FILTERS:
  A nil *TermID means "the whole session". For class fee items a non-nil
  term matches items of that term and items with no term.

IMPLEMENTATIONS:
  - finance/store/memory.go: In-memory, for tests and demos
  - store/sqlite/sqlite.go:   SQLite (default)
  - store/postgres/postgres.go: PostgreSQL via gorm

SEE ALSO:
  - ledger.go: The only writer of settlements and allocations
*/
package finance

import (
	"context"
	"time"
)

// =============================================================================
// READ MODELS
// =============================================================================

// Catalog is the read-only fee configuration.
type Catalog interface {
	// ClassFeeItems returns active items for a class in a session, with the
	// tri-state term filter applied. FeeItem is populated.
	ClassFeeItems(ctx context.Context, classID ClassID, sessionID SessionID, termID *TermID) ([]ClassFeeItem, error)

	GetClassFeeItem(ctx context.Context, id ClassFeeItemID) (ClassFeeItem, error)
}

type OptionalFeeStore interface {
	GetOptionalFee(ctx context.Context, studentID StudentID, classFeeItemID ClassFeeItemID) (StudentOptionalFee, error)

	// SaveOptionalFee inserts or replaces the (student, item) record.
	SaveOptionalFee(ctx context.Context, fee StudentOptionalFee) error
}

type Directory interface {
	GetStudent(ctx context.Context, id StudentID) (Student, error)

	// ListStudents returns a school's active students by creation order.
	ListStudents(ctx context.Context, schoolID SchoolID) ([]Student, error)

	// ActiveEnrollments returns the student's active enrollments in a session.
	ActiveEnrollments(ctx context.Context, studentID StudentID, sessionID SessionID) ([]Enrollment, error)

	GetParent(ctx context.Context, id ParentID) (Parent, error)

	// ChildrenOf returns a parent's active children ordered by when the
	// relationship was created, then by student id.
	ChildrenOf(ctx context.Context, parentID ParentID) ([]Student, error)

	// IsStaffChild reports whether any linked parent's user holds a staff
	// discount role at the school.
	IsStaffChild(ctx context.Context, studentID StudentID, schoolID SchoolID) (bool, error)
}

type Calendar interface {
	GetSession(ctx context.Context, id SessionID) (AcademicSession, error)
	CurrentSession(ctx context.Context, schoolID SchoolID) (AcademicSession, error)

	// LatestSession returns the active session with the highest year.
	LatestSession(ctx context.Context, schoolID SchoolID) (AcademicSession, error)

	GetTerm(ctx context.Context, id TermID) (Term, error)
	CurrentTerm(ctx context.Context, schoolID SchoolID) (Term, error)
}

type InvoiceReader interface {
	// Invoices returns active invoices for a student in a session (and term).
	Invoices(ctx context.Context, studentID StudentID, sessionID SessionID, termID *TermID) ([]Invoice, error)
}

// =============================================================================
// WALLETS
// =============================================================================

type WalletStore interface {
	GetWallet(ctx context.Context, id WalletID) (Wallet, error)
	WalletByParent(ctx context.Context, parentID ParentID) (Wallet, error)
	WalletByCustomerCode(ctx context.Context, code string) (Wallet, error)
	WalletByAccountNumber(ctx context.Context, accountNumber string) (Wallet, error)

	// LockWallet takes a row lock for the rest of the transaction. Stores
	// whose writers are already serialized treat it as an existence check.
	LockWallet(ctx context.Context, id WalletID) error

	// CreditWallet adds amount to the stored wallet balance.
	CreditWallet(ctx context.Context, id WalletID, amount Money) error

	SaveWallet(ctx context.Context, w Wallet) error
}

// =============================================================================
// SETTLEMENTS & ALLOCATIONS - Append-only
// =============================================================================

// SettlementFilter narrows settlement listings. Nil fields match anything;
// a nil TermID with a SessionID matches the whole session.
type SettlementFilter struct {
	SchoolID   *SchoolID
	WalletID   *WalletID
	SessionID  *SessionID
	TermID     *TermID
	Reimbursed *bool
	Status     *string
}

type SettlementStore interface {
	// AppendSettlement persists a settlement. Returns an error wrapping
	// ErrDuplicateReference when the reference exists.
	AppendSettlement(ctx context.Context, s Settlement) error

	GetSettlement(ctx context.Context, id SettlementID) (Settlement, error)
	SettlementByReference(ctx context.Context, reference string) (Settlement, error)

	// Settlements lists matches ordered by transaction date, then id.
	Settlements(ctx context.Context, filter SettlementFilter) ([]Settlement, error)
}

type AllocationStore interface {
	// AppendAllocations persists one settlement's batch.
	AppendAllocations(ctx context.Context, allocations []PaymentAllocation) error

	AllocationsBySettlement(ctx context.Context, settlementID SettlementID) ([]PaymentAllocation, error)
	AllocationsByStudent(ctx context.Context, studentID StudentID, sessionID SessionID, termID *TermID) ([]PaymentAllocation, error)

	// AllocatedTotal sums a student's allocations in a session (and term).
	AllocatedTotal(ctx context.Context, studentID StudentID, sessionID SessionID, termID *TermID) (Money, error)
}

// =============================================================================
// OUTBOX
// =============================================================================

type Outbox interface {
	AppendEvent(ctx context.Context, e OutboxEvent) error

	// PendingEvents returns unprocessed events with fewer than maxAttempts
	// attempts, oldest first.
	PendingEvents(ctx context.Context, limit, maxAttempts int) ([]OutboxEvent, error)

	MarkEventProcessed(ctx context.Context, id EventID, at time.Time) error
	MarkEventFailed(ctx context.Context, id EventID, reason string) error
}

// =============================================================================
// STORE - Everything the engine reads and writes
// =============================================================================

type Store interface {
	Catalog
	OptionalFeeStore
	Directory
	Calendar
	InvoiceReader
	WalletStore
	SettlementStore
	AllocationStore
	Outbox
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// SEEDER - Administrative writes (catalog, people, calendar, invoices)
// =============================================================================

// Seeder holds the writes owned by administrative flows outside the engine.
// Loaders, demo scenarios and tests use it.
type Seeder interface {
	SaveSession(ctx context.Context, s AcademicSession) error
	SaveTerm(ctx context.Context, t Term) error
	SaveFeeItem(ctx context.Context, f FeeItem) error
	SaveClassFeeItem(ctx context.Context, c ClassFeeItem) error
	SaveStudent(ctx context.Context, s Student) error
	SaveEnrollment(ctx context.Context, e Enrollment) error
	SaveParent(ctx context.Context, p Parent) error
	LinkParent(ctx context.Context, parentID ParentID, studentID StudentID, linkedAt time.Time) error
	GrantRole(ctx context.Context, userID UserID, schoolID SchoolID, role Role) error
	SaveInvoice(ctx context.Context, i Invoice) error
	SaveWallet(ctx context.Context, w Wallet) error
	SaveOptionalFee(ctx context.Context, fee StudentOptionalFee) error

	// Reset clears every table. Development only.
	Reset(ctx context.Context) error
}
