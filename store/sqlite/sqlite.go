/*
Package sqlite provides a SQLite-backed implementation of finance.TxStore.

PURPOSE:
  Default persistence for the fee engine. Implements finance.Store,
  finance.TxStore and finance.Seeder. PostgreSQL lives in store/postgres
  and follows the same table layout.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements on settlements or payment_allocations
  - settlements.reference is UNIQUE; a clash maps to
    finance.ErrDuplicateReference
  - Corrections are new settlements

KEY TABLES:
  fee_items, class_fee_items:   Fee catalog
  student_optional_fees:        Opt-ins, unique per (student, item)
  students, enrollments:        Directory
  parents, parent_students:     Parent links, ordered by linked_at
  user_roles:                   Staff roles for discounts
  academic_sessions, terms:     Calendar
  invoices:                     Issued elsewhere, minor units
  wallets:                      One per parent
  settlements:                  Append-only ledger
  payment_allocations:          Append-only, per settlement
  outbox_events:                Written in the settlement transaction

MONEY:
  Stored as decimal TEXT ("1500.00") and summed in Go with
  shopspring/decimal. No REAL columns on money paths.

CONCURRENCY:
  The pool is capped at one connection, so ":memory:" databases are shared
  and writers are serialized by SQLite itself. WithTx additionally holds a
  mutex for the whole transaction.

USAGE:
  store, err := sqlite.New("./data/fees.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger := finance.NewSettlementLedger(store, nil, logger)

SEE ALSO:
  - finance/store.go: Interface definitions
  - finance/store/memory.go: In-memory implementation for testing
  - store/postgres: PostgreSQL implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/fee-engine/finance"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements finance.Store over a querier. Store and txStore both
// embed it.
type queries struct {
	q querier
}

// Store implements finance.TxStore and finance.Seeder using SQLite.
type Store struct {
	queries
	db *sql.DB
	mu sync.Mutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{queries: queries{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Calendar
	CREATE TABLE IF NOT EXISTS academic_sessions (
		id TEXT PRIMARY KEY,
		school_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		year INTEGER NOT NULL DEFAULT 0,
		is_current BOOLEAN NOT NULL DEFAULT FALSE,
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_school ON academic_sessions(school_id, year DESC);

	CREATE TABLE IF NOT EXISTS terms (
		id TEXT PRIMARY KEY,
		school_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		is_current BOOLEAN NOT NULL DEFAULT FALSE,
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	);
	CREATE INDEX IF NOT EXISTS idx_terms_school ON terms(school_id);

	-- Fee catalog
	CREATE TABLE IF NOT EXISTS fee_items (
		id TEXT PRIMARY KEY,
		school_id TEXT NOT NULL,
		name TEXT NOT NULL,
		amount TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT 'MISCELLANEOUS',
		description TEXT NOT NULL DEFAULT '',
		is_mandatory BOOLEAN NOT NULL DEFAULT TRUE,
		is_recurring BOOLEAN NOT NULL DEFAULT FALSE,
		recurrence TEXT NOT NULL DEFAULT '',
		gender_eligibility TEXT NOT NULL DEFAULT '',
		status_eligibility TEXT NOT NULL DEFAULT '',
		discount_type TEXT NOT NULL DEFAULT 'NONE',
		discount_value TEXT NOT NULL DEFAULT '0',
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE TABLE IF NOT EXISTS class_fee_items (
		id TEXT PRIMARY KEY,
		school_id TEXT NOT NULL,
		class_id TEXT NOT NULL,
		class_name TEXT NOT NULL DEFAULT '',
		fee_item_id TEXT NOT NULL REFERENCES fee_items(id),
		session_id TEXT NOT NULL,
		term_id TEXT,
		custom_amount TEXT,
		is_applicable BOOLEAN NOT NULL DEFAULT TRUE,
		is_locked BOOLEAN NOT NULL DEFAULT FALSE,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		notes TEXT NOT NULL DEFAULT ''
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_class_fee_items_unique
		ON class_fee_items(class_id, fee_item_id, session_id, COALESCE(term_id, ''));
	CREATE INDEX IF NOT EXISTS idx_class_fee_items_class_session
		ON class_fee_items(class_id, session_id);

	CREATE TABLE IF NOT EXISTS student_optional_fees (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		class_fee_item_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		term_id TEXT,
		opted_in_at TEXT NOT NULL,
		opted_in_by TEXT NOT NULL DEFAULT '',
		is_locked BOOLEAN NOT NULL DEFAULT FALSE,
		custom_amount TEXT,
		notes TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		UNIQUE(student_id, class_fee_item_id)
	);

	-- Directory
	CREATE TABLE IF NOT EXISTS students (
		id TEXT PRIMARY KEY,
		school_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		student_number TEXT NOT NULL DEFAULT '',
		gender TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_students_school ON students(school_id, created_at);

	CREATE TABLE IF NOT EXISTS enrollments (
		student_id TEXT NOT NULL,
		class_id TEXT NOT NULL,
		class_name TEXT NOT NULL DEFAULT '',
		session_id TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		PRIMARY KEY (student_id, class_id, session_id)
	);

	CREATE TABLE IF NOT EXISTS parents (
		id TEXT PRIMARY KEY,
		school_id TEXT NOT NULL,
		user_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		distribution_type TEXT NOT NULL DEFAULT 'SPREAD',
		priority_order TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE TABLE IF NOT EXISTS parent_students (
		parent_id TEXT NOT NULL,
		student_id TEXT NOT NULL,
		linked_at TEXT NOT NULL,
		PRIMARY KEY (parent_id, student_id)
	);
	CREATE INDEX IF NOT EXISTS idx_parent_students_student ON parent_students(student_id);

	CREATE TABLE IF NOT EXISTS user_roles (
		user_id TEXT NOT NULL,
		school_id TEXT NOT NULL,
		role TEXT NOT NULL,
		PRIMARY KEY (user_id, school_id, role)
	);

	-- Invoices (issued elsewhere, minor units)
	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		school_id TEXT NOT NULL,
		student_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		term_id TEXT,
		total_amount INTEGER NOT NULL DEFAULT 0,
		amount_paid INTEGER NOT NULL DEFAULT 0,
		balance_due INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	);
	CREATE INDEX IF NOT EXISTS idx_invoices_student_session ON invoices(student_id, session_id);

	-- Wallets
	CREATE TABLE IF NOT EXISTS wallets (
		id TEXT PRIMARY KEY,
		school_id TEXT NOT NULL,
		parent_id TEXT NOT NULL UNIQUE,
		customer_code TEXT NOT NULL DEFAULT '',
		account_number TEXT,
		account_name TEXT NOT NULL DEFAULT '',
		bank_name TEXT NOT NULL DEFAULT '',
		balance TEXT NOT NULL DEFAULT '0',
		currency TEXT NOT NULL DEFAULT 'NGN',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_wallets_customer_code ON wallets(customer_code);
	CREATE INDEX IF NOT EXISTS idx_wallets_account_number ON wallets(account_number) WHERE account_number IS NOT NULL;

	-- Settlements (append-only)
	CREATE TABLE IF NOT EXISTS settlements (
		id TEXT PRIMARY KEY,
		school_id TEXT NOT NULL,
		wallet_id TEXT,
		parent_id TEXT,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		reference TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL,
		channel TEXT NOT NULL DEFAULT '',
		payer_email TEXT NOT NULL DEFAULT '',
		transaction_date TEXT NOT NULL,
		session_id TEXT,
		term_id TEXT,
		reimbursed BOOLEAN NOT NULL DEFAULT FALSE,
		settlement_type TEXT NOT NULL,
		raw_payload TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		recorded_by TEXT NOT NULL DEFAULT '',
		allocation_status TEXT NOT NULL,
		unallocated_amount TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_settlements_wallet_session ON settlements(wallet_id, session_id, term_id);
	CREATE INDEX IF NOT EXISTS idx_settlements_school ON settlements(school_id, reimbursed, status);

	-- Payment allocations (append-only)
	CREATE TABLE IF NOT EXISTS payment_allocations (
		id TEXT PRIMARY KEY,
		school_id TEXT NOT NULL,
		settlement_id TEXT NOT NULL REFERENCES settlements(id),
		student_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		term_id TEXT,
		amount TEXT NOT NULL,
		allocation_order INTEGER NOT NULL,
		method TEXT NOT NULL,
		balance_before TEXT NOT NULL,
		balance_after TEXT NOT NULL,
		allocated_at TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		UNIQUE(settlement_id, allocation_order)
	);
	-- Hot path: previous allocations per child when computing outstanding
	CREATE INDEX IF NOT EXISTS idx_allocations_student_session
		ON payment_allocations(student_id, session_id, term_id);

	-- Outbox
	CREATE TABLE IF NOT EXISTS outbox_events (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		aggregate_id TEXT NOT NULL DEFAULT '',
		payload TEXT NOT NULL,
		created_at TEXT NOT NULL,
		processed_at TEXT,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox_events(created_at) WHERE processed_at IS NULL;
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (finance.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store finance.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{queries: queries{q: sqlTx}}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore reads and writes through the open *sql.Tx.
type txStore struct {
	queries
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"payment_allocations", "settlements", "outbox_events", "wallets", "invoices",
		"student_optional_fees", "class_fee_items", "fee_items", "user_roles",
		"parent_students", "parents", "enrollments", "students", "terms", "academic_sessions",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// timeLayout sorts lexically, which ORDER BY relies on.
const timeLayout = "2006-01-02 15:04:05.000000000"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.ParseInLocation(timeLayout, s, time.UTC)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullID[T ~string](id *T) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return nullString(string(*id))
}

func idPtr[T ~string](ns sql.NullString) *T {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	id := T(ns.String)
	return &id
}

func nullMoney(m *finance.Money) sql.NullString {
	if m == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: m.String(), Valid: true}
}

func moneyPtr(ns sql.NullString) *finance.Money {
	if !ns.Valid {
		return nil
	}
	m := parseMoney(ns.String)
	return &m
}

func parseMoney(s string) finance.Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return finance.Money{}
	}
	return finance.Money{Value: d}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}

// termClause returns the SQL and args for the "nil = whole session" filter.
func termClause(column string, termID *finance.TermID) (string, []any) {
	if termID == nil {
		return "", nil
	}
	return " AND " + column + " = ?", []any{string(*termID)}
}
