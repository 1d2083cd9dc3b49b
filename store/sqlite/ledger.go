package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/warp/fee-engine/finance"
)

// =============================================================================
// WALLETS (finance.WalletStore interface)
// =============================================================================

const walletColumns = `id, school_id, parent_id, customer_code, account_number, account_name,
	bank_name, balance, currency, is_active, created_at`

func (s *queries) getWallet(ctx context.Context, kind string, key any, where string, args ...any) (finance.Wallet, error) {
	var (
		w                  finance.Wallet
		accountNumber      sql.NullString
		balance, createdAt string
	)
	err := s.q.QueryRowContext(ctx, `SELECT `+walletColumns+` FROM wallets WHERE `+where, args...).Scan(
		&w.ID, &w.SchoolID, &w.ParentID, &w.CustomerCode, &accountNumber, &w.AccountName,
		&w.BankName, &balance, &w.Currency, &w.IsActive, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return finance.Wallet{}, finance.NotFound(kind, key)
	}
	if err != nil {
		return finance.Wallet{}, fmt.Errorf("failed to get wallet: %w", err)
	}
	if accountNumber.Valid {
		w.AccountNumber = &accountNumber.String
	}
	w.Balance = parseMoney(balance)
	w.CreatedAt = parseTime(createdAt)
	return w, nil
}

func (s *queries) GetWallet(ctx context.Context, id finance.WalletID) (finance.Wallet, error) {
	return s.getWallet(ctx, "wallet", id, `id = ?`, string(id))
}

func (s *queries) WalletByParent(ctx context.Context, parentID finance.ParentID) (finance.Wallet, error) {
	return s.getWallet(ctx, "wallet for parent", parentID, `parent_id = ? AND is_active`, string(parentID))
}

func (s *queries) WalletByCustomerCode(ctx context.Context, code string) (finance.Wallet, error) {
	return s.getWallet(ctx, "wallet for customer", code, `customer_code = ? AND customer_code != '' AND is_active LIMIT 1`, code)
}

func (s *queries) WalletByAccountNumber(ctx context.Context, number string) (finance.Wallet, error) {
	return s.getWallet(ctx, "wallet for account", number, `account_number = ? AND is_active LIMIT 1`, number)
}

// LockWallet is an existence check: writers are already serialized by the
// single connection.
func (s *queries) LockWallet(ctx context.Context, id finance.WalletID) error {
	_, err := s.GetWallet(ctx, id)
	return err
}

func (s *queries) CreditWallet(ctx context.Context, id finance.WalletID, amount finance.Money) error {
	w, err := s.GetWallet(ctx, id)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx, `UPDATE wallets SET balance = ? WHERE id = ?`,
		w.Balance.Add(amount).String(), string(id))
	return wrap("credit wallet", err)
}

func (s *queries) SaveWallet(ctx context.Context, w finance.Wallet) error {
	createdAt := w.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	currency := w.Currency
	if currency == "" {
		currency = finance.DefaultCurrency
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO wallets
		(id, school_id, parent_id, customer_code, account_number, account_name, bank_name,
		 balance, currency, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			customer_code = excluded.customer_code, account_number = excluded.account_number,
			account_name = excluded.account_name, bank_name = excluded.bank_name,
			balance = excluded.balance, currency = excluded.currency, is_active = excluded.is_active`,
		string(w.ID), string(w.SchoolID), string(w.ParentID), w.CustomerCode, nullID(w.AccountNumber),
		w.AccountName, w.BankName, w.Balance.String(), currency, w.IsActive, formatTime(createdAt))
	if isUniqueConstraintError(err) {
		return fmt.Errorf("%w: %s", finance.ErrWalletExists, w.ParentID)
	}
	return wrap("save wallet", err)
}

// =============================================================================
// SETTLEMENTS (finance.SettlementStore interface) - append-only
// =============================================================================

const settlementColumns = `id, school_id, wallet_id, parent_id, amount, currency, reference, status,
	channel, payer_email, transaction_date, session_id, term_id, reimbursed, settlement_type,
	raw_payload, notes, recorded_by, allocation_status, unallocated_amount, created_at`

func (s *queries) AppendSettlement(ctx context.Context, st finance.Settlement) error {
	kind, rawPayload, notes, recordedBy := finance.SourceColumns(st.Source)
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO settlements (`+settlementColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(st.ID), string(st.SchoolID), nullID(st.WalletID), nullID(st.ParentID),
		st.Amount.String(), st.Currency, st.Reference, st.Status, st.Channel, st.PayerEmail,
		formatTime(st.TransactionDate), nullID(st.SessionID), nullID(st.TermID), st.Reimbursed,
		string(kind), rawPayload, notes, recordedBy, string(st.AllocationStatus),
		st.UnallocatedAmount.String(), formatTime(st.CreatedAt),
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("%w: %s", finance.ErrDuplicateReference, st.Reference)
	}
	return wrap("append settlement", err)
}

func scanSettlement(row scanner) (finance.Settlement, error) {
	var (
		st                                      finance.Settlement
		walletID, parentID, sessionID, termID   sql.NullString
		amount, unallocated, txDate, createdAt  string
		kind, rawPayload, notes, recordedBy, as string
	)
	err := row.Scan(&st.ID, &st.SchoolID, &walletID, &parentID, &amount, &st.Currency, &st.Reference,
		&st.Status, &st.Channel, &st.PayerEmail, &txDate, &sessionID, &termID, &st.Reimbursed, &kind,
		&rawPayload, &notes, &recordedBy, &as, &unallocated, &createdAt)
	if err != nil {
		return finance.Settlement{}, err
	}
	st.WalletID = idPtr[finance.WalletID](walletID)
	st.ParentID = idPtr[finance.ParentID](parentID)
	st.SessionID = idPtr[finance.SessionID](sessionID)
	st.TermID = idPtr[finance.TermID](termID)
	st.Amount = parseMoney(amount)
	st.UnallocatedAmount = parseMoney(unallocated)
	st.TransactionDate = parseTime(txDate)
	st.CreatedAt = parseTime(createdAt)
	st.AllocationStatus = finance.AllocationStatus(as)
	st.Source = finance.SourceFromRecord(finance.SettlementType(kind), rawPayload, notes, recordedBy)
	return st, nil
}

func (s *queries) getSettlement(ctx context.Context, key any, where string, args ...any) (finance.Settlement, error) {
	st, err := scanSettlement(s.q.QueryRowContext(ctx, `SELECT `+settlementColumns+` FROM settlements WHERE `+where, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return finance.Settlement{}, finance.NotFound("settlement", key)
	}
	if err != nil {
		return finance.Settlement{}, fmt.Errorf("failed to get settlement: %w", err)
	}
	return st, nil
}

func (s *queries) GetSettlement(ctx context.Context, id finance.SettlementID) (finance.Settlement, error) {
	return s.getSettlement(ctx, id, `id = ?`, string(id))
}

func (s *queries) SettlementByReference(ctx context.Context, reference string) (finance.Settlement, error) {
	return s.getSettlement(ctx, reference, `reference = ?`, reference)
}

func (s *queries) Settlements(ctx context.Context, f finance.SettlementFilter) ([]finance.Settlement, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		where = append(where, clause)
		args = append(args, arg)
	}
	if f.SchoolID != nil {
		add("school_id = ?", string(*f.SchoolID))
	}
	if f.WalletID != nil {
		add("wallet_id = ?", string(*f.WalletID))
	}
	if f.SessionID != nil {
		add("session_id = ?", string(*f.SessionID))
		if f.TermID != nil {
			add("term_id = ?", string(*f.TermID))
		}
	}
	if f.Reimbursed != nil {
		add("reimbursed = ?", *f.Reimbursed)
	}
	if f.Status != nil {
		add("status = ?", *f.Status)
	}

	query := `SELECT ` + settlementColumns + ` FROM settlements`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY transaction_date ASC, id ASC`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query settlements: %w", err)
	}
	defer rows.Close()

	var out []finance.Settlement
	for rows.Next() {
		st, err := scanSettlement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// =============================================================================
// ALLOCATIONS (finance.AllocationStore interface) - append-only
// =============================================================================

const allocationColumns = `id, school_id, settlement_id, student_id, session_id, term_id, amount,
	allocation_order, method, balance_before, balance_after, allocated_at, notes`

func (s *queries) AppendAllocations(ctx context.Context, allocations []finance.PaymentAllocation) error {
	for _, a := range allocations {
		_, err := s.q.ExecContext(ctx, `
			INSERT INTO payment_allocations (`+allocationColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			string(a.ID), string(a.SchoolID), string(a.SettlementID), string(a.StudentID),
			string(a.SessionID), nullID(a.TermID), a.Amount.String(), a.Order, string(a.Method),
			a.BalanceBefore.String(), a.BalanceAfter.String(), formatTime(a.AllocatedAt), a.Notes)
		if err != nil {
			return fmt.Errorf("failed to append allocation %d of settlement %s: %w", a.Order, a.SettlementID, err)
		}
	}
	return nil
}

func (s *queries) queryAllocations(ctx context.Context, query string, args ...any) ([]finance.PaymentAllocation, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocations: %w", err)
	}
	defer rows.Close()

	var out []finance.PaymentAllocation
	for rows.Next() {
		var (
			a                                     finance.PaymentAllocation
			termID                                sql.NullString
			method                                string
			amount, before, after, allocatedAtStr string
		)
		if err := rows.Scan(&a.ID, &a.SchoolID, &a.SettlementID, &a.StudentID, &a.SessionID, &termID,
			&amount, &a.Order, &method, &before, &after, &allocatedAtStr, &a.Notes); err != nil {
			return nil, err
		}
		a.TermID = idPtr[finance.TermID](termID)
		a.Amount = parseMoney(amount)
		a.Method = finance.DistributionType(method)
		a.BalanceBefore = parseMoney(before)
		a.BalanceAfter = parseMoney(after)
		a.AllocatedAt = parseTime(allocatedAtStr)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *queries) AllocationsBySettlement(ctx context.Context, id finance.SettlementID) ([]finance.PaymentAllocation, error) {
	return s.queryAllocations(ctx, `SELECT `+allocationColumns+` FROM payment_allocations
		WHERE settlement_id = ? ORDER BY allocation_order ASC`, string(id))
}

func (s *queries) AllocationsByStudent(ctx context.Context, studentID finance.StudentID, sessionID finance.SessionID, termID *finance.TermID) ([]finance.PaymentAllocation, error) {
	clause, extra := termClause("term_id", termID)
	return s.queryAllocations(ctx, `SELECT `+allocationColumns+` FROM payment_allocations
		WHERE student_id = ? AND session_id = ?`+clause+`
		ORDER BY allocated_at ASC, rowid ASC`,
		append([]any{string(studentID), string(sessionID)}, extra...)...)
}

// AllocatedTotal sums in Go; amounts are decimal TEXT.
func (s *queries) AllocatedTotal(ctx context.Context, studentID finance.StudentID, sessionID finance.SessionID, termID *finance.TermID) (finance.Money, error) {
	allocations, err := s.AllocationsByStudent(ctx, studentID, sessionID, termID)
	if err != nil {
		return finance.Money{}, err
	}
	total := finance.Money{}
	for _, a := range allocations {
		total = total.Add(a.Amount)
	}
	return total, nil
}

// =============================================================================
// OUTBOX (finance.Outbox interface)
// =============================================================================

func (s *queries) AppendEvent(ctx context.Context, e finance.OutboxEvent) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO outbox_events (id, kind, aggregate_id, payload, created_at, attempts, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(e.ID), string(e.Kind), e.AggregateID, string(e.Payload), formatTime(e.CreatedAt), e.Attempts, e.LastError)
	return wrap("append event", err)
}

func (s *queries) PendingEvents(ctx context.Context, limit, maxAttempts int) ([]finance.OutboxEvent, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, kind, aggregate_id, payload, created_at, processed_at, attempts, last_error
		FROM outbox_events
		WHERE processed_at IS NULL AND attempts < ?
		ORDER BY created_at ASC, rowid ASC
		LIMIT ?`, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox: %w", err)
	}
	defer rows.Close()

	var out []finance.OutboxEvent
	for rows.Next() {
		var (
			e                  finance.OutboxEvent
			payload, createdAt string
			processedAt        sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Kind, &e.AggregateID, &payload, &createdAt, &processedAt, &e.Attempts, &e.LastError); err != nil {
			return nil, err
		}
		e.Payload = []byte(payload)
		e.CreatedAt = parseTime(createdAt)
		if processedAt.Valid {
			at := parseTime(processedAt.String)
			e.ProcessedAt = &at
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *queries) MarkEventProcessed(ctx context.Context, id finance.EventID, at time.Time) error {
	return s.updateEvent(ctx, id, `UPDATE outbox_events SET processed_at = ?, attempts = attempts + 1, last_error = '' WHERE id = ?`,
		formatTime(at), string(id))
}

func (s *queries) MarkEventFailed(ctx context.Context, id finance.EventID, reason string) error {
	return s.updateEvent(ctx, id, `UPDATE outbox_events SET attempts = attempts + 1, last_error = ? WHERE id = ?`,
		reason, string(id))
}

func (s *queries) updateEvent(ctx context.Context, id finance.EventID, query string, args ...any) error {
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return finance.NotFound("event", id)
	}
	return nil
}
