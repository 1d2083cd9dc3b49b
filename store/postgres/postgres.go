/*
Package postgres implements finance.TxStore and finance.Seeder on PostgreSQL
through gorm.

PURPOSE:
  The multi-instance backend. Where the sqlite store serializes writers on a
  single connection, this one relies on row locks: LockWallet issues
  SELECT ... FOR UPDATE inside the settlement transaction, so concurrent
  settlements for one wallet queue on the row while other wallets proceed.

SCHEMA:
  Tables are created by gorm AutoMigrate from the row types in models.go.
  Money columns are numeric(14,2). Settlement references carry a unique
  index; a violation surfaces as gorm.ErrDuplicatedKey (TranslateError)
  and is mapped to finance.ErrDuplicateReference.

USAGE:
  store, err := postgres.Open(os.Getenv("DATABASE_URL"))
  ledger := finance.NewSettlementLedger(store, nil, logger)
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/fee-engine/finance"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// queries holds every read and write; Store and txStore differ only in
// which *gorm.DB they carry.
type queries struct {
	db *gorm.DB
}

// Store is the PostgreSQL implementation.
type Store struct {
	queries
}

type txStore struct {
	queries
}

var (
	_ finance.TxStore = (*Store)(nil)
	_ finance.Seeder  = (*Store)(nil)
	_ finance.Store   = (*txStore)(nil)
)

// Open connects to dsn and migrates the schema.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError:         true,
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return New(db)
}

// New wraps an open gorm handle and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(allModels...); err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return &Store{queries{db: db}}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// WithTx runs fn inside a gorm transaction.
func (s *Store) WithTx(ctx context.Context, fn func(finance.Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&txStore{queries{db: tx}})
	})
}

// Reset truncates every table. Development only.
func (s *Store) Reset(ctx context.Context) error {
	err := s.db.WithContext(ctx).Exec(`TRUNCATE outbox_events, payment_allocations, settlements, wallets,
		invoices, user_roles, parent_students, parents, enrollments, students, student_optional_fees,
		class_fee_items, fee_items, terms, academic_sessions CASCADE`).Error
	return wrap("reset", err)
}

func (q *queries) tx(ctx context.Context) *gorm.DB {
	return q.db.WithContext(ctx)
}

// first loads one row, mapping gorm.ErrRecordNotFound to a finance not-found.
func first[T any](db *gorm.DB, kind string, key any, query string, args ...any) (T, error) {
	var row T
	err := db.Where(query, args...).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return row, finance.NotFound(kind, key)
	}
	if err != nil {
		return row, fmt.Errorf("failed to get %s: %w", kind, err)
	}
	return row, nil
}

// termScope applies an exact term filter when termID is set.
func termScope(column string, termID *finance.TermID) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if termID == nil {
			return db
		}
		return db.Where(column+" = ?", string(*termID))
	}
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

// =============================================================================
// FEE CATALOG (finance.Catalog, finance.OptionalFeeStore)
// =============================================================================

func (q *queries) ClassFeeItems(ctx context.Context, classID finance.ClassID, sessionID finance.SessionID, termID *finance.TermID) ([]finance.ClassFeeItem, error) {
	db := q.tx(ctx).Preload("FeeItem").
		Joins("JOIN fee_items f ON f.id = class_fee_items.fee_item_id").
		Where("class_fee_items.class_id = ? AND class_fee_items.session_id = ? AND class_fee_items.is_active",
			string(classID), string(sessionID))
	if termID != nil {
		db = db.Where("(class_fee_items.term_id = ? OR class_fee_items.term_id IS NULL)", string(*termID))
	}

	var rows []classFeeItemRow
	if err := db.Order("f.name ASC, class_fee_items.id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query class fee items: %w", err)
	}
	items := make([]finance.ClassFeeItem, len(rows))
	for i, r := range rows {
		items[i] = toClassFeeItem(r)
	}
	return items, nil
}

func (q *queries) GetClassFeeItem(ctx context.Context, id finance.ClassFeeItemID) (finance.ClassFeeItem, error) {
	row, err := first[classFeeItemRow](q.tx(ctx).Preload("FeeItem"), "class fee item", id, "id = ?", string(id))
	if err != nil {
		return finance.ClassFeeItem{}, err
	}
	return toClassFeeItem(row), nil
}

func (q *queries) GetOptionalFee(ctx context.Context, studentID finance.StudentID, itemID finance.ClassFeeItemID) (finance.StudentOptionalFee, error) {
	row, err := first[optionalFeeRow](q.tx(ctx), "optional fee", fmt.Sprintf("%s/%s", studentID, itemID),
		"student_id = ? AND class_fee_item_id = ?", string(studentID), string(itemID))
	if err != nil {
		return finance.StudentOptionalFee{}, err
	}
	return toOptionalFee(row), nil
}

func (q *queries) SaveOptionalFee(ctx context.Context, fee finance.StudentOptionalFee) error {
	row := optionalFeeRow{
		ID:             string(fee.ID),
		StudentID:      string(fee.StudentID),
		ClassFeeItemID: string(fee.ClassFeeItemID),
		SessionID:      string(fee.SessionID),
		TermID:         strPtr(fee.TermID),
		OptedInAt:      fee.OptedInAt,
		OptedInBy:      fee.OptedInBy,
		IsLocked:       fee.IsLocked,
		CustomAmount:   decPtr(fee.CustomAmount),
		Notes:          fee.Notes,
		IsActive:       fee.IsActive,
	}
	err := q.tx(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "student_id"}, {Name: "class_fee_item_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"session_id", "term_id", "opted_in_at", "opted_in_by", "is_locked", "custom_amount", "notes", "is_active",
		}),
	}).Create(&row).Error
	return wrap("save optional fee", err)
}

// =============================================================================
// DIRECTORY (finance.Directory)
// =============================================================================

func (q *queries) GetStudent(ctx context.Context, id finance.StudentID) (finance.Student, error) {
	row, err := first[studentRow](q.tx(ctx), "student", id, "id = ?", string(id))
	if err != nil {
		return finance.Student{}, err
	}
	return toStudent(row), nil
}

func (q *queries) ListStudents(ctx context.Context, schoolID finance.SchoolID) ([]finance.Student, error) {
	var rows []studentRow
	err := q.tx(ctx).Where("school_id = ? AND is_active", string(schoolID)).
		Order("created_at ASC, id ASC").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list students: %w", err)
	}
	return studentsFrom(rows), nil
}

func studentsFrom(rows []studentRow) []finance.Student {
	out := make([]finance.Student, len(rows))
	for i, r := range rows {
		out[i] = toStudent(r)
	}
	return out
}

func (q *queries) ActiveEnrollments(ctx context.Context, studentID finance.StudentID, sessionID finance.SessionID) ([]finance.Enrollment, error) {
	var rows []enrollmentRow
	err := q.tx(ctx).Where("student_id = ? AND session_id = ? AND is_active", string(studentID), string(sessionID)).
		Order("created_at ASC, class_id ASC").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query enrollments: %w", err)
	}
	out := make([]finance.Enrollment, len(rows))
	for i, r := range rows {
		out[i] = finance.Enrollment{
			StudentID: finance.StudentID(r.StudentID),
			ClassID:   finance.ClassID(r.ClassID),
			ClassName: r.ClassName,
			SessionID: finance.SessionID(r.SessionID),
			IsActive:  r.IsActive,
		}
	}
	return out, nil
}

func (q *queries) GetParent(ctx context.Context, id finance.ParentID) (finance.Parent, error) {
	row, err := first[parentRow](q.tx(ctx), "parent", id, "id = ?", string(id))
	if err != nil {
		return finance.Parent{}, err
	}
	return toParent(row), nil
}

func (q *queries) ChildrenOf(ctx context.Context, parentID finance.ParentID) ([]finance.Student, error) {
	var rows []studentRow
	err := q.tx(ctx).Table("students AS s").Select("s.*").
		Joins("JOIN parent_students ps ON ps.student_id = s.id").
		Where("ps.parent_id = ? AND s.is_active", string(parentID)).
		Order("ps.linked_at ASC, s.id ASC").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query children: %w", err)
	}
	return studentsFrom(rows), nil
}

func (q *queries) IsStaffChild(ctx context.Context, studentID finance.StudentID, schoolID finance.SchoolID) (bool, error) {
	roles := make([]string, len(finance.StaffDiscountRoles))
	for i, r := range finance.StaffDiscountRoles {
		roles[i] = string(r)
	}
	var count int64
	err := q.tx(ctx).Table("parent_students AS ps").
		Joins("JOIN parents p ON p.id = ps.parent_id").
		Joins("JOIN user_roles r ON r.user_id = p.user_id").
		Where("ps.student_id = ? AND p.user_id <> '' AND r.school_id = ? AND r.role IN ?",
			string(studentID), string(schoolID), roles).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check staff roles: %w", err)
	}
	return count > 0, nil
}

// =============================================================================
// CALENDAR (finance.Calendar)
// =============================================================================

func toSession(r sessionRow) finance.AcademicSession {
	return finance.AcademicSession{
		ID:        finance.SessionID(r.ID),
		SchoolID:  finance.SchoolID(r.SchoolID),
		Name:      r.Name,
		Year:      r.Year,
		IsCurrent: r.IsCurrent,
		IsActive:  r.IsActive,
	}
}

func toTerm(r termRow) finance.Term {
	return finance.Term{
		ID:        finance.TermID(r.ID),
		SchoolID:  finance.SchoolID(r.SchoolID),
		SessionID: finance.SessionID(r.SessionID),
		Name:      r.Name,
		IsCurrent: r.IsCurrent,
		IsActive:  r.IsActive,
	}
}

func (q *queries) GetSession(ctx context.Context, id finance.SessionID) (finance.AcademicSession, error) {
	row, err := first[sessionRow](q.tx(ctx), "session", id, "id = ?", string(id))
	return toSession(row), err
}

func (q *queries) CurrentSession(ctx context.Context, schoolID finance.SchoolID) (finance.AcademicSession, error) {
	row, err := first[sessionRow](q.tx(ctx), "current session", schoolID,
		"school_id = ? AND is_current AND is_active", string(schoolID))
	return toSession(row), err
}

func (q *queries) LatestSession(ctx context.Context, schoolID finance.SchoolID) (finance.AcademicSession, error) {
	row, err := first[sessionRow](q.tx(ctx).Order("year DESC, id DESC"), "latest session", schoolID,
		"school_id = ? AND is_active", string(schoolID))
	return toSession(row), err
}

func (q *queries) GetTerm(ctx context.Context, id finance.TermID) (finance.Term, error) {
	row, err := first[termRow](q.tx(ctx), "term", id, "id = ?", string(id))
	return toTerm(row), err
}

func (q *queries) CurrentTerm(ctx context.Context, schoolID finance.SchoolID) (finance.Term, error) {
	row, err := first[termRow](q.tx(ctx), "current term", schoolID,
		"school_id = ? AND is_current AND is_active", string(schoolID))
	return toTerm(row), err
}

// =============================================================================
// INVOICES (finance.InvoiceReader)
// =============================================================================

func (q *queries) Invoices(ctx context.Context, studentID finance.StudentID, sessionID finance.SessionID, termID *finance.TermID) ([]finance.Invoice, error) {
	var rows []invoiceRow
	err := q.tx(ctx).Scopes(termScope("term_id", termID)).
		Where("student_id = ? AND session_id = ? AND is_active", string(studentID), string(sessionID)).
		Order("id ASC").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query invoices: %w", err)
	}
	out := make([]finance.Invoice, len(rows))
	for i, r := range rows {
		out[i] = finance.Invoice{
			ID:               finance.InvoiceID(r.ID),
			SchoolID:         finance.SchoolID(r.SchoolID),
			StudentID:        finance.StudentID(r.StudentID),
			SessionID:        finance.SessionID(r.SessionID),
			TermID:           typedPtr[finance.TermID](r.TermID),
			TotalAmountMinor: r.TotalAmount,
			AmountPaidMinor:  r.AmountPaid,
			BalanceDueMinor:  r.BalanceDue,
			Status:           r.Status,
			IsActive:         r.IsActive,
		}
	}
	return out, nil
}

// =============================================================================
// WALLETS (finance.WalletStore)
// =============================================================================

func (q *queries) getWallet(db *gorm.DB, kind string, key any, query string, args ...any) (finance.Wallet, error) {
	row, err := first[walletRow](db, kind, key, query, args...)
	if err != nil {
		return finance.Wallet{}, err
	}
	return toWallet(row), nil
}

func (q *queries) GetWallet(ctx context.Context, id finance.WalletID) (finance.Wallet, error) {
	return q.getWallet(q.tx(ctx), "wallet", id, "id = ?", string(id))
}

func (q *queries) WalletByParent(ctx context.Context, parentID finance.ParentID) (finance.Wallet, error) {
	return q.getWallet(q.tx(ctx), "wallet for parent", parentID, "parent_id = ? AND is_active", string(parentID))
}

func (q *queries) WalletByCustomerCode(ctx context.Context, code string) (finance.Wallet, error) {
	return q.getWallet(q.tx(ctx), "wallet for customer", code,
		"customer_code = ? AND customer_code <> '' AND is_active", code)
}

func (q *queries) WalletByAccountNumber(ctx context.Context, number string) (finance.Wallet, error) {
	return q.getWallet(q.tx(ctx), "wallet for account", number, "account_number = ? AND is_active", number)
}

// LockWallet takes SELECT ... FOR UPDATE on the wallet row. The lock holds
// until the surrounding transaction ends.
func (q *queries) LockWallet(ctx context.Context, id finance.WalletID) error {
	_, err := q.getWallet(q.tx(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), "wallet", id, "id = ?", string(id))
	return err
}

func (q *queries) CreditWallet(ctx context.Context, id finance.WalletID, amount finance.Money) error {
	res := q.tx(ctx).Model(&walletRow{}).Where("id = ?", string(id)).
		Update("balance", gorm.Expr("balance + ?", amount.Value))
	if res.Error != nil {
		return wrap("credit wallet", res.Error)
	}
	if res.RowsAffected == 0 {
		return finance.NotFound("wallet", id)
	}
	return nil
}

func (q *queries) SaveWallet(ctx context.Context, w finance.Wallet) error {
	row := fromWallet(w)
	err := q.tx(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"customer_code", "account_number", "account_name", "bank_name", "balance", "currency", "is_active",
		}),
	}).Create(&row).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %s", finance.ErrWalletExists, w.ParentID)
	}
	return wrap("save wallet", err)
}

// =============================================================================
// SETTLEMENTS (finance.SettlementStore) - append-only
// =============================================================================

func (q *queries) AppendSettlement(ctx context.Context, st finance.Settlement) error {
	row := fromSettlement(st)
	err := q.tx(ctx).Create(&row).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %s", finance.ErrDuplicateReference, st.Reference)
	}
	return wrap("append settlement", err)
}

func (q *queries) GetSettlement(ctx context.Context, id finance.SettlementID) (finance.Settlement, error) {
	row, err := first[settlementRow](q.tx(ctx), "settlement", id, "id = ?", string(id))
	if err != nil {
		return finance.Settlement{}, err
	}
	return toSettlement(row), nil
}

func (q *queries) SettlementByReference(ctx context.Context, reference string) (finance.Settlement, error) {
	row, err := first[settlementRow](q.tx(ctx), "settlement", reference, "reference = ?", reference)
	if err != nil {
		return finance.Settlement{}, err
	}
	return toSettlement(row), nil
}

func (q *queries) Settlements(ctx context.Context, f finance.SettlementFilter) ([]finance.Settlement, error) {
	db := q.tx(ctx)
	if f.SchoolID != nil {
		db = db.Where("school_id = ?", string(*f.SchoolID))
	}
	if f.WalletID != nil {
		db = db.Where("wallet_id = ?", string(*f.WalletID))
	}
	if f.SessionID != nil {
		db = db.Where("session_id = ?", string(*f.SessionID)).Scopes(termScope("term_id", f.TermID))
	}
	if f.Reimbursed != nil {
		db = db.Where("reimbursed = ?", *f.Reimbursed)
	}
	if f.Status != nil {
		db = db.Where("status = ?", *f.Status)
	}

	var rows []settlementRow
	if err := db.Order("transaction_date ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query settlements: %w", err)
	}
	out := make([]finance.Settlement, len(rows))
	for i, r := range rows {
		out[i] = toSettlement(r)
	}
	return out, nil
}

// =============================================================================
// ALLOCATIONS (finance.AllocationStore) - append-only
// =============================================================================

func (q *queries) AppendAllocations(ctx context.Context, allocations []finance.PaymentAllocation) error {
	if len(allocations) == 0 {
		return nil
	}
	rows := make([]allocationRow, len(allocations))
	for i, a := range allocations {
		rows[i] = fromAllocation(a)
	}
	if err := q.tx(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("failed to append allocations of settlement %s: %w", allocations[0].SettlementID, err)
	}
	return nil
}

func (q *queries) findAllocations(db *gorm.DB) ([]finance.PaymentAllocation, error) {
	var rows []allocationRow
	if err := db.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query allocations: %w", err)
	}
	out := make([]finance.PaymentAllocation, len(rows))
	for i, r := range rows {
		out[i] = toAllocation(r)
	}
	return out, nil
}

func (q *queries) AllocationsBySettlement(ctx context.Context, settlementID finance.SettlementID) ([]finance.PaymentAllocation, error) {
	return q.findAllocations(q.tx(ctx).Where("settlement_id = ?", string(settlementID)).Order("allocation_order ASC"))
}

func (q *queries) AllocationsByStudent(ctx context.Context, studentID finance.StudentID, sessionID finance.SessionID, termID *finance.TermID) ([]finance.PaymentAllocation, error) {
	return q.findAllocations(q.tx(ctx).Scopes(termScope("term_id", termID)).
		Where("student_id = ? AND session_id = ?", string(studentID), string(sessionID)).
		Order("allocated_at ASC, id ASC"))
}

func (q *queries) AllocatedTotal(ctx context.Context, studentID finance.StudentID, sessionID finance.SessionID, termID *finance.TermID) (finance.Money, error) {
	var total decimal.Decimal
	err := q.tx(ctx).Model(&allocationRow{}).Scopes(termScope("term_id", termID)).
		Where("student_id = ? AND session_id = ?", string(studentID), string(sessionID)).
		Select("COALESCE(SUM(amount), 0)").Scan(&total).Error
	if err != nil {
		return finance.Money{}, fmt.Errorf("failed to sum allocations: %w", err)
	}
	return finance.Money{Value: total}, nil
}

// =============================================================================
// OUTBOX (finance.Outbox)
// =============================================================================

func (q *queries) AppendEvent(ctx context.Context, e finance.OutboxEvent) error {
	row := outboxRow{
		ID:          string(e.ID),
		Kind:        string(e.Kind),
		AggregateID: e.AggregateID,
		Payload:     string(e.Payload),
		CreatedAt:   e.CreatedAt,
		ProcessedAt: e.ProcessedAt,
		Attempts:    e.Attempts,
		LastError:   e.LastError,
	}
	return wrap("append event", q.tx(ctx).Create(&row).Error)
}

func (q *queries) PendingEvents(ctx context.Context, limit, maxAttempts int) ([]finance.OutboxEvent, error) {
	db := q.tx(ctx).Where("processed_at IS NULL AND attempts < ?", maxAttempts).Order("created_at ASC, id ASC")
	if limit > 0 {
		db = db.Limit(limit)
	}
	var rows []outboxRow
	if err := db.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query pending events: %w", err)
	}
	out := make([]finance.OutboxEvent, len(rows))
	for i, r := range rows {
		out[i] = toEvent(r)
	}
	return out, nil
}

func (q *queries) MarkEventProcessed(ctx context.Context, id finance.EventID, at time.Time) error {
	return q.updateEvent(ctx, id, map[string]any{
		"processed_at": at.UTC(),
		"attempts":     gorm.Expr("attempts + 1"),
		"last_error":   "",
	})
}

func (q *queries) MarkEventFailed(ctx context.Context, id finance.EventID, reason string) error {
	return q.updateEvent(ctx, id, map[string]any{
		"attempts":   gorm.Expr("attempts + 1"),
		"last_error": reason,
	})
}

func (q *queries) updateEvent(ctx context.Context, id finance.EventID, fields map[string]any) error {
	res := q.tx(ctx).Model(&outboxRow{}).Where("id = ?", string(id)).Updates(fields)
	if res.Error != nil {
		return wrap("update event", res.Error)
	}
	if res.RowsAffected == 0 {
		return finance.NotFound("event", id)
	}
	return nil
}

// =============================================================================
// SEEDER (finance.Seeder)
// =============================================================================

// upsert inserts row or overwrites every non-key column.
func (q *queries) upsert(ctx context.Context, op string, row any) error {
	err := q.tx(ctx).Omit(clause.Associations).Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error
	return wrap(op, err)
}

func (q *queries) SaveSession(ctx context.Context, a finance.AcademicSession) error {
	return q.upsert(ctx, "save session", &sessionRow{
		ID: string(a.ID), SchoolID: string(a.SchoolID), Name: a.Name, Year: a.Year,
		IsCurrent: a.IsCurrent, IsActive: a.IsActive,
	})
}

func (q *queries) SaveTerm(ctx context.Context, t finance.Term) error {
	return q.upsert(ctx, "save term", &termRow{
		ID: string(t.ID), SchoolID: string(t.SchoolID), SessionID: string(t.SessionID), Name: t.Name,
		IsCurrent: t.IsCurrent, IsActive: t.IsActive,
	})
}

func (q *queries) SaveFeeItem(ctx context.Context, f finance.FeeItem) error {
	row := fromFeeItem(f)
	return q.upsert(ctx, "save fee item", &row)
}

func (q *queries) SaveClassFeeItem(ctx context.Context, c finance.ClassFeeItem) error {
	row := classFeeItemRow{
		ID:           string(c.ID),
		SchoolID:     string(c.SchoolID),
		ClassID:      string(c.ClassID),
		ClassName:    c.ClassName,
		FeeItemID:    string(c.FeeItem.ID),
		SessionID:    string(c.SessionID),
		TermID:       strPtr(c.TermID),
		CustomAmount: decPtr(c.CustomAmount),
		IsApplicable: c.IsApplicable,
		IsLocked:     c.IsLocked,
		IsActive:     c.IsActive,
		Notes:        c.Notes,
	}
	return q.upsert(ctx, "save class fee item", &row)
}

func (q *queries) SaveStudent(ctx context.Context, st finance.Student) error {
	return q.upsert(ctx, "save student", &studentRow{
		ID: string(st.ID), SchoolID: string(st.SchoolID), Name: st.Name, StudentNumber: st.StudentNumber,
		Gender: string(st.Gender), Status: string(st.Status), IsActive: st.IsActive, CreatedAt: st.CreatedAt,
	})
}

func (q *queries) SaveEnrollment(ctx context.Context, e finance.Enrollment) error {
	row := enrollmentRow{
		StudentID: string(e.StudentID), ClassID: string(e.ClassID), SessionID: string(e.SessionID),
		ClassName: e.ClassName, IsActive: e.IsActive,
	}
	err := q.tx(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "student_id"}, {Name: "class_id"}, {Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"class_name", "is_active"}),
	}).Create(&row).Error
	return wrap("save enrollment", err)
}

func (q *queries) SaveParent(ctx context.Context, p finance.Parent) error {
	row := fromParent(p)
	return q.upsert(ctx, "save parent", &row)
}

func (q *queries) LinkParent(ctx context.Context, parentID finance.ParentID, studentID finance.StudentID, linkedAt time.Time) error {
	err := q.tx(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&parentStudentRow{
		ParentID: string(parentID), StudentID: string(studentID), LinkedAt: linkedAt.UTC(),
	}).Error
	return wrap("link parent", err)
}

func (q *queries) GrantRole(ctx context.Context, userID finance.UserID, schoolID finance.SchoolID, role finance.Role) error {
	err := q.tx(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&userRoleRow{
		UserID: string(userID), SchoolID: string(schoolID), Role: string(role),
	}).Error
	return wrap("grant role", err)
}

func (q *queries) SaveInvoice(ctx context.Context, inv finance.Invoice) error {
	return q.upsert(ctx, "save invoice", &invoiceRow{
		ID: string(inv.ID), SchoolID: string(inv.SchoolID), StudentID: string(inv.StudentID),
		SessionID: string(inv.SessionID), TermID: strPtr(inv.TermID),
		TotalAmount: inv.TotalAmountMinor, AmountPaid: inv.AmountPaidMinor, BalanceDue: inv.BalanceDueMinor,
		Status: inv.Status, IsActive: inv.IsActive,
	})
}

