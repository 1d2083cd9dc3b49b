package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/fee-engine/finance"
)

// =============================================================================
// FEE CATALOG (finance.Catalog interface)
// =============================================================================

const classFeeItemColumns = `
	c.id, c.school_id, c.class_id, c.class_name, c.session_id, c.term_id, c.custom_amount,
	c.is_applicable, c.is_locked, c.is_active, c.notes,
	f.id, f.school_id, f.name, f.amount, f.category, f.description, f.is_mandatory,
	f.is_recurring, f.recurrence, f.gender_eligibility, f.status_eligibility,
	f.discount_type, f.discount_value, f.is_active`

func (s *queries) ClassFeeItems(ctx context.Context, classID finance.ClassID, sessionID finance.SessionID, termID *finance.TermID) ([]finance.ClassFeeItem, error) {
	query := `SELECT ` + classFeeItemColumns + `
		FROM class_fee_items c JOIN fee_items f ON f.id = c.fee_item_id
		WHERE c.class_id = ? AND c.session_id = ? AND c.is_active`
	args := []any{string(classID), string(sessionID)}
	if termID != nil {
		query += ` AND (c.term_id = ? OR c.term_id IS NULL)`
		args = append(args, string(*termID))
	}
	query += ` ORDER BY f.name ASC, c.id ASC`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query class fee items: %w", err)
	}
	defer rows.Close()

	var items []finance.ClassFeeItem
	for rows.Next() {
		item, err := scanClassFeeItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *queries) GetClassFeeItem(ctx context.Context, id finance.ClassFeeItemID) (finance.ClassFeeItem, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+classFeeItemColumns+`
		FROM class_fee_items c JOIN fee_items f ON f.id = c.fee_item_id
		WHERE c.id = ?`, string(id))
	item, err := scanClassFeeItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return finance.ClassFeeItem{}, finance.NotFound("class fee item", id)
	}
	return item, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanClassFeeItem(row scanner) (finance.ClassFeeItem, error) {
	var (
		c                              finance.ClassFeeItem
		termID, customAmount           sql.NullString
		amount, discountValue          string
		category, recurrence           string
		genderElig, statusElig, discTy string
	)
	err := row.Scan(
		&c.ID, &c.SchoolID, &c.ClassID, &c.ClassName, &c.SessionID, &termID, &customAmount,
		&c.IsApplicable, &c.IsLocked, &c.IsActive, &c.Notes,
		&c.FeeItem.ID, &c.FeeItem.SchoolID, &c.FeeItem.Name, &amount, &category, &c.FeeItem.Description,
		&c.FeeItem.IsMandatory, &c.FeeItem.IsRecurring, &recurrence, &genderElig, &statusElig,
		&discTy, &discountValue, &c.FeeItem.IsActive,
	)
	if err != nil {
		return finance.ClassFeeItem{}, err
	}
	c.TermID = idPtr[finance.TermID](termID)
	c.CustomAmount = moneyPtr(customAmount)
	c.FeeItem.Amount = parseMoney(amount)
	c.FeeItem.Category = finance.FeeCategory(category)
	c.FeeItem.Recurrence = finance.RecurrenceType(recurrence)
	c.FeeItem.GenderEligibility = finance.GenderEligibility(genderElig)
	c.FeeItem.StatusEligibility = finance.StatusEligibility(statusElig)
	c.FeeItem.StaffDiscount = finance.StaffDiscount{
		Type:  finance.DiscountType(discTy),
		Value: decimal.RequireFromString(orZero(discountValue)),
	}
	return c, nil
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

// =============================================================================
// OPTIONAL FEES (finance.OptionalFeeStore interface)
// =============================================================================

func (s *queries) GetOptionalFee(ctx context.Context, studentID finance.StudentID, itemID finance.ClassFeeItemID) (finance.StudentOptionalFee, error) {
	var (
		f                    finance.StudentOptionalFee
		termID, customAmount sql.NullString
		optedInAt            string
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT id, student_id, class_fee_item_id, session_id, term_id, opted_in_at, opted_in_by,
		       is_locked, custom_amount, notes, is_active
		FROM student_optional_fees
		WHERE student_id = ? AND class_fee_item_id = ?`,
		string(studentID), string(itemID),
	).Scan(&f.ID, &f.StudentID, &f.ClassFeeItemID, &f.SessionID, &termID, &optedInAt, &f.OptedInBy,
		&f.IsLocked, &customAmount, &f.Notes, &f.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return finance.StudentOptionalFee{}, finance.NotFound("optional fee", fmt.Sprintf("%s/%s", studentID, itemID))
	}
	if err != nil {
		return finance.StudentOptionalFee{}, fmt.Errorf("failed to get optional fee: %w", err)
	}
	f.TermID = idPtr[finance.TermID](termID)
	f.CustomAmount = moneyPtr(customAmount)
	f.OptedInAt = parseTime(optedInAt)
	return f, nil
}

func (s *queries) SaveOptionalFee(ctx context.Context, f finance.StudentOptionalFee) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO student_optional_fees
		(id, student_id, class_fee_item_id, session_id, term_id, opted_in_at, opted_in_by,
		 is_locked, custom_amount, notes, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(student_id, class_fee_item_id) DO UPDATE SET
			session_id = excluded.session_id,
			term_id = excluded.term_id,
			opted_in_at = excluded.opted_in_at,
			opted_in_by = excluded.opted_in_by,
			is_locked = excluded.is_locked,
			custom_amount = excluded.custom_amount,
			notes = excluded.notes,
			is_active = excluded.is_active`,
		string(f.ID), string(f.StudentID), string(f.ClassFeeItemID), string(f.SessionID), nullID(f.TermID),
		formatTime(f.OptedInAt), f.OptedInBy, f.IsLocked, nullMoney(f.CustomAmount), f.Notes, f.IsActive,
	)
	if err != nil {
		return fmt.Errorf("failed to save optional fee: %w", err)
	}
	return nil
}

// =============================================================================
// DIRECTORY (finance.Directory interface)
// =============================================================================

const studentColumns = `s.id, s.school_id, s.name, s.student_number, s.gender, s.status, s.is_active, s.created_at`

func scanStudent(row scanner) (finance.Student, error) {
	var (
		st        finance.Student
		createdAt string
	)
	if err := row.Scan(&st.ID, &st.SchoolID, &st.Name, &st.StudentNumber, &st.Gender, &st.Status, &st.IsActive, &createdAt); err != nil {
		return finance.Student{}, err
	}
	st.CreatedAt = parseTime(createdAt)
	return st, nil
}

func (s *queries) queryStudents(ctx context.Context, query string, args ...any) ([]finance.Student, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query students: %w", err)
	}
	defer rows.Close()

	var students []finance.Student
	for rows.Next() {
		st, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		students = append(students, st)
	}
	return students, rows.Err()
}

func (s *queries) GetStudent(ctx context.Context, id finance.StudentID) (finance.Student, error) {
	st, err := scanStudent(s.q.QueryRowContext(ctx, `SELECT `+studentColumns+` FROM students s WHERE s.id = ?`, string(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return finance.Student{}, finance.NotFound("student", id)
	}
	return st, err
}

func (s *queries) ListStudents(ctx context.Context, schoolID finance.SchoolID) ([]finance.Student, error) {
	return s.queryStudents(ctx, `SELECT `+studentColumns+` FROM students s
		WHERE s.school_id = ? AND s.is_active
		ORDER BY s.created_at ASC, s.id ASC`, string(schoolID))
}

func (s *queries) ActiveEnrollments(ctx context.Context, studentID finance.StudentID, sessionID finance.SessionID) ([]finance.Enrollment, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT student_id, class_id, class_name, session_id, is_active
		FROM enrollments
		WHERE student_id = ? AND session_id = ? AND is_active
		ORDER BY rowid ASC`, string(studentID), string(sessionID))
	if err != nil {
		return nil, fmt.Errorf("failed to query enrollments: %w", err)
	}
	defer rows.Close()

	var out []finance.Enrollment
	for rows.Next() {
		var e finance.Enrollment
		if err := rows.Scan(&e.StudentID, &e.ClassID, &e.ClassName, &e.SessionID, &e.IsActive); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *queries) GetParent(ctx context.Context, id finance.ParentID) (finance.Parent, error) {
	var (
		p                  finance.Parent
		method, priorities string
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT id, school_id, user_id, name, email, distribution_type, priority_order, is_active
		FROM parents WHERE id = ?`, string(id),
	).Scan(&p.ID, &p.SchoolID, &p.UserID, &p.Name, &p.Email, &method, &priorities, &p.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return finance.Parent{}, finance.NotFound("parent", id)
	}
	if err != nil {
		return finance.Parent{}, fmt.Errorf("failed to get parent: %w", err)
	}
	p.DistributionType = finance.ParseDistributionType(method)
	p.PriorityOrder = splitPriority(priorities)
	return p, nil
}

// Priority lists are stored comma separated; student ids never contain commas.
func splitPriority(s string) []finance.StudentID {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]finance.StudentID, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, finance.StudentID(p))
		}
	}
	return out
}

func joinPriority(ids []finance.StudentID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ",")
}

func (s *queries) ChildrenOf(ctx context.Context, parentID finance.ParentID) ([]finance.Student, error) {
	return s.queryStudents(ctx, `SELECT `+studentColumns+`
		FROM parent_students ps JOIN students s ON s.id = ps.student_id
		WHERE ps.parent_id = ? AND s.is_active
		ORDER BY ps.linked_at ASC, s.id ASC`, string(parentID))
}

func (s *queries) IsStaffChild(ctx context.Context, studentID finance.StudentID, schoolID finance.SchoolID) (bool, error) {
	roles := make([]string, len(finance.StaffDiscountRoles))
	args := []any{string(studentID), string(schoolID)}
	for i, r := range finance.StaffDiscountRoles {
		roles[i] = "?"
		args = append(args, string(r))
	}
	var count int
	err := s.q.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM parent_students ps
		JOIN parents p ON p.id = ps.parent_id
		JOIN user_roles r ON r.user_id = p.user_id
		WHERE ps.student_id = ? AND p.user_id != '' AND r.school_id = ?
		  AND r.role IN (`+strings.Join(roles, ",")+`)`, args...,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check staff roles: %w", err)
	}
	return count > 0, nil
}

// =============================================================================
// CALENDAR (finance.Calendar interface)
// =============================================================================

const sessionColumns = `id, school_id, name, year, is_current, is_active`

func (s *queries) getSession(ctx context.Context, kind string, key any, where string, args ...any) (finance.AcademicSession, error) {
	var a finance.AcademicSession
	err := s.q.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM academic_sessions WHERE `+where, args...).
		Scan(&a.ID, &a.SchoolID, &a.Name, &a.Year, &a.IsCurrent, &a.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return finance.AcademicSession{}, finance.NotFound(kind, key)
	}
	if err != nil {
		return finance.AcademicSession{}, fmt.Errorf("failed to get session: %w", err)
	}
	return a, nil
}

func (s *queries) GetSession(ctx context.Context, id finance.SessionID) (finance.AcademicSession, error) {
	return s.getSession(ctx, "session", id, `id = ?`, string(id))
}

func (s *queries) CurrentSession(ctx context.Context, schoolID finance.SchoolID) (finance.AcademicSession, error) {
	return s.getSession(ctx, "current session", schoolID,
		`school_id = ? AND is_current AND is_active LIMIT 1`, string(schoolID))
}

func (s *queries) LatestSession(ctx context.Context, schoolID finance.SchoolID) (finance.AcademicSession, error) {
	return s.getSession(ctx, "session", schoolID,
		`school_id = ? AND is_active ORDER BY year DESC, id DESC LIMIT 1`, string(schoolID))
}

func (s *queries) getTerm(ctx context.Context, kind string, key any, where string, args ...any) (finance.Term, error) {
	var t finance.Term
	err := s.q.QueryRowContext(ctx, `SELECT id, school_id, session_id, name, is_current, is_active FROM terms WHERE `+where, args...).
		Scan(&t.ID, &t.SchoolID, &t.SessionID, &t.Name, &t.IsCurrent, &t.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return finance.Term{}, finance.NotFound(kind, key)
	}
	if err != nil {
		return finance.Term{}, fmt.Errorf("failed to get term: %w", err)
	}
	return t, nil
}

func (s *queries) GetTerm(ctx context.Context, id finance.TermID) (finance.Term, error) {
	return s.getTerm(ctx, "term", id, `id = ?`, string(id))
}

func (s *queries) CurrentTerm(ctx context.Context, schoolID finance.SchoolID) (finance.Term, error) {
	return s.getTerm(ctx, "current term", schoolID,
		`school_id = ? AND is_current AND is_active LIMIT 1`, string(schoolID))
}

// =============================================================================
// INVOICES (finance.InvoiceReader interface)
// =============================================================================

func (s *queries) Invoices(ctx context.Context, studentID finance.StudentID, sessionID finance.SessionID, termID *finance.TermID) ([]finance.Invoice, error) {
	clause, extra := termClause("term_id", termID)
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, school_id, student_id, session_id, term_id, total_amount, amount_paid, balance_due, status, is_active
		FROM invoices
		WHERE student_id = ? AND session_id = ? AND is_active`+clause+`
		ORDER BY id ASC`, append([]any{string(studentID), string(sessionID)}, extra...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoices: %w", err)
	}
	defer rows.Close()

	var out []finance.Invoice
	for rows.Next() {
		var (
			inv    finance.Invoice
			termID sql.NullString
		)
		if err := rows.Scan(&inv.ID, &inv.SchoolID, &inv.StudentID, &inv.SessionID, &termID,
			&inv.TotalAmountMinor, &inv.AmountPaidMinor, &inv.BalanceDueMinor, &inv.Status, &inv.IsActive); err != nil {
			return nil, err
		}
		inv.TermID = idPtr[finance.TermID](termID)
		out = append(out, inv)
	}
	return out, rows.Err()
}

// =============================================================================
// SEEDER (finance.Seeder interface)
// =============================================================================

func (s *queries) SaveSession(ctx context.Context, a finance.AcademicSession) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT OR REPLACE INTO academic_sessions (id, school_id, name, year, is_current, is_active)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(a.ID), string(a.SchoolID), a.Name, a.Year, a.IsCurrent, a.IsActive)
	return wrap("save session", err)
}

func (s *queries) SaveTerm(ctx context.Context, t finance.Term) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT OR REPLACE INTO terms (id, school_id, session_id, name, is_current, is_active)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(t.ID), string(t.SchoolID), string(t.SessionID), t.Name, t.IsCurrent, t.IsActive)
	return wrap("save term", err)
}

func (s *queries) SaveFeeItem(ctx context.Context, f finance.FeeItem) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO fee_items
		(id, school_id, name, amount, category, description, is_mandatory, is_recurring, recurrence,
		 gender_eligibility, status_eligibility, discount_type, discount_value, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, amount = excluded.amount, category = excluded.category,
			description = excluded.description, is_mandatory = excluded.is_mandatory,
			is_recurring = excluded.is_recurring, recurrence = excluded.recurrence,
			gender_eligibility = excluded.gender_eligibility, status_eligibility = excluded.status_eligibility,
			discount_type = excluded.discount_type, discount_value = excluded.discount_value,
			is_active = excluded.is_active`,
		string(f.ID), string(f.SchoolID), f.Name, f.Amount.String(), string(f.Category), f.Description,
		f.IsMandatory, f.IsRecurring, string(f.Recurrence), string(f.GenderEligibility),
		string(f.StatusEligibility), discountType(f.StaffDiscount), f.StaffDiscount.Value.String(), f.IsActive)
	return wrap("save fee item", err)
}

func discountType(d finance.StaffDiscount) string {
	if d.Type == "" {
		return string(finance.DiscountNone)
	}
	return string(d.Type)
}

func (s *queries) SaveClassFeeItem(ctx context.Context, c finance.ClassFeeItem) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO class_fee_items
		(id, school_id, class_id, class_name, fee_item_id, session_id, term_id, custom_amount,
		 is_applicable, is_locked, is_active, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			class_name = excluded.class_name, custom_amount = excluded.custom_amount,
			is_applicable = excluded.is_applicable, is_locked = excluded.is_locked,
			is_active = excluded.is_active, notes = excluded.notes`,
		string(c.ID), string(c.SchoolID), string(c.ClassID), c.ClassName, string(c.FeeItem.ID),
		string(c.SessionID), nullID(c.TermID), nullMoney(c.CustomAmount),
		c.IsApplicable, c.IsLocked, c.IsActive, c.Notes)
	return wrap("save class fee item", err)
}

func (s *queries) SaveStudent(ctx context.Context, st finance.Student) error {
	createdAt := st.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT OR REPLACE INTO students (id, school_id, name, student_number, gender, status, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(st.ID), string(st.SchoolID), st.Name, st.StudentNumber, string(st.Gender), string(st.Status),
		st.IsActive, formatTime(createdAt))
	return wrap("save student", err)
}

func (s *queries) SaveEnrollment(ctx context.Context, e finance.Enrollment) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO enrollments (student_id, class_id, class_name, session_id, is_active)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(student_id, class_id, session_id) DO UPDATE SET
			class_name = excluded.class_name, is_active = excluded.is_active`,
		string(e.StudentID), string(e.ClassID), e.ClassName, string(e.SessionID), e.IsActive)
	return wrap("save enrollment", err)
}

func (s *queries) SaveParent(ctx context.Context, p finance.Parent) error {
	method := p.DistributionType
	if method == "" {
		method = finance.DistributionSpread
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT OR REPLACE INTO parents (id, school_id, user_id, name, email, distribution_type, priority_order, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(p.ID), string(p.SchoolID), string(p.UserID), p.Name, p.Email, string(method),
		joinPriority(p.PriorityOrder), p.IsActive)
	return wrap("save parent", err)
}

func (s *queries) LinkParent(ctx context.Context, parentID finance.ParentID, studentID finance.StudentID, linkedAt time.Time) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT OR IGNORE INTO parent_students (parent_id, student_id, linked_at) VALUES (?, ?, ?)`,
		string(parentID), string(studentID), formatTime(linkedAt))
	return wrap("link parent", err)
}

func (s *queries) GrantRole(ctx context.Context, userID finance.UserID, schoolID finance.SchoolID, role finance.Role) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT OR IGNORE INTO user_roles (user_id, school_id, role) VALUES (?, ?, ?)`,
		string(userID), string(schoolID), string(role))
	return wrap("grant role", err)
}

func (s *queries) SaveInvoice(ctx context.Context, inv finance.Invoice) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT OR REPLACE INTO invoices
		(id, school_id, student_id, session_id, term_id, total_amount, amount_paid, balance_due, status, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(inv.ID), string(inv.SchoolID), string(inv.StudentID), string(inv.SessionID), nullID(inv.TermID),
		inv.TotalAmountMinor, inv.AmountPaidMinor, inv.BalanceDueMinor, inv.Status, inv.IsActive)
	return wrap("save invoice", err)
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
