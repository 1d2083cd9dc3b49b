// Package store provides an in-memory finance.TxStore for tests and demos.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/fee-engine/finance"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements finance.TxStore and finance.Seeder.
type Memory struct {
	mu   sync.RWMutex
	data *memData
}

type optKey struct {
	StudentID      finance.StudentID
	ClassFeeItemID finance.ClassFeeItemID
}

type link struct {
	ParentID  finance.ParentID
	StudentID finance.StudentID
	LinkedAt  time.Time
}

type roleGrant struct {
	UserID   finance.UserID
	SchoolID finance.SchoolID
	Role     finance.Role
}

type memData struct {
	sessions      map[finance.SessionID]finance.AcademicSession
	terms         map[finance.TermID]finance.Term
	feeItems      map[finance.FeeItemID]finance.FeeItem
	classFeeItems map[finance.ClassFeeItemID]finance.ClassFeeItem
	students      map[finance.StudentID]finance.Student
	enrollments   []finance.Enrollment
	parents       map[finance.ParentID]finance.Parent
	links         []link
	roles         []roleGrant
	invoices      map[finance.InvoiceID]finance.Invoice
	wallets       map[finance.WalletID]finance.Wallet
	optional      map[optKey]finance.StudentOptionalFee
	settlements   []finance.Settlement
	allocations   []finance.PaymentAllocation
	events        []finance.OutboxEvent
}

func newMemData() *memData {
	return &memData{
		sessions:      make(map[finance.SessionID]finance.AcademicSession),
		terms:         make(map[finance.TermID]finance.Term),
		feeItems:      make(map[finance.FeeItemID]finance.FeeItem),
		classFeeItems: make(map[finance.ClassFeeItemID]finance.ClassFeeItem),
		students:      make(map[finance.StudentID]finance.Student),
		parents:       make(map[finance.ParentID]finance.Parent),
		invoices:      make(map[finance.InvoiceID]finance.Invoice),
		wallets:       make(map[finance.WalletID]finance.Wallet),
		optional:      make(map[optKey]finance.StudentOptionalFee),
	}
}

// clone copies every table. Records are values, so copying maps and
// slices is enough.
func (d *memData) clone() *memData {
	c := &memData{
		sessions:      copyMap(d.sessions),
		terms:         copyMap(d.terms),
		feeItems:      copyMap(d.feeItems),
		classFeeItems: copyMap(d.classFeeItems),
		students:      copyMap(d.students),
		enrollments:   append([]finance.Enrollment(nil), d.enrollments...),
		parents:       copyMap(d.parents),
		links:         append([]link(nil), d.links...),
		roles:         append([]roleGrant(nil), d.roles...),
		invoices:      copyMap(d.invoices),
		wallets:       copyMap(d.wallets),
		optional:      copyMap(d.optional),
		settlements:   append([]finance.Settlement(nil), d.settlements...),
		allocations:   append([]finance.PaymentAllocation(nil), d.allocations...),
		events:        append([]finance.OutboxEvent(nil), d.events...),
	}
	return c
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func NewMemory() *Memory {
	return &Memory{data: newMemData()}
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(finance.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.data.clone()
	if err := fn(&view{d: m.data}); err != nil {
		m.data = snapshot
		return err
	}
	return nil
}

func read[T any](m *Memory, fn func(v *view) (T, error)) (T, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&view{d: m.data})
}

func (m *Memory) write(fn func(v *view) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&view{d: m.data})
}

// =============================================================================
// LOCKED WRAPPERS - Memory methods lock, then delegate to view
// =============================================================================

func (m *Memory) ClassFeeItems(ctx context.Context, classID finance.ClassID, sessionID finance.SessionID, termID *finance.TermID) ([]finance.ClassFeeItem, error) {
	return read(m, func(v *view) ([]finance.ClassFeeItem, error) { return v.ClassFeeItems(ctx, classID, sessionID, termID) })
}

func (m *Memory) GetClassFeeItem(ctx context.Context, id finance.ClassFeeItemID) (finance.ClassFeeItem, error) {
	return read(m, func(v *view) (finance.ClassFeeItem, error) { return v.GetClassFeeItem(ctx, id) })
}

func (m *Memory) GetOptionalFee(ctx context.Context, studentID finance.StudentID, itemID finance.ClassFeeItemID) (finance.StudentOptionalFee, error) {
	return read(m, func(v *view) (finance.StudentOptionalFee, error) { return v.GetOptionalFee(ctx, studentID, itemID) })
}

func (m *Memory) SaveOptionalFee(ctx context.Context, fee finance.StudentOptionalFee) error {
	return m.write(func(v *view) error { return v.SaveOptionalFee(ctx, fee) })
}

func (m *Memory) GetStudent(ctx context.Context, id finance.StudentID) (finance.Student, error) {
	return read(m, func(v *view) (finance.Student, error) { return v.GetStudent(ctx, id) })
}

func (m *Memory) ListStudents(ctx context.Context, schoolID finance.SchoolID) ([]finance.Student, error) {
	return read(m, func(v *view) ([]finance.Student, error) { return v.ListStudents(ctx, schoolID) })
}

func (m *Memory) ActiveEnrollments(ctx context.Context, studentID finance.StudentID, sessionID finance.SessionID) ([]finance.Enrollment, error) {
	return read(m, func(v *view) ([]finance.Enrollment, error) { return v.ActiveEnrollments(ctx, studentID, sessionID) })
}

func (m *Memory) GetParent(ctx context.Context, id finance.ParentID) (finance.Parent, error) {
	return read(m, func(v *view) (finance.Parent, error) { return v.GetParent(ctx, id) })
}

func (m *Memory) ChildrenOf(ctx context.Context, parentID finance.ParentID) ([]finance.Student, error) {
	return read(m, func(v *view) ([]finance.Student, error) { return v.ChildrenOf(ctx, parentID) })
}

func (m *Memory) IsStaffChild(ctx context.Context, studentID finance.StudentID, schoolID finance.SchoolID) (bool, error) {
	return read(m, func(v *view) (bool, error) { return v.IsStaffChild(ctx, studentID, schoolID) })
}

func (m *Memory) GetSession(ctx context.Context, id finance.SessionID) (finance.AcademicSession, error) {
	return read(m, func(v *view) (finance.AcademicSession, error) { return v.GetSession(ctx, id) })
}

func (m *Memory) CurrentSession(ctx context.Context, schoolID finance.SchoolID) (finance.AcademicSession, error) {
	return read(m, func(v *view) (finance.AcademicSession, error) { return v.CurrentSession(ctx, schoolID) })
}

func (m *Memory) LatestSession(ctx context.Context, schoolID finance.SchoolID) (finance.AcademicSession, error) {
	return read(m, func(v *view) (finance.AcademicSession, error) { return v.LatestSession(ctx, schoolID) })
}

func (m *Memory) GetTerm(ctx context.Context, id finance.TermID) (finance.Term, error) {
	return read(m, func(v *view) (finance.Term, error) { return v.GetTerm(ctx, id) })
}

func (m *Memory) CurrentTerm(ctx context.Context, schoolID finance.SchoolID) (finance.Term, error) {
	return read(m, func(v *view) (finance.Term, error) { return v.CurrentTerm(ctx, schoolID) })
}

func (m *Memory) Invoices(ctx context.Context, studentID finance.StudentID, sessionID finance.SessionID, termID *finance.TermID) ([]finance.Invoice, error) {
	return read(m, func(v *view) ([]finance.Invoice, error) { return v.Invoices(ctx, studentID, sessionID, termID) })
}

func (m *Memory) GetWallet(ctx context.Context, id finance.WalletID) (finance.Wallet, error) {
	return read(m, func(v *view) (finance.Wallet, error) { return v.GetWallet(ctx, id) })
}

func (m *Memory) WalletByParent(ctx context.Context, parentID finance.ParentID) (finance.Wallet, error) {
	return read(m, func(v *view) (finance.Wallet, error) { return v.WalletByParent(ctx, parentID) })
}

func (m *Memory) WalletByCustomerCode(ctx context.Context, code string) (finance.Wallet, error) {
	return read(m, func(v *view) (finance.Wallet, error) { return v.WalletByCustomerCode(ctx, code) })
}

func (m *Memory) WalletByAccountNumber(ctx context.Context, number string) (finance.Wallet, error) {
	return read(m, func(v *view) (finance.Wallet, error) { return v.WalletByAccountNumber(ctx, number) })
}

func (m *Memory) LockWallet(ctx context.Context, id finance.WalletID) error {
	_, err := m.GetWallet(ctx, id)
	return err
}

func (m *Memory) CreditWallet(ctx context.Context, id finance.WalletID, amount finance.Money) error {
	return m.write(func(v *view) error { return v.CreditWallet(ctx, id, amount) })
}

func (m *Memory) SaveWallet(ctx context.Context, w finance.Wallet) error {
	return m.write(func(v *view) error { return v.SaveWallet(ctx, w) })
}

func (m *Memory) AppendSettlement(ctx context.Context, s finance.Settlement) error {
	return m.write(func(v *view) error { return v.AppendSettlement(ctx, s) })
}

func (m *Memory) GetSettlement(ctx context.Context, id finance.SettlementID) (finance.Settlement, error) {
	return read(m, func(v *view) (finance.Settlement, error) { return v.GetSettlement(ctx, id) })
}

func (m *Memory) SettlementByReference(ctx context.Context, reference string) (finance.Settlement, error) {
	return read(m, func(v *view) (finance.Settlement, error) { return v.SettlementByReference(ctx, reference) })
}

func (m *Memory) Settlements(ctx context.Context, filter finance.SettlementFilter) ([]finance.Settlement, error) {
	return read(m, func(v *view) ([]finance.Settlement, error) { return v.Settlements(ctx, filter) })
}

func (m *Memory) AppendAllocations(ctx context.Context, allocations []finance.PaymentAllocation) error {
	return m.write(func(v *view) error { return v.AppendAllocations(ctx, allocations) })
}

func (m *Memory) AllocationsBySettlement(ctx context.Context, id finance.SettlementID) ([]finance.PaymentAllocation, error) {
	return read(m, func(v *view) ([]finance.PaymentAllocation, error) { return v.AllocationsBySettlement(ctx, id) })
}

func (m *Memory) AllocationsByStudent(ctx context.Context, studentID finance.StudentID, sessionID finance.SessionID, termID *finance.TermID) ([]finance.PaymentAllocation, error) {
	return read(m, func(v *view) ([]finance.PaymentAllocation, error) {
		return v.AllocationsByStudent(ctx, studentID, sessionID, termID)
	})
}

func (m *Memory) AllocatedTotal(ctx context.Context, studentID finance.StudentID, sessionID finance.SessionID, termID *finance.TermID) (finance.Money, error) {
	return read(m, func(v *view) (finance.Money, error) { return v.AllocatedTotal(ctx, studentID, sessionID, termID) })
}

func (m *Memory) AppendEvent(ctx context.Context, e finance.OutboxEvent) error {
	return m.write(func(v *view) error { return v.AppendEvent(ctx, e) })
}

func (m *Memory) PendingEvents(ctx context.Context, limit, maxAttempts int) ([]finance.OutboxEvent, error) {
	return read(m, func(v *view) ([]finance.OutboxEvent, error) { return v.PendingEvents(ctx, limit, maxAttempts) })
}

func (m *Memory) MarkEventProcessed(ctx context.Context, id finance.EventID, at time.Time) error {
	return m.write(func(v *view) error { return v.MarkEventProcessed(ctx, id, at) })
}

func (m *Memory) MarkEventFailed(ctx context.Context, id finance.EventID, reason string) error {
	return m.write(func(v *view) error { return v.MarkEventFailed(ctx, id, reason) })
}

// Seeder

func (m *Memory) SaveSession(ctx context.Context, s finance.AcademicSession) error {
	return m.write(func(v *view) error { return v.SaveSession(ctx, s) })
}

func (m *Memory) SaveTerm(ctx context.Context, t finance.Term) error {
	return m.write(func(v *view) error { return v.SaveTerm(ctx, t) })
}

func (m *Memory) SaveFeeItem(ctx context.Context, f finance.FeeItem) error {
	return m.write(func(v *view) error { return v.SaveFeeItem(ctx, f) })
}

func (m *Memory) SaveClassFeeItem(ctx context.Context, c finance.ClassFeeItem) error {
	return m.write(func(v *view) error { return v.SaveClassFeeItem(ctx, c) })
}

func (m *Memory) SaveStudent(ctx context.Context, s finance.Student) error {
	return m.write(func(v *view) error { return v.SaveStudent(ctx, s) })
}

func (m *Memory) SaveEnrollment(ctx context.Context, e finance.Enrollment) error {
	return m.write(func(v *view) error { return v.SaveEnrollment(ctx, e) })
}

func (m *Memory) SaveParent(ctx context.Context, p finance.Parent) error {
	return m.write(func(v *view) error { return v.SaveParent(ctx, p) })
}

func (m *Memory) LinkParent(ctx context.Context, parentID finance.ParentID, studentID finance.StudentID, linkedAt time.Time) error {
	return m.write(func(v *view) error { return v.LinkParent(ctx, parentID, studentID, linkedAt) })
}

func (m *Memory) GrantRole(ctx context.Context, userID finance.UserID, schoolID finance.SchoolID, role finance.Role) error {
	return m.write(func(v *view) error { return v.GrantRole(ctx, userID, schoolID, role) })
}

func (m *Memory) SaveInvoice(ctx context.Context, i finance.Invoice) error {
	return m.write(func(v *view) error { return v.SaveInvoice(ctx, i) })
}

func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = newMemData()
	return nil
}

// =============================================================================
// VIEW - Unlocked implementation shared by Memory and WithTx
// =============================================================================

type view struct {
	d *memData
}

func sameTerm(a, b *finance.TermID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// inTerm applies the "nil filter = whole session" rule.
func inTerm(filter, value *finance.TermID) bool {
	return filter == nil || sameTerm(filter, value)
}

func (v *view) ClassFeeItems(_ context.Context, classID finance.ClassID, sessionID finance.SessionID, termID *finance.TermID) ([]finance.ClassFeeItem, error) {
	var out []finance.ClassFeeItem
	for _, c := range v.d.classFeeItems {
		if c.ClassID != classID || c.SessionID != sessionID || !c.IsActive {
			continue
		}
		if termID != nil && c.TermID != nil && *c.TermID != *termID {
			continue
		}
		out = append(out, v.withFeeItem(c))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FeeItem.Name != out[j].FeeItem.Name {
			return out[i].FeeItem.Name < out[j].FeeItem.Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (v *view) withFeeItem(c finance.ClassFeeItem) finance.ClassFeeItem {
	if f, ok := v.d.feeItems[c.FeeItem.ID]; ok {
		c.FeeItem = f
	}
	return c
}

func (v *view) GetClassFeeItem(_ context.Context, id finance.ClassFeeItemID) (finance.ClassFeeItem, error) {
	c, ok := v.d.classFeeItems[id]
	if !ok {
		return finance.ClassFeeItem{}, finance.NotFound("class fee item", id)
	}
	return v.withFeeItem(c), nil
}

func (v *view) GetOptionalFee(_ context.Context, studentID finance.StudentID, itemID finance.ClassFeeItemID) (finance.StudentOptionalFee, error) {
	f, ok := v.d.optional[optKey{studentID, itemID}]
	if !ok {
		return finance.StudentOptionalFee{}, finance.NotFound("optional fee", fmt.Sprintf("%s/%s", studentID, itemID))
	}
	return f, nil
}

func (v *view) SaveOptionalFee(_ context.Context, fee finance.StudentOptionalFee) error {
	v.d.optional[optKey{fee.StudentID, fee.ClassFeeItemID}] = fee
	return nil
}

func (v *view) GetStudent(_ context.Context, id finance.StudentID) (finance.Student, error) {
	s, ok := v.d.students[id]
	if !ok {
		return finance.Student{}, finance.NotFound("student", id)
	}
	return s, nil
}

func (v *view) ListStudents(_ context.Context, schoolID finance.SchoolID) ([]finance.Student, error) {
	var out []finance.Student
	for _, s := range v.d.students {
		if s.SchoolID == schoolID && s.IsActive {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (v *view) ActiveEnrollments(_ context.Context, studentID finance.StudentID, sessionID finance.SessionID) ([]finance.Enrollment, error) {
	var out []finance.Enrollment
	for _, e := range v.d.enrollments {
		if e.StudentID == studentID && e.SessionID == sessionID && e.IsActive {
			out = append(out, e)
		}
	}
	return out, nil
}

func (v *view) GetParent(_ context.Context, id finance.ParentID) (finance.Parent, error) {
	p, ok := v.d.parents[id]
	if !ok {
		return finance.Parent{}, finance.NotFound("parent", id)
	}
	return p, nil
}

func (v *view) ChildrenOf(_ context.Context, parentID finance.ParentID) ([]finance.Student, error) {
	var links []link
	for _, l := range v.d.links {
		if l.ParentID == parentID {
			links = append(links, l)
		}
	}
	sort.SliceStable(links, func(i, j int) bool {
		if !links[i].LinkedAt.Equal(links[j].LinkedAt) {
			return links[i].LinkedAt.Before(links[j].LinkedAt)
		}
		return links[i].StudentID < links[j].StudentID
	})

	var out []finance.Student
	for _, l := range links {
		if s, ok := v.d.students[l.StudentID]; ok && s.IsActive {
			out = append(out, s)
		}
	}
	return out, nil
}

func (v *view) IsStaffChild(_ context.Context, studentID finance.StudentID, schoolID finance.SchoolID) (bool, error) {
	for _, l := range v.d.links {
		if l.StudentID != studentID {
			continue
		}
		parent, ok := v.d.parents[l.ParentID]
		if !ok || parent.UserID == "" {
			continue
		}
		for _, r := range v.d.roles {
			if r.UserID != parent.UserID || r.SchoolID != schoolID {
				continue
			}
			for _, staff := range finance.StaffDiscountRoles {
				if r.Role == staff {
					return true, nil
				}
			}
		}
	}
	return false, nil
}

func (v *view) GetSession(_ context.Context, id finance.SessionID) (finance.AcademicSession, error) {
	s, ok := v.d.sessions[id]
	if !ok {
		return finance.AcademicSession{}, finance.NotFound("session", id)
	}
	return s, nil
}

func (v *view) CurrentSession(_ context.Context, schoolID finance.SchoolID) (finance.AcademicSession, error) {
	for _, s := range v.d.sessions {
		if s.SchoolID == schoolID && s.IsCurrent && s.IsActive {
			return s, nil
		}
	}
	return finance.AcademicSession{}, finance.NotFound("current session", schoolID)
}

func (v *view) LatestSession(_ context.Context, schoolID finance.SchoolID) (finance.AcademicSession, error) {
	var best *finance.AcademicSession
	for _, s := range v.d.sessions {
		if s.SchoolID != schoolID || !s.IsActive {
			continue
		}
		if best == nil || s.Year > best.Year || (s.Year == best.Year && s.ID > best.ID) {
			s := s
			best = &s
		}
	}
	if best == nil {
		return finance.AcademicSession{}, finance.NotFound("session", schoolID)
	}
	return *best, nil
}

func (v *view) GetTerm(_ context.Context, id finance.TermID) (finance.Term, error) {
	t, ok := v.d.terms[id]
	if !ok {
		return finance.Term{}, finance.NotFound("term", id)
	}
	return t, nil
}

func (v *view) CurrentTerm(_ context.Context, schoolID finance.SchoolID) (finance.Term, error) {
	for _, t := range v.d.terms {
		if t.SchoolID == schoolID && t.IsCurrent && t.IsActive {
			return t, nil
		}
	}
	return finance.Term{}, finance.NotFound("current term", schoolID)
}

func (v *view) Invoices(_ context.Context, studentID finance.StudentID, sessionID finance.SessionID, termID *finance.TermID) ([]finance.Invoice, error) {
	var out []finance.Invoice
	for _, inv := range v.d.invoices {
		if inv.StudentID == studentID && inv.SessionID == sessionID && inv.IsActive && inTerm(termID, inv.TermID) {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *view) GetWallet(_ context.Context, id finance.WalletID) (finance.Wallet, error) {
	w, ok := v.d.wallets[id]
	if !ok {
		return finance.Wallet{}, finance.NotFound("wallet", id)
	}
	return w, nil
}

func (v *view) findWallet(kind, key string, match func(finance.Wallet) bool) (finance.Wallet, error) {
	for _, w := range v.d.wallets {
		if w.IsActive && match(w) {
			return w, nil
		}
	}
	return finance.Wallet{}, finance.NotFound(kind, key)
}

func (v *view) WalletByParent(_ context.Context, parentID finance.ParentID) (finance.Wallet, error) {
	return v.findWallet("wallet for parent", string(parentID), func(w finance.Wallet) bool { return w.ParentID == parentID })
}

func (v *view) WalletByCustomerCode(_ context.Context, code string) (finance.Wallet, error) {
	return v.findWallet("wallet for customer", code, func(w finance.Wallet) bool { return w.CustomerCode == code })
}

func (v *view) WalletByAccountNumber(_ context.Context, number string) (finance.Wallet, error) {
	return v.findWallet("wallet for account", number, func(w finance.Wallet) bool {
		return w.AccountNumber != nil && *w.AccountNumber == number
	})
}

func (v *view) LockWallet(ctx context.Context, id finance.WalletID) error {
	_, err := v.GetWallet(ctx, id)
	return err
}

func (v *view) CreditWallet(_ context.Context, id finance.WalletID, amount finance.Money) error {
	w, ok := v.d.wallets[id]
	if !ok {
		return finance.NotFound("wallet", id)
	}
	w.Balance = w.Balance.Add(amount)
	v.d.wallets[id] = w
	return nil
}

func (v *view) SaveWallet(_ context.Context, w finance.Wallet) error {
	v.d.wallets[w.ID] = w
	return nil
}

func (v *view) AppendSettlement(_ context.Context, s finance.Settlement) error {
	for _, existing := range v.d.settlements {
		if existing.Reference == s.Reference {
			return fmt.Errorf("%w: %s", finance.ErrDuplicateReference, s.Reference)
		}
	}
	v.d.settlements = append(v.d.settlements, s)
	return nil
}

func (v *view) GetSettlement(_ context.Context, id finance.SettlementID) (finance.Settlement, error) {
	for _, s := range v.d.settlements {
		if s.ID == id {
			return s, nil
		}
	}
	return finance.Settlement{}, finance.NotFound("settlement", id)
}

func (v *view) SettlementByReference(_ context.Context, reference string) (finance.Settlement, error) {
	for _, s := range v.d.settlements {
		if s.Reference == reference {
			return s, nil
		}
	}
	return finance.Settlement{}, finance.NotFound("settlement", reference)
}

func (v *view) Settlements(_ context.Context, f finance.SettlementFilter) ([]finance.Settlement, error) {
	var out []finance.Settlement
	for _, s := range v.d.settlements {
		switch {
		case f.SchoolID != nil && s.SchoolID != *f.SchoolID:
		case f.WalletID != nil && (s.WalletID == nil || *s.WalletID != *f.WalletID):
		case f.SessionID != nil && (s.SessionID == nil || *s.SessionID != *f.SessionID):
		case f.SessionID != nil && !inTerm(f.TermID, s.TermID):
		case f.Reimbursed != nil && s.Reimbursed != *f.Reimbursed:
		case f.Status != nil && s.Status != *f.Status:
		default:
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].TransactionDate.Equal(out[j].TransactionDate) {
			return out[i].TransactionDate.Before(out[j].TransactionDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (v *view) AppendAllocations(_ context.Context, allocations []finance.PaymentAllocation) error {
	v.d.allocations = append(v.d.allocations, allocations...)
	return nil
}

func (v *view) AllocationsBySettlement(_ context.Context, id finance.SettlementID) ([]finance.PaymentAllocation, error) {
	var out []finance.PaymentAllocation
	for _, a := range v.d.allocations {
		if a.SettlementID == id {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (v *view) AllocationsByStudent(_ context.Context, studentID finance.StudentID, sessionID finance.SessionID, termID *finance.TermID) ([]finance.PaymentAllocation, error) {
	var out []finance.PaymentAllocation
	for _, a := range v.d.allocations {
		if a.StudentID == studentID && a.SessionID == sessionID && inTerm(termID, a.TermID) {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].AllocatedAt.Before(out[j].AllocatedAt) })
	return out, nil
}

func (v *view) AllocatedTotal(ctx context.Context, studentID finance.StudentID, sessionID finance.SessionID, termID *finance.TermID) (finance.Money, error) {
	allocations, _ := v.AllocationsByStudent(ctx, studentID, sessionID, termID)
	total := finance.Money{}
	for _, a := range allocations {
		total = total.Add(a.Amount)
	}
	return total, nil
}

func (v *view) AppendEvent(_ context.Context, e finance.OutboxEvent) error {
	v.d.events = append(v.d.events, e)
	return nil
}

func (v *view) PendingEvents(_ context.Context, limit, maxAttempts int) ([]finance.OutboxEvent, error) {
	var out []finance.OutboxEvent
	for _, e := range v.d.events {
		if e.ProcessedAt == nil && e.Attempts < maxAttempts {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (v *view) updateEvent(id finance.EventID, fn func(e *finance.OutboxEvent)) error {
	for i := range v.d.events {
		if v.d.events[i].ID == id {
			fn(&v.d.events[i])
			return nil
		}
	}
	return finance.NotFound("event", id)
}

func (v *view) MarkEventProcessed(_ context.Context, id finance.EventID, at time.Time) error {
	return v.updateEvent(id, func(e *finance.OutboxEvent) {
		at := at.UTC()
		e.ProcessedAt = &at
		e.Attempts++
		e.LastError = ""
	})
}

func (v *view) MarkEventFailed(_ context.Context, id finance.EventID, reason string) error {
	return v.updateEvent(id, func(e *finance.OutboxEvent) {
		e.Attempts++
		e.LastError = reason
	})
}

func (v *view) SaveSession(_ context.Context, s finance.AcademicSession) error {
	v.d.sessions[s.ID] = s
	return nil
}

func (v *view) SaveTerm(_ context.Context, t finance.Term) error {
	v.d.terms[t.ID] = t
	return nil
}

func (v *view) SaveFeeItem(_ context.Context, f finance.FeeItem) error {
	v.d.feeItems[f.ID] = f
	return nil
}

func (v *view) SaveClassFeeItem(_ context.Context, c finance.ClassFeeItem) error {
	for _, existing := range v.d.classFeeItems {
		if existing.ID != c.ID && existing.ClassID == c.ClassID && existing.FeeItem.ID == c.FeeItem.ID &&
			existing.SessionID == c.SessionID && sameTerm(existing.TermID, c.TermID) {
			return fmt.Errorf("class fee item for %s/%s already exists", c.ClassID, c.FeeItem.ID)
		}
	}
	v.d.classFeeItems[c.ID] = c
	return nil
}

func (v *view) SaveStudent(_ context.Context, s finance.Student) error {
	v.d.students[s.ID] = s
	return nil
}

func (v *view) SaveEnrollment(_ context.Context, e finance.Enrollment) error {
	for i, existing := range v.d.enrollments {
		if existing.StudentID == e.StudentID && existing.ClassID == e.ClassID && existing.SessionID == e.SessionID {
			v.d.enrollments[i] = e
			return nil
		}
	}
	v.d.enrollments = append(v.d.enrollments, e)
	return nil
}

func (v *view) SaveParent(_ context.Context, p finance.Parent) error {
	v.d.parents[p.ID] = p
	return nil
}

func (v *view) LinkParent(_ context.Context, parentID finance.ParentID, studentID finance.StudentID, linkedAt time.Time) error {
	for _, l := range v.d.links {
		if l.ParentID == parentID && l.StudentID == studentID {
			return nil
		}
	}
	v.d.links = append(v.d.links, link{ParentID: parentID, StudentID: studentID, LinkedAt: linkedAt})
	return nil
}

func (v *view) GrantRole(_ context.Context, userID finance.UserID, schoolID finance.SchoolID, role finance.Role) error {
	v.d.roles = append(v.d.roles, roleGrant{UserID: userID, SchoolID: schoolID, Role: role})
	return nil
}

func (v *view) SaveInvoice(_ context.Context, i finance.Invoice) error {
	v.d.invoices[i.ID] = i
	return nil
}
