package finance_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/warp/fee-engine/finance"
	"github.com/warp/fee-engine/finance/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const (
	testSchool  = finance.SchoolID("school-1")
	testSession = finance.SessionID("sess-2025")
	firstTerm   = finance.TermID("term-1")
	secondTerm  = finance.TermID("term-2")
)

var baseTime = time.Date(2025, time.January, 6, 9, 0, 0, 0, time.UTC)

// world is a school with a current session and a current first term.
type world struct {
	t     *testing.T
	ctx   context.Context
	store *store.Memory
	seq   int
}

func newWorld(t *testing.T) *world {
	w := newEmptyWorld(t)
	require.NoError(t, w.store.SaveSession(w.ctx, finance.AcademicSession{
		ID: testSession, SchoolID: testSchool, Name: "2025/2026", Year: 2025, IsCurrent: true, IsActive: true,
	}))
	require.NoError(t, w.store.SaveTerm(w.ctx, finance.Term{
		ID: firstTerm, SchoolID: testSchool, SessionID: testSession, Name: "First Term", IsCurrent: true, IsActive: true,
	}))
	require.NoError(t, w.store.SaveTerm(w.ctx, finance.Term{
		ID: secondTerm, SchoolID: testSchool, SessionID: testSession, Name: "Second Term", IsActive: true,
	}))
	return w
}

// newEmptyWorld has no academic calendar at all.
func newEmptyWorld(t *testing.T) *world {
	return &world{t: t, ctx: context.Background(), store: store.NewMemory()}
}

func (w *world) next() time.Time {
	w.seq++
	return baseTime.Add(time.Duration(w.seq) * time.Minute)
}

func termPtr(id finance.TermID) *finance.TermID { return &id }

func sessionPtr(id finance.SessionID) *finance.SessionID { return &id }

func money(s string) finance.Money { return finance.MustParseMoney(s) }

func (w *world) feeItem(id, name string, amount int64, mandatory bool, opts ...func(*finance.FeeItem)) finance.FeeItem {
	item := finance.FeeItem{
		ID:          finance.FeeItemID(id),
		SchoolID:    testSchool,
		Name:        name,
		Amount:      finance.NewMoney(amount),
		Category:    finance.CategoryTuition,
		IsMandatory: mandatory,
		IsActive:    true,
	}
	for _, opt := range opts {
		opt(&item)
	}
	require.NoError(w.t, w.store.SaveFeeItem(w.ctx, item))
	return item
}

func withDiscount(t finance.DiscountType, value int64) func(*finance.FeeItem) {
	return func(f *finance.FeeItem) {
		f.StaffDiscount = finance.StaffDiscount{Type: t, Value: decimal.NewFromInt(value)}
	}
}

func (w *world) classItem(id string, class finance.ClassID, item finance.FeeItem, term *finance.TermID) finance.ClassFeeItem {
	cfi := finance.ClassFeeItem{
		ID:           finance.ClassFeeItemID(id),
		SchoolID:     testSchool,
		ClassID:      class,
		ClassName:    string(class),
		FeeItem:      item,
		SessionID:    testSession,
		TermID:       term,
		IsApplicable: true,
		IsActive:     true,
	}
	require.NoError(w.t, w.store.SaveClassFeeItem(w.ctx, cfi))
	return cfi
}

// tuition gives class a single mandatory item owing amount every term.
func (w *world) tuition(class finance.ClassID, amount int64) finance.ClassFeeItem {
	w.seq++
	item := w.feeItem(fmt.Sprintf("fee-%d", w.seq), fmt.Sprintf("Tuition %s", class), amount, true)
	return w.classItem(fmt.Sprintf("cfi-%d", w.seq), class, item, nil)
}

func (w *world) student(id string, class finance.ClassID) finance.Student {
	s := finance.Student{
		ID:        finance.StudentID(id),
		SchoolID:  testSchool,
		Name:      id,
		Gender:    finance.GenderFemale,
		Status:    finance.StudentReturning,
		IsActive:  true,
		CreatedAt: w.next(),
	}
	require.NoError(w.t, w.store.SaveStudent(w.ctx, s))
	if class != "" {
		require.NoError(w.t, w.store.SaveEnrollment(w.ctx, finance.Enrollment{
			StudentID: s.ID, ClassID: class, ClassName: string(class), SessionID: testSession, IsActive: true,
		}))
	}
	return s
}

func (w *world) parent(id string, method finance.DistributionType, children ...finance.Student) finance.Parent {
	p := finance.Parent{
		ID:               finance.ParentID(id),
		SchoolID:         testSchool,
		UserID:           finance.UserID("user-" + id),
		Name:             id,
		Email:            id + "@example.com",
		DistributionType: method,
		IsActive:         true,
	}
	require.NoError(w.t, w.store.SaveParent(w.ctx, p))
	for _, child := range children {
		require.NoError(w.t, w.store.LinkParent(w.ctx, p.ID, child.ID, w.next()))
	}
	return p
}

func (w *world) wallet(p finance.Parent) finance.Wallet {
	wallet := finance.Wallet{
		ID:        finance.WalletID("wallet-" + string(p.ID)),
		SchoolID:  p.SchoolID,
		ParentID:  p.ID,
		Currency:  finance.DefaultCurrency,
		IsActive:  true,
		CreatedAt: w.next(),
	}
	require.NoError(w.t, w.store.SaveWallet(w.ctx, wallet))
	return wallet
}

func (w *world) invoicePaid(id string, student finance.Student, paidMinor int64) {
	require.NoError(w.t, w.store.SaveInvoice(w.ctx, finance.Invoice{
		ID:               finance.InvoiceID(id),
		SchoolID:         testSchool,
		StudentID:        student.ID,
		SessionID:        testSession,
		TermID:           termPtr(firstTerm),
		TotalAmountMinor: paidMinor,
		AmountPaidMinor:  paidMinor,
		Status:           "PAID",
		IsActive:         true,
	}))
}

func (w *world) ledger() *finance.SettlementLedger {
	l := finance.NewSettlementLedger(w.store, nil, nil)
	l.Now = func() time.Time { return baseTime.Add(24 * time.Hour) }
	return l
}

func (w *world) pay(l *finance.SettlementLedger, wallet finance.Wallet, reference, amount string) finance.SettlementReceipt {
	receipt, err := l.RecordSettlement(w.ctx, finance.RecordSettlementRequest{
		SchoolID:  testSchool,
		WalletID:  wallet.ID,
		Amount:    money(amount),
		Reference: reference,
		Channel:   "bank_transfer",
	})
	require.NoError(w.t, err)
	return receipt
}

// sharesByStudent flattens allocations for assertions.
func sharesByStudent(allocations []finance.PaymentAllocation) map[finance.StudentID]string {
	out := make(map[finance.StudentID]string, len(allocations))
	for _, a := range allocations {
		out[a.StudentID] = a.Amount.String()
	}
	return out
}
