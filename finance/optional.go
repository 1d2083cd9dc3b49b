package finance

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// OptionalFeeRegistry tracks which optional items each student has opted
// into, and whether that choice is locked.
//
// A lock on either the class item or the student's record blocks opt-out.
// Opting in is idempotent.
type OptionalFeeRegistry struct {
	Store interface {
		Catalog
		OptionalFeeStore
	}
	Now func() time.Time
}

func NewOptionalFeeRegistry(s Store) *OptionalFeeRegistry {
	return &OptionalFeeRegistry{Store: s, Now: time.Now}
}

// OptInRequest names the student, the item and who made the choice.
type OptInRequest struct {
	StudentID      StudentID
	ClassFeeItemID ClassFeeItemID
	OptedInBy      string
	CustomAmount   *Money
	Notes          string
}

// OptIn records the opt-in, or returns the existing active one.
func (r *OptionalFeeRegistry) OptIn(ctx context.Context, req OptInRequest) (StudentOptionalFee, error) {
	item, err := r.Store.GetClassFeeItem(ctx, req.ClassFeeItemID)
	if err != nil {
		return StudentOptionalFee{}, err
	}
	if item.FeeItem.IsMandatory {
		return StudentOptionalFee{}, ErrMandatoryFee
	}
	if !item.IsApplicable || !item.IsActive {
		return StudentOptionalFee{}, ErrFeeNotApplicable
	}
	if req.CustomAmount != nil && (req.CustomAmount.IsNegative() || !req.CustomAmount.HasValidScale()) {
		return StudentOptionalFee{}, &InvalidAmountError{Amount: *req.CustomAmount, Reason: "custom amount must be non-negative with at most 2 decimals"}
	}

	existing, err := r.Store.GetOptionalFee(ctx, req.StudentID, req.ClassFeeItemID)
	switch {
	case errors.Is(err, ErrEntityNotFound):
		existing = StudentOptionalFee{ID: OptionalFeeID(uuid.NewString())}
	case err != nil:
		return StudentOptionalFee{}, err
	case existing.IsActive:
		return existing, nil
	case existing.IsLocked:
		return StudentOptionalFee{}, ErrOptionalFeeLocked
	}

	fee := StudentOptionalFee{
		ID:             existing.ID,
		StudentID:      req.StudentID,
		ClassFeeItemID: item.ID,
		SessionID:      item.SessionID,
		TermID:         item.TermID,
		OptedInAt:      r.Now().UTC(),
		OptedInBy:      req.OptedInBy,
		CustomAmount:   req.CustomAmount,
		Notes:          req.Notes,
		IsActive:       true,
	}
	if err := r.Store.SaveOptionalFee(ctx, fee); err != nil {
		return StudentOptionalFee{}, err
	}
	return fee, nil
}

// OptOut deactivates an opt-in. Opting out of something never opted into
// is a no-op.
func (r *OptionalFeeRegistry) OptOut(ctx context.Context, studentID StudentID, itemID ClassFeeItemID) error {
	item, err := r.Store.GetClassFeeItem(ctx, itemID)
	if err != nil {
		return err
	}
	if item.FeeItem.IsMandatory {
		return ErrMandatoryFee
	}

	fee, err := r.Store.GetOptionalFee(ctx, studentID, itemID)
	if errors.Is(err, ErrEntityNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !fee.IsActive {
		return nil
	}
	if item.IsLocked || fee.IsLocked {
		return ErrOptionalFeeLocked
	}

	fee.IsActive = false
	return r.Store.SaveOptionalFee(ctx, fee)
}

// Lock freezes the student's current choice for the item.
func (r *OptionalFeeRegistry) Lock(ctx context.Context, studentID StudentID, itemID ClassFeeItemID) error {
	fee, err := r.Store.GetOptionalFee(ctx, studentID, itemID)
	if err != nil {
		return err
	}
	if fee.IsLocked {
		return nil
	}
	fee.IsLocked = true
	return r.Store.SaveOptionalFee(ctx, fee)
}

// IsOptedIn reports whether an active opt-in exists.
func (r *OptionalFeeRegistry) IsOptedIn(ctx context.Context, studentID StudentID, itemID ClassFeeItemID) (bool, error) {
	fee, err := r.Store.GetOptionalFee(ctx, studentID, itemID)
	if errors.Is(err, ErrEntityNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return fee.IsActive, nil
}
