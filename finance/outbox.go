package finance

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventKind names an outbox event.
type EventKind string

const (
	// EventSettlementRecorded fires for every new settlement; the notifier
	// sends the parent a receipt.
	EventSettlementRecorded EventKind = "settlement.recorded"

	// EventSettlementUnallocated fires when no allocation could be made and
	// someone has to reconcile by hand.
	EventSettlementUnallocated EventKind = "settlement.unallocated"

	// EventWalletProvisioning asks the payment provider for a dedicated
	// account number.
	EventWalletProvisioning EventKind = "wallet.provisioning_requested"
)

// OutboxEvent is written in the same transaction as the change it reports
// and consumed later by a worker. Payload is JSON.
type OutboxEvent struct {
	ID          EventID
	Kind        EventKind
	AggregateID string
	Payload     json.RawMessage
	CreatedAt   time.Time
	ProcessedAt *time.Time
	Attempts    int
	LastError   string
}

// NewOutboxEvent marshals payload into a new event.
func NewOutboxEvent(kind EventKind, aggregateID string, payload any, now time.Time) (OutboxEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return OutboxEvent{}, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return OutboxEvent{
		ID:          EventID(uuid.NewString()),
		Kind:        kind,
		AggregateID: aggregateID,
		Payload:     data,
		CreatedAt:   now.UTC(),
	}, nil
}

// Decode unmarshals the payload into v.
func (e OutboxEvent) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Kind, err)
	}
	return nil
}

type SettlementRecordedPayload struct {
	SettlementID SettlementID     `json:"settlement_id"`
	Reference    string           `json:"reference"`
	ParentID     *ParentID        `json:"parent_id,omitempty"`
	Amount       Money            `json:"amount"`
	Currency     string           `json:"currency"`
	Type         SettlementType   `json:"type"`
	Status       AllocationStatus `json:"status"`
	Allocations  int              `json:"allocations"`
}

type SettlementUnallocatedPayload struct {
	SettlementID SettlementID `json:"settlement_id"`
	Reference    string       `json:"reference"`
	Amount       Money        `json:"amount"`
	Reason       string       `json:"reason"`
}

type WalletProvisioningPayload struct {
	WalletID WalletID `json:"wallet_id"`
	ParentID ParentID `json:"parent_id"`
	SchoolID SchoolID `json:"school_id"`
	Name     string   `json:"name"`
	Email    string   `json:"email"`
}
