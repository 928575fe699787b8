package amqp

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventKind discriminates ledger event messages.
type EventKind string

const (
	EventAllocationCreated EventKind = "allocation_created"
	EventAllocationDeleted EventKind = "allocation_deleted"
	EventBudgetCloned      EventKind = "budget_cloned"
)

// LedgerEventMessage is a lightweight notification that a ledger mutation
// committed. It carries ids only; consumers fetch current state from the
// database, so a stale or replayed message is harmless.
type LedgerEventMessage struct {
	Kind           EventKind `json:"kind"`
	BudgetID       int64     `json:"budget_id,omitempty"`
	TransactionID  int64     `json:"transaction_id,omitempty"`
	AllocationID   int64     `json:"allocation_id,omitempty"`
	BudgetItemID   int64     `json:"budget_item_id,omitempty"`
	SourceBudgetID int64     `json:"source_budget_id,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

func NewAllocationCreatedMessage(budgetID, transactionID, allocationID, budgetItemID int64) *LedgerEventMessage {
	return &LedgerEventMessage{
		Kind:          EventAllocationCreated,
		BudgetID:      budgetID,
		TransactionID: transactionID,
		AllocationID:  allocationID,
		BudgetItemID:  budgetItemID,
		Timestamp:     time.Now(),
	}
}

func NewAllocationDeletedMessage(budgetID, transactionID, allocationID int64) *LedgerEventMessage {
	return &LedgerEventMessage{
		Kind:          EventAllocationDeleted,
		BudgetID:      budgetID,
		TransactionID: transactionID,
		AllocationID:  allocationID,
		Timestamp:     time.Now(),
	}
}

func NewBudgetClonedMessage(sourceBudgetID, cloneBudgetID int64) *LedgerEventMessage {
	return &LedgerEventMessage{
		Kind:           EventBudgetCloned,
		BudgetID:       cloneBudgetID,
		SourceBudgetID: sourceBudgetID,
		Timestamp:      time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *LedgerEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// LedgerEventMessageFromJSON creates a message from JSON bytes
func LedgerEventMessageFromJSON(data []byte) (*LedgerEventMessage, error) {
	var msg LedgerEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	switch msg.Kind {
	case EventAllocationCreated, EventAllocationDeleted, EventBudgetCloned:
	default:
		return nil, fmt.Errorf("unknown event kind %q", msg.Kind)
	}
	return &msg, nil
}
