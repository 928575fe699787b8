// Package services orchestrates ledger and report operations across the
// persistence layer and AMQP.
package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"bilancio/internal/amqp"
	"bilancio/internal/core"
	"bilancio/internal/ledger"
)

// EventPublisher emits ledger event notifications. *amqp.Client satisfies
// it; a nil publisher disables events.
type EventPublisher interface {
	PublishLedgerEvent(ctx context.Context, msg *amqp.LedgerEventMessage) error
}

// ReportInvalidator drops cached report snapshots. *ReportService satisfies
// it; nil disables local invalidation.
type ReportInvalidator interface {
	Invalidate(budgetID int64)
}

// LedgerService wraps the allocation ledger and the budget cloner. After
// every committed mutation it drops the touched budget's cached report, so
// the next read in this process rebuilds from storage, and publishes an
// event. Publishing is best effort: the database write already succeeded,
// so a publish failure is logged and swallowed.
type LedgerService struct {
	store     ledger.Store
	ledger    *ledger.Ledger
	cloner    *ledger.Cloner
	publisher EventPublisher
	reports   ReportInvalidator
}

func NewLedgerService(store ledger.Store, publisher EventPublisher, reports ReportInvalidator) *LedgerService {
	return &LedgerService{
		store:     store,
		ledger:    ledger.NewLedger(store),
		cloner:    ledger.NewCloner(store),
		publisher: publisher,
		reports:   reports,
	}
}

func (s *LedgerService) Allocate(ctx context.Context, transactionID, budgetItemID int64, amount core.Money, note string) (core.Allocation, error) {
	allocation, err := s.ledger.CreateAllocation(ctx, transactionID, budgetItemID, amount, note)
	if err != nil {
		return core.Allocation{}, err
	}
	s.allocationCommitted(ctx, allocation)
	return allocation, nil
}

func (s *LedgerService) Release(ctx context.Context, allocationID int64) error {
	// Fetch before deleting so the event can carry the ids.
	allocation, err := s.store.Allocation(ctx, allocationID)
	if err != nil {
		return fmt.Errorf("fetch allocation %d: %w", allocationID, err)
	}
	if err := s.ledger.DeleteAllocation(ctx, allocationID); err != nil {
		return err
	}

	budgetID := s.budgetIDForItem(ctx, allocation.BudgetItemID)
	s.invalidate(budgetID)
	s.publish(ctx, amqp.NewAllocationDeletedMessage(budgetID, allocation.TransactionID, allocation.ID))
	return nil
}

func (s *LedgerService) AllocateOneToMany(ctx context.Context, transactionID int64, splits []ledger.Split) ([]core.Allocation, error) {
	allocations, err := s.ledger.AllocateOneToMany(ctx, transactionID, splits)
	if err != nil {
		return nil, err
	}
	for _, a := range allocations {
		s.allocationCommitted(ctx, a)
	}
	return allocations, nil
}

func (s *LedgerService) AllocateManyToOne(ctx context.Context, transactionIDs []int64, budgetItemID int64, note string) ([]core.Allocation, error) {
	allocations, err := s.ledger.AllocateManyToOne(ctx, transactionIDs, budgetItemID, note)
	if err != nil {
		return nil, err
	}
	for _, a := range allocations {
		s.allocationCommitted(ctx, a)
	}
	return allocations, nil
}

func (s *LedgerService) CloneBudget(ctx context.Context, budgetID int64, newName string, opts ledger.CloneOptions) (core.Budget, error) {
	clone, err := s.cloner.Clone(ctx, budgetID, newName, opts)
	if err != nil {
		return core.Budget{}, err
	}
	// A clone with balance transfer also mutates the source budget.
	s.invalidate(budgetID)
	s.invalidate(clone.ID)
	s.publish(ctx, amqp.NewBudgetClonedMessage(budgetID, clone.ID))
	return clone, nil
}

func (s *LedgerService) Outstanding(ctx context.Context, transactionID int64) (core.Money, error) {
	tx, err := s.store.Transaction(ctx, transactionID)
	if err != nil {
		return core.Money{}, fmt.Errorf("fetch transaction %d: %w", transactionID, err)
	}
	return s.ledger.Outstanding(ctx, tx)
}

func (s *LedgerService) CanDeleteTransaction(ctx context.Context, transactionID int64) (bool, error) {
	return s.ledger.CanDeleteTransaction(ctx, transactionID)
}

func (s *LedgerService) CanDeleteBudgetItem(ctx context.Context, budgetItemID int64) (bool, error) {
	return s.ledger.CanDeleteBudgetItem(ctx, budgetItemID)
}

func (s *LedgerService) allocationCommitted(ctx context.Context, a core.Allocation) {
	budgetID := s.budgetIDForItem(ctx, a.BudgetItemID)
	s.invalidate(budgetID)
	s.publish(ctx, amqp.NewAllocationCreatedMessage(budgetID, a.TransactionID, a.ID, a.BudgetItemID))
}

func (s *LedgerService) invalidate(budgetID int64) {
	if s.reports == nil || budgetID == 0 {
		return
	}
	s.reports.Invalidate(budgetID)
}

func (s *LedgerService) budgetIDForItem(ctx context.Context, budgetItemID int64) int64 {
	item, err := s.store.BudgetItem(ctx, budgetItemID)
	if err != nil {
		slog.WarnContext(ctx, "Failed to resolve budget for event", "budget_item_id", budgetItemID, "error", err)
		return 0
	}
	return item.BudgetID
}

func (s *LedgerService) publish(ctx context.Context, msg *amqp.LedgerEventMessage) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishLedgerEvent(ctx, msg); err != nil {
		slog.ErrorContext(ctx, "Failed to publish ledger event",
			"kind", msg.Kind, "budget_id", msg.BudgetID, "error", err)
	}
}

// Close closes whichever collaborators support closing.
func (s *LedgerService) Close() error {
	var errs []error

	if closer, ok := s.store.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}
	if s.publisher != nil {
		if closer, ok := s.publisher.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("amqp: %w", err))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close ledger service: %v", errs)
	}
	return nil
}
