// Package ledger implements the allocation ledger: the mutation entry points
// that link transactions to budget items under amount and sign invariants,
// and the budget cloner built on top of them.
//
// All mutations are expected to arrive on one serialized path; the ledger
// adds no locking of its own. Batch operations commit through the store's
// RunAtomic and are observed all-or-nothing.
package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"bilancio/internal/core"
)

// Split is one leg of a one-to-many allocation.
type Split struct {
	BudgetItemID int64
	Amount       core.Money
	Note         string
}

// Ledger creates and deletes allocations against a Store.
type Ledger struct {
	store Store
}

func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// Outstanding returns the transaction's amount minus the sum of its existing
// allocations.
func (l *Ledger) Outstanding(ctx context.Context, tx core.Transaction) (core.Money, error) {
	allocs, err := l.store.AllocationsForTransaction(ctx, tx.ID)
	if err != nil {
		return core.Money{}, fmt.Errorf("fetch allocations for transaction %d: %w", tx.ID, err)
	}
	return tx.Amount.Sub(sumAllocations(allocs)), nil
}

// CreateAllocation links amount of the transaction to the budget item. The
// amount must carry the sign of the transaction's outstanding balance and
// must not exceed it in magnitude; violations are rejected before any write.
// When the allocation sum reaches the transaction amount exactly, the
// transaction is flagged allocated in the same batch.
func (l *Ledger) CreateAllocation(ctx context.Context, transactionID, budgetItemID int64, amount core.Money, note string) (core.Allocation, error) {
	tx, err := l.store.Transaction(ctx, transactionID)
	if err != nil {
		return core.Allocation{}, fmt.Errorf("fetch transaction %d: %w", transactionID, err)
	}
	if _, err := l.store.BudgetItem(ctx, budgetItemID); err != nil {
		return core.Allocation{}, fmt.Errorf("fetch budget item %d: %w", budgetItemID, err)
	}
	outstanding, err := l.Outstanding(ctx, tx)
	if err != nil {
		return core.Allocation{}, err
	}
	if err := validateAgainstOutstanding(amount, outstanding); err != nil {
		return core.Allocation{}, fmt.Errorf("allocate %v of transaction %d (outstanding %v): %w",
			amount, transactionID, outstanding, err)
	}

	alloc := core.Allocation{
		TransactionID: transactionID,
		BudgetItemID:  budgetItemID,
		Amount:        amount,
		Note:          note,
	}
	err = l.store.RunAtomic(ctx, func(s Store) error {
		if err := s.InsertAllocation(ctx, &alloc); err != nil {
			return fmt.Errorf("insert allocation: %w", err)
		}
		if amount == outstanding {
			if err := s.SetTransactionAllocated(ctx, transactionID, true); err != nil {
				return fmt.Errorf("flag transaction %d allocated: %w", transactionID, err)
			}
		}
		return nil
	})
	if err != nil {
		return core.Allocation{}, err
	}

	slog.InfoContext(ctx, "Allocation created",
		"allocation_id", alloc.ID,
		"transaction_id", transactionID,
		"budget_item_id", budgetItemID,
		"amount_cents", amount.Cents,
		"fully_allocated", amount == outstanding)
	return alloc, nil
}

// DeleteAllocation removes the allocation and clears the owning
// transaction's allocated flag. The clear is unconditional: zero-amount
// allocations are never persisted, so removing any allocation makes the
// remaining sum differ from the transaction amount.
func (l *Ledger) DeleteAllocation(ctx context.Context, allocationID int64) error {
	alloc, err := l.store.Allocation(ctx, allocationID)
	if err != nil {
		return fmt.Errorf("fetch allocation %d: %w", allocationID, err)
	}

	err = l.store.RunAtomic(ctx, func(s Store) error {
		if err := s.DeleteAllocation(ctx, allocationID); err != nil {
			return fmt.Errorf("delete allocation: %w", err)
		}
		if err := s.SetTransactionAllocated(ctx, alloc.TransactionID, false); err != nil {
			return fmt.Errorf("clear allocated flag on transaction %d: %w", alloc.TransactionID, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "Allocation deleted",
		"allocation_id", allocationID,
		"transaction_id", alloc.TransactionID,
		"budget_item_id", alloc.BudgetItemID)
	return nil
}

// AllocateOneToMany splits one transaction across several budget items.
// Every split is validated against the running outstanding balance before
// any write; a single invalid split rejects the whole batch.
func (l *Ledger) AllocateOneToMany(ctx context.Context, transactionID int64, splits []Split) ([]core.Allocation, error) {
	if len(splits) == 0 {
		return nil, core.ErrEmptyBatch
	}
	tx, err := l.store.Transaction(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("fetch transaction %d: %w", transactionID, err)
	}
	outstanding, err := l.Outstanding(ctx, tx)
	if err != nil {
		return nil, err
	}

	running := outstanding
	for i, split := range splits {
		if _, err := l.store.BudgetItem(ctx, split.BudgetItemID); err != nil {
			return nil, fmt.Errorf("fetch budget item %d: %w", split.BudgetItemID, err)
		}
		if err := validateAgainstOutstanding(split.Amount, running); err != nil {
			return nil, fmt.Errorf("split %d (%v against running balance %v): %w",
				i, split.Amount, running, err)
		}
		running = running.Sub(split.Amount)
	}

	allocs := make([]core.Allocation, len(splits))
	err = l.store.RunAtomic(ctx, func(s Store) error {
		for i, split := range splits {
			allocs[i] = core.Allocation{
				TransactionID: transactionID,
				BudgetItemID:  split.BudgetItemID,
				Amount:        split.Amount,
				Note:          split.Note,
			}
			if err := s.InsertAllocation(ctx, &allocs[i]); err != nil {
				return fmt.Errorf("insert split %d: %w", i, err)
			}
		}
		if running.IsZero() {
			if err := s.SetTransactionAllocated(ctx, transactionID, true); err != nil {
				return fmt.Errorf("flag transaction %d allocated: %w", transactionID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "Transaction split across budget items",
		"transaction_id", transactionID,
		"splits", len(splits),
		"fully_allocated", running.IsZero())
	return allocs, nil
}

// AllocateManyToOne allocates each transaction's full amount to one budget
// item. All transaction amounts must share the same sign; the check runs
// before any write and a mismatch rejects the operation with zero side
// effects. A transaction that already carries allocations fails the
// outstanding-balance check and likewise rejects the batch.
func (l *Ledger) AllocateManyToOne(ctx context.Context, transactionIDs []int64, budgetItemID int64, note string) ([]core.Allocation, error) {
	if len(transactionIDs) == 0 {
		return nil, core.ErrEmptyBatch
	}
	if _, err := l.store.BudgetItem(ctx, budgetItemID); err != nil {
		return nil, fmt.Errorf("fetch budget item %d: %w", budgetItemID, err)
	}

	txs := make([]core.Transaction, len(transactionIDs))
	for i, id := range transactionIDs {
		tx, err := l.store.Transaction(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("fetch transaction %d: %w", id, err)
		}
		txs[i] = tx
	}

	sign := txs[0].Amount.Sign()
	for _, tx := range txs {
		if tx.Amount.Sign() != sign || sign == 0 {
			return nil, fmt.Errorf("transaction %d amount %v: %w", tx.ID, tx.Amount, core.ErrMixedSigns)
		}
	}
	for _, tx := range txs {
		outstanding, err := l.Outstanding(ctx, tx)
		if err != nil {
			return nil, err
		}
		if err := validateAgainstOutstanding(tx.Amount, outstanding); err != nil {
			return nil, fmt.Errorf("transaction %d (outstanding %v): %w", tx.ID, outstanding, err)
		}
	}

	allocs := make([]core.Allocation, len(txs))
	err := l.store.RunAtomic(ctx, func(s Store) error {
		for i, tx := range txs {
			allocs[i] = core.Allocation{
				TransactionID: tx.ID,
				BudgetItemID:  budgetItemID,
				Amount:        tx.Amount,
				Note:          note,
			}
			if err := s.InsertAllocation(ctx, &allocs[i]); err != nil {
				return fmt.Errorf("insert allocation for transaction %d: %w", tx.ID, err)
			}
			if err := s.SetTransactionAllocated(ctx, tx.ID, true); err != nil {
				return fmt.Errorf("flag transaction %d allocated: %w", tx.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "Transactions allocated to one budget item",
		"budget_item_id", budgetItemID,
		"transactions", len(txs))
	return allocs, nil
}

// CanDeleteTransaction reports whether no allocation references the
// transaction. Partial allocation already blocks deletion even though the
// allocated flag may be false.
func (l *Ledger) CanDeleteTransaction(ctx context.Context, transactionID int64) (bool, error) {
	allocs, err := l.store.AllocationsForTransaction(ctx, transactionID)
	if err != nil {
		return false, fmt.Errorf("fetch allocations for transaction %d: %w", transactionID, err)
	}
	return len(allocs) == 0, nil
}

// CanDeleteBudgetItem reports whether no allocation references the budget
// item.
func (l *Ledger) CanDeleteBudgetItem(ctx context.Context, budgetItemID int64) (bool, error) {
	allocs, err := l.store.AllocationsForBudgetItem(ctx, budgetItemID)
	if err != nil {
		return false, fmt.Errorf("fetch allocations for budget item %d: %w", budgetItemID, err)
	}
	return len(allocs) == 0, nil
}

func validateAgainstOutstanding(amount, outstanding core.Money) error {
	if amount.IsZero() {
		return core.ErrZeroAllocation
	}
	if amount.Sign() != outstanding.Sign() {
		return core.ErrSignMismatch
	}
	if amount.Abs().Cents > outstanding.Abs().Cents {
		return core.ErrOverAllocation
	}
	return nil
}

func sumAllocations(allocs []core.Allocation) core.Money {
	var sum core.Money
	for _, a := range allocs {
		sum = sum.Add(a.Amount)
	}
	return sum
}
