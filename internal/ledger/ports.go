package ledger

import (
	"context"

	"bilancio/internal/core"
)

// Store is the persistence collaborator of the ledger. Implementations back
// it with a relational database; tests use an in-memory fake.
//
// RunAtomic executes fn against a store whose writes land all-or-nothing:
// if fn returns an error, nothing it wrote is visible afterwards. Reads
// inside fn observe the batch's own writes.
type Store interface {
	Budget(ctx context.Context, id int64) (core.Budget, error)
	BudgetItems(ctx context.Context, budgetID int64) ([]core.BudgetItem, error)
	BudgetItem(ctx context.Context, id int64) (core.BudgetItem, error)
	Transaction(ctx context.Context, id int64) (core.Transaction, error)
	Allocation(ctx context.Context, id int64) (core.Allocation, error)
	AllocationsForTransaction(ctx context.Context, transactionID int64) ([]core.Allocation, error)
	AllocationsForBudgetItem(ctx context.Context, budgetItemID int64) ([]core.Allocation, error)
	// AccountBalances returns, per account id, the sum of allocated amounts
	// under the budget. Accounts without allocations are absent.
	AccountBalances(ctx context.Context, budgetID int64) (map[int64]core.Money, error)

	InsertBudget(ctx context.Context, b *core.Budget) error
	InsertBudgetItem(ctx context.Context, bi *core.BudgetItem) error
	InsertTransaction(ctx context.Context, tx *core.Transaction) error
	InsertAllocation(ctx context.Context, a *core.Allocation) error
	DeleteAllocation(ctx context.Context, id int64) error
	SetTransactionAllocated(ctx context.Context, transactionID int64, allocated bool) error

	RunAtomic(ctx context.Context, fn func(Store) error) error
}
