package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"bilancio/internal/core"
	"bilancio/internal/ledger"
)

func newTestRepository(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "bilancio.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func seedBudget(t *testing.T, repo *SQLiteRepository) (core.Budget, core.BudgetItem, core.Transaction) {
	t.Helper()
	ctx := context.Background()

	account := core.Account{Name: "checking", Bank: "test bank"}
	if err := repo.InsertAccount(ctx, &account); err != nil {
		t.Fatalf("InsertAccount: %v", err)
	}
	category := core.Category{Name: "Food", Kind: core.Monthly}
	if err := repo.InsertCategory(ctx, &category); err != nil {
		t.Fatalf("InsertCategory: %v", err)
	}
	item := core.Item{Name: "Groceries", Kind: core.Monthly, CategoryID: category.ID}
	if err := repo.InsertItem(ctx, &item); err != nil {
		t.Fatalf("InsertItem: %v", err)
	}
	budget := core.Budget{Name: "August", Kind: core.Monthly}
	if err := repo.InsertBudget(ctx, &budget); err != nil {
		t.Fatalf("InsertBudget: %v", err)
	}
	budgetItem := core.BudgetItem{BudgetID: budget.ID, ItemID: item.ID, Planned: core.Money{Cents: -50000}}
	if err := repo.InsertBudgetItem(ctx, &budgetItem); err != nil {
		t.Fatalf("InsertBudgetItem: %v", err)
	}
	tx := core.Transaction{
		AccountID:   account.ID,
		PostedOn:    core.NewDate(2025, 8, 12),
		Amount:      core.Money{Cents: -12345},
		Balance:     core.Money{Cents: 100000},
		Description: "SUPERMARKET",
		ContentHash: core.ContentHash(core.NewDate(2025, 8, 12), "SUPERMARKET", core.Money{Cents: -12345}),
	}
	if err := repo.InsertTransaction(ctx, &tx); err != nil {
		t.Fatalf("InsertTransaction: %v", err)
	}
	return budget, budgetItem, tx
}

func TestTransactionRoundTrip(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	_, _, tx := seedBudget(t, repo)

	got, err := repo.Transaction(ctx, tx.ID)
	if err != nil {
		t.Fatalf("Transaction: %v", err)
	}
	if got.Amount.Cents != -12345 {
		t.Errorf("amount = %d, want -12345", got.Amount.Cents)
	}
	if !got.PostedOn.Equal(core.NewDate(2025, 8, 12).Time) {
		t.Errorf("posted on = %v, want 2025-08-12", got.PostedOn)
	}
	if !got.TransactedOn.IsEmpty() {
		t.Errorf("transacted on should stay empty, got %v", got.TransactedOn)
	}
	if got.Allocated {
		t.Error("new transaction should not be allocated")
	}

	exists, err := repo.HasTransactionWithHash(ctx, tx.ContentHash)
	if err != nil {
		t.Fatalf("HasTransactionWithHash: %v", err)
	}
	if !exists {
		t.Error("hash of inserted transaction should be found")
	}
}

func TestMissingRowsReportNotFound(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	if _, err := repo.Budget(ctx, 999); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Budget(999): %v, want ErrNotFound", err)
	}
	if _, err := repo.BudgetItem(ctx, 999); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("BudgetItem(999): %v, want ErrNotFound", err)
	}
	if _, err := repo.Transaction(ctx, 999); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Transaction(999): %v, want ErrNotFound", err)
	}
	if _, err := repo.Allocation(ctx, 999); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Allocation(999): %v, want ErrNotFound", err)
	}
	if err := repo.DeleteAllocation(ctx, 999); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("DeleteAllocation(999): %v, want ErrNotFound", err)
	}
}

func TestRunAtomicRollsBack(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	_, budgetItem, tx := seedBudget(t, repo)

	boom := errors.New("boom")
	err := repo.RunAtomic(ctx, func(s ledger.Store) error {
		a := core.Allocation{TransactionID: tx.ID, BudgetItemID: budgetItem.ID, Amount: core.Money{Cents: -12345}}
		if err := s.InsertAllocation(ctx, &a); err != nil {
			return err
		}
		if err := s.SetTransactionAllocated(ctx, tx.ID, true); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("RunAtomic error = %v, want boom", err)
	}

	allocations, err := repo.AllocationsForTransaction(ctx, tx.ID)
	if err != nil {
		t.Fatalf("AllocationsForTransaction: %v", err)
	}
	if len(allocations) != 0 {
		t.Errorf("rollback left %d allocations", len(allocations))
	}
	got, err := repo.Transaction(ctx, tx.ID)
	if err != nil {
		t.Fatalf("Transaction: %v", err)
	}
	if got.Allocated {
		t.Error("rollback left allocated flag set")
	}
}

func TestRunAtomicCommits(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	budget, budgetItem, tx := seedBudget(t, repo)

	err := repo.RunAtomic(ctx, func(s ledger.Store) error {
		a := core.Allocation{TransactionID: tx.ID, BudgetItemID: budgetItem.ID, Amount: core.Money{Cents: -12345}}
		if err := s.InsertAllocation(ctx, &a); err != nil {
			return err
		}
		return s.SetTransactionAllocated(ctx, tx.ID, true)
	})
	if err != nil {
		t.Fatalf("RunAtomic: %v", err)
	}

	balances, err := repo.AccountBalances(ctx, budget.ID)
	if err != nil {
		t.Fatalf("AccountBalances: %v", err)
	}
	if len(balances) != 1 {
		t.Fatalf("balances = %v, want one account", balances)
	}
	if balances[tx.AccountID].Cents != -12345 {
		t.Errorf("account balance = %d, want -12345", balances[tx.AccountID].Cents)
	}
}

func TestBudgetItemViews(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	budget, budgetItem, tx := seedBudget(t, repo)

	a := core.Allocation{TransactionID: tx.ID, BudgetItemID: budgetItem.ID, Amount: core.Money{Cents: -4000}}
	if err := repo.InsertAllocation(ctx, &a); err != nil {
		t.Fatalf("InsertAllocation: %v", err)
	}

	views, err := repo.BudgetItemViews(ctx, budget.ID)
	if err != nil {
		t.Fatalf("BudgetItemViews: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("views = %v, want one row", views)
	}
	if views[0].Planned.Cents != -50000 {
		t.Errorf("planned = %d, want -50000", views[0].Planned.Cents)
	}
	if views[0].Actual.Cents != -4000 {
		t.Errorf("actual = %d, want -4000", views[0].Actual.Cents)
	}
}

func TestEnsureTagNormalizesAndReuses(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	first, err := repo.EnsureTag(ctx, " Food ")
	if err != nil {
		t.Fatalf("EnsureTag: %v", err)
	}
	if first.Name != "food" {
		t.Errorf("tag name = %q, want %q", first.Name, "food")
	}
	second, err := repo.EnsureTag(ctx, "FOOD")
	if err != nil {
		t.Fatalf("EnsureTag: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("EnsureTag created a duplicate: %d vs %d", second.ID, first.ID)
	}
}

func TestTagSetsAndUsage(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	budget, budgetItem, _ := seedBudget(t, repo)

	food, err := repo.EnsureTag(ctx, "food")
	if err != nil {
		t.Fatalf("EnsureTag: %v", err)
	}
	essential, err := repo.EnsureTag(ctx, "essential")
	if err != nil {
		t.Fatalf("EnsureTag: %v", err)
	}
	if err := repo.TagItem(ctx, budgetItem.ItemID, food.ID); err != nil {
		t.Fatalf("TagItem: %v", err)
	}
	if err := repo.TagItem(ctx, budgetItem.ItemID, essential.ID); err != nil {
		t.Fatalf("TagItem: %v", err)
	}

	sets, err := repo.TagSetsForBudget(ctx, budget.ID)
	if err != nil {
		t.Fatalf("TagSetsForBudget: %v", err)
	}
	if len(sets) != 1 || len(sets[0]) != 2 {
		t.Fatalf("sets = %v, want one set of two tags", sets)
	}

	usage, err := repo.TagUsage(ctx)
	if err != nil {
		t.Fatalf("TagUsage: %v", err)
	}
	if usage[food.ID] != 1 || usage[essential.ID] != 1 {
		t.Errorf("usage = %v, want 1 per tag", usage)
	}
}

func TestCategoryForestQueries(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	root := core.Category{Name: "Living", Kind: core.Monthly}
	if err := repo.InsertCategory(ctx, &root); err != nil {
		t.Fatalf("InsertCategory: %v", err)
	}
	child := core.Category{Name: "Food", Kind: core.Monthly, ParentID: root.ID}
	if err := repo.InsertCategory(ctx, &child); err != nil {
		t.Fatalf("InsertCategory: %v", err)
	}

	roots, err := repo.CategoryRoots(ctx, core.Monthly)
	if err != nil {
		t.Fatalf("CategoryRoots: %v", err)
	}
	if len(roots) != 1 || roots[0].ID != root.ID {
		t.Fatalf("roots = %v, want only %d", roots, root.ID)
	}
	children, err := repo.CategoryChildren(ctx, root.ID)
	if err != nil {
		t.Fatalf("CategoryChildren: %v", err)
	}
	if len(children) != 1 || children[0].ParentID != root.ID {
		t.Fatalf("children = %v, want only child of %d", children, root.ID)
	}
	if len(roots) > 0 && roots[0].ParentID != 0 {
		t.Errorf("root parent id = %d, want 0", roots[0].ParentID)
	}
}
