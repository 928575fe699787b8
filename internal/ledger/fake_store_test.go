package ledger

import (
	"context"
	"errors"
	"fmt"

	"bilancio/internal/core"
)

var errInjected = errors.New("injected store failure")

// fakeStore is an in-memory Store. RunAtomic snapshots all tables and
// restores them when fn fails, mirroring the all-or-nothing contract of the
// real repository.
type fakeStore struct {
	budgets map[int64]core.Budget
	items   map[int64]core.BudgetItem
	txs     map[int64]core.Transaction
	allocs  map[int64]core.Allocation
	nextID  int64

	// failAfterInserts makes InsertAllocation fail once this many inserts
	// have succeeded; negative disables the injection.
	failAfterInserts int
	inserts          int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		budgets:          make(map[int64]core.Budget),
		items:            make(map[int64]core.BudgetItem),
		txs:              make(map[int64]core.Transaction),
		allocs:           make(map[int64]core.Allocation),
		failAfterInserts: -1,
	}
}

func (f *fakeStore) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeStore) addBudget(b core.Budget) core.Budget {
	b.ID = f.id()
	f.budgets[b.ID] = b
	return b
}

func (f *fakeStore) addItem(bi core.BudgetItem) core.BudgetItem {
	bi.ID = f.id()
	f.items[bi.ID] = bi
	return bi
}

func (f *fakeStore) addTx(tx core.Transaction) core.Transaction {
	tx.ID = f.id()
	f.txs[tx.ID] = tx
	return tx
}

func (f *fakeStore) Budget(_ context.Context, id int64) (core.Budget, error) {
	b, ok := f.budgets[id]
	if !ok {
		return core.Budget{}, fmt.Errorf("budget %d not found", id)
	}
	return b, nil
}

func (f *fakeStore) BudgetItems(_ context.Context, budgetID int64) ([]core.BudgetItem, error) {
	var out []core.BudgetItem
	for _, bi := range f.items {
		if bi.BudgetID == budgetID {
			out = append(out, bi)
		}
	}
	return out, nil
}

func (f *fakeStore) BudgetItem(_ context.Context, id int64) (core.BudgetItem, error) {
	bi, ok := f.items[id]
	if !ok {
		return core.BudgetItem{}, fmt.Errorf("budget item %d not found", id)
	}
	return bi, nil
}

func (f *fakeStore) Transaction(_ context.Context, id int64) (core.Transaction, error) {
	tx, ok := f.txs[id]
	if !ok {
		return core.Transaction{}, fmt.Errorf("transaction %d not found", id)
	}
	return tx, nil
}

func (f *fakeStore) Allocation(_ context.Context, id int64) (core.Allocation, error) {
	a, ok := f.allocs[id]
	if !ok {
		return core.Allocation{}, fmt.Errorf("allocation %d not found", id)
	}
	return a, nil
}

func (f *fakeStore) AllocationsForTransaction(_ context.Context, transactionID int64) ([]core.Allocation, error) {
	var out []core.Allocation
	for _, a := range f.allocs {
		if a.TransactionID == transactionID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeStore) AllocationsForBudgetItem(_ context.Context, budgetItemID int64) ([]core.Allocation, error) {
	var out []core.Allocation
	for _, a := range f.allocs {
		if a.BudgetItemID == budgetItemID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeStore) AccountBalances(_ context.Context, budgetID int64) (map[int64]core.Money, error) {
	balances := make(map[int64]core.Money)
	for _, a := range f.allocs {
		item, ok := f.items[a.BudgetItemID]
		if !ok || item.BudgetID != budgetID {
			continue
		}
		tx, ok := f.txs[a.TransactionID]
		if !ok {
			continue
		}
		balances[tx.AccountID] = balances[tx.AccountID].Add(a.Amount)
	}
	return balances, nil
}

func (f *fakeStore) InsertBudget(_ context.Context, b *core.Budget) error {
	b.ID = f.id()
	f.budgets[b.ID] = *b
	return nil
}

func (f *fakeStore) InsertBudgetItem(_ context.Context, bi *core.BudgetItem) error {
	bi.ID = f.id()
	f.items[bi.ID] = *bi
	return nil
}

func (f *fakeStore) InsertTransaction(_ context.Context, tx *core.Transaction) error {
	tx.ID = f.id()
	f.txs[tx.ID] = *tx
	return nil
}

func (f *fakeStore) InsertAllocation(_ context.Context, a *core.Allocation) error {
	if f.failAfterInserts >= 0 && f.inserts >= f.failAfterInserts {
		return errInjected
	}
	f.inserts++
	a.ID = f.id()
	f.allocs[a.ID] = *a
	return nil
}

func (f *fakeStore) DeleteAllocation(_ context.Context, id int64) error {
	if _, ok := f.allocs[id]; !ok {
		return fmt.Errorf("allocation %d not found", id)
	}
	delete(f.allocs, id)
	return nil
}

func (f *fakeStore) SetTransactionAllocated(_ context.Context, transactionID int64, allocated bool) error {
	tx, ok := f.txs[transactionID]
	if !ok {
		return fmt.Errorf("transaction %d not found", transactionID)
	}
	tx.Allocated = allocated
	f.txs[transactionID] = tx
	return nil
}

func (f *fakeStore) RunAtomic(_ context.Context, fn func(Store) error) error {
	budgets := copyMap(f.budgets)
	items := copyMap(f.items)
	txs := copyMap(f.txs)
	allocs := copyMap(f.allocs)
	nextID := f.nextID

	if err := fn(f); err != nil {
		f.budgets = budgets
		f.items = items
		f.txs = txs
		f.allocs = allocs
		f.nextID = nextID
		return err
	}
	return nil
}

func copyMap[V any](m map[int64]V) map[int64]V {
	out := make(map[int64]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
