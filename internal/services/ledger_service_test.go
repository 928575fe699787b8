package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"bilancio/internal/amqp"
	"bilancio/internal/cache"
	"bilancio/internal/core"
	"bilancio/internal/ledger"
	"bilancio/internal/report"
)

type memStore struct {
	budgets      map[int64]core.Budget
	budgetItems  map[int64]core.BudgetItem
	transactions map[int64]core.Transaction
	allocations  map[int64]core.Allocation
	nextID       int64
}

func newMemStore() *memStore {
	return &memStore{
		budgets:      make(map[int64]core.Budget),
		budgetItems:  make(map[int64]core.BudgetItem),
		transactions: make(map[int64]core.Transaction),
		allocations:  make(map[int64]core.Allocation),
	}
}

func (s *memStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *memStore) Budget(_ context.Context, id int64) (core.Budget, error) {
	b, ok := s.budgets[id]
	if !ok {
		return core.Budget{}, fmt.Errorf("budget %d not found", id)
	}
	return b, nil
}

func (s *memStore) BudgetItems(_ context.Context, budgetID int64) ([]core.BudgetItem, error) {
	var out []core.BudgetItem
	for _, bi := range s.budgetItems {
		if bi.BudgetID == budgetID {
			out = append(out, bi)
		}
	}
	return out, nil
}

func (s *memStore) BudgetItem(_ context.Context, id int64) (core.BudgetItem, error) {
	bi, ok := s.budgetItems[id]
	if !ok {
		return core.BudgetItem{}, fmt.Errorf("budget item %d not found", id)
	}
	return bi, nil
}

func (s *memStore) Transaction(_ context.Context, id int64) (core.Transaction, error) {
	tx, ok := s.transactions[id]
	if !ok {
		return core.Transaction{}, fmt.Errorf("transaction %d not found", id)
	}
	return tx, nil
}

func (s *memStore) Allocation(_ context.Context, id int64) (core.Allocation, error) {
	a, ok := s.allocations[id]
	if !ok {
		return core.Allocation{}, fmt.Errorf("allocation %d not found", id)
	}
	return a, nil
}

func (s *memStore) AllocationsForTransaction(_ context.Context, transactionID int64) ([]core.Allocation, error) {
	var out []core.Allocation
	for _, a := range s.allocations {
		if a.TransactionID == transactionID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *memStore) AllocationsForBudgetItem(_ context.Context, budgetItemID int64) ([]core.Allocation, error) {
	var out []core.Allocation
	for _, a := range s.allocations {
		if a.BudgetItemID == budgetItemID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *memStore) AccountBalances(_ context.Context, budgetID int64) (map[int64]core.Money, error) {
	balances := make(map[int64]core.Money)
	for _, a := range s.allocations {
		bi, ok := s.budgetItems[a.BudgetItemID]
		if !ok || bi.BudgetID != budgetID {
			continue
		}
		tx := s.transactions[a.TransactionID]
		balances[tx.AccountID] = balances[tx.AccountID].Add(a.Amount)
	}
	return balances, nil
}

func (s *memStore) InsertBudget(_ context.Context, b *core.Budget) error {
	b.ID = s.id()
	s.budgets[b.ID] = *b
	return nil
}

func (s *memStore) InsertBudgetItem(_ context.Context, bi *core.BudgetItem) error {
	bi.ID = s.id()
	s.budgetItems[bi.ID] = *bi
	return nil
}

func (s *memStore) InsertTransaction(_ context.Context, tx *core.Transaction) error {
	tx.ID = s.id()
	s.transactions[tx.ID] = *tx
	return nil
}

func (s *memStore) InsertAllocation(_ context.Context, a *core.Allocation) error {
	a.ID = s.id()
	s.allocations[a.ID] = *a
	return nil
}

func (s *memStore) DeleteAllocation(_ context.Context, id int64) error {
	if _, ok := s.allocations[id]; !ok {
		return fmt.Errorf("allocation %d not found", id)
	}
	delete(s.allocations, id)
	return nil
}

func (s *memStore) SetTransactionAllocated(_ context.Context, transactionID int64, allocated bool) error {
	tx, ok := s.transactions[transactionID]
	if !ok {
		return fmt.Errorf("transaction %d not found", transactionID)
	}
	tx.Allocated = allocated
	s.transactions[transactionID] = tx
	return nil
}

func (s *memStore) RunAtomic(_ context.Context, fn func(ledger.Store) error) error {
	return fn(s)
}

// Report read surface, derived from the same maps so ledger mutations are
// visible to report builds.

func (s *memStore) ListBudgets(_ context.Context) ([]core.Budget, error) {
	var out []core.Budget
	for _, b := range s.budgets {
		out = append(out, b)
	}
	return out, nil
}

func (s *memStore) BudgetItemViews(_ context.Context, budgetID int64) ([]report.ItemView, error) {
	var out []report.ItemView
	for _, bi := range s.budgetItems {
		if bi.BudgetID != budgetID {
			continue
		}
		var actual core.Money
		for _, a := range s.allocations {
			if a.BudgetItemID == bi.ID {
				actual = actual.Add(a.Amount)
			}
		}
		out = append(out, report.ItemView{
			BudgetItemID: bi.ID,
			CategoryID:   1,
			Planned:      bi.Planned,
			Actual:       actual,
		})
	}
	return out, nil
}

func (s *memStore) CategoriesByKind(_ context.Context, kind core.BudgetKind) ([]core.Category, error) {
	return []core.Category{{ID: 1, Name: "General", Kind: kind}}, nil
}

func (s *memStore) TagSetsForBudget(_ context.Context, _ int64) ([][]core.Tag, error) {
	return nil, nil
}

func (s *memStore) TagUsage(_ context.Context) (map[int64]int, error) {
	return map[int64]int{}, nil
}

type recordingPublisher struct {
	messages []*amqp.LedgerEventMessage
	err      error
}

func (p *recordingPublisher) PublishLedgerEvent(_ context.Context, msg *amqp.LedgerEventMessage) error {
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, msg)
	return nil
}

func seedService(t *testing.T) (*memStore, core.BudgetItem, core.Transaction) {
	t.Helper()
	ctx := context.Background()
	store := newMemStore()

	budget := core.Budget{Name: "August", Kind: core.Monthly}
	if err := store.InsertBudget(ctx, &budget); err != nil {
		t.Fatalf("InsertBudget: %v", err)
	}
	item := core.BudgetItem{BudgetID: budget.ID, ItemID: 1, Planned: core.Money{Cents: -10000}}
	if err := store.InsertBudgetItem(ctx, &item); err != nil {
		t.Fatalf("InsertBudgetItem: %v", err)
	}
	tx := core.Transaction{
		AccountID:   1,
		PostedOn:    core.NewDate(2025, 8, 10),
		Amount:      core.Money{Cents: -10000},
		Description: "STORE",
	}
	if err := store.InsertTransaction(ctx, &tx); err != nil {
		t.Fatalf("InsertTransaction: %v", err)
	}
	return store, item, tx
}

func TestAllocatePublishesEvent(t *testing.T) {
	ctx := context.Background()
	store, item, tx := seedService(t)
	publisher := &recordingPublisher{}
	service := NewLedgerService(store, publisher, nil)

	allocation, err := service.Allocate(ctx, tx.ID, item.ID, core.Money{Cents: -10000}, "")
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if len(publisher.messages) != 1 {
		t.Fatalf("published %d messages, want 1", len(publisher.messages))
	}
	msg := publisher.messages[0]
	if msg.Kind != amqp.EventAllocationCreated {
		t.Errorf("kind = %q, want %q", msg.Kind, amqp.EventAllocationCreated)
	}
	if msg.AllocationID != allocation.ID || msg.BudgetID != item.BudgetID {
		t.Errorf("message ids = %+v, want allocation %d in budget %d", msg, allocation.ID, item.BudgetID)
	}
}

func TestAllocateFailureDoesNotPublish(t *testing.T) {
	ctx := context.Background()
	store, item, tx := seedService(t)
	publisher := &recordingPublisher{}
	service := NewLedgerService(store, publisher, nil)

	// Positive amount against a negative outstanding.
	if _, err := service.Allocate(ctx, tx.ID, item.ID, core.Money{Cents: 5000}, ""); err == nil {
		t.Fatal("expected sign mismatch error")
	}
	if len(publisher.messages) != 0 {
		t.Errorf("published %d messages after failed allocate", len(publisher.messages))
	}
}

func TestReleasePublishesEvent(t *testing.T) {
	ctx := context.Background()
	store, item, tx := seedService(t)
	publisher := &recordingPublisher{}
	service := NewLedgerService(store, publisher, nil)

	allocation, err := service.Allocate(ctx, tx.ID, item.ID, core.Money{Cents: -10000}, "")
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := service.Release(ctx, allocation.ID); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if len(publisher.messages) != 2 {
		t.Fatalf("published %d messages, want 2", len(publisher.messages))
	}
	if publisher.messages[1].Kind != amqp.EventAllocationDeleted {
		t.Errorf("second message kind = %q, want %q", publisher.messages[1].Kind, amqp.EventAllocationDeleted)
	}
}

func TestPublishFailureDoesNotFailOperation(t *testing.T) {
	ctx := context.Background()
	store, item, tx := seedService(t)
	publisher := &recordingPublisher{err: fmt.Errorf("broker down")}
	service := NewLedgerService(store, publisher, nil)

	if _, err := service.Allocate(ctx, tx.ID, item.ID, core.Money{Cents: -10000}, ""); err != nil {
		t.Fatalf("Allocate should survive publish failure: %v", err)
	}
	got, err := store.Transaction(ctx, tx.ID)
	if err != nil {
		t.Fatalf("Transaction: %v", err)
	}
	if !got.Allocated {
		t.Error("transaction should be marked allocated despite publish failure")
	}
}

func TestNilPublisherTolerated(t *testing.T) {
	ctx := context.Background()
	store, item, tx := seedService(t)
	service := NewLedgerService(store, nil, nil)

	if _, err := service.Allocate(ctx, tx.ID, item.ID, core.Money{Cents: -10000}, ""); err != nil {
		t.Fatalf("Allocate with nil publisher: %v", err)
	}
}

func TestCloneBudgetPublishesEvent(t *testing.T) {
	ctx := context.Background()
	store, _, _ := seedService(t)
	publisher := &recordingPublisher{}
	service := NewLedgerService(store, publisher, nil)

	clone, err := service.CloneBudget(ctx, 1, "September", ledger.CloneOptions{})
	if err != nil {
		t.Fatalf("CloneBudget: %v", err)
	}
	if len(publisher.messages) != 1 {
		t.Fatalf("published %d messages, want 1", len(publisher.messages))
	}
	msg := publisher.messages[0]
	if msg.Kind != amqp.EventBudgetCloned {
		t.Errorf("kind = %q, want %q", msg.Kind, amqp.EventBudgetCloned)
	}
	if msg.BudgetID != clone.ID || msg.SourceBudgetID != 1 {
		t.Errorf("message = %+v, want clone %d from source 1", msg, clone.ID)
	}
}

type recordingInvalidator struct {
	budgetIDs []int64
}

func (i *recordingInvalidator) Invalidate(budgetID int64) {
	i.budgetIDs = append(i.budgetIDs, budgetID)
}

func TestMutationsInvalidateReport(t *testing.T) {
	ctx := context.Background()
	store, item, tx := seedService(t)
	invalidator := &recordingInvalidator{}
	service := NewLedgerService(store, nil, invalidator)

	allocation, err := service.Allocate(ctx, tx.ID, item.ID, core.Money{Cents: -10000}, "")
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if got := invalidator.budgetIDs; len(got) != 1 || got[0] != item.BudgetID {
		t.Fatalf("invalidated %v after allocate, want [%d]", got, item.BudgetID)
	}

	if err := service.Release(ctx, allocation.ID); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if got := invalidator.budgetIDs; len(got) != 2 || got[1] != item.BudgetID {
		t.Fatalf("invalidated %v after release, want [%d %d]", got, item.BudgetID, item.BudgetID)
	}
}

func TestCloneInvalidatesBothBudgets(t *testing.T) {
	ctx := context.Background()
	store, _, _ := seedService(t)
	invalidator := &recordingInvalidator{}
	service := NewLedgerService(store, nil, invalidator)

	clone, err := service.CloneBudget(ctx, 1, "September", ledger.CloneOptions{})
	if err != nil {
		t.Fatalf("CloneBudget: %v", err)
	}
	if got := invalidator.budgetIDs; len(got) != 2 || got[0] != 1 || got[1] != clone.ID {
		t.Fatalf("invalidated %v, want [1 %d]", got, clone.ID)
	}
}

func TestAllocateRefreshesServedReport(t *testing.T) {
	ctx := context.Background()
	store, item, tx := seedService(t)

	// The same cache instance sits behind both services, as in the server
	// process.
	reportCache := cache.NewLRUCache[BudgetReport](4, time.Minute)
	reportService := NewReportService(store, reportCache)
	ledgerService := NewLedgerService(store, nil, reportService)

	before, err := reportService.BudgetReport(ctx, item.BudgetID)
	if err != nil {
		t.Fatalf("BudgetReport: %v", err)
	}
	if !before.Balance.IsZero() {
		t.Fatalf("balance before allocation: got %v, want zero", before.Balance)
	}

	if _, err := ledgerService.Allocate(ctx, tx.ID, item.ID, core.Money{Cents: -10000}, ""); err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	after, err := reportService.BudgetReport(ctx, item.BudgetID)
	if err != nil {
		t.Fatalf("BudgetReport: %v", err)
	}
	if after.Balance != (core.Money{Cents: -10000}) {
		t.Fatalf("balance served after allocation: got %v, want -100.00", after.Balance)
	}
}

func TestCloseWithNilCollaborators(t *testing.T) {
	service := NewLedgerService(newMemStore(), nil, nil)
	if err := service.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
