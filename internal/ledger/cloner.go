package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"bilancio/internal/core"
)

// Cloner copies a budget's line items into a new budget and, on request,
// moves the per-account balances over through synthetic balance-transfer
// transactions.
type Cloner struct {
	store Store
	now   func() time.Time
}

func NewCloner(store Store) *Cloner {
	return &Cloner{store: store, now: time.Now}
}

// CloneOptions controls a clone operation.
type CloneOptions struct {
	// CopyActualToPlanned seeds each copied item's planned amount from the
	// source item's current actual total instead of its planned value.
	CopyActualToPlanned bool
	// TransferBalance synthesizes, per account with a nonzero actual
	// balance, a closing transaction allocated against TargetItemID in the
	// source budget and an opening transaction allocated against its
	// counterpart in the clone.
	TransferBalance bool
	// TargetItemID must be a budget item of the source budget when
	// TransferBalance is set.
	TargetItemID int64
}

// Clone creates the new budget. All writes of one clone (budget row, copied
// items, synthetic transactions and allocations) land as a single atomic
// unit. The balance and actual-total reads run concurrently but complete
// before the first write.
func (c *Cloner) Clone(ctx context.Context, budgetID int64, newName string, opts CloneOptions) (core.Budget, error) {
	source, err := c.store.Budget(ctx, budgetID)
	if err != nil {
		return core.Budget{}, fmt.Errorf("fetch budget %d: %w", budgetID, err)
	}
	items, err := c.store.BudgetItems(ctx, budgetID)
	if err != nil {
		return core.Budget{}, fmt.Errorf("fetch budget items of %d: %w", budgetID, err)
	}

	if opts.TransferBalance {
		found := false
		for _, item := range items {
			if item.ID == opts.TargetItemID {
				found = true
				break
			}
		}
		if !found {
			return core.Budget{}, fmt.Errorf("budget %d, item %d: %w", budgetID, opts.TargetItemID, core.ErrNoTransferTarget)
		}
	}

	var balances map[int64]core.Money
	actuals := make([]core.Money, len(items))
	g, gctx := errgroup.WithContext(ctx)
	if opts.TransferBalance {
		g.Go(func() error {
			var err error
			balances, err = c.store.AccountBalances(gctx, budgetID)
			if err != nil {
				return fmt.Errorf("fetch account balances of budget %d: %w", budgetID, err)
			}
			return nil
		})
	}
	if opts.CopyActualToPlanned {
		for i := range items {
			g.Go(func() error {
				allocs, err := c.store.AllocationsForBudgetItem(gctx, items[i].ID)
				if err != nil {
					return fmt.Errorf("fetch allocations for budget item %d: %w", items[i].ID, err)
				}
				actuals[i] = sumAllocations(allocs)
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return core.Budget{}, err
	}

	clone := core.Budget{
		CopyBudgetID: source.ID,
		Name:         newName,
		Kind:         source.Kind,
	}
	if err := clone.Validate(); err != nil {
		return core.Budget{}, fmt.Errorf("clone of budget %d: %w", budgetID, err)
	}

	err = c.store.RunAtomic(ctx, func(s Store) error {
		if err := s.InsertBudget(ctx, &clone); err != nil {
			return fmt.Errorf("insert clone budget: %w", err)
		}

		itemMap := make(map[int64]int64, len(items)) // source item id -> clone item id
		for i, item := range items {
			planned := item.Planned
			if opts.CopyActualToPlanned {
				planned = actuals[i]
			}
			copied := core.BudgetItem{
				BudgetID: clone.ID,
				ItemID:   item.ItemID,
				Note:     item.Note,
				Planned:  planned,
			}
			if err := s.InsertBudgetItem(ctx, &copied); err != nil {
				return fmt.Errorf("copy budget item %d: %w", item.ID, err)
			}
			itemMap[item.ID] = copied.ID
		}

		if opts.TransferBalance {
			if err := c.transferBalances(ctx, s, source, clone, balances, opts.TargetItemID, itemMap[opts.TargetItemID]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return core.Budget{}, err
	}

	slog.InfoContext(ctx, "Budget cloned",
		"source_budget_id", source.ID,
		"clone_budget_id", clone.ID,
		"items", len(items),
		"transfer_balance", opts.TransferBalance)
	return clone, nil
}

// transferBalances writes, per account with a nonzero balance, a closing
// transaction of -balance fully allocated to the source target item (driving
// its own outstanding balance to zero) and an opening transaction of
// +balance allocated to the clone's counterpart.
func (c *Cloner) transferBalances(ctx context.Context, s Store, source, clone core.Budget, balances map[int64]core.Money, sourceItemID, cloneItemID int64) error {
	accountIDs := make([]int64, 0, len(balances))
	for id, balance := range balances {
		if !balance.IsZero() {
			accountIDs = append(accountIDs, id)
		}
	}
	sort.Slice(accountIDs, func(i, j int) bool { return accountIDs[i] < accountIDs[j] })

	postedOn := core.Date{Time: c.now()}
	for _, accountID := range accountIDs {
		balance := balances[accountID]

		closingDesc := fmt.Sprintf("Balance transfer to %s", clone.Name)
		closing := core.Transaction{
			AccountID:   accountID,
			PostedOn:    postedOn,
			Amount:      balance.Neg(),
			Description: closingDesc,
			ContentHash: core.TransferContentHash(postedOn, closingDesc, balance.Neg()),
			Allocated:   true,
			Manual:      true,
		}
		if err := s.InsertTransaction(ctx, &closing); err != nil {
			return fmt.Errorf("insert closing transaction for account %d: %w", accountID, err)
		}
		closingAlloc := core.Allocation{
			TransactionID: closing.ID,
			BudgetItemID:  sourceItemID,
			Amount:        closing.Amount,
			Note:          closingDesc,
		}
		if err := s.InsertAllocation(ctx, &closingAlloc); err != nil {
			return fmt.Errorf("insert closing allocation for account %d: %w", accountID, err)
		}

		openingDesc := fmt.Sprintf("Balance transfer from %s", source.Name)
		opening := core.Transaction{
			AccountID:   accountID,
			PostedOn:    postedOn,
			Amount:      balance,
			Description: openingDesc,
			ContentHash: core.TransferContentHash(postedOn, openingDesc, balance),
			Allocated:   true,
			Manual:      true,
		}
		if err := s.InsertTransaction(ctx, &opening); err != nil {
			return fmt.Errorf("insert opening transaction for account %d: %w", accountID, err)
		}
		openingAlloc := core.Allocation{
			TransactionID: opening.ID,
			BudgetItemID:  cloneItemID,
			Amount:        opening.Amount,
			Note:          openingDesc,
		}
		if err := s.InsertAllocation(ctx, &openingAlloc); err != nil {
			return fmt.Errorf("insert opening allocation for account %d: %w", accountID, err)
		}
	}
	return nil
}
