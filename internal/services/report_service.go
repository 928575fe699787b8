package services

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"bilancio/internal/cache"
	"bilancio/internal/core"
	"bilancio/internal/report"
)

// ReportStore is the read surface the report service needs from storage.
type ReportStore interface {
	Budget(ctx context.Context, id int64) (core.Budget, error)
	ListBudgets(ctx context.Context) ([]core.Budget, error)
	BudgetItemViews(ctx context.Context, budgetID int64) ([]report.ItemView, error)
	CategoriesByKind(ctx context.Context, kind core.BudgetKind) ([]core.Category, error)
	TagSetsForBudget(ctx context.Context, budgetID int64) ([][]core.Tag, error)
	TagUsage(ctx context.Context) (map[int64]int, error)
}

// CategoryTotals is one category row of a budget report, ordered bottom-up
// by level.
type CategoryTotals struct {
	CategoryID int64      `json:"category_id"`
	Name       string     `json:"name"`
	ParentID   int64      `json:"parent_id,omitempty"`
	Level      int        `json:"level"`
	Planned    core.Money `json:"planned"`
	Actual     core.Money `json:"actual"`
}

// BudgetReport is the full aggregated view of one budget: category totals
// across the forest, the budget balance and the tag partition profiles.
type BudgetReport struct {
	BudgetID    int64            `json:"budget_id"`
	BudgetName  string           `json:"budget_name"`
	Kind        core.BudgetKind  `json:"kind"`
	Balance     core.Money       `json:"balance"`
	Categories  []CategoryTotals `json:"categories"`
	Profiles    []report.Profile `json:"profiles"`
	GeneratedAt time.Time        `json:"generated_at"`
}

// ReportService builds budget reports and caches them per budget id. The
// cache is invalidated by the local LedgerService after a mutation commits
// and by the worker when a ledger event lands.
type ReportService struct {
	store ReportStore
	cache cache.Cache[BudgetReport]
	now   func() time.Time
}

func NewReportService(store ReportStore, reportCache cache.Cache[BudgetReport]) *ReportService {
	return &ReportService{
		store: store,
		cache: reportCache,
		now:   time.Now,
	}
}

// BudgetReport returns the report for the budget, from cache when present.
func (s *ReportService) BudgetReport(ctx context.Context, budgetID int64) (BudgetReport, error) {
	key := cacheKey(budgetID)
	if s.cache != nil {
		if cached, ok := s.cache.Get(key); ok {
			return cached, nil
		}
	}

	built, err := s.build(ctx, budgetID)
	if err != nil {
		return BudgetReport{}, err
	}
	if s.cache != nil {
		s.cache.Set(key, built)
	}
	return built, nil
}

// Invalidate drops the cached report of one budget.
func (s *ReportService) Invalidate(budgetID int64) {
	if s.cache != nil {
		s.cache.Delete(cacheKey(budgetID))
	}
}

// RebuildAll rebuilds and re-caches the report of every budget. Used by the
// worker at startup and on the periodic refresh tick.
func (s *ReportService) RebuildAll(ctx context.Context) error {
	budgets, err := s.store.ListBudgets(ctx)
	if err != nil {
		return fmt.Errorf("list budgets: %w", err)
	}
	for _, b := range budgets {
		if b.Hidden {
			continue
		}
		built, err := s.build(ctx, b.ID)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to rebuild report", "budget_id", b.ID, "error", err)
			continue
		}
		if s.cache != nil {
			s.cache.Set(cacheKey(b.ID), built)
		}
	}
	return nil
}

func (s *ReportService) build(ctx context.Context, budgetID int64) (BudgetReport, error) {
	budget, err := s.store.Budget(ctx, budgetID)
	if err != nil {
		return BudgetReport{}, fmt.Errorf("fetch budget %d: %w", budgetID, err)
	}
	categories, err := s.store.CategoriesByKind(ctx, budget.Kind)
	if err != nil {
		return BudgetReport{}, fmt.Errorf("fetch categories: %w", err)
	}
	items, err := s.store.BudgetItemViews(ctx, budgetID)
	if err != nil {
		return BudgetReport{}, fmt.Errorf("fetch item views: %w", err)
	}
	tagSets, err := s.store.TagSetsForBudget(ctx, budgetID)
	if err != nil {
		return BudgetReport{}, fmt.Errorf("fetch tag sets: %w", err)
	}
	usage, err := s.store.TagUsage(ctx)
	if err != nil {
		return BudgetReport{}, fmt.Errorf("fetch tag usage: %w", err)
	}

	aggregator := report.NewAggregator(categories, items)

	names := make(map[int64]core.Category, len(categories))
	for _, c := range categories {
		names[c.ID] = c
	}
	var rows []CategoryTotals
	for _, id := range aggregator.Categories() {
		totals, ok := aggregator.Totals(id)
		if !ok {
			continue
		}
		c := names[id]
		rows = append(rows, CategoryTotals{
			CategoryID: id,
			Name:       c.Name,
			ParentID:   c.ParentID,
			Level:      aggregator.Level(id),
			Planned:    totals.Planned,
			Actual:     totals.Actual,
		})
	}

	return BudgetReport{
		BudgetID:    budget.ID,
		BudgetName:  budget.Name,
		Kind:        budget.Kind,
		Balance:     aggregator.BudgetBalance(),
		Categories:  rows,
		Profiles:    report.Partition(tagSets, usage),
		GeneratedAt: s.now(),
	}, nil
}

func cacheKey(budgetID int64) string {
	return "report:" + strconv.FormatInt(budgetID, 10)
}
