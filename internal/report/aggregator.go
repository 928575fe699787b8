package report

import (
	"slices"

	"bilancio/internal/core"
)

// ItemView is the slice of a BudgetItem the aggregator needs: its identity,
// its item's category and the current planned and actual amounts.
type ItemView struct {
	BudgetItemID int64
	CategoryID   int64
	Planned      core.Money
	Actual       core.Money
}

// Totals holds the aggregated planned and actual amounts for one category.
type Totals struct {
	Planned core.Money
	Actual  core.Money
}

// Aggregator maintains planned/actual totals over the category forest of one
// budget. Every category of the budget's kind gets a node; categories
// without items contribute zero until an update lands on them. Childless
// categories sit at level 0 and each parent sits above all of its children.
// After any update, every parent's totals equal the sum of its children's
// totals (plus its own items, normally none for non-leaf categories).
//
// The aggregator is not safe for concurrent use; all mutations are expected
// to arrive on one serialized path. State is scoped to the aggregator, not
// shared across reporting sessions.
type Aggregator struct {
	nodes  map[int64]*node
	levels [][]int64
	items  map[int64]ItemView
	byCat  map[int64][]int64
	roots  []int64
}

type node struct {
	id       int64
	parentID int64 // zero when the node is a root
	children []int64
	totals   Totals
}

// NewAggregator builds the aggregator for one budget. categories is the full
// category set of the budget's kind; items are the budget's item views.
// Items whose category is unknown contribute nothing.
func NewAggregator(categories []core.Category, items []ItemView) *Aggregator {
	byID := make(map[int64]core.Category, len(categories))
	for _, c := range categories {
		byID[c.ID] = c
	}

	a := &Aggregator{
		nodes: make(map[int64]*node),
		items: make(map[int64]ItemView, len(items)),
		byCat: make(map[int64][]int64),
	}

	for _, it := range items {
		if _, ok := byID[it.CategoryID]; !ok {
			continue
		}
		a.items[it.BudgetItemID] = it
		a.byCat[it.CategoryID] = append(a.byCat[it.CategoryID], it.BudgetItemID)
	}

	// Every known category joins the forest, item-bearing or not, so
	// that items landing on a currently empty category still propagate.
	levelOf := make(map[int64]int, len(byID))
	for id := range byID {
		levelOf[id] = 0
	}

	// Walk parent links until no new ancestor appears. A parent must sit
	// above all of its placed children so that level-order recomputation
	// sees children first. Cycles are forbidden by construction upstream;
	// the pass count is capped in case the store ever hands one over.
	for pass := 0; pass <= len(byID); pass++ {
		changed := false
		for id, lvl := range levelOf {
			parentID := byID[id].ParentID
			if parentID == 0 {
				continue
			}
			if _, ok := byID[parentID]; !ok {
				continue
			}
			if placed, ok := levelOf[parentID]; !ok || placed < lvl+1 {
				levelOf[parentID] = lvl + 1
				changed = true
			}
		}
		if !changed {
			break
		}
	}

	maxLevel := 0
	for id, lvl := range levelOf {
		cat := byID[id]
		parentID := cat.ParentID
		if _, ok := levelOf[parentID]; !ok {
			parentID = 0
		}
		a.nodes[id] = &node{id: id, parentID: parentID}
		if lvl > maxLevel {
			maxLevel = lvl
		}
	}
	a.levels = make([][]int64, maxLevel+1)
	for id, lvl := range levelOf {
		a.levels[lvl] = append(a.levels[lvl], id)
	}
	for _, level := range a.levels {
		slices.Sort(level)
	}
	for id, n := range a.nodes {
		if n.parentID == 0 {
			a.roots = append(a.roots, id)
			continue
		}
		parent := a.nodes[n.parentID]
		parent.children = append(parent.children, id)
	}

	a.recomputeAll()
	return a
}

// UpdatePlanned records a changed planned amount and re-propagates totals up
// the item's category chain.
func (a *Aggregator) UpdatePlanned(item ItemView) {
	v, known := a.items[item.BudgetItemID]
	if !known {
		a.addItem(item)
		return
	}
	v.Planned = item.Planned
	a.items[item.BudgetItemID] = v
	a.propagateFrom(v.CategoryID)
}

// UpdateActual records a changed actual amount and re-propagates totals up
// the item's category chain.
func (a *Aggregator) UpdateActual(item ItemView) {
	v, known := a.items[item.BudgetItemID]
	if !known {
		a.addItem(item)
		return
	}
	v.Actual = item.Actual
	a.items[item.BudgetItemID] = v
	a.propagateFrom(v.CategoryID)
}

// Totals returns the current totals for a category.
func (a *Aggregator) Totals(categoryID int64) (Totals, bool) {
	n, ok := a.nodes[categoryID]
	if !ok {
		return Totals{}, false
	}
	return n.totals, true
}

// BudgetBalance is the sum of actual totals over the root categories.
func (a *Aggregator) BudgetBalance() core.Money {
	var sum core.Money
	for _, id := range a.roots {
		sum = sum.Add(a.nodes[id].totals.Actual)
	}
	return sum
}

// Categories returns the ids of all categories the aggregator tracks,
// ordered bottom-up by level.
func (a *Aggregator) Categories() []int64 {
	ids := make([]int64, 0, len(a.nodes))
	for _, level := range a.levels {
		ids = append(ids, level...)
	}
	return ids
}

// Level returns the level a category was placed at; childless categories
// sit at level 0. Unknown categories report -1.
func (a *Aggregator) Level(categoryID int64) int {
	for i, level := range a.levels {
		for _, id := range level {
			if id == categoryID {
				return i
			}
		}
	}
	return -1
}

func (a *Aggregator) addItem(item ItemView) {
	if _, ok := a.nodes[item.CategoryID]; !ok {
		// Category unseen at construction: zero contribution.
		return
	}
	a.items[item.BudgetItemID] = item
	a.byCat[item.CategoryID] = append(a.byCat[item.CategoryID], item.BudgetItemID)
	a.propagateFrom(item.CategoryID)
}

// propagateFrom rescans the changed category's full item set, then walks the
// parent chain recomputing each ancestor from its children. Not an
// incremental delta: the working set of one budget is small.
func (a *Aggregator) propagateFrom(categoryID int64) {
	id := categoryID
	for id != 0 {
		n, ok := a.nodes[id]
		if !ok {
			return
		}
		a.recomputeNode(n)
		id = n.parentID
	}
}

func (a *Aggregator) recomputeAll() {
	for _, level := range a.levels {
		for _, id := range level {
			a.recomputeNode(a.nodes[id])
		}
	}
}

func (a *Aggregator) recomputeNode(n *node) {
	var t Totals
	for _, itemID := range a.byCat[n.id] {
		item := a.items[itemID]
		t.Planned = t.Planned.Add(item.Planned)
		t.Actual = t.Actual.Add(item.Actual)
	}
	for _, childID := range n.children {
		child := a.nodes[childID]
		t.Planned = t.Planned.Add(child.totals.Planned)
		t.Actual = t.Actual.Add(child.totals.Actual)
	}
	n.totals = t
}
