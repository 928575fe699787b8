// Package report computes the derived read-only views of a budget: tag
// profiles and category planned/actual totals. Both components are pure
// in-memory structures fed by the storage layer and rebuilt per reporting
// session.
package report

import (
	"sort"

	"bilancio/internal/core"
)

// Profile is a maximal set of tags that co-occur, transitively, across the
// items of a budget. Tags are ordered by descending global usage count, ties
// broken by ascending name.
type Profile []core.Tag

// Partition groups tags into disjoint profiles. Two tags land in the same
// profile iff they are connected by a chain of input sets each overlapping
// the next. Empty input sets are ignored; empty input yields no profiles.
//
// usage maps tag id to the number of items carrying that tag across the
// whole item catalog; missing entries count as zero.
func Partition(itemTagSets [][]core.Tag, usage map[int64]int) []Profile {
	uf := newUnionFind()
	tags := make(map[int64]core.Tag)

	for _, set := range itemTagSets {
		if len(set) == 0 {
			continue
		}
		first := set[0].ID
		for _, tag := range set {
			tags[tag.ID] = tag
			uf.add(tag.ID)
			uf.union(first, tag.ID)
		}
	}

	groups := make(map[int64][]core.Tag)
	for id, tag := range tags {
		root := uf.find(id)
		groups[root] = append(groups[root], tag)
	}

	profiles := make([]Profile, 0, len(groups))
	for _, group := range groups {
		sort.Slice(group, func(i, j int) bool {
			ui, uj := usage[group[i].ID], usage[group[j].ID]
			if ui != uj {
				return ui > uj
			}
			return group[i].Name < group[j].Name
		})
		profiles = append(profiles, Profile(group))
	}
	sort.Slice(profiles, func(i, j int) bool {
		return profiles[i][0].Name < profiles[j][0].Name
	})
	return profiles
}

// unionFind with path compression and union by size. A single pass over the
// input sets reaches the fixpoint, so callers never loop until convergence.
type unionFind struct {
	parent map[int64]int64
	size   map[int64]int
}

func newUnionFind() *unionFind {
	return &unionFind{
		parent: make(map[int64]int64),
		size:   make(map[int64]int),
	}
}

func (u *unionFind) add(id int64) {
	if _, ok := u.parent[id]; !ok {
		u.parent[id] = id
		u.size[id] = 1
	}
}

func (u *unionFind) find(id int64) int64 {
	root := id
	for u.parent[root] != root {
		root = u.parent[root]
	}
	for u.parent[id] != root {
		u.parent[id], id = root, u.parent[id]
	}
	return root
}

func (u *unionFind) union(a, b int64) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if u.size[ra] < u.size[rb] {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
	u.size[ra] += u.size[rb]
}
