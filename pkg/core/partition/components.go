// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package partition

import (
	"slices"

	"github.com/gomlx/hybrid/pkg/core/graph"
	"github.com/gomlx/hybrid/pkg/core/placement"
)

// component is a group of operations that go to the same sub-function.
type component struct {
	placement placement.Placement
	firstID   graph.NodeID

	// depth is the length of the longest chain of components leading to this one.
	depth int
}

// componentGraph holds the initial components of the operations and the edges between them.
type componentGraph struct {
	components []*component
	edges      [][2]int // (producer, consumer) pairs of component indices, without duplicates.

	// merged is a union-find forest over the component indices, without path compression so that a
	// tentative merge can be undone.
	merged []int
}

func (g *componentGraph) root(c int) int {
	for g.merged[c] != c {
		c = g.merged[c]
	}
	return c
}

// isAcyclic checks, with Kahn's algorithm, that the graph of the merged components has no cycles.
func (g *componentGraph) isAcyclic() bool {
	inDegree := make(map[int]int)
	next := make(map[int][]int)
	numRoots := 0
	for c := range g.components {
		if g.root(c) == c {
			inDegree[c] += 0
			numRoots++
		}
	}
	for _, e := range g.edges {
		from, to := g.root(e[0]), g.root(e[1])
		if from == to {
			continue
		}
		next[from] = append(next[from], to)
		inDegree[to]++
	}
	var ready []int
	for c, degree := range inDegree {
		if degree == 0 {
			ready = append(ready, c)
		}
	}
	visited := 0
	for len(ready) > 0 {
		c := ready[len(ready)-1]
		ready = ready[:len(ready)-1]
		visited++
		for _, to := range next[c] {
			inDegree[to]--
			if inDegree[to] == 0 {
				ready = append(ready, to)
			}
		}
	}
	return visited == numRoots
}

// mergeComponents greedily merges components of equal placement, in order, whenever the merge keeps
// the component graph acyclic. The initial graph must be acyclic.
//
// It returns the merged components sorted by (depth, smallest node id), which is a topological order,
// and, for each initial component, the index of the merged component it belongs to.
func (g *componentGraph) mergeComponents() (merged []*component, mergedIndex []int) {
	n := len(g.components)
	g.merged = make([]int, n)
	for i := range g.merged {
		g.merged[i] = i
	}
	for i := range n {
		for j := i + 1; j < n; j++ {
			ri, rj := g.root(i), g.root(j)
			if ri == rj || g.components[ri].placement != g.components[rj].placement {
				continue
			}
			g.merged[rj] = ri
			if !g.isAcyclic() {
				g.merged[rj] = rj
			}
		}
	}

	// Build the merged components and their depths, visiting the roots in topological order.
	byRoot := make(map[int]*component)
	for c, initial := range g.components {
		r := g.root(c)
		m, found := byRoot[r]
		if !found {
			m = &component{placement: initial.placement, firstID: initial.firstID}
			byRoot[r] = m
			merged = append(merged, m)
		}
		m.firstID = min(m.firstID, initial.firstID)
	}
	next := make(map[int][]int)
	inDegree := make(map[int]int)
	for _, e := range g.edges {
		from, to := g.root(e[0]), g.root(e[1])
		if from != to && !slices.Contains(next[from], to) {
			next[from] = append(next[from], to)
			inDegree[to]++
		}
	}
	var ready []int
	for r := range byRoot {
		if inDegree[r] == 0 {
			ready = append(ready, r)
		}
	}
	for len(ready) > 0 {
		r := ready[len(ready)-1]
		ready = ready[:len(ready)-1]
		for _, to := range next[r] {
			byRoot[to].depth = max(byRoot[to].depth, byRoot[r].depth+1)
			inDegree[to]--
			if inDegree[to] == 0 {
				ready = append(ready, to)
			}
		}
	}
	slices.SortFunc(merged, func(a, b *component) int {
		if a.depth != b.depth {
			return a.depth - b.depth
		}
		return int(a.firstID) - int(b.firstID)
	})

	indexOf := make(map[*component]int, len(merged))
	for i, m := range merged {
		indexOf[m] = i
	}
	mergedIndex = make([]int, n)
	for c := range g.components {
		mergedIndex[c] = indexOf[byRoot[g.root(c)]]
	}
	return merged, mergedIndex
}
