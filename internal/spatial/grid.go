// Package spatial indexes town positions on a uniform planar grid so the
// selection pass can ask "which selected towns sit within this radius"
// without scanning the whole set.
package spatial

import (
	"math"
	"sort"

	"github.com/alpenmeteo/townpick/internal/model"
)

// defaultCellSize keeps a radius query in the low single digits of cells for
// typical label separations.
const defaultCellSize = 5000.0

type cellKey struct {
	cx int
	cy int
}

type entry struct {
	id string
	e  float64
	n  float64
}

// Grid is a uniform-cell spatial index over LV95 town positions. Build once
// per run; the town set is fixed, only the selected marks change.
type Grid struct {
	cellSize float64
	cells    map[cellKey][]int
	entries  []entry
	selected map[string]bool
}

// NewGrid indexes the towns. A cellSize of zero or less picks the default.
// Town ids are assumed unique; the loaders deduplicate before indexing.
func NewGrid(towns []model.Town, cellSize float64) *Grid {
	if cellSize <= 0 {
		cellSize = defaultCellSize
	}
	g := &Grid{
		cellSize: cellSize,
		cells:    make(map[cellKey][]int),
		entries:  make([]entry, 0, len(towns)),
		selected: make(map[string]bool),
	}
	for _, t := range towns {
		idx := len(g.entries)
		g.entries = append(g.entries, entry{id: t.ID, e: t.E, n: t.N})
		k := g.keyFor(t.E, t.N)
		g.cells[k] = append(g.cells[k], idx)
	}
	return g
}

func (g *Grid) keyFor(e, n float64) cellKey {
	return cellKey{
		cx: int(math.Floor(e / g.cellSize)),
		cy: int(math.Floor(n / g.cellSize)),
	}
}

// Len reports how many towns are indexed.
func (g *Grid) Len() int {
	return len(g.entries)
}

// WithinRadius returns the ids of all towns with planar distance <= radius
// from the query point, sorted for deterministic iteration. A distance
// exactly equal to the radius counts as within.
func (g *Grid) WithinRadius(e, n, radius float64) []string {
	return g.collect(e, n, radius, false)
}

// SelectedWithinRadius is WithinRadius restricted to towns marked selected.
// This is the hot call of the greedy pass.
func (g *Grid) SelectedWithinRadius(e, n, radius float64) []string {
	return g.collect(e, n, radius, true)
}

// CountWithinRadius reports how many towns lie within radius of the point.
// Density-adaptive separation policies are built on this count.
func (g *Grid) CountWithinRadius(e, n, radius float64) int {
	return len(g.collect(e, n, radius, false))
}

// MarkSelected adds the town to the selected set. No index rebuild happens.
func (g *Grid) MarkSelected(id string) {
	g.selected[id] = true
}

// IsSelected reports whether the town has been marked selected.
func (g *Grid) IsSelected(id string) bool {
	return g.selected[id]
}

func (g *Grid) collect(e, n, radius float64, selectedOnly bool) []string {
	if radius < 0 {
		return nil
	}
	lo := g.keyFor(e-radius, n-radius)
	hi := g.keyFor(e+radius, n+radius)
	r2 := radius * radius

	var ids []string
	for cx := lo.cx; cx <= hi.cx; cx++ {
		for cy := lo.cy; cy <= hi.cy; cy++ {
			for _, idx := range g.cells[cellKey{cx: cx, cy: cy}] {
				ent := &g.entries[idx]
				if selectedOnly && !g.selected[ent.id] {
					continue
				}
				dx := ent.e - e
				dy := ent.n - n
				if dx*dx+dy*dy <= r2 {
					ids = append(ids, ent.id)
				}
			}
		}
	}
	sort.Strings(ids)
	return ids
}
