// Package selection picks the subset of towns worth labelling. A greedy
// pass walks the towns in priority order and keeps each one only when no
// already-kept town sits within the separation distance its policy demands;
// an optional second pass forces one label into every region the greedy
// pass left empty.
package selection

import (
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/alpenmeteo/townpick/internal/model"
	"github.com/alpenmeteo/townpick/internal/spatial"
)

// ErrInvalidConfig rejects a run before any town is processed.
var ErrInvalidConfig = eris.New("selection: invalid config")

// Config controls one selection run.
type Config struct {
	Policy         SeparationPolicy
	EnsureCoverage bool
	// GridCellSize overrides the spatial index cell size; zero picks the
	// index default.
	GridCellSize float64
}

// Validate checks the config without touching any town data.
func (c Config) Validate() error {
	if c.Policy == nil {
		return eris.Wrap(ErrInvalidConfig, "selection: nil separation policy")
	}
	return c.Policy.Validate()
}

// Result is the outcome of a run. Towns holds every input town in input
// order with its terminal state set; Order lists selected ids in pick order,
// greedy picks first, coverage fills after; Forced marks the ids selected
// only to satisfy coverage.
type Result struct {
	Towns  []model.Town
	Order  []string
	Forced map[string]bool
}

// Selected returns the towns in pick order.
func (r *Result) Selected() []model.Town {
	byID := make(map[string]int, len(r.Towns))
	for i := range r.Towns {
		byID[r.Towns[i].ID] = i
	}
	out := make([]model.Town, 0, len(r.Order))
	for _, id := range r.Order {
		out = append(out, r.Towns[byID[id]])
	}
	return out
}

// Run executes the greedy pass and, when configured, the coverage fill.
// Identical inputs always yield the identical result sequence. The caller's
// slice is not mutated.
func Run(towns []model.Town, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := zap.L().With(zap.String("component", "selection"))

	out := make([]model.Town, len(towns))
	copy(out, towns)
	for i := range out {
		out[i].State = model.StateUnconsidered
	}
	res := &Result{Towns: out, Forced: make(map[string]bool)}
	if len(out) == 0 {
		// Empty input is a valid empty result.
		return res, nil
	}

	// The authoritative processing sequence: importance descending, then
	// name ascending, then id ascending. Arrival order never matters.
	order := make([]int, len(out))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		ta, tb := &out[order[a]], &out[order[b]]
		if ta.Importance != tb.Importance {
			return ta.Importance > tb.Importance
		}
		if ta.Name != tb.Name {
			return ta.Name < tb.Name
		}
		return ta.ID < tb.ID
	})

	grid := spatial.NewGrid(out, cfg.GridCellSize)

	for _, idx := range order {
		t := &out[idx]

		var neighbors int
		if r := cfg.Policy.DensityRadius(); r > 0 {
			// The town itself is always indexed, so exclude it from its
			// own neighborhood.
			neighbors = grid.CountWithinRadius(t.E, t.N, r) - 1
			if neighbors < 0 {
				neighbors = 0
			}
		}

		sep := cfg.Policy.Separation(*t, neighbors)
		if sep < 0 {
			return nil, eris.Wrapf(ErrInvalidConfig,
				"selection: policy returned negative separation %.2f for %s", sep, t.ID)
		}

		if len(grid.SelectedWithinRadius(t.E, t.N, sep)) == 0 {
			t.State = model.StateSelected
			grid.MarkSelected(t.ID)
			res.Order = append(res.Order, t.ID)
		} else {
			t.State = model.StateRejected
		}
	}

	if cfg.EnsureCoverage {
		fillCoverage(out, order, grid, res, log)
	}

	log.Debug("selection complete",
		zap.Int("towns", len(out)),
		zap.Int("selected", len(res.Order)),
		zap.Int("forced", len(res.Forced)),
	)
	return res, nil
}

// fillCoverage force-selects the best town of every region the greedy pass
// left without a label. Forced entries may sit closer to other labels than
// the policy allows; they carry a flag so downstream consumers can tell.
func fillCoverage(out []model.Town, order []int, grid *spatial.Grid, res *Result, log *zap.Logger) {
	covered := make(map[string]bool)
	for i := range out {
		if out[i].State == model.StateSelected {
			covered[out[i].RegionID] = true
		}
	}

	// Best candidate per region, in processing order so the tie-break
	// matches the greedy pass. Unassigned towns form no region to cover.
	best := make(map[string]int)
	for _, idx := range order {
		rid := out[idx].RegionID
		if rid == "" || rid == model.RegionUnassigned {
			continue
		}
		if _, ok := best[rid]; !ok {
			best[rid] = idx
		}
	}

	regions := make([]string, 0, len(best))
	for rid := range best {
		regions = append(regions, rid)
	}
	sort.Strings(regions)

	for _, rid := range regions {
		if covered[rid] {
			continue
		}
		t := &out[best[rid]]
		t.State = model.StateSelected
		grid.MarkSelected(t.ID)
		res.Order = append(res.Order, t.ID)
		res.Forced[t.ID] = true
		log.Debug("forced coverage selection",
			zap.String("town", t.ID),
			zap.String("region", rid),
		)
	}
}
