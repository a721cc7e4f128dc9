// Package output orders the selected towns and encodes them for renderers.
// It is a pure formatting step: no computation beyond ordering and field
// projection happens here.
package output

import (
	"sort"

	"github.com/rotisserie/eris"

	"github.com/alpenmeteo/townpick/internal/model"
	"github.com/alpenmeteo/townpick/internal/selection"
)

// OrderBy names the output ordering key.
type OrderBy string

const (
	// OrderByRank emits labels in selection order, greedy picks first.
	OrderByRank OrderBy = "rank"
	// OrderByPosition emits labels north to south, west to east.
	OrderByPosition OrderBy = "position"
)

// Assemble filters the run result to selected towns, applies the ordering,
// and projects the rendering fields. Rank is 1-based over the emitted
// sequence. Empty input yields an empty, non-nil sequence.
func Assemble(res *selection.Result, order OrderBy) ([]model.SelectedTown, error) {
	if order == "" {
		order = OrderByRank
	}

	picked := res.Selected()
	switch order {
	case OrderByRank:
		// Selected() already walks the pick order.
	case OrderByPosition:
		sort.Slice(picked, func(i, j int) bool {
			if picked[i].Lat != picked[j].Lat {
				return picked[i].Lat > picked[j].Lat
			}
			if picked[i].Lon != picked[j].Lon {
				return picked[i].Lon < picked[j].Lon
			}
			return picked[i].ID < picked[j].ID
		})
	default:
		return nil, eris.Errorf("output: unknown ordering %q", order)
	}

	labels := make([]model.SelectedTown, 0, len(picked))
	for i, t := range picked {
		labels = append(labels, model.SelectedTown{
			ID:             t.ID,
			Name:           t.Name,
			Lat:            t.Lat,
			Lon:            t.Lon,
			RegionID:       t.RegionID,
			Rank:           i + 1,
			ForcedCoverage: res.Forced[t.ID],
		})
	}
	return labels, nil
}
