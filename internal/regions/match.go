// Package regions loads administrative boundary polygons and assigns towns
// to them by planar point-in-polygon containment.
package regions

import (
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/alpenmeteo/townpick/internal/model"
)

// ErrMalformedPolygon flags a polygon whose rings cannot form an area: a
// ring with fewer than three distinct vertices or non-finite coordinates.
// Such polygons are dropped individually; the run continues without them.
var ErrMalformedPolygon = eris.New("regions: malformed polygon")

type prepared struct {
	regionID string
	rings    [][]model.Point
	minE     float64
	minN     float64
	maxE     float64
	maxN     float64
}

// Matcher answers point-in-region queries over a validated polygon set.
// Polygons are tried in input order and the first containing polygon wins,
// so overlapping inputs resolve deterministically.
type Matcher struct {
	polys   []prepared
	dropped int
}

// NewMatcher validates and indexes the polygons. Malformed polygons are
// dropped with a warning and counted; towns that would have matched them
// end up unassigned.
func NewMatcher(polys []model.BoundaryPolygon) *Matcher {
	log := zap.L().With(zap.String("component", "regions"))
	m := &Matcher{}
	for _, p := range polys {
		prep, err := prepare(p)
		if err != nil {
			m.dropped++
			log.Warn("dropping malformed polygon",
				zap.String("region_id", p.RegionID),
				zap.Error(err),
			)
			continue
		}
		m.polys = append(m.polys, prep)
	}
	return m
}

// Dropped reports how many polygons failed validation.
func (m *Matcher) Dropped() int {
	return m.dropped
}

// Count reports how many polygons survived validation.
func (m *Matcher) Count() int {
	return len(m.polys)
}

// Match returns the region id of the first polygon containing the point, or
// model.RegionUnassigned when none does. A missing region is expected data,
// not an error. Points on a boundary edge or vertex count as contained.
func (m *Matcher) Match(e, n float64) string {
	for i := range m.polys {
		p := &m.polys[i]
		if e < p.minE || e > p.maxE || n < p.minN || n > p.maxN {
			continue
		}
		if containsPoint(p.rings, e, n) {
			return p.regionID
		}
	}
	return model.RegionUnassigned
}

func prepare(p model.BoundaryPolygon) (prepared, error) {
	if len(p.Rings) == 0 {
		return prepared{}, eris.Wrapf(ErrMalformedPolygon, "region %s: no rings", p.RegionID)
	}
	prep := prepared{
		regionID: p.RegionID,
		minE:     math.Inf(1),
		minN:     math.Inf(1),
		maxE:     math.Inf(-1),
		maxN:     math.Inf(-1),
	}
	for ri, ring := range p.Rings {
		closed, err := closeRing(ring)
		if err != nil {
			return prepared{}, eris.Wrapf(err, "region %s: ring %d", p.RegionID, ri)
		}
		for _, v := range closed {
			prep.minE = math.Min(prep.minE, v.E)
			prep.minN = math.Min(prep.minN, v.N)
			prep.maxE = math.Max(prep.maxE, v.E)
			prep.maxN = math.Max(prep.maxN, v.N)
		}
		prep.rings = append(prep.rings, closed)
	}
	return prep, nil
}

// closeRing returns the ring with an explicit closing vertex appended. Rings
// may arrive with or without one; either form is accepted.
func closeRing(ring []model.Point) ([]model.Point, error) {
	for _, v := range ring {
		if !isFinite(v.E) || !isFinite(v.N) {
			return nil, eris.Wrap(ErrMalformedPolygon, "non-finite vertex")
		}
	}
	pts := ring
	if len(pts) > 1 && pts[0] == pts[len(pts)-1] {
		pts = pts[:len(pts)-1]
	}
	distinct := make(map[model.Point]struct{}, len(pts))
	for _, v := range pts {
		distinct[v] = struct{}{}
	}
	if len(distinct) < 3 {
		return nil, eris.Wrapf(ErrMalformedPolygon, "%d distinct vertices", len(distinct))
	}
	closed := make([]model.Point, 0, len(pts)+1)
	closed = append(closed, pts...)
	closed = append(closed, pts[0])
	return closed, nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// containsPoint ray-casts with even-odd parity across all rings, so rings
// beyond the first cut holes. The boundary tie-break is fixed: a point
// exactly on any edge or vertex is inside, hole edges included.
func containsPoint(rings [][]model.Point, e, n float64) bool {
	inside := false
	for _, ring := range rings {
		for i := 0; i+1 < len(ring); i++ {
			a, b := ring[i], ring[i+1]
			if onSegment(e, n, a, b) {
				return true
			}
			// Half-open vertex rule: each edge owns its lower endpoint, so
			// a ray through a vertex is counted once. Horizontal edges
			// never cross.
			if (a.N > n) != (b.N > n) {
				x := a.E + (n-a.N)*(b.E-a.E)/(b.N-a.N)
				if x > e {
					inside = !inside
				}
			}
		}
	}
	return inside
}

// onSegment reports whether the point lies exactly on segment ab.
func onSegment(e, n float64, a, b model.Point) bool {
	cross := (b.E-a.E)*(n-a.N) - (b.N-a.N)*(e-a.E)
	if cross != 0 {
		return false
	}
	return math.Min(a.E, b.E) <= e && e <= math.Max(a.E, b.E) &&
		math.Min(a.N, b.N) <= n && n <= math.Max(a.N, b.N)
}
