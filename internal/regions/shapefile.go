package regions

import (
	"fmt"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/alpenmeteo/townpick/internal/model"
)

// DefaultIDField is the region identifier attribute carried by the
// swissBOUNDARIES3D products.
const DefaultIDField = "BFS_NUMMER"

// LoadShapefile reads boundary polygons from an ESRI shapefile. The region
// id comes from idField (DefaultIDField when empty) with NAME as fallback;
// records missing both get a synthetic id from their record number.
// Non-polygon shapes are skipped and counted, not fatal.
func LoadShapefile(path, idField string) ([]model.BoundaryPolygon, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "regions: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	if idField == "" {
		idField = DefaultIDField
	}

	// Build field name → index map.
	fields := reader.Fields()
	fieldIdx := make(map[string]int, len(fields))
	for i, f := range fields {
		name := strings.TrimRight(f.String(), "\x00")
		fieldIdx[strings.ToLower(name)] = i
	}
	idIdx, haveID := fieldIdx[strings.ToLower(idField)]
	if !haveID {
		idIdx, haveID = fieldIdx["name"]
	}

	var polys []model.BoundaryPolygon
	var skipped int

	for reader.Next() {
		num, shape := reader.Shape()

		rings := shapeRings(shape)
		if rings == nil {
			skipped++
			continue
		}

		var id string
		if haveID {
			id = strings.TrimSpace(strings.TrimRight(reader.Attribute(idIdx), "\x00"))
		}
		if id == "" {
			id = fmt.Sprintf("region-%d", num)
		}

		polys = append(polys, model.BoundaryPolygon{RegionID: id, Rings: rings})
	}

	if skipped > 0 {
		zap.L().Debug("regions: skipped non-polygon shapes",
			zap.String("path", path),
			zap.Int("skipped", skipped),
		)
	}

	return polys, nil
}

// shapeRings splits a polygon shape's part table into rings. The Z and M
// variants carry the same planar layout and lose their extra dimensions
// here; label placement is strictly 2D.
func shapeRings(shape shp.Shape) [][]model.Point {
	var parts []int32
	var points []shp.Point

	switch s := shape.(type) {
	case *shp.Polygon:
		parts, points = s.Parts, s.Points
	case *shp.PolygonZ:
		parts, points = s.Parts, s.Points
	case *shp.PolygonM:
		parts, points = s.Parts, s.Points
	default:
		return nil
	}
	if len(parts) == 0 || len(points) == 0 {
		return nil
	}

	rings := make([][]model.Point, 0, len(parts))
	for i := 0; i < len(parts); i++ {
		start := parts[i]
		end := int32(len(points))
		if i+1 < len(parts) && parts[i+1] < end {
			end = parts[i+1]
		}
		if start < 0 || start >= end {
			continue
		}
		ring := make([]model.Point, 0, end-start)
		for j := start; j < end; j++ {
			ring = append(ring, model.Point{E: points[j].X, N: points[j].Y})
		}
		rings = append(rings, ring)
	}
	if len(rings) == 0 {
		return nil
	}
	return rings
}
