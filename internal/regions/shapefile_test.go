package regions

import (
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpenmeteo/townpick/internal/model"
)

func TestShapeRings_Polygon(t *testing.T) {
	poly := &shp.Polygon{
		NumParts: 1,
		Parts:    []int32{0},
		Points: []shp.Point{
			{X: 2600000, Y: 1200000},
			{X: 2610000, Y: 1200000},
			{X: 2610000, Y: 1210000},
			{X: 2600000, Y: 1210000},
			{X: 2600000, Y: 1200000}, // closed ring
		},
	}

	rings := shapeRings(poly)
	require.Len(t, rings, 1)
	require.Len(t, rings[0], 5)
	assert.Equal(t, model.Point{E: 2600000, N: 1200000}, rings[0][0])
	assert.Equal(t, model.Point{E: 2610000, N: 1210000}, rings[0][2])
}

func TestShapeRings_MultiPart(t *testing.T) {
	poly := &shp.Polygon{
		NumParts: 2,
		Parts:    []int32{0, 5},
		Points: []shp.Point{
			// Outer ring.
			{X: 0, Y: 0},
			{X: 10, Y: 0},
			{X: 10, Y: 10},
			{X: 0, Y: 10},
			{X: 0, Y: 0},
			// Hole.
			{X: 4, Y: 4},
			{X: 6, Y: 4},
			{X: 6, Y: 6},
			{X: 4, Y: 6},
			{X: 4, Y: 4},
		},
	}

	rings := shapeRings(poly)
	require.Len(t, rings, 2)
	assert.Len(t, rings[0], 5)
	assert.Len(t, rings[1], 5)
	assert.Equal(t, model.Point{E: 4, N: 4}, rings[1][0])
}

func TestShapeRings_PolygonZ(t *testing.T) {
	// swissBOUNDARIES3D ships PolygonZ; the Z dimension is dropped.
	poly := &shp.PolygonZ{
		NumParts: 1,
		Parts:    []int32{0},
		Points: []shp.Point{
			{X: 2600000, Y: 1200000},
			{X: 2610000, Y: 1200000},
			{X: 2605000, Y: 1210000},
			{X: 2600000, Y: 1200000},
		},
		ZArray: []float64{500, 510, 520, 500},
	}

	rings := shapeRings(poly)
	require.Len(t, rings, 1)
	assert.Len(t, rings[0], 4)
}

func TestShapeRings_NonPolygon(t *testing.T) {
	assert.Nil(t, shapeRings(&shp.Point{X: 1, Y: 2}))
	assert.Nil(t, shapeRings(&shp.PolyLine{
		NumParts: 1,
		Parts:    []int32{0},
		Points:   []shp.Point{{X: 0, Y: 0}, {X: 1, Y: 1}},
	}))
	assert.Nil(t, shapeRings(nil))
}

func TestShapeRings_Empty(t *testing.T) {
	assert.Nil(t, shapeRings(&shp.Polygon{}))
	assert.Nil(t, shapeRings(&shp.Polygon{NumParts: 1, Parts: []int32{0}}))
}

func TestShapeRings_BadPartTable(t *testing.T) {
	// Part offsets past the point table are skipped rather than panicking.
	poly := &shp.Polygon{
		NumParts: 2,
		Parts:    []int32{0, 99},
		Points: []shp.Point{
			{X: 0, Y: 0},
			{X: 10, Y: 0},
			{X: 5, Y: 10},
			{X: 0, Y: 0},
		},
	}

	rings := shapeRings(poly)
	require.Len(t, rings, 1)
	assert.Len(t, rings[0], 4)
}
