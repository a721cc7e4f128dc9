package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	shp "github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/alpenmeteo/townpick/internal/model"
	"github.com/alpenmeteo/townpick/internal/output"
	"github.com/alpenmeteo/townpick/internal/selection"
	"github.com/alpenmeteo/townpick/internal/store"
)

// fakeStore records saved runs and stubs the rest of the Store interface.
type fakeStore struct {
	saved   []*model.Run
	saveErr error
}

func (s *fakeStore) SaveRun(_ context.Context, run *model.Run) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, run)
	return nil
}

func (s *fakeStore) GetRun(context.Context, string) (*model.Run, error) {
	return nil, store.ErrNotFound
}

func (s *fakeStore) LatestRun(context.Context) (*model.Run, error) {
	return nil, store.ErrNotFound
}

func (s *fakeStore) ListRuns(context.Context, store.RunFilter) ([]model.Run, error) {
	return nil, nil
}

func (s *fakeStore) Labels(context.Context, string) ([]model.SelectedTown, error) {
	return nil, store.ErrNotFound
}

func (s *fakeStore) Migrate(context.Context) error { return nil }
func (s *fakeStore) Close() error                  { return nil }

// writeRegistry writes a minimal locality registry. Column order is
// Ortschaftsname;PLZ;Zusatzziffer;BFS-Nr;E;N;Sprache.
func writeRegistry(t *testing.T, dir string, rows []string) string {
	t.Helper()
	header := "Ortschaftsname;PLZ;Zusatzziffer;BFS-Nr;E;N;Sprache"
	content := strings.Join(append([]string{header}, rows...), "\n") + "\n"
	path := filepath.Join(dir, "registry.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

type boundarySquare struct {
	id                     string
	minE, minN, maxE, maxN float64
}

// writeBoundaries writes a shapefile of axis-aligned squares with a
// BFS_NUMMER attribute carrying the region id.
func writeBoundaries(t *testing.T, dir string, squares []boundarySquare) string {
	t.Helper()
	path := filepath.Join(dir, "boundaries.shp")
	w, err := shp.Create(path, shp.POLYGON)
	require.NoError(t, err)
	w.SetFields([]shp.Field{shp.StringField("BFS_NUMMER", 16)})
	for i, sq := range squares {
		points := []shp.Point{
			{X: sq.minE, Y: sq.minN},
			{X: sq.minE, Y: sq.maxN},
			{X: sq.maxE, Y: sq.maxN},
			{X: sq.maxE, Y: sq.minN},
			{X: sq.minE, Y: sq.minN},
		}
		poly := shp.Polygon{
			Box:       shp.BBoxFromPoints(points),
			NumParts:  1,
			NumPoints: int32(len(points)),
			Parts:     []int32{0},
			Points:    points,
		}
		w.Write(&poly)
		w.WriteAttribute(i, 0, sq.id)
	}
	w.Close()
	return path
}

// writePopulation writes a workbook in the federal population layout: five
// title and header rows, then BFS number, name and resident count columns.
func writePopulation(t *testing.T, dir string, rows [][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Gemeinden")
	require.NoError(t, err)
	filler := [][]string{
		{"Ständige Wohnbevölkerung nach Gemeinde"},
		{"Stand 31.12."},
		{""},
		{""},
		{"Gemeinde-Nr.", "Gemeindename", "Total"},
	}
	for _, rowData := range append(filler, rows...) {
		row := sheet.AddRow()
		for _, cell := range rowData {
			row.AddCell().SetString(cell)
		}
	}
	path := filepath.Join(dir, "population.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

type fixture struct {
	registry   string
	boundaries string
	population string
}

// buildFixture lays out six towns: three in region 101 (two of them only
// 1.4 km apart), two in region 202 (also 1.4 km apart) and one outside
// both squares.
func buildFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	return fixture{
		registry: writeRegistry(t, dir, []string{
			"Aarstadt;3000;0;1001;2605000;1195000;de",
			"Aardorf;3001;0;1002;2606000;1196000;de",
			"Aarweiler;3002;0;1003;2615000;1205000;de",
			"Bergbach;7000;0;2001;2685000;1245000;de",
			"Bergfeld;7001;0;2002;2686000;1246000;de",
			"Aussenhof;7500;0;3001;2750000;1150000;de",
		}),
		boundaries: writeBoundaries(t, dir, []boundarySquare{
			{id: "101", minE: 2600000, minN: 1190000, maxE: 2620000, maxN: 1210000},
			{id: "202", minE: 2680000, minN: 1240000, maxE: 2700000, maxN: 1260000},
		}),
		population: writePopulation(t, dir, [][]string{
			{"1001", "Aarstadt", "50000"},
			{"1002", "Aardorf", "8000"},
			{"1003", "Aarweiler", "12000"},
			{"2001", "Bergbach", "30000"},
			{"2002", "Bergfeld", "5000"},
			{"3001", "Aussenhof", "1000"},
		}),
	}
}

func fixtureOptions(fx fixture) Options {
	return Options{
		RegistryPath:   fx.registry,
		BoundariesPath: fx.boundaries,
		PopulationPath: fx.population,
		Policy:         selection.ConstantPolicy{Distance: 5000},
		EnsureCoverage: true,
		Order:          output.OrderByRank,
	}
}

func TestPipeline_EndToEnd(t *testing.T) {
	fx := buildFixture(t)

	res, err := New(fixtureOptions(fx)).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Labels, 4)

	ids := make([]string, len(res.Labels))
	for i, l := range res.Labels {
		ids[i] = l.ID
		assert.Equal(t, i+1, l.Rank)
		assert.False(t, l.ForcedCoverage)
	}
	// Importance order: Aarstadt 50000, Bergbach 30000, Aarweiler 12000,
	// Aussenhof 1000. Aardorf and Bergfeld sit within 5 km of a pick.
	assert.Equal(t, []string{"1001-0", "2001-0", "1003-0", "3001-0"}, ids)

	assert.Equal(t, "Aarstadt", res.Labels[0].Name)
	assert.Equal(t, "101", res.Labels[0].RegionID)
	assert.Equal(t, "202", res.Labels[1].RegionID)
	assert.Equal(t, "101", res.Labels[2].RegionID)
	assert.Equal(t, model.RegionUnassigned, res.Labels[3].RegionID)

	assert.InDelta(t, 46.91, res.Labels[0].Lat, 0.05)
	assert.InDelta(t, 7.50, res.Labels[0].Lon, 0.05)

	run := res.Run
	require.NotNil(t, run)
	assert.NotEmpty(t, run.ID)
	assert.Len(t, run.ConfigDigest, 64)
	assert.False(t, run.StartedAt.IsZero())
	assert.False(t, run.FinishedAt.Before(run.StartedAt))
	assert.Equal(t, 6, run.Stats.InputTowns)
	assert.Equal(t, 0, run.Stats.OutOfRange)
	assert.Equal(t, 2, run.Stats.PolygonsLoaded)
	assert.Equal(t, 0, run.Stats.PolygonsDropped)
	assert.Equal(t, 1, run.Stats.Unassigned)
	assert.Equal(t, 4, run.Stats.Selected)
	assert.Equal(t, 2, run.Stats.Rejected)
	assert.Equal(t, 0, run.Stats.ForcedCoverage)
}

func TestPipeline_Deterministic(t *testing.T) {
	fx := buildFixture(t)

	first, err := New(fixtureOptions(fx)).Run(context.Background())
	require.NoError(t, err)

	// A single worker must produce the same sequence as the default pool.
	opts := fixtureOptions(fx)
	opts.Workers = 1
	second, err := New(opts).Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, first.Labels, second.Labels)
	assert.Equal(t, first.Run.ConfigDigest, second.Run.ConfigDigest)
}

func TestPipeline_CoverageFill(t *testing.T) {
	dir := t.TempDir()
	registry := writeRegistry(t, dir, []string{
		"Hauptstadt;3000;0;5001;2610000;1200000;de",
		"Randdorf;3100;0;5002;2621000;1200000;de",
	})
	boundaries := writeBoundaries(t, dir, []boundarySquare{
		{id: "1", minE: 2600000, minN: 1190000, maxE: 2620000, maxN: 1210000},
		{id: "2", minE: 2620000, minN: 1190000, maxE: 2640000, maxN: 1210000},
	})

	// 11 km apart with 20 km separation: the greedy pass keeps only
	// Hauptstadt, and the fill forces Randdorf back for region 2.
	res, err := New(Options{
		RegistryPath:   registry,
		BoundariesPath: boundaries,
		Policy:         selection.ConstantPolicy{Distance: 20000},
		EnsureCoverage: true,
		Order:          output.OrderByRank,
	}).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Labels, 2)

	assert.Equal(t, "Hauptstadt", res.Labels[0].Name)
	assert.False(t, res.Labels[0].ForcedCoverage)
	assert.Equal(t, "Randdorf", res.Labels[1].Name)
	assert.True(t, res.Labels[1].ForcedCoverage)
	assert.Equal(t, "2", res.Labels[1].RegionID)
	assert.Equal(t, 2, res.Labels[1].Rank)

	assert.Equal(t, 1, res.Run.Stats.ForcedCoverage)
	assert.Equal(t, 2, res.Run.Stats.Selected)
	assert.Equal(t, 0, res.Run.Stats.Rejected)
}

func TestPipeline_OutOfRangeSkipped(t *testing.T) {
	registry := writeRegistry(t, t.TempDir(), []string{
		"Gipfeldorf;3800;0;6001;2600000;1200000;de",
		"Geisterdorf;9999;0;6002;9999999;1200000;de",
	})

	res, err := New(Options{
		RegistryPath: registry,
		Policy:       selection.ConstantPolicy{Distance: 5000},
		Order:        output.OrderByRank,
	}).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Labels, 1)
	assert.Equal(t, "Gipfeldorf", res.Labels[0].Name)
	assert.Equal(t, 2, res.Run.Stats.InputTowns)
	assert.Equal(t, 1, res.Run.Stats.OutOfRange)
	assert.Equal(t, 1, res.Run.Stats.Selected)
}

func TestPipeline_WithoutBoundaries(t *testing.T) {
	registry := writeRegistry(t, t.TempDir(), []string{
		"Westdorf;1200;0;7001;2500000;1120000;de",
		"Ostdorf;7500;0;7002;2800000;1190000;de",
	})

	res, err := New(Options{
		RegistryPath:   registry,
		Policy:         selection.ConstantPolicy{Distance: 5000},
		EnsureCoverage: true,
		Order:          output.OrderByRank,
	}).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Labels, 2)
	for _, l := range res.Labels {
		assert.Equal(t, model.RegionUnassigned, l.RegionID)
		assert.False(t, l.ForcedCoverage)
	}
	assert.Equal(t, 0, res.Run.Stats.PolygonsLoaded)
	assert.Equal(t, 2, res.Run.Stats.Unassigned)
}

func TestPipeline_PopulationEnrichment(t *testing.T) {
	dir := t.TempDir()
	registry := writeRegistry(t, dir, []string{
		"Adorf;4600;0;401;2650000;1220000;de",
		"Zweiburg;4601;0;402;2651000;1220000;de",
	})
	population := writePopulation(t, dir, [][]string{
		{"401", "Adorf", "2000"},
		{"402", "Zweiburg", "40000"},
	})

	// 1 km apart, so only one survives. Without population the name order
	// would pick Adorf; the resident counts must flip that to Zweiburg.
	res, err := New(Options{
		RegistryPath:   registry,
		PopulationPath: population,
		Policy:         selection.ConstantPolicy{Distance: 5000},
		Order:          output.OrderByRank,
	}).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Labels, 1)
	assert.Equal(t, "Zweiburg", res.Labels[0].Name)
	assert.Equal(t, 1, res.Run.Stats.Rejected)
}

func TestPipeline_SavesRun(t *testing.T) {
	registry := writeRegistry(t, t.TempDir(), []string{
		"Solodorf;4500;0;8001;2610000;1230000;de",
	})
	st := &fakeStore{}

	res, err := New(Options{
		RegistryPath: registry,
		Policy:       selection.ConstantPolicy{Distance: 5000},
		Order:        output.OrderByRank,
		Store:        st,
	}).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, st.saved, 1)
	assert.Same(t, res.Run, st.saved[0])
	assert.Len(t, st.saved[0].Labels, 1)
}

func TestPipeline_SaveError(t *testing.T) {
	registry := writeRegistry(t, t.TempDir(), []string{
		"Solodorf;4500;0;8001;2610000;1230000;de",
	})
	st := &fakeStore{saveErr: eris.New("db down")}

	res, err := New(Options{
		RegistryPath: registry,
		Policy:       selection.ConstantPolicy{Distance: 5000},
		Order:        output.OrderByRank,
		Store:        st,
	}).Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Contains(t, err.Error(), "pipeline: save run")
}

func TestPipeline_MissingRegistry(t *testing.T) {
	res, err := New(Options{
		RegistryPath: filepath.Join(t.TempDir(), "missing.csv"),
		Policy:       selection.ConstantPolicy{Distance: 5000},
		Order:        output.OrderByRank,
	}).Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Contains(t, err.Error(), "towns: open registry")
}

func TestPipeline_InvalidPolicy(t *testing.T) {
	registry := writeRegistry(t, t.TempDir(), []string{
		"Solodorf;4500;0;8001;2610000;1230000;de",
	})

	_, err := New(Options{
		RegistryPath: registry,
		Policy:       selection.ConstantPolicy{Distance: -1},
		Order:        output.OrderByRank,
	}).Run(context.Background())
	require.Error(t, err)
	assert.True(t, eris.Is(err, selection.ErrInvalidConfig))
}

func TestPipeline_ConfigDigest(t *testing.T) {
	fx := buildFixture(t)
	opts := fixtureOptions(fx)

	digest := New(opts).configDigest()
	assert.Len(t, digest, 64)
	assert.Equal(t, digest, New(opts).configDigest())

	wider := opts
	wider.Policy = selection.ConstantPolicy{Distance: 9000}
	assert.NotEqual(t, digest, New(wider).configDigest())

	// The digest covers file content, not just paths.
	f, err := os.OpenFile(fx.registry, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("Neudorf;4700;0;9001;2620000;1180000;de\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.NotEqual(t, digest, New(opts).configDigest())
}
