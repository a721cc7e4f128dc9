// Package pipeline wires the full labeling run: load the registry, enrich
// it with population counts, assign regions from the boundary shapefile,
// run selection and assemble the label sequence. The cmd layer calls this;
// the HTTP picker composes the same stages directly on request payloads.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/alpenmeteo/townpick/internal/fetcher"
	"github.com/alpenmeteo/townpick/internal/model"
	"github.com/alpenmeteo/townpick/internal/output"
	"github.com/alpenmeteo/townpick/internal/regions"
	"github.com/alpenmeteo/townpick/internal/selection"
	"github.com/alpenmeteo/townpick/internal/store"
	"github.com/alpenmeteo/townpick/internal/swissgrid"
	"github.com/alpenmeteo/townpick/internal/towns"
)

// Options configures one labeling run.
type Options struct {
	RegistryPath   string
	BoundariesPath string // empty skips region assignment
	PopulationPath string // empty keeps registry importance values

	// IDField names the shapefile attribute carrying the region id.
	// Empty uses regions.DefaultIDField.
	IDField string

	Policy         selection.SeparationPolicy
	EnsureCoverage bool
	Order          output.OrderBy

	// Workers bounds the coordinate/region pre-pass. Zero or negative
	// uses GOMAXPROCS.
	Workers int

	// Store, when set, receives the finished run.
	Store store.Store
}

// Result is the outcome of one run.
type Result struct {
	Labels []model.SelectedTown
	Run    *model.Run
}

// Pipeline executes labeling runs for a fixed set of options.
type Pipeline struct {
	opts Options
}

// New creates a Pipeline. Options are validated lazily by the stages that
// consume them.
func New(opts Options) *Pipeline {
	return &Pipeline{opts: opts}
}

// Run executes the full labeling run. Identical inputs always produce the
// identical label sequence; the run record is saved only when a store is
// configured, and a failed save fails the run.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	log := zap.L().With(zap.String("component", "pipeline"))
	started := time.Now().UTC()

	log.Info("pipeline: starting labeling run",
		zap.String("registry", p.opts.RegistryPath),
		zap.String("boundaries", p.opts.BoundariesPath),
	)

	input, err := towns.LoadRegistry(p.opts.RegistryPath)
	if err != nil {
		return nil, err
	}

	if p.opts.PopulationPath != "" {
		pop, popErr := fetcher.ReadPopulation(p.opts.PopulationPath, fetcher.DefaultPopulationOptions())
		if popErr != nil {
			return nil, popErr
		}
		matched := towns.ApplyPopulation(input, pop)
		log.Info("pipeline: applied population counts",
			zap.Int("towns", len(input)),
			zap.Int("matched", matched),
		)
	}

	var matcher *regions.Matcher
	if p.opts.BoundariesPath != "" {
		polys, loadErr := regions.LoadShapefile(p.opts.BoundariesPath, p.opts.IDField)
		if loadErr != nil {
			return nil, loadErr
		}
		matcher = regions.NewMatcher(polys)
		log.Info("pipeline: loaded boundaries",
			zap.Int("polygons", matcher.Count()),
			zap.Int("dropped", matcher.Dropped()),
		)
	}

	prepared, outOfRange, err := p.prepare(ctx, input, matcher)
	if err != nil {
		return nil, err
	}
	if outOfRange > 0 {
		log.Warn("pipeline: dropped towns outside projection bounds",
			zap.Int("dropped", outOfRange),
		)
	}

	res, err := selection.Run(prepared, selection.Config{
		Policy:         p.opts.Policy,
		EnsureCoverage: p.opts.EnsureCoverage,
	})
	if err != nil {
		return nil, err
	}

	labels, err := output.Assemble(res, p.opts.Order)
	if err != nil {
		return nil, err
	}

	unassigned := 0
	for i := range prepared {
		if prepared[i].RegionID == model.RegionUnassigned {
			unassigned++
		}
	}

	run := &model.Run{
		ID:           uuid.New().String(),
		StartedAt:    started,
		FinishedAt:   time.Now().UTC(),
		ConfigDigest: p.configDigest(),
		Stats: model.RunStats{
			InputTowns:     len(input),
			OutOfRange:     outOfRange,
			Unassigned:     unassigned,
			Selected:       len(labels),
			Rejected:       len(prepared) - len(labels),
			ForcedCoverage: len(res.Forced),
			DurationMS:     time.Since(started).Milliseconds(),
		},
		Labels: labels,
	}
	if matcher != nil {
		run.Stats.PolygonsLoaded = matcher.Count()
		run.Stats.PolygonsDropped = matcher.Dropped()
	}

	if p.opts.Store != nil {
		if saveErr := p.opts.Store.SaveRun(ctx, run); saveErr != nil {
			return nil, eris.Wrap(saveErr, "pipeline: save run")
		}
	}

	log.Info("pipeline: labeling run complete",
		zap.String("run_id", run.ID),
		zap.Int("towns", len(input)),
		zap.Int("selected", len(labels)),
		zap.Int("unassigned", unassigned),
		zap.Int64("duration_ms", run.Stats.DurationMS),
	)

	return &Result{Labels: labels, Run: run}, nil
}

// prepare derives WGS84 coordinates and a region id for every town, in
// parallel over index chunks. Towns whose planar coordinates fall outside
// the projection bounds are dropped and counted. Output preserves registry
// order regardless of worker scheduling.
func (p *Pipeline) prepare(ctx context.Context, input []model.Town, matcher *regions.Matcher) ([]model.Town, int, error) {
	type slot struct {
		town model.Town
		ok   bool
	}
	slots := make([]slot, len(input))

	workers := p.opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	chunk := (len(input) + workers - 1) / workers
	if chunk < 1 {
		chunk = 1
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for start := 0; start < len(input); start += chunk {
		end := start + chunk
		if end > len(input) {
			end = len(input)
		}
		lo, hi := start, end
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if err := gCtx.Err(); err != nil {
					return err
				}
				t := input[i]
				lat, lon, err := swissgrid.ToWGS84(t.E, t.N)
				if err != nil {
					continue
				}
				t.Lat, t.Lon = lat, lon
				if matcher != nil {
					t.RegionID = matcher.Match(t.E, t.N)
				} else {
					t.RegionID = model.RegionUnassigned
				}
				slots[i] = slot{town: t, ok: true}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, eris.Wrap(err, "pipeline: prepare towns")
	}

	prepared := make([]model.Town, 0, len(input))
	outOfRange := 0
	for i := range slots {
		if !slots[i].ok {
			outOfRange++
			continue
		}
		prepared = append(prepared, slots[i].town)
	}
	return prepared, outOfRange, nil
}

// configDigest fingerprints the run: the separation policy, the selection
// switches and the content of every input file. Equal digests mean two runs
// saw the same configuration and the same data.
func (p *Pipeline) configDigest() string {
	h := sha256.New()
	fmt.Fprintf(h, "policy=%#v\n", p.opts.Policy)
	fmt.Fprintf(h, "coverage=%t\n", p.opts.EnsureCoverage)
	fmt.Fprintf(h, "order=%s\n", p.opts.Order)
	fmt.Fprintf(h, "id_field=%s\n", p.opts.IDField)
	for _, path := range []string{p.opts.RegistryPath, p.opts.BoundariesPath, p.opts.PopulationPath} {
		if path == "" {
			continue
		}
		fmt.Fprintf(h, "file=%s\n", fileDigest(path))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// fileDigest hashes one input file. An unreadable file hashes its path
// instead; the loader will surface the real error.
func fileDigest(path string) string {
	f, err := os.Open(path)
	if err != nil {
		sum := sha256.Sum256([]byte(path))
		return hex.EncodeToString(sum[:])
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		sum := sha256.Sum256([]byte(path))
		return hex.EncodeToString(sum[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}
