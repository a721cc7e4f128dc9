// Package monitoring aggregates recorded pick runs into health metrics and
// raises webhook alerts when data quality degrades.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/alpenmeteo/townpick/internal/store"
)

// MetricsSnapshot holds a point-in-time view of labeling activity.
type MetricsSnapshot struct {
	// Run metrics (within lookback window).
	RunsTotal      int     `json:"runs_total"`
	TownsProcessed int     `json:"towns_processed"`
	LabelsSelected int     `json:"labels_selected"`
	LabelsRejected int     `json:"labels_rejected"`
	ForcedCoverage int     `json:"forced_coverage"`
	OutOfRange     int     `json:"out_of_range"`
	Unassigned     int     `json:"unassigned"`
	AvgSelected    float64 `json:"avg_selected"`
	AvgDurationMS  int64   `json:"avg_duration_ms"`

	// Rates over all towns processed in the window.
	UnassignedRate float64 `json:"unassigned_rate"`
	OutOfRangeRate float64 `json:"out_of_range_rate"`

	// LastRunAt is the start time of the newest run in the window;
	// zero when the window is empty.
	LastRunAt time.Time `json:"last_run_at"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics from the run store.
type Collector struct {
	store store.Store
}

// NewCollector creates a new metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// Collect gathers a snapshot of run metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}

	cutoff := time.Now().UTC().Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.store.ListRuns(ctx, store.RunFilter{
		Since: cutoff,
		Limit: 10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunsTotal = len(runs)
	var totalDuration int64

	for _, r := range runs {
		snap.TownsProcessed += r.Stats.InputTowns
		snap.LabelsSelected += r.Stats.Selected
		snap.LabelsRejected += r.Stats.Rejected
		snap.ForcedCoverage += r.Stats.ForcedCoverage
		snap.OutOfRange += r.Stats.OutOfRange
		snap.Unassigned += r.Stats.Unassigned
		totalDuration += r.Stats.DurationMS
		if r.StartedAt.After(snap.LastRunAt) {
			snap.LastRunAt = r.StartedAt
		}
	}

	if snap.RunsTotal > 0 {
		snap.AvgSelected = float64(snap.LabelsSelected) / float64(snap.RunsTotal)
		snap.AvgDurationMS = totalDuration / int64(snap.RunsTotal)
	}
	if snap.TownsProcessed > 0 {
		snap.UnassignedRate = float64(snap.Unassigned) / float64(snap.TownsProcessed)
		snap.OutOfRangeRate = float64(snap.OutOfRange) / float64(snap.TownsProcessed)
	}

	return snap, nil
}
