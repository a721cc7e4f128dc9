package model

import "time"

// SelectionState is the terminal-state machine for a town within one run.
// A town starts Unconsidered and moves exactly once, to Selected or Rejected.
type SelectionState string

const (
	StateUnconsidered SelectionState = "unconsidered"
	StateSelected     SelectionState = "selected"
	StateRejected     SelectionState = "rejected"
)

// RegionUnassigned marks a town that no boundary polygon contains.
// Gaps in the boundary data are expected and are not an error.
const RegionUnassigned = "unassigned"

// Town is one locality record from the postal registry. Planar coordinates
// are LV95 metres; Lat/Lon are derived from them and never supplied
// independently.
type Town struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	BFS        string         `json:"bfs,omitempty"`
	Canton     string         `json:"canton,omitempty"`
	PostalCode string         `json:"postal_code,omitempty"`
	Language   string         `json:"language,omitempty"`
	Importance float64        `json:"importance"`
	E          float64        `json:"e"`
	N          float64        `json:"n"`
	Lat        float64        `json:"lat,omitempty"`
	Lon        float64        `json:"lon,omitempty"`
	RegionID   string         `json:"region_id,omitempty"`
	State      SelectionState `json:"state,omitempty"`
}

// Point is a planar LV95 vertex.
type Point struct {
	E float64 `json:"e"`
	N float64 `json:"n"`
}

// BoundaryPolygon is one administrative region outline. Rings beyond the
// first are holes. Rings may arrive unclosed; consumers close them.
type BoundaryPolygon struct {
	RegionID string    `json:"region_id"`
	Rings    [][]Point `json:"rings"`
}

// SelectedTown is one label in the final output sequence.
type SelectedTown struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Lat            float64 `json:"lat"`
	Lon            float64 `json:"lon"`
	RegionID       string  `json:"region_id"`
	Rank           int     `json:"rank"`
	ForcedCoverage bool    `json:"forced_coverage"`
}

// RunStats counts what happened during one pick run.
type RunStats struct {
	InputTowns      int   `json:"input_towns"`
	OutOfRange      int   `json:"out_of_range"`
	PolygonsLoaded  int   `json:"polygons_loaded"`
	PolygonsDropped int   `json:"polygons_dropped"`
	Unassigned      int   `json:"unassigned"`
	Selected        int   `json:"selected"`
	Rejected        int   `json:"rejected"`
	ForcedCoverage  int   `json:"forced_coverage"`
	DurationMS      int64 `json:"duration_ms"`
}

// Run is one recorded pick invocation.
type Run struct {
	ID           string         `json:"id"`
	StartedAt    time.Time      `json:"started_at"`
	FinishedAt   time.Time      `json:"finished_at"`
	ConfigDigest string         `json:"config_digest"`
	Stats        RunStats       `json:"stats"`
	Labels       []SelectedTown `json:"labels,omitempty"`
}
