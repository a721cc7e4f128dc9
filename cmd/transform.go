package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/alpenmeteo/townpick/internal/swissgrid"
	"github.com/alpenmeteo/townpick/pkg/geoadmin"
)

var (
	transformInverse   bool
	transformJSON      bool
	transformCheck     bool
	transformFile      string
	transformHeightVal float64
)

// point is one coordinate pair to convert, with an optional height.
type point struct {
	a, b float64
	h    *float64
}

// transformResult is one converted point. Forward conversions fill Lat/Lon
// from E/N, inverse conversions the other way around.
type transformResult struct {
	E            float64  `json:"e"`
	N            float64  `json:"n"`
	Lat          float64  `json:"lat"`
	Lon          float64  `json:"lon"`
	Height       *float64 `json:"height,omitempty"`
	CheckHeight  *float64 `json:"check_height,omitempty"`
	CheckCommune string   `json:"check_commune,omitempty"`
	CheckBFS     int      `json:"check_bfs,omitempty"`
	Error        string   `json:"error,omitempty"`
}

var transformCmd = &cobra.Command{
	Use:   "transform [E N [H]]",
	Short: "Convert between LV95 and WGS84 coordinates",
	Long: `Converts LV95 easting/northing to WGS84 latitude/longitude (or the
other way around with --inverse), optionally including the height term.
Coordinates come from the arguments or, with --file, from a semicolon
separated CSV file ("-" reads stdin). With --check the forward result is
compared against the federal geoportal.`,
	Args: cobra.RangeArgs(0, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var points []point
		switch {
		case transformFile != "":
			if len(args) > 0 {
				return eris.New("transform: pass coordinates or --file, not both")
			}
			pts, err := readPointsFile(transformFile)
			if err != nil {
				return err
			}
			points = pts
		case len(args) >= 2:
			pt, err := parsePointArgs(args)
			if err != nil {
				return err
			}
			points = []point{pt}
		default:
			return eris.New("transform: expected E N [H] arguments or --file")
		}

		if cmd.Flags().Changed("height") {
			h := transformHeightVal
			for i := range points {
				if points[i].h == nil {
					points[i].h = &h
				}
			}
		}

		var checker geoadmin.Client
		if transformCheck {
			if transformInverse {
				return eris.New("transform: --check only applies to the forward direction")
			}
			checker = geoadmin.NewClient(cfg.GeoAdmin.BaseURL,
				geoadmin.WithRateLimit(cfg.GeoAdmin.RatePerSec))
		}

		results := make([]transformResult, 0, len(points))
		for _, pt := range points {
			res, err := convertPoint(pt, transformInverse)
			if err != nil {
				if len(points) == 1 {
					return err
				}
				res.Error = err.Error()
			} else if checker != nil {
				applyCheck(ctx, checker, &res)
			}
			results = append(results, res)
		}

		if transformJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if len(results) == 1 {
				return enc.Encode(results[0])
			}
			return enc.Encode(results)
		}
		for _, r := range results {
			fmt.Println(formatTransformText(r, transformInverse))
		}
		return nil
	},
}

// convertPoint converts one point. The input pair is echoed in the result
// even when the conversion fails, so batch rows can report per-row errors.
func convertPoint(pt point, inverse bool) (transformResult, error) {
	if inverse {
		res := transformResult{Lat: pt.a, Lon: pt.b}
		e, n, err := swissgrid.ToLV95(pt.a, pt.b)
		if err != nil {
			return res, err
		}
		res.E, res.N = e, n
		if pt.h != nil {
			h := swissgrid.HeightToLV95(*pt.h, pt.a, pt.b)
			res.Height = &h
		}
		return res, nil
	}

	res := transformResult{E: pt.a, N: pt.b}
	lat, lon, err := swissgrid.ToWGS84(pt.a, pt.b)
	if err != nil {
		return res, err
	}
	res.Lat, res.Lon = lat, lon
	if pt.h != nil {
		h := swissgrid.HeightToWGS84(*pt.h, pt.a, pt.b)
		res.Height = &h
	}
	return res, nil
}

// applyCheck annotates a forward result with the geoportal's surface height
// and commune for the same point. Check failures are advisory.
func applyCheck(ctx context.Context, c geoadmin.Client, res *transformResult) {
	if h, err := c.Height(ctx, res.E, res.N); err != nil {
		zap.L().Warn("geoadmin height check failed", zap.Error(err))
	} else {
		res.CheckHeight = &h
	}
	commune, err := c.Identify(ctx, res.E, res.N)
	if err != nil {
		zap.L().Warn("geoadmin identify check failed", zap.Error(err))
		return
	}
	if commune != nil {
		res.CheckCommune = commune.Name
		res.CheckBFS = commune.BFS
	}
}

func parsePointArgs(args []string) (point, error) {
	var pt point
	a, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return pt, eris.Wrapf(err, "transform: parse coordinate %q", args[0])
	}
	b, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return pt, eris.Wrapf(err, "transform: parse coordinate %q", args[1])
	}
	pt.a, pt.b = a, b
	if len(args) == 3 {
		h, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			return pt, eris.Wrapf(err, "transform: parse height %q", args[2])
		}
		pt.h = &h
	}
	return pt, nil
}

func readPointsFile(path string) ([]point, error) {
	if path == "-" {
		return readPoints(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "transform: open %s", path)
	}
	defer func() { _ = f.Close() }()
	return readPoints(f)
}

// readPoints parses semicolon separated rows of two or three coordinates.
// A non-numeric first row is treated as a header.
func readPoints(r io.Reader) ([]point, error) {
	reader := csv.NewReader(r)
	reader.Comma = ';'
	reader.FieldsPerRecord = -1

	var points []point
	row := 0
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "transform: read points")
		}
		row++

		if len(rec) < 2 {
			return nil, eris.Errorf("transform: row %d: want at least two columns", row)
		}
		a, errA := strconv.ParseFloat(strings.TrimSpace(rec[0]), 64)
		b, errB := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		if errA != nil || errB != nil {
			if row == 1 {
				continue
			}
			return nil, eris.Errorf("transform: row %d: unparsable coordinates", row)
		}
		pt := point{a: a, b: b}
		if len(rec) >= 3 && strings.TrimSpace(rec[2]) != "" {
			h, errH := strconv.ParseFloat(strings.TrimSpace(rec[2]), 64)
			if errH != nil {
				return nil, eris.Errorf("transform: row %d: unparsable height", row)
			}
			pt.h = &h
		}
		points = append(points, pt)
	}
	if len(points) == 0 {
		return nil, eris.New("transform: no points in input")
	}
	return points, nil
}

func formatTransformText(r transformResult, inverse bool) string {
	var sb strings.Builder
	if r.Error != "" {
		if inverse {
			fmt.Fprintf(&sb, "%.6f %.6f -> error: %s", r.Lat, r.Lon, r.Error)
		} else {
			fmt.Fprintf(&sb, "%.2f %.2f -> error: %s", r.E, r.N, r.Error)
		}
		return sb.String()
	}

	if inverse {
		fmt.Fprintf(&sb, "%.6f %.6f -> %.2f %.2f", r.Lat, r.Lon, r.E, r.N)
	} else {
		fmt.Fprintf(&sb, "%.2f %.2f -> %.6f %.6f", r.E, r.N, r.Lat, r.Lon)
	}
	if r.Height != nil {
		fmt.Fprintf(&sb, " h=%.2f", *r.Height)
	}
	if r.CheckHeight != nil || r.CheckCommune != "" {
		sb.WriteString(" | geoadmin")
		if r.CheckHeight != nil {
			fmt.Fprintf(&sb, " h=%.2f", *r.CheckHeight)
		}
		if r.CheckCommune != "" {
			fmt.Fprintf(&sb, " commune=%s (%d)", r.CheckCommune, r.CheckBFS)
		}
	}
	return sb.String()
}

func init() {
	transformCmd.Flags().BoolVar(&transformInverse, "inverse", false, "convert WGS84 to LV95 instead")
	transformCmd.Flags().BoolVar(&transformJSON, "json", false, "emit JSON instead of text")
	transformCmd.Flags().BoolVar(&transformCheck, "check", false, "cross-check the result against the federal geoportal")
	transformCmd.Flags().StringVar(&transformFile, "file", "", `semicolon separated points file ("-" for stdin)`)
	transformCmd.Flags().Float64Var(&transformHeightVal, "height", 0, "height value to convert alongside the coordinates")
	rootCmd.AddCommand(transformCmd)
}
