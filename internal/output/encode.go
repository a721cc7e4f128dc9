package output

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/alpenmeteo/townpick/internal/model"
)

// Format names a label encoding.
type Format string

const (
	FormatJSON    Format = "json"
	FormatCSV     Format = "csv"
	FormatGeoJSON Format = "geojson"
)

// Encode writes the labels in the requested format.
func Encode(w io.Writer, labels []model.SelectedTown, format Format) error {
	switch format {
	case FormatJSON, "":
		return EncodeJSON(w, labels)
	case FormatCSV:
		return EncodeCSV(w, labels)
	case FormatGeoJSON:
		return EncodeGeoJSON(w, labels)
	default:
		return eris.Errorf("output: unknown format %q", format)
	}
}

// EncodeJSON writes the labels as an indented JSON array.
func EncodeJSON(w io.Writer, labels []model.SelectedTown) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(labels); err != nil {
		return eris.Wrap(err, "output: encode json")
	}
	return nil
}

// EncodeCSV writes the labels with a header row. Coordinates carry six
// decimals, about a tenth of a metre.
func EncodeCSV(w io.Writer, labels []model.SelectedTown) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"id", "name", "lat", "lon", "region_id", "rank", "forced_coverage"}); err != nil {
		return eris.Wrap(err, "output: write csv header")
	}
	for _, l := range labels {
		rec := []string{
			l.ID,
			l.Name,
			strconv.FormatFloat(l.Lat, 'f', 6, 64),
			strconv.FormatFloat(l.Lon, 'f', 6, 64),
			l.RegionID,
			strconv.Itoa(l.Rank),
			strconv.FormatBool(l.ForcedCoverage),
		}
		if err := cw.Write(rec); err != nil {
			return eris.Wrapf(err, "output: write csv row %s", l.ID)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return eris.Wrap(err, "output: flush csv")
	}
	return nil
}

// EncodeGeoJSON writes the labels as a FeatureCollection of points in
// longitude/latitude order, as GeoJSON wants them.
func EncodeGeoJSON(w io.Writer, labels []model.SelectedTown) error {
	features := make([]*geojson.Feature, 0, len(labels))
	for _, l := range labels {
		features = append(features, &geojson.Feature{
			ID:       l.ID,
			Geometry: geom.NewPointFlat(geom.XY, []float64{l.Lon, l.Lat}),
			Properties: map[string]interface{}{
				"name":            l.Name,
				"region_id":       l.RegionID,
				"rank":            l.Rank,
				"forced_coverage": l.ForcedCoverage,
			},
		})
	}
	fc := &geojson.FeatureCollection{Features: features}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(fc); err != nil {
		return eris.Wrap(err, "output: encode geojson")
	}
	return nil
}
