// Package swissgrid converts between LV95 (CH1903+) planar survey
// coordinates and WGS84 geographic coordinates using the closed-form
// approximate series published by swisstopo ("Approximate formulas for the
// transformation between Swiss projection coordinates and WGS84"). The
// series is documented to stay within roughly one metre inside Switzerland,
// which is more than enough for placing labels on a weather map.
package swissgrid

import "github.com/rotisserie/eris"

// ErrOutOfRange flags a coordinate far outside the Swiss envelope. The bound
// is a sanity check on input data, not a strict geodetic boundary.
var ErrOutOfRange = eris.New("swissgrid: coordinate outside Swiss envelope")

// Bern fundamental point, origin of the LV95 grid.
const (
	originE = 2600000.0
	originN = 1200000.0
)

// Plausible LV95 envelope for Swiss territory, with margin on every side.
const (
	minE = 2450000.0
	maxE = 2850000.0
	minN = 1050000.0
	maxN = 1310000.0
)

// Matching WGS84 envelope for the inverse direction.
const (
	minLat = 45.5
	maxLat = 48.0
	minLon = 5.5
	maxLon = 11.0
)

// ToWGS84 converts LV95 easting/northing in metres to WGS84 latitude and
// longitude in decimal degrees.
func ToWGS84(e, n float64) (lat, lon float64, err error) {
	if e < minE || e > maxE || n < minN || n > maxN {
		return 0, 0, eris.Wrapf(ErrOutOfRange, "swissgrid: E=%.2f N=%.2f", e, n)
	}

	// Offsets from the fundamental point in units of 1000 km.
	y := (e - originE) / 1e6
	x := (n - originN) / 1e6

	lonP := 2.6779094 +
		4.728982*y +
		0.791484*y*x +
		0.1306*y*x*x -
		0.0436*y*y*y
	latP := 16.9023892 +
		3.238272*x -
		0.270978*y*y -
		0.002528*x*x -
		0.0447*y*y*x -
		0.0140*x*x*x

	// The primed series values are in units of 10000 sexagesimal seconds.
	return latP * 100 / 36, lonP * 100 / 36, nil
}

// ToLV95 converts WGS84 latitude/longitude in decimal degrees to LV95
// easting/northing in metres.
func ToLV95(lat, lon float64) (e, n float64, err error) {
	if lat < minLat || lat > maxLat || lon < minLon || lon > maxLon {
		return 0, 0, eris.Wrapf(ErrOutOfRange, "swissgrid: lat=%.6f lon=%.6f", lat, lon)
	}

	// Offsets from Bern in units of 10000 sexagesimal seconds.
	p := (lat*3600 - 169028.66) / 10000
	l := (lon*3600 - 26782.5) / 10000

	e = 2600072.37 +
		211455.93*l -
		10938.51*l*p -
		0.36*l*p*p -
		44.54*l*l*l
	n = 1200147.07 +
		308807.95*p +
		3745.25*l*l +
		76.63*p*p -
		194.56*l*l*p +
		119.79*p*p*p
	return e, n, nil
}

// HeightToWGS84 converts a Swiss levelled height (LN02, metres) at the given
// LV95 position to a WGS84 ellipsoidal height.
func HeightToWGS84(h, e, n float64) float64 {
	y := (e - originE) / 1e6
	x := (n - originN) / 1e6
	return h + 49.55 - 12.60*y - 22.64*x
}

// HeightToLV95 converts a WGS84 ellipsoidal height at the given geographic
// position back to a Swiss levelled height.
func HeightToLV95(h, lat, lon float64) float64 {
	p := (lat*3600 - 169028.66) / 10000
	l := (lon*3600 - 26782.5) / 10000
	return h - 49.55 + 2.73*l + 6.94*p
}
