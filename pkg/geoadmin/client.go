// Package geoadmin is a thin client for the federal geoportal REST API
// (api3.geo.admin.ch). The transform command uses it to cross-check local
// projection results against the authority; the core pipeline never calls
// out to it.
package geoadmin

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const (
	heightPath   = "/rest/services/height"
	identifyPath = "/rest/services/api/MapServer/identify"

	// communeLayer is the swissBOUNDARIES3D commune layer queried by
	// Identify.
	communeLayer = "ch.swisstopo.swissboundaries3d-gemeinde-flaeche.fill"
)

// Client calls the federal geoportal REST API.
type Client interface {
	// Height returns the surface height in metres at a LV95 point.
	Height(ctx context.Context, e, n float64) (float64, error)

	// Identify returns the commune covering a LV95 point, or nil when
	// none does.
	Identify(ctx context.Context, e, n float64) (*Commune, error)
}

// Commune is the administrative unit returned by Identify.
type Commune struct {
	Name string
	BFS  int
}

// Option configures the client.
type Option func(*client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) {
		c.httpClient = hc
	}
}

// WithRateLimit sets the requests-per-second limit. The geoportal asks for
// fair use; the default stays well under it.
func WithRateLimit(rps float64) Option {
	return func(c *client) {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

type client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a Client for the geoportal at baseURL.
func NewClient(baseURL string, opts ...Option) Client {
	c := &client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    rate.NewLimiter(5, 5),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// heightResponse is the JSON response of the height service. The height
// value arrives as a string.
type heightResponse struct {
	Height string `json:"height"`
}

func (c *client) Height(ctx context.Context, e, n float64) (float64, error) {
	params := url.Values{
		"easting":  {formatCoord(e)},
		"northing": {formatCoord(n)},
		"sr":       {"2056"},
	}

	body, err := c.get(ctx, heightPath, params, "height")
	if err != nil {
		return 0, err
	}

	var hr heightResponse
	if err := json.Unmarshal(body, &hr); err != nil {
		return 0, eris.Wrap(err, "geoadmin: parse height response")
	}

	h, err := strconv.ParseFloat(strings.TrimSpace(hr.Height), 64)
	if err != nil {
		return 0, eris.Wrapf(err, "geoadmin: parse height value %q", hr.Height)
	}
	return h, nil
}

// identifyResponse is the JSON response of the identify service, reduced to
// the commune attributes we read.
type identifyResponse struct {
	Results []struct {
		Attributes struct {
			Name string `json:"gemname"`
			BFS  int    `json:"bfs_nummer"`
		} `json:"attributes"`
	} `json:"results"`
}

func (c *client) Identify(ctx context.Context, e, n float64) (*Commune, error) {
	// tolerance=0 makes mapExtent and imageDisplay irrelevant, but the
	// service still requires them to be present.
	params := url.Values{
		"geometry":       {formatCoord(e) + "," + formatCoord(n)},
		"geometryType":   {"esriGeometryPoint"},
		"layers":         {"all:" + communeLayer},
		"tolerance":      {"0"},
		"mapExtent":      {"0,0,0,0"},
		"imageDisplay":   {"0,0,0"},
		"returnGeometry": {"false"},
		"sr":             {"2056"},
	}

	body, err := c.get(ctx, identifyPath, params, "identify")
	if err != nil {
		return nil, err
	}

	var ir identifyResponse
	if err := json.Unmarshal(body, &ir); err != nil {
		return nil, eris.Wrap(err, "geoadmin: parse identify response")
	}

	if len(ir.Results) == 0 {
		return nil, nil
	}
	attrs := ir.Results[0].Attributes
	return &Commune{Name: attrs.Name, BFS: attrs.BFS}, nil
}

func (c *client) get(ctx context.Context, path string, params url.Values, what string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrapf(err, "geoadmin: %s rate limit", what)
	}

	reqURL := c.baseURL + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "geoadmin: %s build request", what)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "geoadmin: %s request", what)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("geoadmin: %s returned status %d", what, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrapf(err, "geoadmin: %s read body", what)
	}
	return body, nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
