package selection

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/alpenmeteo/townpick/internal/model"
)

// SeparationPolicy decides how much clear ground a label needs. The engine
// treats it as an injected pure function; all policy shape lives here.
type SeparationPolicy interface {
	// Separation returns the required distance in metres for the candidate.
	// neighbors is the number of other towns within DensityRadius, zero when
	// the policy declares no density radius.
	Separation(t model.Town, neighbors int) float64
	// DensityRadius tells the engine which neighborhood count to supply.
	// Zero means none is needed.
	DensityRadius() float64
	// Validate rejects malformed parameters before any town is processed.
	Validate() error
}

// ConstantPolicy applies one distance everywhere. Zero is legal and
// degenerates to rejecting only exactly coincident towns.
type ConstantPolicy struct {
	Distance float64 `yaml:"distance_m"`
}

func (p ConstantPolicy) Separation(model.Town, int) float64 { return p.Distance }

func (p ConstantPolicy) DensityRadius() float64 { return 0 }

func (p ConstantPolicy) Validate() error {
	if p.Distance < 0 {
		return eris.Wrapf(ErrInvalidConfig, "constant policy: negative distance %.2f", p.Distance)
	}
	return nil
}

// DensityPolicy widens the separation where towns crowd together: the
// required distance grows by Step for every other town within Radius,
// capped at Max.
type DensityPolicy struct {
	Base   float64 `yaml:"base_m"`
	Step   float64 `yaml:"step_m"`
	Max    float64 `yaml:"max_m"`
	Radius float64 `yaml:"radius_m"`
}

func (p DensityPolicy) Separation(_ model.Town, neighbors int) float64 {
	d := p.Base + float64(neighbors)*p.Step
	if p.Max > 0 && d > p.Max {
		return p.Max
	}
	return d
}

func (p DensityPolicy) DensityRadius() float64 { return p.Radius }

func (p DensityPolicy) Validate() error {
	switch {
	case p.Base < 0:
		return eris.Wrapf(ErrInvalidConfig, "density policy: negative base %.2f", p.Base)
	case p.Step < 0:
		return eris.Wrapf(ErrInvalidConfig, "density policy: negative step %.2f", p.Step)
	case p.Max < 0:
		return eris.Wrapf(ErrInvalidConfig, "density policy: negative max %.2f", p.Max)
	case p.Radius <= 0:
		return eris.Wrapf(ErrInvalidConfig, "density policy: radius must be positive, got %.2f", p.Radius)
	}
	return nil
}

// ScalePolicy ties the separation to the rendered map scale: a label that
// occupies LabelPx pixels at MetersPerPixel needs that much ground clear.
type ScalePolicy struct {
	MetersPerPixel float64 `yaml:"meters_per_pixel"`
	LabelPx        float64 `yaml:"label_px"`
}

func (p ScalePolicy) Separation(model.Town, int) float64 {
	return p.MetersPerPixel * p.LabelPx
}

func (p ScalePolicy) DensityRadius() float64 { return 0 }

func (p ScalePolicy) Validate() error {
	if p.MetersPerPixel <= 0 || p.LabelPx <= 0 {
		return eris.Wrapf(ErrInvalidConfig,
			"scale policy: meters_per_pixel and label_px must be positive, got %.2f and %.2f",
			p.MetersPerPixel, p.LabelPx)
	}
	return nil
}

// policyFile is the on-disk shape of a policy definition.
type policyFile struct {
	Policy struct {
		Kind     string         `yaml:"kind"`
		Constant ConstantPolicy `yaml:"constant"`
		Density  DensityPolicy  `yaml:"density"`
		Scale    ScalePolicy    `yaml:"scale"`
	} `yaml:"policy"`
}

// LoadPolicy reads a separation policy from a YAML file. The file has a
// top-level "policy" key with a kind of constant, density or scale and a
// matching parameter block.
func LoadPolicy(path string) (SeparationPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "selection: read policy %s", path)
	}

	var pf policyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, eris.Wrap(err, "selection: parse policy")
	}

	var policy SeparationPolicy
	switch pf.Policy.Kind {
	case "constant":
		policy = pf.Policy.Constant
	case "density":
		policy = pf.Policy.Density
	case "scale":
		policy = pf.Policy.Scale
	default:
		return nil, eris.Wrapf(ErrInvalidConfig, "selection: unknown policy kind %q", pf.Policy.Kind)
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return policy, nil
}
