package galaxyprops

import (
	"encoding/json"
	"fmt"
	"math"

	"golang.org/x/image/math/f64"
)

// Vec3 is a 3-D vector: a position, velocity, center or axis direction.
type Vec3 = f64.Vec3

// Mat3 is a row-major 3x3 matrix.
type Mat3 = f64.Mat3

// TieBreak selects how HistCenter resolves several histogram bins sharing
// the maximum weight.
type TieBreak int

const (
	// TieFirst takes the first maximal bin in row-major (x, y, z) order.
	TieFirst TieBreak = iota
	// TieMean takes the mean of the centers of all maximal bins.
	TieMean
)

func (t TieBreak) String() string {
	switch t {
	case TieFirst:
		return "first"
	case TieMean:
		return "mean"
	default:
		return "unknown"
	}
}

// HistCenterParams contains the tunable constants of the iterative
// histogram center refinement.
type HistCenterParams struct {
	BinsPerAxis   int
	MinPoints     int // refinement continues while more points than this remain
	MaxIterations int
	TieBreak      TieBreak
}

// NewHistCenterParams creates a HistCenterParams with default values.
func NewHistCenterParams() *HistCenterParams {
	return &HistCenterParams{
		BinsPerAxis:   3,
		MinPoints:     10,
		MaxIterations: 100,
		TieBreak:      TieFirst,
	}
}

func (p *HistCenterParams) withDefaults() *HistCenterParams {
	d := NewHistCenterParams()
	if p == nil {
		return d
	}
	c := *p
	if c.BinsPerAxis < 1 {
		c.BinsPerAxis = d.BinsPerAxis
	}
	if c.MaxIterations < 1 {
		c.MaxIterations = d.MaxIterations
	}
	return &c
}

// ShapeParams controls the radius ladder of a shape profile.
type ShapeParams struct {
	NRad int
	// RMax is the outermost radius. Zero means the largest particle radius.
	RMax float64
	// InnerFraction is the innermost radius as a fraction of RMax.
	InnerFraction float64
}

// NewShapeParams creates a ShapeParams with default values.
func NewShapeParams() *ShapeParams {
	return &ShapeParams{
		NRad:          10,
		RMax:          0,
		InnerFraction: 0.1,
	}
}

// AxisFit is the result of an ellipsoid fit at one radius.
type AxisFit struct {
	CToA, BToA float64
	// Axes are unit vectors ordered major, intermediate, minor.
	Axes [3]Vec3
	// Enclosed is the number of particles inside the final ellipsoid.
	Enclosed   int
	Iterations int
}

func (f *AxisFit) String() string {
	return fmt.Sprintf("{CToA=%f, BToA=%f, Axes=%v, Enclosed=%d, Iterations=%d}",
		f.CToA, f.BToA, f.Axes, f.Enclosed, f.Iterations)
}

// ShapeSample is the shape measurement at a single radius. When Resolved is
// false the axis ratios are undefined and Axes is empty.
type ShapeSample struct {
	Radius   float64
	CToA     float64
	BToA     float64
	Axes     []Vec3
	Resolved bool
}

func (s ShapeSample) String() string {
	if !s.Resolved {
		return fmt.Sprintf("{Radius=%f, unresolved}", s.Radius)
	}
	return fmt.Sprintf("{Radius=%f, CToA=%f, BToA=%f, Axes=%v}", s.Radius, s.CToA, s.BToA, s.Axes)
}

type shapeSampleJSON struct {
	Radius float64      `json:"radius"`
	CToA   *float64     `json:"c_to_a"`
	BToA   *float64     `json:"b_to_a"`
	Axes   [][3]float64 `json:"axes"`
}

// MarshalJSON writes unresolved ratios as null and their axes as [].
func (s ShapeSample) MarshalJSON() ([]byte, error) {
	out := shapeSampleJSON{Radius: s.Radius, Axes: make([][3]float64, 0, len(s.Axes))}
	if s.Resolved {
		c, b := s.CToA, s.BToA
		out.CToA, out.BToA = &c, &b
		for _, a := range s.Axes {
			out.Axes = append(out.Axes, [3]float64(a))
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (s *ShapeSample) UnmarshalJSON(data []byte) error {
	var in shapeSampleJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*s = ShapeSample{Radius: in.Radius}
	if in.CToA == nil || in.BToA == nil {
		return nil
	}
	s.CToA, s.BToA, s.Resolved = *in.CToA, *in.BToA, true
	for _, a := range in.Axes {
		s.Axes = append(s.Axes, Vec3(a))
	}
	return nil
}

// ShapeProfile is a sequence of shape samples at strictly increasing radii.
type ShapeProfile struct {
	Samples []ShapeSample `json:"samples"`
}

func (p *ShapeProfile) Len() int { return len(p.Samples) }

// Radii returns the radius of every sample.
func (p *ShapeProfile) Radii() []float64 {
	out := make([]float64, len(p.Samples))
	for i, s := range p.Samples {
		out[i] = s.Radius
	}
	return out
}

// CToA returns c/a for every sample, NaN where unresolved. Callers that
// need the resolution flag should read Samples directly.
func (p *ShapeProfile) CToA() []float64 {
	out := make([]float64, len(p.Samples))
	for i, s := range p.Samples {
		out[i] = math.NaN()
		if s.Resolved {
			out[i] = s.CToA
		}
	}
	return out
}

// BToA returns b/a for every sample, NaN where unresolved.
func (p *ShapeProfile) BToA() []float64 {
	out := make([]float64, len(p.Samples))
	for i, s := range p.Samples {
		out[i] = math.NaN()
		if s.Resolved {
			out[i] = s.BToA
		}
	}
	return out
}

// Resolved returns the number of resolved samples.
func (p *ShapeProfile) Resolved() int {
	n := 0
	for _, s := range p.Samples {
		if s.Resolved {
			n++
		}
	}
	return n
}

// DensityPeak is the location and value of a deposited density maximum.
type DensityPeak struct {
	Density  float64 `json:"density"` // mass per unit volume
	Location Vec3    `json:"location"`
}

// MassProfile is a cumulative mass profile: Mass[i] is the mass enclosed
// within Radii[i].
type MassProfile struct {
	Radii []float64 `json:"radii"`
	Mass  []float64 `json:"mass"`
}

// DensityProfile is a binned spherical density profile.
type DensityProfile struct {
	Radii   []float64 `json:"radii"`   // outer bin edges
	Mass    []float64 `json:"mass"`    // mass in each bin
	Density []float64 `json:"density"` // Mass over shell volume
	Count   []float64 `json:"count"`   // cumulative particle count
}

func sub(a, b Vec3) Vec3 { return Vec3{a[0] - b[0], a[1] - b[1], a[2] - b[2]} }

func dot(a, b Vec3) float64 { return a[0]*b[0] + a[1]*b[1] + a[2]*b[2] }

func norm(a Vec3) float64 { return math.Sqrt(dot(a, a)) }

func cross(a, b Vec3) Vec3 {
	return Vec3{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

// Distance returns the Euclidean distance between a and b.
func Distance(a, b Vec3) float64 { return norm(sub(a, b)) }

func checkLengths(what string, n, m int) {
	if n != m {
		panic(fmt.Sprintf("galaxyprops: %s: len(positions) = %d, but len(weights) = %d", what, n, m))
	}
}
