package galaxyprops

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

var (
	// ErrInsufficientPoints is returned by a ShapeFitter when too few
	// particles are enclosed to fit an ellipsoid at the requested radius.
	ErrInsufficientPoints = errors.New("galaxyprops: not enough particles to fit a shape")

	errEigen = errors.New("galaxyprops: eigen decomposition failed")
)

// ShapeFitter fits an ellipsoid to center-relative positions, considering
// only the particles within radius r. Sparse input must be reported with an
// error wrapping ErrInsufficientPoints.
type ShapeFitter interface {
	Fit(rel []Vec3, r float64) (*AxisFit, error)
}

// IterativeFitter measures axis ratios from the second-moment tensor of the
// particles inside an ellipsoid whose major semi-axis is fixed at r. The
// ellipsoid starts as a sphere and is reshaped to the measured axes until
// the ratios converge. Non-positive fields take the NewIterativeFitter
// defaults.
type IterativeFitter struct {
	MinParticles int
	// MinOuterParticles is the number of particles required in the outer
	// half of the final ellipsoid. Below it the fit describes the interior
	// rather than radius r.
	MinOuterParticles int
	MaxIterations     int
	Tolerance         float64 // relative change in both ratios
	// NoiseScale widens Tolerance to NoiseScale/sqrt(N) for N enclosed
	// particles. Changes below the sampling noise of the tensor count as
	// converged, otherwise reshaping a finite sample keeps shrinking it.
	NoiseScale float64
}

// NewIterativeFitter creates an IterativeFitter with default values.
func NewIterativeFitter() *IterativeFitter {
	return &IterativeFitter{
		MinParticles:      10,
		MinOuterParticles: 1,
		MaxIterations:     100,
		Tolerance:         1e-3,
		NoiseScale:        3,
	}
}

func (f *IterativeFitter) withDefaults() IterativeFitter {
	c, d := *f, NewIterativeFitter()
	if c.MinParticles < 1 {
		c.MinParticles = d.MinParticles
	}
	if c.MinOuterParticles < 0 {
		c.MinOuterParticles = 0
	}
	if c.MaxIterations < 1 {
		c.MaxIterations = d.MaxIterations
	}
	if c.Tolerance <= 0 {
		c.Tolerance = d.Tolerance
	}
	if c.NoiseScale <= 0 {
		c.NoiseScale = d.NoiseScale
	}
	return c
}

// Fit implements ShapeFitter.
func (f *IterativeFitter) Fit(rel []Vec3, r float64) (*AxisFit, error) {
	cfg := f.withDefaults()
	f = &cfg
	if r <= 0 {
		return nil, fmt.Errorf("%w: non-positive radius %g", ErrInsufficientPoints, r)
	}

	q, s := 1.0, 1.0
	axes := [3]Vec3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	r2 := r * r
	fit := &AxisFit{}
	inside := make([]Vec3, 0, len(rel))

	for it := 1; it <= f.MaxIterations; it++ {
		inside = inside[:0]
		for _, p := range rel {
			if ellipticalRadius2(p, axes, q, s) <= r2 {
				inside = append(inside, p)
			}
		}
		if len(inside) < f.MinParticles {
			return nil, fmt.Errorf("%w: %d inside r = %g", ErrInsufficientPoints, len(inside), r)
		}

		vals, vecs, err := symEigen(shapeTensor(inside))
		if err != nil {
			return nil, err
		}
		vals, vecs = sortEigen(vals, vecs)
		if vals[2] <= 0 {
			return nil, fmt.Errorf("%w: degenerate distribution inside r = %g", ErrInsufficientPoints, r)
		}

		qNew, sNew := math.Sqrt(vals[1]/vals[0]), math.Sqrt(vals[2]/vals[0])
		tol := math.Max(f.Tolerance, f.NoiseScale/math.Sqrt(float64(len(inside))))
		converged := math.Abs(qNew-q) <= tol*q && math.Abs(sNew-s) <= tol*s
		q, s, axes = qNew, sNew, vecs
		fit.Iterations = it
		if converged {
			break
		}
	}

	enclosed, outer := 0, 0
	for _, p := range rel {
		d2 := ellipticalRadius2(p, axes, q, s)
		if d2 > r2 {
			continue
		}
		enclosed++
		if d2 >= r2/4 {
			outer++
		}
	}
	if enclosed < f.MinParticles {
		return nil, fmt.Errorf("%w: %d inside r = %g", ErrInsufficientPoints, enclosed, r)
	}
	if outer < f.MinOuterParticles {
		return nil, fmt.Errorf("%w: %d in the outer half of r = %g", ErrInsufficientPoints, outer, r)
	}

	fit.BToA, fit.CToA = q, s
	fit.Axes = axes
	fit.Enclosed = enclosed
	return fit, nil
}

// ellipticalRadius2 is the squared ellipsoidal distance of p for an
// ellipsoid with axes a, q*a, s*a along the given directions.
func ellipticalRadius2(p Vec3, axes [3]Vec3, q, s float64) float64 {
	x, y, z := dot(p, axes[0]), dot(p, axes[1])/q, dot(p, axes[2])/s
	return x*x + y*y + z*z
}

func shapeTensor(points []Vec3) Mat3 {
	var m Mat3
	for _, p := range points {
		for i := 0; i < 3; i++ {
			for j := i; j < 3; j++ {
				m[3*i+j] += p[i] * p[j]
			}
		}
	}
	n := float64(len(points))
	for i := 0; i < 3; i++ {
		for j := i; j < 3; j++ {
			m[3*i+j] /= n
			m[3*j+i] = m[3*i+j]
		}
	}
	return m
}

// sortEigen orders eigenpairs by decreasing eigenvalue and gives every
// eigenvector a positive largest component.
func sortEigen(vals [3]float64, vecs [3]Vec3) ([3]float64, [3]Vec3) {
	idx := []int{0, 1, 2}
	sort.SliceStable(idx, func(i, j int) bool { return vals[idx[i]] > vals[idx[j]] })

	var outVals [3]float64
	var outVecs [3]Vec3
	for i, k := range idx {
		outVals[i] = vals[k]
		v := vecs[k]
		n := norm(v)
		big := 0
		for c := 1; c < 3; c++ {
			if math.Abs(v[c]) > math.Abs(v[big]) {
				big = c
			}
		}
		if v[big] < 0 {
			n = -n
		}
		outVecs[i] = Vec3{v[0] / n, v[1] / n, v[2] / n}
	}
	return outVals, outVecs
}

// RadiusLadder returns n radii linearly spaced from lo to hi inclusive. A
// single radius is lo.
func RadiusLadder(n int, lo, hi float64) []float64 {
	switch {
	case n <= 0:
		return []float64{}
	case n == 1:
		return []float64{lo}
	}
	return floats.Span(make([]float64, n), lo, hi)
}

// Shapes measures the shape of a particle distribution around center at
// p.NRad radii spanning p.InnerFraction*rmax to rmax. Radii where the
// fitter reports too few particles are returned unresolved; any other
// fitter error aborts the profile. Fewer than two particles give an empty
// profile. Nil p or fit use the defaults.
func Shapes(center Vec3, positions []Vec3, p *ShapeParams, fit ShapeFitter) (*ShapeProfile, error) {
	if p == nil {
		p = NewShapeParams()
	}
	if fit == nil {
		fit = NewIterativeFitter()
	}

	rel := make([]Vec3, len(positions))
	rObs := 0.0
	for i, x := range positions {
		rel[i] = sub(x, center)
		rObs = math.Max(rObs, norm(rel[i]))
	}

	profile := &ShapeProfile{Samples: []ShapeSample{}}
	if len(rel) < 2 {
		return profile, nil
	}

	rmax := p.RMax
	if rmax <= 0 {
		rmax = rObs
	}
	for _, r := range RadiusLadder(p.NRad, p.InnerFraction*rmax, rmax) {
		sample := ShapeSample{Radius: r}
		res, err := fit.Fit(rel, r)
		switch {
		case errors.Is(err, ErrInsufficientPoints):
		case err != nil:
			return nil, fmt.Errorf("fitting shape at r = %g: %w", r, err)
		default:
			sample.CToA, sample.BToA = res.CToA, res.BToA
			sample.Axes = []Vec3{res.Axes[0], res.Axes[1], res.Axes[2]}
			sample.Resolved = true
		}
		profile.Samples = append(profile.Samples, sample)
	}
	return profile, nil
}
