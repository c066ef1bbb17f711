package galaxyprops

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// HistCenterResult is the outcome of an iterative histogram refinement.
type HistCenterResult struct {
	Center     Vec3
	Iterations int
	Remaining  int // points left in the working subset
	Found      bool
}

// HistCenter finds the center of a particle distribution by iteratively
// refining a weighted 3-D histogram: the heaviest bin's center becomes the
// new center and the working set shrinks to the points within one bin
// width of it. It returns false for an empty cloud. A nil p uses
// NewHistCenterParams, and non-positive BinsPerAxis or MaxIterations take
// their defaults.
func HistCenter(positions []Vec3, weights []float64, p *HistCenterParams) (Vec3, bool) {
	r := RefineHistCenter(positions, weights, p)
	return r.Center, r.Found
}

// RefineHistCenter is HistCenter with iteration diagnostics.
func RefineHistCenter(positions []Vec3, weights []float64, p *HistCenterParams) HistCenterResult {
	checkLengths("HistCenter", len(positions), len(weights))
	p = p.withDefaults()
	if len(positions) == 0 {
		return HistCenterResult{}
	}

	pos, w := positions, weights
	res := HistCenterResult{Found: true}
	for res.Iterations == 0 || (len(pos) > p.MinPoints && res.Iterations < p.MaxIterations) {
		// An empty working set keeps the last center.
		if len(pos) == 0 {
			break
		}
		h := newHistogram3(pos, w, p.BinsPerAxis)
		res.Center = h.peakCenter(p.TieBreak)
		res.Iterations++

		n := len(pos)
		pos, w = withinRadius(pos, w, res.Center, h.minStep())
		if len(pos) == n {
			// Nothing was cut, so the next pass would repeat this one.
			break
		}
	}
	res.Remaining = len(pos)
	return res
}

// withinRadius returns the points strictly closer than r to c.
func withinRadius(positions []Vec3, weights []float64, c Vec3, r float64) ([]Vec3, []float64) {
	outPos := make([]Vec3, 0, len(positions))
	outW := make([]float64, 0, len(weights))
	for i, p := range positions {
		if Distance(p, c) < r {
			outPos = append(outPos, p)
			outW = append(outW, weights[i])
		}
	}
	return outPos, outW
}

// CenterOfMass returns the mass-weighted mean position. It returns false
// when the total mass is zero.
func CenterOfMass(positions []Vec3, masses []float64) (Vec3, bool) {
	checkLengths("CenterOfMass", len(positions), len(masses))
	total := floats.Sum(masses)
	if len(positions) == 0 || total <= 0 {
		return Vec3{}, false
	}
	var com Vec3
	for i, p := range positions {
		for k := 0; k < 3; k++ {
			com[k] += masses[i] * p[k]
		}
	}
	for k := range com {
		com[k] /= total
	}
	return com, true
}

// MaxDensity deposits the masses onto an ngrid^3 mesh covering the cloud's
// bounding cube with cloud-in-cell weights and returns the densest cell.
// A cloud with no spatial extent is given a unit-width cube.
func MaxDensity(positions []Vec3, masses []float64, ngrid int) (DensityPeak, bool) {
	checkLengths("MaxDensity", len(positions), len(masses))
	if len(positions) == 0 || ngrid < 1 {
		return DensityPeak{}, false
	}

	lo, hi := positions[0], positions[0]
	for _, p := range positions[1:] {
		for k := 0; k < 3; k++ {
			lo[k] = math.Min(lo[k], p[k])
			hi[k] = math.Max(hi[k], p[k])
		}
	}
	side := math.Max(hi[0]-lo[0], math.Max(hi[1]-lo[1], hi[2]-lo[2]))
	if side == 0 {
		side = 1
		for k := range lo {
			lo[k] -= 0.5
		}
	}
	dx := side / float64(ngrid)

	grid := make([]float64, ngrid*ngrid*ngrid)
	for i, p := range positions {
		var i0 [3]int
		var f [3]float64
		for k := 0; k < 3; k++ {
			u := (p[k]-lo[k])/dx - 0.5
			fl := math.Floor(u)
			i0[k], f[k] = int(fl), u-fl
		}
		for c := 0; c < 8; c++ {
			wgt := masses[i]
			var idx [3]int
			for k := 0; k < 3; k++ {
				if c&(1<<uint(k)) != 0 {
					idx[k] = clampIndex(i0[k]+1, ngrid)
					wgt *= f[k]
				} else {
					idx[k] = clampIndex(i0[k], ngrid)
					wgt *= 1 - f[k]
				}
			}
			grid[(idx[0]*ngrid+idx[1])*ngrid+idx[2]] += wgt
		}
	}

	best := floats.MaxIdx(grid)
	ix, iy, iz := best/(ngrid*ngrid), (best/ngrid)%ngrid, best%ngrid
	return DensityPeak{
		Density: grid[best] / (dx * dx * dx),
		Location: Vec3{
			lo[0] + (float64(ix)+0.5)*dx,
			lo[1] + (float64(iy)+0.5)*dx,
			lo[2] + (float64(iz)+0.5)*dx,
		},
	}, true
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// AngularMomentumDirection returns the unit vector along the weighted sum
// of (x - center) x v. It returns false when the sum vanishes.
func AngularMomentumDirection(positions, velocities []Vec3, weights []float64, center Vec3) (Vec3, bool) {
	checkLengths("AngularMomentumDirection", len(positions), len(weights))
	if len(velocities) != len(positions) {
		panic("galaxyprops: AngularMomentumDirection: len(positions) != len(velocities)")
	}
	var l Vec3
	for i := range positions {
		c := cross(sub(positions[i], center), velocities[i])
		for k := 0; k < 3; k++ {
			l[k] += weights[i] * c[k]
		}
	}
	n := norm(l)
	if n == 0 || math.IsNaN(n) {
		return Vec3{}, false
	}
	return Vec3{l[0] / n, l[1] / n, l[2] / n}, true
}
