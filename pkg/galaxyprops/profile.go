package galaxyprops

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// TotalMass sums the masses of a selection.
func TotalMass(masses []float64) float64 {
	return floats.Sum(masses)
}

// CumulativeMassProfile bins the particles within rmax of center into
// nbins logarithmic radial bins and accumulates them, so Mass[i] is the
// mass inside Radii[i]. The innermost edge is the smallest non-zero
// particle radius; particles closer than that land in the first bin.
func CumulativeMassProfile(center Vec3, positions []Vec3, masses []float64, rmax float64, nbins int) MassProfile {
	checkLengths("CumulativeMassProfile", len(positions), len(masses))
	if nbins < 1 || rmax <= 0 {
		return MassProfile{}
	}

	radii := make([]float64, len(positions))
	rmin := math.Inf(1)
	for i, p := range positions {
		radii[i] = Distance(p, center)
		if radii[i] > 0 && radii[i] <= rmax {
			rmin = math.Min(rmin, radii[i])
		}
	}
	if math.IsInf(rmin, 1) || rmin >= rmax {
		rmin = rmax * 1e-3
	}

	edges := floats.LogSpan(make([]float64, nbins+1), rmin, rmax)
	mass := make([]float64, nbins)
	for i, r := range radii {
		if r > rmax {
			continue
		}
		mass[logBin(edges, r)] += masses[i]
	}
	floats.CumSum(mass, mass)

	return MassProfile{Radii: edges[1:], Mass: mass}
}

// HalfMassRadius returns the first profile radius enclosing at least half
// of the profile's final mass. It returns false for an empty or massless
// profile.
func HalfMassRadius(p MassProfile) (float64, bool) {
	if len(p.Mass) == 0 {
		return 0, false
	}
	half := 0.5 * floats.Max(p.Mass)
	if half <= 0 {
		return 0, false
	}
	for i, m := range p.Mass {
		if m >= half {
			return p.Radii[i], true
		}
	}
	return 0, false
}

// NewDensityProfile bins the particles around center into nbins logarithmic
// shells between rin and rout. Particles outside the range are collected
// into the end bins. The innermost bin's density is taken over the whole
// sphere it bounds.
func NewDensityProfile(center Vec3, positions []Vec3, masses []float64, rin, rout float64, nbins int) DensityProfile {
	checkLengths("NewDensityProfile", len(positions), len(masses))
	if nbins < 1 || rin <= 0 || rout <= rin {
		return DensityProfile{}
	}

	edges := floats.LogSpan(make([]float64, nbins+1), rin, rout)
	prof := DensityProfile{
		Radii:   edges[1:],
		Mass:    make([]float64, nbins),
		Density: make([]float64, nbins),
		Count:   make([]float64, nbins),
	}
	for i, p := range positions {
		b := logBin(edges, Distance(p, center))
		prof.Mass[b] += masses[i]
		prof.Count[b]++
	}
	floats.CumSum(prof.Count, prof.Count)

	for k := range prof.Mass {
		outer := edges[k+1]
		vol := 4.0 / 3.0 * math.Pi * outer * outer * outer
		if k > 0 {
			inner := edges[k]
			vol -= 4.0 / 3.0 * math.Pi * inner * inner * inner
		}
		prof.Density[k] = prof.Mass[k] / vol
	}
	return prof
}

// logBin returns the bin of r among logarithmic edges, clamped to the end
// bins.
func logBin(edges []float64, r float64) int {
	n := len(edges) - 1
	if r <= edges[0] {
		return 0
	}
	if r >= edges[n] {
		return n - 1
	}
	lo, hi := math.Log(edges[0]), math.Log(edges[n])
	b := int((math.Log(r) - lo) / (hi - lo) * float64(n))
	// Rounding in the logarithm can land one bin off near an edge.
	if b > 0 && r < edges[b] {
		b--
	} else if b < n-1 && r >= edges[b+1] {
		b++
	}
	return clampIndex(b, n)
}
