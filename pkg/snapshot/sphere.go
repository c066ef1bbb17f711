package snapshot

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Particles is a selection of particles of one or more species, in
// physical units.
type Particles struct {
	Positions  []Vec3    // kpc
	Velocities []Vec3    // km/s
	Masses     []float64 // Msun
	IDs        []uint64
	// Density is the gas density in Msun/kpc^3. It is nil for other
	// species and for snapshots without a RHO block.
	Density []float64
}

func (p *Particles) Len() int { return len(p.Positions) }

// TotalMass sums the selected masses.
func (p *Particles) TotalMass() float64 { return floats.Sum(p.Masses) }

// Sphere selects the particles of species sp within radius of center,
// using minimum-image distances in the periodic box. Positions are
// returned unwrapped around center, so a sphere straddling the box edge
// comes back contiguous.
func (s *Gadget2) Sphere(sp Species, center Vec3, radius float64) (*Particles, error) {
	if !sp.valid() {
		return nil, fmt.Errorf("snapshot: unknown species %d", int(sp))
	}
	if !(radius > 0) || math.IsInf(radius, 0) {
		return nil, fmt.Errorf("snapshot: invalid sphere radius %g", radius)
	}

	out := &Particles{}
	withRho := sp == Gas && s.rho != nil
	r2 := radius * radius
	for i, x := range s.pos[sp] {
		d := minImage(Vec3{x[0] - center[0], x[1] - center[1], x[2] - center[2]}, s.box)
		if d[0]*d[0]+d[1]*d[1]+d[2]*d[2] > r2 {
			continue
		}
		out.Positions = append(out.Positions, Vec3{center[0] + d[0], center[1] + d[1], center[2] + d[2]})
		out.Velocities = append(out.Velocities, s.vel[sp][i])
		out.Masses = append(out.Masses, s.mass[sp][i])
		out.IDs = append(out.IDs, s.ids[sp][i])
		if withRho {
			out.Density = append(out.Density, s.rho[i])
		}
	}
	return out, nil
}

// SphereAll selects the particles of every species within radius of
// center. Density is left nil.
func (s *Gadget2) SphereAll(center Vec3, radius float64) (*Particles, error) {
	all := &Particles{}
	for t := Species(0); t < NTypes; t++ {
		p, err := s.Sphere(t, center, radius)
		if err != nil {
			return nil, err
		}
		all.Positions = append(all.Positions, p.Positions...)
		all.Velocities = append(all.Velocities, p.Velocities...)
		all.Masses = append(all.Masses, p.Masses...)
		all.IDs = append(all.IDs, p.IDs...)
	}
	return all, nil
}

// minImage maps each component of a separation into [-box/2, box/2].
func minImage(d Vec3, box float64) Vec3 {
	if box <= 0 {
		return d
	}
	for k := range d {
		d[k] -= box * math.Round(d[k]/box)
	}
	return d
}
