package snapshot

import (
	"fmt"
	"math"

	"golang.org/x/image/math/f64"
)

// Vec3 is a position or velocity.
type Vec3 = f64.Vec3

// NTypes is the number of Gadget-2 particle types.
const NTypes = 6

const gadget2HeaderSize = 256

// Species is a Gadget-2 particle type.
type Species int

const (
	Gas        Species = 0
	DarkMatter Species = 1
	Stars      Species = 4
)

func (s Species) String() string {
	switch s {
	case Gas:
		return "gas"
	case DarkMatter:
		return "dm"
	case Stars:
		return "stars"
	default:
		return fmt.Sprintf("type%d", int(s))
	}
}

func (s Species) valid() bool { return s >= 0 && s < NTypes }

// ParseSpecies is the inverse of Species.String.
func ParseSpecies(name string) (Species, error) {
	switch name {
	case "gas":
		return Gas, nil
	case "dm":
		return DarkMatter, nil
	case "stars":
		return Stars, nil
	}
	var t int
	if _, err := fmt.Sscanf(name, "type%d", &t); err == nil && Species(t).valid() {
		return Species(t), nil
	}
	return 0, fmt.Errorf("snapshot: unknown species %q", name)
}

// gadget2Header is the on-disk layout of the 256-byte HEAD block.
type gadget2Header struct {
	NPart                                     [6]uint32
	Mass                                      [6]float64
	Time, Redshift                            float64
	FlagSfr, FlagFeedback                     int32
	NPartTotal                                [6]uint32
	FlagCooling, NumFiles                     int32
	BoxSize, Omega0, OmegaLambda, HubbleParam float64
	FlagStellarAge, HashTabSize               int32

	Padding [88]byte
}

// Header is the cosmological and bookkeeping information of a snapshot.
// BoxSize and MassTable are in code units.
type Header struct {
	Time, Redshift float64
	Scale          float64 // 1 / (1 + Redshift)
	BoxSize        float64
	OmegaM, OmegaL float64
	H100           float64
	NumFiles       int
	NPart          [NTypes]int // summed over all files
	MassTable      [NTypes]float64
}

func (gh *gadget2Header) convert() Header {
	hd := Header{
		Time:      gh.Time,
		Redshift:  gh.Redshift,
		Scale:     1 / (1 + gh.Redshift),
		BoxSize:   gh.BoxSize,
		OmegaM:    gh.Omega0,
		OmegaL:    gh.OmegaLambda,
		H100:      gh.HubbleParam,
		NumFiles:  int(gh.NumFiles),
		MassTable: gh.Mass,
	}
	for t := range gh.NPartTotal {
		hd.NPart[t] = int(gh.NPartTotal[t])
	}
	if hd.NumFiles < 1 {
		hd.NumFiles = 1
	}
	return hd
}

// Units are the code-unit factors of a snapshot. Lengths are comoving.
type Units struct {
	LengthKpcH  float64 // kpc/h per code length
	MassMsunH   float64 // Msun/h per code mass
	VelocityKms float64 // km/s per code velocity
}

// NewUnits returns the standard cosmological Gadget-2 units.
func NewUnits() Units {
	return Units{LengthKpcH: 1, MassMsunH: 1e10, VelocityKms: 1}
}

func (u Units) orDefault() Units {
	d := NewUnits()
	if u.LengthKpcH <= 0 {
		u.LengthKpcH = d.LengthKpcH
	}
	if u.MassMsunH <= 0 {
		u.MassMsunH = d.MassMsunH
	}
	if u.VelocityKms <= 0 {
		u.VelocityKms = d.VelocityKms
	}
	return u
}

// conversion holds the factors from code units to physical kpc, Msun and
// km/s at a given scale factor.
type conversion struct {
	length, mass, velocity, density float64
}

func newConversion(u Units, hd Header) conversion {
	h := hd.H100
	if h <= 0 {
		h = 1
	}
	a := hd.Scale
	if a <= 0 {
		a = 1
	}
	c := conversion{
		length:   u.LengthKpcH / h * a,
		mass:     u.MassMsunH / h,
		velocity: u.VelocityKms * math.Sqrt(a),
	}
	c.density = c.mass / (c.length * c.length * c.length)
	return c
}
