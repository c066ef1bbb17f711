package snapshot

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
)

// ErrBadRecord is returned when a Fortran record is framed by mismatched
// length markers or holds the wrong number of bytes for its block.
var ErrBadRecord = errors.New("snapshot: bad Fortran record")

// Gadget2 is a Gadget-2 (format 1) snapshot loaded into memory. Particle
// data are converted to physical kpc, Msun and km/s on load.
type Gadget2 struct {
	Path   string
	Header Header
	Units  Units
	Order  binary.ByteOrder

	box    float64 // physical side of the periodic box, 0 if not periodic
	pos    [NTypes][]Vec3
	vel    [NTypes][]Vec3
	ids    [NTypes][]uint64
	mass   [NTypes][]float64
	u, rho []float64
}

// gadget2File is the raw content of one file of a snapshot, in code units.
type gadget2File struct {
	hd     gadget2Header
	order  binary.ByteOrder
	pos    [NTypes][]Vec3
	vel    [NTypes][]Vec3
	ids    [NTypes][]uint64
	mass   [NTypes][]float64
	u, rho []float64
}

// Open reads the Gadget-2 snapshot at path. If path does not exist but
// path.0 does, or the header reports more than one file, the files
// name.0 ... name.N-1 are read and concatenated per particle type.
func Open(path string, u Units) (*Gadget2, error) {
	first, base, err := firstFile(path)
	if err != nil {
		return nil, err
	}
	f0, err := readGadget2File(first)
	if err != nil {
		return nil, err
	}

	files := []*gadget2File{f0}
	if nf := int(f0.hd.NumFiles); nf > 1 {
		if first != base+".0" {
			return nil, fmt.Errorf("snapshot %s: header reports %d files but the name has no .0 suffix", path, nf)
		}
		for i := 1; i < nf; i++ {
			fi, err := readGadget2File(fmt.Sprintf("%s.%d", base, i))
			if err != nil {
				return nil, err
			}
			files = append(files, fi)
		}
	}

	return assemble(path, files, u), nil
}

// Read loads a single-file snapshot from r.
func Read(r io.Reader, u Units) (*Gadget2, error) {
	f, err := readGadget2FromReader(r)
	if err != nil {
		return nil, err
	}
	return assemble("", []*gadget2File{f}, u), nil
}

// assemble concatenates the files of a snapshot and converts them to
// physical units. The header is taken from the first file.
func assemble(path string, files []*gadget2File, u Units) *Gadget2 {
	snap := &Gadget2{
		Path:   path,
		Header: files[0].hd.convert(),
		Units:  u.orDefault(),
		Order:  files[0].order,
	}
	for _, f := range files {
		for t := 0; t < NTypes; t++ {
			snap.pos[t] = append(snap.pos[t], f.pos[t]...)
			snap.vel[t] = append(snap.vel[t], f.vel[t]...)
			snap.ids[t] = append(snap.ids[t], f.ids[t]...)
			snap.mass[t] = append(snap.mass[t], f.mass[t]...)
		}
		snap.u = append(snap.u, f.u...)
		snap.rho = append(snap.rho, f.rho...)
	}
	for t := 0; t < NTypes; t++ {
		snap.Header.NPart[t] = len(snap.pos[t])
	}
	if len(snap.u) != snap.Header.NPart[Gas] {
		snap.u = nil
	}
	if len(snap.rho) != snap.Header.NPart[Gas] {
		snap.rho = nil
	}

	snap.toPhysical()
	return snap
}

// firstFile returns the file holding the header of the snapshot at path
// and the base name used for the numbered files of a multi-file snapshot.
func firstFile(path string) (first, base string, err error) {
	if _, err = os.Stat(path); err == nil {
		return path, strings.TrimSuffix(path, ".0"), nil
	}
	if _, err0 := os.Stat(path + ".0"); err0 == nil {
		return path + ".0", path, nil
	}
	return "", "", fmt.Errorf("opening snapshot: %w", err)
}

func (s *Gadget2) toPhysical() {
	c := newConversion(s.Units, s.Header)
	s.box = s.Header.BoxSize * c.length
	for t := 0; t < NTypes; t++ {
		for i := range s.pos[t] {
			s.pos[t][i] = scale(s.pos[t][i], c.length)
			s.vel[t][i] = scale(s.vel[t][i], c.velocity)
		}
		for i := range s.mass[t] {
			s.mass[t][i] *= c.mass
		}
	}
	u2 := s.Units.VelocityKms * s.Units.VelocityKms
	for i := range s.u {
		s.u[i] *= u2
	}
	for i := range s.rho {
		s.rho[i] *= c.density
	}
}

func scale(v Vec3, f float64) Vec3 { return Vec3{v[0] * f, v[1] * f, v[2] * f} }

// PhysicalPosition converts a position in code units to physical kpc.
func (s *Gadget2) PhysicalPosition(code Vec3) Vec3 {
	return scale(code, newConversion(s.Units, s.Header).length)
}

// Box returns the physical side of the periodic box in kpc.
func (s *Gadget2) Box() float64 { return s.box }

// Count returns the number of particles of a species.
func (s *Gadget2) Count(sp Species) int {
	if !sp.valid() {
		return 0
	}
	return len(s.pos[sp])
}

// HasDensity reports whether the snapshot carries a gas density block.
func (s *Gadget2) HasDensity() bool { return s.rho != nil }

func readGadget2File(path string) (*gadget2File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening Gadget-2 file: %w", err)
	}
	defer f.Close()

	gf, err := readGadget2FromReader(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return gf, nil
}

func readGadget2FromReader(r io.Reader) (*gadget2File, error) {
	var mark [4]byte
	if _, err := io.ReadFull(r, mark[:]); err != nil {
		return nil, fmt.Errorf("reading HEAD record: %w", err)
	}
	f := &gadget2File{}
	switch {
	case binary.LittleEndian.Uint32(mark[:]) == gadget2HeaderSize:
		f.order = binary.LittleEndian
	case binary.BigEndian.Uint32(mark[:]) == gadget2HeaderSize:
		f.order = binary.BigEndian
	default:
		return nil, fmt.Errorf("%w: HEAD marker % x is not %d in either byte order",
			ErrBadRecord, mark, gadget2HeaderSize)
	}
	if err := binary.Read(r, f.order, &f.hd); err != nil {
		return nil, fmt.Errorf("reading HEAD record: %w", err)
	}
	if err := readTail(r, f.order, gadget2HeaderSize, "HEAD"); err != nil {
		return nil, err
	}

	var n int
	for t := 0; t < NTypes; t++ {
		n += int(f.hd.NPart[t])
	}

	pos, err := readFloatBlock(r, f.order, 3*n, "POS")
	if err != nil {
		return nil, err
	}
	vel, err := readFloatBlock(r, f.order, 3*n, "VEL")
	if err != nil {
		return nil, err
	}
	ids, err := readIDBlock(r, f.order, n)
	if err != nil {
		return nil, err
	}

	nVar := 0
	for t := 0; t < NTypes; t++ {
		if f.hd.Mass[t] == 0 {
			nVar += int(f.hd.NPart[t])
		}
	}
	var masses []float64
	if nVar > 0 {
		if masses, err = readFloatBlock(r, f.order, nVar, "MASS"); err != nil {
			return nil, err
		}
	}

	off, moff := 0, 0
	for t := 0; t < NTypes; t++ {
		nt := int(f.hd.NPart[t])
		f.pos[t] = toVectors(pos[3*off : 3*(off+nt)])
		f.vel[t] = toVectors(vel[3*off : 3*(off+nt)])
		f.ids[t] = ids[off : off+nt]
		if f.hd.Mass[t] == 0 {
			f.mass[t] = masses[moff : moff+nt]
			moff += nt
		} else {
			f.mass[t] = make([]float64, nt)
			for i := range f.mass[t] {
				f.mass[t][i] = f.hd.Mass[t]
			}
		}
		off += nt
	}

	// The gas blocks are optional: a dark-matter-only or stripped file may
	// end after MASS.
	if ngas := int(f.hd.NPart[Gas]); ngas > 0 {
		if f.u, err = readFloatBlock(r, f.order, ngas, "U"); err != nil {
			if errors.Is(err, io.EOF) {
				return f, nil
			}
			return nil, err
		}
		if f.rho, err = readFloatBlock(r, f.order, ngas, "RHO"); err != nil {
			if errors.Is(err, io.EOF) {
				return f, nil
			}
			return nil, err
		}
	}
	return f, nil
}

func toVectors(flat []float64) []Vec3 {
	out := make([]Vec3, len(flat)/3)
	for i := range out {
		out[i] = Vec3{flat[3*i], flat[3*i+1], flat[3*i+2]}
	}
	return out
}

// readRecord reads one Fortran record. A clean end of input before the
// leading marker is returned as io.EOF.
func readRecord(r io.Reader, order binary.ByteOrder, name string) ([]byte, error) {
	var size uint32
	if err := binary.Read(r, order, &size); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("reading %s record marker: %w", name, err)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("reading %s record: %w", name, err)
	}
	if err := readTail(r, order, size, name); err != nil {
		return nil, err
	}
	return buf, nil
}

func readTail(r io.Reader, order binary.ByteOrder, size uint32, name string) error {
	var tail uint32
	if err := binary.Read(r, order, &tail); err != nil {
		return fmt.Errorf("reading %s record marker: %w", name, err)
	}
	if tail != size {
		return fmt.Errorf("%w: %s record opens with %d and closes with %d", ErrBadRecord, name, size, tail)
	}
	return nil
}

// readFloatBlock reads n single or double precision values.
func readFloatBlock(r io.Reader, order binary.ByteOrder, n int, name string) ([]float64, error) {
	buf, err := readRecord(r, order, name)
	if err != nil {
		return nil, err
	}
	out := make([]float64, n)
	switch len(buf) {
	case 4 * n:
		tmp := make([]float32, n)
		if err := binary.Read(bytes.NewReader(buf), order, tmp); err != nil {
			return nil, fmt.Errorf("decoding %s block: %w", name, err)
		}
		for i, v := range tmp {
			out[i] = float64(v)
		}
	case 8 * n:
		if err := binary.Read(bytes.NewReader(buf), order, out); err != nil {
			return nil, fmt.Errorf("decoding %s block: %w", name, err)
		}
	default:
		return nil, fmt.Errorf("%w: %s block has %d bytes for %d values", ErrBadRecord, name, len(buf), n)
	}
	for i, v := range out {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%s block: corrupt value %g at %d", name, v, i)
		}
	}
	return out, nil
}

// readIDBlock reads n 32- or 64-bit particle ids.
func readIDBlock(r io.Reader, order binary.ByteOrder, n int) ([]uint64, error) {
	buf, err := readRecord(r, order, "ID")
	if err != nil {
		return nil, err
	}
	out := make([]uint64, n)
	switch len(buf) {
	case 4 * n:
		for i := range out {
			out[i] = uint64(order.Uint32(buf[4*i:]))
		}
	case 8 * n:
		for i := range out {
			out[i] = order.Uint64(buf[8*i:])
		}
	default:
		return nil, fmt.Errorf("%w: ID block has %d bytes for %d ids", ErrBadRecord, len(buf), n)
	}
	return out, nil
}
