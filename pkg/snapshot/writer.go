package snapshot

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

// Blocks is the particle data of one snapshot file, per type and in code
// units.
type Blocks struct {
	Positions  [NTypes][]Vec3
	Velocities [NTypes][]Vec3
	IDs        [NTypes][]uint64
	// Masses is required for every populated type whose header mass table
	// entry is zero, and ignored otherwise.
	Masses [NTypes][]float64
	// U and Density are the optional gas blocks. Density requires U.
	U, Density []float64
}

// WriteGadget2 writes a little-endian, single precision Gadget-2 format-1
// file. hdr.NPart is written as the snapshot-wide total when set, so the
// files of a multi-file snapshot can be produced one by one; otherwise the
// counts in b are used.
func WriteGadget2(path string, hdr Header, b *Blocks) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating Gadget-2 file: %w", err)
	}
	w := bufio.NewWriter(f)
	if err := writeGadget2(w, binary.LittleEndian, hdr, b); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

func writeGadget2(w io.Writer, order binary.ByteOrder, hdr Header, b *Blocks) error {
	gh := gadget2Header{
		Mass:        hdr.MassTable,
		Time:        hdr.Time,
		Redshift:    hdr.Redshift,
		NumFiles:    int32(hdr.NumFiles),
		BoxSize:     hdr.BoxSize,
		Omega0:      hdr.OmegaM,
		OmegaLambda: hdr.OmegaL,
		HubbleParam: hdr.H100,
	}
	if gh.Time == 0 {
		gh.Time = 1 / (1 + hdr.Redshift)
	}
	if gh.NumFiles < 1 {
		gh.NumFiles = 1
	}

	var pos, vel, mass []float32
	var ids []uint64
	wideIDs := false
	for t := 0; t < NTypes; t++ {
		nt := len(b.Positions[t])
		if len(b.Velocities[t]) != nt || len(b.IDs[t]) != nt {
			return fmt.Errorf("type %d has %d positions, %d velocities and %d ids",
				t, nt, len(b.Velocities[t]), len(b.IDs[t]))
		}
		gh.NPart[t] = uint32(nt)
		gh.NPartTotal[t] = uint32(nt)
		if hdr.NPart[t] > 0 {
			gh.NPartTotal[t] = uint32(hdr.NPart[t])
		}

		pos = appendVectors(pos, b.Positions[t])
		vel = appendVectors(vel, b.Velocities[t])
		for _, id := range b.IDs[t] {
			wideIDs = wideIDs || id > math.MaxUint32
			ids = append(ids, id)
		}
		if nt > 0 && hdr.MassTable[t] == 0 {
			if len(b.Masses[t]) != nt {
				return fmt.Errorf("type %d has %d particles but %d masses and no mass table entry",
					t, nt, len(b.Masses[t]))
			}
			for _, m := range b.Masses[t] {
				mass = append(mass, float32(m))
			}
		}
	}

	if err := writeRecord(w, order, &gh); err != nil {
		return err
	}
	if err := writeRecord(w, order, pos); err != nil {
		return err
	}
	if err := writeRecord(w, order, vel); err != nil {
		return err
	}
	if wideIDs {
		if err := writeRecord(w, order, ids); err != nil {
			return err
		}
	} else {
		narrow := make([]uint32, len(ids))
		for i, id := range ids {
			narrow[i] = uint32(id)
		}
		if err := writeRecord(w, order, narrow); err != nil {
			return err
		}
	}
	if len(mass) > 0 {
		if err := writeRecord(w, order, mass); err != nil {
			return err
		}
	}

	ngas := len(b.Positions[Gas])
	if ngas == 0 || (b.U == nil && b.Density == nil) {
		return nil
	}
	u := b.U
	if u == nil {
		u = make([]float64, ngas)
	}
	if len(u) != ngas {
		return fmt.Errorf("U block has %d values for %d gas particles", len(u), ngas)
	}
	if err := writeRecord(w, order, toFloat32(u)); err != nil {
		return err
	}
	if b.Density == nil {
		return nil
	}
	if len(b.Density) != ngas {
		return fmt.Errorf("RHO block has %d values for %d gas particles", len(b.Density), ngas)
	}
	return writeRecord(w, order, toFloat32(b.Density))
}

func appendVectors(dst []float32, vs []Vec3) []float32 {
	for _, v := range vs {
		dst = append(dst, float32(v[0]), float32(v[1]), float32(v[2]))
	}
	return dst
}

func toFloat32(xs []float64) []float32 {
	out := make([]float32, len(xs))
	for i, x := range xs {
		out[i] = float32(x)
	}
	return out
}

// writeRecord writes data framed by Fortran record markers.
func writeRecord(w io.Writer, order binary.ByteOrder, data any) error {
	size := binary.Size(data)
	if size < 0 {
		return fmt.Errorf("cannot encode %T", data)
	}
	if err := binary.Write(w, order, uint32(size)); err != nil {
		return err
	}
	if err := binary.Write(w, order, data); err != nil {
		return err
	}
	return binary.Write(w, order, uint32(size))
}
