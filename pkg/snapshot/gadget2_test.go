package snapshot

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// With h = 0.5 and z = 1 the length conversion is exactly one, so code
// positions are physical kpc.
func fixtureHeader() Header {
	return Header{
		Redshift: 1,
		BoxSize:  100,
		OmegaM:   0.3,
		OmegaL:   0.7,
		H100:     0.5,
		MassTable: [NTypes]float64{
			DarkMatter: 0.5,
		},
	}
}

func fixtureBlocks() *Blocks {
	b := &Blocks{}
	b.Positions[Gas] = []Vec3{{10, 10, 10}, {20, 20, 20}}
	b.Velocities[Gas] = []Vec3{{2, 0, 0}, {0, 2, 0}}
	b.IDs[Gas] = []uint64{1, 2}
	b.Masses[Gas] = []float64{1, 2}
	b.U = []float64{100, 200}
	b.Density = []float64{0.25, 0.5}

	b.Positions[DarkMatter] = []Vec3{{1, 50, 50}, {99, 50, 50}, {50, 50, 50}, {5, 50, 50}}
	b.Velocities[DarkMatter] = make([]Vec3, 4)
	b.IDs[DarkMatter] = []uint64{3, 4, 5, 6}

	b.Positions[Stars] = []Vec3{{50, 50, 51}}
	b.Velocities[Stars] = []Vec3{{0, 0, 4}}
	b.IDs[Stars] = []uint64{7}
	b.Masses[Stars] = []float64{0.25}
	return b
}

func writeFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snap_010")
	require.NoError(t, WriteGadget2(path, fixtureHeader(), fixtureBlocks()))
	return path
}

func TestOpenConvertsUnits(t *testing.T) {
	snap, err := Open(writeFixture(t), Units{})
	require.NoError(t, err)

	hd := snap.Header
	assert.Equal(t, 1.0, hd.Redshift)
	assert.Equal(t, 0.5, hd.Scale)
	assert.Equal(t, 0.5, hd.Time)
	assert.Equal(t, 0.5, hd.H100)
	assert.Equal(t, 1, hd.NumFiles)
	assert.Equal(t, [NTypes]int{2, 4, 0, 0, 1, 0}, hd.NPart)
	assert.Equal(t, binary.LittleEndian, snap.Order)
	assert.Equal(t, NewUnits(), snap.Units)
	assert.InDelta(t, 100.0, snap.Box(), 1e-12)

	assert.Equal(t, 2, snap.Count(Gas))
	assert.Equal(t, 4, snap.Count(DarkMatter))
	assert.Equal(t, 1, snap.Count(Stars))
	assert.Zero(t, snap.Count(Species(9)))
	assert.True(t, snap.HasDensity())

	gas, err := snap.Sphere(Gas, Vec3{15, 15, 15}, 20)
	require.NoError(t, err)
	require.Equal(t, 2, gas.Len())
	assert.Equal(t, []float64{2e10, 4e10}, gas.Masses)
	assert.Equal(t, []float64{0.5e10, 1e10}, gas.Density)
	assert.Equal(t, []uint64{1, 2}, gas.IDs)
	assert.InDelta(t, 2*math.Sqrt(0.5), gas.Velocities[0][0], 1e-6)
	assert.InDelta(t, 6e10, gas.TotalMass(), 1)
	assert.Zero(t, (&Particles{}).TotalMass())

	dm, err := snap.Sphere(DarkMatter, Vec3{50, 50, 50}, 1)
	require.NoError(t, err)
	require.Equal(t, 1, dm.Len())
	assert.Equal(t, 1e10, dm.Masses[0])
	assert.Nil(t, dm.Density)

	stars, err := snap.Sphere(Stars, Vec3{50, 50, 50}, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{5e9}, stars.Masses)
	assert.InDelta(t, 4*math.Sqrt(0.5), stars.Velocities[0][2], 1e-6)
}

func TestOpenCustomUnits(t *testing.T) {
	snap, err := Open(writeFixture(t), Units{LengthKpcH: 1000, MassMsunH: 1, VelocityKms: 1})
	require.NoError(t, err)
	assert.InDelta(t, 100000.0, snap.Box(), 1e-6)

	stars, err := snap.Sphere(Stars, Vec3{50000, 50000, 51000}, 1)
	require.NoError(t, err)
	require.Equal(t, 1, stars.Len())
	assert.InDelta(t, 0.5, stars.Masses[0], 1e-12)
}

func TestSpherePeriodic(t *testing.T) {
	snap, err := Open(writeFixture(t), Units{})
	require.NoError(t, err)

	p, err := snap.Sphere(DarkMatter, Vec3{0.5, 50, 50}, 2)
	require.NoError(t, err)
	require.Equal(t, 2, p.Len())
	assert.Equal(t, []uint64{3, 4}, p.IDs)
	assert.InDelta(t, 1.0, p.Positions[0][0], 1e-6)
	assert.InDelta(t, -1.0, p.Positions[1][0], 1e-6, "wrapped particle is unwrapped around the center")

	all, err := snap.SphereAll(Vec3{50, 50, 50}, 1.5)
	require.NoError(t, err)
	assert.Equal(t, []uint64{5, 7}, all.IDs)
	assert.Nil(t, all.Density)
}

func TestSphereRejectsBadArguments(t *testing.T) {
	snap, err := Open(writeFixture(t), Units{})
	require.NoError(t, err)

	_, err = snap.Sphere(Species(6), Vec3{}, 1)
	assert.Error(t, err)
	_, err = snap.Sphere(Stars, Vec3{}, 0)
	assert.Error(t, err)
	_, err = snap.Sphere(Stars, Vec3{}, math.NaN())
	assert.Error(t, err)
}

func TestOpenMultiFile(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "snap_020")

	hd := fixtureHeader()
	hd.NumFiles = 2
	hd.NPart = [NTypes]int{0, 3, 0, 0, 0, 0}

	b0 := &Blocks{}
	b0.Positions[DarkMatter] = []Vec3{{1, 1, 1}, {2, 2, 2}}
	b0.Velocities[DarkMatter] = make([]Vec3, 2)
	b0.IDs[DarkMatter] = []uint64{10, 11}
	require.NoError(t, WriteGadget2(base+".0", hd, b0))

	b1 := &Blocks{}
	b1.Positions[DarkMatter] = []Vec3{{3, 3, 3}}
	b1.Velocities[DarkMatter] = make([]Vec3, 1)
	b1.IDs[DarkMatter] = []uint64{12}
	require.NoError(t, WriteGadget2(base+".1", hd, b1))

	for _, path := range []string{base, base + ".0"} {
		snap, err := Open(path, Units{})
		require.NoError(t, err, path)
		assert.Equal(t, 2, snap.Header.NumFiles)
		assert.Equal(t, 3, snap.Count(DarkMatter))

		p, err := snap.Sphere(DarkMatter, Vec3{2, 2, 2}, 10)
		require.NoError(t, err)
		assert.Equal(t, []uint64{10, 11, 12}, p.IDs)
	}
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope"), Units{})
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestOpenBadRecord(t *testing.T) {
	t.Run("mismatched HEAD markers", func(t *testing.T) {
		path := writeFixture(t)
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		binary.LittleEndian.PutUint32(data[4+gadget2HeaderSize:], 255)
		require.NoError(t, os.WriteFile(path, data, 0o644))

		_, err = Open(path, Units{})
		assert.ErrorIs(t, err, ErrBadRecord)
	})

	t.Run("not a snapshot", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "junk")
		require.NoError(t, os.WriteFile(path, []byte("hello, world"), 0o644))

		_, err := Open(path, Units{})
		assert.ErrorIs(t, err, ErrBadRecord)
	})

	t.Run("short POS block", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeRecord(&buf, binary.LittleEndian, &gadget2Header{NPart: [6]uint32{0, 2}}))
		require.NoError(t, writeRecord(&buf, binary.LittleEndian, []float32{1, 2, 3}))

		_, err := readGadget2FromReader(&buf)
		assert.ErrorIs(t, err, ErrBadRecord)
	})
}

func TestReadBigEndian(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeGadget2(&buf, binary.BigEndian, fixtureHeader(), fixtureBlocks()))

	f, err := readGadget2FromReader(&buf)
	require.NoError(t, err)
	assert.Equal(t, binary.BigEndian, f.order)
	assert.Equal(t, []Vec3{{50, 50, 51}}, f.pos[Stars])
	assert.Equal(t, []float64{0.5, 0.5, 0.5, 0.5}, f.mass[DarkMatter])
	assert.Equal(t, []float64{0.25, 0.5}, f.rho)
}

func TestWideIDs(t *testing.T) {
	b := &Blocks{}
	b.Positions[DarkMatter] = []Vec3{{1, 1, 1}}
	b.Velocities[DarkMatter] = []Vec3{{0, 0, 0}}
	b.IDs[DarkMatter] = []uint64{1 << 40}

	var buf bytes.Buffer
	require.NoError(t, writeGadget2(&buf, binary.LittleEndian, fixtureHeader(), b))
	f, err := readGadget2FromReader(&buf)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1 << 40}, f.ids[DarkMatter])
}

func TestGasBlocksOptional(t *testing.T) {
	b := fixtureBlocks()
	b.U, b.Density = nil, nil
	path := filepath.Join(t.TempDir(), "snap_nogas")
	require.NoError(t, WriteGadget2(path, fixtureHeader(), b))

	snap, err := Open(path, Units{})
	require.NoError(t, err)
	assert.False(t, snap.HasDensity())

	gas, err := snap.Sphere(Gas, Vec3{15, 15, 15}, 20)
	require.NoError(t, err)
	assert.Equal(t, 2, gas.Len())
	assert.Nil(t, gas.Density)
}

func TestWriteRejectsInconsistentBlocks(t *testing.T) {
	b := fixtureBlocks()
	b.Masses[Stars] = nil
	assert.Error(t, writeGadget2(&bytes.Buffer{}, binary.LittleEndian, fixtureHeader(), b))

	b = fixtureBlocks()
	b.IDs[DarkMatter] = b.IDs[DarkMatter][:1]
	assert.Error(t, writeGadget2(&bytes.Buffer{}, binary.LittleEndian, fixtureHeader(), b))
}

func TestSpeciesString(t *testing.T) {
	assert.Equal(t, "gas", Gas.String())
	assert.Equal(t, "dm", DarkMatter.String())
	assert.Equal(t, "stars", Stars.String())
	assert.Equal(t, "type2", Species(2).String())
}

func TestReadMatchesOpen(t *testing.T) {
	path := writeFixture(t)
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	fromFile, err := Open(path, Units{})
	require.NoError(t, err)
	fromBytes, err := Read(bytes.NewReader(data), Units{})
	require.NoError(t, err)

	assert.Empty(t, fromBytes.Path)
	assert.Equal(t, fromFile.Header, fromBytes.Header)
	assert.Equal(t, fromFile.Box(), fromBytes.Box())
	for _, sp := range []Species{Gas, DarkMatter, Stars} {
		assert.Equal(t, fromFile.Count(sp), fromBytes.Count(sp), sp.String())
	}
	assert.True(t, fromBytes.HasDensity())
}

func TestParseSpecies(t *testing.T) {
	for _, sp := range []Species{Gas, DarkMatter, Stars, Species(2), Species(5)} {
		got, err := ParseSpecies(sp.String())
		require.NoError(t, err)
		assert.Equal(t, sp, got)
	}
	for _, bad := range []string{"", "halo", "type6", "type-1"} {
		_, err := ParseSpecies(bad)
		assert.Error(t, err, bad)
	}
}
