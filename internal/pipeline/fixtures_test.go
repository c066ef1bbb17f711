package pipeline

import (
	"io"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"galaxyprops/internal/config"
	"galaxyprops/pkg/galaxyprops"
	"galaxyprops/pkg/snapshot"
)

// haloCode is the halo center in code units (comoving kpc/h, h = 1).
var haloCode = galaxyprops.Vec3{5000, 5000, 5000}

const testMMPB = `#scale(0) id(1) x(2) y(3) z(4) rvir(5)
1.0000 10 5.0 5.0 5.0 150.0
0.5000 9  5.0 5.0 5.0 150.0
`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Workers = 2
	return cfg
}

func add(a, b galaxyprops.Vec3) galaxyprops.Vec3 {
	return galaxyprops.Vec3{a[0] + b[0], a[1] + b[1], a[2] + b[2]}
}

func gaussian(rng *rand.Rand, sigma float64) galaxyprops.Vec3 {
	return galaxyprops.Vec3{sigma * rng.NormFloat64(), sigma * rng.NormFloat64(), sigma * rng.NormFloat64()}
}

// writeGalaxySnapshot writes a halo with a rotating stellar disc flattened
// to c/a = 0.5, a
// rotating gas blob and a uniform dark matter ball, all centered on
// haloCode.
func writeGalaxySnapshot(t *testing.T, path string, z float64, withStars bool) {
	t.Helper()
	rng := rand.New(rand.NewSource(42))

	hd := snapshot.Header{Redshift: z, BoxSize: 10000, OmegaM: 0.3, OmegaL: 0.7, H100: 1}
	hd.MassTable[snapshot.DarkMatter] = 1e-2

	b := &snapshot.Blocks{}
	id := uint64(1)
	for i := 0; i < 200; i++ {
		d := gaussian(rng, 5)
		b.Positions[snapshot.Gas] = append(b.Positions[snapshot.Gas], add(haloCode, d))
		b.Velocities[snapshot.Gas] = append(b.Velocities[snapshot.Gas], galaxyprops.Vec3{-d[1], d[0], 0})
		b.IDs[snapshot.Gas] = append(b.IDs[snapshot.Gas], id)
		b.Masses[snapshot.Gas] = append(b.Masses[snapshot.Gas], 1e-3)
		b.Density = append(b.Density, math.Exp(-(d[0]*d[0]+d[1]*d[1]+d[2]*d[2])/50))
		id++
	}
	b.U = make([]float64, len(b.Density))

	for n := 0; n < 2000; {
		d := galaxyprops.Vec3{200*rng.Float64() - 100, 200*rng.Float64() - 100, 200*rng.Float64() - 100}
		if d[0]*d[0]+d[1]*d[1]+d[2]*d[2] > 100*100 {
			continue
		}
		b.Positions[snapshot.DarkMatter] = append(b.Positions[snapshot.DarkMatter], add(haloCode, d))
		b.Velocities[snapshot.DarkMatter] = append(b.Velocities[snapshot.DarkMatter], galaxyprops.Vec3{})
		b.IDs[snapshot.DarkMatter] = append(b.IDs[snapshot.DarkMatter], id)
		id++
		n++
	}

	if withStars {
		for i := 0; i < 500; i++ {
			d := gaussian(rng, 2)
			d[2] *= 0.5
			b.Positions[snapshot.Stars] = append(b.Positions[snapshot.Stars], add(haloCode, d))
			b.Velocities[snapshot.Stars] = append(b.Velocities[snapshot.Stars], galaxyprops.Vec3{-10 * d[1], 10 * d[0], 0})
			b.IDs[snapshot.Stars] = append(b.IDs[snapshot.Stars], id)
			b.Masses[snapshot.Stars] = append(b.Masses[snapshot.Stars], 1e-4)
			id++
		}
	}

	require.NoError(t, snapshot.WriteGadget2(path, hd, b))
}

// writeSim lays out a simulation directory with an MMPB covering a = 1
// and a = 0.5 and snapshots at a = 1, 0.5 and 1/3.
func writeSim(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cat := filepath.Join(dir, "analysis", "catalogs")
	require.NoError(t, os.MkdirAll(cat, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cat, "halo_mmpb_props.txt"), []byte(testMMPB), 0o644))

	writeGalaxySnapshot(t, filepath.Join(dir, "10MpcBox_csf512_a1.000"), 0, true)
	writeGalaxySnapshot(t, filepath.Join(dir, "10MpcBox_csf512_a0.500"), 1, true)
	writeGalaxySnapshot(t, filepath.Join(dir, "10MpcBox_csf512_a0.333"), 2, true)
	return dir
}
