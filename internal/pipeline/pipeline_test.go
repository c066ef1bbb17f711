package pipeline

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"galaxyprops/internal/config"
	"galaxyprops/pkg/catalog"
	"galaxyprops/pkg/galaxyprops"
)

func TestRun(t *testing.T) {
	dir := writeSim(t)
	cfg := testConfig()
	cfg.MetricsTextfile = filepath.Join(t.TempDir(), "galaxyprops.prom")

	m := NewMetrics()
	r := New(cfg, discardLogger(), m)
	res, err := r.Run(context.Background(), []string{dir})
	require.NoError(t, err)
	require.Len(t, res, 1)

	props := res[0]
	assert.NotEmpty(t, props.RunID)
	assert.Equal(t, config.CenterHist, props.CenterMode)
	require.Len(t, props.Snapshots, 2)
	assert.Equal(t, 1.0, props.Snapshots[0].Scale)
	assert.Equal(t, 0.5, props.Snapshots[1].Scale)
	assert.Equal(t, "10MpcBox_csf512_a1.000", props.Snapshots[0].Snapshot)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SnapshotsProcessed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SnapshotsSkipped))
	assert.Positive(t, testutil.ToFloat64(m.ShapeFits.WithLabelValues("stars", "resolved")))

	out := filepath.Join(dir, "analysis", "catalogs", "halo_galaxy_props.json")
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var saved GalaxyProps
	require.NoError(t, json.Unmarshal(data, &saved))
	assert.Equal(t, props.RunID, saved.RunID)
	assert.Len(t, saved.Snapshots, 2)

	text, err := os.ReadFile(cfg.MetricsTextfile)
	require.NoError(t, err)
	assert.Contains(t, string(text), "galaxyprops_snapshots_processed_total 2")
}

func TestProcessSnapshotMeasuresGalaxy(t *testing.T) {
	dir := writeSim(t)
	mmpb, err := catalog.ReadMMPB(filepath.Join(dir, "analysis", "catalogs", "halo_mmpb_props.txt"))
	require.NoError(t, err)

	r := New(testConfig(), discardLogger(), nil)
	sp, err := r.ProcessSnapshot(context.Background(), filepath.Join(dir, "10MpcBox_csf512_a1.000"), mmpb)
	require.NoError(t, err)
	require.NotNil(t, sp)

	assert.Equal(t, haloCode, sp.HaloCenter)
	assert.InDelta(t, 150, sp.HaloRvir, 1e-9)
	assert.Equal(t, 500, sp.StarsCount)
	assert.InEpsilon(t, 500*1e-4*1e10, sp.StarsTotalMass, 1e-4)

	require.NotNil(t, sp.StarsCOM)
	assert.Less(t, galaxyprops.Distance(*sp.StarsCOM, haloCode), 1.0)
	require.NotNil(t, sp.StarsMaxDens)
	require.NotNil(t, sp.StarsHistCenter)
	require.NotNil(t, sp.StarsCenter)
	assert.Equal(t, *sp.StarsHistCenter, *sp.StarsCenter)
	assert.Less(t, galaxyprops.Distance(*sp.StarsCenter, haloCode), 3.0)

	require.NotNil(t, sp.StarsShape)
	assert.Equal(t, 10, sp.StarsShape.Len())
	assert.Positive(t, sp.StarsShape.Resolved())
	var outer *galaxyprops.ShapeSample
	for i := range sp.StarsShape.Samples {
		if sp.StarsShape.Samples[i].Resolved {
			outer = &sp.StarsShape.Samples[i]
		}
	}
	require.NotNil(t, outer)
	assert.InDelta(t, 0.5, outer.CToA, 0.1, "r = %g", outer.Radius)
	assert.Greater(t, outer.BToA, 0.8, "r = %g", outer.Radius)
	assert.InDelta(t, 1.0, math.Abs(outer.Axes[2][2]), 0.05)
	require.NotNil(t, sp.DMShape)
	assert.Equal(t, 10, sp.DMShape.Len())

	assert.InDelta(t, 37.5, sp.StarsSphereR, 1e-9)
	require.NotNil(t, sp.StarsMassProfile)
	assert.Len(t, sp.StarsMassProfile.Mass, 100)
	require.NotNil(t, sp.StarsRHalf)
	assert.Greater(t, *sp.StarsRHalf, 1.0)
	assert.Less(t, *sp.StarsRHalf, 6.0)
	require.NotNil(t, sp.StarsL)
	assert.Greater(t, sp.StarsL[2], 0.9)

	assert.InEpsilon(t, 200*1e-3*1e10, sp.GasTotalMass, 1e-4)
	require.NotNil(t, sp.GasMaxDens)
	assert.Less(t, galaxyprops.Distance(sp.GasMaxDens.Location, haloCode), 5.0)
	require.NotNil(t, sp.GasL)
	assert.Greater(t, sp.GasL[2], 0.9)
}

func TestProcessSnapshotWithoutStars(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snap_a1.000")
	writeGalaxySnapshot(t, path, 0, false)
	mmpbPath := filepath.Join(dir, "halo_mmpb_props.txt")
	require.NoError(t, os.WriteFile(mmpbPath, []byte(testMMPB), 0o644))
	mmpb, err := catalog.ReadMMPB(mmpbPath)
	require.NoError(t, err)

	r := New(testConfig(), discardLogger(), nil)
	sp, err := r.ProcessSnapshot(context.Background(), path, mmpb)
	require.NoError(t, err)
	require.NotNil(t, sp)

	assert.Zero(t, sp.StarsCount)
	assert.Nil(t, sp.StarsCOM)
	assert.Nil(t, sp.StarsMaxDens)
	assert.Nil(t, sp.StarsCenter)
	assert.Nil(t, sp.StarsShape)
	assert.Nil(t, sp.StarsRHalf)
	assert.Nil(t, sp.StarsL)
	assert.NotNil(t, sp.GasMaxDens)

	data, err := json.Marshal(sp)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"stars_center":null`)
}

func TestProcessSnapshotCenterModes(t *testing.T) {
	dir := writeSim(t)
	mmpb, err := catalog.ReadMMPB(filepath.Join(dir, "analysis", "catalogs", "halo_mmpb_props.txt"))
	require.NoError(t, err)
	path := filepath.Join(dir, "10MpcBox_csf512_a0.500")

	for _, mode := range []string{config.CenterCOM, config.CenterMaxDens} {
		t.Run(mode, func(t *testing.T) {
			cfg := testConfig()
			cfg.Center = mode
			sp, err := New(cfg, discardLogger(), nil).ProcessSnapshot(context.Background(), path, mmpb)
			require.NoError(t, err)
			require.NotNil(t, sp.StarsCenter)
			switch mode {
			case config.CenterCOM:
				assert.Equal(t, *sp.StarsCOM, *sp.StarsCenter)
			case config.CenterMaxDens:
				assert.Equal(t, sp.StarsMaxDens.Location, *sp.StarsCenter)
			}
		})
	}
}

func TestProcessSnapshotSoftening(t *testing.T) {
	dir := writeSim(t)
	mmpb, err := catalog.ReadMMPB(filepath.Join(dir, "analysis", "catalogs", "halo_mmpb_props.txt"))
	require.NoError(t, err)

	cfg := testConfig()
	cfg.SofteningKpc = 100
	sp, err := New(cfg, discardLogger(), nil).ProcessSnapshot(context.Background(), filepath.Join(dir, "10MpcBox_csf512_a1.000"), mmpb)
	require.NoError(t, err)
	assert.InDelta(t, 150, sp.StarsSphereR, 1e-9)
}

func TestProcessSnapshotSkipsUnknownScale(t *testing.T) {
	dir := writeSim(t)
	mmpb, err := catalog.ReadMMPB(filepath.Join(dir, "analysis", "catalogs", "halo_mmpb_props.txt"))
	require.NoError(t, err)

	m := NewMetrics()
	sp, err := New(testConfig(), discardLogger(), m).ProcessSnapshot(context.Background(), filepath.Join(dir, "10MpcBox_csf512_a0.333"), mmpb)
	require.NoError(t, err)
	assert.Nil(t, sp)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SnapshotsSkipped))
}

func TestProcessSimMMPBErrors(t *testing.T) {
	r := New(testConfig(), discardLogger(), nil)

	_, _, err := r.ProcessSim(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, ErrNoMMPB)

	dir := t.TempDir()
	cat := filepath.Join(dir, "analysis", "catalogs")
	require.NoError(t, os.MkdirAll(cat, 0o755))
	for _, name := range []string{"a_mmpb_props.txt", "b_mmpb_props.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(cat, name), []byte(testMMPB), 0o644))
	}
	_, _, err = r.ProcessSim(context.Background(), dir)
	assert.ErrorIs(t, err, ErrAmbiguousMMPB)
}

func TestRunCancelled(t *testing.T) {
	dir := writeSim(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(testConfig(), discardLogger(), nil).Run(ctx, []string{dir})
	assert.ErrorIs(t, err, context.Canceled)
}

type memorySink struct{ got []*GalaxyProps }

func (s *memorySink) Write(p *GalaxyProps) error {
	s.got = append(s.got, p)
	return nil
}

func TestRunCustomSink(t *testing.T) {
	dir := writeSim(t)
	sink := &memorySink{}
	r := New(testConfig(), discardLogger(), nil)
	r.Sink = sink

	_, err := r.Run(context.Background(), []string{dir})
	require.NoError(t, err)
	require.Len(t, sink.got, 1)
	assert.NoFileExists(t, filepath.Join(dir, "analysis", "catalogs", "halo_galaxy_props.json"))
}

func TestListSnapshots(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"snap_a0.500",
		"snap_a1.000",
		"snap_a0.250.0",
		"snap_a0.250.1",
		"snap_a0.250.2",
		"other_a0.900",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "snap_dir"), 0o755))

	got, err := ListSnapshots(dir, "snap_")
	require.NoError(t, err)
	want := []string{"snap_a1.000", "snap_a0.500", "snap_a0.250.0"}
	require.Len(t, got, len(want))
	for i, w := range want {
		assert.Equal(t, filepath.Join(dir, w), got[i])
	}
}

func TestGalaxyFileName(t *testing.T) {
	assert.Equal(t, "halo_galaxy_props.json", GalaxyFileName("/x/halo_mmpb_props.txt"))
	assert.Equal(t, "main.json", GalaxyFileName("main.dat"))
}

func TestJSONSink(t *testing.T) {
	out := filepath.Join(t.TempDir(), "nested", "out")
	s := &JSONSink{OutDir: out}
	require.NoError(t, s.Write(&GalaxyProps{RunID: "abc", MMPBFile: "h_mmpb_props.txt"}))

	data, err := os.ReadFile(filepath.Join(out, "h_galaxy_props.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"run_id": "abc"`)
}

func TestProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap_a1.000")
	writeGalaxySnapshot(t, path, 0, true)

	r := New(testConfig(), discardLogger(), nil)
	res, err := r.Profile(context.Background(), path, haloCode, true)
	require.NoError(t, err)

	assert.Equal(t, haloCode, res.Center)
	assert.InEpsilon(t, 2e9+2e11+5e8, res.TotalMass, 1e-4)
	assert.Len(t, res.DM.Radii, 30)
	assert.InEpsilon(t, 2e11, floats.Sum(res.DM.Mass), 1e-4)
	assert.Equal(t, 2000.0, res.DM.Count[len(res.DM.Count)-1])
	assert.NotEmpty(t, res.RunID)

	out := filepath.Join(t.TempDir(), "profile.json")
	require.NoError(t, WriteJSON(out, res))
	assert.FileExists(t, out)
}
