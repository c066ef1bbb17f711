// Package pipeline measures the properties of the galaxy at the center of
// a halo across the snapshots of a simulation, following the halo along
// its Most Massive Progenitor Branch.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"

	"galaxyprops/internal/config"
	"galaxyprops/pkg/catalog"
	"galaxyprops/pkg/galaxyprops"
	"galaxyprops/pkg/snapshot"
)

var (
	ErrNoMMPB        = errors.New("pipeline: no MMPB file matches")
	ErrAmbiguousMMPB = errors.New("pipeline: more than one MMPB file matches")
)

// Runner processes simulation directories with one configuration.
type Runner struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *Metrics
	// Sink receives each simulation's result. Nil writes JSON files to the
	// configured output directory.
	Sink Sink
}

func New(cfg *config.Config, logger *slog.Logger, m *Metrics) *Runner {
	if m == nil {
		m = NewMetrics()
	}
	return &Runner{cfg: cfg, logger: logger, metrics: m}
}

// Run processes every simulation directory in turn and hands each result
// to the sink. Metrics are written at the end when a textfile is
// configured, even if a directory failed.
func (r *Runner) Run(ctx context.Context, simDirs []string) ([]*GalaxyProps, error) {
	var out []*GalaxyProps
	err := r.runAll(ctx, simDirs, &out)
	if path := r.cfg.MetricsTextfile; path != "" {
		if werr := r.metrics.WriteTextfile(path); werr != nil {
			r.logger.Error("failed to write metrics", "path", path, "error", werr)
		}
	}
	return out, err
}

func (r *Runner) runAll(ctx context.Context, simDirs []string, out *[]*GalaxyProps) error {
	for _, dir := range simDirs {
		props, outDir, err := r.ProcessSim(ctx, dir)
		if err != nil {
			return fmt.Errorf("simulation %s: %w", dir, err)
		}
		sink := r.Sink
		if sink == nil {
			sink = &JSONSink{OutDir: outDir}
		}
		if err := sink.Write(props); err != nil {
			return fmt.Errorf("simulation %s: %w", dir, err)
		}
		r.logger.Info("saved galaxy properties",
			"sim_dir", props.SimDir, "snapshots", len(props.Snapshots), "out_dir", outDir)
		*out = append(*out, props)
	}
	return nil
}

// ProcessSim measures every snapshot of simDir whose scale factor is in
// the MMPB. It returns the result and the resolved output directory.
func (r *Runner) ProcessSim(ctx context.Context, simDir string) (*GalaxyProps, string, error) {
	dir, err := filepath.Abs(os.ExpandEnv(simDir))
	if err != nil {
		return nil, "", fmt.Errorf("resolving simulation directory: %w", err)
	}
	mmpbGlob, outDir := r.cfg.ForSimDir(dir)

	matches, err := filepath.Glob(mmpbGlob)
	if err != nil {
		return nil, "", fmt.Errorf("matching MMPB file: %w", err)
	}
	switch len(matches) {
	case 0:
		return nil, "", fmt.Errorf("%w %s", ErrNoMMPB, mmpbGlob)
	case 1:
	default:
		return nil, "", fmt.Errorf("%w %s: %v; set mmpb_file", ErrAmbiguousMMPB, mmpbGlob, matches)
	}
	mmpb, err := catalog.ReadMMPB(matches[0])
	if err != nil {
		return nil, "", err
	}

	snaps, err := ListSnapshots(dir, r.cfg.SnapBase)
	if err != nil {
		return nil, "", err
	}
	r.logger.Info("analyzing simulation", "sim_dir", dir, "snapshots", len(snaps), "mmpb", matches[0])

	results, err := r.processAll(ctx, snaps, mmpb)
	if err != nil {
		return nil, "", err
	}
	props := &GalaxyProps{
		RunID:      uuid.NewString(),
		SimDir:     dir,
		MMPBFile:   matches[0],
		CenterMode: r.cfg.Center,
		CreatedAt:  time.Now().UTC(),
		Snapshots:  []*SnapshotProps{},
	}
	for _, sp := range results {
		if sp != nil {
			props.Snapshots = append(props.Snapshots, sp)
		}
	}
	return props, outDir, nil
}

// processAll runs ProcessSnapshot over snaps on a bounded pool of workers,
// keeping the input order in the result. Skipped snapshots are nil.
func (r *Runner) processAll(ctx context.Context, snaps []string, mmpb *catalog.MMPB) ([]*SnapshotProps, error) {
	results := make([]*SnapshotProps, len(snaps))
	errs := make([]error, len(snaps))

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < max(1, r.cfg.Workers); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i], errs[i] = r.ProcessSnapshot(ctx, snaps[i], mmpb)
			}
		}()
	}

feed:
	for i := range snaps {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", filepath.Base(snaps[i]), err)
		}
	}
	return results, nil
}

var partSuffix = regexp.MustCompile(`\.[1-9][0-9]*$`)

// ListSnapshots returns the snapshots dir/base* newest first, taking the
// newest to sort last by name. Of a multi-file snapshot only the .0 file
// is listed.
func ListSnapshots(dir, base string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, base+"*"))
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	listed := make(map[string]bool, len(matches))
	for _, m := range matches {
		listed[m] = true
	}
	var out []string
	for _, m := range matches {
		if loc := partSuffix.FindStringIndex(m); loc != nil && listed[m[:loc[0]]+".0"] {
			continue
		}
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		out = append(out, m)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	return out, nil
}

// ProcessSnapshot measures the galaxy in one snapshot. It returns nil
// without error when the snapshot's scale factor is not in the MMPB.
func (r *Runner) ProcessSnapshot(ctx context.Context, path string, mmpb *catalog.MMPB) (*SnapshotProps, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	name := filepath.Base(path)
	log := r.logger.With("snapshot", name)

	snap, err := snapshot.Open(path, snapshot.Units{
		LengthKpcH:  r.cfg.Units.LengthKpcH,
		MassMsunH:   r.cfg.Units.MassMsunH,
		VelocityKms: r.cfg.Units.VelocityKms,
	})
	if err != nil {
		return nil, err
	}

	scale := catalog.RoundScale(snap.Header.Scale)
	entry, ok := mmpb.Lookup(scale)
	if !ok {
		log.Debug("scale not in MMPB, skipping", "scale", scale)
		r.metrics.SnapshotsSkipped.Inc()
		return nil, nil
	}
	log.Info("finding galaxy properties", "scale", scale)

	h := snap.Header.H100
	if h <= 0 {
		h = 1
	}
	haloCenter, rvir := entry.Center(h), entry.Rvir(h)
	sp := &SnapshotProps{
		Snapshot:   name,
		Scale:      scale,
		Redshift:   snap.Header.Redshift,
		HaloCenter: haloCenter,
		HaloRvir:   rvir,
	}

	stars, err := snap.Sphere(snapshot.Stars, haloCenter, rvir)
	if err != nil {
		return nil, err
	}
	sp.StarsCount = stars.Len()
	sp.StarsTotalMass = galaxyprops.TotalMass(stars.Masses)
	if stars.Len() == 0 {
		log.Warn("no stars inside the virial radius")
	}
	if com, ok := galaxyprops.CenterOfMass(stars.Positions, stars.Masses); ok {
		sp.StarsCOM = &com
	}
	if peak, ok := galaxyprops.MaxDensity(stars.Positions, stars.Masses, r.cfg.MaxDensGrid); ok {
		sp.StarsMaxDens = &peak
	}
	hist := galaxyprops.RefineHistCenter(stars.Positions, stars.Masses, r.histParams())
	if hist.Found {
		sp.StarsHistCenter = &hist.Center
		r.metrics.HistCenterIterations.Observe(float64(hist.Iterations))
	}
	sp.StarsCenter = r.stellarCenter(sp)

	// The inner sphere is doubled until it is resolved by the softening.
	sp.StarsSphereR = r.cfg.SCSphereR * rvir
	for sp.StarsSphereR > 0 && sp.StarsSphereR < r.cfg.SofteningKpc {
		sp.StarsSphereR *= 2
	}

	if c := sp.StarsCenter; c != nil {
		sp.StarsShape = r.shapes(log, snapshot.Stars, *c, stars.Positions)

		dm, err := snap.Sphere(snapshot.DarkMatter, haloCenter, rvir)
		if err != nil {
			return nil, err
		}
		sp.DMShape = r.shapes(log, snapshot.DarkMatter, *c, dm.Positions)

		inner, err := snap.Sphere(snapshot.Stars, *c, sp.StarsSphereR)
		if err != nil {
			return nil, err
		}
		if galaxyprops.TotalMass(inner.Masses) > 0 {
			prof := galaxyprops.CumulativeMassProfile(*c, inner.Positions, inner.Masses, sp.StarsSphereR, r.cfg.MassProfileBins)
			sp.StarsMassProfile = &prof
			if rh, ok := galaxyprops.HalfMassRadius(prof); ok {
				sp.StarsRHalf = &rh
			}
		}
		if l, ok := galaxyprops.AngularMomentumDirection(inner.Positions, inner.Velocities, inner.Masses, *c); ok {
			sp.StarsL = &l
		}
	} else {
		log.Warn("no stellar center, skipping shapes and stellar profile", "center", r.cfg.Center)
	}

	gas, err := snap.Sphere(snapshot.Gas, haloCenter, rvir)
	if err != nil {
		return nil, err
	}
	sp.GasTotalMass = galaxyprops.TotalMass(gas.Masses)
	sp.GasMaxDens = r.gasPeak(gas)
	if pk := sp.GasMaxDens; pk != nil && sp.StarsSphereR > 0 {
		around, err := snap.Sphere(snapshot.Gas, pk.Location, sp.StarsSphereR)
		if err != nil {
			return nil, err
		}
		if l, ok := galaxyprops.AngularMomentumDirection(around.Positions, around.Velocities, around.Masses, pk.Location); ok {
			sp.GasL = &l
		}
	}

	r.metrics.SnapshotsProcessed.Inc()
	r.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
	log.Debug("snapshot done", "elapsed", time.Since(start))
	return sp, nil
}

func (r *Runner) histParams() *galaxyprops.HistCenterParams {
	p := &galaxyprops.HistCenterParams{
		BinsPerAxis:   r.cfg.Hist.BinsPerAxis,
		MinPoints:     r.cfg.Hist.MinPoints,
		MaxIterations: r.cfg.Hist.MaxIterations,
		TieBreak:      galaxyprops.TieFirst,
	}
	if r.cfg.Hist.TieBreak == "mean" {
		p.TieBreak = galaxyprops.TieMean
	}
	return p
}

func (r *Runner) stellarCenter(sp *SnapshotProps) *galaxyprops.Vec3 {
	switch r.cfg.Center {
	case config.CenterMaxDens:
		if sp.StarsMaxDens != nil {
			return &sp.StarsMaxDens.Location
		}
	case config.CenterCOM:
		return sp.StarsCOM
	default:
		return sp.StarsHistCenter
	}
	return nil
}

func (r *Runner) fitter() *galaxyprops.IterativeFitter {
	return &galaxyprops.IterativeFitter{
		MinParticles:      r.cfg.Shape.MinParticles,
		MinOuterParticles: r.cfg.Shape.MinOuterParticles,
		MaxIterations:     r.cfg.Shape.MaxIterations,
		Tolerance:         r.cfg.Shape.Tolerance,
		NoiseScale:        r.cfg.Shape.NoiseScale,
	}
}

// shapes measures a shape profile and records per-radius outcomes. A
// failed fit is logged and leaves the profile unset.
func (r *Runner) shapes(log *slog.Logger, sp snapshot.Species, center galaxyprops.Vec3, pos []galaxyprops.Vec3) *galaxyprops.ShapeProfile {
	p := galaxyprops.NewShapeParams()
	p.NRad, p.RMax = r.cfg.ShapesNRad, r.cfg.ShapesRMax

	prof, err := galaxyprops.Shapes(center, pos, p, r.fitter())
	if err != nil {
		log.Warn("shape fit failed", "species", sp.String(), "error", err)
		r.metrics.ShapeFits.WithLabelValues(sp.String(), "error").Inc()
		return nil
	}
	for _, s := range prof.Samples {
		result := "resolved"
		if !s.Resolved {
			result = "unresolved"
			log.Debug("not enough particles to find shape", "species", sp.String(), "r", s.Radius)
		}
		r.metrics.ShapeFits.WithLabelValues(sp.String(), result).Inc()
	}
	return prof
}

// gasPeak returns the densest gas particle when densities are known and
// the CIC density maximum otherwise.
func (r *Runner) gasPeak(gas *snapshot.Particles) *galaxyprops.DensityPeak {
	if gas.Len() == 0 {
		return nil
	}
	if len(gas.Density) == gas.Len() {
		i := floats.MaxIdx(gas.Density)
		return &galaxyprops.DensityPeak{Density: gas.Density[i], Location: gas.Positions[i]}
	}
	if peak, ok := galaxyprops.MaxDensity(gas.Positions, gas.Masses, r.cfg.MaxDensGrid); ok {
		return &peak
	}
	return nil
}
