package main

import (
	"fmt"
	"io"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"galaxyprops/internal/pipeline"
	"galaxyprops/pkg/galaxyprops"
)

func printProps(out io.Writer, props *pipeline.GalaxyProps) {
	fmt.Fprintln(out)
	fmt.Fprintf(out, "=== Galaxy Properties (%s, center %s) ===\n", props.SimDir, props.CenterMode)
	fmt.Fprintf(out, "  Run:             %s\n", props.RunID)
	fmt.Fprintf(out, "  Snapshots:       %d\n", len(props.Snapshots))

	var mstar, rhalf, offset, ca, ba []float64
	for _, sp := range props.Snapshots {
		if sp.StarsTotalMass > 0 {
			mstar = append(mstar, sp.StarsTotalMass)
		}
		if sp.StarsRHalf != nil {
			rhalf = append(rhalf, *sp.StarsRHalf)
		}
		if sp.StarsCenter != nil {
			offset = append(offset, galaxyprops.Distance(*sp.StarsCenter, sp.HaloCenter))
		}
		if s, ok := outermostResolved(sp.StarsShape); ok {
			ca = append(ca, s.CToA)
			ba = append(ba, s.BToA)
		}
	}
	if len(mstar) > 0 {
		m, mad := medianMAD(mstar)
		fmt.Fprintf(out, "  M* (median):     %.3e +/- %.3e Msun\n", m, mad)
	}
	if len(rhalf) > 0 {
		m, mad := medianMAD(rhalf)
		fmt.Fprintf(out, "  r_half (median): %.3f +/- %.3f kpc\n", m, mad)
	}
	if len(offset) > 0 {
		m, mad := medianMAD(offset)
		fmt.Fprintf(out, "  Center offset:   %.3f +/- %.3f kpc\n", m, mad)
	}
	if len(ca) > 0 {
		cm, cmad := medianMAD(ca)
		bm, bmad := medianMAD(ba)
		fmt.Fprintf(out, "  c/a (outer):     %.3f +/- %.3f\n", cm, cmad)
		fmt.Fprintf(out, "  b/a (outer):     %.3f +/- %.3f\n", bm, bmad)
	}
	fmt.Fprintln(out, "  ---")
	for _, sp := range props.Snapshots {
		rh := math.NaN()
		if sp.StarsRHalf != nil {
			rh = *sp.StarsRHalf
		}
		fmt.Fprintf(out, "  a=%.4f  z=%6.3f  n*=%-8d M*=%.3e  r_half=%.3f\n",
			sp.Scale, sp.Redshift, sp.StarsCount, sp.StarsTotalMass, rh)
	}
	fmt.Fprintln(out, "==============================")
}

func outermostResolved(p *galaxyprops.ShapeProfile) (galaxyprops.ShapeSample, bool) {
	if p == nil {
		return galaxyprops.ShapeSample{}, false
	}
	for i := len(p.Samples) - 1; i >= 0; i-- {
		if p.Samples[i].Resolved {
			return p.Samples[i], true
		}
	}
	return galaxyprops.ShapeSample{}, false
}

func printProfile(out io.Writer, res *pipeline.ProfileResult) {
	fmt.Fprintln(out)
	fmt.Fprintf(out, "=== Profile (%s, z=%.3f) ===\n", res.Snapshot, res.Redshift)
	fmt.Fprintf(out, "  Center:          %.3f %.3f %.3f kpc\n", res.Center[0], res.Center[1], res.Center[2])
	fmt.Fprintf(out, "  Mass < %g kpc: %.4e Msun\n", res.SphereKpc, res.TotalMass)
	fmt.Fprintln(out, "  ---")
	for i, r := range res.DM.Radii {
		fmt.Fprintf(out, "  r<%9.3f  rho=%.4e  n=%.0f\n", r, res.DM.Density[i], res.DM.Count[i])
	}
	fmt.Fprintln(out, "==============================")
}

// medianMAD returns the empirical median (the lower middle value for an
// even count) and the normal-consistent median absolute deviation.
func medianMAD(values []float64) (float64, float64) {
	if len(values) == 0 {
		return math.NaN(), math.NaN()
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	med := stat.Quantile(0.5, stat.Empirical, sorted, nil)

	deviations := make([]float64, len(sorted))
	for i, v := range sorted {
		deviations[i] = math.Abs(v - med)
	}
	sort.Float64s(deviations)
	return med, 1.4826 * stat.Quantile(0.5, stat.Empirical, deviations, nil)
}
