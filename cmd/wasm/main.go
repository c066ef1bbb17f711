//go:build js && wasm

package main

import (
	"bytes"
	"syscall/js"

	"gonum.org/v1/gonum/stat"

	"galaxyprops/pkg/galaxyprops"
	"galaxyprops/pkg/snapshot"
)

var lastSnap *snapshot.Gadget2

func main() {
	js.Global().Set("loadSnapshot", js.FuncOf(loadSnapshot))
	js.Global().Set("analyzeGalaxy", js.FuncOf(analyzeGalaxy))
	select {} // block forever
}

// loadSnapshot(fileBytes) parses a single-file Gadget-2 snapshot with the
// default code units and keeps it for analyzeGalaxy.
func loadSnapshot(this js.Value, args []js.Value) any {
	if len(args) < 1 {
		return errorResult("usage: loadSnapshot(fileBytes)")
	}
	buf := make([]byte, args[0].Get("length").Int())
	js.CopyBytesToGo(buf, args[0])

	snap, err := snapshot.Read(bytes.NewReader(buf), snapshot.NewUnits())
	if err != nil {
		return errorResult("snapshot parse error: " + err.Error())
	}
	lastSnap = snap

	hd := snap.Header
	return js.ValueOf(map[string]any{
		"redshift": hd.Redshift,
		"scale":    hd.Scale,
		"box":      snap.Box(),
		"gas":      snap.Count(snapshot.Gas),
		"dm":       snap.Count(snapshot.DarkMatter),
		"stars":    snap.Count(snapshot.Stars),
	})
}

// analyzeGalaxy(options) measures one species of the loaded snapshot in a
// sphere. Options: species ("stars"), center ([x,y,z] physical kpc, box
// center), radius (kpc, half the box), nrad (10) and rmax (kpc, radius).
func analyzeGalaxy(this js.Value, args []js.Value) any {
	if lastSnap == nil {
		return errorResult("no snapshot loaded")
	}
	var opts js.Value
	if len(args) >= 1 && args[0].Type() == js.TypeObject {
		opts = args[0]
	}

	half := lastSnap.Box() / 2
	center := galaxyprops.Vec3{half, half, half}
	radius := half
	speciesName := "stars"
	sp := galaxyprops.NewShapeParams()
	if opts.Truthy() {
		if v := opts.Get("species"); v.Type() == js.TypeString {
			speciesName = v.String()
		}
		if v := opts.Get("center"); v.Type() == js.TypeObject && v.Length() == 3 {
			center = galaxyprops.Vec3{v.Index(0).Float(), v.Index(1).Float(), v.Index(2).Float()}
		}
		if v := opts.Get("radius"); v.Type() == js.TypeNumber {
			radius = v.Float()
		}
		if v := opts.Get("nrad"); v.Type() == js.TypeNumber {
			sp.NRad = v.Int()
		}
		if v := opts.Get("rmax"); v.Type() == js.TypeNumber {
			sp.RMax = v.Float()
		}
	}
	if sp.RMax == 0 {
		sp.RMax = radius
	}

	species, err := snapshot.ParseSpecies(speciesName)
	if err != nil {
		return errorResult(err.Error())
	}
	parts, err := lastSnap.Sphere(species, center, radius)
	if err != nil {
		return errorResult(err.Error())
	}

	result := map[string]any{
		"species":   species.String(),
		"count":     parts.Len(),
		"totalMass": parts.TotalMass(),
	}
	if com, ok := galaxyprops.CenterOfMass(parts.Positions, parts.Masses); ok {
		result["com"] = vecJS(com)
	}
	hist := galaxyprops.RefineHistCenter(parts.Positions, parts.Masses, galaxyprops.NewHistCenterParams())
	if !hist.Found {
		return js.ValueOf(result)
	}
	result["center"] = vecJS(hist.Center)
	result["iterations"] = hist.Iterations

	prof, err := galaxyprops.Shapes(hist.Center, parts.Positions, sp, nil)
	if err != nil {
		return errorResult("shape fit error: " + err.Error())
	}
	samples := make([]any, len(prof.Samples))
	var ca []float64
	for i, s := range prof.Samples {
		sample := map[string]any{"r": s.Radius, "resolved": s.Resolved}
		if s.Resolved {
			sample["ca"], sample["ba"] = s.CToA, s.BToA
			ca = append(ca, s.CToA)
		}
		samples[i] = sample
	}
	result["shapes"] = samples
	if len(ca) > 0 {
		mean, std := stat.MeanStdDev(ca, nil)
		result["meanCToA"], result["stdCToA"] = mean, std
	}

	if l, ok := galaxyprops.AngularMomentumDirection(parts.Positions, parts.Velocities, parts.Masses, hist.Center); ok {
		result["L"] = vecJS(l)
	}
	mp := galaxyprops.CumulativeMassProfile(hist.Center, parts.Positions, parts.Masses, radius, 100)
	if rh, ok := galaxyprops.HalfMassRadius(mp); ok {
		result["rhalf"] = rh
	}
	return js.ValueOf(result)
}

func vecJS(v galaxyprops.Vec3) []any { return []any{v[0], v[1], v[2]} }

func errorResult(msg string) any {
	return js.ValueOf(map[string]any{
		"error": msg,
	})
}
