package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"galaxyprops/pkg/galaxyprops"
	"galaxyprops/pkg/snapshot"
)

// ProfileResult is the radial profile of the matter around a point.
type ProfileResult struct {
	RunID     string                     `json:"run_id"`
	Snapshot  string                     `json:"snapshot"`
	Redshift  float64                    `json:"redshift"`
	Center    galaxyprops.Vec3           `json:"center"` // physical kpc
	SphereKpc float64                    `json:"sphere_kpc"`
	TotalMass float64                    `json:"total_particle_mass"`
	DM        galaxyprops.DensityProfile `json:"dm_profile"`
	CreatedAt time.Time                  `json:"created_at"`
}

// Profile measures the total particle mass within the configured sphere
// around center and the binned dark matter density profile. When
// codeUnits is set, center is given in the snapshot's comoving code units.
func (r *Runner) Profile(ctx context.Context, path string, center galaxyprops.Vec3, codeUnits bool) (*ProfileResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap, err := snapshot.Open(path, snapshot.Units{
		LengthKpcH:  r.cfg.Units.LengthKpcH,
		MassMsunH:   r.cfg.Units.MassMsunH,
		VelocityKms: r.cfg.Units.VelocityKms,
	})
	if err != nil {
		return nil, err
	}
	if codeUnits {
		center = snap.PhysicalPosition(center)
	}
	pc := r.cfg.Profile

	all, err := snap.SphereAll(center, pc.SphereKpc)
	if err != nil {
		return nil, err
	}
	dm, err := snap.Sphere(snapshot.DarkMatter, center, pc.OuterKpc)
	if err != nil {
		return nil, err
	}

	res := &ProfileResult{
		RunID:     uuid.NewString(),
		Snapshot:  filepath.Base(path),
		Redshift:  snap.Header.Redshift,
		Center:    center,
		SphereKpc: pc.SphereKpc,
		TotalMass: galaxyprops.TotalMass(all.Masses),
		DM:        galaxyprops.NewDensityProfile(center, dm.Positions, dm.Masses, pc.InnerKpc, pc.OuterKpc, pc.Bins),
		CreatedAt: time.Now().UTC(),
	}
	r.logger.Info("computed profile",
		"snapshot", res.Snapshot, "particles", all.Len(), "total_mass", res.TotalMass)
	return res, nil
}

// WriteJSON writes v as indented JSON to path.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %T: %w", v, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
