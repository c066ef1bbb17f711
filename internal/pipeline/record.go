package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"galaxyprops/pkg/galaxyprops"
)

// GalaxyProps is the result of one simulation directory. Snapshots are
// ordered newest first.
type GalaxyProps struct {
	RunID      string           `json:"run_id"`
	SimDir     string           `json:"sim_dir"`
	MMPBFile   string           `json:"mmpb_file"`
	CenterMode string           `json:"center_mode"`
	CreatedAt  time.Time        `json:"created_at"`
	Snapshots  []*SnapshotProps `json:"snapshots"`
}

// SnapshotProps are the galaxy properties measured in one snapshot.
// Positions are physical kpc, masses Msun and densities Msun/kpc^3. Nil
// fields could not be measured and are written as null.
type SnapshotProps struct {
	Snapshot   string           `json:"snapshot"`
	Scale      float64          `json:"scale"`
	Redshift   float64          `json:"redshift"`
	HaloCenter galaxyprops.Vec3 `json:"halo_center"`
	HaloRvir   float64          `json:"halo_rvir"`

	StarsCount       int                       `json:"stars_count"`
	StarsTotalMass   float64                   `json:"stars_total_mass"`
	StarsCOM         *galaxyprops.Vec3         `json:"stars_com"`
	StarsMaxDens     *galaxyprops.DensityPeak  `json:"stars_maxdens"`
	StarsHistCenter  *galaxyprops.Vec3         `json:"stars_hist_center"`
	StarsCenter      *galaxyprops.Vec3         `json:"stars_center"`
	StarsShape       *galaxyprops.ShapeProfile `json:"stars_shape"`
	DMShape          *galaxyprops.ShapeProfile `json:"dm_shape"`
	StarsSphereR     float64                   `json:"stars_sphere_r"`
	StarsMassProfile *galaxyprops.MassProfile  `json:"stars_mass_profile"`
	StarsRHalf       *float64                  `json:"stars_rhalf"`
	StarsL           *galaxyprops.Vec3         `json:"stars_L"`

	GasTotalMass float64                  `json:"gas_total_mass"`
	GasMaxDens   *galaxyprops.DensityPeak `json:"gas_maxdens"`
	GasL         *galaxyprops.Vec3        `json:"gas_L"`
}

// Sink stores the result of a simulation directory.
type Sink interface {
	Write(props *GalaxyProps) error
}

// JSONSink writes each result as an indented JSON file in OutDir, named
// after the MMPB file (see GalaxyFileName).
type JSONSink struct {
	OutDir string
}

func (s *JSONSink) Write(props *GalaxyProps) error {
	if err := os.MkdirAll(s.OutDir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	return WriteJSON(filepath.Join(s.OutDir, GalaxyFileName(props.MMPBFile)), props)
}

// GalaxyFileName derives the output name from an MMPB file name:
// "halo_mmpb_props.txt" becomes "halo_galaxy_props.json".
func GalaxyFileName(mmpbPath string) string {
	base := strings.ReplaceAll(filepath.Base(mmpbPath), "mmpb", "galaxy")
	return strings.TrimSuffix(base, filepath.Ext(base)) + ".json"
}
