package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Stellar center modes.
const (
	CenterMaxDens = "max_dens"
	CenterCOM     = "com"
	CenterHist    = "hist"
)

// SimDirPlaceholder is replaced by the simulation directory in MMPBFile
// and OutDir.
const SimDirPlaceholder = "sim_dir"

type Config struct {
	SnapBase        string  `yaml:"snap_base" toml:"snap_base"`
	Center          string  `yaml:"center" toml:"center"`
	SCSphereR       float64 `yaml:"sc_sphere_r" toml:"sc_sphere_r"`
	ShapesNRad      int     `yaml:"shapes_nrad" toml:"shapes_nrad"`
	ShapesRMax      float64 `yaml:"shapes_rmax" toml:"shapes_rmax"`
	MMPBFile        string  `yaml:"mmpb_file" toml:"mmpb_file"`
	OutDir          string  `yaml:"out_dir" toml:"out_dir"`
	SofteningKpc    float64 `yaml:"softening_kpc" toml:"softening_kpc"`
	MaxDensGrid     int     `yaml:"max_dens_grid" toml:"max_dens_grid"`
	MassProfileBins int     `yaml:"mass_profile_bins" toml:"mass_profile_bins"`
	Workers         int     `yaml:"workers" toml:"workers"`
	MetricsTextfile string  `yaml:"metrics_textfile" toml:"metrics_textfile"`

	Units   UnitsConfig   `yaml:"units" toml:"units"`
	Hist    HistConfig    `yaml:"hist" toml:"hist"`
	Shape   ShapeConfig   `yaml:"shape" toml:"shape"`
	Profile ProfileConfig `yaml:"profile" toml:"profile"`
	Logging LoggingConfig `yaml:"logging" toml:"logging"`
}

// UnitsConfig are the code units of the snapshots.
type UnitsConfig struct {
	LengthKpcH  float64 `yaml:"length_kpc_h" toml:"length_kpc_h"`
	MassMsunH   float64 `yaml:"mass_msun_h" toml:"mass_msun_h"`
	VelocityKms float64 `yaml:"velocity_kms" toml:"velocity_kms"`
}

type HistConfig struct {
	BinsPerAxis   int    `yaml:"bins_per_axis" toml:"bins_per_axis"`
	MinPoints     int    `yaml:"min_points" toml:"min_points"`
	MaxIterations int    `yaml:"max_iterations" toml:"max_iterations"`
	TieBreak      string `yaml:"tie_break" toml:"tie_break"`
}

type ShapeConfig struct {
	MinParticles      int     `yaml:"min_particles" toml:"min_particles"`
	MinOuterParticles int     `yaml:"min_outer_particles" toml:"min_outer_particles"`
	MaxIterations     int     `yaml:"max_iterations" toml:"max_iterations"`
	Tolerance         float64 `yaml:"tolerance" toml:"tolerance"`
	NoiseScale        float64 `yaml:"noise_scale" toml:"noise_scale"`
}

type ProfileConfig struct {
	SphereKpc float64 `yaml:"sphere_kpc" toml:"sphere_kpc"`
	InnerKpc  float64 `yaml:"inner_kpc" toml:"inner_kpc"`
	OuterKpc  float64 `yaml:"outer_kpc" toml:"outer_kpc"`
	Bins      int     `yaml:"bins" toml:"bins"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default returns the configuration used when no file or environment
// override is given.
func Default() *Config {
	return &Config{
		SnapBase:        "10MpcBox_csf512_",
		Center:          CenterHist,
		SCSphereR:       0.25,
		ShapesNRad:      10,
		ShapesRMax:      20.0,
		MMPBFile:        "sim_dir/analysis/catalogs/*_mmpb_props.txt",
		OutDir:          "sim_dir/analysis/catalogs/",
		MaxDensGrid:     64,
		MassProfileBins: 100,
		Workers:         runtime.NumCPU(),
		Units: UnitsConfig{
			LengthKpcH:  1,
			MassMsunH:   1e10,
			VelocityKms: 1,
		},
		Hist: HistConfig{
			BinsPerAxis:   3,
			MinPoints:     10,
			MaxIterations: 100,
			TieBreak:      "first",
		},
		Shape: ShapeConfig{
			MinParticles:      10,
			MinOuterParticles: 1,
			MaxIterations:     100,
			Tolerance:         1e-3,
			NoiseScale:        3,
		},
		Profile: ProfileConfig{
			SphereKpc: 1000,
			InnerKpc:  0.3,
			OuterKpc:  200,
			Bins:      30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds a Config from the defaults, the file at path (TOML when it
// ends in .toml, YAML otherwise) and GALAXYPROPS_* environment variables,
// in increasing order of precedence. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if strings.EqualFold(filepath.Ext(path), ".toml") {
			if _, err := toml.Decode(string(data), cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("GALAXYPROPS_SNAP_BASE"); v != "" {
		cfg.SnapBase = v
	}
	if v := os.Getenv("GALAXYPROPS_CENTER"); v != "" {
		cfg.Center = v
	}
	if v := os.Getenv("GALAXYPROPS_SC_SPHERE_R"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.SCSphereR = f
		}
	}
	if v := os.Getenv("GALAXYPROPS_SHAPES_NRAD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ShapesNRad = n
		}
	}
	if v := os.Getenv("GALAXYPROPS_SHAPES_RMAX"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.ShapesRMax = f
		}
	}
	if v := os.Getenv("GALAXYPROPS_MMPB_FILE"); v != "" {
		cfg.MMPBFile = v
	}
	if v := os.Getenv("GALAXYPROPS_OUT_DIR"); v != "" {
		cfg.OutDir = v
	}
	if v := os.Getenv("GALAXYPROPS_SOFTENING_KPC"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.SofteningKpc = f
		}
	}
	if v := os.Getenv("GALAXYPROPS_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers = n
		}
	}
	if v := os.Getenv("GALAXYPROPS_METRICS_TEXTFILE"); v != "" {
		cfg.MetricsTextfile = v
	}
	if v := os.Getenv("GALAXYPROPS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("GALAXYPROPS_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Center {
	case CenterMaxDens, CenterCOM, CenterHist:
	default:
		return fmt.Errorf("config: center must be %q, %q or %q, got %q",
			CenterMaxDens, CenterCOM, CenterHist, c.Center)
	}
	switch c.Hist.TieBreak {
	case "first", "mean":
	default:
		return fmt.Errorf("config: hist.tie_break must be \"first\" or \"mean\", got %q", c.Hist.TieBreak)
	}
	switch {
	case c.SnapBase == "":
		return fmt.Errorf("config: snap_base is empty")
	case c.SCSphereR <= 0:
		return fmt.Errorf("config: sc_sphere_r must be positive, got %g", c.SCSphereR)
	case c.ShapesNRad < 0:
		return fmt.Errorf("config: shapes_nrad must not be negative, got %d", c.ShapesNRad)
	case c.ShapesRMax < 0:
		return fmt.Errorf("config: shapes_rmax must not be negative, got %g", c.ShapesRMax)
	case c.Workers < 1:
		return fmt.Errorf("config: workers must be at least 1, got %d", c.Workers)
	case c.MaxDensGrid < 1:
		return fmt.Errorf("config: max_dens_grid must be at least 1, got %d", c.MaxDensGrid)
	case c.MassProfileBins < 1:
		return fmt.Errorf("config: mass_profile_bins must be at least 1, got %d", c.MassProfileBins)
	case c.Hist.BinsPerAxis < 1:
		return fmt.Errorf("config: hist.bins_per_axis must be at least 1, got %d", c.Hist.BinsPerAxis)
	case c.Hist.MinPoints < 0:
		return fmt.Errorf("config: hist.min_points must not be negative, got %d", c.Hist.MinPoints)
	case c.Hist.MaxIterations < 1:
		return fmt.Errorf("config: hist.max_iterations must be at least 1, got %d", c.Hist.MaxIterations)
	case c.Shape.MinParticles < 1:
		return fmt.Errorf("config: shape.min_particles must be at least 1, got %d", c.Shape.MinParticles)
	case c.Shape.MinOuterParticles < 0:
		return fmt.Errorf("config: shape.min_outer_particles must not be negative, got %d", c.Shape.MinOuterParticles)
	case c.Shape.MaxIterations < 1:
		return fmt.Errorf("config: shape.max_iterations must be at least 1, got %d", c.Shape.MaxIterations)
	case c.Shape.Tolerance <= 0:
		return fmt.Errorf("config: shape.tolerance must be positive, got %g", c.Shape.Tolerance)
	case c.Shape.NoiseScale < 0:
		return fmt.Errorf("config: shape.noise_scale must not be negative, got %g", c.Shape.NoiseScale)
	case c.Profile.InnerKpc <= 0 || c.Profile.OuterKpc <= c.Profile.InnerKpc:
		return fmt.Errorf("config: profile radii must satisfy 0 < inner_kpc < outer_kpc, got %g and %g",
			c.Profile.InnerKpc, c.Profile.OuterKpc)
	case c.Profile.Bins < 1:
		return fmt.Errorf("config: profile.bins must be at least 1, got %d", c.Profile.Bins)
	}
	return nil
}

// ForSimDir returns MMPBFile and OutDir with the sim_dir placeholder
// replaced by dir.
func (c *Config) ForSimDir(dir string) (mmpbGlob, outDir string) {
	return strings.ReplaceAll(c.MMPBFile, SimDirPlaceholder, dir),
		strings.ReplaceAll(c.OutDir, SimDirPlaceholder, dir)
}
