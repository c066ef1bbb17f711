package main

import (
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"galaxyprops/internal/config"
	"galaxyprops/internal/pipeline"
	"galaxyprops/pkg/galaxyprops"
)

type options struct {
	configPath string
	logLevel   string
	logFormat  string
	workers    int
	metrics    string

	snapBase   string
	center     string
	scSphereR  float64
	shapesNRad int
	shapesRMax float64
	mmpbFile   string
	outDir     string
	softening  float64

	profileCenter []float64
	codeUnits     bool
	output        string
	sphereKpc     float64
	innerKpc      float64
	outerKpc      float64
	bins          int
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "galaxyprops",
		Short:         "Measure the central galaxy of a halo along its main progenitor branch",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "YAML or TOML configuration file")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVar(&opts.logFormat, "log-format", "", "log format (text, json)")
	pf.IntVar(&opts.workers, "workers", 0, "snapshots processed in parallel")
	pf.StringVar(&opts.metrics, "metrics-textfile", "", "write Prometheus metrics to this file")

	root.AddCommand(newPropsCmd(opts, out), newProfileCmd(opts, out), newVersionCmd(out))
	return root
}

func newPropsCmd(opts *options, out io.Writer) *cobra.Command {
	d := config.Default()
	cmd := &cobra.Command{
		Use:   "props <sim_dir>...",
		Short: "Find galaxy properties in every snapshot of the given simulations",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProps(cmd, opts, out, args)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.snapBase, "snap-base", "s", d.SnapBase, "snapshot file name prefix")
	f.StringVarP(&opts.center, "center", "c", d.Center, "stellar center: max_dens, com or hist")
	f.Float64VarP(&opts.scSphereR, "sc-sphere-r", "r", d.SCSphereR, "stellar sphere radius in units of rvir")
	f.IntVar(&opts.shapesNRad, "shapes-nrad", d.ShapesNRad, "number of radii for the shape profiles")
	f.Float64Var(&opts.shapesRMax, "shapes-rmax", d.ShapesRMax, "outer shape radius in kpc (0 = farthest particle)")
	f.StringVar(&opts.mmpbFile, "mmpb-file", d.MMPBFile, "MMPB catalogue glob, sim_dir is replaced")
	f.StringVar(&opts.outDir, "out-dir", d.OutDir, "output directory, sim_dir is replaced")
	f.Float64Var(&opts.softening, "softening", d.SofteningKpc, "force softening in physical kpc")
	return cmd
}

func newProfileCmd(opts *options, out io.Writer) *cobra.Command {
	d := config.Default()
	cmd := &cobra.Command{
		Use:   "profile <snapshot>",
		Short: "Total mass and dark matter density profile around a point",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProfile(cmd, opts, out, args[0])
		},
	}
	f := cmd.Flags()
	f.Float64SliceVar(&opts.profileCenter, "center", nil, "center x,y,z (physical kpc unless --code-units)")
	f.BoolVar(&opts.codeUnits, "code-units", false, "center is given in snapshot code units")
	f.StringVarP(&opts.output, "output", "o", "", "output JSON file (default <snapshot>_profile.json)")
	f.Float64Var(&opts.sphereKpc, "sphere-kpc", d.Profile.SphereKpc, "radius of the total mass sphere in kpc")
	f.Float64Var(&opts.innerKpc, "inner-kpc", d.Profile.InnerKpc, "innermost profile radius in kpc")
	f.Float64Var(&opts.outerKpc, "outer-kpc", d.Profile.OuterKpc, "outermost profile radius in kpc")
	f.IntVar(&opts.bins, "bins", d.Profile.Bins, "number of profile bins")
	_ = cmd.MarkFlagRequired("center")
	return cmd
}

func newVersionCmd(out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(*cobra.Command, []string) {
			fmt.Fprintf(out, "galaxyprops %s (%s eigen backend, %s)\n", version, galaxyprops.Backend, runtime.Version())
		},
	}
}

// loadConfig reads the configuration file and overlays the flags the user
// set explicitly.
func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}

	f := cmd.Flags()
	set := func(name string, apply func()) {
		if f.Changed(name) {
			apply()
		}
	}
	set("log-level", func() { cfg.Logging.Level = opts.logLevel })
	set("log-format", func() { cfg.Logging.Format = opts.logFormat })
	set("workers", func() { cfg.Workers = opts.workers })
	set("metrics-textfile", func() { cfg.MetricsTextfile = opts.metrics })
	set("snap-base", func() { cfg.SnapBase = opts.snapBase })
	set("center", func() { cfg.Center = opts.center })
	set("sc-sphere-r", func() { cfg.SCSphereR = opts.scSphereR })
	set("shapes-nrad", func() { cfg.ShapesNRad = opts.shapesNRad })
	set("shapes-rmax", func() { cfg.ShapesRMax = opts.shapesRMax })
	set("mmpb-file", func() { cfg.MMPBFile = opts.mmpbFile })
	set("out-dir", func() { cfg.OutDir = opts.outDir })
	set("softening", func() { cfg.SofteningKpc = opts.softening })
	set("sphere-kpc", func() { cfg.Profile.SphereKpc = opts.sphereKpc })
	set("inner-kpc", func() { cfg.Profile.InnerKpc = opts.innerKpc })
	set("outer-kpc", func() { cfg.Profile.OuterKpc = opts.outerKpc })
	set("bins", func() { cfg.Profile.Bins = opts.bins })

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runProps(cmd *cobra.Command, opts *options, out io.Writer, simDirs []string) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd.ErrOrStderr(), cfg.Logging)
	if err != nil {
		return err
	}

	start := time.Now()
	results, err := pipeline.New(cfg, logger, nil).Run(cmd.Context(), simDirs)
	for _, props := range results {
		printProps(out, props)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Done: %d simulation(s) in %.1fs\n", len(results), time.Since(start).Seconds())
	return nil
}

func runProfile(cmd *cobra.Command, opts *options, out io.Writer, path string) error {
	if len(opts.profileCenter) != 3 {
		return fmt.Errorf("--center needs three coordinates, got %d", len(opts.profileCenter))
	}
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd.ErrOrStderr(), cfg.Logging)
	if err != nil {
		return err
	}

	center := galaxyprops.Vec3{opts.profileCenter[0], opts.profileCenter[1], opts.profileCenter[2]}
	res, err := pipeline.New(cfg, logger, nil).Profile(cmd.Context(), path, center, opts.codeUnits)
	if err != nil {
		return err
	}

	dst := opts.output
	if dst == "" {
		dst = filepath.Base(path) + "_profile.json"
	}
	if err := pipeline.WriteJSON(dst, res); err != nil {
		return err
	}
	printProfile(out, res)
	fmt.Fprintf(out, "Saved: %s\n", dst)
	return nil
}
