package engine

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/sanonone/scalenav/pkg/hierarchy"
	"github.com/sanonone/scalenav/pkg/navigator"
	"github.com/sanonone/scalenav/pkg/orchestrator"
	"github.com/sanonone/scalenav/pkg/selection"
	"github.com/sanonone/scalenav/pkg/solver"
	"gopkg.in/yaml.v3"
)

// Options configures an Engine. Fields tagged for YAML can be loaded with
// LoadConfig; the rest are wired in code.
type Options struct {
	// DataDir holds the hierarchy cache and the viewport journal.
	// It is created automatically if it does not exist.
	DataDir string `yaml:"data_dir"`

	// CacheDir overrides the cache location (default: <DataDir>/roi-hsne-cache).
	// Set to "-" to disable caching.
	CacheDir string `yaml:"cache_dir"`

	// ImageWidth and ImageHeight lay the data points out as an image; point
	// id y*ImageWidth+x is pixel (x, y).
	ImageWidth  int `yaml:"image_width"`
	ImageHeight int `yaml:"image_height"`

	Params      hierarchy.Params      `yaml:"hierarchy"`
	Parallelism hierarchy.Parallelism `yaml:"parallelism"`

	Budget     navigator.Budget `yaml:"budget"`
	BudgetMode string           `yaml:"budget_mode"`
	// FixedScale keeps the current scale on every update.
	FixedScale bool `yaml:"fixed_scale"`
	// InfluenceThreshold selects landmarks on coarser scales by accumulated
	// influence. Negative values use the bottom-up influence lookup instead.
	InfluenceThreshold float32 `yaml:"influence_threshold"`
	// MinDegree drops selected landmarks with fewer transitions inside the
	// selection.
	MinDegree int `yaml:"min_degree"`

	// ScalingMultiplier scales the previous embedding before it seeds a new one.
	ScalingMultiplier float32 `yaml:"scaling_multiplier"`

	// ReferenceIteration is the solver iteration whose extents become the
	// reference for scaling.
	ReferenceIteration int `yaml:"reference_iteration"`
	// SolverIterations bounds every solver run.
	SolverIterations int `yaml:"solver_iterations"`

	// SequenceFile is the viewport journal inside DataDir; empty disables it.
	SequenceFile string `yaml:"sequence_file"`

	Seed int64 `yaml:"seed"`

	Logger  *slog.Logger      `yaml:"-"`
	Builder hierarchy.Builder `yaml:"-"`
	Solver  solver.Solver     `yaml:"-"`
	// OnSelection receives selections mirrored from one side onto the other.
	OnSelection selection.Sink `yaml:"-"`
	// OnUpdate is called after every finished update, once the solver has
	// been started on its result.
	OnUpdate func(UpdateResult) `yaml:"-"`
	// OnNoUpdate is called for every update that was not started.
	OnNoUpdate func(orchestrator.Reason) `yaml:"-"`
}

// DefaultOptions returns a standard configuration for an image of the given
// size.
//
// Defaults:
//   - DataDir: provided path, cache in <DataDir>/roi-hsne-cache
//   - Budget: target 1500 landmarks, range [1000, 2000], heuristic traversal
//   - Influence: bottom-up lookup
//   - Solver: 1000 iterations, reference extents at iteration 250
func DefaultOptions(dataDir string, width, height int) Options {
	return Options{
		DataDir:            dataDir,
		ImageWidth:         width,
		ImageHeight:        height,
		Params:             hierarchy.DefaultParams(),
		Parallelism:        hierarchy.Parallel,
		Budget:             navigator.DefaultBudget(),
		BudgetMode:         navigator.ModeTarget.String(),
		InfluenceThreshold: navigator.HeuristicInfluence,
		ScalingMultiplier:  1,
		ReferenceIteration: solver.DefaultReferenceIteration,
		SolverIterations:   1000,
		SequenceFile:       "viewport.journal",
		Seed:               1,
	}
}

func (o Options) cacheDir() string {
	switch o.CacheDir {
	case "-":
		return ""
	case "":
		return filepath.Join(o.DataDir, hierarchy.DefaultCacheSubdir)
	}
	return o.CacheDir
}

// normalize fills zero values with defaults, logging corrections of
// invalid ones.
func (o Options) normalize(logger *slog.Logger) (Options, error) {
	def := DefaultOptions(o.DataDir, o.ImageWidth, o.ImageHeight)
	if o.ImageWidth <= 0 || o.ImageHeight <= 0 {
		return o, fmt.Errorf("invalid image size %dx%d", o.ImageWidth, o.ImageHeight)
	}
	o.Params = o.Params.Normalize(logger)
	if o.Parallelism == "" {
		o.Parallelism = def.Parallelism
	}

	mode, err := navigator.ParseMode(o.BudgetMode)
	if err != nil {
		return o, err
	}
	o.Budget.Mode = mode
	if o.Budget.Max <= o.Budget.Min {
		if o.Budget != (navigator.Budget{Mode: mode}) {
			logger.Warn("Invalid visual budget range, using default", "min", o.Budget.Min, "max", o.Budget.Max)
		}
		b := def.Budget
		b.Mode = mode
		if o.Budget.Target > 0 {
			b.Target = o.Budget.Target
		}
		o.Budget = b
	}
	if o.Budget.Target <= 0 {
		o.Budget.Target = (o.Budget.Min + o.Budget.Max) / 2
	}

	if o.ScalingMultiplier <= 0 {
		o.ScalingMultiplier = def.ScalingMultiplier
	}
	if o.ReferenceIteration <= 0 {
		o.ReferenceIteration = def.ReferenceIteration
	}
	if o.SolverIterations <= 0 {
		o.SolverIterations = def.SolverIterations
	}
	if o.MinDegree < 0 {
		o.MinDegree = 0
	}
	return o, nil
}

// LoadConfig reads Options from a YAML file, starting from DefaultOptions.
// Environment variables in the file are expanded, and unknown keys are
// rejected.
func LoadConfig(path string) (Options, error) {
	opts := DefaultOptions("", 0, 0)
	data, err := os.ReadFile(path)
	if err != nil {
		return opts, fmt.Errorf("could not read config file '%s': %w", path, err)
	}

	decoder := yaml.NewDecoder(strings.NewReader(os.ExpandEnv(string(data))))
	decoder.KnownFields(true)
	if err := decoder.Decode(&opts); err != nil {
		return opts, fmt.Errorf("could not parse config file '%s': %w", path, err)
	}
	return opts, nil
}
