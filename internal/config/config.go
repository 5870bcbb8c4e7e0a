package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultBackend      = "host"
	DefaultDevice       = -1
	DefaultKernelPath   = "kernel.cl"
	DefaultBuildOptions = "-cl-std=CL1.2"
	DefaultDataDir      = "./data"
	DefaultStore        = "fs"
	DefaultLogLevel     = "info"

	DefaultBenchSize   = 1 << 22
	DefaultBenchCycles = 100
	DefaultBenchPasses = 2
	DefaultBenchLeft   = 1
	DefaultBenchRight  = 2

	DefaultBodies        = 1024
	DefaultDistribution  = "cloud"
	DefaultGravity       = 1.0
	DefaultStepSize      = 0.001
	DefaultSnapshotEvery = 100

	DefaultTuneIterations = 20
	DefaultTunePopSize    = 20
	DefaultTuneSteps      = 5

	DefaultAddr          = ":8080"
	DefaultMaxConcurrent = 1
)

// Distributions lists the body generators understood by the simulator.
var Distributions = []string{"cloud", "disk", "explicit"}

type Config struct {
	Backend      string       `yaml:"backend"`
	Device       int          `yaml:"device"`
	KernelPath   string       `yaml:"kernel_path"`
	BuildOptions string       `yaml:"build_options"`
	DataDir      string       `yaml:"data_dir"`
	Store        string       `yaml:"store"`
	LogLevel     string       `yaml:"log_level"`
	Bench        BenchConfig  `yaml:"bench"`
	Simulate     SimConfig    `yaml:"simulate"`
	Tune         TuneConfig   `yaml:"tune"`
	Server       ServerConfig `yaml:"server"`
}

type BenchConfig struct {
	Size   int   `yaml:"size"`
	Cycles int   `yaml:"cycles"`
	Passes int   `yaml:"passes"`
	Left   int32 `yaml:"left"`
	Right  int32 `yaml:"right"`
	// Backends lists the compute backends whose devices are benchmarked.
	Backends []string `yaml:"backends"`
	// AllDevices benchmarks every device of each backend instead of the preferred one.
	AllDevices bool `yaml:"all_devices"`
}

type SimConfig struct {
	Bodies        int          `yaml:"bodies"`
	Distribution  string       `yaml:"distribution"`
	Seed          int64        `yaml:"seed"`
	Gravity       float32      `yaml:"gravity"`
	StepSize      float32      `yaml:"step_size"`
	FixedStep     bool         `yaml:"fixed_step"`
	MaxSteps      int          `yaml:"max_steps"`
	SnapshotEvery int          `yaml:"snapshot_every"`
	WorkGroupSize int          `yaml:"work_group_size"`
	TraceBodies   bool         `yaml:"trace_bodies"`
	Initial       []BodyConfig `yaml:"initial,omitempty"`
}

type BodyConfig struct {
	X      float32 `yaml:"x"`
	Y      float32 `yaml:"y"`
	Z      float32 `yaml:"z"`
	Radius float32 `yaml:"radius"`
	VX     float32 `yaml:"vx"`
	VY     float32 `yaml:"vy"`
	VZ     float32 `yaml:"vz"`
}

type TuneConfig struct {
	Iterations   int   `yaml:"iterations"`
	PopSize      int   `yaml:"pop_size"`
	StepsPerEval int   `yaml:"steps_per_eval"`
	Seed         int64 `yaml:"seed"`
}

type ServerConfig struct {
	Addr          string `yaml:"addr"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

func Default() *Config {
	return &Config{
		Backend:      DefaultBackend,
		Device:       DefaultDevice,
		KernelPath:   DefaultKernelPath,
		BuildOptions: DefaultBuildOptions,
		DataDir:      DefaultDataDir,
		Store:        DefaultStore,
		LogLevel:     DefaultLogLevel,
		Bench: BenchConfig{
			Size:     DefaultBenchSize,
			Cycles:   DefaultBenchCycles,
			Passes:   DefaultBenchPasses,
			Left:     DefaultBenchLeft,
			Right:    DefaultBenchRight,
			Backends: []string{DefaultBackend},
		},
		Simulate: SimConfig{
			Bodies:        DefaultBodies,
			Distribution:  DefaultDistribution,
			Seed:          1,
			Gravity:       DefaultGravity,
			StepSize:      DefaultStepSize,
			FixedStep:     true,
			SnapshotEvery: DefaultSnapshotEvery,
		},
		Tune: TuneConfig{
			Iterations:   DefaultTuneIterations,
			PopSize:      DefaultTunePopSize,
			StepsPerEval: DefaultTuneSteps,
			Seed:         1,
		},
		Server: ServerConfig{
			Addr:          DefaultAddr,
			MaxConcurrent: DefaultMaxConcurrent,
		},
	}
}

// Load reads a YAML file on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Store {
	case "fs", "badger":
	default:
		errs = append(errs, fmt.Errorf("store must be fs or badger, got %q", c.Store))
	}

	if c.Bench.Size <= 0 {
		errs = append(errs, fmt.Errorf("bench.size must be positive, got %d", c.Bench.Size))
	}
	if c.Bench.Cycles <= 0 {
		errs = append(errs, fmt.Errorf("bench.cycles must be positive, got %d", c.Bench.Cycles))
	}
	if c.Bench.Passes <= 0 {
		errs = append(errs, fmt.Errorf("bench.passes must be positive, got %d", c.Bench.Passes))
	}
	if len(c.Bench.Backends) == 0 {
		errs = append(errs, errors.New("bench.backends must not be empty"))
	}

	s := c.Simulate
	if !validDistribution(s.Distribution) {
		errs = append(errs, fmt.Errorf("simulate.distribution must be one of %s, got %q", strings.Join(Distributions, ", "), s.Distribution))
	}
	if s.Distribution == "explicit" {
		if len(s.Initial) == 0 {
			errs = append(errs, errors.New("simulate.initial must list bodies for the explicit distribution"))
		}
	} else if s.Bodies <= 0 {
		errs = append(errs, fmt.Errorf("simulate.bodies must be positive, got %d", s.Bodies))
	}
	if s.StepSize <= 0 {
		errs = append(errs, fmt.Errorf("simulate.step_size must be positive, got %g", s.StepSize))
	}
	if s.MaxSteps < 0 {
		errs = append(errs, fmt.Errorf("simulate.max_steps must not be negative, got %d", s.MaxSteps))
	}
	if s.SnapshotEvery < 0 {
		errs = append(errs, fmt.Errorf("simulate.snapshot_every must not be negative, got %d", s.SnapshotEvery))
	}
	if s.WorkGroupSize < 0 {
		errs = append(errs, fmt.Errorf("simulate.work_group_size must not be negative, got %d", s.WorkGroupSize))
	}

	if c.Tune.PopSize < 20 {
		errs = append(errs, fmt.Errorf("tune.pop_size must be at least 20, got %d", c.Tune.PopSize))
	}
	if c.Tune.Iterations <= 0 {
		errs = append(errs, fmt.Errorf("tune.iterations must be positive, got %d", c.Tune.Iterations))
	}
	if c.Tune.StepsPerEval <= 0 {
		errs = append(errs, fmt.Errorf("tune.steps_per_eval must be positive, got %d", c.Tune.StepsPerEval))
	}

	if c.Server.MaxConcurrent <= 0 {
		errs = append(errs, fmt.Errorf("server.max_concurrent must be positive, got %d", c.Server.MaxConcurrent))
	}

	return errors.Join(errs...)
}

func validDistribution(name string) bool {
	for _, d := range Distributions {
		if d == name {
			return true
		}
	}
	return false
}
