package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Backend != DefaultBackend {
		t.Errorf("Backend = %q, want %q", cfg.Backend, DefaultBackend)
	}
	if cfg.Bench.Left != 1 || cfg.Bench.Right != 2 {
		t.Errorf("bench inputs = %d/%d, want 1/2", cfg.Bench.Left, cfg.Bench.Right)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clbench.yaml")
	content := `
backend: opencl
bench:
  size: 1000
  backends: [host, opencl]
simulate:
  distribution: explicit
  initial:
    - {x: -1, radius: 1}
    - {x: 1, radius: 1}
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Backend != "opencl" {
		t.Errorf("Backend = %q, want opencl", cfg.Backend)
	}
	if cfg.Bench.Size != 1000 {
		t.Errorf("Bench.Size = %d, want 1000", cfg.Bench.Size)
	}
	if cfg.Bench.Cycles != DefaultBenchCycles {
		t.Errorf("Bench.Cycles = %d, want default %d", cfg.Bench.Cycles, DefaultBenchCycles)
	}
	if len(cfg.Simulate.Initial) != 2 || cfg.Simulate.Initial[1].X != 1 {
		t.Errorf("Initial = %+v", cfg.Simulate.Initial)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("bench: [1, 2"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	cfg := Default()
	cfg.Simulate.Bodies = 77

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Simulate.Bodies != 77 {
		t.Errorf("Bodies = %d, want 77", loaded.Simulate.Bodies)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad store", func(c *Config) { c.Store = "s3" }, "store"},
		{"zero size", func(c *Config) { c.Bench.Size = 0 }, "bench.size"},
		{"zero cycles", func(c *Config) { c.Bench.Cycles = 0 }, "bench.cycles"},
		{"no backends", func(c *Config) { c.Bench.Backends = nil }, "bench.backends"},
		{"bad distribution", func(c *Config) { c.Simulate.Distribution = "spiral" }, "distribution"},
		{"explicit without bodies", func(c *Config) { c.Simulate.Distribution = "explicit" }, "simulate.initial"},
		{"zero step", func(c *Config) { c.Simulate.StepSize = 0 }, "step_size"},
		{"small population", func(c *Config) { c.Tune.PopSize = 10 }, "pop_size"},
		{"negative work group", func(c *Config) { c.Simulate.WorkGroupSize = -1 }, "work_group_size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}
