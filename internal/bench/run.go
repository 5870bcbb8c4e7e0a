package bench

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cwbudde/clbench/internal/compute"
)

// HostLoop names the single-threaded reference path in measurements.
const HostLoop = "host loop"

// Options configures a benchmark run.
type Options struct {
	Size         int    `json:"size"`
	Cycles       int    `json:"cycles"`
	Passes       int    `json:"passes"`
	Left         int32  `json:"left"`
	Right        int32  `json:"right"`
	BuildOptions string `json:"buildOptions"`
}

// Measurement is the outcome of one timed pass.
type Measurement struct {
	Name       string          `json:"name"`
	Backend    compute.Backend `json:"backend,omitempty"`
	Device     string          `json:"device"`
	Pass       int             `json:"pass"`
	Elapsed    time.Duration   `json:"elapsed"`
	FirstValue int32           `json:"firstValue"`
	Verified   bool            `json:"verified"`
}

// Report collects every measurement of a run in execution order.
type Report struct {
	Options      Options              `json:"options"`
	Devices      []compute.DeviceInfo `json:"devices"`
	Measurements []Measurement        `json:"measurements"`
	StartedAt    time.Time            `json:"startedAt"`
	Elapsed      time.Duration        `json:"elapsed"`
}

// Progress receives each measurement as soon as its pass completes.
type Progress func(Measurement)

// Run times the host loop and then every target device, Passes times each.
// The output is zeroed before every pass so each pass starts from the same
// state. A device or build failure aborts the run.
func Run(ctx context.Context, opts Options, targets []compute.DeviceInfo, source string, progress Progress) (*Report, error) {
	if opts.Size <= 0 || opts.Cycles <= 0 || opts.Passes <= 0 {
		return nil, fmt.Errorf("invalid bench options: size=%d cycles=%d passes=%d", opts.Size, opts.Cycles, opts.Passes)
	}

	left := make([]int32, opts.Size)
	right := make([]int32, opts.Size)
	out := make([]int32, opts.Size)
	for i := range left {
		left[i] = opts.Left
		right[i] = opts.Right
	}

	report := &Report{
		Options:   opts,
		Devices:   targets,
		StartedAt: time.Now(),
	}

	record := func(m Measurement) {
		report.Measurements = append(report.Measurements, m)
		if progress != nil {
			progress(m)
		}
	}

	pass := func(name string, m Measurement, fn func() error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		clear(out)

		elapsed, err := Measure(name, fn)
		if err != nil {
			return err
		}

		_, ok := Verify(opts.Cycles, left, right, out)
		m.Name = name
		m.Elapsed = elapsed
		m.FirstValue = out[0]
		m.Verified = ok
		if !ok {
			slog.Warn("Verification failed", "name", name, "device", m.Device)
		}
		record(m)
		return nil
	}

	slog.Info("Starting benchmark", "size", opts.Size, "cycles", opts.Cycles, "passes", opts.Passes, "devices", len(targets))

	for p := 1; p <= opts.Passes; p++ {
		name := fmt.Sprintf("CPU host test %d", p)
		err := pass(name, Measurement{Device: HostLoop, Pass: p}, func() error {
			return AddHost(opts.Cycles, left, right, out)
		})
		if err != nil {
			return report, err
		}
	}

	for _, target := range targets {
		if err := runDevice(ctx, target, opts, source, left, right, out, pass); err != nil {
			return report, fmt.Errorf("device %q: %w", target.Name, err)
		}
	}

	report.Elapsed = time.Since(report.StartedAt)
	slog.Info("Benchmark complete", "measurements", len(report.Measurements), "elapsed", report.Elapsed)
	return report, nil
}

func runDevice(ctx context.Context, target compute.DeviceInfo, opts Options, source string, left, right, out []int32,
	pass func(string, Measurement, func() error) error) error {
	dev, err := compute.OpenDevice(target)
	if err != nil {
		return err
	}
	defer dev.Release()

	for p := 1; p <= opts.Passes; p++ {
		m := Measurement{Backend: target.Backend, Device: target.Name, Pass: p}
		err := pass(fmt.Sprintf("Device test %d", p), m, func() error {
			return AddDevice(dev, source, opts.BuildOptions, opts.Cycles, left, right, out)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Summary is the best pass of one device compared with the best host pass.
type Summary struct {
	Backend compute.Backend `json:"backend,omitempty"`
	Device  string          `json:"device"`
	Best    time.Duration   `json:"best"`
	Speedup float64         `json:"speedup"`
}

// Summaries returns one entry per device in first-seen order, host loop first.
func (r *Report) Summaries() []Summary {
	var order []string
	best := make(map[string]Summary)
	for _, m := range r.Measurements {
		key := string(m.Backend) + "/" + m.Device
		s, ok := best[key]
		if !ok {
			order = append(order, key)
			s = Summary{Backend: m.Backend, Device: m.Device, Best: m.Elapsed}
		}
		if m.Elapsed < s.Best {
			s.Best = m.Elapsed
		}
		best[key] = s
	}

	host, hasHost := best["/"+HostLoop]
	out := make([]Summary, 0, len(order))
	for _, key := range order {
		s := best[key]
		if hasHost && s.Best > 0 {
			s.Speedup = float64(host.Best) / float64(s.Best)
		}
		out = append(out, s)
	}
	return out
}

// Verified reports whether every pass produced the expected output.
func (r *Report) Verified() bool {
	for _, m := range r.Measurements {
		if !m.Verified {
			return false
		}
	}
	return true
}
