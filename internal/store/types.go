package store

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/cwbudde/clbench/internal/bench"
	"github.com/cwbudde/clbench/internal/compute"
	"github.com/cwbudde/clbench/internal/nbody"
)

// Kind identifies what a run measured.
type Kind string

const (
	KindBench    Kind = "bench"
	KindSimulate Kind = "simulate"
	KindTune     Kind = "tune"
)

// Status is the final state of a run.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Run is a persisted benchmark, simulation or tuning result.
// Exactly one of Bench, Simulation and Tune is set, matching Kind.
type Run struct {
	ID        string          `json:"id"`
	Kind      Kind            `json:"kind"`
	Status    Status          `json:"status"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Backend   compute.Backend `json:"backend,omitempty"`
	Device    string          `json:"device,omitempty"`

	Bench      *bench.Report     `json:"bench,omitempty"`
	Simulation *SimulationResult `json:"simulation,omitempty"`
	Tune       *TuneResult       `json:"tune,omitempty"`
}

// SimulationResult summarises a simulate run. FinalBodies seeds a resumed run.
type SimulationResult struct {
	Options       nbody.Options `json:"options"`
	Distribution  string        `json:"distribution"`
	Seed          int64         `json:"seed"`
	Bodies        int           `json:"bodies"`
	Steps         int           `json:"steps"`
	SimTime       float64       `json:"simTime"`
	WorkGroupSize int           `json:"workGroupSize"`
	GlobalSize    int           `json:"globalSize"`
	Elapsed       time.Duration `json:"elapsed"`
	StepsPerSec   float64       `json:"stepsPerSec"`
	InitialEnergy nbody.Energy  `json:"initialEnergy"`
	FinalEnergy   nbody.Energy  `json:"finalEnergy"`
	FinalBodies   []nbody.Body  `json:"finalBodies"`
	ResumedFrom   string        `json:"resumedFrom,omitempty"`
}

// TuneSample is one measured work-group size.
type TuneSample struct {
	WorkGroupSize int           `json:"workGroupSize"`
	StepTime      time.Duration `json:"stepTime"`
}

// TuneResult records a work-group size search.
type TuneResult struct {
	Bodies            int           `json:"bodies"`
	HeuristicSize     int           `json:"heuristicSize"`
	HeuristicStepTime time.Duration `json:"heuristicStepTime"`
	BestWorkGroupSize int           `json:"bestWorkGroupSize"`
	BestStepTime      time.Duration `json:"bestStepTime"`
	Evaluations       int           `json:"evaluations"`
	Samples           []TuneSample  `json:"samples"`
}

// SortedSamples returns the samples ordered by work-group size.
func (t *TuneResult) SortedSamples() []TuneSample {
	out := append([]TuneSample(nil), t.Samples...)
	sort.Slice(out, func(i, j int) bool { return out[i].WorkGroupSize < out[j].WorkGroupSize })
	return out
}

// RunInfo contains metadata about a run without its payload.
type RunInfo struct {
	ID        string          `json:"id"`
	Kind      Kind            `json:"kind"`
	Status    Status          `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
	Backend   compute.Backend `json:"backend,omitempty"`
	Device    string          `json:"device,omitempty"`
	Summary   string          `json:"summary"`
}

// NewRun creates a run with a fresh ID and the current time.
func NewRun(kind Kind) *Run {
	return &Run{
		ID:        uuid.NewString(),
		Kind:      kind,
		Status:    StatusCompleted,
		Timestamp: time.Now(),
	}
}

// ToInfo converts a full Run to RunInfo (metadata only).
func (r *Run) ToInfo() RunInfo {
	return RunInfo{
		ID:        r.ID,
		Kind:      r.Kind,
		Status:    r.Status,
		Timestamp: r.Timestamp,
		Backend:   r.Backend,
		Device:    r.Device,
		Summary:   r.Summary(),
	}
}

// Summary is a one-line description of the run's outcome.
func (r *Run) Summary() string {
	if r.Status == StatusFailed {
		return "failed: " + r.Error
	}

	switch {
	case r.Bench != nil:
		summaries := r.Bench.Summaries()
		best := 0.0
		for _, s := range summaries {
			best = max(best, s.Speedup)
		}
		return fmt.Sprintf("%d passes on %d devices, best speedup %.2fx", len(r.Bench.Measurements), len(summaries), best)
	case r.Simulation != nil:
		s := r.Simulation
		return fmt.Sprintf("%d bodies, %d steps, t=%.4g", s.Bodies, s.Steps, s.SimTime)
	case r.Tune != nil:
		return fmt.Sprintf("%d bodies, best work-group %d (%s)", r.Tune.Bodies, r.Tune.BestWorkGroupSize, r.Tune.BestStepTime)
	default:
		return string(r.Status)
	}
}

// Validate checks if the run has valid data.
func (r *Run) Validate() error {
	if r.ID == "" {
		return &ValidationError{Field: "ID", Reason: "cannot be empty"}
	}
	if r.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	switch r.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
	default:
		return &ValidationError{Field: "Status", Reason: fmt.Sprintf("unknown status %q", r.Status)}
	}

	if r.Status != StatusCompleted {
		return nil
	}
	switch r.Kind {
	case KindBench:
		if r.Bench == nil {
			return &ValidationError{Field: "Bench", Reason: "required for bench runs"}
		}
	case KindSimulate:
		if r.Simulation == nil {
			return &ValidationError{Field: "Simulation", Reason: "required for simulate runs"}
		}
		if len(r.Simulation.FinalBodies) != r.Simulation.Bodies {
			return &ValidationError{
				Field:  "Simulation.FinalBodies",
				Reason: fmt.Sprintf("length mismatch: expected %d bodies, got %d", r.Simulation.Bodies, len(r.Simulation.FinalBodies)),
			}
		}
	case KindTune:
		if r.Tune == nil {
			return &ValidationError{Field: "Tune", Reason: "required for tune runs"}
		}
	default:
		return &ValidationError{Field: "Kind", Reason: fmt.Sprintf("unknown kind %q", r.Kind)}
	}
	return nil
}

// ValidationError represents a run validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}

// Resumable reports whether a simulation can continue from this run.
func (r *Run) Resumable() error {
	if r.Kind != KindSimulate {
		return &CompatibilityError{Field: "Kind", Expected: string(KindSimulate), Actual: string(r.Kind)}
	}
	if r.Simulation == nil || len(r.Simulation.FinalBodies) == 0 {
		return &CompatibilityError{Field: "FinalBodies", Expected: "at least one body", Actual: "none"}
	}
	return nil
}

// CompatibilityError represents a run that cannot be used as requested.
type CompatibilityError struct {
	Field    string
	Expected string
	Actual   string
}

func (e *CompatibilityError) Error() string {
	return "compatibility error: " + e.Field + " mismatch (expected " + e.Expected + ", got " + e.Actual + ")"
}

func sortInfos(infos []RunInfo) {
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Timestamp.After(infos[j].Timestamp)
	})
}
