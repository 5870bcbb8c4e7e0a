// Package tune searches for the n-body work-group size with the shortest
// step time on a device.
package tune

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/cwbudde/clbench/internal/nbody"
	"github.com/cwbudde/clbench/internal/store"
)

// Stepper is the part of nbody.Simulation the tuner drives.
type Stepper interface {
	Reconfigure(wg int) error
	Step(dt float32) error
	WorkGroupSize() int
	MaxWorkGroupSize() int
	PreferredMultiple() int
	NumBodies() int
	Options() nbody.Options
}

var _ Stepper = (*nbody.Simulation)(nil)

// Options configures a search.
type Options struct {
	Iterations   int
	PopSize      int
	StepsPerEval int
	Seed         int64
}

// Tuner measures work-group sizes that are multiples of the kernel's
// preferred multiple. Each size is measured at most once.
type Tuner struct {
	sim       Stepper
	opts      Options
	optimizer Optimizer
	now       func() time.Time

	multiple   int
	candidates int
	cache      map[int]time.Duration
	order      []int
	err        error
}

// New prepares a search over sim. The simulation keeps stepping while it is
// measured, so callers tune a throwaway copy of the system.
func New(sim Stepper, opts Options) *Tuner {
	if opts.StepsPerEval <= 0 {
		opts.StepsPerEval = 1
	}
	multiple := max(sim.PreferredMultiple(), 1)
	return &Tuner{
		sim:        sim,
		opts:       opts,
		optimizer:  NewMayfly(opts.Iterations, opts.PopSize, opts.Seed),
		now:        time.Now,
		multiple:   multiple,
		candidates: max(sim.MaxWorkGroupSize()/multiple, 1),
		cache:      make(map[int]time.Duration),
	}
}

// WithOptimizer replaces the default mayfly optimiser.
func (t *Tuner) WithOptimizer(o Optimizer) *Tuner {
	t.optimizer = o
	return t
}

// Candidates is the number of work-group sizes in the search space.
func (t *Tuner) Candidates() int { return t.candidates }

// sizeAt maps a search coordinate in [1, candidates+1) to a work-group size.
func (t *Tuner) sizeAt(x float64) int {
	k := int(math.Floor(x))
	k = min(max(k, 1), t.candidates)
	return k * t.multiple
}

// measure returns the mean step time at work-group size wg.
func (t *Tuner) measure(ctx context.Context, wg int) (time.Duration, error) {
	if d, ok := t.cache[wg]; ok {
		return d, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := t.sim.Reconfigure(wg); err != nil {
		return 0, err
	}

	dt := t.sim.Options().StepSize
	start := t.now()
	for range t.opts.StepsPerEval {
		if err := t.sim.Step(dt); err != nil {
			return 0, &stepFailure{fmt.Errorf("step at work-group size %d: %w", wg, err)}
		}
	}
	d := t.now().Sub(start) / time.Duration(t.opts.StepsPerEval)

	t.cache[wg] = d
	t.order = append(t.order, wg)
	slog.Debug("Measured work-group size", "workGroupSize", wg, "stepTime", d)
	return d, nil
}

// cost is the objective handed to the optimiser. Sizes the device rejects
// cost +Inf; a cancelled context or failing step stops all measuring.
func (t *Tuner) cost(ctx context.Context) func([]float64) float64 {
	return func(x []float64) float64 {
		if t.err != nil {
			return math.Inf(1)
		}
		wg := t.sizeAt(x[0])
		d, err := t.measure(ctx, wg)
		if err != nil {
			var stepErr *stepFailure
			if ctx.Err() != nil || errors.As(err, &stepErr) {
				t.err = err
			} else {
				slog.Debug("Work-group size rejected", "workGroupSize", wg, "error", err)
			}
			return math.Inf(1)
		}
		return float64(d)
	}
}

// stepFailure marks errors from stepping, as opposed to a rejected size.
type stepFailure struct{ err error }

func (e *stepFailure) Error() string { return e.err.Error() }
func (e *stepFailure) Unwrap() error { return e.err }

// Run measures the current (heuristic) size, then searches the space. Small
// spaces are measured exhaustively. The simulation is left configured with
// the best size found.
func (t *Tuner) Run(ctx context.Context) (*store.TuneResult, error) {
	heuristic := t.sim.WorkGroupSize()
	heuristicTime, err := t.measure(ctx, heuristic)
	if err != nil {
		return nil, fmt.Errorf("failed to measure heuristic size %d: %w", heuristic, err)
	}

	slog.Info("Starting work-group search",
		"bodies", t.sim.NumBodies(),
		"heuristic", heuristic,
		"candidates", t.candidates,
		"multiple", t.multiple,
	)

	eval := t.cost(ctx)
	if t.candidates <= max(t.opts.PopSize, MinPopSize) {
		for k := 1; k <= t.candidates; k++ {
			eval([]float64{float64(k)})
		}
	} else {
		lower := []float64{1}
		upper := []float64{float64(t.candidates + 1)}
		t.optimizer.Run(eval, lower, upper, 1)
	}
	if t.err != nil {
		return nil, t.err
	}

	result := &store.TuneResult{
		Bodies:            t.sim.NumBodies(),
		HeuristicSize:     heuristic,
		HeuristicStepTime: heuristicTime,
		BestWorkGroupSize: heuristic,
		BestStepTime:      heuristicTime,
		Evaluations:       len(t.order),
	}
	for _, wg := range t.order {
		d := t.cache[wg]
		result.Samples = append(result.Samples, store.TuneSample{WorkGroupSize: wg, StepTime: d})
		if d < result.BestStepTime {
			result.BestWorkGroupSize = wg
			result.BestStepTime = d
		}
	}

	if err := t.sim.Reconfigure(result.BestWorkGroupSize); err != nil {
		return nil, err
	}

	slog.Info("Work-group search complete",
		"best", result.BestWorkGroupSize,
		"bestStepTime", result.BestStepTime,
		"heuristicStepTime", heuristicTime,
		"evaluations", result.Evaluations,
	)
	return result, nil
}
