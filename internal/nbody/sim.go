package nbody

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cwbudde/clbench/internal/compute"
)

// ErrNoBodies is returned when a simulation is created without bodies.
var ErrNoBodies = errors.New("simulation needs at least one body")

// Kernel argument slots of n_body_sim.
const (
	argPos = iota
	argVel
	argNumBodies
	argTimeStep
	argGravity
	argScratch
	argOutPos
	argOutVel
)

// scratchBytesPerItem is one float4 of local memory per work-item.
const scratchBytesPerItem = 4 * 4

// Options configures a Simulation.
type Options struct {
	Gravity   float32 `json:"gravity"`
	StepSize  float32 `json:"stepSize"`
	FixedStep bool    `json:"fixedStep"`
	// MaxSteps stops Start after that many steps; 0 runs until cancelled.
	MaxSteps int `json:"maxSteps"`
	// SnapshotEvery reads the state back every that many steps; 0 disables.
	SnapshotEvery int `json:"snapshotEvery"`
	// WorkGroupSize overrides the heuristic when positive.
	WorkGroupSize int    `json:"workGroupSize,omitempty"`
	BuildOptions  string `json:"buildOptions"`
}

// Snapshot is the state of the simulation after a step.
type Snapshot struct {
	Step        int           `json:"step"`
	SimTime     float64       `json:"simTime"`
	Elapsed     time.Duration `json:"elapsed"`
	StepsPerSec float64       `json:"stepsPerSec"`
	Energy      Energy        `json:"energy"`
	Bodies      []Body        `json:"bodies,omitempty"`
}

// Simulation owns the device objects of one body system. Exactly one of the
// two buffer pairs is read by a step while the other is written; the pairs
// swap roles after every step.
type Simulation struct {
	dev     compute.Context
	opts    Options
	program compute.Program
	kernel  compute.Kernel
	queue   compute.Queue
	pos     [2]compute.Buffer
	vel     [2]compute.Buffer
	cur     int
	n       int
	info    compute.WorkGroupInfo
	wg      int
	global  int
	steps   int
	simTime float64
	started time.Time
	// first is the step count when Start last began.
	first int
}

// New uploads bodies to dev and prepares the step kernel.
func New(dev compute.Context, source string, bodies []Body, opts Options) (*Simulation, error) {
	if len(bodies) == 0 {
		return nil, ErrNoBodies
	}

	s := &Simulation{dev: dev, opts: opts, n: len(bodies)}
	if err := s.init(source, bodies); err != nil {
		s.Close()
		return nil, err
	}

	slog.Info("Simulation ready",
		"bodies", s.n,
		"device", dev.Device().Name,
		"workGroupSize", s.wg,
		"globalSize", s.global,
	)
	return s, nil
}

func (s *Simulation) init(source string, bodies []Body) error {
	var err error

	s.program, err = s.dev.BuildProgram(source, s.opts.BuildOptions)
	if err != nil {
		return fmt.Errorf("failed to build program: %w", err)
	}
	s.kernel, err = s.program.CreateKernel(compute.KernelNBody)
	if err != nil {
		return fmt.Errorf("failed to create kernel: %w", err)
	}

	pos, vel := Pack(bodies)
	flags := compute.MemReadWrite | compute.MemHostReadOnly
	for i := range 2 {
		var posHost, velHost []byte
		f := flags
		if i == 0 {
			f |= compute.MemCopyHostPtr
			posHost, velHost = compute.Float32Bytes(pos), compute.Float32Bytes(vel)
		}
		if s.pos[i], err = s.dev.CreateBuffer(f, len(pos)*4, posHost); err != nil {
			return fmt.Errorf("failed to create position buffer: %w", err)
		}
		if s.vel[i], err = s.dev.CreateBuffer(f, len(vel)*4, velHost); err != nil {
			return fmt.Errorf("failed to create velocity buffer: %w", err)
		}
	}

	s.info, err = s.kernel.WorkGroupInfo()
	if err != nil {
		return fmt.Errorf("failed to query work-group info: %w", err)
	}

	if s.queue, err = s.dev.CreateQueue(); err != nil {
		return fmt.Errorf("failed to create command queue: %w", err)
	}

	if err := s.kernel.SetArg(argNumBodies, uint32(s.n)); err != nil {
		return fmt.Errorf("failed to set body count: %w", err)
	}
	if err := s.kernel.SetArg(argGravity, s.opts.Gravity); err != nil {
		return fmt.Errorf("failed to set gravity: %w", err)
	}

	wg := s.opts.WorkGroupSize
	if wg <= 0 {
		wg = s.fitLocalMemory(compute.WorkGroupSize(s.info))
	}
	return s.Reconfigure(wg)
}

// fitLocalMemory shrinks wg by the preferred multiple until its scratch fits
// the device's local memory.
func (s *Simulation) fitLocalMemory(wg int) int {
	limit := s.dev.Device().LocalMemSize
	if limit == 0 {
		return wg
	}
	step := max(s.info.PreferredMultiple, 1)
	for wg > step && uint64(wg*scratchBytesPerItem)+s.info.LocalMemSize > limit {
		wg -= step
	}
	return wg
}

// Reconfigure switches to work-group size wg and rebinds the local scratch.
func (s *Simulation) Reconfigure(wg int) error {
	if wg <= 0 || wg > s.info.MaxSize {
		return fmt.Errorf("work-group size %d outside [1, %d]", wg, s.info.MaxSize)
	}
	if limit := s.dev.Device().LocalMemSize; limit > 0 && uint64(wg*scratchBytesPerItem) > limit {
		return fmt.Errorf("work-group size %d needs %d bytes of local memory, device has %d", wg, wg*scratchBytesPerItem, limit)
	}

	if err := s.kernel.SetArg(argScratch, compute.LocalMem(wg*scratchBytesPerItem)); err != nil {
		return fmt.Errorf("failed to set local scratch: %w", err)
	}
	s.wg = wg
	s.global = compute.GlobalSize(s.n, wg)
	return nil
}

// Step advances the system by dt and waits for the device to finish.
func (s *Simulation) Step(dt float32) error {
	next := 1 - s.cur
	for _, a := range []struct {
		index int
		value any
	}{
		{argPos, s.pos[s.cur]},
		{argVel, s.vel[s.cur]},
		{argTimeStep, dt},
		{argOutPos, s.pos[next]},
		{argOutVel, s.vel[next]},
	} {
		if err := s.kernel.SetArg(a.index, a.value); err != nil {
			return fmt.Errorf("failed to set kernel argument %d: %w", a.index, err)
		}
	}

	if err := s.queue.EnqueueNDRange(s.kernel, s.global, s.wg); err != nil {
		return fmt.Errorf("failed to enqueue step: %w", err)
	}
	if err := s.queue.Finish(); err != nil {
		return fmt.Errorf("failed to finish step: %w", err)
	}

	s.cur = next
	s.steps++
	s.simTime += float64(dt)
	return nil
}

// Start steps until ctx is cancelled or MaxSteps is reached. observe, when
// non-nil, receives a snapshot every SnapshotEvery steps and after the last
// step of a bounded run; an observe error stops the loop.
func (s *Simulation) Start(ctx context.Context, observe func(Snapshot) error) error {
	timer := NewTimer(s.opts.StepSize, s.opts.FixedStep)
	timer.Start()
	s.started = time.Now()
	s.first = s.steps

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := s.Step(timer.Next()); err != nil {
			return err
		}

		ran := s.steps - s.first
		done := s.opts.MaxSteps > 0 && ran >= s.opts.MaxSteps
		due := s.opts.SnapshotEvery > 0 && ran%s.opts.SnapshotEvery == 0
		if observe != nil && (due || done) {
			snap, err := s.Snapshot()
			if err != nil {
				return err
			}
			if err := observe(snap); err != nil {
				return err
			}
		}

		if done {
			slog.Info("Simulation finished", "steps", s.steps, "simTime", s.simTime)
			return nil
		}
	}
}

// Snapshot reads the current buffer pair back to the host.
func (s *Simulation) Snapshot() (Snapshot, error) {
	pos := make([]float32, posStride*s.n)
	vel := make([]float32, velStride*s.n)

	if err := s.queue.EnqueueRead(s.pos[s.cur], true, 0, compute.Float32Bytes(pos)); err != nil {
		return Snapshot{}, fmt.Errorf("failed to read positions: %w", err)
	}
	if err := s.queue.EnqueueRead(s.vel[s.cur], true, 0, compute.Float32Bytes(vel)); err != nil {
		return Snapshot{}, fmt.Errorf("failed to read velocities: %w", err)
	}

	bodies := Unpack(pos, vel, s.n)
	snap := Snapshot{
		Step:    s.steps,
		SimTime: s.simTime,
		Energy:  ComputeEnergy(bodies, s.opts.Gravity),
		Bodies:  bodies,
	}
	if !s.started.IsZero() {
		snap.Elapsed = time.Since(s.started)
		if secs := snap.Elapsed.Seconds(); secs > 0 {
			snap.StepsPerSec = float64(s.steps-s.first) / secs
		}
	}
	return snap, nil
}

func (s *Simulation) NumBodies() int { return s.n }

func (s *Simulation) WorkGroupSize() int { return s.wg }

func (s *Simulation) GlobalSize() int { return s.global }

// MaxWorkGroupSize is the kernel's work-group limit on this device.
func (s *Simulation) MaxWorkGroupSize() int { return s.info.MaxSize }

// PreferredMultiple is the kernel's preferred work-group multiple on this device.
func (s *Simulation) PreferredMultiple() int { return s.info.PreferredMultiple }

func (s *Simulation) Steps() int { return s.steps }

func (s *Simulation) SimTime() float64 { return s.simTime }

func (s *Simulation) Options() Options { return s.opts }

// Close releases every device object. The context stays with the caller.
func (s *Simulation) Close() {
	if s.queue != nil {
		s.queue.Release()
	}
	for i := range 2 {
		if s.pos[i] != nil {
			s.pos[i].Release()
		}
		if s.vel[i] != nil {
			s.vel[i].Release()
		}
	}
	if s.kernel != nil {
		s.kernel.Release()
	}
	if s.program != nil {
		s.program.Release()
	}
}
