package nbody

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/cwbudde/clbench/internal/compute"
)

var _ = Describe("Simulation", func() {
	var dev compute.Context

	opts := Options{
		Gravity:      1,
		StepSize:     0.01,
		FixedStep:    true,
		BuildOptions: compute.DefaultBuildOptions,
	}

	newSim := func(bodies []Body, o Options) *Simulation {
		sim, err := New(dev, compute.EmbeddedKernelSource(), bodies, o)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(sim.Close)
		return sim
	}

	snapshot := func(sim *Simulation) Snapshot {
		snap, err := sim.Snapshot()
		Expect(err).NotTo(HaveOccurred())
		return snap
	}

	BeforeEach(func() {
		var err error
		dev, err = compute.Open(compute.BackendHost, -1)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(dev.Release)
	})

	It("rejects an empty body list", func() {
		_, err := New(dev, compute.EmbeddedKernelSource(), nil, opts)
		Expect(err).To(MatchError(ErrNoBodies))
	})

	It("reports build failures with the compute status", func() {
		_, err := New(dev, "not a kernel", Cloud(4, 1), opts)
		Expect(compute.StatusOf(err)).To(Equal(compute.StatusBuildProgramFailure))
	})

	It("keeps a single body at rest", func() {
		sim := newSim([]Body{{X: 0.5, Y: -0.25, Z: 1, Radius: 1}}, opts)
		for range 10 {
			Expect(sim.Step(0.01)).To(Succeed())
		}

		snap := snapshot(sim)
		Expect(snap.Bodies).To(Equal([]Body{{X: 0.5, Y: -0.25, Z: 1, Radius: 1}}))
		Expect(snap.Step).To(Equal(10))
		Expect(snap.SimTime).To(BeNumerically("~", 0.1, 1e-6))
	})

	It("advances from the previous step's output", func() {
		sim := newSim([]Body{{Radius: 0.1, VX: 1}}, opts)

		Expect(sim.Step(0.5)).To(Succeed())
		Expect(snapshot(sim).Bodies[0].X).To(BeNumerically("~", 0.5, 1e-6))

		Expect(sim.Step(0.5)).To(Succeed())
		Expect(snapshot(sim).Bodies[0].X).To(BeNumerically("~", 1.0, 1e-6))

		Expect(sim.Step(0.5)).To(Succeed())
		Expect(snapshot(sim).Bodies[0].X).To(BeNumerically("~", 1.5, 1e-6))
	})

	It("keeps a symmetric pair symmetric and conserves momentum", func() {
		sim := newSim([]Body{
			{X: -1, Radius: 1, VY: 0.3},
			{X: 1, Radius: 1, VY: -0.3},
		}, opts)

		for range 50 {
			Expect(sim.Step(0.01)).To(Succeed())
		}

		snap := snapshot(sim)
		a, b := snap.Bodies[0], snap.Bodies[1]
		Expect(a.X).To(BeNumerically("~", -b.X, 1e-5))
		Expect(a.Y).To(BeNumerically("~", -b.Y, 1e-5))
		Expect(a.VX).To(BeNumerically("~", -b.VX, 1e-5))
		Expect(a.X).To(BeNumerically(">", -1), "bodies attract")
		Expect(snap.Energy.MomentumMagnitude()).To(BeNumerically("<", 1e-5))
	})

	It("gives the same result for any work-group size", func() {
		bodies := Cloud(100, 7)

		run := func(wg int) []Body {
			o := opts
			o.WorkGroupSize = wg
			sim := newSim(bodies, o)
			Expect(sim.WorkGroupSize()).To(Equal(wg))
			Expect(sim.GlobalSize() % wg).To(BeZero())
			Expect(sim.GlobalSize()).To(BeNumerically(">=", 100))
			for range 5 {
				Expect(sim.Step(0.01)).To(Succeed())
			}
			return snapshot(sim).Bodies
		}

		small, large := run(8), run(256)
		for i := range small {
			Expect(small[i].X).To(BeNumerically("~", large[i].X, 1e-5))
			Expect(small[i].VZ).To(BeNumerically("~", large[i].VZ, 1e-5))
		}
	})

	It("picks the work-group size from the kernel limits", func() {
		sim := newSim(Cloud(10, 1), opts)
		Expect(sim.WorkGroupSize()).To(Equal(compute.WorkGroupSize(compute.WorkGroupInfo{
			MaxSize:           sim.MaxWorkGroupSize(),
			PreferredMultiple: sim.PreferredMultiple(),
		})))
		Expect(sim.GlobalSize()).To(Equal(sim.WorkGroupSize()))
	})

	It("rejects invalid work-group sizes", func() {
		sim := newSim(Cloud(10, 1), opts)
		Expect(sim.Reconfigure(0)).NotTo(Succeed())
		Expect(sim.Reconfigure(sim.MaxWorkGroupSize() + 1)).NotTo(Succeed())

		Expect(sim.Reconfigure(16)).To(Succeed())
		Expect(sim.GlobalSize()).To(Equal(16))
	})

	Describe("Start", func() {
		It("stops after MaxSteps and observes every SnapshotEvery steps", func() {
			o := opts
			o.MaxSteps = 25
			o.SnapshotEvery = 10
			sim := newSim(Cloud(16, 3), o)

			var steps []int
			err := sim.Start(context.Background(), func(s Snapshot) error {
				steps = append(steps, s.Step)
				Expect(s.Bodies).To(HaveLen(16))
				return nil
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(steps).To(Equal([]int{10, 20, 25}))
			Expect(sim.Steps()).To(Equal(25))
		})

		It("counts cadence and rate from where Start began", func() {
			o := opts
			o.MaxSteps = 10
			o.SnapshotEvery = 5
			sim := newSim(Cloud(8, 3), o)
			for range 3 {
				Expect(sim.Step(o.StepSize)).To(Succeed())
			}

			var snaps []Snapshot
			err := sim.Start(context.Background(), func(s Snapshot) error {
				snaps = append(snaps, s)
				return nil
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(snaps).To(HaveLen(2))
			Expect(snaps[0].Step).To(Equal(8))
			Expect(snaps[1].Step).To(Equal(13))

			last := snaps[1]
			Expect(last.Elapsed).To(BeNumerically(">", 0))
			rate := 10 / last.Elapsed.Seconds()
			Expect(last.StepsPerSec).To(BeNumerically("~", rate, rate*1e-9))
		})

		It("returns when the context is cancelled", func() {
			o := opts
			o.SnapshotEvery = 1
			sim := newSim(Cloud(8, 3), o)

			ctx, cancel := context.WithCancel(context.Background())
			err := sim.Start(ctx, func(s Snapshot) error {
				if s.Step == 3 {
					cancel()
				}
				return nil
			})
			Expect(errors.Is(err, context.Canceled)).To(BeTrue())
			Expect(sim.Steps()).To(Equal(3))
		})

		It("stops when the observer fails", func() {
			o := opts
			o.SnapshotEvery = 2
			sim := newSim(Cloud(8, 3), o)

			stop := errors.New("stop")
			err := sim.Start(context.Background(), func(Snapshot) error { return stop })
			Expect(err).To(MatchError(stop))
			Expect(sim.Steps()).To(Equal(2))
		})
	})
})
