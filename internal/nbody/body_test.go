package nbody

import (
	"math"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/cwbudde/clbench/internal/config"
)

var _ = Describe("Bodies", func() {
	It("packs positions in fours and velocities in threes", func() {
		bodies := []Body{
			{X: 1, Y: 2, Z: 3, Radius: 4, VX: 5, VY: 6, VZ: 7},
			{X: 8, Y: 9, Z: 10, Radius: 11, VX: 12, VY: 13, VZ: 14},
		}
		pos, vel := Pack(bodies)
		Expect(pos).To(Equal([]float32{1, 2, 3, 4, 8, 9, 10, 11}))
		Expect(vel).To(Equal([]float32{5, 6, 7, 12, 13, 14}))
		Expect(Unpack(pos, vel, 2)).To(Equal(bodies))
	})

	It("derives mass from the radius", func() {
		Expect(Body{Radius: 2}.Mass()).To(Equal(float32(8)))
	})

	It("generates reproducible clouds", func() {
		a, b := Cloud(32, 42), Cloud(32, 42)
		Expect(a).To(Equal(b))
		Expect(Cloud(32, 43)).NotTo(Equal(a))
		for _, body := range a {
			Expect(math.Abs(float64(body.X))).To(BeNumerically("<=", spawnRange))
			Expect(body.Radius).To(BeNumerically(">", 0))
		}
	})

	It("puts disk bodies on circular orbits around a central mass", func() {
		bodies := Disk(20, 1, 1)
		Expect(bodies).To(HaveLen(20))
		Expect(bodies[0].Radius).To(Equal(float32(diskCentralRadius)))

		central := float64(bodies[0].Mass())
		for _, b := range bodies[1:] {
			r := math.Hypot(float64(b.X), float64(b.Y))
			v := math.Hypot(float64(b.VX), float64(b.VY))
			Expect(r).To(BeNumerically(">=", diskInner-1e-6))
			Expect(v).To(BeNumerically("~", math.Sqrt(central/r), 1e-4))
			// Velocity is tangential.
			Expect(float64(b.X*b.VX + b.Y*b.VY)).To(BeNumerically("~", 0, 1e-5))
		}
		Expect(Disk(0, 1, 1)).To(BeEmpty())
	})

	It("builds bodies from configuration", func() {
		cfg := config.Default().Simulate
		cfg.Distribution = "explicit"
		cfg.Initial = []config.BodyConfig{{X: 1, Radius: 2, VZ: 3}}
		Expect(FromConfig(cfg)).To(Equal([]Body{{X: 1, Radius: 2, VZ: 3}}))

		cfg.Distribution = "cloud"
		cfg.Bodies = 5
		Expect(FromConfig(cfg)).To(HaveLen(5))

		cfg.Distribution = "disk"
		Expect(FromConfig(cfg)).To(HaveLen(5))
	})
})

var _ = Describe("Timer", func() {
	It("returns the step size when fixed", func() {
		t := NewTimer(0.25, true)
		t.Start()
		Expect(t.Next()).To(Equal(float32(0.25)))
		Expect(t.Next()).To(Equal(float32(0.25)))
	})

	It("scales elapsed wall-clock time otherwise", func() {
		now := time.Unix(100, 0)
		clock := func() time.Time { return now }

		t := newTimerWithClock(2, false, clock)
		t.Start()
		now = now.Add(500 * time.Millisecond)
		Expect(t.Next()).To(BeNumerically("~", 1.0, 1e-6))
		now = now.Add(100 * time.Millisecond)
		Expect(t.Next()).To(BeNumerically("~", 0.2, 1e-6))
	})
})

var _ = Describe("Energy", func() {
	It("computes kinetic and softened potential energy", func() {
		e := ComputeEnergy([]Body{
			{X: 0, Radius: 1, VX: 2},
			{X: 3, Radius: 1},
		}, 1)
		Expect(e.Kinetic).To(BeNumerically("~", 2.0, 1e-9))
		Expect(e.Potential).To(BeNumerically("~", -1/math.Sqrt(9+1e-4), 1e-9))
		Expect(e.Total).To(BeNumerically("~", e.Kinetic+e.Potential, 1e-12))
		Expect(e.Momentum[0]).To(BeNumerically("~", 2.0, 1e-9))
		Expect(e.MomentumMagnitude()).To(BeNumerically("~", 2.0, 1e-9))
	})
})
