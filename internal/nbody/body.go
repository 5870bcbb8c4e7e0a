// Package nbody steps a gravitating body system on a compute device using
// double-buffered parallel arrays.
package nbody

import (
	"math"
	"math/rand/v2"

	"github.com/cwbudde/clbench/internal/config"
)

// Body is one gravitating sphere. Its mass is Radius cubed.
type Body struct {
	X      float32 `json:"x"`
	Y      float32 `json:"y"`
	Z      float32 `json:"z"`
	Radius float32 `json:"radius"`
	VX     float32 `json:"vx"`
	VY     float32 `json:"vy"`
	VZ     float32 `json:"vz"`
}

// Mass returns the mass used by the kernel.
func (b Body) Mass() float32 { return b.Radius * b.Radius * b.Radius }

const (
	posStride = 4
	velStride = 3
)

// Pack lays bodies out as positions (x, y, z, radius) and velocities
// (vx, vy, vz), one record after another.
func Pack(bodies []Body) (pos, vel []float32) {
	pos = make([]float32, 0, posStride*len(bodies))
	vel = make([]float32, 0, velStride*len(bodies))
	for _, b := range bodies {
		pos = append(pos, b.X, b.Y, b.Z, b.Radius)
		vel = append(vel, b.VX, b.VY, b.VZ)
	}
	return pos, vel
}

// Unpack is the inverse of Pack. n is the number of bodies to read.
func Unpack(pos, vel []float32, n int) []Body {
	bodies := make([]Body, n)
	for i := range bodies {
		p := pos[posStride*i : posStride*i+posStride]
		v := vel[velStride*i : velStride*i+velStride]
		bodies[i] = Body{X: p[0], Y: p[1], Z: p[2], Radius: p[3], VX: v[0], VY: v[1], VZ: v[2]}
	}
	return bodies
}

const (
	spawnRange  = 1.0
	spawnVel    = 0.05
	spawnRadius = 0.05
)

func newRand(seed int64) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed), 0x9e3779b97f4a7c15))
}

func randRange(r *rand.Rand, rng float64) float32 {
	return float32(2*rng*r.Float64() - rng)
}

// Cloud scatters n bodies uniformly in a cube with small random velocities.
func Cloud(n int, seed int64) []Body {
	r := newRand(seed)
	bodies := make([]Body, n)
	for i := range bodies {
		bodies[i] = Body{
			X:      randRange(r, spawnRange),
			Y:      randRange(r, spawnRange),
			Z:      randRange(r, spawnRange),
			Radius: float32(spawnRadius * (0.5 + r.Float64())),
			VX:     randRange(r, spawnVel),
			VY:     randRange(r, spawnVel),
			VZ:     randRange(r, spawnVel),
		}
	}
	return bodies
}

const (
	diskCentralRadius = 0.5
	diskInner         = 0.3
	diskOuter         = 1.5
	diskThickness     = 0.02
)

// Disk places one heavy body at the origin and n-1 light bodies on circular
// orbits around it in the xy plane.
func Disk(n int, seed int64, gravity float32) []Body {
	if n <= 0 {
		return nil
	}
	r := newRand(seed)
	bodies := make([]Body, n)
	bodies[0] = Body{Radius: diskCentralRadius}

	central := float64(bodies[0].Mass())
	for i := 1; i < n; i++ {
		dist := diskInner + (diskOuter-diskInner)*r.Float64()
		angle := 2 * math.Pi * r.Float64()
		speed := math.Sqrt(float64(gravity) * central / dist)
		sin, cos := math.Sincos(angle)

		bodies[i] = Body{
			X:      float32(dist * cos),
			Y:      float32(dist * sin),
			Z:      randRange(r, diskThickness),
			Radius: float32(spawnRadius * (0.2 + 0.3*r.Float64())),
			VX:     float32(-speed * sin),
			VY:     float32(speed * cos),
		}
	}
	return bodies
}

// FromConfig builds the initial bodies described by the simulate section.
func FromConfig(cfg config.SimConfig) []Body {
	switch cfg.Distribution {
	case "explicit":
		bodies := make([]Body, len(cfg.Initial))
		for i, b := range cfg.Initial {
			bodies[i] = Body(b)
		}
		return bodies
	case "disk":
		return Disk(cfg.Bodies, cfg.Seed, cfg.Gravity)
	default:
		return Cloud(cfg.Bodies, cfg.Seed)
	}
}
