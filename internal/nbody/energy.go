package nbody

import (
	"math"

	"github.com/cwbudde/clbench/internal/compute"
)

// Energy summarises a body system. Potential uses the same mass and
// softening as the step kernel.
type Energy struct {
	Kinetic   float64    `json:"kinetic"`
	Potential float64    `json:"potential"`
	Total     float64    `json:"total"`
	Momentum  [3]float64 `json:"momentum"`
}

// ComputeEnergy evaluates the diagnostics in float64 on the host.
func ComputeEnergy(bodies []Body, gravity float32) Energy {
	var e Energy
	g := float64(gravity)
	eps2 := compute.Softening * compute.Softening

	for i, b := range bodies {
		m := float64(b.Mass())
		vx, vy, vz := float64(b.VX), float64(b.VY), float64(b.VZ)
		e.Kinetic += 0.5 * m * (vx*vx + vy*vy + vz*vz)
		e.Momentum[0] += m * vx
		e.Momentum[1] += m * vy
		e.Momentum[2] += m * vz

		for _, o := range bodies[i+1:] {
			dx := float64(o.X - b.X)
			dy := float64(o.Y - b.Y)
			dz := float64(o.Z - b.Z)
			r := math.Sqrt(dx*dx + dy*dy + dz*dz + eps2)
			e.Potential -= g * m * float64(o.Mass()) / r
		}
	}

	e.Total = e.Kinetic + e.Potential
	return e
}

// MomentumMagnitude returns the length of the momentum vector.
func (e Energy) MomentumMagnitude() float64 {
	return math.Sqrt(e.Momentum[0]*e.Momentum[0] + e.Momentum[1]*e.Momentum[1] + e.Momentum[2]*e.Momentum[2])
}
