package tune

import (
	"log/slog"
	"math/rand"

	"github.com/cwbudde/mayfly"
)

// MinPopSize is the smallest population the mayfly library accepts.
const MinPopSize = 20

// MayflyOptimizer runs the mayfly swarm optimiser.
type MayflyOptimizer struct {
	maxIters int
	popSize  int
	seed     int64
}

// NewMayfly creates a mayfly optimiser. Populations below MinPopSize are
// raised to it.
func NewMayfly(maxIters, popSize int, seed int64) *MayflyOptimizer {
	return &MayflyOptimizer{
		maxIters: maxIters,
		popSize:  max(popSize, MinPopSize),
		seed:     seed,
	}
}

// Run uses the first coordinate's bounds for every dimension.
func (m *MayflyOptimizer) Run(eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64) {
	config := mayfly.NewDefaultConfig()
	config.ObjectiveFunc = eval
	config.ProblemSize = dim
	config.MaxIterations = m.maxIters
	config.NPop = m.popSize
	config.LowerBound = lower[0]
	config.UpperBound = upper[0]
	config.Rand = rand.New(rand.NewSource(m.seed))

	result, err := mayfly.Optimize(config)
	if err != nil {
		slog.Warn("Mayfly optimisation failed, falling back to lower bound", "error", err)
		start := append([]float64(nil), lower[:dim]...)
		return start, eval(start)
	}

	return result.GlobalBest.Position, result.GlobalBest.Cost
}
