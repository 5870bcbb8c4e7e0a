package tune

// Optimizer minimises an objective over a box.
type Optimizer interface {
	// Run returns the best position found and its cost.
	// lower and upper bound every one of the dim coordinates.
	Run(eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64)
}
