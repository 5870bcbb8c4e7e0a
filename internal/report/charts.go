package report

import (
	"fmt"

	"github.com/guptarohit/asciigraph"

	"github.com/cwbudde/clbench/internal/store"
)

const (
	chartWidth  = 72
	chartHeight = 12
)

// EnergyChart plots the total energy over a trace. Fewer than two entries
// give an empty string.
func EnergyChart(entries []store.TraceEntry) string {
	if len(entries) < 2 {
		return ""
	}

	data := make([]float64, len(entries))
	for i, e := range entries {
		data[i] = e.Energy.Total
	}

	caption := fmt.Sprintf("total energy, steps %d-%d", entries[0].Step, entries[len(entries)-1].Step)
	return asciigraph.Plot(data,
		asciigraph.Height(chartHeight),
		asciigraph.Width(chartWidth),
		asciigraph.Caption(caption),
	)
}

// StepTimeChart plots step time in microseconds against work-group size,
// samples ordered by size.
func StepTimeChart(samples []store.TuneSample) string {
	if len(samples) < 2 {
		return ""
	}

	data := make([]float64, len(samples))
	for i, s := range samples {
		data[i] = float64(s.StepTime.Microseconds())
	}

	caption := fmt.Sprintf("step time (us), work-group %d-%d", samples[0].WorkGroupSize, samples[len(samples)-1].WorkGroupSize)
	return asciigraph.Plot(data,
		asciigraph.Height(chartHeight),
		asciigraph.Width(chartWidth),
		asciigraph.Caption(caption),
	)
}
