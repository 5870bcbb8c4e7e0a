package report

import (
	"fmt"
	"io"

	"github.com/cwbudde/clbench/internal/store"
)

// Runs writes a table of stored runs.
func Runs(w io.Writer, infos []store.RunInfo) {
	if len(infos) == 0 {
		fmt.Fprintln(w, subtleStyle.Render("No runs found."))
		return
	}

	fmt.Fprintln(w, subtleStyle.Render(
		column(38).Render("ID")+column(10).Render("KIND")+column(11).Render("STATUS")+
			column(21).Render("TIMESTAMP")+"SUMMARY"))
	for _, info := range infos {
		fmt.Fprintln(w, column(38).Render(info.ID)+column(10).Render(string(info.Kind))+
			column(11).Render(runStatus(info.Status))+
			column(21).Render(info.Timestamp.Format("2006-01-02 15:04:05"))+info.Summary)
	}
}

func runStatus(s store.Status) string {
	switch s {
	case store.StatusCompleted:
		return goodStyle.Render(string(s))
	case store.StatusFailed:
		return badStyle.Render(string(s))
	default:
		return subtleStyle.Render(string(s))
	}
}

// Run writes the details of one stored run.
func Run(w io.Writer, run *store.Run) {
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("Run %s", run.ID)))
	fmt.Fprintln(w, field("Kind", string(run.Kind)))
	fmt.Fprintln(w, field("Status", runStatus(run.Status)))
	fmt.Fprintln(w, field("Timestamp", run.Timestamp.Format("2006-01-02 15:04:05")))
	if run.Backend != "" {
		fmt.Fprintln(w, field("Backend", string(run.Backend)))
	}
	if run.Device != "" {
		fmt.Fprintln(w, field("Device", run.Device))
	}
	if run.Error != "" {
		fmt.Fprintln(w, field("Error", badStyle.Render(run.Error)))
	}
	fmt.Fprintln(w)

	switch {
	case run.Bench != nil:
		Bench(w, run.Bench)
	case run.Simulation != nil:
		Simulation(w, run.Simulation)
	case run.Tune != nil:
		Tune(w, run.Tune)
	}
}

// Simulation writes the outcome of a simulate run.
func Simulation(w io.Writer, s *store.SimulationResult) {
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("N-body simulation: %d bodies (%s)", s.Bodies, s.Distribution)))
	fmt.Fprintln(w, field("Steps", s.Steps))
	fmt.Fprintln(w, field("Simulated time", fmt.Sprintf("%.6g", s.SimTime)))
	fmt.Fprintln(w, field("Work-group / global", fmt.Sprintf("%d / %d", s.WorkGroupSize, s.GlobalSize)))
	fmt.Fprintln(w, field("Elapsed", FormatDuration(s.Elapsed)))
	fmt.Fprintln(w, field("Steps per second", fmt.Sprintf("%.1f", s.StepsPerSec)))
	fmt.Fprintln(w, field("Initial energy", fmt.Sprintf("%.6g", s.InitialEnergy.Total)))
	fmt.Fprintln(w, field("Final energy", fmt.Sprintf("%.6g", s.FinalEnergy.Total)))
	if drift, ok := EnergyDrift(s.InitialEnergy.Total, s.FinalEnergy.Total); ok {
		fmt.Fprintln(w, field("Energy drift", fmt.Sprintf("%.3g%%", drift*100)))
	}
	fmt.Fprintln(w, field("Final momentum", fmt.Sprintf("%.3g", s.FinalEnergy.MomentumMagnitude())))
	if s.ResumedFrom != "" {
		fmt.Fprintln(w, field("Resumed from", s.ResumedFrom))
	}
}

// EnergyDrift is the relative change from initial to final total energy.
func EnergyDrift(initial, final float64) (float64, bool) {
	if initial == 0 {
		return 0, false
	}
	return (final - initial) / initial, true
}

// Tune writes a work-group search result with a step-time chart.
func Tune(w io.Writer, t *store.TuneResult) {
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("Work-group search: %d bodies, %d sizes measured", t.Bodies, t.Evaluations)))
	fmt.Fprintln(w, field("Heuristic", fmt.Sprintf("%d (%s)", t.HeuristicSize, FormatDuration(t.HeuristicStepTime))))
	fmt.Fprintln(w, field("Best", goodStyle.Render(fmt.Sprintf("%d (%s)", t.BestWorkGroupSize, FormatDuration(t.BestStepTime)))))
	if t.BestStepTime > 0 {
		fmt.Fprintln(w, field("Gain over heuristic", fmt.Sprintf("%.2fx", float64(t.HeuristicStepTime)/float64(t.BestStepTime))))
	}
	if chart := StepTimeChart(t.SortedSamples()); chart != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, chart)
	}
}
