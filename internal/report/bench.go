package report

import (
	"fmt"
	"io"

	"github.com/cwbudde/clbench/internal/bench"
)

// Measurement is the progress line of one benchmark pass.
func Measurement(m bench.Measurement) string {
	return fmt.Sprintf("%s: %s (%s) output[0]=%d %s",
		m.Name, FormatDuration(m.Elapsed), m.Device, m.FirstValue,
		status(m.Verified, "ok", "MISMATCH"))
}

// Bench writes the per-device summary of a benchmark report.
func Bench(w io.Writer, r *bench.Report) {
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("Add benchmark: %d elements x %d cycles, %d passes",
		r.Options.Size, r.Options.Cycles, r.Options.Passes)))

	fmt.Fprintln(w, subtleStyle.Render(
		column(10).Render("BACKEND")+column(40).Render("DEVICE")+column(14).Render("BEST")+"SPEEDUP"))
	for _, s := range r.Summaries() {
		backend := string(s.Backend)
		if backend == "" {
			backend = "-"
		}
		speedup := "-"
		if s.Speedup > 0 {
			speedup = fmt.Sprintf("%.2fx", s.Speedup)
		}
		fmt.Fprintln(w, column(10).Render(backend)+column(40).Render(s.Device)+
			column(14).Render(FormatDuration(s.Best))+speedup)
	}

	fmt.Fprintln(w, field("Verified", status(r.Verified(), "all passes", "FAILED")))
	fmt.Fprintln(w, field("Total time", FormatDuration(r.Elapsed)))
}
