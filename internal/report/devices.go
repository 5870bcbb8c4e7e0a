package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/cwbudde/clbench/internal/compute"
)

// Devices writes one panel per device, grouped by platform.
func Devices(w io.Writer, platforms []compute.PlatformInfo) {
	if len(platforms) == 0 {
		fmt.Fprintln(w, subtleStyle.Render("No platforms found."))
		return
	}

	for _, p := range platforms {
		fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("Platform: %s (%s)", p.Name, p.Backend)))
		fmt.Fprintln(w, field("Vendor", p.Vendor))
		fmt.Fprintln(w, field("Version", p.Version))
		for _, d := range p.Devices {
			fmt.Fprintln(w, panelStyle.Render(Device(d)))
		}
		fmt.Fprintln(w)
	}
}

// Device renders the properties of a single device.
func Device(d compute.DeviceInfo) string {
	lines := []string{
		headerStyle.Render(fmt.Sprintf("[%d] %s", d.Index, d.Name)),
		field("Type", d.Type),
		field("Vendor", d.Vendor),
		field("Version", d.Version),
	}
	if d.OpenCLCVersion != "" {
		lines = append(lines, field("OpenCL C", d.OpenCLCVersion))
	}
	if d.MaxClockFrequency > 0 {
		lines = append(lines, field("Clock", fmt.Sprintf("%d MHz", d.MaxClockFrequency)))
	}
	lines = append(lines,
		field("Compute units", d.MaxComputeUnits),
		field("Global memory", FormatBytes(d.GlobalMemSize)),
		field("Local memory", FormatBytes(d.LocalMemSize)),
		field("Max allocation", FormatBytes(d.MaxMemAllocSize)),
		field("Max work-group size", d.MaxWorkGroupSize),
	)
	if len(d.MaxWorkItemSizes) > 0 {
		sizes := make([]string, len(d.MaxWorkItemSizes))
		for i, s := range d.MaxWorkItemSizes {
			sizes[i] = fmt.Sprint(s)
		}
		lines = append(lines, field("Max work-item sizes", strings.Join(sizes, " x ")))
	}
	if len(d.Extensions) > 0 {
		lines = append(lines, field("Extensions", fmt.Sprintf("%d", len(d.Extensions))))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}
