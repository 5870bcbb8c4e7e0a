// Package report renders devices, measurements and runs for the terminal.
package report

import "github.com/charmbracelet/lipgloss"

var (
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true)
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(22)
	valueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	goodStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	badStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	panelStyle  = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

// column pads a cell to width.
func column(width int) lipgloss.Style {
	return lipgloss.NewStyle().Width(width)
}

func field(label string, value any) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), valueStyle.Render(toString(value)))
}

func status(ok bool, yes, no string) string {
	if ok {
		return goodStyle.Render(yes)
	}
	return badStyle.Render(no)
}
