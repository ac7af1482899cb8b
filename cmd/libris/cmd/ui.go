package cmd

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Color palette for terminal output.
const (
	colorLime   = lipgloss.Color("154")
	colorOrange = lipgloss.Color("208")
	colorRed    = lipgloss.Color("196")
	colorGray   = lipgloss.Color("245")
	colorCyan   = lipgloss.Color("51")
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	successStyle = lipgloss.NewStyle().Foreground(colorLime)
	warnStyle    = lipgloss.NewStyle().Foreground(colorOrange)
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorRed)
	dimStyle     = lipgloss.NewStyle().Foreground(colorGray)
	boldStyle    = lipgloss.NewStyle().Bold(true)
)

func init() {
	// Plain output when not attached to a terminal.
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		plain := lipgloss.NewStyle()
		titleStyle = plain
		successStyle = plain
		warnStyle = plain
		errorStyle = plain
		dimStyle = plain
		boldStyle = plain
	}
}
