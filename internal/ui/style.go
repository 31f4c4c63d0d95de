package ui

import "github.com/charmbracelet/lipgloss"

// Colors.
var (
	Neon    = lipgloss.Color("#00FFD1")
	Magenta = lipgloss.Color("#FF2E97")
	Amber   = lipgloss.Color("#FFB000")
	Green   = lipgloss.Color("#39FF14")
	Red     = lipgloss.Color("#FF3B3B")
	Muted   = lipgloss.Color("#6B7280")
	Border  = lipgloss.Color("#4B5563")
)

var (
	paneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Border)
	focusedPaneStyle = paneStyle.
				BorderForeground(Neon)

	titleStyle = lipgloss.NewStyle().Foreground(Neon).Bold(true)
	faintStyle = lipgloss.NewStyle().Foreground(Muted)

	userLabel      = lipgloss.NewStyle().Foreground(Neon).Bold(true)
	assistantLabel = lipgloss.NewStyle().Foreground(Magenta).Bold(true)
	systemLabel    = lipgloss.NewStyle().Foreground(Amber).Bold(true)
	errorLabel     = lipgloss.NewStyle().Foreground(Red).Bold(true)
	errorText      = lipgloss.NewStyle().Foreground(Red)

	statusBar = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#E5E7EB")).
			Background(lipgloss.Color("#111827")).
			Padding(0, 1)

	dialogStyle = lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(Red).
			Padding(1, 2)
	helpDialogStyle = dialogStyle.
			BorderForeground(Neon)
)

var statusColors = map[string]lipgloss.Color{
	"online":     Green,
	"connecting": Amber,
	"offline":    Muted,
	"error":      Red,
}
