package color

import (
	"github.com/charmbracelet/lipgloss"

	"convoprobe/internal/model"
)

var (
	Pass    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#007700", Dark: "#50FA7B"})
	Fail    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#B00000", Dark: "#FF5555"})
	Aborted = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#8A4B00", Dark: "#FFB86C"})

	Header = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#000000", Dark: "#FFFFFF"})
	Faint  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#666666", Dark: "#8A8A8A"})

	Warning = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#8A6D00", Dark: "#F1FA8C"})
	Info    = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#005F87", Dark: "#8BE9FD"})
)

// Initialize forces the background mode instead of relying on detection.
func Initialize(isDarkMode bool) {
	lipgloss.SetHasDarkBackground(isDarkMode)
}

// Theme names accepted by ApplyTheme.
const (
	ThemeAuto  = "auto"
	ThemeDark  = "dark"
	ThemeLight = "light"
)

// ApplyTheme selects the background mode by name. "auto" and "" keep
// lipgloss's terminal detection. Unknown names report false.
func ApplyTheme(theme string) bool {
	switch theme {
	case "", ThemeAuto:
	case ThemeDark:
		Initialize(true)
	case ThemeLight:
		Initialize(false)
	default:
		return false
	}
	return true
}

// ForState returns the style for a terminal run state.
func ForState(s model.RunState) lipgloss.Style {
	switch s {
	case model.StateCompletedPass:
		return Pass
	case model.StateAborted:
		return Aborted
	default:
		return Fail
	}
}

// ForSeverity returns the style for an issue severity.
func ForSeverity(s model.Severity) lipgloss.Style {
	switch s {
	case model.SeverityCritical, model.SeverityError:
		return Fail
	case model.SeverityWarning:
		return Warning
	default:
		return Info
	}
}
