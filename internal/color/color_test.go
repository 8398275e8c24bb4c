package color

import (
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"

	"convoprobe/internal/model"
)

func TestInitialize(t *testing.T) {
	tests := []struct {
		name       string
		isDarkMode bool
	}{
		{"set dark mode", true},
		{"set light mode", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Initialize(tt.isDarkMode)
			assert.Equal(t, tt.isDarkMode, lipgloss.HasDarkBackground())
		})
	}
}

func TestApplyTheme(t *testing.T) {
	assert.True(t, ApplyTheme(ThemeDark))
	assert.True(t, lipgloss.HasDarkBackground())

	assert.True(t, ApplyTheme(ThemeLight))
	assert.False(t, lipgloss.HasDarkBackground())

	assert.True(t, ApplyTheme(ThemeAuto))
	assert.False(t, lipgloss.HasDarkBackground(), "auto keeps the current mode")
	assert.True(t, ApplyTheme(""))

	assert.False(t, ApplyTheme("solarized"))
}

func TestForState(t *testing.T) {
	assert.Equal(t, Pass.GetForeground(), ForState(model.StateCompletedPass).GetForeground())
	assert.Equal(t, Fail.GetForeground(), ForState(model.StateCompletedFail).GetForeground())
	assert.Equal(t, Aborted.GetForeground(), ForState(model.StateAborted).GetForeground())
}

func TestForSeverity(t *testing.T) {
	assert.Equal(t, Fail.GetForeground(), ForSeverity(model.SeverityCritical).GetForeground())
	assert.Equal(t, Fail.GetForeground(), ForSeverity(model.SeverityError).GetForeground())
	assert.Equal(t, Warning.GetForeground(), ForSeverity(model.SeverityWarning).GetForeground())
	assert.Equal(t, Info.GetForeground(), ForSeverity(model.SeverityInfo).GetForeground())
}
