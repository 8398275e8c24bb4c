package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"convoprobe/internal/config"
	"convoprobe/internal/scenario"
)

func TestSetVersion(t *testing.T) {
	SetVersion("1.2.3-test")
	assert.Equal(t, "1.2.3-test", rootCmd.Version)
}

func TestRootCommand(t *testing.T) {
	assert.Equal(t, "convoprobe", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
	assert.True(t, rootCmd.SilenceUsage)

	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run", "scenarios", "results", "mock-agent", "chat", "mcp", "version"} {
		assert.True(t, names[want], "missing command %s", want)
	}
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	cmd.Version = "9.9.9"
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	assert.Equal(t, ExitPass, execute(cmd))
	assert.Equal(t, "convoprobe version 9.9.9\n", out.String())
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitPass},
		{"aborted", &exitError{code: ExitAborted, err: errors.New("x")}, ExitAborted},
		{"wrapped exit error", fmt.Errorf("outer: %w", &exitError{code: ExitFail, err: errors.New("x")}), ExitFail},
		{"invalid config", fmt.Errorf("%w: bad", config.ErrInvalid), ExitConfigError},
		{"invalid scenario", &scenario.ValidationError{Scenario: "s", Problems: []string{"p"}}, ExitConfigError},
		{"unknown scenario", fmt.Errorf("%w: nope", scenario.ErrNotFound), ExitConfigError},
		{"anything else", errors.New("boom"), ExitFail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestParseOverrides(t *testing.T) {
	got, err := parseOverrides([]string{"child_name=Lily", " phone =555=0000", "empty="})
	assert.NoError(t, err)
	assert.Equal(t, map[string]string{"child_name": "Lily", "phone": "555=0000", "empty": ""}, got)

	got, err = parseOverrides(nil)
	assert.NoError(t, err)
	assert.Nil(t, got)

	_, err = parseOverrides([]string{"novalue"})
	assert.Error(t, err)
	_, err = parseOverrides([]string{"=x"})
	assert.Error(t, err)
}
