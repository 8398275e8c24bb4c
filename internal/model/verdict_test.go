package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerdict(t *testing.T) {
	results := []GoalResult{
		{GoalID: "greeting", Achieved: true, Turn: 1},
		{GoalID: "ask-name", Achieved: true, Turn: 2},
		{GoalID: "no-errors", Achieved: false, Turn: 3, Severity: SeverityWarning},
	}

	tests := []struct {
		name     string
		required []string
		issues   []Issue
		want     bool
	}{
		{"all required achieved", []string{"greeting", "ask-name"}, nil, true},
		{"missing required goal", []string{"greeting", "ask-phone"}, nil, false},
		{"violated goal is not achieved", []string{"no-errors"}, nil, false},
		{"non-critical issue does not block", []string{"greeting"}, []Issue{{Severity: SeverityError}}, true},
		{"critical issue blocks", []string{"greeting"}, []Issue{{Severity: SeverityCritical}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Verdict(tt.required, results, tt.issues))
		})
	}
}

func TestUnmet_PreservesOrder(t *testing.T) {
	results := []GoalResult{{GoalID: "b", Achieved: true}}
	assert.Equal(t, []string{"a", "c"}, Unmet([]string{"a", "b", "c"}, results))
	assert.Nil(t, Unmet([]string{"b"}, results))
}

func TestSummarize(t *testing.T) {
	r := &RunResult{
		State:         StateCompletedFail,
		Turns:         make([]Turn, 4),
		RequiredGoals: []string{"a", "b", "c"},
		UnmetGoals:    []string{"c"},
		Issues:        []Issue{{Severity: SeverityWarning}, {Severity: SeverityCritical}},
	}

	assert.Equal(t, "FAIL: 2/3 required goals achieved in 4 turns (2 issues, 1 critical); unmet: c", Summarize(r))
}

func TestRunStateTerminal(t *testing.T) {
	assert.False(t, StateInitialized.Terminal())
	assert.False(t, StateRunning.Terminal())
	assert.True(t, StateCompletedPass.Terminal())
	assert.True(t, StateCompletedFail.Terminal())
	assert.True(t, StateAborted.Terminal())
}
