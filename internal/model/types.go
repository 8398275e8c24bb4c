// Package model holds the records produced while a scenario runs: turns,
// goal results, issues and the terminal RunResult.
package model

import (
	"time"
)

// Severity grades an Issue. Only SeverityCritical blocks a pass.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	}
	return false
}

// IssueCategory classifies an Issue.
type IssueCategory string

const (
	CategoryTransport       IssueCategory = "transport"
	CategoryNegativePattern IssueCategory = "negative_pattern"
	CategoryGoalViolation   IssueCategory = "goal_violation"
	CategoryTimeout         IssueCategory = "timeout"
	CategoryCancelled       IssueCategory = "cancelled"
)

// RunState is the lifecycle state of one run.
type RunState string

const (
	StateInitialized   RunState = "INITIALIZED"
	StateRunning       RunState = "RUNNING"
	StateCompletedPass RunState = "COMPLETED_PASS"
	StateCompletedFail RunState = "COMPLETED_FAIL"
	StateAborted       RunState = "ABORTED"
)

// Terminal reports whether no further transitions are possible.
func (s RunState) Terminal() bool {
	return s == StateCompletedPass || s == StateCompletedFail || s == StateAborted
}

// TurnSource records where the synthetic user message came from.
type TurnSource string

const (
	SourceScripted TurnSource = "scripted"
	SourceAdaptive TurnSource = "adaptive"
	SourceResend   TurnSource = "resend"
	// SourceManual marks messages typed by a person in the chat console
	SourceManual TurnSource = "manual"
)

// ToolCall is a tool invocation the agent reported alongside its reply.
type ToolCall struct {
	Name   string                 `json:"name"`
	Input  map[string]interface{} `json:"input,omitempty"`
	Output string                 `json:"output,omitempty"`
}

// Turn is one exchange between the synthetic user and the agent.
type Turn struct {
	Number      int           `json:"number"`
	Source      TurnSource    `json:"source"`
	UserMessage string        `json:"user_message"`
	Reply       string        `json:"reply"`
	ToolCalls   []ToolCall    `json:"tool_calls,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
	Latency     time.Duration `json:"latency"`
	Attempts    int           `json:"attempts"`
	// Failed is set when the chat client exhausted its retries; Reply is empty.
	Failed bool   `json:"failed,omitempty"`
	Error  string `json:"error,omitempty"`
}

// GoalResult records a single state transition of a goal within a run.
type GoalResult struct {
	GoalID   string   `json:"goal_id"`
	Achieved bool     `json:"achieved"`
	Turn     int      `json:"turn"`
	Evidence string   `json:"evidence"`
	Severity Severity `json:"severity,omitempty"`
}

// Issue is an anomaly detected during a run.
type Issue struct {
	Turn        int           `json:"turn"`
	Category    IssueCategory `json:"category"`
	Severity    Severity      `json:"severity"`
	Description string        `json:"description"`
	GoalID      string        `json:"goal_id,omitempty"`
	// Key deduplicates issues across repeated evaluations of the same history.
	Key string `json:"key,omitempty"`
}

// Critical reports whether the issue blocks a pass.
func (i Issue) Critical() bool {
	return i.Severity == SeverityCritical
}

// RunResult is the terminal artifact of one run.
type RunResult struct {
	RunID         string        `json:"run_id"`
	ScenarioID    string        `json:"scenario_id"`
	Environment   string        `json:"environment,omitempty"`
	State         RunState      `json:"state"`
	Passed        bool          `json:"passed"`
	Turns         []Turn        `json:"turns"`
	GoalResults   []GoalResult  `json:"goal_results"`
	Issues        []Issue       `json:"issues"`
	RequiredGoals []string      `json:"required_goals"`
	UnmetGoals    []string      `json:"unmet_goals,omitempty"`
	StartedAt     time.Time     `json:"started_at"`
	EndedAt       time.Time     `json:"ended_at"`
	Duration      time.Duration `json:"duration"`
	Summary       string        `json:"summary"`
}

// CriticalIssues returns the issues with critical severity.
func (r *RunResult) CriticalIssues() []Issue {
	var out []Issue
	for _, is := range r.Issues {
		if is.Critical() {
			out = append(out, is)
		}
	}
	return out
}

// Achieved returns the set of goal ids with an achieved=true result.
func (r *RunResult) Achieved() map[string]bool {
	return AchievedSet(r.GoalResults)
}
