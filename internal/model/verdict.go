package model

import (
	"fmt"
	"strings"
)

// AchievedSet returns the goal ids that have an achieved=true result.
func AchievedSet(results []GoalResult) map[string]bool {
	set := make(map[string]bool, len(results))
	for _, gr := range results {
		if gr.Achieved {
			set[gr.GoalID] = true
		}
	}
	return set
}

// Verdict is the only pass/fail function: every required goal achieved and
// no critical issue recorded.
func Verdict(required []string, results []GoalResult, issues []Issue) bool {
	achieved := AchievedSet(results)
	for _, id := range required {
		if !achieved[id] {
			return false
		}
	}
	for _, is := range issues {
		if is.Critical() {
			return false
		}
	}
	return true
}

// Unmet returns the required goal ids without an achieved=true result, in order.
func Unmet(required []string, results []GoalResult) []string {
	achieved := AchievedSet(results)
	var out []string
	for _, id := range required {
		if !achieved[id] {
			out = append(out, id)
		}
	}
	return out
}

// Summarize renders the one-line human summary stored on a RunResult.
func Summarize(r *RunResult) string {
	met := len(r.RequiredGoals) - len(r.UnmetGoals)
	critical := len(r.CriticalIssues())

	var b strings.Builder
	switch r.State {
	case StateCompletedPass:
		b.WriteString("PASS")
	case StateCompletedFail:
		b.WriteString("FAIL")
	case StateAborted:
		b.WriteString("ABORTED")
	default:
		b.WriteString(string(r.State))
	}
	fmt.Fprintf(&b, ": %d/%d required goals achieved in %d turns", met, len(r.RequiredGoals), len(r.Turns))
	fmt.Fprintf(&b, " (%d issues, %d critical)", len(r.Issues), critical)
	if len(r.UnmetGoals) > 0 {
		fmt.Fprintf(&b, "; unmet: %s", strings.Join(r.UnmetGoals, ", "))
	}
	return b.String()
}
