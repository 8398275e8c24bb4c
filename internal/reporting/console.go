package reporting

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"convoprobe/internal/color"
	"convoprobe/internal/driver"
	"convoprobe/internal/model"
	"convoprobe/internal/scenario"
)

const messageWidth = 72

// ConsoleReporter prints progress and verdicts. Compact mode prints one
// verdict block per run; verbose mode adds every turn as it happens.
type ConsoleReporter struct {
	mu      sync.Mutex
	out     io.Writer
	verbose bool
}

// NewConsoleReporter creates a reporter writing to out.
func NewConsoleReporter(out io.Writer, verbose bool) *ConsoleReporter {
	return &ConsoleReporter{out: out, verbose: verbose}
}

func (r *ConsoleReporter) printf(format string, args ...interface{}) {
	fmt.Fprintf(r.out, format, args...)
}

// RunStarted implements driver.Observer.
func (r *ConsoleReporter) RunStarted(runID string, s *scenario.Scenario) {
	if !r.verbose {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.printf("%s %s %s\n", color.Header.Render("▶ "+s.ID), color.Faint.Render("run "+runID), s.Name)
	if s.Description != "" {
		r.printf("   %s\n", truncate(s.Description, messageWidth))
	}
}

// TurnCompleted implements driver.Observer.
func (r *ConsoleReporter) TurnCompleted(runID string, turn model.Turn, results []model.GoalResult, issues []model.Issue) {
	if !r.verbose {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	prefix := color.Faint.Render(fmt.Sprintf("[%s #%02d]", shortID(runID), turn.Number))
	r.printf("%s user (%s): %s\n", prefix, turn.Source, truncate(turn.UserMessage, messageWidth))
	if turn.Failed {
		r.printf("%s %s after %d attempts: %s\n", prefix, color.Fail.Render("no reply"), turn.Attempts, truncate(turn.Error, messageWidth))
	} else {
		r.printf("%s agent: %s %s\n", prefix, truncate(turn.Reply, messageWidth), color.Faint.Render(turn.Latency.Round(1e6).String()))
	}
	for _, tc := range turn.ToolCalls {
		r.printf("%s   tool %s\n", prefix, tc.Name)
	}
	for _, gr := range results {
		if gr.Achieved {
			r.printf("%s   %s %s\n", prefix, color.Pass.Render("✔"), gr.GoalID)
		} else {
			r.printf("%s   %s %s violated\n", prefix, color.Fail.Render("✘"), gr.GoalID)
		}
	}
	for _, is := range issues {
		r.printf("%s   %s\n", prefix, formatIssue(is))
	}
}

// RunFinished implements driver.Observer.
func (r *ConsoleReporter) RunFinished(res *model.RunResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.printf("%s %s %s\n", verdict(res.State), res.ScenarioID, color.Faint.Render(fmt.Sprintf("(run %s, %d turns, %v)", res.RunID, len(res.Turns), res.Duration.Round(1e6))))

	if r.verbose {
		achieved := res.Achieved()
		required := append([]string(nil), res.RequiredGoals...)
		sort.Strings(required)
		for _, id := range required {
			if achieved[id] {
				r.printf("   %s %s\n", color.Pass.Render("✔"), id)
			} else {
				r.printf("   %s %s\n", color.Fail.Render("✘"), id)
			}
		}
	} else if len(res.UnmetGoals) > 0 {
		r.printf("   unmet: %s\n", strings.Join(res.UnmetGoals, ", "))
	}

	for _, is := range res.Issues {
		r.printf("   %s\n", formatIssue(is))
	}
	if r.verbose && res.Summary != "" {
		r.printf("   %s\n", res.Summary)
	}
}

// ReportSuite prints the totals and returns them.
func (r *ConsoleReporter) ReportSuite(outcomes []driver.Outcome) SuiteSummary {
	sum := Summarize(outcomes)

	r.mu.Lock()
	defer r.mu.Unlock()

	if sum.Total == 0 {
		r.printf("No runs executed.\n")
		return sum
	}

	r.printf("\n%s\n", color.Header.Render("Suite summary"))
	r.printf("   runs: %d  passed: %s  failed: %s  aborted: %s  errored: %d\n",
		sum.Total,
		color.Pass.Render(fmt.Sprint(sum.Passed)),
		color.Fail.Render(fmt.Sprint(sum.Failed)),
		color.Aborted.Render(fmt.Sprint(sum.Aborted)),
		sum.Errored)
	r.printf("   success rate: %.1f%%\n", sum.SuccessRate)
	for _, e := range sum.Errors {
		r.printf("   %s %s\n", color.Fail.Render("error:"), e)
	}
	return sum
}

func verdict(s model.RunState) string {
	label := "FAIL"
	switch s {
	case model.StateCompletedPass:
		label = "PASS"
	case model.StateAborted:
		label = "ABORTED"
	}
	return color.ForState(s).Render(fmt.Sprintf("%-7s", label))
}

func formatIssue(is model.Issue) string {
	sev := color.ForSeverity(is.Severity).Render(strings.ToUpper(string(is.Severity)))
	return fmt.Sprintf("%s turn %d [%s] %s", sev, is.Turn, is.Category, truncate(is.Description, messageWidth))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
