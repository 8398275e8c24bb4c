package reporting

import (
	"encoding/json"
	"fmt"
	"io"

	"convoprobe/internal/driver"
	"convoprobe/internal/model"
	"convoprobe/internal/scenario"
)

// JSONReporter stays silent while runs progress and writes the suite
// summary as one JSON document, for CI consumption.
type JSONReporter struct {
	out io.Writer
}

// NewJSONReporter creates a reporter writing to out.
func NewJSONReporter(out io.Writer) *JSONReporter {
	return &JSONReporter{out: out}
}

func (r *JSONReporter) RunStarted(string, *scenario.Scenario) {}

func (r *JSONReporter) TurnCompleted(string, model.Turn, []model.GoalResult, []model.Issue) {}

func (r *JSONReporter) RunFinished(*model.RunResult) {}

// ReportSuite writes the summary.
func (r *JSONReporter) ReportSuite(outcomes []driver.Outcome) SuiteSummary {
	sum := Summarize(outcomes)
	data, err := json.MarshalIndent(sum, "", "  ")
	if err != nil {
		fmt.Fprintf(r.out, `{"error": "failed to marshal results: %v"}`+"\n", err)
		return sum
	}
	fmt.Fprintln(r.out, string(data))
	return sum
}
