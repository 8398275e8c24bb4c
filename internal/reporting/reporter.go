// Package reporting renders run progress and results for humans and machines.
package reporting

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"

	"convoprobe/internal/driver"
	"convoprobe/internal/model"
)

// Reporter observes runs and summarizes a finished suite.
type Reporter interface {
	driver.Observer
	ReportSuite(outcomes []driver.Outcome) SuiteSummary
}

// SuiteSummary aggregates the outcomes of a suite.
type SuiteSummary struct {
	Total       int                `json:"total"`
	Passed      int                `json:"passed"`
	Failed      int                `json:"failed"`
	Aborted     int                `json:"aborted"`
	Errored     int                `json:"errored"`
	SuccessRate float64            `json:"success_rate"`
	Duration    time.Duration      `json:"duration"`
	Errors      []string           `json:"errors,omitempty"`
	Results     []*model.RunResult `json:"results"`
}

// AllPassed reports whether every run passed.
func (s SuiteSummary) AllPassed() bool {
	return s.Total > 0 && s.Passed == s.Total
}

// Summarize counts outcomes. A run whose result was produced but not stored
// counts by its verdict and also records the error.
func Summarize(outcomes []driver.Outcome) SuiteSummary {
	sum := SuiteSummary{Total: len(outcomes)}
	for _, o := range outcomes {
		if o.Err != nil {
			sum.Errors = append(sum.Errors, o.Err.Error())
		}
		if o.Result == nil {
			sum.Errored++
			continue
		}
		sum.Results = append(sum.Results, o.Result)
		sum.Duration += o.Result.Duration
		switch o.Result.State {
		case model.StateCompletedPass:
			sum.Passed++
		case model.StateAborted:
			sum.Aborted++
		default:
			sum.Failed++
		}
	}
	if sum.Total > 0 {
		sum.SuccessRate = float64(sum.Passed) / float64(sum.Total) * 100
	}
	return sum
}

// SaveReport writes the summary as indented JSON into dir and returns the file path.
func SaveReport(dir string, sum SuiteSummary) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	data, err := json.MarshalIndent(sum, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}

	name := fmt.Sprintf("convoprobe-report-%s.json", time.Now().Format("20060102-150405.000"))
	file := filepath.Join(dir, name)
	if err := os.WriteFile(file, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return file, nil
}

// truncate flattens s onto one line and cuts it to width terminal cells.
func truncate(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	if width <= 0 || runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "…")
}
