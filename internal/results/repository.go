// Package results persists terminal RunResults.
//
// Results are append-only: a run id is written once and never updated.
// Implementations are safe for concurrent Save calls from independent runs.
package results

import (
	"context"
	"errors"
	"fmt"
	"time"

	"convoprobe/internal/model"
)

var (
	// ErrNotFound is returned by Get for an unknown run id.
	ErrNotFound = errors.New("run not found")
	// ErrAlreadyExists is returned by Save when the run id was already stored.
	ErrAlreadyExists = errors.New("run already stored")
)

// Repository stores and retrieves RunResults.
type Repository interface {
	Save(ctx context.Context, result *model.RunResult) error
	Get(ctx context.Context, runID string) (*model.RunResult, error)
	List(ctx context.Context, opts ListOptions) ([]Summary, error)
	Close() error
}

// ListOptions filters List.
type ListOptions struct {
	ScenarioID string
	// Limit caps the number of summaries; zero means no limit
	Limit int
}

// Summary is the list view of a stored run, newest first.
type Summary struct {
	RunID       string         `json:"run_id"`
	ScenarioID  string         `json:"scenario_id"`
	Environment string         `json:"environment,omitempty"`
	State       model.RunState `json:"state"`
	Passed      bool           `json:"passed"`
	Turns       int            `json:"turns"`
	StartedAt   time.Time      `json:"started_at"`
	Duration    time.Duration  `json:"duration"`
	Summary     string         `json:"summary"`
}

func summarize(r *model.RunResult) Summary {
	return Summary{
		RunID:       r.RunID,
		ScenarioID:  r.ScenarioID,
		Environment: r.Environment,
		State:       r.State,
		Passed:      r.Passed,
		Turns:       len(r.Turns),
		StartedAt:   r.StartedAt,
		Duration:    r.Duration,
		Summary:     r.Summary,
	}
}

func checkSavable(r *model.RunResult) error {
	if r == nil {
		return errors.New("nil result")
	}
	if r.RunID == "" {
		return errors.New("result has no run id")
	}
	if !r.State.Terminal() {
		return fmt.Errorf("run %s is not terminal (state %s)", r.RunID, r.State)
	}
	return nil
}

// Open returns the repository for a storage path: an in-memory repository
// for "memory", otherwise a SQLite database at path.
func Open(path string) (Repository, error) {
	if path == "memory" {
		return NewMemoryRepository(), nil
	}
	return NewSQLiteRepository(path)
}
