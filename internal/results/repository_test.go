package results

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"convoprobe/internal/model"
)

func sampleResult(runID, scenarioID string, started time.Time) *model.RunResult {
	return &model.RunResult{
		RunID:       runID,
		ScenarioID:  scenarioID,
		Environment: "staging",
		State:       model.StateCompletedFail,
		Passed:      false,
		Turns: []model.Turn{
			{Number: 1, Source: model.SourceScripted, UserMessage: "Hi", Reply: "Hello!", Timestamp: started, Latency: 120 * time.Millisecond, Attempts: 1},
			{Number: 2, Source: model.SourceAdaptive, UserMessage: "Sarah Johnson", Reply: "Booked.", Timestamp: started.Add(time.Second), Attempts: 2,
				ToolCalls: []model.ToolCall{{Name: "schedule_appointment_ortho", Input: map[string]interface{}{"slot": "Tue"}, Output: "ok"}}},
			{Number: 3, Source: model.SourceResend, UserMessage: "Hello?", Timestamp: started.Add(2 * time.Second), Attempts: 3, Failed: true, Error: "retries exhausted"},
		},
		GoalResults: []model.GoalResult{
			{GoalID: "greeting", Achieved: true, Turn: 1, Evidence: "turn 1: Hello"},
			{GoalID: "no-errors", Achieved: false, Turn: 2, Evidence: "forbidden", Severity: model.SeverityCritical},
		},
		Issues: []model.Issue{
			{Turn: 3, Category: model.CategoryTransport, Severity: model.SeverityError, Description: "no reply", Key: "transport:3"},
		},
		RequiredGoals: []string{"greeting", "farewell"},
		UnmetGoals:    []string{"farewell"},
		StartedAt:     started,
		EndedAt:       started.Add(3 * time.Second),
		Duration:      3 * time.Second,
		Summary:       "FAIL: 1/2 required goals achieved in 3 turns (1 issue, 0 critical); unmet: farewell",
	}
}

type repoFactory func(t *testing.T) Repository

func repositories() map[string]repoFactory {
	return map[string]repoFactory{
		"memory": func(t *testing.T) Repository {
			return NewMemoryRepository()
		},
		"sqlite": func(t *testing.T) Repository {
			repo, err := NewSQLiteRepository(":memory:")
			require.NoError(t, err)
			t.Cleanup(func() { _ = repo.Close() })
			return repo
		},
	}
}

func TestRepository_SaveAndGet(t *testing.T) {
	for name, factory := range repositories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := factory(t)
			started := time.Date(2025, 1, 7, 9, 0, 0, 0, time.UTC)
			want := sampleResult("run-1", "new-patient", started)

			require.NoError(t, repo.Save(ctx, want))

			got, err := repo.Get(ctx, "run-1")
			require.NoError(t, err)

			assert.Equal(t, want.RunID, got.RunID)
			assert.Equal(t, want.State, got.State)
			assert.Equal(t, want.Summary, got.Summary)
			assert.Equal(t, want.RequiredGoals, got.RequiredGoals)
			assert.Equal(t, want.UnmetGoals, got.UnmetGoals)
			assert.Equal(t, want.GoalResults, got.GoalResults)
			assert.Equal(t, want.Issues, got.Issues)
			assert.True(t, want.StartedAt.Equal(got.StartedAt))
			assert.Equal(t, want.Duration, got.Duration)

			require.Len(t, got.Turns, 3)
			assert.Equal(t, model.SourceAdaptive, got.Turns[1].Source)
			assert.Equal(t, "schedule_appointment_ortho", got.Turns[1].ToolCalls[0].Name)
			assert.Equal(t, "Tue", got.Turns[1].ToolCalls[0].Input["slot"])
			assert.True(t, got.Turns[2].Failed)
			assert.Equal(t, 3, got.Turns[2].Attempts)
			assert.True(t, want.Turns[1].Timestamp.Equal(got.Turns[1].Timestamp))
		})
	}
}

func TestRepository_AppendOnly(t *testing.T) {
	for name, factory := range repositories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := factory(t)
			r := sampleResult("run-1", "s", time.Now())

			require.NoError(t, repo.Save(ctx, r))
			err := repo.Save(ctx, r)
			assert.True(t, errors.Is(err, ErrAlreadyExists))

			_, err = repo.Get(ctx, "missing")
			assert.True(t, errors.Is(err, ErrNotFound))
		})
	}
}

func TestRepository_RejectsNonTerminal(t *testing.T) {
	for name, factory := range repositories() {
		t.Run(name, func(t *testing.T) {
			r := sampleResult("run-1", "s", time.Now())
			r.State = model.StateRunning
			assert.Error(t, factory(t).Save(context.Background(), r))

			r.State = model.StateCompletedPass
			r.RunID = ""
			assert.Error(t, factory(t).Save(context.Background(), r))
		})
	}
}

func TestRepository_List(t *testing.T) {
	for name, factory := range repositories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := factory(t)
			base := time.Date(2025, 1, 7, 9, 0, 0, 0, time.UTC)

			require.NoError(t, repo.Save(ctx, sampleResult("a", "booking", base)))
			require.NoError(t, repo.Save(ctx, sampleResult("b", "transfer", base.Add(time.Minute))))
			require.NoError(t, repo.Save(ctx, sampleResult("c", "booking", base.Add(2*time.Minute))))

			all, err := repo.List(ctx, ListOptions{})
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, []string{"c", "b", "a"}, []string{all[0].RunID, all[1].RunID, all[2].RunID})
			assert.Equal(t, 3, all[0].Turns)

			booking, err := repo.List(ctx, ListOptions{ScenarioID: "booking", Limit: 1})
			require.NoError(t, err)
			require.Len(t, booking, 1)
			assert.Equal(t, "c", booking[0].RunID)
		})
	}
}

func TestMemoryRepository_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	r := sampleResult("run-1", "s", time.Now())
	require.NoError(t, repo.Save(ctx, r))

	r.Turns[0].Reply = "mutated after save"
	got, err := repo.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "Hello!", got.Turns[0].Reply)

	got.Issues[0].Description = "mutated after get"
	again, err := repo.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "no reply", again.Issues[0].Description)
}

func TestSQLiteRepository_ConcurrentSaves(t *testing.T) {
	ctx := context.Background()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	defer repo.Close()

	const runs = 10
	var wg sync.WaitGroup
	errs := make(chan error, runs)
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- repo.Save(ctx, sampleResult(fmt.Sprintf("run-%d", i), "booking", time.Now()))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	all, err := repo.List(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Len(t, all, runs)

	for i := 0; i < runs; i++ {
		got, err := repo.Get(ctx, fmt.Sprintf("run-%d", i))
		require.NoError(t, err)
		assert.Len(t, got.Turns, 3, "each run keeps only its own turns")
	}
}

func TestOpen(t *testing.T) {
	repo, err := Open("memory")
	require.NoError(t, err)
	_, ok := repo.(*MemoryRepository)
	assert.True(t, ok)

	repo, err = Open(filepath.Join(t.TempDir(), "r.db"))
	require.NoError(t, err)
	defer repo.Close()
	_, ok = repo.(*SQLiteRepository)
	assert.True(t, ok)
}
