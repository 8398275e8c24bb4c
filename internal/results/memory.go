package results

import (
	"context"
	"sort"
	"sync"

	"convoprobe/internal/model"
)

// MemoryRepository keeps results in process memory.
type MemoryRepository struct {
	runs sync.Map // run id -> *model.RunResult
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (m *MemoryRepository) Save(ctx context.Context, result *model.RunResult) error {
	if err := checkSavable(result); err != nil {
		return err
	}
	if _, loaded := m.runs.LoadOrStore(result.RunID, cloneResult(result)); loaded {
		return ErrAlreadyExists
	}
	return nil
}

func (m *MemoryRepository) Get(ctx context.Context, runID string) (*model.RunResult, error) {
	v, ok := m.runs.Load(runID)
	if !ok {
		return nil, ErrNotFound
	}
	return cloneResult(v.(*model.RunResult)), nil
}

func (m *MemoryRepository) List(ctx context.Context, opts ListOptions) ([]Summary, error) {
	var out []Summary
	m.runs.Range(func(_, v interface{}) bool {
		r := v.(*model.RunResult)
		if opts.ScenarioID == "" || r.ScenarioID == opts.ScenarioID {
			out = append(out, summarize(r))
		}
		return true
	})

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].RunID < out[j].RunID
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (m *MemoryRepository) Close() error {
	return nil
}

func cloneResult(r *model.RunResult) *model.RunResult {
	c := *r
	c.Turns = nil
	for _, t := range r.Turns {
		t.ToolCalls = append([]model.ToolCall(nil), t.ToolCalls...)
		c.Turns = append(c.Turns, t)
	}
	c.GoalResults = append([]model.GoalResult(nil), r.GoalResults...)
	c.Issues = append([]model.Issue(nil), r.Issues...)
	c.RequiredGoals = append([]string(nil), r.RequiredGoals...)
	c.UnmetGoals = append([]string(nil), r.UnmetGoals...)
	return &c
}
