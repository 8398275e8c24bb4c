package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"convoprobe/internal/chat"
	"convoprobe/internal/model"
	"convoprobe/internal/results"
	"convoprobe/internal/scenario"
)

// fakeSender answers with respond and records every request.
type fakeSender struct {
	mu       sync.Mutex
	requests []chat.Request
	respond  func(n int, req chat.Request) (chat.Reply, error)
}

func (f *fakeSender) Send(ctx context.Context, req chat.Request) (chat.Reply, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	n := len(f.requests)
	f.mu.Unlock()
	return f.respond(n, req)
}

func (f *fakeSender) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func replyWith(text string) func(int, chat.Request) (chat.Reply, error) {
	return func(int, chat.Request) (chat.Reply, error) {
		return chat.Reply{Text: text, Attempts: 1}, nil
	}
}

func failing(int, chat.Request) (chat.Reply, error) {
	return chat.Reply{Attempts: 3}, fmt.Errorf("session s: %w after 3 attempts: timeout", chat.ErrExhausted)
}

type failingRepo struct {
	results.Repository
}

func (failingRepo) Save(context.Context, *model.RunResult) error {
	return errors.New("disk full")
}

func simpleScenario() *scenario.Scenario {
	return &scenario.Scenario{
		ID: "simple",
		Persona: scenario.Persona{
			Name:  "Sarah Johnson",
			Facts: map[string]string{"phone": "555-123-4567"},
		},
		Steps: []scenario.Step{{Turn: 1, Message: "Hi, I'd like to book an appointment."}},
		Goals: []scenario.Goal{
			{ID: "greeting", Required: true, Intents: []string{"greeting"}},
			{ID: "ask-phone", Required: true, Reveals: "phone", Patterns: []string{"phone number"}},
			{ID: "no-errors", Required: true, Forbidden: []string{"internal server error"}},
		},
		NegativePatterns: []scenario.NegativePattern{
			{Pattern: "stack trace", Severity: model.SeverityCritical},
		},
	}
}

func TestRunTest_ZeroRequiredGoalsIsConfigError(t *testing.T) {
	s := simpleScenario()
	for i := range s.Goals {
		s.Goals[i].Required = false
	}
	sender := &fakeSender{respond: replyWith("Hello")}
	repo := results.NewMemoryRepository()

	result, err := New(sender, repo, Options{}).RunTest(context.Background(), s, "run-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, scenario.ErrInvalid))
	assert.Nil(t, result)
	assert.Zero(t, sender.calls(), "no message may be sent for a broken definition")

	_, err = repo.Get(context.Background(), "run-1")
	assert.True(t, errors.Is(err, results.ErrNotFound))
}

func TestRunTest_PassesWhenAllRequiredGoalsAchieved(t *testing.T) {
	sender := &fakeSender{respond: func(n int, req chat.Request) (chat.Reply, error) {
		if n == 1 {
			return chat.Reply{Text: "Hello! What's your phone number?", Attempts: 1}, nil
		}
		return chat.Reply{Text: "Thanks.", Attempts: 1}, nil
	}}
	repo := results.NewMemoryRepository()

	result, err := New(sender, repo, Options{Environment: "test"}).RunTest(context.Background(), simpleScenario(), "run-1")
	require.NoError(t, err)

	assert.Equal(t, model.StateCompletedPass, result.State)
	assert.True(t, result.Passed)
	assert.Len(t, result.Turns, 1)
	assert.Equal(t, []string{"greeting", "ask-phone", "no-errors"}, result.RequiredGoals)
	assert.Empty(t, result.UnmetGoals)
	assert.True(t, result.Achieved()["no-errors"], "absence goal is closed at termination")
	assert.Equal(t, "test", result.Environment)
	assert.Contains(t, result.Summary, "PASS: 3/3")

	stored, err := repo.Get(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, result.Summary, stored.Summary)
}

func TestRunTest_TurnBudgetExhaustedFails(t *testing.T) {
	sender := &fakeSender{respond: replyWith("I see.")}
	repo := results.NewMemoryRepository()

	result, err := New(sender, repo, Options{MaxTurns: 5}).RunTest(context.Background(), simpleScenario(), "")
	require.NoError(t, err)

	assert.Equal(t, model.StateCompletedFail, result.State)
	assert.False(t, result.Passed)
	assert.Len(t, result.Turns, 5, "run stops at exactly the turn budget")
	assert.Equal(t, 5, sender.calls())
	assert.Equal(t, []string{"greeting", "ask-phone"}, result.UnmetGoals)
	assert.NotEmpty(t, result.RunID)

	assert.Equal(t, model.SourceScripted, result.Turns[0].Source)
	assert.Equal(t, model.SourceAdaptive, result.Turns[1].Source)
	assert.Equal(t, "555-123-4567", result.Turns[1].UserMessage, "volunteers the outstanding fact")
}

func TestRunTest_RepeatedTransportFailureAborts(t *testing.T) {
	sender := &fakeSender{respond: failing}
	repo := results.NewMemoryRepository()

	result, err := New(sender, repo, Options{MaxTurns: 10}).RunTest(context.Background(), simpleScenario(), "run-1")
	require.NoError(t, err, "transport failure must not escape the driver")

	assert.Equal(t, model.StateAborted, result.State)
	assert.False(t, result.Passed)
	require.Len(t, result.Turns, 2)
	assert.True(t, result.Turns[0].Failed)
	assert.Equal(t, 3, result.Turns[0].Attempts)
	assert.Equal(t, model.SourceResend, result.Turns[1].Source)
	assert.Equal(t, result.Turns[0].UserMessage, result.Turns[1].UserMessage)

	var transport, critical int
	for _, is := range result.Issues {
		if is.Category == model.CategoryTransport {
			transport++
		}
		if is.Critical() {
			critical++
		}
	}
	assert.Equal(t, 3, transport, "one per failed turn plus the abort")
	assert.Equal(t, 1, critical)

	_, err = repo.Get(context.Background(), "run-1")
	assert.NoError(t, err, "aborted runs are still stored")
}

func TestRunTest_SingleTransportFailureRecovers(t *testing.T) {
	sender := &fakeSender{respond: func(n int, req chat.Request) (chat.Reply, error) {
		if n == 1 {
			return failing(n, req)
		}
		return chat.Reply{Text: "Hello! What's your phone number?", Attempts: 1}, nil
	}}

	result, err := New(sender, results.NewMemoryRepository(), Options{}).RunTest(context.Background(), simpleScenario(), "")
	require.NoError(t, err)

	assert.Equal(t, model.StateCompletedPass, result.State)
	assert.True(t, result.Passed, "a non-critical transport issue does not block a pass")
	require.Len(t, result.Turns, 2)
	assert.Equal(t, model.SourceResend, result.Turns[1].Source)
}

func TestRunTest_CriticalNegativePatternAborts(t *testing.T) {
	sender := &fakeSender{respond: replyWith("Hello! Here is a stack trace: ...")}

	result, err := New(sender, results.NewMemoryRepository(), Options{}).RunTest(context.Background(), simpleScenario(), "")
	require.NoError(t, err)

	assert.Equal(t, model.StateAborted, result.State)
	assert.Len(t, result.Turns, 1)
	require.NotEmpty(t, result.CriticalIssues())
	assert.Equal(t, model.CategoryNegativePattern, result.CriticalIssues()[0].Category)
}

func TestRunTest_ViolatedAbsenceGoalAborts(t *testing.T) {
	sender := &fakeSender{respond: replyWith("Hello! Internal Server Error. What's your phone number?")}

	result, err := New(sender, results.NewMemoryRepository(), Options{}).RunTest(context.Background(), simpleScenario(), "")
	require.NoError(t, err)

	assert.Equal(t, model.StateAborted, result.State)
	assert.False(t, result.Passed)
	assert.Contains(t, result.UnmetGoals, "no-errors")
	assert.True(t, result.Achieved()["greeting"], "other goals keep their evidence")
}

func TestRunTest_CancellationBetweenTurns(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sender := &fakeSender{respond: func(n int, req chat.Request) (chat.Reply, error) {
		if n == 2 {
			cancel()
		}
		return chat.Reply{Text: "Mm-hm.", Attempts: 1}, nil
	}}
	repo := results.NewMemoryRepository()

	result, err := New(sender, repo, Options{}).RunTest(ctx, simpleScenario(), "run-1")
	require.NoError(t, err)

	assert.Equal(t, model.StateAborted, result.State)
	require.Len(t, result.Turns, 2, "the in-flight turn completes")
	assert.False(t, result.Turns[1].Failed)

	last := result.Issues[len(result.Issues)-1]
	assert.Equal(t, model.CategoryCancelled, last.Category)
	assert.True(t, last.Critical())

	stored, err := repo.Get(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.StateAborted, stored.State)
}

func TestRunTest_CancelledBeforeFirstTurn(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sender := &fakeSender{respond: replyWith("Hello")}

	result, err := New(sender, results.NewMemoryRepository(), Options{}).RunTest(ctx, simpleScenario(), "")
	require.NoError(t, err)
	assert.Equal(t, model.StateAborted, result.State)
	assert.Empty(t, result.Turns)
	assert.Zero(t, sender.calls())
	assert.Contains(t, result.Summary, "ABORTED")
}

func TestRunTest_RunTimeoutFails(t *testing.T) {
	sender := &fakeSender{respond: func(n int, req chat.Request) (chat.Reply, error) {
		time.Sleep(30 * time.Millisecond)
		return chat.Reply{Text: "Hmm.", Attempts: 1}, nil
	}}

	result, err := New(sender, results.NewMemoryRepository(), Options{RunTimeout: 10 * time.Millisecond}).
		RunTest(context.Background(), simpleScenario(), "")
	require.NoError(t, err)

	assert.Equal(t, model.StateCompletedFail, result.State)
	assert.Len(t, result.Turns, 1)
	last := result.Issues[len(result.Issues)-1]
	assert.Equal(t, model.CategoryTimeout, last.Category)
	assert.False(t, last.Critical())
}

func TestRunTest_PersistFailureIsReported(t *testing.T) {
	sender := &fakeSender{respond: replyWith("Hello! What's your phone number?")}

	result, err := New(sender, failingRepo{}, Options{}).RunTest(context.Background(), simpleScenario(), "run-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPersist))
	require.NotNil(t, result)
	assert.True(t, result.Passed)
}

func TestRunTest_ForwardsSessionAndVars(t *testing.T) {
	sender := &fakeSender{respond: replyWith("Hello! What's your phone number?")}
	vars := map[string]string{"practice": "bright-smiles"}

	_, err := New(sender, results.NewMemoryRepository(), Options{Vars: vars}).RunTest(context.Background(), simpleScenario(), "abc")
	require.NoError(t, err)

	require.Len(t, sender.requests, 1)
	assert.Equal(t, "convoprobe-abc", sender.requests[0].SessionID)
	assert.Equal(t, vars, sender.requests[0].Vars)
}

type recordingObserver struct {
	mu       sync.Mutex
	started  []string
	turns    []int
	finished []*model.RunResult
}

func (o *recordingObserver) RunStarted(runID string, s *scenario.Scenario) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = append(o.started, runID)
}

func (o *recordingObserver) TurnCompleted(runID string, turn model.Turn, results []model.GoalResult, issues []model.Issue) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.turns = append(o.turns, turn.Number)
}

func (o *recordingObserver) RunFinished(result *model.RunResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished = append(o.finished, result)
}

func TestRunTest_NotifiesObserver(t *testing.T) {
	obs := &recordingObserver{}
	sender := &fakeSender{respond: replyWith("Okay.")}

	result, err := New(sender, results.NewMemoryRepository(), Options{MaxTurns: 3, Observer: obs}).
		RunTest(context.Background(), simpleScenario(), "run-1")
	require.NoError(t, err)

	assert.Equal(t, []string{"run-1"}, obs.started)
	assert.Equal(t, []int{1, 2, 3}, obs.turns)
	require.Len(t, obs.finished, 1)
	assert.Same(t, result, obs.finished[0])
}

func TestMaxTurnsPrecedence(t *testing.T) {
	s := simpleScenario()
	d := New(nil, nil, Options{})
	assert.Equal(t, DefaultMaxTurns, d.maxTurns(s))

	s.MaxTurns = 7
	assert.Equal(t, 7, d.maxTurns(s))

	d = New(nil, nil, Options{MaxTurns: 3})
	assert.Equal(t, 3, d.maxTurns(s))
}
