// Package driver runs a scenario against a chat agent turn by turn.
//
// A run moves INITIALIZED -> RUNNING -> {COMPLETED_PASS, COMPLETED_FAIL,
// ABORTED}. Each turn picks the next user message (scripted step, re-send of
// a failed message, or an adaptive answer from the persona), sends it, lets
// the evaluator classify the reply and then checks for termination. Every
// run that gets past definition checks ends with exactly one persisted
// RunResult, including cancelled and aborted runs.
package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"convoprobe/internal/chat"
	"convoprobe/internal/evaluator"
	"convoprobe/internal/model"
	"convoprobe/internal/results"
	"convoprobe/internal/scenario"
	"convoprobe/pkg/logging"
)

const subsystem = "Driver"

const (
	// DefaultMaxTurns applies when neither Options nor the scenario set a budget.
	DefaultMaxTurns = 20
	// DefaultRunTimeout applies when neither Options nor the scenario set one.
	DefaultRunTimeout = 10 * time.Minute
	// DefaultMaxTransportFailures is the number of consecutive failed turns that aborts a run.
	DefaultMaxTransportFailures = 2
)

// ErrPersist is wrapped by RunTest when the run finished but could not be stored.
var ErrPersist = errors.New("failed to persist run result")

// Observer is notified as a run progresses. Implementations must be safe
// for concurrent use when runs execute in parallel.
type Observer interface {
	RunStarted(runID string, s *scenario.Scenario)
	TurnCompleted(runID string, turn model.Turn, results []model.GoalResult, issues []model.Issue)
	RunFinished(result *model.RunResult)
}

// Options tune a Driver. Zero values fall back to the scenario, then to the defaults.
type Options struct {
	// MaxTurns overrides the scenario's turn budget when positive
	MaxTurns int
	// RunTimeout overrides the scenario's wall-clock budget when positive
	RunTimeout time.Duration
	// MaxTransportFailures is the consecutive failed-turn limit
	MaxTransportFailures int
	// Environment is recorded on every RunResult
	Environment string
	// Vars are forwarded to the agent with every message
	Vars     map[string]string
	Observer Observer
}

// Driver executes runs. One Driver may execute many runs concurrently; all
// per-run state lives in the run itself.
type Driver struct {
	sender chat.Sender
	repo   results.Repository
	opts   Options
}

// New creates a driver sending through sender and persisting to repo.
func New(sender chat.Sender, repo results.Repository, opts Options) *Driver {
	if opts.MaxTransportFailures <= 0 {
		opts.MaxTransportFailures = DefaultMaxTransportFailures
	}
	return &Driver{sender: sender, repo: repo, opts: opts}
}

// RunTest executes one scenario. Definition errors are returned before any
// message is sent and match scenario.ErrInvalid. Otherwise the terminal
// RunResult is returned and persisted; a storage failure is reported as an
// error wrapping ErrPersist alongside the result.
func (d *Driver) RunTest(ctx context.Context, s *scenario.Scenario, runID string) (*model.RunResult, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	eval, err := evaluator.New(s)
	if err != nil {
		return nil, err
	}
	if runID == "" {
		runID = uuid.NewString()
	}

	r := &run{
		driver:    d,
		scenario:  s,
		eval:      eval,
		responder: newResponder(s, eval),
		result: &model.RunResult{
			RunID:       runID,
			ScenarioID:  s.ID,
			Environment: d.opts.Environment,
			State:       model.StateInitialized,
		},
		maxTurns: d.maxTurns(s),
		timeout:  d.runTimeout(s),
	}

	result := r.execute(ctx)

	if err := d.repo.Save(context.WithoutCancel(ctx), result); err != nil {
		logging.Error(subsystem, err, "run %s finished but was not stored", runID)
		return result, fmt.Errorf("%w: run %s: %w", ErrPersist, runID, err)
	}
	return result, nil
}

func (d *Driver) maxTurns(s *scenario.Scenario) int {
	switch {
	case d.opts.MaxTurns > 0:
		return d.opts.MaxTurns
	case s.MaxTurns > 0:
		return s.MaxTurns
	}
	return DefaultMaxTurns
}

func (d *Driver) runTimeout(s *scenario.Scenario) time.Duration {
	switch {
	case d.opts.RunTimeout > 0:
		return d.opts.RunTimeout
	case s.Timeout > 0:
		return s.Timeout
	}
	return DefaultRunTimeout
}

// run holds the state of a single execution.
type run struct {
	driver    *Driver
	scenario  *scenario.Scenario
	eval      *evaluator.Evaluator
	responder *responder
	result    *model.RunResult
	ledger    evaluator.Ledger
	maxTurns  int
	timeout   time.Duration
}

func (r *run) execute(ctx context.Context) *model.RunResult {
	res := r.result
	res.StartedAt = time.Now()
	res.State = model.StateRunning
	if obs := r.driver.opts.Observer; obs != nil {
		obs.RunStarted(res.RunID, r.scenario)
	}
	logging.Info(subsystem, "run %s: scenario %s started (max %d turns)", res.RunID, r.scenario.ID, r.maxTurns)

	sessionID := "convoprobe-" + res.RunID
	consecutiveFailures := 0

	for n := 1; !res.State.Terminal(); n++ {
		if err := ctx.Err(); err != nil {
			r.addIssue(model.Issue{
				Turn:        n - 1,
				Category:    model.CategoryCancelled,
				Severity:    model.SeverityCritical,
				Description: fmt.Sprintf("run cancelled before turn %d: %v", n, err),
				Key:         "cancelled",
			})
			res.State = model.StateAborted
			break
		}
		if elapsed := time.Since(res.StartedAt); elapsed >= r.timeout {
			r.addIssue(model.Issue{
				Turn:        n - 1,
				Category:    model.CategoryTimeout,
				Severity:    model.SeverityError,
				Description: fmt.Sprintf("run timeout of %s exceeded after %d turns", r.timeout, n-1),
				Key:         "timeout",
			})
			res.State = model.StateCompletedFail
			break
		}

		msg, source := r.nextMessage(n)

		// The call is detached from cancellation so a cancel lands between
		// turns; the per-attempt timeout still bounds it.
		reply, err := r.driver.sender.Send(context.WithoutCancel(ctx), chat.Request{
			SessionID: sessionID,
			Message:   msg,
			Vars:      r.driver.opts.Vars,
		})
		turn := model.Turn{
			Number:      n,
			Source:      source,
			UserMessage: msg,
			Reply:       reply.Text,
			ToolCalls:   reply.ToolCalls,
			Timestamp:   time.Now(),
			Latency:     reply.Latency,
			Attempts:    reply.Attempts,
		}
		if err != nil {
			turn.Failed = true
			turn.Error = err.Error()
			turn.Reply = ""
			turn.ToolCalls = nil
			consecutiveFailures++
			logging.Warn(subsystem, "run %s turn %d: no reply after %d attempts: %v", res.RunID, n, reply.Attempts, err)
		} else {
			consecutiveFailures = 0
			logging.Debug(subsystem, "run %s turn %d: %q -> %q", res.RunID, n, msg, reply.Text)
		}
		res.Turns = append(res.Turns, turn)

		newResults, newIssues := r.eval.Evaluate(res.Turns, r.ledger)
		r.ledger = r.ledger.Append(newResults, newIssues)

		if consecutiveFailures >= r.driver.opts.MaxTransportFailures {
			is := model.Issue{
				Turn:        n,
				Category:    model.CategoryTransport,
				Severity:    model.SeverityCritical,
				Description: fmt.Sprintf("%d consecutive turns without a reply from the agent", consecutiveFailures),
				Key:         fmt.Sprintf("transport-abort:%d", n),
			}
			r.addIssue(is)
			newIssues = append(newIssues, is)
		}

		if obs := r.driver.opts.Observer; obs != nil {
			obs.TurnCompleted(res.RunID, turn, newResults, newIssues)
		}

		switch {
		case r.ledger.HasCritical():
			res.State = model.StateAborted
		case len(r.eval.Outstanding(r.ledger)) == 0:
			res.State = model.StateCompletedPass
		case n >= r.maxTurns:
			res.State = model.StateCompletedFail
		}
	}

	r.ledger = r.ledger.Append(r.eval.Finalize(res.Turns, r.ledger), nil)
	r.finish()

	if obs := r.driver.opts.Observer; obs != nil {
		obs.RunFinished(res)
	}
	logging.Info(subsystem, "run %s: %s", res.RunID, res.Summary)
	return res
}

// nextMessage chooses the user message for turn n: the scripted step if one
// exists, a re-send of a failed message, or an adaptive answer.
func (r *run) nextMessage(n int) (string, model.TurnSource) {
	var last, lastReply *model.Turn
	if len(r.result.Turns) > 0 {
		last = &r.result.Turns[len(r.result.Turns)-1]
	}
	for i := len(r.result.Turns) - 1; i >= 0; i-- {
		if !r.result.Turns[i].Failed {
			lastReply = &r.result.Turns[i]
			break
		}
	}

	var (
		msg    string
		source model.TurnSource
	)
	if step, ok := r.scenario.StepFor(n); ok {
		rendered, err := r.scenario.Persona.Render(step.Message)
		if err != nil {
			// Validate renders every step, so this only happens on a persona
			// changed after validation.
			logging.Warn(subsystem, "turn %d: step did not render, sending raw text: %v", n, err)
			rendered = step.Message
		}
		msg, source = rendered, model.SourceScripted
	} else if last != nil && last.Failed {
		msg, source = last.UserMessage, model.SourceResend
	} else {
		msg, source = r.responder.answer(lastReply, r.ledger.Achieved()), model.SourceAdaptive
	}

	if source != model.SourceResend {
		r.responder.observe(lastReply)
	}
	return msg, source
}

func (r *run) addIssue(is model.Issue) {
	r.ledger = r.ledger.Append(nil, []model.Issue{is})
}

func (r *run) finish() {
	res := r.result
	res.EndedAt = time.Now()
	res.Duration = res.EndedAt.Sub(res.StartedAt)
	res.GoalResults = r.ledger.Results
	res.Issues = r.ledger.Issues
	res.RequiredGoals = r.scenario.RequiredGoals(r.ledger.Achieved())
	res.Passed = model.Verdict(res.RequiredGoals, res.GoalResults, res.Issues)
	res.UnmetGoals = model.Unmet(res.RequiredGoals, res.GoalResults)
	res.Summary = model.Summarize(res)
}
