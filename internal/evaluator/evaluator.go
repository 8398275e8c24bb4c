// Package evaluator classifies conversation turns against a scenario's goals.
//
// Each goal compiles to a list of Predicates (pattern sets, intent tags, tool
// invocations) plus an optional forbidden pattern set. Evaluate only ever
// looks at turns that already exist, never re-opens an achieved goal and is
// idempotent: replaying the same history against the same ledger yields
// nothing new.
package evaluator

import (
	"fmt"
	"strings"

	"convoprobe/internal/model"
	"convoprobe/internal/scenario"
)

// Ledger is everything the evaluator has produced so far for one run.
type Ledger struct {
	Results []model.GoalResult
	Issues  []model.Issue
}

// Append returns a ledger with the new records added.
func (l Ledger) Append(results []model.GoalResult, issues []model.Issue) Ledger {
	return Ledger{
		Results: append(append([]model.GoalResult(nil), l.Results...), results...),
		Issues:  append(append([]model.Issue(nil), l.Issues...), issues...),
	}
}

// Achieved returns the goal ids with an achieved=true result.
func (l Ledger) Achieved() map[string]bool {
	return model.AchievedSet(l.Results)
}

// HasCritical reports whether any critical issue is recorded.
func (l Ledger) HasCritical() bool {
	for _, is := range l.Issues {
		if is.Critical() {
			return true
		}
	}
	return false
}

// Solicitation is a goal whose fact the agent's reply asked for.
type Solicitation struct {
	GoalID  string
	Reveals string
	Match   Match
}

type goalRule struct {
	goal      scenario.Goal
	satisfy   []Predicate
	forbidden *PatternSet
}

type negativeRule struct {
	index   int
	pattern scenario.NegativePattern
	set     *PatternSet
}

// Evaluator holds the compiled goal set of one scenario.
type Evaluator struct {
	scenario  *scenario.Scenario
	intents   *IntentRegistry
	goals     []goalRule
	negatives []negativeRule
}

// New compiles the scenario's goals. Definition problems are reported as an
// error matching scenario.ErrInvalid.
func New(s *scenario.Scenario) (*Evaluator, error) {
	intents, err := NewIntentRegistry(s.Intents)
	if err != nil {
		return nil, &scenario.ValidationError{Scenario: s.ID, Problems: []string{err.Error()}}
	}

	e := &Evaluator{scenario: s, intents: intents}
	var problems []string

	for _, g := range s.Goals {
		rule := goalRule{goal: g}
		if len(g.Patterns) > 0 {
			ps, err := NewPatternSet(g.Patterns)
			if err != nil {
				problems = append(problems, fmt.Sprintf("goal %q: %v", g.ID, err))
			} else {
				rule.satisfy = append(rule.satisfy, ps)
			}
		}
		for _, tag := range g.Intents {
			it, err := NewIntentTag(tag, intents)
			if err != nil {
				problems = append(problems, fmt.Sprintf("goal %q: %v", g.ID, err))
				continue
			}
			rule.satisfy = append(rule.satisfy, it)
		}
		if len(g.ToolCalls) > 0 {
			rule.satisfy = append(rule.satisfy, NewToolInvoked(g.ToolCalls))
		}
		if len(g.Forbidden) > 0 {
			ps, err := NewPatternSet(g.Forbidden)
			if err != nil {
				problems = append(problems, fmt.Sprintf("goal %q: %v", g.ID, err))
			} else {
				rule.forbidden = ps
			}
		}
		e.goals = append(e.goals, rule)
	}

	for i, np := range s.NegativePatterns {
		ps, err := NewPatternSet([]string{np.Pattern})
		if err != nil {
			problems = append(problems, fmt.Sprintf("negative pattern %d: %v", i+1, err))
			continue
		}
		e.negatives = append(e.negatives, negativeRule{index: i, pattern: np, set: ps})
	}

	if len(problems) > 0 {
		return nil, &scenario.ValidationError{Scenario: s.ID, Problems: problems}
	}
	return e, nil
}

// Intents exposes the registry the evaluator resolved tags against.
func (e *Evaluator) Intents() *IntentRegistry {
	return e.intents
}

// Evaluate classifies the latest turn of history. Goals already closed in
// prior (achieved or violated) are never re-opened.
func (e *Evaluator) Evaluate(history []model.Turn, prior Ledger) ([]model.GoalResult, []model.Issue) {
	if len(history) == 0 {
		return nil, nil
	}
	latest := history[len(history)-1]

	closed := make(map[string]bool, len(prior.Results))
	achieved := make(map[string]bool, len(prior.Results))
	for _, gr := range prior.Results {
		closed[gr.GoalID] = true
		if gr.Achieved {
			achieved[gr.GoalID] = true
		}
	}
	seen := make(map[string]bool, len(prior.Issues))
	for _, is := range prior.Issues {
		if is.Key != "" {
			seen[is.Key] = true
		}
	}

	var (
		results []model.GoalResult
		issues  []model.Issue
	)
	addIssue := func(is model.Issue) {
		if seen[is.Key] {
			return
		}
		seen[is.Key] = true
		issues = append(issues, is)
	}

	if latest.Failed {
		addIssue(model.Issue{
			Turn:        latest.Number,
			Category:    model.CategoryTransport,
			Severity:    model.SeverityError,
			Description: fmt.Sprintf("no reply after %d attempts: %s", latest.Attempts, latest.Error),
			Key:         fmt.Sprintf("transport:%d", latest.Number),
		})
		return nil, issues
	}

	for _, rule := range e.goals {
		id := rule.goal.ID

		if achieved[id] {
			// Achieved goals stay achieved; a later violation only raises an issue.
			if rule.forbidden != nil {
				if m, ok := rule.forbidden.Evaluate(latest); ok {
					addIssue(violationIssue(rule.goal, latest.Number, m))
				}
			}
			continue
		}
		if closed[id] {
			continue
		}

		if rule.forbidden != nil {
			if turn, m, ok := firstViolation(rule.forbidden, history); ok {
				results = append(results, model.GoalResult{
					GoalID:   id,
					Achieved: false,
					Turn:     turn,
					Evidence: fmt.Sprintf("turn %d: forbidden %q", turn, m.Evidence),
					Severity: rule.goal.ViolationSeverity(),
				})
				addIssue(violationIssue(rule.goal, turn, m))
				continue
			}
		}

		if m, ok := e.satisfied(rule, latest); ok {
			results = append(results, model.GoalResult{
				GoalID:   id,
				Achieved: true,
				Turn:     latest.Number,
				Evidence: fmt.Sprintf("turn %d: %s", latest.Number, m.Evidence),
			})
		}
	}

	for _, neg := range e.negatives {
		m, ok := neg.set.Evaluate(latest)
		if !ok {
			continue
		}
		desc := neg.pattern.Description
		if desc == "" {
			desc = "negative pattern matched"
		}
		addIssue(model.Issue{
			Turn:        latest.Number,
			Category:    model.CategoryNegativePattern,
			Severity:    neg.pattern.EffectiveSeverity(),
			Description: fmt.Sprintf("%s: %q", desc, m.Evidence),
			Key:         fmt.Sprintf("negative:%d:%d", neg.index, latest.Number),
		})
	}

	return results, issues
}

func (e *Evaluator) satisfied(rule goalRule, turn model.Turn) (Match, bool) {
	if len(rule.satisfy) == 0 {
		return Match{}, false
	}

	var evidence []string
	best := Match{}
	for _, p := range rule.satisfy {
		m, ok := p.Evaluate(turn)
		if !ok {
			if rule.goal.MatchMode() == scenario.MatchAll {
				return Match{}, false
			}
			continue
		}
		if rule.goal.MatchMode() == scenario.MatchAny {
			return m, true
		}
		evidence = append(evidence, m.Evidence)
		if m.Specificity > best.Specificity {
			best.Specificity = m.Specificity
		}
	}
	if len(evidence) == 0 {
		return Match{}, false
	}
	best.Evidence = strings.Join(evidence, "; ")
	return best, true
}

func firstViolation(forbidden *PatternSet, history []model.Turn) (int, Match, bool) {
	for _, t := range history {
		if t.Failed {
			continue
		}
		if m, ok := forbidden.Evaluate(t); ok {
			return t.Number, m, true
		}
	}
	return 0, Match{}, false
}

func violationIssue(g scenario.Goal, turn int, m Match) model.Issue {
	return model.Issue{
		Turn:        turn,
		Category:    model.CategoryGoalViolation,
		Severity:    g.ViolationSeverity(),
		Description: fmt.Sprintf("goal %s: forbidden %q in agent reply", g.ID, m.Evidence),
		GoalID:      g.ID,
		Key:         fmt.Sprintf("violation:%s:%d", g.ID, turn),
	}
}

// Outstanding returns the required goals that still block a pass. Goals
// defined only by forbidden patterns count as satisfied while unviolated.
func (e *Evaluator) Outstanding(ledger Ledger) []string {
	achieved := ledger.Achieved()
	closed := make(map[string]bool, len(ledger.Results))
	for _, gr := range ledger.Results {
		closed[gr.GoalID] = true
	}

	var out []string
	for _, id := range e.scenario.RequiredGoals(achieved) {
		if achieved[id] {
			continue
		}
		g, _ := e.scenario.Goal(id)
		if g.AbsenceOnly() && !closed[id] {
			continue
		}
		out = append(out, id)
	}
	return out
}

// Finalize closes absence-only goals that were never violated. It is called
// once when the run terminates and attributes the evidence to the last turn.
func (e *Evaluator) Finalize(history []model.Turn, ledger Ledger) []model.GoalResult {
	if len(history) == 0 {
		return nil
	}
	last := history[len(history)-1].Number

	closed := make(map[string]bool, len(ledger.Results))
	for _, gr := range ledger.Results {
		closed[gr.GoalID] = true
	}

	var out []model.GoalResult
	for _, rule := range e.goals {
		if !rule.goal.AbsenceOnly() || closed[rule.goal.ID] {
			continue
		}
		out = append(out, model.GoalResult{
			GoalID:   rule.goal.ID,
			Achieved: true,
			Turn:     last,
			Evidence: fmt.Sprintf("no forbidden pattern in %d turns", len(history)),
		})
	}
	return out
}

// Solicitations lists goals with a revealable fact that the turn's reply
// asked about, in scenario order.
func (e *Evaluator) Solicitations(turn model.Turn) []Solicitation {
	if turn.Failed {
		return nil
	}
	var out []Solicitation
	for _, rule := range e.goals {
		if rule.goal.Reveals == "" {
			continue
		}
		var best Match
		found := false
		for _, p := range rule.satisfy {
			if m, ok := p.Evaluate(turn); ok && (!found || m.Specificity > best.Specificity) {
				best = m
				found = true
			}
		}
		if found {
			out = append(out, Solicitation{GoalID: rule.goal.ID, Reveals: rule.goal.Reveals, Match: best})
		}
	}
	return out
}
