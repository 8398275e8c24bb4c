package driver

import (
	"convoprobe/internal/evaluator"
	"convoprobe/internal/model"
	"convoprobe/internal/scenario"
)

const (
	defaultOpener   = "Hello."
	defaultFallback = "Okay."
)

// responder plays the synthetic user on turns without a scripted step. It
// answers whatever the agent's last reply asked for from the persona facts
// and never answers the same goal twice.
type responder struct {
	scenario *scenario.Scenario
	eval     *evaluator.Evaluator
	answered map[string]bool
}

func newResponder(s *scenario.Scenario, eval *evaluator.Evaluator) *responder {
	return &responder{scenario: s, eval: eval, answered: make(map[string]bool)}
}

// observe marks the goals the agent asked about in its last reply as handled.
// It is called once the next message is chosen, scripted or not, since a
// scripted step answers the question just as well.
func (r *responder) observe(last *model.Turn) {
	if last == nil {
		return
	}
	for _, s := range r.eval.Solicitations(*last) {
		r.answered[s.GoalID] = true
	}
}

// answer picks the adaptive message for the turn after last.
func (r *responder) answer(last *model.Turn, achieved map[string]bool) string {
	if last == nil {
		return defaultOpener
	}

	var (
		best  evaluator.Solicitation
		found bool
	)
	for _, s := range r.eval.Solicitations(*last) {
		if r.answered[s.GoalID] {
			continue
		}
		if !found || s.Match.Specificity > best.Match.Specificity {
			best = s
			found = true
		}
	}
	if found {
		r.answered[best.GoalID] = true
		return r.render(best.GoalID)
	}

	// Nothing recognisable was asked: volunteer the next fact the agent still needs.
	for _, g := range r.scenario.Goals {
		if g.Reveals == "" || achieved[g.ID] || r.answered[g.ID] {
			continue
		}
		r.answered[g.ID] = true
		return r.render(g.ID)
	}

	if r.scenario.Fallback != "" {
		if msg, err := r.scenario.Persona.Render(r.scenario.Fallback); err == nil {
			return msg
		}
	}
	return defaultFallback
}

func (r *responder) render(goalID string) string {
	g, _ := r.scenario.Goal(goalID)
	if g.Answer != "" {
		if msg, err := r.scenario.Persona.Render(g.Answer); err == nil && msg != "" {
			return msg
		}
	}
	if fact, ok := r.scenario.Persona.Fact(g.Reveals); ok && fact != "" {
		return fact
	}
	return defaultFallback
}
