package scenario

import (
	"time"

	"convoprobe/internal/model"
)

// GoalKind classifies what a goal asks of the agent.
type GoalKind string

const (
	// KindInfo is a fact the agent must elicit from the caller
	KindInfo GoalKind = "info"
	// KindAction is a side effect the agent must perform, usually a tool call
	KindAction GoalKind = "action"
	// KindTerminal is an outcome that ends the conversation
	KindTerminal GoalKind = "terminal"
)

// MatchMode decides how a goal's presence predicates combine.
type MatchMode string

const (
	MatchAny MatchMode = "any"
	MatchAll MatchMode = "all"
)

// Scenario is a complete test definition: who calls, what they say and
// what the agent must do.
type Scenario struct {
	// ID is the unique identifier used on the command line
	ID string `yaml:"id" json:"id"`
	// Name is a short human-readable title
	Name string `yaml:"name,omitempty" json:"name,omitempty"`
	// Description explains what the scenario exercises
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	// Tags for filtering
	Tags []string `yaml:"tags,omitempty" json:"tags,omitempty"`
	// Persona is the synthetic caller
	Persona Persona `yaml:"persona" json:"persona"`
	// Goals the agent is scored against
	Goals []Goal `yaml:"goals" json:"goals"`
	// Steps are scripted user messages tied to turn numbers
	Steps []Step `yaml:"steps,omitempty" json:"steps,omitempty"`
	// NegativePatterns raise issues whenever the agent's reply matches
	NegativePatterns []NegativePattern `yaml:"negative_patterns,omitempty" json:"negative_patterns,omitempty"`
	// Intents adds or extends semantic tags for this scenario
	Intents map[string][]string `yaml:"intents,omitempty" json:"intents,omitempty"`
	// MaxTurns overrides the runner's turn budget
	MaxTurns int `yaml:"max_turns,omitempty" json:"max_turns,omitempty"`
	// Timeout overrides the runner's wall-clock budget
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	// Fallback is sent on adaptive turns when nothing the agent said maps to a fact
	Fallback string `yaml:"fallback,omitempty" json:"fallback,omitempty"`

	// Source is the file the scenario was loaded from
	Source string `yaml:"-" json:"source,omitempty"`
}

// Goal is a unit of required or optional agent behavior.
type Goal struct {
	ID          string    `yaml:"id" json:"id"`
	Description string    `yaml:"description,omitempty" json:"description,omitempty"`
	Kind        GoalKind  `yaml:"kind,omitempty" json:"kind,omitempty"`
	Required    bool      `yaml:"required" json:"required"`
	Match       MatchMode `yaml:"match,omitempty" json:"match,omitempty"`
	// Patterns are case-insensitive regular expressions tested against the reply
	Patterns []string `yaml:"patterns,omitempty" json:"patterns,omitempty"`
	// Intents are semantic tags resolved by the evaluator's intent registry
	Intents []string `yaml:"intents,omitempty" json:"intents,omitempty"`
	// ToolCalls are tool names the agent must invoke
	ToolCalls []string `yaml:"tool_calls,omitempty" json:"tool_calls,omitempty"`
	// Forbidden patterns must never appear in any reply
	Forbidden []string `yaml:"forbidden,omitempty" json:"forbidden,omitempty"`
	// Severity attached to a forbidden-pattern violation
	Severity model.Severity `yaml:"severity,omitempty" json:"severity,omitempty"`
	// Reveals names the persona fact given when the agent asks for it
	Reveals string `yaml:"reveals,omitempty" json:"reveals,omitempty"`
	// Answer is a template for the adaptive reply; defaults to the revealed fact
	Answer string `yaml:"answer,omitempty" json:"answer,omitempty"`
	// WaivedBy lists goals that, once achieved, make this goal optional
	WaivedBy []string `yaml:"waived_by,omitempty" json:"waived_by,omitempty"`
}

// HasPresence reports whether the goal can be satisfied by something the agent does.
func (g Goal) HasPresence() bool {
	return len(g.Patterns) > 0 || len(g.Intents) > 0 || len(g.ToolCalls) > 0
}

// AbsenceOnly reports whether the goal is satisfied purely by forbidden
// patterns never appearing.
func (g Goal) AbsenceOnly() bool {
	return !g.HasPresence() && len(g.Forbidden) > 0
}

// ViolationSeverity returns the configured severity, critical by default.
func (g Goal) ViolationSeverity() model.Severity {
	if g.Severity == "" {
		return model.SeverityCritical
	}
	return g.Severity
}

// MatchMode returns the configured combination mode, any by default.
func (g Goal) MatchMode() MatchMode {
	if g.Match == "" {
		return MatchAny
	}
	return g.Match
}

// Step is a scripted user message.
type Step struct {
	// Turn is the 1-based turn the message is sent on; zero means list position
	Turn int `yaml:"turn,omitempty" json:"turn,omitempty"`
	// Message is a template over the persona facts
	Message string `yaml:"message" json:"message"`
	// Description explains the step
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// NegativePattern raises an issue whenever a reply matches.
type NegativePattern struct {
	Pattern     string         `yaml:"pattern" json:"pattern"`
	Severity    model.Severity `yaml:"severity,omitempty" json:"severity,omitempty"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
}

// EffectiveSeverity returns the configured severity, warning by default.
func (n NegativePattern) EffectiveSeverity() model.Severity {
	if n.Severity == "" {
		return model.SeverityWarning
	}
	return n.Severity
}

// StepFor returns the scripted step for a 1-based turn number.
func (s *Scenario) StepFor(turn int) (Step, bool) {
	for i, step := range s.Steps {
		at := step.Turn
		if at == 0 {
			at = i + 1
		}
		if at == turn {
			return step, true
		}
	}
	return Step{}, false
}

// Goal returns the goal with the given id.
func (s *Scenario) Goal(id string) (Goal, bool) {
	for _, g := range s.Goals {
		if g.ID == id {
			return g, true
		}
	}
	return Goal{}, false
}

// RequiredGoals returns the ids of goals that must be achieved given the
// goals achieved so far. A required goal stops being required once any of
// its WaivedBy goals is achieved.
func (s *Scenario) RequiredGoals(achieved map[string]bool) []string {
	var out []string
	for _, g := range s.Goals {
		if !g.Required || waived(g, achieved) {
			continue
		}
		out = append(out, g.ID)
	}
	return out
}

func waived(g Goal, achieved map[string]bool) bool {
	for _, id := range g.WaivedBy {
		if achieved[id] {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so a run can never mutate a catalog entry.
func (s *Scenario) Clone() *Scenario {
	c := *s
	c.Tags = append([]string(nil), s.Tags...)
	c.Persona = s.Persona.Clone()
	c.Goals = make([]Goal, len(s.Goals))
	for i, g := range s.Goals {
		g.Patterns = append([]string(nil), g.Patterns...)
		g.Intents = append([]string(nil), g.Intents...)
		g.ToolCalls = append([]string(nil), g.ToolCalls...)
		g.Forbidden = append([]string(nil), g.Forbidden...)
		g.WaivedBy = append([]string(nil), g.WaivedBy...)
		c.Goals[i] = g
	}
	c.Steps = append([]Step(nil), s.Steps...)
	c.NegativePatterns = append([]NegativePattern(nil), s.NegativePatterns...)
	if s.Intents != nil {
		c.Intents = make(map[string][]string, len(s.Intents))
		for k, v := range s.Intents {
			c.Intents[k] = append([]string(nil), v...)
		}
	}
	return &c
}

// WithOverrides returns a copy whose persona facts are replaced by overrides.
func (s *Scenario) WithOverrides(overrides map[string]string) *Scenario {
	c := s.Clone()
	if len(overrides) == 0 {
		return c
	}
	if c.Persona.Facts == nil {
		c.Persona.Facts = make(map[string]string, len(overrides))
	}
	for k, v := range overrides {
		c.Persona.Facts[k] = v
	}
	return c
}
