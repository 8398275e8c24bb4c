package scenario

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalid marks a broken scenario definition. It is distinct from a
// failing run: nothing was sent to the agent.
var ErrInvalid = errors.New("invalid scenario")

// ValidationError lists every problem found in one scenario.
type ValidationError struct {
	Scenario string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("scenario %q is invalid: %s", e.Scenario, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalid
}

// Validate checks the scenario for definition errors: missing required
// goals, goals that can never be evaluated, broken patterns and templates
// that reference facts the persona does not have.
func (s *Scenario) Validate() error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(s.ID) == "" {
		add("id is required")
	}
	if s.MaxTurns < 0 {
		add("max_turns must not be negative")
	}
	if v, ok := s.Persona.Facts["parent_name"]; ok && strings.TrimSpace(v) == "" {
		add("persona: parent_name is blank")
	} else if !ok && s.Persona.Name != "" && strings.TrimSpace(s.Persona.Name) == "" {
		add("persona: name is blank")
	}

	ids := make(map[string]bool, len(s.Goals))
	for _, g := range s.Goals {
		if g.ID == "" {
			add("goal without id")
			continue
		}
		if ids[g.ID] {
			add("duplicate goal id %q", g.ID)
		}
		ids[g.ID] = true
	}

	if len(s.RequiredGoals(nil)) == 0 {
		add("no required goals")
	}

	for _, g := range s.Goals {
		switch g.Kind {
		case "", KindInfo, KindAction, KindTerminal:
		default:
			add("goal %q: unknown kind %q", g.ID, g.Kind)
		}
		switch g.Match {
		case "", MatchAny, MatchAll:
		default:
			add("goal %q: unknown match mode %q", g.ID, g.Match)
		}
		if !g.HasPresence() && len(g.Forbidden) == 0 {
			add("goal %q: no patterns, intents, tool_calls or forbidden patterns", g.ID)
		}
		if g.Severity != "" && !g.Severity.Valid() {
			add("goal %q: unknown severity %q", g.ID, g.Severity)
		}
		for _, p := range append(append([]string(nil), g.Patterns...), g.Forbidden...) {
			if _, err := CompilePattern(p); err != nil {
				add("goal %q: %v", g.ID, err)
			}
		}
		for _, w := range g.WaivedBy {
			if !ids[w] {
				add("goal %q: waived_by references unknown goal %q", g.ID, w)
			}
			if w == g.ID {
				add("goal %q: cannot waive itself", g.ID)
			}
		}
		if g.Reveals != "" {
			if _, ok := s.Persona.FactMap()[g.Reveals]; !ok {
				add("goal %q: persona has no fact %q", g.ID, g.Reveals)
			}
		}
		if g.Answer != "" {
			if _, err := s.Persona.Render(g.Answer); err != nil {
				add("goal %q: answer: %v", g.ID, err)
			}
		}
	}

	seenTurns := make(map[int]bool, len(s.Steps))
	for i, step := range s.Steps {
		turn := step.Turn
		if turn == 0 {
			turn = i + 1
		}
		if turn < 0 {
			add("step %d: turn must be positive", i+1)
		}
		if seenTurns[turn] {
			add("step %d: turn %d already has a scripted message", i+1, turn)
		}
		seenTurns[turn] = true

		msg, err := s.Persona.Render(step.Message)
		if err != nil {
			add("step %d: %v", i+1, err)
			continue
		}
		// Whitespace is a legitimate probe; an empty payload is not.
		if msg == "" {
			add("step %d: message renders empty (send a literal space to probe blank input)", i+1)
		}
	}

	for i, np := range s.NegativePatterns {
		if _, err := CompilePattern(np.Pattern); err != nil {
			add("negative pattern %d: %v", i+1, err)
		}
		if np.Severity != "" && !np.Severity.Valid() {
			add("negative pattern %d: unknown severity %q", i+1, np.Severity)
		}
	}

	for tag, patterns := range s.Intents {
		for _, p := range patterns {
			if _, err := CompilePattern(p); err != nil {
				add("intent %q: %v", tag, err)
			}
		}
	}

	if s.Fallback != "" {
		if _, err := s.Persona.Render(s.Fallback); err != nil {
			add("fallback: %v", err)
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Scenario: s.ID, Problems: problems}
	}
	return nil
}

// CompilePattern compiles a scenario pattern. All patterns match case-insensitively.
func CompilePattern(p string) (*regexp.Regexp, error) {
	if strings.TrimSpace(p) == "" {
		return nil, fmt.Errorf("empty pattern")
	}
	re, err := regexp.Compile("(?i)" + p)
	if err != nil {
		return nil, fmt.Errorf("bad pattern %q: %w", p, err)
	}
	return re, nil
}
