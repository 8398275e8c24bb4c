package evaluator

import (
	"fmt"
	"regexp"
	"strings"

	"convoprobe/internal/model"
	"convoprobe/internal/scenario"
)

// Match is the evidence a predicate found in a turn.
type Match struct {
	// Evidence is the matched text or a description of the side effect
	Evidence string
	// Specificity ranks competing matches; longer matched text is more specific
	Specificity int
}

// Predicate tests a single turn. Implementations must be deterministic.
type Predicate interface {
	Evaluate(turn model.Turn) (Match, bool)
	String() string
}

// PatternSet is satisfied when any of its case-insensitive alternatives
// matches the agent's reply.
type PatternSet struct {
	patterns []*regexp.Regexp
}

// NewPatternSet compiles the alternatives.
func NewPatternSet(alternatives []string) (*PatternSet, error) {
	ps := &PatternSet{}
	for _, p := range alternatives {
		re, err := scenario.CompilePattern(p)
		if err != nil {
			return nil, err
		}
		ps.patterns = append(ps.patterns, re)
	}
	return ps, nil
}

// Evaluate returns the longest match among the alternatives.
func (p *PatternSet) Evaluate(turn model.Turn) (Match, bool) {
	var best Match
	found := false
	for _, re := range p.patterns {
		loc := re.FindStringIndex(turn.Reply)
		if loc == nil {
			continue
		}
		text := turn.Reply[loc[0]:loc[1]]
		if !found || len(text) > best.Specificity {
			best = Match{Evidence: text, Specificity: len(text)}
			found = true
		}
	}
	return best, found
}

func (p *PatternSet) String() string {
	parts := make([]string, len(p.patterns))
	for i, re := range p.patterns {
		parts[i] = strings.TrimPrefix(re.String(), "(?i)")
	}
	return "pattern(" + strings.Join(parts, " | ") + ")"
}

// IntentTag is satisfied when the registry detects the named intent in the reply.
type IntentTag struct {
	tag      string
	registry *IntentRegistry
}

// NewIntentTag binds a tag to a registry. Unknown tags are an error.
func NewIntentTag(tag string, registry *IntentRegistry) (*IntentTag, error) {
	if !registry.Has(tag) {
		return nil, fmt.Errorf("unknown intent %q", tag)
	}
	return &IntentTag{tag: tag, registry: registry}, nil
}

func (i *IntentTag) Evaluate(turn model.Turn) (Match, bool) {
	text, ok := i.registry.Detect(i.tag, turn.Reply)
	if !ok {
		return Match{}, false
	}
	return Match{Evidence: text, Specificity: len(text)}, true
}

func (i *IntentTag) String() string {
	return "intent(" + i.tag + ")"
}

// ToolInvoked is satisfied when the agent reported calling one of the tools.
type ToolInvoked struct {
	names []string
}

// NewToolInvoked matches tool names case-insensitively.
func NewToolInvoked(names []string) *ToolInvoked {
	return &ToolInvoked{names: names}
}

func (t *ToolInvoked) Evaluate(turn model.Turn) (Match, bool) {
	for _, call := range turn.ToolCalls {
		for _, name := range t.names {
			if strings.EqualFold(call.Name, name) {
				evidence := "tool " + call.Name + " invoked"
				return Match{Evidence: evidence, Specificity: len(call.Name)}, true
			}
		}
	}
	return Match{}, false
}

func (t *ToolInvoked) String() string {
	return "tool(" + strings.Join(t.names, " | ") + ")"
}
