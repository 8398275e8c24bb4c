// Package mockagent serves a scripted stand-in for the booking agent.
//
// It speaks the same prediction protocol as the real endpoint, so the
// runner can be exercised end to end without a live agent. Replies come
// from a YAML script: rules keyed on the user's message are checked first,
// then each session walks through the ordered reply list, then the default.
package mockagent

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed scripts/*.yaml
var builtinScripts embed.FS

// Script drives the mock agent.
type Script struct {
	Name string `yaml:"name"`
	// Replies are consumed in order, independently for each session
	Replies []Reply `yaml:"replies,omitempty"`
	// Rules answer messages matching a pattern before the ordered replies are consulted
	Rules []Rule `yaml:"rules,omitempty"`
	// Default answers once a session has used up its replies
	Default *Reply `yaml:"default,omitempty"`
}

// Reply is one canned answer.
type Reply struct {
	Text  string `yaml:"text"`
	Tools []Tool `yaml:"tools,omitempty"`
	// Status other than 0 or 200 answers with an error body instead of Text
	Status int           `yaml:"status,omitempty"`
	Delay  time.Duration `yaml:"delay,omitempty"`
}

// Rule answers messages matching Match.
type Rule struct {
	// Match is a case-insensitive regular expression over the user message
	Match string `yaml:"match"`
	// Times limits how often the rule fires per session; zero means always
	Times int   `yaml:"times,omitempty"`
	Reply Reply `yaml:",inline"`
}

// Tool is a tool invocation reported with a reply.
type Tool struct {
	Name   string                 `yaml:"name"`
	Input  map[string]interface{} `yaml:"input,omitempty"`
	Output interface{}            `yaml:"output,omitempty"`
}

type compiledRule struct {
	Rule
	re *regexp.Regexp
}

// LoadScript reads a script file.
func LoadScript(file string) (Script, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return Script{}, fmt.Errorf("failed to read mock agent script %s: %w", file, err)
	}
	return ParseScript(data)
}

// BuiltinScript returns the embedded script with the given name. Builtin
// scripts are named after the scenarios they answer.
func BuiltinScript(name string) (Script, error) {
	data, err := builtinScripts.ReadFile(path.Join("scripts", name+".yaml"))
	if err != nil {
		return Script{}, fmt.Errorf("no builtin mock agent script %q (have: %s)", name, strings.Join(BuiltinScripts(), ", "))
	}
	return ParseScript(data)
}

// BuiltinScripts lists the embedded script names.
func BuiltinScripts() []string {
	entries, _ := builtinScripts.ReadDir("scripts")
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(names)
	return names
}

// ParseScript decodes a YAML script. Unknown fields are rejected.
func ParseScript(data []byte) (Script, error) {
	var s Script
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return Script{}, fmt.Errorf("failed to parse mock agent script: %w", err)
	}
	return s, nil
}

func compileRules(rules []Rule) ([]compiledRule, error) {
	out := make([]compiledRule, 0, len(rules))
	for i, r := range rules {
		re, err := regexp.Compile("(?i)" + r.Match)
		if err != nil {
			return nil, fmt.Errorf("rule %d: bad match pattern %q: %w", i+1, r.Match, err)
		}
		out = append(out, compiledRule{Rule: r, re: re})
	}
	return out, nil
}
