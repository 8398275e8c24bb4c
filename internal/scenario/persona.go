package scenario

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"text/template"
)

// Persona is the synthetic caller. Its facts are the ground truth for every
// scripted and adaptive message.
type Persona struct {
	// Name is the display name of the caller
	Name string `yaml:"name" json:"name"`
	// Facts are free-form fact-name to value pairs (parent_name, phone, ...)
	Facts map[string]string `yaml:"facts,omitempty" json:"facts,omitempty"`
	// Children the caller is booking for
	Children []Child `yaml:"children,omitempty" json:"children,omitempty"`
}

// Child is one patient the caller is booking for.
type Child struct {
	FirstName         string `yaml:"first_name" json:"first_name"`
	LastName          string `yaml:"last_name,omitempty" json:"last_name,omitempty"`
	Birthdate         string `yaml:"birthdate,omitempty" json:"birthdate,omitempty"`
	IsNewPatient      bool   `yaml:"is_new_patient" json:"is_new_patient"`
	HadPriorTreatment bool   `yaml:"had_prior_treatment" json:"had_prior_treatment"`
}

// Clone returns a deep copy.
func (p Persona) Clone() Persona {
	c := p
	if p.Facts != nil {
		c.Facts = make(map[string]string, len(p.Facts))
		for k, v := range p.Facts {
			c.Facts[k] = v
		}
	}
	c.Children = append([]Child(nil), p.Children...)
	return c
}

// FactMap flattens the persona into template data. Derived facts are
// computed first so explicit facts always win.
func (p Persona) FactMap() map[string]interface{} {
	facts := make(map[string]interface{})

	parent := p.Facts["parent_name"]
	if parent == "" {
		parent = p.Name
	}
	if parent != "" {
		facts["parent_name"] = parent
	}
	if parts := strings.Fields(parent); len(parts) > 0 {
		facts["parent_first_name"] = parts[0]
		if len(parts) > 1 {
			facts["parent_last_name"] = parts[len(parts)-1]
		}
	}

	facts["child_count"] = strconv.Itoa(len(p.Children))
	children := make([]map[string]interface{}, 0, len(p.Children))
	names := make([]string, 0, len(p.Children))
	for _, c := range p.Children {
		children = append(children, map[string]interface{}{
			"first_name":          c.FirstName,
			"last_name":           c.LastName,
			"birthdate":           c.Birthdate,
			"is_new_patient":      yesNo(c.IsNewPatient),
			"had_prior_treatment": yesNo(c.HadPriorTreatment),
		})
		names = append(names, c.FirstName)
	}
	facts["children"] = children
	if len(names) > 0 {
		facts["child_names"] = joinNames(names)
		first := p.Children[0]
		facts["child_first_name"] = first.FirstName
		if first.LastName != "" {
			facts["child_last_name"] = first.LastName
		}
		if first.Birthdate != "" {
			facts["child_birthdate"] = first.Birthdate
		}
		facts["child_is_new_patient"] = yesNo(first.IsNewPatient)
		facts["child_had_treatment"] = yesNo(first.HadPriorTreatment)
	}

	for k, v := range p.Facts {
		facts[k] = v
	}
	return facts
}

// Fact returns a single flattened fact as a string.
func (p Persona) Fact(name string) (string, bool) {
	v, ok := p.FactMap()[name]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

var templateFuncs = template.FuncMap{
	"spell": spell,
	"lower": strings.ToLower,
	"upper": strings.ToUpper,
}

// Render executes a message template against the persona facts. A
// reference to an unknown fact is an error.
func (p Persona) Render(text string) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}
	tmpl, err := template.New("message").Funcs(templateFuncs).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse message template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, p.FactMap()); err != nil {
		return "", fmt.Errorf("render message template: %w", err)
	}
	return buf.String(), nil
}

// spell turns "Johnson" into "J-O-H-N-S-O-N"; words stay space separated.
func spell(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		letters := make([]string, 0, len(w))
		for _, r := range strings.ToUpper(w) {
			letters = append(letters, string(r))
		}
		words[i] = strings.Join(letters, "-")
	}
	return strings.Join(words, " ")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func joinNames(names []string) string {
	switch len(names) {
	case 1:
		return names[0]
	case 2:
		return names[0] + " and " + names[1]
	default:
		return strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1]
	}
}
