package scenario

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed builtin/*.yaml
var builtinFS embed.FS

// ErrNotFound is returned when a catalog has no scenario with the requested id.
var ErrNotFound = errors.New("scenario not found")

// Catalog is the read-only source of scenarios keyed by id.
type Catalog interface {
	// Get returns a private copy of the scenario
	Get(id string) (*Scenario, error)
	// List returns all scenarios sorted by id
	List() []*Scenario
}

type catalog struct {
	byID map[string]*Scenario
	ids  []string
}

// NewCatalog indexes scenarios by id. Duplicate ids are rejected.
func NewCatalog(scenarios []*Scenario) (Catalog, error) {
	c := &catalog{byID: make(map[string]*Scenario, len(scenarios))}
	for _, s := range scenarios {
		if existing, ok := c.byID[s.ID]; ok {
			return nil, fmt.Errorf("duplicate scenario id %q in %s and %s", s.ID, existing.Source, s.Source)
		}
		c.byID[s.ID] = s
		c.ids = append(c.ids, s.ID)
	}
	sort.Strings(c.ids)
	return c, nil
}

func (c *catalog) Get(id string) (*Scenario, error) {
	s, ok := c.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.Clone(), nil
}

func (c *catalog) List() []*Scenario {
	out := make([]*Scenario, 0, len(c.ids))
	for _, id := range c.ids {
		out = append(out, c.byID[id].Clone())
	}
	return out
}

// LoadCatalog loads scenarios from a directory, or the built-in set when dir is empty.
func LoadCatalog(dir string) (Catalog, error) {
	var (
		scenarios []*Scenario
		err       error
	)
	if dir == "" {
		scenarios, err = LoadBuiltin()
	} else {
		scenarios, err = LoadScenarios(dir)
	}
	if err != nil {
		return nil, err
	}
	return NewCatalog(scenarios)
}

// LoadBuiltin returns the scenarios compiled into the binary.
func LoadBuiltin() ([]*Scenario, error) {
	return loadFS(builtinFS, "builtin")
}

// LoadScenarios loads scenarios from a YAML file or a directory of YAML files.
func LoadScenarios(configPath string) ([]*Scenario, error) {
	info, err := os.Stat(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to access scenario path %s: %w", configPath, err)
	}
	if !info.IsDir() {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read scenario file %s: %w", configPath, err)
		}
		return decodeScenarios(data, configPath)
	}
	return loadFS(os.DirFS(configPath), ".")
}

func loadFS(fsys fs.FS, root string) ([]*Scenario, error) {
	var scenarios []*Scenario
	err := fs.WalkDir(fsys, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(path.Ext(p))
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return fmt.Errorf("failed to read scenario file %s: %w", p, err)
		}
		loaded, err := decodeScenarios(data, p)
		if err != nil {
			return err
		}
		scenarios = append(scenarios, loaded...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return scenarios, nil
}

// decodeScenarios reads every YAML document in data.
func decodeScenarios(data []byte, source string) ([]*Scenario, error) {
	var out []*Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	for {
		var s Scenario
		err := dec.Decode(&s)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse scenario file %s: %w", source, err)
		}
		if s.ID == "" && len(s.Goals) == 0 {
			continue
		}
		s.Source = source
		out = append(out, &s)
	}
	return out, nil
}

// FilterScenarios keeps scenarios carrying every requested tag. An empty
// tag list keeps everything.
func FilterScenarios(scenarios []*Scenario, tags []string) []*Scenario {
	if len(tags) == 0 {
		return scenarios
	}
	var out []*Scenario
	for _, s := range scenarios {
		have := make(map[string]bool, len(s.Tags))
		for _, t := range s.Tags {
			have[t] = true
		}
		ok := true
		for _, t := range tags {
			if !have[t] {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, s)
		}
	}
	return out
}
