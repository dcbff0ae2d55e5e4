// Package script loads the fixed step sequences played by the stream engines.
package script

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/youmna-rabie/aegis/internal/types"
)

// Names of the scripts the dashboard wires by default.
const (
	Drone        = "drone"
	Verification = "verification"
	Activity     = "activity"
	Debate       = "debate"
)

//go:embed scripts.yaml
var builtin []byte

var ErrUnknownScript = errors.New("unknown script")

// Catalog maps script names to their steps. It is immutable after loading.
type Catalog struct {
	scripts map[string][]types.ScriptStep
}

// Default returns the built-in catalog.
func Default() (*Catalog, error) {
	return Parse(builtin)
}

// Load reads a catalog from path. An empty path yields the built-in catalog.
// Scripts missing from the file fall back to their built-in definition.
func Load(path string) (*Catalog, error) {
	base, err := Default()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return base, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scripts: %w", err)
	}
	override, err := Parse(data)
	if err != nil {
		return nil, err
	}
	for name, steps := range override.scripts {
		base.scripts[name] = steps
	}
	return base, nil
}

// Parse decodes a YAML document mapping script names to step lists.
func Parse(data []byte) (*Catalog, error) {
	var raw map[string][]types.ScriptStep
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing scripts: %w", err)
	}
	if raw == nil {
		raw = make(map[string][]types.ScriptStep)
	}
	c := &Catalog{scripts: raw}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) validate() error {
	for name, steps := range c.scripts {
		if name == "" {
			return fmt.Errorf("script name must not be empty")
		}
		for i, s := range steps {
			if s.Text == "" {
				return fmt.Errorf("script %q step %d: text is required", name, i)
			}
			if s.ETAMinutes != nil && *s.ETAMinutes < 0 {
				return fmt.Errorf("script %q step %d: eta must not be negative", name, i)
			}
		}
	}
	return nil
}

// Get returns a copy of the named script.
func (c *Catalog) Get(name string) ([]types.ScriptStep, error) {
	steps, ok := c.scripts[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownScript, name)
	}
	return append([]types.ScriptStep(nil), steps...), nil
}

// Names returns the script names in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.scripts))
	for name := range c.scripts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
