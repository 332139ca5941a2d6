// Package roster loads the locomotive roster: a YAML file mapping names to
// decoder addresses so cab users can say "drive shunter 14" instead of
// remembering addresses.
package roster

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Locomotive is one roster entry.
type Locomotive struct {
	Name     string `yaml:"name"`
	Address  uint8  `yaml:"address"`
	MaxSpeed uint8  `yaml:"max_speed,omitempty"` // 0 means no cap
	Notes    string `yaml:"notes,omitempty"`
}

// Roster holds the known locomotives, indexed by name.
type Roster struct {
	Locomotives []Locomotive `yaml:"locomotives"`

	byName map[string]*Locomotive
}

// Load reads a roster file.
func Load(path string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read roster: %w", err)
	}
	return Parse(data)
}

// Parse builds a roster from YAML data.
func Parse(data []byte) (*Roster, error) {
	r := &Roster{}
	if err := yaml.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("failed to parse roster: %w", err)
	}
	if err := r.validate(); err != nil {
		return nil, err
	}

	r.byName = make(map[string]*Locomotive, len(r.Locomotives))
	for i := range r.Locomotives {
		r.byName[r.Locomotives[i].Name] = &r.Locomotives[i]
	}
	return r, nil
}

func (r *Roster) validate() error {
	seen := make(map[string]bool, len(r.Locomotives))
	for _, loco := range r.Locomotives {
		if loco.Name == "" {
			return fmt.Errorf("roster entry with empty name")
		}
		if seen[loco.Name] {
			return fmt.Errorf("duplicate roster entry %q", loco.Name)
		}
		seen[loco.Name] = true
		if loco.Address < 1 || loco.Address > 127 {
			return fmt.Errorf("locomotive %q: address %d out of range 1-127", loco.Name, loco.Address)
		}
		if loco.MaxSpeed > 28 {
			return fmt.Errorf("locomotive %q: max_speed %d out of range 0-28", loco.Name, loco.MaxSpeed)
		}
	}
	return nil
}

// Lookup finds a locomotive by name.
func (r *Roster) Lookup(name string) (*Locomotive, bool) {
	loco, ok := r.byName[name]
	return loco, ok
}

// Names returns the roster names in sorted order.
func (r *Roster) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ClampSpeed applies the locomotive's speed cap, if any.
func (l *Locomotive) ClampSpeed(speed uint8) uint8 {
	if l.MaxSpeed > 0 && speed > l.MaxSpeed {
		return l.MaxSpeed
	}
	return speed
}
