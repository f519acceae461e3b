package store

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"yuzu/meeting/internal/types"
)

var (
	ErrDuplicateID = errors.New("duplicate id in catalog")
	ErrInvalid     = errors.New("invalid catalog entry")
)

// Catalog is the read-only scenario and persona lookup. Writes happen
// outside this service; Reload swaps in a fresh copy of the file.
type Catalog struct {
	mu        sync.RWMutex
	scenarios map[string]types.Scenario
	order     []string
	personas  []types.Persona
	byID      map[string]int
}

type catalogFile struct {
	Scenarios []types.Scenario `yaml:"scenarios"`
	Personas  []types.Persona  `yaml:"personas"`
}

// Load reads a YAML catalog from disk.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return New(f.Scenarios, f.Personas)
}

func New(scenarios []types.Scenario, personas []types.Persona) (*Catalog, error) {
	c := &Catalog{}
	if err := c.set(scenarios, personas); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload replaces the catalog contents from path. On error the previous
// contents stay in place.
func (c *Catalog) Reload(path string) error {
	next, err := Load(path)
	if err != nil {
		return err
	}
	next.mu.RLock()
	defer next.mu.RUnlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scenarios, c.order, c.personas, c.byID = next.scenarios, next.order, next.personas, next.byID
	return nil
}

func (c *Catalog) set(scenarios []types.Scenario, personas []types.Persona) error {
	sc := make(map[string]types.Scenario, len(scenarios))
	order := make([]string, 0, len(scenarios))
	for _, s := range scenarios {
		if strings.TrimSpace(s.ID) == "" {
			return fmt.Errorf("%w: scenario without id", ErrInvalid)
		}
		if s.MaxTurns < 0 {
			return fmt.Errorf("%w: scenario %q has negative max_turns", ErrInvalid, s.ID)
		}
		if _, dup := sc[s.ID]; dup {
			return fmt.Errorf("%w: scenario %q", ErrDuplicateID, s.ID)
		}
		sc[s.ID] = s
		order = append(order, s.ID)
	}
	byID := make(map[string]int, len(personas))
	for i, p := range personas {
		if strings.TrimSpace(p.ID) == "" {
			return fmt.Errorf("%w: persona without id", ErrInvalid)
		}
		if _, dup := byID[p.ID]; dup {
			return fmt.Errorf("%w: persona %q", ErrDuplicateID, p.ID)
		}
		byID[p.ID] = i
	}
	c.mu.Lock()
	c.scenarios, c.order, c.personas, c.byID = sc, order, append([]types.Persona(nil), personas...), byID
	c.mu.Unlock()
	return nil
}

func (c *Catalog) Scenario(id string) (types.Scenario, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.scenarios[id]
	return s, ok
}

// Scenarios lists scenarios in file order.
func (c *Catalog) Scenarios() []types.Scenario {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]types.Scenario, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.scenarios[id])
	}
	return out
}

func (c *Catalog) Persona(id string) (types.Persona, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.byID[id]
	if !ok {
		return types.Persona{}, false
	}
	return c.personas[i], true
}

// PersonaForRole returns the first persona playing role, compared
// case-insensitively.
func (c *Catalog) PersonaForRole(role types.Role) (types.Persona, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.personas {
		if strings.EqualFold(string(p.Role), string(role)) {
			return p, true
		}
	}
	return types.Persona{}, false
}

func (c *Catalog) Personas() []types.Persona {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]types.Persona(nil), c.personas...)
}
