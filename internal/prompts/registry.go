package prompts

import (
	"fmt"
	"sort"
	"sync"
)

// PersonaRegistry manages personas by id. Reads and writes may happen
// concurrently; a config reload replaces entries in place.
type PersonaRegistry struct {
	mu       sync.RWMutex
	personas map[string]*Persona
}

// NewPersonaRegistry creates an empty registry.
func NewPersonaRegistry() *PersonaRegistry {
	return &PersonaRegistry{
		personas: make(map[string]*Persona),
	}
}

// Register adds or replaces a persona.
func (r *PersonaRegistry) Register(p *Persona) {
	if p == nil || p.ID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.personas[p.ID] = p
}

// Get retrieves a persona by id.
func (r *PersonaRegistry) Get(id string) (*Persona, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.personas[id]
	if !ok {
		return nil, fmt.Errorf("persona not found: %s", id)
	}
	return p, nil
}

// Content returns the persona text for id, or "" when id is empty or unknown.
func (r *PersonaRegistry) Content(id string) string {
	if id == "" {
		return ""
	}
	p, err := r.Get(id)
	if err != nil {
		return ""
	}
	return p.Content
}

// List returns all personas sorted by id.
func (r *PersonaRegistry) List() []*Persona {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Persona, 0, len(r.personas))
	for _, p := range r.personas {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LoadMap registers every id → content pair, e.g. from the config file.
func (r *PersonaRegistry) LoadMap(personas map[string]string) {
	for id, content := range personas {
		r.Register(&Persona{ID: id, Name: id, Content: content})
	}
}
