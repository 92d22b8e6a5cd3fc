// Package registry is the agent directory: the configured specialists,
// looked up by name and listed in configuration order.
package registry

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/mtzanidakis/vibe/internal/agent"
	"github.com/mtzanidakis/vibe/internal/config"
	"github.com/mtzanidakis/vibe/internal/store"
)

var ErrAgentNotFound = errors.New("agent not found")

type Registry struct {
	store *store.Store

	mu     sync.RWMutex
	agents []agent.Agent
}

// New builds a registry from config definitions. The store is optional;
// without it the registry is purely in-memory.
func New(s *store.Store, defs []config.AgentDefinition) *Registry {
	r := &Registry{store: s}
	r.set(defs)
	return r
}

func (r *Registry) set(defs []config.AgentDefinition) {
	agents := make([]agent.Agent, 0, len(defs))
	for _, def := range defs {
		agents = append(agents, agent.Agent{
			Name:         def.Name,
			Description:  def.Description,
			Tools:        slices.Clone(def.Tools),
			Instructions: def.Instructions,
		})
	}
	r.mu.Lock()
	r.agents = agents
	r.mu.Unlock()
}

// Sync persists the current agents and removes stale rows.
func (r *Registry) Sync() error {
	if r.store == nil {
		return nil
	}
	agents := r.ListAgents()
	names := make([]string, 0, len(agents))
	for i, a := range agents {
		names = append(names, a.Name)
		if err := r.store.SaveAgent(&store.Agent{
			Name:         a.Name,
			Description:  a.Description,
			Tools:        a.Tools,
			Instructions: a.Instructions,
			Position:     i,
		}); err != nil {
			return fmt.Errorf("save agent %s: %w", a.Name, err)
		}
	}
	if err := r.store.DeleteAgentsNotIn(names); err != nil {
		return err
	}
	return nil
}

// Reload replaces the agent set, typically after a config change.
func (r *Registry) Reload(defs []config.AgentDefinition) error {
	r.set(defs)
	return r.Sync()
}

// GetAgentByName resolves an exact name first, then a case-insensitive
// match.
func (r *Registry) GetAgentByName(name string) (*agent.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := range r.agents {
		if r.agents[i].Name == name {
			a := r.agents[i]
			return &a, nil
		}
	}
	for i := range r.agents {
		if strings.EqualFold(r.agents[i].Name, name) {
			a := r.agents[i]
			return &a, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, name)
}

// ListAgents returns a copy of the agents in configuration order.
func (r *Registry) ListAgents() []agent.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.agents)
}
