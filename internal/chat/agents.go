package chat

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// AgentStore is the slice of the document store the registry needs.
type AgentStore interface {
	PutAgent(Agent) error
	DeleteAgent(id string) error
	Agents() ([]Agent, error)
	SwapActiveAgent([]Agent) error
}

// Registry keeps the agent pool and guards the exactly-one-active
// invariant. The active flag is the only global mutable shared state in
// the system, so every change to it runs as a single read-modify-write
// under the registry lock and lands in one store batch.
type Registry struct {
	mu     sync.Mutex
	store  AgentStore
	agents map[string]Agent
}

// NewRegistry loads the agent pool from the store.
func NewRegistry(s AgentStore) (*Registry, error) {
	all, err := s.Agents()
	if err != nil {
		return nil, err
	}
	r := &Registry{store: s, agents: make(map[string]Agent, len(all))}
	for _, a := range all {
		r.agents[a.ID] = a
	}
	return r, nil
}

// List returns agents sorted by name.
func (r *Registry) List() []Agent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Create adds a new agent. The first agent ever created becomes active so
// visitors always have a default identity to talk to.
func (r *Registry) Create(name, avatar, avatarColor string) (Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := Agent{
		ID:          uuid.NewString(),
		Name:        name,
		Avatar:      avatar,
		AvatarColor: avatarColor,
		Online:      true,
		Active:      len(r.agents) == 0,
	}
	if err := r.store.PutAgent(a); err != nil {
		return Agent{}, err
	}
	r.agents[a.ID] = a
	return a, nil
}

// SetOnline flips an agent's availability flag.
func (r *Registry) SetOnline(id string, online bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	if !ok {
		return ErrAgentNotFound
	}
	a.Online = online
	if err := r.store.PutAgent(a); err != nil {
		return err
	}
	r.agents[id] = a
	return nil
}

// SetActive makes id the single active agent, clearing the flag on every
// other agent in the same operation. Versions bump on every touched record
// so a stale concurrent writer is detectable.
func (r *Registry) SetActive(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[id]; !ok {
		return ErrAgentNotFound
	}
	changed := make([]Agent, 0, len(r.agents))
	for _, a := range r.agents {
		switch {
		case a.ID == id && !a.Active:
			a.Active = true
			a.Version++
			changed = append(changed, a)
		case a.ID != id && a.Active:
			a.Active = false
			a.Version++
			changed = append(changed, a)
		}
	}
	if len(changed) == 0 {
		return nil // already the active one
	}
	if err := r.store.SwapActiveAgent(changed); err != nil {
		return err
	}
	for _, a := range changed {
		r.agents[a.ID] = a
	}
	return nil
}

// Delete removes an agent. Historical messages keep their stamped sender
// names; if the deleted agent was active the slot simply goes vacant until
// an admin picks a new one.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[id]; !ok {
		return ErrAgentNotFound
	}
	if err := r.store.DeleteAgent(id); err != nil {
		return err
	}
	delete(r.agents, id)
	return nil
}

// Active returns the current active agent, if any.
func (r *Registry) Active() (Agent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.agents {
		if a.Active {
			return a, true
		}
	}
	return Agent{}, false
}
