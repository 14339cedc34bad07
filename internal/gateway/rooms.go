package gateway

import "sync"

// Rooms keeps the explicit subscription sets: one room per visitor id and
// the admin broadcast room. Fan-out and routing work against these sets,
// never against transport-level grouping, so they are testable without a
// live socket.
type Rooms struct {
	mu       sync.RWMutex
	visitors map[string]map[*Client]struct{}
	admins   map[*Client]struct{}
}

func NewRooms() *Rooms {
	return &Rooms{
		visitors: make(map[string]map[*Client]struct{}),
		admins:   make(map[*Client]struct{}),
	}
}

// JoinVisitor subscribes c to the visitor room. Multiple tabs of the same
// visitor share one room and converge through client-side dedup.
func (r *Rooms) JoinVisitor(visitorID string, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.visitors[visitorID]
	if !ok {
		set = make(map[*Client]struct{})
		r.visitors[visitorID] = set
	}
	set[c] = struct{}{}
}

// JoinAdmin subscribes c to the admin broadcast room.
func (r *Rooms) JoinAdmin(c *Client) {
	r.mu.Lock()
	r.admins[c] = struct{}{}
	r.mu.Unlock()
}

// Leave removes c from whatever room it sits in.
func (r *Rooms) Leave(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.admins, c)
	if c.visitorID == "" {
		return
	}
	if set, ok := r.visitors[c.visitorID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(r.visitors, c.visitorID)
		}
	}
}

// ToVisitor delivers ev to every connection in one visitor's room.
func (r *Rooms) ToVisitor(visitorID string, ev Event) {
	r.mu.RLock()
	targets := make([]*Client, 0, 2)
	for c := range r.visitors[visitorID] {
		targets = append(targets, c)
	}
	r.mu.RUnlock()
	for _, c := range targets {
		c.push(ev)
	}
}

// ToAdmins fans ev out to every connected console, at-least-once per
// console; consoles collapse duplicates client-side.
func (r *Rooms) ToAdmins(ev Event) {
	r.mu.RLock()
	targets := make([]*Client, 0, len(r.admins))
	for c := range r.admins {
		targets = append(targets, c)
	}
	r.mu.RUnlock()
	for _, c := range targets {
		c.push(ev)
	}
}

// OnlineVisitors counts visitors with at least one live connection.
func (r *Rooms) OnlineVisitors() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.visitors)
}
