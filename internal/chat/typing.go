package chat

import (
	"sync"
	"time"
)

// Typing indicator lifetimes. The announcing side re-arms on every
// keystroke and auto-stops after its debounce; the observing side expires
// a stale indicator on its own clock so a lost stop event never wedges the
// "is typing" bubble.
const (
	VisitorTypingDebounce = 2000 * time.Millisecond
	AdminTypingDebounce   = 1500 * time.Millisecond
	TypingExpiry          = 5000 * time.Millisecond
)

// TypingTracker holds expiring typing indicators keyed by the typer's
// display identity. Entries are timestamp+TTL records checked on every
// observation rather than timer callbacks, so behavior is deterministic
// under a fake clock.
type TypingTracker struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	seen map[string]time.Time
}

// NewTypingTracker builds a tracker with the given TTL. now may be nil for
// the wall clock.
func NewTypingTracker(ttl time.Duration, now func() time.Time) *TypingTracker {
	if ttl <= 0 {
		ttl = TypingExpiry
	}
	if now == nil {
		now = time.Now
	}
	return &TypingTracker{ttl: ttl, now: now, seen: make(map[string]time.Time)}
}

// Set records that who is typing; last write wins.
func (t *TypingTracker) Set(who string) {
	t.mu.Lock()
	t.seen[who] = t.now()
	t.mu.Unlock()
}

// Clear removes who's indicator (explicit stop-typing or message send).
func (t *TypingTracker) Clear(who string) {
	t.mu.Lock()
	delete(t.seen, who)
	t.mu.Unlock()
}

// Active returns the identities whose indicator has not expired yet,
// pruning stale entries as a side effect.
func (t *TypingTracker) Active() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-t.ttl)
	var out []string
	for who, at := range t.seen {
		if at.Before(cutoff) {
			delete(t.seen, who)
			continue
		}
		out = append(out, who)
	}
	return out
}

// IsTyping reports whether who has a live indicator.
func (t *TypingTracker) IsTyping(who string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	at, ok := t.seen[who]
	if !ok {
		return false
	}
	if at.Before(t.now().Add(-t.ttl)) {
		delete(t.seen, who)
		return false
	}
	return true
}
