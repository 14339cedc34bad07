package chat

import "time"

// DedupWindow is how far apart two timestamps may sit while still counting
// as the same optimistic-echo/authoritative-echo pair.
const DedupWindow = 2000 * time.Millisecond

// SameMessage reports whether two messages collapse into one under the
// dedup rule: same sender, same text, timestamps within the window. The
// comparison is symmetric, so reordered delivery dedupes identically.
func SameMessage(a, b Message) bool {
	if a.Sender != b.Sender || a.Text != b.Text {
		return false
	}
	d := a.Timestamp.Sub(b.Timestamp)
	if d < 0 {
		d = -d
	}
	return d <= DedupWindow
}

// Deduper remembers recently observed messages so every receiver renders
// exactly one copy of each message despite the sender's local echo.
type Deduper struct {
	recent []Message
	limit  int
}

// NewDeduper keeps at most limit recent messages (64 when limit <= 0).
func NewDeduper(limit int) *Deduper {
	if limit <= 0 {
		limit = 64
	}
	return &Deduper{limit: limit}
}

// Observe records msg and reports whether it duplicated an earlier one.
// Duplicates are not re-recorded, so a stream of echoes still collapses to
// the first observation.
func (d *Deduper) Observe(msg Message) bool {
	for _, prev := range d.recent {
		if SameMessage(prev, msg) {
			return true
		}
	}
	d.recent = append(d.recent, msg)
	if len(d.recent) > d.limit {
		d.recent = d.recent[len(d.recent)-d.limit:]
	}
	return false
}

// Reset drops all remembered messages (used on start-new-chat).
func (d *Deduper) Reset() {
	d.recent = nil
}
