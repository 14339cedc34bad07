package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	at time.Time
}

func (c *fakeClock) now() time.Time { return c.at }

func (c *fakeClock) advance(d time.Duration) { c.at = c.at.Add(d) }

func TestTypingSetAndClear(t *testing.T) {
	clk := &fakeClock{at: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	tr := NewTypingTracker(TypingExpiry, clk.now)

	tr.Set("visitor-1")
	assert.True(t, tr.IsTyping("visitor-1"))
	assert.False(t, tr.IsTyping("visitor-2"))

	tr.Clear("visitor-1")
	assert.False(t, tr.IsTyping("visitor-1"))
}

func TestTypingExpiresWithoutStopEvent(t *testing.T) {
	clk := &fakeClock{at: time.Now()}
	tr := NewTypingTracker(TypingExpiry, clk.now)

	tr.Set("visitor-1")
	clk.advance(TypingExpiry)
	assert.True(t, tr.IsTyping("visitor-1"))

	clk.advance(time.Millisecond)
	assert.False(t, tr.IsTyping("visitor-1"), "indicator must self-clear after expiry")
}

func TestTypingLastWriteWins(t *testing.T) {
	clk := &fakeClock{at: time.Now()}
	tr := NewTypingTracker(TypingExpiry, clk.now)

	tr.Set("visitor-1")
	clk.advance(4 * time.Second)
	tr.Set("visitor-1")
	clk.advance(4 * time.Second)
	assert.True(t, tr.IsTyping("visitor-1"), "re-arming extends the indicator")
}

func TestTypingActivePrunes(t *testing.T) {
	clk := &fakeClock{at: time.Now()}
	tr := NewTypingTracker(TypingExpiry, clk.now)

	tr.Set("stale")
	clk.advance(TypingExpiry + time.Second)
	tr.Set("fresh")

	active := tr.Active()
	assert.Equal(t, []string{"fresh"}, active)
	assert.False(t, tr.IsTyping("stale"))
}

func TestTypingDefaults(t *testing.T) {
	tr := NewTypingTracker(0, nil)
	tr.Set("x")
	assert.True(t, tr.IsTyping("x"))
}
