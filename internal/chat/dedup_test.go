package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func msgAt(sender Sender, text string, ts time.Time) Message {
	return Message{Sender: sender, Text: text, Timestamp: ts}
}

func TestSameMessageWithinWindow(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	a := msgAt(SenderVisitor, "Hello", base)
	b := msgAt(SenderVisitor, "Hello", base.Add(1500*time.Millisecond))
	assert.True(t, SameMessage(a, b))
	assert.True(t, SameMessage(b, a), "window must be symmetric")
}

func TestSameMessageBoundary(t *testing.T) {
	base := time.Now()
	a := msgAt(SenderAdmin, "hi", base)
	assert.True(t, SameMessage(a, msgAt(SenderAdmin, "hi", base.Add(DedupWindow))))
	assert.False(t, SameMessage(a, msgAt(SenderAdmin, "hi", base.Add(DedupWindow+time.Millisecond))))
}

func TestSameMessageDifferentSenderOrText(t *testing.T) {
	base := time.Now()
	a := msgAt(SenderVisitor, "Hello", base)
	assert.False(t, SameMessage(a, msgAt(SenderAdmin, "Hello", base)))
	assert.False(t, SameMessage(a, msgAt(SenderVisitor, "Hello!", base)))
}

func TestDeduperCollapsesEcho(t *testing.T) {
	d := NewDeduper(0)
	base := time.Now()
	echo := msgAt(SenderVisitor, "Hello", base)
	authoritative := msgAt(SenderVisitor, "Hello", base.Add(300*time.Millisecond))

	assert.False(t, d.Observe(echo))
	assert.True(t, d.Observe(authoritative))
}

func TestDeduperReorderedDelivery(t *testing.T) {
	// The authoritative copy may arrive with an earlier timestamp than the
	// local echo; dedup must still collapse them.
	d := NewDeduper(0)
	base := time.Now()
	assert.False(t, d.Observe(msgAt(SenderVisitor, "Hello", base.Add(900*time.Millisecond))))
	assert.True(t, d.Observe(msgAt(SenderVisitor, "Hello", base)))
}

func TestDeduperDistinctMessagesPass(t *testing.T) {
	d := NewDeduper(0)
	base := time.Now()
	assert.False(t, d.Observe(msgAt(SenderVisitor, "one", base)))
	assert.False(t, d.Observe(msgAt(SenderVisitor, "two", base)))
	assert.False(t, d.Observe(msgAt(SenderVisitor, "one", base.Add(5*time.Second))))
}

func TestDeduperBoundedMemory(t *testing.T) {
	d := NewDeduper(2)
	base := time.Now()
	d.Observe(msgAt(SenderVisitor, "a", base))
	d.Observe(msgAt(SenderVisitor, "b", base))
	d.Observe(msgAt(SenderVisitor, "c", base))
	// "a" was evicted, so a near echo of it is no longer recognized
	assert.False(t, d.Observe(msgAt(SenderVisitor, "a", base.Add(time.Millisecond))))
}

func TestDeduperReset(t *testing.T) {
	d := NewDeduper(0)
	base := time.Now()
	d.Observe(msgAt(SenderVisitor, "hello", base))
	d.Reset()
	assert.False(t, d.Observe(msgAt(SenderVisitor, "hello", base)))
}
