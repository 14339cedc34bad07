package client_test

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/chatdesk/client"
	"github.com/gosuda/chatdesk/internal/chat"
	"github.com/gosuda/chatdesk/internal/gateway"
	"github.com/gosuda/chatdesk/internal/store"
)

const consoleToken = "console-secret"

const (
	waitFor = 3 * time.Second
	tick    = 20 * time.Millisecond
)

type chatServer struct {
	srv *httptest.Server
	svc *chat.Service
	reg *chat.Registry
}

func newChatServer(t *testing.T) *chatServer {
	t.Helper()
	st, err := store.OpenMemory()
	require.NoError(t, err)
	reg, err := chat.NewRegistry(st)
	require.NoError(t, err)
	gw := gateway.New(reg, gateway.TokenVerifier{Token: consoleToken})
	svc := chat.NewService(st, reg, gw, nil)
	gw.BindService(svc)

	r := chi.NewRouter()
	gw.Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		svc.Shutdown()
		_ = st.Close()
	})
	return &chatServer{srv: srv, svc: svc, reg: reg}
}

func newWidget(t *testing.T, cs *chatServer) *client.Widget {
	t.Helper()
	ids, err := client.NewIdentityStore(filepath.Join(t.TempDir(), "identity.json"))
	require.NoError(t, err)
	w := client.NewWidget(ids, wsURL(cs.srv)+"/ws/visitor")
	t.Cleanup(w.Close)
	require.NoError(t, w.Open(context.Background()))
	require.Eventually(t, func() bool { return w.State() == client.ChatStateActive }, waitFor, tick)
	return w
}

func completePreChat(t *testing.T, w *client.Widget) {
	t.Helper()
	require.NoError(t, w.SubmitPreChat("Dana", "dana@example.com"))
	require.Eventually(t, w.PreChatDone, waitFor, tick)
}

func TestWidgetBootstrap(t *testing.T) {
	cs := newChatServer(t)
	_, err := cs.reg.Create("Sarah", "S", "")
	require.NoError(t, err)

	w := newWidget(t, cs)
	assert.NotEmpty(t, w.ChatID())
	assert.Equal(t, chat.StatusActive, w.Status())
	assert.False(t, w.PreChatDone())
	name, _ := w.Agent()
	assert.Equal(t, "Sarah", name)

	entries := w.Transcript()
	require.Len(t, entries, 1)
	assert.Equal(t, chat.SenderBot, entries[0].Sender)
}

func TestWidgetSendGatedByPreChat(t *testing.T) {
	cs := newChatServer(t)
	w := newWidget(t, cs)

	assert.ErrorIs(t, w.Send("hello"), client.ErrPreChatRequired)
	assert.ErrorIs(t, w.Send("   "), client.ErrEmptyText)

	completePreChat(t, w)
	assert.NoError(t, w.Send("hello"))
}

func TestWidgetPreChatValidation(t *testing.T) {
	cs := newChatServer(t)
	w := newWidget(t, cs)
	assert.ErrorIs(t, w.SubmitPreChat("", "dana@example.com"), client.ErrPreChatRequired)
	assert.ErrorIs(t, w.SubmitPreChat("Dana", "  "), client.ErrPreChatRequired)
}

func TestWidgetOptimisticEchoCollapses(t *testing.T) {
	cs := newChatServer(t)
	w := newWidget(t, cs)
	completePreChat(t, w)

	base := len(w.Transcript())
	require.NoError(t, w.Send("only once"))

	// the echo shows immediately
	entries := w.Transcript()
	require.Len(t, entries, base+1)
	assert.True(t, entries[base].Unconfirmed)

	// the authoritative copy replaces it rather than duplicating
	require.Eventually(t, func() bool {
		entries := w.Transcript()
		return len(entries) == base+1 && !entries[base].Unconfirmed
	}, waitFor, tick)
	entries = w.Transcript()
	assert.Equal(t, "only once", entries[base].Text)
	assert.False(t, entries[base].Timestamp.IsZero())
}

func TestWidgetReconnectResumesTranscript(t *testing.T) {
	cs := newChatServer(t)
	ids, err := client.NewIdentityStore(filepath.Join(t.TempDir(), "identity.json"))
	require.NoError(t, err)

	w := client.NewWidget(ids, wsURL(cs.srv)+"/ws/visitor")
	require.NoError(t, w.Open(context.Background()))
	require.Eventually(t, func() bool { return w.State() == client.ChatStateActive }, waitFor, tick)
	completePreChat(t, w)
	require.NoError(t, w.Send("before the drop"))
	firstChat := w.ChatID()
	w.Close()

	// a new widget over the same identity resumes the same session
	w2 := client.NewWidget(ids, wsURL(cs.srv)+"/ws/visitor")
	t.Cleanup(w2.Close)
	require.NoError(t, w2.Open(context.Background()))
	require.Eventually(t, func() bool { return w2.ChatID() == firstChat }, waitFor, tick)
	assert.True(t, w2.PreChatDone(), "server history reopens the gate state")

	entries := w2.Transcript()
	found := 0
	for _, e := range entries {
		if e.Text == "before the drop" {
			found++
			assert.False(t, e.Unconfirmed)
		}
	}
	assert.Equal(t, 1, found, "history replay must not duplicate the message")
}

func TestWidgetSendWhileDisconnectedDrops(t *testing.T) {
	cs := newChatServer(t)
	w := newWidget(t, cs)
	completePreChat(t, w)

	w.Close()
	base := len(w.Transcript())
	assert.ErrorIs(t, w.Send("lost"), client.ErrNotConnected)
	assert.Len(t, w.Transcript(), base, "dropped sends leave no transcript entry")
}

func TestWidgetClosedChatBlocksSends(t *testing.T) {
	cs := newChatServer(t)
	w := newWidget(t, cs)
	completePreChat(t, w)

	require.NoError(t, cs.svc.Close(widgetVisitorID(t, cs)))
	require.Eventually(t, func() bool { return w.Status() == chat.StatusClosed }, waitFor, tick)
	assert.ErrorIs(t, w.Send("anyone?"), client.ErrChatClosed)

	// the closing note landed in the transcript
	entries := w.Transcript()
	require.NotEmpty(t, entries)
	assert.Equal(t, chat.SenderBot, entries[len(entries)-1].Sender)
}

// widgetVisitorID finds the only session's visitor id on the server.
func widgetVisitorID(t *testing.T, cs *chatServer) string {
	t.Helper()
	rows, err := cs.svc.Overview()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	return rows[0].Session.VisitorID
}

func TestWidgetStartNewChat(t *testing.T) {
	cs := newChatServer(t)
	w := newWidget(t, cs)
	completePreChat(t, w)
	require.NoError(t, w.Send("old conversation"))
	oldChat := w.ChatID()

	require.NoError(t, w.StartNewChat())
	require.Eventually(t, func() bool {
		return w.ChatID() != "" && w.ChatID() != oldChat
	}, waitFor, tick)

	assert.False(t, w.PreChatDone(), "a new chat re-opens the pre-chat gate")
	for _, e := range w.Transcript() {
		assert.NotEqual(t, "old conversation", e.Text, "old transcript must not leak")
	}

	// the same connection keeps working under the rotated identity
	completePreChat(t, w)
	require.NoError(t, w.Send("fresh start"))
	require.Eventually(t, func() bool {
		entries := w.Transcript()
		return len(entries) > 0 && entries[len(entries)-1].Text == "fresh start" && !entries[len(entries)-1].Unconfirmed
	}, waitFor, tick)
}

func TestWidgetAgentTypingIndicator(t *testing.T) {
	cs := newChatServer(t)
	w := newWidget(t, cs)
	completePreChat(t, w)

	console := client.NewConsole(wsURL(cs.srv)+"/ws/admin", consoleToken, "console-1")
	t.Cleanup(console.Close)
	require.NoError(t, console.Open(context.Background()))
	require.Eventually(t, console.Joined, waitFor, tick)

	visitorID := widgetVisitorID(t, cs)
	console.SetAgentName("Sarah")
	console.Typing(visitorID)
	require.Eventually(t, w.AgentTyping, waitFor, tick)

	// an agent reply clears the indicator
	require.NoError(t, console.Reply(w.ChatID(), visitorID, "right here"))
	require.Eventually(t, func() bool { return !w.AgentTyping() }, waitFor, tick)

	entries := w.Transcript()
	last := entries[len(entries)-1]
	assert.Equal(t, chat.SenderAdmin, last.Sender)
	assert.Equal(t, "Sarah", last.SenderName)
}
