package chat_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/chatdesk/internal/chat"
	"github.com/gosuda/chatdesk/internal/store"
)

// recorder captures the fan-out side effects in order.
type recorder struct {
	mu       sync.Mutex
	messages []chat.Message
	updates  []chat.Session
	closed   []chat.Message
	deleted  []chat.Session
}

func (r *recorder) MessageAppended(_ chat.Session, msg chat.Message) {
	r.mu.Lock()
	r.messages = append(r.messages, msg)
	r.mu.Unlock()
}

func (r *recorder) SessionUpdated(sess chat.Session) {
	r.mu.Lock()
	r.updates = append(r.updates, sess)
	r.mu.Unlock()
}

func (r *recorder) SessionClosed(_ chat.Session, note chat.Message) {
	r.mu.Lock()
	r.closed = append(r.closed, note)
	r.mu.Unlock()
}

func (r *recorder) SessionDeleted(sess chat.Session) {
	r.mu.Lock()
	r.deleted = append(r.deleted, sess)
	r.mu.Unlock()
}

func (r *recorder) lastMessage() (chat.Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.messages) == 0 {
		return chat.Message{}, false
	}
	return r.messages[len(r.messages)-1], true
}

type serviceFixture struct {
	svc  *chat.Service
	st   *store.Store
	reg  *chat.Registry
	cast *recorder
	clk  *fakeServiceClock
}

type fakeServiceClock struct {
	mu sync.Mutex
	at time.Time
}

func (c *fakeServiceClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.at = c.at.Add(time.Millisecond)
	return c.at
}

func newService(t *testing.T) *serviceFixture {
	t.Helper()
	st, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	reg, err := chat.NewRegistry(st)
	require.NoError(t, err)
	cast := &recorder{}
	clk := &fakeServiceClock{at: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	svc := chat.NewService(st, reg, cast, clk.now)
	t.Cleanup(svc.Shutdown)
	return &serviceFixture{svc: svc, st: st, reg: reg, cast: cast, clk: clk}
}

func TestConnectCreatesSession(t *testing.T) {
	f := newService(t)
	agent, err := f.reg.Create("Sarah", "S", "")
	require.NoError(t, err)

	hist, err := f.svc.Connect(chat.ConnectRequest{VisitorID: "v1", BrowserInfo: "Firefox"})
	require.NoError(t, err)
	assert.NotEmpty(t, hist.Session.ID)
	assert.Equal(t, "v1", hist.Session.VisitorID)
	assert.Equal(t, chat.StatusActive, hist.Session.Status)
	assert.Equal(t, agent.Name, hist.Session.AgentName)
	assert.False(t, hist.Session.PreChatDone())
}

func TestConnectResumesSameSession(t *testing.T) {
	f := newService(t)

	first, err := f.svc.Connect(chat.ConnectRequest{VisitorID: "v1"})
	require.NoError(t, err)
	second, err := f.svc.Connect(chat.ConnectRequest{VisitorID: "v1"})
	require.NoError(t, err)
	assert.Equal(t, first.Session.ID, second.Session.ID, "same visitor id resumes the same chat")

	other, err := f.svc.Connect(chat.ConnectRequest{VisitorID: "v2"})
	require.NoError(t, err)
	assert.NotEqual(t, first.Session.ID, other.Session.ID)
}

func TestConnectMergesPreChat(t *testing.T) {
	f := newService(t)

	hist, err := f.svc.Connect(chat.ConnectRequest{VisitorID: "v1"})
	require.NoError(t, err)
	require.False(t, hist.Session.PreChatDone())

	hist, err = f.svc.Connect(chat.ConnectRequest{
		VisitorID:    "v1",
		VisitorName:  "Dana",
		VisitorEmail: "dana@example.com",
	})
	require.NoError(t, err)
	assert.True(t, hist.Session.PreChatDone())

	// a later bare reconnect must not erase the recorded contact fields
	hist, err = f.svc.Connect(chat.ConnectRequest{VisitorID: "v1"})
	require.NoError(t, err)
	assert.Equal(t, "Dana", hist.Session.VisitorName)
	assert.Equal(t, "dana@example.com", hist.Session.VisitorEmail)
}

func TestConnectWelcomeAutoReply(t *testing.T) {
	f := newService(t)

	hist, err := f.svc.Connect(chat.ConnectRequest{VisitorID: "v1"})
	require.NoError(t, err)
	require.Len(t, hist.Messages, 1)
	assert.Equal(t, chat.SenderBot, hist.Messages[0].Sender)
	assert.Equal(t, chat.DefaultSettings().WelcomeMessage, hist.Messages[0].Text)

	// resuming must not re-greet
	hist, err = f.svc.Connect(chat.ConnectRequest{VisitorID: "v1"})
	require.NoError(t, err)
	assert.Len(t, hist.Messages, 1)
}

func TestConnectOfflineAutoReply(t *testing.T) {
	f := newService(t)
	cfg := chat.DefaultSettings()
	cfg.Online = false
	require.NoError(t, f.st.PutSettings(cfg))

	hist, err := f.svc.Connect(chat.ConnectRequest{VisitorID: "v1"})
	require.NoError(t, err)
	require.Len(t, hist.Messages, 1)
	assert.Equal(t, cfg.OfflineMessage, hist.Messages[0].Text)
}

func TestVisitorMessageFlipsToWaiting(t *testing.T) {
	f := newService(t)
	_, err := f.svc.Connect(chat.ConnectRequest{VisitorID: "v1", VisitorName: "Dana"})
	require.NoError(t, err)

	msg, err := f.svc.AppendFromVisitor("v1", "anyone there?")
	require.NoError(t, err)
	assert.Equal(t, "Dana", msg.SenderName)
	assert.False(t, msg.Timestamp.IsZero())

	hist, err := f.svc.History("v1")
	require.NoError(t, err)
	assert.Equal(t, chat.StatusWaiting, hist.Session.Status)

	got, ok := f.cast.lastMessage()
	require.True(t, ok)
	assert.Equal(t, msg.ID, got.ID)
}

func TestAdminReplyFlipsToActive(t *testing.T) {
	f := newService(t)
	_, err := f.svc.Connect(chat.ConnectRequest{VisitorID: "v1"})
	require.NoError(t, err)
	_, err = f.svc.AppendFromVisitor("v1", "hello")
	require.NoError(t, err)

	msg, err := f.svc.AppendFromAdmin("v1", "Sarah", "hi, how can I help?")
	require.NoError(t, err)
	assert.Equal(t, chat.SenderAdmin, msg.Sender)
	assert.Equal(t, "Sarah", msg.SenderName)

	hist, err := f.svc.History("v1")
	require.NoError(t, err)
	assert.Equal(t, chat.StatusActive, hist.Session.Status)
}

func TestAppendValidation(t *testing.T) {
	f := newService(t)
	_, err := f.svc.AppendFromVisitor("v1", "   ")
	assert.ErrorIs(t, err, chat.ErrEmptyMessage)

	_, err = f.svc.AppendFromVisitor("ghost", "hello")
	assert.ErrorIs(t, err, chat.ErrSessionNotFound)
}

func TestHistoryOrderIsServerOrder(t *testing.T) {
	f := newService(t)
	_, err := f.svc.Connect(chat.ConnectRequest{VisitorID: "v1"})
	require.NoError(t, err)

	for _, text := range []string{"one", "two", "three"} {
		_, err := f.svc.AppendFromVisitor("v1", text)
		require.NoError(t, err)
	}
	hist, err := f.svc.History("v1")
	require.NoError(t, err)
	require.Len(t, hist.Messages, 4) // welcome + three
	assert.Equal(t, "one", hist.Messages[1].Text)
	assert.Equal(t, "two", hist.Messages[2].Text)
	assert.Equal(t, "three", hist.Messages[3].Text)
}

func TestCloseAppendsNoteAndBlocksSends(t *testing.T) {
	f := newService(t)
	_, err := f.svc.Connect(chat.ConnectRequest{VisitorID: "v1"})
	require.NoError(t, err)

	require.NoError(t, f.svc.Close("v1"))
	require.Len(t, f.cast.closed, 1)
	assert.Equal(t, chat.SenderBot, f.cast.closed[0].Sender)

	_, err = f.svc.AppendFromVisitor("v1", "hello?")
	assert.ErrorIs(t, err, chat.ErrSessionClosed)
	_, err = f.svc.AppendFromAdmin("v1", "Sarah", "hello?")
	assert.ErrorIs(t, err, chat.ErrSessionClosed)

	// closing twice is a no-op
	require.NoError(t, f.svc.Close("v1"))
	assert.Len(t, f.cast.closed, 1)
}

func TestDeletePurgesEverything(t *testing.T) {
	f := newService(t)
	hist, err := f.svc.Connect(chat.ConnectRequest{VisitorID: "v1"})
	require.NoError(t, err)
	_, err = f.svc.AppendFromVisitor("v1", "hello")
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete("v1"))
	require.Len(t, f.cast.deleted, 1)

	_, err = f.svc.History("v1")
	assert.ErrorIs(t, err, chat.ErrSessionNotFound)

	// a fresh connect starts a brand new chat with no leaked history
	fresh, err := f.svc.Connect(chat.ConnectRequest{VisitorID: "v1"})
	require.NoError(t, err)
	assert.NotEqual(t, hist.Session.ID, fresh.Session.ID)
	assert.Len(t, fresh.Messages, 1) // welcome only
}

func TestMarkReadAndOverview(t *testing.T) {
	f := newService(t)
	_, err := f.svc.Connect(chat.ConnectRequest{VisitorID: "v1", VisitorName: "Dana"})
	require.NoError(t, err)
	_, err = f.svc.AppendFromVisitor("v1", "first")
	require.NoError(t, err)
	_, err = f.svc.AppendFromVisitor("v1", "second")
	require.NoError(t, err)

	_, err = f.svc.Connect(chat.ConnectRequest{VisitorID: "v2"})
	require.NoError(t, err)

	rows, err := f.svc.Overview()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	// most recently updated first
	assert.Equal(t, "v2", rows[0].Session.VisitorID)
	assert.Equal(t, "v1", rows[1].Session.VisitorID)
	assert.Equal(t, 2, rows[1].Unread)
	require.NotNil(t, rows[1].LastMessage)
	assert.Equal(t, "second", rows[1].LastMessage.Text)

	require.NoError(t, f.svc.MarkRead("v1"))
	rows, err = f.svc.Overview()
	require.NoError(t, err)
	assert.Equal(t, 0, rows[1].Unread)
}

func TestConnectRacingDelete(t *testing.T) {
	f := newService(t)
	for i := 0; i < 50; i++ {
		_, err := f.svc.Connect(chat.ConnectRequest{VisitorID: "v1"})
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = f.svc.Delete("v1")
		}()
		var hist chat.History
		var connectErr error
		go func() {
			defer wg.Done()
			hist, connectErr = f.svc.Connect(chat.ConnectRequest{VisitorID: "v1"})
		}()
		wg.Wait()

		// a connect never answers an empty snapshot without an error
		if connectErr == nil {
			assert.NotEmpty(t, hist.Session.ID)
		}
		_ = f.svc.Delete("v1")
	}
}

func TestConcurrentConnectsOneSession(t *testing.T) {
	f := newService(t)
	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			hist, err := f.svc.Connect(chat.ConnectRequest{VisitorID: "v1"})
			if assert.NoError(t, err) {
				ids[i] = hist.Session.ID
			}
		}(i)
	}
	wg.Wait()
	for _, id := range ids[1:] {
		assert.Equal(t, ids[0], id)
	}
}
