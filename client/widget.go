package client

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gosuda/chatdesk/internal/chat"
	"github.com/gosuda/chatdesk/internal/gateway"
)

var (
	ErrPreChatRequired = errors.New("pre-chat form not completed")
	ErrChatClosed      = errors.New("conversation is closed")
	ErrEmptyText       = errors.New("empty message")
)

// ChatState is the conversational axis of the widget, separate from the
// session's triage status.
type ChatState string

const (
	ChatStateInitial ChatState = "initial"
	ChatStateActive  ChatState = "active_chat"
)

// Entry is one transcript row. Unconfirmed marks the optimistic local echo
// that has not been replaced by the server's authoritative copy yet.
type Entry struct {
	chat.Message
	Unconfirmed bool
}

// Widget is the visitor-side consumer of the chat channel: identity
// bootstrap, pre-chat gating, optimistic echo with dedup, and typing
// coordination.
type Widget struct {
	ids  *IdentityStore
	conn *Conn

	mu          sync.Mutex
	state       ChatState
	chatID      string
	status      chat.Status
	prechatDone bool
	agentName   string
	agentAvatar string
	transcript  []Entry
	dedup       *chat.Deduper
	lastError   string

	agentTyping *chat.TypingTracker
	typingStop  *time.Timer

	// OnChange fires after any state mutation so a UI can re-render.
	OnChange func()
}

// NewWidget wires a widget over its identity store and channel manager.
func NewWidget(ids *IdentityStore, wsURL string) *Widget {
	w := &Widget{
		ids:         ids,
		conn:        NewConn(wsURL),
		state:       ChatStateInitial,
		dedup:       chat.NewDeduper(0),
		agentTyping: chat.NewTypingTracker(chat.TypingExpiry, nil),
	}
	w.conn.OnConnect = w.announce
	w.conn.OnEvent = w.handleEvent
	return w
}

// Conn exposes the underlying channel manager (connectivity flag, state
// hook).
func (w *Widget) Conn() *Conn { return w.conn }

// Open establishes the channel; the identity announce runs on every
// successful (re)connect.
func (w *Widget) Open(ctx context.Context) error {
	if _, err := w.ids.EnsureID(); err != nil {
		return err
	}
	return w.conn.Open(ctx)
}

// Close shuts the channel down.
func (w *Widget) Close() { w.conn.Close() }

// announce sends visitor:connect with the persisted identity. Cached
// name/email ride along so the server can merge them, but pre-chat
// completion is decided only by the history the server answers.
func (w *Widget) announce() {
	id := w.ids.Current()
	_ = w.conn.Send(mustClientEvent(gateway.EvVisitorConnect, gateway.ConnectPayload{
		VisitorID:    id.ID,
		VisitorName:  id.Name,
		VisitorEmail: id.Email,
	}))
}

// Retry re-runs the connect handshake after a surfaced protocol error.
// Transport reconnection stays automatic; protocol retries are manual.
func (w *Widget) Retry() {
	w.mu.Lock()
	w.lastError = ""
	w.mu.Unlock()
	if w.conn.Connected() {
		w.announce()
	}
}

func (w *Widget) handleEvent(ev gateway.Event) {
	switch ev.Type {
	case gateway.EvChatHistory:
		p, ok := decodeClient[gateway.HistoryPayload](ev)
		if !ok {
			return
		}
		w.applyHistory(p)
	case gateway.EvChatNewMessage:
		p, ok := decodeClient[gateway.NewMessagePayload](ev)
		if !ok {
			return
		}
		w.applyMessage(p.Message)
	case gateway.EvChatAdminTyping:
		p, ok := decodeClient[gateway.AdminTypingPayload](ev)
		if !ok {
			return
		}
		name := p.AgentName
		if name == "" {
			name = "agent"
		}
		if p.IsTyping {
			w.agentTyping.Set(name)
		} else {
			w.agentTyping.Clear(name)
		}
		w.changed()
	case gateway.EvChatClosed:
		p, _ := decodeClient[gateway.ClosedPayload](ev)
		w.mu.Lock()
		w.status = chat.StatusClosed
		if p.Message != nil {
			w.transcript = append(w.transcript, Entry{Message: *p.Message})
			w.dedup.Observe(*p.Message)
		}
		w.mu.Unlock()
		w.changed()
	case gateway.EvChatDeleted:
		w.reset()
		w.changed()
	case gateway.EvChatError:
		p, _ := decodeClient[gateway.ErrorPayload](ev)
		w.mu.Lock()
		w.lastError = p.Message
		w.mu.Unlock()
		w.changed()
	}
}

// applyHistory installs the server's authoritative snapshot, replacing any
// optimistic local state.
func (w *Widget) applyHistory(p gateway.HistoryPayload) {
	w.mu.Lock()
	w.state = ChatStateActive
	w.chatID = p.ChatID
	w.status = p.Status
	w.agentName = p.AgentName
	w.agentAvatar = p.AgentAvatar
	w.prechatDone = p.VisitorName != "" && p.VisitorEmail != ""
	w.dedup.Reset()
	w.transcript = w.transcript[:0]
	for _, m := range p.Messages {
		w.dedup.Observe(m)
		w.transcript = append(w.transcript, Entry{Message: m})
	}
	w.lastError = ""
	w.mu.Unlock()
	w.changed()
}

// applyMessage appends an authoritative message, collapsing it with the
// matching optimistic echo when one is pending.
func (w *Widget) applyMessage(msg chat.Message) {
	w.mu.Lock()
	if w.dedup.Observe(msg) {
		// replace the provisional entry with the authoritative copy
		for i := range w.transcript {
			if w.transcript[i].Unconfirmed && chat.SameMessage(w.transcript[i].Message, msg) {
				w.transcript[i] = Entry{Message: msg}
				break
			}
		}
	} else {
		w.transcript = append(w.transcript, Entry{Message: msg})
	}
	if msg.Sender == chat.SenderAdmin || msg.Sender == chat.SenderBot {
		name := msg.SenderName
		if name == "" {
			name = "agent"
		}
		w.agentTyping.Clear(name)
	}
	w.mu.Unlock()
	w.changed()
}

// Send transmits a visitor message. It is rejected locally, without any
// network call, when the text is blank, the pre-chat gate is open, the
// session is closed, or the channel is down (drop, not queue).
func (w *Widget) Send(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	w.mu.Lock()
	if !w.prechatDone {
		w.mu.Unlock()
		return ErrPreChatRequired
	}
	if w.status == chat.StatusClosed {
		w.mu.Unlock()
		return ErrChatClosed
	}
	chatID := w.chatID
	w.mu.Unlock()
	if !w.conn.Connected() {
		return ErrNotConnected
	}

	id := w.ids.Current()
	echo := chat.Message{
		ID:         uuid.NewString(),
		ChatID:     chatID,
		Sender:     chat.SenderVisitor,
		SenderName: id.Name,
		Text:       text,
		Timestamp:  time.Now(),
	}
	w.mu.Lock()
	w.dedup.Observe(echo)
	w.transcript = append(w.transcript, Entry{Message: echo, Unconfirmed: true})
	w.mu.Unlock()

	w.stopTypingNow() // a send implies stop-typing
	err := w.conn.Send(mustClientEvent(gateway.EvVisitorMessage, gateway.SendPayload{
		VisitorID: id.ID,
		ChatID:    chatID,
		Text:      text,
	}))
	w.changed()
	return err
}

// SubmitPreChat stores the contact fields and re-announces so the server
// records them; the gate opens only when the next history echoes them
// back.
func (w *Widget) SubmitPreChat(name, email string) error {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	if name == "" || email == "" {
		return ErrPreChatRequired
	}
	if err := w.ids.SetContact(name, email); err != nil {
		return err
	}
	if !w.conn.Connected() {
		return ErrNotConnected
	}
	w.announce()
	return nil
}

// Typing announces a keystroke; a stop-typing auto-fires after the
// debounce unless another keystroke or a send intervenes.
func (w *Widget) Typing() {
	if !w.conn.Connected() {
		return
	}
	id := w.ids.Current()
	_ = w.conn.Send(mustClientEvent(gateway.EvVisitorTyping, gateway.TypingPayload{VisitorID: id.ID, ChatID: w.ChatID()}))
	w.mu.Lock()
	if w.typingStop != nil {
		w.typingStop.Stop()
	}
	w.typingStop = time.AfterFunc(chat.VisitorTypingDebounce, w.stopTypingNow)
	w.mu.Unlock()
}

func (w *Widget) stopTypingNow() {
	w.mu.Lock()
	if w.typingStop != nil {
		w.typingStop.Stop()
		w.typingStop = nil
	}
	w.mu.Unlock()
	if !w.conn.Connected() {
		return
	}
	id := w.ids.Current()
	_ = w.conn.Send(mustClientEvent(gateway.EvVisitorStopTyping, gateway.TypingPayload{VisitorID: id.ID, ChatID: w.ChatID()}))
}

// StartNewChat detaches from the old conversation: a fresh visitor id is
// issued, local state resets to initial, and the next announce creates an
// empty session.
func (w *Widget) StartNewChat() error {
	if _, err := w.ids.Rotate(); err != nil {
		return err
	}
	w.reset()
	if w.conn.Connected() {
		w.announce()
	}
	w.changed()
	return nil
}

func (w *Widget) reset() {
	w.mu.Lock()
	w.state = ChatStateInitial
	w.chatID = ""
	w.status = ""
	w.prechatDone = false
	w.agentName = ""
	w.agentAvatar = ""
	w.transcript = nil
	w.dedup.Reset()
	w.lastError = ""
	w.mu.Unlock()
}

func (w *Widget) changed() {
	if w.OnChange != nil {
		w.OnChange()
	}
}

// State reports the conversational axis.
func (w *Widget) State() ChatState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Status reports the triage axis.
func (w *Widget) Status() chat.Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// ChatID returns the server-assigned session id.
func (w *Widget) ChatID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.chatID
}

// PreChatDone reports the server-confirmed gate, never the local cache.
func (w *Widget) PreChatDone() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.prechatDone
}

// Agent returns the display identity stamped on the session.
func (w *Widget) Agent() (name, avatar string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.agentName, w.agentAvatar
}

// AgentTyping reports whether the agent's indicator is live; a lost stop
// event expires on the local clock.
func (w *Widget) AgentTyping() bool {
	return len(w.agentTyping.Active()) > 0
}

// LastError surfaces the most recent protocol error for the manual-retry
// affordance.
func (w *Widget) LastError() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastError
}

// Transcript returns a copy of the rendered conversation.
func (w *Widget) Transcript() []Entry {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Entry, len(w.transcript))
	copy(out, w.transcript)
	return out
}
