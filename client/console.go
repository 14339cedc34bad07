package client

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gosuda/chatdesk/internal/chat"
	"github.com/gosuda/chatdesk/internal/gateway"
)

// Console is the agent-side consumer: it joins the admin broadcast room,
// tracks the live session feed, and routes replies back to visitors. One
// console may override the active agent's display name per reply.
type Console struct {
	conn       *Conn
	credential string
	adminID    string

	mu        sync.Mutex
	joined    bool
	agents    []chat.Agent
	settings  chat.Settings
	feed      []chat.Summary
	online    int
	open      string // visitorID of the currently opened chat
	history   map[string][]Entry
	dedups    map[string]*chat.Deduper
	agentName string
	lastError string

	visitorTyping *chat.TypingTracker
	typingStop    *time.Timer
	typingTarget  string

	OnChange func()
}

// NewConsole prepares a console client for wsURL with the given admin
// credential.
func NewConsole(wsURL, credential, adminID string) *Console {
	c := &Console{
		conn:          NewConn(wsURL),
		credential:    credential,
		adminID:       adminID,
		history:       make(map[string][]Entry),
		dedups:        make(map[string]*chat.Deduper),
		visitorTyping: chat.NewTypingTracker(chat.TypingExpiry, nil),
	}
	c.conn.OnConnect = c.join
	c.conn.OnEvent = c.handleEvent
	return c
}

// Conn exposes the underlying channel manager.
func (c *Console) Conn() *Conn { return c.conn }

// Open establishes the channel; the join handshake re-runs on every
// reconnect.
func (c *Console) Open(ctx context.Context) error {
	return c.conn.Open(ctx)
}

// Close shuts the channel down.
func (c *Console) Close() { c.conn.Close() }

func (c *Console) join() {
	_ = c.conn.Send(mustClientEvent(gateway.EvAdminJoin, gateway.JoinPayload{
		Credential: c.credential,
		AdminID:    c.adminID,
	}))
}

func (c *Console) handleEvent(ev gateway.Event) {
	switch ev.Type {
	case gateway.EvAdminJoined:
		p, ok := decodeClient[gateway.JoinedPayload](ev)
		if !ok {
			return
		}
		c.mu.Lock()
		c.joined = true
		c.agents = p.Agents
		c.settings = p.Settings
		if c.agentName == "" {
			for _, a := range p.Agents {
				if a.Active {
					c.agentName = a.Name
					break
				}
			}
		}
		c.mu.Unlock()
		c.changed()
	case gateway.EvAdminFeed:
		p, ok := decodeClient[gateway.FeedPayload](ev)
		if !ok {
			return
		}
		c.mu.Lock()
		c.feed = p.Sessions
		c.mu.Unlock()
		c.changed()
	case gateway.EvAdminStats:
		p, ok := decodeClient[gateway.StatsPayload](ev)
		if !ok {
			return
		}
		c.mu.Lock()
		c.online = p.OnlineVisitors
		c.mu.Unlock()
		c.changed()
	case gateway.EvChatHistory:
		p, ok := decodeClient[gateway.HistoryPayload](ev)
		if !ok {
			return
		}
		c.mu.Lock()
		d := chat.NewDeduper(0)
		entries := make([]Entry, 0, len(p.Messages))
		for _, m := range p.Messages {
			d.Observe(m)
			entries = append(entries, Entry{Message: m})
		}
		c.history[p.VisitorID] = entries
		c.dedups[p.VisitorID] = d
		c.mu.Unlock()
		c.changed()
	case gateway.EvChatNewMessage:
		p, ok := decodeClient[gateway.NewMessagePayload](ev)
		if !ok {
			return
		}
		c.applyMessage(p.VisitorID, p.Message)
	case gateway.EvAdminVisitorTyping:
		p, ok := decodeClient[gateway.VisitorTypingPayload](ev)
		if !ok {
			return
		}
		if p.IsTyping {
			c.visitorTyping.Set(p.VisitorID)
		} else {
			c.visitorTyping.Clear(p.VisitorID)
		}
		c.changed()
	case gateway.EvChatError:
		p, _ := decodeClient[gateway.ErrorPayload](ev)
		c.mu.Lock()
		c.lastError = p.Message
		c.mu.Unlock()
		c.changed()
	}
}

func (c *Console) applyMessage(visitorID string, msg chat.Message) {
	c.mu.Lock()
	d, ok := c.dedups[visitorID]
	if !ok {
		d = chat.NewDeduper(0)
		c.dedups[visitorID] = d
	}
	if d.Observe(msg) {
		entries := c.history[visitorID]
		for i := range entries {
			if entries[i].Unconfirmed && chat.SameMessage(entries[i].Message, msg) {
				entries[i] = Entry{Message: msg}
				break
			}
		}
	} else {
		c.history[visitorID] = append(c.history[visitorID], Entry{Message: msg})
	}
	if msg.Sender == chat.SenderVisitor {
		c.visitorTyping.Clear(visitorID) // a message implies stop-typing
	}
	c.mu.Unlock()
	c.changed()
}

// OpenChat requests the full history for one session and marks its visitor
// messages read.
func (c *Console) OpenChat(chatID, visitorID string) error {
	c.mu.Lock()
	c.open = visitorID
	c.mu.Unlock()
	return c.conn.Send(mustClientEvent(gateway.EvAdminOpenChat, gateway.OpenChatPayload{
		ChatID:    chatID,
		VisitorID: visitorID,
	}))
}

// SetAgentName overrides the display name stamped on this console's
// replies; the default is the active agent.
func (c *Console) SetAgentName(name string) {
	c.mu.Lock()
	c.agentName = name
	c.mu.Unlock()
}

// Reply routes an agent message to one visitor. Rejected locally when the
// text is blank or the channel is down.
func (c *Console) Reply(chatID, visitorID, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	if !c.conn.Connected() {
		return ErrNotConnected
	}
	c.mu.Lock()
	name := c.agentName
	echo := chat.Message{
		ID:         uuid.NewString(),
		ChatID:     chatID,
		Sender:     chat.SenderAdmin,
		SenderName: name,
		Text:       text,
		Timestamp:  time.Now(),
	}
	d, ok := c.dedups[visitorID]
	if !ok {
		d = chat.NewDeduper(0)
		c.dedups[visitorID] = d
	}
	d.Observe(echo)
	c.history[visitorID] = append(c.history[visitorID], Entry{Message: echo, Unconfirmed: true})
	c.mu.Unlock()

	c.stopTypingNow()
	err := c.conn.Send(mustClientEvent(gateway.EvAdminReply, gateway.ReplyPayload{
		ChatID:    chatID,
		VisitorID: visitorID,
		Text:      text,
		AgentName: name,
	}))
	c.changed()
	return err
}

// Typing announces a keystroke toward visitorID; stop auto-fires after the
// admin-side debounce.
func (c *Console) Typing(visitorID string) {
	if !c.conn.Connected() {
		return
	}
	c.mu.Lock()
	name := c.agentName
	c.typingTarget = visitorID
	if c.typingStop != nil {
		c.typingStop.Stop()
	}
	c.typingStop = time.AfterFunc(chat.AdminTypingDebounce, c.stopTypingNow)
	c.mu.Unlock()
	_ = c.conn.Send(mustClientEvent(gateway.EvAdminTyping, gateway.ReplyPayload{
		VisitorID: visitorID,
		AgentName: name,
	}))
}

func (c *Console) stopTypingNow() {
	c.mu.Lock()
	target := c.typingTarget
	name := c.agentName
	if c.typingStop != nil {
		c.typingStop.Stop()
		c.typingStop = nil
	}
	c.mu.Unlock()
	if target == "" || !c.conn.Connected() {
		return
	}
	_ = c.conn.Send(mustClientEvent(gateway.EvAdminStopTyping, gateway.ReplyPayload{
		VisitorID: target,
		AgentName: name,
	}))
}

// CloseChat asks the server to end a conversation.
func (c *Console) CloseChat(visitorID string) error {
	return c.conn.Send(mustClientEvent(gateway.EvAdminClose, gateway.SessionRefPayload{VisitorID: visitorID}))
}

// DeleteChat asks the server to purge a conversation.
func (c *Console) DeleteChat(visitorID string) error {
	return c.conn.Send(mustClientEvent(gateway.EvAdminDelete, gateway.SessionRefPayload{VisitorID: visitorID}))
}

// VisitorTyping reports whether visitorID's indicator is live; lost stop
// events expire on the local clock.
func (c *Console) VisitorTyping(visitorID string) bool {
	return c.visitorTyping.IsTyping(visitorID)
}

// Feed returns the latest session list.
func (c *Console) Feed() []chat.Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]chat.Summary, len(c.feed))
	copy(out, c.feed)
	return out
}

// Agents returns the agent pool as of join.
func (c *Console) Agents() []chat.Agent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]chat.Agent, len(c.agents))
	copy(out, c.agents)
	return out
}

// Settings returns the chat settings delivered on join (quick replies,
// coupon template).
func (c *Console) Settings() chat.Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// OnlineVisitors reports the last presence count.
func (c *Console) OnlineVisitors() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

// Joined reports whether the join handshake succeeded.
func (c *Console) Joined() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joined
}

// History returns a copy of the transcript for visitorID.
func (c *Console) History(visitorID string) []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := c.history[visitorID]
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}

// LastError surfaces the most recent protocol error.
func (c *Console) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

func (c *Console) changed() {
	if c.OnChange != nil {
		c.OnChange()
	}
}
