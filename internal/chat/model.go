// Package chat holds the live-support domain: sessions, messages, agents,
// settings, plus the pieces both ends of the wire share (dedup window,
// typing expiry).
package chat

import (
	"errors"
	"time"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionClosed   = errors.New("session closed")
	ErrEmptyMessage    = errors.New("empty message")
	ErrAgentNotFound   = errors.New("agent not found")
)

// Sender identifies who authored a message.
type Sender string

const (
	SenderVisitor Sender = "visitor"
	SenderAdmin   Sender = "admin"
	SenderBot     Sender = "bot"
)

// Status is the triage axis of a session, orthogonal to whether the
// visitor currently has the widget open.
type Status string

const (
	StatusActive  Status = "active"
	StatusWaiting Status = "waiting"
	StatusClosed  Status = "closed"
)

// Message is immutable once persisted; Timestamp is assigned by the server
// exactly once, even though the sending side renders its own copy first.
type Message struct {
	ID         string    `json:"id"`
	ChatID     string    `json:"chatId"`
	Sender     Sender    `json:"sender"`
	SenderName string    `json:"senderName"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
	Read       bool      `json:"read"`
}

// Session is the server-resident record of one visitor's conversation,
// keyed by visitor id. At most one session is current per visitor.
type Session struct {
	ID           string    `json:"id"`
	VisitorID    string    `json:"visitorId"`
	VisitorName  string    `json:"visitorName,omitempty"`
	VisitorEmail string    `json:"visitorEmail,omitempty"`
	BrowserInfo  string    `json:"browserInfo,omitempty"`
	DeviceInfo   string    `json:"deviceInfo,omitempty"`
	IPAddress    string    `json:"ipAddress,omitempty"`
	Status       Status    `json:"status"`
	AgentName    string    `json:"agentName,omitempty"`
	AgentAvatar  string    `json:"agentAvatar,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// PreChatDone reports whether the server has recorded both pre-chat fields.
// This is the only authority for skipping the pre-chat form.
func (s *Session) PreChatDone() bool {
	return s.VisitorName != "" && s.VisitorEmail != ""
}

// Agent is a named support identity. Exactly one agent holds Active=true;
// Version guards the clear-all-then-set-one swap.
type Agent struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Avatar      string `json:"avatar"`
	AvatarColor string `json:"avatarColor"`
	Online      bool   `json:"isOnline"`
	Active      bool   `json:"isActive"`
	Version     uint64 `json:"version"`
}

// QuickReply is a canned console response template.
type QuickReply struct {
	Label string `json:"label"`
	Icon  string `json:"icon,omitempty"`
	Text  string `json:"text"`
	Order int    `json:"order"`
}

// Settings is the singleton chat configuration. Message templates may embed
// markup tokens; the coupon template typically carries a [link:...] token.
type Settings struct {
	WelcomeMessage   string       `json:"welcomeMessage"`
	AskNameMessage   string       `json:"askNameMessage"`
	AskEmailMessage  string       `json:"askEmailMessage"`
	CouponMessage    string       `json:"couponMessage"`
	OfflineMessage   string       `json:"offlineMessage"`
	CouponCode       string       `json:"couponCode"`
	AutoReplyEnabled bool         `json:"autoReplyEnabled"`
	Online           bool         `json:"isOnline"`
	QuickReplies     []QuickReply `json:"quickReplies,omitempty"`
}

// DefaultSettings seeds a fresh store.
func DefaultSettings() Settings {
	return Settings{
		WelcomeMessage:   "Hi there! How can we help you today?",
		AskNameMessage:   "Before we start, what should we call you?",
		AskEmailMessage:  "And an email we can reach you at?",
		CouponMessage:    "Here is a little thank-you: **10% off** with code",
		OfflineMessage:   "We are away right now, but leave a message and we will get back to you.",
		AutoReplyEnabled: true,
		Online:           true,
	}
}
