// Package gateway terminates the duplex websocket channels for visitor
// widgets and admin consoles, keeps the room subscription sets, and maps
// wire events onto the chat service.
package gateway

import (
	"encoding/json"

	"github.com/gosuda/chatdesk/internal/chat"
)

// Event is the wire envelope in both directions: a type discriminator and
// a typed JSON payload.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Event types. Payload keys are part of the protocol contract.
const (
	// visitor -> server
	EvVisitorConnect    = "visitor:connect"
	EvVisitorMessage    = "visitor:message"
	EvVisitorTyping     = "visitor:typing"
	EvVisitorStopTyping = "visitor:stop_typing"

	// server -> visitor
	EvChatHistory     = "chat:history"
	EvChatNewMessage  = "chat:new_message" // also fanned out to admins
	EvChatAdminTyping = "chat:admin_typing"
	EvChatClosed      = "chat:closed"
	EvChatDeleted     = "chat:deleted"
	EvChatError       = "chat:error" // either direction of consumer

	// admin -> server
	EvAdminJoin       = "admin:join"
	EvAdminOpenChat   = "admin:open_chat"
	EvAdminReply      = "admin:reply"
	EvAdminTyping     = "admin:typing"
	EvAdminStopTyping = "admin:stop_typing"
	EvAdminClose      = "admin:close"
	EvAdminDelete     = "admin:delete"

	// server -> admin
	EvAdminJoined        = "admin:joined"
	EvAdminFeed          = "admin:feed"
	EvAdminStats         = "admin:stats"
	EvAdminVisitorTyping = "admin:visitor_typing"
)

// ConnectPayload announces a visitor identity after every (re)connect.
type ConnectPayload struct {
	VisitorID    string `json:"visitorId"`
	VisitorName  string `json:"visitorName,omitempty"`
	VisitorEmail string `json:"visitorEmail,omitempty"`
	BrowserInfo  string `json:"browserInfo,omitempty"`
	DeviceInfo   string `json:"deviceInfo,omitempty"`
}

// HistoryPayload is the authoritative state sync after a connect or an
// admin open_chat. The consumer must trust these visitor fields over any
// locally cached copy.
type HistoryPayload struct {
	ChatID       string         `json:"chatId"`
	Messages     []chat.Message `json:"messages"`
	ChatState    string         `json:"chatState"`
	Status       chat.Status    `json:"status"`
	AgentName    string         `json:"agentName,omitempty"`
	AgentAvatar  string         `json:"agentAvatar,omitempty"`
	VisitorID    string         `json:"visitorId"`
	VisitorName  string         `json:"visitorName,omitempty"`
	VisitorEmail string         `json:"visitorEmail,omitempty"`
}

// SendPayload carries an outbound visitor message.
type SendPayload struct {
	VisitorID string `json:"visitorId"`
	ChatID    string `json:"chatId"`
	Text      string `json:"text"`
}

// NewMessagePayload fans a persisted message out to every observer.
type NewMessagePayload struct {
	ChatID    string       `json:"chatId"`
	VisitorID string       `json:"visitorId"`
	Message   chat.Message `json:"message"`
}

// TypingPayload is the visitor-side ephemeral signal.
type TypingPayload struct {
	VisitorID string `json:"visitorId"`
	ChatID    string `json:"chatId,omitempty"`
}

// AdminTypingPayload tells a visitor whether the agent is typing.
type AdminTypingPayload struct {
	IsTyping  bool   `json:"isTyping"`
	AgentName string `json:"agentName,omitempty"`
}

// VisitorTypingPayload tells consoles whether a visitor is typing.
type VisitorTypingPayload struct {
	VisitorID string `json:"visitorId"`
	IsTyping  bool   `json:"isTyping"`
}

// ClosedPayload delivers the system note appended when an agent ends the
// conversation.
type ClosedPayload struct {
	Message *chat.Message `json:"message,omitempty"`
}

// ErrorPayload surfaces a protocol error; the consumer offers a manual
// retry, never an automatic loop.
type ErrorPayload struct {
	Message string `json:"message"`
}

// JoinPayload authenticates an admin console.
type JoinPayload struct {
	Credential string `json:"credential"`
	AdminID    string `json:"adminId"`
}

// JoinedPayload answers a successful join with everything the console
// needs to render: the agent pool and the chat settings (quick replies,
// coupon template).
type JoinedPayload struct {
	Agents   []chat.Agent  `json:"agents"`
	Settings chat.Settings `json:"settings"`
}

// OpenChatPayload requests full history for one session and marks the
// visitor's messages read.
type OpenChatPayload struct {
	ChatID    string `json:"chatId"`
	VisitorID string `json:"visitorId"`
}

// ReplyPayload routes an agent reply to one visitor.
type ReplyPayload struct {
	ChatID    string `json:"chatId"`
	VisitorID string `json:"visitorId"`
	Text      string `json:"text"`
	AgentName string `json:"agentName"`
}

// SessionRefPayload addresses a session for close/delete actions.
type SessionRefPayload struct {
	VisitorID string `json:"visitorId"`
}

// FeedPayload refreshes the console's session list.
type FeedPayload struct {
	Sessions []chat.Summary `json:"sessions"`
}

// StatsPayload reports presence.
type StatsPayload struct {
	OnlineVisitors int `json:"onlineVisitors"`
}

// mustEvent builds an envelope; payload marshaling of our own types does
// not fail.
func mustEvent(evType string, payload any) Event {
	if payload == nil {
		return Event{Type: evType}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{Type: evType}
	}
	return Event{Type: evType, Payload: raw}
}

func errorEvent(msg string) Event {
	return mustEvent(EvChatError, ErrorPayload{Message: msg})
}
