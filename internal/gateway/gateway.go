package gateway

import (
	"crypto/subtle"
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/chatdesk/internal/chat"
)

// CredentialVerifier authorizes admin consoles. The verification mechanism
// is an external collaborator; the default is a shared token.
type CredentialVerifier interface {
	Verify(credential string) bool
}

// TokenVerifier compares against a single configured token in constant
// time.
type TokenVerifier struct {
	Token string
}

func (v TokenVerifier) Verify(credential string) bool {
	if v.Token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(v.Token), []byte(credential)) == 1
}

var namePolicy = bluemonday.StrictPolicy()

// Gateway owns the websocket endpoints, the rooms, and the REST surface
// for the agent registry.
type Gateway struct {
	service  *chat.Service
	registry *chat.Registry
	rooms    *Rooms
	verifier CredentialVerifier
	upgrader websocket.Upgrader
}

// New builds a gateway. The chat service is bound afterwards because the
// service needs the gateway as its broadcaster.
func New(registry *chat.Registry, verifier CredentialVerifier) *Gateway {
	return &Gateway{
		registry: registry,
		rooms:    NewRooms(),
		verifier: verifier,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// BindService attaches the chat service once it exists.
func (g *Gateway) BindService(s *chat.Service) { g.service = s }

// Rooms exposes the subscription sets (the service broadcaster and the
// status page read through it).
func (g *Gateway) Rooms() *Rooms { return g.rooms }

// Routes registers every gateway endpoint on r.
func (g *Gateway) Routes(r chi.Router) {
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/ws/visitor", g.handleVisitorSocket)
	r.Get("/ws/admin", g.handleAdminSocket)

	r.Route("/api/agents", func(r chi.Router) {
		r.Use(g.requireAdminToken)
		r.Get("/", g.handleListAgents)
		r.Post("/", g.handleCreateAgent)
		r.Post("/{id}/online", g.handleSetOnline)
		r.Post("/{id}/active", g.handleSetActive)
		r.Delete("/{id}", g.handleDeleteAgent)
	})
}

func remoteIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (g *Gateway) handleVisitorSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("upgrade visitor websocket")
		return
	}
	c := newClient(conn, g, remoteIP(r), r.UserAgent())
	go c.writeLoop()
	c.readLoop(g.dispatchVisitor)
}

func (g *Gateway) handleAdminSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("upgrade admin websocket")
		return
	}
	c := newClient(conn, g, remoteIP(r), r.UserAgent())
	go c.writeLoop()
	c.readLoop(g.dispatchAdmin)
}

// detach removes a leaving client from its room and refreshes presence.
func (g *Gateway) detach(c *Client) {
	wasVisitor := c.visitorID != "" && !c.admin
	g.rooms.Leave(c)
	if wasVisitor {
		g.broadcastStats()
	}
}

func (g *Gateway) broadcastStats() {
	g.rooms.ToAdmins(mustEvent(EvAdminStats, StatsPayload{OnlineVisitors: g.rooms.OnlineVisitors()}))
}

func (g *Gateway) broadcastFeed() {
	rows, err := g.service.Overview()
	if err != nil {
		log.Warn().Err(err).Msg("build admin feed")
		return
	}
	g.rooms.ToAdmins(mustEvent(EvAdminFeed, FeedPayload{Sessions: rows}))
}

func decode[T any](raw json.RawMessage) (T, bool) {
	var v T
	if len(raw) == 0 {
		return v, false
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, false
	}
	return v, true
}

func (g *Gateway) dispatchVisitor(c *Client, ev Event) {
	switch ev.Type {
	case EvVisitorConnect:
		p, ok := decode[ConnectPayload](ev.Payload)
		if !ok || p.VisitorID == "" {
			c.push(errorEvent("connect requires a visitor id"))
			return
		}
		g.visitorConnect(c, p)
	case EvVisitorMessage:
		p, ok := decode[SendPayload](ev.Payload)
		if !ok || c.visitorID == "" || p.VisitorID != c.visitorID {
			c.push(errorEvent("message requires a connected visitor"))
			return
		}
		if _, err := g.service.AppendFromVisitor(c.visitorID, p.Text); err != nil {
			c.push(errorEvent(err.Error()))
		}
	case EvVisitorTyping, EvVisitorStopTyping:
		if c.visitorID == "" {
			return
		}
		g.rooms.ToAdmins(mustEvent(EvAdminVisitorTyping, VisitorTypingPayload{
			VisitorID: c.visitorID,
			IsTyping:  ev.Type == EvVisitorTyping,
		}))
	default:
		c.push(errorEvent("unknown event"))
	}
}

func (g *Gateway) visitorConnect(c *Client, p ConnectPayload) {
	hist, err := g.service.Connect(chat.ConnectRequest{
		VisitorID:    p.VisitorID,
		VisitorName:  strings.TrimSpace(namePolicy.Sanitize(p.VisitorName)),
		VisitorEmail: strings.TrimSpace(p.VisitorEmail),
		BrowserInfo:  firstNonEmpty(p.BrowserInfo, c.userAgent),
		DeviceInfo:   p.DeviceInfo,
		IPAddress:    c.remoteIP,
	})
	if err != nil {
		c.push(errorEvent("could not resolve your session, please retry"))
		log.Warn().Err(err).Str("visitor", p.VisitorID).Msg("visitor connect")
		return
	}
	// Rebind on identity change: start-new-chat rotates the visitor id on a
	// live connection.
	if c.visitorID != p.VisitorID {
		if c.visitorID != "" {
			g.rooms.Leave(c)
		}
		c.visitorID = p.VisitorID
		g.rooms.JoinVisitor(c.visitorID, c)
		g.broadcastStats()
	}
	c.push(mustEvent(EvChatHistory, historyPayload(hist)))
}

func historyPayload(h chat.History) HistoryPayload {
	msgs := h.Messages
	if msgs == nil {
		msgs = []chat.Message{}
	}
	return HistoryPayload{
		ChatID:       h.Session.ID,
		Messages:     msgs,
		ChatState:    "active_chat",
		Status:       h.Session.Status,
		AgentName:    h.Session.AgentName,
		AgentAvatar:  h.Session.AgentAvatar,
		VisitorID:    h.Session.VisitorID,
		VisitorName:  h.Session.VisitorName,
		VisitorEmail: h.Session.VisitorEmail,
	}
}

func (g *Gateway) dispatchAdmin(c *Client, ev Event) {
	if !c.admin && ev.Type != EvAdminJoin {
		c.push(errorEvent("join first"))
		return
	}
	switch ev.Type {
	case EvAdminJoin:
		p, ok := decode[JoinPayload](ev.Payload)
		if !ok || !g.verifier.Verify(p.Credential) {
			c.push(errorEvent("invalid credential"))
			c.close()
			return
		}
		c.admin = true
		c.adminID = p.AdminID
		g.rooms.JoinAdmin(c)
		cfg, err := g.service.Settings()
		if err != nil {
			log.Warn().Err(err).Msg("load settings for console")
		}
		c.push(mustEvent(EvAdminJoined, JoinedPayload{Agents: g.registry.List(), Settings: cfg}))
		if rows, err := g.service.Overview(); err == nil {
			c.push(mustEvent(EvAdminFeed, FeedPayload{Sessions: rows}))
		}
		c.push(mustEvent(EvAdminStats, StatsPayload{OnlineVisitors: g.rooms.OnlineVisitors()}))
	case EvAdminOpenChat:
		p, ok := decode[OpenChatPayload](ev.Payload)
		if !ok || p.VisitorID == "" {
			c.push(errorEvent("open_chat requires a visitor id"))
			return
		}
		if err := g.service.MarkRead(p.VisitorID); err != nil {
			c.push(errorEvent(err.Error()))
			return
		}
		hist, err := g.service.History(p.VisitorID)
		if err != nil {
			c.push(errorEvent(err.Error()))
			return
		}
		c.push(mustEvent(EvChatHistory, historyPayload(hist)))
	case EvAdminReply:
		p, ok := decode[ReplyPayload](ev.Payload)
		if !ok || p.VisitorID == "" {
			c.push(errorEvent("reply requires a visitor id"))
			return
		}
		name := p.AgentName
		if name == "" {
			if agent, ok := g.registry.Active(); ok {
				name = agent.Name
			}
		}
		if _, err := g.service.AppendFromAdmin(p.VisitorID, name, p.Text); err != nil {
			c.push(errorEvent(err.Error()))
		}
	case EvAdminTyping, EvAdminStopTyping:
		p, ok := decode[ReplyPayload](ev.Payload)
		if !ok || p.VisitorID == "" {
			return
		}
		g.rooms.ToVisitor(p.VisitorID, mustEvent(EvChatAdminTyping, AdminTypingPayload{
			IsTyping:  ev.Type == EvAdminTyping,
			AgentName: p.AgentName,
		}))
	case EvAdminClose:
		p, ok := decode[SessionRefPayload](ev.Payload)
		if !ok || p.VisitorID == "" {
			c.push(errorEvent("close requires a visitor id"))
			return
		}
		if err := g.service.Close(p.VisitorID); err != nil {
			c.push(errorEvent(err.Error()))
		}
	case EvAdminDelete:
		p, ok := decode[SessionRefPayload](ev.Payload)
		if !ok || p.VisitorID == "" {
			c.push(errorEvent("delete requires a visitor id"))
			return
		}
		if err := g.service.Delete(p.VisitorID); err != nil {
			c.push(errorEvent(err.Error()))
		}
	default:
		c.push(errorEvent("unknown event"))
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// MessageAppended implements chat.Broadcaster.
func (g *Gateway) MessageAppended(sess chat.Session, msg chat.Message) {
	ev := mustEvent(EvChatNewMessage, NewMessagePayload{
		ChatID:    sess.ID,
		VisitorID: sess.VisitorID,
		Message:   msg,
	})
	g.rooms.ToVisitor(sess.VisitorID, ev)
	g.rooms.ToAdmins(ev)
	g.broadcastFeed()
}

// SessionUpdated implements chat.Broadcaster.
func (g *Gateway) SessionUpdated(chat.Session) {
	g.broadcastFeed()
}

// SessionClosed implements chat.Broadcaster.
func (g *Gateway) SessionClosed(sess chat.Session, note chat.Message) {
	g.rooms.ToVisitor(sess.VisitorID, mustEvent(EvChatClosed, ClosedPayload{Message: &note}))
	g.broadcastFeed()
}

// SessionDeleted implements chat.Broadcaster.
func (g *Gateway) SessionDeleted(sess chat.Session) {
	g.rooms.ToVisitor(sess.VisitorID, mustEvent(EvChatDeleted, nil))
	g.broadcastFeed()
}
