package chat

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// SessionStore is the persistence surface the service writes through.
// *store.Store satisfies it.
type SessionStore interface {
	PutSession(Session) error
	GetSession(visitorID string) (Session, bool, error)
	DeleteSession(visitorID string) error
	Sessions() ([]Session, error)
	AppendMessage(Message) error
	Messages(chatID string) ([]Message, error)
	MarkRead(chatID string, sender Sender) error
	PurgeMessages(chatID string) error
	Settings() (Settings, error)
}

// Broadcaster receives the fan-out side effects of session mutations. The
// websocket gateway implements it; tests plug in a recorder.
type Broadcaster interface {
	// MessageAppended delivers msg to the session's visitor room and the
	// admin broadcast room.
	MessageAppended(sess Session, msg Message)
	// SessionUpdated refreshes the admin feed (visitor connected, pre-chat
	// merged, status change).
	SessionUpdated(sess Session)
	// SessionClosed notifies the visitor room that the conversation ended.
	SessionClosed(sess Session, note Message)
	// SessionDeleted resets the visitor room to the initial state.
	SessionDeleted(sess Session)
}

// ConnectRequest is what a visitor announces after every (re)connect.
type ConnectRequest struct {
	VisitorID    string
	VisitorName  string
	VisitorEmail string
	BrowserInfo  string
	DeviceInfo   string
	IPAddress    string
}

// History is the authoritative state snapshot answered to a connect.
type History struct {
	Session  Session
	Messages []Message
}

// Summary is one admin-feed row.
type Summary struct {
	Session     Session  `json:"session"`
	LastMessage *Message `json:"lastMessage,omitempty"`
	Unread      int      `json:"unread"`
}

// Service owns every chat session. Each live session is a single-writer
// actor: a goroutine draining a command queue, so no two mutations of the
// same session ever interleave while distinct sessions progress freely.
type Service struct {
	store    SessionStore
	registry *Registry
	cast     Broadcaster
	now      func() time.Time

	mu     sync.Mutex
	actors map[string]*actor
}

type actor struct {
	commands chan func()
	closing  chan struct{}
}

// NewService wires the service. now may be nil for the wall clock.
func NewService(st SessionStore, reg *Registry, cast Broadcaster, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:    st,
		registry: reg,
		cast:     cast,
		now:      now,
		actors:   make(map[string]*actor),
	}
}

// Shutdown stops every session actor.
func (s *Service) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, a := range s.actors {
		close(a.closing)
		delete(s.actors, id)
	}
}

func (a *actor) loop() {
	for {
		select {
		case fn := <-a.commands:
			fn()
		case <-a.closing:
			// execute what was accepted before the stop signal
			for {
				select {
				case fn := <-a.commands:
					fn()
				default:
					return
				}
			}
		}
	}
}

// run executes fn on the session's actor and waits for it, serializing all
// writes to one visitor's session. Enqueueing happens under the service
// lock, which orders every accepted command before a concurrent dropActor;
// a stopping actor still drains its queue, so fn always runs.
func (s *Service) run(visitorID string, fn func()) {
	done := make(chan struct{})
	cmd := func() { fn(); close(done) }
	for {
		s.mu.Lock()
		a, ok := s.actors[visitorID]
		if !ok {
			a = &actor{commands: make(chan func(), 64), closing: make(chan struct{})}
			s.actors[visitorID] = a
			go a.loop()
		}
		select {
		case a.commands <- cmd:
			s.mu.Unlock()
			<-done
			return
		default:
		}
		s.mu.Unlock()
		// queue full, yield and retry
		time.Sleep(time.Millisecond)
	}
}

func (s *Service) dropActor(visitorID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.actors[visitorID]; ok {
		close(a.closing)
		delete(s.actors, visitorID)
	}
}

// Connect resolves or creates the session for the request's visitor id,
// merges any pre-chat fields, and answers the full history. Reconnecting
// with the same id always resumes the same session.
func (s *Service) Connect(req ConnectRequest) (History, error) {
	var hist History
	var outErr error
	s.run(req.VisitorID, func() {
		sess, ok, err := s.store.GetSession(req.VisitorID)
		if err != nil {
			outErr = err
			return
		}
		created := !ok
		if created {
			sess = Session{
				ID:        uuid.NewString(),
				VisitorID: req.VisitorID,
				Status:    StatusActive,
				CreatedAt: s.now(),
			}
			if agent, ok := s.registry.Active(); ok {
				sess.AgentName = agent.Name
				sess.AgentAvatar = agent.Avatar
			}
		}
		if req.VisitorName != "" {
			sess.VisitorName = req.VisitorName
		}
		if req.VisitorEmail != "" {
			sess.VisitorEmail = req.VisitorEmail
		}
		if req.BrowserInfo != "" {
			sess.BrowserInfo = req.BrowserInfo
		}
		if req.DeviceInfo != "" {
			sess.DeviceInfo = req.DeviceInfo
		}
		if req.IPAddress != "" {
			sess.IPAddress = req.IPAddress
		}
		sess.UpdatedAt = s.now()
		if err := s.store.PutSession(sess); err != nil {
			outErr = err
			return
		}
		if created {
			s.autoReply(&sess)
		}
		msgs, err := s.store.Messages(sess.ID)
		if err != nil {
			outErr = err
			return
		}
		hist = History{Session: sess, Messages: msgs}
		s.cast.SessionUpdated(sess)
	})
	return hist, outErr
}

// autoReply appends the configured greeting (or the offline template when
// the channel is globally offline) as a bot message on a fresh session.
// Caller runs inside the session actor.
func (s *Service) autoReply(sess *Session) {
	cfg, err := s.store.Settings()
	if err != nil {
		log.Warn().Err(err).Msg("load settings for auto-reply")
		return
	}
	text := ""
	switch {
	case !cfg.Online:
		text = cfg.OfflineMessage
	case cfg.AutoReplyEnabled:
		text = cfg.WelcomeMessage
	}
	if text == "" {
		return
	}
	name := sess.AgentName
	if name == "" {
		name = "Support"
	}
	msg := Message{
		ID:         uuid.NewString(),
		ChatID:     sess.ID,
		Sender:     SenderBot,
		SenderName: name,
		Text:       text,
		Timestamp:  s.now(),
	}
	if err := s.store.AppendMessage(msg); err != nil {
		log.Warn().Err(err).Str("chat", sess.ID).Msg("persist auto-reply")
		return
	}
	s.cast.MessageAppended(*sess, msg)
}

// AppendFromVisitor persists a visitor message with a server-assigned
// timestamp and fans it out. A visitor message flips the session to
// waiting until an agent replies.
func (s *Service) AppendFromVisitor(visitorID, text string) (Message, error) {
	return s.append(visitorID, SenderVisitor, "", text)
}

// AppendFromAdmin persists an agent reply (stamped with the console's
// chosen display name) and routes it to the one visitor room matching the
// session's visitor id.
func (s *Service) AppendFromAdmin(visitorID, agentName, text string) (Message, error) {
	return s.append(visitorID, SenderAdmin, agentName, text)
}

func (s *Service) append(visitorID string, sender Sender, senderName, text string) (Message, error) {
	if strings.TrimSpace(text) == "" {
		return Message{}, ErrEmptyMessage
	}
	var msg Message
	var outErr error
	s.run(visitorID, func() {
		sess, ok, err := s.store.GetSession(visitorID)
		if err != nil {
			outErr = err
			return
		}
		if !ok {
			outErr = ErrSessionNotFound
			return
		}
		if sess.Status == StatusClosed {
			outErr = ErrSessionClosed
			return
		}
		if sender == SenderVisitor {
			senderName = sess.VisitorName
			if senderName == "" {
				senderName = "Visitor"
			}
			sess.Status = StatusWaiting
		} else {
			sess.Status = StatusActive
		}
		msg = Message{
			ID:         uuid.NewString(),
			ChatID:     sess.ID,
			Sender:     sender,
			SenderName: senderName,
			Text:       text,
			Timestamp:  s.now(),
		}
		if err := s.store.AppendMessage(msg); err != nil {
			outErr = err
			return
		}
		sess.UpdatedAt = msg.Timestamp
		if err := s.store.PutSession(sess); err != nil {
			outErr = err
			return
		}
		s.cast.MessageAppended(sess, msg)
	})
	return msg, outErr
}

// Close ends the session: status goes to closed and a system note is
// appended and delivered so the widget can disable its input.
func (s *Service) Close(visitorID string) error {
	var outErr error
	s.run(visitorID, func() {
		sess, ok, err := s.store.GetSession(visitorID)
		if err != nil {
			outErr = err
			return
		}
		if !ok {
			outErr = ErrSessionNotFound
			return
		}
		if sess.Status == StatusClosed {
			return
		}
		sess.Status = StatusClosed
		sess.UpdatedAt = s.now()
		note := Message{
			ID:         uuid.NewString(),
			ChatID:     sess.ID,
			Sender:     SenderBot,
			SenderName: "System",
			Text:       "This conversation has ended. Start a new chat any time.",
			Timestamp:  s.now(),
		}
		if err := s.store.AppendMessage(note); err != nil {
			outErr = err
			return
		}
		if err := s.store.PutSession(sess); err != nil {
			outErr = err
			return
		}
		s.cast.SessionClosed(sess, note)
	})
	return outErr
}

// Delete purges the session and its history entirely and resets any open
// visitor view back to initial.
func (s *Service) Delete(visitorID string) error {
	var outErr error
	s.run(visitorID, func() {
		sess, ok, err := s.store.GetSession(visitorID)
		if err != nil {
			outErr = err
			return
		}
		if !ok {
			outErr = ErrSessionNotFound
			return
		}
		if err := s.store.PurgeMessages(sess.ID); err != nil {
			outErr = err
			return
		}
		if err := s.store.DeleteSession(visitorID); err != nil {
			outErr = err
			return
		}
		s.cast.SessionDeleted(sess)
	})
	if outErr == nil {
		s.dropActor(visitorID)
	}
	return outErr
}

// MarkRead flags every visitor message in the session as read (console
// opened the chat).
func (s *Service) MarkRead(visitorID string) error {
	var outErr error
	s.run(visitorID, func() {
		sess, ok, err := s.store.GetSession(visitorID)
		if err != nil {
			outErr = err
			return
		}
		if !ok {
			outErr = ErrSessionNotFound
			return
		}
		outErr = s.store.MarkRead(sess.ID, SenderVisitor)
	})
	return outErr
}

// History answers the full ordered transcript for a visitor's session.
func (s *Service) History(visitorID string) (History, error) {
	var hist History
	var outErr error
	s.run(visitorID, func() {
		sess, ok, err := s.store.GetSession(visitorID)
		if err != nil {
			outErr = err
			return
		}
		if !ok {
			outErr = ErrSessionNotFound
			return
		}
		msgs, err := s.store.Messages(sess.ID)
		if err != nil {
			outErr = err
			return
		}
		hist = History{Session: sess, Messages: msgs}
	})
	return hist, outErr
}

// Overview builds the admin feed: every session with its last message and
// unread visitor-message count, most recently updated first.
func (s *Service) Overview() ([]Summary, error) {
	sessions, err := s.store.Sessions()
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(sessions))
	for _, sess := range sessions {
		msgs, err := s.store.Messages(sess.ID)
		if err != nil {
			return nil, err
		}
		row := Summary{Session: sess}
		if len(msgs) > 0 {
			last := msgs[len(msgs)-1]
			row.LastMessage = &last
		}
		for _, m := range msgs {
			if m.Sender == SenderVisitor && !m.Read {
				row.Unread++
			}
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Session.UpdatedAt.After(out[j].Session.UpdatedAt)
	})
	return out, nil
}

// Settings exposes the singleton configuration to the gateway (sent to the
// console on join so quick replies and coupon templates are available).
func (s *Service) Settings() (Settings, error) {
	return s.store.Settings()
}
