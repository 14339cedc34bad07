package client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/chatdesk/internal/gateway"
)

// Reconnection policy: a bounded budget of automatic attempts with a fixed
// delay. Once the budget is spent the channel stays disconnected until the
// consumer explicitly opens it again.
const (
	ReconnectAttempts = 10
	ReconnectDelay    = 2 * time.Second
	ConnectTimeout    = 10 * time.Second
)

var (
	ErrNotConnected   = errors.New("not connected")
	ErrAlreadyOpen    = errors.New("connection already open")
	ErrRetriesExhaust = errors.New("reconnect attempts exhausted")
)

// ConnState is what the consumer surfaces as its connectivity indicator.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

// Conn supervises one duplex channel: dial, announce, read pump, bounded
// auto-reconnect. Sends while disconnected are dropped, never queued.
type Conn struct {
	url    string
	dialer *websocket.Dialer

	// OnConnect runs after every successful (re)connect, before any read;
	// the consumer announces its identity here.
	OnConnect func()
	// OnEvent receives every decoded server event.
	OnEvent func(gateway.Event)
	// OnState observes connectivity changes.
	OnState func(ConnState)

	mu        sync.Mutex
	wmu       sync.Mutex // serializes writers; gorilla allows one at a time
	ws        *websocket.Conn
	cancel    context.CancelFunc
	open      bool
	connected atomic.Bool
}

// NewConn prepares a manager for the given websocket URL.
func NewConn(url string) *Conn {
	return &Conn{
		url:    url,
		dialer: &websocket.Dialer{HandshakeTimeout: ConnectTimeout},
	}
}

// Connected reports the local connectivity flag that gates outbound
// actions.
func (c *Conn) Connected() bool {
	return c.connected.Load()
}

func (c *Conn) setState(s ConnState) {
	c.connected.Store(s == StateConnected)
	if c.OnState != nil {
		c.OnState(s)
	}
}

// Open establishes the channel and starts supervising it. It returns once
// the first connect succeeds or fails; reconnection after later drops is
// automatic within the budget.
func (c *Conn) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.open {
		c.mu.Unlock()
		return ErrAlreadyOpen
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.open = true
	c.mu.Unlock()

	c.setState(StateConnecting)
	ws, err := c.dial(runCtx)
	if err != nil {
		c.teardown()
		c.setState(StateDisconnected)
		return err
	}
	c.attach(runCtx, ws)
	return nil
}

func (c *Conn) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()
	ws, _, err := c.dialer.DialContext(dialCtx, c.url, nil)
	return ws, err
}

// attach installs ws as the live socket, announces, and starts the read
// pump.
func (c *Conn) attach(ctx context.Context, ws *websocket.Conn) {
	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
	c.setState(StateConnected)
	if c.OnConnect != nil {
		c.OnConnect()
	}
	go c.readLoop(ctx, ws)
}

func (c *Conn) readLoop(ctx context.Context, ws *websocket.Conn) {
	for {
		var ev gateway.Event
		if err := ws.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Debug().Err(err).Msg("channel dropped")
			c.reconnect(ctx)
			return
		}
		if c.OnEvent != nil {
			c.OnEvent(ev)
		}
	}
}

// reconnect retries the dial up to ReconnectAttempts times with a fixed
// delay. An explicit Close cancels the wait.
func (c *Conn) reconnect(ctx context.Context) {
	c.setState(StateConnecting)
	for attempt := 1; attempt <= ReconnectAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(ReconnectDelay):
		}
		ws, err := c.dial(ctx)
		if err == nil {
			log.Debug().Int("attempt", attempt).Msg("channel restored")
			c.attach(ctx, ws)
			return
		}
		log.Debug().Err(err).Int("attempt", attempt).Msg("reconnect failed")
	}
	// budget exhausted: stay down until the consumer reopens explicitly
	c.teardown()
	c.setState(StateDisconnected)
}

// Send transmits ev, or silently drops it while disconnected (policy:
// drop, not queue).
func (c *Conn) Send(ev gateway.Event) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return ErrNotConnected
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return ws.WriteJSON(ev)
}

// Close tears the channel down and cancels any pending reconnection.
func (c *Conn) Close() {
	c.teardown()
	c.setState(StateDisconnected)
}

func (c *Conn) teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.ws != nil {
		_ = c.ws.Close()
		c.ws = nil
	}
	c.open = false
}
