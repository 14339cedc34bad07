package gateway

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 30 * time.Second
	sendBufferSize = 64
	maxMessageSize = 1 << 20
)

// Client is one websocket connection, either a visitor tab or an admin
// console. It stays anonymous until its first announce event.
type Client struct {
	conn *websocket.Conn
	gw   *Gateway
	send chan Event
	done chan struct{}

	// set by the announce handshake
	visitorID string
	admin     bool
	adminID   string

	remoteIP  string
	userAgent string

	closed atomic.Bool
}

func newClient(conn *websocket.Conn, gw *Gateway, remoteIP, userAgent string) *Client {
	return &Client{
		conn:      conn,
		gw:        gw,
		send:      make(chan Event, sendBufferSize),
		done:      make(chan struct{}),
		remoteIP:  remoteIP,
		userAgent: userAgent,
	}
}

func (c *Client) readLoop(dispatch func(*Client, Event)) {
	defer c.close()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Str("visitor", c.visitorID).Msg("read message")
			return
		}
		var ev Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			c.push(errorEvent("malformed event"))
			continue
		}
		dispatch(c, ev)
	}
}

// writeLoop owns all writes to the socket and the socket's lifetime: on
// close it drains whatever is still buffered, so an error pushed right
// before a server-side close still reaches the peer.
func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
		_ = c.conn.Close()
	}()
	for {
		select {
		case ev := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				log.Debug().Err(err).Str("visitor", c.visitorID).Msg("write json")
				return
			}
		case <-c.done:
			for {
				select {
				case ev := <-c.send:
					_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteJSON(ev); err != nil {
						return
					}
				default:
					_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// push enqueues ev for the write loop. The send channel is never closed,
// so a fan-out racing a disconnect at worst drops the event.
func (c *Client) push(ev Event) {
	if c.closed.Load() {
		return
	}
	select {
	case c.send <- ev:
	default:
		// drop oldest to avoid blocking the broadcaster
		select {
		case <-c.send:
		default:
		}
		select {
		case c.send <- ev:
		default:
		}
	}
}

// close detaches the client and tells the write loop to flush and shut the
// socket down.
func (c *Client) close() {
	if c.closed.Swap(true) {
		return
	}
	c.gw.detach(c)
	close(c.done)
}
