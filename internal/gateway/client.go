package gateway

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/carrick-labs/doorman-core/internal/auth"
)

// sendBufferSize is the per-client outbound message buffer.
const sendBufferSize = 256

// upgrader configures the WebSocket upgrader. Origin checking is handled by
// the CORS middleware in front of the upgrade handler.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// Client is one live socket connection. Identity fields are zero until the
// handshake completes.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	role string // ClientTypeDevice or ClientTypeDashboard

	// Device identity.
	deviceID   string
	espID      string
	deviceType string
	room       string

	// Dashboard identity.
	userID   string
	userRole auth.Role

	subMu         sync.RWMutex
	subscriptions map[string]struct{} // device ids, dashboards only

	authenticated atomic.Bool
	superseded    atomic.Bool
	authTimer     *time.Timer
	closeOnce     sync.Once
}

// ServeWS upgrades an HTTP request and starts the connection pumps. The
// client must authenticate with its first message before the hub's
// handshake deadline.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:           h,
		conn:          conn,
		send:          make(chan []byte, sendBufferSize),
		subscriptions: make(map[string]struct{}),
	}

	client.authTimer = time.AfterFunc(h.authDeadline(), func() {
		if !client.authenticated.Load() {
			client.sendError(ErrAuthTimeout.Error())
			client.close()
		}
	})

	go client.writePump()
	go client.readPump()
}

// readPump reads frames until the connection drops, then unregisters.
func (c *Client) readPump() {
	defer func() {
		c.authTimer.Stop()
		c.hub.unregister(c)
	}()

	cfg := c.hub.cfg
	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	//nolint:errcheck // best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		// Any client message resets the read deadline, keeping firmware
		// alive even when it skips protocol-level pongs.
		//nolint:errcheck // best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

// writePump drains the send channel to the socket and keeps the connection
// alive with pings.
func (c *Client) writePump() {
	pingInterval := time.Duration(c.hub.cfg.PingInterval) * time.Second
	writeWait := time.Duration(c.hub.cfg.PongTimeout) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				//nolint:errcheck // best-effort close frame
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// close shuts the connection down exactly once. The closed send channel
// makes writePump emit a close frame and exit.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.send)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// trySend queues data for the write pump. Closed channels (disconnect mid
// broadcast) and full buffers (slow client) drop the frame silently.
func (c *Client) trySend(data []byte) {
	defer func() {
		// Absorb the send-on-closed-channel panic
		recover()
	}()

	select {
	case c.send <- data:
	default:
		// Buffer full, skip.
	}
}

// isSubscribed reports whether a dashboard watches the given device.
func (c *Client) isSubscribed(deviceID string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	_, ok := c.subscriptions[deviceID]
	return ok
}

// subscribe and unsubscribe are idempotent.
func (c *Client) subscribe(deviceID string) {
	c.subMu.Lock()
	c.subscriptions[deviceID] = struct{}{}
	c.subMu.Unlock()
}

func (c *Client) unsubscribe(deviceID string) {
	c.subMu.Lock()
	delete(c.subscriptions, deviceID)
	c.subMu.Unlock()
}

// sendMessage marshals and queues an outbound frame.
func (c *Client) sendMessage(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(data)
}

// sendError reports a recoverable error to the client without closing the
// connection.
func (c *Client) sendError(message string) {
	c.sendMessage(NewMessage(EventError, ErrorPayload{Message: message}))
}
