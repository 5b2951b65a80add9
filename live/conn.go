package live

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/GetStream/direct-messaging/chat"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
	sendBuffer     = 256
)

// Conn is one live connection of an authenticated user.
type Conn struct {
	hub  *Hub
	ws   *websocket.Conn
	user chat.User
	send chan []byte
}

// ServeHTTP authenticates the request and upgrades it to a live connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.init()
	u, err := h.Gate.Handshake(r)
	if err != nil {
		h.Logger.Debug("Live handshake refused", "error", err.Error())
		http.Error(w, chat.ReasonOf(err), http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Error("Could not upgrade connection", "error", err.Error())
		return
	}

	c := &Conn{
		hub:  h,
		ws:   ws,
		user: u,
		send: make(chan []byte, sendBuffer),
	}
	if !h.register(c) {
		ws.Close()
		return
	}
	h.Logger.Info("Live connection opened", "user_id", u.ID, "remote", r.RemoteAddr)

	go c.writePump()
	c.readPump(r.Context())
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if h.AllowedOrigin == "" || h.AllowedOrigin == "*" {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || origin == h.AllowedOrigin
}

// readPump dispatches client frames until the connection fails.
func (c *Conn) readPump(ctx context.Context) {
	defer func() {
		c.hub.unregister(c)
		c.ws.Close()
		c.hub.Logger.Info("Live connection closed", "user_id", c.user.ID)
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.Logger.Debug("Live connection read failed", "user_id", c.user.ID, "error", err.Error())
			}
			return
		}
		c.hub.dispatch(ctx, c, frame)
	}
}

// writePump writes queued frames and keeps the connection alive with pings.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// fail reports err to this connection only.
func (c *Conn) fail(typ EventType, err error) {
	frame, encErr := Encode(EventError, ErrorEvent{Event: typ, Error: chat.ReasonOf(err)})
	if encErr != nil {
		return
	}
	c.hub.do(func() {
		if _, ok := c.hub.conns[c]; ok {
			c.hub.deliver(c, frame)
		}
	})
}
