package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/GetStream/direct-messaging/live"
)

// Live is a live connection to the server.
type Live struct {
	conn *websocket.Conn

	// Writes are serialized, gorilla connections allow one concurrent writer.
	wmu sync.Mutex
}

// liveURL turns the base URL of the REST endpoints into the live endpoint.
func liveURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

// Dial opens a live connection authenticated with token.
func Dial(ctx context.Context, baseURL, token string) (*Live, error) {
	wsURL, err := liveURL(baseURL)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Add("Authorization", "Bearer "+token)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("connect to live endpoint: %w, status: %s", err, resp.Status)
		}
		return nil, fmt.Errorf("connect to live endpoint: %w", err)
	}
	return &Live{conn: conn}, nil
}

// Emit sends an event.
func (l *Live) Emit(typ live.EventType, data any) error {
	frame, err := live.Encode(typ, data)
	if err != nil {
		return err
	}
	l.wmu.Lock()
	defer l.wmu.Unlock()
	if err := l.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("send %s: %w", typ, err)
	}
	return nil
}

// Join joins the conversation with peer.
func (l *Live) Join(peer string) error {
	return l.Emit(live.EventJoinChat, live.JoinChat{PeerID: peer})
}

// Publish asks the server to relay a persisted message to the peer.
func (l *Live) Publish(messageID string) error {
	return l.Emit(live.EventSendMessage, live.SendMessage{MessageID: messageID})
}

// React relays a reaction toggle to the peer.
func (l *Live) React(messageID, emoji string) error {
	return l.Emit(live.EventMessageReaction, live.MessageReaction{MessageID: messageID, Emoji: emoji})
}

// Typing tells the peer that the user started typing.
func (l *Live) Typing(peer string) error {
	return l.Emit(live.EventTyping, live.Typing{ChatID: peer})
}

// StopTyping tells the peer that the user stopped typing.
func (l *Live) StopTyping(peer string) error {
	return l.Emit(live.EventStopTyping, live.StopTyping{ChatID: peer})
}

// Next blocks until the next event arrives.
func (l *Live) Next() (live.Envelope, error) {
	_, frame, err := l.conn.ReadMessage()
	if err != nil {
		return live.Envelope{}, err
	}
	var env live.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return live.Envelope{}, fmt.Errorf("decode event: %w", err)
	}
	return env, nil
}

// Close closes the connection.
func (l *Live) Close() error {
	l.wmu.Lock()
	_ = l.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	l.wmu.Unlock()
	return l.conn.Close()
}
