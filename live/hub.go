// Package live routes real-time events between the connections of users that
// share a conversation.
package live

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/GetStream/direct-messaging/api/validator"
	"github.com/GetStream/direct-messaging/chat"
	"github.com/GetStream/direct-messaging/metrics"
	"github.com/GetStream/direct-messaging/presence"
)

// Chat is the part of the core the hub relies on.
type Chat interface {
	CanConverse(ctx context.Context, a, b string) (bool, error)
	GetMessage(ctx context.Context, id string) (chat.MessageView, error)
	SetPresence(ctx context.Context, userID string, online bool) error
}

// An Authenticator verifies the credential of a connection request.
type Authenticator interface {
	Handshake(r *http.Request) (chat.User, error)
}

// Hub owns rooms and connections. All room state is mutated by the goroutine
// running Run, so broadcasts to a room leave in the order they were published.
type Hub struct {
	Logger   *slog.Logger
	Chat     Chat
	Gate     Authenticator
	Presence *presence.Registry[*Conn]
	Metrics  *metrics.Metrics
	Val      *validator.Validator

	// AllowedOrigin restricts the Origin of connection requests. Empty or "*"
	// accepts any origin.
	AllowedOrigin string

	once sync.Once
	cmds chan func()
	done chan struct{}

	// Presence changes are persisted one at a time in the order they happened.
	pmu     sync.Mutex
	pending []presenceUpdate
	wake    chan struct{}
	flushed chan struct{}

	conns  map[*Conn]struct{}
	rooms  map[string]map[*Conn]struct{}
	joined map[*Conn]map[string]struct{}
}

func (h *Hub) init() {
	h.once.Do(func() {
		h.cmds = make(chan func(), 64)
		h.done = make(chan struct{})
		h.wake = make(chan struct{}, 1)
		h.flushed = make(chan struct{})
		h.conns = make(map[*Conn]struct{})
		h.rooms = make(map[string]map[*Conn]struct{})
		h.joined = make(map[*Conn]map[string]struct{})
		if h.Presence == nil {
			h.Presence = presence.New[*Conn]()
		}
		if h.Val == nil {
			h.Val = validator.New()
		}
	})
}

// Run processes hub commands until ctx is done. Open connections are closed
// and pending presence updates are flushed before it returns.
func (h *Hub) Run(ctx context.Context) {
	h.init()
	stop := make(chan struct{})
	go h.writePresence(stop)
	for {
		select {
		case cmd := <-h.cmds:
			cmd()
		case <-ctx.Done():
			close(h.done)
			for c := range h.conns {
				delete(h.conns, c)
				close(c.send)
			}
			for _, userID := range h.Presence.Close() {
				h.savePresence(userID, false)
			}
			h.Metrics.SetOnlineUsers(0)
			close(stop)
			<-h.flushed
			return
		}
	}
}

// do runs cmd on the hub goroutine. It reports false once the hub stopped.
func (h *Hub) do(cmd func()) bool {
	h.init()
	select {
	case h.cmds <- cmd:
		return true
	case <-h.done:
		return false
	}
}

// query runs fn on the hub goroutine and waits for it to finish.
func (h *Hub) query(fn func()) bool {
	finished := make(chan struct{})
	if !h.do(func() { fn(); close(finished) }) {
		return false
	}
	select {
	case <-finished:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) register(c *Conn) bool {
	return h.query(func() {
		h.conns[c] = struct{}{}
		h.Metrics.ConnectionOpened()
		if !h.Presence.Register(c.user.ID, c) {
			return
		}
		h.Metrics.SetOnlineUsers(h.Presence.Count())
		h.Logger.Info("User online", "user_id", c.user.ID)
		h.broadcast(c.user.ID, EventUserOnline, c.user.ID)
		h.savePresence(c.user.ID, true)
	})
}

func (h *Hub) unregister(c *Conn) {
	h.do(func() {
		if _, ok := h.conns[c]; !ok {
			return
		}
		delete(h.conns, c)
		close(c.send)
		h.Metrics.ConnectionClosed()
		for key := range h.joined[c] {
			delete(h.rooms[key], c)
			if len(h.rooms[key]) == 0 {
				delete(h.rooms, key)
			}
		}
		delete(h.joined, c)

		if !h.Presence.Unregister(c.user.ID, c) {
			return
		}
		h.Metrics.SetOnlineUsers(h.Presence.Count())
		h.Logger.Info("User offline", "user_id", c.user.ID)
		h.broadcast(c.user.ID, EventUserOffline, c.user.ID)
		h.savePresence(c.user.ID, false)
	})
}

func (h *Hub) join(c *Conn, key string) {
	h.do(func() {
		if _, ok := h.conns[c]; !ok {
			return
		}
		room, ok := h.rooms[key]
		if !ok {
			room = make(map[*Conn]struct{})
			h.rooms[key] = room
		}
		room[c] = struct{}{}
		if h.joined[c] == nil {
			h.joined[c] = make(map[string]struct{})
		}
		h.joined[c][key] = struct{}{}
		h.Logger.Debug("Joined chat", "user_id", c.user.ID, "key", key)
	})
}

// publish sends an event to every connection in the room except the publisher.
func (h *Hub) publish(from *Conn, key string, typ EventType, data any) {
	frame, err := Encode(typ, data)
	if err != nil {
		h.Logger.Error("Could not encode event", "error", err.Error())
		return
	}
	h.do(func() {
		for c := range h.rooms[key] {
			if c != from {
				h.deliver(c, frame)
			}
		}
	})
}

// broadcast sends an event to the connections of every user except userID.
// It must run on the hub goroutine.
func (h *Hub) broadcast(userID string, typ EventType, data any) {
	frame, err := Encode(typ, data)
	if err != nil {
		h.Logger.Error("Could not encode event", "error", err.Error())
		return
	}
	for c := range h.conns {
		if c.user.ID != userID {
			h.deliver(c, frame)
		}
	}
}

// deliver queues frame on c without blocking. Frames for a full queue are dropped.
func (h *Hub) deliver(c *Conn, frame []byte) {
	select {
	case c.send <- frame:
	default:
		h.Metrics.Dropped()
		h.Logger.Warn("Dropped event for slow connection", "user_id", c.user.ID)
	}
}

// members returns the number of connections subscribed to key.
func (h *Hub) members(key string) int {
	n := 0
	h.query(func() { n = len(h.rooms[key]) })
	return n
}

type presenceUpdate struct {
	userID string
	online bool
}

// savePresence queues the online flag of userID for persistence. It never
// blocks the hub goroutine.
func (h *Hub) savePresence(userID string, online bool) {
	h.pmu.Lock()
	h.pending = append(h.pending, presenceUpdate{userID: userID, online: online})
	h.pmu.Unlock()
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

func (h *Hub) takePresence() []presenceUpdate {
	h.pmu.Lock()
	defer h.pmu.Unlock()
	batch := h.pending
	h.pending = nil
	return batch
}

// writePresence persists queued presence changes in order until stop is
// closed, then flushes what is left.
func (h *Hub) writePresence(stop <-chan struct{}) {
	defer close(h.flushed)
	for {
		h.persistPresence(h.takePresence())
		select {
		case <-h.wake:
		case <-stop:
			h.persistPresence(h.takePresence())
			return
		}
	}
}

func (h *Hub) persistPresence(batch []presenceUpdate) {
	for _, u := range batch {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := h.Chat.SetPresence(ctx, u.userID, u.online); err != nil {
			h.Logger.Error("Could not save presence", "user_id", u.userID, "online", u.online, "error", err.Error())
		}
		cancel()
	}
}

// dispatch handles one client frame on behalf of c.
func (h *Hub) dispatch(ctx context.Context, c *Conn, frame []byte) {
	ev, err := Decode(h.Val, frame)
	if err != nil {
		h.Metrics.LiveEvent("invalid")
		reason := "Invalid event"
		if errors.Is(err, ErrUnknownEvent) {
			reason = "Unknown event type"
		}
		h.Logger.Debug("Rejected event", "user_id", c.user.ID, "error", err.Error())
		c.fail("", chat.Errorf(chat.KindInvalidInput, "%s", reason))
		return
	}
	h.Metrics.LiveEvent(string(ev.Type()))

	switch ev := ev.(type) {
	case JoinChat:
		err = h.joinChat(ctx, c, ev)
	case SendMessage:
		err = h.sendMessage(ctx, c, ev)
	case MessageReaction:
		err = h.messageReaction(ctx, c, ev)
	case Typing:
		err = h.typing(ctx, c, ev.ChatID, EventTyping)
	case StopTyping:
		err = h.typing(ctx, c, ev.ChatID, EventStopTyping)
	}
	if err != nil {
		if chat.KindOf(err) == chat.KindInternal {
			h.Logger.Error("Could not handle event", "type", ev.Type(), "user_id", c.user.ID, "error", err.Error())
		}
		c.fail(ev.Type(), err)
	}
}

func (h *Hub) joinChat(ctx context.Context, c *Conn, ev JoinChat) error {
	ok, err := h.Chat.CanConverse(ctx, c.user.ID, ev.PeerID)
	if err != nil {
		return err
	}
	if !ok {
		return chat.Errorf(chat.KindForbidden, "You can only chat with friends")
	}
	h.join(c, chat.ChannelKey(c.user.ID, ev.PeerID))
	return nil
}

// converse checks that a and b are still friends. When they are not, the
// room of their conversation is closed for every member.
func (h *Hub) converse(ctx context.Context, a, b string) error {
	ok, err := h.Chat.CanConverse(ctx, a, b)
	if err != nil {
		return err
	}
	if !ok {
		h.closeRoom(chat.ChannelKey(a, b))
		return chat.Errorf(chat.KindForbidden, "You can only chat with friends")
	}
	return nil
}

// closeRoom unsubscribes every connection from key.
func (h *Hub) closeRoom(key string) {
	h.do(func() {
		for c := range h.rooms[key] {
			delete(h.joined[c], key)
		}
		if len(h.rooms[key]) > 0 {
			h.Logger.Debug("Closed chat", "key", key)
		}
		delete(h.rooms, key)
	})
}

func (h *Hub) typing(ctx context.Context, c *Conn, peerID string, typ EventType) error {
	if err := h.converse(ctx, c.user.ID, peerID); err != nil {
		return err
	}
	h.publish(c, chat.ChannelKey(c.user.ID, peerID), typ, TypingEvent{UserID: c.user.ID})
	return nil
}

// sendMessage relays a stored message. The room is derived from the stored
// record, never from the client payload.
func (h *Hub) sendMessage(ctx context.Context, c *Conn, ev SendMessage) error {
	msg, err := h.Chat.GetMessage(ctx, ev.MessageID)
	if err != nil {
		return err
	}
	if msg.From != c.user.ID {
		return chat.Errorf(chat.KindForbidden, "You can only publish your own messages")
	}
	if err := h.converse(ctx, msg.From, msg.To); err != nil {
		return err
	}
	h.publish(c, msg.Conversation().Key(), EventMessage, msg)
	return nil
}

func (h *Hub) messageReaction(ctx context.Context, c *Conn, ev MessageReaction) error {
	msg, err := h.Chat.GetMessage(ctx, ev.MessageID)
	if err != nil {
		return err
	}
	if !msg.HasParticipant(c.user.ID) {
		return chat.Errorf(chat.KindForbidden, "You can only react to messages in your conversations")
	}
	if err := h.converse(ctx, msg.From, msg.To); err != nil {
		return err
	}
	h.publish(c, msg.Conversation().Key(), EventMessageReaction, ReactionEvent{
		MessageID: msg.ID,
		Emoji:     ev.Emoji,
		UserID:    c.user.ID,
		Reactions: msg.Reactions,
	})
	return nil
}
