package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/GetStream/direct-messaging/chat"
	"github.com/GetStream/direct-messaging/live"
)

// A Session is an open conversation with one peer. Messages are created over
// REST and then re-published on the live connection. Incoming events are
// merged into View.
type Session struct {
	Logger *slog.Logger
	Client *Client
	Live   *Live
	View   *View
	Typing *Typing

	// OnPresence is called when a user comes online or goes offline.
	OnPresence func(userID string, online bool)
	// OnError is called with the error events the server sends.
	OnError func(ev live.ErrorEvent)
	// Schedule runs the idle timer of Typed. It defaults to time.AfterFunc.
	Schedule Scheduler

	tmu    sync.Mutex
	typing bool
	idle   func() bool
	seq    int
}

// TypingIdle is how long after the last keystroke stop-typing is sent.
const TypingIdle = time.Second

// Open joins the conversation between self and peer and loads the most recent
// page of history.
func Open(ctx context.Context, logger *slog.Logger, c *Client, l *Live, self, peer string) (*Session, error) {
	s := &Session{
		Logger: logger,
		Client: c,
		Live:   l,
		View:   NewView(self, peer),
		Typing: &Typing{},
	}
	if err := l.Join(peer); err != nil {
		return nil, err
	}
	history, err := c.History(ctx, peer, 1, 0)
	if err != nil {
		return nil, err
	}
	s.View.Load(history)
	return s, nil
}

func (s *Session) peer() string {
	return s.View.Peer
}

// Typed reports a keystroke in the compose box. The first keystroke sends
// typing to the peer and stop-typing follows once no keystroke arrived for
// TypingIdle.
func (s *Session) Typed() {
	schedule := s.Schedule
	if schedule == nil {
		schedule = afterFunc
	}
	s.tmu.Lock()
	start := !s.typing
	s.typing = true
	if s.idle != nil {
		s.idle()
	}
	s.seq++
	seq := s.seq
	s.idle = schedule(TypingIdle, func() { s.typingIdle(seq) })
	s.tmu.Unlock()

	if start {
		if err := s.Live.Typing(s.peer()); err != nil {
			s.Logger.Warn("Could not send typing", "error", err.Error())
		}
	}
}

// typingIdle ends typing unless a later keystroke or stop superseded seq.
func (s *Session) typingIdle(seq int) {
	s.tmu.Lock()
	current := seq == s.seq && s.typing
	if current {
		s.typing = false
		s.idle = nil
		s.seq++
	}
	s.tmu.Unlock()
	if current {
		s.sendStopTyping()
	}
}

// StopTyping clears the typing state and tells the peer when it was set.
func (s *Session) StopTyping() {
	if s.resetTyping() {
		s.sendStopTyping()
	}
}

func (s *Session) sendStopTyping() {
	if err := s.Live.StopTyping(s.peer()); err != nil {
		s.Logger.Warn("Could not send stop-typing", "error", err.Error())
	}
}

// resetTyping clears the typing state and reports whether it was set.
func (s *Session) resetTyping() bool {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	was := s.typing
	s.typing = false
	if s.idle != nil {
		s.idle()
		s.idle = nil
	}
	s.seq++
	return was
}

// Send creates a text message and relays it to the peer.
func (s *Session) Send(ctx context.Context, content, replyToID string) (chat.MessageView, error) {
	s.StopTyping()
	m, err := s.Client.Send(ctx, s.peer(), content, replyToID)
	if err != nil {
		return chat.MessageView{}, err
	}
	s.sent(m)
	return m, nil
}

// SendFile uploads a file message and relays it to the peer.
func (s *Session) SendFile(ctx context.Context, filename string, r io.Reader) (chat.MessageView, error) {
	s.StopTyping()
	m, err := s.Client.Upload(ctx, s.peer(), filename, r)
	if err != nil {
		return chat.MessageView{}, err
	}
	s.sent(m)
	return m, nil
}

func (s *Session) sent(m chat.MessageView) {
	s.View.AddSent(m)
	if err := s.Live.Publish(m.ID); err != nil {
		s.Logger.Warn("Could not relay message", "id", m.ID, "error", err.Error())
	}
}

// React toggles a reaction and relays it to the peer.
func (s *Session) React(ctx context.Context, messageID, emoji string) (chat.MessageView, error) {
	m, err := s.Client.React(ctx, messageID, emoji)
	if err != nil {
		return chat.MessageView{}, err
	}
	s.View.ApplyReaction(live.ReactionEvent{
		MessageID: m.ID,
		Emoji:     emoji,
		UserID:    s.View.Self,
		Reactions: m.Reactions,
	})
	if err := s.Live.React(messageID, emoji); err != nil {
		s.Logger.Warn("Could not relay reaction", "id", messageID, "error", err.Error())
	}
	return m, nil
}

// Edit changes the content of an own message.
func (s *Session) Edit(ctx context.Context, messageID, content string) (chat.MessageView, error) {
	m, err := s.Client.Edit(ctx, messageID, content)
	if err != nil {
		return chat.MessageView{}, err
	}
	s.View.ApplyEdit(m)
	return m, nil
}

// Delete removes an own message.
func (s *Session) Delete(ctx context.Context, messageID string) error {
	if err := s.Client.Delete(ctx, messageID); err != nil {
		return err
	}
	s.View.Remove(messageID)
	return nil
}

// LoadOlder merges the given page of history into the view.
func (s *Session) LoadOlder(ctx context.Context, page int) (int, error) {
	history, err := s.Client.History(ctx, s.peer(), page, 0)
	if err != nil {
		return 0, err
	}
	return s.View.Prepend(history), nil
}

// Run reads events until ctx is done or the connection fails.
func (s *Session) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { s.Live.Close() })
	defer stop()
	defer s.View.Close()
	defer s.resetTyping()

	for {
		env, err := s.Live.Next()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if err := s.handle(env); err != nil {
			s.Logger.Warn("Could not handle event", "type", env.Type, "error", err.Error())
		}
	}
}

func (s *Session) handle(env live.Envelope) error {
	switch env.Type {
	case live.EventMessage:
		var m chat.MessageView
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return err
		}
		s.View.Add(m)
	case live.EventMessageReaction:
		var ev live.ReactionEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return err
		}
		s.View.ApplyReaction(ev)
	case live.EventTyping, live.EventStopTyping:
		var ev live.TypingEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return err
		}
		if ev.UserID != s.peer() {
			return nil
		}
		if env.Type == live.EventTyping {
			s.Typing.Start(ev.UserID)
		} else {
			s.Typing.Stop(ev.UserID)
		}
	case live.EventUserOnline, live.EventUserOffline:
		var userID string
		if err := json.Unmarshal(env.Data, &userID); err != nil {
			return err
		}
		if s.OnPresence != nil {
			s.OnPresence(userID, env.Type == live.EventUserOnline)
		}
	case live.EventError:
		var ev live.ErrorEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return err
		}
		if s.OnError != nil {
			s.OnError(ev)
		}
	default:
		return fmt.Errorf("unexpected event %q", env.Type)
	}
	return nil
}
