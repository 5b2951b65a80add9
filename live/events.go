package live

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/GetStream/direct-messaging/api/validator"
	"github.com/GetStream/direct-messaging/chat"
)

// EventType discriminates the payload of an Envelope.
type EventType string

// Events sent by clients.
const (
	EventJoinChat        EventType = "join-chat"
	EventSendMessage     EventType = "send-message"
	EventMessageReaction EventType = "message-reaction"
	EventTyping          EventType = "typing"
	EventStopTyping      EventType = "stop-typing"
)

// Events sent by the server. Reaction and typing events reuse the inbound names.
const (
	EventMessage     EventType = "message"
	EventUserOnline  EventType = "user-online"
	EventUserOffline EventType = "user-offline"
	EventError       EventType = "error"
)

// Envelope is the frame of every event on a live connection.
type Envelope struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// An Inbound is a decoded client event.
type Inbound interface {
	Type() EventType
}

// JoinChat subscribes the connection to the conversation with PeerID.
type JoinChat struct {
	PeerID string `json:"peerId" validate:"required"`
}

// SendMessage asks the server to relay a message that was already persisted.
// Only the id of the record is used.
type SendMessage struct {
	MessageID string `json:"id" validate:"required"`
}

// MessageReaction relays a reaction change on a persisted message.
type MessageReaction struct {
	MessageID string `json:"messageId" validate:"required"`
	Emoji     string `json:"emoji" validate:"required"`
	UserID    string `json:"userId,omitempty"`
}

// Typing signals that the sender is typing in the conversation with ChatID.
type Typing struct {
	ChatID string `json:"chatId" validate:"required"`
}

// StopTyping clears a Typing signal.
type StopTyping struct {
	ChatID string `json:"chatId" validate:"required"`
}

func (JoinChat) Type() EventType        { return EventJoinChat }
func (SendMessage) Type() EventType     { return EventSendMessage }
func (MessageReaction) Type() EventType { return EventMessageReaction }
func (Typing) Type() EventType          { return EventTyping }
func (StopTyping) Type() EventType      { return EventStopTyping }

// ReactionEvent is broadcast after a reaction change.
type ReactionEvent struct {
	MessageID string          `json:"messageId"`
	Emoji     string          `json:"emoji"`
	UserID    string          `json:"userId"`
	Reactions []chat.Reaction `json:"reactions"`
}

// TypingEvent is broadcast for typing and stop-typing.
type TypingEvent struct {
	UserID string `json:"userId"`
}

// ErrorEvent reports a failed client event to its connection only.
type ErrorEvent struct {
	Event EventType `json:"event,omitempty"`
	Error string    `json:"error"`
}

// ErrUnknownEvent is returned by Decode for an unsupported event type.
var ErrUnknownEvent = errors.New("unknown event type")

// Decode parses and validates a client frame. The join-chat and send-message
// payloads may also be given in their short form: a bare peer id string and a
// full message record respectively.
func Decode(val *validator.Validator, frame []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("invalid frame: %w", err)
	}

	var ev Inbound
	switch env.Type {
	case EventJoinChat:
		var v JoinChat
		if isString(env.Data) {
			if err := json.Unmarshal(env.Data, &v.PeerID); err != nil {
				return nil, fmt.Errorf("invalid %s payload: %w", env.Type, err)
			}
		} else if err := unmarshal(env, &v); err != nil {
			return nil, err
		}
		ev = v
	case EventSendMessage:
		var v SendMessage
		if err := unmarshal(env, &v); err != nil {
			return nil, err
		}
		ev = v
	case EventMessageReaction:
		var v MessageReaction
		if err := unmarshal(env, &v); err != nil {
			return nil, err
		}
		ev = v
	case EventTyping:
		var v Typing
		if err := unmarshal(env, &v); err != nil {
			return nil, err
		}
		ev = v
	case EventStopTyping:
		var v StopTyping
		if err := unmarshal(env, &v); err != nil {
			return nil, err
		}
		ev = v
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownEvent, env.Type)
	}

	if errs := val.ValidateStruct(ev); len(errs) > 0 {
		return nil, fmt.Errorf("invalid %s payload: %w", env.Type, errs[0])
	}
	return ev, nil
}

func unmarshal(env Envelope, v any) error {
	if len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("invalid %s payload: %w", env.Type, err)
	}
	return nil
}

func isString(data json.RawMessage) bool {
	data = bytes.TrimSpace(data)
	return len(data) > 0 && data[0] == '"'
}

// Encode frames an outbound event.
func Encode(typ EventType, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("could not encode %s event: %w", typ, err)
	}
	return json.Marshal(Envelope{Type: typ, Data: raw})
}
