package redis

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/GetStream/direct-messaging/chat"
)

// A message is the hash stored for a cached message. Times are Unix
// nanoseconds and the relations are JSON encoded.
type message struct {
	ID        string `redis:"id"`
	From      string `redis:"from"`
	To        string `redis:"to"`
	Content   string `redis:"content"`
	Type      string `redis:"type"`
	FileName  string `redis:"file_name"`
	FileURL   string `redis:"file_url"`
	FileSize  int64  `redis:"file_size"`
	ReplyToID string `redis:"reply_to_id"`
	IsEdited  bool   `redis:"is_edited"`
	EditedAt  int64  `redis:"edited_at"`
	CreatedAt int64  `redis:"created_at"`
	Reactions string `redis:"reactions"`
	ReadBy    string `redis:"read_by"`
}

func newMessage(msg chat.Message) (*message, error) {
	reactions, err := json.Marshal(nonNil(msg.Reactions))
	if err != nil {
		return nil, fmt.Errorf("encode reactions: %w", err)
	}
	readBy, err := json.Marshal(nonNil(msg.ReadBy))
	if err != nil {
		return nil, fmt.Errorf("encode read receipts: %w", err)
	}

	m := &message{
		ID:        msg.ID,
		From:      msg.From,
		To:        msg.To,
		Content:   msg.Content,
		Type:      string(msg.Type),
		ReplyToID: msg.ReplyToID,
		IsEdited:  msg.IsEdited,
		CreatedAt: msg.CreatedAt.UnixNano(),
		Reactions: string(reactions),
		ReadBy:    string(readBy),
	}
	if msg.EditedAt != nil {
		m.EditedAt = msg.EditedAt.UnixNano()
	}
	if msg.File != nil {
		m.FileName = msg.File.Name
		m.FileURL = msg.File.URL
		m.FileSize = msg.File.Size
	}
	return m, nil
}

func (m message) chatMessage() (chat.Message, error) {
	msg := chat.Message{
		ID:        m.ID,
		From:      m.From,
		To:        m.To,
		Content:   m.Content,
		Type:      chat.MessageType(m.Type),
		ReplyToID: m.ReplyToID,
		IsEdited:  m.IsEdited,
		CreatedAt: time.Unix(0, m.CreatedAt).UTC(),
		Reactions: []chat.Reaction{},
		ReadBy:    []chat.ReadReceipt{},
	}
	if m.EditedAt != 0 {
		t := time.Unix(0, m.EditedAt).UTC()
		msg.EditedAt = &t
	}
	if m.FileURL != "" {
		msg.File = &chat.Attachment{Name: m.FileName, URL: m.FileURL, Size: m.FileSize}
	}
	if m.Reactions != "" {
		if err := json.Unmarshal([]byte(m.Reactions), &msg.Reactions); err != nil {
			return chat.Message{}, fmt.Errorf("decode reactions: %w", err)
		}
	}
	if m.ReadBy != "" {
		if err := json.Unmarshal([]byte(m.ReadBy), &msg.ReadBy); err != nil {
			return chat.Message{}, fmt.Errorf("decode read receipts: %w", err)
		}
	}
	return msg, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
