package postgres

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/GetStream/direct-messaging/chat"
)

type user struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID           string    `bun:",pk,type:uuid,default:uuid_generate_v4()"`
	Username     string    `bun:",notnull,unique"`
	PasswordHash string    `bun:",notnull"`
	IsOnline     bool      `bun:",notnull,default:false"`
	LastSeen     time.Time `bun:",nullzero"`
	CreatedAt    time.Time `bun:",nullzero,notnull,default:now()"`
}

func (u user) chatUser() chat.User {
	return chat.User{
		ID:           u.ID,
		Username:     u.Username,
		PasswordHash: u.PasswordHash,
		IsOnline:     u.IsOnline,
		LastSeen:     u.LastSeen,
		CreatedAt:    u.CreatedAt,
	}
}

// A friendship row always has UserA < UserB.
type friendship struct {
	bun.BaseModel `bun:"table:friendships,alias:f"`

	ID        string    `bun:",pk,type:uuid,default:uuid_generate_v4()"`
	UserA     string    `bun:"user_a,type:uuid,notnull,unique:friendships_pair"`
	UserB     string    `bun:"user_b,type:uuid,notnull,unique:friendships_pair"`
	CreatedAt time.Time `bun:",nullzero,notnull,default:now()"`
}

func (f friendship) chatFriendship() chat.Friendship {
	return chat.Friendship{
		ID:        f.ID,
		UserA:     f.UserA,
		UserB:     f.UserB,
		CreatedAt: f.CreatedAt,
	}
}

type friendRequest struct {
	bun.BaseModel `bun:"table:friend_requests,alias:fr"`

	ID        string    `bun:",pk,type:uuid,default:uuid_generate_v4()"`
	FromID    string    `bun:"from_id,type:uuid,notnull"`
	ToID      string    `bun:"to_id,type:uuid,notnull"`
	Status    string    `bun:",notnull,default:'pending'"`
	CreatedAt time.Time `bun:",nullzero,notnull,default:now()"`
	UpdatedAt time.Time `bun:",nullzero,notnull,default:now()"`
}

func (r friendRequest) chatRequest() chat.FriendRequest {
	return chat.FriendRequest{
		ID:        r.ID,
		From:      r.FromID,
		To:        r.ToID,
		Status:    chat.RequestStatus(r.Status),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

type message struct {
	bun.BaseModel `bun:"table:messages,alias:m"`

	ID        string        `bun:",pk,type:uuid,default:uuid_generate_v4()"`
	FromID    string        `bun:"from_id,type:uuid,notnull"`
	ToID      string        `bun:"to_id,type:uuid,notnull"`
	Content   string        `bun:",notnull"`
	Type      string        `bun:",notnull,default:'text'"`
	FileName  string        `bun:",nullzero"`
	FileURL   string        `bun:",nullzero"`
	FileSize  int64         `bun:",nullzero"`
	ReplyToID string        `bun:",type:uuid,nullzero"`
	IsEdited  bool          `bun:",notnull,default:false"`
	EditedAt  *time.Time    `bun:",nullzero"`
	CreatedAt time.Time     `bun:",nullzero,notnull,default:now()"`
	Reactions []reaction    `bun:"rel:has-many,join:id=message_id"`
	ReadBy    []readReceipt `bun:"rel:has-many,join:id=message_id"`
}

func newMessage(msg chat.Message) *message {
	m := &message{
		FromID:    msg.From,
		ToID:      msg.To,
		Content:   msg.Content,
		Type:      string(msg.Type),
		ReplyToID: msg.ReplyToID,
		CreatedAt: msg.CreatedAt,
	}
	if msg.File != nil {
		m.FileName = msg.File.Name
		m.FileURL = msg.File.URL
		m.FileSize = msg.File.Size
	}
	return m
}

func (m message) chatMessage() chat.Message {
	reactions := make([]chat.Reaction, len(m.Reactions))
	for i, r := range m.Reactions {
		reactions[i] = chat.Reaction{UserID: r.UserID, Emoji: r.Emoji, CreatedAt: r.CreatedAt}
	}
	readBy := make([]chat.ReadReceipt, len(m.ReadBy))
	for i, r := range m.ReadBy {
		readBy[i] = chat.ReadReceipt{UserID: r.UserID, ReadAt: r.ReadAt}
	}

	msg := chat.Message{
		ID:        m.ID,
		From:      m.FromID,
		To:        m.ToID,
		Content:   m.Content,
		Type:      chat.MessageType(m.Type),
		ReplyToID: m.ReplyToID,
		IsEdited:  m.IsEdited,
		EditedAt:  m.EditedAt,
		CreatedAt: m.CreatedAt,
		Reactions: reactions,
		ReadBy:    readBy,
	}
	if m.FileURL != "" {
		msg.File = &chat.Attachment{Name: m.FileName, URL: m.FileURL, Size: m.FileSize}
	}
	return msg
}

type reaction struct {
	bun.BaseModel `bun:"table:reactions,alias:r"`

	ID        string    `bun:",pk,type:uuid,default:uuid_generate_v4()"`
	MessageID string    `bun:",type:uuid,notnull,unique:reactions_key"`
	UserID    string    `bun:",type:uuid,notnull,unique:reactions_key"`
	Emoji     string    `bun:",notnull,unique:reactions_key"`
	CreatedAt time.Time `bun:",nullzero,notnull,default:now()"`
}

type readReceipt struct {
	bun.BaseModel `bun:"table:read_receipts,alias:rr"`

	MessageID string    `bun:",pk,type:uuid"`
	UserID    string    `bun:",pk,type:uuid"`
	ReadAt    time.Time `bun:",nullzero,notnull,default:now()"`
}
