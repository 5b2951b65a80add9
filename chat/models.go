package chat

import "time"

// A User is an account that can hold conversations.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	IsOnline     bool      `json:"is_online"`
	LastSeen     time.Time `json:"last_seen"`
	CreatedAt    time.Time `json:"created_at"`
}

// PublicUser is the projection of a User that other users may see.
type PublicUser struct {
	ID       string    `json:"id"`
	Username string    `json:"username"`
	IsOnline bool      `json:"is_online"`
	LastSeen time.Time `json:"last_seen"`
}

// Public returns the public projection of u.
func (u User) Public() PublicUser {
	return PublicUser{
		ID:       u.ID,
		Username: u.Username,
		IsOnline: u.IsOnline,
		LastSeen: u.LastSeen,
	}
}

// A Friendship is the unordered pair of two users. UserA always sorts before UserB.
type Friendship struct {
	ID        string    `json:"id"`
	UserA     string    `json:"user_a"`
	UserB     string    `json:"user_b"`
	CreatedAt time.Time `json:"created_at"`
}

// Other returns the member of the friendship that is not userID.
func (f Friendship) Other(userID string) string {
	if f.UserA == userID {
		return f.UserB
	}
	return f.UserA
}

// RequestStatus is the state of a friend request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestAccepted RequestStatus = "accepted"
	RequestRejected RequestStatus = "rejected"
)

// A FriendRequest is a directed request from one user to another.
type FriendRequest struct {
	ID        string        `json:"id"`
	From      string        `json:"from"`
	To        string        `json:"to"`
	Status    RequestStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// MessageType is the kind of payload a message carries.
type MessageType string

const (
	TypeText  MessageType = "text"
	TypeImage MessageType = "image"
	TypeFile  MessageType = "file"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case TypeText, TypeImage, TypeFile:
		return true
	}
	return false
}

// An Attachment references a stored upload.
type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Size int64  `json:"size"`
}

// A Message represents a persisted message between two users.
type Message struct {
	ID        string        `json:"id"`
	From      string        `json:"from"`
	To        string        `json:"to"`
	Content   string        `json:"content"`
	Type      MessageType   `json:"type"`
	File      *Attachment   `json:"file,omitempty"`
	ReplyToID string        `json:"reply_to_id,omitempty"`
	IsEdited  bool          `json:"is_edited"`
	EditedAt  *time.Time    `json:"edited_at,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	Reactions []Reaction    `json:"reactions"`
	ReadBy    []ReadReceipt `json:"read_by"`
}

// Conversation returns the conversation the message belongs to.
func (m Message) Conversation() Conversation {
	return Conversation{A: m.From, B: m.To}
}

// HasParticipant reports whether userID sent or received the message.
func (m Message) HasParticipant(userID string) bool {
	return m.From == userID || m.To == userID
}

// ReadByUser reports whether userID holds a read receipt on the message.
func (m Message) ReadByUser(userID string) bool {
	for _, r := range m.ReadBy {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

// A Reaction is a single emoji placed on a message by a user.
type Reaction struct {
	UserID    string    `json:"user_id"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

// A ReadReceipt records when a user read a message.
type ReadReceipt struct {
	UserID string    `json:"user_id"`
	ReadAt time.Time `json:"read_at"`
}

// MessageView is a message joined with the records it refers to.
type MessageView struct {
	Message
	Sender    *PublicUser `json:"sender,omitempty"`
	Recipient *PublicUser `json:"recipient,omitempty"`
	ReplyTo   *Message    `json:"reply_to,omitempty"`
}
