// Package chat implements the messaging core: conversation authorization,
// the message store operations and the friend workflow.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/GetStream/direct-messaging/metrics"
)

const (
	// MaxContentLength is the maximum number of characters in a message.
	MaxContentLength = 1000
	// EditWindow is how long after creation a sender may edit a message.
	EditWindow = 5 * time.Minute
	// DefaultPageSize is the number of messages in a history page when no limit is given.
	DefaultPageSize = 50
	// MaxPageSize caps the limit a caller may request.
	MaxPageSize = 100
)

// A UserStore persists user accounts.
type UserStore interface {
	GetUser(ctx context.Context, id string) (User, error)
	GetUserByUsername(ctx context.Context, username string) (User, error)
	ListUsers(ctx context.Context, ids ...string) ([]User, error)
	InsertUser(ctx context.Context, u User) (User, error)
	// DeleteUser removes the user with every message, request and friendship
	// that references it.
	DeleteUser(ctx context.Context, id string) error
}

// A PresenceStore persists the online flag of users.
type PresenceStore interface {
	SetPresence(ctx context.Context, userID string, online bool, lastSeen time.Time) error
}

// A FriendStore persists friendships and friend requests. Friendship pairs are
// always passed in sorted order.
type FriendStore interface {
	FriendshipExists(ctx context.Context, a, b string) (bool, error)
	ListFriendships(ctx context.Context, userID string) ([]Friendship, error)
	DeleteFriendship(ctx context.Context, a, b string) error
	InsertFriendRequest(ctx context.Context, req FriendRequest) (FriendRequest, error)
	GetFriendRequest(ctx context.Context, id string) (FriendRequest, error)
	// PendingRequestExists reports a pending request between a and b in either direction.
	PendingRequestExists(ctx context.Context, a, b string) (bool, error)
	ListFriendRequests(ctx context.Context, to string, status RequestStatus) ([]FriendRequest, error)
	// AcceptFriendRequest marks the request accepted and creates the friendship atomically.
	AcceptFriendRequest(ctx context.Context, id string, at time.Time) (Friendship, error)
	RejectFriendRequest(ctx context.Context, id string, at time.Time) (FriendRequest, error)
}

// A MessageStore persists messages with their reactions and read receipts.
type MessageStore interface {
	InsertMessage(ctx context.Context, msg Message) (Message, error)
	GetMessage(ctx context.Context, id string) (Message, error)
	// ListMessages returns messages of the conversation ordered newest first.
	ListMessages(ctx context.Context, conv Conversation, limit, offset int, excludeMsgIDs ...string) ([]Message, error)
	UpdateMessageContent(ctx context.Context, id, content string, editedAt time.Time) (Message, error)
	DeleteMessage(ctx context.Context, id string) error
	// ToggleReaction removes the (user, emoji) reaction if present and adds it
	// otherwise. It reports whether the reaction was added.
	ToggleReaction(ctx context.Context, messageID string, r Reaction) (bool, error)
	// MarkRead stamps a receipt for reader on every message from sender to
	// reader that has none and returns the number of stamped messages.
	MarkRead(ctx context.Context, sender, reader string, at time.Time) (int, error)
	CountUnread(ctx context.Context, userID string) (int, error)
}

// A DB provides the storage layer of the core.
type DB interface {
	UserStore
	PresenceStore
	FriendStore
	MessageStore
}

// A Cache holds the most recent messages of each conversation.
type Cache interface {
	// ListMessages returns cached messages for the channel key, newest first.
	ListMessages(ctx context.Context, key string) ([]Message, error)
	InsertMessage(ctx context.Context, key string, msg Message) error
	RemoveMessage(ctx context.Context, key, msgID string) error
	Invalidate(ctx context.Context, key string) error
}

// Service implements the core operations on top of a DB and an optional Cache.
type Service struct {
	Logger  *slog.Logger
	DB      DB
	Cache   Cache
	Metrics *metrics.Metrics

	// Now returns the current time. It defaults to time.Now.
	Now func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) cache() Cache {
	if s.Cache == nil {
		return nopCache{}
	}
	return s.Cache
}

// CanConverse reports whether a and b may exchange messages, that is whether
// they are friends. The result does not depend on argument order.
func (s *Service) CanConverse(ctx context.Context, a, b string) (bool, error) {
	if a == "" || b == "" || a == b {
		return false, nil
	}
	x, y := orderedPair(a, b)
	ok, err := s.DB.FriendshipExists(ctx, x, y)
	if err != nil {
		return false, internal("Could not check friendship", err)
	}
	return ok, nil
}

// authorize fails with a Forbidden error carrying reason when a and b are not friends.
func (s *Service) authorize(ctx context.Context, a, b, reason string) error {
	ok, err := s.CanConverse(ctx, a, b)
	if err != nil {
		return err
	}
	if !ok {
		return Errorf(KindForbidden, "%s", reason)
	}
	return nil
}

// GetUser returns the user with the given id.
func (s *Service) GetUser(ctx context.Context, id string) (User, error) {
	u, err := s.DB.GetUser(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return User{}, Errorf(KindNotFound, "User not found")
	}
	if err != nil {
		return User{}, internal("Could not get user", err)
	}
	return u, nil
}

// GetUserByUsername returns the user with the given username.
func (s *Service) GetUserByUsername(ctx context.Context, username string) (User, error) {
	u, err := s.DB.GetUserByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		return User{}, Errorf(KindNotFound, "User not found")
	}
	if err != nil {
		return User{}, internal("Could not get user", err)
	}
	return u, nil
}

// CreateUser provisions an account with an already hashed password.
func (s *Service) CreateUser(ctx context.Context, username, passwordHash string) (User, error) {
	if username == "" || passwordHash == "" {
		return User{}, Errorf(KindInvalidInput, "Username and password are required")
	}
	u, err := s.DB.InsertUser(ctx, User{
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    s.now(),
	})
	if errors.Is(err, ErrConflict) {
		return User{}, Errorf(KindConflict, "Username already exists")
	}
	if err != nil {
		return User{}, internal("Could not create user", err)
	}
	return u, nil
}

// SetPresence records the online flag and last-seen time of a user.
func (s *Service) SetPresence(ctx context.Context, userID string, online bool) error {
	if err := s.DB.SetPresence(ctx, userID, online, s.now()); err != nil {
		return internal("Could not update presence", err)
	}
	return nil
}

// DeleteAccount removes the user together with all messages, requests and
// friendships it owns or is targeted by.
func (s *Service) DeleteAccount(ctx context.Context, userID string) error {
	friendships, err := s.DB.ListFriendships(ctx, userID)
	if err != nil {
		return internal("Could not delete account", err)
	}
	if err := s.DB.DeleteUser(ctx, userID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return Errorf(KindNotFound, "User not found")
		}
		return internal("Could not delete account", err)
	}
	for _, f := range friendships {
		if err := s.cache().Invalidate(ctx, ChannelKey(f.UserA, f.UserB)); err != nil {
			s.Logger.Error("Could not invalidate cached conversation", "error", err.Error())
		}
	}
	s.Logger.Info("Account deleted", "user_id", userID)
	return nil
}

// view joins the sender, recipient and reply target onto each message.
func (s *Service) view(ctx context.Context, msgs ...Message) ([]MessageView, error) {
	ids := make([]string, 0, 2)
	seen := make(map[string]bool)
	for _, m := range msgs {
		for _, id := range []string{m.From, m.To} {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	users, err := s.DB.ListUsers(ctx, ids...)
	if err != nil {
		return nil, internal("Could not load users", err)
	}
	byID := make(map[string]PublicUser, len(users))
	for _, u := range users {
		byID[u.ID] = u.Public()
	}

	replies := make(map[string]*Message)
	out := make([]MessageView, len(msgs))
	for i, m := range msgs {
		v := MessageView{Message: m}
		if u, ok := byID[m.From]; ok {
			v.Sender = &u
		}
		if u, ok := byID[m.To]; ok {
			v.Recipient = &u
		}
		if m.ReplyToID != "" {
			reply, ok := replies[m.ReplyToID]
			if !ok {
				r, err := s.DB.GetMessage(ctx, m.ReplyToID)
				switch {
				case errors.Is(err, ErrNotFound):
				case err != nil:
					return nil, internal("Could not load reply", err)
				default:
					reply = &r
				}
				replies[m.ReplyToID] = reply
			}
			// A reply target from another conversation is referenced by id only.
			if reply != nil && reply.Conversation().Key() == m.Conversation().Key() {
				v.ReplyTo = reply
			}
		}
		out[i] = v
	}
	return out, nil
}

func (s *Service) viewOne(ctx context.Context, m Message) (MessageView, error) {
	views, err := s.view(ctx, m)
	if err != nil {
		return MessageView{}, err
	}
	return views[0], nil
}

type nopCache struct{}

func (nopCache) ListMessages(context.Context, string) ([]Message, error) { return nil, nil }
func (nopCache) InsertMessage(context.Context, string, Message) error     { return nil }
func (nopCache) RemoveMessage(context.Context, string, string) error      { return nil }
func (nopCache) Invalidate(context.Context, string) error                 { return nil }
