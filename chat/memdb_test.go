package chat

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// memdb is an in-memory DB used by the service tests.
type memdb struct {
	mu          sync.Mutex
	seq         int
	users       map[string]User
	friendships map[[2]string]Friendship
	requests    map[string]FriendRequest
	messages    map[string]Message
	order       []string
}

func newMemDB() *memdb {
	return &memdb{
		users:       make(map[string]User),
		friendships: make(map[[2]string]Friendship),
		requests:    make(map[string]FriendRequest),
		messages:    make(map[string]Message),
	}
}

func (db *memdb) nextID(prefix string) string {
	db.seq++
	return fmt.Sprintf("%s-%d", prefix, db.seq)
}

func (db *memdb) addUser(id string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.users[id] = User{ID: id, Username: id}
}

func (db *memdb) befriend(a, b string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	x, y := orderedPair(a, b)
	db.friendships[[2]string{x, y}] = Friendship{ID: db.nextID("f"), UserA: x, UserB: y}
}

func (db *memdb) GetUser(_ context.Context, id string) (User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	u, ok := db.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (db *memdb) GetUserByUsername(_ context.Context, username string) (User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, u := range db.users {
		if u.Username == username {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (db *memdb) ListUsers(_ context.Context, ids ...string) ([]User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []User
	for _, id := range ids {
		if u, ok := db.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (db *memdb) InsertUser(_ context.Context, u User) (User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, other := range db.users {
		if other.Username == u.Username {
			return User{}, ErrConflict
		}
	}
	u.ID = db.nextID("u")
	db.users[u.ID] = u
	return u, nil
}

func (db *memdb) DeleteUser(_ context.Context, id string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.users[id]; !ok {
		return ErrNotFound
	}
	delete(db.users, id)
	for k, m := range db.messages {
		if m.HasParticipant(id) {
			delete(db.messages, k)
		}
	}
	for k, r := range db.requests {
		if r.From == id || r.To == id {
			delete(db.requests, k)
		}
	}
	for k := range db.friendships {
		if k[0] == id || k[1] == id {
			delete(db.friendships, k)
		}
	}
	return nil
}

func (db *memdb) SetPresence(_ context.Context, userID string, online bool, lastSeen time.Time) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	u, ok := db.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.IsOnline = online
	u.LastSeen = lastSeen
	db.users[userID] = u
	return nil
}

func (db *memdb) FriendshipExists(_ context.Context, a, b string) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, ok := db.friendships[[2]string{a, b}]
	return ok, nil
}

func (db *memdb) ListFriendships(_ context.Context, userID string) ([]Friendship, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []Friendship
	for k, f := range db.friendships {
		if k[0] == userID || k[1] == userID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (db *memdb) DeleteFriendship(_ context.Context, a, b string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.friendships[[2]string{a, b}]; !ok {
		return ErrNotFound
	}
	delete(db.friendships, [2]string{a, b})
	return nil
}

func (db *memdb) InsertFriendRequest(_ context.Context, req FriendRequest) (FriendRequest, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, r := range db.requests {
		if r.From == req.From && r.To == req.To && r.Status == RequestPending {
			return FriendRequest{}, ErrConflict
		}
	}
	req.ID = db.nextID("r")
	db.requests[req.ID] = req
	return req, nil
}

func (db *memdb) GetFriendRequest(_ context.Context, id string) (FriendRequest, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	r, ok := db.requests[id]
	if !ok {
		return FriendRequest{}, ErrNotFound
	}
	return r, nil
}

func (db *memdb) PendingRequestExists(_ context.Context, a, b string) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, r := range db.requests {
		if r.Status != RequestPending {
			continue
		}
		if (r.From == a && r.To == b) || (r.From == b && r.To == a) {
			return true, nil
		}
	}
	return false, nil
}

func (db *memdb) ListFriendRequests(_ context.Context, to string, status RequestStatus) ([]FriendRequest, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []FriendRequest
	for _, r := range db.requests {
		if r.To == to && r.Status == status {
			out = append(out, r)
		}
	}
	return out, nil
}

func (db *memdb) AcceptFriendRequest(_ context.Context, id string, at time.Time) (Friendship, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	r, ok := db.requests[id]
	if !ok || r.Status != RequestPending {
		return Friendship{}, ErrNotFound
	}
	x, y := orderedPair(r.From, r.To)
	if _, ok := db.friendships[[2]string{x, y}]; ok {
		return Friendship{}, ErrConflict
	}
	r.Status = RequestAccepted
	r.UpdatedAt = at
	db.requests[id] = r
	f := Friendship{ID: db.nextID("f"), UserA: x, UserB: y, CreatedAt: at}
	db.friendships[[2]string{x, y}] = f
	return f, nil
}

func (db *memdb) RejectFriendRequest(_ context.Context, id string, at time.Time) (FriendRequest, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	r, ok := db.requests[id]
	if !ok || r.Status != RequestPending {
		return FriendRequest{}, ErrNotFound
	}
	r.Status = RequestRejected
	r.UpdatedAt = at
	db.requests[id] = r
	return r, nil
}

func (db *memdb) InsertMessage(_ context.Context, msg Message) (Message, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	msg.ID = db.nextID("m")
	msg.Reactions = []Reaction{}
	msg.ReadBy = []ReadReceipt{}
	db.messages[msg.ID] = msg
	db.order = append(db.order, msg.ID)
	return msg, nil
}

func (db *memdb) GetMessage(_ context.Context, id string) (Message, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	m, ok := db.messages[id]
	if !ok {
		return Message{}, ErrNotFound
	}
	return m, nil
}

func (db *memdb) ListMessages(_ context.Context, conv Conversation, limit, offset int, excludeMsgIDs ...string) ([]Message, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	excluded := make(map[string]bool)
	for _, id := range excludeMsgIDs {
		excluded[id] = true
	}
	var all []Message
	for i := len(db.order) - 1; i >= 0; i-- {
		m, ok := db.messages[db.order[i]]
		if !ok || excluded[m.ID] {
			continue
		}
		if m.Conversation().Key() == conv.Key() {
			all = append(all, m)
		}
	}
	slices.SortFunc(all, newestFirst)
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (db *memdb) UpdateMessageContent(_ context.Context, id, content string, editedAt time.Time) (Message, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	m, ok := db.messages[id]
	if !ok {
		return Message{}, ErrNotFound
	}
	m.Content = content
	m.IsEdited = true
	m.EditedAt = &editedAt
	db.messages[id] = m
	return m, nil
}

func (db *memdb) DeleteMessage(_ context.Context, id string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.messages[id]; !ok {
		return ErrNotFound
	}
	delete(db.messages, id)
	return nil
}

func (db *memdb) ToggleReaction(_ context.Context, messageID string, r Reaction) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	m, ok := db.messages[messageID]
	if !ok {
		return false, ErrNotFound
	}
	kept := make([]Reaction, 0, len(m.Reactions))
	for _, existing := range m.Reactions {
		if existing.UserID != r.UserID || existing.Emoji != r.Emoji {
			kept = append(kept, existing)
		}
	}
	added := len(kept) == len(m.Reactions)
	if added {
		kept = append(kept, r)
	}
	m.Reactions = kept
	db.messages[messageID] = m
	return added, nil
}

func (db *memdb) MarkRead(_ context.Context, sender, reader string, at time.Time) (int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	n := 0
	for id, m := range db.messages {
		if m.From == sender && m.To == reader && !m.ReadByUser(reader) {
			m.ReadBy = append(m.ReadBy, ReadReceipt{UserID: reader, ReadAt: at})
			db.messages[id] = m
			n++
		}
	}
	return n, nil
}

func (db *memdb) CountUnread(_ context.Context, userID string) (int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	n := 0
	for _, m := range db.messages {
		if m.To == userID && !m.ReadByUser(userID) {
			n++
		}
	}
	return n, nil
}
