// Package client talks to the messaging server and reconciles the history
// returned by the REST endpoints with messages pushed over the live connection.
package client

import (
	"slices"
	"sync"
	"time"

	"github.com/GetStream/direct-messaging/chat"
	"github.com/GetStream/direct-messaging/live"
)

// Status is the delivery indicator shown next to a message. It is derived
// locally and never written back to the server.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

func (s Status) rank() int {
	switch s {
	case StatusDelivered:
		return 1
	case StatusRead:
		return 2
	default:
		return 0
	}
}

const (
	// DeliveredAfter is how long a sent message shows as sent.
	DeliveredAfter = time.Second
	// ReadAfter is how long after sending a message shows as read.
	ReadAfter = 2 * time.Second
)

// A Scheduler runs f after d and returns a function that cancels the call.
type Scheduler func(d time.Duration, f func()) (stop func() bool)

func afterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// An Entry is a message of the view together with its delivery status.
type Entry struct {
	Message chat.MessageView
	Status  Status
}

// View is the reconciled state of one conversation as seen by Self. Messages
// are identified by id only, so a message arriving both in a REST response and
// over the live connection is kept once.
type View struct {
	Self string
	Peer string

	// Schedule runs the delivery status timers. It defaults to time.AfterFunc.
	Schedule Scheduler
	// OnChange is called without locks held after the view changed.
	OnChange func()

	mu     sync.Mutex
	msgs   map[string]chat.MessageView
	status map[string]Status
	order  []string
	stops  []func() bool
	closed bool
}

// NewView returns an empty view of the conversation between self and peer.
func NewView(self, peer string) *View {
	return &View{Self: self, Peer: peer}
}

func (v *View) init() {
	if v.msgs == nil {
		v.msgs = make(map[string]chat.MessageView)
		v.status = make(map[string]Status)
	}
}

func (v *View) changed() {
	if v.OnChange != nil {
		v.OnChange()
	}
}

func (v *View) belongs(m chat.MessageView) bool {
	c := chat.Conversation{A: v.Self, B: v.Peer}
	return c.Includes(m.From) && c.Includes(m.To) && m.From != m.To
}

// Load replaces the view with a page of history. Own messages show as read,
// messages from the peer as delivered.
func (v *View) Load(history []chat.MessageView) {
	v.mu.Lock()
	v.stopTimers()
	v.msgs, v.status, v.order = nil, nil, nil
	v.init()
	for _, m := range history {
		if !v.belongs(m) {
			continue
		}
		st := StatusDelivered
		if m.From == v.Self {
			st = StatusRead
		}
		v.insert(m, st)
	}
	v.mu.Unlock()
	v.changed()
}

// Prepend merges an older page of history into the view.
func (v *View) Prepend(history []chat.MessageView) int {
	v.mu.Lock()
	v.init()
	n := 0
	for _, m := range history {
		if !v.belongs(m) {
			continue
		}
		st := StatusDelivered
		if m.From == v.Self {
			st = StatusRead
		}
		if v.insert(m, st) {
			n++
		}
	}
	v.mu.Unlock()
	if n > 0 {
		v.changed()
	}
	return n
}

// Add merges a message received over the live connection. It reports whether
// the message was new.
func (v *View) Add(m chat.MessageView) bool {
	v.mu.Lock()
	v.init()
	added := v.belongs(m) && v.insert(m, StatusDelivered)
	v.mu.Unlock()
	if added {
		v.changed()
	}
	return added
}

// AddSent merges a message Self just created. It shows as sent and moves to
// delivered and read on timers.
func (v *View) AddSent(m chat.MessageView) bool {
	v.mu.Lock()
	v.init()
	added := v.belongs(m) && m.From == v.Self && v.insert(m, StatusSent)
	if added && !v.closed {
		schedule := v.Schedule
		if schedule == nil {
			schedule = afterFunc
		}
		id := m.ID
		v.stops = append(v.stops,
			schedule(DeliveredAfter, func() { v.advance(id, StatusDelivered) }),
			schedule(ReadAfter, func() { v.advance(id, StatusRead) }),
		)
	}
	v.mu.Unlock()
	if added {
		v.changed()
	}
	return added
}

// insert must be called with mu held.
func (v *View) insert(m chat.MessageView, st Status) bool {
	if _, ok := v.msgs[m.ID]; ok {
		return false
	}
	v.msgs[m.ID] = m
	v.status[m.ID] = st
	// Keep order by creation time. Live messages usually arrive last.
	i := len(v.order)
	for i > 0 && v.msgs[v.order[i-1]].CreatedAt.After(m.CreatedAt) {
		i--
	}
	v.order = slices.Insert(v.order, i, m.ID)
	return true
}

// advance moves the status of id forward to st. Statuses never go back.
func (v *View) advance(id string, st Status) {
	v.mu.Lock()
	cur, ok := v.status[id]
	moved := ok && st.rank() > cur.rank()
	if moved {
		v.status[id] = st
	}
	v.mu.Unlock()
	if moved {
		v.changed()
	}
}

// ApplyReaction applies a reaction event. When the event carries the full
// reaction list it replaces the stored one, otherwise the single reaction is
// toggled.
func (v *View) ApplyReaction(ev live.ReactionEvent) bool {
	v.mu.Lock()
	m, ok := v.msgs[ev.MessageID]
	if ok {
		if ev.Reactions != nil {
			m.Reactions = slices.Clone(ev.Reactions)
		} else {
			m.Reactions = toggle(m.Reactions, ev.UserID, ev.Emoji)
		}
		v.msgs[ev.MessageID] = m
	}
	v.mu.Unlock()
	if ok {
		v.changed()
	}
	return ok
}

func toggle(rs []chat.Reaction, userID, emoji string) []chat.Reaction {
	i := slices.IndexFunc(rs, func(r chat.Reaction) bool {
		return r.UserID == userID && r.Emoji == emoji
	})
	if i >= 0 {
		return slices.Delete(slices.Clone(rs), i, i+1)
	}
	return append(slices.Clone(rs), chat.Reaction{UserID: userID, Emoji: emoji, CreatedAt: time.Now()})
}

// ApplyEdit replaces the content of a message with the edited version.
func (v *View) ApplyEdit(m chat.MessageView) bool {
	v.mu.Lock()
	cur, ok := v.msgs[m.ID]
	if ok {
		cur.Content = m.Content
		cur.IsEdited = m.IsEdited
		cur.EditedAt = m.EditedAt
		v.msgs[m.ID] = cur
	}
	v.mu.Unlock()
	if ok {
		v.changed()
	}
	return ok
}

// Remove drops a message from the view.
func (v *View) Remove(id string) bool {
	v.mu.Lock()
	_, ok := v.msgs[id]
	if ok {
		delete(v.msgs, id)
		delete(v.status, id)
		v.order = slices.DeleteFunc(v.order, func(s string) bool { return s == id })
	}
	v.mu.Unlock()
	if ok {
		v.changed()
	}
	return ok
}

// Entries returns the messages of the view oldest first.
func (v *View) Entries() []Entry {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]Entry, len(v.order))
	for i, id := range v.order {
		out[i] = Entry{Message: v.msgs[id], Status: v.status[id]}
	}
	return out
}

// Status returns the delivery status of the message with the given id.
func (v *View) Status(id string) (Status, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	st, ok := v.status[id]
	return st, ok
}

// Len returns the number of messages in the view.
func (v *View) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.order)
}

// Close cancels pending status timers.
func (v *View) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	v.stopTimers()
}

// stopTimers must be called with mu held.
func (v *View) stopTimers() {
	for _, stop := range v.stops {
		stop()
	}
	v.stops = nil
}
