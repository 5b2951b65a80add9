package client

import (
	"slices"
	"sync"
	"time"
)

// TypingTimeout clears a typing indicator when no stop event arrives.
const TypingTimeout = 3 * time.Second

// Typing tracks which users are currently typing.
type Typing struct {
	// Schedule runs the timeout timers. It defaults to time.AfterFunc.
	Schedule Scheduler
	// OnChange is called without locks held when a user starts or stops typing.
	OnChange func(userID string, typing bool)

	mu     sync.Mutex
	active map[string]*typingTimer
}

type typingTimer struct {
	stop func() bool
}

// Start marks userID as typing and restarts its timeout.
func (t *Typing) Start(userID string) {
	t.mu.Lock()
	if t.active == nil {
		t.active = make(map[string]*typingTimer)
	}
	prev, was := t.active[userID]
	if was {
		prev.stop()
	}
	schedule := t.Schedule
	if schedule == nil {
		schedule = afterFunc
	}
	tt := &typingTimer{}
	t.active[userID] = tt
	tt.stop = schedule(TypingTimeout, func() { t.expire(userID, tt) })
	t.mu.Unlock()

	if !was && t.OnChange != nil {
		t.OnChange(userID, true)
	}
}

// Stop clears the typing indicator of userID.
func (t *Typing) Stop(userID string) {
	t.mu.Lock()
	tt, ok := t.active[userID]
	if ok {
		tt.stop()
		delete(t.active, userID)
	}
	t.mu.Unlock()

	if ok && t.OnChange != nil {
		t.OnChange(userID, false)
	}
}

// expire clears userID if tt is still its current timer.
func (t *Typing) expire(userID string, tt *typingTimer) {
	t.mu.Lock()
	cur, ok := t.active[userID]
	ok = ok && cur == tt
	if ok {
		delete(t.active, userID)
	}
	t.mu.Unlock()

	if ok && t.OnChange != nil {
		t.OnChange(userID, false)
	}
}

// IsTyping reports whether userID is typing.
func (t *Typing) IsTyping(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.active[userID]
	return ok
}

// Active returns the users currently typing, sorted.
func (t *Typing) Active() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.active))
	for id := range t.active {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
