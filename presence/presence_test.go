package presence

import (
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRegistry_Transitions(t *testing.T) {
	r := New[int]()

	if !r.Register("u1", 1) {
		t.Error("First connection did not bring u1 online")
	}
	if r.Register("u1", 2) {
		t.Error("Second connection reported a transition")
	}
	if !r.Online("u1") {
		t.Error("u1 is not online")
	}
	if r.Unregister("u1", 1) {
		t.Error("Closing one of two connections took u1 offline")
	}
	if !r.Online("u1") {
		t.Error("u1 went offline with a connection left")
	}
	if !r.Unregister("u1", 2) {
		t.Error("Closing the last connection did not take u1 offline")
	}
	if r.Online("u1") {
		t.Error("u1 is still online")
	}
	if r.Unregister("u1", 2) {
		t.Error("Unregistering twice reported a transition")
	}
}

func TestRegistry_Users(t *testing.T) {
	r := New[string]()
	r.Register("u2", "a")
	r.Register("u1", "b")
	r.Register("u1", "c")

	if diff := cmp.Diff([]string{"u1", "u2"}, r.Users()); diff != "" {
		t.Errorf("Users mismatch (-want +got):\n%s", diff)
	}
	if got := r.Count(); got != 2 {
		t.Errorf("Got count %d, want 2", got)
	}
	if got := len(r.Handles("u1")); got != 2 {
		t.Errorf("Got %d handles for u1, want 2", got)
	}

	if diff := cmp.Diff([]string{"u1", "u2"}, r.Close()); diff != "" {
		t.Errorf("Close mismatch (-want +got):\n%s", diff)
	}
	if r.Register("u3", "d") || r.Count() != 0 {
		t.Error("Closed registry accepted a connection")
	}
}

func TestRegistry_Concurrent(t *testing.T) {
	r := New[int]()
	var wg sync.WaitGroup
	var mu sync.Mutex
	online, offline := 0, 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprintf("u%d", i%5)
			if r.Register(user, i) {
				mu.Lock()
				online++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if r.Unregister(fmt.Sprintf("u%d", i%5), i) {
				mu.Lock()
				offline++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if online != 5 || offline != 5 {
		t.Errorf("Got %d online and %d offline transitions, want 5 each", online, offline)
	}
	if r.Count() != 0 {
		t.Errorf("Got count %d, want 0", r.Count())
	}
}
