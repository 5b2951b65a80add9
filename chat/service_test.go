package chat

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/neilotoole/slogt"
)

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time { return c.now }

func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestService(t *testing.T) (*Service, *memdb, *clock) {
	t.Helper()
	db := newMemDB()
	for _, id := range []string{"u1", "u2", "u3", "u4"} {
		db.addUser(id)
	}
	db.befriend("u1", "u2")
	c := &clock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	return &Service{
		Logger: slogt.New(t),
		DB:     db,
		Now:    c.Now,
	}, db, c
}

func checkKind(t *testing.T, err error, want Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("Got no error, want %s", want)
	}
	if got := KindOf(err); got != want {
		t.Fatalf("Got error kind %s (%v), want %s", got, err, want)
	}
}

func TestChannelKey(t *testing.T) {
	if got, want := ChannelKey("b", "a"), "a-b"; got != want {
		t.Errorf("Got key %q, want %q", got, want)
	}
	if ChannelKey("u1", "u2") != ChannelKey("u2", "u1") {
		t.Error("Channel key depends on argument order")
	}
	if ChannelKey("u1", "u2") != ChannelKey("u1", "u2") {
		t.Error("Channel key is not stable")
	}
}

func TestService_CanConverse(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	pairs := [][2]string{{"u1", "u2"}, {"u1", "u3"}, {"u3", "u4"}, {"u1", "u1"}}
	for _, p := range pairs {
		ab, err := svc.CanConverse(ctx, p[0], p[1])
		if err != nil {
			t.Fatal(err)
		}
		ba, err := svc.CanConverse(ctx, p[1], p[0])
		if err != nil {
			t.Fatal(err)
		}
		if ab != ba {
			t.Errorf("CanConverse(%s, %s) = %v but CanConverse(%s, %s) = %v", p[0], p[1], ab, p[1], p[0], ba)
		}
	}
	if ok, _ := svc.CanConverse(ctx, "u2", "u1"); !ok {
		t.Error("Friends cannot converse")
	}
	if ok, _ := svc.CanConverse(ctx, "u3", "u4"); ok {
		t.Error("Strangers can converse")
	}
}

func TestService_Append(t *testing.T) {
	tests := []struct {
		name     string
		from, to string
		payload  Payload
		wantKind Kind
		wantErr  bool
	}{
		{
			name:     "MissingRecipient",
			from:     "u1",
			payload:  Payload{Content: "hi"},
			wantErr:  true,
			wantKind: KindInvalidInput,
		},
		{
			name:     "MissingContent",
			from:     "u1",
			to:       "u2",
			wantErr:  true,
			wantKind: KindInvalidInput,
		},
		{
			name:     "TooLong",
			from:     "u1",
			to:       "u2",
			payload:  Payload{Content: strings.Repeat("é", MaxContentLength+1)},
			wantErr:  true,
			wantKind: KindInvalidInput,
		},
		{
			name:    "MaxLength",
			from:    "u1",
			to:      "u2",
			payload: Payload{Content: strings.Repeat("é", MaxContentLength)},
		},
		{
			name:     "NotFriends",
			from:     "u3",
			to:       "u4",
			payload:  Payload{Content: "hi"},
			wantErr:  true,
			wantKind: KindForbidden,
		},
		{
			name:     "MissingReplyTarget",
			from:     "u1",
			to:       "u2",
			payload:  Payload{Content: "hi", ReplyToID: "nope"},
			wantErr:  true,
			wantKind: KindNotFound,
		},
		{
			name:     "FileTypeWithoutFile",
			from:     "u1",
			to:       "u2",
			payload:  Payload{Content: "hi", Type: TypeImage},
			wantErr:  true,
			wantKind: KindInvalidInput,
		},
		{
			name:    "File",
			from:    "u1",
			to:      "u2",
			payload: Payload{File: &Attachment{Name: "a.pdf", URL: "/uploads/x.pdf", Size: 10}, Type: TypeFile},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _ := newTestService(t)
			v, err := svc.Append(context.Background(), tt.from, tt.to, tt.payload)
			if tt.wantErr {
				checkKind(t, err, tt.wantKind)
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if v.ID == "" {
				t.Error("Got empty message id")
			}
			if v.Sender == nil || v.Sender.ID != tt.from {
				t.Errorf("Got sender %+v, want %s", v.Sender, tt.from)
			}
			if v.Recipient == nil || v.Recipient.ID != tt.to {
				t.Errorf("Got recipient %+v, want %s", v.Recipient, tt.to)
			}
		})
	}
}

func TestService_AppendReply(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Append(ctx, "u1", "u2", Payload{Content: "first"})
	if err != nil {
		t.Fatal(err)
	}
	reply, err := svc.Append(ctx, "u2", "u1", Payload{Content: "reply", ReplyToID: first.ID})
	if err != nil {
		t.Fatal(err)
	}
	if reply.ReplyTo == nil || reply.ReplyTo.ID != first.ID {
		t.Fatalf("Got reply target %+v, want %s", reply.ReplyTo, first.ID)
	}
}

func TestService_AppendReplyOtherConversation(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()
	db.befriend("u3", "u4")

	private, err := svc.Append(ctx, "u3", "u4", Payload{Content: "private"})
	if err != nil {
		t.Fatal(err)
	}
	reply, err := svc.Append(ctx, "u1", "u2", Payload{Content: "reply", ReplyToID: private.ID})
	if err != nil {
		t.Fatal(err)
	}
	if reply.ReplyToID != private.ID {
		t.Errorf("Got reply_to_id %q, want %q", reply.ReplyToID, private.ID)
	}
	if reply.ReplyTo != nil {
		t.Errorf("Got reply target %+v from another conversation, want none", reply.ReplyTo)
	}

	page, err := svc.Page(ctx, "u2", "u1", 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 1 || page[0].ReplyTo != nil {
		t.Errorf("Got page %+v, want one message without reply target", page)
	}
}

func TestService_PageRoundTrip(t *testing.T) {
	svc, _, c := newTestService(t)
	ctx := context.Background()

	sent, err := svc.Append(ctx, "u1", "u2", Payload{Content: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if sent.Type != TypeText {
		t.Errorf("Got type %q, want text", sent.Type)
	}
	if n, _ := svc.UnreadCount(ctx, "u2"); n != 1 {
		t.Errorf("Got unread count %d before paging, want 1", n)
	}

	c.Advance(time.Second)
	page, err := svc.Page(ctx, "u2", "u1", 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 1 {
		t.Fatalf("Got %d messages, want 1", len(page))
	}
	got := page[0].Message
	want := sent.Message
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Paged message mismatch (-want +got):\n%s", diff)
	}

	if n, _ := svc.UnreadCount(ctx, "u2"); n != 0 {
		t.Errorf("Got unread count %d for reader after paging, want 0", n)
	}
	if n, _ := svc.UnreadCount(ctx, "u1"); n != 0 {
		t.Errorf("Got unread count %d for sender, want 0", n)
	}
	stored, err := svc.GetMessage(ctx, sent.ID)
	if err != nil {
		t.Fatal(err)
	}
	wantReceipts := []ReadReceipt{{UserID: "u2", ReadAt: c.now}}
	if diff := cmp.Diff(wantReceipts, stored.ReadBy); diff != "" {
		t.Errorf("Read receipts mismatch (-want +got):\n%s", diff)
	}

	// A second page read does not stamp again.
	if _, err := svc.Page(ctx, "u2", "u1", 1, 0); err != nil {
		t.Fatal(err)
	}
	stored, _ = svc.GetMessage(ctx, sent.ID)
	if len(stored.ReadBy) != 1 {
		t.Errorf("Got %d read receipts, want 1", len(stored.ReadBy))
	}
}

func TestService_PageOrder(t *testing.T) {
	svc, _, c := newTestService(t)
	ctx := context.Background()

	var ids []string
	for _, text := range []string{"one", "two", "three"} {
		v, err := svc.Append(ctx, "u1", "u2", Payload{Content: text})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, v.ID)
		c.Advance(time.Second)
	}

	contents := func(views []MessageView) []string {
		out := make([]string, len(views))
		for i, v := range views {
			out[i] = v.Content
		}
		return out
	}

	first, err := svc.Page(ctx, "u1", "u2", 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"two", "three"}, contents(first)); diff != "" {
		t.Errorf("First page mismatch (-want +got):\n%s", diff)
	}
	second, err := svc.Page(ctx, "u1", "u2", 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"one"}, contents(second)); diff != "" {
		t.Errorf("Second page mismatch (-want +got):\n%s", diff)
	}
}

func TestService_PageSameTimestamp(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	// The clock never moves, so every message shares its creation time.
	var want []string
	for i := 0; i < 5; i++ {
		v, err := svc.Append(ctx, "u1", "u2", Payload{Content: fmt.Sprintf("msg %d", i)})
		if err != nil {
			t.Fatal(err)
		}
		want = append(want, v.ID)
	}
	slices.Sort(want)

	pageIDs := func(page int) []string {
		t.Helper()
		views, err := svc.Page(ctx, "u1", "u2", page, 2)
		if err != nil {
			t.Fatal(err)
		}
		out := make([]string, len(views))
		for i, v := range views {
			out[i] = v.ID
		}
		return out
	}

	var got []string
	for page := 3; page >= 1; page-- {
		got = append(got, pageIDs(page)...)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Paged ids mismatch (-want +got):\n%s", diff)
	}

	// A cache listing the newest messages in another order yields the same page.
	uncached := pageIDs(1)
	newest := make([]Message, 0, 2)
	for _, id := range want[len(want)-2:] {
		m, err := svc.DB.GetMessage(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		newest = append(newest, m)
	}
	svc.Cache = &testcache{
		T: t,
		listMessages: func(t *testing.T, key string) ([]Message, error) {
			return newest, nil
		},
		insertMessage: func(t *testing.T, key string, msg Message) error { return nil },
		invalidate:    func(t *testing.T, key string) error { return nil },
	}
	if diff := cmp.Diff(uncached, pageIDs(1)); diff != "" {
		t.Errorf("Cached page mismatch (-want +got):\n%s", diff)
	}
}

func TestService_PageForbidden(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Page(context.Background(), "u3", "u4", 1, 50)
	checkKind(t, err, KindForbidden)
}

func TestService_PageCache(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()
	older, _ := db.InsertMessage(ctx, Message{From: "u1", To: "u2", Content: "older", Type: TypeText,
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)})
	newer, _ := db.InsertMessage(ctx, Message{From: "u2", To: "u1", Content: "newer", Type: TypeText,
		CreatedAt: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)})

	var inserted []string
	svc.Cache = &testcache{
		T: t,
		listMessages: func(t *testing.T, key string) ([]Message, error) {
			if key != "u1-u2" {
				t.Errorf("Got key %q, want u1-u2", key)
			}
			return []Message{newer}, nil
		},
		insertMessage: func(t *testing.T, key string, msg Message) error {
			inserted = append(inserted, msg.ID)
			return nil
		},
		invalidate: func(t *testing.T, key string) error { return nil },
	}

	page, err := svc.Page(ctx, "u1", "u2", 1, 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].ID != older.ID || page[1].ID != newer.ID {
		t.Fatalf("Got page %+v, want [%s %s]", page, older.ID, newer.ID)
	}
	if len(inserted) != 0 {
		t.Errorf("Warm cache was refilled with %v", inserted)
	}
}

func TestService_PageCacheError(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	if _, err := svc.Append(ctx, "u1", "u2", Payload{Content: "hi"}); err != nil {
		t.Fatal(err)
	}
	svc.Cache = &testcache{
		T: t,
		listMessages: func(t *testing.T, key string) ([]Message, error) {
			return nil, errors.New("something went wrong")
		},
		insertMessage: func(t *testing.T, key string, msg Message) error { return nil },
		invalidate:    func(t *testing.T, key string) error { return nil },
	}
	page, err := svc.Page(ctx, "u2", "u1", 1, 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 1 {
		t.Errorf("Got %d messages, want 1", len(page))
	}
}

func TestService_Edit(t *testing.T) {
	tests := []struct {
		name     string
		editor   string
		after    time.Duration
		content  string
		wantKind Kind
		wantErr  bool
	}{
		{name: "InsideWindow", editor: "u1", after: 4*time.Minute + 59*time.Second, content: "edited"},
		{name: "OutsideWindow", editor: "u1", after: 5*time.Minute + time.Second, content: "edited", wantErr: true, wantKind: KindForbidden},
		{name: "NotSender", editor: "u2", after: time.Second, content: "edited", wantErr: true, wantKind: KindForbidden},
		{name: "Empty", editor: "u1", after: time.Second, content: " ", wantErr: true, wantKind: KindInvalidInput},
		{name: "TooLong", editor: "u1", after: time.Second, content: strings.Repeat("a", MaxContentLength+1), wantErr: true, wantKind: KindInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, c := newTestService(t)
			ctx := context.Background()
			msg, err := svc.Append(ctx, "u1", "u2", Payload{Content: "original"})
			if err != nil {
				t.Fatal(err)
			}
			c.Advance(tt.after)

			got, err := svc.Edit(ctx, msg.ID, tt.editor, tt.content)
			if tt.wantErr {
				checkKind(t, err, tt.wantKind)
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got.Content != tt.content || !got.IsEdited {
				t.Errorf("Got content %q edited %v, want %q edited", got.Content, got.IsEdited, tt.content)
			}
			if got.EditedAt == nil || !got.EditedAt.Equal(c.now) {
				t.Errorf("Got edited at %v, want %v", got.EditedAt, c.now)
			}
		})
	}

	t.Run("NotFound", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		_, err := svc.Edit(context.Background(), "missing", "u1", "x")
		checkKind(t, err, KindNotFound)
	})
}

func TestService_Delete(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	msg, err := svc.Append(ctx, "u1", "u2", Payload{Content: "bye"})
	if err != nil {
		t.Fatal(err)
	}

	checkKind(t, svc.Delete(ctx, msg.ID, "u2"), KindForbidden)
	if err := svc.Delete(ctx, msg.ID, "u1"); err != nil {
		t.Fatal(err)
	}
	checkKind(t, svc.Delete(ctx, msg.ID, "u1"), KindNotFound)
}

func TestService_ToggleReaction(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	msg, err := svc.Append(ctx, "u1", "u2", Payload{Content: "hi"})
	if err != nil {
		t.Fatal(err)
	}

	added, err := svc.ToggleReaction(ctx, msg.ID, "u2", "❤️")
	if err != nil {
		t.Fatal(err)
	}
	if len(added.Reactions) != 1 || added.Reactions[0].UserID != "u2" || added.Reactions[0].Emoji != "❤️" {
		t.Fatalf("Got reactions %+v after first toggle, want one from u2", added.Reactions)
	}

	if _, err := svc.ToggleReaction(ctx, msg.ID, "u1", "👍"); err != nil {
		t.Fatal(err)
	}
	removed, err := svc.ToggleReaction(ctx, msg.ID, "u2", "❤️")
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range removed.Reactions {
		if r.UserID == "u2" && r.Emoji == "❤️" {
			t.Errorf("Reaction still present after second toggle: %+v", removed.Reactions)
		}
	}
	if len(removed.Reactions) != 1 {
		t.Errorf("Got %d reactions, want the other user's reaction only", len(removed.Reactions))
	}

	_, err = svc.ToggleReaction(ctx, msg.ID, "u3", "❤️")
	checkKind(t, err, KindForbidden)
	_, err = svc.ToggleReaction(ctx, msg.ID, "u2", "")
	checkKind(t, err, KindInvalidInput)
	_, err = svc.ToggleReaction(ctx, "missing", "u2", "❤️")
	checkKind(t, err, KindNotFound)
}

func TestService_MarkDelivered(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := svc.Append(ctx, "u1", "u2", Payload{Content: "ping"}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := svc.Append(ctx, "u2", "u1", Payload{Content: "pong"}); err != nil {
		t.Fatal(err)
	}

	conv := Conversation{A: "u1", B: "u2"}
	n, err := svc.MarkDelivered(ctx, conv, "u2")
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("Got %d stamped messages, want 3", n)
	}
	if n, _ := svc.MarkDelivered(ctx, conv, "u2"); n != 0 {
		t.Errorf("Got %d stamped messages on repeat, want 0", n)
	}
	if n, _ := svc.UnreadCount(ctx, "u1"); n != 1 {
		t.Errorf("Got unread count %d for u1, want 1", n)
	}
	_, err = svc.MarkDelivered(ctx, conv, "u3")
	checkKind(t, err, KindForbidden)
}

func TestService_FriendRequests(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.SendFriendRequest(ctx, "u3", "u3")
	checkKind(t, err, KindInvalidOperation)
	_, err = svc.SendFriendRequest(ctx, "u1", "u2")
	checkKind(t, err, KindInvalidOperation)
	_, err = svc.SendFriendRequest(ctx, "u3", "ghost")
	checkKind(t, err, KindNotFound)
	_, err = svc.SendFriendRequest(ctx, "u3", "")
	checkKind(t, err, KindInvalidInput)

	req, err := svc.SendFriendRequest(ctx, "u3", "u4")
	if err != nil {
		t.Fatal(err)
	}
	if req.Status != RequestPending {
		t.Errorf("Got status %q, want pending", req.Status)
	}
	_, err = svc.SendFriendRequest(ctx, "u3", "u4")
	checkKind(t, err, KindInvalidOperation)
	_, err = svc.SendFriendRequest(ctx, "u4", "u3")
	checkKind(t, err, KindInvalidOperation)

	incoming, err := svc.IncomingRequests(ctx, "u4")
	if err != nil {
		t.Fatal(err)
	}
	if len(incoming) != 1 || incoming[0].ID != req.ID {
		t.Errorf("Got incoming %+v, want [%s]", incoming, req.ID)
	}

	_, err = svc.AcceptRequest(ctx, req.ID, "u3")
	checkKind(t, err, KindForbidden)

	f, err := svc.AcceptRequest(ctx, req.ID, "u4")
	if err != nil {
		t.Fatal(err)
	}
	if f.UserA != "u3" || f.UserB != "u4" {
		t.Errorf("Got friendship %+v, want u3/u4", f)
	}
	if len(db.friendships) != 2 {
		t.Errorf("Got %d friendships, want 2", len(db.friendships))
	}
	stored, _ := db.GetFriendRequest(ctx, req.ID)
	if stored.Status != RequestAccepted {
		t.Errorf("Got status %q, want accepted", stored.Status)
	}

	_, err = svc.AcceptRequest(ctx, req.ID, "u4")
	checkKind(t, err, KindInvalidOperation)
	_, err = svc.RejectRequest(ctx, req.ID, "u4")
	checkKind(t, err, KindInvalidOperation)
	_, err = svc.AcceptRequest(ctx, "missing", "u4")
	checkKind(t, err, KindNotFound)

	if ok, _ := svc.CanConverse(ctx, "u4", "u3"); !ok {
		t.Error("Accepted friends cannot converse")
	}
}

func TestService_AcceptWhenAlreadyFriends(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()

	req, err := db.InsertFriendRequest(ctx, FriendRequest{From: "u2", To: "u1", Status: RequestPending})
	if err != nil {
		t.Fatal(err)
	}
	_, err = svc.AcceptRequest(ctx, req.ID, "u1")
	checkKind(t, err, KindConflict)
	if len(db.friendships) != 1 {
		t.Errorf("Got %d friendships, want 1", len(db.friendships))
	}
}

func TestService_RejectRequest(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	req, err := svc.SendFriendRequest(ctx, "u3", "u4")
	if err != nil {
		t.Fatal(err)
	}
	got, err := svc.RejectRequest(ctx, req.ID, "u4")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != RequestRejected {
		t.Errorf("Got status %q, want rejected", got.Status)
	}
	if ok, _ := svc.CanConverse(ctx, "u3", "u4"); ok {
		t.Error("Rejected request created a friendship")
	}
	// A rejected request does not block a new one.
	if _, err := svc.SendFriendRequest(ctx, "u3", "u4"); err != nil {
		t.Errorf("Could not resend after rejection: %v", err)
	}
}

func TestService_FriendsAndRemove(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	friends, err := svc.Friends(ctx, "u2")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]PublicUser{{ID: "u1", Username: "u1"}}, friends); diff != "" {
		t.Errorf("Friends mismatch (-want +got):\n%s", diff)
	}

	if err := svc.RemoveFriend(ctx, "u2", "u1"); err != nil {
		t.Fatal(err)
	}
	checkKind(t, svc.RemoveFriend(ctx, "u2", "u1"), KindNotFound)
	if ok, _ := svc.CanConverse(ctx, "u1", "u2"); ok {
		t.Error("Removed friends can still converse")
	}
}

func TestService_DeleteAccount(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()
	if _, err := svc.Append(ctx, "u1", "u2", Payload{Content: "hi"}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.SendFriendRequest(ctx, "u3", "u1"); err != nil {
		t.Fatal(err)
	}

	if err := svc.DeleteAccount(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	if len(db.messages) != 0 || len(db.requests) != 0 || len(db.friendships) != 0 {
		t.Errorf("Got %d messages, %d requests, %d friendships after delete, want none",
			len(db.messages), len(db.requests), len(db.friendships))
	}
	_, err := svc.GetUser(ctx, "u1")
	checkKind(t, err, KindNotFound)
}

func TestService_CreateUser(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	u, err := svc.CreateUser(ctx, "alice", "hash")
	if err != nil {
		t.Fatal(err)
	}
	if u.ID == "" || u.Username != "alice" {
		t.Errorf("Got user %+v", u)
	}
	_, err = svc.CreateUser(ctx, "alice", "hash")
	checkKind(t, err, KindConflict)
	_, err = svc.CreateUser(ctx, "", "hash")
	checkKind(t, err, KindInvalidInput)
}

func TestErrorKinds(t *testing.T) {
	wrapped := errors.Join(errors.New("context"), Errorf(KindNotFound, "Message not found"))
	if KindOf(wrapped) != KindNotFound {
		t.Errorf("Got kind %s, want not_found", KindOf(wrapped))
	}
	if ReasonOf(wrapped) != "Message not found" {
		t.Errorf("Got reason %q", ReasonOf(wrapped))
	}
	if KindOf(errors.New("boom")) != KindInternal {
		t.Error("Unclassified error is not internal")
	}
	if ReasonOf(errors.New("boom")) != "Server error" {
		t.Error("Unclassified error leaks its message")
	}
}

type testcache struct {
	T             *testing.T
	listMessages  func(t *testing.T, key string) ([]Message, error)
	insertMessage func(t *testing.T, key string, msg Message) error
	removeMessage func(t *testing.T, key, msgID string) error
	invalidate    func(t *testing.T, key string) error
}

func (c *testcache) ListMessages(_ context.Context, key string) ([]Message, error) {
	return c.listMessages(c.T, key)
}

func (c *testcache) InsertMessage(_ context.Context, key string, msg Message) error {
	return c.insertMessage(c.T, key, msg)
}

func (c *testcache) RemoveMessage(_ context.Context, key, msgID string) error {
	if c.removeMessage == nil {
		return nil
	}
	return c.removeMessage(c.T, key, msgID)
}

func (c *testcache) Invalidate(_ context.Context, key string) error {
	return c.invalidate(c.T, key)
}
