// Package postgres implements the chat storage layer on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/GetStream/direct-messaging/chat"
)

// Postgres provides storage in PostgreSQL.
type Postgres struct {
	bun *bun.DB
}

// Connect connects to the database and ping the DB to ensure the connection is
// working.
func Connect(ctx context.Context, connStr string) (*Postgres, error) {
	sqlDB := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(connStr)))
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	db := bun.NewDB(sqlDB, pgdialect.New())
	return &Postgres{
		bun: db,
	}, nil
}

// Ping checks that the database is reachable.
func (pg *Postgres) Ping(ctx context.Context) error {
	return pg.bun.PingContext(ctx)
}

// Close closes the connection pool.
func (pg *Postgres) Close() error {
	return pg.bun.Close()
}

type table struct {
	model       any
	foreignKeys []string
}

var tables = []table{
	{model: (*user)(nil)},
	{model: (*friendship)(nil), foreignKeys: []string{
		`("user_a") REFERENCES "users" ("id") ON DELETE CASCADE`,
		`("user_b") REFERENCES "users" ("id") ON DELETE CASCADE`,
	}},
	{model: (*friendRequest)(nil), foreignKeys: []string{
		`("from_id") REFERENCES "users" ("id") ON DELETE CASCADE`,
		`("to_id") REFERENCES "users" ("id") ON DELETE CASCADE`,
	}},
	{model: (*message)(nil), foreignKeys: []string{
		`("from_id") REFERENCES "users" ("id") ON DELETE CASCADE`,
		`("to_id") REFERENCES "users" ("id") ON DELETE CASCADE`,
		`("reply_to_id") REFERENCES "messages" ("id") ON DELETE SET NULL`,
	}},
	{model: (*reaction)(nil), foreignKeys: []string{
		`("message_id") REFERENCES "messages" ("id") ON DELETE CASCADE`,
		`("user_id") REFERENCES "users" ("id") ON DELETE CASCADE`,
	}},
	{model: (*readReceipt)(nil), foreignKeys: []string{
		`("message_id") REFERENCES "messages" ("id") ON DELETE CASCADE`,
		`("user_id") REFERENCES "users" ("id") ON DELETE CASCADE`,
	}},
}

// Migrate creates the schema if it does not exist yet.
func (pg *Postgres) Migrate(ctx context.Context) error {
	if _, err := pg.bun.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS "uuid-ossp"`); err != nil {
		return fmt.Errorf("create extension: %w", err)
	}
	for _, t := range tables {
		q := pg.bun.NewCreateTable().Model(t.model).IfNotExists()
		for _, fk := range t.foreignKeys {
			q = q.ForeignKey(fk)
		}
		if _, err := q.Exec(ctx); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	// At most one pending request per direction.
	if _, err := pg.bun.NewCreateIndex().
		Model((*friendRequest)(nil)).
		Index("friend_requests_pending_idx").
		IfNotExists().
		Unique().
		Column("from_id", "to_id").
		Where("status = 'pending'").
		Exec(ctx); err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	if _, err := pg.bun.NewCreateIndex().
		Model((*message)(nil)).
		Index("messages_conversation_idx").
		IfNotExists().
		Column("from_id", "to_id", "created_at").
		Exec(ctx); err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	return nil
}

// wrap maps driver errors onto the chat sentinels.
func wrap(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, chat.ErrNotFound)
	}
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) && pgErr.IntegrityViolation() {
		return fmt.Errorf("%s: %w", op, chat.ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// validID reports whether id can be compared against a uuid column.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func validIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if validID(id) {
			out = append(out, id)
		}
	}
	return out
}

func affected(op string, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, chat.ErrNotFound)
	}
	return nil
}

// GetUser returns the user with the given id.
func (pg *Postgres) GetUser(ctx context.Context, id string) (chat.User, error) {
	if !validID(id) {
		return chat.User{}, chat.ErrNotFound
	}
	var u user
	if err := pg.bun.NewSelect().Model(&u).Where("u.id = ?", id).Scan(ctx); err != nil {
		return chat.User{}, wrap("select user", err)
	}
	return u.chatUser(), nil
}

// GetUserByUsername returns the user with the given username.
func (pg *Postgres) GetUserByUsername(ctx context.Context, username string) (chat.User, error) {
	var u user
	if err := pg.bun.NewSelect().Model(&u).Where("u.username = ?", username).Scan(ctx); err != nil {
		return chat.User{}, wrap("select user", err)
	}
	return u.chatUser(), nil
}

// ListUsers returns the users with the given ids. Unknown ids are skipped.
func (pg *Postgres) ListUsers(ctx context.Context, ids ...string) ([]chat.User, error) {
	ids = validIDs(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	var users []user
	if err := pg.bun.NewSelect().Model(&users).Where("u.id IN (?)", bun.In(ids)).Scan(ctx); err != nil {
		return nil, wrap("select users", err)
	}
	out := make([]chat.User, len(users))
	for i, u := range users {
		out[i] = u.chatUser()
	}
	return out, nil
}

// InsertUser inserts a user. A taken username yields chat.ErrConflict.
func (pg *Postgres) InsertUser(ctx context.Context, u chat.User) (chat.User, error) {
	m := &user{
		Username:     u.Username,
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt,
	}
	if _, err := pg.bun.NewInsert().Model(m).Exec(ctx); err != nil {
		return chat.User{}, wrap("insert user", err)
	}
	return m.chatUser(), nil
}

// DeleteUser deletes the user. Foreign keys cascade the delete to every
// friendship, request, message, reaction and receipt of the user.
func (pg *Postgres) DeleteUser(ctx context.Context, id string) error {
	if !validID(id) {
		return chat.ErrNotFound
	}
	res, err := pg.bun.NewDelete().Model((*user)(nil)).Where("id = ?", id).Exec(ctx)
	if err != nil {
		return wrap("delete user", err)
	}
	return affected("delete user", res)
}

// SetPresence updates the online flag and last-seen time of a user.
func (pg *Postgres) SetPresence(ctx context.Context, userID string, online bool, lastSeen time.Time) error {
	if !validID(userID) {
		return chat.ErrNotFound
	}
	res, err := pg.bun.NewUpdate().
		Model((*user)(nil)).
		Set("is_online = ?", online).
		Set("last_seen = ?", lastSeen).
		Where("id = ?", userID).
		Exec(ctx)
	if err != nil {
		return wrap("update presence", err)
	}
	return affected("update presence", res)
}

// FriendshipExists reports whether the sorted pair (a, b) are friends.
func (pg *Postgres) FriendshipExists(ctx context.Context, a, b string) (bool, error) {
	if !validID(a) || !validID(b) {
		return false, nil
	}
	ok, err := pg.bun.NewSelect().
		Model((*friendship)(nil)).
		Where("f.user_a = ? AND f.user_b = ?", a, b).
		Exists(ctx)
	if err != nil {
		return false, wrap("select friendship", err)
	}
	return ok, nil
}

// ListFriendships returns the friendships of userID.
func (pg *Postgres) ListFriendships(ctx context.Context, userID string) ([]chat.Friendship, error) {
	if !validID(userID) {
		return nil, nil
	}
	var rows []friendship
	if err := pg.bun.NewSelect().
		Model(&rows).
		Where("f.user_a = ? OR f.user_b = ?", userID, userID).
		Order("f.created_at").
		Scan(ctx); err != nil {
		return nil, wrap("select friendships", err)
	}
	out := make([]chat.Friendship, len(rows))
	for i, f := range rows {
		out[i] = f.chatFriendship()
	}
	return out, nil
}

// DeleteFriendship deletes the friendship of the sorted pair (a, b).
func (pg *Postgres) DeleteFriendship(ctx context.Context, a, b string) error {
	if !validID(a) || !validID(b) {
		return chat.ErrNotFound
	}
	res, err := pg.bun.NewDelete().
		Model((*friendship)(nil)).
		Where("user_a = ? AND user_b = ?", a, b).
		Exec(ctx)
	if err != nil {
		return wrap("delete friendship", err)
	}
	return affected("delete friendship", res)
}

// InsertFriendRequest inserts a request. A second pending request in the same
// direction yields chat.ErrConflict.
func (pg *Postgres) InsertFriendRequest(ctx context.Context, req chat.FriendRequest) (chat.FriendRequest, error) {
	m := &friendRequest{
		FromID:    req.From,
		ToID:      req.To,
		Status:    string(req.Status),
		CreatedAt: req.CreatedAt,
		UpdatedAt: req.UpdatedAt,
	}
	if _, err := pg.bun.NewInsert().Model(m).Exec(ctx); err != nil {
		return chat.FriendRequest{}, wrap("insert friend request", err)
	}
	return m.chatRequest(), nil
}

// GetFriendRequest returns the request with the given id.
func (pg *Postgres) GetFriendRequest(ctx context.Context, id string) (chat.FriendRequest, error) {
	if !validID(id) {
		return chat.FriendRequest{}, chat.ErrNotFound
	}
	var r friendRequest
	if err := pg.bun.NewSelect().Model(&r).Where("fr.id = ?", id).Scan(ctx); err != nil {
		return chat.FriendRequest{}, wrap("select friend request", err)
	}
	return r.chatRequest(), nil
}

// PendingRequestExists reports a pending request between a and b in either direction.
func (pg *Postgres) PendingRequestExists(ctx context.Context, a, b string) (bool, error) {
	if !validID(a) || !validID(b) {
		return false, nil
	}
	ok, err := pg.bun.NewSelect().
		Model((*friendRequest)(nil)).
		Where("fr.status = ?", chat.RequestPending).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where("fr.from_id = ? AND fr.to_id = ?", a, b).
				WhereOr("fr.from_id = ? AND fr.to_id = ?", b, a)
		}).
		Exists(ctx)
	if err != nil {
		return false, wrap("select friend request", err)
	}
	return ok, nil
}

// ListFriendRequests returns the requests addressed to a user with the given
// status, newest first.
func (pg *Postgres) ListFriendRequests(ctx context.Context, to string, status chat.RequestStatus) ([]chat.FriendRequest, error) {
	if !validID(to) {
		return nil, nil
	}
	var rows []friendRequest
	if err := pg.bun.NewSelect().
		Model(&rows).
		Where("fr.to_id = ? AND fr.status = ?", to, status).
		Order("fr.created_at DESC").
		Scan(ctx); err != nil {
		return nil, wrap("select friend requests", err)
	}
	out := make([]chat.FriendRequest, len(rows))
	for i, r := range rows {
		out[i] = r.chatRequest()
	}
	return out, nil
}

// settleRequest moves a pending request to status. It fails with
// chat.ErrNotFound when the request is missing or no longer pending.
func settleRequest(ctx context.Context, db bun.IDB, id string, status chat.RequestStatus, at time.Time) (friendRequest, error) {
	var r friendRequest
	err := db.NewUpdate().
		Model(&r).
		Set("status = ?", status).
		Set("updated_at = ?", at).
		Where("id = ? AND status = ?", id, chat.RequestPending).
		Returning("*").
		Scan(ctx)
	if err != nil {
		return friendRequest{}, wrap("update friend request", err)
	}
	return r, nil
}

// AcceptFriendRequest marks the request accepted and creates the friendship in
// one transaction.
func (pg *Postgres) AcceptFriendRequest(ctx context.Context, id string, at time.Time) (chat.Friendship, error) {
	if !validID(id) {
		return chat.Friendship{}, chat.ErrNotFound
	}
	var f friendship
	err := pg.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		r, err := settleRequest(ctx, tx, id, chat.RequestAccepted, at)
		if err != nil {
			return err
		}
		f = friendship{UserA: r.FromID, UserB: r.ToID, CreatedAt: at}
		if f.UserB < f.UserA {
			f.UserA, f.UserB = f.UserB, f.UserA
		}
		if _, err := tx.NewInsert().Model(&f).Exec(ctx); err != nil {
			return wrap("insert friendship", err)
		}
		return nil
	})
	if err != nil {
		return chat.Friendship{}, err
	}
	return f.chatFriendship(), nil
}

// RejectFriendRequest marks the request rejected.
func (pg *Postgres) RejectFriendRequest(ctx context.Context, id string, at time.Time) (chat.FriendRequest, error) {
	if !validID(id) {
		return chat.FriendRequest{}, chat.ErrNotFound
	}
	r, err := settleRequest(ctx, pg.bun, id, chat.RequestRejected, at)
	if err != nil {
		return chat.FriendRequest{}, err
	}
	return r.chatRequest(), nil
}

// InsertMessage inserts a message into the database. The returned message
// holds auto generated fields, such as the message id.
func (pg *Postgres) InsertMessage(ctx context.Context, msg chat.Message) (chat.Message, error) {
	m := newMessage(msg)
	if _, err := pg.bun.NewInsert().Model(m).Exec(ctx); err != nil {
		return chat.Message{}, wrap("insert message", err)
	}
	return m.chatMessage(), nil
}

func (pg *Postgres) selectMessages(model any) *bun.SelectQuery {
	return pg.bun.NewSelect().
		Model(model).
		Relation("Reactions", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("r.created_at")
		}).
		Relation("ReadBy", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("rr.read_at")
		})
}

// GetMessage returns the message with its reactions and read receipts.
func (pg *Postgres) GetMessage(ctx context.Context, id string) (chat.Message, error) {
	if !validID(id) {
		return chat.Message{}, chat.ErrNotFound
	}
	var m message
	if err := pg.selectMessages(&m).Where("m.id = ?", id).Scan(ctx); err != nil {
		return chat.Message{}, wrap("select message", err)
	}
	return m.chatMessage(), nil
}

// ListMessages returns messages of the conversation, newest first.
func (pg *Postgres) ListMessages(ctx context.Context, conv chat.Conversation, limit, offset int, excludeMsgIDs ...string) ([]chat.Message, error) {
	if !validID(conv.A) || !validID(conv.B) {
		return nil, nil
	}
	var msgs []message
	q := pg.selectMessages(&msgs).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where("m.from_id = ? AND m.to_id = ?", conv.A, conv.B).
				WhereOr("m.from_id = ? AND m.to_id = ?", conv.B, conv.A)
		}).
		Order("m.created_at DESC", "m.id DESC").
		Limit(limit).
		Offset(offset)

	if excluded := validIDs(excludeMsgIDs); len(excluded) > 0 {
		q = q.Where("m.id NOT IN (?)", bun.In(excluded))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, wrap("select messages", err)
	}
	out := make([]chat.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.chatMessage()
	}
	return out, nil
}

// UpdateMessageContent replaces the content and marks the message edited.
func (pg *Postgres) UpdateMessageContent(ctx context.Context, id, content string, editedAt time.Time) (chat.Message, error) {
	if !validID(id) {
		return chat.Message{}, chat.ErrNotFound
	}
	res, err := pg.bun.NewUpdate().
		Model((*message)(nil)).
		Set("content = ?", content).
		Set("is_edited = TRUE").
		Set("edited_at = ?", editedAt).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return chat.Message{}, wrap("update message", err)
	}
	if err := affected("update message", res); err != nil {
		return chat.Message{}, err
	}
	return pg.GetMessage(ctx, id)
}

// DeleteMessage deletes a message with its reactions and receipts.
func (pg *Postgres) DeleteMessage(ctx context.Context, id string) error {
	if !validID(id) {
		return chat.ErrNotFound
	}
	res, err := pg.bun.NewDelete().Model((*message)(nil)).Where("id = ?", id).Exec(ctx)
	if err != nil {
		return wrap("delete message", err)
	}
	return affected("delete message", res)
}

// ToggleReaction removes the (user, emoji) reaction if present and adds it
// otherwise. An add racing with another add of the same reaction leaves one
// row and reports added.
func (pg *Postgres) ToggleReaction(ctx context.Context, messageID string, r chat.Reaction) (bool, error) {
	if !validID(messageID) {
		return false, chat.ErrNotFound
	}
	var added bool
	err := pg.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		exists, err := tx.NewSelect().Model((*message)(nil)).Where("m.id = ?", messageID).Exists(ctx)
		if err != nil {
			return wrap("select message", err)
		}
		if !exists {
			return fmt.Errorf("select message: %w", chat.ErrNotFound)
		}

		res, err := tx.NewDelete().
			Model((*reaction)(nil)).
			Where("message_id = ? AND user_id = ? AND emoji = ?", messageID, r.UserID, r.Emoji).
			Exec(ctx)
		if err != nil {
			return wrap("delete reaction", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}

		if _, err := tx.NewInsert().Model(&reaction{
			MessageID: messageID,
			UserID:    r.UserID,
			Emoji:     r.Emoji,
			CreatedAt: r.CreatedAt,
		}).On("CONFLICT (message_id, user_id, emoji) DO NOTHING").Exec(ctx); err != nil {
			return wrap("insert reaction", err)
		}
		added = true
		return nil
	})
	return added, err
}

// MarkRead stamps a receipt for reader on every message from sender to reader
// that has none.
func (pg *Postgres) MarkRead(ctx context.Context, sender, reader string, at time.Time) (int, error) {
	if !validID(sender) || !validID(reader) {
		return 0, nil
	}
	res, err := pg.bun.ExecContext(ctx, `
		INSERT INTO read_receipts (message_id, user_id, read_at)
		SELECT m.id, ?::uuid, ?::timestamptz FROM messages AS m
		WHERE m.from_id = ? AND m.to_id = ?
		ON CONFLICT DO NOTHING`,
		reader, at, sender, reader)
	if err != nil {
		return 0, wrap("insert read receipts", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("insert read receipts: %w", err)
	}
	return int(n), nil
}

// CountUnread counts the messages addressed to userID without a receipt from userID.
func (pg *Postgres) CountUnread(ctx context.Context, userID string) (int, error) {
	if !validID(userID) {
		return 0, nil
	}
	n, err := pg.bun.NewSelect().
		Model((*message)(nil)).
		Where("m.to_id = ?", userID).
		Where("NOT EXISTS (SELECT 1 FROM read_receipts AS rr WHERE rr.message_id = m.id AND rr.user_id = ?)", userID).
		Count(ctx)
	if err != nil {
		return 0, wrap("count unread", err)
	}
	return n, nil
}
