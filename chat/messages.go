package chat

import (
	"context"
	"errors"
	"slices"
	"strings"
	"unicode/utf8"
)

// Payload is the content of a message to append.
type Payload struct {
	Content   string
	Type      MessageType
	File      *Attachment
	ReplyToID string
}

// Append persists a message from sender to recipient. The two users must be friends.
func (s *Service) Append(ctx context.Context, from, to string, p Payload) (MessageView, error) {
	if to == "" || (strings.TrimSpace(p.Content) == "" && p.File == nil) {
		return MessageView{}, Errorf(KindInvalidInput, "Recipient and content are required")
	}
	if utf8.RuneCountInString(p.Content) > MaxContentLength {
		return MessageView{}, Errorf(KindInvalidInput, "Message content too long")
	}
	if p.Type == "" {
		p.Type = TypeText
		if p.File != nil {
			p.Type = TypeFile
		}
	}
	if !p.Type.Valid() || (p.File == nil) != (p.Type == TypeText) {
		return MessageView{}, Errorf(KindInvalidInput, "Invalid message type")
	}
	if err := s.authorize(ctx, from, to, "You can only send messages to friends"); err != nil {
		return MessageView{}, err
	}
	if p.ReplyToID != "" {
		if _, err := s.DB.GetMessage(ctx, p.ReplyToID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return MessageView{}, Errorf(KindNotFound, "Reply target not found")
			}
			return MessageView{}, internal("Could not get reply target", err)
		}
	}

	msg, err := s.DB.InsertMessage(ctx, Message{
		From:      from,
		To:        to,
		Content:   p.Content,
		Type:      p.Type,
		File:      p.File,
		ReplyToID: p.ReplyToID,
		CreatedAt: s.now(),
	})
	if err != nil {
		return MessageView{}, internal("Could not insert message", err)
	}
	s.Metrics.MessageCreated(string(msg.Type))

	if err := s.cache().InsertMessage(ctx, msg.Conversation().Key(), msg); err != nil {
		s.Logger.Error("Could not cache message", "error", err.Error())
	}

	return s.viewOne(ctx, msg)
}

// GetMessage returns the message with the given id.
func (s *Service) GetMessage(ctx context.Context, id string) (MessageView, error) {
	msg, err := s.getMessage(ctx, id)
	if err != nil {
		return MessageView{}, err
	}
	return s.viewOne(ctx, msg)
}

func (s *Service) getMessage(ctx context.Context, id string) (Message, error) {
	msg, err := s.DB.GetMessage(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Message{}, Errorf(KindNotFound, "Message not found")
	}
	if err != nil {
		return Message{}, internal("Could not get message", err)
	}
	return msg, nil
}

// Page returns one page of the conversation between reader and peer ordered
// oldest to newest. Pages count from 1 starting at the newest messages. As a
// side effect every message from peer is marked read by reader.
func (s *Service) Page(ctx context.Context, reader, peer string, page, limit int) ([]MessageView, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if err := s.authorize(ctx, reader, peer, "You can only view messages with friends"); err != nil {
		return nil, err
	}

	conv := Conversation{A: reader, B: peer}
	msgs, err := s.recent(ctx, conv, page, limit)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	views, err := s.view(ctx, msgs...)
	if err != nil {
		return nil, err
	}
	if _, err := s.MarkDelivered(ctx, conv, reader); err != nil {
		return nil, err
	}
	return views, nil
}

// newestFirst orders messages by creation time and then by id, both
// descending. The stores and the cache list messages in the same order.
func newestFirst(a, b Message) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(b.ID, a.ID)
}

// recent returns a page of the conversation newest first. The first page is
// served from the cache where possible and completed from the DB.
func (s *Service) recent(ctx context.Context, conv Conversation, page, limit int) ([]Message, error) {
	if page > 1 {
		msgs, err := s.DB.ListMessages(ctx, conv, limit, limit*(page-1))
		if err != nil {
			return nil, internal("Could not list messages", err)
		}
		return msgs, nil
	}

	key := conv.Key()
	cached, err := s.cache().ListMessages(ctx, key)
	if err != nil {
		s.Logger.Error("Could not list cached messages", "error", err.Error())
		cached = nil
	}
	s.Logger.Debug("Got messages from cache", "key", key, "count", len(cached))

	msgIDs := make([]string, len(cached))
	for i, msg := range cached {
		msgIDs[i] = msg.ID
	}
	dbMsgs, err := s.DB.ListMessages(ctx, conv, limit, 0, msgIDs...)
	if err != nil {
		return nil, internal("Could not list messages", err)
	}
	s.Logger.Debug("Got remaining messages from DB", "key", key, "count", len(dbMsgs))

	msgs := append(cached, dbMsgs...)
	slices.SortFunc(msgs, newestFirst)
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}

	if len(cached) == 0 {
		for _, msg := range msgs {
			if err := s.cache().InsertMessage(ctx, key, msg); err != nil {
				s.Logger.Error("Could not cache message", "error", err.Error())
				break
			}
		}
	}
	return msgs, nil
}

// MarkDelivered stamps a read receipt for reader on every message the other
// participant of conv sent to reader that reader has not read yet. It returns
// the number of stamped messages.
func (s *Service) MarkDelivered(ctx context.Context, conv Conversation, reader string) (int, error) {
	if !conv.Includes(reader) {
		return 0, Errorf(KindForbidden, "Not a participant of this conversation")
	}
	n, err := s.DB.MarkRead(ctx, conv.Other(reader), reader, s.now())
	if err != nil {
		return 0, internal("Could not mark messages read", err)
	}
	if n > 0 {
		if err := s.cache().Invalidate(ctx, conv.Key()); err != nil {
			s.Logger.Error("Could not invalidate cached conversation", "error", err.Error())
		}
	}
	return n, nil
}

// Edit replaces the content of a message. Only the sender may edit, and only
// within EditWindow of creation.
func (s *Service) Edit(ctx context.Context, id, editor, content string) (MessageView, error) {
	if strings.TrimSpace(content) == "" || utf8.RuneCountInString(content) > MaxContentLength {
		return MessageView{}, Errorf(KindInvalidInput, "Valid content is required and must be under %d characters", MaxContentLength)
	}
	msg, err := s.getMessage(ctx, id)
	if err != nil {
		return MessageView{}, err
	}
	if msg.From != editor {
		return MessageView{}, Errorf(KindForbidden, "You can only edit your own messages")
	}
	now := s.now()
	if now.Sub(msg.CreatedAt) > EditWindow {
		return MessageView{}, Errorf(KindForbidden, "Messages can only be edited within 5 minutes")
	}

	msg, err = s.DB.UpdateMessageContent(ctx, id, content, now)
	if errors.Is(err, ErrNotFound) {
		return MessageView{}, Errorf(KindNotFound, "Message not found")
	}
	if err != nil {
		return MessageView{}, internal("Could not update message", err)
	}
	if err := s.cache().InsertMessage(ctx, msg.Conversation().Key(), msg); err != nil {
		s.Logger.Error("Could not cache message", "error", err.Error())
	}
	return s.viewOne(ctx, msg)
}

// Delete removes a message. Only the sender may delete it.
func (s *Service) Delete(ctx context.Context, id, requester string) error {
	msg, err := s.getMessage(ctx, id)
	if err != nil {
		return err
	}
	if msg.From != requester {
		return Errorf(KindForbidden, "You can only delete your own messages")
	}
	if err := s.DB.DeleteMessage(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return Errorf(KindNotFound, "Message not found")
		}
		return internal("Could not delete message", err)
	}
	if err := s.cache().RemoveMessage(ctx, msg.Conversation().Key(), id); err != nil {
		s.Logger.Error("Could not remove cached message", "error", err.Error())
	}
	return nil
}

// ToggleReaction adds the emoji reaction of user to the message, or removes it
// when the user already placed the same emoji.
func (s *Service) ToggleReaction(ctx context.Context, id, userID, emoji string) (MessageView, error) {
	if strings.TrimSpace(emoji) == "" {
		return MessageView{}, Errorf(KindInvalidInput, "Emoji is required")
	}
	msg, err := s.getMessage(ctx, id)
	if err != nil {
		return MessageView{}, err
	}
	if !msg.HasParticipant(userID) {
		return MessageView{}, Errorf(KindForbidden, "You can only react to messages in your conversations")
	}
	if err := s.authorize(ctx, msg.From, msg.To, "You can only react to messages from friends"); err != nil {
		return MessageView{}, err
	}

	added, err := s.DB.ToggleReaction(ctx, id, Reaction{
		UserID:    userID,
		Emoji:     emoji,
		CreatedAt: s.now(),
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return MessageView{}, Errorf(KindNotFound, "Message not found")
		}
		return MessageView{}, internal("Could not toggle reaction", err)
	}
	s.Logger.Debug("Reaction toggled", "message_id", id, "user_id", userID, "added", added)

	msg, err = s.getMessage(ctx, id)
	if err != nil {
		return MessageView{}, err
	}
	if err := s.cache().InsertMessage(ctx, msg.Conversation().Key(), msg); err != nil {
		s.Logger.Error("Could not cache message", "error", err.Error())
	}
	return s.viewOne(ctx, msg)
}

// UnreadCount returns the number of messages addressed to userID that carry no
// read receipt from userID.
func (s *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	n, err := s.DB.CountUnread(ctx, userID)
	if err != nil {
		return 0, internal("Could not count unread messages", err)
	}
	return n, nil
}
