package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/GetStream/direct-messaging/attachment"
	"github.com/GetStream/direct-messaging/chat"
)

// maxFormValue bounds the plain fields of an upload form.
const maxFormValue = 4 << 10

func (a *API) allow(w http.ResponseWriter, u chat.User) bool {
	if a.Limiter.Allow(u.ID) {
		return true
	}
	a.Logger.Warn("Rate limit exceeded", "user_id", u.ID)
	a.respond(w, http.StatusTooManyRequests, ErrorResponse{Error: "Too many requests"})
	return false
}

func (a *API) createMessage(w http.ResponseWriter, r *http.Request) {
	u := user(r)
	if !a.allow(w, u) {
		return
	}

	var body SendMessageRequest
	if !a.decodeBody(w, r, &body) {
		return
	}

	msg, err := a.Chat.Append(r.Context(), u.ID, body.To, chat.Payload{
		Content:   body.Content,
		Type:      chat.TypeText,
		ReplyToID: body.ReplyToID,
	})
	if err != nil {
		a.fail(w, err)
		return
	}

	a.respond(w, http.StatusCreated, msg)
}

// uploadMessage accepts a multipart form with a file part and a to field,
// stores the file and appends a message referencing it.
func (a *API) uploadMessage(w http.ResponseWriter, r *http.Request) {
	u := user(r)
	if !a.allow(w, u) {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, attachment.MaxSize+1<<20)
	mr, err := r.MultipartReader()
	if err != nil {
		a.fail(w, attachment.ErrNoFile)
		return
	}

	var (
		to, replyTo string
		file        *attachment.File
	)
	// Any stored file is removed unless a message ends up referencing it.
	defer func() {
		if file != nil {
			if err := a.Uploads.Remove(file.Attachment.URL); err != nil {
				a.Logger.Error("Could not remove upload", "error", err.Error())
			}
		}
	}()

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			a.respondError(w, http.StatusBadRequest, err, "Could not read upload")
			return
		}

		switch part.FormName() {
		case "file":
			if file != nil {
				break
			}
			f, err := a.Uploads.Store(r.Context(), part.FileName(), part)
			if err != nil {
				a.fail(w, err)
				return
			}
			file = &f
		case "to", "reply_to_id":
			b, err := io.ReadAll(io.LimitReader(part, maxFormValue))
			if err != nil {
				a.respondError(w, http.StatusBadRequest, err, "Could not read upload")
				return
			}
			if part.FormName() == "to" {
				to = string(b)
			} else {
				replyTo = string(b)
			}
		}
		part.Close()
	}

	if file == nil {
		a.fail(w, attachment.ErrNoFile)
		return
	}

	msg, err := a.Chat.Append(r.Context(), u.ID, to, chat.Payload{
		Content:   file.Attachment.Name,
		Type:      file.Type,
		File:      &file.Attachment,
		ReplyToID: replyTo,
	})
	if err != nil {
		a.fail(w, err)
		return
	}
	file = nil

	a.respond(w, http.StatusCreated, msg)
}

func (a *API) listMessages(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 1)
	if err != nil {
		a.fail(w, err)
		return
	}
	limit, err := queryInt(r, "limit", chat.DefaultPageSize)
	if err != nil {
		a.fail(w, err)
		return
	}

	msgs, err := a.Chat.Page(r.Context(), user(r).ID, r.PathValue("peerID"), page, limit)
	if err != nil {
		a.fail(w, err)
		return
	}
	if msgs == nil {
		msgs = []chat.MessageView{}
	}

	a.respond(w, http.StatusOK, msgs)
}

func (a *API) editMessage(w http.ResponseWriter, r *http.Request) {
	var body EditMessageRequest
	if !a.decodeBody(w, r, &body) {
		return
	}

	msg, err := a.Chat.Edit(r.Context(), r.PathValue("messageID"), user(r).ID, body.Content)
	if err != nil {
		a.fail(w, err)
		return
	}

	a.respond(w, http.StatusOK, msg)
}

func (a *API) deleteMessage(w http.ResponseWriter, r *http.Request) {
	if err := a.Chat.Delete(r.Context(), r.PathValue("messageID"), user(r).ID); err != nil {
		a.fail(w, err)
		return
	}

	a.respond(w, http.StatusOK, Status{Message: "Message deleted successfully"})
}

func (a *API) toggleReaction(w http.ResponseWriter, r *http.Request) {
	var body ReactionRequest
	if !a.decodeBody(w, r, &body) {
		return
	}

	msg, err := a.Chat.ToggleReaction(r.Context(), r.PathValue("messageID"), user(r).ID, body.Emoji)
	if err != nil {
		a.fail(w, err)
		return
	}

	a.respond(w, http.StatusOK, msg)
}

func (a *API) unreadCount(w http.ResponseWriter, r *http.Request) {
	n, err := a.Chat.UnreadCount(r.Context(), user(r).ID)
	if err != nil {
		a.fail(w, err)
		return
	}

	a.respond(w, http.StatusOK, UnreadCount{Count: n})
}
