package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/GetStream/direct-messaging/api/validator"
	"github.com/GetStream/direct-messaging/attachment"
	"github.com/GetStream/direct-messaging/auth"
	"github.com/GetStream/direct-messaging/chat"
	"github.com/GetStream/direct-messaging/metrics"
)

// Chat provides the core operations behind the REST endpoints.
type Chat interface {
	Append(ctx context.Context, from, to string, p chat.Payload) (chat.MessageView, error)
	Page(ctx context.Context, reader, peer string, page, limit int) ([]chat.MessageView, error)
	Edit(ctx context.Context, id, editor, content string) (chat.MessageView, error)
	Delete(ctx context.Context, id, requester string) error
	ToggleReaction(ctx context.Context, id, userID, emoji string) (chat.MessageView, error)
	UnreadCount(ctx context.Context, userID string) (int, error)

	SendFriendRequest(ctx context.Context, from, to string) (chat.FriendRequest, error)
	IncomingRequests(ctx context.Context, userID string) ([]chat.FriendRequest, error)
	AcceptRequest(ctx context.Context, id, userID string) (chat.Friendship, error)
	RejectRequest(ctx context.Context, id, userID string) (chat.FriendRequest, error)
	Friends(ctx context.Context, userID string) ([]chat.PublicUser, error)
	RemoveFriend(ctx context.Context, userID, friendID string) error

	SetPresence(ctx context.Context, userID string, online bool) error
	DeleteAccount(ctx context.Context, userID string) error
}

// A Gate authenticates requests and signs users in.
type Gate interface {
	Middleware(next http.Handler) http.Handler
	Login(ctx context.Context, username, password string) (string, chat.User, error)
}

// Uploads stores message attachments.
type Uploads interface {
	Store(ctx context.Context, filename string, r io.Reader) (attachment.File, error)
	Remove(url string) error
}

// A Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// API provides the REST endpoints for the application.
type API struct {
	Logger  *slog.Logger
	Chat    Chat
	Gate    Gate
	Uploads Uploads
	Val     *validator.Validator
	Limiter *Limiter
	Metrics *metrics.Metrics

	// Live serves the live connection endpoint.
	Live http.Handler
	// Files serves stored uploads under /uploads/.
	Files http.Handler
	// Checks are pinged by the health endpoint.
	Checks map[string]Pinger

	once    sync.Once
	handler http.Handler
}

func (a *API) setupRoutes() {
	mux := http.NewServeMux()
	authed := func(h http.HandlerFunc) http.Handler {
		return a.Gate.Middleware(h)
	}

	mux.Handle("POST /messages", authed(a.createMessage))
	mux.Handle("POST /messages/upload", authed(a.uploadMessage))
	mux.Handle("GET /messages/unread/count", authed(a.unreadCount))
	mux.Handle("GET /messages/{peerID}", authed(a.listMessages))
	mux.Handle("PUT /messages/{messageID}", authed(a.editMessage))
	mux.Handle("DELETE /messages/{messageID}", authed(a.deleteMessage))
	mux.Handle("POST /messages/{messageID}/reaction", authed(a.toggleReaction))

	mux.Handle("POST /friends/request", authed(a.sendFriendRequest))
	mux.Handle("GET /friends/requests", authed(a.listFriendRequests))
	mux.Handle("PUT /friends/requests/{requestID}/accept", authed(a.acceptFriendRequest))
	mux.Handle("PUT /friends/requests/{requestID}/reject", authed(a.rejectFriendRequest))
	mux.Handle("GET /friends", authed(a.listFriends))
	mux.Handle("DELETE /friends/{friendID}", authed(a.removeFriend))

	mux.HandleFunc("POST /auth/login", a.login)
	mux.Handle("POST /auth/logout", authed(a.logout))
	mux.Handle("GET /auth/me", authed(a.me))
	mux.Handle("DELETE /users/account", authed(a.deleteAccount))

	if a.Live != nil {
		mux.Handle("GET /ws", a.Live)
	}
	if a.Files != nil {
		mux.Handle("GET /uploads/", a.Files)
	}
	mux.Handle("GET /metrics", a.Metrics.Handler())
	mux.HandleFunc("GET /healthz", a.healthz)

	a.handler = a.Metrics.InstrumentHandler(mux)
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.once.Do(a.setupRoutes)
	a.Logger.Info("Request received", "method", r.Method, "path", r.URL.Path)
	a.handler.ServeHTTP(w, r)
}

func (a *API) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.Logger.Error("Could not encode JSON body", "error", err.Error())
	}
}

func (a *API) respondError(w http.ResponseWriter, status int, err error, msg string) {
	a.Logger.Error("Error", "error", err.Error())
	a.respond(w, status, ErrorResponse{Error: msg})
}

// fail responds with the status and reason of a core error.
func (a *API) fail(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		a.Logger.Error("Error", "error", err.Error())
	} else {
		a.Logger.Info("Request rejected", "status", status, "reason", chat.ReasonOf(err))
	}
	a.respond(w, status, ErrorResponse{Error: chat.ReasonOf(err)})
}

func statusOf(err error) int {
	switch chat.KindOf(err) {
	case chat.KindUnauthenticated:
		return http.StatusUnauthorized
	case chat.KindForbidden:
		return http.StatusForbidden
	case chat.KindInvalidInput, chat.KindInvalidOperation:
		return http.StatusBadRequest
	case chat.KindNotFound:
		return http.StatusNotFound
	case chat.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) validateBody(w http.ResponseWriter, s interface{}) bool {
	errs := a.Val.ValidateStruct(s)
	type response struct {
		Errors []validator.ValidationError `json:"errors"`
	}

	if len(errs) > 0 {
		a.respond(w, http.StatusBadRequest, &response{
			Errors: errs,
		})
		return false
	}
	return true
}

// decodeBody decodes and validates the JSON body of r into dst. It responds
// and returns false on failure.
func (a *API) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Could not decode request body")
		return false
	}
	if err := r.Body.Close(); err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not close request body")
		return false
	}
	return a.validateBody(w, dst)
}

// user returns the authenticated user of the request.
func user(r *http.Request) chat.User {
	u, _ := auth.UserFrom(r.Context())
	return u
}

// queryInt returns the integer query parameter name, or def when it is absent.
func queryInt(r *http.Request, name string, def int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, chat.Errorf(chat.KindInvalidInput, "Invalid %s", name)
	}
	return n, nil
}

func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Status string            `json:"status"`
		Errors map[string]string `json:"errors,omitempty"`
	}

	res := response{Status: "ok"}
	for name, c := range a.Checks {
		if err := c.Ping(r.Context()); err != nil {
			if res.Errors == nil {
				res.Errors = make(map[string]string)
			}
			res.Errors[name] = err.Error()
		}
	}
	if len(res.Errors) > 0 {
		res.Status = "unavailable"
		a.respond(w, http.StatusServiceUnavailable, res)
		return
	}
	a.respond(w, http.StatusOK, res)
}
