package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/GetStream/direct-messaging/api"
	"github.com/GetStream/direct-messaging/api/validator"
	"github.com/GetStream/direct-messaging/chat"
)

// Client calls the REST endpoints of the server.
type Client struct {
	BaseURL string

	rc    *resty.Client
	token string
}

// New returns a Client for the server at baseURL.
func New(baseURL string) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	return &Client{
		BaseURL: baseURL,
		rc:      resty.New().SetBaseURL(baseURL),
	}
}

// SetToken sets the bearer token sent with every request.
func (c *Client) SetToken(token string) {
	c.token = token
	c.rc.SetAuthToken(token)
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	return c.token
}

// An Error is a failed call. Kind is derived from the HTTP status.
type Error struct {
	Status int
	Reason string
	Fields []validator.ValidationError
}

func (e *Error) Error() string {
	if len(e.Fields) > 0 {
		parts := make([]string, len(e.Fields))
		for i, f := range e.Fields {
			parts[i] = f.Error()
		}
		return fmt.Sprintf("%d: %s", e.Status, strings.Join(parts, ", "))
	}
	return fmt.Sprintf("%d: %s", e.Status, e.Reason)
}

// Unwrap returns the error as a classified core error so that chat.KindOf and
// chat.ReasonOf work on it.
func (e *Error) Unwrap() error {
	return &chat.Error{Kind: kindOf(e.Status), Reason: e.Reason}
}

func kindOf(status int) chat.Kind {
	switch status {
	case http.StatusUnauthorized:
		return chat.KindUnauthenticated
	case http.StatusForbidden:
		return chat.KindForbidden
	case http.StatusBadRequest, http.StatusTooManyRequests:
		return chat.KindInvalidInput
	case http.StatusNotFound:
		return chat.KindNotFound
	case http.StatusConflict:
		return chat.KindConflict
	default:
		return chat.KindInternal
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req := c.rc.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	return decode(resp, out)
}

func decode(resp *resty.Response, out any) error {
	if !resp.IsSuccess() {
		var body struct {
			Error  string                      `json:"error"`
			Errors []validator.ValidationError `json:"errors"`
		}
		e := &Error{Status: resp.StatusCode()}
		if err := json.Unmarshal(resp.Body(), &body); err == nil {
			e.Reason, e.Fields = body.Error, body.Errors
		}
		if e.Reason == "" {
			e.Reason = http.StatusText(resp.StatusCode())
		}
		return e
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Login signs in and keeps the issued token for later calls.
func (c *Client) Login(ctx context.Context, username, password string) (api.LoginResponse, error) {
	var res api.LoginResponse
	err := c.do(ctx, http.MethodPost, "/auth/login", api.LoginRequest{Username: username, Password: password}, &res)
	if err != nil {
		return api.LoginResponse{}, err
	}
	c.SetToken(res.Token)
	return res, nil
}

// Logout marks the user offline.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", nil, nil)
}

// Me returns the signed in user.
func (c *Client) Me(ctx context.Context) (chat.User, error) {
	var u chat.User
	err := c.do(ctx, http.MethodGet, "/auth/me", nil, &u)
	return u, err
}

// Send creates a text message to the given user.
func (c *Client) Send(ctx context.Context, to, content, replyToID string) (chat.MessageView, error) {
	var m chat.MessageView
	err := c.do(ctx, http.MethodPost, "/messages", api.SendMessageRequest{To: to, Content: content, ReplyToID: replyToID}, &m)
	return m, err
}

// Upload sends a file message to the given user.
func (c *Client) Upload(ctx context.Context, to, filename string, r io.Reader) (chat.MessageView, error) {
	var m chat.MessageView
	resp, err := c.rc.R().
		SetContext(ctx).
		SetFormData(map[string]string{"to": to}).
		SetFileReader("file", filename, r).
		Post("/messages/upload")
	if err != nil {
		return m, fmt.Errorf("upload: %w", err)
	}
	err = decode(resp, &m)
	return m, err
}

// History returns a page of the conversation with peer, oldest first. Paging
// marks the peer's messages read.
func (c *Client) History(ctx context.Context, peer string, page, limit int) ([]chat.MessageView, error) {
	var msgs []chat.MessageView
	req := c.rc.R().SetContext(ctx).SetPathParam("peerID", peer)
	if page > 0 {
		req.SetQueryParam("page", strconv.Itoa(page))
	}
	if limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(limit))
	}
	resp, err := req.Get("/messages/{peerID}")
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	err = decode(resp, &msgs)
	return msgs, err
}

// Edit replaces the content of a message.
func (c *Client) Edit(ctx context.Context, id, content string) (chat.MessageView, error) {
	var m chat.MessageView
	err := c.do(ctx, http.MethodPut, "/messages/"+id, api.EditMessageRequest{Content: content}, &m)
	return m, err
}

// Delete removes a message.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/messages/"+id, nil, nil)
}

// React toggles a reaction on a message.
func (c *Client) React(ctx context.Context, id, emoji string) (chat.MessageView, error) {
	var m chat.MessageView
	err := c.do(ctx, http.MethodPost, "/messages/"+id+"/reaction", api.ReactionRequest{Emoji: emoji}, &m)
	return m, err
}

// UnreadCount returns the number of unread messages addressed to the user.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var res api.UnreadCount
	err := c.do(ctx, http.MethodGet, "/messages/unread/count", nil, &res)
	return res.Count, err
}

// SendFriendRequest asks userID to become friends.
func (c *Client) SendFriendRequest(ctx context.Context, userID string) (chat.FriendRequest, error) {
	var req chat.FriendRequest
	err := c.do(ctx, http.MethodPost, "/friends/request", api.FriendRequestRequest{UserID: userID}, &req)
	return req, err
}

// FriendRequests returns the pending requests addressed to the user.
func (c *Client) FriendRequests(ctx context.Context) ([]chat.FriendRequest, error) {
	var reqs []chat.FriendRequest
	err := c.do(ctx, http.MethodGet, "/friends/requests", nil, &reqs)
	return reqs, err
}

// Accept accepts a friend request.
func (c *Client) Accept(ctx context.Context, requestID string) (chat.Friendship, error) {
	var res api.AcceptResponse
	err := c.do(ctx, http.MethodPut, "/friends/requests/"+requestID+"/accept", nil, &res)
	return res.Friendship, err
}

// Reject rejects a friend request.
func (c *Client) Reject(ctx context.Context, requestID string) (chat.FriendRequest, error) {
	var res api.RejectResponse
	err := c.do(ctx, http.MethodPut, "/friends/requests/"+requestID+"/reject", nil, &res)
	return res.Request, err
}

// Friends returns the user's friends.
func (c *Client) Friends(ctx context.Context) ([]chat.PublicUser, error) {
	var friends []chat.PublicUser
	err := c.do(ctx, http.MethodGet, "/friends", nil, &friends)
	return friends, err
}

// RemoveFriend ends the friendship with friendID.
func (c *Client) RemoveFriend(ctx context.Context, friendID string) error {
	return c.do(ctx, http.MethodDelete, "/friends/"+friendID, nil, nil)
}

// DeleteAccount deletes the signed in user.
func (c *Client) DeleteAccount(ctx context.Context, password string) error {
	return c.do(ctx, http.MethodDelete, "/users/account", api.DeleteAccountRequest{Password: password}, nil)
}
