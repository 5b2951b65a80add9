package api

import "github.com/GetStream/direct-messaging/chat"

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse carries the issued token and the signed in user.
type LoginResponse struct {
	Token string    `json:"token"`
	User  chat.User `json:"user"`
}

// SendMessageRequest is the body of POST /messages.
type SendMessageRequest struct {
	To        string `json:"to" validate:"required"`
	Content   string `json:"content" validate:"required"`
	ReplyToID string `json:"reply_to_id,omitempty"`
}

// EditMessageRequest is the body of PUT /messages/{messageID}.
type EditMessageRequest struct {
	Content string `json:"content" validate:"required"`
}

// ReactionRequest is the body of POST /messages/{messageID}/reaction.
type ReactionRequest struct {
	Emoji string `json:"emoji" validate:"required"`
}

// FriendRequestRequest is the body of POST /friends/request.
type FriendRequestRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

// DeleteAccountRequest is the body of DELETE /users/account.
type DeleteAccountRequest struct {
	Password string `json:"password" validate:"required"`
}

// UnreadCount is the body returned by GET /messages/unread/count.
type UnreadCount struct {
	Count int `json:"count"`
}

// Status is the body returned by operations without a record to return.
type Status struct {
	Message string `json:"message"`
}

// AcceptResponse is the body returned when a friend request is accepted.
type AcceptResponse struct {
	Message    string          `json:"message"`
	Friendship chat.Friendship `json:"friendship"`
}

// RejectResponse is the body returned when a friend request is rejected.
type RejectResponse struct {
	Message string             `json:"message"`
	Request chat.FriendRequest `json:"request"`
}

// ErrorResponse is the body of every failed request that is not a
// validation failure.
type ErrorResponse struct {
	Error string `json:"error"`
}
