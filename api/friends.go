package api

import (
	"net/http"

	"github.com/GetStream/direct-messaging/chat"
)

func (a *API) sendFriendRequest(w http.ResponseWriter, r *http.Request) {
	var body FriendRequestRequest
	if !a.decodeBody(w, r, &body) {
		return
	}

	req, err := a.Chat.SendFriendRequest(r.Context(), user(r).ID, body.UserID)
	if err != nil {
		a.fail(w, err)
		return
	}

	a.respond(w, http.StatusCreated, req)
}

func (a *API) listFriendRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := a.Chat.IncomingRequests(r.Context(), user(r).ID)
	if err != nil {
		a.fail(w, err)
		return
	}
	if reqs == nil {
		reqs = []chat.FriendRequest{}
	}

	a.respond(w, http.StatusOK, reqs)
}

func (a *API) acceptFriendRequest(w http.ResponseWriter, r *http.Request) {
	f, err := a.Chat.AcceptRequest(r.Context(), r.PathValue("requestID"), user(r).ID)
	if err != nil {
		a.fail(w, err)
		return
	}

	a.respond(w, http.StatusOK, AcceptResponse{
		Message:    "Friend request accepted successfully",
		Friendship: f,
	})
}

func (a *API) rejectFriendRequest(w http.ResponseWriter, r *http.Request) {
	req, err := a.Chat.RejectRequest(r.Context(), r.PathValue("requestID"), user(r).ID)
	if err != nil {
		a.fail(w, err)
		return
	}

	a.respond(w, http.StatusOK, RejectResponse{
		Message: "Friend request rejected successfully",
		Request: req,
	})
}

func (a *API) listFriends(w http.ResponseWriter, r *http.Request) {
	friends, err := a.Chat.Friends(r.Context(), user(r).ID)
	if err != nil {
		a.fail(w, err)
		return
	}
	if friends == nil {
		friends = []chat.PublicUser{}
	}

	a.respond(w, http.StatusOK, friends)
}

func (a *API) removeFriend(w http.ResponseWriter, r *http.Request) {
	if err := a.Chat.RemoveFriend(r.Context(), user(r).ID, r.PathValue("friendID")); err != nil {
		a.fail(w, err)
		return
	}

	a.respond(w, http.StatusOK, Status{Message: "Friend removed successfully"})
}
