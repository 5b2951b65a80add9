package api

import (
	"net/http"

	"github.com/GetStream/direct-messaging/auth"
)

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var body LoginRequest
	if !a.decodeBody(w, r, &body) {
		return
	}

	token, u, err := a.Gate.Login(r.Context(), body.Username, body.Password)
	if err != nil {
		a.fail(w, err)
		return
	}
	if err := a.Chat.SetPresence(r.Context(), u.ID, true); err != nil {
		a.Logger.Error("Could not update presence", "error", err.Error())
	}
	u.IsOnline = true

	a.respond(w, http.StatusOK, LoginResponse{Token: token, User: u})
}

func (a *API) logout(w http.ResponseWriter, r *http.Request) {
	if err := a.Chat.SetPresence(r.Context(), user(r).ID, false); err != nil {
		a.fail(w, err)
		return
	}

	a.respond(w, http.StatusOK, Status{Message: "Logged out successfully"})
}

func (a *API) me(w http.ResponseWriter, r *http.Request) {
	a.respond(w, http.StatusOK, user(r))
}

// deleteAccount removes the signed in user after confirming the password.
func (a *API) deleteAccount(w http.ResponseWriter, r *http.Request) {
	var body DeleteAccountRequest
	if !a.decodeBody(w, r, &body) {
		return
	}

	u := user(r)
	if !auth.CheckPassword(u.PasswordHash, body.Password) {
		a.respond(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid password"})
		return
	}
	if err := a.Chat.DeleteAccount(r.Context(), u.ID); err != nil {
		a.fail(w, err)
		return
	}

	a.respond(w, http.StatusOK, Status{Message: "Account deleted successfully"})
}
