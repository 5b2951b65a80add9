package chat

import (
	"context"
	"errors"
)

// SendFriendRequest creates a pending request from one user to another.
func (s *Service) SendFriendRequest(ctx context.Context, from, to string) (FriendRequest, error) {
	if to == "" {
		return FriendRequest{}, Errorf(KindInvalidInput, "Target user ID is required")
	}
	if from == to {
		return FriendRequest{}, Errorf(KindInvalidOperation, "Cannot send friend request to yourself")
	}
	if _, err := s.GetUser(ctx, to); err != nil {
		return FriendRequest{}, err
	}

	friends, err := s.CanConverse(ctx, from, to)
	if err != nil {
		return FriendRequest{}, err
	}
	if friends {
		return FriendRequest{}, Errorf(KindInvalidOperation, "Already friends with this user")
	}
	pending, err := s.DB.PendingRequestExists(ctx, from, to)
	if err != nil {
		return FriendRequest{}, internal("Could not check friend requests", err)
	}
	if pending {
		return FriendRequest{}, Errorf(KindInvalidOperation, "Friend request already exists")
	}

	now := s.now()
	req, err := s.DB.InsertFriendRequest(ctx, FriendRequest{
		From:      from,
		To:        to,
		Status:    RequestPending,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if errors.Is(err, ErrConflict) {
		return FriendRequest{}, Errorf(KindInvalidOperation, "Friend request already exists")
	}
	if err != nil {
		return FriendRequest{}, internal("Could not create friend request", err)
	}
	return req, nil
}

// IncomingRequests returns the pending requests addressed to userID.
func (s *Service) IncomingRequests(ctx context.Context, userID string) ([]FriendRequest, error) {
	reqs, err := s.DB.ListFriendRequests(ctx, userID, RequestPending)
	if err != nil {
		return nil, internal("Could not list friend requests", err)
	}
	return reqs, nil
}

// pendingRequestFor loads a request that userID may still answer.
func (s *Service) pendingRequestFor(ctx context.Context, id, userID, verb string) (FriendRequest, error) {
	req, err := s.DB.GetFriendRequest(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return FriendRequest{}, Errorf(KindNotFound, "Friend request not found")
	}
	if err != nil {
		return FriendRequest{}, internal("Could not get friend request", err)
	}
	if req.To != userID {
		return FriendRequest{}, Errorf(KindForbidden, "Not authorized to %s this request", verb)
	}
	if req.Status != RequestPending {
		return FriendRequest{}, Errorf(KindInvalidOperation, "Request already processed")
	}
	return req, nil
}

// AcceptRequest accepts a pending request addressed to userID and creates the
// friendship between the two users.
func (s *Service) AcceptRequest(ctx context.Context, id, userID string) (Friendship, error) {
	req, err := s.pendingRequestFor(ctx, id, userID, "accept")
	if err != nil {
		return Friendship{}, err
	}
	friends, err := s.CanConverse(ctx, req.From, req.To)
	if err != nil {
		return Friendship{}, err
	}
	if friends {
		return Friendship{}, Errorf(KindConflict, "Already friends with this user")
	}

	f, err := s.DB.AcceptFriendRequest(ctx, id, s.now())
	switch {
	case errors.Is(err, ErrConflict):
		return Friendship{}, Errorf(KindConflict, "Already friends with this user")
	case errors.Is(err, ErrNotFound):
		return Friendship{}, Errorf(KindInvalidOperation, "Request already processed")
	case err != nil:
		return Friendship{}, internal("Could not accept friend request", err)
	}
	s.Logger.Info("Friend request accepted", "request_id", id, "user_a", f.UserA, "user_b", f.UserB)
	return f, nil
}

// RejectRequest rejects a pending request addressed to userID. The request is
// kept with the rejected status.
func (s *Service) RejectRequest(ctx context.Context, id, userID string) (FriendRequest, error) {
	if _, err := s.pendingRequestFor(ctx, id, userID, "reject"); err != nil {
		return FriendRequest{}, err
	}
	req, err := s.DB.RejectFriendRequest(ctx, id, s.now())
	if errors.Is(err, ErrNotFound) {
		return FriendRequest{}, Errorf(KindInvalidOperation, "Request already processed")
	}
	if err != nil {
		return FriendRequest{}, internal("Could not reject friend request", err)
	}
	return req, nil
}

// Friends returns the users userID is friends with.
func (s *Service) Friends(ctx context.Context, userID string) ([]PublicUser, error) {
	friendships, err := s.DB.ListFriendships(ctx, userID)
	if err != nil {
		return nil, internal("Could not list friends", err)
	}
	ids := make([]string, len(friendships))
	for i, f := range friendships {
		ids[i] = f.Other(userID)
	}
	if len(ids) == 0 {
		return []PublicUser{}, nil
	}
	users, err := s.DB.ListUsers(ctx, ids...)
	if err != nil {
		return nil, internal("Could not list friends", err)
	}
	out := make([]PublicUser, len(users))
	for i, u := range users {
		out[i] = u.Public()
	}
	return out, nil
}

// RemoveFriend deletes the friendship between userID and friendID.
func (s *Service) RemoveFriend(ctx context.Context, userID, friendID string) error {
	a, b := orderedPair(userID, friendID)
	err := s.DB.DeleteFriendship(ctx, a, b)
	if errors.Is(err, ErrNotFound) {
		return Errorf(KindNotFound, "Friendship not found")
	}
	if err != nil {
		return internal("Could not remove friend", err)
	}
	return nil
}
