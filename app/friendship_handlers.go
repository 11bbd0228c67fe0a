package roomchat

import (
	"net/http"

	"github.com/putto11262002/roomchat/core"
	"github.com/putto11262002/roomchat/pkg/router"
)

type FriendshipHandler struct {
	friends core.FriendshipStore
}

func NewFriendshipHandler(friends core.FriendshipStore) *FriendshipHandler {
	return &FriendshipHandler{friends: friends}
}

type FriendRequestPayload struct {
	ToUserID string `json:"toUserId" validate:"required"`
}

func (h *FriendshipHandler) SendRequestHandler(w http.ResponseWriter, r *http.Request) error {
	var payload FriendRequestPayload
	if err := decodeJSON(r, &payload); err != nil {
		return err
	}

	session := core.SessionFromRequest(r)
	req, err := h.friends.SendRequest(r.Context(), session.UserID, payload.ToUserID)
	if err != nil {
		return err
	}
	return router.JSON(w, http.StatusCreated, req, "Friend request sent")
}

func (h *FriendshipHandler) AcceptHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)
	req, err := h.friends.Accept(r.Context(), r.PathValue("requestID"), session.UserID)
	if err != nil {
		return err
	}
	return router.JSON(w, http.StatusOK, req, "Friend request accepted")
}

func (h *FriendshipHandler) RejectHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)
	req, err := h.friends.Reject(r.Context(), r.PathValue("requestID"), session.UserID)
	if err != nil {
		return err
	}
	return router.JSON(w, http.StatusOK, req, "Friend request rejected")
}

func (h *FriendshipHandler) RemoveHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)
	if err := h.friends.Remove(r.Context(), session.UserID, r.PathValue("friendID")); err != nil {
		return err
	}
	return router.JSON(w, http.StatusOK, nil, "Friend removed")
}

func (h *FriendshipHandler) FriendsHandler(w http.ResponseWriter, r *http.Request) error {
	friends, err := h.friends.Friends(r.Context(), core.SessionFromRequest(r).UserID)
	if err != nil {
		return err
	}
	if friends == nil {
		friends = []core.User{}
	}
	return router.JSON(w, http.StatusOK, friends, "")
}

func (h *FriendshipHandler) PendingRequestsHandler(w http.ResponseWriter, r *http.Request) error {
	reqs, err := h.friends.PendingRequests(r.Context(), core.SessionFromRequest(r).UserID)
	if err != nil {
		return err
	}
	if reqs == nil {
		reqs = []core.FriendRequest{}
	}
	return router.JSON(w, http.StatusOK, reqs, "")
}
