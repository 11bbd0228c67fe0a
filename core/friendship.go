package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/putto11262002/roomchat/pkg/docstore"
)

const friendRequestsCollection = "friendRequests"

type FriendRequestStatus string

const (
	RequestPending  FriendRequestStatus = "pending"
	RequestAccepted FriendRequestStatus = "accepted"
	RequestRejected FriendRequestStatus = "rejected"
)

type FriendRequest struct {
	ID         string              `json:"id"`
	FromUserID string              `json:"fromUserId"`
	ToUserID   string              `json:"toUserId"`
	Status     FriendRequestStatus `json:"status"`
	CreatedAt  time.Time           `json:"createdAt"`
	UpdatedAt  time.Time           `json:"updatedAt"`
	// FromUser is only set when listing pending requests.
	FromUser *User `json:"fromUser,omitempty"`
}

type friendRequestDoc struct {
	ID         string              `json:"id"`
	FromUserID string              `json:"fromUserId"`
	ToUserID   string              `json:"toUserId"`
	Status     FriendRequestStatus `json:"status"`
	CreatedAt  int64               `json:"createdAt"`
	UpdatedAt  int64               `json:"updatedAt"`
}

func (d friendRequestDoc) toRequest() FriendRequest {
	return FriendRequest{
		ID:         d.ID,
		FromUserID: d.FromUserID,
		ToUserID:   d.ToUserID,
		Status:     d.Status,
		CreatedAt:  fromMillis(d.CreatedAt),
		UpdatedAt:  fromMillis(d.UpdatedAt),
	}
}

type friendDoc struct {
	FriendID string `json:"friendId"`
	Since    int64  `json:"since"`
}

type FriendshipStore interface {
	// SendRequest creates a pending request from one user to another.
	// It fails with ErrAlreadyFriends or ErrPendingRequest when the users are
	// already friends or a pending request exists in either direction.
	SendRequest(ctx context.Context, from, to string) (*FriendRequest, error)

	// Accept and Reject may only be called by the addressee of a pending request.
	Accept(ctx context.Context, requestID, user string) (*FriendRequest, error)
	Reject(ctx context.Context, requestID, user string) (*FriendRequest, error)

	// PendingRequests lists the requests addressed to user, with the sender's profile.
	PendingRequests(ctx context.Context, user string) ([]FriendRequest, error)

	// Friends lists the friends of user with their presence.
	Friends(ctx context.Context, user string) ([]User, error)

	// Remove ends the friendship between user and friend.
	Remove(ctx context.Context, user, friend string) error
}

type DocFriendshipStore struct {
	docs  docstore.Store
	users UserStore
}

func NewDocFriendshipStore(docs docstore.Store, users UserStore) *DocFriendshipStore {
	return &DocFriendshipStore{docs: docs, users: users}
}

func friendsOf(user string) string {
	return docstore.Sub(usersCollection, user, friendsSub)
}

func (s *DocFriendshipStore) areFriends(ctx context.Context, a, b string) (bool, error) {
	var edge friendDoc
	err := s.docs.Get(ctx, friendsOf(a), b, &edge)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, docstore.ErrNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("Get(friend): %w", err)
}

func (s *DocFriendshipStore) hasPending(ctx context.Context, from, to string) (bool, error) {
	n, err := s.docs.Count(ctx, friendRequestsCollection,
		docstore.Where("fromUserId", docstore.Eq, from),
		docstore.Where("toUserId", docstore.Eq, to),
		docstore.Where("status", docstore.Eq, string(RequestPending)),
	)
	if err != nil {
		return false, fmt.Errorf("Count(friend requests): %w", err)
	}
	return n > 0, nil
}

func (s *DocFriendshipStore) SendRequest(ctx context.Context, from, to string) (*FriendRequest, error) {
	if from == to {
		return nil, ErrSelfFriendRequest
	}
	for _, id := range []string{from, to} {
		if _, err := s.users.GetUserByID(ctx, id); err != nil {
			return nil, err
		}
	}

	friends, err := s.areFriends(ctx, from, to)
	if err != nil {
		return nil, err
	}
	if friends {
		return nil, ErrAlreadyFriends
	}

	for _, pair := range [][2]string{{from, to}, {to, from}} {
		pending, err := s.hasPending(ctx, pair[0], pair[1])
		if err != nil {
			return nil, err
		}
		if pending {
			return nil, ErrPendingRequest
		}
	}

	now := toMillis(time.Now())
	doc := friendRequestDoc{
		ID:         newID(),
		FromUserID: from,
		ToUserID:   to,
		Status:     RequestPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.docs.Set(ctx, friendRequestsCollection, doc.ID, doc); err != nil {
		return nil, fmt.Errorf("Set(friend request): %w", err)
	}
	req := doc.toRequest()
	return &req, nil
}

// pending loads a request that user may respond to.
func (s *DocFriendshipStore) pending(ctx context.Context, requestID, user string) (*friendRequestDoc, error) {
	var doc friendRequestDoc
	if err := s.docs.Get(ctx, friendRequestsCollection, requestID, &doc); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrFriendReqNotFound
		}
		return nil, fmt.Errorf("Get(friend request): %w", err)
	}
	if doc.ToUserID != user {
		return nil, ErrNotRequestAddressee
	}
	if doc.Status != RequestPending {
		return nil, ErrRequestNotPending
	}
	return &doc, nil
}

// Accept marks the request accepted and records the friendship on both
// sides in one batch.
func (s *DocFriendshipStore) Accept(ctx context.Context, requestID, user string) (*FriendRequest, error) {
	doc, err := s.pending(ctx, requestID, user)
	if err != nil {
		return nil, err
	}

	now := toMillis(time.Now())
	err = s.docs.Batch().
		Update(friendRequestsCollection, requestID, map[string]any{
			"status":    string(RequestAccepted),
			"updatedAt": now,
		}).
		Set(friendsOf(doc.ToUserID), doc.FromUserID, friendDoc{FriendID: doc.FromUserID, Since: now}).
		Set(friendsOf(doc.FromUserID), doc.ToUserID, friendDoc{FriendID: doc.ToUserID, Since: now}).
		Commit(ctx)
	if err != nil {
		return nil, fmt.Errorf("Commit(accept friend request): %w", err)
	}

	doc.Status = RequestAccepted
	doc.UpdatedAt = now
	req := doc.toRequest()
	return &req, nil
}

func (s *DocFriendshipStore) Reject(ctx context.Context, requestID, user string) (*FriendRequest, error) {
	doc, err := s.pending(ctx, requestID, user)
	if err != nil {
		return nil, err
	}

	now := toMillis(time.Now())
	err = s.docs.Update(ctx, friendRequestsCollection, requestID, map[string]any{
		"status":    string(RequestRejected),
		"updatedAt": now,
	})
	if err != nil {
		return nil, fmt.Errorf("Update(friend request): %w", err)
	}

	doc.Status = RequestRejected
	doc.UpdatedAt = now
	req := doc.toRequest()
	return &req, nil
}

func (s *DocFriendshipStore) PendingRequests(ctx context.Context, user string) ([]FriendRequest, error) {
	docs, err := s.docs.Query(ctx, friendRequestsCollection, docstore.Query{
		Filters: []docstore.Filter{
			docstore.Where("toUserId", docstore.Eq, user),
			docstore.Where("status", docstore.Eq, string(RequestPending)),
		},
		OrderBy: []docstore.Order{{Field: "createdAt", Desc: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("Query(friend requests): %w", err)
	}
	raw, err := docstore.DecodeAll[friendRequestDoc](docs, json.Unmarshal)
	if err != nil {
		return nil, fmt.Errorf("decode friend requests: %w", err)
	}

	reqs := make([]FriendRequest, 0, len(raw))
	for _, d := range raw {
		req := d.toRequest()
		sender, err := s.users.GetUserByID(ctx, d.FromUserID)
		if err != nil && !errors.Is(err, ErrUserNotFound) {
			return nil, err
		}
		req.FromUser = sender
		reqs = append(reqs, req)
	}
	return reqs, nil
}

func (s *DocFriendshipStore) Friends(ctx context.Context, user string) ([]User, error) {
	docs, err := s.docs.Query(ctx, friendsOf(user), docstore.Query{})
	if err != nil {
		return nil, fmt.Errorf("Query(friends): %w", err)
	}
	edges, err := docstore.DecodeAll[friendDoc](docs, json.Unmarshal)
	if err != nil {
		return nil, fmt.Errorf("decode friends: %w", err)
	}

	ids := make([]string, 0, len(edges))
	for _, e := range edges {
		ids = append(ids, e.FriendID)
	}
	return s.users.GetUsersByIDs(ctx, ids...)
}

func (s *DocFriendshipStore) Remove(ctx context.Context, user, friend string) error {
	friends, err := s.areFriends(ctx, user, friend)
	if err != nil {
		return err
	}
	if !friends {
		return ErrNotFriends
	}

	err = s.docs.Batch().
		Delete(friendsOf(user), friend).
		Delete(friendsOf(friend), user).
		Commit(ctx)
	if err != nil {
		return fmt.Errorf("Commit(remove friend): %w", err)
	}
	return nil
}
