package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFriendRequestLifecycle(t *testing.T) {
	f := NewBaseFixture(t)
	defer f.tearDown()
	users := seedUsers(f, "alice", "bob", "carol")
	alice, bob, carol := users[0], users[1], users[2]

	_, err := f.friends.SendRequest(f.ctx, alice.ID, alice.ID)
	assert.ErrorIs(t, err, ErrSelfFriendRequest)

	_, err = f.friends.SendRequest(f.ctx, alice.ID, "ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)

	req, err := f.friends.SendRequest(f.ctx, alice.ID, bob.ID)
	require.Nil(t, err)
	assert.Equal(t, RequestPending, req.Status)

	t.Run("no duplicate pending request in either direction", func(t *testing.T) {
		_, err := f.friends.SendRequest(f.ctx, alice.ID, bob.ID)
		assert.ErrorIs(t, err, ErrPendingRequest)
		_, err = f.friends.SendRequest(f.ctx, bob.ID, alice.ID)
		assert.ErrorIs(t, err, ErrPendingRequest)
	})

	t.Run("pending requests carry the sender", func(t *testing.T) {
		reqs, err := f.friends.PendingRequests(f.ctx, bob.ID)
		require.Nil(t, err)
		require.Len(t, reqs, 1)
		require.NotNil(t, reqs[0].FromUser)
		assert.Equal(t, alice.Name, reqs[0].FromUser.Name)

		reqs, err = f.friends.PendingRequests(f.ctx, alice.ID)
		require.Nil(t, err)
		assert.Empty(t, reqs)
	})

	t.Run("only the addressee may respond", func(t *testing.T) {
		_, err := f.friends.Accept(f.ctx, req.ID, alice.ID)
		assert.ErrorIs(t, err, ErrNotRequestAddressee)
		_, err = f.friends.Reject(f.ctx, req.ID, carol.ID)
		assert.ErrorIs(t, err, ErrNotRequestAddressee)
		_, err = f.friends.Accept(f.ctx, "missing", bob.ID)
		assert.ErrorIs(t, err, ErrFriendReqNotFound)
	})

	t.Run("accept", func(t *testing.T) {
		accepted, err := f.friends.Accept(f.ctx, req.ID, bob.ID)
		require.Nil(t, err)
		assert.Equal(t, RequestAccepted, accepted.Status)

		for _, pair := range [][2]User{{alice, bob}, {bob, alice}} {
			friends, err := f.friends.Friends(f.ctx, pair[0].ID)
			require.Nil(t, err)
			require.Len(t, friends, 1)
			assert.Equal(t, pair[1].ID, friends[0].ID)
		}

		_, err = f.friends.Accept(f.ctx, req.ID, bob.ID)
		assert.ErrorIs(t, err, ErrRequestNotPending)

		_, err = f.friends.SendRequest(f.ctx, bob.ID, alice.ID)
		assert.ErrorIs(t, err, ErrAlreadyFriends)
	})

	t.Run("remove", func(t *testing.T) {
		require.Nil(t, f.friends.Remove(f.ctx, bob.ID, alice.ID))

		friends, err := f.friends.Friends(f.ctx, alice.ID)
		require.Nil(t, err)
		assert.Empty(t, friends)

		err = f.friends.Remove(f.ctx, alice.ID, bob.ID)
		assert.ErrorIs(t, err, ErrNotFriends)
	})

	t.Run("reject", func(t *testing.T) {
		req, err := f.friends.SendRequest(f.ctx, carol.ID, alice.ID)
		require.Nil(t, err)

		rejected, err := f.friends.Reject(f.ctx, req.ID, alice.ID)
		require.Nil(t, err)
		assert.Equal(t, RequestRejected, rejected.Status)

		friends, err := f.friends.Friends(f.ctx, alice.ID)
		require.Nil(t, err)
		assert.Empty(t, friends)

		_, err = f.friends.SendRequest(f.ctx, carol.ID, alice.ID)
		assert.Nil(t, err)
	})
}

func TestFriendsPresence(t *testing.T) {
	f := NewBaseFixture(t)
	defer f.tearDown()
	users := seedUsers(f, "alice", "bob")

	req, err := f.friends.SendRequest(f.ctx, users[0].ID, users[1].ID)
	require.Nil(t, err)
	_, err = f.friends.Accept(f.ctx, req.ID, users[1].ID)
	require.Nil(t, err)

	_, err = f.users.SetOnline(f.ctx, users[1].ID, true)
	require.Nil(t, err)

	friends, err := f.friends.Friends(f.ctx, users[0].ID)
	require.Nil(t, err)
	require.Len(t, friends, 1)
	assert.True(t, friends[0].IsOnline)
}
