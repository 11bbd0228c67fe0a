package core

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppend(t *testing.T) {
	t.Run("append successfully", func(t *testing.T) {
		f := NewBaseFixture(t)
		defer f.tearDown()
		users := seedUsers(f, "alice", "bob")
		room := seedGroup(f, "g", users[0], users[1])

		msg, err := f.messages.Append(f.ctx, AppendParams{RoomID: room.ID, SenderID: users[1].ID, Content: "  hello  "})
		require.Nil(t, err)
		assert.Equal(t, "hello", msg.Content)
		assert.Equal(t, TextMessage, msg.Type)
		assert.Equal(t, users[1].Name, msg.SenderName)
		assert.Empty(t, msg.ReadBy)
		assert.False(t, msg.IsEdited)

		got, err := f.rooms.GetRoom(f.ctx, room.ID, users[0].ID)
		require.Nil(t, err)
		require.NotNil(t, got.LastMessage)
		assert.Equal(t, "hello", got.LastMessage.Content)
		assert.Equal(t, users[1].ID, got.LastMessage.SenderID)
		assert.Equal(t, msg.CreatedAt.UnixMilli(), got.LastUpdated.UnixMilli())
	})

	t.Run("invalid content", func(t *testing.T) {
		f := NewBaseFixture(t)
		defer f.tearDown()
		users := seedUsers(f, "alice")
		room := seedGroup(f, "g", users[0])

		testCases := []struct {
			name   string
			params AppendParams
		}{
			{name: "blank text", params: AppendParams{Content: "   "}},
			{name: "image without media url", params: AppendParams{Content: "x", Type: ImageMessage}},
			{name: "file without media url", params: AppendParams{Type: FileMessage}},
			{name: "unknown type", params: AppendParams{Content: "x", Type: "video"}},
		}
		for _, tc := range testCases {
			t.Run(tc.name, func(t *testing.T) {
				tc.params.RoomID = room.ID
				tc.params.SenderID = users[0].ID
				_, err := f.messages.Append(f.ctx, tc.params)
				assert.Equal(t, KindValidation, KindOf(err))
			})
		}

		msg, err := f.messages.Append(f.ctx, AppendParams{
			RoomID: room.ID, SenderID: users[0].ID, Type: ImageMessage, MediaURL: "/api/uploads/x.png",
		})
		require.Nil(t, err)
		assert.Equal(t, ImageMessage, msg.Type)
	})

	t.Run("non member stores nothing", func(t *testing.T) {
		f := NewBaseFixture(t)
		defer f.tearDown()
		users := seedUsers(f, "alice", "mallory")
		room := seedGroup(f, "g", users[0])

		_, err := f.messages.Append(f.ctx, AppendParams{RoomID: room.ID, SenderID: users[1].ID, Content: "hi"})
		assert.ErrorIs(t, err, ErrNotRoomMember)
		assert.Equal(t, KindForbidden, KindOf(err))

		n, err := f.docs.Count(f.ctx, messagesCollection)
		require.Nil(t, err)
		assert.Equal(t, 0, n)

		got, err := f.rooms.GetRoom(f.ctx, room.ID, users[0].ID)
		require.Nil(t, err)
		assert.Nil(t, got.LastMessage)
	})

	t.Run("room not found", func(t *testing.T) {
		f := NewBaseFixture(t)
		defer f.tearDown()
		users := seedUsers(f, "alice")

		_, err := f.messages.Append(f.ctx, AppendParams{RoomID: "missing", SenderID: users[0].ID, Content: "hi"})
		assert.ErrorIs(t, err, ErrRoomNotFound)
	})
}

func TestList(t *testing.T) {
	f := NewBaseFixture(t)
	defer f.tearDown()
	users := seedUsers(f, "alice", "bob")
	room := seedGroup(f, "g", users[0])
	msgs := seedMessages(f, room.ID, users[0], "m0", "m1", "m2", "m3", "m4")

	contents := func(msgs []Message) []string {
		out := make([]string, 0, len(msgs))
		for _, m := range msgs {
			out = append(out, m.Content)
		}
		return out
	}

	testCases := []struct {
		name     string
		params   ListParams
		expected []string
	}{
		{name: "newest first", params: ListParams{}, expected: []string{"m4", "m3", "m2", "m1", "m0"}},
		{name: "limit", params: ListParams{Limit: 2}, expected: []string{"m4", "m3"}},
		{name: "skip", params: ListParams{Limit: 2, Skip: 2}, expected: []string{"m2", "m1"}},
		{name: "skip past the end", params: ListParams{Skip: 10}, expected: []string{}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := f.messages.List(f.ctx, room.ID, users[0].ID, tc.params)
			require.Nil(t, err)
			assert.Equal(t, tc.expected, contents(got))
		})
	}

	t.Run("before", func(t *testing.T) {
		time.Sleep(5 * time.Millisecond)
		late := seedMessages(f, room.ID, users[0], "late")

		got, err := f.messages.List(f.ctx, room.ID, users[0].ID, ListParams{Before: late[0].CreatedAt})
		require.Nil(t, err)
		assert.Equal(t, []string{"m4", "m3", "m2", "m1", "m0"}, contents(got))

		got, err = f.messages.List(f.ctx, room.ID, users[0].ID, ListParams{Before: msgs[0].CreatedAt})
		require.Nil(t, err)
		assert.Empty(t, got)
	})

	t.Run("not a member", func(t *testing.T) {
		_, err := f.messages.List(f.ctx, room.ID, users[1].ID, ListParams{})
		assert.ErrorIs(t, err, ErrNotRoomMember)
	})

	t.Run("room not found", func(t *testing.T) {
		_, err := f.messages.List(f.ctx, "missing", users[0].ID, ListParams{})
		assert.ErrorIs(t, err, ErrRoomNotFound)
	})
}

func TestListLimitIsCapped(t *testing.T) {
	f := NewBaseFixture(t)
	defer f.tearDown()
	users := seedUsers(f, "alice")
	room := seedGroup(f, "g", users[0])

	contents := make([]string, MaxMessageLimit+5)
	for i := range contents {
		contents[i] = strings.Repeat("x", i+1)
	}
	seedMessages(f, room.ID, users[0], contents...)

	got, err := f.messages.List(f.ctx, room.ID, users[0].ID, ListParams{Limit: 1000})
	require.Nil(t, err)
	assert.Len(t, got, MaxMessageLimit)

	got, err = f.messages.List(f.ctx, room.ID, users[0].ID, ListParams{})
	require.Nil(t, err)
	assert.Len(t, got, DefaultMessageLimit)
}

func TestMarkRead(t *testing.T) {
	f := NewBaseFixture(t)
	defer f.tearDown()
	users := seedUsers(f, "alice", "bob", "mallory")
	room := seedGroup(f, "g", users[0], users[1])
	other := seedGroup(f, "other", users[0], users[1])
	msgs := seedMessages(f, room.ID, users[0], "hello")

	t.Run("idempotent", func(t *testing.T) {
		first, err := f.messages.MarkRead(f.ctx, room.ID, msgs[0].ID, users[1].ID)
		require.Nil(t, err)
		assert.Equal(t, []string{users[1].ID}, first.ReadBy)

		second, err := f.messages.MarkRead(f.ctx, "", msgs[0].ID, users[1].ID)
		require.Nil(t, err)
		assert.Equal(t, first.ReadBy, second.ReadBy)
	})

	t.Run("message not found", func(t *testing.T) {
		_, err := f.messages.MarkRead(f.ctx, room.ID, "missing", users[1].ID)
		assert.ErrorIs(t, err, ErrMessageNotFound)
	})

	t.Run("room does not match", func(t *testing.T) {
		_, err := f.messages.MarkRead(f.ctx, other.ID, msgs[0].ID, users[1].ID)
		assert.ErrorIs(t, err, ErrMessageNotFound)
	})

	t.Run("reader not a member", func(t *testing.T) {
		_, err := f.messages.MarkRead(f.ctx, room.ID, msgs[0].ID, users[2].ID)
		assert.ErrorIs(t, err, ErrNotRoomMember)
	})
}

func TestUnreadCount(t *testing.T) {
	f := NewBaseFixture(t)
	defer f.tearDown()
	users := seedUsers(f, "alice", "bob", "carol")
	alice, bob, carol := users[0], users[1], users[2]
	g1 := seedGroup(f, "g1", alice, bob)
	g2 := seedGroup(f, "g2", alice, bob, carol)
	seedGroup(f, "g3", carol)

	seedMessages(f, g1.ID, alice, "a1", "a2")
	seedMessages(f, g1.ID, bob, "b1")
	fromCarol := seedMessages(f, g2.ID, carol, "c1", "c2")

	count := func(user User) int {
		n, err := f.messages.UnreadCount(f.ctx, user.ID)
		require.Nil(t, err)
		return n
	}

	assert.Equal(t, 3, count(alice))
	assert.Equal(t, 4, count(bob))
	assert.Equal(t, 0, count(carol))

	_, err := f.messages.MarkRead(f.ctx, "", fromCarol[0].ID, alice.ID)
	require.Nil(t, err)
	assert.Equal(t, 2, count(alice))

	all, err := f.messages.List(f.ctx, g1.ID, alice.ID, ListParams{})
	require.Nil(t, err)
	for _, m := range all {
		_, err := f.messages.MarkRead(f.ctx, "", m.ID, alice.ID)
		require.Nil(t, err)
	}
	_, err = f.messages.MarkRead(f.ctx, "", fromCarol[1].ID, alice.ID)
	require.Nil(t, err)
	assert.Equal(t, 0, count(alice))
}

func TestEditAndDelete(t *testing.T) {
	f := NewBaseFixture(t)
	defer f.tearDown()
	users := seedUsers(f, "alice", "bob")
	room := seedGroup(f, "g", users[0], users[1])
	msgs := seedMessages(f, room.ID, users[0], "hello")

	_, err := f.messages.Edit(f.ctx, msgs[0].ID, users[1].ID, "hijack")
	assert.ErrorIs(t, err, ErrNotMessageSender)

	_, err = f.messages.Edit(f.ctx, msgs[0].ID, users[0].ID, "  ")
	assert.Equal(t, KindValidation, KindOf(err))

	edited, err := f.messages.Edit(f.ctx, msgs[0].ID, users[0].ID, "hello there")
	require.Nil(t, err)
	assert.Equal(t, "hello there", edited.Content)
	assert.True(t, edited.IsEdited)

	_, err = f.messages.Delete(f.ctx, msgs[0].ID, users[1].ID)
	assert.ErrorIs(t, err, ErrNotMessageSender)

	deleted, err := f.messages.Delete(f.ctx, msgs[0].ID, users[0].ID)
	require.Nil(t, err)
	assert.Equal(t, room.ID, deleted.RoomID)

	_, err = f.messages.Get(f.ctx, msgs[0].ID)
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

// Two users exchange a greeting in their direct room.
func TestDirectConversation(t *testing.T) {
	f := NewBaseFixture(t)
	defer f.tearDown()
	users := seedUsers(f, "A", "B")
	a, b := users[0], users[1]

	room, err := f.rooms.CreateRoom(f.ctx, CreateRoomParams{Type: DirectRoom, Members: []string{b.ID}, CreatedBy: a.ID})
	require.Nil(t, err)

	sent, err := f.messages.Append(f.ctx, AppendParams{RoomID: room.ID, SenderID: a.ID, Content: "hi"})
	require.Nil(t, err)

	n, err := f.messages.UnreadCount(f.ctx, b.ID)
	require.Nil(t, err)
	assert.Equal(t, 1, n)

	list, err := f.messages.List(f.ctx, room.ID, b.ID, ListParams{})
	require.Nil(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "hi", list[0].Content)
	assert.Equal(t, "A", list[0].SenderName)

	_, err = f.messages.MarkRead(f.ctx, room.ID, sent.ID, b.ID)
	require.Nil(t, err)

	n, err = f.messages.UnreadCount(f.ctx, b.ID)
	require.Nil(t, err)
	assert.Equal(t, 0, n)

	n, err = f.messages.UnreadCount(f.ctx, a.ID)
	require.Nil(t, err)
	assert.Equal(t, 0, n)
}

func TestConcurrentAppend(t *testing.T) {
	f := NewBaseFixture(t)
	defer f.tearDown()
	users := seedUsers(f, "alice", "bob")
	room := seedGroup(f, "g", users[0], users[1])

	var wg sync.WaitGroup
	sent := make([]*Message, 2)
	for i := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			msg, err := f.messages.Append(f.ctx, AppendParams{RoomID: room.ID, SenderID: users[i].ID, Content: users[i].Name})
			assert.Nil(t, err)
			sent[i] = msg
		}()
	}
	wg.Wait()
	require.NotNil(t, sent[0])
	require.NotNil(t, sent[1])

	list, err := f.messages.List(f.ctx, room.ID, users[0].ID, ListParams{})
	require.Nil(t, err)
	require.Len(t, list, 2)

	// newest first: createdAt desc, then id desc
	first, second := list[0], list[1]
	assert.False(t, first.CreatedAt.Before(second.CreatedAt))
	if first.CreatedAt.Equal(second.CreatedAt) {
		assert.Greater(t, first.ID, second.ID)
	}
	assert.ElementsMatch(t, []string{sent[0].ID, sent[1].ID}, []string{first.ID, second.ID})
}
