package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// newTestConn returns a connection without a socket; events sent to it
// stay in its queue.
func newTestConn(ctx context.Context, user string, buffer int) *Conn {
	return newConn(ctx, nil, Session{UserID: user}, user, buffer, discardLogger)
}

func drain(c *Conn) []*Event {
	var events []*Event
	for {
		select {
		case e := <-c.send:
			events = append(events, e)
		default:
			return events
		}
	}
}

func eventTypes(events []*Event) []string {
	types := make([]string, 0, len(events))
	for _, e := range events {
		types = append(types, e.Type)
	}
	return types
}

func TestBroadcasterRooms(t *testing.T) {
	f := NewBaseFixture(t)
	defer f.tearDown()
	b := NewBroadcaster(f.users, discardLogger)

	alice := newTestConn(f.ctx, "alice", 16)
	bob := newTestConn(f.ctx, "bob", 16)
	carol := newTestConn(f.ctx, "carol", 16)
	for _, c := range []*Conn{alice, bob, carol} {
		b.Register(c)
	}

	b.Join(alice, "r1")
	b.Join(bob, "r1")
	assert.Equal(t, []string{UserJoinedEvent}, eventTypes(drain(alice)))
	assert.Empty(t, drain(bob))

	b.Typing(bob, "r1", "")
	events := drain(alice)
	require.Len(t, events, 1)
	var typing TypingPayload
	require.Nil(t, json.Unmarshal(events[0].Payload, &typing))
	assert.Equal(t, TypingPayload{RoomID: "r1", UserID: "bob", UserName: "bob"}, typing)
	assert.Empty(t, drain(bob))

	b.Emit("r1", NewMessageEvent, map[string]string{"content": "hi"})
	assert.Equal(t, []string{NewMessageEvent}, eventTypes(drain(alice)))
	assert.Equal(t, []string{NewMessageEvent}, eventTypes(drain(bob)))
	assert.Empty(t, drain(carol))

	b.Leave(bob, "r1")
	assert.Equal(t, []string{UserLeftEvent}, eventTypes(drain(alice)))
	assert.Empty(t, bob.Rooms())

	b.StopTyping(alice, "r1")
	assert.Empty(t, drain(bob))

	b.Leave(alice, "r1")
	assert.Empty(t, b.Subscribers("r1"))
}

func TestBroadcasterPresence(t *testing.T) {
	f := NewBaseFixture(t)
	defer f.tearDown()
	users := seedUsers(f, "alice", "bob")
	b := NewBroadcaster(f.users, discardLogger)

	first := newTestConn(f.ctx, users[0].ID, 16)
	second := newTestConn(f.ctx, users[0].ID, 16)
	watcher := newTestConn(f.ctx, users[1].ID, 16)
	for _, c := range []*Conn{first, second, watcher} {
		b.Register(c)
	}
	b.Join(first, "r1")

	b.AnnounceOnline(f.ctx, users[0].ID)
	assert.Equal(t, []string{UserOnlineEvent}, eventTypes(drain(watcher)))
	u, err := f.users.GetUserByID(f.ctx, users[0].ID)
	require.Nil(t, err)
	assert.True(t, u.IsOnline)

	assert.False(t, b.Unregister(first))
	assert.Empty(t, b.Subscribers("r1"))
	assert.True(t, b.IsOnline(users[0].ID))

	assert.True(t, b.Unregister(second))
	assert.False(t, b.IsOnline(users[0].ID))

	b.MarkOffline(f.ctx, users[0].ID)
	events := drain(watcher)
	require.Equal(t, []string{UserOfflineEvent}, eventTypes(events))
	var p PresencePayload
	require.Nil(t, json.Unmarshal(events[0].Payload, &p))
	assert.Equal(t, users[0].ID, p.UserID)
	require.NotNil(t, p.LastSeen)

	u, err = f.users.GetUserByID(f.ctx, users[0].ID)
	require.Nil(t, err)
	assert.False(t, u.IsOnline)
}

func TestSlowConnIsClosed(t *testing.T) {
	f := NewBaseFixture(t)
	defer f.tearDown()
	b := NewBroadcaster(f.users, discardLogger)

	slow := newTestConn(f.ctx, "slow", 1)
	fast := newTestConn(f.ctx, "fast", 16)
	b.Register(slow)
	b.Register(fast)

	e, err := NewEvent(NewMessageEvent, nil)
	require.Nil(t, err)
	b.ToAll(e)
	b.ToAll(e)

	assert.Error(t, slow.Context().Err())
	assert.Nil(t, fast.Context().Err())
	assert.Len(t, drain(fast), 2)

	// sends to a closed connection are dropped
	assert.False(t, slow.Send(e))
}

func TestBroadcasterConcurrentAccess(t *testing.T) {
	f := NewBaseFixture(t)
	defer f.tearDown()
	b := NewBroadcaster(f.users, discardLogger)

	e, err := NewEvent(NewMessageEvent, nil)
	require.Nil(t, err)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn := newTestConn(f.ctx, fmt.Sprintf("user-%d", i%5), 1024)
			b.Register(conn)
			room := fmt.Sprintf("room-%d", i%3)
			for range 10 {
				b.Join(conn, room)
				b.ToRoom(room, e, conn)
				b.ToAll(e)
				b.Leave(conn, room)
			}
			b.Unregister(conn)
		}()
	}
	wg.Wait()

	for i := range 3 {
		assert.Empty(t, b.Subscribers(fmt.Sprintf("room-%d", i)))
	}
	assert.Equal(t, 0, b.sessions.Len())
}

func TestBroadcasterEvict(t *testing.T) {
	f := NewBaseFixture(t)
	defer f.tearDown()
	b := NewBroadcaster(f.users, discardLogger)

	alice := newTestConn(f.ctx, "alice", 16)
	bobPhone := newTestConn(f.ctx, "bob", 16)
	bobLaptop := newTestConn(f.ctx, "bob", 16)
	for _, c := range []*Conn{alice, bobPhone, bobLaptop} {
		b.Register(c)
		b.Join(c, "r1")
	}
	b.Join(bobPhone, "r2")
	for _, c := range []*Conn{alice, bobPhone, bobLaptop} {
		drain(c)
	}

	b.Evict("bob", "r1")
	assert.Len(t, b.Subscribers("r1"), 1)
	assert.Equal(t, []string{"r2"}, bobPhone.Rooms())
	assert.Empty(t, bobLaptop.Rooms())

	events := drain(alice)
	require.Equal(t, []string{UserLeftEvent}, eventTypes(events))
	var left RoomUserPayload
	require.Nil(t, json.Unmarshal(events[0].Payload, &left))
	assert.Equal(t, RoomUserPayload{UserID: "bob", RoomID: "r1"}, left)
	assert.Equal(t, []string{UserLeftEvent}, eventTypes(drain(bobPhone)))
	assert.Equal(t, []string{UserLeftEvent}, eventTypes(drain(bobLaptop)))

	b.Emit("r1", NewMessageEvent, nil)
	assert.Empty(t, drain(bobPhone))
	assert.Empty(t, drain(bobLaptop))

	t.Run("not subscribed", func(t *testing.T) {
		b.Evict("bob", "r1")
		assert.Empty(t, drain(alice))
	})
}

func TestBroadcasterCloseRoom(t *testing.T) {
	f := NewBaseFixture(t)
	defer f.tearDown()
	b := NewBroadcaster(f.users, discardLogger)

	alice := newTestConn(f.ctx, "alice", 16)
	bob := newTestConn(f.ctx, "bob", 16)
	for _, c := range []*Conn{alice, bob} {
		b.Register(c)
		b.Join(c, "r1")
	}
	drain(alice)

	b.CloseRoom("r1")
	assert.Empty(t, b.Subscribers("r1"))
	assert.Empty(t, alice.Rooms())
	assert.Empty(t, bob.Rooms())

	b.Emit("r1", NewMessageEvent, nil)
	assert.Empty(t, drain(alice))
	assert.Empty(t, drain(bob))
}

func TestBroadcasterJoinAfterClose(t *testing.T) {
	f := NewBaseFixture(t)
	defer f.tearDown()
	b := NewBroadcaster(f.users, discardLogger)

	alice := newTestConn(f.ctx, "alice", 16)
	bob := newTestConn(f.ctx, "bob", 16)
	b.Register(alice)
	b.Register(bob)
	b.Join(alice, "r1")

	bob.Close()
	b.Unregister(bob)
	b.Join(bob, "r1")

	assert.Len(t, b.Subscribers("r1"), 1)
	assert.Empty(t, bob.Rooms())
	assert.Empty(t, drain(alice))
}
