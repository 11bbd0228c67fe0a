package core

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// channel is the set of connections subscribed to a room.
type channel struct {
	mu    sync.RWMutex
	id    string
	conns map[string]*Conn
}

func newChannel(id string) *channel {
	return &channel{
		id:    id,
		conns: make(map[string]*Conn),
	}
}

func (c *channel) subscribe(conn *Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conns[conn.ID] = conn
}

// unsubscribe reports whether the channel is left empty.
func (c *channel) unsubscribe(conn *Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.conns, conn.ID)
	return len(c.conns) == 0
}

func (c *channel) subscribers() []*Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	conns := make([]*Conn, 0, len(c.conns))
	for _, conn := range c.conns {
		conns = append(conns, conn)
	}
	return conns
}

// Broadcaster fans events out to the connections subscribed to a room and
// keeps track of user presence.
type Broadcaster struct {
	mu       sync.RWMutex
	channels map[string]*channel

	// sessions maps a user to their open connections.
	sessions *SyncMap[string, []*Conn]

	users  UserStore
	logger *slog.Logger
}

func NewBroadcaster(users UserStore, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		channels: make(map[string]*channel),
		sessions: NewSyncMap[string, []*Conn](),
		users:    users,
		logger:   logger,
	}
}

// Register tracks a new connection.
func (b *Broadcaster) Register(conn *Conn) {
	b.sessions.LoadAndStore(conn.UserID, func(conns []*Conn, _ bool) []*Conn {
		return append(conns, conn)
	})
}

// Unregister removes a connection from every room it joined. It reports
// whether it was the last connection of its user.
func (b *Broadcaster) Unregister(conn *Conn) bool {
	b.mu.Lock()
	for _, roomID := range conn.Rooms() {
		b.unsubscribeLocked(conn, roomID)
	}
	b.mu.Unlock()

	last := false
	b.sessions.Compute(conn.UserID, func(conns []*Conn, ok bool) ([]*Conn, bool) {
		if !ok {
			return nil, false
		}
		// readers may hold the old slice
		conns = slices.DeleteFunc(slices.Clone(conns), func(c *Conn) bool { return c.ID == conn.ID })
		last = len(conns) == 0
		return conns, !last
	})
	return last
}

// IsOnline reports whether user has at least one open connection.
func (b *Broadcaster) IsOnline(user string) bool {
	conns, ok := b.sessions.Load(user)
	return ok && len(conns) > 0
}

// subscribe reports whether conn was subscribed. A closed connection is not,
// since Unregister may already have walked its rooms.
func (b *Broadcaster) subscribe(conn *Conn, roomID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if conn.Context().Err() != nil {
		return false
	}
	ch, ok := b.channels[roomID]
	if !ok {
		ch = newChannel(roomID)
		b.channels[roomID] = ch
	}
	ch.subscribe(conn)
	conn.joined(roomID)
	return true
}

// unsubscribe reports whether conn was subscribed to the room.
func (b *Broadcaster) unsubscribe(conn *Conn, roomID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.unsubscribeLocked(conn, roomID)
}

func (b *Broadcaster) unsubscribeLocked(conn *Conn, roomID string) bool {
	was := conn.InRoom(roomID)
	conn.left(roomID)
	ch, ok := b.channels[roomID]
	if !ok {
		return was
	}
	if ch.unsubscribe(conn) {
		delete(b.channels, roomID)
	}
	return was
}

// Subscribers returns the connections subscribed to a room.
func (b *Broadcaster) Subscribers(roomID string) []*Conn {
	b.mu.RLock()
	ch, ok := b.channels[roomID]
	b.mu.RUnlock()
	if !ok {
		return nil
	}
	return ch.subscribers()
}

// Join subscribes conn to a room and tells the other subscribers.
func (b *Broadcaster) Join(conn *Conn, roomID string) {
	if !b.subscribe(conn, roomID) {
		return
	}
	b.emitToRoom(roomID, UserJoinedEvent, RoomUserPayload{UserID: conn.UserID, RoomID: roomID}, conn)
}

// Leave unsubscribes conn from a room and tells the other subscribers.
func (b *Broadcaster) Leave(conn *Conn, roomID string) {
	b.unsubscribe(conn, roomID)
	b.emitToRoom(roomID, UserLeftEvent, RoomUserPayload{UserID: conn.UserID, RoomID: roomID}, conn)
}

// Evict unsubscribes every connection of user from a room, once they are no
// longer a member of it. The room and the evicted connections are told that
// the user left.
func (b *Broadcaster) Evict(user, roomID string) {
	conns, _ := b.sessions.Load(user)
	var evicted []*Conn
	for _, conn := range conns {
		if b.unsubscribe(conn, roomID) {
			evicted = append(evicted, conn)
		}
	}
	if len(evicted) == 0 {
		return
	}

	e, err := NewEvent(UserLeftEvent, RoomUserPayload{UserID: user, RoomID: roomID})
	if err != nil {
		b.logger.Error(err.Error())
		return
	}
	b.ToRoom(roomID, e, nil)
	for _, conn := range evicted {
		conn.Send(e)
	}
}

// CloseRoom unsubscribes every connection from a deleted room.
func (b *Broadcaster) CloseRoom(roomID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.channels[roomID]
	if !ok {
		return
	}
	for _, conn := range ch.subscribers() {
		conn.left(roomID)
	}
	delete(b.channels, roomID)
}

func (b *Broadcaster) Typing(conn *Conn, roomID, userName string) {
	if userName == "" {
		userName = conn.UserName
	}
	b.emitToRoom(roomID, UserTypingEvent, TypingPayload{RoomID: roomID, UserID: conn.UserID, UserName: userName}, conn)
}

func (b *Broadcaster) StopTyping(conn *Conn, roomID string) {
	b.emitToRoom(roomID, UserStopTypingEvent, TypingPayload{RoomID: roomID, UserID: conn.UserID}, conn)
}

// ToRoom sends e to every subscriber of a room except the given connection,
// which may be nil.
func (b *Broadcaster) ToRoom(roomID string, e *Event, except *Conn) {
	for _, conn := range b.Subscribers(roomID) {
		if except != nil && conn.ID == except.ID {
			continue
		}
		conn.Send(e)
	}
}

// ToAll sends e to every open connection.
func (b *Broadcaster) ToAll(e *Event) {
	var conns []*Conn
	b.sessions.RRange(func(_ string, cs []*Conn) bool {
		conns = append(conns, cs...)
		return true
	})
	for _, conn := range conns {
		conn.Send(e)
	}
}

// Emit marshals payload and sends it to the subscribers of a room.
func (b *Broadcaster) Emit(roomID, eventType string, payload any) {
	b.emitToRoom(roomID, eventType, payload, nil)
}

func (b *Broadcaster) emitToRoom(roomID, eventType string, payload any, except *Conn) {
	e, err := NewEvent(eventType, payload)
	if err != nil {
		b.logger.Error(err.Error())
		return
	}
	b.ToRoom(roomID, e, except)
}

func (b *Broadcaster) emitToAll(eventType string, payload any) {
	e, err := NewEvent(eventType, payload)
	if err != nil {
		b.logger.Error(err.Error())
		return
	}
	b.ToAll(e)
}

// MarkOnline records user as online. Failures are logged and ignored.
func (b *Broadcaster) MarkOnline(ctx context.Context, user string) {
	if _, err := b.users.SetOnline(ctx, user, true); err != nil {
		b.logger.Warn("mark online", slog.String("user", user), slog.String("error", err.Error()))
	}
}

// AnnounceOnline marks user online and tells every connection.
func (b *Broadcaster) AnnounceOnline(ctx context.Context, user string) {
	b.MarkOnline(ctx, user)
	b.emitToAll(UserOnlineEvent, PresencePayload{UserID: user})
}

// MarkOffline records user as offline and tells every connection.
func (b *Broadcaster) MarkOffline(ctx context.Context, user string) {
	lastSeen, err := b.users.SetOnline(ctx, user, false)
	if err != nil {
		b.logger.Warn("mark offline", slog.String("user", user), slog.String("error", err.Error()))
		lastSeen = time.Now().UTC()
	}
	b.emitToAll(UserOfflineEvent, PresencePayload{UserID: user, LastSeen: &lastSeen})
}
