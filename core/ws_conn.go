package core

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024
)

// Conn is an authenticated socket session.
type Conn struct {
	ID       string
	UserID   string
	UserName string

	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	send   chan *Event
	logger *slog.Logger

	mu    sync.Mutex
	rooms map[string]struct{}
}

func newConn(ctx context.Context, ws *websocket.Conn, session Session, name string, buffer int, logger *slog.Logger) *Conn {
	ctx, cancel := context.WithCancel(ctx)
	id := newID()
	return &Conn{
		ID:       id,
		UserID:   session.UserID,
		UserName: name,
		conn:     ws,
		ctx:      ctx,
		cancel:   cancel,
		send:     make(chan *Event, buffer),
		logger:   logger.With(slog.String("connection", fmt.Sprintf("%s:%s", session.UserID, id[:8]))),
		rooms:    make(map[string]struct{}),
	}
}

// Context is cancelled once the connection is closed.
func (c *Conn) Context() context.Context {
	return c.ctx
}

// Close closes the connection. It is safe to call more than once.
func (c *Conn) Close() {
	c.cancel()
}

// Send queues e without blocking. A connection whose queue is full is too
// slow to keep up and gets closed. It reports whether e was queued.
func (c *Conn) Send(e *Event) bool {
	if c.ctx.Err() != nil {
		return false
	}
	select {
	case c.send <- e:
		return true
	default:
		c.logger.Warn("send buffer full, closing connection")
		c.Close()
		return false
	}
}

// SendError sends an error event to the connection.
func (c *Conn) SendError(message string) {
	e, err := NewEvent(ErrorEvent, ErrorPayload{Message: message})
	if err != nil {
		c.logger.Error(err.Error())
		return
	}
	c.Send(e)
}

func (c *Conn) joined(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms[roomID] = struct{}{}
}

func (c *Conn) left(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rooms, roomID)
}

// InRoom reports whether the connection is subscribed to a room.
func (c *Conn) InRoom(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[roomID]
	return ok
}

// Rooms returns the rooms the connection is subscribed to.
func (c *Conn) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Collect(maps.Keys(c.rooms))
}

// readLoop reads events until the peer goes away or the connection is closed.
func (c *Conn) readLoop(dispatch func(*Event)) {
	c.logger.Debug("read loop started")
	defer func() {
		c.Close()
		c.logger.Debug("read loop stopped")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		format, r, err := c.conn.NextReader()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug(fmt.Sprintf("expected close: %v", err))
				return
			}
			if websocket.IsUnexpectedCloseError(err) {
				c.logger.Info(fmt.Sprintf("unexpected close: %v", err))
				return
			}
			if c.ctx.Err() == nil {
				c.logger.Info(fmt.Sprintf("NextReader: %v", err))
			}
			return
		}

		if format != websocket.TextMessage {
			c.logger.Debug(fmt.Sprintf("unexpected message format: %v", format))
			continue
		}

		var event Event
		if err := DecodeEvent(r, &event); err != nil {
			c.logger.Debug(err.Error())
			c.SendError("Invalid event")
			continue
		}

		c.logger.Debug(event.String())
		dispatch(&event)
	}
}

// writeLoop drains the send queue and keeps the connection alive with pings.
// It closes the underlying connection when the session ends.
func (c *Conn) writeLoop() {
	c.logger.Debug("write loop started")
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
		c.conn.Close()
		c.logger.Debug("write loop stopped")
	}()

	for {
		select {
		case e := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				c.logger.Debug(fmt.Sprintf("getting next writer: %v", err))
				return
			}
			if err := EncodeEvent(w, e); err != nil {
				c.logger.Error(err.Error())
			}
			if err := w.Close(); err != nil {
				c.logger.Debug(fmt.Sprintf("closing writer: %v", err))
				return
			}
		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug(fmt.Sprintf("writing ping: %v", err))
				return
			}
		}
	}
}
