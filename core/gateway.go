package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultSendBuffer = 256
	defaultInboxSize  = 64
)

var defaultUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Gateway authenticates socket connections and dispatches their events.
type Gateway struct {
	auth        AuthStore
	users       UserStore
	rooms       *RoomManager
	messages    *MessageLog
	broadcaster *Broadcaster
	router      *EventRouter

	upgrader   websocket.Upgrader
	sendBuffer int
	inboxSize  int
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type GatewayOption func(*Gateway)

func WithCheckOrigin(f func(r *http.Request) bool) GatewayOption {
	return func(g *Gateway) {
		g.upgrader.CheckOrigin = f
	}
}

func WithLogger(l *slog.Logger) GatewayOption {
	return func(g *Gateway) {
		g.logger = l
	}
}

// WithSendBuffer sets how many outbound events may queue up for a
// connection before it is considered too slow and closed.
func WithSendBuffer(n int) GatewayOption {
	return func(g *Gateway) {
		g.sendBuffer = n
	}
}

func NewGateway(ctx context.Context, auth AuthStore, users UserStore, rooms *RoomManager, messages *MessageLog, broadcaster *Broadcaster, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		auth:        auth,
		users:       users,
		rooms:       rooms,
		messages:    messages,
		broadcaster: broadcaster,
		upgrader:    defaultUpgrader,
		sendBuffer:  defaultSendBuffer,
		inboxSize:   defaultInboxSize,
		logger:      slog.New(slog.NewTextHandler(os.Stderr, nil)),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.ctx, g.cancel = context.WithCancel(ctx)

	g.router = NewEventRouter(g.logger)
	g.router.On(JoinRoomEvent, g.handleJoinRoom)
	g.router.On(LeaveRoomEvent, g.handleLeaveRoom)
	g.router.On(SendMessageEvent, g.handleSendMessage)
	g.router.On(TypingEvent, g.handleTyping)
	g.router.On(StopTypingEvent, g.handleStopTyping)
	g.router.On(MarkReadEvent, g.handleMarkRead)
	g.router.On(UserOnlineEvent, g.handleUserOnline)

	return g
}

func (g *Gateway) Broadcaster() *Broadcaster {
	return g.broadcaster
}

// socketToken reads the token from the "token" query parameter, falling back
// to the Authorization header.
func socketToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	return BearerToken(r)
}

// Handler authenticates the request and upgrades it to a socket session.
// Authentication errors are returned before the upgrade so that they are
// written as a regular HTTP error response.
func (g *Gateway) Handler(w http.ResponseWriter, r *http.Request) error {
	session, err := g.auth.Session(r.Context(), socketToken(r))
	if err != nil {
		return err
	}

	name := ""
	if user, err := g.users.GetUserByID(r.Context(), session.UserID); err == nil {
		name = user.Name
	} else {
		g.logger.Debug(fmt.Sprintf("GetUserByID: %v", err))
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already replied
		g.logger.Debug(fmt.Sprintf("upgrade: %v", err))
		return nil
	}

	g.serve(newConn(g.ctx, ws, *session, name, g.sendBuffer, g.logger))
	return nil
}

func (g *Gateway) serve(conn *Conn) {
	g.broadcaster.Register(conn)
	g.broadcaster.MarkOnline(conn.Context(), conn.UserID)

	connected, err := NewEvent(ConnectedEvent, ConnectedPayload{UserID: conn.UserID})
	if err == nil {
		conn.Send(connected)
	}

	// handlers outlive a disconnect so that writes in flight complete
	handlerCtx := context.WithoutCancel(conn.Context())

	// events of one connection are handled one at a time, in arrival order
	inbox := make(chan *Event, g.inboxSize)

	g.wg.Add(3)
	go func() {
		defer g.wg.Done()
		conn.writeLoop()
	}()
	go func() {
		defer g.wg.Done()
		defer close(inbox)
		conn.readLoop(func(e *Event) {
			inbox <- e
		})
	}()
	go func() {
		defer g.wg.Done()
		for e := range inbox {
			g.router.Dispatch(handlerCtx, conn, e)
		}
		g.disconnect(conn)
	}()
}

func (g *Gateway) disconnect(conn *Conn) {
	if !g.broadcaster.Unregister(conn) {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(g.ctx), 5*time.Second)
	defer cancel()
	g.broadcaster.MarkOffline(ctx, conn.UserID)
}

// Close closes every connection and waits for their handlers to return.
func (g *Gateway) Close() error {
	g.cancel()
	g.wg.Wait()
	return nil
}
