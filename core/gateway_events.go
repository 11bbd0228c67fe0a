package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Inbound events.
const (
	JoinRoomEvent    = "join_room"
	LeaveRoomEvent   = "leave_room"
	SendMessageEvent = "send_message"
	TypingEvent      = "typing"
	StopTypingEvent  = "stop_typing"
	MarkReadEvent    = "mark_read"
	UserOnlineEvent  = "user_online"
)

// Outbound events.
const (
	ConnectedEvent      = "connected"
	ErrorEvent          = "error"
	UserJoinedEvent     = "user_joined"
	UserLeftEvent       = "user_left"
	NewMessageEvent     = "new_message"
	UserTypingEvent     = "user_typing"
	UserStopTypingEvent = "user_stop_typing"
	MessageReadEvent    = "message_read"
	MessageUpdatedEvent = "message_updated"
	MessageDeletedEvent = "message_deleted"
	UserOfflineEvent    = "user_offline"
)

type ConnectedPayload struct {
	UserID string `json:"userId"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// RoomPayload also accepts a bare room id string.
type RoomPayload struct {
	RoomID string `json:"roomId"`
}

func (p *RoomPayload) UnmarshalJSON(b []byte) error {
	if bytes.HasPrefix(bytes.TrimSpace(b), []byte(`"`)) {
		return json.Unmarshal(b, &p.RoomID)
	}
	type alias RoomPayload
	return json.Unmarshal(b, (*alias)(p))
}

type RoomUserPayload struct {
	UserID string `json:"userId"`
	RoomID string `json:"roomId"`
}

type TypingPayload struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId,omitempty"`
	UserName string `json:"userName,omitempty"`
}

type SendMessagePayload struct {
	RoomID   string      `json:"roomId"`
	Content  string      `json:"content"`
	Type     MessageType `json:"type,omitempty"`
	MediaURL string      `json:"mediaUrl,omitempty"`
	ReplyTo  string      `json:"replyTo,omitempty"`
}

// MarkReadPayload also accepts a bare message id string.
type MarkReadPayload struct {
	MessageID string `json:"messageId"`
	RoomID    string `json:"roomId,omitempty"`
}

func (p *MarkReadPayload) UnmarshalJSON(b []byte) error {
	if bytes.HasPrefix(bytes.TrimSpace(b), []byte(`"`)) {
		return json.Unmarshal(b, &p.MessageID)
	}
	type alias MarkReadPayload
	return json.Unmarshal(b, (*alias)(p))
}

type MessageReadPayload struct {
	MessageID string `json:"messageId"`
	RoomID    string `json:"roomId"`
	UserID    string `json:"userId"`
}

type MessageDeletedPayload struct {
	MessageID string `json:"messageId"`
	RoomID    string `json:"roomId"`
}

type PresencePayload struct {
	UserID   string     `json:"userId"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

var eventActions = map[string]string{
	JoinRoomEvent:    "join room",
	LeaveRoomEvent:   "leave room",
	SendMessageEvent: "send message",
	TypingEvent:      "send typing status",
	StopTypingEvent:  "send typing status",
	MarkReadEvent:    "mark message as read",
	UserOnlineEvent:  "update online status",
}

// ErrorEventMessage describes the failure of an inbound event. Only the
// message of operational errors is passed on to the client.
func ErrorEventMessage(eventType string, err error) string {
	action, ok := eventActions[eventType]
	if !ok {
		action = "handle " + strings.ReplaceAll(eventType, "_", " ")
	}
	msg := "Failed to " + action

	var e *Error
	if err != nil && errors.As(err, &e) && e.Kind != KindInternal {
		msg += ": " + e.Message
	}
	return msg
}

func requireRoomID(roomID string) error {
	if strings.TrimSpace(roomID) == "" {
		return ValidationError("roomId is required", nil)
	}
	return nil
}

// requireJoined checks that conn has joined the room.
func requireJoined(conn *Conn, roomID string) error {
	if err := requireRoomID(roomID); err != nil {
		return err
	}
	if !conn.InRoom(roomID) {
		return ErrNotRoomMember
	}
	return nil
}

func (g *Gateway) handleJoinRoom(ctx context.Context, conn *Conn, e *Event) error {
	var p RoomPayload
	if err := e.Decode(&p); err != nil {
		return err
	}
	if err := requireRoomID(p.RoomID); err != nil {
		return err
	}
	if err := g.rooms.AssertMember(ctx, p.RoomID, conn.UserID); err != nil {
		return err
	}
	g.broadcaster.Join(conn, p.RoomID)
	return nil
}

func (g *Gateway) handleLeaveRoom(_ context.Context, conn *Conn, e *Event) error {
	var p RoomPayload
	if err := e.Decode(&p); err != nil {
		return err
	}
	if err := requireRoomID(p.RoomID); err != nil {
		return err
	}
	g.broadcaster.Leave(conn, p.RoomID)
	return nil
}

func (g *Gateway) handleSendMessage(ctx context.Context, conn *Conn, e *Event) error {
	var p SendMessagePayload
	if err := e.Decode(&p); err != nil {
		return err
	}
	if err := requireRoomID(p.RoomID); err != nil {
		return err
	}

	msg, err := g.messages.Append(ctx, AppendParams{
		RoomID:   p.RoomID,
		SenderID: conn.UserID,
		Content:  p.Content,
		Type:     p.Type,
		MediaURL: p.MediaURL,
		ReplyTo:  p.ReplyTo,
	})
	if err != nil {
		return err
	}

	g.broadcaster.Emit(msg.RoomID, NewMessageEvent, msg)
	return nil
}

func (g *Gateway) handleTyping(_ context.Context, conn *Conn, e *Event) error {
	var p TypingPayload
	if err := e.Decode(&p); err != nil {
		return err
	}
	if err := requireJoined(conn, p.RoomID); err != nil {
		return err
	}
	g.broadcaster.Typing(conn, p.RoomID, p.UserName)
	return nil
}

func (g *Gateway) handleStopTyping(_ context.Context, conn *Conn, e *Event) error {
	var p RoomPayload
	if err := e.Decode(&p); err != nil {
		return err
	}
	if err := requireJoined(conn, p.RoomID); err != nil {
		return err
	}
	g.broadcaster.StopTyping(conn, p.RoomID)
	return nil
}

func (g *Gateway) handleMarkRead(ctx context.Context, conn *Conn, e *Event) error {
	var p MarkReadPayload
	if err := e.Decode(&p); err != nil {
		return err
	}
	if strings.TrimSpace(p.MessageID) == "" {
		return ValidationError("messageId is required", nil)
	}

	msg, err := g.messages.MarkRead(ctx, p.RoomID, p.MessageID, conn.UserID)
	if err != nil {
		return err
	}

	g.broadcaster.Emit(msg.RoomID, MessageReadEvent, MessageReadPayload{
		MessageID: msg.ID,
		RoomID:    msg.RoomID,
		UserID:    conn.UserID,
	})
	return nil
}

func (g *Gateway) handleUserOnline(ctx context.Context, conn *Conn, _ *Event) error {
	g.broadcaster.AnnounceOnline(ctx, conn.UserID)
	return nil
}
