package roomchat

import (
	"net/http"
	"strconv"
	"time"

	"github.com/putto11262002/roomchat/core"
	"github.com/putto11262002/roomchat/pkg/router"
)

// MessageHandler serves the message routes. Writes are also pushed to the
// subscribers of the room.
type MessageHandler struct {
	messages    *core.MessageLog
	broadcaster *core.Broadcaster
}

func NewMessageHandler(messages *core.MessageLog, broadcaster *core.Broadcaster) *MessageHandler {
	return &MessageHandler{messages: messages, broadcaster: broadcaster}
}

type SendMessagePayload struct {
	RoomID   string           `json:"roomId" validate:"required"`
	Content  string           `json:"content"`
	Type     core.MessageType `json:"type" validate:"omitempty,oneof=text image file"`
	MediaURL string           `json:"mediaUrl"`
	ReplyTo  string           `json:"replyTo"`
}

type EditMessagePayload struct {
	Content string `json:"content" validate:"required"`
}

func (h *MessageHandler) SendMessageHandler(w http.ResponseWriter, r *http.Request) error {
	var payload SendMessagePayload
	if err := decodeJSON(r, &payload); err != nil {
		return err
	}

	msg, err := h.messages.Append(r.Context(), core.AppendParams{
		RoomID:   payload.RoomID,
		SenderID: core.SessionFromRequest(r).UserID,
		Content:  payload.Content,
		Type:     payload.Type,
		MediaURL: payload.MediaURL,
		ReplyTo:  payload.ReplyTo,
	})
	if err != nil {
		return err
	}

	h.broadcaster.Emit(msg.RoomID, core.NewMessageEvent, msg)
	return router.JSON(w, http.StatusCreated, msg, "Message sent")
}

// parseBefore accepts RFC3339 or unix milliseconds.
func parseBefore(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, core.ValidationError("before must be RFC3339 or unix milliseconds", nil)
	}
	return t, nil
}

func queryInt(r *http.Request, name string) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, core.NewErrorf(core.KindValidation, "%s must be a non-negative integer", name)
	}
	return n, nil
}

func (h *MessageHandler) ListMessagesHandler(w http.ResponseWriter, r *http.Request) error {
	limit, err := queryInt(r, "limit")
	if err != nil {
		return err
	}
	skip, err := queryInt(r, "skip")
	if err != nil {
		return err
	}
	before, err := parseBefore(r.URL.Query().Get("before"))
	if err != nil {
		return err
	}

	msgs, err := h.messages.List(r.Context(), r.PathValue("roomID"), core.SessionFromRequest(r).UserID,
		core.ListParams{Limit: limit, Skip: skip, Before: before})
	if err != nil {
		return err
	}
	if msgs == nil {
		msgs = []core.Message{}
	}
	return router.JSON(w, http.StatusOK, msgs, "")
}

func (h *MessageHandler) UnreadCountHandler(w http.ResponseWriter, r *http.Request) error {
	n, err := h.messages.UnreadCount(r.Context(), core.SessionFromRequest(r).UserID)
	if err != nil {
		return err
	}
	return router.JSON(w, http.StatusOK, map[string]int{"count": n}, "")
}

func (h *MessageHandler) MarkReadHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)
	msg, err := h.messages.MarkRead(r.Context(), "", r.PathValue("messageID"), session.UserID)
	if err != nil {
		return err
	}

	h.broadcaster.Emit(msg.RoomID, core.MessageReadEvent, core.MessageReadPayload{
		MessageID: msg.ID,
		RoomID:    msg.RoomID,
		UserID:    session.UserID,
	})
	return router.JSON(w, http.StatusOK, msg, "Message marked as read")
}

func (h *MessageHandler) EditMessageHandler(w http.ResponseWriter, r *http.Request) error {
	var payload EditMessagePayload
	if err := decodeJSON(r, &payload); err != nil {
		return err
	}

	msg, err := h.messages.Edit(r.Context(), r.PathValue("messageID"), core.SessionFromRequest(r).UserID, payload.Content)
	if err != nil {
		return err
	}

	h.broadcaster.Emit(msg.RoomID, core.MessageUpdatedEvent, msg)
	return router.JSON(w, http.StatusOK, msg, "Message updated")
}

func (h *MessageHandler) DeleteMessageHandler(w http.ResponseWriter, r *http.Request) error {
	msg, err := h.messages.Delete(r.Context(), r.PathValue("messageID"), core.SessionFromRequest(r).UserID)
	if err != nil {
		return err
	}

	h.broadcaster.Emit(msg.RoomID, core.MessageDeletedEvent, core.MessageDeletedPayload{
		MessageID: msg.ID,
		RoomID:    msg.RoomID,
	})
	return router.JSON(w, http.StatusOK, nil, "Message deleted")
}
