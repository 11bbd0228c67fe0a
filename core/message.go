package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/putto11262002/roomchat/pkg/docstore"
	"golang.org/x/sync/errgroup"
)

const (
	messagesCollection = "messages"

	DefaultMessageLimit = 50
	MaxMessageLimit     = 100

	unknownSender = "Unknown"
)

type MessageType string

const (
	TextMessage  MessageType = "text"
	ImageMessage MessageType = "image"
	FileMessage  MessageType = "file"
)

// Message is a message sent by a user to a room.
type Message struct {
	ID         string      `json:"id"`
	RoomID     string      `json:"roomId"`
	SenderID   string      `json:"senderId"`
	SenderName string      `json:"senderName"`
	Content    string      `json:"content"`
	Type       MessageType `json:"type"`
	MediaURL   string      `json:"mediaUrl,omitempty"`
	ReplyTo    string      `json:"replyTo,omitempty"`
	ReadBy     []string    `json:"readBy"`
	IsEdited   bool        `json:"isEdited"`
	CreatedAt  time.Time   `json:"createdAt"`
}

type messageDoc struct {
	ID         string      `json:"id"`
	RoomID     string      `json:"roomId"`
	SenderID   string      `json:"senderId"`
	SenderName string      `json:"senderName"`
	Content    string      `json:"content"`
	Type       MessageType `json:"type"`
	MediaURL   string      `json:"mediaUrl,omitempty"`
	ReplyTo    string      `json:"replyTo,omitempty"`
	ReadBy     []string    `json:"readBy"`
	IsEdited   bool        `json:"isEdited"`
	CreatedAt  int64       `json:"createdAt"`
}

func (d messageDoc) toMessage() Message {
	readBy := d.ReadBy
	if readBy == nil {
		readBy = []string{}
	}
	return Message{
		ID:         d.ID,
		RoomID:     d.RoomID,
		SenderID:   d.SenderID,
		SenderName: d.SenderName,
		Content:    d.Content,
		Type:       d.Type,
		MediaURL:   d.MediaURL,
		ReplyTo:    d.ReplyTo,
		ReadBy:     readBy,
		IsEdited:   d.IsEdited,
		CreatedAt:  fromMillis(d.CreatedAt),
	}
}

type AppendParams struct {
	RoomID   string
	SenderID string
	Content  string
	// Type defaults to TextMessage.
	Type     MessageType
	MediaURL string
	ReplyTo  string
}

// ListParams pages through the messages of a room, newest first.
type ListParams struct {
	// Limit defaults to DefaultMessageLimit and is capped at MaxMessageLimit.
	Limit int
	Skip  int
	// Before, when set, only returns messages created strictly before it.
	Before time.Time
}

// MessageLog persists messages and read receipts.
type MessageLog struct {
	docs  docstore.Store
	rooms *RoomManager
	users UserStore
}

func NewMessageLog(docs docstore.Store, rooms *RoomManager, users UserStore) *MessageLog {
	return &MessageLog{docs: docs, rooms: rooms, users: users}
}

func validateContent(t MessageType, content, mediaURL string) error {
	switch t {
	case TextMessage:
		if content == "" {
			return ValidationError("Message content is required", nil)
		}
	case ImageMessage, FileMessage:
		if mediaURL == "" {
			return NewErrorf(KindValidation, "Media URL is required for %s messages", t)
		}
	default:
		return NewErrorf(KindValidation, "Invalid message type %q", t)
	}
	return nil
}

// Append stores a message and updates the summary of its room.
// The sender must be a member of the room.
func (l *MessageLog) Append(ctx context.Context, params AppendParams) (*Message, error) {
	if err := l.rooms.AssertMember(ctx, params.RoomID, params.SenderID); err != nil {
		return nil, err
	}

	if params.Type == "" {
		params.Type = TextMessage
	}
	content := strings.TrimSpace(params.Content)
	if err := validateContent(params.Type, content, params.MediaURL); err != nil {
		return nil, err
	}

	senderName := unknownSender
	sender, err := l.users.GetUserByID(ctx, params.SenderID)
	if err == nil && sender.Name != "" {
		senderName = sender.Name
	} else if err != nil && !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	now := time.Now()
	doc := messageDoc{
		ID:         NewMessageID(now),
		RoomID:     params.RoomID,
		SenderID:   params.SenderID,
		SenderName: senderName,
		Content:    content,
		Type:       params.Type,
		MediaURL:   params.MediaURL,
		ReplyTo:    params.ReplyTo,
		ReadBy:     []string{},
		CreatedAt:  toMillis(now),
	}

	err = l.docs.Batch().
		Set(messagesCollection, doc.ID, doc).
		Update(roomsCollection, params.RoomID, map[string]any{
			"lastMessage": lastMessageDoc{
				Content:    content,
				SenderID:   doc.SenderID,
				SenderName: senderName,
				Type:       doc.Type,
				CreatedAt:  doc.CreatedAt,
			},
			"lastUpdated": doc.CreatedAt,
		}).
		Commit(ctx)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("Commit(append message): %w", err)
	}

	msg := doc.toMessage()
	return &msg, nil
}

// List returns messages of a room, newest first.
func (l *MessageLog) List(ctx context.Context, roomID, requester string, params ListParams) ([]Message, error) {
	if err := l.rooms.AssertMember(ctx, roomID, requester); err != nil {
		return nil, err
	}

	limit := params.Limit
	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	if limit > MaxMessageLimit {
		limit = MaxMessageLimit
	}
	skip := max(params.Skip, 0)

	filters := []docstore.Filter{docstore.Where("roomId", docstore.Eq, roomID)}
	if !params.Before.IsZero() {
		filters = append(filters, docstore.Where("createdAt", docstore.Lt, toMillis(params.Before)))
	}

	docs, err := l.docs.Query(ctx, messagesCollection, docstore.Query{
		Filters: filters,
		OrderBy: []docstore.Order{{Field: "createdAt", Desc: true}, {Field: "id", Desc: true}},
		Offset:  skip,
		Limit:   limit,
	})
	if err != nil {
		return nil, fmt.Errorf("Query(messages): %w", err)
	}
	return decodeMessages(docs)
}

func (l *MessageLog) getDoc(ctx context.Context, messageID string) (*messageDoc, error) {
	var doc messageDoc
	if err := l.docs.Get(ctx, messagesCollection, messageID, &doc); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("Get(message): %w", err)
	}
	return &doc, nil
}

func (l *MessageLog) Get(ctx context.Context, messageID string) (*Message, error) {
	doc, err := l.getDoc(ctx, messageID)
	if err != nil {
		return nil, err
	}
	msg := doc.toMessage()
	return &msg, nil
}

// MarkRead records that reader has read a message. Marking a message
// twice has no further effect. An empty roomID is taken from the message.
func (l *MessageLog) MarkRead(ctx context.Context, roomID, messageID, reader string) (*Message, error) {
	doc, err := l.getDoc(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if roomID != "" && doc.RoomID != roomID {
		return nil, ErrMessageNotFound
	}
	if err := l.rooms.AssertMember(ctx, doc.RoomID, reader); err != nil {
		return nil, err
	}

	if slices.Contains(doc.ReadBy, reader) {
		msg := doc.toMessage()
		return &msg, nil
	}

	err = l.docs.Update(ctx, messagesCollection, messageID, map[string]any{
		"readBy": docstore.Union(reader),
	})
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("Update(readBy): %w", err)
	}
	return l.Get(ctx, messageID)
}

// UnreadCount counts the messages in the rooms of user that were sent by
// someone else and that user has not read.
func (l *MessageLog) UnreadCount(ctx context.Context, user string) (int, error) {
	rooms, err := l.rooms.ListRooms(ctx, user)
	if err != nil {
		return 0, err
	}

	counts := make([]int, len(rooms))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, room := range rooms {
		g.Go(func() error {
			docs, err := l.docs.Query(ctx, messagesCollection, docstore.Query{
				Filters: []docstore.Filter{
					docstore.Where("roomId", docstore.Eq, room.ID),
					docstore.Where("senderId", docstore.NotEq, user),
				},
			})
			if err != nil {
				return fmt.Errorf("Query(unread %s): %w", room.ID, err)
			}
			msgs, err := decodeMessages(docs)
			if err != nil {
				return err
			}
			for _, m := range msgs {
				if !slices.Contains(m.ReadBy, user) {
					counts[i]++
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	total := 0
	for _, c := range counts {
		total += c
	}
	return total, nil
}

// Edit replaces the content of a message. Only the sender may edit it.
func (l *MessageLog) Edit(ctx context.Context, messageID, editor, content string) (*Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ValidationError("Message content is required", nil)
	}

	doc, err := l.getDoc(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if doc.SenderID != editor {
		return nil, ErrNotMessageSender
	}

	err = l.docs.Update(ctx, messagesCollection, messageID, map[string]any{
		"content":  content,
		"isEdited": true,
	})
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("Update(message): %w", err)
	}
	return l.Get(ctx, messageID)
}

// Delete removes a message for good and returns what was deleted.
// Only the sender may delete it.
func (l *MessageLog) Delete(ctx context.Context, messageID, requester string) (*Message, error) {
	doc, err := l.getDoc(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if doc.SenderID != requester {
		return nil, ErrNotMessageSender
	}
	if err := l.docs.Delete(ctx, messagesCollection, messageID); err != nil {
		return nil, fmt.Errorf("Delete(message): %w", err)
	}
	msg := doc.toMessage()
	return &msg, nil
}

func decodeMessages(docs []docstore.Document) ([]Message, error) {
	raw, err := docstore.DecodeAll[messageDoc](docs, json.Unmarshal)
	if err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	msgs := make([]Message, 0, len(raw))
	for _, d := range raw {
		msgs = append(msgs, d.toMessage())
	}
	return msgs, nil
}
