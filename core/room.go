package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/putto11262002/roomchat/pkg/docstore"
)

const roomsCollection = "rooms"

type RoomType string

const (
	// DirectRoom is a room between exactly two users. Only one direct room
	// can exist between two users; its id is derived from their ids.
	DirectRoom RoomType = "direct"
	// GroupRoom is a named room with any number of members.
	GroupRoom RoomType = "group"
)

// LastMessage is the summary of the latest message of a room.
type LastMessage struct {
	Content    string      `json:"content"`
	SenderID   string      `json:"senderId"`
	SenderName string      `json:"senderName"`
	Type       MessageType `json:"type"`
	CreatedAt  time.Time   `json:"createdAt"`
}

type Room struct {
	ID          string       `json:"id"`
	Type        RoomType     `json:"type"`
	Name        string       `json:"name,omitempty"`
	Members     []string     `json:"members"`
	ImageBase64 string       `json:"imageBase64,omitempty"`
	LastMessage *LastMessage `json:"lastMessage,omitempty"`
	LastUpdated time.Time    `json:"lastUpdated"`
	CreatedAt   time.Time    `json:"createdAt"`
	CreatedBy   string       `json:"createdBy"`
}

// IsMember reports whether user is a member of the room.
func (r *Room) IsMember(user string) bool {
	return slices.Contains(r.Members, user)
}

type lastMessageDoc struct {
	Content    string      `json:"content"`
	SenderID   string      `json:"senderId"`
	SenderName string      `json:"senderName"`
	Type       MessageType `json:"type"`
	CreatedAt  int64       `json:"createdAt"`
}

type roomDoc struct {
	ID          string          `json:"id"`
	Type        RoomType        `json:"type"`
	Name        string          `json:"name,omitempty"`
	Members     []string        `json:"members"`
	ImageBase64 string          `json:"imageBase64,omitempty"`
	LastMessage *lastMessageDoc `json:"lastMessage,omitempty"`
	LastUpdated int64           `json:"lastUpdated"`
	CreatedAt   int64           `json:"createdAt"`
	CreatedBy   string          `json:"createdBy"`
}

func (d roomDoc) toRoom() Room {
	room := Room{
		ID:          d.ID,
		Type:        d.Type,
		Name:        d.Name,
		Members:     d.Members,
		ImageBase64: d.ImageBase64,
		LastUpdated: fromMillis(d.LastUpdated),
		CreatedAt:   fromMillis(d.CreatedAt),
		CreatedBy:   d.CreatedBy,
	}
	if room.Members == nil {
		room.Members = []string{}
	}
	if d.LastMessage != nil {
		room.LastMessage = &LastMessage{
			Content:    d.LastMessage.Content,
			SenderID:   d.LastMessage.SenderID,
			SenderName: d.LastMessage.SenderName,
			Type:       d.LastMessage.Type,
			CreatedAt:  fromMillis(d.LastMessage.CreatedAt),
		}
	}
	return room
}

type CreateRoomParams struct {
	Type      RoomType
	Name      string
	Members   []string
	CreatedBy string
}

// UpdateRoomParams lists the fields of a room that members may change.
// Nil fields are left untouched.
type UpdateRoomParams struct {
	Name        *string
	ImageBase64 *string
}

// RoomManager owns room identity and membership.
type RoomManager struct {
	docs  docstore.Store
	users UserStore
}

func NewRoomManager(docs docstore.Store, users UserStore) *RoomManager {
	return &RoomManager{docs: docs, users: users}
}

// ResolveDirectRoom returns the id of the direct room between a and b.
// The id does not depend on the order of the arguments.
func ResolveDirectRoom(a, b string) (string, error) {
	if a == b {
		return "", ErrSameUser
	}
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, "_"), nil
}

// ResolveDirectRoom returns the id of the direct room between a and b.
func (m *RoomManager) ResolveDirectRoom(a, b string) (string, error) {
	return ResolveDirectRoom(a, b)
}

// CreateRoom creates a room. The creator is always a member.
// Creating a direct room that already exists returns the existing room.
func (m *RoomManager) CreateRoom(ctx context.Context, params CreateRoomParams) (*Room, error) {
	if len(params.Members) == 0 {
		return nil, ValidationError("At least one user is required", nil)
	}

	members := dedup(append([]string{params.CreatedBy}, params.Members...))

	switch params.Type {
	case DirectRoom:
		return m.createDirectRoom(ctx, params.CreatedBy, members)
	case GroupRoom:
		name := strings.TrimSpace(params.Name)
		if name == "" {
			return nil, ValidationError("Group name is required", nil)
		}
		if err := m.assertUsersExist(ctx, members); err != nil {
			return nil, err
		}
		now := toMillis(time.Now())
		doc := roomDoc{
			ID:          newID(),
			Type:        GroupRoom,
			Name:        name,
			Members:     members,
			LastUpdated: now,
			CreatedAt:   now,
			CreatedBy:   params.CreatedBy,
		}
		if err := m.docs.Set(ctx, roomsCollection, doc.ID, doc); err != nil {
			return nil, fmt.Errorf("Set(room): %w", err)
		}
		room := doc.toRoom()
		return &room, nil
	default:
		return nil, NewErrorf(KindValidation, "Invalid room type %q", params.Type)
	}
}

func (m *RoomManager) createDirectRoom(ctx context.Context, createdBy string, members []string) (*Room, error) {
	if len(members) == 1 {
		return nil, ErrSameUser
	}
	if len(members) != 2 {
		return nil, ValidationError("Direct room needs exactly two users", nil)
	}

	id, err := ResolveDirectRoom(members[0], members[1])
	if err != nil {
		return nil, err
	}

	existing, err := m.getDoc(ctx, id)
	if err == nil {
		room := existing.toRoom()
		return &room, nil
	}
	if !errors.Is(err, ErrRoomNotFound) {
		return nil, err
	}

	if err := m.assertUsersExist(ctx, members); err != nil {
		return nil, err
	}

	sort.Strings(members)
	now := toMillis(time.Now())
	doc := roomDoc{
		ID:          id,
		Type:        DirectRoom,
		Members:     members,
		LastUpdated: now,
		CreatedAt:   now,
		CreatedBy:   createdBy,
	}
	if err := m.docs.Set(ctx, roomsCollection, doc.ID, doc); err != nil {
		return nil, fmt.Errorf("Set(room): %w", err)
	}
	room := doc.toRoom()
	return &room, nil
}

func (m *RoomManager) assertUsersExist(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if _, err := m.users.GetUserByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (m *RoomManager) getDoc(ctx context.Context, roomID string) (*roomDoc, error) {
	var doc roomDoc
	if err := m.docs.Get(ctx, roomsCollection, roomID, &doc); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("Get(room): %w", err)
	}
	return &doc, nil
}

// room loads a room and checks that user is a member of it.
func (m *RoomManager) room(ctx context.Context, roomID, user string) (*Room, error) {
	doc, err := m.getDoc(ctx, roomID)
	if err != nil {
		return nil, err
	}
	room := doc.toRoom()
	if !room.IsMember(user) {
		return nil, ErrNotRoomMember
	}
	return &room, nil
}

// AssertMember returns ErrRoomNotFound if the room does not exist and
// ErrNotRoomMember if user is not one of its members.
func (m *RoomManager) AssertMember(ctx context.Context, roomID, user string) error {
	_, err := m.room(ctx, roomID, user)
	return err
}

func (m *RoomManager) GetRoom(ctx context.Context, roomID, requester string) (*Room, error) {
	return m.room(ctx, roomID, requester)
}

// ListRooms returns the rooms of user, most recently active first.
func (m *RoomManager) ListRooms(ctx context.Context, user string) ([]Room, error) {
	docs, err := m.docs.Query(ctx, roomsCollection, docstore.Query{
		Filters: []docstore.Filter{docstore.Where("members", docstore.Contains, user)},
		OrderBy: []docstore.Order{{Field: "lastUpdated", Desc: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("Query(rooms): %w", err)
	}
	return decodeRooms(docs)
}

// AddMembers adds users to a group room on behalf of requester.
func (m *RoomManager) AddMembers(ctx context.Context, roomID, requester string, users []string) (*Room, error) {
	doc, err := m.getDoc(ctx, roomID)
	if err != nil {
		return nil, err
	}
	room := doc.toRoom()
	if room.Type == DirectRoom {
		return nil, ErrDirectRoomMembers
	}
	if !room.IsMember(requester) {
		return nil, ErrNotRoomMember
	}

	users = dedup(users)
	if len(users) == 0 {
		return nil, ValidationError("At least one user is required", nil)
	}
	for _, u := range users {
		if room.IsMember(u) {
			return nil, ErrAlreadyMember
		}
	}
	if err := m.assertUsersExist(ctx, users); err != nil {
		return nil, err
	}

	err = m.docs.Update(ctx, roomsCollection, roomID, map[string]any{
		"members": docstore.Union(users...),
	})
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("Update(room members): %w", err)
	}
	return m.GetRoom(ctx, roomID, requester)
}

// RemoveMember removes target from a group room on behalf of requester.
// A member may remove themselves.
func (m *RoomManager) RemoveMember(ctx context.Context, roomID, requester, target string) error {
	doc, err := m.getDoc(ctx, roomID)
	if err != nil {
		return err
	}
	room := doc.toRoom()
	if room.Type == DirectRoom {
		return ErrDirectRoomMembers
	}
	if !room.IsMember(requester) {
		return ErrNotRoomMember
	}
	if !room.IsMember(target) {
		return ErrNotMember
	}

	err = m.docs.Update(ctx, roomsCollection, roomID, map[string]any{
		"members": docstore.Remove(target),
	})
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return ErrRoomNotFound
		}
		return fmt.Errorf("Update(room members): %w", err)
	}
	return nil
}

func (m *RoomManager) UpdateRoom(ctx context.Context, roomID, requester string, params UpdateRoomParams) (*Room, error) {
	if _, err := m.room(ctx, roomID, requester); err != nil {
		return nil, err
	}

	fields := make(map[string]any)
	if params.Name != nil {
		fields["name"] = strings.TrimSpace(*params.Name)
	}
	if params.ImageBase64 != nil {
		fields["imageBase64"] = *params.ImageBase64
	}
	if len(fields) == 0 {
		return nil, ErrNoValidFields
	}

	if err := m.docs.Update(ctx, roomsCollection, roomID, fields); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("Update(room): %w", err)
	}
	return m.GetRoom(ctx, roomID, requester)
}

// DeleteRoom deletes a room and all of its messages in one batch.
// Only the creator of the room may delete it.
func (m *RoomManager) DeleteRoom(ctx context.Context, roomID, requester string) error {
	doc, err := m.getDoc(ctx, roomID)
	if err != nil {
		return err
	}
	if doc.CreatedBy != requester {
		return ErrRoomDeleteForbidden
	}

	msgs, err := m.docs.Query(ctx, messagesCollection, docstore.Query{
		Filters: []docstore.Filter{docstore.Where("roomId", docstore.Eq, roomID)},
	})
	if err != nil {
		return fmt.Errorf("Query(room messages): %w", err)
	}

	batch := m.docs.Batch()
	for _, msg := range msgs {
		batch.Delete(messagesCollection, msg.ID)
	}
	batch.Delete(roomsCollection, roomID)
	if err := batch.Commit(ctx); err != nil {
		return fmt.Errorf("Commit(delete room): %w", err)
	}
	return nil
}

func decodeRooms(docs []docstore.Document) ([]Room, error) {
	raw, err := docstore.DecodeAll[roomDoc](docs, json.Unmarshal)
	if err != nil {
		return nil, fmt.Errorf("decode rooms: %w", err)
	}
	rooms := make([]Room, 0, len(raw))
	for _, d := range raw {
		rooms = append(rooms, d.toRoom())
	}
	return rooms, nil
}

// dedup removes empty and duplicate ids, keeping the first occurrence.
func dedup(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
