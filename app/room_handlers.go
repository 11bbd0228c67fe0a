package roomchat

import (
	"net/http"

	"github.com/putto11262002/roomchat/core"
	"github.com/putto11262002/roomchat/pkg/router"
)

type RoomHandler struct {
	rooms       *core.RoomManager
	broadcaster *core.Broadcaster
}

func NewRoomHandler(rooms *core.RoomManager, broadcaster *core.Broadcaster) *RoomHandler {
	return &RoomHandler{rooms: rooms, broadcaster: broadcaster}
}

type CreateRoomPayload struct {
	Name      string        `json:"name" validate:"max=100"`
	Type      core.RoomType `json:"type" validate:"required,oneof=direct group"`
	MemberIDs []string      `json:"memberIds" validate:"dive,required"`
}

type UpdateRoomPayload struct {
	Name        *string `json:"name" validate:"omitempty,min=1,max=100"`
	ImageBase64 *string `json:"imageBase64" validate:"omitempty,base64"`
}

type MembersPayload struct {
	MemberIDs []string `json:"memberIds" validate:"required,min=1,dive,required"`
}

func (h *RoomHandler) CreateRoomHandler(w http.ResponseWriter, r *http.Request) error {
	var payload CreateRoomPayload
	if err := decodeJSON(r, &payload); err != nil {
		return err
	}

	room, err := h.rooms.CreateRoom(r.Context(), core.CreateRoomParams{
		Type:      payload.Type,
		Name:      payload.Name,
		Members:   payload.MemberIDs,
		CreatedBy: core.SessionFromRequest(r).UserID,
	})
	if err != nil {
		return err
	}
	return router.JSON(w, http.StatusCreated, room, "Room created")
}

func (h *RoomHandler) ListRoomsHandler(w http.ResponseWriter, r *http.Request) error {
	rooms, err := h.rooms.ListRooms(r.Context(), core.SessionFromRequest(r).UserID)
	if err != nil {
		return err
	}
	if rooms == nil {
		rooms = []core.Room{}
	}
	return router.JSON(w, http.StatusOK, rooms, "")
}

func (h *RoomHandler) GetRoomHandler(w http.ResponseWriter, r *http.Request) error {
	room, err := h.rooms.GetRoom(r.Context(), r.PathValue("roomID"), core.SessionFromRequest(r).UserID)
	if err != nil {
		return err
	}
	return router.JSON(w, http.StatusOK, room, "")
}

func (h *RoomHandler) UpdateRoomHandler(w http.ResponseWriter, r *http.Request) error {
	var payload UpdateRoomPayload
	if err := decodeJSON(r, &payload); err != nil {
		return err
	}

	room, err := h.rooms.UpdateRoom(r.Context(), r.PathValue("roomID"), core.SessionFromRequest(r).UserID,
		core.UpdateRoomParams{Name: payload.Name, ImageBase64: payload.ImageBase64})
	if err != nil {
		return err
	}
	return router.JSON(w, http.StatusOK, room, "Room updated")
}

func (h *RoomHandler) DeleteRoomHandler(w http.ResponseWriter, r *http.Request) error {
	roomID := r.PathValue("roomID")
	if err := h.rooms.DeleteRoom(r.Context(), roomID, core.SessionFromRequest(r).UserID); err != nil {
		return err
	}
	h.broadcaster.CloseRoom(roomID)
	return router.JSON(w, http.StatusOK, nil, "Room deleted")
}

func (h *RoomHandler) AddMembersHandler(w http.ResponseWriter, r *http.Request) error {
	var payload MembersPayload
	if err := decodeJSON(r, &payload); err != nil {
		return err
	}

	room, err := h.rooms.AddMembers(r.Context(), r.PathValue("roomID"), core.SessionFromRequest(r).UserID, payload.MemberIDs)
	if err != nil {
		return err
	}
	return router.JSON(w, http.StatusOK, room, "Members added")
}

func (h *RoomHandler) RemoveMemberHandler(w http.ResponseWriter, r *http.Request) error {
	roomID, target := r.PathValue("roomID"), r.PathValue("userID")
	if err := h.rooms.RemoveMember(r.Context(), roomID, core.SessionFromRequest(r).UserID, target); err != nil {
		return err
	}
	h.broadcaster.Evict(target, roomID)
	return router.JSON(w, http.StatusOK, nil, "Member removed")
}
