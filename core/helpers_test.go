package core

import (
	"strings"
)

const testPassword = "password"

func newTestUser(name string) NewUser {
	return NewUser{
		Name:     name,
		Email:    strings.ToLower(name) + "@example.com",
		Password: testPassword,
	}
}

// seedUsers creates one user per name, with email <name>@example.com.
func seedUsers(f *BaseFixture, names ...string) []User {
	users := make([]User, 0, len(names))
	for _, name := range names {
		u, err := f.users.CreateUser(f.ctx, newTestUser(name))
		if err != nil {
			f.t.Fatal(err)
		}
		users = append(users, *u)
	}
	return users
}

func seedGroup(f *BaseFixture, name string, creator User, members ...User) *Room {
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.ID)
	}
	if len(ids) == 0 {
		ids = append(ids, creator.ID)
	}
	room, err := f.rooms.CreateRoom(f.ctx, CreateRoomParams{
		Type:      GroupRoom,
		Name:      name,
		Members:   ids,
		CreatedBy: creator.ID,
	})
	if err != nil {
		f.t.Fatal(err)
	}
	return room
}

func seedMessages(f *BaseFixture, roomID string, sender User, contents ...string) []Message {
	msgs := make([]Message, 0, len(contents))
	for _, c := range contents {
		m, err := f.messages.Append(f.ctx, AppendParams{RoomID: roomID, SenderID: sender.ID, Content: c})
		if err != nil {
			f.t.Fatal(err)
		}
		msgs = append(msgs, *m)
	}
	return msgs
}
