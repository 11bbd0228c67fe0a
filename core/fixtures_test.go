package core

import (
	"context"
	"strings"
	"testing"

	"github.com/putto11262002/roomchat/pkg/docstore"
)

var (
	accessSecret  = []byte("access-secret")
	refreshSecret = []byte("refresh-secret")
)

type BaseFixture struct {
	ctx      context.Context
	docs     docstore.Store
	users    *DocUserStore
	rooms    *RoomManager
	messages *MessageLog
	friends  *DocFriendshipStore
	auth     *TokenAuthStore
	t        *testing.T
	tearDown func()
}

func NewBaseFixture(t *testing.T) *BaseFixture {
	ctx, cancel := context.WithCancel(context.Background())

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := docstore.NewSQLiteDB(name, "../migrations", &docstore.SQLiteDBOption{Mode: "memory", Cache: "shared"})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatal(err)
	}

	docs := docstore.NewSQLiteStore(db.DB)
	users := NewDocUserStore(docs)
	rooms := NewRoomManager(docs, users)

	return &BaseFixture{
		ctx:      ctx,
		docs:     docs,
		users:    users,
		rooms:    rooms,
		messages: NewMessageLog(docs, rooms, users),
		friends:  NewDocFriendshipStore(docs, users),
		auth: NewTokenAuthStore(users, TokenAuthConfig{
			AccessSecret:  accessSecret,
			RefreshSecret: refreshSecret,
		}),
		t: t,
		tearDown: func() {
			cancel()
			db.Close()
		},
	}
}
