package main

import (
	roomchat "github.com/putto11262002/roomchat/app"
)

func main() {
	app := roomchat.New(nil, nil)
	app.Start()
}
