package roomchat

import (
	"net/http"

	"github.com/putto11262002/roomchat/pkg/router"
)

// ClientConfigHandler serves the third-party client settings the frontend
// boots with.
type ClientConfigHandler struct {
	firebase FirebaseConfig
	zego     ZegoConfig
}

func NewClientConfigHandler(firebase FirebaseConfig, zego ZegoConfig) *ClientConfigHandler {
	return &ClientConfigHandler{firebase: firebase, zego: zego}
}

func (h *ClientConfigHandler) FirebaseHandler(w http.ResponseWriter, r *http.Request) error {
	return router.JSON(w, http.StatusOK, h.firebase, "")
}

func (h *ClientConfigHandler) ZegoHandler(w http.ResponseWriter, r *http.Request) error {
	return router.JSON(w, http.StatusOK, h.zego, "")
}
