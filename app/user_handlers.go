package roomchat

import (
	"net/http"

	"github.com/putto11262002/roomchat/core"
	"github.com/putto11262002/roomchat/pkg/router"
	"github.com/putto11262002/roomchat/pkg/upload"
)

type UserHandler struct {
	users    core.UserStore
	uploader *upload.Uploader
}

func NewUserHandler(users core.UserStore, uploader *upload.Uploader) *UserHandler {
	return &UserHandler{users: users, uploader: uploader}
}

func (h *UserHandler) SearchUsersHandler(w http.ResponseWriter, r *http.Request) error {
	users, err := h.users.SearchUsers(r.Context(), r.URL.Query().Get("q"), core.DefaultSearchLimit)
	if err != nil {
		return err
	}
	if users == nil {
		users = []core.User{}
	}
	return router.JSON(w, http.StatusOK, users, "")
}

func (h *UserHandler) GetUserHandler(w http.ResponseWriter, r *http.Request) error {
	user, err := h.users.GetUserByID(r.Context(), r.PathValue("userID"))
	if err != nil {
		return err
	}
	return router.JSON(w, http.StatusOK, user, "")
}

type UpdateProfilePayload struct {
	Name     *string `json:"name" validate:"omitempty,min=1,max=100"`
	PhotoURL *string `json:"photoUrl"`
	FCMToken *string `json:"fcmToken"`
}

// self returns the path user id when it is the caller's own.
func self(r *http.Request) (string, error) {
	id := r.PathValue("userID")
	if id != core.SessionFromRequest(r).UserID {
		return "", core.ErrForbidden
	}
	return id, nil
}

func (h *UserHandler) UpdateProfileHandler(w http.ResponseWriter, r *http.Request) error {
	id, err := self(r)
	if err != nil {
		return err
	}

	var payload UpdateProfilePayload
	if err := decodeJSON(r, &payload); err != nil {
		return err
	}

	user, err := h.users.UpdateProfile(r.Context(), id, core.ProfileUpdate{
		Name:     payload.Name,
		PhotoURL: payload.PhotoURL,
		FCMToken: payload.FCMToken,
	})
	if err != nil {
		return err
	}
	return router.JSON(w, http.StatusOK, user, "Profile updated")
}

func (h *UserHandler) UploadPhotoHandler(w http.ResponseWriter, r *http.Request) error {
	id, err := self(r)
	if err != nil {
		return err
	}

	if err := parseMultipart(w, r, h.uploader); err != nil {
		return err
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["photo"]
	if len(files) == 0 {
		return upload.ErrNoFiles
	}
	url, err := h.uploader.UploadProfilePhoto(r.Context(), id, files[0])
	if err != nil {
		return err
	}

	user, err := h.users.UpdateProfile(r.Context(), id, core.ProfileUpdate{PhotoURL: &url})
	if err != nil {
		return err
	}
	return router.JSON(w, http.StatusOK, user, "Photo uploaded")
}
