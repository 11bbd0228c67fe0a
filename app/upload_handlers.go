package roomchat

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/putto11262002/roomchat/core"
	"github.com/putto11262002/roomchat/pkg/router"
	"github.com/putto11262002/roomchat/pkg/upload"
)

type UploadHandler struct {
	uploader *upload.Uploader
	rooms    *core.RoomManager
}

func NewUploadHandler(uploader *upload.Uploader, rooms *core.RoomManager) *UploadHandler {
	return &UploadHandler{uploader: uploader, rooms: rooms}
}

var errRequestTooLarge = core.NewError(core.KindValidation, "Upload request is too large")

// parseMultipart reads a multipart form bounded by the uploader's batch size.
func parseMultipart(w http.ResponseWriter, r *http.Request, uploader *upload.Uploader) error {
	r.Body = http.MaxBytesReader(w, r.Body, uploader.MaxRequestSize())
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errRequestTooLarge
		}
		return core.ValidationError("Invalid multipart form", nil)
	}
	return nil
}

func (h *UploadHandler) UploadImagesHandler(w http.ResponseWriter, r *http.Request) error {
	if err := parseMultipart(w, r, h.uploader); err != nil {
		return err
	}
	defer r.MultipartForm.RemoveAll()

	roomID := r.FormValue("roomId")
	if roomID == "" {
		return core.ValidationError("roomId is required", nil)
	}
	if err := h.rooms.AssertMember(r.Context(), roomID, core.SessionFromRequest(r).UserID); err != nil {
		return err
	}

	urls, err := h.uploader.UploadChatImages(r.Context(), roomID, r.MultipartForm.File["images"])
	if err != nil {
		return err
	}
	return router.JSON(w, http.StatusCreated, map[string][]string{"urls": urls}, "Images uploaded")
}

type DeleteImagesPayload struct {
	URLs []string `json:"urls" validate:"required,min=1,dive,required"`
}

// DeleteImagesHandler removes chat images of rooms the caller belongs to and
// the caller's own profile photos.
func (h *UploadHandler) DeleteImagesHandler(w http.ResponseWriter, r *http.Request) error {
	var payload DeleteImagesPayload
	if err := decodeJSON(r, &payload); err != nil {
		return err
	}

	user := core.SessionFromRequest(r).UserID
	checked := make(map[string]bool)
	for _, url := range payload.URLs {
		key, err := h.uploader.KeyFromURL(url)
		if err != nil {
			return err
		}
		prefix, owner, err := upload.Owner(key)
		if err != nil {
			return err
		}
		if checked[prefix+owner] {
			continue
		}

		switch prefix {
		case upload.ChatImagesPrefix:
			if err := h.rooms.AssertMember(r.Context(), owner, user); err != nil {
				return err
			}
		case upload.ProfilePhotosPrefix:
			if owner != user {
				return core.ErrForbidden
			}
		}
		checked[prefix+owner] = true
	}

	if err := h.uploader.DeleteImages(r.Context(), payload.URLs); err != nil {
		return err
	}
	return router.JSON(w, http.StatusOK, nil, "Images deleted")
}

func (h *UploadHandler) ServeHandler(w http.ResponseWriter, r *http.Request) error {
	obj, err := h.uploader.Open(r.Context(), chi.URLParam(r, "*"))
	if err != nil {
		return err
	}
	defer obj.Close()

	header := w.Header()
	header.Set("Content-Type", obj.ContentType)
	header.Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	header.Set("Cache-Control", "public, max-age=31536000, immutable")
	if !obj.ModTime.IsZero() {
		header.Set("Last-Modified", obj.ModTime.UTC().Format(http.TimeFormat))
	}
	w.WriteHeader(http.StatusOK)

	// the status is already written, a failed copy means the client went away
	io.Copy(w, obj)
	return nil
}
