// Package upload validates uploaded images and keeps them in a Storage.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/putto11262002/roomchat/pkg/router"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultMaxFileSize = 5 << 20
	DefaultMaxFiles    = 10
	DefaultPublicURL   = "/api/uploads"

	ChatImagesPrefix    = "chat-images"
	ProfilePhotosPrefix = "profile-photos"
)

var AllowedTypes = []string{"image/jpeg", "image/png", "image/gif", "image/webp"}

var (
	ErrNoFiles         = router.NewJsonError(http.StatusBadRequest, "VALIDATION_ERROR", "No files provided")
	ErrUnsupportedType = router.NewJsonError(http.StatusBadRequest, "VALIDATION_ERROR", "Only image files are allowed (jpeg, jpg, png, gif, webp)")
	ErrInvalidKey      = router.NewJsonError(http.StatusBadRequest, "VALIDATION_ERROR", "Invalid file path")
	ErrInvalidURL      = router.NewJsonError(http.StatusBadRequest, "VALIDATION_ERROR", "Invalid file url")
	ErrNotFound        = router.NewJsonError(http.StatusNotFound, "NOT_FOUND", "File not found")
)

type Config struct {
	// PublicURL is the url prefix stored objects are served under.
	PublicURL   string
	MaxFileSize int64
	MaxFiles    int
}

type Uploader struct {
	storage     Storage
	publicURL   string
	maxFileSize int64
	maxFiles    int
}

func NewUploader(storage Storage, config Config) *Uploader {
	u := &Uploader{
		storage:     storage,
		publicURL:   strings.TrimSuffix(config.PublicURL, "/"),
		maxFileSize: config.MaxFileSize,
		maxFiles:    config.MaxFiles,
	}
	if u.publicURL == "" {
		u.publicURL = DefaultPublicURL
	}
	if u.maxFileSize <= 0 {
		u.maxFileSize = DefaultMaxFileSize
	}
	if u.maxFiles <= 0 {
		u.maxFiles = DefaultMaxFiles
	}
	return u
}

// MaxRequestSize bounds a multipart request carrying a full batch.
func (u *Uploader) MaxRequestSize() int64 {
	return int64(u.maxFiles)*u.maxFileSize + 1<<20
}

type image struct {
	key         string
	contentType string
	data        []byte
}

// UploadChatImages stores images for a room and returns their urls.
func (u *Uploader) UploadChatImages(ctx context.Context, roomID string, files []*multipart.FileHeader) ([]string, error) {
	if err := validSegment(roomID); err != nil {
		return nil, err
	}
	return u.upload(ctx, ChatImagesPrefix+"/"+roomID, files)
}

// UploadProfilePhoto stores a user's photo and returns its url.
func (u *Uploader) UploadProfilePhoto(ctx context.Context, userID string, file *multipart.FileHeader) (string, error) {
	if err := validSegment(userID); err != nil {
		return "", err
	}
	if file == nil {
		return "", ErrNoFiles
	}
	urls, err := u.upload(ctx, ProfilePhotosPrefix+"/"+userID, []*multipart.FileHeader{file})
	if err != nil {
		return "", err
	}
	return urls[0], nil
}

// upload checks every file before storing any of them. When a put fails the
// objects already stored are removed.
func (u *Uploader) upload(ctx context.Context, prefix string, files []*multipart.FileHeader) ([]string, error) {
	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	if len(files) > u.maxFiles {
		return nil, router.NewJsonError(http.StatusBadRequest, "VALIDATION_ERROR",
			fmt.Sprintf("Too many files. Maximum is %d files", u.maxFiles))
	}

	images := make([]image, len(files))
	for i, fh := range files {
		img, err := u.read(fh)
		if err != nil {
			return nil, err
		}
		img.key = newKey(prefix, fh.Filename, img.contentType)
		images[i] = img
	}

	stored := make([]bool, len(images))
	g, gctx := errgroup.WithContext(ctx)
	for i, img := range images {
		g.Go(func() error {
			if err := u.storage.Put(gctx, img.key, bytes.NewReader(img.data), img.contentType); err != nil {
				return fmt.Errorf("Put(%s): %w", img.key, err)
			}
			stored[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for i, ok := range stored {
			if ok {
				u.storage.Delete(context.WithoutCancel(ctx), images[i].key)
			}
		}
		return nil, err
	}

	urls := make([]string, len(images))
	for i, img := range images {
		urls[i] = u.URL(img.key)
	}
	return urls, nil
}

func (u *Uploader) read(fh *multipart.FileHeader) (image, error) {
	if fh.Size > u.maxFileSize {
		return image{}, u.errTooLarge()
	}
	f, err := fh.Open()
	if err != nil {
		return image{}, fmt.Errorf("Open(%s): %w", fh.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, u.maxFileSize+1))
	if err != nil {
		return image{}, fmt.Errorf("ReadAll(%s): %w", fh.Filename, err)
	}
	if int64(len(data)) > u.maxFileSize {
		return image{}, u.errTooLarge()
	}

	mtype := mimetype.Detect(data)
	if !mimetype.EqualsAny(mtype.String(), AllowedTypes...) {
		return image{}, ErrUnsupportedType
	}
	return image{contentType: mtype.String(), data: data}, nil
}

func (u *Uploader) errTooLarge() error {
	return router.NewJsonError(http.StatusBadRequest, "VALIDATION_ERROR",
		fmt.Sprintf("File too large. Maximum size is %dMB", u.maxFileSize>>20))
}

// newKey builds {prefix}/{millis}_{uuid8}{ext}. The extension comes from the
// file name, or from the detected type when the name has none.
func newKey(prefix, filename, contentType string) string {
	ext := strings.ToLower(path.Ext(filename))
	if ext == "" || strings.ContainsAny(ext, `/\`) {
		ext = mimetype.Lookup(contentType).Extension()
	}
	return fmt.Sprintf("%s/%d_%s%s", prefix, time.Now().UnixMilli(), uuid.NewString()[:8], ext)
}

func validSegment(s string) error {
	if s == "" || s == "." || s == ".." || strings.ContainsAny(s, `/\`) {
		return ErrInvalidKey
	}
	return nil
}

// URL returns the public url of key.
func (u *Uploader) URL(key string) string {
	return u.publicURL + "/" + key
}

// KeyFromURL reverses URL. Absolute urls are accepted as long as their path
// sits under the public prefix.
func (u *Uploader) KeyFromURL(raw string) (string, error) {
	p := raw
	if parsed, err := url.Parse(raw); err == nil && parsed.Path != "" {
		p = parsed.Path
	}
	prefix := u.publicURL
	if parsed, err := url.Parse(prefix); err == nil {
		prefix = parsed.Path
	}

	key, ok := strings.CutPrefix(p, prefix+"/")
	if !ok || key == "" || path.Clean(key) != key || strings.HasPrefix(key, "../") {
		return "", ErrInvalidURL
	}
	return key, nil
}

// Owner splits a key into its prefix and the room or user id it belongs to.
func Owner(key string) (prefix, id string, err error) {
	parts := strings.Split(key, "/")
	if len(parts) < 3 || !slices.Contains([]string{ChatImagesPrefix, ProfilePhotosPrefix}, parts[0]) {
		return "", "", ErrInvalidKey
	}
	return parts[0], parts[1], nil
}

// DeleteImages removes the objects behind urls. Missing objects are ignored.
func (u *Uploader) DeleteImages(ctx context.Context, urls []string) error {
	keys := make([]string, 0, len(urls))
	for _, raw := range urls {
		key, err := u.KeyFromURL(raw)
		if err != nil {
			return err
		}
		keys = append(keys, key)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, key := range keys {
		g.Go(func() error {
			err := u.storage.Delete(gctx, key)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return fmt.Errorf("Delete(%s): %w", key, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Open returns the object stored under key.
func (u *Uploader) Open(ctx context.Context, key string) (*Object, error) {
	if _, _, err := Owner(key); err != nil {
		return nil, ErrNotFound
	}
	return u.storage.Open(ctx, key)
}
