package upload

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	pngData  = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 32)...)
	gifData  = append([]byte("GIF89a"), make([]byte, 32)...)
	jpegData = append([]byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00"), make([]byte, 32)...)
	textData = []byte("just some text")
)

type testFile struct {
	name string
	data []byte
}

// fileHeaders builds multipart file headers the way a parsed request has them.
func fileHeaders(t *testing.T, files ...testFile) []*multipart.FileHeader {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for _, f := range files {
		part, err := w.CreateFormFile("images", f.name)
		require.Nil(t, err)
		_, err = part.Write(f.data)
		require.Nil(t, err)
	}
	require.Nil(t, w.Close())

	form, err := multipart.NewReader(&body, w.Boundary()).ReadForm(32 << 20)
	require.Nil(t, err)
	t.Cleanup(func() { form.RemoveAll() })
	return form.File["images"]
}

type memStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	failOn  string
}

func newMemStorage() *memStorage {
	return &memStorage{objects: make(map[string][]byte)}
}

func (s *memStorage) Put(_ context.Context, key string, r io.Reader, _ string) error {
	if s.failOn != "" && strings.HasSuffix(key, s.failOn) {
		return errors.New("disk full")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return nil
}

func (s *memStorage) Open(_ context.Context, key string) (*Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return &Object{ReadCloser: io.NopCloser(bytes.NewReader(data)), Size: int64(len(data))}, nil
}

func (s *memStorage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; !ok {
		return ErrNotFound
	}
	delete(s.objects, key)
	return nil
}

func (s *memStorage) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

func TestUploadChatImages(t *testing.T) {
	ctx := context.Background()
	storage := newMemStorage()
	u := NewUploader(storage, Config{MaxFileSize: 64, MaxFiles: 3})

	t.Run("stores images under the room", func(t *testing.T) {
		urls, err := u.UploadChatImages(ctx, "room1", fileHeaders(t,
			testFile{"a.PNG", pngData},
			testFile{"b", gifData},
			testFile{"c.jpeg", jpegData},
		))
		require.Nil(t, err)
		require.Len(t, urls, 3)

		for i, ext := range []string{".png", ".gif", ".jpeg"} {
			assert.True(t, strings.HasPrefix(urls[i], "/api/uploads/chat-images/room1/"), urls[i])
			assert.True(t, strings.HasSuffix(urls[i], ext), urls[i])

			key, err := u.KeyFromURL(urls[i])
			require.Nil(t, err)
			assert.Regexp(t, `^chat-images/room1/\d+_[0-9a-f]{8}\.\w+$`, key)
		}
		assert.Equal(t, 3, storage.len())
	})

	tcs := []struct {
		name  string
		room  string
		files []testFile
		msg   string
	}{
		{name: "no files", room: "room1", msg: "No files provided"},
		{
			name:  "too many files",
			room:  "room1",
			files: []testFile{{"a.png", pngData}, {"b.png", pngData}, {"c.png", pngData}, {"d.png", pngData}},
			msg:   "Too many files. Maximum is 3 files",
		},
		{
			name:  "too large",
			room:  "room1",
			files: []testFile{{"a.png", append(pngData, make([]byte, 64)...)}},
			msg:   "File too large",
		},
		{
			name:  "not an image",
			room:  "room1",
			files: []testFile{{"a.png", pngData}, {"evil.png", textData}},
			msg:   "Only image files are allowed",
		},
		{
			name:  "bad room id",
			room:  "../etc",
			files: []testFile{{"a.png", pngData}},
			msg:   "Invalid file path",
		},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			before := storage.len()
			var files []*multipart.FileHeader
			if len(tc.files) > 0 {
				files = fileHeaders(t, tc.files...)
			}
			_, err := u.UploadChatImages(ctx, tc.room, files)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.msg)
			assert.Equal(t, before, storage.len())
		})
	}

	t.Run("failed batch is rolled back", func(t *testing.T) {
		storage := newMemStorage()
		storage.failOn = ".gif"
		u := NewUploader(storage, Config{})

		_, err := u.UploadChatImages(ctx, "room1", fileHeaders(t,
			testFile{"a.png", pngData},
			testFile{"b.gif", gifData},
		))
		require.Error(t, err)
		assert.Equal(t, 0, storage.len())
	})
}

func TestUploadProfilePhoto(t *testing.T) {
	storage := newMemStorage()
	u := NewUploader(storage, Config{PublicURL: "https://cdn.example.com/api/uploads/"})

	url, err := u.UploadProfilePhoto(context.Background(), "user1", fileHeaders(t, testFile{"me.png", pngData})[0])
	require.Nil(t, err)
	assert.True(t, strings.HasPrefix(url, "https://cdn.example.com/api/uploads/profile-photos/user1/"), url)

	key, err := u.KeyFromURL(url)
	require.Nil(t, err)
	prefix, owner, err := Owner(key)
	require.Nil(t, err)
	assert.Equal(t, ProfilePhotosPrefix, prefix)
	assert.Equal(t, "user1", owner)

	_, err = u.UploadProfilePhoto(context.Background(), "user1", nil)
	assert.ErrorIs(t, err, ErrNoFiles)
}

func TestKeyFromURL(t *testing.T) {
	u := NewUploader(newMemStorage(), Config{})

	tcs := []struct {
		url string
		key string
		err error
	}{
		{url: "/api/uploads/chat-images/r/1_abc.png", key: "chat-images/r/1_abc.png"},
		{url: "http://localhost:8080/api/uploads/chat-images/r/1.png", key: "chat-images/r/1.png"},
		{url: "/api/uploads/../secret", err: ErrInvalidURL},
		{url: "/api/uploads/a//b", err: ErrInvalidURL},
		{url: "/static/a.png", err: ErrInvalidURL},
		{url: "/api/uploads/", err: ErrInvalidURL},
	}
	for _, tc := range tcs {
		t.Run(tc.url, func(t *testing.T) {
			key, err := u.KeyFromURL(tc.url)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				return
			}
			require.Nil(t, err)
			assert.Equal(t, tc.key, key)
		})
	}
}

func TestDeleteImages(t *testing.T) {
	ctx := context.Background()
	storage := newMemStorage()
	u := NewUploader(storage, Config{})

	urls, err := u.UploadChatImages(ctx, "room1", fileHeaders(t, testFile{"a.png", pngData}, testFile{"b.gif", gifData}))
	require.Nil(t, err)

	require.Nil(t, u.DeleteImages(ctx, append(urls, "/api/uploads/chat-images/room1/missing.png")))
	assert.Equal(t, 0, storage.len())

	assert.ErrorIs(t, u.DeleteImages(ctx, []string{"/elsewhere/a.png"}), ErrInvalidURL)
}

func testStorage(t *testing.T, s Storage) {
	ctx := context.Background()
	key := "chat-images/room1/" + time.Now().Format("150405.000000") + ".png"

	require.Nil(t, s.Put(ctx, key, bytes.NewReader(pngData), "image/png"))

	obj, err := s.Open(ctx, key)
	require.Nil(t, err)
	data, err := io.ReadAll(obj)
	obj.Close()
	require.Nil(t, err)
	assert.Equal(t, pngData, data)
	assert.Equal(t, "image/png", obj.ContentType)
	assert.Equal(t, int64(len(pngData)), obj.Size)

	require.Nil(t, s.Delete(ctx, key))
	_, err = s.Open(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, key), ErrNotFound)
}

func TestDiskStorage(t *testing.T) {
	s, err := NewDiskStorage(t.TempDir())
	require.Nil(t, err)
	testStorage(t, s)

	assert.ErrorIs(t, s.Put(context.Background(), "../escape.png", bytes.NewReader(pngData), "image/png"), ErrInvalidKey)
	_, err = s.Open(context.Background(), "/etc/passwd")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestJetStreamStorage(t *testing.T) {
	url := os.Getenv("ROOMCHAT_TEST_NATS_URL")
	if url == "" {
		t.Skip("ROOMCHAT_TEST_NATS_URL not set")
	}

	s, err := NewJetStreamStorage(context.Background(), url, "roomchat-test")
	require.Nil(t, err)
	defer s.Close()
	testStorage(t, s)
}
