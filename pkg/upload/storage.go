package upload

import (
	"context"
	"io"
	"time"
)

// Object is an open stored object. The caller closes it.
type Object struct {
	io.ReadCloser
	ContentType string
	Size        int64
	ModTime     time.Time
}

// Storage is a flat key/value store for uploaded files. Keys are slash
// separated paths.
type Storage interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) error
	Open(ctx context.Context, key string) (*Object, error)
	Delete(ctx context.Context, key string) error
}
