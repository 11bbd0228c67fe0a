package upload

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const defaultContentType = "application/octet-stream"

// JetStreamStorage keeps objects in a NATS JetStream object store bucket.
type JetStreamStorage struct {
	conn  *nats.Conn
	store jetstream.ObjectStore
}

// NewJetStreamStorage connects to NATS and opens the bucket, creating it
// when it does not exist.
func NewJetStreamStorage(ctx context.Context, url, bucket string) (*JetStreamStorage, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("nats.Connect: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream.New: %w", err)
	}

	store, err := js.ObjectStore(ctx, bucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		store, err = js.CreateObjectStore(ctx, jetstream.ObjectStoreConfig{
			Bucket:      bucket,
			Description: "roomchat uploads",
		})
	}
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ObjectStore(%s): %w", bucket, err)
	}

	return &JetStreamStorage{conn: conn, store: store}, nil
}

func (s *JetStreamStorage) Put(ctx context.Context, key string, r io.Reader, contentType string) error {
	meta := jetstream.ObjectMeta{
		Name:    key,
		Headers: nats.Header{"Content-Type": []string{contentType}},
	}
	if _, err := s.store.Put(ctx, meta, r); err != nil {
		return fmt.Errorf("Put: %w", err)
	}
	return nil
}

func (s *JetStreamStorage) Open(ctx context.Context, key string) (*Object, error) {
	res, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrObjectNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("Get: %w", err)
	}

	info, err := res.Info()
	if err != nil {
		res.Close()
		return nil, fmt.Errorf("Info: %w", err)
	}

	contentType := defaultContentType
	if ct := info.Headers.Get("Content-Type"); ct != "" {
		contentType = ct
	}

	return &Object{
		ReadCloser:  res,
		ContentType: contentType,
		Size:        int64(info.Size),
		ModTime:     info.ModTime,
	}, nil
}

func (s *JetStreamStorage) Delete(ctx context.Context, key string) error {
	if err := s.store.Delete(ctx, key); err != nil {
		if errors.Is(err, jetstream.ErrObjectNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("Delete: %w", err)
	}
	return nil
}

func (s *JetStreamStorage) Close() error {
	s.conn.Close()
	return nil
}
