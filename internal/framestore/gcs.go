package framestore

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCSStore uploads frames to a Google Cloud Storage bucket using
// application default credentials.
type GCSStore struct {
	client *storage.Client
	bucket *storage.BucketHandle
	name   string
	prefix string
}

func NewGCSStore(ctx context.Context, bucket, prefix string) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &GCSStore{
		client: client,
		bucket: client.Bucket(bucket),
		name:   bucket,
		prefix: prefix,
	}, nil
}

func (s *GCSStore) Put(ctx context.Context, key string, r io.Reader, contentType string) error {
	name, err := objectKey(s.prefix, key)
	if err != nil {
		return err
	}
	wc := s.bucket.Object(name).NewWriter(ctx)
	wc.ContentType = contentType
	if _, err := io.Copy(wc, r); err != nil {
		wc.Close()
		return fmt.Errorf("upload gs://%s/%s: %w", s.name, name, err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("upload gs://%s/%s: %w", s.name, name, err)
	}
	return nil
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}
