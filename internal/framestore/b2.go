package framestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Backblaze/blazer/b2"
)

const (
	EnvB2AccountID      = "B2_ACCOUNT_ID"
	EnvB2ApplicationKey = "B2_APPLICATION_KEY"
)

// B2Store uploads frames to a Backblaze B2 bucket.
type B2Store struct {
	client *b2.Client
	bucket *b2.Bucket
	name   string
	prefix string
}

func NewB2Store(ctx context.Context, bucket, prefix string) (*B2Store, error) {
	id, key := os.Getenv(EnvB2AccountID), os.Getenv(EnvB2ApplicationKey)
	if id == "" || key == "" {
		return nil, errors.New(EnvB2AccountID + " and " + EnvB2ApplicationKey + " must be set")
	}
	client, err := b2.NewClient(ctx, id, key)
	if err != nil {
		return nil, fmt.Errorf("authorize b2 account: %w", err)
	}
	b, err := client.Bucket(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("open b2 bucket %s: %w", bucket, err)
	}
	return &B2Store{client: client, bucket: b, name: bucket, prefix: prefix}, nil
}

func (s *B2Store) Put(ctx context.Context, key string, r io.Reader, _ string) error {
	name, err := objectKey(s.prefix, key)
	if err != nil {
		return err
	}
	w := s.bucket.Object(name).NewWriter(ctx)
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return fmt.Errorf("upload b2://%s/%s: %w", s.name, name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("upload b2://%s/%s: %w", s.name, name, err)
	}
	return nil
}

func (s *B2Store) Close() error {
	return nil
}
