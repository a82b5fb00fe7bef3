// Package framestore puts encoded frames into a destination: a local
// directory or an object storage bucket.
package framestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/breeze-rmm/deskcap/internal/logging"
)

var log = logging.L("framestore")

// ErrUnsupportedScheme is returned by Open for destination URLs it does
// not know how to reach.
var ErrUnsupportedScheme = errors.New("unsupported destination scheme")

// Store receives encoded frames under slash-separated keys.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) error
	Close() error
}

// Options carries settings shared by the remote stores.
type Options struct {
	// Region is used by S3. Empty falls back to the AWS default chain.
	Region string
	// Endpoint overrides the S3 endpoint for S3-compatible services.
	Endpoint string
}

// Destination is a parsed destination string.
type Destination struct {
	Scheme string
	Bucket string
	Prefix string
	Path   string
}

// ParseDestination accepts a plain filesystem path or a URL of the form
// s3://bucket/prefix, gs://bucket/prefix, azblob://container/prefix,
// b2://bucket/prefix or file:///path.
func ParseDestination(dest string) (Destination, error) {
	if dest == "" {
		return Destination{}, errors.New("destination is required")
	}
	// Windows drive paths parse as URLs with a one-letter scheme.
	if !strings.Contains(dest, "://") {
		return Destination{Scheme: "file", Path: dest}, nil
	}

	u, err := url.Parse(dest)
	if err != nil {
		return Destination{}, fmt.Errorf("parse destination %q: %w", dest, err)
	}
	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case "file":
		p := u.Path
		if u.Host != "" {
			p = u.Host + p
		}
		if p == "" {
			return Destination{}, fmt.Errorf("destination %q has no path", dest)
		}
		return Destination{Scheme: scheme, Path: p}, nil
	case "s3", "gs", "azblob", "b2":
		if u.Host == "" {
			return Destination{}, fmt.Errorf("destination %q has no bucket", dest)
		}
		return Destination{
			Scheme: scheme,
			Bucket: u.Host,
			Prefix: strings.Trim(u.Path, "/"),
		}, nil
	}
	return Destination{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
}

// Open parses dest and connects the matching store.
func Open(ctx context.Context, dest string, opts Options) (Store, error) {
	d, err := ParseDestination(dest)
	if err != nil {
		return nil, err
	}

	var store Store
	switch d.Scheme {
	case "file":
		store = NewLocalStore(d.Path)
	case "s3":
		store, err = NewS3Store(ctx, d.Bucket, d.Prefix, opts)
	case "gs":
		store, err = NewGCSStore(ctx, d.Bucket, d.Prefix)
	case "azblob":
		store, err = NewAzureStore(d.Bucket, d.Prefix)
	case "b2":
		store, err = NewB2Store(ctx, d.Bucket, d.Prefix)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", d.Scheme, err)
	}
	log.Info("frame store opened", "scheme", d.Scheme, "bucket", d.Bucket, "prefix", d.Prefix, "path", d.Path)
	return store, nil
}

// objectKey joins prefix and key into an object name without a leading
// slash. Keys with a ".." segment are rejected before joining, since Join
// would fold them into the prefix.
func objectKey(prefix, key string) (string, error) {
	if key == "" {
		return "", errors.New("object key is required")
	}
	for _, seg := range strings.Split(strings.ReplaceAll(key, "\\", "/"), "/") {
		if seg == ".." {
			return "", fmt.Errorf("object key %q escapes prefix", key)
		}
	}
	return strings.TrimPrefix(path.Join(prefix, key), "/"), nil
}
