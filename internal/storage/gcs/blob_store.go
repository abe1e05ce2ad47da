// Package gcs archives raw crawl pages in Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// Config names the archive bucket.
type Config struct {
	Bucket string
}

// BlobStore writes archived pages to one bucket. Object names are content
// addressed, so an object that already exists is never rewritten.
type BlobStore struct {
	bucket *storage.BucketHandle
	name   string
}

// New wraps client for cfg.Bucket.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, errors.New("gcs: storage client is required")
	}
	name := strings.TrimSpace(cfg.Bucket)
	if name == "" {
		return nil, errors.New("gcs: bucket name is required")
	}
	return &BlobStore{bucket: client.Bucket(name), name: name}, nil
}

// PutObject uploads r in a single request and returns its gs:// URI. An
// upload rejected because the object already exists counts as success.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	path = strings.TrimLeft(strings.TrimSpace(path), "/")
	if path == "" {
		return "", errors.New("gcs: object path is required")
	}
	uri := fmt.Sprintf("gs://%s/%s", s.name, path)

	w := s.bucket.Object(path).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ChunkSize = 0
	w.ContentType = contentType

	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write %s: %w", uri, err)
	}
	if err := w.Close(); err != nil {
		if alreadyArchived(err) {
			return uri, nil
		}
		return "", fmt.Errorf("upload %s: %w", uri, err)
	}
	return uri, nil
}

func alreadyArchived(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed
}
