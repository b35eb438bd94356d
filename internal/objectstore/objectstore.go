// Package objectstore defines the blob storage used for export artifacts.
package objectstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get for a missing key
var ErrNotFound = errors.New("object not found")

// Store writes and reads opaque blobs by key. Put with an existing key overwrites it.
type Store interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
}
