package blob

import (
	"context"
	"errors"
)

// ErrNotFound reports a missing blob.
var ErrNotFound = errors.New("blob: not found")

// Metadata describes a stored blob.
type Metadata struct {
	Size        int64  `json:"size"`
	ContentType string `json:"content_type,omitempty"`
}

// Store is the durable content-addressed blob store. Keys are canonical
// hash keys (algorithm and value combined); the store never inspects
// them.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, Metadata, error)
	Stat(ctx context.Context, key string) (Metadata, error)
	Has(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	Close() error
}
