package settings

import (
	"context"
	"errors"
)

// ErrNotFound reports a missing settings key.
var ErrNotFound = errors.New("settings: key not found")

// Store is the durable settings/preferences store: one opaque record for
// the resource index, one per-origin record for permission decisions.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}
