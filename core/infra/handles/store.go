package handles

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const pointerPrefix = "redis://"

// ErrNotFound reports a handle that was never minted, already consumed,
// or expired.
var ErrNotFound = errors.New("handles: handle not found")

// Store mints single-use, short-lived handles standing in for binary
// payloads that cannot cross a JSON boundary inline. A handle is a
// transport artifact for one round trip, never a storage identifier.
type Store interface {
	Put(ctx context.Context, data []byte, contentType string) (string, error)
	// Take dereferences and invalidates the handle in one step.
	Take(ctx context.Context, ptr string) ([]byte, string, error)
	Close() error
}

// PointerForKey formats a handle key as a redis:// pointer.
func PointerForKey(key string) string {
	return pointerPrefix + key
}

// KeyFromPointer parses a redis:// pointer and returns the key component.
func KeyFromPointer(ptr string) (string, error) {
	if ptr == "" {
		return "", errors.New("empty pointer")
	}
	if !strings.HasPrefix(ptr, pointerPrefix) {
		return "", fmt.Errorf("invalid pointer prefix: %s", ptr)
	}
	key := strings.TrimPrefix(ptr, pointerPrefix)
	if key == "" {
		return "", errors.New("missing key in pointer")
	}
	return key, nil
}
