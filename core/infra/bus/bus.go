package bus

import (
	"context"
	"errors"

	"github.com/web-ai-community/cross-origin-storage/core/protocol/cossdk"
)

var (
	ErrNotConnected = errors.New("bus not connected")
	ErrEmptySubject = errors.New("empty subject")
	ErrNoResponders = errors.New("no responders on subject")
)

// Handler answers a request envelope. A nil response means the handler
// chose not to reply (fire-and-forget subscriptions).
type Handler func(env *cossdk.Envelope) *cossdk.Envelope

// Bus moves envelopes between contexts. The privileged broker subscribes
// with a queue group; the relay and management tools use Request.
type Bus interface {
	Request(ctx context.Context, subject string, env *cossdk.Envelope) (*cossdk.Envelope, error)
	Publish(subject string, env *cossdk.Envelope) error
	Subscribe(subject, queue string, handler Handler) error
	Close()
}
