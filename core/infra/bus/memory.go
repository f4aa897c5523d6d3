package bus

import (
	"context"
	"sync"

	"github.com/web-ai-community/cross-origin-storage/core/protocol/cossdk"
)

// MemoryBus is an in-process Bus for tests and single-binary setups.
// Queue-group semantics are approximated: one subscriber per queue name
// receives each message; plain subscribers all receive it.
type MemoryBus struct {
	mu     sync.Mutex
	subs   map[string][]*memorySub
	closed bool
}

type memorySub struct {
	queue   string
	handler Handler
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string][]*memorySub)}
}

func (b *MemoryBus) Subscribe(subject, queue string, handler Handler) error {
	if subject == "" {
		return ErrEmptySubject
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrNotConnected
	}
	b.subs[subject] = append(b.subs[subject], &memorySub{queue: queue, handler: handler})
	return nil
}

func (b *MemoryBus) Request(ctx context.Context, subject string, env *cossdk.Envelope) (*cossdk.Envelope, error) {
	if subject == "" {
		return nil, ErrEmptySubject
	}
	target := b.pickResponder(subject)
	if target == nil {
		return nil, ErrNoResponders
	}
	type result struct{ resp *cossdk.Envelope }
	ch := make(chan result, 1)
	go func() {
		ch <- result{resp: target.handler(env)}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.resp == nil {
			return nil, ErrNoResponders
		}
		return res.resp, nil
	}
}

func (b *MemoryBus) Publish(subject string, env *cossdk.Envelope) error {
	if subject == "" {
		return ErrEmptySubject
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrNotConnected
	}
	var targets []*memorySub
	seenQueue := make(map[string]bool)
	for _, sub := range b.subs[subject] {
		if sub.queue != "" {
			if seenQueue[sub.queue] {
				continue
			}
			seenQueue[sub.queue] = true
		}
		targets = append(targets, sub)
	}
	b.mu.Unlock()
	for _, sub := range targets {
		go sub.handler(env)
	}
	return nil
}

func (b *MemoryBus) pickResponder(subject string) *memorySub {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	subs := b.subs[subject]
	if len(subs) == 0 {
		return nil
	}
	return subs[0]
}

func (b *MemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[string][]*memorySub)
}
