package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/web-ai-community/cross-origin-storage/core/infra/logging"
	"github.com/web-ai-community/cross-origin-storage/core/protocol/cossdk"
)

// The default outlasts the broker's prompt window so an interactive
// grant does not time the caller out.
const defaultCallTimeout = 150 * time.Second

// Bridge is the caller-side endpoint of the storage channel. It speaks
// websocket to a relay, tags every outgoing envelope with its source and
// a fresh correlation id, and matches responses back to waiting calls.
// Envelopes without the relay's source tag or without an id are channel
// noise and are dropped. A call abandoned at its deadline has its
// correlation entry removed, so a late response is dropped too instead
// of leaking.
type Bridge struct {
	url     string
	dialer  *websocket.Dialer
	timeout time.Duration

	connectOnce sync.Once
	connectErr  error
	conn        *websocket.Conn
	writeMu     sync.Mutex

	mu      sync.Mutex
	pending map[string]chan *cossdk.Envelope
	closed  bool
}

// New constructs a bridge for the given ws:// URL. The connection is
// dialed on first use. A timeout of zero selects the default.
func New(url string, timeout time.Duration) *Bridge {
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &Bridge{
		url:     url,
		dialer:  websocket.DefaultDialer,
		timeout: timeout,
		pending: make(map[string]chan *cossdk.Envelope),
	}
}

func (b *Bridge) connect() error {
	b.connectOnce.Do(func() {
		conn, _, err := b.dialer.Dial(b.url, nil)
		if err != nil {
			b.connectErr = fmt.Errorf("%w: dial %s: %v", cossdk.ErrTransport, b.url, err)
			return
		}
		b.conn = conn
		go b.readLoop()
	})
	return b.connectErr
}

// Call sends one envelope and waits for its correlated response. The
// response payload is decoded into out when out is non-nil.
func (b *Bridge) Call(ctx context.Context, action string, payload, out any) error {
	if err := b.connect(); err != nil {
		return err
	}
	env, err := cossdk.NewEnvelope(action, payload)
	if err != nil {
		return fmt.Errorf("%w: %v", cossdk.ErrValidation, err)
	}
	env.Source = cossdk.SourceBridge
	env.ID = uuid.NewString()

	ch := make(chan *cossdk.Envelope, 1)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("%w: bridge closed", cossdk.ErrTransport)
	}
	b.pending[env.ID] = ch
	b.mu.Unlock()

	if err := b.write(env); err != nil {
		b.forget(env.ID)
		return fmt.Errorf("%w: write %s: %v", cossdk.ErrTransport, action, err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	select {
	case <-ctx.Done():
		b.forget(env.ID)
		return fmt.Errorf("%w: %s: %v", cossdk.ErrTransport, action, ctx.Err())
	case resp := <-ch:
		if resp == nil {
			return fmt.Errorf("%w: connection lost during %s", cossdk.ErrTransport, action)
		}
		if resp.Error != nil {
			return resp.Error.Err()
		}
		if out == nil {
			return nil
		}
		return resp.Decode(out)
	}
}

func (b *Bridge) write(env *cossdk.Envelope) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	return b.conn.WriteJSON(env)
}

func (b *Bridge) forget(id string) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}

func (b *Bridge) readLoop() {
	for {
		var env cossdk.Envelope
		if err := b.conn.ReadJSON(&env); err != nil {
			b.failAll()
			return
		}
		if env.Source != cossdk.SourceRelay || env.ID == "" {
			continue
		}
		b.mu.Lock()
		ch, ok := b.pending[env.ID]
		if ok {
			delete(b.pending, env.ID)
		}
		b.mu.Unlock()
		if !ok {
			logging.Warn("bridge", "uncorrelated response dropped", "id", env.ID, "action", env.Action)
			continue
		}
		ch <- &env
	}
}

// failAll wakes every waiting call with a nil envelope after the
// connection drops.
func (b *Bridge) failAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, ch := range b.pending {
		delete(b.pending, id)
		ch <- nil
	}
}

// Close tears down the connection. In-flight calls fail with a transport
// error.
func (b *Bridge) Close() error {
	b.mu.Lock()
	b.closed = true
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}
