package bus

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/web-ai-community/cross-origin-storage/core/infra/logging"
	"github.com/web-ai-community/cross-origin-storage/core/protocol/cossdk"
)

// NatsBus is a thin wrapper over a NATS connection that speaks JSON
// envelopes.
type NatsBus struct {
	nc *nats.Conn
}

// NewNatsBus dials NATS at the provided URL.
func NewNatsBus(url string) (*NatsBus, error) {
	opts := []nats.Option{
		nats.Name("cos-bus"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logging.Warn("bus", "disconnected from NATS", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info("bus", "reconnected to NATS", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logging.Info("bus", "connection closed")
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &NatsBus{nc: nc}, nil
}

// Request sends the envelope and waits for the correlated reply.
func (b *NatsBus) Request(ctx context.Context, subject string, env *cossdk.Envelope) (*cossdk.Envelope, error) {
	if b == nil || b.nc == nil {
		return nil, ErrNotConnected
	}
	if subject == "" {
		return nil, ErrEmptySubject
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	msg, err := b.nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return nil, ErrNoResponders
		}
		return nil, err
	}
	var resp cossdk.Envelope
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Publish sends an envelope without waiting for a reply.
func (b *NatsBus) Publish(subject string, env *cossdk.Envelope) error {
	if b == nil || b.nc == nil {
		return ErrNotConnected
	}
	if subject == "" {
		return ErrEmptySubject
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.nc.Publish(subject, data)
}

// Subscribe attaches a subscription that decodes envelopes and, when the
// handler produces a response and the message carries a reply inbox,
// answers it.
func (b *NatsBus) Subscribe(subject, queue string, handler Handler) error {
	if b == nil || b.nc == nil {
		return ErrNotConnected
	}
	if subject == "" {
		return ErrEmptySubject
	}
	if handler == nil {
		return errors.New("nil handler")
	}
	cb := func(msg *nats.Msg) {
		var env cossdk.Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			logging.Warn("bus", "failed to unmarshal envelope", "subject", subject, "error", err)
			return
		}
		// Callbacks run serially per subscription; a handler that blocks
		// (a pending permission prompt) must not stall unrelated calls.
		go func() {
			resp := handler(&env)
			if resp == nil || msg.Reply == "" {
				return
			}
			data, err := json.Marshal(resp)
			if err != nil {
				logging.Error("bus", "failed to marshal response", "subject", subject, "error", err)
				return
			}
			if err := msg.Respond(data); err != nil {
				logging.Error("bus", "failed to respond", "subject", subject, "error", err)
			}
		}()
	}
	var err error
	if queue == "" {
		_, err = b.nc.Subscribe(subject, cb)
	} else {
		_, err = b.nc.QueueSubscribe(subject, queue, cb)
	}
	return err
}

func (b *NatsBus) IsConnected() bool {
	return b != nil && b.nc != nil && b.nc.IsConnected()
}

// Close shuts down the underlying NATS connection.
func (b *NatsBus) Close() {
	if b != nil && b.nc != nil {
		b.nc.Close()
	}
}
