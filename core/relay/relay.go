package relay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/web-ai-community/cross-origin-storage/core/infra/bus"
	"github.com/web-ai-community/cross-origin-storage/core/infra/handles"
	"github.com/web-ai-community/cross-origin-storage/core/infra/logging"
	"github.com/web-ai-community/cross-origin-storage/core/protocol/cossdk"
)

// The default outlasts the broker's prompt window so an interactive
// grant does not time the caller out.
const defaultForwardTimeout = 150 * time.Second

var upgrader = websocket.Upgrader{
	// The relay fronts local bridges; origin policy is enforced by the
	// permission engine, not the socket.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Relay terminates bridge websockets and forwards their envelopes to the
// privileged broker over the bus. Inline binary payloads never cross the
// privileged hop: on the way in they are swapped for a single-use handle,
// and handles in broker responses are dereferenced back to inline bytes
// before the envelope returns to the bridge.
type Relay struct {
	bus     bus.Bus
	handles handles.Store
	timeout time.Duration
}

// New constructs a relay. A timeout of zero selects the default forward
// timeout.
func New(b bus.Bus, hnd handles.Store, timeout time.Duration) *Relay {
	if timeout <= 0 {
		timeout = defaultForwardTimeout
	}
	return &Relay{bus: b, handles: hnd, timeout: timeout}
}

// Handler returns the websocket endpoint bridges connect to.
func (r *Relay) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			logging.Warn("relay", "upgrade failed", "remote", req.RemoteAddr, "error", err)
			return
		}
		r.serveConn(conn)
	})
}

func (r *Relay) serveConn(conn *websocket.Conn) {
	defer conn.Close()
	var writeMu sync.Mutex
	write := func(env *cossdk.Envelope) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.WriteJSON(env); err != nil {
			logging.Warn("relay", "write failed", "id", env.ID, "error", err)
		}
	}
	for {
		var env cossdk.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		// Only tagged, correlatable envelopes are forwarded.
		if env.Source != cossdk.SourceBridge || env.ID == "" {
			continue
		}
		go func(env cossdk.Envelope) {
			write(r.forward(&env))
		}(env)
	}
}

// forward swaps the payload, calls the broker and swaps the response
// back. The returned envelope always carries the relay source tag and
// the request's correlation id.
func (r *Relay) forward(env *cossdk.Envelope) *cossdk.Envelope {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.stashPayload(ctx, env); err != nil {
		return r.errEnvelope(env, err)
	}
	resp, err := r.bus.Request(ctx, cossdk.SubjectBrokerCall, env)
	if err != nil {
		logging.Warn("relay", "broker call failed", "action", env.Action, "id", env.ID, "error", err)
		return r.errEnvelope(env, fmt.Errorf("%w: broker unavailable: %v", cossdk.ErrTransport, err))
	}
	if err := r.inlinePayload(ctx, resp); err != nil {
		return r.errEnvelope(env, err)
	}
	resp.Source = cossdk.SourceRelay
	resp.ID = env.ID
	return resp
}

func (r *Relay) errEnvelope(env *cossdk.Envelope, err error) *cossdk.Envelope {
	return &cossdk.Envelope{
		Source: cossdk.SourceRelay,
		ID:     env.ID,
		Action: env.Action,
		Error:  cossdk.ErrorFrom(err),
	}
}

// stashPayload replaces an inline data_base64 field with a single-use
// handle before the envelope crosses the privileged hop. Envelopes
// without inline data pass through untouched.
func (r *Relay) stashPayload(ctx context.Context, env *cossdk.Envelope) error {
	fields, ok := decodeFields(env.Data)
	if !ok {
		return nil
	}
	encoded, ok := fields["data_base64"].(string)
	if !ok || encoded == "" {
		return nil
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return cossdk.NewError(cossdk.ErrKindValidation, "malformed payload encoding: %v", err).Err()
	}
	contentType, _ := fields["mimeType"].(string)
	ptr, err := r.handles.Put(ctx, data, contentType)
	if err != nil {
		return err
	}
	delete(fields, "data_base64")
	fields["payload_handle"] = ptr
	return encodeFields(env, fields)
}

// inlinePayload dereferences a payload_handle in a broker response so the
// bridge receives its bytes inline. The handle is consumed here.
func (r *Relay) inlinePayload(ctx context.Context, env *cossdk.Envelope) error {
	if env == nil || env.Error != nil {
		return nil
	}
	fields, ok := decodeFields(env.Data)
	if !ok {
		return nil
	}
	ptr, ok := fields["payload_handle"].(string)
	if !ok || ptr == "" {
		return nil
	}
	data, contentType, err := r.handles.Take(ctx, ptr)
	if err != nil {
		return err
	}
	delete(fields, "payload_handle")
	fields["data_base64"] = data
	if _, present := fields["mimeType"].(string); !present && contentType != "" {
		fields["mimeType"] = contentType
	}
	return encodeFields(env, fields)
}

func decodeFields(raw json.RawMessage) (map[string]any, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, false
	}
	return fields, true
}

func encodeFields(env *cossdk.Envelope, fields map[string]any) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	env.Data = raw
	return nil
}
