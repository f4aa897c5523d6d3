package bridge

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/web-ai-community/cross-origin-storage/core/protocol/cossdk"
)

var upgrader = websocket.Upgrader{}

// newStubRelay runs a ws server calling handler for each received
// envelope. A nil return suppresses the response.
func newStubRelay(t *testing.T, handler func(*cossdk.Envelope) []*cossdk.Envelope) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var env cossdk.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			for _, resp := range handler(&env) {
				if err := conn.WriteJSON(resp); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestCallCorrelatesResponse(t *testing.T) {
	url := newStubRelay(t, func(env *cossdk.Envelope) []*cossdk.Envelope {
		if env.Source != cossdk.SourceBridge {
			t.Errorf("request missing bridge source tag: %q", env.Source)
		}
		resp, _ := cossdk.NewEnvelope(env.Action, cossdk.GetPermissionResponse{Permission: cossdk.DecisionAllowSession})
		resp.Source = cossdk.SourceRelay
		resp.ID = env.ID
		return []*cossdk.Envelope{resp}
	})

	b := New(url, time.Second)
	defer b.Close()

	var out cossdk.GetPermissionResponse
	err := b.Call(context.Background(), cossdk.ActionGetPermission, cossdk.GetPermissionRequest{Origin: "https://a.example"}, &out)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if out.Permission != cossdk.DecisionAllowSession {
		t.Fatalf("wrong payload decoded: %+v", out)
	}
}

func TestNoiseIsDropped(t *testing.T) {
	url := newStubRelay(t, func(env *cossdk.Envelope) []*cossdk.Envelope {
		real, _ := cossdk.NewEnvelope(env.Action, cossdk.StorePermissionResponse{Success: true})
		real.Source = cossdk.SourceRelay
		real.ID = env.ID
		return []*cossdk.Envelope{
			{Action: env.Action, ID: env.ID},                                  // missing source tag
			{Source: "something-else", ID: env.ID, Action: env.Action},        // foreign source
			{Source: cossdk.SourceRelay, Action: env.Action},                  // missing id
			{Source: cossdk.SourceRelay, ID: "unknown", Action: env.Action},   // uncorrelated
			real,
		}
	})

	b := New(url, time.Second)
	defer b.Close()

	var out cossdk.StorePermissionResponse
	err := b.Call(context.Background(), cossdk.ActionStorePermission, cossdk.StorePermissionRequest{
		Origin:     "https://a.example",
		Permission: cossdk.DecisionAllowSession,
	}, &out)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if !out.Success {
		t.Fatalf("real response not delivered past the noise")
	}
}

func TestErrorEnvelopeMapsToSentinel(t *testing.T) {
	url := newStubRelay(t, func(env *cossdk.Envelope) []*cossdk.Envelope {
		resp := &cossdk.Envelope{
			Source: cossdk.SourceRelay,
			ID:     env.ID,
			Action: env.Action,
			Error:  cossdk.NewError(cossdk.ErrKindNotAllowed, "denied"),
		}
		return []*cossdk.Envelope{resp}
	})

	b := New(url, time.Second)
	defer b.Close()

	err := b.Call(context.Background(), cossdk.ActionGetFileData, cossdk.GetFileDataRequest{
		Hash: cossdk.Hash{Algorithm: "SHA-256", Value: "aa"},
	}, nil)
	if !errors.Is(err, cossdk.ErrNotAllowed) {
		t.Fatalf("expected not_allowed sentinel, got %v", err)
	}
}

func TestCallTimeoutClearsCorrelation(t *testing.T) {
	url := newStubRelay(t, func(*cossdk.Envelope) []*cossdk.Envelope { return nil })

	b := New(url, 50*time.Millisecond)
	defer b.Close()

	err := b.Call(context.Background(), cossdk.ActionListResources, nil, nil)
	if !errors.Is(err, cossdk.ErrTransport) {
		t.Fatalf("expected transport error on timeout, got %v", err)
	}

	b.mu.Lock()
	leaked := len(b.pending)
	b.mu.Unlock()
	if leaked != 0 {
		t.Fatalf("correlation entries leaked: %d", leaked)
	}
}

func TestDialFailure(t *testing.T) {
	b := New("ws://127.0.0.1:1/nowhere", time.Second)
	err := b.Call(context.Background(), cossdk.ActionListResources, nil, nil)
	if !errors.Is(err, cossdk.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
}
