package permission

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/web-ai-community/cross-origin-storage/core/infra/settings"
	"github.com/web-ai-community/cross-origin-storage/core/protocol/cossdk"
)

func newTestStore(t *testing.T) settings.Store {
	t.Helper()
	srv, err := miniredis.Run()
	if err != nil {
		t.Skipf("miniredis unavailable: %v", err)
	}
	t.Cleanup(srv.Close)
	store, err := settings.NewRedisStore("redis://" + srv.Addr())
	if err != nil {
		t.Fatalf("settings store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// stubPrompter answers every prompt with a fixed decision.
type stubPrompter struct {
	decision cossdk.Decision
	calls    atomic.Int32
}

func (p *stubPrompter) Prompt(context.Context, string, []cossdk.Hash, bool) (cossdk.Decision, error) {
	p.calls.Add(1)
	return p.decision, nil
}

// blockingPrompter parks inside Prompt until the test feeds an answer,
// so tests can queue concurrent Authorize calls deterministically.
type blockingPrompter struct {
	entered chan string
	answer  chan cossdk.Decision
	calls   atomic.Int32
}

func newBlockingPrompter() *blockingPrompter {
	return &blockingPrompter{
		entered: make(chan string),
		answer:  make(chan cossdk.Decision),
	}
}

func (p *blockingPrompter) Prompt(_ context.Context, origin string, _ []cossdk.Hash, _ bool) (cossdk.Decision, error) {
	p.calls.Add(1)
	p.entered <- origin
	return <-p.answer, nil
}

func waitQueued(t *testing.T, e *Engine, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		e.mu.Lock()
		queued := len(e.queue)
		e.mu.Unlock()
		if queued >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("queue never reached %d entries", n)
}

var testHashes = []cossdk.Hash{{Algorithm: "SHA-256", Value: "aa"}}

func TestAllowSessionCachedAndPersisted(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	prompter := &stubPrompter{decision: cossdk.DecisionAllowSession}
	engine := NewEngine(store, prompter, nil)

	if err := engine.Authorize(ctx, "https://a.example", testHashes, false); err != nil {
		t.Fatalf("first authorize: %v", err)
	}
	if err := engine.Authorize(ctx, "https://a.example", testHashes, false); err != nil {
		t.Fatalf("second authorize: %v", err)
	}
	if got := prompter.calls.Load(); got != 1 {
		t.Fatalf("expected exactly one prompt, got %d", got)
	}

	// A fresh engine on the same store resolves durably without prompting.
	fresh := &stubPrompter{decision: cossdk.DecisionNeverAllow}
	second := NewEngine(store, fresh, nil)
	if err := second.Authorize(ctx, "https://a.example", testHashes, false); err != nil {
		t.Fatalf("authorize after restart: %v", err)
	}
	if got := fresh.calls.Load(); got != 0 {
		t.Fatalf("durable decision should suppress prompts, got %d", got)
	}
}

func TestAllowOnceNeverRecorded(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	prompter := &stubPrompter{decision: cossdk.DecisionAllowOnce}
	engine := NewEngine(store, prompter, nil)

	if err := engine.Authorize(ctx, "https://a.example", testHashes, false); err != nil {
		t.Fatalf("first authorize: %v", err)
	}
	if err := engine.Authorize(ctx, "https://a.example", testHashes, false); err != nil {
		t.Fatalf("second authorize: %v", err)
	}
	if got := prompter.calls.Load(); got != 2 {
		t.Fatalf("allow-once must prompt every time, got %d prompts", got)
	}
	d, err := engine.DurableDecision(ctx, "https://a.example")
	if err != nil {
		t.Fatalf("durable lookup: %v", err)
	}
	if d != cossdk.DecisionUnset {
		t.Fatalf("allow-once leaked into durable storage: %s", d)
	}
}

func TestNeverAllowDenies(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	prompter := &stubPrompter{decision: cossdk.DecisionNeverAllow}
	engine := NewEngine(store, prompter, nil)

	if err := engine.Authorize(ctx, "https://a.example", testHashes, false); !errors.Is(err, cossdk.ErrNotAllowed) {
		t.Fatalf("expected not_allowed, got %v", err)
	}
	if err := engine.Authorize(ctx, "https://a.example", testHashes, false); !errors.Is(err, cossdk.ErrNotAllowed) {
		t.Fatalf("expected cached denial, got %v", err)
	}
	if got := prompter.calls.Load(); got != 1 {
		t.Fatalf("denial should be cached, got %d prompts", got)
	}
}

func TestDismissalRejectsWithoutRecording(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	prompter := &stubPrompter{decision: cossdk.DecisionUnset}
	engine := NewEngine(store, prompter, nil)

	if err := engine.Authorize(ctx, "https://a.example", testHashes, false); !errors.Is(err, cossdk.ErrNotAllowed) {
		t.Fatalf("expected rejection on dismissal, got %v", err)
	}
	if err := engine.Authorize(ctx, "https://a.example", testHashes, false); !errors.Is(err, cossdk.ErrNotAllowed) {
		t.Fatalf("expected rejection on second dismissal, got %v", err)
	}
	if got := prompter.calls.Load(); got != 2 {
		t.Fatalf("dismissal must not be cached, got %d prompts", got)
	}
}

func TestCreateBypassesPrompt(t *testing.T) {
	store := newTestStore(t)
	prompter := &stubPrompter{decision: cossdk.DecisionNeverAllow}
	engine := NewEngine(store, prompter, nil)

	if err := engine.Authorize(context.Background(), "https://a.example", testHashes, true); err != nil {
		t.Fatalf("create authorize: %v", err)
	}
	if got := prompter.calls.Load(); got != 0 {
		t.Fatalf("create must not prompt, got %d", got)
	}
}

func TestSameOriginQueueSettledByOnePrompt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	prompter := newBlockingPrompter()
	engine := NewEngine(store, prompter, nil)

	first := make(chan error, 1)
	go func() { first <- engine.Authorize(ctx, "https://a.example", testHashes, false) }()
	if origin := <-prompter.entered; origin != "https://a.example" {
		t.Fatalf("unexpected prompt origin %s", origin)
	}

	second := make(chan error, 1)
	go func() { second <- engine.Authorize(ctx, "https://a.example", testHashes, false) }()
	waitQueued(t, engine, 1)

	prompter.answer <- cossdk.DecisionAllowSession
	if err := <-first; err != nil {
		t.Fatalf("trigger request: %v", err)
	}
	if err := <-second; err != nil {
		t.Fatalf("queued same-origin request: %v", err)
	}
	if got := prompter.calls.Load(); got != 1 {
		t.Fatalf("same-origin queue should ride one prompt, got %d", got)
	}
}

func TestDifferentOriginGetsOwnPrompt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	prompter := newBlockingPrompter()
	engine := NewEngine(store, prompter, nil)

	aDone := make(chan error, 1)
	go func() { aDone <- engine.Authorize(ctx, "https://a.example", testHashes, false) }()
	if origin := <-prompter.entered; origin != "https://a.example" {
		t.Fatalf("unexpected first prompt origin %s", origin)
	}

	bDone := make(chan error, 1)
	go func() { bDone <- engine.Authorize(ctx, "https://b.example", testHashes, false) }()
	waitQueued(t, engine, 1)

	// Denying a must not settle b; b re-enters and raises its own prompt.
	prompter.answer <- cossdk.DecisionNeverAllow
	if err := <-aDone; !errors.Is(err, cossdk.ErrNotAllowed) {
		t.Fatalf("expected denial for a, got %v", err)
	}

	if origin := <-prompter.entered; origin != "https://b.example" {
		t.Fatalf("unexpected second prompt origin %s", origin)
	}
	prompter.answer <- cossdk.DecisionAllowSession
	if err := <-bDone; err != nil {
		t.Fatalf("b should be allowed after its own prompt: %v", err)
	}
	if got := prompter.calls.Load(); got != 2 {
		t.Fatalf("expected two sequential prompts, got %d", got)
	}
}

func TestStoreDecisionEphemeralClears(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	engine := NewEngine(store, &stubPrompter{}, nil)

	if err := engine.StoreDecision(ctx, "https://a.example", cossdk.DecisionNeverAllow); err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := engine.StoreDecision(ctx, "https://a.example", cossdk.DecisionAllowOnce); err != nil {
		t.Fatalf("clear via ephemeral: %v", err)
	}
	d, err := engine.DurableDecision(ctx, "https://a.example")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if d != cossdk.DecisionUnset {
		t.Fatalf("expected cleared decision, got %s", d)
	}
}
