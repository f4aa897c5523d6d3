package permission

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/web-ai-community/cross-origin-storage/core/infra/logging"
	"github.com/web-ai-community/cross-origin-storage/core/infra/metrics"
	"github.com/web-ai-community/cross-origin-storage/core/infra/settings"
	"github.com/web-ai-community/cross-origin-storage/core/protocol/cossdk"
)

const permKeyPrefix = "cos:perm:"

// errRequeue tells a queued caller the prompt it waited on resolved for a
// different origin; it must re-enter resolution.
var errRequeue = errors.New("permission: requeue")

// Prompter raises a permission prompt and returns the user's choice.
// DecisionUnset means the prompt was dismissed without a choice.
type Prompter interface {
	Prompt(ctx context.Context, origin string, hashes []cossdk.Hash, create bool) (cossdk.Decision, error)
}

// Engine is the per-origin permission state machine. Decisions are
// resolved session cache first, then durable storage, then a prompt.
// At most one prompt is outstanding at any time; requests arriving while
// one is open queue behind it. A prompt's decision settles the triggering
// origin's batch only; queued requests from other origins re-enter
// resolution afterwards.
type Engine struct {
	settings settings.Store
	prompter Prompter
	metrics  metrics.Metrics

	mu           sync.Mutex
	session      map[string]cossdk.Decision
	promptActive bool
	queue        []*pendingRequest
}

type pendingRequest struct {
	origin string
	done   chan error
}

// NewEngine constructs an engine. A nil metrics sink defaults to Noop.
func NewEngine(store settings.Store, prompter Prompter, m metrics.Metrics) *Engine {
	if m == nil {
		m = metrics.Noop{}
	}
	return &Engine{
		settings: store,
		prompter: prompter,
		metrics:  m,
		session:  make(map[string]cossdk.Decision),
	}
}

// Authorize resolves whether the origin may read the given hashes.
// Creation of new content is never gated: the write target is content
// addressed, so a create cannot overwrite another origin's identity.
func (e *Engine) Authorize(ctx context.Context, origin string, hashes []cossdk.Hash, create bool) error {
	if create {
		return nil
	}
	for {
		if decided, err := e.resolveCached(ctx, origin); decided {
			return err
		}

		e.mu.Lock()
		// A decision may have landed while durable storage was consulted.
		if d, ok := e.session[origin]; ok {
			e.mu.Unlock()
			return decisionErr(origin, d)
		}
		if e.promptActive {
			p := &pendingRequest{origin: origin, done: make(chan error, 1)}
			e.queue = append(e.queue, p)
			e.mu.Unlock()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case err := <-p.done:
				if errors.Is(err, errRequeue) {
					continue
				}
				return err
			}
		}
		e.promptActive = true
		e.mu.Unlock()

		e.metrics.IncPromptShown()
		choice, err := e.prompter.Prompt(ctx, origin, hashes, create)
		if err != nil {
			logging.Warn("permission", "prompt failed, treating as dismissal", "origin", origin, "error", err)
			choice = cossdk.DecisionUnset
		}
		return e.finishPrompt(ctx, origin, choice)
	}
}

// resolveCached checks the session cache and durable storage. The first
// return value reports whether a decision exists.
func (e *Engine) resolveCached(ctx context.Context, origin string) (bool, error) {
	e.mu.Lock()
	if d, ok := e.session[origin]; ok {
		e.mu.Unlock()
		return true, decisionErr(origin, d)
	}
	e.mu.Unlock()

	d, err := e.DurableDecision(ctx, origin)
	if err != nil {
		return true, fmt.Errorf("%w: read permission for %s: %v", cossdk.ErrStore, origin, err)
	}
	if d.Durable() {
		e.mu.Lock()
		e.session[origin] = d
		e.mu.Unlock()
		return true, decisionErr(origin, d)
	}
	return false, nil
}

// finishPrompt records the choice, settles the triggering origin's batch
// and requeues everyone else. promptActive is cleared here and nowhere
// else.
func (e *Engine) finishPrompt(ctx context.Context, origin string, choice cossdk.Decision) error {
	e.metrics.IncPromptResolved(string(choice))

	e.mu.Lock()
	e.promptActive = false
	if choice.Durable() {
		e.session[origin] = choice
	}
	var sameOrigin, others []*pendingRequest
	for _, p := range e.queue {
		if p.origin == origin {
			sameOrigin = append(sameOrigin, p)
		} else {
			others = append(others, p)
		}
	}
	e.queue = nil
	e.mu.Unlock()

	if choice.Durable() {
		if err := e.StoreDecision(ctx, origin, choice); err != nil {
			logging.Error("permission", "persist decision failed", "origin", origin, "error", err)
		}
	}

	result := decisionErr(origin, choice)
	for _, p := range sameOrigin {
		p.done <- result
	}
	for _, p := range others {
		p.done <- errRequeue
	}
	return result
}

func decisionErr(origin string, d cossdk.Decision) error {
	switch d {
	case cossdk.DecisionAllowOnce, cossdk.DecisionAllowSession:
		return nil
	case cossdk.DecisionNeverAllow:
		return fmt.Errorf("%w: the user has denied %s access to cross-origin storage", cossdk.ErrNotAllowed, origin)
	default:
		return fmt.Errorf("%w: the user did not grant %s access to cross-origin storage", cossdk.ErrNotAllowed, origin)
	}
}

// DurableDecision reads the persisted decision for an origin.
// DecisionUnset when none exists.
func (e *Engine) DurableDecision(ctx context.Context, origin string) (cossdk.Decision, error) {
	raw, err := e.settings.Get(ctx, permKeyPrefix+origin)
	if errors.Is(err, settings.ErrNotFound) {
		return cossdk.DecisionUnset, nil
	}
	if err != nil {
		return cossdk.DecisionUnset, err
	}
	return cossdk.Decision(raw), nil
}

// StoreDecision persists a decision for an origin and keeps the session
// cache coherent. Ephemeral values clear the stored record instead.
func (e *Engine) StoreDecision(ctx context.Context, origin string, d cossdk.Decision) error {
	e.mu.Lock()
	if d.Durable() {
		e.session[origin] = d
	} else {
		delete(e.session, origin)
	}
	e.mu.Unlock()
	if !d.Durable() {
		return e.settings.Delete(ctx, permKeyPrefix+origin)
	}
	return e.settings.Set(ctx, permKeyPrefix+origin, []byte(d))
}
