package permission

import (
	"context"
	"errors"
	"time"

	"github.com/web-ai-community/cross-origin-storage/core/infra/bus"
	"github.com/web-ai-community/cross-origin-storage/core/infra/logging"
	"github.com/web-ai-community/cross-origin-storage/core/protocol/cossdk"
)

// BusPrompter raises prompts over the bus and waits for whatever UI agent
// is subscribed to answer. No responder or a timeout counts as dismissal.
type BusPrompter struct {
	bus     bus.Bus
	timeout time.Duration
}

func NewBusPrompter(b bus.Bus, timeout time.Duration) *BusPrompter {
	return &BusPrompter{bus: b, timeout: timeout}
}

func (p *BusPrompter) Prompt(ctx context.Context, origin string, hashes []cossdk.Hash, create bool) (cossdk.Decision, error) {
	env, err := cossdk.NewEnvelope(cossdk.ActionPromptPermission, cossdk.PromptPermissionRequest{
		Origin: origin,
		Hashes: hashes,
		Create: create,
	})
	if err != nil {
		return cossdk.DecisionUnset, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.bus.Request(ctx, cossdk.SubjectPermissionPrompt, env)
	if err != nil {
		if errors.Is(err, bus.ErrNoResponders) || errors.Is(err, context.DeadlineExceeded) {
			logging.Warn("permission", "prompt unanswered", "origin", origin, "error", err)
			return cossdk.DecisionUnset, nil
		}
		return cossdk.DecisionUnset, err
	}
	if resp.Error != nil {
		return cossdk.DecisionUnset, resp.Error.Err()
	}
	var out cossdk.PromptPermissionResponse
	if err := resp.Decode(&out); err != nil {
		return cossdk.DecisionUnset, err
	}
	return out.Permission, nil
}
