// Package agent drives a user request through the monologue loop: model
// calls, tool dispatch, intervention handling, and controlled failure.
package agent

import (
	"context"

	"github.com/itak-ai/itak/pkg/models"
)

// StreamCallback receives response deltas in arrival order for one call.
type StreamCallback func(chunk string)

// ModelRouter is the engine's view of an LLM provider. stream may be nil
// when the caller does not care about deltas.
type ModelRouter interface {
	Chat(ctx context.Context, messages []models.Message, stream StreamCallback) (string, error)
}

// HealClient adapts a ModelRouter to the self-heal engine's model port.
type HealClient struct {
	Router ModelRouter
}

func (c HealClient) Chat(ctx context.Context, messages []models.Message) (string, error) {
	return c.Router.Chat(ctx, messages, nil)
}
