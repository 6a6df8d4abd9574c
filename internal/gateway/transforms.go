package gateway

import (
	"context"

	"github.com/letsgohq/letsgo/internal/bus"
)

// InboundTransform mutates an inbound message before routing. A voice
// transcription middleware is the canonical example: it rewrites audio
// attachments into text.
type InboundTransform interface {
	// ProcessInbound returns the (possibly mutated) message. Errors skip
	// the transform, never the message.
	ProcessInbound(ctx context.Context, msg bus.InboundMessage) (bus.InboundMessage, error)
}

// OutboundTransform post-processes a reply before display routing and
// may contribute extra files (a TTS middleware appends audio).
type OutboundTransform interface {
	ProcessOutbound(ctx context.Context, reply string, origin bus.InboundMessage, filesDir string) (string, []string, error)
}

// InboundTransformFunc adapts a function to InboundTransform.
type InboundTransformFunc func(ctx context.Context, msg bus.InboundMessage) (bus.InboundMessage, error)

func (f InboundTransformFunc) ProcessInbound(ctx context.Context, msg bus.InboundMessage) (bus.InboundMessage, error) {
	return f(ctx, msg)
}

// OutboundTransformFunc adapts a function to OutboundTransform.
type OutboundTransformFunc func(ctx context.Context, reply string, origin bus.InboundMessage, filesDir string) (string, []string, error)

func (f OutboundTransformFunc) ProcessOutbound(ctx context.Context, reply string, origin bus.InboundMessage, filesDir string) (string, []string, error) {
	return f(ctx, reply, origin, filesDir)
}
