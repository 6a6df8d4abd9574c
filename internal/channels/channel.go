// Package channels provides the channel adapter abstraction: one adapter
// per configured channel instance, connecting an external transport
// (Telegram, Discord, Slack, a webhook, a browser socket) to the gateway
// pipeline.
package channels

import (
	"context"
	"log/slog"
	"sync"
	"unicode/utf8"

	"github.com/letsgohq/letsgo/internal/bus"
)

// OnMessage is the single inbound handler an adapter delivers to. It
// returns the reply string for observability; actual delivery goes back
// through the display router and the adapter's Send.
type OnMessage func(ctx context.Context, msg bus.InboundMessage) (string, error)

// Channel is the adapter contract. Start and Stop are idempotent; Send
// attempts delivery exactly once and reports failure as an error without
// panicking. A stopped adapter's Send fails.
type Channel interface {
	// Name returns the configured instance name (e.g. "tg-main").
	Name() string

	// Type returns the adapter type (e.g. "telegram").
	Type() string

	// Start acquires transport resources and begins delivering inbound
	// messages to the registered handler. Non-blocking after setup.
	// Missing credentials degrade to a warning with IsRunning false.
	Start(ctx context.Context) error

	// Stop releases resources and cancels in-flight deliveries.
	Stop(ctx context.Context) error

	// Send delivers one outbound message.
	Send(ctx context.Context, msg bus.OutboundMessage) error

	// SetOnMessage registers the inbound handler. Re-registration
	// replaces the previous handler.
	SetOnMessage(handler OnMessage)

	// IsRunning reports whether the adapter is actively processing.
	IsRunning() bool
}

// BaseChannel carries the state shared by every adapter implementation.
// Adapters embed it and drive SetRunning from their Start/Stop.
type BaseChannel struct {
	name string
	typ  string

	mu        sync.RWMutex
	running   bool
	handler   OnMessage
	events    *bus.MessageBus
	allowFrom []string
}

// NewBaseChannel creates the embedded base for an adapter.
func NewBaseChannel(name, typ string, allowFrom []string) *BaseChannel {
	return &BaseChannel{name: name, typ: typ, allowFrom: allowFrom}
}

// Name returns the instance name.
func (c *BaseChannel) Name() string { return c.name }

// Type returns the adapter type.
func (c *BaseChannel) Type() string { return c.typ }

// IsRunning reports the running flag.
func (c *BaseChannel) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

// SetRunning updates the running flag.
func (c *BaseChannel) SetRunning(running bool) {
	c.mu.Lock()
	c.running = running
	c.mu.Unlock()
}

// SetOnMessage registers the inbound handler, replacing any previous one.
func (c *BaseChannel) SetOnMessage(handler OnMessage) {
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()
}

// AttachBus routes Publish through the gateway bus. Adapters whose
// transport must not block on the pipeline (long polling, socket
// reads) attach it at construction.
func (c *BaseChannel) AttachBus(b *bus.MessageBus) {
	c.mu.Lock()
	c.events = b
	c.mu.Unlock()
}

// Publish hands an inbound message to the gateway. With a bus attached
// the message is enqueued for the daemon's consumer and the transport
// loop moves on; without one it is delivered inline.
func (c *BaseChannel) Publish(ctx context.Context, msg bus.InboundMessage) {
	c.mu.RLock()
	b := c.events
	c.mu.RUnlock()

	if b == nil {
		c.Deliver(ctx, msg)
		return
	}
	b.PublishInbound(msg)
}

// IsAllowed checks the optional instance allowlist. An empty list allows
// everyone; pairing still gates unknown senders downstream.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.allowFrom) == 0 {
		return true
	}
	for _, allowed := range c.allowFrom {
		if senderID == allowed {
			return true
		}
	}
	return false
}

// Deliver invokes the registered handler with an inbound message and
// returns its reply. A missing handler or handler error is logged and
// yields an empty reply; the adapter carries on.
func (c *BaseChannel) Deliver(ctx context.Context, msg bus.InboundMessage) string {
	c.mu.RLock()
	handler := c.handler
	c.mu.RUnlock()

	if handler == nil {
		slog.Warn("inbound message with no handler registered",
			"channel", c.name, "sender", msg.SenderID)
		return ""
	}

	reply, err := handler(ctx, msg)
	if err != nil {
		slog.Error("inbound handler failed",
			"channel", c.name, "sender", msg.SenderID, "error", err)
		return ""
	}
	return reply
}

// Truncate shortens a string to maxLen, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// ChunkText splits text into pieces of at most maxBytes each, never
// cutting inside a UTF-8 rune. Platforms enforce their limits in bytes,
// so the cut point walks back to the nearest rune start.
func ChunkText(text string, maxBytes int) []string {
	if text == "" {
		return nil
	}
	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxBytes {
			chunks = append(chunks, text)
			break
		}
		cut := maxBytes
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		if cut == 0 {
			cut = maxBytes
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	return chunks
}
