package bus

import (
	"context"
	"log/slog"
)

const queueDepth = 256

// MessageBus carries messages between channel adapters and the gateway
// pipeline. The inbound queue is fed by adapters whose transports must
// not block on the pipeline (long polling, socket reads) and drained by
// the daemon's consumer; the outbound queue is drained by the channel
// manager's dispatch loop. Both queues are bounded; publishing to a
// full queue drops the message with a logged reason rather than
// blocking an adapter's receive loop.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage
}

// New creates a MessageBus with default queue depths.
func New() *MessageBus {
	return &MessageBus{
		inbound:  make(chan InboundMessage, queueDepth),
		outbound: make(chan OutboundMessage, queueDepth),
	}
}

// PublishInbound enqueues an inbound message for the gateway consumer.
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	select {
	case b.inbound <- msg:
	default:
		slog.Warn("inbound queue full, dropping message",
			"channel", msg.Channel, "sender", msg.SenderID)
	}
}

// ConsumeInbound blocks until an inbound message is available or the
// context is cancelled. The bool is false on cancellation.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case <-ctx.Done():
		return InboundMessage{}, false
	case msg := <-b.inbound:
		return msg, true
	}
}

// PublishOutbound enqueues an outbound message for the channel manager's
// dispatch loop.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	select {
	case b.outbound <- msg:
	default:
		slog.Warn("outbound queue full, dropping message",
			"channel", msg.ChannelName)
	}
}

// SubscribeOutbound blocks until an outbound message is available or the
// context is cancelled.
func (b *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case <-ctx.Done():
		return OutboundMessage{}, false
	case msg := <-b.outbound:
		return msg, true
	}
}
