// Package sessions groups inbound messages into conversational sessions
// and forwards them to the agent backend.
//
// Route keys follow the canonical format:
//
//	{channel}:{channel_name}:{sender_id}
//
// A thread-scoped variant appends ":thread:{thread_id}" when the daemon
// is configured for per-thread sessions.
//
// Examples:
//
//	telegram:tg-main:386246614
//	webhook:hooks:u1
//	telegram:tg-main:386246614:thread:99
package sessions

import (
	"fmt"
	"strings"

	"github.com/letsgohq/letsgo/internal/bus"
)

// RouteKey builds the sender-scoped route key for a message.
func RouteKey(channel, channelName, senderID string) string {
	return fmt.Sprintf("%s:%s:%s", channel, channelName, senderID)
}

// ThreadRouteKey builds the per-thread variant.
func ThreadRouteKey(channel, channelName, senderID, threadID string) string {
	return fmt.Sprintf("%s:%s:%s:thread:%s", channel, channelName, senderID, threadID)
}

// KeyFor derives the route key for an inbound message. perThread selects
// the finer-grained key when the message carries a thread id.
func KeyFor(msg bus.InboundMessage, perThread bool) string {
	if perThread && msg.ThreadID != "" {
		return ThreadRouteKey(msg.Channel, msg.ChannelName, msg.SenderID, msg.ThreadID)
	}
	return RouteKey(msg.Channel, msg.ChannelName, msg.SenderID)
}

// ParseRouteKey splits a route key into its parts. Returns ok=false for
// malformed keys.
func ParseRouteKey(key string) (channel, channelName, senderID string, ok bool) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 3 {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}

// IsHeartbeatSender reports whether a sender id belongs to the heartbeat
// engine rather than a real user.
func IsHeartbeatSender(senderID string) bool {
	return strings.HasPrefix(senderID, "heartbeat:")
}

// HeartbeatSenderID builds the synthetic sender id for an agent's
// heartbeat turns.
func HeartbeatSenderID(agentID string) string {
	return "heartbeat:" + agentID
}
