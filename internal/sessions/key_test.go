package sessions

import (
	"testing"

	"github.com/letsgohq/letsgo/internal/bus"
)

func TestKeyFor(t *testing.T) {
	msg := bus.InboundMessage{
		Channel:     "telegram",
		ChannelName: "tg-main",
		SenderID:    "386246614",
		ThreadID:    "99",
	}

	tests := []struct {
		name      string
		msg       bus.InboundMessage
		perThread bool
		want      string
	}{
		{"sender scoped", msg, false, "telegram:tg-main:386246614"},
		{"thread scoped", msg, true, "telegram:tg-main:386246614:thread:99"},
		{
			"per-thread without thread id falls back",
			bus.InboundMessage{Channel: "webhook", ChannelName: "hooks", SenderID: "u1"},
			true,
			"webhook:hooks:u1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KeyFor(tt.msg, tt.perThread); got != tt.want {
				t.Errorf("KeyFor = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseRouteKey(t *testing.T) {
	channel, name, sender, ok := ParseRouteKey("telegram:tg-main:386246614")
	if !ok || channel != "telegram" || name != "tg-main" || sender != "386246614" {
		t.Fatalf("ParseRouteKey = %q %q %q %v", channel, name, sender, ok)
	}

	if _, _, _, ok := ParseRouteKey("malformed"); ok {
		t.Fatal("malformed key should not parse")
	}
}

func TestHeartbeatSender(t *testing.T) {
	id := HeartbeatSenderID("main")
	if id != "heartbeat:main" {
		t.Fatalf("HeartbeatSenderID = %q", id)
	}
	if !IsHeartbeatSender(id) {
		t.Fatal("synthetic id should be recognized")
	}
	if IsHeartbeatSender("386246614") {
		t.Fatal("real sender id misclassified as heartbeat")
	}
}
