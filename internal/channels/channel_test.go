package channels

import (
	"context"
	"errors"
	"testing"
	"unicode/utf8"

	"github.com/letsgohq/letsgo/internal/bus"
)

func TestBaseChannelIsAllowed(t *testing.T) {
	open := NewBaseChannel("c", "fake", nil)
	if !open.IsAllowed("anyone") {
		t.Fatal("empty allowlist should allow everyone")
	}

	restricted := NewBaseChannel("c", "fake", []string{"u1", "u2"})
	if !restricted.IsAllowed("u1") {
		t.Fatal("listed sender should be allowed")
	}
	if restricted.IsAllowed("u3") {
		t.Fatal("unlisted sender should be rejected")
	}
}

func TestBaseChannelDeliver(t *testing.T) {
	c := NewBaseChannel("c", "fake", nil)

	// No handler registered: dropped, empty reply.
	if reply := c.Deliver(context.Background(), bus.InboundMessage{Text: "hi"}); reply != "" {
		t.Fatalf("reply without handler = %q, want empty", reply)
	}

	c.SetOnMessage(func(_ context.Context, msg bus.InboundMessage) (string, error) {
		return "got: " + msg.Text, nil
	})
	if reply := c.Deliver(context.Background(), bus.InboundMessage{Text: "hi"}); reply != "got: hi" {
		t.Fatalf("reply = %q", reply)
	}

	// Handler failure degrades to an empty reply, never a panic.
	c.SetOnMessage(func(context.Context, bus.InboundMessage) (string, error) {
		return "", errors.New("boom")
	})
	if reply := c.Deliver(context.Background(), bus.InboundMessage{Text: "hi"}); reply != "" {
		t.Fatalf("reply after handler error = %q, want empty", reply)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("hello", 10); got != "hello" {
		t.Errorf("Truncate short = %q", got)
	}
	if got := Truncate("hello world", 5); got != "hello..." {
		t.Errorf("Truncate long = %q", got)
	}
}

func TestBaseChannelPublish(t *testing.T) {
	b := bus.New()
	c := NewBaseChannel("c", "fake", nil)

	// Without a bus Publish delivers inline.
	var inline []string
	c.SetOnMessage(func(_ context.Context, msg bus.InboundMessage) (string, error) {
		inline = append(inline, msg.Text)
		return "", nil
	})
	c.Publish(context.Background(), bus.InboundMessage{Text: "direct"})
	if len(inline) != 1 || inline[0] != "direct" {
		t.Fatalf("inline deliveries = %v", inline)
	}

	// With a bus attached the message is enqueued, not delivered.
	c.AttachBus(b)
	c.Publish(context.Background(), bus.InboundMessage{Text: "queued"})
	if len(inline) != 1 {
		t.Fatalf("bus-backed publish delivered inline: %v", inline)
	}
	msg, ok := b.ConsumeInbound(context.Background())
	if !ok || msg.Text != "queued" {
		t.Fatalf("queued message = %+v, %v", msg, ok)
	}
}

func TestChunkText(t *testing.T) {
	if got := ChunkText("", 10); got != nil {
		t.Fatalf("empty text chunks = %v", got)
	}
	if got := ChunkText("short", 10); len(got) != 1 || got[0] != "short" {
		t.Fatalf("under-limit chunks = %v", got)
	}
	if got := ChunkText("abcdef", 3); len(got) != 2 || got[0] != "abc" || got[1] != "def" {
		t.Fatalf("exact split chunks = %v", got)
	}

	// A multibyte rune straddling the limit moves whole into the next
	// chunk instead of being cut mid-sequence.
	got := ChunkText("abécd", 3) // é is 2 bytes, occupying bytes 2-3
	want := []string{"ab", "éc", "d"}
	if len(got) != len(want) {
		t.Fatalf("rune boundary chunks = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("chunk %d = %q, want %q", i, got[i], want[i])
		}
	}
	for _, chunk := range ChunkText("日本語のテキスト", 7) {
		if !utf8.ValidString(chunk) {
			t.Fatalf("chunk %q is not valid UTF-8", chunk)
		}
	}
}

func TestManagerFindByType(t *testing.T) {
	m := NewManager(bus.New())
	m.RegisterChannel("board", &fakeChannel{BaseChannel: NewBaseChannel("board", "canvas", nil)})
	m.RegisterChannel("tg", &fakeChannel{BaseChannel: NewBaseChannel("tg", "telegram", nil)})

	ch, ok := m.FindByType("canvas")
	if !ok || ch.Name() != "board" {
		t.Fatalf("FindByType = %v, %v", ch, ok)
	}
	if _, ok := m.FindByType("slack"); ok {
		t.Fatal("absent type should not be found")
	}

	m.UnregisterChannel("board")
	if _, ok := m.FindByType("canvas"); ok {
		t.Fatal("unregistered channel still findable")
	}
}

func TestManagerSendTo(t *testing.T) {
	m := NewManager(bus.New())
	fake := &fakeChannel{BaseChannel: NewBaseChannel("tg", "telegram", nil)}
	m.RegisterChannel("tg", fake)

	if err := m.SendTo(context.Background(), "tg", "hello"); err != nil {
		t.Fatalf("SendTo: %v", err)
	}
	if len(fake.sent) != 1 || fake.sent[0].Text != "hello" {
		t.Fatalf("sent = %+v", fake.sent)
	}

	if err := m.SendTo(context.Background(), "missing", "x"); err == nil {
		t.Fatal("SendTo unknown channel should error")
	}
}
