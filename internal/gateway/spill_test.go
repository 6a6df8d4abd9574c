package gateway

import (
	"os"
	"strings"
	"testing"
)

func TestSpillReplyUnderLimit(t *testing.T) {
	reply, path, err := spillReply("short reply", t.TempDir(), 100)
	if err != nil {
		t.Fatal(err)
	}
	if reply != "short reply" || path != "" {
		t.Fatalf("under-limit reply mutated: %q, %q", reply, path)
	}
}

func TestSpillReplyDisabled(t *testing.T) {
	long := strings.Repeat("x", 10000)
	reply, path, err := spillReply(long, t.TempDir(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if reply != long || path != "" {
		t.Fatal("maxChars <= 0 must disable spilling")
	}
}

func TestSpillReplyWritesFile(t *testing.T) {
	dir := t.TempDir()
	long := strings.Repeat("line of text ", 200)

	short, path, err := spillReply(long, dir, 100)
	if err != nil {
		t.Fatal(err)
	}
	if path == "" {
		t.Fatal("spill path missing")
	}
	if !strings.Contains(short, "[reply truncated, full text in ") {
		t.Fatalf("short reply = %q", short)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("spill file: %v", err)
	}
	if string(data) != long {
		t.Fatal("spill file must hold the full reply")
	}
}

func TestSpillReplyCountsRunes(t *testing.T) {
	// 60 multibyte runes are under a 100-char cap even at 180 bytes.
	reply := strings.Repeat("日本語", 20)
	got, path, err := spillReply(reply, t.TempDir(), 100)
	if err != nil {
		t.Fatal(err)
	}
	if got != reply || path != "" {
		t.Fatal("rune count, not byte count, decides spilling")
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := truncateRunes("hello", 10); got != "hello" {
		t.Errorf("short input = %q", got)
	}
	if got := truncateRunes("héllo wörld", 5); got != "héllo..." {
		t.Errorf("truncated = %q", got)
	}
}
