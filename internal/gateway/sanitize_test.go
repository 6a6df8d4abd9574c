package gateway

import (
	"context"
	"testing"

	"github.com/letsgohq/letsgo/internal/bus"
)

func runSanitizer(t *testing.T, reply string) (string, []string) {
	t.Helper()
	got, files, err := newReplySanitizer().ProcessOutbound(
		context.Background(), reply, bus.InboundMessage{}, t.TempDir())
	if err != nil {
		t.Fatalf("ProcessOutbound: %v", err)
	}
	return got, files
}

func TestReplySanitizerStripsReasoning(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"clean text untouched", "just a reply", "just a reply"},
		{"think tag", "<think>planning</think>done", "done"},
		{"thinking tag", "before <thinking>x\ny</thinking> after", "before  after"},
		{"thought tag", "<thought>hmm</thought>result", "result"},
		{"tool markup", "<tool_call>x</tool_call>real answer", "xreal answer"},
		{"whitespace trimmed", "  padded  ", "padded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got, _ := runSanitizer(t, tt.in); got != tt.want {
				t.Errorf("sanitize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestReplySanitizerExtractsMedia(t *testing.T) {
	got, files := runSanitizer(t, "here you go\nMEDIA:/tmp/chart.png\nenjoy")
	if got != "here you go\nenjoy" {
		t.Fatalf("text = %q", got)
	}
	if len(files) != 1 || files[0] != "/tmp/chart.png" {
		t.Fatalf("files = %v", files)
	}
}

func TestReplySanitizerCollapsesDuplicates(t *testing.T) {
	got, _ := runSanitizer(t, "same block\n\nsame block\n\ndifferent")
	if got != "same block\n\ndifferent" {
		t.Fatalf("got %q", got)
	}
}

func TestReplySanitizerSilentToken(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		silent bool
	}{
		{"bare token", "NO_REPLY", true},
		{"token with punctuation", "NO_REPLY.", true},
		{"trailing token", "ok then NO_REPLY", true},
		{"embedded in word", "NO_REPLY_NEEDED here", false},
		{"normal text", "nothing to report", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := runSanitizer(t, tt.in)
			if tt.silent && got != "" {
				t.Errorf("sanitize(%q) = %q, want silence", tt.in, got)
			}
			if !tt.silent && tt.in != "" && got == "" {
				t.Errorf("sanitize(%q) went silent", tt.in)
			}
		})
	}
}
