package gateway

import (
	"context"
	"regexp"
	"strings"

	"github.com/letsgohq/letsgo/internal/bus"
)

// silentToken is the backend's explicit "send nothing" marker. A reply
// carrying it is dropped instead of delivered.
const silentToken = "NO_REPLY"

// replySanitizer is the default outbound transform. Backends sometimes
// leak reasoning tags, tool-call markup, or MEDIA: path lines into the
// reply text; those never reach a channel. MEDIA: lines are promoted to
// file attachments rather than discarded.
type replySanitizer struct{}

func newReplySanitizer() OutboundTransform { return replySanitizer{} }

var reasoningTagPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<think>.*?</think>`),
	regexp.MustCompile(`(?is)<thinking>.*?</thinking>`),
	regexp.MustCompile(`(?is)<thought>.*?</thought>`),
}

var toolMarkupPattern = regexp.MustCompile(
	`(?s)</?(?:function_calls?|invoke|tool_call|tool_use|parameter)[^>]*>`,
)

func (replySanitizer) ProcessOutbound(_ context.Context, reply string, _ bus.InboundMessage, _ string) (string, []string, error) {
	if reply == "" {
		return "", nil, nil
	}

	reply, files := extractMediaLines(reply)

	lower := strings.ToLower(reply)
	if strings.Contains(lower, "<think") || strings.Contains(lower, "<thought") {
		for _, pat := range reasoningTagPatterns {
			reply = pat.ReplaceAllString(reply, "")
		}
	}
	if strings.Contains(reply, "<tool_") || strings.Contains(reply, "<function_call") ||
		strings.Contains(reply, "<invoke") || strings.Contains(reply, "<parameter") {
		reply = toolMarkupPattern.ReplaceAllString(reply, "")
	}

	reply = collapseDuplicateBlocks(reply)
	reply = strings.TrimSpace(reply)

	if isSilentReply(reply) {
		return "", files, nil
	}
	return reply, files, nil
}

// extractMediaLines strips "MEDIA:<path>" lines from the reply and
// returns the referenced paths as attachments.
func extractMediaLines(reply string) (string, []string) {
	if !strings.Contains(reply, "MEDIA:") {
		return reply, nil
	}
	var kept []string
	var files []string
	for _, line := range strings.Split(reply, "\n") {
		trimmed := strings.TrimSpace(line)
		if path, ok := strings.CutPrefix(trimmed, "MEDIA:"); ok {
			if path = strings.TrimSpace(path); path != "" {
				files = append(files, path)
			}
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n"), files
}

// collapseDuplicateBlocks drops paragraph blocks that repeat the
// immediately preceding one.
func collapseDuplicateBlocks(reply string) string {
	blocks := strings.Split(reply, "\n\n")
	if len(blocks) <= 1 {
		return reply
	}
	var out []string
	for _, block := range blocks {
		trimmed := strings.TrimSpace(block)
		if trimmed == "" {
			continue
		}
		if len(out) > 0 && trimmed == strings.TrimSpace(out[len(out)-1]) {
			continue
		}
		out = append(out, block)
	}
	return strings.Join(out, "\n\n")
}

// isSilentReply reports whether the text is the silent token, alone or
// at either edge of the reply.
func isSilentReply(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	if trimmed == silentToken {
		return true
	}
	if rest, ok := strings.CutPrefix(trimmed, silentToken); ok && !isWordChar(rune(rest[0])) {
		return true
	}
	if before, ok := strings.CutSuffix(trimmed, silentToken); ok && !isWordChar(rune(before[len(before)-1])) {
		return true
	}
	return false
}

func isWordChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_'
}
