package gateway

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// previewChars is how much of an oversize reply survives inline.
const previewChars = 500

// spillReply writes an oversize reply to a file under filesDir and
// returns the shortened reply plus the file path. maxChars <= 0
// disables spilling.
func spillReply(reply, filesDir string, maxChars int) (string, string, error) {
	if maxChars <= 0 || utf8.RuneCountInString(reply) <= maxChars {
		return reply, "", nil
	}

	if err := os.MkdirAll(filesDir, 0o700); err != nil {
		return reply, "", fmt.Errorf("create files dir: %w", err)
	}

	name := fmt.Sprintf("reply-%s.md", uuid.NewString())
	path := filepath.Join(filesDir, name)
	if err := os.WriteFile(path, []byte(reply), 0o600); err != nil {
		return reply, "", fmt.Errorf("write spill file: %w", err)
	}

	preview := truncateRunes(reply, previewChars)
	short := fmt.Sprintf("%s\n\n[reply truncated, full text in %s]", strings.TrimSpace(preview), name)
	return short, path, nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}
