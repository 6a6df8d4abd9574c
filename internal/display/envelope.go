// Package display classifies backend replies and routes rich payloads
// to a display surface, falling back to the originating chat channel.
package display

import (
	"encoding/json"
	"strings"
)

// Envelope is the structured display payload a backend may emit instead
// of plain text.
type Envelope struct {
	ContentType string `json:"content_type"`
	Content     string `json:"content"`
	ID          string `json:"id,omitempty"`
	Title       string `json:"title,omitempty"`
}

// contentTypes is the closed set of renderable payload kinds.
var contentTypes = map[string]bool{
	"chart":    true,
	"html":     true,
	"svg":      true,
	"markdown": true,
	"code":     true,
	"table":    true,
}

// KnownContentType reports whether ct names a renderable payload kind.
func KnownContentType(ct string) bool { return contentTypes[ct] }

// Parse attempts to read a reply as a display envelope. A reply that is
// not a JSON object, lacks a known content_type, or has empty content
// is not an envelope and stays plain text.
func Parse(reply string) (Envelope, bool) {
	trimmed := strings.TrimSpace(reply)
	if !strings.HasPrefix(trimmed, "{") {
		return Envelope{}, false
	}
	var env Envelope
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
		return Envelope{}, false
	}
	if !KnownContentType(env.ContentType) || env.Content == "" {
		return Envelope{}, false
	}
	return env, true
}
