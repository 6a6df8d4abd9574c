package bus

import (
	"time"
)

// InboundMessage is a message received from a channel adapter.
// Adapters construct it once and never mutate it afterwards; pipeline
// transforms work on copies.
type InboundMessage struct {
	Channel     string       `json:"channel"`      // channel type ("telegram", "webhook", ...)
	ChannelName string       `json:"channel_name"` // configured instance name ("tg-main")
	SenderID    string       `json:"sender_id"`
	SenderLabel string       `json:"sender_label,omitempty"`
	Text        string       `json:"text"`
	ThreadID    string       `json:"thread_id,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
	Raw         any          `json:"-"` // original wire payload, adapter-specific

	// Metadata carries pipeline hints set by inbound transforms, e.g.
	// "content_type" to steer the reply toward the display surface.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// OutboundMessage is a message to be delivered by a channel adapter.
type OutboundMessage struct {
	Channel     string       `json:"channel"`
	ChannelName string       `json:"channel_name"`
	ThreadID    string       `json:"thread_id,omitempty"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"` // adapter-specific hints
}

// Attachment references a file carried with a message.
type Attachment struct {
	Path        string `json:"path,omitempty"` // local file path
	URL         string `json:"url,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Caption     string `json:"caption,omitempty"`
}
