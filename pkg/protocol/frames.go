// Package protocol defines the public wire contract for clients of the
// gateway's HTTP surfaces: the webchat socket, the canvas socket, and
// the webhook channel. External integrations should depend on this
// package rather than mirroring the JSON by hand.
package protocol

import "time"

// Chat frame types exchanged on /chat/ws.
const (
	ChatTypeHello   = "hello"   // server → client, Text carries the sender id
	ChatTypeMessage = "message" // client → server
	ChatTypeReply   = "reply"   // server → client
)

// ChatFrame is the webchat socket frame in both directions.
type ChatFrame struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Canvas frame types pushed on /canvas/ws.
const (
	CanvasTypeState  = "state"
	CanvasTypeUpdate = "update"
)

// CanvasItem is one rendered entry, as exposed to viewers.
type CanvasItem struct {
	ID          string    `json:"id"`
	ContentType string    `json:"content_type"`
	Content     string    `json:"content"`
	Title       string    `json:"title,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CanvasState is the snapshot sent once on connect, items newest-first.
type CanvasState struct {
	Type  string       `json:"type"`
	Items []CanvasItem `json:"items"`
}

// CanvasUpdate is pushed for each new or replaced item.
type CanvasUpdate struct {
	Type        string `json:"type"`
	ID          string `json:"id"`
	ContentType string `json:"content_type"`
	Content     string `json:"content"`
	Title       string `json:"title,omitempty"`
}

// WebhookMessage is the inbound POST body for webhook channels.
type WebhookMessage struct {
	SenderID    string `json:"sender_id"`
	SenderLabel string `json:"sender_label,omitempty"`
	Text        string `json:"text"`
	ThreadID    string `json:"thread_id,omitempty"`
}

// WebhookReply is the synchronous response body, or the callback POST
// body when a reply_url is configured.
type WebhookReply struct {
	SenderID string `json:"sender_id,omitempty"`
	ThreadID string `json:"thread_id,omitempty"`
	Reply    string `json:"reply,omitempty"`
	Status   string `json:"status,omitempty"`
	Error    string `json:"error,omitempty"`
}
