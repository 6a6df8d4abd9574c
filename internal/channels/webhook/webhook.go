// Package webhook implements the plain HTTP adapter: inbound messages
// arrive as JSON POSTs, replies go back in the response body or to a
// configured callback URL.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/letsgohq/letsgo/internal/bus"
	"github.com/letsgohq/letsgo/internal/channels"
	"github.com/letsgohq/letsgo/internal/config"
	"github.com/letsgohq/letsgo/pkg/protocol"
)

const maxBodyBytes = 1 << 20 // 1MB request cap

// Channel is the webhook adapter. It does not own a listener; the
// gateway server mounts its routes via RegisterRoutes.
type Channel struct {
	*channels.BaseChannel
	path     string
	replyURL string
	limiter  *edgeLimiter
	client   *http.Client
}

// Factory builds a webhook adapter from a channel spec. The inbound
// path defaults to /hooks/{name}.
func Factory(name string, spec config.ChannelSpec, deps channels.Deps) (channels.Channel, error) {
	path := spec.Path
	if path == "" {
		path = "/hooks/" + name
	}
	return &Channel{
		BaseChannel: channels.NewBaseChannel(name, "webhook", spec.AllowFrom),
		path:        path,
		replyURL:    spec.ReplyURL,
		limiter:     newEdgeLimiter(),
		client:      &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// RegisterRoutes mounts the inbound endpoint on the gateway mux.
func (c *Channel) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST "+c.path, c.handlePost)
}

// Path returns the mounted inbound path.
func (c *Channel) Path() string { return c.path }

// Start marks the adapter live. The HTTP surface itself belongs to the
// gateway server.
func (c *Channel) Start(_ context.Context) error {
	c.SetRunning(true)
	slog.Info("webhook channel ready", "channel", c.Name(), "path", c.path)
	return nil
}

// Stop marks the adapter stopped; the route keeps returning 503.
func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	return nil
}

// Send posts the reply to the configured callback URL. Without a
// callback the reply was already returned in the inbound response, so
// there is nothing left to deliver.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if c.replyURL == "" {
		slog.Debug("webhook reply delivered synchronously, no reply_url",
			"channel", c.Name())
		return nil
	}

	body, err := json.Marshal(protocol.WebhookReply{
		SenderID: msg.Metadata["sender_id"],
		ThreadID: msg.ThreadID,
		Reply:    msg.Text,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook reply: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.replyURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook reply request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook reply post: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook reply post: status %d", resp.StatusCode)
	}
	return nil
}

func (c *Channel) handlePost(w http.ResponseWriter, r *http.Request) {
	if !c.IsRunning() {
		http.Error(w, `{"error":"channel not running"}`, http.StatusServiceUnavailable)
		return
	}

	if !c.limiter.allow(clientKey(r)) {
		http.Error(w, `{"error":"too many requests"}`, http.StatusTooManyRequests)
		return
	}

	var payload protocol.WebhookMessage
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&payload); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	if payload.SenderID == "" || payload.Text == "" {
		http.Error(w, `{"error":"sender_id and text are required"}`, http.StatusBadRequest)
		return
	}
	if !c.IsAllowed(payload.SenderID) {
		http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
		return
	}

	msg := bus.InboundMessage{
		Channel:     c.Type(),
		ChannelName: c.Name(),
		SenderID:    payload.SenderID,
		SenderLabel: payload.SenderLabel,
		Text:        payload.Text,
		ThreadID:    payload.ThreadID,
		Timestamp:   time.Now(),
	}

	w.Header().Set("Content-Type", "application/json")

	// With a callback URL the pipeline runs detached and replies land
	// on reply_url; otherwise the caller gets the reply inline.
	if c.replyURL != "" {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			c.Deliver(ctx, msg)
		}()
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(protocol.WebhookReply{Status: "accepted"})
		return
	}

	reply := c.Deliver(r.Context(), msg)
	json.NewEncoder(w).Encode(protocol.WebhookReply{Reply: reply})
}

// clientKey buckets requests by source address for the edge limiter.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
