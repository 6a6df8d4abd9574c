// Package webchat implements the browser chat adapter. Clients hold a
// WebSocket to /chat/ws and exchange small JSON frames; each connection
// is one sender in the pipeline.
package webchat

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/letsgohq/letsgo/internal/bus"
	"github.com/letsgohq/letsgo/internal/channels"
	"github.com/letsgohq/letsgo/internal/config"
	"github.com/letsgohq/letsgo/pkg/protocol"
)

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(ctx context.Context, f protocol.ChatFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return wsjson.Write(ctx, c.conn, f)
}

// Channel is the webchat adapter. The gateway server mounts its routes;
// the adapter owns only the connection set.
type Channel struct {
	*channels.BaseChannel

	mu      sync.RWMutex
	clients map[string][]*client // senderID → open connections
	runCtx  context.Context
	cancel  context.CancelFunc
}

// Factory builds a webchat adapter.
func Factory(name string, spec config.ChannelSpec, deps channels.Deps) (channels.Channel, error) {
	return &Channel{
		BaseChannel: channels.NewBaseChannel(name, "webchat", spec.AllowFrom),
		clients:     make(map[string][]*client),
	}, nil
}

// RegisterRoutes mounts the chat socket on the gateway mux.
func (c *Channel) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /chat/ws", c.handleWS)
}

// Start marks the adapter live.
func (c *Channel) Start(ctx context.Context) error {
	if c.IsRunning() {
		return nil
	}
	c.runCtx, c.cancel = context.WithCancel(ctx)
	c.SetRunning(true)
	slog.Info("webchat channel ready", "channel", c.Name())
	return nil
}

// Stop closes every open connection.
func (c *Channel) Stop(_ context.Context) error {
	if !c.IsRunning() {
		return nil
	}
	c.SetRunning(false)
	if c.cancel != nil {
		c.cancel()
	}

	c.mu.Lock()
	for _, conns := range c.clients {
		for _, cl := range conns {
			_ = cl.conn.Close(websocket.StatusGoingAway, "gateway stopping")
		}
	}
	c.clients = make(map[string][]*client)
	c.mu.Unlock()
	return nil
}

// Send pushes a reply frame to every open connection of the target
// sender.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	senderID := msg.Metadata["sender_id"]
	if senderID == "" {
		return fmt.Errorf("webchat send: no recipient")
	}

	c.mu.RLock()
	conns := append([]*client(nil), c.clients[senderID]...)
	c.mu.RUnlock()

	if len(conns) == 0 {
		return fmt.Errorf("webchat send: sender %s not connected", senderID)
	}

	out := protocol.ChatFrame{Type: protocol.ChatTypeReply, Text: msg.Text}
	var lastErr error
	for _, cl := range conns {
		if err := cl.write(ctx, out); err != nil {
			lastErr = err
		}
	}
	if lastErr != nil {
		return fmt.Errorf("webchat send: %w", lastErr)
	}
	return nil
}

func (c *Channel) handleWS(w http.ResponseWriter, r *http.Request) {
	if !c.IsRunning() {
		http.Error(w, "channel not running", http.StatusServiceUnavailable)
		return
	}

	// Returning clients keep their identity by passing sender= back.
	senderID := r.URL.Query().Get("sender")
	if senderID == "" {
		senderID = uuid.NewString()
	}
	if !c.IsAllowed(senderID) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("webchat accept failed", "channel", c.Name(), "error", err)
		return
	}
	cl := &client{conn: conn}

	c.mu.Lock()
	c.clients[senderID] = append(c.clients[senderID], cl)
	c.mu.Unlock()

	slog.Debug("webchat client connected", "channel", c.Name(), "sender", senderID)

	// Tell the client its identity first so reconnects can carry it.
	_ = cl.write(c.runCtx, protocol.ChatFrame{Type: protocol.ChatTypeHello, Text: senderID})

	c.readLoop(senderID, cl)
}

func (c *Channel) readLoop(senderID string, cl *client) {
	defer func() {
		c.mu.Lock()
		conns := c.clients[senderID]
		for i, other := range conns {
			if other == cl {
				c.clients[senderID] = append(conns[:i], conns[i+1:]...)
				break
			}
		}
		if len(c.clients[senderID]) == 0 {
			delete(c.clients, senderID)
		}
		c.mu.Unlock()
		_ = cl.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		var in protocol.ChatFrame
		if err := wsjson.Read(c.runCtx, cl.conn, &in); err != nil {
			return
		}
		if in.Type != protocol.ChatTypeMessage || in.Text == "" {
			continue
		}

		c.Deliver(c.runCtx, bus.InboundMessage{
			Channel:     c.Type(),
			ChannelName: c.Name(),
			SenderID:    senderID,
			Text:        in.Text,
			Timestamp:   time.Now(),
		})
	}
}
