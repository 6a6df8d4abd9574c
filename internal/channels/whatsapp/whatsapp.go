// Package whatsapp connects to a WhatsApp bridge over WebSocket. The
// bridge (whatsapp-web.js based) speaks the actual WhatsApp protocol;
// this adapter exchanges JSON frames with it.
package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/letsgohq/letsgo/internal/bus"
	"github.com/letsgohq/letsgo/internal/channels"
	"github.com/letsgohq/letsgo/internal/config"
)

const (
	handshakeTimeout = 10 * time.Second
	maxBackoff       = 30 * time.Second
)

// bridgeFrame is the JSON frame format the bridge speaks in both
// directions.
type bridgeFrame struct {
	Type     string `json:"type"`
	From     string `json:"from,omitempty"`
	FromName string `json:"from_name,omitempty"`
	Chat     string `json:"chat,omitempty"`
	To       string `json:"to,omitempty"`
	Content  string `json:"content,omitempty"`
	ID       string `json:"id,omitempty"`
}

// Channel is the WhatsApp bridge adapter.
type Channel struct {
	*channels.BaseChannel
	bridgeURL string

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}
}

// Factory builds a WhatsApp adapter from a channel spec.
func Factory(name string, spec config.ChannelSpec, deps channels.Deps) (channels.Channel, error) {
	c := &Channel{
		BaseChannel: channels.NewBaseChannel(name, "whatsapp", spec.AllowFrom),
		bridgeURL:   spec.BridgeURL,
	}
	c.AttachBus(deps.Bus)
	return c, nil
}

// Start connects to the bridge and begins the read loop. The initial
// dial may fail; the loop keeps retrying with backoff.
func (c *Channel) Start(ctx context.Context) error {
	if c.IsRunning() {
		return nil
	}
	if c.bridgeURL == "" {
		slog.Warn("whatsapp bridge_url not configured, channel unavailable", "channel", c.Name())
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	if err := c.connect(); err != nil {
		slog.Warn("initial whatsapp bridge connection failed, will retry",
			"channel", c.Name(), "error", err)
	}

	go c.listenLoop(runCtx)
	c.SetRunning(true)
	return nil
}

// Stop closes the bridge connection and halts the read loop.
func (c *Channel) Stop(_ context.Context) error {
	if !c.IsRunning() {
		return nil
	}
	c.SetRunning(false)
	if c.cancel != nil {
		c.cancel()
	}

	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	if c.done != nil {
		select {
		case <-c.done:
		case <-time.After(5 * time.Second):
		}
	}
	return nil
}

// Send writes a message frame to the bridge. Group replies target the
// thread JID; direct replies target the originating sender.
func (c *Channel) Send(_ context.Context, msg bus.OutboundMessage) error {
	to := msg.ThreadID
	if to == "" {
		to = msg.Metadata["sender_id"]
	}
	if to == "" {
		return fmt.Errorf("whatsapp send: no recipient")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("whatsapp bridge not connected")
	}

	data, err := json.Marshal(bridgeFrame{Type: "message", To: to, Content: msg.Text})
	if err != nil {
		return fmt.Errorf("marshal whatsapp message: %w", err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send whatsapp message: %w", err)
	}
	return nil
}

func (c *Channel) connect() error {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = handshakeTimeout

	conn, _, err := dialer.Dial(c.bridgeURL, nil)
	if err != nil {
		return fmt.Errorf("dial whatsapp bridge %s: %w", c.bridgeURL, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	slog.Info("whatsapp bridge connected", "channel", c.Name(), "url", c.bridgeURL)
	return nil
}

// listenLoop reads frames from the bridge, reconnecting with backoff
// after any read failure.
func (c *Channel) listenLoop(ctx context.Context) {
	defer close(c.done)
	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		if conn == nil {
			slog.Info("attempting whatsapp bridge reconnect",
				"channel", c.Name(), "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if err := c.connect(); err != nil {
				slog.Warn("whatsapp bridge reconnect failed", "channel", c.Name(), "error", err)
				backoff = min(backoff*2, maxBackoff)
				continue
			}
			backoff = time.Second
			continue
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("whatsapp read error, will reconnect", "channel", c.Name(), "error", err)
			c.mu.Lock()
			if c.conn != nil {
				_ = c.conn.Close()
				c.conn = nil
			}
			c.mu.Unlock()
			continue
		}

		var frame bridgeFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			slog.Warn("invalid whatsapp frame", "channel", c.Name(), "error", err)
			continue
		}
		if frame.Type == "message" {
			c.handleMessage(ctx, frame)
		}
	}
}

func (c *Channel) handleMessage(ctx context.Context, frame bridgeFrame) {
	if frame.From == "" {
		return
	}
	if !c.IsAllowed(frame.From) {
		return
	}

	chat := frame.Chat
	if chat == "" {
		chat = frame.From
	}

	msg := bus.InboundMessage{
		Channel:     c.Type(),
		ChannelName: c.Name(),
		SenderID:    frame.From,
		SenderLabel: frame.FromName,
		Text:        frame.Content,
		Timestamp:   time.Now(),
		Raw:         frame,
	}
	// Group chats carry a distinct chat JID; keep it as the thread so
	// replies land in the group.
	if strings.HasSuffix(chat, "@g.us") {
		msg.ThreadID = chat
	}

	c.Publish(ctx, msg)
}
