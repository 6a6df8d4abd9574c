// Package canvas implements the display surface adapter. Viewers hold a
// WebSocket to /canvas/ws; on connect they get the full state snapshot,
// then incremental update frames as envelopes arrive.
package canvas

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/letsgohq/letsgo/internal/bus"
	"github.com/letsgohq/letsgo/internal/channels"
	"github.com/letsgohq/letsgo/internal/config"
	"github.com/letsgohq/letsgo/internal/display"
	"github.com/letsgohq/letsgo/pkg/protocol"
)

// toProtocolItems projects display items onto the wire shape.
func toProtocolItems(items []display.Item) []protocol.CanvasItem {
	out := make([]protocol.CanvasItem, 0, len(items))
	for _, it := range items {
		out = append(out, protocol.CanvasItem{
			ID:          it.ID,
			ContentType: it.ContentType,
			Content:     it.Content,
			Title:       it.Title,
			UpdatedAt:   it.UpdatedAt,
		})
	}
	return out
}

type viewer struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (v *viewer) write(ctx context.Context, payload any) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return wsjson.Write(ctx, v.conn, payload)
}

// Channel is the canvas adapter. Send consumes display envelopes; it
// never originates inbound messages.
type Channel struct {
	*channels.BaseChannel
	state *display.State

	mu      sync.RWMutex
	viewers map[*viewer]bool
	runCtx  context.Context
	cancel  context.CancelFunc
}

// Factory builds a canvas adapter backed by the shared display state.
func Factory(name string, spec config.ChannelSpec, deps channels.Deps) (channels.Channel, error) {
	state := deps.Display
	if state == nil {
		state = display.NewState()
	}
	c := &Channel{
		BaseChannel: channels.NewBaseChannel(name, "canvas", spec.AllowFrom),
		state:       state,
		viewers:     make(map[*viewer]bool),
	}
	state.Subscribe(c.broadcast)
	return c, nil
}

// RegisterRoutes mounts the canvas socket and the state snapshot
// endpoint on the gateway mux.
func (c *Channel) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /canvas/ws", c.handleWS)
	mux.HandleFunc("GET /canvas/state", c.handleState)
}

// Start marks the adapter live.
func (c *Channel) Start(ctx context.Context) error {
	if c.IsRunning() {
		return nil
	}
	c.runCtx, c.cancel = context.WithCancel(ctx)
	c.SetRunning(true)
	slog.Info("canvas channel ready", "channel", c.Name(), "items", c.state.Len())
	return nil
}

// Stop disconnects every viewer.
func (c *Channel) Stop(_ context.Context) error {
	if !c.IsRunning() {
		return nil
	}
	c.SetRunning(false)
	if c.cancel != nil {
		c.cancel()
	}

	c.mu.Lock()
	for v := range c.viewers {
		_ = v.conn.Close(websocket.StatusGoingAway, "gateway stopping")
	}
	c.viewers = make(map[*viewer]bool)
	c.mu.Unlock()
	return nil
}

// Send applies a display envelope to the canvas state. The state
// listener fans the update out to connected viewers.
func (c *Channel) Send(_ context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("canvas channel %s not running", c.Name())
	}
	env, ok := display.Parse(msg.Text)
	if !ok {
		return fmt.Errorf("canvas send: payload is not a display envelope")
	}
	item := c.state.Apply(env)
	slog.Debug("canvas item applied", "channel", c.Name(), "id", item.ID, "kind", item.ContentType)
	return nil
}

// broadcast pushes one update frame to every viewer. Dead connections
// are dropped on write failure.
func (c *Channel) broadcast(item display.Item) {
	frame := protocol.CanvasUpdate{
		Type:        protocol.CanvasTypeUpdate,
		ID:          item.ID,
		ContentType: item.ContentType,
		Content:     item.Content,
		Title:       item.Title,
	}

	c.mu.RLock()
	viewers := make([]*viewer, 0, len(c.viewers))
	for v := range c.viewers {
		viewers = append(viewers, v)
	}
	ctx := c.runCtx
	c.mu.RUnlock()

	if ctx == nil {
		return
	}
	for _, v := range viewers {
		if err := v.write(ctx, frame); err != nil {
			c.drop(v)
		}
	}
}

func (c *Channel) drop(v *viewer) {
	c.mu.Lock()
	delete(c.viewers, v)
	c.mu.Unlock()
	_ = v.conn.Close(websocket.StatusNormalClosure, "")
}

func (c *Channel) handleWS(w http.ResponseWriter, r *http.Request) {
	if !c.IsRunning() {
		http.Error(w, "channel not running", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("canvas accept failed", "channel", c.Name(), "error", err)
		return
	}
	v := &viewer{conn: conn}

	snapshot := protocol.CanvasState{
		Type:  protocol.CanvasTypeState,
		Items: toProtocolItems(c.state.Items()),
	}
	if err := v.write(c.runCtx, snapshot); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "state push failed")
		return
	}

	c.mu.Lock()
	c.viewers[v] = true
	c.mu.Unlock()

	// Viewers are read-only; the read loop just detects disconnect.
	go func() {
		defer c.drop(v)
		for {
			if _, _, err := conn.Read(c.runCtx); err != nil {
				return
			}
		}
	}()
}

func (c *Channel) handleState(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"items": toProtocolItems(c.state.Items())})
}
