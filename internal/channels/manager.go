package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/letsgohq/letsgo/internal/bus"
)

// outboundRate caps per-channel sends so bursty replies don't trip
// platform limits (roughly one message per second with small bursts).
var outboundRate = rate.Limit(1)

const outboundBurst = 5

// Manager owns the adapter set: lifecycle, outbound dispatch, and
// status introspection.
type Manager struct {
	mu           sync.RWMutex
	channels     map[string]Channel
	limiters     map[string]*rate.Limiter
	bus          *bus.MessageBus
	dispatchStop context.CancelFunc
}

// NewManager creates a channel manager. Adapters are registered
// externally via RegisterChannel.
func NewManager(msgBus *bus.MessageBus) *Manager {
	return &Manager{
		channels: make(map[string]Channel),
		limiters: make(map[string]*rate.Limiter),
		bus:      msgBus,
	}
}

// RegisterChannel adds an adapter under its instance name.
func (m *Manager) RegisterChannel(name string, ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[name] = ch
	m.limiters[name] = rate.NewLimiter(outboundRate, outboundBurst)
}

// UnregisterChannel removes an adapter.
func (m *Manager) UnregisterChannel(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.channels, name)
	delete(m.limiters, name)
}

// Get returns an adapter by instance name.
func (m *Manager) Get(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// FindByType returns an adapter of the given type, if any is registered.
func (m *Manager) FindByType(channelType string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ch := range m.channels {
		if ch.Type() == channelType {
			return ch, true
		}
	}
	return nil, false
}

// StartAll starts every registered adapter and the outbound dispatch
// loop. A failed start is logged; the adapter stays registered (not
// running) so it can be stopped cleanly and retried on reload.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	dispatchCtx, cancel := context.WithCancel(ctx)
	m.dispatchStop = cancel
	go m.dispatchOutbound(dispatchCtx)

	channels := make(map[string]Channel, len(m.channels))
	for name, ch := range m.channels {
		channels[name] = ch
	}
	m.mu.Unlock()

	if len(channels) == 0 {
		slog.Warn("no channels configured")
		return nil
	}

	for name, ch := range channels {
		slog.Info("starting channel", "channel", name, "type", ch.Type())
		if err := ch.Start(ctx); err != nil {
			slog.Error("channel start failed", "channel", name, "error", err)
		}
	}
	return nil
}

// StopAll stops the dispatch loop and every adapter.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	if m.dispatchStop != nil {
		m.dispatchStop()
		m.dispatchStop = nil
	}
	channels := make(map[string]Channel, len(m.channels))
	for name, ch := range m.channels {
		channels[name] = ch
	}
	m.mu.Unlock()

	for name, ch := range channels {
		slog.Info("stopping channel", "channel", name)
		if err := ch.Stop(ctx); err != nil {
			slog.Error("channel stop failed", "channel", name, "error", err)
		}
	}
	return nil
}

// dispatchOutbound consumes outbound messages from the bus and delivers
// each through the target adapter, throttled per channel.
func (m *Manager) dispatchOutbound(ctx context.Context) {
	slog.Info("outbound dispatcher started")
	for {
		msg, ok := m.bus.SubscribeOutbound(ctx)
		if !ok {
			slog.Info("outbound dispatcher stopped")
			return
		}

		m.mu.RLock()
		ch, exists := m.channels[msg.ChannelName]
		limiter := m.limiters[msg.ChannelName]
		m.mu.RUnlock()

		if !exists {
			slog.Warn("outbound message for unknown channel", "channel", msg.ChannelName)
			continue
		}

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
		}

		if err := ch.Send(ctx, msg); err != nil {
			slog.Error("send failed", "channel", msg.ChannelName, "error", err)
		}
	}
}

// SendTo delivers a message directly to a named adapter, bypassing the
// bus (used by the heartbeat engine's delivery fallback).
func (m *Manager) SendTo(ctx context.Context, channelName, text string) error {
	m.mu.RLock()
	ch, exists := m.channels[channelName]
	m.mu.RUnlock()
	if !exists {
		return fmt.Errorf("channel %s not found", channelName)
	}
	return ch.Send(ctx, bus.OutboundMessage{
		Channel:     ch.Type(),
		ChannelName: channelName,
		Text:        text,
	})
}

// ChannelStatus is one adapter's status projection.
type ChannelStatus struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Running bool   `json:"is_running"`
}

// Statuses lists every adapter's status.
func (m *Manager) Statuses() []ChannelStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ChannelStatus, 0, len(m.channels))
	for name, ch := range m.channels {
		out = append(out, ChannelStatus{Name: name, Type: ch.Type(), Running: ch.IsRunning()})
	}
	return out
}

// Names lists registered instance names.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	return names
}
