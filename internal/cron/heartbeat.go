package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/letsgohq/letsgo/internal/bus"
	"github.com/letsgohq/letsgo/internal/sessions"
)

// defaultHeartbeatPrompt is the synthetic message body when a job
// carries no recipe text.
const defaultHeartbeatPrompt = "heartbeat: check in and act on anything pending"

// Pipeline runs one inbound message through the gateway pipeline and
// returns the reply.
type Pipeline func(ctx context.Context, msg bus.InboundMessage) (string, error)

// TargetResolver returns the channel instances a given agent's
// heartbeats should appear on.
type TargetResolver func(agentID string) []string

// Heartbeat synthesizes scheduled inbound messages so the agent backend
// can run self-initiated turns. Each beat flows through the same
// pipeline as real traffic under the synthetic sender
// "heartbeat:{agent_id}".
type Heartbeat struct {
	pipeline Pipeline
	targets  TargetResolver
	now      func() time.Time

	mu          sync.Mutex
	history     []Execution
	lastResults map[string]Execution
}

// NewHeartbeat creates the heartbeat engine.
func NewHeartbeat(pipeline Pipeline, targets TargetResolver) *Heartbeat {
	return &Heartbeat{
		pipeline:    pipeline,
		targets:     targets,
		now:         time.Now,
		lastResults: make(map[string]Execution),
	}
}

// Beat runs one heartbeat for an agent. prompt may be empty. The first
// configured target channel carries the synthetic message; with no
// targets the beat is skipped.
func (h *Heartbeat) Beat(ctx context.Context, agentID, prompt string) (string, error) {
	channels := h.targets(agentID)
	if len(channels) == 0 {
		slog.Debug("heartbeat skipped, no target channels", "agent", agentID)
		return "", nil
	}
	if prompt == "" {
		prompt = defaultHeartbeatPrompt
	}

	startedAt := h.now()
	target := channels[0]

	msg := bus.InboundMessage{
		Channel:     "heartbeat",
		ChannelName: target,
		SenderID:    sessions.HeartbeatSenderID(agentID),
		SenderLabel: "heartbeat",
		Text:        prompt,
		Timestamp:   startedAt,
	}

	reply, err := h.pipeline(ctx, msg)

	exec := Execution{
		JobName:   "heartbeat",
		AgentID:   agentID,
		StartedAt: startedAt,
		Duration:  h.now().Sub(startedAt),
		Status:    "ok",
		Result:    reply,
	}
	if err != nil {
		exec.Status = "failed"
		exec.Error = err.Error()
	}

	h.mu.Lock()
	h.history = append(h.history, exec)
	if len(h.history) > historySize {
		h.history = h.history[len(h.history)-historySize:]
	}
	h.lastResults[agentID] = exec
	h.mu.Unlock()

	if err != nil {
		return "", fmt.Errorf("heartbeat for %s: %w", agentID, err)
	}
	return reply, nil
}

// History returns recent heartbeat executions, oldest first.
func (h *Heartbeat) History() []Execution {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Execution(nil), h.history...)
}

// LastResult returns the most recent execution for an agent.
func (h *Heartbeat) LastResult(agentID string) (Execution, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	exec, ok := h.lastResults[agentID]
	return exec, ok
}
