// Package agent defines the contract with the conversational agent
// backend the gateway fronts. The backend itself is an external
// collaborator; the gateway only needs a handler that turns an inbound
// message into a reply within a session.
package agent

import (
	"context"

	"github.com/letsgohq/letsgo/internal/bus"
)

// Request is one conversational turn forwarded to the backend.
type Request struct {
	SessionID string             `json:"session_id"`
	RouteKey  string             `json:"route_key"`
	AgentID   string             `json:"agent_id,omitempty"`
	Message   bus.InboundMessage `json:"message"`
}

// Backend produces a reply for a request. Implementations own their own
// timeouts; the router does not impose one beyond ctx.
type Backend interface {
	Run(ctx context.Context, req Request) (reply string, err error)
}

// BackendFunc adapts a function to the Backend interface.
type BackendFunc func(ctx context.Context, req Request) (string, error)

func (f BackendFunc) Run(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}
