package sessions

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/letsgohq/letsgo/internal/agent"
	"github.com/letsgohq/letsgo/internal/bus"
)

// Handle is the projection of one live session.
type Handle struct {
	RouteKey     string    `json:"route_key"`
	SessionID    string    `json:"session_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActive   time.Time `json:"last_active"`
	MessageCount int64     `json:"message_count"`
}

// session pairs a handle with the mutex that serializes its turns.
type session struct {
	mu     sync.Mutex // held for the whole backend call
	handle Handle
}

// Router owns the route-key → session map. Creation is lazy and
// at-most-once per key; turns within one session are strictly
// serialized, turns across sessions run concurrently.
type Router struct {
	mu       sync.Mutex
	sessions map[string]*session

	backend     agent.Backend
	agentID     string
	perThread   bool
	idleTimeout time.Duration
	sweepEvery  time.Duration
	now         func() time.Time
}

// Option configures a Router.
type Option func(*Router)

// WithNow overrides the clock (tests).
func WithNow(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// WithPerThreadSessions keys sessions by thread when messages carry one.
func WithPerThreadSessions() Option {
	return func(r *Router) { r.perThread = true }
}

// WithIdleTimeout sets the reaper's idle cutoff (0 disables reaping).
func WithIdleTimeout(d time.Duration) Option {
	return func(r *Router) { r.idleTimeout = d }
}

// WithSweepInterval sets how often the reaper runs.
func WithSweepInterval(d time.Duration) Option {
	return func(r *Router) { r.sweepEvery = d }
}

// NewRouter creates a session router forwarding to backend. agentID tags
// requests for multi-agent backends.
func NewRouter(backend agent.Backend, agentID string, opts ...Option) *Router {
	r := &Router{
		sessions:    make(map[string]*session),
		backend:     backend,
		agentID:     agentID,
		idleTimeout: 60 * time.Minute,
		sweepEvery:  5 * time.Minute,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route forwards the message to the backend within its session and
// returns the reply. On backend failure the session's last_active still
// advances but message_count does not.
func (r *Router) Route(ctx context.Context, msg bus.InboundMessage) (string, error) {
	key := KeyFor(msg, r.perThread)
	s := r.getOrCreate(key)

	// Serialize per session: one turn completes before the next starts.
	s.mu.Lock()
	defer s.mu.Unlock()

	reply, err := r.backend.Run(ctx, agent.Request{
		SessionID: s.handle.SessionID,
		RouteKey:  key,
		AgentID:   r.agentID,
		Message:   msg,
	})

	r.mu.Lock()
	// The handle may have been closed mid-call; touching the local copy
	// is still safe, it just won't be visible.
	if live, ok := r.sessions[key]; ok && live == s {
		now := r.now()
		if now.After(s.handle.LastActive) {
			s.handle.LastActive = now
		}
		if err == nil {
			s.handle.MessageCount++
		}
	}
	r.mu.Unlock()

	if err != nil {
		return "", err
	}
	return reply, nil
}

func (r *Router) getOrCreate(key string) *session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[key]; ok {
		return s
	}
	now := r.now()
	s := &session{handle: Handle{
		RouteKey:   key,
		SessionID:  uuid.NewString(),
		CreatedAt:  now,
		LastActive: now,
	}}
	r.sessions[key] = s
	slog.Debug("session created", "route_key", key, "session_id", s.handle.SessionID)
	return s
}

// ActiveSessions snapshots the live handles keyed by route key.
func (r *Router) ActiveSessions() map[string]Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]Handle, len(r.sessions))
	for key, s := range r.sessions {
		out[key] = s.handle
	}
	return out
}

// CloseSession destroys the handle for a route key. In-flight turns on
// that session finish against the detached handle.
func (r *Router) CloseSession(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[key]; !ok {
		return false
	}
	delete(r.sessions, key)
	slog.Info("session closed", "route_key", key)
	return true
}

// CloseAll drops every session (shutdown).
func (r *Router) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = make(map[string]*session)
}

// StartReaper launches the idle sweep until ctx is cancelled. Reaping
// removes handles from the map; it never interrupts an in-flight call.
func (r *Router) StartReaper(ctx context.Context) {
	if r.idleTimeout <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(r.sweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.reapIdle()
			}
		}
	}()
}

func (r *Router) reapIdle() {
	cutoff := r.now().Add(-r.idleTimeout)

	r.mu.Lock()
	var reaped []string
	for key, s := range r.sessions {
		if s.handle.LastActive.Before(cutoff) {
			delete(r.sessions, key)
			reaped = append(reaped, key)
		}
	}
	r.mu.Unlock()

	for _, key := range reaped {
		slog.Info("session reaped idle", "route_key", key)
	}
}
