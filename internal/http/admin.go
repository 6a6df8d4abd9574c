// Package http serves the gateway's HTTP surface: the admin control
// plane, health checks, and the channel-provided routes (webchat,
// canvas, webhooks).
package http

import (
	"context"
	"embed"
	"encoding/json"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/letsgohq/letsgo/internal/config"
	"github.com/letsgohq/letsgo/internal/gateway"
	"github.com/letsgohq/letsgo/internal/store"
)

//go:embed dashboard
var dashboardFS embed.FS

// AdminHandler exposes live introspection and mutation over the daemon.
// It mounts only when an admin token is configured; with no token the
// routes do not exist at all.
type AdminHandler struct {
	daemon *gateway.Daemon
	cfg    *config.Config
	token  string
}

// NewAdminHandler creates the admin surface bound to a daemon.
func NewAdminHandler(daemon *gateway.Daemon, cfg *config.Config) *AdminHandler {
	return &AdminHandler{daemon: daemon, cfg: cfg, token: cfg.Admin.Token}
}

// RegisterRoutes mounts the admin routes. Callers must check
// cfg.Admin.Enabled and a non-empty token first; mounting is the
// authorization boundary.
func (h *AdminHandler) RegisterRoutes(mux *http.ServeMux) {
	dashboard, _ := fs.Sub(dashboardFS, "dashboard")
	mux.Handle("GET /admin/", h.auth(http.StripPrefix("/admin/", http.FileServerFS(dashboard)).ServeHTTP))

	mux.HandleFunc("GET /admin/api/sessions", h.auth(h.handleSessions))
	mux.HandleFunc("DELETE /admin/api/sessions/{key}", h.auth(h.handleCloseSession))
	mux.HandleFunc("GET /admin/api/channels", h.auth(h.handleChannels))
	mux.HandleFunc("GET /admin/api/senders", h.auth(h.handleSenders))
	mux.HandleFunc("POST /admin/api/senders/{id}/block", h.auth(h.handleBlock))
	mux.HandleFunc("POST /admin/api/senders/{id}/unblock", h.auth(h.handleUnblock))
	mux.HandleFunc("GET /admin/api/cron", h.auth(h.handleCron))
	mux.HandleFunc("GET /admin/api/usage", h.auth(h.handleUsage))
	mux.HandleFunc("GET /admin/api/agents", h.auth(h.handleAgents))
}

// auth enforces the bearer token on every admin route.
func (h *AdminHandler) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if extractBearerToken(r) != h.token {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

func (h *AdminHandler) handleSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": h.daemon.ActiveSessions()})
}

func (h *AdminHandler) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if !h.daemon.CloseSession(key) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed", "route_key": key})
}

func (h *AdminHandler) handleChannels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"channels": h.daemon.Manager().Statuses()})
}

func (h *AdminHandler) handleSenders(w http.ResponseWriter, r *http.Request) {
	senders, err := h.daemon.Pairing().AllSenders(r.Context(), r.URL.Query().Get("channel"))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if senders == nil {
		senders = []store.SenderRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"senders": senders})
}

// senderActionBody supplies the channel type for block/unblock.
type senderActionBody struct {
	Channel string `json:"channel"`
}

func (h *AdminHandler) handleBlock(w http.ResponseWriter, r *http.Request) {
	h.senderAction(w, r, h.daemon.Pairing().BlockSender, "blocked")
}

func (h *AdminHandler) handleUnblock(w http.ResponseWriter, r *http.Request) {
	h.senderAction(w, r, h.daemon.Pairing().UnblockSender, "approved")
}

func (h *AdminHandler) senderAction(w http.ResponseWriter, r *http.Request,
	action func(ctx context.Context, senderID, channel string) error, result string) {
	senderID := r.PathValue("id")

	var body senderActionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Channel == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "channel is required"})
		return
	}

	if err := action(r.Context(), senderID, body.Channel); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": result, "sender_id": senderID})
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(auth, prefix))
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *AdminHandler) handleCron(w http.ResponseWriter, _ *http.Request) {
	jobs := h.daemon.Scheduler().Jobs()
	if jobs == nil {
		jobs = []store.CronJob{}
	}
	heartbeats := h.daemon.HeartbeatEngine().History()
	if len(heartbeats) > 20 {
		heartbeats = heartbeats[len(heartbeats)-20:]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":       jobs,
		"heartbeats": heartbeats,
	})
}

func (h *AdminHandler) handleUsage(w http.ResponseWriter, r *http.Request) {
	senders, err := h.daemon.Pairing().AllSenders(r.Context(), "")
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	byStatus := map[string]int{}
	for _, s := range senders {
		byStatus[string(s.Status)]++
	}

	statuses := h.daemon.Manager().Statuses()
	running := 0
	for _, st := range statuses {
		if st.Running {
			running++
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"uptime_seconds":    int64(time.Since(h.daemon.StartedAt()).Seconds()),
		"total_messages":    h.daemon.TotalMessages(),
		"session_count":     len(h.daemon.ActiveSessions()),
		"senders_by_status": byStatus,
		"channel_count":     len(statuses),
		"channels_running":  running,
	})
}

// agentView is the admin projection of one configured agent.
type agentView struct {
	ID                string   `json:"id"`
	Workspace         string   `json:"workspace,omitempty"`
	HeartbeatChannels []string `json:"heartbeat_channels,omitempty"`
	Default           bool     `json:"default"`
}

func (h *AdminHandler) handleAgents(w http.ResponseWriter, _ *http.Request) {
	defaultID := h.cfg.ResolveDefaultAgentID()
	agents := make([]agentView, 0, len(h.cfg.Agents))
	for id, spec := range h.cfg.Agents {
		agents = append(agents, agentView{
			ID:                id,
			Workspace:         spec.Workspace,
			HeartbeatChannels: spec.HeartbeatChannels,
			Default:           id == defaultID,
		})
	}
	if len(agents) == 0 {
		agents = append(agents, agentView{ID: defaultID, Default: true})
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": agents})
}
