// Package config holds the daemon configuration document: channel
// instances, auth/pairing settings, cron jobs, the admin surface, and
// the ambient gateway/backend/telemetry knobs.
package config

import (
	"sync"

	"github.com/letsgohq/letsgo/internal/store"
)

// Config is the root configuration document. Unknown keys in the file
// are ignored so older daemons tolerate newer configs.
type Config struct {
	mu sync.RWMutex

	Channels  map[string]ChannelSpec `json:"channels,omitempty"`
	Auth      AuthConfig             `json:"auth"`
	Cron      CronConfig             `json:"cron"`
	FilesDir  string                 `json:"files_dir,omitempty"`
	Admin     AdminConfig            `json:"admin"`
	Agents    map[string]AgentSpec   `json:"agents,omitempty"`
	Gateway   GatewayConfig          `json:"gateway"`
	Backend   BackendConfig          `json:"backend"`
	Database  DatabaseConfig         `json:"database"`
	Tailscale TailscaleConfig        `json:"tailscale"`
	Telemetry TelemetryConfig        `json:"telemetry"`
}

// ChannelSpec configures one channel instance. Type selects the adapter
// factory; the remaining fields are a union of what the built-in
// adapters need, each reading only its own.
type ChannelSpec struct {
	Type string `json:"type"`

	// Bot credentials (telegram, discord).
	Token string `json:"token,omitempty"`

	// Slack Socket Mode.
	BotToken string `json:"bot_token,omitempty"`
	AppToken string `json:"app_token,omitempty"`

	// WhatsApp bridge endpoint.
	BridgeURL string `json:"bridge_url,omitempty"`

	// Webhook mount path and reply target.
	Path     string `json:"path,omitempty"`
	ReplyURL string `json:"reply_url,omitempty"`

	// Per-instance overrides.
	MaxReplyChars int      `json:"max_reply_chars,omitempty"`
	AllowFrom     []string `json:"allow_from,omitempty"`
}

// AuthConfig tunes the pairing store.
type AuthConfig struct {
	Store             string `json:"store,omitempty"` // file (default) | sqlite | postgres
	PairingDBPath     string `json:"pairing_db_path,omitempty"`
	MaxPerMinute      int    `json:"max_messages_per_minute,omitempty"`
	CodeTTLSeconds    int    `json:"code_ttl_seconds,omitempty"`
}

// CronConfig declares the run log and statically configured jobs.
// Jobs added at runtime live in the cron store.
type CronConfig struct {
	LogPath string          `json:"log_path,omitempty"`
	Jobs    []store.CronJob `json:"jobs,omitempty"`
}

// AdminConfig gates the admin surface. The surface mounts only when
// Enabled is true and Token is non-empty.
type AdminConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"`
}

// AgentSpec describes one configured agent.
type AgentSpec struct {
	Workspace         string   `json:"workspace,omitempty"`
	HeartbeatChannels []string `json:"heartbeat_channels,omitempty"`
	Default           bool     `json:"default,omitempty"`
}

// GatewayConfig tunes the HTTP listener and reply handling.
type GatewayConfig struct {
	Host             string `json:"host,omitempty"`
	Port             int    `json:"port,omitempty"`
	MaxReplyChars    int    `json:"max_reply_chars,omitempty"`
	ShutdownGraceSec int    `json:"shutdown_grace_seconds,omitempty"`
	SessionIdleMin   int    `json:"session_idle_minutes,omitempty"`
}

// BackendConfig points at the agent backend the router forwards to.
type BackendConfig struct {
	URL            string `json:"url,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// DatabaseConfig selects the relational backends.
type DatabaseConfig struct {
	PostgresDSN string `json:"postgres_dsn,omitempty"`
	SQLitePath  string `json:"sqlite_path,omitempty"`
}

// TailscaleConfig enables the optional tsnet listener.
type TailscaleConfig struct {
	Hostname string `json:"hostname,omitempty"`
	AuthKey  string `json:"auth_key,omitempty"`
	StateDir string `json:"state_dir,omitempty"`
}

// TelemetryConfig enables OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint,omitempty"`
	Protocol    string `json:"protocol,omitempty"` // grpc | http
	ServiceName string `json:"service_name,omitempty"`
	Insecure    bool   `json:"insecure,omitempty"`
}

// DefaultAgentID is the fallback agent when none is marked default.
const DefaultAgentID = "main"

// ResolveDefaultAgentID returns the agent marked default, or "main".
func (c *Config) ResolveDefaultAgentID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for id, spec := range c.Agents {
		if spec.Default {
			return id
		}
	}
	return DefaultAgentID
}

// AgentIDs returns the configured agent ids (at least the default).
func (c *Config) AgentIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.Agents) == 0 {
		return []string{DefaultAgentID}
	}
	ids := make([]string, 0, len(c.Agents))
	for id := range c.Agents {
		ids = append(ids, id)
	}
	return ids
}

// HeartbeatChannels returns the configured heartbeat targets for an agent.
func (c *Config) HeartbeatChannels(agentID string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if spec, ok := c.Agents[agentID]; ok {
		return spec.HeartbeatChannels
	}
	return nil
}
