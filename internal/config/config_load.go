package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Auth: AuthConfig{
			Store:          "file",
			PairingDBPath:  "~/.letsgo/pairing.json",
			MaxPerMinute:   60,
			CodeTTLSeconds: 300,
		},
		Cron: CronConfig{
			LogPath: "~/.letsgo/cron.log",
		},
		FilesDir: "~/.letsgo/files",
		Gateway: GatewayConfig{
			Host:             "0.0.0.0",
			Port:             18790,
			MaxReplyChars:    4000,
			ShutdownGraceSec: 10,
			SessionIdleMin:   60,
		},
		Backend: BackendConfig{
			TimeoutSeconds: 120,
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "letsgo",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("LETSGO_ADMIN_TOKEN", &c.Admin.Token)
	if c.Admin.Token != "" && os.Getenv("LETSGO_ADMIN_TOKEN") != "" {
		c.Admin.Enabled = true
	}

	envStr("LETSGO_BACKEND_URL", &c.Backend.URL)
	envStr("LETSGO_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("LETSGO_SQLITE_PATH", &c.Database.SQLitePath)
	envStr("LETSGO_AUTH_STORE", &c.Auth.Store)
	envStr("LETSGO_FILES_DIR", &c.FilesDir)

	envStr("LETSGO_HOST", &c.Gateway.Host)
	if v := os.Getenv("LETSGO_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}

	// Credentials via env auto-enable a default instance of that type.
	if v := os.Getenv("LETSGO_TELEGRAM_TOKEN"); v != "" {
		c.ensureChannel("telegram", ChannelSpec{Type: "telegram", Token: v})
	}
	if v := os.Getenv("LETSGO_DISCORD_TOKEN"); v != "" {
		c.ensureChannel("discord", ChannelSpec{Type: "discord", Token: v})
	}
	if bot, app := os.Getenv("LETSGO_SLACK_BOT_TOKEN"), os.Getenv("LETSGO_SLACK_APP_TOKEN"); bot != "" && app != "" {
		c.ensureChannel("slack", ChannelSpec{Type: "slack", BotToken: bot, AppToken: app})
	}
	if v := os.Getenv("LETSGO_WHATSAPP_BRIDGE_URL"); v != "" {
		c.ensureChannel("whatsapp", ChannelSpec{Type: "whatsapp", BridgeURL: v})
	}

	envStr("LETSGO_TSNET_HOSTNAME", &c.Tailscale.Hostname)
	envStr("LETSGO_TSNET_AUTH_KEY", &c.Tailscale.AuthKey)
	envStr("LETSGO_TSNET_DIR", &c.Tailscale.StateDir)

	envStr("LETSGO_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("LETSGO_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("LETSGO_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("LETSGO_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
}

func (c *Config) ensureChannel(name string, spec ChannelSpec) {
	if c.Channels == nil {
		c.Channels = make(map[string]ChannelSpec)
	}
	if _, exists := c.Channels[name]; !exists {
		c.Channels[name] = spec
	}
}

// Save writes the config to a JSON file.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// Hash returns a short SHA-256 hash of the config for change detection.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

const secretMask = "***"

// MaskedCopy returns a deep copy with secret fields masked, for the
// admin surface and logs.
func (c *Config) MaskedCopy() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, err := json.Marshal(c)
	if err != nil {
		return &Config{}
	}
	cp := Default()
	if err := json.Unmarshal(data, cp); err != nil {
		return &Config{}
	}

	maskNonEmpty(&cp.Admin.Token)
	maskNonEmpty(&cp.Database.PostgresDSN)
	maskNonEmpty(&cp.Tailscale.AuthKey)
	for name, spec := range cp.Channels {
		maskNonEmpty(&spec.Token)
		maskNonEmpty(&spec.BotToken)
		maskNonEmpty(&spec.AppToken)
		cp.Channels[name] = spec
	}
	return cp
}

func maskNonEmpty(s *string) {
	if *s != "" {
		*s = secretMask
	}
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
