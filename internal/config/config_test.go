package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Port != 18790 {
		t.Errorf("port = %d", cfg.Gateway.Port)
	}
	if cfg.Auth.Store != "file" || cfg.Auth.MaxPerMinute != 60 || cfg.Auth.CodeTTLSeconds != 300 {
		t.Errorf("auth defaults = %+v", cfg.Auth)
	}
	if cfg.Gateway.MaxReplyChars != 4000 {
		t.Errorf("max reply chars = %d", cfg.Gateway.MaxReplyChars)
	}
	if cfg.Admin.Enabled {
		t.Error("admin enabled by default")
	}
}

func TestLoadJSON5(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	// JSON5: comments and trailing commas are fine.
	doc := `{
		// local overrides
		gateway: { port: 9999, },
		channels: {
			"tg-main": { type: "telegram", token: "123:abc" },
		},
		auth: { max_messages_per_minute: 5 },
	}`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Port != 9999 {
		t.Errorf("port = %d", cfg.Gateway.Port)
	}
	if spec := cfg.Channels["tg-main"]; spec.Type != "telegram" || spec.Token != "123:abc" {
		t.Errorf("channel spec = %+v", spec)
	}
	if cfg.Auth.MaxPerMinute != 5 {
		t.Errorf("rate limit = %d", cfg.Auth.MaxPerMinute)
	}
	// Untouched sections keep their defaults.
	if cfg.Gateway.Host != "0.0.0.0" {
		t.Errorf("host = %q", cfg.Gateway.Host)
	}
}

func TestLoadRejectsBadSyntax(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not valid at all"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("malformed config should fail to load")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LETSGO_PORT", "7777")
	t.Setenv("LETSGO_BACKEND_URL", "http://localhost:5000")
	t.Setenv("LETSGO_AUTH_STORE", "sqlite")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Gateway.Port != 7777 {
		t.Errorf("port = %d", cfg.Gateway.Port)
	}
	if cfg.Backend.URL != "http://localhost:5000" {
		t.Errorf("backend url = %q", cfg.Backend.URL)
	}
	if cfg.Auth.Store != "sqlite" {
		t.Errorf("auth store = %q", cfg.Auth.Store)
	}
}

func TestAdminTokenEnvAutoEnables(t *testing.T) {
	t.Setenv("LETSGO_ADMIN_TOKEN", "hunter2")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Admin.Enabled || cfg.Admin.Token != "hunter2" {
		t.Fatalf("admin = %+v, want enabled with env token", cfg.Admin)
	}
}

func TestChannelCredentialEnvEnsuresInstance(t *testing.T) {
	t.Setenv("LETSGO_TELEGRAM_TOKEN", "123:abc")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatal(err)
	}
	spec, ok := cfg.Channels["telegram"]
	if !ok || spec.Type != "telegram" || spec.Token != "123:abc" {
		t.Fatalf("channels = %+v", cfg.Channels)
	}
}

func TestChannelCredentialEnvKeepsFileValue(t *testing.T) {
	t.Setenv("LETSGO_TELEGRAM_TOKEN", "env-token")
	path := filepath.Join(t.TempDir(), "config.json")
	doc := `{channels: {telegram: {type: "telegram", token: "file-token"}}}`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Channels["telegram"].Token != "file-token" {
		t.Fatalf("env var must not clobber an explicit instance: %+v", cfg.Channels["telegram"])
	}
}

func TestMaskedCopy(t *testing.T) {
	cfg := Default()
	cfg.Admin.Token = "secret"
	cfg.Database.PostgresDSN = "postgres://u:p@h/db"
	cfg.Channels = map[string]ChannelSpec{
		"tg":    {Type: "telegram", Token: "123:abc"},
		"slack": {Type: "slack", BotToken: "xoxb", AppToken: "xapp"},
		"wa":    {Type: "whatsapp", BridgeURL: "http://bridge:8080"},
	}

	masked := cfg.MaskedCopy()
	if masked.Admin.Token != "***" || masked.Database.PostgresDSN != "***" {
		t.Fatalf("secrets survived: %+v", masked.Admin)
	}
	if masked.Channels["tg"].Token != "***" {
		t.Error("telegram token survived")
	}
	if masked.Channels["slack"].BotToken != "***" || masked.Channels["slack"].AppToken != "***" {
		t.Error("slack tokens survived")
	}
	// Non-secret fields pass through.
	if masked.Channels["wa"].BridgeURL != "http://bridge:8080" {
		t.Error("bridge url should not be masked")
	}
	// Original untouched.
	if cfg.Admin.Token != "secret" {
		t.Error("MaskedCopy mutated the original")
	}
}

func TestHashChangesWithConfig(t *testing.T) {
	a := Default()
	b := Default()
	if a.Hash() != b.Hash() {
		t.Fatal("identical configs must hash the same")
	}
	b.Gateway.Port = 1
	if a.Hash() == b.Hash() {
		t.Fatal("hash must change with the config")
	}
}

func TestExpandHome(t *testing.T) {
	home, _ := os.UserHomeDir()
	tests := []struct {
		in   string
		want string
	}{
		{"~/.letsgo/config.json", home + "/.letsgo/config.json"},
		{"~", home},
		{"/etc/letsgo.json", "/etc/letsgo.json"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ExpandHome(tt.in); got != tt.want {
			t.Errorf("ExpandHome(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestResolveDefaultAgentID(t *testing.T) {
	cfg := Default()
	if got := cfg.ResolveDefaultAgentID(); got != DefaultAgentID {
		t.Errorf("no agents: %q", got)
	}
	cfg.Agents = map[string]AgentSpec{
		"alpha": {},
		"beta":  {Default: true},
	}
	if got := cfg.ResolveDefaultAgentID(); got != "beta" {
		t.Errorf("marked default: %q", got)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := Default()
	cfg.Gateway.Port = 4242

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "4242") {
		t.Fatal("saved config missing the override")
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loaded.Gateway.Port != 4242 {
		t.Fatalf("reloaded port = %d", loaded.Gateway.Port)
	}
}
