package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/letsgohq/letsgo/internal/agent"
	"github.com/letsgohq/letsgo/internal/bus"
	"github.com/letsgohq/letsgo/internal/channels"
	"github.com/letsgohq/letsgo/internal/config"
	"github.com/letsgohq/letsgo/internal/gateway"
	"github.com/letsgohq/letsgo/internal/store"
	"github.com/letsgohq/letsgo/internal/store/file"
)

const testToken = "sekrit"

func testDaemon(t *testing.T, mutate func(*config.Config)) (*gateway.Daemon, *config.Config) {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.FilesDir = filepath.Join(dir, "files")
	cfg.Admin.Enabled = true
	cfg.Admin.Token = testToken
	if mutate != nil {
		mutate(cfg)
	}

	pairing, err := file.NewPairingStore(filepath.Join(dir, "pairing.json"), store.PairingOptions{})
	if err != nil {
		t.Fatal(err)
	}
	cronStore, err := file.NewCronStore(filepath.Join(dir, "jobs.json"), filepath.Join(dir, "cron.log"))
	if err != nil {
		t.Fatal(err)
	}

	backend := agent.BackendFunc(func(context.Context, agent.Request) (string, error) {
		return "ok", nil
	})
	d := gateway.New(cfg, &store.Stores{Pairing: pairing, Cron: cronStore}, backend, channels.NewRegistry())
	return d, cfg
}

func adminRequest(method, path, token string, body string) *http.Request {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestAdminRejectsBadToken(t *testing.T) {
	d, cfg := testDaemon(t, nil)
	mux := NewServer(cfg, d).Mux()

	tests := []struct {
		name  string
		token string
	}{
		{"missing token", ""},
		{"wrong token", "not-the-token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, adminRequest("GET", "/admin/api/sessions", tt.token, ""))
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rec.Code)
			}
			if rec.Header().Get("WWW-Authenticate") != "Bearer" {
				t.Fatalf("WWW-Authenticate = %q", rec.Header().Get("WWW-Authenticate"))
			}
		})
	}
}

func TestAdminSessions(t *testing.T) {
	d, cfg := testDaemon(t, nil)
	mux := NewServer(cfg, d).Mux()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, adminRequest("GET", "/admin/api/sessions", testToken, ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Sessions map[string]json.RawMessage `json:"sessions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestAdminCloseSession(t *testing.T) {
	d, cfg := testDaemon(t, nil)
	mux := NewServer(cfg, d).Mux()

	// Heartbeat senders skip pairing, so one message opens a session.
	msg := bus.InboundMessage{
		Channel:     "webchat",
		ChannelName: "webchat-main",
		SenderID:    "heartbeat:main",
		Text:        "hi",
		Timestamp:   time.Now(),
	}
	if _, err := d.OnMessage(context.Background(), msg); err != nil {
		t.Fatal(err)
	}

	var key string
	for k := range d.ActiveSessions() {
		key = k
	}
	if key == "" {
		t.Fatal("no session opened")
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, adminRequest("DELETE", "/admin/api/sessions/"+key, testToken, ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("close status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, adminRequest("DELETE", "/admin/api/sessions/"+key, testToken, ""))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second close status = %d, want 404", rec.Code)
	}
}

func TestAdminBlockUnblock(t *testing.T) {
	d, cfg := testDaemon(t, nil)
	mux := NewServer(cfg, d).Mux()
	ctx := context.Background()

	if _, err := d.Pairing().RequestPairing(ctx, "u1", "telegram", "tg-main", ""); err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, adminRequest("POST", "/admin/api/senders/u1/block", testToken, `{"channel":"telegram"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("block status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if status, _, _ := d.Pairing().SenderStatus(ctx, "u1", "telegram"); status != store.StatusBlocked {
		t.Fatalf("status after block = %s", status)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, adminRequest("POST", "/admin/api/senders/u1/unblock", testToken, `{"channel":"telegram"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("unblock status = %d", rec.Code)
	}
	if status, _, _ := d.Pairing().SenderStatus(ctx, "u1", "telegram"); status != store.StatusApproved {
		t.Fatalf("status after unblock = %s", status)
	}
}

func TestAdminBlockRequiresChannel(t *testing.T) {
	d, cfg := testDaemon(t, nil)
	mux := NewServer(cfg, d).Mux()

	tests := []struct {
		name string
		body string
	}{
		{"empty body", ""},
		{"missing channel", `{}`},
		{"invalid json", `{nope`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, adminRequest("POST", "/admin/api/senders/u1/block", testToken, tt.body))
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestAdminUsage(t *testing.T) {
	d, cfg := testDaemon(t, nil)
	mux := NewServer(cfg, d).Mux()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, adminRequest("GET", "/admin/api/usage", testToken, ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, field := range []string{"uptime_seconds", "total_messages", "session_count", "senders_by_status"} {
		if _, ok := resp[field]; !ok {
			t.Errorf("usage payload missing %q", field)
		}
	}
}

func TestAdminAgentsDefault(t *testing.T) {
	d, cfg := testDaemon(t, func(cfg *config.Config) {
		cfg.Agents = map[string]config.AgentSpec{
			"main":  {Default: true},
			"other": {},
		}
	})
	mux := NewServer(cfg, d).Mux()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, adminRequest("GET", "/admin/api/agents", testToken, ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Agents []struct {
			ID      string `json:"id"`
			Default bool   `json:"default"`
		} `json:"agents"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Agents) != 2 {
		t.Fatalf("agents = %d, want 2", len(resp.Agents))
	}
	for _, a := range resp.Agents {
		if a.Default != (a.ID == "main") {
			t.Errorf("agent %s default = %v", a.ID, a.Default)
		}
	}
}

func TestAdminFailClosed(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"disabled", func(cfg *config.Config) { cfg.Admin.Enabled = false }},
		{"no token", func(cfg *config.Config) { cfg.Admin.Token = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, cfg := testDaemon(t, tt.mutate)
			mux := NewServer(cfg, d).Mux()

			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, adminRequest("GET", "/admin/api/usage", testToken, ""))
			if rec.Code != http.StatusNotFound {
				t.Fatalf("admin route mounted anyway, status = %d", rec.Code)
			}

			rec = httptest.NewRecorder()
			mux.ServeHTTP(rec, adminRequest("GET", "/healthz", "", ""))
			if rec.Code != http.StatusOK {
				t.Fatalf("healthz status = %d", rec.Code)
			}
		})
	}
}
