package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"sort"
	"time"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/letsgohq/letsgo/internal/config"
	"github.com/letsgohq/letsgo/internal/store/pg"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the local setup: config, stores, channels, backend",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Printf("letsgo %s (%s/%s, %s)\n\n", Version, runtime.GOOS, runtime.GOARCH, runtime.Version())

	cfgPath := resolveConfigPath()
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Printf("config:   NOT FOUND (%s)\n", cfgPath)
		fmt.Println("          run the gateway once or create the file to get started")
		return
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("config:   INVALID (%s): %v\n", cfgPath, err)
		return
	}
	fmt.Printf("config:   OK (%s)\n", cfgPath)

	checkStore(cfg)
	checkChannels(cfg)
	checkBackend(cfg)
	checkAdmin(cfg)
}

func checkStore(cfg *config.Config) {
	switch cfg.Auth.Store {
	case "", "file":
		path := config.ExpandHome(cfg.Auth.PairingDBPath)
		dir := path
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			fmt.Printf("store:    file OK (%s)\n", path)
			return
		}
		fmt.Printf("store:    file (%s, will be created on first run)\n", dir)

	case "sqlite":
		path := config.ExpandHome(cfg.Database.SQLitePath)
		if path == "" {
			path = config.ExpandHome("~/.letsgo/letsgo.db")
		}
		if _, err := os.Stat(path); err == nil {
			fmt.Printf("store:    sqlite OK (%s)\n", path)
		} else {
			fmt.Printf("store:    sqlite (%s, will be created on first run)\n", path)
		}

	case "postgres":
		dsn := cfg.Database.PostgresDSN
		if dsn == "" {
			fmt.Println("store:    postgres MISCONFIGURED (database.postgres_dsn is empty)")
			return
		}
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			fmt.Printf("store:    postgres UNREACHABLE: %v\n", err)
			return
		}
		defer db.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			fmt.Printf("store:    postgres UNREACHABLE: %v\n", err)
			return
		}
		status, err := pg.CheckSchema(db)
		if err != nil {
			fmt.Printf("store:    postgres OK, schema check failed: %v\n", err)
			return
		}
		if status.Compatible {
			fmt.Printf("store:    postgres OK (schema v%d)\n", status.CurrentVersion)
		} else {
			fmt.Printf("store:    postgres OK, SCHEMA: %s\n", status.Advice())
		}

	default:
		fmt.Printf("store:    UNKNOWN backend %q\n", cfg.Auth.Store)
	}
}

func checkChannels(cfg *config.Config) {
	if len(cfg.Channels) == 0 {
		fmt.Println("channels: none configured")
		return
	}
	names := make([]string, 0, len(cfg.Channels))
	for name := range cfg.Channels {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		spec := cfg.Channels[name]
		status := "OK"
		switch spec.Type {
		case "telegram", "discord":
			if spec.Token == "" {
				status = "MISSING token"
			}
		case "slack":
			if spec.BotToken == "" || spec.AppToken == "" {
				status = "MISSING bot_token or app_token"
			}
		case "whatsapp":
			if spec.BridgeURL == "" {
				status = "MISSING bridge_url"
			}
		case "webhook", "webchat", "canvas":
			// No credentials needed.
		default:
			status = fmt.Sprintf("unknown type %q (external plugin?)", spec.Type)
		}
		fmt.Printf("channel:  %-12s %-10s %s\n", name, spec.Type, status)
	}
}

func checkBackend(cfg *config.Config) {
	if cfg.Backend.URL == "" {
		fmt.Println("backend:  NOT SET (backend.url)")
		return
	}
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Head(cfg.Backend.URL)
	if err != nil {
		fmt.Printf("backend:  UNREACHABLE (%s): %v\n", cfg.Backend.URL, err)
		return
	}
	resp.Body.Close()
	fmt.Printf("backend:  OK (%s)\n", cfg.Backend.URL)
}

func checkAdmin(cfg *config.Config) {
	switch {
	case !cfg.Admin.Enabled:
		fmt.Println("admin:    disabled")
	case cfg.Admin.Token == "":
		fmt.Println("admin:    enabled but token is empty, surface will NOT mount")
	default:
		fmt.Println("admin:    enabled")
	}
}
