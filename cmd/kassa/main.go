package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kassa/pkg/app"

	"github.com/vmkteam/embedlog"
	"gopkg.in/yaml.v3"
)

const appName = "kassa"

var (
	flConfigPath = flag.String("config", "config.yaml", "path to config file")
	flVerbose    = flag.Bool("verbose", false, "enable debug output")
	flJSONLogs   = flag.Bool("json", false, "enable json output")
)

func main() {
	flag.Parse()

	sl := embedlog.NewLogger(*flJSONLogs, *flVerbose)
	slog.SetDefault(sl.Log())
	ctx := context.Background()

	cfg, err := readConfig(*flConfigPath)
	exitOnError(ctx, sl, "failed to read config", err)

	a, err := app.New(ctx, appName, sl, *cfg)
	exitOnError(ctx, sl, "failed to create app", err)

	// graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		sl.Print(ctx, "shutting down", "app", appName)
		if err := a.Shutdown(5 * time.Second); err != nil {
			sl.Error(ctx, "shutdown failed", "err", err)
		}
	}()

	if err := a.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		exitOnError(ctx, sl, "server error", err)
	}
}

// readConfig loads the YAML config, with the bot token and webhook secret
// overridable from the environment so they can stay out of the file.
func readConfig(path string) (*app.Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &app.Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("bad config %s: %w", path, err)
	}

	if v := os.Getenv("TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("TELEGRAM_WEBHOOK_SECRET"); v != "" {
		cfg.Telegram.WebhookSecret = v
	}

	if cfg.Ledger.SpreadsheetID == "" {
		return nil, errors.New("ledger.spreadsheet_id is required")
	}
	if cfg.Ledger.OpsSheet == "" || cfg.Ledger.LogSheet == "" {
		return nil, errors.New("ledger.ops_sheet and ledger.log_sheet are required")
	}

	return cfg, nil
}

func exitOnError(ctx context.Context, sl embedlog.Logger, msg string, err error) {
	if err != nil {
		sl.Error(ctx, msg, "err", err)
		os.Exit(1)
	}
}
