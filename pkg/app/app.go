package app

import (
	"context"
	"time"

	"kassa/pkg/kassa"
	"kassa/pkg/ledger"
	"kassa/pkg/telegram"

	"github.com/labstack/echo/v4"
	"github.com/vmkteam/appkit"
	"github.com/vmkteam/embedlog"
)

type Config struct {
	Server struct {
		Host    string `yaml:"host"`
		Port    int    `yaml:"port"`
		IsDevel bool   `yaml:"is_devel"`
	} `yaml:"server"`
	Telegram struct {
		Token         string  `yaml:"token"`
		Debug         bool    `yaml:"debug"`
		WebhookURL    string  `yaml:"webhook_url"`
		WebhookSecret string  `yaml:"webhook_secret"`
		AllowedUsers  []int64 `yaml:"allowed_users"`
	} `yaml:"telegram"`
	Ledger ledger.Config `yaml:"ledger"`
	Dedup  struct {
		IDTTLMinutes         int  `yaml:"id_ttl_minutes"`
		ContentWindowSeconds int  `yaml:"content_window_seconds"`
		Durable              bool `yaml:"durable"`
	} `yaml:"dedup"`
	Session struct {
		TTLMinutes int `yaml:"ttl_minutes"`
	} `yaml:"session"`
	Catalogs kassa.Catalogs `yaml:"catalogs"`
}

type App struct {
	embedlog.Logger
	appName string
	cfg     Config
	echo    *echo.Echo
	lc      *ledger.SheetsClient
	manager *kassa.Manager
	tgBot   *telegram.Bot
}

func New(ctx context.Context, appName string, sl embedlog.Logger, cfg Config) (*App, error) {
	a := &App{
		appName: appName,
		cfg:     cfg,
		echo:    appkit.NewEcho(),
		Logger:  sl,
	}

	lc, err := ledger.NewSheetsClient(ctx, cfg.Ledger, sl)
	if err != nil {
		return nil, err
	}
	a.lc = lc

	guard := kassa.NewGuard(
		time.Duration(cfg.Dedup.IDTTLMinutes)*time.Minute,
		time.Duration(cfg.Dedup.ContentWindowSeconds)*time.Second,
	)
	journal := kassa.NewSheetsJournal(lc, cfg.Ledger.LogSheet)

	a.manager = kassa.NewManager(lc, journal, guard,
		kassa.DefaultCatalogs().Merge(cfg.Catalogs),
		kassa.Config{
			OpsSheet:     cfg.Ledger.OpsSheet,
			ScanTail:     cfg.Ledger.ScanTail,
			DurableDedup: cfg.Dedup.Durable,
		}, sl)

	if cfg.Telegram.Token != "" {
		tgBot, err := telegram.New(ctx, telegram.Config{
			Token:         cfg.Telegram.Token,
			Debug:         cfg.Telegram.Debug,
			WebhookURL:    cfg.Telegram.WebhookURL,
			WebhookSecret: cfg.Telegram.WebhookSecret,
			AllowedUsers:  cfg.Telegram.AllowedUsers,
			SessionTTL:    time.Duration(cfg.Session.TTLMinutes) * time.Minute,
		}, a.manager, sl)
		if err != nil {
			return nil, err
		}
		a.tgBot = tgBot
	}

	return a, nil
}

// Run is a function that runs application.
func (a *App) Run(ctx context.Context) error {
	a.registerMetrics()
	a.registerHandlers()
	a.registerDebugHandlers()
	a.registerMetadata()

	// Start Telegram bot if configured
	if a.tgBot != nil {
		go func() {
			if err := a.tgBot.Start(ctx); err != nil {
				a.Error(ctx, "telegram bot error", "err", err)
			}
		}()
	}

	return a.runHTTPServer(ctx, a.cfg.Server.Host, a.cfg.Server.Port)
}

// Shutdown is a function that gracefully stops HTTP server.
func (a *App) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Stop Telegram bot
	if a.tgBot != nil {
		a.tgBot.Stop(ctx)
	}

	return a.echo.Shutdown(ctx)
}

// registerMetadata is a function that registers meta info from service.
func (a *App) registerMetadata() {
	services := []appkit.ServiceMetadata{}
	if a.tgBot != nil {
		// Telegram bot runs asynchronously in a separate goroutine
		services = append(services, appkit.NewServiceMetadata("telegram-bot", appkit.MetadataServiceTypeAsync))
	}

	opts := appkit.MetadataOpts{
		HasPublicAPI:  false, // only the Telegram webhook
		HasPrivateAPI: false,
		Services:      services,
	}

	md := appkit.NewMetadataManager(opts)
	md.RegisterMetrics()

	a.echo.GET("/debug/metadata", md.Handler)
}
