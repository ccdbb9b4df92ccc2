package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"kassa/pkg/kassa"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/vmkteam/embedlog"
)

type Bot struct {
	api      *bot.Bot
	logger   embedlog.Logger
	kassa    *kassa.Manager
	sessions *SessionManager
	allowed  map[int64]bool
	debug    bool

	webhookURL    string
	webhookSecret string
}

type Config struct {
	Token         string
	Debug         bool
	WebhookURL    string
	WebhookSecret string
	// AllowedUsers restricts the bot to the listed Telegram user ids.
	// Empty means open access.
	AllowedUsers []int64
	SessionTTL   time.Duration
}

// New creates a new Telegram bot instance
func New(ctx context.Context, cfg Config, manager *kassa.Manager, logger embedlog.Logger) (*Bot, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram token is required")
	}

	opts := []bot.Option{
		bot.WithDefaultHandler(defaultHandler(logger)),
	}

	if cfg.Debug {
		opts = append(opts, bot.WithDebug())
	}
	if cfg.WebhookSecret != "" {
		opts = append(opts, bot.WithWebhookSecretToken(cfg.WebhookSecret))
	}

	api, err := bot.New(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	allowed := make(map[int64]bool, len(cfg.AllowedUsers))
	for _, id := range cfg.AllowedUsers {
		allowed[id] = true
	}

	b := &Bot{
		api:           api,
		logger:        logger,
		kassa:         manager,
		sessions:      NewSessionManager(cfg.SessionTTL),
		allowed:       allowed,
		debug:         cfg.Debug,
		webhookURL:    cfg.WebhookURL,
		webhookSecret: cfg.WebhookSecret,
	}

	// Register command handlers
	b.registerHandlers()

	return b, nil
}

// Start runs the bot. With a webhook URL configured it registers the webhook
// and consumes updates delivered through WebhookHandler; otherwise it falls
// back to long polling (devel mode).
func (b *Bot) Start(ctx context.Context) error {
	me, err := b.api.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("failed to get bot info: %w", err)
	}

	if b.webhookURL != "" {
		ok, err := b.api.SetWebhook(ctx, &bot.SetWebhookParams{
			URL:         b.webhookURL,
			SecretToken: b.webhookSecret,
		})
		if err != nil || !ok {
			return fmt.Errorf("failed to set webhook: %w", err)
		}

		b.logger.Print(ctx, "telegram bot started", "username", me.Username, "id", me.ID, "mode", "webhook", "url", b.webhookURL)
		b.api.StartWebhook(ctx)
		return nil
	}

	b.logger.Print(ctx, "telegram bot started", "username", me.Username, "id", me.ID, "mode", "polling")
	b.api.Start(ctx)

	return nil
}

// WebhookHandler exposes the inbound webhook endpoint for mounting into the
// HTTP server. The library verifies the secret token header itself.
func (b *Bot) WebhookHandler() http.Handler {
	return b.api.WebhookHandler()
}

// Stop gracefully stops the bot
func (b *Bot) Stop(ctx context.Context) {
	b.logger.Print(ctx, "stopping telegram bot")
}

// registerHandlers registers all command handlers
func (b *Bot) registerHandlers() {
	commands := map[string]bot.HandlerFunc{
		"/start":     b.handleStart,
		"/help":      b.handleHelp,
		"/new":       b.handleNew,
		"/bulk":      b.handleBulk,
		"/done":      b.handleDone,
		"/undo":      b.handleUndo,
		"/undo_bulk": b.handleUndoBulk,
		"/cancel":    b.handleCancel,
		"/back":      b.handleBack,
		"/whoami":    b.handleWhoami,
	}
	for cmd, h := range commands {
		b.api.RegisterHandler(bot.HandlerTypeMessageText, cmd, bot.MatchTypeExact, h)
	}

	// Everything else: a session answer or a quick-entry line.
	b.api.RegisterHandler(bot.HandlerTypeMessageText, "", bot.MatchTypePrefix, b.handleMessage)
}

// defaultHandler acknowledges update shapes the bot does not work with
// (edits, stickers, joins). They are ignored without an error reply so the
// platform never retries them.
func defaultHandler(logger embedlog.Logger) bot.HandlerFunc {
	return func(ctx context.Context, _ *bot.Bot, update *models.Update) {
		if update.Message != nil {
			logger.Print(ctx, "unsupported update ignored", "chat_id", update.Message.Chat.ID)
		}
	}
}
