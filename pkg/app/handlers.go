package app

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"

	"github.com/labstack/echo/v4"
	"github.com/vmkteam/appkit"
)

// WebhookPath is where Telegram delivers updates. The secret token header is
// verified inside the bot library's handler.
const WebhookPath = "/tg/webhook"

// runHTTPServer is a function that starts http listener using labstack/echo.
func (a *App) runHTTPServer(ctx context.Context, host string, port int) error {
	listenAddress := fmt.Sprintf("%s:%d", host, port)
	addr := "http://" + listenAddress
	a.Print(ctx, "starting http listener", "url", addr)

	return a.echo.Start(listenAddress)
}

// registerHandlers register echo handlers.
func (a *App) registerHandlers() {
	if a.tgBot != nil && a.cfg.Telegram.WebhookURL != "" {
		a.echo.POST(WebhookPath, echo.WrapHandler(a.tgBot.WebhookHandler()))
	}
}

// registerDebugHandlers adds /debug/pprof handlers into a.echo instance.
func (a *App) registerDebugHandlers() {
	dbg := a.echo.Group("/debug")

	// add pprof integration
	dbg.Any("/pprof/*", appkit.PprofHandler)

	// add healthcheck
	a.echo.GET("/status", func(c echo.Context) error {
		// test spreadsheet connection
		err := a.manager.Ping(c.Request().Context())
		if err != nil {
			a.Error(c.Request().Context(), "failed to check ledger connection", "err", err)
			return c.String(http.StatusInternalServerError, "ledger error")
		}
		return c.String(http.StatusOK, "OK")
	})

	// show all routes in devel mode
	if a.cfg.Server.IsDevel {
		a.echo.GET("/", appkit.RenderRoutes(a.appName, a.echo))
	}
}
