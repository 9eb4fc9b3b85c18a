package main

import (
	fiberws "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"autofilter/config"
	"autofilter/database"
	"autofilter/handlers"
	"autofilter/metrics"
	"autofilter/middleware"
	appserver "autofilter/server"
	"autofilter/services"
	"autofilter/telegram"
	websocketpkg "autofilter/websocket"
)

// Deps are the long-lived components the routes are wired to
type Deps struct {
	Config      *config.Config
	Store       *database.Store
	Redis       *redis.Client
	Telegram    *telegram.Client
	Filter      *services.Filter
	Dispatcher  *services.Dispatcher
	Broadcaster *services.Broadcaster
	AutoDeleter *services.AutoDeleter
	Hub         *websocketpkg.Hub
}

// SetupRoutes mounts the webhook, operator and admin endpoints on app
func SetupRoutes(app *fiber.App, deps *Deps) {
	cfg := deps.Config

	if cfg.EnableMetrics {
		app.Use(metrics.PrometheusMiddleware())
		app.Get("/metrics", appserver.MetricsHandler())
	}

	rateLimits := middleware.NewRateLimitConfig(deps.Redis)

	bot := handlers.NewBot(handlers.BotDeps{
		Config:      cfg,
		Store:       deps.Store,
		Messenger:   deps.Telegram,
		Filter:      deps.Filter,
		Broadcaster: deps.Broadcaster,
		Notices:     deps.AutoDeleter,
		Publisher:   deps.Hub,
	})
	webhook := handlers.NewWebhookHandler(services.NewDeduper(deps.Redis, services.DefaultDedupeTTL), deps.Dispatcher, bot)

	app.Post("/webhook",
		rateLimits.WebhookLimiter,
		middleware.WebhookSecretMiddleware(cfg.WebhookSecret, cfg.TelegramIPCheck),
		webhook.HandleWebhook,
	)
	app.Get("/set_webhook", rateLimits.LightweightLimiter, handlers.SetWebhookHandler(cfg, deps.Telegram))

	api := app.Group("/api/v1")
	api.Get("/version", rateLimits.LightweightLimiter, handlers.VersionHandler)

	if !cfg.AdminAPIEnabled() {
		return
	}

	adminHandler := handlers.NewAdminHandler(deps.Store, deps.Filter, deps.Broadcaster, deps.Dispatcher, deps.AutoDeleter, deps.Hub)
	admin := api.Group("/admin", rateLimits.AdminLimiter, middleware.AdminJWTMiddleware(cfg.AdminAPISecret))

	admin.Get("/stats", adminHandler.GetStats)
	admin.Post("/broadcast", adminHandler.StartBroadcast)
	admin.Get("/broadcasts", adminHandler.ListBroadcasts)
	admin.Get("/banned-words", adminHandler.ListBannedWords)
	admin.Post("/banned-words", adminHandler.AddBannedWord)
	admin.Delete("/banned-words/:word", adminHandler.RemoveBannedWord)
	admin.Get("/upload-channel", adminHandler.GetUploadChannel)
	admin.Put("/upload-channel", adminHandler.SetUploadChannel)

	admin.Use("/events", func(c *fiber.Ctx) error {
		if fiberws.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	admin.Get("/events", fiberws.New(func(conn *fiberws.Conn) {
		websocketpkg.HandleEvents(conn, deps.Hub)
	}))
}
