package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"autofilter/config"
	"autofilter/database"
	appserver "autofilter/server"
	"autofilter/services"
	"autofilter/telegram"
	"autofilter/utils"
	websocketpkg "autofilter/websocket"
)

const shutdownTimeout = 20 * time.Second

func main() {
	startupStart := time.Now()

	config.LoadDotEnv()
	utils.InitLogging()

	cfg := config.LoadConfig()
	utils.TrustProxyHeaders.Store(cfg.TrustProxyHeaders)

	log.Printf("🚀 [STARTUP] autofilter starting (env=%s, port=%s)", cfg.Environment, cfg.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	setupCtx, cancelSetup := context.WithTimeout(ctx, 60*time.Second)
	db, err := database.SetupDatabase(setupCtx, cfg.DatabaseURL, database.Options{SkipMigrations: cfg.SkipMigrationCheck})
	cancelSetup()
	if err != nil {
		log.Fatalf("💥 [FATAL] Database setup failed: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	defer rdb.Close()

	tg, err := telegram.NewClient(cfg.TelegramAPIBase, cfg.TelegramToken, telegram.DefaultTimeout)
	if err != nil {
		log.Fatalf("💥 [FATAL] Telegram client: %v", err)
	}

	store := database.NewStore(db)

	rulesWords, err := services.LoadFilterRules(cfg.FilterRulesFile)
	if err != nil {
		log.Fatalf("💥 [FATAL] %v", err)
	}
	filter := services.NewFilter(store, cfg.FilterDefaults, rulesWords)
	if cfg.FilterRulesFile != "" && cfg.FilterRulesReload > 0 {
		go services.NewRulesReloader(filter, cfg.FilterDefaults, cfg.FilterRulesFile, cfg.FilterRulesReload).Run(ctx)
	}

	readyState := appserver.NewReadyState(db, rdb, filter)
	readyState.MarkDatabaseReady()
	go initBackground(ctx, rdb, filter, readyState)

	hub := websocketpkg.NewHub()
	go hub.Run()

	dispatcher := services.NewDispatcher(cfg.DispatcherWorkers, cfg.DispatcherQueue)
	broadcaster := services.NewBroadcaster(rdb, store, tg, hub, cfg.BroadcastRate)
	autoDeleter := services.NewAutoDeleter(rdb, tg, cfg.AutoDeleteAfter)
	go autoDeleter.Run(ctx)

	cleanup, err := services.StartCleanupService(store, cfg.CleanupSchedule, cfg.RetentionDays)
	if err != nil {
		log.Fatalf("💥 [FATAL] %v", err)
	}

	app := appserver.CreateFiberApp(startupStart, readyState)
	SetupRoutes(app, &Deps{
		Config:      cfg,
		Store:       store,
		Redis:       rdb,
		Telegram:    tg,
		Filter:      filter,
		Dispatcher:  dispatcher,
		Broadcaster: broadcaster,
		AutoDeleter: autoDeleter,
		Hub:         hub,
	})

	if cfg.AutoSetWebhook {
		go registerWebhook(ctx, cfg, tg)
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- appserver.ListenWithIPv6Fallback(app, cfg.Port, startupStart)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			log.Fatalf("💥 [FATAL] HTTP server stopped: %v", err)
		}
		return
	case <-ctx.Done():
		log.Printf("🛑 [SHUTDOWN] Signal received, draining")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		log.Printf("Dispatcher shutdown: %v", err)
	}
	if err := broadcaster.Shutdown(shutdownCtx); err != nil {
		log.Printf("Broadcaster shutdown: %v", err)
	}
	<-cleanup.Stop().Done()
	hub.Close()
	closePool(db)
	log.Printf("👋 [SHUTDOWN] Complete")
}

// initBackground marks Redis and the filter ready, retrying until both succeed
func initBackground(ctx context.Context, rdb *redis.Client, filter *services.Filter, readyState *appserver.ReadyState) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		if !readyState.IsRedisReady() {
			pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := rdb.Ping(pingCtx).Err()
			cancel()
			if err != nil {
				log.Printf("⚠️ [STARTUP] Redis not reachable yet: %v", err)
			} else {
				readyState.MarkRedisReady()
				log.Printf("✅ [STARTUP] Redis connected")
			}
		}

		if !filter.Ready() {
			loadCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := filter.Reload(loadCtx)
			cancel()
			if err != nil {
				utils.LogError("FILTER_LOAD", err)
			} else {
				log.Printf("✅ [STARTUP] Filter loaded with %d banned words", len(filter.Words()))
			}
		}

		if readyState.IsFullyReady() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// registerWebhook points Telegram at this instance on boot
func registerWebhook(ctx context.Context, cfg *config.Config, tg *telegram.Client) {
	url := cfg.WebhookURL()
	if url == "" {
		log.Printf("⚠️ AUTO_SET_WEBHOOK is on but EXPOSED_URL is empty; skipping")
		return
	}
	callCtx, cancel := context.WithTimeout(ctx, telegram.DefaultTimeout)
	defer cancel()

	result, err := tg.SetWebhook(callCtx, url, cfg.WebhookSecret)
	if err != nil {
		utils.LogError("SET_WEBHOOK", err, "url", url)
		return
	}
	log.Printf("🔗 Webhook registration for %s: ok=%v %v", url, result["ok"], result["description"])
}

func closePool(db *pgxpool.Pool) {
	done := make(chan struct{})
	go func() {
		db.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		log.Printf("Database pool close timed out")
	}
}
