package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boxsignal/repricer/internal/adapter"
	"github.com/boxsignal/repricer/internal/config"
	"github.com/boxsignal/repricer/internal/credits"
	"github.com/boxsignal/repricer/internal/handler"
	"github.com/boxsignal/repricer/internal/middleware"
	"github.com/boxsignal/repricer/internal/monitor"
	"github.com/boxsignal/repricer/internal/pkg/logger"
	"github.com/boxsignal/repricer/internal/repository"
	"github.com/boxsignal/repricer/internal/scheduler"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.Init(cfg.Log.Level)

	// 2. Initialize Persistence
	// Credit Ledger (Redis > Memory)
	var ledger credits.Ledger
	if cfg.Redis.Addr != "" {
		redisClient, err := repository.NewRedisClient(cfg)
		if err == nil {
			logger.Info("✅ Connected to Redis")
			ledger = credits.NewRedisLedger(redisClient)
		} else {
			logger.Error("⚠️ Failed to connect to Redis, falling back to memory ledger", "error", err)
		}
	}
	if ledger == nil {
		ledger = credits.NewMemoryLedger()
	}

	// Tracking State (Postgres > Memory)
	var connRepo scheduler.ConnectionRepo
	var listingRepo scheduler.ListingRepo
	var ruleRepo scheduler.RuleRepo
	var actionRepo scheduler.ActionRepo
	var actionLister handler.ActionLister
	var listingLister handler.ListingLister
	var pgActions *repository.PostgresActionRepo

	if cfg.Database.DSN != "" {
		db, err := repository.NewDB(cfg)
		if err == nil {
			logger.Info("✅ Connected to PostgreSQL")
			connRepo = repository.NewPostgresConnectionRepo(db)
			pgListings := repository.NewPostgresListingRepo(db)
			listingRepo, listingLister = pgListings, pgListings
			ruleRepo = repository.NewPostgresRuleRepo(db)
			pgActions = repository.NewPostgresActionRepo(db)
			actionRepo, actionLister = pgActions, pgActions
		} else {
			logger.Error("⚠️ Failed to connect to DB, falling back to memory stores", "error", err)
		}
	}
	if connRepo == nil {
		memListings := repository.NewMemoryListingRepo()
		memActions := repository.NewMemoryActionRepo()
		connRepo = repository.NewMemoryConnectionRepo()
		listingRepo, listingLister = memListings, memListings
		ruleRepo = repository.NewMemoryRuleRepo()
		actionRepo, actionLister = memActions, memActions
	}

	// 3. Initialize Core Services
	adapters := adapter.NewFactory(adapter.DefaultRegistry(), cfg.Marketplaces)
	monitors := monitor.NewFactory(adapters)

	sched := scheduler.New(cfg.Scheduler, cfg.Credits, adapters, monitors, ledger,
		connRepo, listingRepo, ruleRepo, actionRepo)
	sched.Start()

	if pgActions != nil && cfg.Database.ActionRetentionDays > 0 {
		go runActionRetention(pgActions, cfg.Database.ActionRetentionDays)
	}

	// 4. Initialize Handlers
	actionHandler := handler.NewActionHandler(actionLister)
	engineHandler := handler.NewEngineHandler(sched)
	catalogHandler := handler.NewCatalogHandler(listingLister, monitors, adapters)
	creditHandler := handler.NewCreditHandler(ledger)

	// 5. Setup Router
	r := gin.Default()

	r.Use(middleware.ErrorHandler())
	r.Use(middleware.MetricsMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "service": "repricer"})
	})

	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	v1 := r.Group("/v1")
	v1.Use(middleware.AuthMiddleware(cfg))
	{
		v1.GET("/actions", actionHandler.List)
		v1.GET("/listings", catalogHandler.ListListings)
		v1.GET("/marketplaces", catalogHandler.ListMarketplaces)
		v1.GET("/credits/:org", creditHandler.Balance)
		v1.GET("/ticks/last", engineHandler.LastTick)
		v1.POST("/ticks", engineHandler.TriggerTick)
	}

	admin := r.Group("/v1/admin")
	admin.Use(middleware.AuthMiddleware(cfg))
	admin.Use(middleware.AdminMiddleware(cfg))
	{
		admin.POST("/credits/:org/topup", creditHandler.TopUp)
		admin.POST("/adapters/clear", catalogHandler.ClearAdapters)
	}

	// 6. Start Server with Graceful Shutdown
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}

	go func() {
		logger.Info("🚀 Repricer started", "port", cfg.Server.Port, "interval", cfg.Scheduler.Interval().String())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server listen failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("🛑 Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sched.Stop()
	adapters.ClearAdapterInstances("")

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown: ", err)
	}

	logger.Info("Server exiting")
}

// runActionRetention prunes old audit rows once a day.
func runActionRetention(repo *repository.PostgresActionRepo, days int) {
	retention := time.Duration(days) * 24 * time.Hour
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		if err := repo.Cleanup(ctx, retention); err != nil {
			logger.Error("action retention cleanup failed", "error", err)
		}
		cancel()
	}
}
