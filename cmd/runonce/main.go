package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"time"

	"github.com/boxsignal/repricer/internal/adapter"
	"github.com/boxsignal/repricer/internal/config"
	"github.com/boxsignal/repricer/internal/credits"
	"github.com/boxsignal/repricer/internal/monitor"
	"github.com/boxsignal/repricer/internal/pkg/logger"
	"github.com/boxsignal/repricer/internal/repository"
	"github.com/boxsignal/repricer/internal/scheduler"
)

// runonce executes a single repricing tick against the configured stores and
// prints the tick summary as JSON. Useful for cron-driven deployments and for
// smoke-testing a configuration before enabling the resident scheduler.
func main() {
	timeout := flag.Duration("timeout", 10*time.Minute, "overall tick deadline")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.Init(cfg.Log.Level)

	var ledger credits.Ledger
	if cfg.Redis.Addr != "" {
		redisClient, err := repository.NewRedisClient(cfg)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		ledger = credits.NewRedisLedger(redisClient)
	} else {
		ledger = credits.NewMemoryLedger()
	}

	if cfg.Database.DSN == "" {
		log.Fatal("runonce requires database.dsn; a memory store has nothing to reprice")
	}
	db, err := repository.NewDB(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}

	adapters := adapter.NewFactory(adapter.DefaultRegistry(), cfg.Marketplaces)
	defer adapters.ClearAdapterInstances("")

	sched := scheduler.New(cfg.Scheduler, cfg.Credits, adapters, monitor.NewFactory(adapters), ledger,
		repository.NewPostgresConnectionRepo(db),
		repository.NewPostgresListingRepo(db),
		repository.NewPostgresRuleRepo(db),
		repository.NewPostgresActionRepo(db))

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	stats, err := sched.RunOnce(ctx)
	if err != nil {
		log.Fatalf("Tick failed: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(stats); err != nil {
		log.Fatalf("Failed to encode stats: %v", err)
	}
}
