package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"stock-portfolio-go/internal/api"
	"stock-portfolio-go/internal/cache"
	"stock-portfolio-go/internal/config"
	"stock-portfolio-go/internal/database"
	"stock-portfolio-go/internal/events"
	"stock-portfolio-go/internal/ledger"
	"stock-portfolio-go/internal/logger"
	"stock-portfolio-go/internal/marketdata"

	"github.com/joho/godotenv"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

func main() {
	// A missing .env file is fine; real deployments use the environment.
	_ = godotenv.Load()

	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		fmt.Fprintf(os.Stderr, "could not load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	// Initialize database
	db, err := database.NewDatabase(cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.", zap.String("driver", cfg.Database.Driver))

	// Market data: Finnhub client behind a shared response cache
	store, closeStore := newCacheStore(cfg.Cache, log)
	responses := cache.New(store, log, cfg.Cache.LoadTimeout)
	pool, err := ants.NewPool(cfg.Market.Workers)
	if err != nil {
		log.Fatal("Failed to create worker pool", zap.Error(err))
	}
	provider := marketdata.NewClient(cfg.Finnhub, log)
	market := marketdata.NewService(provider, responses, pool, cfg.Market, cfg.Cache, log)

	// Ledger
	startingBalance, err := cfg.Ledger.StartingBalance()
	if err != nil {
		log.Fatal("Invalid ledger configuration", zap.Error(err))
	}
	var publisher ledger.Publisher
	var kafkaPublisher *events.KafkaPublisher
	if cfg.Kafka.Enabled {
		kafkaPublisher, err = events.NewKafkaPublisher(cfg.Kafka, log)
		if err != nil {
			log.Fatal("Failed to create transaction publisher", zap.Error(err))
		}
		publisher = kafkaPublisher
		log.Info("Publishing transactions to Kafka", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}
	processor := ledger.NewProcessor(
		log,
		db,
		ledger.NewAccountLedger(db, startingBalance),
		ledger.NewHoldingsStore(db),
		ledger.NewTransactionLog(db),
		publisher,
		cfg.Ledger.OperationTimeout,
	)

	// HTTP server; Spin blocks until SIGINT/SIGTERM and then runs the shutdown hooks.
	srv := api.NewServer(cfg.Server, processor, market, log)
	srv.OnShutdown(func(ctx context.Context) {
		pool.Release()
		closeStore()
		if kafkaPublisher != nil {
			if err := kafkaPublisher.Close(); err != nil {
				log.Error("Failed to close transaction publisher", zap.Error(err))
			}
		}
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	log.Info("Starting portfolio service", zap.String("address", cfg.Server.Address))
	srv.Spin()

	log.Info("Service has been shut down.")
}

// newCacheStore builds the configured cache backend and the function that
// releases it. An unreachable Redis falls back to process memory.
func newCacheStore(cfg config.Cache, log *zap.Logger) (cache.Store, func()) {
	if cfg.Backend == "redis" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		store, err := cache.NewRedisStore(ctx, cfg)
		if err == nil {
			log.Info("Using Redis response cache", zap.String("address", cfg.RedisAddress))
			return store, func() { _ = store.Close() }
		}
		log.Error("Redis unavailable, using in-memory cache", zap.Error(err))
	}

	store := cache.NewMemoryStore()
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				store.Sweep()
			case <-done:
				return
			}
		}
	}()
	return store, func() { close(done) }
}
