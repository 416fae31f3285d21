package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trading-platform/config"
	"trading-platform/internal/analysis"
	"trading-platform/internal/api"
	"trading-platform/internal/auth"
	"trading-platform/internal/broker"
	"trading-platform/internal/cache"
	"trading-platform/internal/chart"
	"trading-platform/internal/coordinator"
	"trading-platform/internal/credentials"
	"trading-platform/internal/database"
	"trading-platform/internal/decision"
	"trading-platform/internal/evaluator"
	"trading-platform/internal/events"
	"trading-platform/internal/ledger"
	"trading-platform/internal/logging"
	"trading-platform/internal/marketdata"
	"trading-platform/internal/monitor"
	"trading-platform/internal/notification"
	"trading-platform/internal/ratelimit"
	"trading-platform/internal/risk"
	"trading-platform/internal/scheduler"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

func main() {
	// .env is optional; real deployments use the environment directly
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.New(&logging.Config{
		Level:       cfg.LoggingConfig.Level,
		Output:      cfg.LoggingConfig.Output,
		JSONFormat:  cfg.LoggingConfig.JSONFormat,
		IncludeFile: cfg.LoggingConfig.IncludeFile,
		Component:   "main",
	})
	logging.SetDefault(logger)

	eventBus := events.NewEventBus()

	// Database
	db, err := database.NewDB(cfg.DatabaseConfig.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.RunMigrations(ctx); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	repo := database.NewRepository(db)
	if err := repo.SeedTradingPairs(ctx); err != nil {
		logger.WithError(err).Warn("Trading pair seed failed")
	}

	// Cache (nil when disabled; every consumer degrades gracefully)
	cacheSvc := cache.NewService(cfg.RedisConfig, logger)
	defer cacheSvc.Close()

	// Credentials: AES cipher, optional Vault mirror
	var cipher *credentials.Cipher
	if cfg.SecurityConfig.CredentialsEncryptionKey != "" {
		cipher = credentials.NewCipher(cfg.SecurityConfig.CredentialsEncryptionKey)
	}
	var vaultStore *credentials.VaultStore
	if cfg.VaultConfig.Enabled {
		vaultStore, err = credentials.NewVaultStore(cfg.VaultConfig)
		if err != nil {
			logger.WithError(err).Warn("Vault unavailable, credentials stay database-only")
		}
	}
	credSvc := credentials.NewService(repo, cipher, vaultStore, logger)

	// Broker gateway and market data
	brokers := broker.NewManager(credSvc, cacheSvc, logger)
	limiter := ratelimit.NewCoordinator(ratelimit.Config{
		MaxConcurrent: cfg.RateConfig.MaxConcurrent,
		MinGap:        cfg.RateConfig.MinGap,
	}, logger)
	markets := marketdata.NewManager(brokers, limiter, logger)

	// Chart pipeline
	renderer := chart.NewRenderer(cfg.ChartConfig.EngineURL, os.Getenv("CHART_SPAWN_CMD"), logger)
	store := chart.NewStore(cfg.ChartConfig.ObjectStoreURL, cfg.ChartConfig.OutputDir, logger)
	charts := chart.NewPipeline(renderer, store, cfg.ChartConfig.Timeout, logger)

	// Decision engine
	llmConfig := decision.DefaultClientConfig()
	if provider := os.Getenv("AI_PROVIDER"); provider != "" {
		llmConfig.Provider = decision.Provider(provider)
	}
	llmConfig.APIKey = os.Getenv("AI_API_KEY")
	if model := os.Getenv("AI_MODEL"); model != "" {
		llmConfig.Model = model
	}
	engine := decision.NewEngine(decision.NewClient(llmConfig), logger)

	// Risk gate, ledger, orchestration
	gate := risk.NewGate(repo, cfg.RiskConfig, eventBus, logger)
	zlog := zerolog.New(os.Stdout).With().Timestamp().Logger()
	positionLedger := ledger.New(repo, zlog)
	htf := analysis.NewAnalyser(logger)
	coord := coordinator.New(cfg.RateConfig.BotGap, logger)
	coord.SetMaxScheduled(cfg.RateConfig.MaxPerCred)
	eval := evaluator.New(repo, coord, markets, brokers, charts, htf, engine, gate, positionLedger, eventBus, logger)

	mon := monitor.New(repo, monitor.NewMarketAccess(markets, brokers), eventBus, cfg.MonitorConfig, logger)
	mon.EnableSnapshots(repo)
	mon.EnableSync(positionLedger)

	sched := scheduler.New(repo, coord, func(ctx context.Context, botID string) error {
		_, err := eval.Evaluate(ctx, botID, 0)
		return err
	}, cfg.SchedulerConfig, logger)

	// Notifications subscribe to critical alerts and trade events
	notifier := notification.NewManager(cfg.NotificationConfig, logger)
	notifier.Subscribe(eventBus)

	// Auth + HTTP API
	jwtManager, err := auth.NewJWTManager(cfg.AuthConfig.JWTSecret,
		cfg.AuthConfig.AccessTokenDuration, cfg.AuthConfig.RefreshTokenDuration)
	if err != nil {
		log.Fatalf("Failed to initialize auth: %v", err)
	}
	authSvc := auth.NewService(repo, jwtManager, cfg.AuthConfig.MinPasswordLength, logger)

	server := api.NewServer(cfg.ServerConfig, repo, eventBus, authSvc, jwtManager,
		credSvc, cacheSvc, mon, eval.Evaluate, logger)

	rootCtx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	mon.Start(rootCtx)
	defer mon.Stop()
	sched.Start(rootCtx)
	defer sched.Stop()

	go func() {
		if err := server.Start(); err != nil {
			logger.WithError(err).Error("API server failed")
			cancel()
		}
	}()

	logger.Info("Trading platform started",
		"host", cfg.ServerConfig.Host, "port", cfg.ServerConfig.Port)

	<-rootCtx.Done()
	logger.Info("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server shutdown failed")
	}
}
