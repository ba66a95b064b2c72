package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"callwatch/agent/database"
	"callwatch/agent/internal/bot"
	"callwatch/agent/internal/handlers"
	"callwatch/agent/internal/registry"
	"callwatch/agent/internal/services"
	"callwatch/agent/internal/userbot"
	"callwatch/shared/config"
	"callwatch/shared/env"
	"callwatch/shared/logger"
	"callwatch/shared/notifications"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const heartbeatInterval = 8 * time.Minute

func startHeartbeat(ctx context.Context, appLogger *logger.Logger, pool *userbot.Pool) {
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				appLogger.Info("Heartbeat: Program running...", zap.Strings("userbots", pool.Names()))
			}
		}
	}()
}

func sessionConfigs() []userbot.Config {
	configs := make([]userbot.Config, 0, len(env.Sessions))
	for _, s := range env.Sessions {
		configs = append(configs, userbot.Config{
			Name:    s.Name,
			APIID:   env.APIID,
			APIHash: env.APIHash,
			Session: s.String,
		})
	}
	return configs
}

func runApp(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := env.LoadEnv(); err != nil {
		return fmt.Errorf("load environment: %w", err)
	}
	log.Println("INFO: Environment variables loaded via shared/env.")

	cfg, err := config.LoadConfig(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	config.SetGlobalConfig(cfg)

	appLogger, err := logger.NewLogger(logger.Config{
		Level:          cfg.Logging.Level,
		Environment:    cfg.App.Environment,
		EnableTelegram: env.SystemLogChatID != 0,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer appLogger.Sync()

	if err := notifications.InitTelegramBot(ctx, env.BotToken, env.SystemLogChatID); err != nil {
		appLogger.Warn("Failed to initialize Telegram system logs, proceeding without them", zap.Error(err))
	}

	phases, err := cfg.ParsedPhases()
	if err != nil {
		return err
	}
	schedule, err := services.NewPhaseSchedule(phases)
	if err != nil {
		return err
	}

	appLogger.Info("Running database migrations...")
	if err := database.MigrateDatabase(env.DatabaseURL); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	db, err := database.ConnectToDatabase(env.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer func() {
		if err := database.Close(db); err != nil {
			appLogger.Warn("Failed to close database", zap.Error(err))
		}
	}()
	store := database.NewStore(db)
	appLogger.Info("Database connection established successfully.")

	targets := registry.New(store, appLogger)
	if err := targets.Load(ctx, env.AdminIDs); err != nil {
		return fmt.Errorf("load targets: %w", err)
	}

	pool := userbot.NewPool(cfg.Telegram.AlertChannel, appLogger)
	pool.SetSendRate(cfg.Telegram.SendsPerSec)
	defer pool.StopAll()
	if n := pool.Reload(ctx, sessionConfigs()); n == 0 {
		appLogger.Warn("No userbots running; alerts will not be posted until one is added with /add_bot")
	}

	limiter := services.NewExternalLimiter(cfg.RateLimits.ExternalPerSecond)
	market := services.NewDexScreenerClient(services.DefaultHTTPOptions("", limiter), appLogger)
	bonding := services.NewMoralisClient(services.DefaultHTTPOptions("", limiter), env.MoralisAPIKey, appLogger)
	stats := services.NewStatsService(store, market,
		config.Duration(cfg.Stats.Window, 30*24*time.Hour), cfg.Stats.MinCalls, appLogger)

	listener := services.NewListener(store, market, bonding, stats, pool, targets, schedule,
		cfg.Telegram.AlertChannel, appLogger)
	poller := services.NewPoller(store, market, bonding, pool, schedule, services.PollerConfig{
		Tick:         config.Duration(cfg.Poller.Tick, time.Minute),
		ErrorBackoff: config.Duration(cfg.Poller.ErrorBackoff, time.Minute),
	}, appLogger)
	uptime := services.NewUptimeChecker(store, services.HTTPOptions{
		Timeout: config.Duration(cfg.Uptime.Timeout, 10*time.Second),
	}, config.Duration(cfg.Uptime.Interval, 5*time.Minute), appLogger)

	commands := bot.NewCommands(bot.CommandsConfig{
		Registry: targets,
		Userbots: pool,
		Store:    store,
		Market:   market,
		Bonding:  bonding,
		Stats:    stats,
		Sessions: sessionConfigs,
		APIID:    env.APIID,
		APIHash:  env.APIHash,
	}, appLogger)
	manager, err := bot.New(env.BotToken, commands, listener, appLogger)
	if err != nil {
		return fmt.Errorf("init management bot: %w", err)
	}

	if !strings.EqualFold(cfg.App.Environment, "development") {
		gin.SetMode(gin.ReleaseMode)
	}
	router := handlers.NewRouter(handlers.NewAPI(store, stats, appLogger), cfg.RateLimits.APIPerSecond, appLogger)

	g, runCtx := errgroup.WithContext(ctx)
	g.Go(func() error { poller.Run(runCtx); return nil })
	g.Go(func() error { uptime.Run(runCtx); return nil })
	g.Go(func() error { manager.Run(runCtx); return nil })
	g.Go(func() error {
		if err := handlers.Serve(runCtx, ":"+cfg.App.Port, router, appLogger); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	startHeartbeat(runCtx, appLogger, pool)

	appLogger.Info("Application startup complete. Waiting for events...",
		zap.Int("userbots", pool.Len()), zap.String("alertChannel", cfg.Telegram.AlertChannel))
	notifications.SendSystemLogMessage("Monitor started\\.")

	<-runCtx.Done()
	appLogger.Info("Shutting down...")
	return g.Wait()
}
