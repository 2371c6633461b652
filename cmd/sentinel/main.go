package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"invite-sentinel/internal/analytics"
	"invite-sentinel/internal/attribution"
	"invite-sentinel/internal/bot"
	"invite-sentinel/internal/cache"
	"invite-sentinel/internal/config"
	"invite-sentinel/internal/core"
	"invite-sentinel/internal/fraud"
	"invite-sentinel/internal/guildlock"
	"invite-sentinel/internal/health"
	"invite-sentinel/internal/incident"
	"invite-sentinel/internal/premium"
	"invite-sentinel/internal/security"
	"invite-sentinel/internal/snapshot"
	"invite-sentinel/internal/stats"
	"invite-sentinel/internal/storage"
	"invite-sentinel/internal/storage/memory"
	"invite-sentinel/internal/window"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := config.BuildLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	var repo storage.Repository
	if cfg.DatabaseURL == config.MemoryDatabase {
		logger.Warn("using in-memory storage, data will not survive a restart")
		repo = memory.New()
	} else {
		store, err := storage.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("storage init failed", zap.Error(err))
		}
		defer store.Close()
		if err := store.Migrate(logger); err != nil {
			logger.Fatal("migrations failed", zap.Error(err))
		}
		repo = store
	}

	checks := map[string]health.Check{}
	var backup security.SlowmodeBackup = security.NewMemoryBackup()
	if cfg.Redis.Addr != "" {
		client, err := cache.NewClient(cache.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, logger)
		if err != nil {
			logger.Fatal("redis init failed", zap.Error(err))
		}
		defer func() {
			_ = client.Close()
		}()
		backup = client
		checks["redis"] = client.Ping
	}

	botSvc, err := bot.New(cfg.DiscordToken, logger)
	if err != nil {
		logger.Fatal("bot init failed", zap.Error(err))
	}
	platform := bot.NewHost(botSvc.Session(), logger, bot.BreakerConfig{})

	defaults := cfg.Defaults.Settings("")
	windows := window.NewTracker(storage.MaxWindow)
	invites := snapshot.New(platform, logger)
	recorder := incident.NewRecorder(repo, logger)
	machine := security.New(repo, platform, windows, recorder, backup, logger, security.Config{
		Defaults:        defaults,
		TimeoutMinutes:  cfg.Security.TimeoutMinutes,
		FanoutPerSecond: cfg.Security.FanoutPerSecond,
		FanoutWorkers:   cfg.Security.FanoutWorkers,
	})

	sentinel := core.New(core.Config{
		Defaults:     defaults,
		RetryLimit:   cfg.Retry.Attempts,
		RetryBackoff: time.Duration(cfg.Retry.BackoffMS) * time.Millisecond,
	}, core.Components{
		Repo:      repo,
		Host:      platform,
		Locks:     guildlock.New(),
		Cache:     invites,
		Windows:   windows,
		Engine:    attribution.NewEngine(repo, invites, logger, cfg.Attribution.UnknownConfidence),
		Stats:     stats.New(repo, logger),
		Security:  machine,
		Fraud:     fraud.NewScorer(repo, recorder, logger, cfg.Fraud.ReportFloor),
		Premium:   premium.NewService(repo, logger),
		Incidents: recorder,
		Analytics: analytics.New(repo, cfg.Security.RecentIncidents),
	}, logger)

	go sentinel.RunJanitor(ctx, time.Duration(cfg.Security.JanitorIntervalSeconds)*time.Second)

	queue := core.NewQueue(ctx, sentinel, logger, 30*time.Second)
	if err := botSvc.Start(queue); err != nil {
		logger.Fatal("bot start failed", zap.Error(err))
	}
	logger.Info("bot started", zap.String("preset", cfg.RulePreset))

	var server *http.Server
	if cfg.Health.Enabled {
		server = &http.Server{
			Addr:              cfg.Health.Addr,
			Handler:           health.NewRouter(checks),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("health endpoint enabled", zap.String("addr", cfg.Health.Addr))
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("health server error", zap.Error(err))
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	botSvc.Close()
	drained := make(chan struct{})
	go func() {
		queue.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		logger.Warn("shutdown before event queue drained")
	}
	stop()

	if server != nil {
		_ = server.Shutdown(shutdownCtx)
	}
}
