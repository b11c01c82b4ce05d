package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lysyi3m/alert-comb/app/api"
	"github.com/lysyi3m/alert-comb/app/cache"
	"github.com/lysyi3m/alert-comb/app/cfg"
	"github.com/lysyi3m/alert-comb/app/config"
	"github.com/lysyi3m/alert-comb/app/database"
	"github.com/lysyi3m/alert-comb/app/dedup"
	"github.com/lysyi3m/alert-comb/app/dispatch"
	"github.com/lysyi3m/alert-comb/app/feed"
	"github.com/lysyi3m/alert-comb/app/scoring"
	"github.com/lysyi3m/alert-comb/app/sources"
	"github.com/lysyi3m/alert-comb/app/tasks"
)

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if appCfg == nil {
		// help was shown
		return
	}

	slog.SetDefault(cfg.NewLogger(appCfg.Debug))
	slog.Info("Starting Alert Comb", "version", appCfg.Version, "config_dir", appCfg.ConfigDir)

	domainCfg, err := config.NewLoader(appCfg.ConfigDir).LoadAll()
	if err != nil {
		fatal("Failed to load configuration", err)
	}
	applyOverrides(appCfg, &domainCfg.Notify)

	store, storeHealth, err := openStore(appCfg)
	if err != nil {
		fatal("Failed to open dedup store", err)
	}

	dedupSettings := domainCfg.Filters.Deduplication
	deduplicator := dedup.New(dedup.Options{
		Window:        dedupSettings.GetWindow(),
		Threshold:     dedupSettings.SimilarityThreshold,
		SweepInterval: dedupSettings.GetSweepInterval(),
	}, store)

	if store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		loaded, err := deduplicator.Load(ctx)
		cancel()
		if err != nil {
			slog.Warn("Failed to restore dedup records, starting empty", "error", err)
		} else {
			slog.Info("Restored dedup records", "count", loaded, "store", appCfg.StoreDriver)
		}
	}
	if err := deduplicator.StartJanitor(); err != nil {
		fatal("Failed to start dedup janitor", err)
	}

	scorer, err := scoring.NewScorer(domainCfg.Filters.KeywordGroups,
		domainCfg.Filters.GetMinimumScore(), domainCfg.Filters.FallbackCategory)
	if err != nil {
		fatal("Failed to build scorer", err)
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}

	transports := []dispatch.Transport{
		dispatch.NewNtfyTransport(domainCfg.Notify.Server.URL, domainCfg.Notify.Server.Token, appCfg.UserAgent, httpClient),
	}
	if token := domainCfg.Notify.Telegram.Token; token != "" {
		telegram, err := dispatch.NewTelegramTransport(token)
		if err != nil {
			slog.Error("Telegram transport disabled", "error", err)
		} else {
			transports = append(transports, telegram)
		}
	}
	dispatcher := dispatch.NewDispatcher(domainCfg.Notify, transports, dispatch.Options{})

	registry := sources.NewRegistry(sources.Deps{
		HTTPClient: httpClient,
		UserAgent:  appCfg.UserAgent,
		ProxyURL:   appCfg.TorProxyURL,
	})
	adapters, buildErrs := registry.Build(domainCfg.Sources.Sources)

	byName := make(map[string]config.Source, len(domainCfg.Sources.Sources))
	for _, source := range domainCfg.Sources.Sources {
		byName[source.Name] = source
	}

	pollTasks := make([]*tasks.PollSourceTask, 0, len(adapters))
	for _, adapter := range adapters {
		source := byName[adapter.Name()]
		pollTasks = append(pollTasks, tasks.NewPollSourceTask(adapter, source.GetInterval(), source.GetTimeout()))
	}

	history := feed.NewHistory(appCfg.HistorySize)
	pipeline := tasks.NewPipeline(scorer, deduplicator, feed.NewRecordingDispatcher(dispatcher, history))
	scheduler := tasks.NewScheduler(pollTasks, pipeline, tasks.Options{})
	scheduler.SkipMissing(buildErrs)
	scheduler.Start()

	handler := api.NewHandler(scheduler, deduplicator, dispatcher, scorer, storeHealth, history, appCfg.BaseURL, appCfg.Version)
	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      api.NewServer(handler, appCfg.APIAccessKey),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "port", appCfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case err := <-serverErrChan:
		slog.Error("Server error", "error", err)
	}

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	if !scheduler.Stop(appCfg.ShutdownGrace) {
		slog.Warn("Some sources were still polling at shutdown")
	}
	deduplicator.StopJanitor()

	if store != nil {
		if err := store.Close(); err != nil {
			slog.Error("Failed to close dedup store", "error", err)
		}
	}

	slog.Info("Shutdown complete")
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}

// applyOverrides lets flags and environment take precedence over notify.yaml.
func applyOverrides(appCfg *cfg.Cfg, notify *config.NotifyConfig) {
	if appCfg.NtfyURL != "" {
		notify.Server.URL = appCfg.NtfyURL
	}
	if appCfg.NtfyToken != "" {
		notify.Server.Token = appCfg.NtfyToken
	}
	if appCfg.TelegramToken != "" {
		notify.Telegram.Token = appCfg.TelegramToken
	}
}

// openStore returns nil for the in-memory driver.
func openStore(appCfg *cfg.Cfg) (dedup.Store, api.StoreHealthChecker, error) {
	switch appCfg.StoreDriver {
	case "", "memory":
		return nil, nil, nil

	case database.DriverSQLite, database.DriverPostgres:
		db, err := database.NewConnection(appCfg.StoreDriver, appCfg.StoreDSN)
		if err != nil {
			return nil, nil, err
		}
		version, dirty, err := database.RunMigrations(db)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		slog.Info("Database migrations applied", "driver", appCfg.StoreDriver, "version", version, "dirty", dirty)

		repo := database.NewSeenRepository(db)
		return repo, repo, nil

	case "redis":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		c, err := cache.NewCache(ctx, appCfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return c, c, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", appCfg.StoreDriver)
	}
}
