package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrSnakeDoc/nostrmarks/internal/config"
	"github.com/MrSnakeDoc/nostrmarks/internal/httpserver"
	"github.com/MrSnakeDoc/nostrmarks/internal/httpserver/deps"
	"github.com/MrSnakeDoc/nostrmarks/internal/index"
	"github.com/MrSnakeDoc/nostrmarks/internal/keys"
	"github.com/MrSnakeDoc/nostrmarks/internal/logger"
	"github.com/MrSnakeDoc/nostrmarks/internal/scheduler"
	"github.com/MrSnakeDoc/nostrmarks/internal/version"
)

type App struct {
	cfg       *config.Config
	logger    logger.Logger
	core      *Core
	server    *httpserver.Server
	memIndex  *index.MemoryIndex
	refresher *scheduler.BookmarkRefresher
	warmer    *scheduler.CacheWarmer
	reaper    *scheduler.Reaper
	watcher   *scheduler.ListWatcher
}

func New() *App {
	cfg := config.Load()

	loggerClient := logger.New(cfg.LogLevel, cfg.PrettyLog)

	core, err := NewCore(context.Background(), cfg, loggerClient)
	if err != nil {
		loggerClient.Errorf("Failed to initialize: %v", err)
		os.Exit(1)
	}

	mode := "read-write"
	if core.Signer == nil {
		mode = "read-only"
	}
	loggerClient.Info("identity loaded",
		logger.String("npub", keys.Npub(core.Author)),
		logger.String("mode", mode))

	// Initialize memory index, seeded from the cache so the first request is served locally
	memIndex := index.NewMemoryIndex()
	jobsLog := loggerClient.Named("scheduler")
	syncer := scheduler.NewCacheSyncer(core.Bookmarks, memIndex, jobsLog)
	if _, err := syncer.Sync(context.Background(), core.Author); err != nil {
		loggerClient.Warn("failed to seed bookmarks from cache, will load from relays",
			logger.Error(err))
	}

	// Create manual reload trigger channel
	reloadTrigger := make(chan struct{}, 1)

	refresher := scheduler.NewBookmarkRefresher(
		core.Bookmarks,
		memIndex,
		core.Author,
		jobsLog,
		cfg.RefreshInterval,
		reloadTrigger,
		nil,
	)
	warmer := scheduler.NewCacheWarmer(core.Cache, core.Bookmarks, jobsLog, cfg.CacheWarmInterval, nil)
	reaper := scheduler.NewReaper(core.Relays, jobsLog, cfg.ReaperInterval, cfg.ReaperIdle, nil)
	watcher := scheduler.NewListWatcher(core.Registry, core.Relays, core.Author, reloadTrigger, jobsLog, 0, nil)

	// Dependencies passed to routes (extend as needed).
	d := deps.Deps{
		Logger:        loggerClient,
		StartTime:     time.Now(),
		Version:       version.Version,
		Commit:        version.Commit,
		BuildDate:     version.BuildDate,
		GoVersion:     version.GoVersion,
		TimeNow:       time.Now,
		AllowedHosts:  cfg.AllowedHosts,
		AllowedCIDRS:  cfg.AllowedCIDRS,
		TrustProxy:    cfg.TrustProxy,
		Author:        core.Author,
		Signer:        core.Signer,
		Relays:        core.Relays,
		Bookmarks:     core.Bookmarks,
		Index:         memIndex,
		Metrics:       core.Metrics,
		ReloadTrigger: reloadTrigger,
	}
	// a nil *Store must stay a nil interface
	if core.Store != nil {
		d.CachePinger = core.Store
	}

	server := httpserver.New(cfg, loggerClient, d)

	return &App{
		cfg:       cfg,
		logger:    loggerClient,
		core:      core,
		server:    server,
		memIndex:  memIndex,
		refresher: refresher,
		warmer:    warmer,
		reaper:    reaper,
		watcher:   watcher,
	}
}

func (a *App) Run() error {
	a.logger.Infof("🚀 Starting nostrmarks %s on %s", version.Version, a.cfg.ListenPort)
	a.logger.Info(version.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Start(); err != nil {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	// Relays keep retrying in the background, so a slow start is not fatal
	if err := a.core.Connect(ctx); err != nil {
		a.logger.Warn("no relay connected yet, continuing", logger.Error(err))
	}

	a.refresher.Start(ctx)
	a.logger.Info("bookmark refresher started",
		logger.Duration("interval", a.cfg.RefreshInterval))

	a.warmer.Start(ctx)
	a.logger.Info("cache warmer started",
		logger.Duration("interval", a.cfg.CacheWarmInterval))

	a.reaper.Start(ctx)
	a.logger.Info("transient relay reaper started",
		logger.Duration("interval", a.cfg.ReaperInterval))

	a.watcher.Start(ctx)

	select {
	case <-ctx.Done():
		a.logger.Info("⏳ Shutting down gracefully...")
	case err := <-errCh:
		a.stopJobs()
		_ = a.core.Close()
		return err
	}

	a.stopJobs()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.server.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}

	if err := a.core.Close(); err != nil {
		a.logger.Warnf("failed to close relays or redis cleanly: %v", err)
	} else {
		a.logger.Info("✅ Relays and cache closed cleanly")
	}

	a.logger.Info("✅ nostrmarks stopped cleanly")
	return nil
}

func (a *App) stopJobs() {
	a.refresher.Stop()
	a.warmer.Stop()
	a.reaper.Stop()
	a.watcher.Stop()
}
