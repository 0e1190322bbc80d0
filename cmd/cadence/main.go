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

	"github.com/sydlexius/cadence/internal/api"
	"github.com/sydlexius/cadence/internal/auth"
	"github.com/sydlexius/cadence/internal/config"
	"github.com/sydlexius/cadence/internal/database"
	"github.com/sydlexius/cadence/internal/detection"
	"github.com/sydlexius/cadence/internal/event"
	"github.com/sydlexius/cadence/internal/logging"
	"github.com/sydlexius/cadence/internal/notify"
	"github.com/sydlexius/cadence/internal/preview"
	"github.com/sydlexius/cadence/internal/preview/deezer"
	"github.com/sydlexius/cadence/internal/preview/itunes"
	"github.com/sydlexius/cadence/internal/resolve"
	"github.com/sydlexius/cadence/internal/store"
	"github.com/sydlexius/cadence/internal/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := os.Getenv("CD_CONFIG_PATH")
	if configPath == "" {
		configPath = "/data/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logManager, logger := logging.NewManager(cfg.Logging)
	defer logManager.Close() //nolint:errcheck
	slog.SetDefault(logger)

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("closing database", "error", err)
		}
	}()

	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("database ready", slog.String("path", cfg.Database.Path))

	authService := auth.NewService(db)
	bootstrapToken, err := authService.Bootstrap(context.Background())
	if err != nil {
		return fmt.Errorf("bootstrapping auth: %w", err)
	}
	if bootstrapToken != "" {
		// Printed once on first start; never logged again.
		logger.Warn("created initial admin token", slog.String("token", bootstrapToken))
	}

	storeService := store.NewService(db)

	// Preview source chain in priority order: catalog URL, then iTunes by
	// ISRC, then iTunes text search, then Deezer text search.
	rateLimiters := preview.NewRateLimiterMap()
	itunesAdapter := itunes.New(rateLimiters, logger, cfg.Preview.Country)
	chain := []preview.Source{
		preview.NewCatalogSource(),
		itunes.NewISRCSource(itunesAdapter),
		itunes.NewSearchSource(itunesAdapter),
		deezer.New(rateLimiters, logger),
	}
	previewResolver := preview.NewResolver(chain,
		time.Duration(cfg.Resolver.AttemptTimeoutSeconds)*time.Second, logger)

	detectionClient := detection.New(detection.Config{
		BaseURL:      cfg.Detection.BaseURL,
		TokenURL:     cfg.Detection.TokenURL,
		ClientID:     cfg.Detection.ClientID,
		ClientSecret: cfg.Detection.ClientSecret,
		Timeout:      time.Duration(cfg.Detection.TimeoutSeconds) * time.Second,
	}, logger)

	eventBus := event.NewBus(logger, 256)
	go eventBus.Start()
	defer eventBus.Stop()

	if len(cfg.Notify.WebhookURLs) > 0 {
		notifier := notify.New(cfg.Notify.WebhookURLs, logger)
		notifier.SubscribeAll(eventBus)
	}

	resolver := resolve.NewResolver(storeService, previewResolver, detectionClient, eventBus,
		time.Duration(cfg.Resolver.TTLDays)*24*time.Hour,
		time.Duration(cfg.Resolver.FailureTTLHours)*time.Hour,
		logger)
	reviewer := resolve.NewReviewer(storeService, eventBus, logger)

	router := api.NewRouter(api.RouterDeps{
		AuthService: authService,
		Store:       storeService,
		Resolver:    resolver,
		Reviewer:    reviewer,
		Detection:   detectionClient,
		Bus:         eventBus,
		Logger:      logger,
		BasePath:    cfg.Server.BasePath,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Only the logging section hot-reloads; everything else needs a restart.
	go func() {
		if err := config.WatchLogging(ctx, configPath, logManager, logger); err != nil {
			logger.Error("config watcher stopped", "error", err)
		}
	}()

	// Periodic cache stats, handy for sizing TTLs.
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st, err := storeService.Stats(ctx)
				if err != nil {
					logger.Error("collecting cache stats", "error", err)
					continue
				}
				logger.Info("cache stats",
					slog.Int64("records", st.Records),
					slog.Int64("failures", st.Failures),
					slog.Int64("pending_review", st.PendingReview),
				)
			}
		}
	}()

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting cadence",
			slog.String("version", version.Version),
			slog.String("commit", version.Commit),
			slog.String("addr", addr),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}
