// Command celerix-stored runs the Celerix store daemon: the TCP line protocol,
// the HTTP API with per-persona favorites, and Prometheus metrics.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/celerix-dev/celerix-favorites/internal/api"
	"github.com/celerix-dev/celerix-favorites/internal/config"
	"github.com/celerix-dev/celerix-favorites/internal/events"
	"github.com/celerix-dev/celerix-favorites/internal/logging"
	"github.com/celerix-dev/celerix-favorites/internal/metrics"
	"github.com/celerix-dev/celerix-favorites/internal/server"
	"github.com/celerix-dev/celerix-favorites/internal/vault"
	"github.com/celerix-dev/celerix-favorites/pkg/engine"
	"github.com/celerix-dev/celerix-favorites/pkg/favorites"
	"github.com/celerix-dev/celerix-favorites/pkg/favset"
	"github.com/celerix-dev/celerix-favorites/pkg/schema"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		slog.Error("celerix-stored failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Engine
	backend, err := engine.ParseBackend(cfg.Backend)
	if err != nil {
		return err
	}
	persister, err := engine.OpenPersister(backend, cfg.DataDir, logger)
	if err != nil {
		return fmt.Errorf("initialize %s persistence: %w", backend, err)
	}
	initialData, err := persister.LoadAll()
	if err != nil {
		logger.Warn("could not load existing data", "backend", backend, "error", err)
	}
	store := engine.NewMemStore(initialData, persister, engine.WithLogger(logger))
	logger.Info("engine started", "backend", backend, "data_dir", cfg.DataDir, "personas", len(initialData))

	if cfg.WatchFiles {
		if jp, ok := persister.(*engine.Persistence); ok {
			fw, err := engine.NewFileWatcher(store, jp, engine.FileWatcherOptions{Logger: logger})
			if err != nil {
				return fmt.Errorf("start file watcher: %w", err)
			}
			if err := fw.Start(ctx); err != nil {
				return fmt.Errorf("start file watcher: %w", err)
			}
			defer fw.Stop()
		} else {
			logger.Warn("CELERIX_WATCH_FILES only applies to the json backend", "backend", backend)
		}
	}

	// Events
	bus := events.NewBus(events.WithLogger(logger))
	bus.Subscribe(func(env schema.Envelope) {
		logger.Debug("favorites event", "type", env.Type, "meta", env.Meta)
	}, schema.FavoritesEventPrefix)
	publishers := events.Multi{bus}
	if cfg.AMQP.Enabled() {
		amqpPub, err := events.DialAMQP(events.AMQPConfig{
			URL:      cfg.AMQP.URL,
			Exchange: cfg.AMQP.Exchange,
			Durable:  true,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		defer amqpPub.Close()
		publishers = append(publishers, amqpPub)
		logger.Info("publishing favorites events to rabbitmq", "exchange", cfg.AMQP.Exchange)
	}

	// Favorites
	var masterKey []byte
	if cfg.MasterKey != "" {
		masterKey, err = vault.ParseKey(cfg.MasterKey)
		if err != nil {
			return fmt.Errorf("CELERIX_MASTER_KEY: %w", err)
		}
	}
	policy, err := favset.ParsePolicy(cfg.Favorites.Overflow)
	if err != nil {
		return fmt.Errorf("CELERIX_FAV_OVERFLOW: %w", err)
	}
	favOpts := favorites.DefaultOptions()
	favOpts.Max = cfg.Favorites.Max
	favOpts.Overflow = policy
	favOpts.SaveDebounce = cfg.Favorites.Debounce
	favOpts.Sync = cfg.Favorites.Sync
	favOpts.Key = cfg.Favorites.Key
	favOpts.Publisher = publishers
	favOpts.Source = "celerix-stored"

	m := metrics.New()
	registry := api.NewRegistry(api.RegistryConfig{
		Store:     store,
		Options:   favOpts,
		MasterKey: masterKey,
		Metrics:   m,
		Logger:    logger,
	})

	// Transports
	router := server.NewRouter(store, server.WithLogger(logger), server.WithObserver(m))

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	engineHTTP := gin.New()
	engineHTTP.Use(gin.Recovery())
	api.SetupRoutes(engineHTTP, &api.Handler{Store: store}, &api.FavoritesHandler{Registry: registry, Events: bus}, m.Handler())
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           engineHTTP,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("tcp engine listening", "port", cfg.Port)
		return router.Listen(cfg.Port)
	})
	g.Go(func() error {
		logger.Info("http api listening", "port", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutdown signal received, finalizing disk writes")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", "error", err)
		}
		router.Stop()
		registry.Close()
		return nil
	})

	err = g.Wait()
	if closeErr := store.Close(); closeErr != nil {
		logger.Warn("closing store", "error", closeErr)
	}
	logger.Info("persistence complete, exiting")
	return err
}
