package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Tyrowin/projectpulse/internal/auth"
	"github.com/Tyrowin/projectpulse/internal/broadcast"
	"github.com/Tyrowin/projectpulse/internal/relay"
	"github.com/Tyrowin/projectpulse/internal/server"
	"github.com/Tyrowin/projectpulse/internal/store"
	inmemdb "github.com/Tyrowin/projectpulse/internal/store/inmem"
	"github.com/Tyrowin/projectpulse/internal/store/postgres"
)

const shutdownTimeout = 10 * time.Second

type backend interface {
	store.NotificationStore
	store.ProjectStore
	store.Directory
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "projectpulse: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	config, err := server.NewConfigFromEnv(".")
	if err != nil {
		return err
	}

	logger, err := newLogger(config)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting ProjectPulse broadcast server", zap.String("env", config.Env))

	var db backend
	if config.DatabaseURL != "" {
		pg, err := postgres.Open(config.DatabaseURL)
		if err != nil {
			return err
		}
		defer func() { _ = pg.Close() }()
		db = pg
	} else {
		logger.Warn("DATABASE_URL not set; using empty in-memory store")
		db = inmemdb.New()
	}

	registry := broadcast.NewRegistry(logger.Named("registry"))
	verifier := auth.NewJWTVerifier([]byte(config.JWTSecret), db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	checks := map[string]server.HealthCheck{}
	if config.RedisURL != "" {
		opts, err := redis.ParseURL(config.RedisURL)
		if err != nil {
			return err
		}
		client := redis.NewClient(opts)
		defer func() { _ = client.Close() }()

		rel := relay.New(client, config.RedisChannel, registry, logger.Named("relay"))
		if err := rel.Start(ctx); err != nil {
			return err
		}
		checks["redis"] = rel.Ping
	}

	srv := server.New(config, server.Dependencies{
		Registry:      registry,
		Authenticator: auth.NewAuthenticator(verifier, logger.Named("auth")),
		Notifications: db,
		Projects:      db,
		HealthChecks:  checks,
		Logger:        logger,
	})
	srv.Start()

	httpServer := server.CreateServer(config.Port, srv.Routes())

	errCh := make(chan error, 1)
	go func() {
		if err := server.StartServer(httpServer, logger); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received signal", zap.Stringer("signal", sig))
	case err := <-errCh:
		logger.Error("HTTP server failed", zap.Error(err))
	}

	_ = server.ShutdownServer(httpServer, shutdownTimeout, logger)
	cancel()
	if err := srv.Shutdown(shutdownTimeout); err != nil {
		logger.Warn("hub shutdown", zap.Error(err))
	}
	return nil
}

func newLogger(config *server.Config) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(config.LogLevel)
	if err != nil {
		return nil, err
	}

	zc := zap.NewProductionConfig()
	if config.Env == "DEV" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}
