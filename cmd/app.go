package main

import (
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"github.com/dtroode/storefront-session/internal/api/rest"
	"github.com/dtroode/storefront-session/internal/config"
	"github.com/dtroode/storefront-session/internal/logger"
	"github.com/dtroode/storefront-session/internal/metrics"
	"github.com/dtroode/storefront-session/internal/model"
	"github.com/dtroode/storefront-session/internal/repository/postgres"
	"github.com/dtroode/storefront-session/internal/repository/redis"
	"github.com/dtroode/storefront-session/internal/session"
	"github.com/dtroode/storefront-session/internal/storage/file"
	"github.com/dtroode/storefront-session/internal/storage/memory"
	storage "github.com/dtroode/storefront-session/internal/storage/minio"
)

// app holds everything a command needs to act on the session.
type app struct {
	cfg     *config.Config
	logger  *logger.Logger
	store   model.TokenStore
	client  *rest.Client
	manager *session.Manager
	closers []func() error
}

func newApp(ctx context.Context, reg prometheus.Registerer) (*app, error) {
	cfg, err := config.NewConfig()
	if err != nil {
		return nil, err
	}
	log := logger.New(cfg.LogLevel)

	a := &app{cfg: cfg, logger: log}

	store, err := a.openStore(ctx)
	if err != nil {
		a.close()
		return nil, err
	}
	a.store = store

	client, err := rest.NewClient(cfg.API.BaseURL, cfg.API.Timeout, log)
	if err != nil {
		a.close()
		return nil, err
	}
	a.client = client

	opts := session.Options{
		RefreshSkew:    cfg.Session.RefreshSkew,
		RefreshTimeout: cfg.Session.RefreshTimeout,
		LogoutTimeout:  cfg.Session.LogoutTimeout,
	}
	if reg != nil {
		recorder, err := metrics.NewRecorder(reg)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
		opts.Metrics = recorder
	}

	a.manager = session.NewManager(store, client, session.NewEndpoints(cfg.API.BaseURL, cfg.API.PublicEndpoints), log, opts)
	a.manager.SetProfileFetcher(client.Authorized(a.manager))
	a.manager.OnSessionEnded(session.RedirectOnEnd(newTerminalNavigator(log), cfg.Session.EntryPoint))

	return a, nil
}

func (a *app) openStore(ctx context.Context) (model.TokenStore, error) {
	cfg := a.cfg

	switch cfg.Store.Kind {
	case config.StoreMemory:
		return memory.NewStore(), nil

	case config.StoreFile:
		return file.NewStore(cfg.Store.FilePath, a.logger), nil

	case config.StorePostgres:
		db, err := postgres.NewConnection(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		return postgres.NewSessionTokenRepository(db, cfg.Store.SessionID), nil

	case config.StoreRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, client.Close)
		repo := redis.NewSessionTokenRepository(client, cfg.Redis.Prefix, cfg.Store.SessionID)
		if err := repo.Ping(ctx); err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		return repo, nil

	case config.StoreMinio:
		minioClient, err := minio.New(cfg.Storage.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.Storage.AccessKey, cfg.Storage.SecretKey, ""),
			Secure: cfg.Storage.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create minio client: %w", err)
		}
		storageClient, err := storage.NewClient(ctx, minioClient, cfg.Storage.Bucket)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage client: %w", err)
		}
		return storage.NewTokenStore(storageClient, "sessions", cfg.Store.SessionID), nil
	}

	return nil, fmt.Errorf("unknown store kind %q", cfg.Store.Kind)
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Error("failed to close resource", "error", err)
		}
	}
	a.closers = nil
}

// terminalNavigator tells the user to log in again; a CLI has no current page.
type terminalNavigator struct {
	logger *logger.Logger
}

func newTerminalNavigator(logger *logger.Logger) *terminalNavigator {
	return &terminalNavigator{logger: logger}
}

func (n *terminalNavigator) Location() string {
	return ""
}

func (n *terminalNavigator) Redirect(path string) {
	n.logger.Warn("Session ended, log in again", "entry_point", path)
}
