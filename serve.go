package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"prism-gtd/api"
	"prism-gtd/config"
	"prism-gtd/domain"
	"prism-gtd/planner"
	"prism-gtd/storage"
	"prism-gtd/storage/memory"
	"prism-gtd/storage/postgres"
	"prism-gtd/storage/tables"
)

const shutdownTimeout = 10 * time.Second

func serveCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configFile)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

// backend is the task and settings store pair selected by STORE_BACKEND.
type backend struct {
	tasks    domain.TaskStore
	settings domain.SettingsStore
	close    func() error
}

func openBackend(ctx context.Context, cfg *config.Config) (backend, error) {
	switch cfg.Backend {
	case config.BackendTables:
		s, err := tables.New(cfg.StorageConnectionString, cfg.TasksTable, cfg.SettingsTable)
		if err != nil {
			return backend{}, err
		}
		return backend{tasks: s, settings: s, close: func() error { return nil }}, nil
	case config.BackendPostgres:
		s, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return backend{}, err
		}
		return backend{tasks: s, settings: s, close: s.Close}, nil
	}
	if cfg.DataFile == "" {
		s := memory.New()
		log.Warn("using in-memory task store; data is lost on exit")
		return backend{tasks: s, settings: s, close: func() error { return nil }}, nil
	}
	s, err := memory.Open(cfg.DataFile)
	if err != nil {
		return backend{}, err
	}
	return backend{tasks: s, settings: s, close: func() error { return nil }}, nil
}

func newAuth(cfg config.Auth) (*api.Auth, error) {
	if cfg.TestMode {
		log.Warn("AUTH0_TEST_MODE enabled; accepting HS256 test tokens")
		return api.NewTestAuth([]byte(cfg.TestSecret), cfg.Audience, ""), nil
	}
	jwks, err := keyfunc.Get(cfg.JWKSURL(), keyfunc.Options{RefreshInterval: time.Hour, RefreshUnknownKID: true})
	if err != nil {
		return nil, err
	}
	return api.NewAuth(jwks, cfg.Audience, cfg.Issuer()), nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	be, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := be.close(); cerr != nil {
			log.WithError(cerr).Warn("close store")
		}
	}()

	var rc *redis.Client
	if cfg.RedisConnectionString != "" {
		opts, err := config.RedisOptions(cfg.RedisConnectionString)
		if err != nil {
			return err
		}
		rc = redis.NewClient(opts)
		defer rc.Close()
	}
	settings := storage.NewSettingsCache(be.settings, rc, cfg.SettingsCacheTTL)

	var deduper api.Deduper
	if rc != nil {
		deduper = api.NewRedisDeduper(rc, cfg.DeduperTTL)
	}

	var opts []planner.Option
	if cfg.EventsQueue != "" {
		pub, err := tables.NewQueuePublisher(cfg.StorageConnectionString, cfg.EventsQueue)
		if err != nil {
			return err
		}
		opts = append(opts, planner.WithPublisher(pub))
	}
	svc := planner.New(be.tasks, opts...)

	auth, err := newAuth(cfg.Auth)
	if err != nil {
		return err
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodPut, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
	}))
	api.Register(e, svc, settings, auth, deduper, log.StandardLogger(), cfg.Defaults())

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(log.Fields{"addr": cfg.ListenAddr, "backend": cfg.Backend}).Info("listening")
		errCh <- e.Start(cfg.ListenAddr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	log.Info("shutting down")
	return e.Shutdown(shutdownCtx)
}
