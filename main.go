package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskboard/api"
	"taskboard/board"
	"taskboard/config"
	"taskboard/domain"
	"taskboard/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	log.SetLevel(cfg.Level())
	if cfg.LogJSON {
		log.SetFormatter(&log.JSONFormatter{})
	}
	logger := log.StandardLogger()

	store, closeStore, err := openStore(cfg)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	var docs board.DocumentStore = store
	if cfg.ActivityQueue != "" {
		queue, err := storage.NewQueueSender(cfg.ConnectionString, cfg.ActivityQueue)
		if err != nil {
			log.Fatalf("activity queue: %v", err)
		}
		docs = storage.NewActivityPublisher(docs, queue, logger)
	}

	var deduper api.Deduper
	if opts := cfg.RedisOptions(); opts != nil {
		rc := redis.NewClient(opts)
		defer rc.Close()
		if cfg.QueryCacheTTL > 0 {
			docs = storage.NewCache(docs, rc, cfg.QueryCacheTTL)
		}
		deduper = api.NewRedisDeduper(rc, cfg.DeduperTTL)
	}

	auth, err := newAuth(cfg)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	var sessionOpts []api.SessionsOption
	if cfg.PersistAnonymous {
		sessionOpts = append(sessionOpts, api.WithBoardStore(storage.NewBoardSnapshots(store)))
	}

	policy := cfg.Policy()
	sessions := api.NewSessions(func(identity board.IdentityProvider, n board.Notifier) *board.Engine {
		return board.New(docs, identity,
			board.WithPolicy(policy),
			board.WithLogger(logger),
			board.WithNotifier(board.MultiNotifier{board.LogNotifier{Logger: logger}, n}),
			board.WithWriteTimeout(cfg.RemoteWriteTimeout),
		)
	}, cfg.SessionIdleTTL, logger, sessionOpts...)
	sessions.StartJanitor(cfg.SessionSweepInterval)

	e := echo.New()
	e.HideBanner = true
	e.JSONSerializer = api.SonicSerializer{}
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:  cfg.AllowOrigins,
		AllowHeaders:  []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "X-Board-Session", "Idempotency-Key"},
		ExposeHeaders: []string{"X-Board-Session"},
	}))
	api.Register(e, sessions, auth, deduper, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.WithFields(log.Fields{"port": cfg.Port, "store": cfg.Store, "policy": policy}).Info("taskboard listening")
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server shutdown")
	}
	// Closing sessions drains queued remote writes.
	sessions.Close()
	if err := closeStore(); err != nil {
		log.WithError(err).Warn("close storage")
	}
}

func openStore(cfg config.Config) (board.DocumentStore, func() error, error) {
	switch cfg.Store {
	case config.StoreTable:
		ts, err := storage.NewTableStore(cfg.ConnectionString, map[string]string{
			domain.TasksCollection:   cfg.TasksTable,
			storage.BoardsCollection: cfg.BoardsTable,
		})
		if err != nil {
			return nil, nil, err
		}
		return ts, func() error { return nil }, nil
	case config.StoreSQLite:
		ss, err := storage.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return ss, ss.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown store %q", cfg.Store)
}

func newAuth(cfg config.Config) (api.Authenticator, error) {
	opts := []api.AuthOption{api.WithKeyCacheTTL(cfg.JWKSCacheTTL)}
	switch {
	case cfg.LocalAuthMode != "":
		opts = append(opts, api.WithSharedSecret([]byte(cfg.LocalAuthSecret)))
		return api.NewAuth(nil, cfg.Auth0Audience, "", opts...), nil
	case cfg.Auth0Domain != "":
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.Auth0Domain)
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
			RefreshErrorHandler: func(err error) {
				log.WithError(err).Warn("jwks refresh failed")
			},
		})
		if err != nil {
			return nil, fmt.Errorf("jwks: %w", err)
		}
		return api.NewAuth(jwks, cfg.Auth0Audience, "https://"+cfg.Auth0Domain+"/", opts...), nil
	}
	log.Warn("no authentication configured; every request is anonymous")
	return nil, nil
}
