package main

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo-contrib/pprof"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"taskboard-api/api"
	"taskboard-api/config"
	"taskboard-api/domain"
	"taskboard-api/notify"
	"taskboard-api/storage"
	"taskboard-api/telemetry"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.ValidateServe(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := log.New()
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}

	tp := telemetry.Setup(logger)
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Warnf("tracer shutdown: %v", err)
		}
	}()

	store, err := storage.New(cfg.Storage.ConnectionString, cfg.Storage.TasksTable)
	if err != nil {
		return err
	}

	var (
		sinks   []notify.Sink
		deduper api.Deduper
		events  api.EventSource
	)
	if cfg.Redis.ConnectionString != "" {
		opts, err := redisOptions(cfg.Redis.ConnectionString)
		if err != nil {
			return err
		}
		rc := redis.NewClient(opts)
		defer rc.Close()
		deduper = api.NewRedisDeduper(rc, cfg.Redis.DeduperTTL.Duration)
		rs := notify.NewRedisSink(rc, cfg.Redis.EventsChannel)
		sinks = append(sinks, rs)
		events = rs
	} else {
		logger.Warn("no redis configured, idempotency keys and pub/sub notifications and the event stream are disabled")
	}
	if cfg.Storage.EventsQueue != "" {
		qs, err := notify.NewQueueSink(cfg.Storage.ConnectionString, cfg.Storage.EventsQueue)
		if err != nil {
			return err
		}
		sinks = append(sinks, qs)
	}

	dispatcher := notify.NewDispatcher(logger, notify.Options{
		Workers:        cfg.Events.Workers,
		Buffer:         cfg.Events.Buffer,
		SendTimeout:    cfg.Events.SendTimeout.Duration,
		HandoffTimeout: cfg.Events.HandoffTimeout.Duration,
	}, sinks...)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := dispatcher.Close(closeCtx); err != nil {
			logger.Warnf("event dispatcher did not drain: %v", err)
		}
	}()

	repo := domain.NewRepository(store, domain.WithPublisher(dispatcher), domain.WithTracerProvider(tp))
	coord := domain.NewCoordinator(repo,
		domain.WithConcurrency(cfg.Reorder.Concurrency),
		domain.WithCoordinatorTracerProvider(tp))

	auth, jwks, err := newAuth(cfg)
	if err != nil {
		return err
	}
	if jwks != nil {
		defer jwks.EndBackground()
	}

	e := echo.New()
	e.HideBanner = true
	e.JSONSerializer = api.SonicSerializer{}
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, api.IdempotencyHeader},
	}))
	e.Use(api.GzipRequestMiddleware(0))
	if cfg.Debug {
		pprof.Register(e)
	}

	api.Register(e, api.Services{Tasks: repo, Reorder: coord, Auth: auth, Deduper: deduper, Events: events}, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("listening on %s", cfg.ListenAddr)
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

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

func newAuth(cfg *config.Config) (*api.Auth, *keyfunc.JWKS, error) {
	if cfg.LocalAuth() {
		auth, err := api.NewAuth(nil, api.AuthOptions{
			Audience:     cfg.Auth.Audience,
			Issuer:       cfg.Issuer(),
			SharedSecret: cfg.Auth.SharedSecret,
		})
		return auth, nil, err
	}
	jwks, err := keyfunc.Get(cfg.JWKSURL(), keyfunc.Options{
		RefreshInterval:   time.Hour,
		RefreshUnknownKID: true,
	})
	if err != nil {
		return nil, nil, err
	}
	auth, err := api.NewAuth(jwks, api.AuthOptions{
		Audience:    cfg.Auth.Audience,
		Issuer:      cfg.Issuer(),
		KeyCacheTTL: cfg.Auth.JWKSCacheTTL.Duration,
	})
	if err != nil {
		jwks.EndBackground()
		return nil, nil, err
	}
	return auth, jwks, nil
}

// redisOptions accepts a redis:// URL or the "host:port,password=...,ssl=true"
// form Azure Cache for Redis hands out.
func redisOptions(conn string) (*redis.Options, error) {
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	addr := strings.TrimSpace(parts[0])
	if addr == "" || strings.Contains(addr, "://") {
		return nil, errors.New("invalid REDIS_CONNECTION_STRING")
	}
	opts := &redis.Options{Addr: addr}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(strings.TrimSpace(kv[1]), "true") {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts, nil
}
