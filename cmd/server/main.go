// Command server runs the wabridge gateway: websocket source in, normalized
// and identity-resolved events out to webhook subscribers, with an
// operational HTTP surface for health, metrics and queries.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"wabridge/internal/dispatch"
	dispatchmetrics "wabridge/internal/dispatch/metrics"
	"wabridge/internal/domain"
	"wabridge/internal/identity"
	identitymetrics "wabridge/internal/identity/metrics"
	"wabridge/internal/messages"
	"wabridge/internal/normalizer"
	normalizermetrics "wabridge/internal/normalizer/metrics"
	"wabridge/internal/pipeline"
	"wabridge/internal/platform/config"
	"wabridge/internal/platform/httpserver"
	"wabridge/internal/platform/logger"
	platformredis "wabridge/internal/platform/redis"
	"wabridge/internal/sink/kafka"
	"wabridge/internal/source"
	httptransport "wabridge/internal/transport/http"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	cache, closeCache, err := buildIdentityCache(cfg, redisClient)
	if err != nil {
		return err
	}
	defer closeCache()

	resolver, err := identity.NewResolver(cache,
		identity.WithLogger(log),
		identity.WithMetrics(identitymetrics.New()),
	)
	if err != nil {
		return err
	}

	subscriptions, err := dispatch.NewSubscriptionStore(cfg.SubscriptionsPath,
		dispatch.WithStoreLogger(log))
	if err != nil {
		return err
	}
	stopWatch, err := subscriptions.Watch()
	if err != nil {
		return fmt.Errorf("watch subscriptions: %w", err)
	}
	defer func() { _ = stopWatch() }()

	var outcomes dispatch.OutcomeStore
	if redisClient != nil {
		outcomes = dispatch.NewRedisOutcomeStore(redisClient.Client)
	} else {
		outcomes = dispatch.NewMemoryOutcomeStore()
	}

	dispatcherOpts := []dispatch.DispatcherOption{
		dispatch.WithLogger(log),
		dispatch.WithMetrics(dispatchmetrics.New()),
		dispatch.WithTimeout(cfg.DispatchTimeout),
		dispatch.WithConcurrency(cfg.DispatchConcurrency),
	}
	if len(cfg.KafkaSeeds) > 0 {
		sink, err := kafka.NewPublisher(ctx, cfg.KafkaSeeds, cfg.KafkaTopic, kafka.WithLogger(log))
		if err != nil {
			return fmt.Errorf("connect kafka: %w", err)
		}
		defer sink.Close()
		dispatcherOpts = append(dispatcherOpts, dispatch.WithSink(sink))
	}
	dispatcher, err := dispatch.NewDispatcher(subscriptions, outcomes, dispatcherOpts...)
	if err != nil {
		return err
	}

	pipe, err := pipeline.New(
		normalizer.New(cfg.Instance,
			normalizer.WithWindow(cfg.BufferWindow),
			normalizer.WithLogger(log),
			normalizer.WithMetrics(normalizermetrics.New()),
		),
		resolver,
		dispatcher,
		pipeline.WithLogger(log),
	)
	if err != nil {
		return err
	}

	msgsHandler, closeMsgs, err := buildMessagesHandler(cfg, log)
	if err != nil {
		return err
	}
	defer closeMsgs()

	checks := map[string]httptransport.HealthChecker{}
	if redisClient != nil {
		checks["redis"] = redisClient
	}
	opsHandler := httptransport.New(outcomes, checks, log)
	srv := httpserver.New(cfg.Addr, httptransport.NewRouter(opsHandler, msgsHandler, cfg.APIKeyHash))

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return dispatcher.Run(ctx) })
	group.Go(func() error { return pipe.Run(ctx) })
	if cfg.SocketURL != "" {
		client, err := source.NewClient(cfg.SocketURL, pipe, source.WithLogger(log))
		if err != nil {
			return err
		}
		group.Go(func() error { return client.Run(ctx) })
	} else {
		log.Warn("no socket URL configured, websocket source disabled")
	}
	group.Go(func() error {
		log.Info("starting wabridge", "addr", cfg.Addr, "instance", cfg.Instance)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

// buildIdentityCache selects the identity cache backend. The returned close
// func is always safe to call.
func buildIdentityCache(cfg config.Config, redisClient *platformredis.Client) (identity.Cache, func(), error) {
	noop := func() {}
	switch cfg.IdentityBackend {
	case "memory":
		return identity.NewMemoryCache(), noop, nil
	case "redis":
		if redisClient == nil {
			return nil, noop, domain.NewConfigurationError("identity backend", "redis backend requires WABRIDGE_REDIS_URL")
		}
		return identity.NewRedisCache(redisClient.Client), noop, nil
	case "postgres":
		if cfg.IdentityDSN == "" {
			return nil, noop, domain.NewConfigurationError("identity backend", "postgres backend requires WABRIDGE_IDENTITY_DSN")
		}
		db, err := sql.Open("pgx", cfg.IdentityDSN)
		if err != nil {
			return nil, noop, fmt.Errorf("open identity database: %w", err)
		}
		return identity.NewPostgresCache(db), func() { _ = db.Close() }, nil
	default:
		return nil, noop, domain.NewConfigurationError("identity backend",
			fmt.Sprintf("unknown backend %q", cfg.IdentityBackend))
	}
}

// buildMessagesHandler opens the message store when a DSN is configured.
// Without one the message endpoints are simply not mounted.
func buildMessagesHandler(cfg config.Config, log *slog.Logger) (*httptransport.MessagesHandler, func(), error) {
	noop := func() {}
	if cfg.MessagesDSN == "" {
		return nil, noop, nil
	}

	var driver string
	var dialect messages.Dialect
	switch cfg.MessagesDialect {
	case "postgres":
		driver, dialect = "postgres", messages.DialectPostgres
	case "mysql":
		driver, dialect = "mysql", messages.DialectMySQL
	default:
		return nil, noop, domain.NewConfigurationError("messages dialect",
			fmt.Sprintf("unknown dialect %q", cfg.MessagesDialect))
	}

	db, err := sql.Open(driver, cfg.MessagesDSN)
	if err != nil {
		return nil, noop, fmt.Errorf("open message database: %w", err)
	}
	adapter, err := messages.NewAdapter(db, dialect, messages.WithLogger(log))
	if err != nil {
		_ = db.Close()
		return nil, noop, err
	}
	return httptransport.NewMessagesHandler(adapter, log), func() { _ = db.Close() }, nil
}
