package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/example/pickup-dispatch/internal/accounts"
	"github.com/example/pickup-dispatch/internal/agents"
	"github.com/example/pickup-dispatch/internal/config"
	"github.com/example/pickup-dispatch/internal/dispatch"
	"github.com/example/pickup-dispatch/internal/eta"
	"github.com/example/pickup-dispatch/internal/geo"
	httpapi "github.com/example/pickup-dispatch/internal/http"
	"github.com/example/pickup-dispatch/internal/jobs"
	"github.com/example/pickup-dispatch/internal/live"
	"github.com/example/pickup-dispatch/internal/logging"
	"github.com/example/pickup-dispatch/internal/models"
	"github.com/example/pickup-dispatch/internal/orders"
	"github.com/example/pickup-dispatch/internal/seed"
	"github.com/example/pickup-dispatch/internal/storage"
	"github.com/example/pickup-dispatch/internal/stream"
)

const migrationFile = "001_create_pickup_archive.sql"

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadServerConfig()
	if err != nil {
		slog.Error("invalid server config", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger("pickup-dispatch", cfg.LogLevel)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.ServerConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := storage.NewMemoryStore()
	seed.Categories(store)

	hub := live.NewHub(cfg.SubscriberBuffer, logger)
	registry := agents.NewRegistry(store, store, hub, logger)

	policy, err := dispatch.PolicyByName(cfg.DispatchPolicy)
	if err != nil {
		return err
	}
	engine := orders.NewEngine(orders.Deps{
		Orders:     store,
		Users:      store,
		Categories: store,
		Agents:     registry,
		Policy:     policy,
		Publisher:  hub,
		Logger:     logger,
	})
	acc := accounts.NewService(store, store, logger)

	if cfg.SeedDemo {
		if err := seed.Demo(acc, store, store); err != nil {
			return err
		}
		logger.Info("demo data seeded")
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rc.Close()
		index := geo.NewRedisIndex(rc, cfg.RedisGeoKey, 0)
		registry.WithIndex(index)
		// Without Kafka there is no consumer to mirror positions, so the
		// server feeds the index itself.
		if len(cfg.KafkaBrokers) == 0 {
			sink := live.SinkFunc{SinkName: "redis-geo", Fn: geoMirror(index)}
			g.Go(func() error { return live.RunSink(gctx, hub, sink, 0, logger) })
		}
		logger.Info("redis geo index enabled", "addr", cfg.RedisAddr, "key", cfg.RedisGeoKey)
	}

	if len(cfg.KafkaBrokers) > 0 {
		kp := stream.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		g.Go(func() error { return live.RunSink(gctx, hub, kp, 0, logger) })
		logger.Info("kafka event stream enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	if cfg.PGDSN != "" {
		archive, db, err := storage.NewPostgresArchive(cfg.PGDSN)
		if err != nil {
			return err
		}
		defer db.Close()
		if cfg.RunMigrations {
			if err := migrate(ctx, db, logger); err != nil {
				return err
			}
		}
		archive.WithOrderLookup(engine.GetOrder)
		engine.WithArchiver(archive)
		g.Go(func() error { return live.RunSink(gctx, hub, archive, 0, logger) })
		logger.Info("postgres archive enabled")
	}

	var estimator eta.Estimator = eta.StraightLine{SpeedMps: cfg.ETASpeedMps}
	if cfg.OSRMURL != "" {
		estimator = eta.WithFallback{
			Primary:  eta.NewOSRMClient(cfg.OSRMURL),
			Fallback: estimator,
			Cache:    eta.NewCache(cfg.ETACacheTTL),
		}
		logger.Info("osrm eta enabled", "endpoint", cfg.OSRMURL)
	}

	statsJob := jobs.NewStatsJob(engine, registry, cfg.StatsSchedule, logger)
	if err := statsJob.Start(); err != nil {
		return err
	}
	defer statsJob.Stop()

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.NewServer(httpapi.Deps{
			Orders:      engine,
			Agents:      registry,
			Accounts:    acc,
			Hub:         hub,
			ETA:         estimator,
			NearbyLimit: cfg.NearbyLimit,
			Logger:      logger,
		}),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	g.Go(func() error {
		logger.Info("pickup-dispatch listening", "addr", cfg.HTTPAddr, "policy", cfg.DispatchPolicy)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		hub.Close()
		logger.Info("http server stopped")
		return err
	})

	return g.Wait()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func migrate(ctx context.Context, db execer, logger *slog.Logger) error {
	b, err := os.ReadFile(filepath.Join("migrations", migrationFile))
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, string(b)); err != nil {
		return err
	}
	logger.Info("migration applied", "file", migrationFile)
	return nil
}

func geoMirror(index *geo.RedisIndex) func(context.Context, models.Event) error {
	return func(ctx context.Context, ev models.Event) error {
		if ev.Type != models.EventLocationUpdate || ev.Latitude == nil || ev.Longitude == nil {
			return nil
		}
		available := ev.IsAvailable == nil || *ev.IsAvailable
		return index.Upsert(ctx, ev.AgentID, ev.Latitude.InexactFloat64(), ev.Longitude.InexactFloat64(), available)
	}
}
