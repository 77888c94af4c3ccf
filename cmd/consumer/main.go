package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/pickup-dispatch/internal/config"
	"github.com/example/pickup-dispatch/internal/geo"
	"github.com/example/pickup-dispatch/internal/logging"
	"github.com/example/pickup-dispatch/internal/models"
	"github.com/example/pickup-dispatch/internal/stream"
)

var (
	msgsConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total event messages consumed",
	})
	msgsInvalid = promauto.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total undecodable messages received",
	})
	redisUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "consumer_redis_updates_total",
		Help: "Total agent positions mirrored to redis",
	})
	redisErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "consumer_redis_errors_total",
		Help: "Total redis updates abandoned after retries",
	})
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConsumerConfig()
	if err != nil {
		slog.Error("invalid consumer config", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger("pickup-geo-mirror", cfg.LogLevel)

	rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	index := geo.NewRedisIndex(rc, cfg.RedisGeoKey, 0)

	go serveOps(cfg.MetricsAddr, rc, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic, GroupID: cfg.KafkaGroup, MinBytes: 10e3, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	logger.Info("consumer listening", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroup)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down consumer")
				return
			}
			logger.Warn("kafka read error", "error", err, "backoff", backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
		msgsConsumed.Inc()

		ev, err := stream.Decode(m)
		if err != nil {
			msgsInvalid.Inc()
			logger.Warn("invalid message", "error", err)
			continue
		}
		if ev.Type != models.EventLocationUpdate {
			continue
		}

		if err := mirrorWithRetry(ctx, index, ev, cfg.MaxRetries+1, 200*time.Millisecond); err != nil {
			redisErrors.Inc()
			logger.Error("redis update failed", "agent_id", ev.AgentID, "error", err)
			continue
		}
		redisUpdates.Inc()
	}
}

func serveOps(addr string, rc *redis.Client, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := rc.Ping(r.Context()).Err(); err != nil {
			http.Error(w, "redis not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	logger.Info("metrics/health listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", "error", err)
	}
}

// GeoUpserter is what the mirror writes agent positions to.
type GeoUpserter interface {
	Upsert(ctx context.Context, agentID int64, lat, lon float64, available bool) error
}

// mirrorWithRetry writes one locationUpdate to the geo index, retrying with
// doubling delay.
func mirrorWithRetry(ctx context.Context, idx GeoUpserter, ev models.Event, attempts int, delay time.Duration) error {
	if ev.Latitude == nil || ev.Longitude == nil {
		return errors.New("location event without coordinates")
	}
	available := true
	if ev.IsAvailable != nil {
		available = *ev.IsAvailable
	}
	lat, lon := ev.Latitude.InexactFloat64(), ev.Longitude.InexactFloat64()

	var err error
	for i := 0; i < attempts; i++ {
		if err = idx.Upsert(ctx, ev.AgentID, lat, lon, available); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
