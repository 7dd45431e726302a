package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"

	"github.com/relaykit/eventrelay/internal/adapters/dedup"
	"github.com/relaykit/eventrelay/internal/adapters/messaging"
	"github.com/relaykit/eventrelay/internal/adapters/outbox"
	"github.com/relaykit/eventrelay/internal/adapters/repository"
	"github.com/relaykit/eventrelay/internal/adapters/sink"
	"github.com/relaykit/eventrelay/internal/config"
	"github.com/relaykit/eventrelay/internal/core/ports"
	"github.com/relaykit/eventrelay/internal/core/registry"
)

func init() {
	// Local development convenience; production sets real env vars.
	_ = godotenv.Load()
}

func main() {
	log.Println("Starting outbox relay service...")

	cfg := config.LoadRelayConfig()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("relay: failed to open database: %v", err)
	}
	defer db.Close()

	store := repository.NewOutboxRepository(db)

	openSink := func(ctx context.Context) (ports.SinkClient, error) {
		return sink.Open(ctx, cfg)
	}

	var notifier ports.BatchNotifier
	if cfg.RabbitMQURL != "" {
		broker, err := messaging.NewRabbitMQBroker(cfg.RabbitMQURL, cfg.NotifyQueueName)
		if err != nil {
			log.Printf("relay: WARNING - batch notifications disabled: %v", err)
		} else {
			defer broker.Close()
			notifier = broker
			log.Println("relay: connected to RabbitMQ")
		}
	}

	var marker ports.DedupMarker
	if cfg.RedisAddress != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       0,
		})
		defer redisClient.Close()
		marker = dedup.NewRedisMarker(redisClient)
	}

	worker := outbox.NewRelay(cfg, store, registry.Default(), openSink, notifier, marker)
	if os.Getenv("RELAY_TRACE") == "1" {
		worker.WithTracer(outbox.LogTracer{})
	}

	// Health and metrics server
	healthMux := http.NewServeMux()
	healthMux.Handle("/metrics", promhttp.Handler())
	healthMux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		status := "UP"
		httpStatus := http.StatusOK

		if !worker.IsHealthy() {
			status = "DOWN"
			httpStatus = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(httpStatus)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":    status,
			"component": "outbox-relay",
		})
	})
	healthMux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		status := "UP"
		httpStatus := http.StatusOK

		if !worker.IsReady() {
			status = "DOWN"
			httpStatus = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(httpStatus)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":    status,
			"component": "outbox-relay",
		})
	})

	healthServer := &http.Server{
		Addr:    ":8090",
		Handler: healthMux,
	}

	go func() {
		log.Println("relay: starting health server on :8090")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("relay: health server error: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)

	go func() {
		if err := worker.Start(ctx); err != nil && err != context.Canceled {
			log.Printf("relay: worker error: %v", err)
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Printf("relay: received signal %v, initiating shutdown...", sig)
		cancel()

	case err := <-errChan:
		log.Printf("relay: fatal error, shutting down: %v", err)
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("relay: error shutting down health server: %v", err)
	}

	log.Println("relay: shutdown complete")
}
