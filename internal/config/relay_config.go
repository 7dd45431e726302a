package config

import (
	"os"
	"strconv"
	"time"
)

// RelayConfig holds configuration for the outbox relay service
// (cmd/relay). This is a minimal config that only includes what the
// relay needs — it never loads the API process's JWT keys.
type RelayConfig struct {
	DatabaseURL string
	Environment string

	// TickInterval is the period between relay ticks, default 5s.
	TickInterval time.Duration
	// BatchLimit bounds rows claimed per tick, keeping tick duration
	// and memory bounded under backlog. A value <= 0 claims every
	// pending row.
	BatchLimit int
	// ChunkSize bounds records per sink insert request.
	ChunkSize int

	SinkHost     string
	SinkPort     int
	SinkDatabase string
	SinkTable    string
	SinkUsername string
	SinkPassword string

	// RabbitMQURL, if set, enables the best-effort "batch delivered"
	// side notification. Empty disables it without affecting the
	// relay's correctness.
	RabbitMQURL string
	// NotifyQueueName is the queue the batch-delivered notification is
	// published to.
	NotifyQueueName string
	// RedisAddress, if set, enables the advisory dedup marker. Empty
	// disables it without affecting the relay's correctness.
	RedisAddress  string
	RedisPassword string
}

func LoadRelayConfig() *RelayConfig {
	dbURL := os.Getenv("DB_CONNECTION_STRING")
	if dbURL == "" {
		panic("DB_CONNECTION_STRING environment variable is required")
	}

	environment := os.Getenv("ENVIRONMENT")
	if environment == "" {
		environment = "Local"
	}

	tickInterval := 5 * time.Second
	if raw := os.Getenv("TICK_INTERVAL"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			tickInterval = d
		}
	}

	batchLimit := 500
	if raw := os.Getenv("BATCH_LIMIT"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			batchLimit = n
		}
	}

	chunkSize := 1000
	if raw := os.Getenv("CHUNK_SIZE"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			chunkSize = n
		}
	}

	sinkHost := os.Getenv("SINK_HOST")
	if sinkHost == "" {
		panic("SINK_HOST environment variable is required")
	}

	sinkPort := 9000
	if raw := os.Getenv("SINK_PORT"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			sinkPort = n
		}
	}

	sinkTable := os.Getenv("SINK_TABLE_NAME")
	if sinkTable == "" {
		sinkTable = "event_log"
	}

	sinkDatabase := os.Getenv("SINK_DATABASE")
	if sinkDatabase == "" {
		sinkDatabase = "default"
	}

	notifyQueue := os.Getenv("NOTIFY_QUEUE_NAME")
	if notifyQueue == "" {
		notifyQueue = "outbox_batches"
	}

	return &RelayConfig{
		DatabaseURL:     dbURL,
		Environment:     environment,
		TickInterval:    tickInterval,
		BatchLimit:      batchLimit,
		ChunkSize:       chunkSize,
		SinkHost:        sinkHost,
		SinkPort:        sinkPort,
		SinkDatabase:    sinkDatabase,
		SinkTable:       sinkTable,
		SinkUsername:    os.Getenv("SINK_USERNAME"),
		SinkPassword:    os.Getenv("SINK_PASSWORD"),
		RabbitMQURL:     os.Getenv("RABBITMQ_URL"),
		NotifyQueueName: notifyQueue,
		RedisAddress:    os.Getenv("REDIS_ADDRESS"),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
	}
}
