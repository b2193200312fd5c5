// Worker consumes security events from Kafka and pushes them to Loki.
// Set KAFKA_BROKERS, SECURITY_EVENTS_TOPIC, KAFKA_GROUP_ID, and LOKI_URL.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	"sessionguard/backend/internal/config"
	"sessionguard/backend/internal/telemetry/loki"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}

	brokers := cfg.KafkaBrokersList()
	if len(brokers) == 0 {
		logger.Error("worker: KAFKA_BROKERS is required")
		os.Exit(1)
	}
	client, err := loki.NewClient(cfg.LokiURL, nil)
	if err != nil {
		logger.Error("worker: LOKI_URL is required", "error", err)
		os.Exit(1)
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          cfg.SecurityEventsTopic,
		GroupID:        cfg.KafkaGroupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        1 * time.Second,
		CommitInterval: time.Second,
	})
	defer reader.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("worker: consuming", "topic", cfg.SecurityEventsTopic, "group", cfg.KafkaGroupID, "loki", cfg.LokiURL)

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("worker: stopped")
				return
			}
			logger.Warn("worker: kafka read error", "error", err)
			continue
		}

		pushCtx, pushCancel := context.WithTimeout(ctx, 10*time.Second)
		if err := client.PushEventJSON(pushCtx, msg.Value); err != nil {
			logger.Warn("worker: loki push failed", "partition", msg.Partition, "offset", msg.Offset, "error", err)
		}
		pushCancel()
	}
}
