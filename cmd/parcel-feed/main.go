// parcel-feed tails the package.updated topic and prints every update.
// Handy for demos and for checking that notifications actually flow.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/parcelwatch/parcelwatch/config"
	"github.com/parcelwatch/parcelwatch/internal/broker/kafka"
	"github.com/parcelwatch/parcelwatch/internal/broker/messages"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("failed to parse config, %v", err))
	}

	topic := cfg.Kafka.PackageUpdatedTopicName
	if topic == "" {
		topic = "package.updated"
	}
	groupID := os.Getenv("groupID")
	if groupID == "" {
		groupID = "parcel-feed"
	}

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	consumer := kafka.NewConsumer(brokers, topic, groupID)
	defer consumer.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("tailing package updates", "topic", topic, "group_id", groupID)

	err = consumer.Consume(ctx, func(key, value []byte) error {
		var upd messages.PackageUpdated
		if err := json.Unmarshal(value, &upd); err != nil {
			slog.Error("skip malformed update", "key", string(key), "error", err.Error())
			return nil
		}
		slog.Info("package updated",
			"tracking_number", upd.TrackingNumber,
			"status", upd.Status,
			"status_text", upd.StatusText,
			"events", upd.EventCount,
			"source", upd.Source,
		)
		return nil
	})
	if err != nil && ctx.Err() == nil {
		panic(err)
	}
}
