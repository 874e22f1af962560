// Package events publishes price updates to a Redis stream so downstream
// consumers (repricing, dashboards) react without polling the coordinator.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smazka/pricewatch/internal/model"
)

const DefaultStream = "stream:price_updates"

// Publisher writes PRICE_RESOLVED events. Nil-safe: a nil publisher drops
// everything, keeping the event path optional.
type Publisher struct {
	client *redis.Client
	stream string
	logger *slog.Logger
}

func NewPublisher(client *redis.Client, stream string, logger *slog.Logger) *Publisher {
	if stream == "" {
		stream = DefaultStream
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		client: client,
		stream: stream,
		logger: logger.With("component", "event_publisher"),
	}
}

// PublishOutcomes appends one stream entry per successful outcome.
// Best effort: publish failures are logged, never surfaced to the scrape path.
func (p *Publisher) PublishOutcomes(ctx context.Context, taskID string, results []model.Outcome) {
	if p == nil || p.client == nil {
		return
	}
	for _, r := range results {
		if !r.Success {
			continue
		}
		err := p.client.XAdd(ctx, &redis.XAddArgs{
			Stream: p.stream,
			Values: map[string]any{
				"event_type": "PRICE_RESOLVED",
				"task_id":    taskID,
				"sku":        r.SKU,
				"price":      r.Price,
				"source":     r.Source,
				"ts":         time.Now().UTC().Format(time.RFC3339),
			},
		}).Err()
		if err != nil {
			p.logger.Warn("failed to publish price event", "sku", r.SKU, "error", err)
		}
	}
}
