package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const latestKey = "vehown:latest"

// RunSummary announces a finished model application run.
type RunSummary struct {
	RunID      string             `json:"run_id"`
	TS         time.Time          `json:"ts"`
	Model      string             `json:"model"`
	Households int                `json:"households"`
	Zones      int                `json:"zones"`
	Totals     map[string]float64 `json:"totals"`
}

type redisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// Publisher announces run summaries on a Redis channel and keeps the latest
// one under a fixed key. A Publisher without a client does nothing.
type Publisher struct {
	client  redisClient
	channel string
}

// NewPublisher connects to the Redis instance at url.
func NewPublisher(ctx context.Context, url, channel string) (*Publisher, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Publisher{client: client, channel: channel}, nil
}

func (p *Publisher) Available() bool {
	return p != nil && p.client != nil
}

func (p *Publisher) Publish(ctx context.Context, summary RunSummary) error {
	if !p.Available() {
		return nil
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	if err := p.client.Set(ctx, latestKey, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}

func (p *Publisher) Close() error {
	if !p.Available() {
		return nil
	}
	return p.client.Close()
}
