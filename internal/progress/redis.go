package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const keyPrefix = "vdpress:progress:"

// RedisOptions configures the Redis tracker
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Redis stores the latest event under a key and publishes every event on
// a channel with the same name
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(opts RedisOptions) *Redis {
	return NewRedisClient(redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), opts.TTL)
}

func NewRedisClient(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Redis{client: client, ttl: ttl}
}

// Channel returns the key and pub/sub channel of a campaign
func Channel(campaignID string) string {
	return keyPrefix + campaignID
}

func (r *Redis) Publish(ctx context.Context, campaignID string, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode progress: %w", err)
	}

	key := Channel(campaignID)
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, key, data, r.ttl)
	pipe.Publish(ctx, key, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish progress: %w", err)
	}
	return nil
}

func (r *Redis) Latest(ctx context.Context, campaignID string) (*Event, error) {
	data, err := r.client.Get(ctx, Channel(campaignID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read progress: %w", err)
	}

	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("failed to decode progress: %w", err)
	}
	return &ev, nil
}

// Ping checks the connection
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
