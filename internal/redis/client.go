package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/saviobatista/adsb-capture/internal/types"
)

// RedisClientInterface defines the Redis operations used by our client
type RedisClientInterface interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// Client mirrors the latest published aircraft state into Redis so the
// gateway can answer "what is in the sky right now" without replaying
// the stream. The mirror is best-effort; the engine owns no durable
// state.
type Client struct {
	client RedisClientInterface
	ttl    time.Duration
}

// New creates a new Redis client. ttl should match the tracker's idle
// timeout so mirror entries fade with their tracks.
func New(addr string, ttl time.Duration) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{client: client, ttl: ttl}, nil
}

// NewWithClient creates a new Redis client with a custom RedisClientInterface (useful for testing)
func NewWithClient(client RedisClientInterface, ttl time.Duration) *Client {
	return &Client{client: client, ttl: ttl}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}

// StoreAircraft stores the latest aircraft update for its ICAO.
func (c *Client) StoreAircraft(ctx context.Context, u *types.AircraftUpdate) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("failed to marshal aircraft update: %w", err)
	}
	return c.client.Set(ctx, aircraftKey(u.ICAO), data, c.ttl).Err()
}

// GetAircraft retrieves the latest aircraft update for an ICAO, or nil
// when none is mirrored.
func (c *Client) GetAircraft(ctx context.Context, icao string) (*types.AircraftUpdate, error) {
	data, err := c.client.Get(ctx, aircraftKey(icao)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get aircraft data: %w", err)
	}

	var u types.AircraftUpdate
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("failed to unmarshal aircraft data: %w", err)
	}
	return &u, nil
}

// DeleteAircraft removes the mirror entry for an evicted track.
func (c *Client) DeleteAircraft(ctx context.Context, icao string) error {
	return c.client.Del(ctx, aircraftKey(icao)).Err()
}

func aircraftKey(icao string) string {
	return fmt.Sprintf("aircraft:%s", icao)
}
