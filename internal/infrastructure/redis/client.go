package redis

import (
	"context"
	"log/slog"
	"time"

	stderrors "errors"

	"github.com/openlms/auth-service/internal/infrastructure/observability"
	"github.com/redis/go-redis/v9"
)

var ErrKeyNotFound = stderrors.New("key not found")

// TokenStore is the key-value store holding refresh, reset and verification
// token records. The store owns record lifetime: expiry is enforced by the
// store itself, nothing here polls for it.
type TokenStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Del(ctx context.Context, key string) (bool, error)
	ScanKeys(ctx context.Context, pattern string) ([]string, error)
	Close() error
}

// Client is the Redis implementation of TokenStore.
type Client struct {
	client *redis.Client
}

func NewClient(addr string) *Client {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		slog.Error("failed to connect to Redis", "addr", addr, "error", err)
		panic(err)
	}

	slog.Info("connected to Redis", "addr", addr)
	return &Client{client: client}
}

func observe(operation string, start time.Time) {
	observability.TokenStoreDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (c *Client) Get(ctx context.Context, key string) (string, error) {
	defer observe("get", time.Now())
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrKeyNotFound
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

func (c *Client) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	defer observe("set", time.Now())
	return c.client.Set(ctx, key, value, expiration).Err()
}

func (c *Client) Del(ctx context.Context, key string) (bool, error) {
	defer observe("del", time.Now())
	n, err := c.client.Del(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ScanKeys walks the keyspace with SCAN and returns every key matching
// pattern. Cursor-based, so it never blocks the server the way KEYS would.
func (c *Client) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	defer observe("scan", time.Now())
	var keys []string
	var cursor uint64
	for {
		batch, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}
