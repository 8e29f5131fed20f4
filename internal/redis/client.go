package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mossy-p/huddle/config"
	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("key not found")

// Client wraps the Redis connection shared by relay presence and the
// Redis session backend.
type Client struct {
	rdb *redis.Client
}

// Connect initializes the Redis client and checks the connection.
func Connect(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

func peersKey(topic string) string {
	return "topic:" + topic + ":peers"
}

// AddPeer records a peer as present on a topic.
func (c *Client) AddPeer(ctx context.Context, topic, peer string, ttl time.Duration) error {
	pipe := c.rdb.TxPipeline()
	pipe.SAdd(ctx, peersKey(topic), peer)
	pipe.Expire(ctx, peersKey(topic), ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (c *Client) RemovePeer(ctx context.Context, topic, peer string) error {
	return c.rdb.SRem(ctx, peersKey(topic), peer).Err()
}

func (c *Client) PeerCount(ctx context.Context, topic string) (int, error) {
	n, err := c.rdb.SCard(ctx, peersKey(topic)).Result()
	return int(n), err
}

// Get returns the raw value stored at key.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return data, err
}

// Set stores value at key. A zero ttl keeps the key forever.
func (c *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

func (c *Client) Del(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}
