package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/socialsync/internal/model"
	"github.com/socialsync/internal/storage"
)

type Client struct {
	cli    *redis.Client
	prefix string
	ttl    time.Duration
}

// New подключается к Redis. Ключи решений: decision:{userID}:{key}, TTL ttl (0: без TTL).
func New(ctx context.Context, url string, userID int64, ttl time.Duration) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli, prefix: fmt.Sprintf("decision:%d:", userID), ttl: ttl}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func (c *Client) SetDecision(ctx context.Context, key string, decision model.NotificationStatus) error {
	if err := storage.ValidDecision(decision); err != nil {
		return err
	}
	return c.cli.Set(ctx, c.prefix+key, string(decision), c.ttl).Err()
}

func (c *Client) GetDecision(ctx context.Context, key string) (model.NotificationStatus, error) {
	val, err := c.cli.Get(ctx, c.prefix+key).Result()
	if err == redis.Nil {
		return "", nil
	}
	return model.NotificationStatus(val), err
}

// Decisions обходит ключи пользователя через SCAN (без KEYS на проде).
func (c *Client) Decisions(ctx context.Context) (map[string]model.NotificationStatus, error) {
	out := make(map[string]model.NotificationStatus)
	iter := c.cli.Scan(ctx, 0, c.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan decisions: %w", err)
	}
	if len(keys) == 0 {
		return out, nil
	}
	vals, err := c.cli.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget decisions: %w", err)
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			// ключ истёк между SCAN и MGET
			continue
		}
		out[strings.TrimPrefix(keys[i], c.prefix)] = model.NotificationStatus(s)
	}
	return out, nil
}
