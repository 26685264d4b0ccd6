package memory

import (
	"context"
	"sync"
	"time"

	"github.com/socialsync/internal/model"
	"github.com/socialsync/internal/storage"
)

type item struct {
	val model.NotificationStatus
	exp time.Time
}

// Client хранит решения в памяти процесса. ttl <= 0: без истечения.
type Client struct {
	mu   sync.RWMutex
	ttl  time.Duration
	data map[string]item
	now  func() time.Time
}

func New(ttl time.Duration) *Client {
	return &Client{ttl: ttl, data: make(map[string]item), now: time.Now}
}

func (c *Client) Close() error { return nil }

func (c *Client) SetDecision(ctx context.Context, key string, decision model.NotificationStatus) error {
	if err := storage.ValidDecision(decision); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	it := item{val: decision}
	if c.ttl > 0 {
		it.exp = c.now().Add(c.ttl)
	}
	c.data[key] = it
	return nil
}

func (c *Client) GetDecision(ctx context.Context, key string) (model.NotificationStatus, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	it, ok := c.data[key]
	if !ok || c.expired(it) {
		return "", nil
	}
	return it.val, nil
}

func (c *Client) Decisions(ctx context.Context) (map[string]model.NotificationStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]model.NotificationStatus, len(c.data))
	for k, it := range c.data {
		if c.expired(it) {
			delete(c.data, k)
			continue
		}
		out[k] = it.val
	}
	return out, nil
}

func (c *Client) expired(it item) bool {
	return !it.exp.IsZero() && c.now().After(it.exp)
}
