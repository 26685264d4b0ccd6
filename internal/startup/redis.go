package startup

import (
	"context"
	"time"

	"github.com/socialsync/internal/logger"
	redisstorage "github.com/socialsync/internal/storage/redis"
)

// ConnectRedisWithRetry подключается к Redis с повторами до maxWait или отмены ctx.
// logPrefix добавляется к сообщениям лога (например "sync: ").
func ConnectRedisWithRetry(ctx context.Context, redisURL string, userID int64, ttl, maxWait time.Duration, logPrefix string) (*redisstorage.Client, error) {
	deadline := time.Now().Add(maxWait)
	backoff := 2 * time.Second
	for {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		client, err := redisstorage.New(pingCtx, redisURL, userID, ttl)
		cancel()
		if err == nil {
			return client, nil
		}
		if time.Now().After(deadline) {
			logger.Errorf("%sredis (gave up after %v): %v", logPrefix, maxWait, err)
			return nil, err
		}
		logger.Errorf("%sredis connect failed, retry in %v: %v", logPrefix, backoff, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}
