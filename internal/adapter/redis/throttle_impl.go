package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/user/article-capture/pkg/metrics"
)

const throttleKeyPrefix = KeyPrefix + "throttle:"

// Throttle is a fixed one-minute window counter shared by every process
// talking to the same Redis.
type Throttle struct {
	client *redis.Client
	limit  int64
	window time.Duration
	logger *zap.Logger
	now    func() time.Time
}

func NewThrottle(client *redis.Client, requestsPerMinute int, logger *zap.Logger) *Throttle {
	return &Throttle{
		client: client,
		limit:  int64(requestsPerMinute),
		window: time.Minute,
		logger: logger,
		now:    time.Now,
	}
}

// Wait takes a slot in the current window, sleeping until the next window
// when this one is full.
func (t *Throttle) Wait(ctx context.Context) error {
	start := t.now()
	for {
		now := t.now()
		windowStart := now.Truncate(t.window)
		key := throttleKeyPrefix + strconv.FormatInt(windowStart.Unix(), 10)

		n, err := t.client.Incr(ctx, key).Result()
		if err != nil {
			return err
		}
		if n == 1 {
			if err := t.client.Expire(ctx, key, 2*t.window).Err(); err != nil {
				t.logger.Warn("set throttle expiry", zap.Error(err))
			}
		}
		if n <= t.limit {
			metrics.ThrottleWait.Observe(t.now().Sub(start).Seconds())
			return nil
		}

		wait := windowStart.Add(t.window).Sub(now)
		t.logger.Debug("rate limit reached, waiting", zap.Duration("wait", wait))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
