package redis

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/user/article-capture/internal/repository"
)

const captureQueueKey = KeyPrefix + "queue"

// QueueRepoImpl implements repository.QueueRepository with a Redis list.
type QueueRepoImpl struct {
	client *redis.Client
	key    string
}

func NewQueueRepo(client *redis.Client) *QueueRepoImpl {
	return &QueueRepoImpl{client: client, key: captureQueueKey}
}

// Push adds a URL to the left side of the list.
func (r *QueueRepoImpl) Push(ctx context.Context, url string) error {
	return r.client.LPush(ctx, r.key, url).Err()
}

// Pop removes and returns a URL from the right side of the list.
func (r *QueueRepoImpl) Pop(ctx context.Context) (string, error) {
	url, err := r.client.RPop(ctx, r.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", repository.ErrQueueEmpty
	}
	return url, err
}

func (r *QueueRepoImpl) Size(ctx context.Context) (int64, error) {
	return r.client.LLen(ctx, r.key).Result()
}
