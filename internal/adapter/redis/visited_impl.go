package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/user/article-capture/pkg/utils"
)

const visitedURLPrefix = KeyPrefix + "visited:"

// VisitedRepoImpl implements repository.VisitedRepository with one
// expiring key per page.
type VisitedRepoImpl struct {
	client *redis.Client
}

func NewVisitedRepo(client *redis.Client) *VisitedRepoImpl {
	return &VisitedRepoImpl{client: client}
}

// generateKey hashes the URL so arbitrary query strings make safe keys.
func (r *VisitedRepoImpl) generateKey(url string) string {
	return visitedURLPrefix + utils.HashURL(url)
}

func (r *VisitedRepoImpl) MarkVisited(ctx context.Context, url string, expiry time.Duration) error {
	return r.client.Set(ctx, r.generateKey(url), "1", expiry).Err()
}

func (r *VisitedRepoImpl) IsVisited(ctx context.Context, url string) (bool, error) {
	val, err := r.client.Exists(ctx, r.generateKey(url)).Result()
	if err != nil {
		return false, err
	}
	return val == 1, nil
}

func (r *VisitedRepoImpl) RemoveVisited(ctx context.Context, url string) error {
	return r.client.Del(ctx, r.generateKey(url)).Err()
}
