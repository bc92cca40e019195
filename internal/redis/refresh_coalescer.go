package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"capsule-go/internal/config"
)

const refreshKeyPrefix = "kr:capsule:"

// RefreshCoalescer lets at most one knowledge refresh per capsule through per window.
type RefreshCoalescer struct {
	client *redis.Client
	window time.Duration
}

// NewClient 根据配置创建 Redis 客户端
func NewClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// NewRefreshCoalescer 创建合并器；window 非正数时每次刷新都放行
func NewRefreshCoalescer(client *redis.Client, window time.Duration) *RefreshCoalescer {
	return &RefreshCoalescer{client: client, window: window}
}

// ShouldRefresh claims the capsule's refresh slot. It returns false while an
// earlier claim for the same capsule is still inside its window.
func (c *RefreshCoalescer) ShouldRefresh(ctx context.Context, capsuleID string) (bool, error) {
	if c.window <= 0 {
		return true, nil
	}
	ok, err := c.client.SetNX(ctx, refreshKeyPrefix+capsuleID, time.Now().UTC().Format(time.RFC3339), c.window).Result()
	if err != nil {
		return false, fmt.Errorf("claim refresh slot for capsule %s: %w", capsuleID, err)
	}
	return ok, nil
}
