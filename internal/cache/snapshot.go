package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"sitter-safety/internal/models"
)

const (
	sessionKey = "session:current"
	alertKey   = "alert:active"
)

// SnapshotCache 当前会话和活跃报警的 Redis 快照（供其他进程 / UI 读取）
type SnapshotCache struct {
	redisClient *redis.Client
	prefix      string
	ttl         time.Duration
	logger      *zap.Logger
}

// NewSnapshotCache 创建快照缓存，ttlSeconds <= 0 表示不过期
func NewSnapshotCache(redisClient *redis.Client, prefix string, ttlSeconds int, logger *zap.Logger) *SnapshotCache {
	return &SnapshotCache{
		redisClient: redisClient,
		prefix:      prefix,
		ttl:         time.Duration(ttlSeconds) * time.Second,
		logger:      logger,
	}
}

func (c *SnapshotCache) SaveSession(ctx context.Context, s *models.TrackingSession) error {
	return c.set(ctx, sessionKey, s)
}

func (c *SnapshotCache) ClearSession(ctx context.Context) error {
	return c.redisClient.Del(ctx, c.prefix+sessionKey).Err()
}

// GetSession 无快照时返回 (nil, nil)
func (c *SnapshotCache) GetSession(ctx context.Context) (*models.TrackingSession, error) {
	var s models.TrackingSession
	ok, err := c.get(ctx, sessionKey, &s)
	if err != nil || !ok {
		return nil, err
	}
	return &s, nil
}

func (c *SnapshotCache) SaveAlert(ctx context.Context, a *models.EmergencyAlert) error {
	return c.set(ctx, alertKey, a)
}

func (c *SnapshotCache) ClearAlert(ctx context.Context) error {
	return c.redisClient.Del(ctx, c.prefix+alertKey).Err()
}

// GetAlert 无快照时返回 (nil, nil)
func (c *SnapshotCache) GetAlert(ctx context.Context) (*models.EmergencyAlert, error) {
	var a models.EmergencyAlert
	ok, err := c.get(ctx, alertKey, &a)
	if err != nil || !ok {
		return nil, err
	}
	return &a, nil
}

func (c *SnapshotCache) set(ctx context.Context, key string, v any) error {
	jsonData, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := c.redisClient.Set(ctx, c.prefix+key, jsonData, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	c.logger.Debug("Snapshot updated", zap.String("key", c.prefix+key))
	return nil
}

func (c *SnapshotCache) get(ctx context.Context, key string, out any) (bool, error) {
	val, err := c.redisClient.Get(ctx, c.prefix+key).Result()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(val), out); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}
