package history

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/smartfinance/anomaly-detection-service/pkg"
	"go.uber.org/zap"
)

// CachedProvider is a read-through Redis cache in front of another Provider.
// Cache hiccups degrade to the inner provider and never fail a lookup.
type CachedProvider struct {
	logger *zap.Logger
	client *redis.Client
	inner  Provider
	ttl    time.Duration
}

func NewCachedProvider(logger *zap.Logger, client *redis.Client, inner Provider, ttl time.Duration) Provider {
	return &CachedProvider{logger: logger, client: client, inner: inner, ttl: ttl}
}

func cacheKey(userID string) string {
	return "history:profile:" + userID
}

func (c *CachedProvider) Get(ctx context.Context, traceId string, userID string) (Profile, error) {
	payload, err := c.client.Get(ctx, cacheKey(userID)).Bytes()
	if err == nil {
		var prof Profile
		if jsonErr := json.Unmarshal(payload, &prof); jsonErr == nil {
			return prof, nil
		}
		c.logger.Warn("corrupt cached profile, refreshing", zap.String(pkg.TraceId, traceId))
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn("history cache read failed", zap.String(pkg.TraceId, traceId), zap.Error(err))
	}

	prof, err := c.inner.Get(ctx, traceId, userID)
	if err != nil {
		return Profile{}, err
	}

	if body, jsonErr := json.Marshal(prof); jsonErr == nil {
		if setErr := c.client.Set(ctx, cacheKey(userID), body, c.ttl).Err(); setErr != nil {
			c.logger.Warn("history cache write failed", zap.String(pkg.TraceId, traceId), zap.Error(setErr))
		}
	}
	return prof, nil
}
