package db

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReplayGuard remembers delivery fingerprints for a window.
type ReplayGuard interface {
	// FirstSeen records id and reports whether it was new.
	FirstSeen(ctx context.Context, id string, ttl time.Duration) (bool, error)
}

// RedisReplayGuard stores fingerprints with SETNX so that every gateway
// replica shares one window.
type RedisReplayGuard struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisReplayGuard(rdb *redis.Client) *RedisReplayGuard {
	return &RedisReplayGuard{rdb: rdb, prefix: "webhook:"}
}

func (g *RedisReplayGuard) FirstSeen(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	sum := sha256.Sum256([]byte(id))
	return g.rdb.SetNX(ctx, g.prefix+hex.EncodeToString(sum[:]), 1, ttl).Result()
}
