package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/and161185/nomadrise/internal/model"
)

const keyPrefix = "nomadrise:tokens:"

// RedisSessions hands out per-session token stores sharing one client.
type RedisSessions struct {
	rdb *redis.Client
	ttl time.Duration
	log *zap.Logger
}

// NewRedisSessions wraps rdb. ttl bounds how long an idle pair survives.
func NewRedisSessions(rdb *redis.Client, ttl time.Duration, log *zap.Logger) *RedisSessions {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisSessions{rdb: rdb, ttl: ttl, log: log}
}

// Dial parses a redis:// URL and checks the connection.
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// Ping reports whether Redis is reachable.
func (s *RedisSessions) Ping(ctx context.Context) error { return s.rdb.Ping(ctx).Err() }

// Session returns the store for one session id.
func (s *RedisSessions) Session(id string) *Redis {
	return &Redis{rdb: s.rdb, key: keyPrefix + id, ttl: s.ttl, log: s.log}
}

// Redis is a Store holding one pair in a Redis hash.
type Redis struct {
	rdb *redis.Client
	key string
	ttl time.Duration
	log *zap.Logger
}

var _ Store = (*Redis)(nil)

func (r *Redis) get(ctx context.Context, field string) (string, bool) {
	v, err := r.rdb.HGet(ctx, r.key, field).Result()
	switch {
	case err == nil:
		return v, v != ""
	case errors.Is(err, redis.Nil):
		return "", false
	default:
		r.log.Warn("token store unavailable", zap.String("field", field), zap.Error(err))
		return "", false
	}
}

// AccessToken implements Store.
func (r *Redis) AccessToken(ctx context.Context) (string, bool) { return r.get(ctx, KeyAccess) }

// RefreshToken implements Store.
func (r *Redis) RefreshToken(ctx context.Context) (string, bool) { return r.get(ctx, KeyRefresh) }

// SetTokens writes both fields and the TTL in one transaction.
func (r *Redis) SetTokens(ctx context.Context, p model.TokenPair) error {
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.key, KeyAccess, p.Access, KeyRefresh, p.Refresh)
		if r.ttl > 0 {
			pipe.Expire(ctx, r.key, r.ttl)
		}
		return nil
	})
	return err
}

// ClearTokens implements Store.
func (r *Redis) ClearTokens(ctx context.Context) error {
	return r.rdb.Del(ctx, r.key).Err()
}

// Store implements Sessions.
func (s *RedisSessions) Store(id string) Store { return s.Session(id) }
