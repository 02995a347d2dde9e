package cache

import (
	"context"
	"errors"
	"time"

	"github.com/chaos-io/nobg/config"
	"github.com/chaos-io/nobg/util"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis 缓存抠图结果，值是 PNG 字节
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

func NewRedis(cfg *config.RedisConfig) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisWithClient(client, cfg.TTL, cfg.Prefix)
}

func NewRedisWithClient(client redis.UniversalClient, ttl time.Duration, prefix string) *Redis {
	return &Redis{
		client: client,
		ttl:    ttl,
		prefix: prefix,
	}
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) key(k string) string {
	return r.prefix + "result:" + k
}

// Get 未命中时返回 ok=false, err=nil
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, r.key(key), value, r.ttl).Err(); err != nil {
		return err
	}
	util.Logger.Debug("result cached", zap.String("key", key), zap.Int("bytes", len(value)))
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
