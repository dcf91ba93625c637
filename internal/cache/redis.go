package cache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisConfig holds the connection settings of the Redis-backed set.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	TTL       time.Duration
	KeyPrefix string
}

// Redis keeps one expiring key per auction id, so the set survives restarts
// and can be shared between harvester instances.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedis connects and pings the server.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "redis ping")
	}
	return newRedis(client, cfg), nil
}

func newRedis(client *redis.Client, cfg RedisConfig) *Redis {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "skyblock:auctions:seen"
	}
	return &Redis{client: client, ttl: ttl, prefix: prefix}
}

func (r *Redis) key(id string) string { return r.prefix + ":" + id }

func (r *Redis) Known(ctx context.Context, ids []string) (map[string]struct{}, error) {
	known := make(map[string]struct{})
	if len(ids) == 0 {
		return known, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.IntCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Exists(ctx, r.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, errors.Wrap(err, "redis exists")
	}
	for i, cmd := range cmds {
		if cmd.Val() > 0 {
			known[ids[i]] = struct{}{}
		}
	}
	return known, nil
}

func (r *Redis) Mark(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pipe := r.client.Pipeline()
	for _, id := range ids {
		pipe.Set(ctx, r.key(id), 1, r.ttl)
	}
	_, err := pipe.Exec(ctx)
	return errors.Wrap(err, "redis mark")
}

func (r *Redis) Close() error { return r.client.Close() }
