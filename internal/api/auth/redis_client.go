package auth

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds connection settings for the session store.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PoolSize     int           `yaml:"pool_size"`
	TLSEnabled   bool          `yaml:"tls_enabled"`
}

// GoRedisClient adapts go-redis to the RedisClient interface.
type GoRedisClient struct {
	client *redis.Client
}

// NewGoRedisClient connects to Redis and verifies the connection with
// a ping before returning.
func NewGoRedisClient(cfg RedisConfig) (*GoRedisClient, error) {
	opts := &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}

	return &GoRedisClient{client: client}, nil
}

func (g *GoRedisClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return g.client.Set(ctx, key, value, ttl).Err()
}

func (g *GoRedisClient) Get(ctx context.Context, key string) ([]byte, error) {
	return g.client.Get(ctx, key).Bytes()
}

func (g *GoRedisClient) Delete(ctx context.Context, keys ...string) error {
	return g.client.Del(ctx, keys...).Err()
}

func (g *GoRedisClient) SAdd(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return g.client.SAdd(ctx, key, args...).Err()
}

func (g *GoRedisClient) SMembers(ctx context.Context, key string) ([]string, error) {
	return g.client.SMembers(ctx, key).Result()
}

func (g *GoRedisClient) SRem(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return g.client.SRem(ctx, key, args...).Err()
}

func (g *GoRedisClient) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return g.client.Expire(ctx, key, ttl).Err()
}

func (g *GoRedisClient) Close() error {
	return g.client.Close()
}
