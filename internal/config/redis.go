package config

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-envconfig"
)

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB, default=0"`
}

func NewRedisConfigFromEnv() (*RedisConfig, error) {
	return NewRedisConfig(context.Background(), nil)
}

func NewRedisConfig(ctx context.Context, lookuper envconfig.Lookuper) (*RedisConfig, error) {
	var cfg RedisConfig
	if err := process(ctx, &cfg, lookuper); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *RedisConfig) Enabled() bool {
	return c.Addr != ""
}

func (c *RedisConfig) Options() *redis.Options {
	return &redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
	}
}
