package config

import (
	"github.com/redis/go-redis/v9"

	"github.com/emitpy/broadcaster/pkg/store"
)

// NewStore dials the configured Redis address and wraps it as a Store,
// pulling every connection knob through so operators can tune pool sizing
// and timeouts without recompiling.
func (c *Config) NewStore() store.Store {
	client := redis.NewClient(&redis.Options{
		Addr:         c.Redis.Addr,
		Username:     c.Redis.Username,
		Password:     c.Redis.Password,
		DB:           c.Redis.DB,
		PoolSize:     c.Redis.PoolSize,
		MinIdleConns: c.Redis.MinIdleConns,
		DialTimeout:  c.Redis.DialTimeout,
		ReadTimeout:  c.Redis.ReadTimeout,
		WriteTimeout: c.Redis.WriteTimeout,
		MaxRetries:   c.Redis.MaxRetries,
	})
	return store.NewRedisStoreFromClient(client)
}
