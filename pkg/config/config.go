package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/emitpy/broadcaster/pkg/health"
	"github.com/emitpy/broadcaster/pkg/supervisor"
)

// Redis holds connection parameters for the store adapter, mirroring the
// shape of a typical viper-bound Redis client config: address, auth, pool
// sizing and the timeouts go-redis applies per operation.
type Redis struct {
	Addr         string        `mapstructure:"addr"`
	Username     string        `mapstructure:"username"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

// Feed holds the special UDP-forwarder queue's configuration (§6.4).
type Feed struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	// Name is the reserved queue this feed attaches to; defaults to
	// "livetraffic" if empty, matching the original's LIVETRAFFIC_QUEUE.
	Name string `mapstructure:"name"`
}

// Observability holds the ambient concerns every component shares.
type Observability struct {
	MetricsListenAddr string `mapstructure:"metrics_listen_addr"`
	LogLevel          string `mapstructure:"log_level"`
	LogJSON           bool   `mapstructure:"log_json"`
}

// Config is the top-level, viper-bound runtime configuration.
type Config struct {
	Redis            Redis         `mapstructure:"redis"`
	HeartbeatEnabled bool          `mapstructure:"heartbeat_enabled"`
	SpecialFeed      Feed          `mapstructure:"special_feed"`
	Observability    Observability `mapstructure:"observability"`
}

func defaults() *Config {
	return &Config{
		Redis: Redis{
			Addr:         "localhost:6379",
			DB:           0,
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			MaxRetries:   3,
		},
		HeartbeatEnabled: false,
		SpecialFeed: Feed{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    49002,
			Name:    "livetraffic",
		},
		Observability: Observability{
			MetricsListenAddr: "127.0.0.1:9090",
			LogLevel:          "info",
			LogJSON:           false,
		},
	}
}

// Load reads configuration from an optional YAML file at path plus
// environment overrides (prefixed BROADCASTER_, with "." replaced by "_"),
// falling back to hardcoded defaults for anything unset. path may be empty,
// in which case only env and defaults apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("broadcaster")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := defaults()
	v.SetDefault("redis.addr", def.Redis.Addr)
	v.SetDefault("redis.username", def.Redis.Username)
	v.SetDefault("redis.password", def.Redis.Password)
	v.SetDefault("redis.db", def.Redis.DB)
	v.SetDefault("redis.pool_size", def.Redis.PoolSize)
	v.SetDefault("redis.min_idle_conns", def.Redis.MinIdleConns)
	v.SetDefault("redis.dial_timeout", def.Redis.DialTimeout)
	v.SetDefault("redis.read_timeout", def.Redis.ReadTimeout)
	v.SetDefault("redis.write_timeout", def.Redis.WriteTimeout)
	v.SetDefault("redis.max_retries", def.Redis.MaxRetries)

	v.SetDefault("heartbeat_enabled", def.HeartbeatEnabled)

	v.SetDefault("special_feed.enabled", def.SpecialFeed.Enabled)
	v.SetDefault("special_feed.host", def.SpecialFeed.Host)
	v.SetDefault("special_feed.port", def.SpecialFeed.Port)
	v.SetDefault("special_feed.name", def.SpecialFeed.Name)

	v.SetDefault("observability.metrics_listen_addr", def.Observability.MetricsListenAddr)
	v.SetDefault("observability.log_level", def.Observability.LogLevel)
	v.SetDefault("observability.log_json", def.Observability.LogJSON)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the supervisor could not run with.
func Validate(cfg *Config) error {
	if cfg.Redis.Addr == "" {
		return fmt.Errorf("config: redis.addr must not be empty")
	}
	if cfg.SpecialFeed.Enabled && (cfg.SpecialFeed.Host == "" || cfg.SpecialFeed.Port <= 0) {
		return fmt.Errorf("config: special_feed.host/port required when special_feed.enabled")
	}
	switch cfg.Observability.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: observability.log_level must be one of debug, info, warn, error")
	}
	return nil
}

// SupervisorConfig converts the loaded configuration into the shape
// pkg/supervisor.New expects.
func (c *Config) SupervisorConfig() supervisor.Config {
	return supervisor.Config{
		HeartbeatEnabled:   c.HeartbeatEnabled,
		SpecialFeedEnabled: c.SpecialFeed.Enabled,
		SpecialFeedHost:    c.SpecialFeed.Host,
		SpecialFeedPort:    c.SpecialFeed.Port,
		SpecialFeedName:    c.SpecialFeed.Name,
		StoreChecker:       health.NewTCPChecker(c.Redis.Addr),
	}
}
