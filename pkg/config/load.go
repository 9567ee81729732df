package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// PROPGRAPH_REDIS_ADDR.
const EnvPrefix = "PROPGRAPH"

// SetDefaults registers every default with v so that environment
// variables bind to keys absent from the config file.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("backend", d.Backend)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.prefix", d.Redis.Prefix)
	v.SetDefault("badger.dir", d.Badger.Dir)
	v.SetDefault("dynamodb.table", d.DynamoDB.Table)
	v.SetDefault("dynamodb.region", d.DynamoDB.Region)
	v.SetDefault("dynamodb.endpoint", d.DynamoDB.Endpoint)
	v.SetDefault("dynamodb.create_table", d.DynamoDB.CreateTable)
	v.SetDefault("snapshot.target", d.Snapshot.Target)
	v.SetDefault("graph.max_depth", d.Graph.MaxDepth)
	v.SetDefault("graph.concurrency", d.Graph.Concurrency)
	v.SetDefault("graph.queue_size", d.Graph.QueueSize)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("telemetry.enabled", d.Telemetry.Enabled)
	v.SetDefault("telemetry.otlp_endpoint", d.Telemetry.OtlpEndpoint)
}

// Load reads path (if non-empty) and the environment into a Config.
func Load(v *viper.Viper, path string) (Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	switch c.Backend {
	case BackendMemory, BackendRedis, BackendBadger, BackendDynamoDB:
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}
	if c.Backend == BackendDynamoDB && c.DynamoDB.Table == "" {
		errs = append(errs, errors.New("dynamodb.table is required"))
	}
	if c.Graph.MaxDepth < 0 {
		errs = append(errs, fmt.Errorf("graph.max_depth must be >= 0, got %d", c.Graph.MaxDepth))
	}
	if c.Graph.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("graph.concurrency must be >= 0, got %d", c.Graph.Concurrency))
	}
	if c.Graph.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("graph.queue_size must be >= 0, got %d", c.Graph.QueueSize))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// SlogLevel parses Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("invalid log.level %q: %w", l.Level, err)
	}
	return level, nil
}
