// Package config defines the runtime configuration and its defaults.
package config

// Backends accepted by Config.Backend.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendBadger   = "badger"
	BackendDynamoDB = "dynamodb"
)

// Config is the full runtime configuration.
type Config struct {
	// Backend selects the node store and edge index implementation.
	Backend   string          `mapstructure:"backend"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Badger    BadgerConfig    `mapstructure:"badger"`
	DynamoDB  DynamoDBConfig  `mapstructure:"dynamodb"`
	Snapshot  SnapshotConfig  `mapstructure:"snapshot"`
	Graph     GraphConfig     `mapstructure:"graph"`
	Log       LogConfig       `mapstructure:"log"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	// Prefix namespaces every key the backend writes.
	Prefix string `mapstructure:"prefix"`
}

type BadgerConfig struct {
	// Dir is the data directory. Empty means in-memory.
	Dir string `mapstructure:"dir"`
}

type DynamoDBConfig struct {
	Table  string `mapstructure:"table"`
	Region string `mapstructure:"region"`
	// Endpoint overrides the service endpoint (LocalStack, DynamoDB Local).
	Endpoint string `mapstructure:"endpoint"`
	// CreateTable creates the table on startup when missing.
	CreateTable bool `mapstructure:"create_table"`
}

type SnapshotConfig struct {
	// Target is a directory or s3://bucket/prefix.
	Target string `mapstructure:"target"`
}

type GraphConfig struct {
	// MaxDepth bounds structure snapshots. Zero means unbounded.
	MaxDepth int `mapstructure:"max_depth"`
	// Concurrency is the number of target lists resolved in parallel.
	Concurrency int `mapstructure:"concurrency"`
	QueueSize   int `mapstructure:"queue_size"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// OtlpEndpoint enables the OTLP HTTP exporter when set.
	OtlpEndpoint string `mapstructure:"otlp_endpoint"`
}

// Defaults.
const (
	DefaultRegion      = "us-east-1"
	DefaultRedisAddr   = "localhost:6379"
	DefaultRedisPrefix = "propgraph:"
	DefaultTable       = "propgraph"
	DefaultSnapshotDir = "propgraph-snapshots"
)

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		Backend: BackendMemory,
		Redis: RedisConfig{
			Addr:   DefaultRedisAddr,
			Prefix: DefaultRedisPrefix,
		},
		DynamoDB: DynamoDBConfig{
			Table:  DefaultTable,
			Region: DefaultRegion,
		},
		Snapshot: SnapshotConfig{Target: DefaultSnapshotDir},
		Graph: GraphConfig{
			Concurrency: 4,
			QueueSize:   64,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}
