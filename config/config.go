// Package config loads the lifespan core configuration with Viper.
package config

// Config represents the core lifespan configuration
type Config struct {
	Database    DatabaseConfig    `mapstructure:"database"`
	Query       QueryConfig       `mapstructure:"query"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// QueryConfig configures the query composer
type QueryConfig struct {
	// DefaultLimit caps result sets when the caller supplies no limit
	DefaultLimit int `mapstructure:"default_limit"`

	// Composer cache. The cache is a pure optimization; disabling it never
	// changes query results.
	CacheEnabled    bool `mapstructure:"cache_enabled"`
	CacheSize       int  `mapstructure:"cache_size"`
	CacheTTLSeconds int  `mapstructure:"cache_ttl_seconds"`
}

// MaintenanceConfig configures the background maintenance worker
type MaintenanceConfig struct {
	Workers             int `mapstructure:"workers"`               // concurrent job workers (default: 1)
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"` // how often to check for queued jobs
	ChunkSize           int `mapstructure:"chunk_size"`            // records per chunk transaction
	ChunksPerSecond     int `mapstructure:"chunks_per_second"`     // rate limit so bulk jobs don't starve readers
}
