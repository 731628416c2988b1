package domain

import "time"

// ServerConfig configures the HTTP surface
type ServerConfig struct {
	Addr        string   `mapstructure:"addr" json:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
}

// LogConfig configures the slog handler built in main
type LogConfig struct {
	Level  string `mapstructure:"level" json:"level"`   // "debug", "info", "warn", "error"
	Format string `mapstructure:"format" json:"format"` // "json" or "text"
}

// ExecutorConfig bounds DAG execution
type ExecutorConfig struct {
	MaxInFlight int           `mapstructure:"max_in_flight" json:"max_in_flight"` // 0 = unbounded
	CancelGrace time.Duration `mapstructure:"cancel_grace" json:"cancel_grace"`
}

// SchedulerConfig bounds how many jobs run at once
type SchedulerConfig struct {
	MaxConcurrentJobs int64 `mapstructure:"max_concurrent_jobs" json:"max_concurrent_jobs"`
	QueueSize         int   `mapstructure:"queue_size" json:"queue_size"`
}

// RemoteConfig configures the collaborator client
type RemoteConfig struct {
	Timeout        time.Duration `mapstructure:"timeout" json:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries" json:"max_retries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff" json:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff" json:"max_backoff"`
}

// ChannelConfig configures the message channel
type ChannelConfig struct {
	MaxRetries          int           `mapstructure:"max_retries" json:"max_retries"`
	RedeliveryDelay     time.Duration `mapstructure:"redelivery_delay" json:"redelivery_delay"`
	DeadLetterRetention time.Duration `mapstructure:"dead_letter_retention" json:"dead_letter_retention"`
	Consumers           int           `mapstructure:"consumers" json:"consumers"`
}

// StorageConfig locates the on-disk stores. Empty paths mean in-memory.
type StorageConfig struct {
	DuckDBPath string `mapstructure:"duckdb_path" json:"duckdb_path"`
	BadgerPath string `mapstructure:"badger_path" json:"badger_path"`
}

// RegistryConfig configures job retention
type RegistryConfig struct {
	JobTTL time.Duration `mapstructure:"job_ttl" json:"job_ttl"` // 0 = keep forever
}

// AppConfig is the main application configuration
type AppConfig struct {
	Server    ServerConfig           `mapstructure:"server" json:"server"`
	Log       LogConfig              `mapstructure:"log" json:"log"`
	Executor  ExecutorConfig         `mapstructure:"executor" json:"executor"`
	Scheduler SchedulerConfig        `mapstructure:"scheduler" json:"scheduler"`
	Remote    RemoteConfig           `mapstructure:"remote" json:"remote"`
	Channel   ChannelConfig          `mapstructure:"channel" json:"channel"`
	Storage   StorageConfig          `mapstructure:"storage" json:"storage"`
	Registry  RegistryConfig         `mapstructure:"registry" json:"registry"`
	Services  map[ServiceName]string `mapstructure:"services" json:"services"`
}

// DefaultConfig returns safe defaults
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Addr:        ":8080",
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Log: LogConfig{Level: "info", Format: "json"},
		Executor: ExecutorConfig{
			MaxInFlight: 8,
			CancelGrace: 5 * time.Second,
		},
		Scheduler: SchedulerConfig{MaxConcurrentJobs: 4, QueueSize: 100},
		Remote: RemoteConfig{
			Timeout:        30 * time.Second,
			MaxRetries:     3,
			InitialBackoff: time.Second,
			MaxBackoff:     10 * time.Second,
		},
		Channel: ChannelConfig{
			MaxRetries:          3,
			RedeliveryDelay:     100 * time.Millisecond,
			DeadLetterRetention: 24 * time.Hour,
			Consumers:           2,
		},
		Storage:  StorageConfig{},
		Registry: RegistryConfig{JobTTL: 24 * time.Hour},
		Services: DefaultServiceURLs(),
	}
}
