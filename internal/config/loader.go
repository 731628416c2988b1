package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/manthysbr/umbrella/internal/core/domain"
)

// EnvPrefix namespaces every environment override, e.g. UMBRELLA_SERVER_ADDR.
const EnvPrefix = "UMBRELLA"

// FileEnv names the variable holding an optional YAML config file path.
const FileEnv = EnvPrefix + "_CONFIG"

// Load builds the application config from defaults, then the optional file
// at path (or $UMBRELLA_CONFIG when path is empty), then the environment.
func Load(path string) (*domain.AppConfig, error) {
	v := viper.New()
	setDefaults(v, domain.DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv(FileEnv)
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &domain.AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d *domain.AppConfig) {
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.cors_origins", d.Server.CORSOrigins)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("executor.max_in_flight", d.Executor.MaxInFlight)
	v.SetDefault("executor.cancel_grace", d.Executor.CancelGrace)

	v.SetDefault("scheduler.max_concurrent_jobs", d.Scheduler.MaxConcurrentJobs)
	v.SetDefault("scheduler.queue_size", d.Scheduler.QueueSize)

	v.SetDefault("remote.timeout", d.Remote.Timeout)
	v.SetDefault("remote.max_retries", d.Remote.MaxRetries)
	v.SetDefault("remote.initial_backoff", d.Remote.InitialBackoff)
	v.SetDefault("remote.max_backoff", d.Remote.MaxBackoff)

	v.SetDefault("channel.max_retries", d.Channel.MaxRetries)
	v.SetDefault("channel.redelivery_delay", d.Channel.RedeliveryDelay)
	v.SetDefault("channel.dead_letter_retention", d.Channel.DeadLetterRetention)
	v.SetDefault("channel.consumers", d.Channel.Consumers)

	v.SetDefault("storage.duckdb_path", d.Storage.DuckDBPath)
	v.SetDefault("storage.badger_path", d.Storage.BadgerPath)

	v.SetDefault("registry.job_ttl", d.Registry.JobTTL)

	for name, url := range d.Services {
		v.SetDefault("services."+string(name), url)
	}
}

// Validate rejects configurations the orchestrator cannot run with.
func Validate(cfg *domain.AppConfig) error {
	var errs []error
	if cfg.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	switch cfg.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or text, got %q", cfg.Log.Format))
	}
	if cfg.Executor.MaxInFlight < 0 {
		errs = append(errs, errors.New("executor.max_in_flight must be >= 0"))
	}
	if cfg.Scheduler.MaxConcurrentJobs <= 0 {
		errs = append(errs, errors.New("scheduler.max_concurrent_jobs must be > 0"))
	}
	if cfg.Scheduler.QueueSize <= 0 {
		errs = append(errs, errors.New("scheduler.queue_size must be > 0"))
	}
	if cfg.Remote.Timeout <= 0 {
		errs = append(errs, errors.New("remote.timeout must be > 0"))
	}
	if cfg.Remote.MaxRetries < 0 {
		errs = append(errs, errors.New("remote.max_retries must be >= 0"))
	}
	if cfg.Channel.MaxRetries < 0 {
		errs = append(errs, errors.New("channel.max_retries must be >= 0"))
	}
	if cfg.Channel.Consumers <= 0 {
		errs = append(errs, errors.New("channel.consumers must be > 0"))
	}
	if _, err := domain.NewServiceRegistry(cfg.Services); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
