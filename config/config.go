package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/kosarica/place-service/internal/scanner"
)

// EnvPrefix prefixes every automatically bound environment variable
const EnvPrefix = "PLACE_SERVICE"

// Storage drivers
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Cache drivers
const (
	CacheNone   = "none"
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Config holds the application configuration
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Controller  ControllerConfig  `mapstructure:"controller"`
	Pipeline    PipelineConfig    `mapstructure:"pipeline"`
	Queue       QueueConfig       `mapstructure:"queue"`
	Workers     WorkersConfig     `mapstructure:"workers"`
	Sources     SourcesConfig     `mapstructure:"sources"`
	Regions     RegionsConfig     `mapstructure:"regions"`
	Filter      FilterConfig      `mapstructure:"filter"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Host            string        `mapstructure:"host"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// StorageConfig selects where checkpoints, places and tasks live
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Format  string `mapstructure:"format"`
	NoColor bool   `mapstructure:"no_color"`
}

// AuthConfig protects the /internal routes
type AuthConfig struct {
	InternalAPIKey    string  `mapstructure:"internal_api_key"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// ControllerConfig holds the continuous loop backoff schedule
type ControllerConfig struct {
	AutoStart         bool          `mapstructure:"auto_start"`
	BaseBackoff       time.Duration `mapstructure:"base_backoff"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff"`
	BatchTimeout      time.Duration `mapstructure:"batch_timeout"`
}

// FollowupConfig selects the enrichment task created for new places
type FollowupConfig struct {
	Menus    bool `mapstructure:"menus"`
	Images   bool `mapstructure:"images"`
	Reviews  bool `mapstructure:"reviews"`
	Priority int  `mapstructure:"priority"`
}

// PipelineConfig holds chunking, search and skip policy settings
type PipelineConfig struct {
	JobName      string         `mapstructure:"job_name"`
	BatchSize    int            `mapstructure:"batch_size"`
	ChunksPerRun int            `mapstructure:"chunks_per_run"`
	Concurrency  int            `mapstructure:"concurrency"`
	RetryDelay   time.Duration  `mapstructure:"retry_delay"`
	SkipLimit    int            `mapstructure:"skip_limit"`
	RetryLimits  map[string]int `mapstructure:"retry_limits"`
	MaxPages     int            `mapstructure:"max_pages"`
	Queries      []string       `mapstructure:"queries"`
	Followup     FollowupConfig `mapstructure:"followup"`
}

// QueueConfig holds the task retry policy
type QueueConfig struct {
	MaxRetryAttempts  int           `mapstructure:"max_retry_attempts"`
	BaseDelay         time.Duration `mapstructure:"base_delay"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
	MaxDelay          time.Duration `mapstructure:"max_delay"`
	// Listen enables LISTEN/NOTIFY wake-ups with the postgres driver.
	Listen bool `mapstructure:"listen"`
}

// WorkersConfig holds the worker pool and sweeper settings
type WorkersConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Threads           int           `mapstructure:"threads"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	TaskTimeout       time.Duration `mapstructure:"task_timeout"`
	StaleAfter        time.Duration `mapstructure:"stale_after"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
}

// BreakerConfig holds circuit breaker settings
type BreakerConfig struct {
	MaxFailures      int           `mapstructure:"max_failures"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout"`
	HalfOpenMaxCalls int           `mapstructure:"half_open_max_calls"`
}

// SourcesConfig holds the place provider client settings
type SourcesConfig struct {
	Name              string        `mapstructure:"name"`
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	PageSize          int           `mapstructure:"page_size"`
	UserAgent         string        `mapstructure:"user_agent"`
	Breaker           BreakerConfig `mapstructure:"breaker"`
}

// RegionsConfig lists scan regions inline or points at a CSV/XLSX file
type RegionsConfig struct {
	File  string           `mapstructure:"file"`
	Items []scanner.Region `mapstructure:"items"`
}

// FilterConfig holds the category exclusion list
type FilterConfig struct {
	ExcludedCategories []string `mapstructure:"excluded_categories"`
}

// CacheConfig holds the recently-seen cache settings
type CacheConfig struct {
	Driver   string        `mapstructure:"driver"`
	RedisURL string        `mapstructure:"redis_url"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// TelemetryConfig holds OpenTelemetry exporter settings
type TelemetryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	ServiceName string  `mapstructure:"service_name"`
	Environment string  `mapstructure:"environment"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// MaintenanceConfig holds the retention cleanup schedule
type MaintenanceConfig struct {
	Enabled                bool          `mapstructure:"enabled"`
	Schedule               string        `mapstructure:"schedule"`
	CompletedTaskRetention time.Duration `mapstructure:"completed_task_retention"`
	WorkerRetention        time.Duration `mapstructure:"worker_retention"`
	Timeout                time.Duration `mapstructure:"timeout"`
}

// Load loads the configuration from file, .env, and environment variables.
// An empty configPath searches ./config and the working directory.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	// .env is optional
	_ = loadEnvFile()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindEnvVars(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the service cannot run with
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.Storage.Driver {
	case DriverPostgres:
		if c.Database.URL == "" {
			add("database.url is required for the %s storage driver", DriverPostgres)
		}
	case DriverMemory:
	default:
		add("storage.driver must be %q or %q, got %q", DriverPostgres, DriverMemory, c.Storage.Driver)
	}

	switch c.Cache.Driver {
	case CacheNone, CacheMemory:
	case CacheRedis:
		if c.Cache.RedisURL == "" {
			add("cache.redis_url is required for the redis cache driver")
		}
	default:
		add("cache.driver must be one of none, memory, redis, got %q", c.Cache.Driver)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		add("server.port out of range: %d", c.Server.Port)
	}
	if c.Controller.BaseBackoff <= 0 {
		add("controller.base_backoff must be positive")
	}
	if c.Controller.MaxBackoff < c.Controller.BaseBackoff {
		add("controller.max_backoff must be at least controller.base_backoff")
	}
	if c.Controller.BackoffMultiplier < 1 {
		add("controller.backoff_multiplier must be at least 1")
	}
	if c.Queue.MaxRetryAttempts < 1 {
		add("queue.max_retry_attempts must be at least 1")
	}
	if c.Queue.BackoffMultiplier < 1 {
		add("queue.backoff_multiplier must be at least 1")
	}
	if c.Pipeline.BatchSize < 1 {
		add("pipeline.batch_size must be at least 1")
	}
	if c.Pipeline.Concurrency < 1 {
		add("pipeline.concurrency must be at least 1")
	}
	if c.Pipeline.SkipLimit < 0 {
		add("pipeline.skip_limit must not be negative")
	}
	if c.Pipeline.Followup.Priority < 0 || c.Pipeline.Followup.Priority > 1 {
		add("pipeline.followup.priority must be 0 or 1, got %d", c.Pipeline.Followup.Priority)
	}
	if len(c.Pipeline.Queries) == 0 {
		add("pipeline.queries must not be empty")
	}
	if c.Workers.Threads < 1 {
		add("workers.threads must be at least 1")
	}
	if c.Workers.SweepInterval <= 0 || c.Workers.StaleAfter <= 0 {
		add("workers.sweep_interval and workers.stale_after must be positive")
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		add("telemetry.endpoint is required when telemetry is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// Addr returns the HTTP listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// loadEnvFile loads the first .env file found by parsing KEY=VALUE lines
// and setting them as environment variables
func loadEnvFile() error {
	envPaths := []string{
		".",
		"./config",
	}

	for _, path := range envPaths {
		envFile := fmt.Sprintf("%s/.env", path)
		if _, err := os.Stat(envFile); err == nil {
			return loadDotEnvFile(envFile)
		}
	}
	return fmt.Errorf("no .env file found")
}

// loadDotEnvFile reads a .env file and sets environment variables. Variables
// already present in the environment win.
func loadDotEnvFile(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	lines := bufio.NewScanner(file)
	for lines.Scan() {
		line := strings.TrimSpace(lines.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.Trim(strings.TrimSpace(parts[1]), "\"'")
		if _, set := os.LookupEnv(key); !set {
			os.Setenv(key, value)
		}
	}
	return lines.Err()
}

// bindEnvVars binds the conventional unprefixed variables
func bindEnvVars(v *viper.Viper) {
	_ = v.BindEnv("database.url", EnvPrefix+"_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("server.port", EnvPrefix+"_SERVER_PORT", "PORT")
	_ = v.BindEnv("server.host", EnvPrefix+"_SERVER_HOST", "HOST")
	_ = v.BindEnv("logging.level", EnvPrefix+"_LOGGING_LEVEL", "LOG_LEVEL")
	_ = v.BindEnv("auth.internal_api_key", EnvPrefix+"_AUTH_INTERNAL_API_KEY", "INTERNAL_API_KEY")
	_ = v.BindEnv("cache.redis_url", EnvPrefix+"_CACHE_REDIS_URL", "REDIS_URL")
	_ = v.BindEnv("sources.api_key", EnvPrefix+"_SOURCES_API_KEY", "PLACES_API_KEY")
	_ = v.BindEnv("telemetry.endpoint", EnvPrefix+"_TELEMETRY_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_connections", 5)
	v.SetDefault("database.max_conn_lifetime", 1*time.Hour)
	v.SetDefault("database.max_conn_idle_time", 30*time.Minute)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("storage.driver", DriverPostgres)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.no_color", false)

	v.SetDefault("auth.requests_per_second", 50)
	v.SetDefault("auth.burst", 100)

	v.SetDefault("controller.auto_start", true)
	v.SetDefault("controller.base_backoff", 5*time.Second)
	v.SetDefault("controller.backoff_multiplier", 2.0)
	v.SetDefault("controller.max_backoff", 5*time.Minute)
	v.SetDefault("controller.batch_timeout", 30*time.Minute)

	v.SetDefault("pipeline.job_name", "place-ingestion")
	v.SetDefault("pipeline.batch_size", 50)
	v.SetDefault("pipeline.chunks_per_run", 10)
	v.SetDefault("pipeline.concurrency", 4)
	v.SetDefault("pipeline.retry_delay", 500*time.Millisecond)
	v.SetDefault("pipeline.skip_limit", 100)
	v.SetDefault("pipeline.retry_limits", map[string]int{"remote": 3, "timeout": 2})
	v.SetDefault("pipeline.max_pages", 3)
	v.SetDefault("pipeline.queries", []string{"restaurant", "cafe", "bar"})
	v.SetDefault("pipeline.followup.menus", true)
	v.SetDefault("pipeline.followup.images", false)
	v.SetDefault("pipeline.followup.reviews", false)
	v.SetDefault("pipeline.followup.priority", 0)

	v.SetDefault("queue.max_retry_attempts", 3)
	v.SetDefault("queue.base_delay", 2*time.Second)
	v.SetDefault("queue.backoff_multiplier", 2.0)
	v.SetDefault("queue.max_delay", 10*time.Minute)
	v.SetDefault("queue.listen", true)

	v.SetDefault("workers.enabled", true)
	v.SetDefault("workers.threads", 4)
	v.SetDefault("workers.poll_interval", 5*time.Second)
	v.SetDefault("workers.heartbeat_interval", 10*time.Second)
	v.SetDefault("workers.task_timeout", 2*time.Minute)
	v.SetDefault("workers.stale_after", 2*time.Minute)
	v.SetDefault("workers.sweep_interval", 5*time.Minute)

	v.SetDefault("sources.name", "places")
	v.SetDefault("sources.base_url", "http://localhost:8080")
	v.SetDefault("sources.timeout", 10*time.Second)
	v.SetDefault("sources.requests_per_second", 5.0)
	v.SetDefault("sources.burst", 5)
	v.SetDefault("sources.page_size", 20)
	v.SetDefault("sources.user_agent", "Kosarica-PlaceService/1.0")
	v.SetDefault("sources.breaker.max_failures", 5)
	v.SetDefault("sources.breaker.reset_timeout", 30*time.Second)
	v.SetDefault("sources.breaker.half_open_max_calls", 3)

	v.SetDefault("filter.excluded_categories", []string{"gas station", "atm", "parking"})

	v.SetDefault("cache.driver", CacheMemory)
	v.SetDefault("cache.ttl", 24*time.Hour)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.insecure", true)
	v.SetDefault("telemetry.service_name", "place-service")
	v.SetDefault("telemetry.sample_ratio", 1.0)

	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.schedule", "0 3 * * *")
	v.SetDefault("maintenance.completed_task_retention", 7*24*time.Hour)
	v.SetDefault("maintenance.worker_retention", 24*time.Hour)
	v.SetDefault("maintenance.timeout", 10*time.Minute)
}
