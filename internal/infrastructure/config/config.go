package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Terminal      TerminalConfig      `mapstructure:"terminal"`
	Backend       BackendConfig       `mapstructure:"backend"`
	Payment       PaymentConfig       `mapstructure:"payment"`
	Stash         StashConfig         `mapstructure:"stash"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Journal       JournalConfig       `mapstructure:"journal"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	InstanceID    string              `mapstructure:"instance_id"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORS            CORSConfig    `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

type TerminalConfig struct {
	Mode    string        `mapstructure:"mode"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
	Breaker BreakerConfig `mapstructure:"breaker"`
}

type BreakerConfig struct {
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MinRequests  uint32        `mapstructure:"min_requests"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
}

type BackendConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type PaymentConfig struct {
	WarmupDelay         time.Duration `mapstructure:"warmup_delay"`
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	QRTimeout           time.Duration `mapstructure:"qr_timeout"`
	ResetCooldown       time.Duration `mapstructure:"reset_cooldown"`
	CancelTimeout       time.Duration `mapstructure:"cancel_timeout"`
	MaxRetries          int           `mapstructure:"max_retries"`
	MaxPollFailures     int           `mapstructure:"max_poll_failures"`
	CartClearRetries    int           `mapstructure:"cart_clear_retries"`
	CartClearRetryDelay time.Duration `mapstructure:"cart_clear_retry_delay"`
}

type StashConfig struct {
	Driver string        `mapstructure:"driver"`
	Key    string        `mapstructure:"key"`
	TTL    time.Duration `mapstructure:"ttl"`
}

type RedisConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	DB                int           `mapstructure:"db"`
	Password          string        `mapstructure:"password"`
	ConnectRetries    int           `mapstructure:"connect_retries"`
	ConnectRetryDelay time.Duration `mapstructure:"connect_retry_delay"`
	StreamEnabled     bool          `mapstructure:"stream_enabled"`
	StateStream       string        `mapstructure:"state_stream"`
	StreamMaxLen      int64         `mapstructure:"stream_max_len"`
	ConsumerGroup     string        `mapstructure:"consumer_group"`
	BatchSize         int64         `mapstructure:"batch_size"`
	BlockDuration     time.Duration `mapstructure:"block_duration"`
	TerminalLease     bool          `mapstructure:"terminal_lease"`
	LeaseTTL          time.Duration `mapstructure:"lease_ttl"`
}

type DatabaseConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	MaxConnections    int           `mapstructure:"max_connections"`
	MinConnections    int           `mapstructure:"min_connections"`
	ConnMaxLifetime   time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime   time.Duration `mapstructure:"conn_max_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	ApplicationName   string        `mapstructure:"application_name"`
	SSLMode           string        `mapstructure:"ssl_mode"`
}

type JournalConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	ListLimit    int           `mapstructure:"list_limit"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type ObservabilityConfig struct {
	LogLevel       string `mapstructure:"log_level"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
	EnableMetrics  bool   `mapstructure:"enable_metrics"`
	EnableTracing  bool   `mapstructure:"enable_tracing"`
}

func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read from environment variables, e.g. KIOSK_TERMINAL_BASE_URL
	v.SetEnvPrefix("KIOSK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read from config file if exists
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/kioskpos")

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.read_timeout must be positive"))
	}

	switch c.Terminal.Mode {
	case "http":
		if c.Terminal.BaseURL == "" {
			errs = append(errs, fmt.Errorf("terminal.base_url is required in http mode"))
		}
	case "simulated":
	default:
		errs = append(errs, fmt.Errorf("terminal.mode must be http or simulated, got %q", c.Terminal.Mode))
	}
	if c.Backend.BaseURL == "" {
		errs = append(errs, fmt.Errorf("backend.base_url is required"))
	}

	if c.Payment.WarmupDelay < 0 {
		errs = append(errs, fmt.Errorf("payment.warmup_delay must not be negative"))
	}
	if c.Payment.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("payment.poll_interval must be positive"))
	}
	if c.Payment.QRTimeout <= 0 {
		errs = append(errs, fmt.Errorf("payment.qr_timeout must be positive"))
	}
	if c.Payment.MaxRetries <= 0 {
		errs = append(errs, fmt.Errorf("payment.max_retries must be positive"))
	}
	if c.Payment.MaxPollFailures < 0 {
		errs = append(errs, fmt.Errorf("payment.max_poll_failures must not be negative"))
	}

	switch c.Stash.Driver {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("stash.driver must be memory or redis, got %q", c.Stash.Driver))
	}
	if c.RedisEnabled() && c.Redis.Port <= 0 {
		errs = append(errs, fmt.Errorf("redis.port must be positive"))
	}
	if c.Redis.TerminalLease && c.Redis.LeaseTTL < time.Second {
		errs = append(errs, fmt.Errorf("redis.lease_ttl must be at least 1s"))
	}
	if c.Redis.StreamEnabled && c.Redis.StateStream == "" {
		errs = append(errs, fmt.Errorf("redis.state_stream is required when the stream is enabled"))
	}

	if c.Journal.Enabled {
		if c.Database.Host == "" {
			errs = append(errs, fmt.Errorf("database.host is required"))
		}
		if c.Database.Port <= 0 {
			errs = append(errs, fmt.Errorf("database.port must be positive"))
		}
		if c.Database.MaxConnections < 1 || c.Database.MinConnections > c.Database.MaxConnections {
			errs = append(errs, fmt.Errorf("database.max_connections must be at least 1 and not below min_connections"))
		}
	}

	// Production environment checks
	env := os.Getenv("ENV")
	if env == "production" || env == "prod" {
		if c.Journal.Enabled && c.Database.Password == "" {
			errs = append(errs, fmt.Errorf("database.password required in production"))
		}
		if c.Terminal.Mode == "simulated" {
			errs = append(errs, fmt.Errorf("terminal.mode simulated is not allowed in production"))
		}
	}

	return errors.Join(errs...)
}

// RedisEnabled reports whether any component needs a Redis connection.
func (c *Config) RedisEnabled() bool {
	return c.Stash.Driver == "redis" || c.Redis.StreamEnabled || c.Redis.TerminalLease
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8081)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "0s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.cors.allowed_origins", []string{"*"})
	v.SetDefault("server.cors.allow_credentials", false)

	// Terminal defaults
	v.SetDefault("terminal.mode", "http")
	v.SetDefault("terminal.base_url", "http://localhost:8090/interface")
	v.SetDefault("terminal.timeout", "5s")
	v.SetDefault("terminal.breaker.max_requests", 1)
	v.SetDefault("terminal.breaker.interval", "60s")
	v.SetDefault("terminal.breaker.timeout", "10s")
	v.SetDefault("terminal.breaker.min_requests", 10)
	v.SetDefault("terminal.breaker.failure_ratio", 0.6)

	// Backend defaults
	v.SetDefault("backend.base_url", "http://localhost:8090/interface")
	v.SetDefault("backend.timeout", "5s")

	// Payment defaults
	v.SetDefault("payment.warmup_delay", "3s")
	v.SetDefault("payment.poll_interval", "1s")
	v.SetDefault("payment.qr_timeout", "20s")
	v.SetDefault("payment.reset_cooldown", "500ms")
	v.SetDefault("payment.cancel_timeout", "5s")
	v.SetDefault("payment.max_retries", 3)
	v.SetDefault("payment.max_poll_failures", 0)
	v.SetDefault("payment.cart_clear_retries", 3)
	v.SetDefault("payment.cart_clear_retry_delay", "200ms")

	// Stash defaults
	v.SetDefault("stash.driver", "memory")
	v.SetDefault("stash.key", "kiosk:payment:amount")
	v.SetDefault("stash.ttl", "1h")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.connect_retries", 5)
	v.SetDefault("redis.connect_retry_delay", "1s")
	v.SetDefault("redis.stream_enabled", false)
	v.SetDefault("redis.state_stream", "kiosk:payment:states")
	v.SetDefault("redis.stream_max_len", 10000)
	v.SetDefault("redis.consumer_group", "kiosk-journal")
	v.SetDefault("redis.batch_size", 10)
	v.SetDefault("redis.block_duration", "5s")
	v.SetDefault("redis.terminal_lease", false)
	v.SetDefault("redis.lease_ttl", "15s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "kiosk")
	v.SetDefault("database.database", "kiosk")
	v.SetDefault("database.max_connections", 5)
	v.SetDefault("database.min_connections", 1)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.conn_max_idle_time", "10m")
	v.SetDefault("database.health_check_period", "30s")
	v.SetDefault("database.application_name", "kioskpos")
	v.SetDefault("database.ssl_mode", "disable")

	// Journal defaults
	v.SetDefault("journal.enabled", false)
	v.SetDefault("journal.list_limit", 50)
	v.SetDefault("journal.write_timeout", "3s")

	// Observability defaults
	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.jaeger_endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.enable_tracing", false)

	// Instance ID
	v.SetDefault("instance_id", "kiosk-1")
}

func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// MigrateURL returns the postgres URL form golang-migrate expects.
func (c *DatabaseConfig) MigrateURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
