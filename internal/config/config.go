package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig          `yaml:"server"`
	Database DatabaseConfig        `yaml:"database"`
	Redis    RedisConfig           `yaml:"redis"`
	RabbitMQ RabbitMQConfig        `yaml:"rabbitmq"`
	Logging  LoggingConfig         `yaml:"logging"`
	App      AppConfig             `yaml:"app"`
	Auth     AuthConfig            `yaml:"auth"`
	Build    BuildConfig           `yaml:"build"`
	Sites    map[string]SiteConfig `yaml:"sites"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PoolTimeout  time.Duration `yaml:"pool_timeout"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange configuration.
// Publishing allocation events is optional; when disabled the service
// runs without a broker connection.
type RabbitMQConfig struct {
	Enabled           bool          `yaml:"enabled"`
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	User              string        `yaml:"user"`
	Password          string        `yaml:"password"`
	VHost             string        `yaml:"vhost"`
	Exchange          string        `yaml:"exchange"`
	ExchangeType      string        `yaml:"exchange_type"`
	ExchangeDurable   bool          `yaml:"exchange_durable"`
	RoutingKey        string        `yaml:"routing_key"`
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	// Tokens is the shared basic-auth allow-list. Entries separated by
	// commas are username:password pairs; a comma-free value is a
	// colon-separated list of bare tokens.
	Tokens        string        `yaml:"tokens"`
	JWTPublicKey  string        `yaml:"jwt_public_key"`
	JWTPrivateKey string        `yaml:"jwt_private_key"`
	JWTTTL        time.Duration `yaml:"jwt_ttl"`
}

// BuildConfig holds build-script generation configuration
type BuildConfig struct {
	// Config is merged into every job payload sent to the script API.
	Config          map[string]any `yaml:"config"`
	ParanoidQueues  []string       `yaml:"paranoid_queues"`
	CacheEnabled    bool           `yaml:"cache_enabled"`
	ScriptCacheTTL  time.Duration  `yaml:"script_cache_ttl"`
	UpstreamTimeout time.Duration  `yaml:"upstream_timeout"`
}

// SiteConfig holds per-site endpoints. BuildAPIURL carries the upstream
// credential as the userinfo password component.
type SiteConfig struct {
	BuildAPIURL string `yaml:"build_api_url"`
	JobStateURL string `yaml:"job_state_url"`
	LogPartsURL string `yaml:"log_parts_url"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.Redis.Host == "" {
		return fmt.Errorf("redis host is required")
	}

	if c.Redis.Port < MinPort || c.Redis.Port > MaxPort {
		return fmt.Errorf("invalid redis port: %d (must be between %d and %d)", c.Redis.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Enabled {
		if c.RabbitMQ.Host == "" {
			return fmt.Errorf("rabbitmq host is required")
		}

		if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
			return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
		}

		if c.RabbitMQ.Exchange == "" {
			return fmt.Errorf("rabbitmq exchange name is required")
		}
	}

	if c.Auth.JWTPublicKey == "" {
		return fmt.Errorf("auth jwt_public_key is required")
	}

	if c.Auth.JWTPrivateKey == "" {
		return fmt.Errorf("auth jwt_private_key is required")
	}

	if len(c.Sites) == 0 {
		return fmt.Errorf("at least one site must be configured")
	}

	for name, site := range c.Sites {
		if site.BuildAPIURL == "" {
			return fmt.Errorf("site %q: build_api_url is required", name)
		}
		if site.JobStateURL == "" {
			return fmt.Errorf("site %q: job_state_url is required", name)
		}
		if site.LogPartsURL == "" {
			return fmt.Errorf("site %q: log_parts_url is required", name)
		}
	}

	return nil
}
