package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `env:",prefix=SERVER_"`

	// Database configuration
	Database DatabaseConfig `env:",prefix=DB_"`

	// Application configuration
	App AppConfig `env:",prefix=APP_"`

	// Mining loop configuration
	Miner MinerConfig `env:",prefix=MINER_"`

	// Twitch API configuration
	Twitch TwitchConfig `env:",prefix=TWITCH_"`

	// Claim event stream configuration
	Redis RedisConfig `env:",prefix=REDIS_"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port         string `env:"PORT,default=8080"`
	Host         string `env:"HOST,default=0.0.0.0"`
	ReadTimeout  int    `env:"READ_TIMEOUT,default=30"`  // seconds
	WriteTimeout int    `env:"WRITE_TIMEOUT,default=30"` // seconds
}

// DatabaseConfig holds checkpoint database configuration
type DatabaseConfig struct {
	Driver   string `env:"DRIVER,default=postgres"` // postgres or sqlite
	Path     string `env:"PATH,default=dropsminer.db"`
	Host     string `env:"HOST,default=localhost"`
	Port     string `env:"PORT,default=5432"`
	User     string `env:"USER,default=postgres"`
	Password string `env:"PASSWORD,default=postgres"`
	Name     string `env:"NAME,default=drops_miner"`
	SSLMode  string `env:"SSL_MODE,default=disable"`
	MaxConns int    `env:"MAX_CONNS,default=10"`
	MinConns int    `env:"MIN_CONNS,default=2"`
}

// AppConfig holds application-specific configuration
type AppConfig struct {
	Environment string `env:"ENVIRONMENT,default=development"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`
	Debug       bool   `env:"DEBUG,default=false"`
}

// MinerConfig holds the tunables of every mining session loop
type MinerConfig struct {
	Interval           time.Duration `env:"INTERVAL,default=300s"`
	ErrorBackoff       time.Duration `env:"ERROR_BACKOFF,default=30s"`
	MaxClaimRetries    int           `env:"MAX_CLAIM_RETRIES,default=3"`
	ExpiryThreshold    int           `env:"EXPIRY_THRESHOLD,default=3"`
	CheckpointInterval time.Duration `env:"CHECKPOINT_INTERVAL,default=60s"`
	ClaimRate          float64       `env:"CLAIM_RATE,default=1"` // claims per second
	ClaimBurst         int           `env:"CLAIM_BURST,default=1"`
	AutoStart          bool          `env:"AUTO_START,default=false"`
}

// TwitchConfig holds the GQL client configuration
type TwitchConfig struct {
	GQLURL            string            `env:"GQL_URL,default=https://gql.twitch.tv/gql"`
	ClientID          string            `env:"CLIENT_ID"`
	Accounts          map[string]string `env:"ACCOUNTS"` // session id -> OAuth token
	RequestTimeout    time.Duration     `env:"REQUEST_TIMEOUT,default=30s"`
	RateLimitRequests int               `env:"RATE_LIMIT_REQUESTS,default=60"`
	RateLimitWindow   time.Duration     `env:"RATE_LIMIT_WINDOW,default=60s"`
}

// RedisConfig holds the claim event stream configuration; an empty address disables it
type RedisConfig struct {
	Addr     string `env:"ADDR"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB,default=0"`
	Stream   string `env:"STREAM,default=dropsminer:claims"`
	MaxLen   int64  `env:"MAX_LEN,default=10000"`
}

// Load loads configuration from environment variables
func Load(ctx context.Context) (*Config, error) {
	return LoadWith(ctx, envconfig.OsLookuper())
}

// LoadWith loads configuration using the given lookuper
func LoadWith(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Validate checks cross-field constraints that struct tags cannot express
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unsupported database driver %q", c.Database.Driver))
	}
	if c.Miner.Interval <= 0 {
		errs = append(errs, errors.New("miner interval must be positive"))
	}
	if c.Miner.ErrorBackoff <= 0 {
		errs = append(errs, errors.New("miner error backoff must be positive"))
	}
	if c.Miner.MaxClaimRetries < 1 {
		errs = append(errs, errors.New("miner max claim retries must be at least 1"))
	}
	if c.Miner.ExpiryThreshold < 1 {
		errs = append(errs, errors.New("miner expiry threshold must be at least 1"))
	}
	if c.Miner.ClaimRate <= 0 || c.Miner.ClaimBurst < 1 {
		errs = append(errs, errors.New("miner claim rate and burst must be positive"))
	}
	if c.Twitch.RateLimitRequests < 1 || c.Twitch.RateLimitWindow <= 0 {
		errs = append(errs, errors.New("twitch rate limit must be positive"))
	}
	if len(c.Twitch.Accounts) > 0 && strings.TrimSpace(c.Twitch.ClientID) == "" {
		errs = append(errs, errors.New("twitch client id required when accounts are configured"))
	}
	return errors.Join(errs...)
}

// GetDatabaseURL returns the connection string for the configured driver
func (c *DatabaseConfig) GetDatabaseURL() string {
	if c.Driver == "sqlite" {
		return c.Path
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// EffectiveLogLevel returns the log level to run with. DEBUG overrides LOG_LEVEL.
func (c *AppConfig) EffectiveLogLevel() string {
	if c.Debug {
		return "debug"
	}
	return c.LogLevel
}

// Enabled returns true if a Redis address is configured
func (c *RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}
