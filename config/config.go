/*
Package config loads server configuration.

SOURCES (later wins):
 1. Defaults below
 2. Optional YAML file (config.yaml in the working directory, or -config)
 3. .env file, loaded into the environment when present
 4. LEDGER_* environment variables, e.g. LEDGER_STORE_DRIVER=postgres,
    LEDGER_SERVER_PORT=9000
 5. Command-line flags, applied by cmd/server
*/
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "LEDGER"

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

type StoreConfig struct {
	Driver       string `mapstructure:"driver"` // memory | sqlite | postgres | mysql
	DSN          string `mapstructure:"dsn"`
	BatchLimit   int    `mapstructure:"batch_limit"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	Tracing      bool   `mapstructure:"tracing"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"` // empty = in-process locking
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json | text
}

type FXConfig struct {
	CacheSize int               `mapstructure:"cache_size"`
	Rates     map[string]string `mapstructure:"rates"` // "EUR/USD": "1.08"
}

type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Store  StoreConfig  `mapstructure:"store"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Log    LogConfig    `mapstructure:"log"`
	FX     FXConfig     `mapstructure:"fx"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000", "http://localhost:5173"})

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "ledger.db")
	v.SetDefault("store.batch_limit", 500)
	v.SetDefault("store.max_open_conns", 0)
	v.SetDefault("store.tracing", false)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "ledger:")
	v.SetDefault("redis.lock_ttl", 30*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("fx.cache_size", 1024)
	v.SetDefault("fx.rates", map[string]string{})
}

// Load reads configuration. An empty path looks for an optional config.yaml
// in the working directory; an explicit path must exist.
func Load(path string) (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path == "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory", "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("config: store.driver %q must be memory, sqlite, postgres or mysql", c.Store.Driver)
	}
	if c.Store.Driver != "memory" && c.Store.DSN == "" {
		return fmt.Errorf("config: store.dsn is required for driver %s", c.Store.Driver)
	}
	if c.Store.BatchLimit < 2 {
		return fmt.Errorf("config: store.batch_limit must be at least 2, got %d", c.Store.BatchLimit)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
	}
	return nil
}
