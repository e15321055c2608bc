// Package config loads the server configuration from defaults, an optional
// config file, ANANSI_-prefixed environment variables and command-line flags,
// in increasing order of precedence.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "ANANSI"

// Store backends.
const (
	BackendMemory  = "memory"
	BackendSQLite  = "sqlite"
	BackendMongoDB = "mongodb"
)

var backends = []string{BackendMemory, BackendSQLite, BackendMongoDB}

type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Naming NamingConfig `mapstructure:"naming"`
	Store  StoreConfig  `mapstructure:"store"`
	Log    LogConfig    `mapstructure:"log"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	MaxBodyBytes    int64         `mapstructure:"maxBodyBytes"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
	AllowedOrigins  []string      `mapstructure:"allowedOrigins"`
}

type NamingConfig struct {
	Prefix string `mapstructure:"prefix"`
}

type StoreConfig struct {
	Backend string       `mapstructure:"backend"`
	SQLite  SQLiteConfig `mapstructure:"sqlite"`
	Mongo   MongoConfig  `mapstructure:"mongo"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type MongoConfig struct {
	URI          string        `mapstructure:"uri"`
	Database     string        `mapstructure:"database"`
	Transactions bool          `mapstructure:"transactions"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.maxBodyBytes", int64(1<<20))
	v.SetDefault("server.shutdownTimeout", 10*time.Second)
	v.SetDefault("server.allowedOrigins", []string{"*"})
	v.SetDefault("naming.prefix", "")
	v.SetDefault("store.backend", BackendMemory)
	v.SetDefault("store.sqlite.path", "./data/anansi.db")
	v.SetDefault("store.mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("store.mongo.database", "rest-db")
	v.SetDefault("store.mongo.transactions", false)
	v.SetDefault("store.mongo.timeout", 10*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"addr":          "server.addr",
	"prefix":        "naming.prefix",
	"backend":       "store.backend",
	"sqlite-path":   "store.sqlite.path",
	"mongo-uri":     "store.mongo.uri",
	"mongo-db":      "store.mongo.database",
	"log-level":     "log.level",
	"log-dev":       "log.development",
	"max-body-size": "server.maxBodyBytes",
}

// RegisterFlags defines the flags understood by Load on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("addr", ":8080", "address to listen on")
	fs.String("prefix", "", "prefix prepended to every physical collection name")
	fs.String("backend", BackendMemory, "store backend: memory, sqlite or mongodb")
	fs.String("sqlite-path", "./data/anansi.db", "SQLite database file")
	fs.String("mongo-uri", "mongodb://localhost:27017", "MongoDB connection string")
	fs.String("mongo-db", "rest-db", "MongoDB database name")
	fs.String("log-level", "info", "log level: debug, info, warn or error")
	fs.Bool("log-dev", false, "human-readable development logging")
	fs.Int64("max-body-size", 1<<20, "maximum request body size in bytes")
}

// Load reads the configuration. path may be empty; flags may be nil. Only
// flags set explicitly override other sources.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.maxBodyBytes must be positive, got %d", c.Server.MaxBodyBytes)
	}
	if !slices.Contains(backends, c.Store.Backend) {
		return fmt.Errorf("unknown store backend %q, expected one of %s", c.Store.Backend, strings.Join(backends, ", "))
	}
	switch c.Store.Backend {
	case BackendSQLite:
		if c.Store.SQLite.Path == "" {
			return fmt.Errorf("store.sqlite.path must not be empty")
		}
	case BackendMongoDB:
		if c.Store.Mongo.URI == "" || c.Store.Mongo.Database == "" {
			return fmt.Errorf("store.mongo.uri and store.mongo.database must not be empty")
		}
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log.level: %w", err)
	}
	return nil
}

// Build creates the logger described by the configuration.
func (c LogConfig) Build() (*zap.Logger, error) {
	var zc zap.Config
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.EncoderConfig.TimeKey = "timestamp"

	level, err := zap.ParseAtomicLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.Level, err)
	}
	zc.Level = level
	return zc.Build()
}
