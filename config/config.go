// Package config loads the server configuration from the environment.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskboard/board"
)

// Store kinds.
const (
	StoreTable  = "table"
	StoreSQLite = "sqlite"
)

type Config struct {
	Debug    bool   `env:"DEBUG"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogJSON  bool   `env:"LOG_JSON"`
	Port     string `env:"FUNCTIONS_CUSTOMHANDLER_PORT" envDefault:"8080"`

	Store            string `env:"STORE" envDefault:"sqlite"`
	ConnectionString string `env:"STORAGE_CONNECTION_STRING"`
	TasksTable       string `env:"TASKS_TABLE" envDefault:"tasks"`
	BoardsTable      string `env:"BOARDS_TABLE" envDefault:"boards"`
	ActivityQueue    string `env:"ACTIVITY_QUEUE"`
	SQLitePath       string `env:"SQLITE_PATH" envDefault:"data/taskboard.db"`
	PersistAnonymous bool   `env:"PERSIST_ANONYMOUS_BOARDS" envDefault:"true"`

	RedisConnectionString string        `env:"REDIS_CONNECTION_STRING"`
	QueryCacheTTL         time.Duration `env:"QUERY_CACHE_TTL" envDefault:"5m"`
	DeduperTTL            time.Duration `env:"DEDUPER_TTL" envDefault:"24h"`

	WritePolicy          string        `env:"WRITE_POLICY" envDefault:"fire-and-forget"`
	RemoteWriteTimeout   time.Duration `env:"REMOTE_WRITE_TIMEOUT" envDefault:"30s"`
	SessionIdleTTL       time.Duration `env:"SESSION_IDLE_TTL" envDefault:"30m"`
	SessionSweepInterval time.Duration `env:"SESSION_SWEEP_INTERVAL" envDefault:"1m"`

	Auth0Domain     string        `env:"AUTH0_DOMAIN"`
	Auth0Audience   string        `env:"AUTH0_AUDIENCE"`
	LocalAuthMode   string        `env:"LOCAL_AUTH_MODE"`
	LocalAuthSecret string        `env:"LOCAL_AUTH_SHARED_SECRET"`
	JWKSCacheTTL    time.Duration `env:"JWKS_CACHE_TTL" envDefault:"15m"`

	AllowOrigins []string `env:"CORS_ALLOW_ORIGINS" envDefault:"*" envSeparator:","`
}

// Load reads the given dotenv files, or .env when none are given, and then
// parses and validates the environment. Variables already set win over files.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load .env: %w", err)
		}
	} else if err := godotenv.Load(files...); err != nil {
		return Config{}, fmt.Errorf("load env files: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first inconsistent setting.
func (c Config) Validate() error {
	switch c.Store {
	case StoreTable:
		if c.ConnectionString == "" || c.TasksTable == "" {
			return errors.New("missing storage config: STORAGE_CONNECTION_STRING and TASKS_TABLE are required for STORE=table")
		}
	case StoreSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return errors.New("missing SQLITE_PATH")
		}
	default:
		return fmt.Errorf("invalid STORE %q: want %s or %s", c.Store, StoreTable, StoreSQLite)
	}
	if c.ActivityQueue != "" && c.ConnectionString == "" {
		return errors.New("ACTIVITY_QUEUE requires STORAGE_CONNECTION_STRING")
	}
	if _, ok := board.ParseWritePolicy(c.WritePolicy); !ok {
		return fmt.Errorf("invalid WRITE_POLICY %q", c.WritePolicy)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	if c.DeduperTTL <= 0 {
		return errors.New("invalid DEDUPER_TTL: must be greater than zero")
	}
	if c.QueryCacheTTL < 0 || c.RemoteWriteTimeout < 0 || c.SessionIdleTTL < 0 || c.JWKSCacheTTL < 0 {
		return errors.New("durations must not be negative")
	}
	switch strings.ToLower(c.LocalAuthMode) {
	case "":
	case "hs256":
		if c.LocalAuthSecret == "" {
			return errors.New("LOCAL_AUTH_SHARED_SECRET must be set when LOCAL_AUTH_MODE=hs256")
		}
	default:
		return fmt.Errorf("unsupported LOCAL_AUTH_MODE %q", c.LocalAuthMode)
	}
	if (c.Auth0Domain == "") != (c.Auth0Audience == "") {
		return errors.New("missing Auth0 config: set both AUTH0_DOMAIN and AUTH0_AUDIENCE")
	}
	return nil
}

// Policy returns the parsed write policy.
func (c Config) Policy() board.WritePolicy {
	p, _ := board.ParseWritePolicy(c.WritePolicy)
	return p
}

// AuthEnabled reports whether bearer tokens can be verified.
func (c Config) AuthEnabled() bool {
	return c.LocalAuthMode != "" || c.Auth0Domain != ""
}

// Level returns the log level, raised to debug when DEBUG is set.
func (c Config) Level() log.Level {
	if c.Debug {
		return log.DebugLevel
	}
	lvl, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

// RedisOptions parses REDIS_CONNECTION_STRING. Both redis:// URLs and the
// Azure form "host:port,password=...,ssl=True" are accepted. It returns nil
// when Redis is not configured.
func (c Config) RedisOptions() *redis.Options {
	if c.RedisConnectionString == "" {
		return nil
	}
	opts, err := redis.ParseURL(c.RedisConnectionString)
	if err == nil {
		return opts
	}
	parts := strings.Split(c.RedisConnectionString, ",")
	opts = &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(strings.TrimSpace(kv[1]), "true") {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}
