package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	toml "github.com/pelletier/go-toml/v2"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "STROM_"

type InboxBackend string

const (
	InboxSQLite InboxBackend = "sqlite"
	InboxRedis  InboxBackend = "redis"
	InboxNone   InboxBackend = "none"
)

type Config struct {
	Database   DatabaseConfig   `toml:"database" envPrefix:"DATABASE_"`
	Logging    LoggingConfig    `toml:"logging" envPrefix:"LOG_"`
	Store      StoreConfig      `toml:"store" envPrefix:"STORE_"`
	Projection ProjectionConfig `toml:"projection" envPrefix:"PROJECTION_"`
	Outbox     OutboxConfig     `toml:"outbox" envPrefix:"OUTBOX_"`
	Bus        BusConfig        `toml:"bus" envPrefix:"BUS_"`
	Inbox      InboxConfig      `toml:"inbox" envPrefix:"INBOX_"`
	Server     ServerConfig     `toml:"server" envPrefix:"SERVER_"`
}

type DatabaseConfig struct {
	EventsPath     string `toml:"events_path" env:"EVENTS_PATH"`
	ReadModelsPath string `toml:"read_models_path" env:"READ_MODELS_PATH"`
}

type LoggingConfig struct {
	Level   string        `toml:"level" env:"LEVEL"`
	DevFile DevFileConfig `toml:"dev_file" envPrefix:"DEV_FILE_"`
}

type DevFileConfig struct {
	Enabled bool   `toml:"enabled" env:"ENABLED"`
	Dir     string `toml:"dir" env:"DIR"`
}

type StoreConfig struct {
	Timeout    string `toml:"timeout" env:"TIMEOUT"`
	BcryptCost int    `toml:"bcrypt_cost" env:"BCRYPT_COST"`
}

type ProjectionConfig struct {
	BatchSize      int    `toml:"batch_size" env:"BATCH_SIZE"`
	PollInterval   string `toml:"poll_interval" env:"POLL_INTERVAL"`
	MaxAttempts    int    `toml:"max_attempts" env:"MAX_ATTEMPTS"`
	InitialBackoff string `toml:"initial_backoff" env:"INITIAL_BACKOFF"`
	MaxBackoff     string `toml:"max_backoff" env:"MAX_BACKOFF"`
}

type OutboxConfig struct {
	Interval  string `toml:"interval" env:"INTERVAL"`
	BatchSize int    `toml:"batch_size" env:"BATCH_SIZE"`
}

// BusConfig selects the NATS server. An empty URL starts an embedded server
// storing JetStream data under the platform data dir.
type BusConfig struct {
	URL           string `toml:"url" env:"URL"`
	Stream        string `toml:"stream" env:"STREAM"`
	SubjectPrefix string `toml:"subject_prefix" env:"SUBJECT_PREFIX"`
	Group         string `toml:"group" env:"GROUP"`
	Listeners     bool   `toml:"listeners" env:"LISTENERS"`
}

type InboxConfig struct {
	Backend   InboxBackend `toml:"backend" env:"BACKEND"`
	RedisAddr string       `toml:"redis_addr" env:"REDIS_ADDR"`
	TTL       string       `toml:"ttl" env:"TTL"`
}

type ServerConfig struct {
	HTTPBind    string `toml:"http_bind" env:"HTTP_BIND"`
	APIEndpoint string `toml:"api_endpoint" env:"API_ENDPOINT"`
	MCPEndpoint string `toml:"mcp_endpoint" env:"MCP_ENDPOINT"`
}

func Default(eventsPath, readModelsPath string) Config {
	return Config{
		Database: DatabaseConfig{
			EventsPath:     eventsPath,
			ReadModelsPath: readModelsPath,
		},
		Logging: LoggingConfig{
			Level: "info",
			DevFile: DevFileConfig{
				Enabled: true,
				Dir:     "log",
			},
		},
		Store: StoreConfig{
			Timeout:    "5s",
			BcryptCost: 10,
		},
		Projection: ProjectionConfig{
			BatchSize:      100,
			PollInterval:   "500ms",
			MaxAttempts:    5,
			InitialBackoff: "100ms",
			MaxBackoff:     "5s",
		},
		Outbox: OutboxConfig{
			Interval:  "1s",
			BatchSize: 100,
		},
		Bus: BusConfig{
			Stream:        "STROM_EVENTS",
			SubjectPrefix: "strom.events",
			Group:         "task-boards",
			Listeners:     true,
		},
		Inbox: InboxConfig{
			Backend: InboxSQLite,
			TTL:     "168h",
		},
		Server: ServerConfig{
			HTTPBind:    "127.0.0.1:8080",
			APIEndpoint: "/api/v1",
			MCPEndpoint: "/mcp",
		},
	}
}

func Load(path string, defaults Config) (Config, error) {
	cfg := defaults
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if len(content) == 0 {
		return cfg, nil
	}

	if err := toml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode toml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// ApplyEnv overlays STROM_* variables from environ onto cfg and revalidates.
// A nil environ reads the process environment.
func ApplyEnv(cfg Config, environ map[string]string) (Config, error) {
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Database.EventsPath) == "" {
		return errors.New("database.events_path is required")
	}
	if strings.TrimSpace(c.Database.ReadModelsPath) == "" {
		return errors.New("database.read_models_path is required")
	}
	if filepath.Clean(c.Database.EventsPath) == filepath.Clean(c.Database.ReadModelsPath) {
		return errors.New("database.events_path and database.read_models_path must differ")
	}

	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level: %q", c.Logging.Level)
	}

	durations := []struct {
		name  string
		value string
	}{
		{"store.timeout", c.Store.Timeout},
		{"projection.poll_interval", c.Projection.PollInterval},
		{"projection.initial_backoff", c.Projection.InitialBackoff},
		{"projection.max_backoff", c.Projection.MaxBackoff},
		{"outbox.interval", c.Outbox.Interval},
		{"inbox.ttl", c.Inbox.TTL},
	}
	for _, d := range durations {
		if _, err := parsePositive(d.value); err != nil {
			return fmt.Errorf("invalid %s: %w", d.name, err)
		}
	}
	if c.Projection.BatchSize <= 0 {
		return errors.New("projection.batch_size must be > 0")
	}
	if c.Projection.MaxAttempts <= 0 {
		return errors.New("projection.max_attempts must be > 0")
	}
	if c.Outbox.BatchSize <= 0 {
		return errors.New("outbox.batch_size must be > 0")
	}
	if c.Store.BcryptCost < 4 || c.Store.BcryptCost > 31 {
		return fmt.Errorf("store.bcrypt_cost must be within 4..31, got %d", c.Store.BcryptCost)
	}

	if strings.TrimSpace(c.Bus.Group) == "" {
		return errors.New("bus.group is required")
	}
	switch c.Inbox.Backend {
	case InboxSQLite, InboxNone:
	case InboxRedis:
		if strings.TrimSpace(c.Inbox.RedisAddr) == "" {
			return errors.New("inbox.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("invalid inbox.backend: %q", c.Inbox.Backend)
	}

	if strings.TrimSpace(c.Server.HTTPBind) == "" {
		return errors.New("server.http_bind is required")
	}
	return nil
}

func (c StoreConfig) TimeoutDuration() time.Duration {
	return mustDuration(c.Timeout)
}

func (c ProjectionConfig) PollIntervalDuration() time.Duration {
	return mustDuration(c.PollInterval)
}

func (c ProjectionConfig) InitialBackoffDuration() time.Duration {
	return mustDuration(c.InitialBackoff)
}

func (c ProjectionConfig) MaxBackoffDuration() time.Duration {
	return mustDuration(c.MaxBackoff)
}

func (c OutboxConfig) IntervalDuration() time.Duration {
	return mustDuration(c.Interval)
}

func (c InboxConfig) TTLDuration() time.Duration {
	return mustDuration(c.TTL)
}

// mustDuration returns zero for unparsable input; Validate rejects those first.
func mustDuration(raw string) time.Duration {
	d, err := parsePositive(raw)
	if err != nil {
		return 0
	}
	return d
}

func parsePositive(raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be > 0, got %s", raw)
	}
	return d, nil
}

func EnsureConfigDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
