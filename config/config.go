// Package config handles configuration loading from CLI flags, environment
// variables, and TOML files. Later sources win: defaults, file, env, flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/stevemurr/collection-server/store"
)

// Config holds all configuration settings for the server.
type Config struct {
	Server      ServerConfig                `toml:"server"`
	Storage     StorageConfig               `toml:"storage"`
	Logging     LoggingConfig               `toml:"logging"`
	Backup      BackupConfig                `toml:"backup"`
	Collections map[string]CollectionConfig `toml:"collections"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

// StorageConfig selects the store backend.
type StorageConfig struct {
	Backend string `toml:"backend"`  // "json", "sqlite", "postgres", "memory"
	DataDir string `toml:"data_dir"` // json files and the sqlite database
	URL     string `toml:"url"`      // PostgreSQL connection URL
	Watch   bool   `toml:"watch"`    // report changes to collection files (json only)
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `toml:"level"`  // "debug", "info", "warn", "error"
	Format string `toml:"format"` // "json" or "text"
}

// BackupConfig schedules collection snapshots. An empty Schedule disables them.
type BackupConfig struct {
	Schedule string `toml:"schedule"` // cron expression, e.g. "@hourly"
	Dir      string `toml:"dir"`
}

// CollectionConfig declares a collection created at startup.
type CollectionConfig struct {
	Defaults map[string]any `toml:"defaults"`
}

// DefaultConfig returns a Config with all default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			AllowedOrigins: []string{"*"},
		},
		Storage: StorageConfig{
			Backend: "json",
			DataDir: "./data",
			Watch:   true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Backup: BackupConfig{
			Dir: "./backups",
		},
		Collections: map[string]CollectionConfig{
			"users":    {Defaults: map[string]any{"role": "peasant"}},
			"products": {},
			"orders":   {},
		},
	}
}

// Load builds the configuration from args (including the program name) and
// the environment. A TOML file is read from -config or CONFIG_FILE.
func Load(args []string, getenv func(string) string) (*Config, error) {
	name := "collection-server"
	if len(args) > 0 {
		name = args[0]
		args = args[1:]
	}
	flags := flag.NewFlagSet(name, flag.ContinueOnError)
	configPath := flags.String("config", "", "path to a TOML config file")
	host := flags.String("host", "", "listen host")
	port := flags.Int("port", 0, "listen port")
	dataDir := flags.String("data-dir", "", "directory for collection files")
	backend := flags.String("backend", "", "store backend: json, sqlite, postgres, memory")
	logLevel := flags.String("log-level", "", "debug, info, warn or error")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	cfg := DefaultConfig()

	path := *configPath
	if path == "" {
		path = getenv("CONFIG_FILE")
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}

	flags.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			cfg.Server.Host = *host
		case "port":
			cfg.Server.Port = *port
		case "data-dir":
			cfg.Storage.DataDir = *dataDir
		case "backend":
			cfg.Storage.Backend = *backend
		case "log-level":
			cfg.Logging.Level = *logLevel
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("HOST"); v != "" {
		c.Server.Host = v
	}
	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v := getenv("ALLOWED_ORIGINS"); v != "" {
		c.Server.AllowedOrigins = strings.Split(v, ",")
	}
	if v := getenv("DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := getenv("STORE_BACKEND"); v != "" {
		c.Storage.Backend = v
	}
	if v := getenv("DATABASE_URL"); v != "" {
		c.Storage.URL = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := getenv("BACKUP_SCHEDULE"); v != "" {
		c.Backup.Schedule = v
	}
	return nil
}

// Validate checks values that would otherwise fail later at startup.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Server.Port))
	}
	switch c.Storage.Backend {
	case "json", "sqlite", "memory":
	case "postgres":
		if c.Storage.URL == "" {
			errs = append(errs, errors.New("postgres backend requires storage.url or DATABASE_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.Storage.Backend))
	}
	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Logging.Format))
	}
	for name := range c.Collections {
		if !store.ValidName(name) {
			errs = append(errs, fmt.Errorf("invalid collection name %q", name))
		}
	}
	return errors.Join(errs...)
}

// Addr is the host:port the server listens on.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// LogLevel parses Logging.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return 0, fmt.Errorf("log level: %w", err)
	}
	return level, nil
}

// Defaults returns the per-collection field defaults.
func (c *Config) Defaults() map[string]map[string]any {
	out := make(map[string]map[string]any, len(c.Collections))
	for name, cc := range c.Collections {
		if len(cc.Defaults) > 0 {
			out[name] = cc.Defaults
		}
	}
	return out
}
