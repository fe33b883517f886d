// Package config loads filecorr settings from defaults, an optional YAML
// file, FILECORR_* environment variables and command-line flags, in that
// order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/dshills/filecorr/internal/storage"
	"github.com/dshills/filecorr/pkg/types"
)

const envPrefix = "FILECORR_"

// Config holds all settings
type Config struct {
	// Storage
	DBPath  string `yaml:"db_path"`
	Backend string `yaml:"backend"` // sqlite or json

	// Comparison policy
	SaveByDefault bool  `yaml:"save_by_default"`
	MaxFileSize   int64 `yaml:"max_file_size"`
	TopMatches    int   `yaml:"top_matches"`

	// Bulk import
	ImportWorkers int `yaml:"import_workers"` // 0 means one per CPU

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // text or json

	// HTTP server
	HTTPAddr         string        `yaml:"http_addr"`
	HTTPReadTimeout  time.Duration `yaml:"http_read_timeout"`
	HTTPWriteTimeout time.Duration `yaml:"http_write_timeout"`
	HTTPIdleTimeout  time.Duration `yaml:"http_idle_timeout"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`
}

// Default returns the built-in settings
func Default() *Config {
	return &Config{
		DBPath:           "filecorr.db",
		Backend:          storage.KindSQLite,
		SaveByDefault:    false,
		MaxFileSize:      5 << 20,
		TopMatches:       types.MaxMatches,
		ImportWorkers:    0,
		LogLevel:         "info",
		LogFormat:        "text",
		HTTPAddr:         ":8080",
		HTTPReadTimeout:  30 * time.Second,
		HTTPWriteTimeout: 60 * time.Second,
		HTTPIdleTimeout:  120 * time.Second,
		ShutdownTimeout:  5 * time.Second,
	}
}

// Load builds the configuration for a command. fs must not have been parsed;
// Load registers the shared flags on it and parses args.
func Load(fs *pflag.FlagSet, args []string) (*Config, error) {
	cfg := Default()

	// Flags are parsed into a scratch copy so that only flags actually set
	// override file and environment values
	flags := Default()
	var configPath string
	fs.StringVar(&configPath, "config", os.Getenv(envPrefix+"CONFIG"), "path to YAML config file")
	apply := flags.register(fs)

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if configPath != "" {
		if err := cfg.LoadFile(configPath); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	fs.Visit(func(f *pflag.Flag) {
		if fn, ok := apply[f.Name]; ok {
			fn(cfg)
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// register binds flags to c and returns, per flag name, a function copying
// the parsed value onto another Config
func (c *Config) register(fs *pflag.FlagSet) map[string]func(*Config) {
	fs.StringVar(&c.DBPath, "db", c.DBPath, "corpus database path")
	fs.StringVar(&c.Backend, "backend", c.Backend, "storage backend (sqlite, json)")
	fs.BoolVar(&c.SaveByDefault, "save-by-default", c.SaveByDefault, "persist new files when a request does not say")
	fs.Int64Var(&c.MaxFileSize, "max-file-size", c.MaxFileSize, "largest accepted upload in bytes")
	fs.IntVar(&c.TopMatches, "top", c.TopMatches, "default number of matches per metric")
	fs.IntVar(&c.ImportWorkers, "workers", c.ImportWorkers, "bulk import workers (0 = one per CPU)")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "log format (text, json)")
	fs.StringVar(&c.HTTPAddr, "addr", c.HTTPAddr, "HTTP listen address")
	fs.DurationVar(&c.ShutdownTimeout, "shutdown-timeout", c.ShutdownTimeout, "graceful shutdown timeout")

	return map[string]func(*Config){
		"db":               func(d *Config) { d.DBPath = c.DBPath },
		"backend":          func(d *Config) { d.Backend = c.Backend },
		"save-by-default":  func(d *Config) { d.SaveByDefault = c.SaveByDefault },
		"max-file-size":    func(d *Config) { d.MaxFileSize = c.MaxFileSize },
		"top":              func(d *Config) { d.TopMatches = c.TopMatches },
		"workers":          func(d *Config) { d.ImportWorkers = c.ImportWorkers },
		"log-level":        func(d *Config) { d.LogLevel = c.LogLevel },
		"log-format":       func(d *Config) { d.LogFormat = c.LogFormat },
		"addr":             func(d *Config) { d.HTTPAddr = c.HTTPAddr },
		"shutdown-timeout": func(d *Config) { d.ShutdownTimeout = c.ShutdownTimeout },
	}
}

// LoadFile overlays settings from a YAML file
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays FILECORR_* environment variables
func (c *Config) ApplyEnv() error {
	var err error

	c.DBPath = getEnvDefault("DB_PATH", c.DBPath)
	c.Backend = getEnvDefault("BACKEND", c.Backend)
	c.HTTPAddr = getEnvDefault("HTTP_ADDR", c.HTTPAddr)
	c.LogLevel = getEnvDefault("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnvDefault("LOG_FORMAT", c.LogFormat)

	if c.SaveByDefault, err = getEnvBool("SAVE_BY_DEFAULT", c.SaveByDefault); err != nil {
		return err
	}
	if c.MaxFileSize, err = getEnvInt64("MAX_FILE_SIZE", c.MaxFileSize); err != nil {
		return err
	}
	if c.TopMatches, err = getEnvInt("TOP_MATCHES", c.TopMatches); err != nil {
		return err
	}
	if c.ImportWorkers, err = getEnvInt("IMPORT_WORKERS", c.ImportWorkers); err != nil {
		return err
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"HTTP_READ_TIMEOUT", &c.HTTPReadTimeout},
		{"HTTP_WRITE_TIMEOUT", &c.HTTPWriteTimeout},
		{"HTTP_IDLE_TIMEOUT", &c.HTTPIdleTimeout},
		{"SHUTDOWN_TIMEOUT", &c.ShutdownTimeout},
	}
	for _, d := range durations {
		if *d.dst, err = getEnvDuration(d.key, *d.dst); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks ranges and enumerations
func (c *Config) Validate() error {
	var errs []error

	if c.DBPath == "" {
		errs = append(errs, errors.New("db path is required"))
	}
	switch c.Backend {
	case storage.KindSQLite, storage.KindJSON:
	default:
		errs = append(errs, fmt.Errorf("backend: unsupported %q, want sqlite or json", c.Backend))
	}
	if c.MaxFileSize <= 0 {
		errs = append(errs, fmt.Errorf("max file size must be > 0, got %d", c.MaxFileSize))
	}
	if c.TopMatches < 1 || c.TopMatches > types.MaxMatches {
		errs = append(errs, fmt.Errorf("top matches must be between 1 and %d, got %d", types.MaxMatches, c.TopMatches))
	}
	if c.ImportWorkers < 0 {
		errs = append(errs, fmt.Errorf("import workers must be >= 0, got %d", c.ImportWorkers))
	}
	if _, err := parseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		errs = append(errs, fmt.Errorf("log format: unsupported %q, want json or text", c.LogFormat))
	}
	for name, d := range map[string]time.Duration{
		"http read timeout":  c.HTTPReadTimeout,
		"http write timeout": c.HTTPWriteTimeout,
		"http idle timeout":  c.HTTPIdleTimeout,
		"shutdown timeout":   c.ShutdownTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be > 0", name))
		}
	}

	return errors.Join(errs...)
}

// SetupLogger builds the process logger and installs it as slog's default.
// Logs go to w, which must not be stdout when serving MCP over stdio.
func SetupLogger(c *Config, w io.Writer) *slog.Logger {
	level, err := parseLogLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if c.LogFormat == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log level: unsupported %q, want debug, info, warn or error", level)
	}
}

func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(envPrefix + key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(envPrefix + key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("%s%s: invalid integer %q", envPrefix, key, val)
	}
	return n, nil
}

func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(envPrefix + key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s%s: invalid integer %q", envPrefix, key, val)
	}
	return n, nil
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(envPrefix + key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("%s%s: invalid boolean %q", envPrefix, key, val)
	}
	return b, nil
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(envPrefix + key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("%s%s: invalid duration %q (use 30s, 1m, 2h)", envPrefix, key, val)
	}
	return d, nil
}
