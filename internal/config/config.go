package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPAddr           string   `yaml:"http_addr"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`

	MySQLDSN     string `yaml:"mysql_dsn"`
	MySQLDSNFile string `yaml:"mysql_dsn_file"`

	AdminToken     string `yaml:"admin_token"`
	AdminTokenFile string `yaml:"admin_token_file"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	UpstreamTimeout time.Duration `yaml:"upstream_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	LogRingSize     int           `yaml:"log_ring_size"`
}

func Defaults() Config {
	return Config{
		HTTPAddr:           ":8080",
		CORSAllowedOrigins: []string{"*"},
		LogLevel:           "info",
		LogFormat:          "text",
		UpstreamTimeout:    10 * time.Minute,
		MaxBodyBytes:       20 << 20,
		LogRingSize:        500,
	}
}

// Load builds the configuration from defaults, then an optional YAML file
// (explicit path, BRIDGE_CONFIG, ./config.yaml), then environment variables,
// then *_file secret references, and validates the result.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if p := discoverConfigFile(path); p != "" {
		data, err := os.ReadFile(p)
		if err != nil {
			return Config{}, fmt.Errorf("loading config file %s: %w", p, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("loading config file %s: %w", p, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := resolveFileReferences(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func discoverConfigFile(path string) string {
	if path != "" {
		return path
	}
	if p := strings.TrimSpace(os.Getenv("BRIDGE_CONFIG")); p != "" {
		return p
	}
	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml"
	}
	return ""
}

func applyEnv(cfg *Config) error {
	cfg.HTTPAddr = getenvDefault("HTTP_ADDR", cfg.HTTPAddr)
	if v := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS")); v != "" {
		cfg.CORSAllowedOrigins = splitCSV(v)
	}
	cfg.MySQLDSN = getenvDefault("MYSQL_DSN", cfg.MySQLDSN)
	cfg.AdminToken = getenvDefault("ADMIN_TOKEN", cfg.AdminToken)
	cfg.LogLevel = getenvDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getenvDefault("LOG_FORMAT", cfg.LogFormat)

	if v := strings.TrimSpace(os.Getenv("UPSTREAM_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("UPSTREAM_TIMEOUT: %w", err)
		}
		cfg.UpstreamTimeout = d
	}
	if v := strings.TrimSpace(os.Getenv("MAX_BODY_BYTES")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("MAX_BODY_BYTES: %w", err)
		}
		cfg.MaxBodyBytes = n
	}
	if v := strings.TrimSpace(os.Getenv("LOG_RING_SIZE")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("LOG_RING_SIZE: %w", err)
		}
		cfg.LogRingSize = n
	}
	return nil
}

func resolveFileReferences(cfg *Config) error {
	if cfg.MySQLDSN == "" && cfg.MySQLDSNFile != "" {
		v, err := readSecretFile(cfg.MySQLDSNFile)
		if err != nil {
			return fmt.Errorf("mysql_dsn_file: %w", err)
		}
		cfg.MySQLDSN = v
	}
	if cfg.AdminToken == "" && cfg.AdminTokenFile != "" {
		v, err := readSecretFile(cfg.AdminTokenFile)
		if err != nil {
			return fmt.Errorf("admin_token_file: %w", err)
		}
		cfg.AdminToken = v
	}
	return nil
}

func readSecretFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return fmt.Errorf("http_addr is required")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("upstream_timeout must be positive")
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("max_body_bytes must be positive")
	}
	if c.LogRingSize <= 0 {
		return fmt.Errorf("log_ring_size must be positive")
	}
	return nil
}

func (c Config) SlogLevel() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}

// NewLogger builds the process logger on w.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	level, _ := c.SlogLevel()
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func getenvDefault(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
