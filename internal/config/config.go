// SPDX-License-Identifier: MIT

// Package config loads cnda-dl settings with precedence ENV > file > defaults.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvXNATURL is the only mandatory environment variable: the base URL of the
// XNAT archive the tool downloads from.
const EnvXNATURL = "CNDADL_XNAT_URL"

var (
	ErrMissingBaseURL = errors.New("config: " + EnvXNATURL + " is not set")
	ErrInvalidBaseURL = errors.New("config: XNAT base URL is not a valid http(s) URL")
)

// Config holds the effective runtime configuration.
type Config struct {
	// XNAT connection
	BaseURL  string `yaml:"xnat_url"`
	Username string `yaml:"username"`
	Password string `yaml:"-"` // env only, never persisted

	// Transfer behaviour
	Concurrency    int           `yaml:"concurrency"`
	Retries        int           `yaml:"retries"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RateLimit      float64       `yaml:"rate_limit"` // requests per second against the archive
	RateBurst      int           `yaml:"rate_burst"`

	// Observability
	LogLevel      string  `yaml:"log_level"`
	LogFile       string  `yaml:"log_file"`
	MetricsListen string  `yaml:"metrics_listen"`
	TraceExporter string  `yaml:"trace_exporter"` // "", "http" or "grpc"
	TraceEndpoint string  `yaml:"trace_endpoint"`
	TraceSampling float64 `yaml:"trace_sampling"`
}

func defaults() Config {
	return Config{
		Concurrency:    4,
		Retries:        3,
		RequestTimeout: 30 * time.Second,
		RateLimit:      8,
		RateBurst:      16,
		LogLevel:       "info",
		LogFile:        defaultLogFile(),
		TraceSampling:  1.0,
	}
}

func defaultLogFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, "cnda-dl.log")
}

// DefaultFilePath returns the path of the optional YAML config file.
func DefaultFilePath() string {
	if p := os.Getenv("CNDADL_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "cnda-dl", "config.yaml")
}

// LogSettings resolves the log level and log file with the same precedence as
// Load (ENV > file > defaults). It exists because the logger must be
// configured before Load runs: the env helpers log which variables they read.
// It must therefore not log itself.
func LogSettings(filePath string) (level, file string) {
	cfg := defaults()
	if filePath != "" {
		_ = mergeFile(&cfg, filePath)
	}
	if v, ok := os.LookupEnv("CNDADL_LOG_LEVEL"); ok && v != "" {
		cfg.LogLevel = v
	}
	if v, ok := os.LookupEnv("CNDADL_LOG_FILE"); ok && v != "" {
		cfg.LogFile = v
	}
	return cfg.LogLevel, cfg.LogFile
}

// Load assembles the configuration: defaults, overlaid by the YAML file when
// present, overlaid by environment variables.
func Load(filePath string) (Config, error) {
	cfg := defaults()

	if filePath != "" {
		if err := mergeFile(&cfg, filePath); err != nil {
			return Config{}, err
		}
	}
	mergeEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func mergeEnv(cfg *Config) {
	cfg.BaseURL = ParseString(EnvXNATURL, cfg.BaseURL)
	cfg.Username = ParseString("CNDADL_XNAT_USER", cfg.Username)
	cfg.Password = ParseString("CNDADL_XNAT_PASS", cfg.Password)
	cfg.Concurrency = ParseInt("CNDADL_CONCURRENCY", cfg.Concurrency)
	cfg.Retries = ParseInt("CNDADL_RETRIES", cfg.Retries)
	cfg.RequestTimeout = ParseDuration("CNDADL_REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.RateLimit = ParseFloat("CNDADL_RATE_LIMIT", cfg.RateLimit)
	cfg.RateBurst = ParseInt("CNDADL_RATE_BURST", cfg.RateBurst)
	cfg.LogLevel = ParseString("CNDADL_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFile = ParseString("CNDADL_LOG_FILE", cfg.LogFile)
	cfg.MetricsListen = ParseString("CNDADL_METRICS_LISTEN", cfg.MetricsListen)
	cfg.TraceExporter = ParseString("CNDADL_TRACE_EXPORTER", cfg.TraceExporter)
	cfg.TraceEndpoint = ParseString("CNDADL_TRACE_ENDPOINT", cfg.TraceEndpoint)
	cfg.TraceSampling = ParseFloat("CNDADL_TRACE_SAMPLING", cfg.TraceSampling)
}

// Validate checks the configuration and normalises clampable values.
func (c *Config) Validate() error {
	c.BaseURL = strings.TrimSpace(c.BaseURL)
	if c.BaseURL == "" {
		return ErrMissingBaseURL
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidBaseURL, c.BaseURL)
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")

	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	if c.Concurrency > 10 {
		c.Concurrency = 10
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 8
	}
	if c.RateBurst < 1 {
		c.RateBurst = int(c.RateLimit)
		if c.RateBurst < 1 {
			c.RateBurst = 1
		}
	}
	if c.TraceExporter != "" && c.TraceExporter != "http" && c.TraceExporter != "grpc" {
		return fmt.Errorf("config: unsupported trace exporter %q (supported: http, grpc)", c.TraceExporter)
	}
	return nil
}
