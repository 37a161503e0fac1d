// Package config holds the settings shared by the search and download
// commands. Values come from, in increasing precedence: defaults, a YAML
// file, PLANET_FETCH_* environment variables (a .env file is loaded into the
// environment first), then command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"planet-fetch/planet"
	"planet-fetch/util"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration written as "5s" or "10m" in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	v, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) D() time.Duration { return time.Duration(d) }

type Config struct {
	APIKey    string  `yaml:"api_key"`
	BaseURL   string  `yaml:"base_url"`
	RateLimit float64 `yaml:"rate_limit"`
	LogLevel  string  `yaml:"log_level"`

	Search     SearchConfig     `yaml:"search"`
	Download   DownloadConfig   `yaml:"download"`
	Activation ActivationConfig `yaml:"activation"`
	Retry      RetryConfig      `yaml:"retry"`
}

type SearchConfig struct {
	ItemTypes       []string `yaml:"item_types"`
	CloudCover      float64  `yaml:"cloud_cover"`
	DateGreaterThan string   `yaml:"date_greater_than"`
	DateLessThan    string   `yaml:"date_less_than"`
	Permission      string   `yaml:"permission"`
	Output          string   `yaml:"output"`
	PageSize        int      `yaml:"page_size"`
}

type DownloadConfig struct {
	Directory   string `yaml:"directory"`
	AssetType   string `yaml:"asset_type"`
	Workers     int    `yaml:"workers"`
	Ledger      bool   `yaml:"ledger"`
	MetricsAddr string `yaml:"metrics_addr"`
}

type ActivationConfig struct {
	PollInterval  Duration `yaml:"poll_interval"`
	MaxWait       Duration `yaml:"max_wait"`
	MaxPollErrors int      `yaml:"max_poll_errors"`
}

// RetryConfig applies to search page fetches and asset transfers.
type RetryConfig struct {
	Attempts   int      `yaml:"attempts"`
	Backoff    Duration `yaml:"backoff"`
	MaxBackoff Duration `yaml:"max_backoff"`
}

// Default returns the settings used when nothing else is configured.
func Default() Config {
	return Config{
		BaseURL:   planet.DefaultBaseURL,
		RateLimit: 5,
		LogLevel:  "info",
		Search: SearchConfig{
			ItemTypes:       []string{planet.DefaultItemType},
			CloudCover:      1.0,
			DateGreaterThan: "2000-01-01",
			DateLessThan:    util.Today(),
			Permission:      planet.DefaultPermission,
			Output:          "./result.json",
			PageSize:        250,
		},
		Download: DownloadConfig{
			Directory: ".",
			AssetType: planet.DefaultAssetType,
			Workers:   5,
			Ledger:    true,
		},
		Activation: ActivationConfig{
			PollInterval:  Duration(5 * time.Second),
			MaxWait:       Duration(10 * time.Minute),
			MaxPollErrors: 5,
		},
		Retry: RetryConfig{
			Attempts:   5,
			Backoff:    Duration(time.Second),
			MaxBackoff: Duration(30 * time.Second),
		},
	}
}

// LoadFromFile overlays the YAML file at path onto the defaults. Keys absent
// from the file keep their default value.
func LoadFromFile(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv loads path into the process environment without overriding
// variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

// LoadFromEnv applies PLANET_FETCH_* overrides.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("PLANET_FETCH_BASE_URL"); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv("PLANET_FETCH_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("PLANET_FETCH_ITEM_TYPES"); v != "" {
		c.Search.ItemTypes = SplitList(v)
	}
	if v := os.Getenv("PLANET_FETCH_PERMISSION"); v != "" {
		c.Search.Permission = v
	}
	if v := os.Getenv("PLANET_FETCH_ASSET_TYPE"); v != "" {
		c.Download.AssetType = v
	}
	if v := os.Getenv("PLANET_FETCH_DIRECTORY"); v != "" {
		c.Download.Directory = v
	}
	if v := os.Getenv("PLANET_FETCH_RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("parse PLANET_FETCH_RATE_LIMIT: %w", err)
		}
		c.RateLimit = f
	}
	if v := os.Getenv("PLANET_FETCH_CLOUD_COVER"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("parse PLANET_FETCH_CLOUD_COVER: %w", err)
		}
		c.Search.CloudCover = f
	}
	if v := os.Getenv("PLANET_FETCH_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse PLANET_FETCH_WORKERS: %w", err)
		}
		c.Download.Workers = n
	}
	if v := os.Getenv("PLANET_FETCH_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse PLANET_FETCH_POLL_INTERVAL: %w", err)
		}
		c.Activation.PollInterval = Duration(d)
	}
	if v := os.Getenv("PLANET_FETCH_MAX_WAIT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse PLANET_FETCH_MAX_WAIT: %w", err)
		}
		c.Activation.MaxWait = Duration(d)
	}
	// Tuning knobs: malformed values are logged and ignored.
	c.Search.PageSize = util.EnvOrDefaultInt("PLANET_FETCH_PAGE_SIZE", c.Search.PageSize)
	c.Retry.Attempts = util.EnvOrDefaultInt("PLANET_FETCH_RETRY_ATTEMPTS", c.Retry.Attempts)
	c.Retry.Backoff = Duration(util.EnvOrDefaultDuration("PLANET_FETCH_RETRY_BACKOFF", c.Retry.Backoff.D()))
	c.Download.MetricsAddr = util.EnvOrDefault("PLANET_FETCH_METRICS_ADDR", c.Download.MetricsAddr)
	return nil
}

// Validate checks the settings that are not re-checked by the filter builder.
func (c *Config) Validate() error {
	if len(c.Search.ItemTypes) == 0 {
		return errors.New("config: at least one item type is required")
	}
	if c.Download.Workers <= 0 {
		return fmt.Errorf("config: workers must be positive, got %d", c.Download.Workers)
	}
	if c.Download.AssetType == "" {
		return errors.New("config: asset type is required")
	}
	if c.RateLimit <= 0 {
		return fmt.Errorf("config: rate_limit must be positive, got %v", c.RateLimit)
	}
	if c.Activation.PollInterval <= 0 || c.Activation.MaxWait <= 0 {
		return errors.New("config: activation poll_interval and max_wait must be positive")
	}
	if c.Retry.Attempts <= 0 {
		return fmt.Errorf("config: retry attempts must be positive, got %d", c.Retry.Attempts)
	}
	return nil
}

// SplitList splits a comma or whitespace separated list, dropping empties.
func SplitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
}
